// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-hsm.
//
// go-hsm is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-hsm/pkg/correlation"
)

func newJSONAdapter(t *testing.T, level Level) (*SlogAdapter, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: levelToSlogLevel(level),
	})
	return NewSlogAdapter(&SlogConfig{Handler: handler}), &buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var record map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &record))
	return record
}

func TestSlogAdapterImplementsLogger(t *testing.T) {
	var _ Logger = NewSlogAdapter(nil)
}

func TestSlogAdapterFields(t *testing.T) {
	l, buf := newJSONAdapter(t, LevelDebug)

	l.Info("key generated",
		String("algorithm", "aes-256-gcm"),
		Int("slot", 3),
		Bool("exportable", false),
	)

	record := lastRecord(t, buf)
	assert.Equal(t, "key generated", record["msg"])
	assert.Equal(t, "aes-256-gcm", record["algorithm"])
	assert.Equal(t, float64(3), record["slot"])
	assert.Equal(t, false, record["exportable"])
}

func TestSlogAdapterLevels(t *testing.T) {
	l, buf := newJSONAdapter(t, LevelWarn)

	l.Debug("suppressed")
	l.Info("suppressed")
	assert.Zero(t, buf.Len())

	l.Warn("emitted")
	record := lastRecord(t, buf)
	assert.Equal(t, "WARN", record["level"])

	l.Error("boom")
	record = lastRecord(t, buf)
	assert.Equal(t, "ERROR", record["level"])
}

func TestSlogAdapterWith(t *testing.T) {
	l, buf := newJSONAdapter(t, LevelDebug)

	child := l.With(String("component", "dispatcher"))
	child.Info("poll")

	record := lastRecord(t, buf)
	assert.Equal(t, "dispatcher", record["component"])

	// Parent is unaffected.
	l.Info("bare")
	record = lastRecord(t, buf)
	_, ok := record["component"]
	assert.False(t, ok)
}

func TestSlogAdapterWithError(t *testing.T) {
	l, buf := newJSONAdapter(t, LevelDebug)

	l.WithError(errors.New("entropy source exhausted")).Error("halting")

	record := lastRecord(t, buf)
	assert.Equal(t, "entropy source exhausted", record["error"])
}

func TestSlogAdapterContextCorrelation(t *testing.T) {
	l, buf := newJSONAdapter(t, LevelDebug)

	ctx := correlation.WithCorrelationID(context.Background(), "abc-123")
	l.InfoContext(ctx, "request accepted")

	record := lastRecord(t, buf)
	assert.Equal(t, "abc-123", record["correlation_id"])

	// No correlation ID in context, no field emitted.
	l.InfoContext(context.Background(), "anonymous")
	record = lastRecord(t, buf)
	_, ok := record["correlation_id"]
	assert.False(t, ok)
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LevelFatal, "FATAL"},
		{Level(99), "UNKNOWN"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.level.String())
	}
}
