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

package transport

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(4)
	for i := 0; i < 4; i++ {
		require.NoError(t, q.TrySend([]byte{byte(i)}))
	}
	for i := 0; i < 4; i++ {
		frame, ok := q.TryReceive()
		require.True(t, ok)
		assert.Equal(t, byte(i), frame[0])
	}
	_, ok := q.TryReceive()
	assert.False(t, ok)
}

func TestQueueFullDoesNotBlock(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.TrySend([]byte("a")))
	require.NoError(t, q.TrySend([]byte("b")))

	// full queue: send fails immediately, caller retries
	err := q.TrySend([]byte("c"))
	assert.ErrorIs(t, err, ErrChannelFull)
	assert.Equal(t, 2, q.Len())

	_, ok := q.TryReceive()
	require.True(t, ok)
	assert.NoError(t, q.TrySend([]byte("c")))
}

func TestQueueMinimumDepth(t *testing.T) {
	q := NewQueue(0)
	assert.Equal(t, 1, q.Cap())
}

func TestEndpointDirections(t *testing.T) {
	ep := NewEndpoint(4)

	require.NoError(t, ep.Submit([]byte("req")))
	frame, ok := ep.CoreReceive()
	require.True(t, ok)
	assert.Equal(t, []byte("req"), frame)

	require.NoError(t, ep.CoreSend([]byte("resp")))
	frame, ok = ep.Poll()
	require.True(t, ok)
	assert.Equal(t, []byte("resp"), frame)

	// directions are independent queues
	_, ok = ep.Poll()
	assert.False(t, ok)
	_, ok = ep.CoreReceive()
	assert.False(t, ok)
}

func TestEndpointDepthLimit(t *testing.T) {
	ep := NewEndpoint(3)
	assert.Equal(t, 3, ep.Depth())

	for i := 0; i < 3; i++ {
		require.NoError(t, ep.Submit([]byte{byte(i)}))
	}
	assert.ErrorIs(t, ep.Submit([]byte{9}), ErrChannelFull)

	for i := 0; i < 3; i++ {
		require.NoError(t, ep.CoreSend([]byte{byte(i)}))
	}
	assert.ErrorIs(t, ep.CoreSend([]byte{9}), ErrChannelFull)
}

func TestQueueConcurrentProducerConsumer(t *testing.T) {
	const total = 1000
	q := NewQueue(8)

	var wg sync.WaitGroup
	wg.Add(1)
	received := make([][]byte, 0, total)
	go func() {
		defer wg.Done()
		for len(received) < total {
			if frame, ok := q.TryReceive(); ok {
				received = append(received, frame)
			}
		}
	}()

	for i := 0; i < total; i++ {
		frame := []byte(fmt.Sprintf("%d", i))
		for q.TrySend(frame) != nil {
			// spin until space, like a client retrying Busy
		}
	}
	wg.Wait()

	require.Len(t, received, total)
	for i, frame := range received {
		assert.Equal(t, fmt.Sprintf("%d", i), string(frame))
	}
}
