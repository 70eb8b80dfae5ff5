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

// Package hsm implements the core dispatcher: it polls bounded client
// channels for encoded request frames, resolves key handles against the
// volatile key store, executes the crypto engine, and returns encoded
// responses. A single goroutine owns the dispatch loop; Poll is also
// callable directly for deterministic embedding.
package hsm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jeremyhahn/go-hsm/pkg/adapters/audit"
	"github.com/jeremyhahn/go-hsm/pkg/adapters/logger"
	"github.com/jeremyhahn/go-hsm/pkg/engine"
	"github.com/jeremyhahn/go-hsm/pkg/entropy"
	"github.com/jeremyhahn/go-hsm/pkg/keystore"
	"github.com/jeremyhahn/go-hsm/pkg/metrics"
	"github.com/jeremyhahn/go-hsm/pkg/transport"
	"github.com/jeremyhahn/go-hsm/pkg/types"
)

var (
	// ErrHalted is returned once the core has stopped after a fatal
	// entropy failure. No further requests are processed.
	ErrHalted = errors.New("hsm: core halted after fatal entropy failure")

	// ErrBadClient is returned for an out-of-range client index.
	ErrBadClient = errors.New("hsm: client index out of range")
)

// idlePollInterval is how long Run sleeps when a poll does no work.
const idlePollInterval = 100 * time.Microsecond

// Config assembles a core instance.
type Config struct {
	// Config fixes the core dimensions. Zero value takes defaults.
	Config types.Config

	// Entropy feeds the DRBG. Defaults to the system source.
	Entropy entropy.Source

	// Accelerator optionally offloads engine jobs.
	Accelerator engine.Accelerator

	// Audit receives the audit trail. Defaults to the no-op adapter.
	Audit audit.Adapter

	// Logger receives structured logs. Defaults to a slog text logger.
	Logger logger.Logger
}

// Core is the dispatch and key custody engine.
type Core struct {
	cfg       types.Config
	store     *keystore.Store
	engine    *engine.Engine
	endpoints []*transport.Endpoint
	table     *inflightTable
	auditLog  audit.Adapter
	log       logger.Logger

	// rotate is the round-robin starting offset for channel polling.
	rotate int

	lastReseed time.Time
	now        func() time.Time

	halted  atomic.Bool
	stopped atomic.Bool
}

// New builds a core from the configuration, seeds the DRBG, and allocates
// the key store, channels, and in-flight table.
func New(config *Config) (*Core, error) {
	if config == nil {
		config = &Config{}
	}
	cfg := config.Config
	if cfg == (types.Config{}) {
		cfg = types.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("hsm: %w", err)
	}

	source := config.Entropy
	if source == nil {
		source = entropy.NewSystemSource()
	}
	eng, err := engine.New(&engine.Config{Source: source, Accelerator: config.Accelerator})
	if err != nil {
		return nil, err
	}

	store, err := keystore.New(cfg.KeyStoreCapacity)
	if err != nil {
		return nil, err
	}

	auditLog := config.Audit
	if auditLog == nil {
		auditLog = audit.NewNoopAdapter()
	}
	log := config.Logger
	if log == nil {
		log = logger.NewSlogAdapter(nil)
	}

	endpoints := make([]*transport.Endpoint, cfg.MaxClients)
	for i := range endpoints {
		endpoints[i] = transport.NewEndpoint(cfg.ChannelDepth)
	}

	c := &Core{
		cfg:        cfg,
		store:      store,
		engine:     eng,
		endpoints:  endpoints,
		table:      newInflightTable(cfg.MaxInFlight),
		auditLog:   auditLog,
		log:        log.With(logger.String("component", "core")),
		lastReseed: time.Now(),
		now:        time.Now,
	}

	metrics.SetKeyStore(0, cfg.KeyStoreCapacity)
	metrics.SetCoreHalted(false)

	c.audit(&audit.Event{
		EventType: audit.EventSystemStart,
		Outcome:   audit.OutcomeSuccess,
		ClientID:  -1,
	})
	return c, nil
}

// Endpoint returns the channel endpoint for a client index. Clients keep
// the endpoint and use Submit/Poll; the core uses the other side.
func (c *Core) Endpoint(client int) (*transport.Endpoint, error) {
	if client < 0 || client >= len(c.endpoints) {
		return nil, ErrBadClient
	}
	return c.endpoints[client], nil
}

// Config returns the core's fixed dimensions.
func (c *Core) Config() types.Config {
	return c.cfg
}

// Healthy reports whether the core can still process requests.
func (c *Core) Healthy() bool {
	return !c.halted.Load() && !c.stopped.Load()
}

// Keys lists metadata for every live key. Material is never exposed.
func (c *Core) Keys() []keystore.KeyInfo {
	return c.store.List()
}

// Audit returns the audit adapter for querying the trail.
func (c *Core) Audit() audit.Adapter {
	return c.auditLog
}

// Run drives the dispatch loop until ctx is cancelled or a fatal entropy
// failure halts the core. Returns nil on cancellation, the entropy error
// on halt.
func (c *Core) Run(ctx context.Context) error {
	c.log.Info("dispatch loop starting",
		logger.Int("max_clients", c.cfg.MaxClients),
		logger.Int("channel_depth", c.cfg.ChannelDepth),
		logger.Int("max_in_flight", c.cfg.MaxInFlight),
	)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("dispatch loop stopping")
			return nil
		default:
		}

		worked, err := c.Poll()
		if err != nil {
			return err
		}
		if !worked {
			select {
			case <-ctx.Done():
				c.log.Info("dispatch loop stopping")
				return nil
			case <-time.After(idlePollInterval):
			}
		}
	}
}

// Poll performs one dispatch iteration: retries pending responses,
// collects accelerator completions, reseeds the DRBG when due, and
// processes up to one frame per client channel starting from a rotating
// offset. Returns whether any work was done.
func (c *Core) Poll() (bool, error) {
	if c.halted.Load() {
		return false, ErrHalted
	}
	if c.stopped.Load() {
		return false, ErrHalted
	}

	worked := false

	if err := c.reseedIfDue(); err != nil {
		return worked, c.halt(err)
	}

	if c.flushPending() {
		worked = true
	}
	if c.collectAccelerator() {
		worked = true
	}

	// Fair rotation: start each iteration at the next channel so a busy
	// low-indexed client cannot starve the rest.
	n := len(c.endpoints)
	start := c.rotate
	c.rotate = (c.rotate + 1) % n
	for i := 0; i < n; i++ {
		client := (start + i) % n
		frame, ok := c.endpoints[client].CoreReceive()
		if !ok {
			continue
		}
		worked = true
		if err := c.process(client, frame); err != nil {
			return worked, c.halt(err)
		}
	}

	metrics.SetInFlight(c.table.used())
	return worked, nil
}

// Shutdown stops the core and zeroizes all key material. Safe to call
// after Run has returned.
func (c *Core) Shutdown() error {
	if c.stopped.Swap(true) {
		return nil
	}
	c.audit(&audit.Event{
		EventType: audit.EventSystemStop,
		Outcome:   audit.OutcomeSuccess,
		ClientID:  -1,
	})
	c.log.Info("core shutdown, zeroizing key store")
	return c.store.Close()
}

// reseedIfDue reseeds the DRBG on the configured interval.
func (c *Core) reseedIfDue() error {
	if c.now().Sub(c.lastReseed) < c.cfg.RNGReseedInterval {
		return nil
	}
	if err := c.engine.Reseed(); err != nil {
		return err
	}
	c.lastReseed = c.now()
	metrics.RecordDRBGReseed()
	c.audit(&audit.Event{
		EventType: audit.EventRNGReseed,
		Outcome:   audit.OutcomeSuccess,
		ClientID:  -1,
	})
	return nil
}

// halt transitions the core into its terminal failure state. Only fatal
// errors reach here; everything recoverable maps to a wire status.
func (c *Core) halt(err error) error {
	if c.halted.Swap(true) {
		return ErrHalted
	}
	metrics.SetCoreHalted(true)
	c.log.WithError(err).Error("fatal entropy failure, halting core")
	c.audit(&audit.Event{
		EventType: audit.EventSystemHalt,
		Outcome:   audit.OutcomeFailure,
		ClientID:  -1,
		Detail:    err.Error(),
	})
	return err
}

// flushPending retries enqueueing responses that found their client
// channel full on an earlier poll. Entries stay in the table until the
// response is accepted; they are never dropped.
func (c *Core) flushPending() bool {
	worked := false
	for _, idx := range c.table.pending() {
		e := &c.table.entries[idx]
		if err := c.endpoints[e.client].CoreSend(e.frame); err != nil {
			continue
		}
		worked = true
		c.finish(idx)
	}
	return worked
}

// collectAccelerator drains completed accelerator jobs and turns them
// into responses.
func (c *Core) collectAccelerator() bool {
	worked := false
	for {
		res, ok := c.engine.PollAccelerator()
		if !ok {
			return worked
		}
		worked = true
		idx, found := c.table.byToken(res.Token)
		if !found {
			c.log.Warn("accelerator completion with no parked entry",
				logger.Int64("token", int64(res.Token)))
			continue
		}
		e := &c.table.entries[idx]
		resp := &types.Response{CorrelationID: e.corr}
		if res.Err != nil {
			resp.Status = statusFor(res.Err)
		} else {
			resp.Status = types.StatusOK
			resp.Output = res.Output
		}
		c.complete(idx, resp)
	}
}
