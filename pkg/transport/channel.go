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

// Package transport provides the bounded, non-blocking channel primitive
// connecting client contexts to the core.
//
// Each client owns one Endpoint: a fixed-depth request queue and a
// fixed-depth response queue. Sends on a full queue fail immediately with
// ErrChannelFull; neither side ever blocks. Ordering is strict FIFO within
// one queue, with no cross-endpoint guarantee.
package transport

import "errors"

// ErrChannelFull is returned by TrySend when the queue is at capacity.
// The caller is expected to retry on a later iteration.
var ErrChannelFull = errors.New("transport: channel full")

// Queue is a fixed-depth, non-blocking FIFO of encoded frames. It is safe
// for one producer and one consumer running in different goroutines or
// scheduling contexts; the synchronization is the queue's own.
type Queue struct {
	ch chan []byte
}

// NewQueue creates a queue with the given fixed depth.
func NewQueue(depth int) *Queue {
	if depth < 1 {
		depth = 1
	}
	return &Queue{ch: make(chan []byte, depth)}
}

// TrySend enqueues a frame without blocking. Returns ErrChannelFull when
// the queue is at capacity.
func (q *Queue) TrySend(frame []byte) error {
	select {
	case q.ch <- frame:
		return nil
	default:
		return ErrChannelFull
	}
}

// TryReceive dequeues the oldest frame without blocking. The second return
// is false when the queue is empty.
func (q *Queue) TryReceive() ([]byte, bool) {
	select {
	case frame := <-q.ch:
		return frame, true
	default:
		return nil, false
	}
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the fixed queue depth.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Endpoint is the pair of queues associated with exactly one client
// context: requests flow client to core, responses core to client.
type Endpoint struct {
	requests  *Queue
	responses *Queue
}

// NewEndpoint creates an endpoint whose queues both have the given depth.
func NewEndpoint(depth int) *Endpoint {
	return &Endpoint{
		requests:  NewQueue(depth),
		responses: NewQueue(depth),
	}
}

// Submit enqueues a request frame from the client side.
func (e *Endpoint) Submit(frame []byte) error {
	return e.requests.TrySend(frame)
}

// Poll dequeues a response frame on the client side.
func (e *Endpoint) Poll() ([]byte, bool) {
	return e.responses.TryReceive()
}

// CoreReceive dequeues the next request frame on the core side.
func (e *Endpoint) CoreReceive() ([]byte, bool) {
	return e.requests.TryReceive()
}

// CoreSend enqueues a response frame on the core side. Returns
// ErrChannelFull when the client has not drained its responses; the
// dispatcher retries on a later poll rather than dropping the response.
func (e *Endpoint) CoreSend(frame []byte) error {
	return e.responses.TrySend(frame)
}

// Depth returns the fixed depth of each direction.
func (e *Endpoint) Depth() int {
	return e.requests.Cap()
}
