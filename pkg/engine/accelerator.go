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

package engine

// Accelerator offloads jobs to an asynchronous backend such as a hardware
// crypto block. Both methods must be non-blocking: Submit returns false
// when the backend cannot take the job right now, and Poll returns false
// when no completion is pending. Implementations own the job's buffers
// from Submit until the matching completion is returned by Poll.
type Accelerator interface {
	// Submit hands a job to the backend. The returned token identifies
	// the job in a later Poll completion.
	Submit(job Job) (token uint64, ok bool)

	// Poll retrieves one finished job, if any.
	Poll() (AcceleratorResult, bool)
}

// AcceleratorResult is the completion record for an offloaded job.
type AcceleratorResult struct {
	Token  uint64
	Output []byte
	Err    error
}
