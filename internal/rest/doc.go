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

// Package rest exposes the HSM core over an HTTP API.
//
// The server is an ordinary client of the core: it holds one channel
// endpoint and translates JSON requests into wire frames. Key handles
// appear in URLs as eight hex digits (generation then slot). Routes are
// built with chi; middleware provides panic recovery, correlation IDs,
// request logging, Prometheus metrics, CORS, optional rate limiting and
// pluggable authentication. Health probe endpoints are served without
// authentication for Kubernetes.
package rest
