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

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"

	"github.com/jeremyhahn/go-hsm/pkg/types"
)

// hashMessage digests message with the requested algorithm and returns
// the full digest.
func hashMessage(alg types.Algorithm, message []byte) ([]byte, error) {
	h, err := hashFor(alg)
	if err != nil {
		return nil, err
	}
	h.Write(message)
	return h.Sum(nil), nil
}

func hashFor(alg types.Algorithm) (hash.Hash, error) {
	switch alg {
	case types.AlgSHA256:
		return sha256.New(), nil
	case types.AlgSHA384:
		return sha512.New384(), nil
	case types.AlgSHA512:
		return sha512.New(), nil
	case types.AlgSHA3256:
		return sha3.New256(), nil
	case types.AlgSHA3512:
		return sha3.New512(), nil
	case types.AlgBLAKE3:
		return blake3.New(types.AlgBLAKE3.DigestSize(), nil), nil
	default:
		return nil, fmt.Errorf("%w: %s is not a hash algorithm", ErrInvalidParameters, alg)
	}
}
