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

package types

import (
	"fmt"
	"strings"
)

// ParseAlgorithm maps a canonical algorithm name back to its Algorithm
// value. Matching is case-insensitive.
func ParseAlgorithm(name string) (Algorithm, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for a := AlgNone; a < algMax; a++ {
		if a.String() == name {
			return a, nil
		}
	}
	return AlgNone, fmt.Errorf("unknown algorithm: %q", name)
}

// ParseKeyUsage builds a usage mask from a list of usage names.
func ParseKeyUsage(names []string) (KeyUsage, error) {
	var usage KeyUsage
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "encrypt":
			usage |= UsageEncrypt
		case "decrypt":
			usage |= UsageDecrypt
		case "sign":
			usage |= UsageSign
		case "verify":
			usage |= UsageVerify
		case "derive":
			usage |= UsageDerive
		case "export":
			usage |= UsageExport
		default:
			return 0, fmt.Errorf("unknown key usage: %q", name)
		}
	}
	if usage == 0 {
		return 0, fmt.Errorf("at least one key usage is required")
	}
	return usage, nil
}
