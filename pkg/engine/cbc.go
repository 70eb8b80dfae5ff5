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
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/jeremyhahn/go-hsm/pkg/types"
)

// cbcEncrypt encrypts with AES-CBC and PKCS#7 padding. The caller supplies
// the IV; output is ciphertext only, always a whole number of blocks and
// one block longer than the unpadded plaintext rounds up to.
func cbcEncrypt(alg types.Algorithm, key, iv, plaintext []byte) ([]byte, error) {
	block, err := cbcCipher(alg, key, iv)
	if err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// cbcDecrypt decrypts AES-CBC ciphertext and strips PKCS#7 padding.
// Malformed padding is reported as the generic ErrDecryptionFailed; CBC
// carries no authenticity, so the error deliberately mirrors the AEAD
// failure mode instead of describing the padding.
func cbcDecrypt(alg types.Algorithm, key, iv, ciphertext []byte) ([]byte, error) {
	block, err := cbcCipher(alg, key, iv)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a positive multiple of the block size",
			ErrInvalidParameters, len(ciphertext))
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, aes.BlockSize)
}

func cbcCipher(alg types.Algorithm, key, iv []byte) (cipher.Block, error) {
	if !alg.IsBlockMode() {
		return nil, fmt.Errorf("%w: %s is not a block mode", ErrInvalidParameters, alg)
	}
	if len(key) != alg.KeySize() {
		return nil, fmt.Errorf("%w: %s requires a %d-byte key, got %d",
			ErrInvalidParameters, alg, alg.KeySize(), len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: CBC requires a %d-byte IV, got %d",
			ErrInvalidParameters, aes.BlockSize, len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	return block, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrDecryptionFailed
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, ErrDecryptionFailed
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, ErrDecryptionFailed
		}
	}
	return data[:len(data)-pad], nil
}
