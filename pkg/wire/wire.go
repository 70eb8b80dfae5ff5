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

// Package wire implements the fixed-layout message format shared by client
// and core across the channel boundary.
//
// Request frame: a 26-byte big-endian header followed by the variable
// sections in fixed order (nonce, aad, inline key, input).
//
//	offset size field
//	0      2    magic (0x4853)
//	2      1    version (1)
//	3      1    operation
//	4      1    algorithm
//	5      1    flags
//	6      2    usage mask
//	8      4    correlation id
//	12     4    key id
//	16     1    nonce length
//	17     2    aad length
//	19     1    inline key length
//	20     2    output length
//	22     4    input length
//
// Response frame: a 16-byte header followed by the output bytes.
//
//	offset size field
//	0      2    magic (0x4853)
//	2      1    version (1)
//	3      1    status
//	4      4    correlation id
//	8      4    key id
//	12     4    output length
//
// Every length field is validated against its bound before any payload
// byte is interpreted. Decoding never panics on malformed input.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-hsm/pkg/types"
)

const (
	// Magic identifies a go-hsm frame.
	Magic uint16 = 0x4853

	// Version is the only protocol version this core speaks.
	Version uint8 = 1

	// RequestHeaderSize is the fixed request header length.
	RequestHeaderSize = 26

	// ResponseHeaderSize is the fixed response header length.
	ResponseHeaderSize = 16
)

var (
	// ErrTruncated is returned when a frame is shorter than its header or
	// its declared payload sections.
	ErrTruncated = errors.New("wire: truncated frame")

	// ErrBadMagic is returned when the magic bytes do not match.
	ErrBadMagic = errors.New("wire: bad magic")

	// ErrBadVersion is returned for an unsupported protocol version.
	ErrBadVersion = errors.New("wire: unsupported version")

	// ErrFieldRange is returned when a header field is outside its
	// permitted range (unknown operation code, oversize length field).
	ErrFieldRange = errors.New("wire: field out of range")

	// ErrLengthMismatch is returned when the declared section lengths do
	// not add up to the frame size.
	ErrLengthMismatch = errors.New("wire: section lengths do not match frame size")
)

// EncodeRequest serializes a request into a freshly allocated frame.
func EncodeRequest(req *types.Request) ([]byte, error) {
	if !req.Operation.Valid() {
		return nil, fmt.Errorf("%w: operation %d", ErrFieldRange, req.Operation)
	}
	if !req.Algorithm.Valid() {
		return nil, fmt.Errorf("%w: algorithm %d", ErrFieldRange, req.Algorithm)
	}
	if !req.Flags.Valid() {
		return nil, fmt.Errorf("%w: flags %#x", ErrFieldRange, req.Flags)
	}
	if len(req.Nonce) > types.MaxNonce {
		return nil, fmt.Errorf("%w: nonce length %d", ErrFieldRange, len(req.Nonce))
	}
	if len(req.Key) > types.MaxPeerPublicKey {
		return nil, fmt.Errorf("%w: inline key length %d", ErrFieldRange, len(req.Key))
	}
	if len(req.AAD) > 0xffff {
		return nil, fmt.Errorf("%w: aad length %d", ErrFieldRange, len(req.AAD))
	}

	buf := make([]byte, RequestHeaderSize+len(req.Nonce)+len(req.AAD)+len(req.Key)+len(req.Input))
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = Version
	buf[3] = byte(req.Operation)
	buf[4] = byte(req.Algorithm)
	buf[5] = byte(req.Flags)
	binary.BigEndian.PutUint16(buf[6:8], uint16(req.Usage))
	binary.BigEndian.PutUint32(buf[8:12], req.CorrelationID)
	binary.BigEndian.PutUint32(buf[12:16], uint32(req.KeyID))
	buf[16] = byte(len(req.Nonce))
	binary.BigEndian.PutUint16(buf[17:19], uint16(len(req.AAD)))
	buf[19] = byte(len(req.Key))
	binary.BigEndian.PutUint16(buf[20:22], req.OutputLen)
	binary.BigEndian.PutUint32(buf[22:26], uint32(len(req.Input)))

	off := RequestHeaderSize
	off += copy(buf[off:], req.Nonce)
	off += copy(buf[off:], req.AAD)
	off += copy(buf[off:], req.Key)
	copy(buf[off:], req.Input)
	return buf, nil
}

// DecodeRequest parses and validates a request frame. maxPayload bounds the
// input section; it is the core's configured per-request payload limit.
//
// The returned request's byte slices alias the frame buffer. The frame must
// not be mutated for the lifetime of the request.
func DecodeRequest(buf []byte, maxPayload int) (*types.Request, error) {
	if len(buf) < RequestHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(buf))
	}
	if binary.BigEndian.Uint16(buf[0:2]) != Magic {
		return nil, ErrBadMagic
	}
	if buf[2] != Version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, buf[2])
	}

	op := types.Operation(buf[3])
	if !op.Valid() {
		return nil, fmt.Errorf("%w: operation code %d", ErrFieldRange, buf[3])
	}
	alg := types.Algorithm(buf[4])
	if !alg.Valid() {
		return nil, fmt.Errorf("%w: algorithm id %d", ErrFieldRange, buf[4])
	}
	flags := types.RequestFlags(buf[5])
	if !flags.Valid() {
		return nil, fmt.Errorf("%w: flags %#x", ErrFieldRange, buf[5])
	}

	nonceLen := int(buf[16])
	aadLen := int(binary.BigEndian.Uint16(buf[17:19]))
	keyLen := int(buf[19])
	inLen := int(binary.BigEndian.Uint32(buf[22:26]))

	if nonceLen > types.MaxNonce {
		return nil, fmt.Errorf("%w: nonce length %d", ErrFieldRange, nonceLen)
	}
	if keyLen > types.MaxPeerPublicKey {
		return nil, fmt.Errorf("%w: inline key length %d", ErrFieldRange, keyLen)
	}
	if inLen > maxPayload {
		return nil, fmt.Errorf("%w: input length %d exceeds limit %d", ErrFieldRange, inLen, maxPayload)
	}
	if aadLen > maxPayload {
		return nil, fmt.Errorf("%w: aad length %d exceeds limit %d", ErrFieldRange, aadLen, maxPayload)
	}

	total := RequestHeaderSize + nonceLen + aadLen + keyLen + inLen
	if len(buf) != total {
		return nil, fmt.Errorf("%w: declared %d, frame %d", ErrLengthMismatch, total, len(buf))
	}

	off := RequestHeaderSize
	req := &types.Request{
		CorrelationID: binary.BigEndian.Uint32(buf[8:12]),
		Operation:     op,
		Algorithm:     alg,
		Flags:         flags,
		KeyID:         types.KeyID(binary.BigEndian.Uint32(buf[12:16])),
		Usage:         types.KeyUsage(binary.BigEndian.Uint16(buf[6:8])),
		OutputLen:     binary.BigEndian.Uint16(buf[20:22]),
	}
	req.Nonce = section(buf, &off, nonceLen)
	req.AAD = section(buf, &off, aadLen)
	req.Key = section(buf, &off, keyLen)
	req.Input = section(buf, &off, inLen)
	return req, nil
}

// EncodeResponse serializes a response into a freshly allocated frame.
func EncodeResponse(resp *types.Response) []byte {
	buf := make([]byte, ResponseHeaderSize+len(resp.Output))
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = Version
	buf[3] = byte(resp.Status)
	binary.BigEndian.PutUint32(buf[4:8], resp.CorrelationID)
	binary.BigEndian.PutUint32(buf[8:12], uint32(resp.KeyID))
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(resp.Output)))
	copy(buf[ResponseHeaderSize:], resp.Output)
	return buf
}

// DecodeResponse parses and validates a response frame. The returned
// response's Output aliases the frame buffer.
func DecodeResponse(buf []byte) (*types.Response, error) {
	if len(buf) < ResponseHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(buf))
	}
	if binary.BigEndian.Uint16(buf[0:2]) != Magic {
		return nil, ErrBadMagic
	}
	if buf[2] != Version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, buf[2])
	}
	outLen := int(binary.BigEndian.Uint32(buf[12:16]))
	if len(buf) != ResponseHeaderSize+outLen {
		return nil, fmt.Errorf("%w: declared %d, frame %d", ErrLengthMismatch, ResponseHeaderSize+outLen, len(buf))
	}
	return &types.Response{
		CorrelationID: binary.BigEndian.Uint32(buf[4:8]),
		Status:        types.Status(buf[3]),
		KeyID:         types.KeyID(binary.BigEndian.Uint32(buf[8:12])),
		Output:        buf[ResponseHeaderSize:],
	}, nil
}

// PeekCorrelationID extracts the correlation id from a request frame that
// may otherwise be malformed, so a ProtocolError response can still be
// correlated. Returns zero when the frame is too short to carry one.
func PeekCorrelationID(buf []byte) uint32 {
	if len(buf) < 12 {
		return 0
	}
	return binary.BigEndian.Uint32(buf[8:12])
}

func section(buf []byte, off *int, n int) []byte {
	if n == 0 {
		return nil
	}
	s := buf[*off : *off+n]
	*off += n
	return s
}
