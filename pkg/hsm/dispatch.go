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

package hsm

import (
	"context"
	"errors"

	"github.com/jeremyhahn/go-hsm/pkg/adapters/audit"
	"github.com/jeremyhahn/go-hsm/pkg/adapters/logger"
	"github.com/jeremyhahn/go-hsm/pkg/engine"
	"github.com/jeremyhahn/go-hsm/pkg/keystore"
	"github.com/jeremyhahn/go-hsm/pkg/metrics"
	"github.com/jeremyhahn/go-hsm/pkg/types"
	"github.com/jeremyhahn/go-hsm/pkg/wire"
)

// process runs one frame through decode, key resolution, and execution.
// The returned error is fatal; every recoverable failure becomes a wire
// status on the response.
func (c *Core) process(client int, frame []byte) error {
	corr := wire.PeekCorrelationID(frame)

	idx, ok := c.table.acquire(client, corr, c.now())
	if !ok {
		metrics.RecordEngineBusy()
		c.rejectBusy(client, corr)
		return nil
	}

	req, err := wire.DecodeRequest(frame, c.cfg.MaxPayload)
	if err != nil {
		c.complete(idx, &types.Response{CorrelationID: corr, Status: types.StatusProtocolError})
		return nil
	}
	c.table.entries[idx].op = req.Operation.String()

	if !req.Operation.Valid() || !req.Flags.Valid() {
		c.complete(idx, &types.Response{CorrelationID: corr, Status: types.StatusProtocolError})
		return nil
	}

	resp, fatal := c.dispatch(idx, client, req)
	if fatal != nil {
		return fatal
	}
	if resp == nil {
		// Parked on the accelerator; the completion poll finishes it.
		return nil
	}
	c.complete(idx, resp)
	return nil
}

// dispatch executes one decoded request. A nil response with nil error
// means the job was offloaded and the entry is parked at dispatched.
func (c *Core) dispatch(idx, client int, req *types.Request) (*types.Response, error) {
	switch req.Operation {
	case types.OpGenerateKey:
		return c.generateKey(client, req)
	case types.OpImportKey:
		return c.importKey(client, req)
	case types.OpDeleteKey:
		return c.deleteKey(client, req)
	case types.OpExportKey:
		return c.exportKey(client, req)
	case types.OpGetPublicKey:
		return c.getPublicKey(req)
	case types.OpEncrypt, types.OpDecrypt:
		return c.cipher(idx, client, req)
	case types.OpSign:
		return c.sign(idx, client, req)
	case types.OpVerify:
		return c.verify(idx, client, req)
	case types.OpDeriveKey:
		return c.deriveKey(client, req)
	case types.OpHash:
		return c.hash(idx, req)
	case types.OpGetRandom:
		return c.getRandom(req)
	default:
		return &types.Response{CorrelationID: req.CorrelationID, Status: types.StatusProtocolError}, nil
	}
}

func (c *Core) generateKey(client int, req *types.Request) (*types.Response, error) {
	if !req.Algorithm.Keyed() || !req.Usage.Valid() {
		return c.fail(req, types.StatusInvalidParameters), nil
	}

	material, err := c.engine.GenerateKeyMaterial(req.Algorithm)
	if err != nil {
		if errors.Is(err, engine.ErrEntropyFailure) {
			return nil, err
		}
		return c.fail(req, statusFor(err)), nil
	}
	defer keystore.Zeroize(material)

	id, err := c.store.Insert(req.Algorithm, req.Usage, material)
	c.auditKey(audit.EventKeyGenerate, client, req, id, err)
	if err != nil {
		return c.fail(req, statusFor(err)), nil
	}
	metrics.SetKeyStore(c.store.Len(), c.store.Capacity())
	return &types.Response{CorrelationID: req.CorrelationID, Status: types.StatusOK, KeyID: id}, nil
}

func (c *Core) importKey(client int, req *types.Request) (*types.Response, error) {
	id, err := c.store.Insert(req.Algorithm, req.Usage, req.Key)
	c.auditKey(audit.EventKeyImport, client, req, id, err)
	if err != nil {
		return c.fail(req, statusFor(err)), nil
	}
	metrics.SetKeyStore(c.store.Len(), c.store.Capacity())
	return &types.Response{CorrelationID: req.CorrelationID, Status: types.StatusOK, KeyID: id}, nil
}

func (c *Core) deleteKey(client int, req *types.Request) (*types.Response, error) {
	err := c.store.Delete(req.KeyID)
	c.auditKey(audit.EventKeyDelete, client, req, req.KeyID, err)
	if err != nil {
		return c.fail(req, statusFor(err)), nil
	}
	metrics.SetKeyStore(c.store.Len(), c.store.Capacity())
	return &types.Response{CorrelationID: req.CorrelationID, Status: types.StatusOK}, nil
}

func (c *Core) exportKey(client int, req *types.Request) (*types.Response, error) {
	if err := c.authorize(client, req, types.OpExportKey); err != nil {
		return c.fail(req, statusFor(err)), nil
	}

	var out []byte
	err := c.store.WithMaterial(req.KeyID, func(material []byte, _ keystore.KeyInfo) error {
		out = append([]byte(nil), material...)
		return nil
	})
	c.auditKey(audit.EventKeyExport, client, req, req.KeyID, err)
	if err != nil {
		return c.fail(req, statusFor(err)), nil
	}
	return &types.Response{CorrelationID: req.CorrelationID, Status: types.StatusOK, Output: out}, nil
}

// getPublicKey derives the public half of a stored asymmetric key.
// Public keys are not secret, so the export usage bit is not required.
func (c *Core) getPublicKey(req *types.Request) (*types.Response, error) {
	var out []byte
	err := c.store.WithMaterial(req.KeyID, func(material []byte, info keystore.KeyInfo) error {
		var execErr error
		out, execErr = c.engine.Execute(engine.Job{
			Operation: types.OpGetPublicKey,
			Algorithm: info.Algorithm,
			Key:       material,
		})
		return execErr
	})
	if err != nil {
		if errors.Is(err, engine.ErrEntropyFailure) {
			return nil, err
		}
		return c.fail(req, statusFor(err)), nil
	}
	return &types.Response{CorrelationID: req.CorrelationID, Status: types.StatusOK, Output: out}, nil
}

// cipher handles Encrypt and Decrypt, with the key coming from the store
// or inline from the caller (FlagInlineKey, symmetric algorithms only).
func (c *Core) cipher(idx, client int, req *types.Request) (*types.Response, error) {
	job := engine.Job{
		Operation: req.Operation,
		Algorithm: req.Algorithm,
		Nonce:     req.Nonce,
		AAD:       req.AAD,
		Input:     req.Input,
	}

	if req.Flags&types.FlagInlineKey != 0 {
		if !req.Algorithm.IsSymmetric() {
			return c.fail(req, types.StatusInvalidParameters), nil
		}
		job.Key = req.Key
		return c.runJob(idx, req, job)
	}

	if err := c.authorize(client, req, req.Operation); err != nil {
		return c.fail(req, statusFor(err)), nil
	}
	return c.runStoreJob(idx, req, job)
}

func (c *Core) sign(idx, client int, req *types.Request) (*types.Response, error) {
	if err := c.authorize(client, req, types.OpSign); err != nil {
		return c.fail(req, statusFor(err)), nil
	}
	return c.runStoreJob(idx, req, engine.Job{
		Operation: types.OpSign,
		Input:     req.Input,
	})
}

// verify splits Input into message and trailing signature; the signature
// length rides in OutputLen.
func (c *Core) verify(idx, client int, req *types.Request) (*types.Response, error) {
	sigLen := int(req.OutputLen)
	if sigLen <= 0 || sigLen > len(req.Input) {
		return c.fail(req, types.StatusInvalidParameters), nil
	}
	if err := c.authorize(client, req, types.OpVerify); err != nil {
		return c.fail(req, statusFor(err)), nil
	}
	split := len(req.Input) - sigLen
	return c.runStoreJob(idx, req, engine.Job{
		Operation: types.OpVerify,
		Input:     req.Input[:split],
		Signature: req.Input[split:],
	})
}

func (c *Core) deriveKey(client int, req *types.Request) (*types.Response, error) {
	if err := c.authorize(client, req, types.OpDeriveKey); err != nil {
		return c.fail(req, statusFor(err)), nil
	}

	var derived []byte
	err := c.store.WithMaterial(req.KeyID, func(material []byte, info keystore.KeyInfo) error {
		var execErr error
		derived, execErr = c.engine.Execute(engine.Job{
			Operation: types.OpDeriveKey,
			Algorithm: info.Algorithm,
			Key:       material,
			Input:     req.Input,
			OutputLen: int(req.OutputLen),
		})
		return execErr
	})
	if err != nil {
		if errors.Is(err, engine.ErrEntropyFailure) {
			return nil, err
		}
		return c.fail(req, statusFor(err)), nil
	}

	if req.Flags&types.FlagRawOutput != 0 {
		return &types.Response{CorrelationID: req.CorrelationID, Status: types.StatusOK, Output: derived}, nil
	}

	defer keystore.Zeroize(derived)
	alg, ok := derivedAlgorithm(len(derived))
	if !ok {
		return c.fail(req, types.StatusInvalidParameters), nil
	}
	id, err := c.store.Insert(alg, req.Usage, derived)
	c.auditKey(audit.EventKeyDerive, client, req, id, err)
	if err != nil {
		return c.fail(req, statusFor(err)), nil
	}
	metrics.SetKeyStore(c.store.Len(), c.store.Capacity())
	return &types.Response{CorrelationID: req.CorrelationID, Status: types.StatusOK, KeyID: id}, nil
}

func (c *Core) hash(idx int, req *types.Request) (*types.Response, error) {
	return c.runJob(idx, req, engine.Job{
		Operation: types.OpHash,
		Algorithm: req.Algorithm,
		Input:     req.Input,
	})
}

func (c *Core) getRandom(req *types.Request) (*types.Response, error) {
	out, err := c.engine.Random(int(req.OutputLen))
	if err != nil {
		if errors.Is(err, engine.ErrEntropyFailure) {
			return nil, err
		}
		return c.fail(req, statusFor(err)), nil
	}
	return &types.Response{CorrelationID: req.CorrelationID, Status: types.StatusOK, Output: out}, nil
}

// runStoreJob borrows the key material for the span of the engine call
// and fills in the job's algorithm from the stored key. The requested
// algorithm, when present, must match the stored one.
func (c *Core) runStoreJob(idx int, req *types.Request, job engine.Job) (*types.Response, error) {
	var resp *types.Response
	var fatal error
	err := c.store.WithMaterial(req.KeyID, func(material []byte, info keystore.KeyInfo) error {
		if req.Algorithm != types.AlgNone && req.Algorithm != info.Algorithm {
			resp = c.fail(req, types.StatusInvalidParameters)
			return nil
		}
		job.Algorithm = info.Algorithm
		job.Key = material
		resp, fatal = c.runJob(idx, req, job)
		return nil
	})
	if fatal != nil {
		return nil, fatal
	}
	if err != nil {
		return c.fail(req, statusFor(err)), nil
	}
	return resp, nil
}

// runJob offloads the job to the accelerator when possible, otherwise
// executes it synchronously. Offloaded jobs take a copy of the key since
// the borrow ends when this function returns.
func (c *Core) runJob(idx int, req *types.Request, job engine.Job) (*types.Response, error) {
	if offloadable(job.Operation) {
		offload := job
		if offload.Key != nil {
			offload.Key = append([]byte(nil), job.Key...)
		}
		if token, ok := c.engine.TryOffload(offload); ok {
			e := &c.table.entries[idx]
			e.state = entryDispatched
			e.token = token
			return nil, nil
		}
	}

	out, err := c.engine.Execute(job)
	if err != nil {
		if errors.Is(err, engine.ErrEntropyFailure) {
			return nil, err
		}
		return c.fail(req, statusFor(err)), nil
	}
	return &types.Response{CorrelationID: req.CorrelationID, Status: types.StatusOK, Output: out}, nil
}

// offloadable reports whether an operation may run on the accelerator.
// Key custody operations always run on the core.
func offloadable(op types.Operation) bool {
	switch op {
	case types.OpEncrypt, types.OpDecrypt, types.OpSign, types.OpVerify, types.OpHash:
		return true
	default:
		return false
	}
}

// authorize gates a store-keyed operation on the key's usage mask and
// records denials in the audit trail.
func (c *Core) authorize(client int, req *types.Request, op types.Operation) error {
	err := c.store.Authorize(req.KeyID, op)
	if errors.Is(err, keystore.ErrPermissionDenied) {
		c.audit(&audit.Event{
			EventType:     audit.EventAccessDenied,
			Outcome:       audit.OutcomeDenied,
			ClientID:      client,
			CorrelationID: req.CorrelationID,
			KeyID:         req.KeyID.String(),
			Status:        types.StatusPermissionDenied.String(),
			Detail:        op.String(),
		})
	}
	return err
}

// complete encodes the response, records metrics, and attempts the
// enqueue. A full client queue leaves the entry in the table for retry.
func (c *Core) complete(idx int, resp *types.Response) {
	e := &c.table.entries[idx]
	if resp.Status == types.StatusOK {
		e.state = entryCompleted
	} else {
		e.state = entryFailed
	}
	e.frame = wire.EncodeResponse(resp)

	op := e.op
	if op == "" {
		op = "unknown"
	}
	metrics.RecordRequest(op, resp.Status.String(), c.now().Sub(e.started).Seconds())

	if err := c.endpoints[e.client].CoreSend(e.frame); err != nil {
		metrics.RecordChannelFull()
		c.log.Debug("response deferred, client queue full",
			logger.Int("client", e.client))
		return
	}
	c.finish(idx)
}

// finish releases a table entry whose response has been accepted.
func (c *Core) finish(idx int) {
	c.table.release(idx)
}

// rejectBusy answers a request that found the in-flight table full. The
// reply is itself a flow control signal: when the response queue is also
// full it is dropped rather than tracked, since tracking is exactly what
// there is no room for.
func (c *Core) rejectBusy(client int, corr uint32) {
	frame := wire.EncodeResponse(&types.Response{
		CorrelationID: corr,
		Status:        types.StatusEngineBusy,
	})
	if err := c.endpoints[client].CoreSend(frame); err != nil {
		metrics.RecordBusyReplyDropped()
	}
}

// fail builds an error response echoing the request's correlation id.
func (c *Core) fail(req *types.Request, status types.Status) *types.Response {
	return &types.Response{CorrelationID: req.CorrelationID, Status: status}
}

// auditKey records the outcome of a key lifecycle operation.
func (c *Core) auditKey(event audit.EventType, client int, req *types.Request, id types.KeyID, err error) {
	ev := &audit.Event{
		EventType:     event,
		Outcome:       audit.OutcomeSuccess,
		ClientID:      client,
		CorrelationID: req.CorrelationID,
		KeyID:         id.String(),
		Algorithm:     req.Algorithm.String(),
		Status:        types.StatusOK.String(),
	}
	if err != nil {
		ev.Outcome = audit.OutcomeFailure
		ev.Status = statusFor(err).String()
		ev.Detail = err.Error()
	}
	c.audit(ev)
}

// audit writes one event, logging instead of failing when the adapter
// rejects it.
func (c *Core) audit(ev *audit.Event) {
	if err := c.auditLog.LogEvent(context.Background(), ev); err != nil {
		c.log.WithError(err).Warn("audit event dropped")
	}
}

// statusFor maps recoverable errors to wire statuses. Fatal errors never
// reach here; they halt the core instead.
func statusFor(err error) types.Status {
	switch {
	case errors.Is(err, keystore.ErrKeyNotFound):
		return types.StatusKeyNotFound
	case errors.Is(err, keystore.ErrKeyStoreFull):
		return types.StatusKeyStoreFull
	case errors.Is(err, keystore.ErrInvalidKeyMaterial):
		return types.StatusInvalidKeyMaterial
	case errors.Is(err, keystore.ErrPermissionDenied):
		return types.StatusPermissionDenied
	case errors.Is(err, engine.ErrDecryptionFailed):
		return types.StatusDecryptionFailed
	case errors.Is(err, engine.ErrInvalidSignature):
		return types.StatusInvalidSignature
	case errors.Is(err, engine.ErrInvalidParameters):
		return types.StatusInvalidParameters
	case errors.Is(err, engine.ErrAcceleratorBusy):
		return types.StatusEngineBusy
	default:
		return types.StatusInternalError
	}
}

// derivedAlgorithm picks the store algorithm for a derived key by its
// length. Derived keys install as AES-GCM material.
func derivedAlgorithm(n int) (types.Algorithm, bool) {
	switch n {
	case 16:
		return types.AlgAES128GCM, true
	case 24:
		return types.AlgAES192GCM, true
	case 32:
		return types.AlgAES256GCM, true
	default:
		return types.AlgNone, false
	}
}
