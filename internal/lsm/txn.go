package lsm

import "github.com/keystonedb/keystone/internal/base"

// TxHandle is the restricted engine access a caller gets while
// already holding the exclusive lock for the duration of
// WithWriteLock, so a multi-op transaction's validate and apply
// phases (internal/txn's transact_write) run as one
// critical section instead of one lock acquisition per op.
type TxHandle struct {
	e *Engine
}

// Get performs a locked read, returning the raw record (tombstones
// included) the same way Apply's own pre-image lookup does.
func (h *TxHandle) Get(key base.Key) (base.Record, bool) {
	s := h.e.stripes[key.Stripe()]
	return h.e.lockedGet(s, key)
}

// Apply performs one op of the transaction identified by txnID.
func (h *TxHandle) Apply(m Mutation, txnID uint64) (base.Record, error) {
	return h.e.applyLockedTxn(m, txnID)
}

// ApplyPlain performs a single, non-transactional write in the same
// critical section as a prior Get — used for conditional put/delete/
// update, whose condition check and write must observe no interleaved
// writer between them but which don't need a commit-marker frame
// since they are already a single WAL frame.
func (h *TxHandle) ApplyPlain(m Mutation) (base.Record, error) {
	return h.e.ApplyLocked(m)
}

// Commit appends txnID's trailing commit-marker WAL frame recording
// opCount. Until this frame is durable, recovery will not replay any
// of txnID's ops.
func (h *TxHandle) Commit(txnID uint64, opCount int) error {
	_, err := h.e.wal.AppendTxnCommit(txnID, uint32(opCount))
	return err
}

// NextTxnID allocates an identifier unique for the engine's lifetime,
// used to tag one transact_write's WAL frames.
func (e *Engine) NextTxnID() uint64 { return e.nextTxnID.Add(1) }

// WithWriteLock runs fn with the engine's exclusive lock held for its
// entire duration, handing fn a TxHandle. Used by internal/txn so
// transact_write's phase-1 validate and phase-2 apply see the same
// consistent state and no other writer can interleave between them.
func (e *Engine) WithWriteLock(fn func(h *TxHandle) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&TxHandle{e: e})
}

// WithReadLock runs fn with a single shared read lock held across
// every call to the get function it's handed, giving transact_get its
// "single read lock, atomically" snapshot guarantee.
func (e *Engine) WithReadLock(fn func(get func(base.Key) (base.Record, bool))) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(func(key base.Key) (base.Record, bool) {
		s := e.stripes[key.Stripe()]
		return e.lockedGet(s, key)
	})
}
