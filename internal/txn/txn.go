// Package txn implements transact_get/transact_write
// (atomic, condition-checked) and batch_get/batch_write (independent,
// non-atomic) operations on top of internal/lsm.
package txn

import (
	"github.com/keystonedb/keystone/internal/base"
	"github.com/keystonedb/keystone/internal/expr"
	"github.com/keystonedb/keystone/internal/keyerr"
	"github.com/keystonedb/keystone/internal/lsm"
)

// OpKind discriminates one transact_write op.
type OpKind int

const (
	Put OpKind = iota
	Delete
	Update
	ConditionCheck
)

// Op is one operation inside a transact_write call. Cond/CondCtx are
// optional for every kind, including ConditionCheck (whose only
// purpose is the condition).
type Op struct {
	Kind OpKind
	Key  base.Key

	Value  base.Item      // Put only
	Update *expr.UpdateExpr // Update only

	Cond    expr.Cond
	CondCtx expr.Context
}

// Get implements transact_get: every key is read under one shared
// lock so the result is a consistent snapshot. Both returned slices
// are aligned with keys: a key that is not found (absent or
// tombstoned) leaves a nil item in its slot, and the bool slice
// reports which keys were found.
func Get(e *lsm.Engine, keys []base.Key) ([]base.Item, []bool, error) {
	items := make([]base.Item, len(keys))
	found := make([]bool, len(keys))
	e.WithReadLock(func(get func(base.Key) (base.Record, bool)) {
		for i, k := range keys {
			rec, ok := get(k)
			if ok && !rec.IsTombstone() {
				items[i] = rec.Value
				found[i] = true
			}
		}
	})
	return items, found, nil
}

// Write implements transact_write's two phases:
// phase 1 evaluates every op's condition against the engine's current
// view and aborts the whole transaction with TransactionCanceled on
// the first failure; phase 2 applies every mutating op through the
// single-item write path, tagging their WAL frames with one shared
// txnID and closing with a commit marker so recovery either replays
// all of the transaction's ops or none of them.
func Write(e *lsm.Engine, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	return e.WithWriteLock(func(h *lsm.TxHandle) error {
		current := make([]base.Item, len(ops))
		for i, op := range ops {
			rec, ok := h.Get(op.Key)
			var item base.Item
			if ok && !rec.IsTombstone() {
				item = rec.Value
			}
			current[i] = item
			if op.Cond == nil {
				continue
			}
			matched, err := expr.Eval(op.Cond, item, op.CondCtx)
			if err != nil {
				return keyerr.TransactionCanceledf("op %d: condition evaluation failed: %v", i, err)
			}
			if !matched {
				return keyerr.TransactionCanceledf("op %d: condition check failed", i)
			}
		}

		txnID := e.NextTxnID()
		applied := 0
		for i, op := range ops {
			switch op.Kind {
			case ConditionCheck:
				continue
			case Delete:
				if _, err := h.Apply(lsm.Mutation{Key: op.Key, Value: nil}, txnID); err != nil {
					return err
				}
			case Put:
				if _, err := h.Apply(lsm.Mutation{Key: op.Key, Value: op.Value}, txnID); err != nil {
					return err
				}
			case Update:
				next, err := expr.Apply(op.Update, current[i], op.CondCtx)
				if err != nil {
					return keyerr.TransactionCanceledf("op %d: update expression failed: %v", i, err)
				}
				if _, err := h.Apply(lsm.Mutation{Key: op.Key, Value: next}, txnID); err != nil {
					return err
				}
			}
			applied++
		}
		if applied == 0 {
			// Every op was a bare ConditionCheck: nothing mutated, so no
			// commit marker is needed.
			return nil
		}
		return h.Commit(txnID, applied)
	})
}

// WriteOp is one batch_write op: independent of every other op in the
// same call.
type WriteOp struct {
	Key   base.Key
	Value base.Item // nil => delete
}

// BatchFailure records the index and error of one failed batch_write
// op.
type BatchFailure struct {
	Index int
	Err   error
}

// BatchWriteResult reports how many ops in a batch_write succeeded and
// which failed.
type BatchWriteResult struct {
	Succeeded int
	Failed    []BatchFailure
}

// BatchGet implements batch_get: independent reads, missing items
// simply omitted from the result.
func BatchGet(e *lsm.Engine, keys []base.Key) ([]base.Item, error) {
	items := make([]base.Item, 0, len(keys))
	for _, k := range keys {
		rec, ok, err := e.Get(k)
		if err != nil {
			return items, err
		}
		if ok {
			items = append(items, rec.Value)
		}
	}
	return items, nil
}

// BatchWrite implements batch_write: independent, non-atomic writes
// that continue past per-op failures (e.g. validation errors) but
// stop on the first fatal IO error.11.
func BatchWrite(e *lsm.Engine, ops []WriteOp) (BatchWriteResult, error) {
	var res BatchWriteResult
	for i, op := range ops {
		if _, err := e.Apply(lsm.Mutation{Key: op.Key, Value: op.Value}); err != nil {
			if keyerr.KindOf(err) == keyerr.Io {
				return res, err
			}
			res.Failed = append(res.Failed, BatchFailure{Index: i, Err: err})
			continue
		}
		res.Succeeded++
	}
	return res, nil
}
