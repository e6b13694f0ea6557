package keystone

import (
	"github.com/keystonedb/keystone/internal/expr"
	"github.com/keystonedb/keystone/internal/txn"
)

// WriteOp is one batch_write op: independent of every other op in the
// same call.
type WriteOp struct {
	Key   Key
	Value Item // nil => delete
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

// BatchGet implements batch_get: independent reads; missing items are
// simply omitted from the result.
func (db *DB) BatchGet(keys []Key) ([]Item, error) {
	return txn.BatchGet(db.engine, keys)
}

// BatchWrite implements batch_write: independent, non-atomic writes
// that continue past per-op failures unless a fatal IO error occurs.
func (db *DB) BatchWrite(ops []WriteOp) (BatchWriteResult, error) {
	iops := make([]txn.WriteOp, len(ops))
	for i, op := range ops {
		iops[i] = txn.WriteOp{Key: op.Key, Value: op.Value}
	}
	res, err := txn.BatchWrite(db.engine, iops)
	out := BatchWriteResult{Succeeded: res.Succeeded}
	for _, f := range res.Failed {
		out.Failed = append(out.Failed, BatchFailure{Index: f.Index, Err: f.Err})
	}
	return out, err
}

// TransactGet implements transact_get: every key is read under one
// shared lock, giving the result a consistent snapshot.
func (db *DB) TransactGet(keys []Key) ([]Item, error) {
	items, _, err := txn.Get(db.engine, keys)
	return items, err
}

// OpKind discriminates one TransactOp.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
	OpUpdate
	OpConditionCheck
)

// TransactOp is one operation inside a TransactWrite call. Condition
// is optional for every Kind, including OpConditionCheck, whose only
// purpose is the condition.
type TransactOp struct {
	Kind      OpKind
	Key       Key
	Value     Item   // OpPut only
	Update    string // OpUpdate only: an UpdateExpression
	Condition string
	Values    map[string]Value
	Names     map[string]string
}

// TransactWrite implements transact_write's two-phase validate/apply:
// every op's Condition is evaluated against the
// engine's current view first, aborting the whole transaction on the
// first failure; only then are the mutating ops applied, all tagged
// with one shared transaction id and closed out by a commit marker so
// recovery replays all of them or none.
func (db *DB) TransactWrite(ops []TransactOp) error {
	iops := make([]txn.Op, len(ops))
	for i, op := range ops {
		iop := txn.Op{Key: op.Key, Value: op.Value, CondCtx: expr.Context{Values: op.Values}}
		switch op.Kind {
		case OpPut:
			iop.Kind = txn.Put
		case OpDelete:
			iop.Kind = txn.Delete
		case OpUpdate:
			iop.Kind = txn.Update
			u, err := expr.ParseUpdate(op.Update, op.Names)
			if err != nil {
				return err
			}
			iop.Update = u
		case OpConditionCheck:
			iop.Kind = txn.ConditionCheck
		}
		if op.Condition != "" {
			cond, err := expr.ParseCondition(op.Condition, op.Names)
			if err != nil {
				return err
			}
			iop.Cond = cond
		}
		iops[i] = iop
	}
	return txn.Write(db.engine, iops)
}
