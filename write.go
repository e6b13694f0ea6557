package keystone

import (
	"github.com/keystonedb/keystone/internal/base"
	"github.com/keystonedb/keystone/internal/expr"
	"github.com/keystonedb/keystone/internal/keyerr"
	"github.com/keystonedb/keystone/internal/lsm"
	"github.com/keystonedb/keystone/internal/ttl"
)

// Put writes item under pk with no sort key.
func (db *DB) Put(pk []byte, item Item) error {
	_, err := db.engine.Apply(lsm.Mutation{Key: base.Key{PK: pk}, Value: item})
	return err
}

// PutWithSK writes item under the composite key (pk, sk).
func (db *DB) PutWithSK(pk, sk []byte, item Item) error {
	_, err := db.engine.Apply(lsm.Mutation{Key: base.Key{PK: pk, SK: sk}, Value: item})
	return err
}

// PutConditional writes item under pk only if cond evaluates true
// against the record currently stored there, atomically with the
// write. An empty cond always succeeds.
func (db *DB) PutConditional(pk []byte, item Item, cond string, values map[string]Value, names map[string]string) error {
	return db.conditionalApply(base.Key{PK: pk}, item, cond, values, names)
}

// Get reads the item stored under pk with no sort key.
func (db *DB) Get(pk []byte) (Item, bool, error) {
	return db.getLive(base.Key{PK: pk})
}

// GetWithSK reads the item stored under the composite key (pk, sk).
func (db *DB) GetWithSK(pk, sk []byte) (Item, bool, error) {
	return db.getLive(base.Key{PK: pk, SK: sk})
}

func (db *DB) getLive(key base.Key) (Item, bool, error) {
	rec, ok, err := db.engine.Get(key)
	if err != nil || !ok {
		return nil, false, err
	}
	if db.schema.TTLAttribute != "" && ttl.Expired(rec.Value, db.schema.TTLAttribute, nowUnixSeconds()) {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

// Delete tombstones the item stored under pk with no sort key.
func (db *DB) Delete(pk []byte) error {
	_, err := db.engine.Apply(lsm.Mutation{Key: base.Key{PK: pk}, Value: nil})
	return err
}

// DeleteWithSK tombstones the item stored under the composite key
// (pk, sk).
func (db *DB) DeleteWithSK(pk, sk []byte) error {
	_, err := db.engine.Apply(lsm.Mutation{Key: base.Key{PK: pk, SK: sk}, Value: nil})
	return err
}

// DeleteConditional tombstones the item stored under pk only if cond
// evaluates true against the record currently there.
func (db *DB) DeleteConditional(pk []byte, cond string, values map[string]Value, names map[string]string) error {
	return db.conditionalApply(base.Key{PK: pk}, nil, cond, values, names)
}

func (db *DB) conditionalApply(key base.Key, newValue Item, condSrc string, values map[string]Value, names map[string]string) error {
	cond, err := parseCond(condSrc, names)
	if err != nil {
		return err
	}
	ctx := expr.Context{Values: values}
	return db.engine.WithWriteLock(func(h *lsm.TxHandle) error {
		item, _ := currentItem(h, key)
		if cond != nil {
			matched, err := expr.Eval(cond, item, ctx)
			if err != nil {
				return err
			}
			if !matched {
				return keyerr.ConditionalCheckFailedf("condition not satisfied for %s", describeKey(key))
			}
		}
		_, err := h.ApplyPlain(lsm.Mutation{Key: key, Value: newValue})
		return err
	})
}

// Update applies an UpdateExpression (SET/REMOVE/ADD/DELETE clauses)
// to the item at (pk, sk), optionally gated by a ConditionExpression,
// and returns the item's new value. The update is
// evaluated and written under one lock acquisition so no writer can
// interleave between the condition check and the write.
func (db *DB) Update(pk []byte, sk []byte, update string, values map[string]Value, names map[string]string, cond string) (Item, error) {
	key := base.Key{PK: pk, SK: sk}
	updateExpr, err := expr.ParseUpdate(update, names)
	if err != nil {
		return nil, err
	}
	condExpr, err := parseCond(cond, names)
	if err != nil {
		return nil, err
	}
	ctx := expr.Context{Values: values}

	var result Item
	err = db.engine.WithWriteLock(func(h *lsm.TxHandle) error {
		item, _ := currentItem(h, key)
		if condExpr != nil {
			matched, err := expr.Eval(condExpr, item, ctx)
			if err != nil {
				return err
			}
			if !matched {
				return keyerr.ConditionalCheckFailedf("condition not satisfied for %s", describeKey(key))
			}
		}
		next, err := expr.Apply(updateExpr, item, ctx)
		if err != nil {
			return err
		}
		if _, err := h.ApplyPlain(lsm.Mutation{Key: key, Value: next}); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func parseCond(src string, names map[string]string) (expr.Cond, error) {
	if src == "" {
		return nil, nil
	}
	return expr.ParseCondition(src, names)
}

// currentItem reads key under the lock h already holds, returning nil
// (rather than erroring) for an absent or tombstoned record so
// condition evaluation sees the same "undefined" view Get would.
func currentItem(h *lsm.TxHandle, key base.Key) (Item, bool) {
	rec, ok := h.Get(key)
	if !ok || rec.IsTombstone() {
		return nil, false
	}
	return rec.Value, true
}

func describeKey(key base.Key) string {
	if key.HasSK() {
		return "pk/sk"
	}
	return "pk"
}
