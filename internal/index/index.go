// Package index implements secondary indexes: LSI
// (alternate sort key, same partition) and GSI (alternate partition,
// optional alternate sort key, own stripe routing), maintained
// inline with every base-table write via the lsm.WriteHook interface.
package index

import (
	"encoding/binary"

	"github.com/cockroachdb/swiss"

	"github.com/keystonedb/keystone/internal/base"
	"github.com/keystonedb/keystone/internal/lsm"
)

// Kind discriminates the two secondary index flavors: local (sharing
// the base table's partition key) and global (its own partition key).
type Kind int

const (
	LSI Kind = iota
	GSI
)

// Projection controls which attributes an index record carries,
//.10.
type Projection int

const (
	ProjectionAll Projection = iota
	ProjectionKeysOnly
	ProjectionInclude
)

// reserved attribute names an index record always carries so a
// KEYS_ONLY/INCLUDE projection can still point back at the full item.
const (
	baseParitionKeyAttr = "__base_pk"
	baseSortKeyAttr     = "__base_sk"
)

// Descriptor describes one named secondary index attached to a table.
type Descriptor struct {
	Name            string
	Kind            Kind
	PKAttr          string // GSI only: attribute supplying the index's partition key
	SKAttr          string // LSI: attribute supplying the alternate sort value; GSI: optional
	Projection      Projection
	ProjectionAttrs []string // used only when Projection == ProjectionInclude
}

// Table is the O(1) name-to-descriptor routing map a query-time
// rewrite from the input pk/sk_condition into an index's own key
// space needs, backed by github.com/cockroachdb/swiss for the same
// small-hot-read-mostly-map shape pebble uses it for.
type Table struct {
	byName *swiss.Map[string, Descriptor]
}

// NewTable builds a routing table from a schema's index descriptors.
func NewTable(descs []Descriptor) *Table {
	t := &Table{byName: swiss.New[string, Descriptor](len(descs))}
	for _, d := range descs {
		t.byName.Put(d.Name, d)
	}
	return t
}

// Lookup returns the descriptor for name, if any.
func (t *Table) Lookup(name string) (Descriptor, bool) {
	return t.byName.Get(name)
}

// Descriptors returns every registered descriptor, in no particular
// order; used when maintaining all indexes for a write.
func (t *Table) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, t.byName.Len())
	t.byName.All(func(_ string, d Descriptor) bool {
		out = append(out, d)
		return true
	})
	return out
}

// Maintainer is the lsm.WriteHook that keeps every index's parallel
// records in sync with the base table.10's write-time
// rules: sparse indexing (no record if the attribute is absent),
// tombstone-on-removal, and LSI/GSI key derivation.
type Maintainer struct {
	engine *lsm.Engine
	table  *Table
}

// NewMaintainer returns a Maintainer ready to register via
// engine.AddHook.
func NewMaintainer(engine *lsm.Engine, table *Table) *Maintainer {
	return &Maintainer{engine: engine, table: table}
}

var _ lsm.WriteHook = (*Maintainer)(nil)

// OnWrite implements lsm.WriteHook. It runs inside the engine's
// write lock via lsm.Engine.ApplyLocked, so index writes are atomic
// with the base-table write they derive from.
func (m *Maintainer) OnWrite(pre base.Record, preOK bool, rec base.Record) {
	for _, d := range m.table.Descriptors() {
		m.maintainOne(d, pre, preOK, rec)
	}
}

func (m *Maintainer) maintainOne(d Descriptor, pre base.Record, preOK bool, rec base.Record) {
	oldKey, oldOK := indexKeyFor(d, pre.Key, pre.Value, preOK && !pre.IsTombstone())
	newKey, newOK := indexKeyFor(d, rec.Key, rec.Value, !rec.IsTombstone())

	if oldOK && (!newOK || !keysEqual(oldKey, newKey)) {
		if _, err := m.engine.ApplyLocked(lsm.Mutation{Key: oldKey, Value: nil}); err != nil {
			m.engine.Logger().Errorf("index %q: tombstone old record failed: %v", d.Name, err)
		}
	}
	if !newOK {
		return
	}
	// Even when oldKey == newKey (the indexed attribute didn't change),
	// the record is rewritten unconditionally since other projected
	// attributes may have.
	projected := project(d, rec.Key, rec.Value)
	if _, err := m.engine.ApplyLocked(lsm.Mutation{Key: newKey, Value: projected}); err != nil {
		m.engine.Logger().Errorf("index %q: write record failed: %v", d.Name, err)
	}
}

func keysEqual(a, b base.Key) bool {
	return string(a.Encode()) == string(b.Encode())
}

// indexKeyFor derives the index record's key for one side (old or
// new image) of a write. ok is false when the item is absent/deleted
// or lacks the attribute the index is keyed on.
func indexKeyFor(d Descriptor, baseKey base.Key, item base.Item, live bool) (base.Key, bool) {
	if !live || item == nil {
		return base.Key{}, false
	}
	switch d.Kind {
	case LSI:
		v, ok := item[d.SKAttr]
		if !ok || !orderable(v) {
			return base.Key{}, false
		}
		return base.Key{PK: baseKey.PK, SK: encodeLSISortKey(d.Name, v, baseKey.SK)}, true
	case GSI:
		pv, ok := item[d.PKAttr]
		if !ok {
			return base.Key{}, false
		}
		pk := valueBytes(pv)
		if len(pk) == 0 {
			return base.Key{}, false
		}
		key := base.Key{PK: pk}
		if d.SKAttr != "" {
			if sv, ok := item[d.SKAttr]; ok && orderable(sv) {
				key.SK = valueBytes(sv)
			} else {
				return base.Key{}, false
			}
		}
		return key, true
	}
	return base.Key{}, false
}

func orderable(v base.Value) bool {
	switch v.Kind {
	case base.KindString, base.KindNumber, base.KindBinary, base.KindTimestamp:
		return true
	}
	return false
}

// valueBytes renders a Value as the raw bytes used for GSI pk/sk key
// material. Numbers use their decimal text (consistent with
// base.Value's own lossless textual representation).
func valueBytes(v base.Value) []byte {
	switch v.Kind {
	case base.KindString, base.KindNumber:
		return []byte(v.Str)
	case base.KindBinary:
		return v.Bin
	case base.KindTimestamp:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(v.Ts))
		return buf
	}
	return nil
}

// encodeLSISortKey builds the synthesized LSI sort key 
// describes as "(pk, <index_name>|<attr_value>|<base_sk>)", using
// length-prefixed segments (rather than a literal "|" join) so an
// attribute value or base sort key containing the separator byte
// can't corrupt the encoding.
func encodeLSISortKey(indexName string, v base.Value, baseSK []byte) []byte {
	segs := [][]byte{[]byte(indexName), valueBytes(v), baseSK}
	var buf []byte
	for _, s := range segs {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

// project builds the stored index record per the descriptor's
// projection mode: ALL copies every attribute,
// KEYS_ONLY/INCLUDE always carry the base key so the full item can be
// re-fetched.
func project(d Descriptor, baseKey base.Key, item base.Item) base.Item {
	out := base.Item{
		baseParitionKeyAttr: base.Bin(append([]byte(nil), baseKey.PK...)),
	}
	if baseKey.SK != nil {
		out[baseSortKeyAttr] = base.Bin(append([]byte(nil), baseKey.SK...))
	}
	switch d.Projection {
	case ProjectionAll:
		for k, v := range item {
			out[k] = v.Clone()
		}
	case ProjectionInclude:
		for _, name := range d.ProjectionAttrs {
			if v, ok := item[name]; ok {
				out[name] = v.Clone()
			}
		}
	case ProjectionKeysOnly:
		// base key attrs above are already enough.
	}
	return out
}
