// Package base holds the data types shared by every layer of the
// engine: Value, Item, Key encoding, and Record, playing the role
// pebble's internal/base package plays for InternalKey/InternalKeyKind
// — the vocabulary every other internal package imports.
package base

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/keystonedb/keystone/internal/keyerr"
)

// Kind discriminates the tagged union of attribute value variants.
type Kind uint8

const (
	KindString Kind = iota
	KindNumber
	KindBinary
	KindBool
	KindNull
	KindList
	KindMap
	KindVectorF32
	KindTimestamp
)

// MaxItemSize is the soft cap on a single item's serialized size.
const MaxItemSize = 400 * 1024

// MaxNestingDepth bounds List/Map recursion so a pathological item
// can't blow the stack during encode/validate.
const MaxNestingDepth = 32

// Value is KeystoneDB's tagged union attribute value. Only one of the
// fields below is meaningful for a given Kind; Number is kept as its
// decimal text form for lossless round-trip.
type Value struct {
	Kind   Kind
	Str    string  // KindString, KindNumber (decimal text)
	Bin    []byte  // KindBinary
	B      bool    // KindBool
	List   []Value // KindList
	Map    map[string]Value
	Vector []float32 // KindVectorF32
	Ts     int64     // KindTimestamp, ms since epoch
}

func S(s string) Value   { return Value{Kind: KindString, Str: s} }
func N(n string) Value   { return Value{Kind: KindNumber, Str: n} }
func Bin(b []byte) Value { return Value{Kind: KindBinary, Bin: b} }
func Bool(b bool) Value  { return Value{Kind: KindBool, B: b} }
func Null() Value        { return Value{Kind: KindNull} }
func List(v ...Value) Value {
	return Value{Kind: KindList, List: v}
}
func Map(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }
func Vector(v []float32) Value     { return Value{Kind: KindVectorF32, Vector: v} }
func Timestamp(ms int64) Value     { return Value{Kind: KindTimestamp, Ts: ms} }

// Item is the case-sensitive, order-insensitive attribute mapping
// that makes up one record's value.
type Item map[string]Value

// Clone deep-copies an Item; update-expression application works
// against a cloned working copy so a failed expression never mutates
// the live record.
func (it Item) Clone() Item {
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = v.Clone()
	}
	return out
}

// Clone deep-copies a Value, recursing into List/Map.
func (v Value) Clone() Value {
	switch v.Kind {
	case KindList:
		l := make([]Value, len(v.List))
		for i, e := range v.List {
			l[i] = e.Clone()
		}
		return Value{Kind: KindList, List: l}
	case KindMap:
		m := make(map[string]Value, len(v.Map))
		for k, e := range v.Map {
			m[k] = e.Clone()
		}
		return Value{Kind: KindMap, Map: m}
	case KindBinary:
		b := make([]byte, len(v.Bin))
		copy(b, v.Bin)
		return Value{Kind: KindBinary, Bin: b}
	case KindVectorF32:
		f := make([]float32, len(v.Vector))
		copy(f, v.Vector)
		return Value{Kind: KindVectorF32, Vector: f}
	default:
		return v
	}
}

// Equal reports structural equality; Numbers compare by decimal
// value, not by string form.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindNumber:
		dv, err1 := ParseDecimal(v.Str)
		do, err2 := ParseDecimal(o.Str)
		if err1 != nil || err2 != nil {
			return v.Str == o.Str
		}
		return dv.Cmp(do) == 0
	case KindBinary:
		return string(v.Bin) == string(o.Bin)
	case KindBool:
		return v.B == o.B
	case KindNull:
		return true
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for k, e := range v.Map {
			oe, ok := o.Map[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	case KindVectorF32:
		if len(v.Vector) != len(o.Vector) {
			return false
		}
		for i := range v.Vector {
			if v.Vector[i] != o.Vector[i] {
				return false
			}
		}
		return true
	case KindTimestamp:
		return v.Ts == o.Ts
	default:
		return false
	}
}

// ParseDecimal parses a Number's textual form into a big.Float for
// ordering/arithmetic. Returns an error mirroring // invariant that Number strings must parse as decimal.
func ParseDecimal(s string) (*big.Float, error) {
	f, _, err := big.ParseFloat(s, 10, 200, big.ToNearestEven)
	if err != nil {
		return nil, keyerr.InvalidArgumentf("not a valid decimal number: %q", s)
	}
	return f, nil
}

// Compare orders two Values of the same Kind; used by condition
// expression comparisons and LSI sort-key derivation. Returns an
// error for uncomparable kinds (List/Map/Vector have no total order).
func Compare(a, b Value) (int, error) {
	if a.Kind != b.Kind {
		return 0, keyerr.InvalidArgumentf("cannot compare %v with %v", a.Kind, b.Kind)
	}
	switch a.Kind {
	case KindString:
		return strings.Compare(a.Str, b.Str), nil
	case KindNumber:
		da, err := ParseDecimal(a.Str)
		if err != nil {
			return 0, err
		}
		db, err := ParseDecimal(b.Str)
		if err != nil {
			return 0, err
		}
		return da.Cmp(db), nil
	case KindBinary:
		return strings.Compare(string(a.Bin), string(b.Bin)), nil
	case KindTimestamp:
		switch {
		case a.Ts < b.Ts:
			return -1, nil
		case a.Ts > b.Ts:
			return 1, nil
		default:
			return 0, nil
		}
	case KindBool:
		if a.B == b.B {
			return 0, nil
		}
		if !a.B {
			return -1, nil
		}
		return 1, nil
	default:
		return 0, keyerr.InvalidArgumentf("kind %v is not orderable", a.Kind)
	}
}

// Validate checks the invariants of : Number strings parse
// as decimal, nesting is finite, and (at the Item level, via
// ValidateItem) the serialized size is within MaxItemSize.
func (v Value) Validate(depth int) error {
	if depth > MaxNestingDepth {
		return keyerr.InvalidArgumentf("value nesting exceeds max depth %d", MaxNestingDepth)
	}
	switch v.Kind {
	case KindNumber:
		if _, err := ParseDecimal(v.Str); err != nil {
			return err
		}
	case KindList:
		for _, e := range v.List {
			if err := e.Validate(depth + 1); err != nil {
				return err
			}
		}
	case KindMap:
		for _, e := range v.Map {
			if err := e.Validate(depth + 1); err != nil {
				return err
			}
		}
	}
	return nil
}

// EstimateSize implements estimate_record_size
// per-variant accounting: strings/binaries by length, numbers by
// textual length, vectors by 4*len, timestamps=8, nulls=0, booleans=1.
func (v Value) EstimateSize() int {
	switch v.Kind {
	case KindString, KindNumber:
		return len(v.Str)
	case KindBinary:
		return len(v.Bin)
	case KindBool:
		return 1
	case KindNull:
		return 0
	case KindTimestamp:
		return 8
	case KindVectorF32:
		return 4 * len(v.Vector)
	case KindList:
		n := 0
		for _, e := range v.List {
			n += e.EstimateSize()
		}
		return n
	case KindMap:
		n := 0
		for k, e := range v.Map {
			n += len(k) + e.EstimateSize()
		}
		return n
	default:
		return 0
	}
}

// ValidateItem validates every attribute and enforces MaxItemSize.
func ValidateItem(it Item) error {
	if len(it) == 0 {
		return keyerr.InvalidArgumentf("item has no attributes")
	}
	total := 0
	for name, v := range it {
		if name == "" {
			return keyerr.InvalidArgumentf("attribute name must be non-empty")
		}
		if err := v.Validate(0); err != nil {
			return errors.Wrapf(err, "attribute %q", name)
		}
		total += len(name) + v.EstimateSize()
	}
	if total > MaxItemSize {
		return keyerr.InvalidArgumentf("item size %d exceeds max %d", total, MaxItemSize)
	}
	return nil
}

// SortedAttrNames returns attribute names in sorted order, used
// wherever deterministic iteration matters (projection, logging).
func (it Item) SortedAttrNames() []string {
	names := make([]string, 0, len(it))
	for k := range it {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (k Kind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindNumber:
		return "Number"
	case KindBinary:
		return "Binary"
	case KindBool:
		return "Bool"
	case KindNull:
		return "Null"
	case KindList:
		return "List"
	case KindMap:
		return "Map"
	case KindVectorF32:
		return "VectorF32"
	case KindTimestamp:
		return "Timestamp"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}
