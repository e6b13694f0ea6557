package keystone

import "github.com/keystonedb/keystone/internal/base"

// Value is KeystoneDB's tagged union attribute value,
// re-exported from internal/base so callers never import an internal
// package directly.
type Value = base.Value

// Item is the case-sensitive, order-insensitive attribute mapping a
// record carries.
type Item = base.Item

// Key is a partition key with an optional sort key.
type Key = base.Key

// Constructors for every Value kind, re-exported from internal/base.
var (
	S         = base.S
	N         = base.N
	Bin       = base.Bin
	Bool      = base.Bool
	Null      = base.Null
	List      = base.List
	Map       = base.Map
	Vector    = base.Vector
	Timestamp = base.Timestamp
)
