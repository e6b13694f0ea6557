// Package keystone is the public API of KeystoneDB: an embedded,
// DynamoDB-shaped key-value store with partition/sort keys,
// conditional writes, update expressions, secondary indexes, a change
// stream, and single-process transactions, built on a 256-stripe LSM
// engine. DB wraps the internal engine and the
// schema-derived maintenance (secondary indexes, TTL, change stream)
// layered on top of it.
package keystone

import (
	"os"

	"github.com/keystonedb/keystone/internal/index"
	"github.com/keystonedb/keystone/internal/lsm"
	"github.com/keystonedb/keystone/internal/stream"
)

// DB is a handle to one open KeystoneDB database.
type DB struct {
	engine     *lsm.Engine
	schema     Schema
	indexes    *index.Table
	streamView stream.ViewType
	tmpDir     string // set only by OpenInMemory, removed on Close
}

// Open opens (creating if absent) the database directory dir with no
// secondary indexes or TTL attribute configured. opts may be nil to
// take every documented default.
func Open(dir string, opts *Options) (*DB, error) {
	return open(dir, nil, opts)
}

// Create is Open's synonym, matching create()/open()
// pairing (both forms recover existing state if dir already holds a
// database, and initialize it otherwise).
func Create(dir string, opts *Options) (*DB, error) {
	return open(dir, nil, opts)
}

// CreateWithSchema opens or initializes dir with schema's secondary
// indexes, TTL attribute, and stream view wired in.
func CreateWithSchema(dir string, schema *Schema, opts *Options) (*DB, error) {
	return open(dir, schema, opts)
}

// OpenInMemory creates a database backed by a fresh temporary
// directory that is removed on Close.
func OpenInMemory(opts *Options) (*DB, error) {
	dir, err := os.MkdirTemp("", "keystone-mem-*")
	if err != nil {
		return nil, err
	}
	db, err := open(dir, nil, opts)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	db.tmpDir = dir
	return db, nil
}

func open(dir string, schema *Schema, opts *Options) (*DB, error) {
	e, err := lsm.Open(dir, opts.toLSM())
	if err != nil {
		return nil, err
	}
	db := &DB{engine: e}
	if schema != nil {
		db.schema = *schema
	}
	db.indexes = index.NewTable(db.schema.indexDescriptors())
	e.AddHook(index.NewMaintainer(e, db.indexes))
	db.streamView = db.schema.streamView()
	return db, nil
}

// Close stops background compaction and releases the database's
// files. Calling it on a database opened with OpenInMemory also
// removes its backing temporary directory.
func (db *DB) Close() error {
	err := db.engine.Close()
	if db.tmpDir != "" {
		os.RemoveAll(db.tmpDir)
	}
	return err
}

// Stats returns an immutable snapshot of engine counters and latency
// histograms, serving stats().
func (db *DB) Stats() Stats { return db.engine.Stats() }

// Health returns a snapshot suitable for health().
func (db *DB) Health() Health { return db.engine.Health() }
