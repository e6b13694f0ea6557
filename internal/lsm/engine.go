package lsm

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keystonedb/keystone/internal/base"
	"github.com/keystonedb/keystone/internal/compaction"
	"github.com/keystonedb/keystone/internal/keyerr"
	"github.com/keystonedb/keystone/internal/klog"
	"github.com/keystonedb/keystone/internal/memtable"
	"github.com/keystonedb/keystone/internal/sst"
	"github.com/keystonedb/keystone/internal/stream"
	"github.com/keystonedb/keystone/internal/wal"
	"golang.org/x/sync/errgroup"
)

const walFileName = "wal.log"

// WriteHook lets higher layers (internal/index for LSI/GSI
// projection) observe every
// successful write without the engine importing those packages
// directly, keeping the dependency direction leaf-ward.
type WriteHook interface {
	// OnWrite is invoked with the pre-image (possibly nil) and the
	// newly-written record, still holding the engine's exclusive lock.
	OnWrite(pre base.Record, preOK bool, rec base.Record)
}

// Engine is the 256-stripe LSM engine described below It
// owns the WAL handle, all 256 stripes, and background compaction.
type Engine struct {
	dir  string
	opts Options

	mu        sync.RWMutex // single engine-wide RW lock
	wal       *wal.WAL
	stripes   [base.NumStripes]*stripe
	nextSeq   uint64
	nextSST   atomic.Uint64
	nextTxnID atomic.Uint64
	closed    bool

	streamBuf *stream.Buffer
	hooks     []WriteHook
	hookDepth int // guards WriteHook-triggered writes against re-notifying hooks

	compactStats compactionStatsAtomic
	latency      *latencyTracker
	ioLimiter    *compaction.RateLimiter

	// compactGroup bounds concurrent background compactions to
	// MaxConcurrentCompactions, using golang.org/x/sync/errgroup for
	// compaction fan-out.
	compactGroup *errgroup.Group
	bgWG         sync.WaitGroup // owns only the periodic sweep goroutine
	bgStop       chan struct{}
	bgErrsMu     sync.Mutex
	bgErrs       []string
}

// AddHook registers a WriteHook invoked after every successful write.
func (e *Engine) AddHook(h WriteHook) { e.hooks = append(e.hooks, h) }

// StreamBuffer exposes the change-stream ring buffer so the public
// API's ReadStream can read from it directly.
func (e *Engine) StreamBuffer() *stream.Buffer { return e.streamBuf }

// Logger exposes the engine's configured logger so hooks (internal/
// index's LSI/GSI maintenance) can report errors through the same
// sink as the engine itself.
func (e *Engine) Logger() klog.Logger { return e.opts.Logger }

// Dir returns the engine's data directory. Every engine backs onto a
// directory; an in-memory engine's is a temp directory cleaned up on
// Close, and Dir returns that path.
func (e *Engine) Dir() string { return e.dir }

// Open creates dir if absent and recovers engine state from it, per
// recovery algorithm. Readiness: the returned Engine
// is usable immediately, matching 's "database is usable
// immediately after recovery returns."
func Open(dir string, opts Options) (*Engine, error) {
	opts.EnsureDefaults()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, keyerr.IoErrorf("lsm: mkdir %s: %v", dir, err)
	}

	cg := &errgroup.Group{}
	cg.SetLimit(opts.MaxConcurrentCompactions)

	e := &Engine{
		dir:          dir,
		opts:         opts,
		streamBuf:    stream.NewBuffer(stream.DefaultBufferSize),
		latency:      newLatencyTracker(),
		compactGroup: cg,
		ioLimiter:    compaction.NewRateLimiter(opts.CompactionBytesPerSecond),
		bgStop:       make(chan struct{}),
	}
	for i := range e.stripes {
		e.stripes[i] = newStripe(i)
	}

	opts.Logger.Infof("lsm: opening %s", dir)

	w, err := wal.Open(filepath.Join(dir, walFileName))
	if err != nil {
		return nil, err
	}
	e.wal = w

	if err := e.scanSSTDirectory(); err != nil {
		w.Close()
		return nil, err
	}
	if err := e.replayWAL(); err != nil {
		w.Close()
		return nil, err
	}

	e.nextSST.Store(e.maxSSTIDAcrossStripes() + 1)
	opts.Logger.Infof("lsm: recovery complete, next_seq=%d next_sst=%d", e.nextSeq, e.nextSST.Load())

	e.startBackgroundCompactor()
	return e, nil
}

// scanSSTDirectory implements this step 2: scan the
// directory, open each NNN-K.sst, place it in its stripe, sorted
// newest-first by sst_id.
func (e *Engine) scanSSTDirectory() error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return keyerr.IoErrorf("lsm: read dir %s: %v", e.dir, err)
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		stripeID, sstID, ok := parseSSTFileName(de.Name())
		if !ok {
			continue
		}
		path := filepath.Join(e.dir, de.Name())
		rf, err := sst.OpenFile(path)
		if err != nil {
			// A corrupt SST discovered at startup is quarantined rather
			// than failing Open entirely.
			e.opts.Logger.Warningf("lsm: skipping corrupt sst %s: %v", path, err)
			continue
		}
		e.stripes[stripeID].ssts = append(e.stripes[stripeID].ssts, &sstEntry{
			id: sstID, path: path, reader: rf,
		})
	}
	for i := range e.stripes {
		sort.Slice(e.stripes[i].ssts, func(a, b int) bool {
			return e.stripes[i].ssts[a].id > e.stripes[i].ssts[b].id
		})
	}
	return nil
}

// replayWAL implements this step 3: replay every (lsn,
// record) into its stripe's memtable, tracking the max seq observed.
// Multi-op transaction frames are buffered by txnID
// and only applied once their commit-marker frame is also read; a
// transaction whose log tail ends before its commit marker is
// discarded entirely rather than partially replayed.
func (e *Engine) replayWAL() error {
	entries, err := wal.ReadAll(filepath.Join(e.dir, walFileName))
	if err != nil {
		return err
	}
	pendingTxn := map[uint64][]wal.Entry{}
	for _, ent := range entries {
		switch ent.Kind {
		case wal.KindRecord:
			e.replayRecord(ent.Record)
		case wal.KindTxnOp:
			pendingTxn[ent.TxnID] = append(pendingTxn[ent.TxnID], ent)
		case wal.KindTxnCommit:
			ops := pendingTxn[ent.TxnID]
			delete(pendingTxn, ent.TxnID)
			if uint32(len(ops)) != ent.OpCount {
				continue // commit doesn't match its buffered ops: torn tail, drop
			}
			for _, op := range ops {
				e.replayRecord(op.Record)
			}
		}
	}
	return nil
}

func (e *Engine) replayRecord(rec base.Record) {
	stripeID := rec.Key.Stripe()
	e.stripes[stripeID].mem.Put(rec)
	if uint64(rec.Seq) >= e.nextSeq {
		e.nextSeq = uint64(rec.Seq) + 1
	}
}

func (e *Engine) maxSSTIDAcrossStripes() uint64 {
	var max uint64
	for _, s := range e.stripes {
		if id := s.maxSSTID(); id > max {
			max = id
		}
	}
	return max
}

// Close stops background compaction and closes the WAL and every SST
// reader.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.bgStop)
	e.bgWG.Wait()
	_ = e.compactGroup.Wait() // let any in-flight compaction finish before closing readers

	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	if err := e.wal.Close(); err != nil {
		firstErr = err
	}
	for _, s := range e.stripes {
		if err := s.closeAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ---- write path ----

// Mutation describes one write to apply under the engine's exclusive
// lock: either a value (put) or a tombstone (value == nil, delete).
type Mutation struct {
	Key   base.Key
	Value base.Item // nil => delete
}

// Apply performs the full write path for a single mutation: validate,
// assign seq, WAL append, memtable insert, hook notification, stream
// emission, and flush/compaction triggers. Returns the assigned
// record.
func (e *Engine) Apply(m Mutation) (base.Record, error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.latency.recordWrite(time.Since(start)) }()
	return e.ApplyLocked(m)
}

// ApplyLocked performs the same write path as Apply but assumes the
// engine's write lock is already held. It exists so a WriteHook's
// OnWrite (internal/index's LSI/GSI maintenance) can issue its own
// derived writes inline, in the same critical section as the write
// that triggered it, without deadlocking on the non-reentrant engine
// lock. Hook notification only fires at the outermost call — a hook
// writing an index record does not itself trigger another round of
// hooks.
func (e *Engine) ApplyLocked(m Mutation) (base.Record, error) {
	return e.applyLockedInternal(m, 0, false)
}

// applyLockedTxn is ApplyLocked for one op of a multi-op transaction
// (internal/txn's transact_write): identical write path, except the
// WAL frame is tagged with txnID instead of standing alone, so
// replay can hold it until the transaction's commit marker arrives.
func (e *Engine) applyLockedTxn(m Mutation, txnID uint64) (base.Record, error) {
	return e.applyLockedInternal(m, txnID, true)
}

func (e *Engine) applyLockedInternal(m Mutation, txnID uint64, isTxn bool) (base.Record, error) {
	if err := m.Key.Validate(); err != nil {
		return base.Record{}, err
	}
	if m.Value != nil {
		if err := base.ValidateItem(m.Value); err != nil {
			return base.Record{}, err
		}
	}

	if e.closed {
		return base.Record{}, keyerr.Internalf("lsm: engine is closed")
	}

	seq := e.nextSeq
	e.nextSeq++
	rec := base.Record{Key: m.Key, Value: m.Value, Seq: base.SeqNum(seq)}

	stripeID := int(m.Key.Stripe())
	s := e.stripes[stripeID]

	// Pre-image, read before the memtable mutation, feeds both
	// WriteHook (LSI/GSI maintenance) and the stream record.
	pre, preOK := e.lockedGet(s, m.Key)

	if isTxn {
		if _, err := e.wal.AppendTxnOp(txnID, rec); err != nil {
			return base.Record{}, err
		}
	} else {
		if _, err := e.wal.Append(rec); err != nil {
			return base.Record{}, err
		}
	}

	s.mem.Put(rec)

	e.hookDepth++
	if e.hookDepth == 1 {
		for _, h := range e.hooks {
			h.OnWrite(pre, preOK, rec)
		}
	}
	e.hookDepth--

	e.streamBuf.Push(stream.Event{
		Seq: rec.Seq, Key: rec.Key, Old: pre, OldOK: preOK,
		New: rec, NewOK: !rec.IsTombstone(), TimestampMillis: time.Now().UnixMilli(),
	})

	if e.shouldFlush(s) {
		if err := e.flushStripeLocked(s); err != nil {
			e.opts.Logger.Errorf("lsm: flush stripe %d failed: %v", stripeID, err)
		} else if len(s.ssts) >= e.opts.SSTThreshold {
			e.requestCompaction(stripeID)
		}
	}

	return rec, nil
}

func (e *Engine) shouldFlush(s *stripe) bool {
	return s.mem.Len() >= e.opts.MaxMemtableRecords || s.mem.Bytes() >= e.opts.MaxMemtableSizeBytes
}

// lockedGet performs the read-path lookup for one key, assuming the caller already holds the
// engine lock (read or write). TTL filtering is applied by the
// caller (internal/ttl sits above this layer so the engine itself
// stays schema-agnostic); lockedGet returns the raw record including
// tombstones so pre-image computation in Apply can distinguish
// "absent" from "deleted."
func (e *Engine) lockedGet(s *stripe, key base.Key) (base.Record, bool) {
	enc := key.Encode()
	if rec, ok := s.mem.Get(enc); ok {
		return rec, true
	}
	for _, entry := range s.ssts {
		if entry.reader.Quarantined() {
			continue
		}
		rec, ok, err := entry.reader.Get(enc)
		if err != nil {
			e.opts.Logger.Warningf("lsm: sst %s read error, quarantining: %v", entry.path, err)
			entry.reader.Quarantine()
			continue
		}
		if ok {
			return rec, true
		}
	}
	return base.Record{}, false
}

// Get implements read path for a single key, returning
// (record, true) only when a live (non-tombstone) value is found. TTL
// filtering happens above this layer in the keystone package, which
// is schema-aware; Get itself only resolves tombstones.
func (e *Engine) Get(key base.Key) (base.Record, bool, error) {
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()
	defer func() { e.latency.recordRead(time.Since(start)) }()

	if e.closed {
		return base.Record{}, false, keyerr.Internalf("lsm: engine is closed")
	}
	s := e.stripes[key.Stripe()]
	rec, ok := e.lockedGet(s, key)
	if !ok || rec.IsTombstone() {
		return base.Record{}, false, nil
	}
	return rec, true, nil
}

// StripeIndex returns the stripe index that would own pk, exposed for
// internal/query's single-stripe routing and internal/index's GSI
// key rewriting.
func (e *Engine) StripeIndex(pk []byte) int { return int(base.StripeOf(pk)) }

// WithStripeRLock runs fn with a read lock held and the identified
// stripe's memtable+SST cursor sources, used by internal/query to
// build a merged iterator over a consistent snapshot.
func (e *Engine) WithStripeRLock(stripeID int, fn func(mem *memtable.Memtable, ssts []*sst.Reader)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.stripes[stripeID]
	readers := make([]*sst.Reader, 0, len(s.ssts))
	for _, entry := range s.ssts {
		if entry.reader.Quarantined() {
			continue
		}
		readers = append(readers, entry.reader)
	}
	fn(s.mem, readers)
}

// Stats returns an immutable snapshot of engine counters and
// latency histograms, serving the public stats() API.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var st Stats
	st.Compaction = e.compactStats.snapshot()
	for i, s := range e.stripes {
		st.StripeMemtableRecords[i] = s.mem.Len()
		st.StripeSSTCounts[i] = len(s.ssts)
		st.TotalSSTCount += len(s.ssts)
	}
	wp50, wp99, rp50, rp99 := e.latency.percentiles()
	st.WriteLatencyP50Micros, st.WriteLatencyP99Micros = wp50, wp99
	st.ReadLatencyP50Micros, st.ReadLatencyP99Micros = rp50, rp99
	return st
}

// Health returns a snapshot suitable for the public health() API.
func (e *Engine) Health() Health {
	e.mu.RLock()
	defer e.mu.RUnlock()
	q := 0
	for _, s := range e.stripes {
		for _, entry := range s.ssts {
			if entry.reader.Quarantined() {
				q++
			}
		}
	}
	e.bgErrsMu.Lock()
	errsCopy := append([]string(nil), e.bgErrs...)
	e.bgErrsMu.Unlock()
	return Health{
		Open:             !e.closed,
		QuarantinedSSTs:  q,
		NextSeq:          e.nextSeq,
		BackgroundErrors: errsCopy,
	}
}

// ---- flush ----

// flushStripeLocked allocates a new SST id, writes the stripe's
// memtable to disk atomically, installs the new reader at the head
// of the stripe's list, and clears the memtable. Caller must hold the
// engine's exclusive lock.
func (e *Engine) flushStripeLocked(s *stripe) error {
	if s.mem.Len() == 0 {
		return nil
	}
	records := s.mem.Snapshot()
	sort.Slice(records, func(i, j int) bool {
		return string(records[i].Key.Encode()) < string(records[j].Key.Encode())
	})

	id := e.nextSST.Add(1) - 1
	path := sstPath(e.dir, s.id, id)
	if err := sst.WriteFile(path, e.opts.sstOptions(), records); err != nil {
		return err
	}
	rf, err := sst.OpenFile(path)
	if err != nil {
		return err
	}
	s.insertNewest(&sstEntry{id: id, path: path, reader: rf})
	s.mem = memtable.New()
	e.opts.Logger.Infof("lsm: flushed stripe %d to %s (%d records)", s.id, path, len(records))
	return nil
}

// FlushAll synchronously flushes every non-empty stripe; exposed for
// tests and for a clean shutdown path that wants durability without
// relying on WAL replay.
func (e *Engine) FlushAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.stripes {
		if err := e.flushStripeLocked(s); err != nil {
			return err
		}
	}
	return nil
}

// ---- compaction orchestration ----

// requestCompaction schedules a background compaction of stripeID,
// bounded by MaxConcurrentCompactions via compactGroup.TryGo. If every
// slot is busy, the request is dropped silently: the periodic sweep
// (sweepForCompaction) will pick the stripe back up on its next tick.
func (e *Engine) requestCompaction(stripeID int) {
	e.compactGroup.TryGo(func() error {
		if err := e.compactStripe(stripeID); err != nil {
			e.compactStats.failed.Add(1)
			e.recordBGError(err)
			e.opts.Logger.Errorf("lsm: compaction of stripe %d failed: %v", stripeID, err)
		}
		return nil
	})
}

func (e *Engine) recordBGError(err error) {
	e.bgErrsMu.Lock()
	defer e.bgErrsMu.Unlock()
	e.bgErrs = append(e.bgErrs, err.Error())
	if len(e.bgErrs) > 100 {
		e.bgErrs = e.bgErrs[len(e.bgErrs)-100:]
	}
}

// compactStripe implements this steps 1-6: snapshot under
// exclusive lock, k-way merge outside the lock via internal/compaction,
// then re-acquire the lock to swap in the result and delete old files.
func (e *Engine) compactStripe(stripeID int) error {
	e.mu.Lock()
	s := e.stripes[stripeID]
	snapshot := append([]*sstEntry(nil), s.ssts...)
	includesOldest := len(s.ssts) > 0 && snapshot[len(snapshot)-1].id == s.ssts[len(s.ssts)-1].id
	e.mu.Unlock()

	if len(snapshot) < 2 {
		return nil
	}

	readers := make([]*sst.Reader, len(snapshot))
	for i, entry := range snapshot {
		readers[i] = entry.reader
	}

	id := e.nextSST.Add(1) - 1
	outPath := sstPath(e.dir, stripeID, id)
	result, err := compaction.Merge(context.Background(), readers, includesOldest, e.opts.sstOptions(), outPath, e.ioLimiter)
	if err != nil {
		return err
	}
	e.compactStats.bytesRead.Add(result.BytesRead)
	e.compactStats.bytesWritten.Add(result.BytesWritten)
	e.compactStats.recordsDropped.Add(uint64(result.TombstonesDropped))

	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make(map[uint64]bool, len(snapshot))
	for _, entry := range snapshot {
		ids[entry.id] = true
	}
	removed := s.removeByID(ids)

	if result.RecordsWritten > 0 {
		rf, err := sst.OpenFile(outPath)
		if err != nil {
			removeFiles([]*sstEntry{{path: outPath}})
			return err
		}
		s.ssts = append(s.ssts, &sstEntry{id: id, path: outPath, reader: rf})
		sort.Slice(s.ssts, func(a, b int) bool { return s.ssts[a].id > s.ssts[b].id })
	} else {
		// Every input record was a dropped tombstone; no output file.
		_ = os.Remove(outPath)
	}

	removeFiles(removed)
	for _, entry := range removed {
		_ = entry.reader.Close()
	}
	e.compactStats.completed.Add(1)
	return nil
}

func (e *Engine) startBackgroundCompactor() {
	e.bgWG.Add(1)
	go func() {
		defer e.bgWG.Done()
		ticker := time.NewTicker(e.opts.CompactionCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-e.bgStop:
				return
			case <-ticker.C:
				e.sweepForCompaction()
			}
		}
	}()
}

func (e *Engine) sweepForCompaction() {
	e.mu.RLock()
	var candidates []int
	for i, s := range e.stripes {
		if len(s.ssts) >= e.opts.SSTThreshold {
			candidates = append(candidates, i)
		}
	}
	e.mu.RUnlock()
	for _, id := range candidates {
		e.requestCompaction(id)
	}
}
