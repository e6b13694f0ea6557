// Command keystonebench drives a concurrent put/get workload against a
// KeystoneDB database and reports throughput and latency percentiles,
// the same shape of harness a caller would reach for to size
// MaxMemtableRecords/SSTThreshold/compaction settings before
// committing to them in production.
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keystonedb/keystone"
)

type workloadType string

const (
	workloadPut   workloadType = "put"
	workloadGet   workloadType = "get"
	workloadMixed workloadType = "mixed"
)

func main() {
	var (
		dir        = flag.String("dir", "", "database directory (empty = temp dir, removed on exit)")
		workload   = flag.String("workload", "mixed", "put|get|mixed")
		opCount    = flag.Int("ops", 200_000, "total operations across all goroutines")
		workers    = flag.Int("goroutines", 32, "concurrent workers")
		keysN      = flag.Int("keys", 10_000, "number of distinct keys")
		readPct    = flag.Int("read_pct", 90, "percentage of reads in mixed workload [0..100]")
		seed       = flag.Int64("seed", 1, "PRNG seed")
		valueBytes = flag.Int("value_bytes", 128, "size of the string attribute written per item")

		maxMemtableRecords = flag.Int("max_memtable_records", 0, "override Options.MaxMemtableRecords (0 = default)")
		sstThreshold       = flag.Int("sst_threshold", 0, "override Options.SSTThreshold (0 = default)")
	)
	flag.Parse()

	w := workloadType(strings.ToLower(*workload))
	if w != workloadPut && w != workloadGet && w != workloadMixed {
		fmt.Println("-workload must be one of: put|get|mixed")
		os.Exit(2)
	}

	var opts *keystone.Options
	if *maxMemtableRecords > 0 || *sstThreshold > 0 {
		opts = &keystone.Options{MaxMemtableRecords: *maxMemtableRecords, SSTThreshold: *sstThreshold}
	}

	db, cleanup, err := openBenchDB(*dir, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	keys := make([][]byte, *keysN)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("bench-key-%08d", i))
	}
	value := keystone.Item{"payload": keystone.S(strings.Repeat("x", *valueBytes))}

	if w != workloadPut {
		// Seed every key once so a get/mixed run has something to read.
		for _, k := range keys {
			if err := db.Put(k, value); err != nil {
				fmt.Fprintf(os.Stderr, "seed put: %v\n", err)
				os.Exit(1)
			}
		}
	}

	opsPerWorker := *opCount / *workers
	latencies := make([][]time.Duration, *workers)
	var opsDone atomic.Int64

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(*workers)
	for g := 0; g < *workers; g++ {
		go func(id int) {
			defer wg.Done()
			rnd := rand.New(rand.NewPCG(uint64(*seed), uint64(id)+1))
			loc := make([]time.Duration, 0, opsPerWorker)
			for i := 0; i < opsPerWorker; i++ {
				key := keys[rnd.IntN(len(keys))]
				doRead := w == workloadGet || (w == workloadMixed && rnd.IntN(100) < *readPct)
				t0 := time.Now()
				if doRead {
					_, _, _ = db.Get(key)
				} else {
					_ = db.Put(key, value)
				}
				loc = append(loc, time.Since(t0))
				opsDone.Add(1)
			}
			latencies[id] = loc
		}(g)
	}
	wg.Wait()
	runDur := time.Since(start)

	all := make([]time.Duration, 0, *opCount)
	for _, l := range latencies {
		all = append(all, l...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	var ms runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&ms)

	stats := db.Stats()
	fmt.Printf("Workload: %s  Ops: %d  Goroutines: %d  Keys: %d\n", w, opsDone.Load(), *workers, *keysN)
	fmt.Printf("Duration: %s  Ops/sec: %.0f\n", runDur.Round(time.Millisecond), float64(opsDone.Load())/runDur.Seconds())
	fmt.Printf("Latency p50: %s  p95: %s  p99: %s\n", percentile(all, 50), percentile(all, 95), percentile(all, 99))
	fmt.Printf("Engine stats: puts=%d gets=%d ssts=%d compactions_completed=%d\n",
		stats.Puts, stats.Gets, stats.TotalSSTCount, stats.Compaction.Completed)
	fmt.Printf("Memory: Alloc=%s Sys=%s NumGC=%d\n", humanBytes(ms.Alloc), humanBytes(ms.Sys), ms.NumGC)
}

func openBenchDB(dir string, opts *keystone.Options) (*keystone.DB, func(), error) {
	if dir == "" {
		db, err := keystone.OpenInMemory(opts)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	}
	db, err := keystone.Open(dir, opts)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { db.Close() }, nil
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}

func humanBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	d := float64(b)
	units := []string{"KiB", "MiB", "GiB", "TiB"}
	i := 0
	for d >= unit && i < len(units)-1 {
		d /= unit
		i++
	}
	return fmt.Sprintf("%.1f %s", d, units[i])
}
