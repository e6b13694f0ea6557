// Package query implements Query and Scan execution
// against an *lsm.Engine: merged memtable+SST iteration within a
// stripe, sk_condition and filter_expression evaluation, TTL hiding,
// pagination, and parallel scan segments.
package query

import (
	"bytes"
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/keystonedb/keystone/internal/base"
	"github.com/keystonedb/keystone/internal/expr"
	"github.com/keystonedb/keystone/internal/lsm"
	"github.com/keystonedb/keystone/internal/ttl"
)

// SKOp enumerates the sort-key comparison forms available
// for Query's sk_condition.
type SKOp int

const (
	SKNone SKOp = iota
	SKEq
	SKLt
	SKLe
	SKGt
	SKGe
	SKBeginsWith
	SKBetween
)

// SKCondition restricts the sort-key range within a Query's fixed
// partition key.
type SKCondition struct {
	Op  SKOp
	SK1 []byte // operand for Eq/Lt/Le/Gt/Ge/BeginsWith, and BETWEEN's lower bound
	SK2 []byte // BETWEEN's upper bound only
}

// Input gathers the parameters common to Query and Scan.
type Input struct {
	FilterExpr   expr.Cond
	FilterCtx    expr.Context
	Limit        int
	ExclusiveKey *base.Key // exclusive_start_key, nil for "from the beginning"
	Forward      bool
	TTLAttr      string // schema's ttl_attribute, "" disables TTL hiding
	NowUnixSecs  int64
}

// QueryInput is a Query's parameters.
type QueryInput struct {
	Input
	PK []byte
	SK SKCondition
}

// ScanInput is a Scan's parameters.
type ScanInput struct {
	Input
	Segment       int
	TotalSegments int
}

// Result carries a Query/Scan response: the matched
// items, how many records were inspected before filtering, and a
// pagination cursor when more results may exist.
type Result struct {
	Items            []base.Item
	Keys             []base.Key
	Count            int
	ScannedCount     int
	LastEvaluatedKey *base.Key
}

// Query executes a single-partition query restricted to the stripe
// owning pk. It scans only the records sharing pk's
// encoded key prefix, regardless of sort-key length, then narrows
// with sk_condition and filter_expression.
func Query(e *lsm.Engine, in QueryInput) (Result, error) {
	stripeID := e.StripeIndex(in.PK)
	prefix := pkPrefix(in.PK)
	var records []base.Record
	e.WithStripeRLock(stripeID, func(mem memSource, ssts sstSources) {
		records = mergeWithinPrefix(mem, ssts, prefix, in.Forward)
	})
	return paginate(records, in.Input, func(r base.Record) bool {
		return matchesSK(r.Key.SK, in.SK)
	})
}

// Scan executes a full (optionally segmented) table scan: iterates stripes assigned to this segment in ascending
// stripe-id order, emitting a merged cursor per stripe.
func Scan(e *lsm.Engine, in ScanInput) (Result, error) {
	total := in.TotalSegments
	if total <= 0 {
		total = 1
	}
	var records []base.Record
	for stripeID := 0; stripeID < base.NumStripes; stripeID++ {
		if stripeID%total != in.Segment {
			continue
		}
		e.WithStripeRLock(stripeID, func(mem memSource, ssts sstSources) {
			records = append(records, mergeFull(mem, ssts, in.Forward)...)
		})
	}
	return paginate(records, in.Input, func(base.Record) bool { return true })
}

// ScanParallel runs one goroutine per segment via errgroup, each
// taking its own independent read-lock snapshot.9's
// "parallel scans are independent read snapshots and must never
// share state."
func ScanParallel(ctx context.Context, e *lsm.Engine, in ScanInput, totalSegments int) ([]Result, error) {
	results := make([]Result, totalSegments)
	g, _ := errgroup.WithContext(ctx)
	for seg := 0; seg < totalSegments; seg++ {
		seg := seg
		g.Go(func() error {
			segIn := in
			segIn.Segment = seg
			segIn.TotalSegments = totalSegments
			r, err := Scan(e, segIn)
			if err != nil {
				return err
			}
			results[seg] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// paginate applies exclusive_start_key skip, the sk/filter predicate,
// TTL hiding, tombstone suppression (already done by the merge
// stage), and the limit, building the final Result.
func paginate(records []base.Record, in Input, matches func(base.Record) bool) (Result, error) {
	var res Result
	skipping := in.ExclusiveKey != nil
	for _, r := range records {
		if skipping {
			if bytes.Equal(r.Key.Encode(), in.ExclusiveKey.Encode()) {
				skipping = false
			}
			continue
		}
		res.ScannedCount++
		if in.TTLAttr != "" && r.Value != nil && ttl.Expired(r.Value, in.TTLAttr, in.NowUnixSecs) {
			continue
		}
		if !matches(r) {
			continue
		}
		if in.FilterExpr != nil {
			ok, err := expr.Eval(in.FilterExpr, r.Value, in.FilterCtx)
			if err != nil {
				return Result{}, err
			}
			if !ok {
				continue
			}
		}
		res.Items = append(res.Items, r.Value)
		res.Keys = append(res.Keys, r.Key)
		res.Count++
		if in.Limit > 0 && res.Count >= in.Limit {
			k := r.Key
			res.LastEvaluatedKey = &k
			return res, nil
		}
	}
	return res, nil
}

// matchesSK re-checks the exact sk_condition predicate against a
// candidate record.
func matchesSK(sk []byte, cond SKCondition) bool {
	switch cond.Op {
	case SKNone:
		return true
	case SKEq:
		return bytes.Equal(sk, cond.SK1)
	case SKLt:
		return bytes.Compare(sk, cond.SK1) < 0
	case SKLe:
		return bytes.Compare(sk, cond.SK1) <= 0
	case SKGt:
		return bytes.Compare(sk, cond.SK1) > 0
	case SKGe:
		return bytes.Compare(sk, cond.SK1) >= 0
	case SKBeginsWith:
		return bytes.HasPrefix(sk, cond.SK1)
	case SKBetween:
		return bytes.Compare(sk, cond.SK1) >= 0 && bytes.Compare(sk, cond.SK2) <= 0
	}
	return true
}

// pkPrefix returns the encoded-key prefix shared by every key with
// the given partition key: the len(pk)+pk bytes preceding the sort
// key's own length field. Because base.Key.Encode length-prefixes pk,
// this prefix is never a prefix of any other partition key's
// encoding, regardless of sort-key length.
func pkPrefix(pk []byte) []byte {
	full := base.Key{PK: pk}.Encode()
	return full[:4+len(pk)]
}
