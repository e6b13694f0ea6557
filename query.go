package keystone

import (
	"github.com/keystonedb/keystone/internal/expr"
	iquery "github.com/keystonedb/keystone/internal/query"
)

// SKOp enumerates the sort-key comparison forms a Query's SKCondition
// supports.
type SKOp int

const (
	SKOpNone SKOp = iota
	SKOpEq
	SKOpLt
	SKOpLe
	SKOpGt
	SKOpGe
	SKOpBeginsWith
	SKOpBetween
)

// SKCondition restricts the sort-key range within a Query's fixed
// partition key. The zero value (SKOpNone) matches every sort key.
type SKCondition struct {
	Op       SKOp
	SK1, SK2 []byte // SK2 used only by SKOpBetween
}

// Query is one query(Query) call's parameters.
type Query struct {
	PK                []byte
	SKCondition       SKCondition
	FilterExpression  string
	Values            map[string]Value
	Names             map[string]string
	Limit             int
	ExclusiveStartKey *Key
	ScanIndexForward  bool
}

// Scan is one scan(Scan) call's parameters. Segment/
// TotalSegments let a caller parallelize a scan the same way it would
// call Query's cousin: issue one Scan per segment itself, concurrently.
type Scan struct {
	FilterExpression  string
	Values            map[string]Value
	Names             map[string]string
	Limit             int
	ExclusiveStartKey *Key
	ScanIndexForward  bool
	Segment           int
	TotalSegments     int
}

// QueryResult/ScanResult carry a page of matched items plus the
// pagination cursor for the next page.
type QueryResult struct {
	Items            []Item
	Keys             []Key
	Count            int
	ScannedCount     int
	LastEvaluatedKey *Key
}

type ScanResult = QueryResult

// Query runs q against the database, restricted to its partition key
// and, if set, SKCondition.
func (db *DB) Query(q Query) (QueryResult, error) {
	cond, ctx, err := db.compileFilter(q.FilterExpression, q.Values, q.Names)
	if err != nil {
		return QueryResult{}, err
	}
	res, err := iquery.Query(db.engine, iquery.QueryInput{
		PK: q.PK,
		SK: toSKCondition(q.SKCondition),
		Input: iquery.Input{
			FilterExpr:   cond,
			FilterCtx:    ctx,
			Limit:        q.Limit,
			ExclusiveKey: q.ExclusiveStartKey,
			Forward:      q.ScanIndexForward,
			TTLAttr:      db.schema.TTLAttribute,
			NowUnixSecs:  nowUnixSeconds(),
		},
	})
	if err != nil {
		return QueryResult{}, err
	}
	return fromInternalResult(res), nil
}

// Scan runs s against the whole keyspace, restricted to its segment if
// TotalSegments > 1.
func (db *DB) Scan(s Scan) (ScanResult, error) {
	cond, ctx, err := db.compileFilter(s.FilterExpression, s.Values, s.Names)
	if err != nil {
		return ScanResult{}, err
	}
	res, err := iquery.Scan(db.engine, iquery.ScanInput{
		Segment:       s.Segment,
		TotalSegments: s.TotalSegments,
		Input: iquery.Input{
			FilterExpr:   cond,
			FilterCtx:    ctx,
			Limit:        s.Limit,
			ExclusiveKey: s.ExclusiveStartKey,
			Forward:      s.ScanIndexForward,
			TTLAttr:      db.schema.TTLAttribute,
			NowUnixSecs:  nowUnixSeconds(),
		},
	})
	if err != nil {
		return ScanResult{}, err
	}
	return fromInternalResult(res), nil
}

func (db *DB) compileFilter(src string, values map[string]Value, names map[string]string) (expr.Cond, expr.Context, error) {
	if src == "" {
		return nil, expr.Context{}, nil
	}
	cond, err := expr.ParseCondition(src, names)
	if err != nil {
		return nil, expr.Context{}, err
	}
	return cond, expr.Context{Values: values}, nil
}

func toSKCondition(sk SKCondition) iquery.SKCondition {
	return iquery.SKCondition{Op: iquery.SKOp(sk.Op), SK1: sk.SK1, SK2: sk.SK2}
}

func fromInternalResult(res iquery.Result) QueryResult {
	return QueryResult{
		Items:            res.Items,
		Keys:             res.Keys,
		Count:            res.Count,
		ScannedCount:     res.ScannedCount,
		LastEvaluatedKey: res.LastEvaluatedKey,
	}
}
