package keystone

import (
	"strings"

	"github.com/keystonedb/keystone/internal/base"
	"github.com/keystonedb/keystone/internal/keyerr"
)

// ExecuteStatement is a PartiQL-like entry point.
// Only the trivial subset needed to drive the Query path from a
// statement string is supported:
//
//	SELECT * FROM "table" WHERE pk = ? [AND sk = ?]
//
// The table name is ignored (a database is itself a single table);
// full PartiQL parsing is explicitly out of scope.
func (db *DB) ExecuteStatement(stmt string, params ...Value) (QueryResult, error) {
	hasSK, err := parseSelectStatement(stmt)
	if err != nil {
		return QueryResult{}, err
	}
	want := 1
	if hasSK {
		want = 2
	}
	if len(params) < want {
		return QueryResult{}, keyerr.InvalidArgumentf("execute_statement: %q needs %d parameter(s), got %d", stmt, want, len(params))
	}

	q := Query{PK: valueBytes(params[0]), ScanIndexForward: true}
	if hasSK {
		q.SKCondition = SKCondition{Op: SKOpEq, SK1: valueBytes(params[1])}
	}
	return db.Query(q)
}

// parseSelectStatement reports whether stmt's WHERE clause also
// restricts sk, or returns an error if stmt isn't the one supported
// shape.
func parseSelectStatement(stmt string) (hasSK bool, err error) {
	s := strings.TrimSpace(stmt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "SELECT * FROM ") {
		return false, keyerr.InvalidExpressionf("execute_statement: expected %q, got %q", `SELECT * FROM "table" WHERE pk = ? [AND sk = ?]`, stmt)
	}
	whereIdx := strings.Index(upper, " WHERE ")
	if whereIdx < 0 {
		return false, keyerr.InvalidExpressionf("execute_statement: missing WHERE clause in %q", stmt)
	}
	where := strings.TrimSpace(s[whereIdx+len(" WHERE "):])
	whereUpper := strings.ToUpper(where)
	if !strings.HasPrefix(whereUpper, "PK = ?") {
		return false, keyerr.InvalidExpressionf("execute_statement: WHERE clause must start with pk = ?, got %q", where)
	}
	rest := strings.TrimSpace(where[len("PK = ?"):])
	if rest == "" {
		return false, nil
	}
	if strings.ToUpper(rest) != "AND SK = ?" {
		return false, keyerr.InvalidExpressionf("execute_statement: unsupported WHERE clause tail %q", rest)
	}
	return true, nil
}

func valueBytes(v Value) []byte {
	switch v.Kind {
	case base.KindString, base.KindNumber:
		return []byte(v.Str)
	case base.KindBinary:
		return v.Bin
	default:
		return nil
	}
}
