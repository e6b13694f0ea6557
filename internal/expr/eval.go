package expr

import (
	"math/big"

	"github.com/keystonedb/keystone/internal/base"
	"github.com/keystonedb/keystone/internal/keyerr"
)

// Context carries the :placeholder value bindings an expression
// references. Name (#name) substitution already happened at parse
// time, so only Values are needed here.
type Context struct {
	Values map[string]base.Value
}

// Eval evaluates a condition expression against item. An undefined
// attribute path makes any comparison false rather than erroring,
// matching DynamoDB's own semantics.
func Eval(c Cond, item base.Item, ctx Context) (bool, error) {
	if c == nil {
		return true, nil
	}
	switch n := c.(type) {
	case andCond:
		l, err := Eval(n.left, item, ctx)
		if err != nil {
			return false, err
		}
		if !l {
			return false, nil
		}
		return Eval(n.right, item, ctx)
	case orCond:
		l, err := Eval(n.left, item, ctx)
		if err != nil {
			return false, err
		}
		if l {
			return true, nil
		}
		return Eval(n.right, item, ctx)
	case notCond:
		inner, err := Eval(n.inner, item, ctx)
		if err != nil {
			return false, err
		}
		return !inner, nil
	case cmpCond:
		return evalCmp(n, item, ctx)
	case betweenCond:
		return evalBetween(n, item, ctx)
	case inCond:
		return evalIn(n, item, ctx)
	case existsCond:
		_, ok := resolvePath(item, n.path)
		if n.negate {
			return !ok, nil
		}
		return ok, nil
	case beginsWithCond:
		return evalBeginsWith(n, item, ctx)
	case containsCond:
		return evalContains(n, item, ctx)
	}
	return false, keyerr.Internalf("expr: unhandled condition node %T", c)
}

func resolveOperand(item base.Item, ctx Context, op Operand) (base.Value, bool, error) {
	if op.isPlaceholder() {
		v, ok := ctx.Values[op.Placeholder]
		if !ok {
			return base.Value{}, false, keyerr.InvalidExpressionf("expr: no value supplied for placeholder %q", op.Placeholder)
		}
		return v, true, nil
	}
	v, ok := resolvePath(item, op.Path)
	return v, ok, nil
}

// resolvePath walks dotted map descent; a List index segment is not
// supported in condition paths.
func resolvePath(item base.Item, path Path) (base.Value, bool) {
	if len(path) == 0 {
		return base.Value{}, false
	}
	v, ok := item[path[0]]
	if !ok {
		return base.Value{}, false
	}
	for _, seg := range path[1:] {
		if v.Kind != base.KindMap {
			return base.Value{}, false
		}
		v, ok = v.Map[seg]
		if !ok {
			return base.Value{}, false
		}
	}
	return v, true
}

func evalCmp(n cmpCond, item base.Item, ctx Context) (bool, error) {
	lv, lok, err := resolveOperand(item, ctx, n.left)
	if err != nil {
		return false, err
	}
	rv, rok, err := resolveOperand(item, ctx, n.right)
	if err != nil {
		return false, err
	}
	if !lok || !rok {
		return false, nil
	}
	if n.op == tokEq {
		return lv.Equal(rv), nil
	}
	if n.op == tokNe {
		return !lv.Equal(rv), nil
	}
	cmp, err := base.Compare(lv, rv)
	if err != nil {
		return false, nil
	}
	switch n.op {
	case tokLt:
		return cmp < 0, nil
	case tokLe:
		return cmp <= 0, nil
	case tokGt:
		return cmp > 0, nil
	case tokGe:
		return cmp >= 0, nil
	}
	return false, keyerr.Internalf("expr: unhandled comparison operator %v", n.op)
}

func evalBetween(n betweenCond, item base.Item, ctx Context) (bool, error) {
	tv, tok, err := resolveOperand(item, ctx, n.target)
	if err != nil {
		return false, err
	}
	lo, lok, err := resolveOperand(item, ctx, n.lo)
	if err != nil {
		return false, err
	}
	hi, hok, err := resolveOperand(item, ctx, n.hi)
	if err != nil {
		return false, err
	}
	if !tok || !lok || !hok {
		return false, nil
	}
	cl, err := base.Compare(tv, lo)
	if err != nil {
		return false, nil
	}
	ch, err := base.Compare(tv, hi)
	if err != nil {
		return false, nil
	}
	return cl >= 0 && ch <= 0, nil
}

func evalIn(n inCond, item base.Item, ctx Context) (bool, error) {
	tv, tok, err := resolveOperand(item, ctx, n.target)
	if err != nil {
		return false, err
	}
	if !tok {
		return false, nil
	}
	for _, cand := range n.set {
		cv, cok, err := resolveOperand(item, ctx, cand)
		if err != nil {
			return false, err
		}
		if cok && tv.Equal(cv) {
			return true, nil
		}
	}
	return false, nil
}

func evalBeginsWith(n beginsWithCond, item base.Item, ctx Context) (bool, error) {
	tv, tok, err := resolveOperand(item, ctx, n.target)
	if err != nil {
		return false, err
	}
	pv, pok, err := resolveOperand(item, ctx, n.prefix)
	if err != nil {
		return false, err
	}
	if !tok || !pok || tv.Kind != base.KindString || pv.Kind != base.KindString {
		return false, nil
	}
	return len(tv.Str) >= len(pv.Str) && tv.Str[:len(pv.Str)] == pv.Str, nil
}

func evalContains(n containsCond, item base.Item, ctx Context) (bool, error) {
	tv, tok, err := resolveOperand(item, ctx, n.target)
	if err != nil {
		return false, err
	}
	nv, nok, err := resolveOperand(item, ctx, n.needle)
	if err != nil {
		return false, err
	}
	if !tok || !nok {
		return false, nil
	}
	switch tv.Kind {
	case base.KindString:
		if nv.Kind != base.KindString {
			return false, nil
		}
		return indexOf(tv.Str, nv.Str) >= 0, nil
	case base.KindList:
		for _, e := range tv.List {
			if e.Equal(nv) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, nil
	}
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

// Apply applies a parsed update expression to a cloned working copy
// of item, returning the new Item only if every action succeeds.
func Apply(u *UpdateExpr, item base.Item, ctx Context) (base.Item, error) {
	work := item.Clone()
	if work == nil {
		work = base.Item{}
	}
	for _, s := range u.Sets {
		v, err := evalSetValue(s.rhs, item, ctx)
		if err != nil {
			return nil, err
		}
		if err := setPath(work, s.path, v); err != nil {
			return nil, err
		}
	}
	for _, r := range u.Removes {
		removePath(work, r)
	}
	for _, a := range u.Adds {
		if err := applyAdd(work, a, ctx); err != nil {
			return nil, err
		}
	}
	for _, d := range u.Deletes {
		if err := applyDelete(work, d, ctx); err != nil {
			return nil, err
		}
	}
	return work, nil
}

func evalSetValue(sv setValue, item base.Item, ctx Context) (base.Value, error) {
	av, aok, err := resolveOperand(item, ctx, sv.a)
	if err != nil {
		return base.Value{}, err
	}
	if sv.kind == setValueOperand {
		if !aok {
			return base.Value{}, keyerr.InvalidExpressionf("expr: SET references undefined value")
		}
		return av, nil
	}
	bv, bok, err := resolveOperand(item, ctx, sv.b)
	if err != nil {
		return base.Value{}, err
	}
	if !aok || !bok {
		return base.Value{}, keyerr.InvalidExpressionf("expr: arithmetic SET references undefined attribute")
	}
	if av.Kind != base.KindNumber || bv.Kind != base.KindNumber {
		return base.Value{}, keyerr.InvalidExpressionf("expr: arithmetic SET requires Number operands")
	}
	da, err := base.ParseDecimal(av.Str)
	if err != nil {
		return base.Value{}, err
	}
	db, err := base.ParseDecimal(bv.Str)
	if err != nil {
		return base.Value{}, err
	}
	var result big.Float
	if sv.op == tokPlus {
		result.Add(da, db)
	} else {
		result.Sub(da, db)
	}
	return base.N(result.Text('f', -1)), nil
}

// setPath writes v at path within work, creating intermediate maps as
// needed. Only the terminal map container needs to pre-exist or be
// created; this does not support indexing into Lists.
func setPath(work base.Item, path Path, v base.Value) error {
	if len(path) == 0 {
		return keyerr.InvalidExpressionf("expr: empty SET target path")
	}
	if len(path) == 1 {
		work[path[0]] = v
		return nil
	}
	cur, ok := work[path[0]]
	if !ok || cur.Kind != base.KindMap {
		cur = base.Map(map[string]base.Value{})
	}
	if err := setNested(cur.Map, path[1:], v); err != nil {
		return err
	}
	work[path[0]] = cur
	return nil
}

func setNested(m map[string]base.Value, path Path, v base.Value) error {
	if len(path) == 1 {
		m[path[0]] = v
		return nil
	}
	cur, ok := m[path[0]]
	if !ok || cur.Kind != base.KindMap {
		cur = base.Map(map[string]base.Value{})
	}
	if err := setNested(cur.Map, path[1:], v); err != nil {
		return err
	}
	m[path[0]] = cur
	return nil
}

func removePath(work base.Item, path Path) {
	if len(path) == 0 {
		return
	}
	if len(path) == 1 {
		delete(work, path[0])
		return
	}
	cur, ok := work[path[0]]
	if !ok || cur.Kind != base.KindMap {
		return
	}
	removeNested(cur.Map, path[1:])
}

func removeNested(m map[string]base.Value, path Path) {
	if len(path) == 1 {
		delete(m, path[0])
		return
	}
	cur, ok := m[path[0]]
	if !ok || cur.Kind != base.KindMap {
		return
	}
	removeNested(cur.Map, path[1:])
}

// applyAdd implements ADD: Number attributes add arithmetically,
// missing Number attributes are created at the placeholder's value.
func applyAdd(work base.Item, a addAction, ctx Context) error {
	pv, ok := ctx.Values[a.placeholder]
	if !ok {
		return keyerr.InvalidExpressionf("expr: no value supplied for placeholder %q", a.placeholder)
	}
	existing, exists := resolvePath(work, a.path)
	if !exists {
		return setPath(work, a.path, pv)
	}
	if existing.Kind != base.KindNumber || pv.Kind != base.KindNumber {
		return keyerr.InvalidExpressionf("expr: ADD requires Number attributes")
	}
	de, err := base.ParseDecimal(existing.Str)
	if err != nil {
		return err
	}
	dp, err := base.ParseDecimal(pv.Str)
	if err != nil {
		return err
	}
	var sum big.Float
	sum.Add(de, dp)
	return setPath(work, a.path, base.N(sum.Text('f', -1)))
}

// applyDelete is the set-subtraction form of DELETE: every element of
// a List attribute equal to the placeholder's value is removed. A
// missing attribute or an attribute of any other kind is a no-op
// rather than an error ("nothing to remove from").
func applyDelete(work base.Item, d deleteAction, ctx Context) error {
	pv, ok := ctx.Values[d.placeholder]
	if !ok {
		return keyerr.InvalidExpressionf("expr: no value supplied for placeholder %q", d.placeholder)
	}
	existing, exists := resolvePath(work, d.path)
	if !exists || existing.Kind != base.KindList {
		return nil
	}
	kept := make([]base.Value, 0, len(existing.List))
	for _, e := range existing.List {
		if !e.Equal(pv) {
			kept = append(kept, e)
		}
	}
	return setPath(work, d.path, base.List(kept...))
}
