package expr

import (
	"github.com/keystonedb/keystone/internal/keyerr"
)

type parser struct {
	toks  []token
	pos   int
	names map[string]string
}

func newParser(toks []token, names map[string]string) *parser {
	return &parser{toks: toks, names: names}
}

func (p *parser) cur() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expect(k tokenKind, what string) (token, error) {
	if p.cur().kind != k {
		return token{}, keyerr.InvalidExpressionf("expr: expected %s, got %q", what, p.cur().text)
	}
	return p.advance(), nil
}

func (p *parser) atEOF() bool { return p.cur().kind == tokEOF }

// ParseCondition parses a full condition expression.
func ParseCondition(src string, names map[string]string) (Cond, error) {
	if src == "" {
		return nil, nil
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := newParser(toks, names)
	c, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.atEOF() {
		return nil, keyerr.InvalidExpressionf("expr: unexpected trailing token %q", p.cur().text)
	}
	return c, nil
}

func (p *parser) parseOr() (Cond, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokIdent && isKeyword(p.cur().text, "OR") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orCond{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Cond, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokIdent && isKeyword(p.cur().text, "AND") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andCond{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Cond, error) {
	if p.cur().kind == tokIdent && isKeyword(p.cur().text, "NOT") {
		p.advance()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notCond{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Cond, error) {
	if p.cur().kind == tokLParen {
		p.advance()
		c, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return c, nil
	}
	if p.cur().kind == tokIdent {
		switch {
		case isKeyword(p.cur().text, "attribute_exists"):
			return p.parseExistsFunc(false)
		case isKeyword(p.cur().text, "attribute_not_exists"):
			return p.parseExistsFunc(true)
		case isKeyword(p.cur().text, "begins_with"):
			return p.parseBeginsWith()
		case isKeyword(p.cur().text, "contains"):
			return p.parseContains()
		}
	}
	return p.parseComparison()
}

func (p *parser) parseExistsFunc(negate bool) (Cond, error) {
	p.advance() // function name
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return existsCond{path: path, negate: negate}, nil
}

func (p *parser) parseBeginsWith() (Cond, error) {
	p.advance()
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	target, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokComma, "','"); err != nil {
		return nil, err
	}
	prefix, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return beginsWithCond{target: target, prefix: prefix}, nil
}

func (p *parser) parseContains() (Cond, error) {
	p.advance()
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	target, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokComma, "','"); err != nil {
		return nil, err
	}
	needle, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return containsCond{target: target, needle: needle}, nil
}

func (p *parser) parseComparison() (Cond, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	switch {
	case p.cur().kind == tokEq || p.cur().kind == tokNe || p.cur().kind == tokLt ||
		p.cur().kind == tokLe || p.cur().kind == tokGt || p.cur().kind == tokGe:
		op := p.advance().kind
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return cmpCond{op: op, left: left, right: right}, nil
	case p.cur().kind == tokIdent && isKeyword(p.cur().text, "BETWEEN"):
		p.advance()
		lo, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if !(p.cur().kind == tokIdent && isKeyword(p.cur().text, "AND")) {
			return nil, keyerr.InvalidExpressionf("expr: expected AND in BETWEEN")
		}
		p.advance()
		hi, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return betweenCond{target: left, lo: lo, hi: hi}, nil
	case p.cur().kind == tokIdent && isKeyword(p.cur().text, "IN"):
		p.advance()
		if _, err := p.expect(tokLParen, "'('"); err != nil {
			return nil, err
		}
		var set []Operand
		for {
			op, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			set = append(set, op)
			if p.cur().kind == tokComma {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inCond{target: left, set: set}, nil
	}
	return nil, keyerr.InvalidExpressionf("expr: expected comparison operator, got %q", p.cur().text)
}

func (p *parser) parseOperand() (Operand, error) {
	if p.cur().kind == tokPlaceholder {
		t := p.advance()
		return Operand{Placeholder: t.text}, nil
	}
	path, err := p.parsePath()
	if err != nil {
		return Operand{}, err
	}
	return Operand{Path: path}, nil
}

// parsePath parses dotted identifiers / #name segments into a
// resolved Path, substituting #name via the name map.
func (p *parser) parsePath() (Path, error) {
	var path Path
	seg, err := p.parsePathSegment()
	if err != nil {
		return nil, err
	}
	path = append(path, seg)
	for p.cur().kind == tokDot {
		p.advance()
		seg, err := p.parsePathSegment()
		if err != nil {
			return nil, err
		}
		path = append(path, seg)
	}
	return path, nil
}

func (p *parser) parsePathSegment() (string, error) {
	switch p.cur().kind {
	case tokIdent:
		return p.advance().text, nil
	case tokName:
		t := p.advance()
		resolved, ok := p.names[t.text]
		if !ok {
			return "", keyerr.InvalidExpressionf("expr: no substitution for name placeholder %q", t.text)
		}
		return resolved, nil
	}
	return "", keyerr.InvalidExpressionf("expr: expected attribute path segment, got %q", p.cur().text)
}

// ParseUpdate parses a full update expression.
func ParseUpdate(src string, names map[string]string) (*UpdateExpr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := newParser(toks, names)
	u := &UpdateExpr{}
	for !p.atEOF() {
		if p.cur().kind != tokIdent {
			return nil, keyerr.InvalidExpressionf("expr: expected clause keyword, got %q", p.cur().text)
		}
		switch {
		case isKeyword(p.cur().text, "SET"):
			p.advance()
			if err := p.parseSetClause(u); err != nil {
				return nil, err
			}
		case isKeyword(p.cur().text, "REMOVE"):
			p.advance()
			if err := p.parseRemoveClause(u); err != nil {
				return nil, err
			}
		case isKeyword(p.cur().text, "ADD"):
			p.advance()
			if err := p.parseAddClause(u); err != nil {
				return nil, err
			}
		case isKeyword(p.cur().text, "DELETE"):
			p.advance()
			if err := p.parseDeleteClause(u); err != nil {
				return nil, err
			}
		default:
			return nil, keyerr.InvalidExpressionf("expr: unknown update clause %q", p.cur().text)
		}
	}
	return u, nil
}

func (p *parser) parseSetClause(u *UpdateExpr) error {
	for {
		path, err := p.parsePath()
		if err != nil {
			return err
		}
		if _, err := p.expect(tokEq, "'='"); err != nil {
			return err
		}
		rhs, err := p.parseSetValue()
		if err != nil {
			return err
		}
		u.Sets = append(u.Sets, setAction{path: path, rhs: rhs})
		if p.cur().kind == tokComma && p.peekIsOperandStart(1) {
			p.advance()
			continue
		}
		return nil
	}
}

// peekIsOperandStart reports whether the token n positions ahead could
// start another set-action path (used to stop SET's comma-list before
// a following clause keyword is mistaken for part of the list — SET's
// own grammar never needs this ambiguity in practice since clauses are
// separated by top-level clause keywords, not commas, but the check
// keeps the parser defensive against stray trailing commas).
func (p *parser) peekIsOperandStart(n int) bool {
	idx := p.pos + n
	if idx >= len(p.toks) {
		return false
	}
	k := p.toks[idx].kind
	return k == tokIdent || k == tokName || k == tokPlaceholder
}

func (p *parser) parseSetValue() (setValue, error) {
	first, err := p.parseOperand()
	if err != nil {
		return setValue{}, err
	}
	if p.cur().kind == tokPlus || p.cur().kind == tokMinus {
		op := p.advance().kind
		second, err := p.parseOperand()
		if err != nil {
			return setValue{}, err
		}
		return setValue{kind: setValueArith, a: first, b: second, op: op}, nil
	}
	return setValue{kind: setValueOperand, a: first}, nil
}

func (p *parser) parseRemoveClause(u *UpdateExpr) error {
	for {
		path, err := p.parsePath()
		if err != nil {
			return err
		}
		u.Removes = append(u.Removes, path)
		if p.cur().kind == tokComma {
			p.advance()
			continue
		}
		return nil
	}
}

func (p *parser) parseAddClause(u *UpdateExpr) error {
	for {
		path, err := p.parsePath()
		if err != nil {
			return err
		}
		ph, err := p.expect(tokPlaceholder, "placeholder")
		if err != nil {
			return err
		}
		u.Adds = append(u.Adds, addAction{path: path, placeholder: ph.text})
		if p.cur().kind == tokComma {
			p.advance()
			continue
		}
		return nil
	}
}

func (p *parser) parseDeleteClause(u *UpdateExpr) error {
	for {
		path, err := p.parsePath()
		if err != nil {
			return err
		}
		ph, err := p.expect(tokPlaceholder, "placeholder")
		if err != nil {
			return err
		}
		u.Deletes = append(u.Deletes, deleteAction{path: path, placeholder: ph.text})
		if p.cur().kind == tokComma {
			p.advance()
			continue
		}
		return nil
	}
}
