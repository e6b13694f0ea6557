package expr

import (
	"bufio"
	"fmt"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/keystonedb/keystone/internal/base"
)

func TestParseConditionBasic(t *testing.T) {
	c, err := ParseCondition("age > :min AND attribute_exists(email)", nil)
	if err != nil {
		t.Fatalf("ParseCondition: %v", err)
	}
	item := base.Item{"age": base.N("42"), "email": base.S("a@b.com")}
	ok, err := Eval(c, item, Context{Values: map[string]base.Value{":min": base.N("10")}})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if !ok {
		t.Fatalf("expected condition to be true")
	}
}

func TestEvalUndefinedPathIsFalse(t *testing.T) {
	c, err := ParseCondition("missing = :v", nil)
	if err != nil {
		t.Fatalf("ParseCondition: %v", err)
	}
	ok, err := Eval(c, base.Item{}, Context{Values: map[string]base.Value{":v": base.S("x")}})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if ok {
		t.Fatalf("expected comparison against undefined attribute to be false")
	}
}

func TestApplySetArithmeticAndRemove(t *testing.T) {
	u, err := ParseUpdate("SET balance = balance + :delta REMOVE pending", nil)
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	item := base.Item{"balance": base.N("100"), "pending": base.Bool(true)}
	out, err := Apply(u, item, Context{Values: map[string]base.Value{":delta": base.N("5")}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out["balance"].Str != "105" {
		t.Fatalf("balance = %q, want 105", out["balance"].Str)
	}
	if _, ok := out["pending"]; ok {
		t.Fatalf("expected pending to be removed")
	}
	if _, ok := item["pending"]; !ok {
		t.Fatalf("Apply must not mutate the original item")
	}
}

func TestApplyAddCreatesMissingAttribute(t *testing.T) {
	u, err := ParseUpdate("ADD views :n", nil)
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	out, err := Apply(u, base.Item{}, Context{Values: map[string]base.Value{":n": base.N("1")}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out["views"].Str != "1" {
		t.Fatalf("views = %q, want 1", out["views"].Str)
	}
}

func TestNameSubstitution(t *testing.T) {
	c, err := ParseCondition("#s = :v", map[string]string{"#s": "status"})
	if err != nil {
		t.Fatalf("ParseCondition: %v", err)
	}
	ok, err := Eval(c, base.Item{"status": base.S("active")}, Context{Values: map[string]base.Value{":v": base.S("active")}})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if !ok {
		t.Fatalf("expected #s substitution to resolve to status")
	}
}

// TestConditionDataDriven exercises the full condition-expression
// grammar against the testdata/condition fixture.
func TestConditionDataDriven(t *testing.T) {
	datadriven.RunTest(t, "testdata/condition", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "eval":
			item, names, values, err := parseFixtureItem(d.Input)
			if err != nil {
				return fmt.Sprintf("error: %v\n", err)
			}
			c, err := ParseCondition(d.CmdArgs[0].Vals[0], names)
			if err != nil {
				return fmt.Sprintf("parse-error: %v\n", err)
			}
			ok, err := Eval(c, item, Context{Values: values})
			if err != nil {
				return fmt.Sprintf("eval-error: %v\n", err)
			}
			return fmt.Sprintf("%v\n", ok)
		}
		return fmt.Sprintf("unknown command %q", d.Cmd)
	})
}

// TestUpdateDataDriven exercises the update-expression grammar
// against the testdata/update fixture.
func TestUpdateDataDriven(t *testing.T) {
	datadriven.RunTest(t, "testdata/update", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "apply":
			item, names, values, err := parseFixtureItem(d.Input)
			if err != nil {
				return fmt.Sprintf("error: %v\n", err)
			}
			u, err := ParseUpdate(d.CmdArgs[0].Vals[0], names)
			if err != nil {
				return fmt.Sprintf("parse-error: %v\n", err)
			}
			out, err := Apply(u, item, Context{Values: values})
			if err != nil {
				return fmt.Sprintf("apply-error: %v\n", err)
			}
			return formatItem(out)
		}
		return fmt.Sprintf("unknown command %q", d.Cmd)
	})
}

// parseFixtureItem reads a tiny line-oriented fixture body:
//
//	item: name=S:value name=N:value ...
//	names: #n=attr #m=attr2
//	values: :v=S:value :n=N:value
//
// Each line is optional; blank lines and lines that don't match a
// known prefix are ignored.
func parseFixtureItem(input string) (base.Item, map[string]string, map[string]base.Value, error) {
	item := base.Item{}
	names := map[string]string{}
	values := map[string]base.Value{}
	sc := bufio.NewScanner(strings.NewReader(input))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "item:"):
			fields := strings.Fields(strings.TrimPrefix(line, "item:"))
			for _, f := range fields {
				k, v, err := parseKV(f)
				if err != nil {
					return nil, nil, nil, err
				}
				item[k] = v
			}
		case strings.HasPrefix(line, "names:"):
			fields := strings.Fields(strings.TrimPrefix(line, "names:"))
			for _, f := range fields {
				parts := strings.SplitN(f, "=", 2)
				if len(parts) != 2 {
					return nil, nil, nil, fmt.Errorf("malformed names entry %q", f)
				}
				names[parts[0]] = parts[1]
			}
		case strings.HasPrefix(line, "values:"):
			fields := strings.Fields(strings.TrimPrefix(line, "values:"))
			for _, f := range fields {
				parts := strings.SplitN(f, "=", 2)
				if len(parts) != 2 {
					return nil, nil, nil, fmt.Errorf("malformed values entry %q", f)
				}
				k, v, err := parseKV(parts[0] + "=" + parts[1])
				if err != nil {
					return nil, nil, nil, err
				}
				values[k] = v
			}
		}
	}
	return item, names, values, nil
}

// parseKV parses "name=Kind:text", e.g. "age=N:42" or "email=S:a@b.com".
func parseKV(f string) (string, base.Value, error) {
	parts := strings.SplitN(f, "=", 2)
	if len(parts) != 2 {
		return "", base.Value{}, fmt.Errorf("malformed attribute %q", f)
	}
	name := parts[0]
	typed := strings.SplitN(parts[1], ":", 2)
	if len(typed) != 2 {
		return "", base.Value{}, fmt.Errorf("malformed typed value %q", parts[1])
	}
	switch typed[0] {
	case "S":
		return name, base.S(typed[1]), nil
	case "N":
		return name, base.N(typed[1]), nil
	case "BOOL":
		return name, base.Bool(typed[1] == "true"), nil
	default:
		return "", base.Value{}, fmt.Errorf("unknown value kind %q", typed[0])
	}
}

func formatItem(it base.Item) string {
	var sb strings.Builder
	for _, name := range it.SortedAttrNames() {
		v := it[name]
		switch v.Kind {
		case base.KindString:
			fmt.Fprintf(&sb, "%s=S:%s\n", name, v.Str)
		case base.KindNumber:
			fmt.Fprintf(&sb, "%s=N:%s\n", name, v.Str)
		case base.KindBool:
			fmt.Fprintf(&sb, "%s=BOOL:%v\n", name, v.B)
		default:
			fmt.Fprintf(&sb, "%s=%v\n", name, v.Kind)
		}
	}
	return sb.String()
}
