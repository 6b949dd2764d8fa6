package templates

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Render evaluates the template against the variables. Missing variables
// render as empty rather than failing; prompts routinely reference optional
// fields.
func (t *Template) Render(variables map[string]any) (string, error) {
	var out strings.Builder
	if err := renderNodes(&out, t.nodes, variables); err != nil {
		return "", err
	}
	return out.String(), nil
}

func renderNodes(out *strings.Builder, nodes []node, scope map[string]any) error {
	for _, n := range nodes {
		switch n := n.(type) {
		case *textNode:
			out.WriteString(n.text)
		case *outputNode:
			value, err := evalExpr(n.expr, scope)
			if err != nil {
				return err
			}
			out.WriteString(stringify(value))
		case *ifNode:
			if err := renderIf(out, n, scope); err != nil {
				return err
			}
		case *forNode:
			if err := renderFor(out, n, scope); err != nil {
				return err
			}
		}
	}
	return nil
}

func renderIf(out *strings.Builder, n *ifNode, scope map[string]any) error {
	for _, branch := range n.branches {
		cond, err := evalExpr(branch.cond, scope)
		if err != nil {
			return err
		}
		if truthy(cond) {
			return renderNodes(out, branch.body, scope)
		}
	}
	return renderNodes(out, n.elseBody, scope)
}

func renderFor(out *strings.Builder, n *forNode, scope map[string]any) error {
	iter, err := evalExpr(n.iter, scope)
	if err != nil {
		return err
	}
	// The loop scope shadows without mutating the parent.
	inner := make(map[string]any, len(scope)+2)
	for k, v := range scope {
		inner[k] = v
	}
	bind := func(item, key any) error {
		if len(n.vars) == 2 {
			inner[n.vars[0]] = key
			inner[n.vars[1]] = item
		} else {
			inner[n.vars[0]] = item
		}
		return renderNodes(out, n.body, inner)
	}
	switch iter := iter.(type) {
	case nil:
		return nil
	case []any:
		for i, item := range iter {
			if err := bind(item, i); err != nil {
				return err
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(iter))
		for k := range iter {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if len(n.vars) == 2 {
				if err := bind(iter[k], k); err != nil {
					return err
				}
			} else if err := bind(k, nil); err != nil {
				return err
			}
		}
	case string:
		return invalidf(n.line, "", "cannot iterate over a string")
	default:
		return invalidf(n.line, "", "cannot iterate over %T", iter)
	}
	return nil
}

func evalExpr(e expr, scope map[string]any) (any, error) {
	switch e := e.(type) {
	case *literalExpr:
		return e.value, nil
	case *nameExpr:
		return scope[e.name], nil
	case *getAttrExpr:
		base, err := evalExpr(e.base, scope)
		if err != nil {
			return nil, err
		}
		if m, ok := base.(map[string]any); ok {
			return m[e.attr], nil
		}
		return nil, nil
	case *getItemExpr:
		base, err := evalExpr(e.base, scope)
		if err != nil {
			return nil, err
		}
		index, err := evalExpr(e.index, scope)
		if err != nil {
			return nil, err
		}
		switch base := base.(type) {
		case map[string]any:
			if key, ok := index.(string); ok {
				return base[key], nil
			}
		case []any:
			if i, ok := asInt(index); ok {
				if i < 0 {
					i += len(base)
				}
				if i >= 0 && i < len(base) {
					return base[i], nil
				}
			}
		}
		return nil, nil
	case *notExpr:
		v, err := evalExpr(e.operand, scope)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	case *binaryExpr:
		return evalBinary(e, scope)
	}
	return nil, fmt.Errorf("unhandled expression %T", e)
}

func evalBinary(e *binaryExpr, scope map[string]any) (any, error) {
	left, err := evalExpr(e.left, scope)
	if err != nil {
		return nil, err
	}
	// and/or short-circuit on the left value like Python.
	switch e.op {
	case "and":
		if !truthy(left) {
			return left, nil
		}
		return evalExpr(e.right, scope)
	case "or":
		if truthy(left) {
			return left, nil
		}
		return evalExpr(e.right, scope)
	}
	right, err := evalExpr(e.right, scope)
	if err != nil {
		return nil, err
	}
	switch e.op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case "in":
		return contains(right, left), nil
	}
	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if !lok || !rok {
		ls, lsok := left.(string)
		rs, rsok := right.(string)
		if lsok && rsok {
			switch e.op {
			case "<":
				return ls < rs, nil
			case "<=":
				return ls <= rs, nil
			case ">":
				return ls > rs, nil
			case ">=":
				return ls >= rs, nil
			}
		}
		return false, nil
	}
	switch e.op {
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	}
	return nil, fmt.Errorf("unhandled operator %q", e.op)
}

func looseEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
	}
	return a == b
}

func contains(container, item any) bool {
	switch container := container.(type) {
	case []any:
		for _, v := range container {
			if looseEqual(v, item) {
				return true
			}
		}
	case map[string]any:
		if key, ok := item.(string); ok {
			_, found := container[key]
			return found
		}
	case string:
		if s, ok := item.(string); ok {
			return strings.Contains(container, s)
		}
	}
	return false
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case json.Number:
		f, _ := v.Float64()
		return f != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}
	return true
}

func asFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

func parseNumber(s string) any {
	if !strings.Contains(s, ".") {
		if i, err := strconv.Atoi(s); err == nil {
			return i
		}
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// stringify renders a value the way a prompt wants to see it: scalars bare,
// composites as compact JSON.
func stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
