package templates

import (
	"strings"
)

type node interface{ nodeTag() }

type textNode struct{ text string }

type outputNode struct {
	expr expr
	line int
}

type ifBranch struct {
	cond expr
	body []node
}

type ifNode struct {
	branches []ifBranch // first is the if, rest are elifs
	elseBody []node
}

type forNode struct {
	vars []string // one, or two for tuple unpacking
	iter expr
	body []node
	line int
}

func (*textNode) nodeTag()   {}
func (*outputNode) nodeTag() {}
func (*ifNode) nodeTag()     {}
func (*forNode) nodeTag()    {}

type expr interface{ exprTag() }

type nameExpr struct{ name string }

type literalExpr struct{ value any }

type getAttrExpr struct {
	base expr
	attr string
}

type getItemExpr struct {
	base  expr
	index expr
}

type binaryExpr struct {
	op    string
	left  expr
	right expr
}

type notExpr struct{ operand expr }

func (*nameExpr) exprTag()    {}
func (*literalExpr) exprTag() {}
func (*getAttrExpr) exprTag() {}
func (*getItemExpr) exprTag() {}
func (*binaryExpr) exprTag()  {}
func (*notExpr) exprTag()     {}

// Template is a parsed, renderable template.
type Template struct {
	source string
	nodes  []node
}

// Parse compiles the template source. Failures are *InvalidTemplate.
func Parse(source string) (*Template, error) {
	segments, err := splitSegments(source)
	if err != nil {
		return nil, err
	}
	p := &treeParser{segments: segments}
	nodes, err := p.parseNodes("")
	if err != nil {
		return nil, err
	}
	return &Template{source: source, nodes: nodes}, nil
}

type treeParser struct {
	segments []segment
	pos      int
}

// parseNodes consumes segments until EOF or a terminator block of the
// enclosing construct; the terminator segment itself is left in place.
func (p *treeParser) parseNodes(until string) ([]node, error) {
	var nodes []node
	for p.pos < len(p.segments) {
		seg := p.segments[p.pos]
		switch seg.kind {
		case segText:
			p.pos++
			nodes = append(nodes, &textNode{text: seg.text})
		case segOutput:
			p.pos++
			e, err := parseExprString(seg.text, seg.line)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &outputNode{expr: e, line: seg.line})
		case segBlock:
			keyword := blockKeyword(seg.text)
			switch keyword {
			case "if":
				p.pos++
				n, err := p.parseIf(seg)
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, n)
			case "for":
				p.pos++
				n, err := p.parseFor(seg)
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, n)
			case "elif", "else", "endif", "endfor":
				if until == "" {
					return nil, invalidf(seg.line, seg.text, "unexpected %q outside a block", keyword)
				}
				return nodes, nil
			default:
				return nil, invalidf(seg.line, seg.text, "unsupported statement %q", keyword)
			}
		}
	}
	if until != "" {
		return nil, invalidf(0, "", "missing %q", until)
	}
	return nodes, nil
}

func blockKeyword(body string) string {
	if i := strings.IndexAny(body, " \t\n"); i >= 0 {
		return body[:i]
	}
	return body
}

func (p *treeParser) parseIf(open segment) (*ifNode, error) {
	cond, err := parseExprString(strings.TrimSpace(strings.TrimPrefix(open.text, "if")), open.line)
	if err != nil {
		return nil, err
	}
	n := &ifNode{}
	current := ifBranch{cond: cond}
	for {
		body, err := p.parseNodes("endif")
		if err != nil {
			return nil, err
		}
		if p.pos >= len(p.segments) {
			return nil, invalidf(open.line, open.text, "missing \"endif\"")
		}
		term := p.segments[p.pos]
		keyword := blockKeyword(term.text)
		current.body = body
		switch keyword {
		case "elif":
			n.branches = append(n.branches, current)
			cond, err := parseExprString(strings.TrimSpace(strings.TrimPrefix(term.text, "elif")), term.line)
			if err != nil {
				return nil, err
			}
			current = ifBranch{cond: cond}
			p.pos++
		case "else":
			n.branches = append(n.branches, current)
			p.pos++
			elseBody, err := p.parseNodes("endif")
			if err != nil {
				return nil, err
			}
			if p.pos >= len(p.segments) || blockKeyword(p.segments[p.pos].text) != "endif" {
				return nil, invalidf(open.line, open.text, "missing \"endif\"")
			}
			n.elseBody = elseBody
			p.pos++
			return n, nil
		case "endif":
			n.branches = append(n.branches, current)
			p.pos++
			return n, nil
		default:
			return nil, invalidf(term.line, term.text, "unexpected %q inside if block", keyword)
		}
	}
}

func (p *treeParser) parseFor(open segment) (*forNode, error) {
	body := strings.TrimSpace(strings.TrimPrefix(open.text, "for"))
	inIdx := strings.Index(body, " in ")
	if inIdx < 0 {
		return nil, invalidf(open.line, open.text, "for statement requires \"in\"")
	}
	var vars []string
	for _, v := range strings.Split(body[:inIdx], ",") {
		v = strings.TrimSpace(v)
		if !isIdentifier(v) {
			return nil, invalidf(open.line, open.text, "invalid loop variable %q", v)
		}
		vars = append(vars, v)
	}
	if len(vars) > 2 {
		return nil, invalidf(open.line, open.text, "at most two loop variables are supported")
	}
	iter, err := parseExprString(strings.TrimSpace(body[inIdx+4:]), open.line)
	if err != nil {
		return nil, err
	}
	loopBody, err := p.parseNodes("endfor")
	if err != nil {
		return nil, err
	}
	if p.pos >= len(p.segments) || blockKeyword(p.segments[p.pos].text) != "endfor" {
		return nil, invalidf(open.line, open.text, "missing \"endfor\"")
	}
	p.pos++
	return &forNode{vars: vars, iter: iter, body: loopBody, line: open.line}, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 && !isNameStart(r) {
			return false
		}
		if i > 0 && !isNameRune(r) {
			return false
		}
	}
	return true
}

// exprParser is a recursive-descent parser over one token stream.
type exprParser struct {
	toks []token
	pos  int
	line int
	src  string
}

func parseExprString(src string, line int) (expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, invalidf(line, src, "empty expression")
	}
	toks, err := lexExpr(src, line)
	if err != nil {
		return nil, err
	}
	p := &exprParser{toks: toks, line: line, src: src}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, invalidf(line, src, "unexpected %q", p.peek().text)
	}
	return e, nil
}

func (p *exprParser) peek() token { return p.toks[p.pos] }

func (p *exprParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *exprParser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && p.peek().text == "or" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && p.peek().text == "and" {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseNot() (expr, error) {
	if p.peek().kind == tokOp && p.peek().text == "not" {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notExpr{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *exprParser) parseComparison() (expr, error) {
	left, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind == tokOp {
		switch t.text {
		case "==", "!=", "<", "<=", ">", ">=", "in":
			p.next()
			right, err := p.parsePostfix()
			if err != nil {
				return nil, err
			}
			return &binaryExpr{op: t.text, left: left, right: right}, nil
		}
	}
	return left, nil
}

func (p *exprParser) parsePostfix() (expr, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokDot:
			p.next()
			name := p.next()
			if name.kind != tokName {
				return nil, invalidf(p.line, p.src, "expected attribute name after \".\"")
			}
			base = &getAttrExpr{base: base, attr: name.text}
		case tokLBracket:
			p.next()
			index, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if p.next().kind != tokRBracket {
				return nil, invalidf(p.line, p.src, "missing \"]\"")
			}
			base = &getItemExpr{base: base, index: index}
		case tokLParen:
			// No callables: templates stay data-only.
			return nil, invalidf(p.line, p.src, "function calls are not supported")
		default:
			return base, nil
		}
	}
}

func (p *exprParser) parsePrimary() (expr, error) {
	t := p.next()
	switch t.kind {
	case tokName:
		switch t.text {
		case "true", "True":
			return &literalExpr{value: true}, nil
		case "false", "False":
			return &literalExpr{value: false}, nil
		case "none", "None", "null":
			return &literalExpr{value: nil}, nil
		}
		return &nameExpr{name: t.text}, nil
	case tokNumber:
		return &literalExpr{value: parseNumber(t.text)}, nil
	case tokString:
		return &literalExpr{value: t.text}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, invalidf(p.line, p.src, "missing \")\"")
		}
		return inner, nil
	case tokEOF:
		return nil, invalidf(p.line, p.src, "unexpected end of expression")
	}
	return nil, invalidf(p.line, p.src, "unexpected %q", t.text)
}
