package templates

import (
	"strings"
	"unicode"
)

// The template grammar is the Jinja subset prompts actually use: output
// expressions, if/elif/else blocks and for loops, with attribute, item and
// comparison expressions. Filters, macros and function calls are rejected.

type segmentKind int

const (
	segText segmentKind = iota
	segOutput
	segBlock
)

// segment is one delimited region of the template source.
type segment struct {
	kind segmentKind
	text string // raw text, or the expression/statement body
	line int    // 1-based line of the segment start
}

// splitSegments walks the source splitting on {{ }} and {% %} delimiters.
func splitSegments(source string) ([]segment, error) {
	var out []segment
	line := 1
	rest := source
	for rest != "" {
		idx := -1
		kind := segText
		var closer string
		for i := strings.IndexByte(rest, '{'); i >= 0 && i < len(rest)-1; i = nextBrace(rest, i) {
			if rest[i+1] == '{' {
				idx, kind, closer = i, segOutput, "}}"
				break
			}
			if rest[i+1] == '%' {
				idx, kind, closer = i, segBlock, "%}"
				break
			}
		}
		if idx < 0 {
			out = append(out, segment{kind: segText, text: rest, line: line})
			break
		}
		if idx > 0 {
			out = append(out, segment{kind: segText, text: rest[:idx], line: line})
			line += strings.Count(rest[:idx], "\n")
		}
		end := strings.Index(rest[idx+2:], closer)
		if end < 0 {
			return nil, invalidf(line, truncateSource(rest[idx:]), "unclosed %q delimiter", rest[idx:idx+2])
		}
		body := rest[idx+2 : idx+2+end]
		out = append(out, segment{kind: kind, text: strings.TrimSpace(body), line: line})
		line += strings.Count(body, "\n")
		rest = rest[idx+2+end+len(closer):]
	}
	return out, nil
}

func nextBrace(s string, after int) int {
	i := strings.IndexByte(s[after+1:], '{')
	if i < 0 {
		return -1
	}
	return after + 1 + i
}

func truncateSource(s string) string {
	if len(s) > 40 {
		return s[:40]
	}
	return s
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokName
	tokNumber
	tokString
	tokOp // == != < <= > >= and or not in
	tokDot
	tokComma
	tokLBracket
	tokRBracket
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

// lexExpr tokenizes one expression or statement body.
func lexExpr(src string, line int) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '.':
			toks = append(toks, token{tokDot, "."})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case c == '[':
			toks = append(toks, token{tokLBracket, "["})
			i++
		case c == ']':
			toks = append(toks, token{tokRBracket, "]"})
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '\'' || c == '"':
			end := strings.IndexByte(src[i+1:], c)
			if end < 0 {
				return nil, invalidf(line, src, "unterminated string literal")
			}
			toks = append(toks, token{tokString, src[i+1 : i+1+end]})
			i += end + 2
		case c == '=' || c == '!' || c == '<' || c == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{tokOp, src[i : i+2]})
				i += 2
			} else if c == '<' || c == '>' {
				toks = append(toks, token{tokOp, string(c)})
				i++
			} else {
				return nil, &InvalidTemplate{
					Message: "unexpected character", Line: line,
					Source: src, UnexpectedChar: string(c),
				}
			}
		case isDigit(c) || (c == '-' && i+1 < len(src) && isDigit(src[i+1])):
			j := i + 1
			for j < len(src) && (isDigit(src[j]) || src[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, src[i:j]})
			i = j
		case isNameStart(rune(c)):
			j := i + 1
			for j < len(src) && isNameRune(rune(src[j])) {
				j++
			}
			word := src[i:j]
			switch word {
			case "and", "or", "not", "in":
				toks = append(toks, token{tokOp, word})
			default:
				toks = append(toks, token{tokName, word})
			}
			i = j
		default:
			return nil, &InvalidTemplate{
				Message: "unexpected character", Line: line,
				Source: src, UnexpectedChar: string(c),
			}
		}
	}
	return append(toks, token{tokEOF, ""}), nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isNameStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isNameRune(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }
