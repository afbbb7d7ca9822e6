// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package expr evaluates the restricted condition language used by agent
// profiles, plus {{ path }} template interpolation. Conditions look like:
//
//	v['state.flags.consecutive_no_tool_call_count'] > 2 and not v['current_action']
//
// State is addressed through v['dotted.path'] lookups over a read-only view.
// Absent paths resolve to None (falsey); only malformed syntax produces an
// error. The evaluator is pure: no side effects, same inputs same outputs.
package expr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/teradata-labs/tapestry/pkg/statepath"
)

// EvaluatorError reports a syntactically malformed condition or template.
type EvaluatorError struct {
	Expr string
	Msg  string
}

func (e *EvaluatorError) Error() string {
	return fmt.Sprintf("evaluator: %s in %q", e.Msg, e.Expr)
}

// EvalCondition parses and evaluates a condition against view.
// The result is the truthiness of the final value.
func EvalCondition(condition string, view map[string]any) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return false, &EvaluatorError{Expr: condition, Msg: "empty condition"}
	}
	p := &parser{expr: condition, tokens: lex(condition)}
	node, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if !p.atEnd() {
		return false, &EvaluatorError{Expr: condition, Msg: fmt.Sprintf("unexpected token %q", p.peek().text)}
	}
	return statepath.Truthy(node.eval(view)), nil
}

var templateRe = regexp.MustCompile(`\{\{\s*([\w.\-]+)\s*\}\}`)

// RenderTemplate substitutes {{ path.to.value }} placeholders with the
// string form of the resolved value, or the empty string when absent.
func RenderTemplate(text string, view map[string]any) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return templateRe.ReplaceAllStringFunc(text, func(match string) string {
		path := strings.TrimSpace(templateRe.FindStringSubmatch(match)[1])
		v, ok := statepath.Resolve(view, path)
		if !ok {
			return ""
		}
		return statepath.Stringify(v)
	})
}

// ---- lexer ----

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokLookup
	tokNumber
	tokString
	tokIdent // and, or, not, True, False, None
	tokOp    // == != < <= > >=
	tokLParen
	tokRParen
	tokBad
)

type token struct {
	kind tokenKind
	text string
}

func lex(s string) []token {
	var tokens []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(':
			tokens = append(tokens, token{tokLParen, "("})
			i++
		case c == ')':
			tokens = append(tokens, token{tokRParen, ")"})
			i++
		case c == 'v' && i+1 < len(s) && s[i+1] == '[':
			// v['path'] lookup
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				tokens = append(tokens, token{tokBad, s[i:]})
				return tokens
			}
			inner := s[i+2 : i+end]
			inner = strings.Trim(strings.TrimSpace(inner), `'"`)
			tokens = append(tokens, token{tokLookup, inner})
			i += end + 1
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(s) && s[j] != quote {
				j++
			}
			if j >= len(s) {
				tokens = append(tokens, token{tokBad, s[i:]})
				return tokens
			}
			tokens = append(tokens, token{tokString, s[i+1 : j]})
			i = j + 1
		case c == '=' || c == '!' || c == '<' || c == '>':
			if i+1 < len(s) && s[i+1] == '=' {
				tokens = append(tokens, token{tokOp, s[i : i+2]})
				i += 2
			} else if c == '<' || c == '>' {
				tokens = append(tokens, token{tokOp, string(c)})
				i++
			} else {
				tokens = append(tokens, token{tokBad, string(c)})
				i++
			}
		case unicode.IsDigit(rune(c)) || (c == '-' && i+1 < len(s) && unicode.IsDigit(rune(s[i+1]))):
			j := i + 1
			for j < len(s) && (unicode.IsDigit(rune(s[j])) || s[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, s[i:j]})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i
			for j < len(s) && (unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j])) || s[j] == '_') {
				j++
			}
			tokens = append(tokens, token{tokIdent, s[i:j]})
			i = j
		default:
			tokens = append(tokens, token{tokBad, string(c)})
			i++
		}
	}
	tokens = append(tokens, token{tokEOF, ""})
	return tokens
}

// ---- parser ----

type node interface {
	eval(view map[string]any) any
}

type parser struct {
	expr   string
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }
func (p *parser) next() token { t := p.tokens[p.pos]; p.pos++; return t }
func (p *parser) atEnd() bool { return p.peek().kind == tokEOF }

func (p *parser) errorf(format string, args ...any) error {
	return &EvaluatorError{Expr: p.expr, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIdent && p.peek().text == "or" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIdent && p.peek().text == "and" {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.peek().kind == tokIdent && p.peek().text == "not" {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokOp {
		op := p.next().text
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &compareNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, p.errorf("missing closing parenthesis")
		}
		return inner, nil
	case tokLookup:
		return &lookupNode{path: t.text}, nil
	case tokNumber:
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf("bad number %q", t.text)
		}
		return &literalNode{value: n}, nil
	case tokString:
		return &literalNode{value: t.text}, nil
	case tokIdent:
		switch t.text {
		case "True", "true":
			return &literalNode{value: true}, nil
		case "False", "false":
			return &literalNode{value: false}, nil
		case "None", "none", "nil":
			return &literalNode{value: nil}, nil
		}
		return nil, p.errorf("unknown identifier %q", t.text)
	case tokEOF:
		return nil, p.errorf("unexpected end of expression")
	default:
		return nil, p.errorf("unexpected token %q", t.text)
	}
}

// ---- AST nodes ----

type literalNode struct{ value any }

func (n *literalNode) eval(map[string]any) any { return n.value }

type lookupNode struct{ path string }

func (n *lookupNode) eval(view map[string]any) any {
	v, ok := statepath.Resolve(view, n.path)
	if !ok {
		return nil
	}
	return v
}

type notNode struct{ inner node }

func (n *notNode) eval(view map[string]any) any {
	return !statepath.Truthy(n.inner.eval(view))
}

type binaryNode struct {
	op          string
	left, right node
}

func (n *binaryNode) eval(view map[string]any) any {
	l := n.left.eval(view)
	if n.op == "and" {
		if !statepath.Truthy(l) {
			return l
		}
		return n.right.eval(view)
	}
	if statepath.Truthy(l) {
		return l
	}
	return n.right.eval(view)
}

type compareNode struct {
	op          string
	left, right node
}

func (n *compareNode) eval(view map[string]any) any {
	l := n.left.eval(view)
	r := n.right.eval(view)

	ln, lNum := statepath.AsNumber(l)
	rn, rNum := statepath.AsNumber(r)

	switch n.op {
	case "==":
		if lNum && rNum {
			return ln == rn
		}
		return equalValues(l, r)
	case "!=":
		if lNum && rNum {
			return ln != rn
		}
		return !equalValues(l, r)
	}

	// Ordering requires two numbers or two strings. Mismatched or
	// non-orderable operands compare false rather than erroring, so an
	// absent counter never breaks an observer.
	if lNum && rNum {
		switch n.op {
		case "<":
			return ln < rn
		case "<=":
			return ln <= rn
		case ">":
			return ln > rn
		case ">=":
			return ln >= rn
		}
	}
	ls, lok := l.(string)
	rs, rok := r.(string)
	if lok && rok {
		switch n.op {
		case "<":
			return ls < rs
		case "<=":
			return ls <= rs
		case ">":
			return ls > rs
		case ">=":
			return ls >= rs
		}
	}
	return false
}

func equalValues(l, r any) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	return fmt.Sprintf("%v", l) == fmt.Sprintf("%v", r)
}
