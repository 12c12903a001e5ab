// Package expr implements the workflow engine's "${{ expr }}" expression
// grammar: parsing, path resolution, and truthiness/negation semantics.
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies the root of a resolved path.
type Kind int

const (
	KindInput Kind = iota
	KindStep
	KindItem
	KindIndex
)

// SyntaxError reports a malformed "${{ ... }}" fragment.
type SyntaxError struct {
	Expression string
	Pos        int
	Message    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expression syntax error at %d in %q: %s", e.Pos, e.Expression, e.Message)
}

// EvaluationError reports a reference to a missing input, step, or
// iteration variable.
type EvaluationError struct {
	Expression string
	Available  []string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("expression evaluation error in %q (available: %v)", e.Expression, e.Available)
}

// Expr is a single parsed "${{ [not] path }}" fragment.
type Expr struct {
	Raw      string // text between the braces, trimmed
	Negate   bool
	Path     []string // e.g. ["steps", "build", "output", "files"]
	RootKind Kind
}

// fragment is one occurrence of "${{ ... }}" found inside a larger string,
// plus the literal text spans around it.
type fragment struct {
	start, end int // byte offsets of the full "${{ ... }}" in the source
	expr       Expr
}

// delimOpen/delimClose are the fragment markers; kept as consts so the
// scanner and any tooling that extracts expressions (schema/parser) agree.
const (
	delimOpen  = "${{"
	delimClose = "}}"
)

// HasFragments reports whether s contains at least one "${{ ... }}" marker.
func HasFragments(s string) bool {
	return strings.Contains(s, delimOpen)
}

// Parse parses every "${{ ... }}" fragment in s. It does not evaluate them.
func Parse(s string) ([]Expr, error) {
	frags, err := scan(s)
	if err != nil {
		return nil, err
	}
	out := make([]Expr, 0, len(frags))
	for _, f := range frags {
		out = append(out, f.expr)
	}
	return out, nil
}

func scan(s string) ([]fragment, error) {
	var frags []fragment
	i := 0
	for {
		start := strings.Index(s[i:], delimOpen)
		if start == -1 {
			break
		}
		start += i
		rest := s[start+len(delimOpen):]
		closeIdx := strings.Index(rest, delimClose)
		if closeIdx == -1 {
			return nil, &SyntaxError{Expression: s, Pos: start, Message: "unterminated \"${{\""}
		}
		body := strings.TrimSpace(rest[:closeIdx])
		end := start + len(delimOpen) + closeIdx + len(delimClose)

		e, err := parseBody(s, start, body)
		if err != nil {
			return nil, err
		}
		frags = append(frags, fragment{start: start, end: end, expr: e})
		i = end
	}
	return frags, nil
}

func parseBody(src string, pos int, body string) (Expr, error) {
	if body == "" {
		return Expr{}, &SyntaxError{Expression: src, Pos: pos, Message: "empty expression"}
	}
	negate := false
	if body == "not" || strings.HasPrefix(body, "not ") {
		negate = true
		body = strings.TrimSpace(strings.TrimPrefix(body, "not"))
		if body == "" {
			return Expr{}, &SyntaxError{Expression: src, Pos: pos, Message: "\"not\" without a path"}
		}
	}
	path := splitPath(body)
	if len(path) == 0 {
		return Expr{}, &SyntaxError{Expression: src, Pos: pos, Message: "empty path"}
	}
	var kind Kind
	switch path[0] {
	case "inputs":
		kind = KindInput
	case "steps":
		kind = KindStep
	case "item":
		kind = KindItem
	case "index":
		kind = KindIndex
	default:
		return Expr{}, &SyntaxError{Expression: src, Pos: pos, Message: fmt.Sprintf("unknown path root %q", path[0])}
	}
	return Expr{Raw: body, Negate: negate, Path: path, RootKind: kind}, nil
}

// splitPath turns "steps.build.output.files[0]" into
// ["steps","build","output","files","0"].
func splitPath(body string) []string {
	body = strings.ReplaceAll(body, "[", ".")
	body = strings.ReplaceAll(body, "]", "")
	var parts []string
	for _, p := range strings.Split(body, ".") {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// Resolver supplies the three evaluation sources: inputs, step outputs, and
// the current loop iteration's item/index.
type Resolver interface {
	Input(name string) (any, bool)
	StepOutput(path []string) (any, bool)
	Item() (any, bool)
	Index() (int, bool)
}

// Eval resolves a parsed expression against r, returning the raw value
// (type-preserving) before any negation/truthiness is applied.
func Eval(e Expr, r Resolver) (any, error) {
	v, err := resolvePath(e, r)
	if err != nil {
		return nil, err
	}
	if e.Negate {
		return !Truthy(v), nil
	}
	return v, nil
}

func resolvePath(e Expr, r Resolver) (any, error) {
	switch e.RootKind {
	case KindInput:
		name := e.Path[1]
		v, ok := r.Input(name)
		if !ok {
			return nil, &EvaluationError{Expression: e.Raw}
		}
		return walk(v, e.Path[2:], e)
	case KindStep:
		// steps.NAME.output[.FIELD...]
		if len(e.Path) < 3 || e.Path[2] != "output" {
			return nil, &EvaluationError{Expression: e.Raw}
		}
		v, ok := r.StepOutput([]string{e.Path[1]})
		if !ok {
			return nil, &EvaluationError{Expression: e.Raw}
		}
		return walk(v, e.Path[3:], e)
	case KindItem:
		v, ok := r.Item()
		if !ok {
			return nil, &EvaluationError{Expression: e.Raw}
		}
		return walk(v, e.Path[1:], e)
	case KindIndex:
		v, ok := r.Index()
		if !ok {
			return nil, &EvaluationError{Expression: e.Raw}
		}
		return v, nil
	default:
		return nil, &EvaluationError{Expression: e.Raw}
	}
}

// walk descends into v following the remaining path elements, resolving
// numeric elements as array indices and everything else as map keys.
func walk(v any, rest []string, e Expr) (any, error) {
	cur := v
	for _, key := range rest {
		switch c := cur.(type) {
		case map[string]any:
			nv, ok := c[key]
			if !ok {
				return nil, &EvaluationError{Expression: e.Raw}
			}
			cur = nv
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, &EvaluationError{Expression: e.Raw}
			}
			cur = c[idx]
		default:
			return nil, &EvaluationError{Expression: e.Raw}
		}
	}
	return cur, nil
}

// Truthy implements this engine's truthiness rule: false, 0, "", empty
// containers, and nil are falsy; everything else is truthy.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// Resolve is the top-level entry point: a string containing exactly one
// fragment and nothing else returns the underlying value untouched (type
// preservation); any surrounding literal text forces a full string template
// and the result is always a string.
func Resolve(s string, r Resolver) (any, error) {
	frags, err := scan(s)
	if err != nil {
		return nil, err
	}
	if len(frags) == 0 {
		return s, nil
	}
	if len(frags) == 1 && frags[0].start == 0 && frags[0].end == len(s) {
		return Eval(frags[0].expr, r)
	}

	var b strings.Builder
	last := 0
	for _, f := range frags {
		b.WriteString(s[last:f.start])
		v, err := Eval(f.expr, r)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(v))
		last = f.end
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Extract walks s and returns every raw expression body found, ignoring
// evaluation, for external tooling (editors, validators) to surface
// variable usage without running anything.
func Extract(s string) ([]string, error) {
	frags, err := scan(s)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(frags))
	for _, f := range frags {
		out = append(out, f.expr.Raw)
	}
	return out, nil
}
