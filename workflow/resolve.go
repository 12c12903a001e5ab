package workflow

import "github.com/maverick-run/maverick/expr"

// resolveString evaluates a single value-bearing field: empty
// or fragment-free strings pass through untouched.
func resolveString(s string, r expr.Resolver) (any, error) {
	if s == "" {
		return s, nil
	}
	return expr.Resolve(s, r)
}

// resolveDeep walks maps/slices resolving every string value that contains
// a "${{ ... }}" fragment, leaving everything else untouched. Used for
// kwargs, inline context dicts, and subworkflow input bindings.
func resolveDeep(v any, r expr.Resolver) (any, error) {
	switch t := v.(type) {
	case string:
		if !expr.HasFragments(t) {
			return t, nil
		}
		return expr.Resolve(t, r)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			rv, err := resolveDeep(val, r)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			rv, err := resolveDeep(val, r)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveStageNames resolves the validate step's "stages" field: either a
// literal list of names or an expression yielding one.
func resolveStageNames(stages any, r expr.Resolver) ([]string, error) {
	switch t := stages.(type) {
	case string:
		v, err := resolveString(t, r)
		if err != nil {
			return nil, err
		}
		return toStringSlice(v)
	case []any:
		return toStringSlice(t)
	default:
		return toStringSlice(t)
	}
}

func toStringSlice(v any) ([]string, error) {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out, nil
	case []string:
		return t, nil
	case string:
		return []string{t}, nil
	default:
		return nil, &EvaluationErrorLike{Message: "stages did not resolve to a list of names"}
	}
}

// EvaluationErrorLike reports a resolved value of the wrong shape where the
// expr package's own EvaluationError doesn't apply (the value resolved fine;
// its type just wasn't usable).
type EvaluationErrorLike struct {
	Message string
}

func (e *EvaluationErrorLike) Error() string { return e.Message }
