package workflow

import (
	"bytes"
	"fmt"

	"github.com/maverick-run/maverick/expr"
	"gopkg.in/yaml.v3"
)

// rawWorkflow mirrors the workflow YAML document shape field for field.
// Unknown top-level keys are rejected by decoding with KnownFields(true).
type rawWorkflow struct {
	Version     string                 `yaml:"version"`
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Icon        string                 `yaml:"icon"`
	Inputs      map[string]rawInput    `yaml:"inputs"`
	Steps       []rawStep              `yaml:"steps"`
}

type rawInput struct {
	Type        string `yaml:"type"`
	Required    bool   `yaml:"required"`
	Default     any    `yaml:"default"`
	Description string `yaml:"description"`
}

type rawRetry struct {
	Attempts  int     `yaml:"attempts"`
	DelayS    float64 `yaml:"delay_s"`
	MaxDelayS float64 `yaml:"max_delay_s"`
}

type rawBranchOption struct {
	Predicate string  `yaml:"predicate"`
	Step      rawStep `yaml:"step"`
}

type rawStep struct {
	Name            string          `yaml:"name"`
	Type            string          `yaml:"type"`
	If              string          `yaml:"if"`
	ContinueOnError bool            `yaml:"continue_on_error"`
	Retry           *rawRetry       `yaml:"retry"`
	Rollback        string          `yaml:"rollback"`

	Action string         `yaml:"action"`
	Args   []any          `yaml:"args"`
	Kwargs map[string]any `yaml:"kwargs"`

	Agent     string `yaml:"agent"`
	Generator string `yaml:"generator"`
	Context   any    `yaml:"context"`

	Stages any `yaml:"stages"`

	Workflow string         `yaml:"workflow"`
	Inputs   map[string]any `yaml:"inputs"`

	Options []rawBranchOption `yaml:"options"`

	Steps   []rawStep `yaml:"steps"`
	ForEach string    `yaml:"for_each"`

	Until string `yaml:"until"`
	// MaxIterations is a pointer so an omitted key (default 30) is
	// distinguishable from an explicit `max_iterations: 0`, which is
	// forbidden rather than defaulted.
	MaxIterations *int `yaml:"max_iterations"`
	Parallel      bool `yaml:"parallel"`

	CheckpointID string `yaml:"checkpoint_id"`
}

// ParseOptions controls the semantic-validation phase of Parse: whether
// registry references must resolve now.
type ParseOptions struct {
	Registry *ComponentRegistry // nil skips reference-resolution checks entirely
	Strict   bool               // mirrors ComponentRegistry.Strict(); only consulted if Registry != nil
}

// Parse runs the four-stage pipeline (decode, convert, structural validation,
// reference validation) over raw YAML bytes and returns an immutable
// Workflow value.
func Parse(data []byte, opts ParseOptions) (*Workflow, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raw rawWorkflow
	if err := dec.Decode(&raw); err != nil {
		return nil, &SchemaValidationError{Path: "$", Message: err.Error()}
	}

	wf := &Workflow{
		Name:        raw.Name,
		Version:     raw.Version,
		Description: raw.Description,
		Icon:        raw.Icon,
	}

	for name, in := range raw.Inputs {
		wf.Inputs = append(wf.Inputs, InputSpec{
			Name:        name,
			Type:        InputType(in.Type),
			Required:    in.Required,
			Default:     in.Default,
			Description: in.Description,
		})
	}

	steps, err := convertSteps(raw.Steps, "$.steps")
	if err != nil {
		return nil, err
	}
	wf.Steps = steps

	if err := validateStepNames(wf.Steps, fmt.Sprintf("workflow %q", wf.Name)); err != nil {
		return nil, err
	}
	if err := validateLoopInvariants(wf.Steps); err != nil {
		return nil, err
	}
	if err := validateExpressions(wf.Steps); err != nil {
		return nil, err
	}
	if opts.Registry != nil && opts.Strict {
		if err := validateReferences(wf.Steps, opts.Registry); err != nil {
			return nil, err
		}
	}

	return wf, nil
}

func convertSteps(raw []rawStep, path string) ([]Step, error) {
	steps := make([]Step, 0, len(raw))
	for i, rs := range raw {
		s, err := convertStep(rs, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func convertStep(rs rawStep, path string) (Step, error) {
	if rs.Name == "" {
		return Step{}, &SchemaValidationError{Path: path, Message: "step name is required"}
	}
	st := StepType(rs.Type)
	s := Step{
		Name:            rs.Name,
		Type:            st,
		If:              rs.If,
		ContinueOnError: rs.ContinueOnError,
		Rollback:        rs.Rollback,
	}
	if rs.Retry != nil {
		s.Retry = &RetryPolicy{Attempts: rs.Retry.Attempts, DelaySec: rs.Retry.DelayS, MaxDelaySec: rs.Retry.MaxDelayS}
	}

	switch st {
	case StepPython:
		if rs.Action == "" {
			return Step{}, &SchemaValidationError{Path: path, Message: "python step requires \"action\""}
		}
		s.Action, s.Args, s.Kwargs = rs.Action, rs.Args, rs.Kwargs
	case StepAgent:
		if rs.Agent == "" {
			return Step{}, &SchemaValidationError{Path: path, Message: "agent step requires \"agent\""}
		}
		s.Agent, s.Context = rs.Agent, rs.Context
	case StepGenerate:
		if rs.Generator == "" {
			return Step{}, &SchemaValidationError{Path: path, Message: "generate step requires \"generator\""}
		}
		s.Generator, s.Context = rs.Generator, rs.Context
	case StepValidate:
		if rs.Stages == nil {
			return Step{}, &SchemaValidationError{Path: path, Message: "validate step requires \"stages\""}
		}
		s.Stages = rs.Stages
	case StepSubworkflow:
		if rs.Workflow == "" {
			return Step{}, &SchemaValidationError{Path: path, Message: "subworkflow step requires \"workflow\""}
		}
		s.Workflow, s.SubInputs = rs.Workflow, rs.Inputs
	case StepBranch:
		if len(rs.Options) == 0 {
			return Step{}, &SchemaValidationError{Path: path, Message: "branch step requires \"options\""}
		}
		opts := make([]BranchOption, 0, len(rs.Options))
		for i, o := range rs.Options {
			nested, err := convertStep(o.Step, fmt.Sprintf("%s.options[%d].step", path, i))
			if err != nil {
				return Step{}, err
			}
			opts = append(opts, BranchOption{Predicate: o.Predicate, Step: nested})
		}
		s.Options = opts
	case StepParallel:
		nested, err := convertSteps(rs.Steps, path+".steps")
		if err != nil {
			return Step{}, err
		}
		s.Steps, s.ForEach = nested, rs.ForEach
	case StepLoop:
		nested, err := convertSteps(rs.Steps, path+".steps")
		if err != nil {
			return Step{}, err
		}
		s.Steps = nested
		s.ForEach, s.Until = rs.ForEach, rs.Until
		switch {
		case rs.MaxIterations == nil:
			s.MaxIterations = 30 // default cap when unspecified
		case *rs.MaxIterations == 0:
			return Step{}, &SchemaValidationError{Path: path, Message: "loop: max_iterations: 0 is forbidden"}
		default:
			s.MaxIterations = *rs.MaxIterations
		}
		s.IsParallel = rs.Parallel
	case StepCheckpoint:
		id := rs.CheckpointID
		if id == "" {
			id = rs.Name // defaults to the step name
		}
		s.CheckpointID = id
	default:
		return Step{}, &SchemaValidationError{Path: path, Message: fmt.Sprintf("unknown step type %q", rs.Type)}
	}
	return s, nil
}

func validateStepNames(steps []Step, container string) error {
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if seen[s.Name] {
			return &DuplicateStepNameError{Container: container, Name: s.Name}
		}
		seen[s.Name] = true
		if err := validateNestedNames(s, container); err != nil {
			return err
		}
	}
	return nil
}

func validateNestedNames(s Step, parentContainer string) error {
	container := fmt.Sprintf("%s/%s", parentContainer, s.Name)
	switch s.Type {
	case StepParallel, StepLoop:
		return validateStepNames(s.Steps, container)
	case StepBranch:
		for _, o := range s.Options {
			if err := validateStepNames([]Step{o.Step}, container); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateLoopInvariants(steps []Step) error {
	for _, s := range steps {
		if s.Type == StepLoop {
			if s.Until != "" && s.ForEach != "" {
				return &SchemaValidationError{Path: s.Name, Message: "loop: \"until\" and \"for_each\" are mutually exclusive"}
			}
			if s.Until != "" && s.IsParallel {
				return &SchemaValidationError{Path: s.Name, Message: "loop: \"until\" and \"parallel: true\" are mutually exclusive"}
			}
			if s.MaxIterations < 1 {
				return &SchemaValidationError{Path: s.Name, Message: "loop: max_iterations must be >= 1"}
			}
		}
		if err := validateLoopInvariants(s.Steps); err != nil {
			return err
		}
		for _, o := range s.Options {
			if err := validateLoopInvariants([]Step{o.Step}); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateExpressions confirms that the "${{ ... }}" fragments in a step's
// if, for_each, until and checkpoint_id fields, a string-valued stages
// field, top-level string kwargs values and branch predicates parse,
// recursing into branch and nested steps. Positional args, context,
// subworkflow inputs and values nested inside kwargs are not checked.
func validateExpressions(steps []Step) error {
	check := func(s string) error {
		if s == "" || !expr.HasFragments(s) {
			return nil
		}
		_, err := expr.Parse(s)
		return err
	}
	var walk func(s Step) error
	walk = func(s Step) error {
		if err := check(s.If); err != nil {
			return err
		}
		if err := check(s.ForEach); err != nil {
			return err
		}
		if err := check(s.Until); err != nil {
			return err
		}
		if err := check(s.CheckpointID); err != nil {
			return err
		}
		if str, ok := s.Stages.(string); ok {
			if err := check(str); err != nil {
				return err
			}
		}
		for _, v := range s.Kwargs {
			if str, ok := v.(string); ok {
				if err := check(str); err != nil {
					return err
				}
			}
		}
		for _, o := range s.Options {
			if err := check(o.Predicate); err != nil {
				return err
			}
			if err := walk(o.Step); err != nil {
				return err
			}
		}
		for _, n := range s.Steps {
			if err := walk(n); err != nil {
				return err
			}
		}
		return nil
	}
	for _, s := range steps {
		if err := walk(s); err != nil {
			return err
		}
	}
	return nil
}

// validateReferences confirms every action/agent/generator/workflow
// reference resolves against the registry. Strict mode only.
func validateReferences(steps []Step, reg *ComponentRegistry) error {
	var walk func(s Step) error
	walk = func(s Step) error {
		var err error
		switch s.Type {
		case StepPython:
			_, err = reg.Actions.Get(s.Action)
		case StepAgent:
			_, err = reg.Agents.Get(s.Agent)
		case StepGenerate:
			_, err = reg.Generators.Get(s.Generator)
		case StepSubworkflow:
			_, err = reg.Workflows.Get(s.Workflow)
		}
		if err != nil {
			return err
		}
		if ctxRef, ok := s.Context.(string); ok && ctxRef != "" {
			if _, err := reg.ContextBuilders.Get(ctxRef); err != nil {
				return err
			}
		}
		for _, o := range s.Options {
			if err := walk(o.Step); err != nil {
				return err
			}
		}
		for _, n := range s.Steps {
			if err := walk(n); err != nil {
				return err
			}
		}
		return nil
	}
	for _, s := range steps {
		if err := walk(s); err != nil {
			return err
		}
	}
	return nil
}

// ExtractExpressions walks a workflow value yielding the "${{ ... }}"
// fragments found in the same fields validateExpressions checks, for
// external tooling (editors, validators) to surface variable usage without
// running the workflow. Fragments in positional args, context, subworkflow
// inputs and values nested inside kwargs are not collected.
func ExtractExpressions(wf *Workflow) ([]string, error) {
	var out []string
	collect := func(s string) error {
		if s == "" {
			return nil
		}
		found, err := expr.Extract(s)
		if err != nil {
			return err
		}
		out = append(out, found...)
		return nil
	}
	var walk func(s Step) error
	walk = func(s Step) error {
		for _, fn := range []string{s.If, s.ForEach, s.Until, s.CheckpointID} {
			if err := collect(fn); err != nil {
				return err
			}
		}
		if str, ok := s.Stages.(string); ok {
			if err := collect(str); err != nil {
				return err
			}
		}
		for _, v := range s.Kwargs {
			if str, ok := v.(string); ok {
				if err := collect(str); err != nil {
					return err
				}
			}
		}
		for _, o := range s.Options {
			if err := collect(o.Predicate); err != nil {
				return err
			}
			if err := walk(o.Step); err != nil {
				return err
			}
		}
		for _, n := range s.Steps {
			if err := walk(n); err != nil {
				return err
			}
		}
		return nil
	}
	for _, s := range wf.Steps {
		if err := walk(s); err != nil {
			return nil, err
		}
	}
	return out, nil
}
