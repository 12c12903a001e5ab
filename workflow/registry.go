package workflow

import (
	"context"

	"github.com/maverick-run/maverick/registry"
	"github.com/maverick-run/maverick/streaming"
)

// Action is the actions-namespace value: a callable invoked with resolved
// positional and keyword arguments. It may do its own
// internal await; the executor treats its return as synchronous from Go's
// point of view.
type Action func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Agent is the object a registered agent factory produces.
type Agent interface {
	Execute(ctx context.Context, rc *RunContext, input map[string]any, stream streaming.Callback) (any, error)
}

// AgentFactory constructs a new Agent per invocation, mirroring a "new()"
// contract for the agent collaborator interface.
type AgentFactory func() Agent

// Generator is the object a registered generator factory produces.
type Generator interface {
	Generate(ctx context.Context, rc *RunContext, input map[string]any, stream streaming.Callback) (string, error)
}

// GeneratorFactory constructs a new Generator per invocation.
type GeneratorFactory func() Generator

// ContextBuilder resolves a step's declarative context reference into the
// object/map handed to an agent or generator.
type ContextBuilder func(resolvedInputs map[string]any, rc *RunContext) (map[string]any, error)

// ValidationResult is the shape the external validation runner returns for
// one stage.
type ValidationResult struct {
	OK      bool
	Stdout  string
	Stderr  string
	Skipped bool
}

// ValidationRunner is the external collaborator the validate handler calls
// for each resolved stage name.
type ValidationRunner func(ctx context.Context, stage string, cwd string) (ValidationResult, error)

// ComponentRegistry composes the five named namespaces (actions, agents,
// generators, context builders, workflows), each backed by a generic
// registry.Registry wrapped per concern rather than one monolithic map.
type ComponentRegistry struct {
	Actions          *registry.Registry[Action]
	Agents           *registry.Registry[AgentFactory]
	Generators       *registry.Registry[GeneratorFactory]
	ContextBuilders  *registry.Registry[ContextBuilder]
	Workflows        *registry.Registry[*Workflow]
}

// NewComponentRegistry creates an empty registry set. strict selects the
// registry.Strict/Lenient mode uniformly across namespaces; strict mode is
// the production default.
func NewComponentRegistry(strict bool) *ComponentRegistry {
	mode := registry.Strict
	if !strict {
		mode = registry.Lenient
	}
	return &ComponentRegistry{
		Actions:         registry.New[Action]("actions", mode),
		Agents:          registry.New[AgentFactory]("agents", mode),
		Generators:      registry.New[GeneratorFactory]("generators", mode),
		ContextBuilders: registry.New[ContextBuilder]("context-builders", mode),
		Workflows:       registry.New[*Workflow]("workflows", mode),
	}
}

// Strict reports whether this registry set runs in strict mode.
func (c *ComponentRegistry) Strict() bool {
	return c.Actions.Mode() == registry.Strict
}
