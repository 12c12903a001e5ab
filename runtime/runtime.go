// Package runtime is the composition root: it wires
// the component registry, discovery, the checkpoint store, the session
// journal, metrics, and the executor into the single entry point a CLI or
// HTTP handler needs. The constructor shape (construct-once-from-config,
// expose a Run/getter surface) generalizes from provider wiring to this
// engine's five-namespace registry and checkpoint/journal/metrics stack.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/maverick-run/maverick/checkpoint"
	"github.com/maverick-run/maverick/config"
	"github.com/maverick-run/maverick/discovery"
	"github.com/maverick-run/maverick/journal"
	"github.com/maverick-run/maverick/metrics"
	"github.com/maverick-run/maverick/tracing"
	"github.com/maverick-run/maverick/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Runtime bundles every collaborator a workflow run needs.
type Runtime struct {
	Config   *config.Config
	Registry *workflow.ComponentRegistry
	Store    checkpoint.Store
	Metrics  *metrics.Recorder
	Logger   *slog.Logger

	executor *workflow.Executor
	validate workflow.ValidationRunner
	promReg  *prometheus.Registry
	tp       *sdktrace.TracerProvider
}

// Option customises construction, primarily for tests that want an
// in-memory checkpoint store or a registry pre-populated with fakes.
type Option func(*Runtime)

// WithCheckpointStore overrides the default file-backed store (tests use
// checkpoint.NewMemoryStore()).
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(r *Runtime) { r.Store = store }
}

// WithRegistry overrides the component registry constructed from
// cfg.Registry.Strict(), letting callers pre-register actions/agents
// before discovery runs.
func WithRegistry(reg *workflow.ComponentRegistry) Option {
	return func(r *Runtime) { r.Registry = reg }
}

// WithValidationRunner installs the validate-step collaborator; omitted,
// validate steps fail with a clear error rather than silently no-op'ing.
func WithValidationRunner(v workflow.ValidationRunner) Option {
	return func(r *Runtime) { r.validate = v }
}

// WithPrometheusRegistry registers the ambient metrics against reg instead
// of a throwaway registry.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(r *Runtime) { r.promReg = reg }
}

// New performs discovery once (component B's precedence rules, run by
// component C) and builds the Executor. cfg is typically the result of
// config.Load.
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: newLogger(cfg)}
	for _, opt := range opts {
		opt(rt)
	}

	if rt.Registry == nil {
		rt.Registry = workflow.NewComponentRegistry(cfg.Registry.Strict())
	}
	if rt.Store == nil {
		store, err := checkpoint.NewFileStore(cfg.Checkpoint.Root)
		if err != nil {
			return nil, fmt.Errorf("runtime: opening checkpoint store: %w", err)
		}
		rt.Store = store
	}
	if rt.promReg == nil {
		rt.promReg = prometheus.NewRegistry()
	}
	rt.Metrics = metrics.New(rt.promReg)

	result, err := discovery.Scan(discovery.Config{
		BuiltinDir: cfg.Discovery.BuiltinDir,
		UserDir:    cfg.Discovery.UserDir,
		ProjectDir: cfg.Discovery.ProjectDir,
	}, rt.Registry)
	if err != nil {
		return nil, fmt.Errorf("runtime: discovery: %w", err)
	}
	for _, path := range result.Skipped {
		rt.Logger.Warn("discovery: skipped file", "path", path.Path, "layer", path.Layer, "error", path.Err)
	}
	for _, overridden := range result.OverriddenPaths {
		rt.Logger.Info("discovery: workflow overridden", "detail", overridden)
	}
	if err := result.Register(rt.Registry); err != nil {
		return nil, err
	}

	exec := workflow.NewExecutor(rt.Registry, rt.Store, rt.validate)
	exec.MaxParallelSteps = cfg.Concurrency.MaxParallelSteps
	exec.Logger = rt.Logger
	exec.OnEvent = rt.Metrics.Observe

	if cfg.Tracing.Enabled {
		tp, err := newTracerProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("runtime: starting tracer: %w", err)
		}
		rt.tp = tp
		exec.Tracer = tracing.New(tp.Tracer("github.com/maverick-run/maverick"))
	}

	rt.executor = exec

	return rt, nil
}

// newTracerProvider builds an sdk TracerProvider exporting spans to stdout
// and installs it as the process-wide default via otel.SetTracerProvider,
// the only sink this engine wires: a single-process CLI/server has no
// collector to ship OTLP to.
func newTracerProvider(cfg *config.Config) (*sdktrace.TracerProvider, error) {
	opts := []stdouttrace.Option{}
	if cfg.Tracing.Pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Shutdown flushes and stops the tracer provider, if tracing was enabled.
// Safe to call on a Runtime built without tracing.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	if rt.tp == nil {
		return nil
	}
	return rt.tp.Shutdown(ctx)
}

func newLogger(cfg *config.Config) *slog.Logger {
	if cfg == nil {
		return slog.Default()
	}
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(logOutput(cfg), opts)
	} else {
		handler = slog.NewTextHandler(logOutput(cfg), opts)
	}
	return slog.New(handler)
}

func logOutput(cfg *config.Config) io.Writer {
	switch cfg.Logging.Output {
	case "stderr":
		return os.Stderr
	case "file":
		f, err := os.OpenFile(cfg.Logging.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return os.Stderr
		}
		return f
	default:
		return os.Stdout
	}
}

// eventToMap round-trips ev through JSON so the journal writer (which deals
// in map[string]any) gets exactly the fields the Event's json tags produce,
// without this package needing to know Event's shape.
func eventToMap(ev workflow.Event) map[string]any {
	raw, err := json.Marshal(ev)
	if err != nil {
		return map[string]any{"event": string(ev.Type)}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"event": string(ev.Type)}
	}
	return m
}

// Run executes wf against inputs, journaling every event to path and
// forwarding each event to emit. This is the runtime's single entry point.
func (rt *Runtime) Run(ctx context.Context, wf *workflow.Workflow, inputs map[string]any, journalPath string, emit workflow.EventCallback) (*workflow.RunResult, error) {
	rt.Metrics.RunStarted()
	defer rt.Metrics.RunFinished()

	var jw *journal.Writer
	if journalPath != "" {
		w, err := journal.Open(journalPath, map[string]any{"workflow_name": wf.Name})
		if err != nil {
			return nil, fmt.Errorf("runtime: opening journal: %w", err)
		}
		defer w.Close()
		jw = w
	}

	combined := func(ev workflow.Event) {
		if jw != nil {
			_ = jw.Record(eventToMap(ev))
		}
		if emit != nil {
			emit(ev)
		}
	}

	return rt.executor.Run(ctx, wf, inputs, combined)
}

// Executor exposes the underlying Executor for callers (e.g. the HTTP
// transport) that need to pass their own EventCallback per request.
func (rt *Runtime) Executor() *workflow.Executor { return rt.executor }

// PrometheusRegistry exposes the registry metrics are registered against,
// so an HTTP transport can serve it at /metrics instead of the default
// global registerer.
func (rt *Runtime) PrometheusRegistry() *prometheus.Registry { return rt.promReg }
