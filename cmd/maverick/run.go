package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maverick-run/maverick/runtime"
	"github.com/maverick-run/maverick/workflow"
)

// RunCmd discovers and executes a workflow by name, streaming its events to
// stdout as they arrive, one JSON line per event, flushed immediately.
type RunCmd struct {
	Name        string   `arg:"" help:"Registered workflow name."`
	Input       []string `short:"i" help:"Workflow input as key=value. Repeatable." placeholder:"KEY=VALUE"`
	Journal     string   `help:"Path to also write NDJSON events to (an existing file is truncated)." placeholder:"PATH"`
	Quiet       bool     `short:"q" help:"Suppress per-event lines; print only the final result."`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	rt, err := runtime.New(cfg)
	if err != nil {
		return fmt.Errorf("building runtime: %w", err)
	}
	defer rt.Shutdown(context.Background())

	wf, err := rt.Registry.Workflows.Get(c.Name)
	if err != nil {
		return fmt.Errorf("workflow %q: %w", c.Name, err)
	}

	inputs, err := parseInputs(c.Input)
	if err != nil {
		return err
	}

	emit := func(ev workflow.Event) {
		if c.Quiet {
			return
		}
		line, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Println(string(line))
	}

	result, err := rt.Run(ctx, wf, inputs, c.Journal, emit)
	if err != nil {
		return fmt.Errorf("running %q: %w", c.Name, err)
	}

	if !result.Success {
		fmt.Fprintf(os.Stderr, "workflow %q failed at step %q\n", c.Name, result.FailedStep)
		os.Exit(1)
	}
	if c.Quiet {
		out, _ := json.Marshal(result.FinalOutput)
		fmt.Println(string(out))
	}
	return nil
}

// parseInputs converts repeated "key=value" flags into a workflow input map.
// Values that parse as JSON (numbers, bools, arrays, objects) decode as
// such; anything else is kept as a plain string.
func parseInputs(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --input %q: expected key=value", p)
		}
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			out[k] = parsed
		} else {
			out[k] = v
		}
	}
	return out, nil
}
