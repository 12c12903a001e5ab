package main

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/maverick-run/maverick/discovery"
	"github.com/maverick-run/maverick/workflow"
)

// ValidateCmd parses a workflow file and, unless --lenient is set, checks
// every action/agent/generator/context-builder/workflow reference against
// the components discovered from the ambient config.
type ValidateCmd struct {
	File    string `arg:"" name:"file" help:"Workflow YAML file path." placeholder:"PATH"`
	Format  string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`
	Lenient bool   `help:"Skip component-reference validation (useful before discovery has run)."`
	Print   bool   `short:"p" name:"print" help:"Print the parsed workflow."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return c.fail(fmt.Errorf("reading %s: %w", c.File, err))
	}

	var reg *workflow.ComponentRegistry
	if !c.Lenient {
		cfg, err := loadConfig(cli.Config)
		if err != nil {
			return c.fail(fmt.Errorf("loading config: %w", err))
		}
		reg = workflow.NewComponentRegistry(cfg.Registry.Strict())
		result, err := discovery.Scan(discovery.Config{
			BuiltinDir: cfg.Discovery.BuiltinDir,
			UserDir:    cfg.Discovery.UserDir,
			ProjectDir: cfg.Discovery.ProjectDir,
		}, reg)
		if err != nil {
			return c.fail(fmt.Errorf("discovery: %w", err))
		}
		if err := result.Register(reg); err != nil {
			return c.fail(err)
		}
	}

	wf, err := workflow.Parse(data, workflow.ParseOptions{Registry: reg, Strict: !c.Lenient})
	if err != nil {
		return c.fail(err)
	}

	if c.Print {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		if err := enc.Encode(wf); err != nil {
			return fmt.Errorf("printing workflow: %w", err)
		}
	}

	c.succeed()
	return nil
}

func (c *ValidateCmd) fail(err error) error {
	switch c.Format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"valid": false, "file": c.File, "error": err.Error()})
	case "verbose":
		fmt.Fprintf(os.Stderr, "Workflow Validation Failed\n")
		fmt.Fprintf(os.Stderr, "===========================\n\n")
		fmt.Fprintf(os.Stderr, "File:  %s\n", c.File)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	default:
		fmt.Fprintf(os.Stderr, "%s: invalid: %s\n", c.File, err)
	}
	return fmt.Errorf("workflow validation failed")
}

func (c *ValidateCmd) succeed() {
	switch c.Format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"valid": true, "file": c.File})
	case "verbose":
		fmt.Printf("Workflow Validation Successful\n")
		fmt.Printf("==============================\n\n")
		fmt.Printf("File:   %s\n", c.File)
		fmt.Printf("Status: OK Valid\n")
	default:
		fmt.Printf("%s: valid\n", c.File)
	}
}
