package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/maverick-run/maverick/config"
	"github.com/maverick-run/maverick/workflow"
)

// SchemaCmd emits a JSON Schema document for either the workflow YAML shape
// or the ambient config document: "maverick schema workflow" or
// "maverick schema config".
type SchemaCmd struct {
	Target  string `arg:"" enum:"workflow,config" help:"Which document to generate a schema for: workflow or config."`
	Compact bool   `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	var schema *jsonschema.Schema
	switch c.Target {
	case "workflow":
		schema = reflector.Reflect(&workflow.Workflow{})
		schema.ID = "https://maverick.dev/schemas/workflow.json"
		schema.Title = "Maverick Workflow Schema"
		schema.Description = "Schema for a maverick workflow YAML document"
	case "config":
		schema = reflector.Reflect(&config.Config{})
		schema.ID = "https://maverick.dev/schemas/config.json"
		schema.Title = "Maverick Config Schema"
		schema.Description = "Schema for the ambient maverick config document"
	}
	schema.Version = "http://json-schema.org/draft-07/schema#"

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("encoding schema: %w", err)
	}
	return nil
}
