// Command maverick is the CLI for the maverick workflow engine.
//
// Usage:
//
//	maverick run build-feature --config maverick.yaml --input repo=.
//	maverick validate workflows/build-feature.yaml
//	maverick schema workflow
//	maverick serve --config maverick.yaml
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/maverick-run/maverick/config"
)

// CLI defines the command-line interface, one subcommand per cmd/hector-style
// struct.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Execute a discovered workflow and stream its events."`
	Validate ValidateCmd `cmd:"" help:"Parse and validate a workflow file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for the workflow or config document."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP transport."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config string `short:"c" help:"Path to the ambient config document." type:"path" default:"maverick.yaml"`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("maverick dev")
	return nil
}

// loadConfig loads the ambient config at path, falling back to an
// all-defaults Config when the file is absent so `maverick validate` works
// in a bare checkout with no maverick.yaml.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := &config.Config{}
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("maverick"),
		kong.Description("maverick - a YAML workflow engine for agentic pipelines"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
