// Package discovery implements the BUILTIN/USER/PROJECT workflow-file scan:
// later layers override earlier ones by workflow name, fragments/
// subdirectories contribute reusable workflows, and parse failures are
// collected rather than raised so one bad file doesn't block the rest of
// the scan.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maverick-run/maverick/workflow"
)

// Layer identifies one precedence tier.
type Layer string

const (
	LayerBuiltin Layer = "builtin"
	LayerUser    Layer = "user"
	LayerProject Layer = "project"
)

// layerOrder is least to most specific: project overrides user overrides
// builtin.
var layerOrder = []Layer{LayerBuiltin, LayerUser, LayerProject}

// Config names the root directory for each layer; an empty dir is skipped.
type Config struct {
	BuiltinDir string
	UserDir    string
	ProjectDir string
}

func (c Config) dirs() map[Layer]string {
	return map[Layer]string{
		LayerBuiltin: c.BuiltinDir,
		LayerUser:    expandHome(c.UserDir),
		LayerProject: c.ProjectDir,
	}
}

func expandHome(dir string) string {
	if !strings.HasPrefix(dir, "~/") {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return dir
	}
	return filepath.Join(home, strings.TrimPrefix(dir, "~/"))
}

// FailedFile records a workflow document that failed to parse; the scan
// continues past it as a diagnostic rather than a hard stop.
type FailedFile struct {
	Path  string
	Layer Layer
	Err   error
}

// Result is the outcome of one discovery pass.
type Result struct {
	Workflows       map[string]*workflow.Workflow // final, precedence-resolved set, keyed by name
	Fragments       []string                      // names of workflows discovered under a fragments/ subdirectory
	ScannedDirs     []string
	Skipped         []FailedFile
	OverriddenPaths []string // "<name>: <layer> shadowed by <layer>" diagnostics
}

// Scan walks every configured layer in precedence order, parses every
// *.yaml/*.yml file it finds (plus anything under a fragments/
// subdirectory, merged into the same namespace), and returns the resolved
// set plus diagnostics.
func Scan(cfg Config, reg *workflow.ComponentRegistry) (*Result, error) {
	result := &Result{Workflows: make(map[string]*workflow.Workflow)}
	owner := make(map[string]Layer)     // workflow name -> layer that currently owns it
	isFragment := make(map[string]bool) // workflow name -> whether its current (highest-precedence) copy came from fragments/

	dirs := cfg.dirs()
	for _, layer := range layerOrder {
		dir := dirs[layer]
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			continue // layer directory absent is not an error
		}
		result.ScannedDirs = append(result.ScannedDirs, dir)

		files, err := findWorkflowFiles(dir)
		if err != nil {
			return nil, fmt.Errorf("discovery: scanning %s: %w", dir, err)
		}

		for _, f := range files {
			data, err := os.ReadFile(f.path)
			if err != nil {
				result.Skipped = append(result.Skipped, FailedFile{Path: f.path, Layer: layer, Err: err})
				continue
			}
			wf, err := workflow.Parse(data, workflow.ParseOptions{Registry: reg, Strict: false})
			if err != nil {
				result.Skipped = append(result.Skipped, FailedFile{Path: f.path, Layer: layer, Err: err})
				continue
			}

			if prevLayer, ok := owner[wf.Name]; ok {
				msg := fmt.Sprintf("%s: %s shadowed by %s", wf.Name, prevLayer, layer)
				result.OverriddenPaths = append(result.OverriddenPaths, msg)
				wf.OverriddenPaths = append(append([]string(nil), result.Workflows[wf.Name].OverriddenPaths...), msg)
			}
			owner[wf.Name] = layer
			result.Workflows[wf.Name] = wf
			isFragment[wf.Name] = f.isFragment
		}
	}

	for name, fromFragments := range isFragment {
		if fromFragments {
			result.Fragments = append(result.Fragments, name)
		}
	}

	sort.Strings(result.ScannedDirs)
	sort.Strings(result.Fragments)
	return result, nil
}

// discoveredFile pairs a workflow file's path with whether it was found
// under a fragments/ subdirectory.
type discoveredFile struct {
	path       string
	isFragment bool
}

// findWorkflowFiles returns every *.yaml/*.yml file under root, including
// its fragments/ subdirectory — fragments is a naming convention, not a
// separate namespace, but each file found there is flagged so callers can
// still tell fragments apart from top-level workflows.
func findWorkflowFiles(root string) ([]discoveredFile, error) {
	var files []discoveredFile
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		isFragment := false
		for _, part := range strings.Split(filepath.Dir(rel), string(filepath.Separator)) {
			if part == "fragments" {
				isFragment = true
				break
			}
		}
		files = append(files, discoveredFile{path: path, isFragment: isFragment})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, nil
}

// Register adds every discovered workflow into reg's workflows namespace in
// name order and returns the first registration error. The overridden-path
// diagnostics are not logged or otherwise used here.
func (r *Result) Register(reg *workflow.ComponentRegistry) error {
	names := make([]string, 0, len(r.Workflows))
	for name := range r.Workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := reg.Workflows.Register(name, r.Workflows[name]); err != nil {
			return fmt.Errorf("discovery: registering %q: %w", name, err)
		}
	}
	return nil
}
