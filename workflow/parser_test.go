package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_MinimalPythonStep(t *testing.T) {
	doc := `
name: build-feature
version: "1"
inputs:
  repo:
    type: string
    required: true
steps:
  - name: install
    type: python
    action: shell.run
    args: ["npm", "install"]
`
	wf, err := Parse([]byte(doc), ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, "build-feature", wf.Name)
	require.Len(t, wf.Steps, 1)
	assert.Equal(t, StepPython, wf.Steps[0].Type)
	assert.Equal(t, "shell.run", wf.Steps[0].Action)

	in, ok := wf.InputByName("repo")
	require.True(t, ok)
	assert.True(t, in.Required)
}

func TestParse_CheckpointDefaultsIDToStepName(t *testing.T) {
	doc := `
name: wf
steps:
  - name: save-point
    type: checkpoint
`
	wf, err := Parse([]byte(doc), ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, "save-point", wf.Steps[0].CheckpointID)
}

func TestParse_DuplicateStepNameRejected(t *testing.T) {
	doc := `
name: wf
steps:
  - name: a
    type: checkpoint
  - name: a
    type: checkpoint
`
	_, err := Parse([]byte(doc), ParseOptions{})
	require.Error(t, err)
	var dup *DuplicateStepNameError
	assert.ErrorAs(t, err, &dup)
}

func TestParse_LoopUntilAndForEachMutuallyExclusive(t *testing.T) {
	doc := `
name: wf
steps:
  - name: l
    type: loop
    until: "${{ inputs.done }}"
    for_each: "${{ inputs.items }}"
    steps:
      - name: inner
        type: checkpoint
`
	_, err := Parse([]byte(doc), ParseOptions{})
	require.Error(t, err)
	var schemaErr *SchemaValidationError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestParse_LoopMaxIterationsDefaultsTo30(t *testing.T) {
	doc := `
name: wf
steps:
  - name: l
    type: loop
    until: "${{ inputs.done }}"
    steps:
      - name: inner
        type: checkpoint
`
	wf, err := Parse([]byte(doc), ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, 30, wf.Steps[0].MaxIterations)
}

func TestParse_LoopMaxIterationsExplicitZeroRejected(t *testing.T) {
	doc := `
name: wf
steps:
  - name: l
    type: loop
    until: "${{ inputs.done }}"
    max_iterations: 0
    steps:
      - name: inner
        type: checkpoint
`
	_, err := Parse([]byte(doc), ParseOptions{})
	require.Error(t, err)
	var schemaErr *SchemaValidationError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestParse_UnknownStepTypeRejected(t *testing.T) {
	doc := `
name: wf
steps:
  - name: a
    type: bogus
`
	_, err := Parse([]byte(doc), ParseOptions{})
	require.Error(t, err)
}

func TestParse_BadExpressionSyntaxRejected(t *testing.T) {
	doc := `
name: wf
steps:
  - name: a
    type: python
    action: noop
    if: "${{ unterminated"
`
	_, err := Parse([]byte(doc), ParseOptions{})
	require.Error(t, err)
}

func TestParse_StrictModeRejectsUnknownAction(t *testing.T) {
	reg := NewComponentRegistry(true)
	doc := `
name: wf
steps:
  - name: a
    type: python
    action: does.not.exist
`
	_, err := Parse([]byte(doc), ParseOptions{Registry: reg, Strict: true})
	require.Error(t, err)
}

func TestParse_LenientSkipsReferenceValidationEvenWithRegistry(t *testing.T) {
	reg := NewComponentRegistry(true)
	doc := `
name: wf
steps:
  - name: a
    type: python
    action: does.not.exist
`
	_, err := Parse([]byte(doc), ParseOptions{Registry: reg, Strict: false})
	require.NoError(t, err)
}

func TestExtractExpressions(t *testing.T) {
	doc := `
name: wf
steps:
  - name: a
    type: python
    action: noop
    if: "${{ inputs.flag }}"
`
	wf, err := Parse([]byte(doc), ParseOptions{})
	require.NoError(t, err)
	exprs, err := ExtractExpressions(wf)
	require.NoError(t, err)
	assert.Equal(t, []string{"inputs.flag"}, exprs)
}
