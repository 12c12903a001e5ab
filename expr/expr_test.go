package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	inputs map[string]any
	steps  map[string]any
	item   any
	hasIt  bool
	index  int
	hasIdx bool
}

func (f *fakeResolver) Input(name string) (any, bool) {
	v, ok := f.inputs[name]
	return v, ok
}

func (f *fakeResolver) StepOutput(path []string) (any, bool) {
	if len(path) != 1 {
		return nil, false
	}
	v, ok := f.steps[path[0]]
	return v, ok
}

func (f *fakeResolver) Item() (any, bool)   { return f.item, f.hasIt }
func (f *fakeResolver) Index() (int, bool)  { return f.index, f.hasIdx }

func TestResolve_TypePreservation(t *testing.T) {
	r := &fakeResolver{steps: map[string]any{
		"build": map[string]any{"files": []any{"a.go", "b.go"}},
	}}
	v, err := Resolve("${{ steps.build.output.files }}", r)
	require.NoError(t, err)
	assert.Equal(t, []any{"a.go", "b.go"}, v)
}

func TestResolve_IndexIntoArray(t *testing.T) {
	r := &fakeResolver{steps: map[string]any{
		"build": []any{"first", "second"},
	}}
	v, err := Resolve("${{ steps.build.output[1] }}", r)
	require.NoError(t, err)
	assert.Equal(t, "second", v)
}

func TestResolve_StringTemplateForcesString(t *testing.T) {
	r := &fakeResolver{inputs: map[string]any{"name": "world"}}
	v, err := Resolve("hello ${{ inputs.name }}!", r)
	require.NoError(t, err)
	assert.Equal(t, "hello world!", v)
}

func TestResolve_NoFragmentsReturnsLiteral(t *testing.T) {
	v, err := Resolve("plain string", &fakeResolver{})
	require.NoError(t, err)
	assert.Equal(t, "plain string", v)
}

func TestResolve_Negation(t *testing.T) {
	r := &fakeResolver{inputs: map[string]any{"flag": false}}
	v, err := Resolve("${{ not inputs.flag }}", r)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestResolve_ItemAndIndex(t *testing.T) {
	r := &fakeResolver{item: "x", hasIt: true, index: 2, hasIdx: true}
	v, err := Resolve("${{ item }}", r)
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	v, err = Resolve("${{ index }}", r)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestResolve_MissingReferenceErrors(t *testing.T) {
	_, err := Resolve("${{ inputs.missing }}", &fakeResolver{})
	require.Error(t, err)
	var evalErr *EvaluationError
	assert.ErrorAs(t, err, &evalErr)
}

func TestResolve_UnterminatedFragmentIsSyntaxError(t *testing.T) {
	_, err := Resolve("${{ inputs.x", &fakeResolver{})
	require.Error(t, err)
	var syntaxErr *SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy([]any{}))
	assert.False(t, Truthy(map[string]any{}))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy(1))
	assert.True(t, Truthy([]any{1}))
}

func TestExtract(t *testing.T) {
	got, err := Extract("${{ inputs.a }} and ${{ steps.b.output }}")
	require.NoError(t, err)
	assert.Equal(t, []string{"inputs.a", "steps.b.output"}, got)
}

func TestParse_UnknownRoot(t *testing.T) {
	_, err := Parse("${{ bogus.path }}")
	require.Error(t, err)
}
