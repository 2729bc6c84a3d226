package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/autopr/llm"
)

func backendAnalysis() *Analysis {
	return &Analysis{
		TotalFiles:   4,
		ProjectType:  "backend",
		ProjectRoot:  ".",
		BackendFiles: []string{"server.py", "db.py", "routes.py", "auth.py"},
		KeyFiles:     []string{"requirements.txt"},
		AllFiles:     []string{"server.py", "db.py", "routes.py", "auth.py", "requirements.txt"},
	}
}

func TestNormalizePlanJSONShapes(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{
			name:  "flat",
			input: `{"approach": "do it", "filesToModify": ["a.go"], "newFiles": [], "complexity": "low"}`,
		},
		{
			name:  "fenced",
			input: "```json\n{\"approach\": \"do it\", \"filesToModify\": [\"a.go\"], \"newFiles\": []}\n```",
		},
		{
			name:  "nested implementation_plan",
			input: `{"implementation_plan": {"approach": "do it", "filesToModify": ["a.go"], "newFiles": []}}`,
		},
		{
			name:  "steps array",
			input: `{"approach": "do it", "steps": [{"file": "a.go", "action": "modify"}, {"path": "b.go", "action": "create"}]}`,
		},
		{
			name:  "prose around the object",
			input: `Here is my plan: {"approach": "do it", "filesToModify": ["a.go"], "newFiles": []} Hope that helps!`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := normalizePlanJSON(tc.input)
			require.NoError(t, err)
			assert.True(t, plan.Valid())
			assert.Equal(t, "do it", plan.Approach)
		})
	}
}

func TestNormalizePlanJSONStepsSplitsCreateAndModify(t *testing.T) {
	plan, err := normalizePlanJSON(`{"steps": [{"file": "a.go", "action": "modify"}, {"file": "b.go", "action": "create"}]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, plan.FilesToModify)
	assert.Equal(t, []string{"b.go"}, plan.NewFiles)
}

func TestNormalizePlanJSONGarbage(t *testing.T) {
	for _, input := range []string{"", "no json here", `{"approach": "x", "filesToModify": [], "newFiles": []}`} {
		_, err := normalizePlanJSON(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestClassifyIntent(t *testing.T) {
	assert.Equal(t, intentBackend, classifyIntent("Add a database migration for the api"))
	assert.Equal(t, intentFrontend, classifyIntent("Fix the React component styling"))
	assert.Equal(t, intentGeneric, classifyIntent("Update the docs"))
}

func TestBuildPlanFromModel(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		textResp(`{"approach": "edit routes", "filesToModify": ["routes.py"], "newFiles": [], "complexity": "low"}`),
	}}
	p := NewPlanner(llm.NewClient(llm.WithProvider(provider)), "fake", "")

	plan, err := p.BuildPlan(context.Background(), newFakeSandbox(nil), backendAnalysis(), "add an api route")
	require.NoError(t, err)
	assert.Equal(t, []string{"routes.py"}, plan.FilesToModify)
	assert.False(t, plan.Fallback)
}

func TestBuildPlanModelMayInspectReadOnly(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		toolResp(llm.ToolCall{ID: "c1", Name: "read_file", Arguments: []byte(`{"path": "server.py"}`)}),
		textResp(`{"approach": "edit server", "filesToModify": ["server.py"], "newFiles": []}`),
	}}
	sb := newFakeSandbox(map[string]string{"server.py": "print('hi')\n"})
	p := NewPlanner(llm.NewClient(llm.WithProvider(provider)), "fake", "")

	plan, err := p.BuildPlan(context.Background(), sb, backendAnalysis(), "change the server")
	require.NoError(t, err)
	assert.True(t, plan.Valid())
	assert.Contains(t, sb.toolLog, "read_file")
	assert.NotContains(t, sb.toolLog, "write_file")
}

func TestBuildPlanFallsBackOnGarbage(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{textResp("certainly! here is prose")}}
	p := NewPlanner(llm.NewClient(llm.WithProvider(provider)), "fake", "")

	plan, err := p.BuildPlan(context.Background(), newFakeSandbox(nil), backendAnalysis(), "fix the database layer")
	require.NoError(t, err)
	assert.True(t, plan.Valid(), "fallback plan must satisfy the validity invariant")
	assert.True(t, plan.Fallback)
	assert.LessOrEqual(t, len(plan.FilesToModify), maxFallbackFiles)
}

func TestBuildPlanEmptyAfterFallbackIsError(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{textResp("garbage")}}
	p := NewPlanner(llm.NewClient(llm.WithProvider(provider)), "fake", "")

	empty := &Analysis{TotalFiles: 0, ProjectRoot: "."}
	_, err := p.BuildPlan(context.Background(), newFakeSandbox(nil), empty, "do something")
	assert.Error(t, err, "an empty plan must never silently proceed")
}

func TestReadOnlyToolSubset(t *testing.T) {
	tools := readOnlyTools(newFakeSandbox(nil))
	names := map[string]bool{}
	for _, td := range tools {
		names[td.Name] = true
	}
	assert.True(t, names["list_files"])
	assert.True(t, names["read_file"])
	assert.Len(t, names, 2, "planning tools must be read-only")
}
