package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rahul/planpilot/cmd/planpilot/internal/clierr"
	"github.com/rahul/planpilot/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// verdictModel classifies any result mentioning FAIL as an error.
type verdictModel struct{}

func (verdictModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var text string
	for _, m := range messages {
		for _, p := range m.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				text += tc.Text
			}
		}
	}
	verdict := `{"status":"success","message":"Looks done."}`
	if strings.Contains(text, "RAW RESULT:\nFAIL") {
		verdict = `{"status":"error","message":"Backend reported a failure.","suggestion":"Rephrase the prompt."}`
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: verdict}}}, nil
}

func (m verdictModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

type fixture struct {
	dir    string
	config string
	plan   string
}

func newFixture(t *testing.T, steps string) fixture {
	t.Helper()
	prev := newModel
	newModel = func(*config.Config) (llms.Model, error) { return verdictModel{}, nil }
	t.Cleanup(func() { newModel = prev })

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt string `json:"prompt"`
		}
		_ = jsonDecode(r, &body)
		if strings.Contains(body.Prompt, "break") {
			fmt.Fprint(w, `{"rawResult":"FAIL: could not do it"}`)
			return
		}
		fmt.Fprintf(w, `{"rawResult":"did %s"}`, body.Prompt)
	}))
	t.Cleanup(backend.Close)

	dir := t.TempDir()
	cfg := fmt.Sprintf(`
app:
  prompts_dir: %[1]s/prompts
  llm_log: %[1]s/logs/llm.jsonl
providers:
  openai:
    enabled: true
memory:
  path: %[1]s/planpilot.db
execution:
  auto_delay_seconds: 1
actions:
  function_url: %[2]s
governance:
  deny_patterns: ["rm\\s+-rf"]
`, dir, backend.URL)
	f := fixture{
		dir:    dir,
		config: filepath.Join(dir, "planpilot.yaml"),
		plan:   filepath.Join(dir, "site.yaml"),
	}
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0644))
	require.NoError(t, os.WriteFile(f.plan, []byte(steps), 0644))
	return f
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

const twoSteps = `title: Bakery site
steps:
  - id: create
    title: Create page
    prompt: create the landing page
  - id: copy
    title: Write copy
    prompt: write the hero copy
`

func TestRun_FullAutoCompletes(t *testing.T) {
	f := newFixture(t, twoSteps)

	out, err := execute(t, "", "run", f.plan, "--mode", "full-auto", "-c", f.config, "-q")
	require.NoError(t, err)
	assert.Contains(t, out, "Session started in full-auto mode with 2 steps")
	assert.Contains(t, out, "✅ Step 1/2 success: Looks done.")
	assert.Contains(t, out, "🏁 Plan finished")
	assert.Contains(t, out, "2/2 completed")
}

func TestRun_FailedStepExitCode(t *testing.T) {
	f := newFixture(t, `steps:
  - title: Create page
    prompt: create the landing page
  - title: Deploy
    prompt: break the deploy
`)

	out, err := execute(t, "", "run", f.plan, "--mode", "full-auto", "-c", f.config, "-q")
	require.Error(t, err)
	assert.Equal(t, clierr.ExitStepsFailed, clierr.ExitCodeOf(err))
	assert.Contains(t, out, "❌ Step 2/2 error: Backend reported a failure.")
	assert.Contains(t, out, "Rephrase the prompt.")
}

func TestRun_ManualStopsWhenInputEnds(t *testing.T) {
	f := newFixture(t, twoSteps)

	out, err := execute(t, "", "run", f.plan, "-c", f.config, "-q")
	require.Error(t, err)
	assert.Equal(t, clierr.ExitRuntime, clierr.ExitCodeOf(err))
	assert.Contains(t, out, "Waiting for operator confirmation")
	assert.Contains(t, out, "Session stopped")
}

func TestRun_PolicyDeniesPrompt(t *testing.T) {
	f := newFixture(t, `steps:
  - title: Clean up
    prompt: rm -rf /srv/site
`)

	out, err := execute(t, "", "run", f.plan, "--mode", "full-auto", "-c", f.config, "-q")
	require.Error(t, err)
	assert.Equal(t, clierr.ExitStepsFailed, clierr.ExitCodeOf(err))
	assert.Contains(t, out, "denied by policy")
}

func TestRun_InvalidInputs(t *testing.T) {
	f := newFixture(t, "steps: []\n")

	_, err := execute(t, "", "run", f.plan, "-c", f.config, "-q")
	assert.Equal(t, clierr.ExitUsage, clierr.ExitCodeOf(err))

	_, err = execute(t, "", "run", filepath.Join(f.dir, "missing.yaml"), "-c", f.config, "-q")
	assert.Equal(t, clierr.ExitUsage, clierr.ExitCodeOf(err))

	require.NoError(t, os.WriteFile(f.plan, []byte(twoSteps), 0644))
	_, err = execute(t, "", "run", f.plan, "--mode", "sideways", "-c", f.config, "-q")
	assert.Equal(t, clierr.ExitUsage, clierr.ExitCodeOf(err))
}

func TestValidate(t *testing.T) {
	f := newFixture(t, twoSteps)
	target := filepath.Join(f.dir, "out", "site.json")

	out, err := execute(t, "", "validate", f.plan, "--write", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Bakery site (2 steps)")
	assert.Contains(t, out, "Plan is valid.")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id": "create"`)

	bad := filepath.Join(f.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("steps:\n  - title: no prompt\n"), 0644))
	_, err = execute(t, "", "validate", bad)
	assert.Equal(t, clierr.ExitUsage, clierr.ExitCodeOf(err))
	assert.ErrorContains(t, err, "prompt is required")
}

func TestVersion(t *testing.T) {
	t.Setenv("PLANPILOT_VERSION", "1.2.3")
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "planpilot version 1.2.3\n", out)
}

func jsonDecode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
