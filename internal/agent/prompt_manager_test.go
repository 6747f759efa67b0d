package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPromptManager_GetWorkerPrompt(t *testing.T) {
	tempDir := t.TempDir()

	files := map[string]string{
		"identity.md":     "Identity Content",
		"capabilities.md": "Capabilities Content",
		"project.md":      "Project Content",
		"extra.md":        "Extra Content",
		"planner.md":      "Planner Content",
		"classifier.md":   "Classifier Content",
	}

	for name, content := range files {
		err := os.WriteFile(filepath.Join(tempDir, name), []byte(content), 0644)
		if err != nil {
			t.Fatal(err)
		}
	}

	pm := NewPromptManager(tempDir)
	prompt, err := pm.GetWorkerPrompt()
	if err != nil {
		t.Fatal(err)
	}

	for _, part := range []string{"Identity Content", "Capabilities Content", "Project Content", "Extra Content"} {
		if !strings.Contains(prompt, part) {
			t.Errorf("Prompt missing expected part: %s", part)
		}
	}
	for _, part := range []string{"Planner Content", "Classifier Content"} {
		if strings.Contains(prompt, part) {
			t.Errorf("Worker prompt should not include %s", part)
		}
	}

	if strings.Index(prompt, "Identity Content") >= strings.Index(prompt, "Capabilities Content") {
		t.Error("Identity should be before Capabilities")
	}
	if strings.Index(prompt, "Capabilities Content") >= strings.Index(prompt, "Project Content") {
		t.Error("Capabilities should be before Project")
	}

	if got := pm.GetPlannerPrompt(); got != "Planner Content" {
		t.Errorf("unexpected planner prompt %q", got)
	}
	if got := pm.GetClassifierPrompt(); got != "Classifier Content" {
		t.Errorf("unexpected classifier prompt %q", got)
	}
}

func TestPromptManager_Defaults(t *testing.T) {
	pm := NewPromptManager(t.TempDir())
	if !strings.Contains(pm.GetClassifierPrompt(), `"status"`) {
		t.Error("expected built-in classifier prompt")
	}
	if !strings.Contains(pm.GetPlannerPrompt(), "propose_plan") {
		t.Error("expected built-in planner prompt")
	}
	if _, err := pm.GetWorkerPrompt(); err == nil {
		t.Error("expected error for empty prompts directory")
	}
}
