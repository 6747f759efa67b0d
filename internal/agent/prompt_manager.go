package agent

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	plannerPromptFile    = "planner.md"
	classifierPromptFile = "classifier.md"
)

const defaultPlannerPrompt = `You are the planner of a no-code project assistant.
Break the user's request into a short ordered list of concrete steps. Each step must
be executable on its own by a backend function and must carry a self-contained
instruction in "prompt". Later steps may rely on artifacts produced by earlier ones.
Always answer by calling propose_plan.`

const defaultClassifierPrompt = `You review the outcome of one automated project step.
Given the step instruction and the raw result, decide whether the step succeeded.
Answer with a single JSON object and nothing else:
{"status": "success" | "error" | "ambiguous", "message": "<one sentence for the operator>", "suggestion": "<optional improvement>"}
Use "ambiguous" when the result cannot be judged with confidence.`

// PromptManager loads prompt fragments from a directory of markdown files.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// GetWorkerPrompt concatenates every markdown file except the planner and
// classifier prompts, in a stable order.
func (pm *PromptManager) GetWorkerPrompt() (string, error) {
	files, err := os.ReadDir(pm.Directory)
	if err != nil {
		return "", fmt.Errorf("failed to read prompts directory: %v", err)
	}

	order := map[string]int{
		"identity.md":         1,
		"capabilities.md":     2,
		"worker_directive.md": 3,
		"project.md":          4,
	}

	sort.Slice(files, func(i, j int) bool {
		oi, okI := order[files[i].Name()]
		oj, okJ := order[files[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return files[i].Name() < files[j].Name()
	})

	var contents []string
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".md") || name == plannerPromptFile || name == classifierPromptFile {
			continue
		}
		path := filepath.Join(pm.Directory, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: Failed to read prompt file %s: %v", path, err)
			continue
		}
		contents = append(contents, string(data))
	}

	if len(contents) == 0 {
		return "", fmt.Errorf("no prompt files found in %s", pm.Directory)
	}

	return strings.Join(contents, "\n\n---\n\n"), nil
}

// GetPlannerPrompt returns planner.md, or the built-in prompt when absent.
func (pm *PromptManager) GetPlannerPrompt() string {
	return pm.readOr(plannerPromptFile, defaultPlannerPrompt)
}

// GetClassifierPrompt returns classifier.md, or the built-in prompt when absent.
func (pm *PromptManager) GetClassifierPrompt() string {
	return pm.readOr(classifierPromptFile, defaultClassifierPrompt)
}

func (pm *PromptManager) readOr(name, fallback string) string {
	if pm == nil || pm.Directory == "" {
		return fallback
	}
	data, err := os.ReadFile(filepath.Join(pm.Directory, name))
	if err != nil {
		return fallback
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		return s
	}
	return fallback
}
