package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/TheSmartAz/zaoya/pkg/config"
	"github.com/TheSmartAz/zaoya/pkg/llm"
	"github.com/TheSmartAz/zaoya/pkg/models"
)

const implementerSystemPrompt = `You are the implementer for a website generator.
Given one task, the current state of its files, and optional reviewer
feedback, produce a unified diff that completes the task. Touch at most 5
files. Keep changes minimal and apply cleanly to the provided file
contents: context lines must match exactly. Respond with a single JSON
object matching the required schema and nothing else.`

// ImplementerInput is the typed input for one implementation call.
type ImplementerInput struct {
	Task        models.Task
	StateDigest string
	// Files maps project-relative paths to current contents.
	Files    map[string]string
	Feedback *models.ReviewFeedback
}

// Implementer produces PatchSets for tasks.
type Implementer struct {
	base *BaseAgent
}

// NewImplementer creates the implementer agent.
func NewImplementer(transport llm.Transport, modelCfg *config.ModelConfig) *Implementer {
	return &Implementer{
		base: NewBaseAgent(
			config.RoleImplementer,
			implementerSystemPrompt,
			ImplementerTemperature,
			compileSchema("patch_set.json", patchSetSchemaDoc),
			transport,
			modelCfg,
		),
	}
}

// Implement runs one implementation call for the task.
func (im *Implementer) Implement(ctx context.Context, in ImplementerInput) (*models.PatchSet, *CallMeta, error) {
	var sb strings.Builder
	section(&sb, "Task", mustJSON(in.Task))
	section(&sb, "Build state", in.StateDigest)
	if in.Feedback != nil {
		section(&sb, "Reviewer feedback", mustJSON(in.Feedback))
	}
	for _, path := range sortedKeys(in.Files) {
		section(&sb, "File: "+path, in.Files[path])
	}

	var patch models.PatchSet
	meta, err := im.base.call(ctx, sb.String(), &patch)
	if err != nil {
		return nil, meta, err
	}
	if patch.TaskID == "" {
		patch.TaskID = in.Task.ID
	}
	if len(patch.TouchedFiles) > models.MaxExpectedFiles {
		return nil, meta, fmt.Errorf("patch touches %d files, max is %d",
			len(patch.TouchedFiles), models.MaxExpectedFiles)
	}
	return &patch, meta, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
