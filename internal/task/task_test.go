package task

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milo/internal/session"
)

func TestDetectBuildIntent(t *testing.T) {
	assert.True(t, DetectBuildIntent("fix the race in the watcher"))
	assert.True(t, DetectBuildIntent("please REFACTOR the session store"))
	assert.True(t, DetectBuildIntent("add a --json flag"))
	assert.False(t, DetectBuildIntent("what does the session store do?"))
	assert.False(t, DetectBuildIntent("explain this stack trace"))
}

func TestContractPerMode(t *testing.T) {
	plan := contractFor(ModePlan)
	assert.Equal(t, "plan", plan.Phase)
	assert.False(t, plan.MustUseChangesForCode)

	apply := contractFor(ModeApply)
	assert.Equal(t, "apply", apply.Phase)
	assert.True(t, apply.MustUseChangesForCode)
	assert.True(t, apply.NoCodeBlocksInResponse)
}

func TestReferencedPathsOnlyExistingFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "internal"), 0o755))

	b := &Builder{Root: root}
	paths := b.referencedPaths("look at main.go and ghost.go and internal")
	require.Len(t, paths, 1, "missing files and directories are dropped")
	assert.Equal(t, filepath.Join(root, "main.go"), paths[0])

	// Mentioning the same file twice attaches it once.
	paths = b.referencedPaths("main.go then main.go again")
	assert.Len(t, paths, 1)
}

func TestBuildAttachesReferencedFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "cfg.json"), []byte(`{"a":1}`), 0o644))

	b := &Builder{Root: root, EffortLevel: "medium", ReasoningLevel: "medium"}
	p := b.Build("update cfg.json to add a field", ModeApply, false, nil, nil)

	assert.True(t, p.BuildIntent)
	require.Len(t, p.ContextFiles, 1)
	assert.Equal(t, `{"a":1}`, p.ContextFiles[0].Content)
	assert.Empty(t, p.ProjectMap, "apply mode without SeeProject skips the map")
}

func TestBuildSplitsImagesFromFileContext(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "logo.png"), []byte{0x89, 'P', 'N', 'G'}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))

	b := &Builder{Root: root}
	p := b.Build("update main.go to embed logo.png", ModeApply, false, nil, nil)

	require.Len(t, p.ImageFiles, 1)
	assert.Equal(t, filepath.Join(root, "logo.png"), p.ImageFiles[0])
	require.Len(t, p.ContextFiles, 1, "image bytes never land in file context")
	assert.Equal(t, filepath.Join(root, "main.go"), p.ContextFiles[0].Path)
	assert.Len(t, p.ReferencedPaths, 2, "both references stay recorded")
}

func TestBuildSeeProjectIncludesListing(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "a.go"), []byte("package pkg"), 0o644))

	b := &Builder{Root: root, SeeProject: true}
	p := b.Build("what lives where?", ModeApply, false, nil, nil)
	assert.Contains(t, p.ProjectListing, filepath.Join("pkg", "a.go"))
	assert.Contains(t, p.ProjectMap, "a.go", "see mode also carries the map")

	plain := &Builder{Root: root}
	assert.Empty(t, plain.Build("same question", ModeApply, false, nil, nil).ProjectListing,
		"listing is a see-mode extra")
}

func TestBuildPlanModeIncludesProjectMap(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "thing.go"), []byte("package thing"), 0o644))

	b := &Builder{Root: root}
	p := b.Build("how should we structure this?", ModePlan, false, nil, nil)
	assert.Contains(t, p.ProjectMap, "thing.go")
}

func TestBuildInjectsHistory(t *testing.T) {
	sess := &session.File{Name: "s"}
	sess.Append(session.RoleUser, "earlier question", 0)
	sess.Append(session.RoleAssistant, "earlier answer", 0)

	b := &Builder{Root: t.TempDir()}
	p := b.Build("follow-up", ModeApply, false, sess, nil)
	require.Len(t, p.History, 2)
	assert.Equal(t, "earlier question", p.History[0].Content)
}

func TestRenderSections(t *testing.T) {
	p := &Payload{
		Mode:        ModeApply,
		Instruction: "do the thing",
		Contract:    contractFor(ModeApply),
		UserOS:      "linux",
		EffortLevel: "high",
		History: []session.Entry{
			{Role: session.RoleUser, Content: "hi"},
		},
		ProjectMap: "main.go\n",
	}
	text := p.Render()

	assert.Contains(t, text, "## Instruction\ndo the thing")
	assert.Contains(t, text, "phase: apply")
	assert.Contains(t, text, "never inline code blocks")
	assert.Contains(t, text, "## Conversation so far")
	assert.Contains(t, text, "[user] hi")
	assert.Contains(t, text, "## Project map")

	// Section order: instruction, contract, history, map.
	assert.Less(t, strings.Index(text, "## Instruction"), strings.Index(text, "## Execution contract"))
	assert.Less(t, strings.Index(text, "## Execution contract"), strings.Index(text, "## Conversation so far"))
	assert.Less(t, strings.Index(text, "## Conversation so far"), strings.Index(text, "## Project map"))
}

func TestRenderImageAndListingSections(t *testing.T) {
	p := &Payload{
		Instruction:    "describe the screenshot",
		Contract:       contractFor(ModeApply),
		ImageFiles:     []string{"/proj/shot.png"},
		ProjectMap:     "main.go\n",
		ProjectListing: "main.go\npkg/a.go\n",
	}
	text := p.Render()

	assert.Contains(t, text, "## Image files\n/proj/shot.png\n")
	assert.Contains(t, text, "## Project listing\nmain.go\npkg/a.go\n")
	assert.Less(t, strings.Index(text, "## Image files"), strings.Index(text, "## Project map"))
	assert.Less(t, strings.Index(text, "## Project map"), strings.Index(text, "## Project listing"))
}

func TestRenderMissionBlock(t *testing.T) {
	p := &Payload{
		Instruction: "continue",
		Contract:    contractFor(ModeApply),
		Mission: &MissionData{
			Objective:   "ship the feature",
			Step:        3,
			PlanText:    "1. do a\n2. do b",
			ForceAction: true,
		},
	}
	text := p.Render()
	assert.Contains(t, text, "objective: ship the feature")
	assert.Contains(t, text, "step: 3")
	assert.Contains(t, text, "1. do a")
	assert.Contains(t, text, "MUST emit changes, commands, or a tool request")
}

func TestSystemPromptStablePerMode(t *testing.T) {
	plan1 := SystemPrompt(ModePlan)
	plan2 := SystemPrompt(ModePlan)
	assert.Equal(t, plan1, plan2, "continuation fingerprints depend on stability")

	apply := SystemPrompt(ModeApply)
	assert.NotEqual(t, plan1, apply)
	for _, key := range []string{"response", "changes", "commands", "request_files", "search_project", "mission_complete"} {
		assert.Contains(t, apply, key)
	}
}
