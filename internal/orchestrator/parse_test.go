package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milo/internal/observer"
)

func TestParseWellFormedJSON(t *testing.T) {
	r := parseResponse(`{"response": "done", "thought": "easy"}`, "")
	assert.Equal(t, "done", r.Response)
	assert.Equal(t, "easy", r.Thought)
}

func TestParseFencedJSON(t *testing.T) {
	text := "Here you go:\n```json\n{\"response\": \"fenced\"}\n```"
	r := parseResponse(text, "")
	assert.Equal(t, "fenced", r.Response)
}

func TestParseFallsBackToStreamBuffer(t *testing.T) {
	// Final text is garbage but the stream buffer held a parseable object.
	r := parseResponse("not json at all %%%", `{"response": "from buffer"}`)
	assert.Equal(t, "from buffer", r.Response)
}

func TestParseActionEnvelopeInProse(t *testing.T) {
	text := `I will search now. {"action": "search_project", "parameters": {"pattern": "TODO"}} Done.`
	r := parseResponse(text, "")
	assert.Equal(t, "TODO", r.SearchProject)
}

func TestParseLooseKeyValues(t *testing.T) {
	text := "response: I finished the refactor\nthought: it was straightforward\nrandom: ignored"
	r := parseResponse(text, "")
	assert.Equal(t, "I finished the refactor", r.Response)
	assert.Equal(t, "it was straightforward", r.Thought)
	assert.NotContains(t, r.Raw, "random")
}

func TestParsePlainTextBecomesResponse(t *testing.T) {
	r := parseResponse("  just prose, no structure at all  ", "")
	assert.Equal(t, "just prose, no structure at all", r.Response)
}

func TestResponseAliasNormalization(t *testing.T) {
	for _, alias := range []string{"message", "reply", "answer", "output", "result", "assistant_response", "final_response", "final_answer"} {
		r := fromMap(map[string]any{alias: "via " + alias})
		assert.Equal(t, "via "+alias, r.Response, alias)
	}
	for _, alias := range []string{"reasoning", "analysis", "thinking"} {
		r := fromMap(map[string]any{alias: "thinking text"})
		assert.Equal(t, "thinking text", r.Thought, alias)
	}
}

func TestCanonicalKeyWinsOverAlias(t *testing.T) {
	r := fromMap(map[string]any{"response": "canonical", "message": "alias"})
	assert.Equal(t, "canonical", r.Response)
}

func TestAskUserVariantsFold(t *testing.T) {
	r := fromMap(map[string]any{
		"ask_user_questions": []any{"q1", "q2"},
		"ask_user":           []any{"q2", "q3"},
	})
	assert.Equal(t, []string{"q1", "q2", "q3"}, r.AskUserQuestions)
}

func TestActionEnvelopeUnwrap(t *testing.T) {
	r := fromMap(map[string]any{
		"action":     "web_search",
		"parameters": map[string]any{"queries": []any{"golang errgroup"}},
	})
	require.NotNil(t, r.WebSearch)
	assert.Equal(t, []string{"golang errgroup"}, r.WebSearch.Queries)
}

func TestActionEnvelopeWithoutParams(t *testing.T) {
	r := fromMap(map[string]any{"action": "detailed_map"})
	assert.True(t, r.DetailedMap)
}

func TestChangesPathContentFallbacks(t *testing.T) {
	r := fromMap(map[string]any{
		"changes": []any{
			map[string]any{"path": "a.go", "content": "package a"},
			map[string]any{"file": "b.go", "original": "old", "edited": "new"},
			map[string]any{"original": "no file key"},
		},
	})
	require.Len(t, r.Changes, 2)
	assert.Equal(t, "a.go", r.Changes[0].File)
	assert.Equal(t, "package a", r.Changes[0].Edited)
	assert.Equal(t, "old", r.Changes[1].Original)
}

func TestCommandsAcceptStringsAndObjects(t *testing.T) {
	r := fromMap(map[string]any{
		"commands": []any{
			"go vet ./...",
			map[string]any{"command": "go test ./...", "reason": "verify"},
		},
	})
	require.Len(t, r.Commands, 2)
	assert.Equal(t, "go vet ./...", r.Commands[0].Command)
	assert.Equal(t, "verify", r.Commands[1].Reason)
}

func TestWebSearchShapes(t *testing.T) {
	single := fromMap(map[string]any{"web_search": "plain query"})
	require.NotNil(t, single.WebSearch)
	assert.Equal(t, []string{"plain query"}, single.WebSearch.Queries)
	assert.Equal(t, "text", single.WebSearch.Type)

	object := fromMap(map[string]any{"web_search": map[string]any{"query": "q", "type": "news"}})
	require.NotNil(t, object.WebSearch)
	assert.Equal(t, "news", object.WebSearch.Type)

	empty := fromMap(map[string]any{"web_search": map[string]any{}})
	assert.Nil(t, empty.WebSearch)
}

func TestTerminalPrimaryKeyShorthand(t *testing.T) {
	r := fromMap(map[string]any{
		"terminal_spawn": "npm run dev",
		"terminal_read":  "session-1",
	})
	require.NotNil(t, r.TerminalSpawn)
	assert.Equal(t, "npm run dev", r.TerminalSpawn.Command)
	require.NotNil(t, r.TerminalRead)
	assert.Equal(t, "session-1", r.TerminalRead.ID)
}

func TestWebSearchTopLevelModifiers(t *testing.T) {
	r := fromMap(map[string]any{
		"web_search":       []any{"q"},
		"web_search_type":  "news",
		"web_search_limit": float64(5),
	})
	require.NotNil(t, r.WebSearch)
	assert.Equal(t, "news", r.WebSearch.Type)
	assert.Equal(t, 5, r.WebSearch.Limit)
}

func TestMCPCallServerToolShape(t *testing.T) {
	r := fromMap(map[string]any{"mcp_call": map[string]any{
		"server": "fs", "tool": "read", "args": map[string]any{"path": "x"},
	}})
	require.NotNil(t, r.MCPCall)
	assert.Equal(t, "fs.read", r.MCPCall.Tool)
	assert.Equal(t, "x", r.MCPCall.Arguments["path"])
}

func TestMCPCallToolNameFallback(t *testing.T) {
	r := fromMap(map[string]any{"mcp_call": map[string]any{"name": "fs.read", "arguments": map[string]any{"path": "x"}}})
	require.NotNil(t, r.MCPCall)
	assert.Equal(t, "fs.read", r.MCPCall.Tool)
	assert.Equal(t, "x", r.MCPCall.Arguments["path"])
}

func TestHasToolRequest(t *testing.T) {
	assert.False(t, (&ModelResponse{Response: "chat only"}).HasToolRequest())
	assert.True(t, (&ModelResponse{SearchProject: "x"}).HasToolRequest())
	assert.True(t, (&ModelResponse{LintProject: true}).HasToolRequest())
}

func TestFillFromSnapshotPatchesMissingFields(t *testing.T) {
	r := &ModelResponse{}
	fillFromSnapshot(r, observer.Snapshot{
		Fields: map[string]string{"response": "streamed text", "thought": "streamed thought"},
	})
	assert.Equal(t, "streamed text", r.Response)
	assert.Equal(t, "streamed thought", r.Thought)

	// A parsed value is never overwritten by the snapshot.
	r = &ModelResponse{Response: "parsed"}
	fillFromSnapshot(r, observer.Snapshot{Fields: map[string]string{"response": "streamed"}})
	assert.Equal(t, "parsed", r.Response)
}

func TestFillFromSnapshotInfersWebSearchIntent(t *testing.T) {
	r := &ModelResponse{}
	fillFromSnapshot(r, observer.Snapshot{
		Fields:       map[string]string{"response": "\nlook this up\nmore"},
		SeenToolKeys: []string{"web_search"},
	})
	require.NotNil(t, r.WebSearch)
	assert.Equal(t, []string{"look this up"}, r.WebSearch.Queries)
}

func TestClaimsFileEdits(t *testing.T) {
	assert.True(t, claimsFileEdits("I updated `main.go` with the fix."))
	assert.True(t, claimsFileEdits("Created config.yaml and wired it in."))
	assert.False(t, claimsFileEdits("I updated my understanding of the problem."))
	assert.False(t, claimsFileEdits("Look at main.go for details."))
}

func TestSynthesizeSinglePathSingleBlock(t *testing.T) {
	text := "I created `hello.py`:\n```python\nprint(\"hi\")\n```\n"
	changes := synthesizeChanges(text)
	require.Len(t, changes, 1)
	assert.Equal(t, "hello.py", changes[0].File)
	assert.Equal(t, "print(\"hi\")\n", changes[0].Edited)
	assert.Empty(t, changes[0].Original, "whole-file write")
}

func TestSynthesizePathAfterBlock(t *testing.T) {
	text := "```go\npackage a\n```\nSaved the above to `a.go`.\n" +
		"```go\npackage b\n```\nAnd this to `b.go`."
	changes := synthesizeChanges(text)
	require.Len(t, changes, 2)
	assert.Equal(t, "a.go", changes[0].File)
	assert.Equal(t, "package a\n", changes[0].Edited)
	assert.Equal(t, "b.go", changes[1].File)
	assert.Equal(t, "package b\n", changes[1].Edited)
}

func TestSynthesizeNoBlocksNoChanges(t *testing.T) {
	assert.Nil(t, synthesizeChanges("I updated `main.go`, trust me."))
}

func TestStripFencedBlocks(t *testing.T) {
	text := "before\n```go\ncode\n```\nafter"
	stripped := stripFencedBlocks(text)
	assert.NotContains(t, stripped, "code")
	assert.Contains(t, stripped, "before")
	assert.Contains(t, stripped, "after")
}

func TestEditDistanceAndClosestMatch(t *testing.T) {
	assert.Equal(t, 0, editDistance("plan", "plan"))
	assert.Equal(t, 1, editDistance("plan", "plen"))
	assert.Equal(t, 4, editDistance("", "plan"))

	candidates := []string{"help", "model", "access", "sessions"}
	assert.Equal(t, "model", closestMatch("modle", candidates))
	assert.Equal(t, "help", closestMatch("hepl", candidates))
	assert.Equal(t, "", closestMatch("zzzzzz", candidates), "no candidate within distance")
}
