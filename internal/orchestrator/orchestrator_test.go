package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milo/internal/applier"
	"milo/internal/bus"
	"milo/internal/config"
	"milo/internal/diffstat"
	"milo/internal/llm"
	"milo/internal/logging"
	"milo/internal/policy"
	"milo/internal/runner"
	"milo/internal/session"
	"milo/internal/task"
	"milo/internal/tools"
)

// scriptedProvider replays canned answers in order and records every rendered
// task prompt it was sent.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	tasks   []string
}

func (p *scriptedProvider) Name() string { return "stub" }

func (p *scriptedProvider) Validate(context.Context) error { return nil }

func (p *scriptedProvider) Call(_ context.Context, req llm.Request) (*llm.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, req.Task)
	text := `{"response":"done"}`
	if len(p.replies) > 0 {
		text = p.replies[0]
		p.replies = p.replies[1:]
	}
	return &llm.Result{Text: text, Usage: llm.Usage{InputTokens: 1000, OutputTokens: 1000}}, nil
}

func (p *scriptedProvider) sentTasks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tasks...)
}

// scriptedPrompter records prompts and replays canned answers.
type scriptedPrompter struct {
	confirmAnswers []bool
	confirms       []string
	askAnswers     []string
	asks           []string
}

func (p *scriptedPrompter) Ask(question string) string {
	p.asks = append(p.asks, question)
	if len(p.askAnswers) == 0 {
		return ""
	}
	answer := p.askAnswers[0]
	p.askAnswers = p.askAnswers[1:]
	return answer
}

func (p *scriptedPrompter) Confirm(message string) bool {
	p.confirms = append(p.confirms, message)
	if len(p.confirmAnswers) == 0 {
		return true
	}
	answer := p.confirmAnswers[0]
	p.confirmAnswers = p.confirmAnswers[1:]
	return answer
}

// scriptedAccess answers policy prompts without a terminal.
type scriptedAccess struct {
	mode  policy.Mode
	allow func(path string) bool
}

func (s *scriptedAccess) AskMode(string) policy.Mode { return s.mode }
func (s *scriptedAccess) AskPath(path, _ string) bool {
	if s.allow == nil {
		return true
	}
	return s.allow(path)
}

type fixture struct {
	orch     *Orchestrator
	provider *scriptedProvider
	prompter *scriptedPrompter
	access   *scriptedAccess
	cfg      *config.Config
	root     string

	mu      sync.Mutex
	events  []bus.Event
	notices []string
}

func (f *fixture) errorEvents() []bus.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []bus.Event
	for _, event := range f.events {
		if event.Phase == bus.PhaseError {
			out = append(out, event)
		}
	}
	return out
}

func (f *fixture) noticeText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.notices, "\n")
}

func newFixture(t *testing.T, replies ...string) *fixture {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("MILO_DATA_DIR", dataDir)

	cfg := config.Default()
	cfg.RunPolicy = config.RunPolicyAlways
	cfg.WebBrowsingAllowed = false
	cfg.MaxBudget = 0
	cfg.StreamRetryCount = 0
	cfg.StreamTimeoutMS = 10000

	f := &fixture{
		provider: &scriptedProvider{replies: replies},
		prompter: &scriptedPrompter{},
		access:   &scriptedAccess{mode: policy.ModeFull},
		cfg:      cfg,
		root:     t.TempDir(),
	}

	events := bus.New()
	events.Subscribe(func(event bus.Event) {
		f.mu.Lock()
		f.events = append(f.events, event)
		f.mu.Unlock()
	})

	sessions := session.NewStore(filepath.Join(dataDir, "sessions"), filepath.Join(dataDir, ".active_session"))
	sess, err := sessions.Create("turns")
	require.NoError(t, err)

	f.orch = New(Options{
		Config:      cfg,
		Sessions:    sessions,
		Session:     sess,
		Provider:    f.provider,
		Builder:     &task.Builder{Root: f.root, EffortLevel: "medium", ReasoningLevel: "medium"},
		Applier:     applier.New(),
		Runner:      runner.New(events, runner.NewLog(filepath.Join(dataDir, "logs"))),
		Grant:       policy.NewGrant(f.access),
		Events:      events,
		Diffs:       diffstat.NewTracker(filepath.Join(dataDir, "logs")),
		Terminals:   tools.NewTerminalRegistry(logging.Nop()),
		Prompter:    f.prompter,
		Root:        f.root,
		LintCommand: "echo declared-and-not-used",
		Notify: func(message string) {
			f.mu.Lock()
			f.notices = append(f.notices, message)
			f.mu.Unlock()
		},
	})
	return f
}

func TestTurnAppliesChangesUnderFullAccess(t *testing.T) {
	f := newFixture(t,
		`{"response":"wrote the greeting","changes":[{"file":"hello.txt","original":"","edited":"hi\n"}]}`)

	result, err := f.orch.RunTurn(context.Background(), "create hello.txt with a greeting")
	require.NoError(t, err)
	assert.Equal(t, 1, result["applied_changes"])

	data, err := os.ReadFile(filepath.Join(f.root, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(data))
}

func TestSelectiveDenialFiltersChangesAndReports(t *testing.T) {
	f := newFixture(t,
		`{"response":"writing both","changes":[`+
			`{"file":"ok.txt","original":"","edited":"fine\n"},`+
			`{"file":"secret.txt","original":"","edited":"nope\n"}]}`)
	f.access.mode = policy.ModeSelective
	f.access.allow = func(path string) bool {
		return !strings.HasSuffix(path, "secret.txt")
	}

	result, err := f.orch.RunTurn(context.Background(), "create ok.txt and secret.txt")
	require.NoError(t, err)

	// The permitted change lands, the denied one never touches disk.
	data, err := os.ReadFile(filepath.Join(f.root, "ok.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fine\n", string(data))
	_, statErr := os.Stat(filepath.Join(f.root, "secret.txt"))
	assert.True(t, os.IsNotExist(statErr))

	assert.Equal(t, 1, result["applied_changes"])
	assert.Contains(t, result["response"], "File access denied by session policy.")

	errs := f.errorEvents()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "secret.txt")
}

func TestBudgetPromptFiresOncePerSession(t *testing.T) {
	f := newFixture(t, `{"response":"first"}`, `{"response":"second"}`)
	f.cfg.MaxBudget = 0.001 // each scripted call costs 0.002

	_, err := f.orch.RunTurn(context.Background(), "hello there")
	require.NoError(t, err)
	require.Len(t, f.prompter.confirms, 1)
	assert.Contains(t, f.prompter.confirms[0], "exceeds budget")

	// Acknowledged once, the next turn runs without re-prompting and the
	// configured budget is left untouched.
	_, err = f.orch.RunTurn(context.Background(), "hello again")
	require.NoError(t, err)
	assert.Len(t, f.prompter.confirms, 1)
	assert.Equal(t, 0.001, f.cfg.MaxBudget)
}

func TestBudgetDeclineKeepsAsking(t *testing.T) {
	f := newFixture(t, `{"response":"first"}`, `{"response":"second"}`)
	f.cfg.MaxBudget = 0.001
	f.prompter.confirmAnswers = []bool{false, false}

	_, err := f.orch.RunTurn(context.Background(), "hello there")
	require.NoError(t, err)
	_, err = f.orch.RunTurn(context.Background(), "hello again")
	require.NoError(t, err)
	assert.Len(t, f.prompter.confirms, 2, "declining never acknowledges the budget")
}

func TestEditClaimAndCodeFirstRetriesFireOnce(t *testing.T) {
	claim := `{"response":"I updated main.go for you"}`
	f := newFixture(t, claim, claim, claim)

	_, err := f.orch.RunTurn(context.Background(), "tidy up the greeting")
	require.NoError(t, err)

	tasks := f.provider.sentTasks()
	require.Len(t, tasks, 3, "one strict retry, one code-first retry, then stop")
	assert.Contains(t, tasks[1], "claimed file modifications")
	assert.Contains(t, tasks[2], "requires concrete output")
}

func TestToolPassCeilingOnInteractiveTurn(t *testing.T) {
	reply := `{"response":"mapping","detailed_map":true}`
	f := newFixture(t, reply, reply, reply, reply, reply, reply, reply, reply)

	_, err := f.orch.RunTurn(context.Background(), "show the project overview")
	require.NoError(t, err)

	assert.Len(t, f.provider.sentTasks(), maxToolPassesPerStep+1)
	assert.Contains(t, f.noticeText(), "tool pass limit reached")
}

func TestLintLoopGuardRecoversThenAborts(t *testing.T) {
	lint := `{"response":"checking","lint_project":true}`
	f := newFixture(t, lint, lint, lint)

	result, err := f.orch.RunTurn(context.Background(), "run the linter until clean")
	require.NoError(t, err)
	assert.Equal(t, "lint loop aborted", result["response"])

	tasks := f.provider.sentTasks()
	require.Len(t, tasks, 3)
	assert.Contains(t, tasks[2], "LOOP GUARD")
	assert.Contains(t, f.noticeText(), "not converging")
}

func TestMissionIdleForcesActionThenAborts(t *testing.T) {
	f := newFixture(t)
	f.cfg.MissionMode = true
	f.cfg.MissionMaxSteps = 10
	f.cfg.MissionIdleStepThreshold = 1
	f.provider.replies = []string{
		`{"response":"thinking","plan":"look around"}`, // step 1 plan
		`{"response":"still thinking"}`,                // step 1 exec: idle, trips the threshold
		`{"response":"thinking","plan":"try harder"}`,  // step 2 plan, forced
		`{"response":"still thinking"}`,                // step 2 exec: idle
		`{"response":"thinking","plan":"try harder"}`,  // step 3 plan, forced
		`{"response":"still thinking"}`,                // step 3 exec: idle, force budget spent
	}

	_, err := f.orch.RunTurn(context.Background(), "survey the repository layout")
	require.NoError(t, err)

	tasks := f.provider.sentTasks()
	require.Len(t, tasks, 6, "two forced steps after the idle trip, then abort")
	assert.Contains(t, tasks[2], "MUST emit changes, commands, or a tool request")
	assert.Contains(t, f.noticeText(), "no progress even with forced action")
}

func TestMissionCompleteMarkerEndsAtPlanning(t *testing.T) {
	f := newFixture(t, `{"response":"all good","plan":"MISSION COMPLETE: nothing left to do"}`)
	f.cfg.MissionMode = true
	f.cfg.MissionMaxSteps = 10

	result, err := f.orch.RunTurn(context.Background(), "survey the repository layout")
	require.NoError(t, err)
	assert.Len(t, f.provider.sentTasks(), 1, "the marker ends the mission before execution")
	assert.Contains(t, result["plan"], "MISSION COMPLETE")
}
