// Package orchestrator implements the per-turn state machine: build the
// request, call the provider with streaming recovery, parse and normalize the
// answer, execute tools, apply edits under the access policy, run commands,
// and persist the turn. Several branches recurse with one-shot retry flags.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"milo/internal/applier"
	"milo/internal/bus"
	"milo/internal/config"
	"milo/internal/diffstat"
	"milo/internal/llm"
	"milo/internal/logging"
	"milo/internal/mcp"
	"milo/internal/observer"
	"milo/internal/policy"
	"milo/internal/runner"
	"milo/internal/session"
	"milo/internal/stream"
	"milo/internal/task"
	"milo/internal/tools"
)

const (
	maxConsecutiveLintCycles = 2
	maxToolPassesPerStep     = 6
	maxSummaryEntries        = 20
	toolOutputLimit          = 8000
)

// Rough blended pricing used only for the budget guard.
const (
	costPerKInputTokens  = 0.0005
	costPerKOutputTokens = 0.0015
)

// Prompter is how the orchestrator blocks on the user: clarifying questions
// and yes/no decisions.
type Prompter interface {
	Ask(question string) string
	Confirm(prompt string) bool
}

// CommandRegistry dispatches slash commands. Names feeds the did-you-mean
// hint for unknown commands.
type CommandRegistry interface {
	Dispatch(name, args string) bool
	Names() []string
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Config    *config.Config
	Sessions  *session.Store
	Session   *session.File
	Provider  llm.Provider
	Builder   *task.Builder
	Applier   *applier.Applier
	Runner    *runner.Runner
	Grant     *policy.Grant
	Events    *bus.Bus
	Diffs     *diffstat.Tracker
	Terminals *tools.TerminalRegistry
	Searcher  tools.WebSearcher
	Browser   *tools.Browser
	MCP       *mcp.Registry
	Prompter  Prompter
	Commands  CommandRegistry
	Root      string
	// LintCommand is the shell command run for lint_project requests.
	LintCommand string
	// OnDelta receives decoded streaming field deltas for the UI panel.
	OnDelta func(field, delta string)
	// Render is the UI repaint hook, driven through the render throttler.
	Render func()
	// Notify surfaces warnings and notices to the user.
	Notify func(message string)
}

// Orchestrator drives one user turn at a time. Not safe for concurrent turns.
type Orchestrator struct {
	cfg       *config.Config
	sessions  *session.Store
	sess      *session.File
	provider  llm.Provider
	builder   *task.Builder
	applier   *applier.Applier
	runner    *runner.Runner
	grant     *policy.Grant
	events    *bus.Bus
	diffs     *diffstat.Tracker
	terminals *tools.TerminalRegistry
	searcher  tools.WebSearcher
	browser   *tools.Browser
	mcps      *mcp.Registry
	prompter  Prompter
	commands  CommandRegistry
	root      string
	lintCmd   string
	onDelta   func(field, delta string)
	render    func()
	notify    func(string)
	log       logging.Logger

	costUSD float64
	// budgetAcknowledged is set when the user approves continuing past the
	// budget, so the prompt fires once per session.
	budgetAcknowledged bool
}

// turnState is the per-user-turn recursion state. Retry flags fire at most
// once per turn.
type turnState struct {
	plan         bool
	fast         bool
	planExpanded bool

	strictChangeRetryUsed bool
	codeFirstRetryUsed    bool
	lintRecoveryUsed      bool

	toolPasses       int
	lintCycles       int
	lastLintDigest   string
	lastAppliedFiles int
	appliedFiles     int
	ranCommands      int

	objective string
	mission   *task.MissionData
}

// New builds an Orchestrator from its collaborators.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:       opts.Config,
		sessions:  opts.Sessions,
		sess:      opts.Session,
		provider:  opts.Provider,
		builder:   opts.Builder,
		applier:   opts.Applier,
		runner:    opts.Runner,
		grant:     opts.Grant,
		events:    opts.Events,
		diffs:     opts.Diffs,
		terminals: opts.Terminals,
		searcher:  opts.Searcher,
		browser:   opts.Browser,
		mcps:      opts.MCP,
		prompter:  opts.Prompter,
		commands:  opts.Commands,
		root:      opts.Root,
		lintCmd:   opts.LintCommand,
		onDelta:   opts.OnDelta,
		render:    opts.Render,
		notify:    opts.Notify,
		log:       logging.NewComponentLogger("orchestrator"),
	}
	if o.notify == nil {
		o.notify = func(string) {}
	}
	return o
}

// SetCommandRegistry installs the slash-command registry. Separate from New
// because the registry usually needs the orchestrator's owner.
func (o *Orchestrator) SetCommandRegistry(registry CommandRegistry) {
	o.commands = registry
}

// RunTurn processes one user input and returns the normalized result map,
// or nil when the input was routed elsewhere (slash command, mission).
func (o *Orchestrator) RunTurn(ctx context.Context, text string) (map[string]any, error) {
	st := &turnState{objective: firstNonEmptyLine(text), fast: o.cfg.FastMode}
	return o.run(ctx, text, st)
}

func (o *Orchestrator) run(ctx context.Context, text string, st *turnState) (map[string]any, error) {
	// Route.
	if strings.HasPrefix(text, "/") {
		o.routeSlashCommand(text)
		return nil, nil
	}

	// Mission dispatch.
	if o.cfg.MissionMode && st.mission == nil {
		return o.RunMission(ctx, text)
	}

	// Planning expansion.
	if o.cfg.PlanningMode && !st.plan && !st.planExpanded {
		return o.expandWithPlan(ctx, text, st)
	}

	// Auto-compact.
	if session.ShouldCompact(o.sess, o.cfg.ContextWindow(), o.cfg.AutoCompactThresholdPct) {
		session.Compact(o.sess, o.cfg.AutoCompactKeepRecent, maxSummaryEntries)
		o.log.Info("session compacted to %d entries", len(o.sess.Session))
	}

	// Request build.
	mode := task.ModeApply
	if st.plan {
		mode = task.ModePlan
	}
	payload := o.builder.Build(text, mode, st.fast, o.sess, st.mission)
	systemPrompt := task.SystemPrompt(mode)
	if o.provider.Name() == config.LocalProvider {
		if cont, warm := o.sess.WarmContinuation(o.cfg.Provider().Model, systemPrompt); warm {
			payload.Continuation = cont.Tokens
		}
	}

	// Provider call.
	result, obs, health, err := o.callProvider(ctx, systemPrompt, payload)
	if err != nil {
		o.sess.InvalidateContinuation()
		o.emitError(fmt.Sprintf("provider call failed: %v", err))
		return nil, err
	}
	o.recordUsage(result.Usage)
	if o.provider.Name() == config.LocalProvider && len(result.Continuation) > 0 {
		o.sess.SetContinuation(session.Continuation{
			Tokens:            result.Continuation,
			ModelName:         o.cfg.Provider().Model,
			Valid:             true,
			PromptFingerprint: session.Fingerprint(systemPrompt),
		})
	}
	o.log.Debug("provider answered: %d chars, attempts=%d fallback=%v",
		len(result.Text), health.Attempts, health.FallbackUsed)

	// Parse + normalize.
	resp := parseResponse(result.Text, obs.Buffer())
	fillFromSnapshot(resp, obs.Snapshot())

	// Tool execution.
	if resp.HasToolRequest() {
		if st.toolPasses >= maxToolPassesPerStep {
			o.notify("tool pass limit reached for this step; continuing with available context")
		} else {
			return o.runToolPass(ctx, resp, st)
		}
	}

	// Clarification.
	if len(resp.AskUserQuestions) > 0 && st.mission == nil {
		return o.runClarification(ctx, text, resp, st)
	}

	// Budget check.
	if o.cfg.MaxBudget > 0 && o.costUSD > o.cfg.MaxBudget && !o.budgetAcknowledged {
		if !o.prompter.Confirm(fmt.Sprintf("Session cost estimate $%.2f exceeds budget $%.2f. Continue?", o.costUSD, o.cfg.MaxBudget)) {
			return o.finishTurn(text, resp, st)
		}
		o.budgetAcknowledged = true
	}

	// Edit-claim detector.
	if len(resp.Changes) == 0 && claimsFileEdits(resp.Response) && !strings.Contains(resp.Response, "```") {
		if !st.strictChangeRetryUsed {
			st.strictChangeRetryUsed = true
			correction := text + "\n\nSYSTEM CORRECTION: your previous answer claimed file modifications but delivered no `changes` array. Respond again with the concrete changes[] entries for every file you modified."
			return o.run(ctx, correction, st)
		}
		o.log.Warn("model claimed edits without changes after strict retry")
	}

	// Code-first retry.
	if payload.BuildIntent && len(resp.Changes) == 0 && len(resp.Commands) == 0 &&
		len(resp.AskUserQuestions) == 0 && !st.codeFirstRetryUsed && st.mission == nil {
		st.codeFirstRetryUsed = true
		demand := text + "\n\nSYSTEM CORRECTION: this request requires concrete output. Respond with changes[] or commands[] that accomplish the task."
		return o.run(ctx, demand, st)
	}

	// Change synthesis from fenced blocks.
	if len(resp.Changes) == 0 && claimsFileEdits(resp.Response) && strings.Contains(resp.Response, "```") {
		if synthesized := synthesizeChanges(resp.Response); len(synthesized) > 0 {
			resp.Changes = synthesized
			resp.Response = stripFencedBlocks(resp.Response)
			o.log.Info("synthesized %d changes from fenced blocks", len(synthesized))
		}
	}

	// Access gate + apply.
	if len(resp.Changes) > 0 {
		o.applyChanges(resp, st)
	}

	// Command run.
	if len(resp.Commands) > 0 {
		o.runCommands(ctx, resp, st)
	}

	return o.finishTurn(text, resp, st)
}

// routeSlashCommand dispatches to the command registry, emitting a
// closest-match hint for unknown names.
func (o *Orchestrator) routeSlashCommand(text string) {
	name, args, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	if o.commands != nil && o.commands.Dispatch(name, strings.TrimSpace(args)) {
		return
	}
	hint := fmt.Sprintf("unknown command /%s", name)
	if o.commands != nil {
		if suggestion := closestMatch(name, o.commands.Names()); suggestion != "" {
			hint += fmt.Sprintf(" — did you mean /%s?", suggestion)
		}
	}
	o.notify(hint)
}

// expandWithPlan runs a planning sub-pass, writes the plan artifact, then
// re-runs the turn in apply mode with the plan appended.
func (o *Orchestrator) expandWithPlan(ctx context.Context, text string, st *turnState) (map[string]any, error) {
	planState := *st
	planState.plan = true
	planState.planExpanded = true
	planResult, err := o.run(ctx, text, &planState)
	if err != nil {
		return nil, err
	}
	planText := asString(planResult["plan"])
	if planText == "" {
		planText = asString(planResult["response"])
	}
	if path, err := WritePlanArtifact(text, planText, asString(planResult["thought"]), o.cfg.RunPolicy); err == nil {
		o.log.Info("plan artifact written: %s", path)
	} else {
		o.log.Warn("plan artifact write failed: %v", err)
	}

	st.planExpanded = true
	augmented := text + "\n\nAgreed plan:\n" + planText
	return o.run(ctx, augmented, st)
}

// runClarification asks each question, then recurses with the answers
// appended as a structured block.
func (o *Orchestrator) runClarification(ctx context.Context, text string, resp *ModelResponse, st *turnState) (map[string]any, error) {
	var answers strings.Builder
	answers.WriteString("\n\nASK_USER_ANSWER:\n")
	for i, question := range resp.AskUserQuestions {
		answer := o.prompter.Ask(question)
		fmt.Fprintf(&answers, "%d. Q: %s\n   A: %s\n", i+1, question, answer)
	}
	return o.run(ctx, text+answers.String(), st)
}

// applyChanges enforces the access policy, runs the applier, and records
// diff statistics.
func (o *Orchestrator) applyChanges(resp *ModelResponse, st *turnState) {
	changes := resp.Changes
	if o.cfg.StrictEditRequiresFullAccess && o.grant.Mode() != policy.ModeFull {
		o.notify("file edits require full project access; grant it with /access full")
		resp.Changes = nil
		return
	}

	var paths []string
	for i := range changes {
		changes[i].File = o.absPath(changes[i].File)
		paths = append(paths, changes[i].File)
	}
	decision := o.grant.EnsureAccess(paths, "apply model-proposed edits")
	if !decision.Allowed {
		o.emitError(fmt.Sprintf("File access denied by session policy: %s", strings.Join(decision.DeniedPaths, ", ")))
		resp.Response = strings.TrimSpace(resp.Response + "\nFile access denied by session policy.")
		var permitted []applier.Change
		for _, change := range changes {
			if !containsKey(decision.DeniedPaths, change.File) {
				permitted = append(permitted, change)
			}
		}
		changes = permitted
		resp.Changes = permitted
		if len(changes) == 0 {
			return
		}
	}

	before := make(map[string]string, len(changes))
	for _, change := range changes {
		before[change.File] = readFileOrEmpty(change.File)
	}

	progress := func(path string, existedBefore bool, idx, total int, phase applier.ProgressPhase) {
		status := bus.StatusStart
		if phase == applier.ProgressDone {
			status = bus.StatusEnd
		}
		o.events.Emit(bus.Event{
			Phase:    bus.PhaseWritingFile,
			Status:   status,
			Message:  fmt.Sprintf("writing %s (%d/%d)", path, idx+1, total),
			FilePath: path,
		})
	}
	if err := o.applier.Apply(changes, progress); err != nil {
		o.emitError(fmt.Sprintf("apply failed, rolled back: %v", err))
		resp.Changes = nil
		return
	}
	st.appliedFiles += len(changes)

	var stats []diffstat.FileStat
	for _, change := range changes {
		stats = append(stats, diffstat.Stat(change.File, before[change.File], readFileOrEmpty(change.File)))
	}
	if _, err := o.diffs.RecordBatch(stats); err != nil {
		o.log.Warn("diff record failed: %v", err)
	}
}

// runCommands executes model-proposed commands under the run policy. Mission
// steps always execute; interactive turns honor ask/never.
func (o *Orchestrator) runCommands(ctx context.Context, resp *ModelResponse, st *turnState) {
	policyMode := o.cfg.RunPolicy
	if st.mission != nil {
		policyMode = config.RunPolicyAlways
	}
	if policyMode == config.RunPolicyNever {
		o.notify("run_policy=never: skipping proposed commands")
		return
	}
	for i, cmd := range resp.Commands {
		if policyMode == config.RunPolicyAsk {
			prompt := fmt.Sprintf("Run command? %s", cmd.Command)
			if cmd.Reason != "" {
				prompt += fmt.Sprintf(" (%s)", cmd.Reason)
			}
			if !o.prompter.Confirm(prompt) {
				if i < len(resp.Commands)-1 && !o.prompter.Confirm("Continue with remaining commands?") {
					return
				}
				continue
			}
		}
		record := o.runner.Run(ctx, cmd.Command, runner.Options{
			Cwd:        o.root,
			TimeoutMS:  o.cfg.CommandTimeoutMS,
			LogEnabled: o.cfg.CommandLogEnabled,
		})
		st.ranCommands++
		if !record.Success {
			o.notify(fmt.Sprintf("command failed: %s", firstNonEmptyLine(record.Stderr)))
		}
	}
}

// finishTurn persists the session entries and returns the normalized map.
func (o *Orchestrator) finishTurn(userText string, resp *ModelResponse, st *turnState) (map[string]any, error) {
	o.sess.Append(session.RoleUser, userText, 0)
	o.sess.Append(session.RoleAssistant, resp.Response, len(resp.Changes))
	if err := o.sessions.Save(o.sess); err != nil {
		o.log.Error("session save failed: %v", err)
	}
	o.events.Emit(bus.Event{
		Phase:   bus.PhaseFinished,
		Status:  bus.StatusEnd,
		Message: "turn complete",
		Success: bus.BoolPtr(true),
	})

	result := resp.Raw
	if result == nil {
		result = map[string]any{}
	}
	result["response"] = resp.Response
	result["thought"] = resp.Thought
	result["plan"] = resp.Plan
	result["applied_changes"] = len(resp.Changes)
	result["mission_complete"] = resp.MissionComplete
	return result, nil
}

// callProvider executes the provider through the stream recovery wrapper,
// feeding chunks into a fresh observer per attempt.
func (o *Orchestrator) callProvider(ctx context.Context, systemPrompt string, payload *task.Payload) (*llm.Result, *observer.Observer, stream.Health, error) {
	obs := observer.New()
	throttler := stream.NewThrottler(o.cfg.StreamRenderFPS, func() {
		if o.render != nil {
			o.render()
		}
	})

	o.events.Emit(bus.Event{Phase: bus.PhaseThinking, Status: bus.StatusStart, Message: "calling " + o.provider.Name()})

	result, health, err := stream.Call(ctx, o.cfg.StreamRetryCount, o.cfg.StreamTimeoutMS,
		func(ctx context.Context, streamEnabled bool) (*llm.Result, error) {
			attempt := observer.New()
			obs = attempt
			req := llm.Request{
				System:       systemPrompt,
				Task:         payload.Render(),
				Stream:       streamEnabled,
				Continuation: payload.Continuation,
			}
			if streamEnabled {
				req.OnChunk = func(chunk string) {
					ingested := attempt.Ingest(chunk)
					for field, delta := range ingested.Deltas {
						if o.onDelta != nil {
							o.onDelta(field, delta)
						}
					}
					for _, signal := range ingested.ToolSignals {
						o.events.Emit(bus.Event{
							Phase:   bus.PhaseStreaming,
							Status:  bus.StatusProgress,
							Message: "tool signal: " + signal,
						})
					}
					throttler.Request()
				}
			}
			return o.provider.Call(ctx, req)
		})

	throttler.ForceFlush()
	health.ThrottledRenders = throttler.ThrottledRenders()
	o.events.Emit(bus.Event{Phase: bus.PhaseThinking, Status: bus.StatusEnd, Message: "provider done"})
	return result, obs, health, err
}

// UndoLastApply reverts the most recent applied change batch.
func (o *Orchestrator) UndoLastApply() bool {
	undone := o.applier.UndoLastApply()
	if undone {
		o.notify("last apply reverted")
	} else {
		o.notify("nothing to undo")
	}
	return undone
}

func (o *Orchestrator) recordUsage(usage llm.Usage) {
	o.costUSD += float64(usage.InputTokens)/1000*costPerKInputTokens +
		float64(usage.OutputTokens)/1000*costPerKOutputTokens
}

func (o *Orchestrator) emitError(message string) {
	o.log.Error("%s", message)
	o.events.Emit(bus.Event{
		Phase:   bus.PhaseError,
		Status:  bus.StatusEnd,
		Message: message,
		Success: bus.BoolPtr(false),
	})
	o.notify(message)
}

func (o *Orchestrator) absPath(path string) string {
	return policy.NormalizePath(joinIfRelative(o.root, path))
}

func lintDigest(output string) string {
	sum := sha256.Sum256([]byte(output))
	return hex.EncodeToString(sum[:8])
}

// closestMatch returns the candidate with the smallest edit distance, if the
// distance is small enough to be a plausible typo.
func closestMatch(name string, candidates []string) string {
	best := ""
	bestDist := 3
	for _, candidate := range candidates {
		if d := editDistance(name, candidate); d < bestDist {
			bestDist = d
			best = candidate
		}
	}
	return best
}

func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
