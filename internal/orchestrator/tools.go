package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"milo/internal/bus"
	"milo/internal/tools"
)

// runToolPass executes every requested tool, then recurses with a compact
// follow-up carrying only the objective line and the truncated tool outputs.
// Independent tools run concurrently; terminal operations run in order.
func (o *Orchestrator) runToolPass(ctx context.Context, resp *ModelResponse, st *turnState) (map[string]any, error) {
	st.toolPasses++

	results := make(map[string]string)
	var mu sync.Mutex
	record := func(name, output string) {
		mu.Lock()
		results[name] = output
		mu.Unlock()
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if len(resp.RequestFiles) > 0 {
		paths := resp.RequestFiles
		group.Go(func() error {
			abs := make([]string, len(paths))
			for i, p := range paths {
				abs[i] = o.absPath(p)
			}
			decision := o.grant.EnsureAccess(abs, "read files requested by the model")
			var allowed []string
			for _, p := range abs {
				if !containsKey(decision.DeniedPaths, p) {
					allowed = append(allowed, p)
				}
			}
			o.events.Emit(bus.Event{Phase: bus.PhaseReadingFile, Status: bus.StatusStart,
				Message: fmt.Sprintf("reading %d files", len(allowed))})
			record("request_files", tools.FormatFileContexts(tools.RequestFiles(allowed, tools.DefaultFileByteLimit)))
			o.events.Emit(bus.Event{Phase: bus.PhaseReadingFile, Status: bus.StatusEnd, Message: "files read"})
			return nil
		})
	}
	if resp.SearchProject != "" {
		pattern := resp.SearchProject
		group.Go(func() error {
			out, err := tools.SearchProject(groupCtx, o.root, pattern)
			if err != nil {
				out = "search failed: " + err.Error()
			}
			record("search_project", out)
			return nil
		})
	}
	if resp.WebSearch != nil && o.cfg.WebBrowsingAllowed {
		req := resp.WebSearch
		group.Go(func() error {
			o.events.Emit(bus.Event{Phase: bus.PhaseSearchingWeb, Status: bus.StatusStart,
				Message: strings.Join(req.Queries, "; ")})
			citations := tools.WebSearch(groupCtx, o.searcher, req.Queries, req.Type, req.Limit)
			record("web_search", tools.FormatCitations(citations))
			o.events.Emit(bus.Event{Phase: bus.PhaseSearchingWeb, Status: bus.StatusEnd,
				Message: fmt.Sprintf("%d results", len(citations))})
			return nil
		})
	}
	if len(resp.WebBrowse) > 0 && o.cfg.WebBrowsingAllowed {
		urls := resp.WebBrowse
		group.Go(func() error {
			record("web_browse", tools.FormatPages(o.browser.Browse(groupCtx, urls)))
			return nil
		})
	}
	if resp.DetailedMap {
		group.Go(func() error {
			out, err := tools.DetailedMap(o.root)
			if err != nil {
				out = "map failed: " + err.Error()
			}
			record("detailed_map", out)
			return nil
		})
	}
	if resp.FindSymbol != nil {
		req := resp.FindSymbol
		group.Go(func() error {
			out, err := tools.FindSymbol(groupCtx, o.root, req.Symbol, req.Regex)
			if err != nil {
				out = "find_symbol failed: " + err.Error()
			}
			record("find_symbol", out)
			return nil
		})
	}
	if resp.IndexProject {
		group.Go(func() error {
			out, err := tools.IndexProject(o.root)
			if err != nil {
				out = "index failed: " + err.Error()
			}
			record("index_project", out)
			return nil
		})
	}
	if resp.LintProject {
		group.Go(func() error {
			out, _ := tools.LintProject(groupCtx, o.root, o.lintCmd)
			record("lint_result", out)
			return nil
		})
	}
	if resp.MCPCall != nil && o.cfg.MCPEnabled && o.mcps != nil {
		req := resp.MCPCall
		group.Go(func() error {
			out, err := o.mcps.Call(groupCtx, req.Tool, req.Arguments)
			if err != nil {
				out = "mcp call failed: " + err.Error()
			}
			record("mcp_call", out)
			return nil
		})
	}
	_ = group.Wait()

	// Terminal operations are stateful and run sequentially after the
	// concurrent batch.
	o.runTerminalOps(resp, results)

	// Lint loop guard.
	if lintOut, ran := results["lint_result"]; ran {
		if guarded, result, err := o.guardLintLoop(ctx, lintOut, st); guarded {
			return result, err
		}
	}

	followUp := o.buildFollowUp(st.objective, results)
	return o.run(ctx, followUp, st)
}

func (o *Orchestrator) runTerminalOps(resp *ModelResponse, results map[string]string) {
	if resp.TerminalSpawn != nil {
		id, err := o.terminals.Spawn(resp.TerminalSpawn.Command, o.root)
		if err != nil {
			results["terminal_spawn"] = "spawn failed: " + err.Error()
		} else {
			results["terminal_spawn"] = "spawned session " + id
		}
	}
	if resp.TerminalInput != nil {
		if err := o.terminals.Input(resp.TerminalInput.ID, resp.TerminalInput.Text); err != nil {
			results["terminal_input"] = err.Error()
		} else {
			results["terminal_input"] = "input sent"
		}
	}
	if resp.TerminalRead != nil {
		output, running, err := o.terminals.Read(resp.TerminalRead.ID)
		switch {
		case err != nil:
			results["terminal_read"] = err.Error()
		case running:
			results["terminal_read"] = output + "\n(still running)"
		default:
			results["terminal_read"] = output + "\n(exited)"
		}
	}
	if resp.TerminalKill != nil {
		if err := o.terminals.Kill(resp.TerminalKill.ID); err != nil {
			results["terminal_kill"] = err.Error()
		} else {
			results["terminal_kill"] = "killed"
		}
	}
}

// guardLintLoop breaks repeated lint cycles. Returns guarded=true when it
// consumed the turn itself (either via a recovery retry or a terminal
// explanation).
func (o *Orchestrator) guardLintLoop(ctx context.Context, lintOutput string, st *turnState) (bool, map[string]any, error) {
	digest := lintDigest(lintOutput)
	st.lintCycles++

	looping := st.lintCycles > maxConsecutiveLintCycles ||
		digest == st.lastLintDigest ||
		(st.lintCycles > 1 && st.appliedFiles == st.lastAppliedFiles)
	st.lastLintDigest = digest
	st.lastAppliedFiles = st.appliedFiles

	if !looping {
		return false, nil, nil
	}
	if st.lintRecoveryUsed {
		o.notify("lint cycle is not converging; stopping. Last lint output:\n" + firstNonEmptyLine(lintOutput))
		return true, map[string]any{"response": "lint loop aborted", "lint_result": lintOutput}, nil
	}
	st.lintRecoveryUsed = true
	recovery := fmt.Sprintf("%s\n\nLOOP GUARD: lint has been run %d times without progress. Do NOT request lint_project again. Respond with concrete changes[] that fix these findings:\n%s",
		st.objective, st.lintCycles, truncateOutput(lintOutput))
	result, err := o.run(ctx, recovery, st)
	return true, result, err
}

// buildFollowUp composes the compact recursion text: objective line plus
// truncated tool outputs, keyed and ordered deterministically.
func (o *Orchestrator) buildFollowUp(objective string, results map[string]string) string {
	var b strings.Builder
	b.WriteString("Objective: ")
	b.WriteString(objective)
	b.WriteString("\n\nTool results:\n")

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "\n### %s\n%s\n", name, truncateOutput(results[name]))
	}
	b.WriteString("\nContinue with the objective using these results.")
	return b.String()
}

func truncateOutput(s string) string {
	runes := []rune(s)
	if len(runes) <= toolOutputLimit {
		return s
	}
	return string(runes[:toolOutputLimit]) + "\n... (truncated)"
}

func readFileOrEmpty(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func joinIfRelative(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
