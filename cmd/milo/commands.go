package main

import (
	"fmt"
	"sort"
	"strings"

	"milo/internal/config"
	"milo/internal/policy"
	"milo/internal/runner"
	"milo/internal/session"
)

// commandRegistry dispatches slash commands typed at the prompt.
type commandRegistry struct {
	app      *App
	handlers map[string]func(args string)
}

func newCommandRegistry(app *App) *commandRegistry {
	r := &commandRegistry{app: app}
	r.handlers = map[string]func(args string){
		"help":     r.help,
		"model":    r.model,
		"access":   r.access,
		"undo":     r.undo,
		"sessions": r.listSessions,
		"session":  r.session,
		"compact":  r.compact,
		"config":   r.showConfig,
		"plan":     r.togglePlan,
		"mission":  r.toggleMission,
		"fast":     r.toggleFast,
		"log":      r.commandLog,
	}
	return r
}

func (r *commandRegistry) Dispatch(name, args string) bool {
	handler, ok := r.handlers[strings.ToLower(name)]
	if !ok {
		return false
	}
	handler(args)
	return true
}

func (r *commandRegistry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *commandRegistry) help(string) {
	fmt.Println(bold("Commands:"))
	lines := []string{
		"/model [name]      show or switch the active provider",
		"/access [mode]     show or set project access (full, selective)",
		"/undo              revert the last applied change batch",
		"/sessions          list stored sessions",
		"/session <name>    switch to a session (new names are created)",
		"/compact           compact the current session now",
		"/config            show effective configuration",
		"/plan on|off       toggle planning mode",
		"/mission on|off    toggle mission mode",
		"/fast on|off       toggle fast mode",
		"/log [n]           show recent command executions",
	}
	for _, line := range lines {
		fmt.Println("  " + line)
	}
}

func (r *commandRegistry) model(args string) {
	cfg := r.app.cfg
	if args == "" {
		fmt.Printf("active: %s (%s)\n", cyan(cfg.ActiveProvider), cfg.Provider().Model)
		for name, p := range cfg.Providers {
			fmt.Printf("  %-10s %s @ %s\n", name, p.Model, p.Endpoint)
		}
		return
	}
	if _, ok := cfg.Providers[args]; !ok {
		fmt.Println(warningPanel("unknown provider: " + args))
		return
	}
	cfg.ActiveProvider = args
	if err := r.app.cfgStore.Save(cfg); err != nil {
		fmt.Println(errorPanel("config save failed: " + err.Error()))
		return
	}
	fmt.Println(green("switched to " + args + " — restart to reconnect"))
}

func (r *commandRegistry) access(args string) {
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "":
		fmt.Printf("access mode: %s\n", cyan(string(r.app.Grant().Mode())))
	case "full":
		r.app.Grant().SetMode(policy.ModeFull)
		fmt.Println(green("full project access granted"))
	case "selective":
		r.app.Grant().SetMode(policy.ModeSelective)
		fmt.Println(green("selective access: each path needs approval"))
	default:
		fmt.Println(warningPanel("usage: /access [full|selective]"))
	}
}

func (r *commandRegistry) undo(string) {
	r.app.orch.UndoLastApply()
}

func (r *commandRegistry) listSessions(string) {
	names, err := r.app.sessions.List()
	if err != nil {
		fmt.Println(errorPanel(err.Error()))
		return
	}
	active := r.app.sessions.Active()
	for _, name := range names {
		marker := "  "
		if name == active {
			marker = green("* ")
		}
		fmt.Println(marker + name)
	}
}

func (r *commandRegistry) session(args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		fmt.Println(warningPanel("usage: /session <name>"))
		return
	}
	sess, err := r.app.sessions.Load(name)
	if err != nil {
		sess, err = r.app.sessions.Create(name)
		if err != nil {
			fmt.Println(errorPanel(err.Error()))
			return
		}
		fmt.Println(green("created session " + sess.Name))
	}
	if err := r.app.sessions.SetActive(sess.Name); err != nil {
		fmt.Println(errorPanel(err.Error()))
		return
	}
	*r.app.sess = *sess
	fmt.Printf("session %s: %d entries, ~%d tokens\n", cyan(sess.Name), len(sess.Session), sess.EstimatedTokens())
}

func (r *commandRegistry) compact(string) {
	before := len(r.app.sess.Session)
	session.Compact(r.app.sess, r.app.cfg.AutoCompactKeepRecent, 20)
	fmt.Printf("compacted: %d → %d entries\n", before, len(r.app.sess.Session))
}

func (r *commandRegistry) showConfig(string) {
	cfg := r.app.cfg
	fmt.Printf("config: %s\n", gray(config.ConfigPath()))
	fmt.Printf("  provider: %s  model: %s\n", cfg.ActiveProvider, cfg.Provider().Model)
	fmt.Printf("  run_policy: %s  planning: %v  mission: %v  fast: %v\n",
		cfg.RunPolicy, cfg.PlanningMode, cfg.MissionMode, cfg.FastMode)
	fmt.Printf("  stream: timeout=%dms retries=%d fps=%d\n",
		cfg.StreamTimeoutMS, cfg.StreamRetryCount, cfg.StreamRenderFPS)
	fmt.Printf("  compact: %d%% of %d tokens, keep %d\n",
		cfg.AutoCompactThresholdPct, cfg.ContextWindow(), cfg.AutoCompactKeepRecent)
}

func (r *commandRegistry) togglePlan(args string) {
	r.app.cfg.PlanningMode = parseToggle(args, r.app.cfg.PlanningMode)
	fmt.Printf("planning mode: %v\n", r.app.cfg.PlanningMode)
}

func (r *commandRegistry) toggleMission(args string) {
	r.app.cfg.MissionMode = parseToggle(args, r.app.cfg.MissionMode)
	fmt.Printf("mission mode: %v\n", r.app.cfg.MissionMode)
}

func (r *commandRegistry) toggleFast(args string) {
	r.app.cfg.FastMode = parseToggle(args, r.app.cfg.FastMode)
	fmt.Printf("fast mode: %v\n", r.app.cfg.FastMode)
}

func (r *commandRegistry) commandLog(args string) {
	n := 10
	if args != "" {
		_, _ = fmt.Sscanf(args, "%d", &n)
	}
	records, err := runner.NewLog(config.LogsDir()).ReadRecent(n)
	if err != nil {
		fmt.Println(errorPanel(err.Error()))
		return
	}
	for _, rec := range records {
		status := green("ok")
		if !rec.Success {
			status = red("fail")
		}
		fmt.Printf("%s %-4s %6dms  %s\n",
			rec.StartedAt.Format("15:04:05"), status, rec.DurationMS, rec.Command)
	}
}

func parseToggle(args string, current bool) bool {
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	default:
		return !current
	}
}
