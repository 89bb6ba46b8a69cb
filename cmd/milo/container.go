package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"milo/internal/applier"
	"milo/internal/bus"
	"milo/internal/config"
	"milo/internal/diffstat"
	"milo/internal/llm"
	"milo/internal/logging"
	"milo/internal/mcp"
	"milo/internal/orchestrator"
	"milo/internal/policy"
	"milo/internal/runner"
	"milo/internal/session"
	"milo/internal/task"
	"milo/internal/tools"
)

// App is the wired application: configuration, session, provider, and the
// orchestrator with all its collaborators.
type App struct {
	cfg       *config.Config
	cfgStore  *config.Store
	sessions  *session.Store
	sess      *session.File
	orch      *orchestrator.Orchestrator
	grant     *policy.Grant
	terminals *tools.TerminalRegistry
	mcps      *mcp.Registry
	events    *bus.Bus
	log       logging.Logger
}

func buildApp() (*App, error) {
	log := logging.NewComponentLogger("app")

	cfgStore := config.NewStore()
	cfg, err := cfgStore.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	root, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if cfg.EnvBridgeEnabled {
		config.ApplyEnvBridge(cfg, root)
	}
	applyFlagOverrides(cfg)

	secrets, err := config.NewSecretsStore().Load()
	if err != nil {
		log.Warn("secrets load failed: %v", err)
		secrets = config.Secrets{}
	}
	apiKey := secrets[cfg.ActiveProvider]
	if envKey := config.EnvAPIKey(cfg.ActiveProvider); envKey != "" {
		apiKey = envKey
	}

	provider, err := llm.New(cfg.ActiveProvider, cfg.Provider(), apiKey)
	if err != nil {
		return nil, err
	}

	sessions := session.NewStore(config.SessionsDir(), config.ActiveSessionPath())
	var sess *session.File
	if flagContinue || cfg.AutoReloadSession {
		sess, err = sessions.LoadActive()
	} else {
		sess, err = sessions.Create("")
	}
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	events := bus.New()
	terminals := tools.NewTerminalRegistry(log)
	var mcps *mcp.Registry
	if cfg.MCPEnabled && len(cfg.MCPServers) > 0 {
		mcps = mcp.NewRegistry(cfg.MCPServers)
	}

	prompter := newCLIPrompter(flagYes)
	grant := policy.NewGrant(prompter)
	if flagYes {
		grant.SetMode(policy.ModeFull)
	}

	ui := newUI(events)

	orch := orchestrator.New(orchestrator.Options{
		Config:      cfg,
		Sessions:    sessions,
		Session:     sess,
		Provider:    provider,
		Builder:     &task.Builder{Root: root, EffortLevel: cfg.EffortLevel, ReasoningLevel: cfg.ReasoningLevel, SeeProject: cfg.SeeProjectMode},
		Applier:     applier.New(),
		Runner:      runner.New(events, runner.NewLog(config.LogsDir())),
		Grant:       grant,
		Events:      events,
		Diffs:       diffstat.NewTracker(config.LogsDir()),
		Terminals:   terminals,
		Searcher:    tools.NewDuckDuckGoSearcher(),
		Browser:     tools.NewBrowser(),
		MCP:         mcps,
		Prompter:    prompter,
		Commands:    nil, // set below, needs the app
		Root:        root,
		LintCommand: detectLintCommand(root),
		OnDelta:     ui.OnDelta,
		Render:      ui.Render,
		Notify:      ui.Notify,
	})

	app := &App{
		cfg:       cfg,
		cfgStore:  cfgStore,
		sessions:  sessions,
		sess:      sess,
		orch:      orch,
		grant:     grant,
		terminals: terminals,
		mcps:      mcps,
		events:    events,
		log:       log,
	}
	orch.SetCommandRegistry(newCommandRegistry(app))
	return app, nil
}

func applyFlagOverrides(cfg *config.Config) {
	if flagPlan {
		cfg.PlanningMode = true
	}
	if flagFast {
		cfg.FastMode = true
	}
	if flagYes {
		cfg.RunPolicy = config.RunPolicyAlways
	}
	if flagModel != "" {
		p := cfg.Provider()
		p.Model = flagModel
		cfg.Providers[cfg.ActiveProvider] = p
	}
}

// detectLintCommand picks a lint invocation from well-known project files.
func detectLintCommand(root string) string {
	checks := []struct {
		marker  string
		command string
	}{
		{".golangci.yml", "golangci-lint run ./..."},
		{".golangci.yaml", "golangci-lint run ./..."},
		{"go.mod", "go vet ./..."},
		{"package.json", "npx --no-install eslint ."},
		{"pyproject.toml", "ruff check ."},
	}
	for _, check := range checks {
		if _, err := os.Stat(filepath.Join(root, check.marker)); err == nil {
			return check.command
		}
	}
	return ""
}

// Grant exposes the access grant to the command registry.
func (a *App) Grant() *policy.Grant {
	return a.grant
}

// RunOnce answers a single instruction and exits.
func (a *App) RunOnce(ctx context.Context, instruction string) error {
	result, err := a.orch.RunTurn(ctx, instruction)
	if err != nil {
		return err
	}
	if result != nil {
		if response, ok := result["response"].(string); ok && response != "" {
			fmt.Println(response)
		}
	}
	return nil
}

// Close releases background resources.
func (a *App) Close() {
	a.terminals.Shutdown()
	if a.mcps != nil {
		a.mcps.Shutdown()
	}
	if err := a.sessions.Save(a.sess); err != nil {
		a.log.Warn("final session save failed: %v", err)
	}
}
