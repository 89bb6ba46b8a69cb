package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"milo/internal/config"
	"milo/internal/logging"
)

var (
	flagPlan     bool
	flagFast     bool
	flagYes      bool
	flagContinue bool
	flagPrint    bool
	flagModel    string
)

func main() {
	root := &cobra.Command{
		Use:   "milo [instruction]",
		Short: "Interactive coding assistant",
		Long:  "milo is a provider-agnostic coding assistant: it interprets natural-language instructions, proposes file edits and commands, and applies them under an explicit access policy.",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), strings.Join(args, " "))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.Flags()
	flags.BoolVar(&flagPlan, "plan", false, "plan before applying changes")
	flags.BoolVar(&flagFast, "fast", false, "skip deep reasoning for simple requests")
	flags.BoolVarP(&flagYes, "yes", "y", false, "auto-approve commands and access prompts")
	flags.BoolVarP(&flagContinue, "continue-session", "c", false, "continue the most recent session")
	flags.BoolVarP(&flagPrint, "print", "p", false, "answer one instruction and exit")
	flags.StringVar(&flagModel, "model", "", "override the active provider's model")

	for _, name := range []string{"plan", "fast", "yes", "continue-session", "print", "model"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
	viper.SetEnvPrefix("MILO")
	viper.AutomaticEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorPanel(err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, instruction string) error {
	log := logging.NewComponentLogger("cli")

	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.Close()
	log.Info("started: provider=%s model=%s", app.cfg.ActiveProvider, app.cfg.Provider().Model)

	// One-shot mode.
	if flagPrint || instruction != "" {
		if instruction == "" {
			return fmt.Errorf("--print requires an instruction argument")
		}
		return app.RunOnce(ctx, instruction)
	}

	return interactiveLoop(ctx, app)
}

func interactiveLoop(ctx context.Context, app *App) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          promptLabel(app.cfg),
		HistoryFile:     historyFilePath(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer func() { _ = rl.Close() }()

	printBanner(app.cfg)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return nil // EOF
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" || text == "/exit" {
			return nil
		}

		if _, err := app.orch.RunTurn(ctx, text); err != nil {
			fmt.Println(errorPanel(err.Error()))
			fmt.Println(hintLine(err))
		}
		rl.SetPrompt(promptLabel(app.cfg))
	}
}

func historyFilePath() string {
	return config.AppDataDir() + "/history"
}
