package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"

	"milo/internal/bus"
	"milo/internal/config"
)

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func errorPanel(msg string) string {
	return red("Error: ") + msg
}

func warningPanel(msg string) string {
	return yellow("Warning: ") + msg
}

// hintLine maps common failures to a one-line remediation hint.
func hintLine(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unreachable"), strings.Contains(msg, "connection refused"):
		return gray("hint: check the provider endpoint or switch providers with /model")
	case strings.Contains(msg, "access"), strings.Contains(msg, "denied"):
		return gray("hint: grant project access with /access full")
	case strings.Contains(msg, "budget"):
		return gray("hint: raise the budget in " + config.ConfigPath())
	default:
		return gray("hint: see " + logFileHint() + " for details")
	}
}

func logFileHint() string {
	return filepath.Join(config.AppDataDir(), "milo-debug.log")
}

func printBanner(cfg *config.Config) {
	fmt.Printf("%s %s\n", bold("milo"), gray("— type an instruction, /help for commands, exit to quit"))
	fmt.Printf("%s %s  %s %s\n\n",
		gray("provider:"), cyan(cfg.ActiveProvider),
		gray("model:"), cyan(cfg.Provider().Model))
}

func promptLabel(cfg *config.Config) string {
	label := "> "
	if cfg.PlanningMode {
		label = "plan> "
	}
	if cfg.MissionMode {
		label = "mission> "
	}
	return bold(label)
}

// ui renders streaming deltas and execution events to the terminal.
type ui struct {
	mu           sync.Mutex
	streamedAny  bool
	currentField string
}

func newUI(events *bus.Bus) *ui {
	u := &ui{}
	events.Subscribe(u.onEvent)
	return u
}

// OnDelta prints decoded streaming field content as it arrives. Only the
// user-facing response streams raw; other fields get a dim label.
func (u *ui) OnDelta(field, delta string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if field != u.currentField {
		if u.streamedAny {
			fmt.Println()
		}
		switch field {
		case "response":
			// no label; the answer speaks for itself
		case "thought":
			fmt.Print(yellow("thinking: "))
		case "plan":
			fmt.Print(cyan("plan: "))
		default:
			fmt.Print(gray(field + ": "))
		}
		u.currentField = field
	}
	if field == "response" {
		fmt.Print(delta)
	} else {
		fmt.Print(gray(delta))
	}
	u.streamedAny = true
}

// Render is the throttled repaint hook. Plain terminal output needs no
// repaint; flushing the line state is enough.
func (u *ui) Render() {}

func (u *ui) Notify(message string) {
	u.finishStream()
	fmt.Println(warningPanel(message))
}

func (u *ui) onEvent(event bus.Event) {
	switch event.Phase {
	case bus.PhaseWritingFile:
		if event.Status == bus.StatusEnd {
			u.finishStream()
			fmt.Printf("%s %s\n", green("wrote"), event.FilePath)
		}
	case bus.PhaseRunningCommand:
		switch event.Status {
		case bus.StatusStart:
			u.finishStream()
			fmt.Printf("%s %s\n", blue("run"), event.Command)
		case bus.StatusEnd:
			if event.Success != nil && !*event.Success {
				fmt.Println(red("command failed"))
			}
		}
	case bus.PhaseSearchingWeb:
		if event.Status == bus.StatusStart {
			u.finishStream()
			fmt.Printf("%s %s\n", blue("searching"), gray(event.Message))
		}
	case bus.PhaseError:
		u.finishStream()
		fmt.Println(errorPanel(event.Message))
	case bus.PhaseFinished:
		u.finishStream()
	}
}

func (u *ui) finishStream() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.streamedAny {
		fmt.Println()
		u.streamedAny = false
		u.currentField = ""
	}
}
