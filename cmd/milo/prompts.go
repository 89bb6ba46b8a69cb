package main

import (
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"

	"milo/internal/policy"
)

// cliPrompter answers orchestrator and access-policy prompts interactively.
// With --yes it auto-approves everything.
type cliPrompter struct {
	autoYes bool
}

func newCLIPrompter(autoYes bool) *cliPrompter {
	return &cliPrompter{autoYes: autoYes}
}

// Ask poses a clarifying question and returns the user's free-text answer.
func (p *cliPrompter) Ask(question string) string {
	prompt := promptui.Prompt{Label: question}
	answer, err := prompt.Run()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(answer)
}

// Confirm asks a yes/no question.
func (p *cliPrompter) Confirm(message string) bool {
	if p.autoYes {
		return true
	}
	prompt := promptui.Prompt{Label: message, IsConfirm: true}
	if _, err := prompt.Run(); err != nil {
		return false
	}
	return true
}

// AskMode asks for the initial project access scope.
func (p *cliPrompter) AskMode(reason string) policy.Mode {
	if p.autoYes {
		return policy.ModeFull
	}
	sel := promptui.Select{
		Label: fmt.Sprintf("Project access needed (%s)", reason),
		Items: []string{"full — allow all project files", "selective — approve each file"},
	}
	idx, _, err := sel.Run()
	if err != nil || idx == 1 {
		return policy.ModeSelective
	}
	return policy.ModeFull
}

// AskPath asks whether one path may be touched under selective access.
func (p *cliPrompter) AskPath(path, reason string) bool {
	if p.autoYes {
		return true
	}
	return p.Confirm(fmt.Sprintf("Allow access to %s (%s)?", path, reason))
}
