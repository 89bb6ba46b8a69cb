// Package task assembles the per-turn request payload sent to the provider:
// the instruction, execution contract, attached file context, injected
// session history, and optional project map.
package task

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"milo/internal/session"
	"milo/internal/tools"
)

// Mode selects whether the model should plan or produce changes.
type Mode string

const (
	ModePlan  Mode = "plan"
	ModeApply Mode = "apply"
)

// Contract tells the model how code must be delivered in this phase.
type Contract struct {
	Phase                  string `json:"phase"`
	MustUseChangesForCode  bool   `json:"must_use_changes_for_code"`
	NoCodeBlocksInResponse bool   `json:"no_code_blocks_in_response"`
}

// MissionData carries cross-step mission state into the payload.
type MissionData struct {
	Objective   string
	Step        int
	PlanText    string
	ForceAction bool
}

// Payload is one turn's fully assembled request. Built fresh per turn and
// discarded at turn end.
type Payload struct {
	Mode            Mode
	Fast            bool
	Instruction     string
	RawInput        string
	BuildIntent     bool
	ReferencedPaths []string
	Contract        Contract
	UserOS          string
	EffortLevel     string
	ReasoningLevel  string
	ContextFiles    []tools.FileContext
	ImageFiles      []string
	History         []session.Entry
	Mission         *MissionData
	ProjectMap      string
	ProjectListing  string
	Continuation    []int
}

const (
	historyMaxMessages = 40
	historyTokenLimit  = 6000
)

// buildIntentKeywords marks instructions that should yield concrete changes
// or commands rather than prose.
var buildIntentKeywords = []string{
	"implement", "add", "create", "write", "fix", "refactor", "build",
	"update", "change", "modify", "remove", "delete", "rename", "make",
	"generate", "install", "migrate",
}

// pathTokenPattern matches tokens that look like file paths.
var pathTokenPattern = regexp.MustCompile(`[\w./\\-]+\.[\w]+|[\w-]+/[\w./\\-]+`)

// imageExtensions marks referenced paths that are attached by path instead of
// read into inline file context.
var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {},
	".webp": {}, ".bmp": {}, ".svg": {}, ".ico": {},
}

// Builder assembles payloads for a project root.
type Builder struct {
	Root           string
	EffortLevel    string
	ReasoningLevel string
	SeeProject     bool
}

// Build creates the payload for one instruction. sess supplies history;
// passing nil skips history injection.
func (b *Builder) Build(instruction string, mode Mode, fast bool, sess *session.File, mission *MissionData) *Payload {
	trimmed := strings.TrimSpace(instruction)
	p := &Payload{
		Mode:            mode,
		Fast:            fast,
		Instruction:     trimmed,
		RawInput:        instruction,
		BuildIntent:     DetectBuildIntent(trimmed),
		ReferencedPaths: b.referencedPaths(trimmed),
		UserOS:          runtime.GOOS,
		EffortLevel:     b.EffortLevel,
		ReasoningLevel:  b.ReasoningLevel,
		Mission:         mission,
	}
	p.Contract = contractFor(mode)

	var textPaths []string
	for _, path := range p.ReferencedPaths {
		if _, img := imageExtensions[strings.ToLower(filepath.Ext(path))]; img {
			p.ImageFiles = append(p.ImageFiles, path)
		} else {
			textPaths = append(textPaths, path)
		}
	}
	if len(textPaths) > 0 {
		p.ContextFiles = tools.RequestFiles(textPaths, tools.DefaultFileByteLimit)
	}
	if sess != nil {
		p.History = sess.InjectHistory(historyMaxMessages, historyTokenLimit)
	}
	if mode == ModePlan || b.SeeProject {
		if projectMap, err := tools.DetailedMap(b.Root); err == nil {
			p.ProjectMap = projectMap
		}
	}
	if b.SeeProject {
		if listing, err := tools.ProjectListing(b.Root); err == nil {
			p.ProjectListing = listing
		}
	}
	return p
}

func contractFor(mode Mode) Contract {
	if mode == ModePlan {
		return Contract{Phase: "plan"}
	}
	return Contract{
		Phase:                  "apply",
		MustUseChangesForCode:  true,
		NoCodeBlocksInResponse: true,
	}
}

// DetectBuildIntent reports whether the instruction asks for concrete work
// product, based on a leading-word keyword heuristic.
func DetectBuildIntent(instruction string) bool {
	lowered := strings.ToLower(instruction)
	for _, kw := range buildIntentKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// referencedPaths extracts tokens that resolve to existing files under the
// project root.
func (b *Builder) referencedPaths(instruction string) []string {
	seen := make(map[string]struct{})
	var paths []string
	for _, token := range pathTokenPattern.FindAllString(instruction, -1) {
		candidate := token
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(b.Root, candidate)
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			seen[candidate] = struct{}{}
			paths = append(paths, candidate)
		}
	}
	return paths
}

// Render flattens the payload into the user-role prompt text.
func (p *Payload) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Instruction\n%s\n", p.Instruction)
	fmt.Fprintf(&b, "\n## Execution contract\nphase: %s\n", p.Contract.Phase)
	if p.Contract.MustUseChangesForCode {
		b.WriteString("All code must be delivered through the `changes` array; never inline code blocks in `response`.\n")
	}
	fmt.Fprintf(&b, "os: %s\neffort: %s\nreasoning: %s\n", p.UserOS, p.EffortLevel, p.ReasoningLevel)
	if p.Fast {
		b.WriteString("fast: answer directly with minimal deliberation\n")
	}

	if p.Mission != nil {
		fmt.Fprintf(&b, "\n## Mission\nobjective: %s\nstep: %d\n", p.Mission.Objective, p.Mission.Step)
		if p.Mission.PlanText != "" {
			fmt.Fprintf(&b, "plan:\n%s\n", p.Mission.PlanText)
		}
		if p.Mission.ForceAction {
			b.WriteString("The previous steps produced no actions. You MUST emit changes, commands, or a tool request this step, or declare the mission complete.\n")
		}
	}

	if len(p.History) > 0 {
		b.WriteString("\n## Conversation so far\n")
		for _, entry := range p.History {
			fmt.Fprintf(&b, "[%s] %s\n", entry.Role, entry.Content)
		}
	}

	if len(p.ContextFiles) > 0 {
		b.WriteString("\n## Referenced files\n")
		b.WriteString(tools.FormatFileContexts(p.ContextFiles))
	}

	if len(p.ImageFiles) > 0 {
		b.WriteString("\n## Image files\n")
		for _, path := range p.ImageFiles {
			b.WriteString(path + "\n")
		}
	}

	if p.ProjectMap != "" {
		b.WriteString("\n## Project map\n")
		b.WriteString(p.ProjectMap)
	}

	if p.ProjectListing != "" {
		b.WriteString("\n## Project listing\n")
		b.WriteString(p.ProjectListing)
	}
	return b.String()
}
