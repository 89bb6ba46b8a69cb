package orchestrator

import (
	"fmt"
	"strings"

	"milo/internal/applier"
)

// Command is one shell command proposed by the model.
type Command struct {
	Command string `json:"command"`
	Reason  string `json:"reason,omitempty"`
}

// WebSearchRequest is the model's web_search payload.
type WebSearchRequest struct {
	Queries []string
	Type    string
	Limit   int
}

// FindSymbolRequest is the model's find_symbol payload.
type FindSymbolRequest struct {
	Symbol string
	Regex  bool
}

// TerminalRequest covers the four terminal_* operations.
type TerminalRequest struct {
	Command string
	ID      string
	Text    string
}

// MCPCallRequest routes to a configured MCP server tool.
type MCPCallRequest struct {
	Tool      string
	Arguments map[string]any
}

// ModelResponse is the normalized view of one model answer. Raw keeps the
// original decoded map for callers that need unmapped keys.
type ModelResponse struct {
	Response     string
	Thought      string
	Plan         string
	SelfCritique string

	AskUserQuestions []string
	Changes          []applier.Change
	Commands         []Command

	RequestFiles  []string
	SearchProject string
	WebSearch     *WebSearchRequest
	WebBrowse     []string
	DetailedMap   bool
	FindSymbol    *FindSymbolRequest
	IndexProject  bool
	LintProject   bool
	TerminalSpawn *TerminalRequest
	TerminalInput *TerminalRequest
	TerminalRead  *TerminalRequest
	TerminalKill  *TerminalRequest
	MCPCall       *MCPCallRequest

	MissionComplete bool

	Raw map[string]any
}

// HasToolRequest reports whether any tool operation is present.
func (r *ModelResponse) HasToolRequest() bool {
	return len(r.RequestFiles) > 0 || r.SearchProject != "" || r.WebSearch != nil ||
		len(r.WebBrowse) > 0 || r.DetailedMap || r.FindSymbol != nil ||
		r.IndexProject || r.LintProject || r.TerminalSpawn != nil ||
		r.TerminalInput != nil || r.TerminalRead != nil || r.TerminalKill != nil ||
		r.MCPCall != nil
}

// responseAliases maps known key variants onto the canonical "response" key.
var responseAliases = []string{
	"message", "reply", "answer", "output", "result",
	"assistant_response", "final_response", "finalAnswer", "final_answer",
}

var thoughtAliases = []string{"reasoning", "analysis", "thinking"}

// fromMap normalizes a decoded JSON object into a ModelResponse. Alias keys
// are canonicalized, ask_user folds into ask_user_questions, and action
// envelopes are unwrapped before field extraction.
func fromMap(data map[string]any) *ModelResponse {
	data = lowercaseKeys(data)
	unwrapActionEnvelope(data)

	r := &ModelResponse{Raw: data}
	r.Response = asString(data["response"])
	for _, alias := range responseAliases {
		if r.Response != "" {
			break
		}
		r.Response = asString(data[strings.ToLower(alias)])
	}
	r.Thought = asString(data["thought"])
	for _, alias := range thoughtAliases {
		if r.Thought != "" {
			break
		}
		r.Thought = asString(data[alias])
	}
	r.Plan = asString(data["plan"])
	if r.Plan == "" {
		// Some models emit the plan as a list of steps.
		if steps := asStringList(data["plan"]); len(steps) > 0 {
			r.Plan = strings.Join(steps, "\n")
		}
	}
	r.SelfCritique = asString(data["self_critique"])

	r.AskUserQuestions = uniqueStrings(append(asStringList(data["ask_user_questions"]), asStringList(data["ask_user"])...))
	r.Changes = asChanges(data["changes"])
	r.Commands = asCommands(data["commands"])

	r.RequestFiles = asStringList(data["request_files"])
	r.SearchProject = extractSearchPattern(data["search_project"])
	r.WebSearch = asWebSearch(data["web_search"])
	if r.WebSearch != nil {
		// Legacy top-level modifiers for the simple list/string shapes.
		if r.WebSearch.Type == "" || r.WebSearch.Type == "text" {
			if t := asString(data["web_search_type"]); t != "" {
				r.WebSearch.Type = t
			}
		}
		if r.WebSearch.Limit == 0 {
			r.WebSearch.Limit = asInt(data["web_search_limit"])
		}
	}
	r.WebBrowse = asURLList(data["web_browse"])
	r.DetailedMap = asBool(data["detailed_map"])
	r.FindSymbol = asFindSymbol(data["find_symbol"])
	r.IndexProject = asBool(data["index_project"])
	r.LintProject = asBool(data["lint_project"])
	r.TerminalSpawn = asTerminal(data["terminal_spawn"], "command")
	r.TerminalInput = asTerminal(data["terminal_input"], "text")
	r.TerminalRead = asTerminal(data["terminal_read"], "id")
	r.TerminalKill = asTerminal(data["terminal_kill"], "id")
	r.MCPCall = asMCPCall(data["mcp_call"])
	r.MissionComplete = asBool(data["mission_complete"])
	return r
}

// unwrapActionEnvelope converts {"action": name, "parameters": {...}} shapes
// into the concrete schema key in place.
func unwrapActionEnvelope(data map[string]any) {
	action, ok := data["action"].(string)
	if !ok || action == "" {
		return
	}
	if _, exists := data[action]; exists {
		return
	}
	params, _ := data["parameters"].(map[string]any)
	if params == nil {
		params, _ = data["params"].(map[string]any)
	}
	if params != nil {
		data[strings.ToLower(action)] = params
	} else {
		data[strings.ToLower(action)] = true
	}
	delete(data, "action")
	delete(data, "parameters")
	delete(data, "params")
}

func lowercaseKeys(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		lk := strings.ToLower(k)
		if _, exists := out[lk]; exists && lk != k {
			continue
		}
		out[lk] = v
	}
	return out
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%v", t)
	case bool:
		return fmt.Sprintf("%v", t)
	}
	return ""
}

func asInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	}
	return 0
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "yes"
	case map[string]any:
		// {"run": true} style envelopes count as a request.
		return true
	}
	return false
}

func asStringList(v any) []string {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return []string{t}
	case []any:
		var out []string
		for _, item := range t {
			if s := asString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func uniqueStrings(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, item := range items {
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func asChanges(v any) []applier.Change {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var changes []applier.Change
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		change := applier.Change{
			File:     asString(m["file"]),
			Original: asString(m["original"]),
			Edited:   asString(m["edited"]),
		}
		if change.File == "" {
			change.File = asString(m["path"])
		}
		if change.Edited == "" {
			change.Edited = asString(m["content"])
		}
		if change.File != "" {
			changes = append(changes, change)
		}
	}
	return applier.CollapseDuplicates(changes)
}

func asCommands(v any) []Command {
	list, ok := v.([]any)
	if !ok {
		if s := asString(v); s != "" {
			return []Command{{Command: s}}
		}
		return nil
	}
	var commands []Command
	for _, item := range list {
		switch t := item.(type) {
		case string:
			if t != "" {
				commands = append(commands, Command{Command: t})
			}
		case map[string]any:
			cmd := Command{Command: asString(t["command"]), Reason: asString(t["reason"])}
			if cmd.Command != "" {
				commands = append(commands, cmd)
			}
		}
	}
	return commands
}

func extractSearchPattern(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if p := asString(t["pattern"]); p != "" {
			return p
		}
		return asString(t["query"])
	}
	return ""
}

func asWebSearch(v any) *WebSearchRequest {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return &WebSearchRequest{Queries: []string{t}, Type: "text"}
	case []any:
		queries := asStringList(t)
		if len(queries) == 0 {
			return nil
		}
		return &WebSearchRequest{Queries: queries, Type: "text"}
	case map[string]any:
		req := &WebSearchRequest{
			Queries: asStringList(t["queries"]),
			Type:    asString(t["type"]),
		}
		if len(req.Queries) == 0 {
			req.Queries = asStringList(t["query"])
		}
		if len(req.Queries) == 0 {
			return nil
		}
		if req.Type == "" {
			req.Type = "text"
		}
		return req
	}
	return nil
}

func asURLList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		return asStringList(t)
	case map[string]any:
		if urls := asStringList(t["urls"]); len(urls) > 0 {
			return urls
		}
		return asStringList(t["url"])
	}
	return nil
}

func asFindSymbol(v any) *FindSymbolRequest {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return &FindSymbolRequest{Symbol: t}
	case map[string]any:
		req := &FindSymbolRequest{Symbol: asString(t["symbol"]), Regex: asBool(t["regex"])}
		if req.Symbol == "" {
			return nil
		}
		return req
	}
	return nil
}

func asTerminal(v any, primaryKey string) *TerminalRequest {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		req := &TerminalRequest{}
		switch primaryKey {
		case "command":
			req.Command = t
		case "text":
			req.Text = t
		default:
			req.ID = t
		}
		return req
	case map[string]any:
		req := &TerminalRequest{
			Command: asString(t["command"]),
			ID:      asString(t["id"]),
			Text:    asString(t["text"]),
		}
		if req.Command == "" && req.ID == "" {
			return nil
		}
		return req
	}
	return nil
}

func asMCPCall(v any) *MCPCallRequest {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	req := &MCPCallRequest{Tool: asString(m["tool"])}
	if req.Tool == "" {
		req.Tool = asString(m["name"])
	}
	if req.Tool == "" {
		return nil
	}
	// A separate "server" key folds into the server.tool routing form.
	if server := asString(m["server"]); server != "" && !strings.Contains(req.Tool, ".") {
		req.Tool = server + "." + req.Tool
	}
	if args, ok := m["arguments"].(map[string]any); ok {
		req.Arguments = args
	} else if args, ok := m["args"].(map[string]any); ok {
		req.Arguments = args
	}
	return req
}
