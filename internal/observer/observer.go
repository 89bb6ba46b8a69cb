// Package observer incrementally parses a partially-complete JSON object from
// a provider stream. It recovers string field deltas, top-level schema keys,
// tool-intent signals, and in-flight file edit targets without ever requiring
// a complete document, and is tolerant to chunk boundaries inside escape
// sequences.
package observer

import (
	"encoding/json"
	"strings"
)

// DefaultTrackedFields are the string fields decoded incrementally.
var DefaultTrackedFields = []string{"response", "thought", "plan", "self_critique", "ask_user"}

// DefaultToolKeys are the top-level keys treated as tool-intent signals.
var DefaultToolKeys = []string{
	"changes", "commands", "request_files", "web_search", "web_browse",
	"search_project", "detailed_map", "find_symbol",
	"terminal_spawn", "terminal_input", "terminal_read", "terminal_kill",
	"index_project", "lint_project", "mcp_call",
}

// IngestResult is what one chunk contributed.
type IngestResult struct {
	Deltas        map[string]string
	FileEdits     []string
	NewSchemaKeys []string
	ToolSignals   []string
}

// Snapshot is the best-effort current view of the stream.
type Snapshot struct {
	Fields         map[string]string
	RawTail        string
	SeenSchemaKeys []string
	SeenToolKeys   []string
}

const rawTailLimit = 3000

type fieldState struct {
	started  bool
	start    int // byte offset of first content byte, after the opening quote
	complete bool
	value    string
	emitted  int // runes of value already reported as deltas
}

// Observer holds the incremental parse state for one stream.
type Observer struct {
	buf strings.Builder

	trackedFields []string
	toolKeys      []string

	fields      map[string]*fieldState
	schemaKeys  map[string]struct{}
	schemaOrder []string
	toolSeen    map[string]struct{}
	toolOrder   []string
	filesSeen   map[string]struct{}
	fileOrder   []string
}

// New creates an Observer with the default field and tool key sets.
func New() *Observer {
	return NewWithConfig(DefaultTrackedFields, DefaultToolKeys)
}

// NewWithConfig creates an Observer tracking explicit fields and tool keys.
func NewWithConfig(trackedFields, toolKeys []string) *Observer {
	o := &Observer{
		trackedFields: trackedFields,
		toolKeys:      toolKeys,
		fields:        make(map[string]*fieldState, len(trackedFields)),
		schemaKeys:    make(map[string]struct{}),
		toolSeen:      make(map[string]struct{}),
		filesSeen:     make(map[string]struct{}),
	}
	for _, field := range trackedFields {
		o.fields[field] = &fieldState{}
	}
	return o
}

// Ingest consumes one chunk and returns what it contributed. It never fails;
// malformed input yields best-effort output.
func (o *Observer) Ingest(chunk string) IngestResult {
	o.buf.WriteString(chunk)
	buf := o.buf.String()

	result := IngestResult{Deltas: map[string]string{}}

	for _, field := range o.trackedFields {
		state := o.fields[field]
		if !state.started {
			if start, ok := findFieldStart(buf, field); ok {
				state.started = true
				state.start = start
			} else {
				continue
			}
		}
		if state.complete {
			continue
		}
		value, complete := decodeStringValue(buf, state.start)
		state.complete = complete
		if delta, rewrite := advance(state, value); delta != "" || rewrite {
			result.Deltas[field] = delta
		}
	}

	result.NewSchemaKeys = o.scanSchemaKeys(buf)
	result.ToolSignals = o.scanToolSignals(buf)
	result.FileEdits = o.scanFileEdits(buf)
	return result
}

// advance computes the delta since the last report. When the decoder
// reclassified a tentative terminator the new value may not extend the old
// one; the field is then rewritten from scratch.
func advance(state *fieldState, value string) (string, bool) {
	prev := state.value
	state.value = value
	if strings.HasPrefix(value, prev) {
		delta := value[len(prev):]
		state.emitted += len([]rune(delta))
		return delta, false
	}
	state.emitted = len([]rune(value))
	return value, true
}

// Snapshot returns the current decoded field values and discovery state.
func (o *Observer) Snapshot() Snapshot {
	buf := o.buf.String()
	fields := make(map[string]string, len(o.fields))
	for name, state := range o.fields {
		if state.started {
			fields[name] = state.value
		}
	}
	tail := buf
	if len(tail) > rawTailLimit {
		tail = tail[len(tail)-rawTailLimit:]
	}
	return Snapshot{
		Fields:         fields,
		RawTail:        tail,
		SeenSchemaKeys: append([]string(nil), o.schemaOrder...),
		SeenToolKeys:   append([]string(nil), o.toolOrder...),
	}
}

// Field returns the current decoded value of one tracked field.
func (o *Observer) Field(name string) string {
	if state, ok := o.fields[name]; ok {
		return state.value
	}
	return ""
}

// Buffer returns the full raw stream accumulated so far.
func (o *Observer) Buffer() string {
	return o.buf.String()
}

// findFieldStart locates `"field"\s*:\s*"` and returns the offset just after
// the opening value quote. It refuses a match whose value quote has not
// arrived yet so a chunk boundary between ':' and '"' cannot mis-anchor.
func findFieldStart(buf, field string) (int, bool) {
	needle := `"` + field + `"`
	from := 0
	for {
		idx := strings.Index(buf[from:], needle)
		if idx < 0 {
			return 0, false
		}
		pos := from + idx + len(needle)
		i := pos
		for i < len(buf) && isSpace(buf[i]) {
			i++
		}
		if i < len(buf) && buf[i] == ':' {
			i++
			for i < len(buf) && isSpace(buf[i]) {
				i++
			}
			if i < len(buf) && buf[i] == '"' {
				return i + 1, true
			}
			if i >= len(buf) {
				// Value quote not received yet; retry on the next ingest.
				return 0, false
			}
		}
		from = pos
	}
}

// decodeStringValue decodes the JSON string starting at offset start. The
// closing quote is accepted only when the next non-whitespace byte is ',',
// '}', ']' or '"'; a quote at the end of the buffer stays tentative and the
// value is reported up to just before it.
func decodeStringValue(buf string, start int) (string, bool) {
	end := start
	complete := false

scan:
	for end < len(buf) {
		c := buf[end]
		if c == '\\' {
			if end+1 >= len(buf) {
				break
			}
			end += 2
			continue
		}
		if c == '"' {
			j := end + 1
			for j < len(buf) && isSpace(buf[j]) {
				j++
			}
			if j >= len(buf) {
				// Ambiguous terminator: hold until more input arrives.
				break scan
			}
			switch buf[j] {
			case ',', '}', ']', '"':
				complete = true
				break scan
			default:
				// The model embedded an unescaped quote; treat as content.
				end++
				continue
			}
		}
		end++
	}

	raw := buf[start:end]
	return decodeRaw(raw), complete
}

// decodeRaw turns a raw (possibly truncated) JSON string body into its
// decoded value. Trailing partial escapes are stripped before strict
// decoding; manual translation is the fallback.
func decodeRaw(raw string) string {
	safe := stripPartialEscape(raw)
	var decoded string
	if err := json.Unmarshal([]byte(`"`+safe+`"`), &decoded); err == nil {
		return decoded
	}
	return manualUnescape(safe)
}

// stripPartialEscape removes a trailing lone backslash or an incomplete \uXXXX
// sequence left by a chunk boundary.
func stripPartialEscape(raw string) string {
	// Count trailing backslashes; an odd count means the last one is dangling.
	trailing := 0
	for i := len(raw) - 1; i >= 0 && raw[i] == '\\'; i-- {
		trailing++
	}
	if trailing%2 == 1 {
		return raw[:len(raw)-1]
	}
	// Incomplete \u escape: fewer than 4 hex digits after the u.
	if idx := strings.LastIndex(raw, `\u`); idx >= 0 && !escapedBackslashAt(raw, idx) {
		hex := raw[idx+2:]
		if len(hex) < 4 && allHex(hex) {
			return raw[:idx]
		}
	}
	return raw
}

func escapedBackslashAt(raw string, idx int) bool {
	count := 0
	for i := idx - 1; i >= 0 && raw[i] == '\\'; i-- {
		count++
	}
	return count%2 == 1
}

func allHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

func manualUnescape(raw string) string {
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			b.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(raw[i])
		}
	}
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
