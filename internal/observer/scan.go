package observer

import "strings"

// scanSchemaKeys walks the whole buffer depth-aware and records every
// top-level object key (object depth exactly 1, array depth 0), returning the
// newly discovered ones.
func (o *Observer) scanSchemaKeys(buf string) []string {
	var discovered []string
	objectDepth := 0
	arrayDepth := 0
	inString := false
	escaped := false
	keyStart := -1 // start of a candidate key string at top level

	for i := 0; i < len(buf); i++ {
		c := buf[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				if keyStart >= 0 {
					// A string at top level is a key only when a colon follows.
					j := i + 1
					for j < len(buf) && isSpace(buf[j]) {
						j++
					}
					if j < len(buf) && buf[j] == ':' {
						key := buf[keyStart:i]
						if _, seen := o.schemaKeys[key]; !seen && key != "" {
							o.schemaKeys[key] = struct{}{}
							o.schemaOrder = append(o.schemaOrder, key)
							discovered = append(discovered, key)
						}
					}
					keyStart = -1
				}
			}
			continue
		}
		switch c {
		case '"':
			inString = true
			if objectDepth == 1 && arrayDepth == 0 {
				keyStart = i + 1
			} else {
				keyStart = -1
			}
		case '{':
			objectDepth++
		case '}':
			if objectDepth > 0 {
				objectDepth--
			}
		case '[':
			arrayDepth++
		case ']':
			if arrayDepth > 0 {
				arrayDepth--
			}
		}
	}
	return discovered
}

// scanToolSignals records the first appearance of `"<key>"\s*:` for every
// configured tool key. Signals are one-shot per key per observer.
func (o *Observer) scanToolSignals(buf string) []string {
	var signals []string
	for _, key := range o.toolKeys {
		if _, seen := o.toolSeen[key]; seen {
			continue
		}
		if hasKeyPattern(buf, key) {
			o.toolSeen[key] = struct{}{}
			o.toolOrder = append(o.toolOrder, key)
			signals = append(signals, key)
		}
	}
	return signals
}

func hasKeyPattern(buf, key string) bool {
	needle := `"` + key + `"`
	from := 0
	for {
		idx := strings.Index(buf[from:], needle)
		if idx < 0 {
			return false
		}
		pos := from + idx + len(needle)
		i := pos
		for i < len(buf) && isSpace(buf[i]) {
			i++
		}
		if i < len(buf) && buf[i] == ':' {
			return true
		}
		from = pos
	}
}

// scanFileEdits finds completed `"file"\s*:\s*"..."` occurrences and emits
// each newly-seen decoded path once.
func (o *Observer) scanFileEdits(buf string) []string {
	var edits []string
	from := 0
	for {
		start, ok := findFieldStartFrom(buf, "file", from)
		if !ok {
			break
		}
		path, complete, end := readCompleteString(buf, start)
		if !complete {
			break
		}
		from = end
		if path == "" {
			continue
		}
		if _, seen := o.filesSeen[path]; !seen {
			o.filesSeen[path] = struct{}{}
			o.fileOrder = append(o.fileOrder, path)
			edits = append(edits, path)
		}
	}
	return edits
}

func findFieldStartFrom(buf, field string, from int) (int, bool) {
	if from >= len(buf) {
		return 0, false
	}
	start, ok := findFieldStart(buf[from:], field)
	if !ok {
		return 0, false
	}
	return from + start, true
}

// readCompleteString reads a JSON string ending at an unambiguous closing
// quote, returning the decoded value and the offset past the quote.
func readCompleteString(buf string, start int) (string, bool, int) {
	i := start
	for i < len(buf) {
		c := buf[i]
		if c == '\\' {
			i += 2
			continue
		}
		if c == '"' {
			return decodeRaw(buf[start:i]), true, i + 1
		}
		i++
	}
	return "", false, len(buf)
}
