package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Continuation is provider continuation state cached in session metadata.
// For the local provider the tokens are the server's cached prompt context
// handle, letting the next call skip re-sending system and history.
type Continuation struct {
	Tokens            []int     `json:"continuation_tokens"`
	ModelName         string    `json:"model_name"`
	SavedAt           time.Time `json:"saved_at"`
	Valid             bool      `json:"valid_flag"`
	PromptFingerprint string    `json:"prompt_fingerprint"`
}

const continuationKey = "continuation"

// Fingerprint hashes a system prompt for continuation validity checks.
func Fingerprint(systemPrompt string) string {
	sum := sha256.Sum256([]byte(systemPrompt))
	return hex.EncodeToString(sum[:])
}

// SetContinuation stores continuation state in the session metadata, stamping
// SavedAt when the caller left it unset.
func (f *File) SetContinuation(c Continuation) {
	if c.SavedAt.IsZero() {
		c.SavedAt = time.Now().UTC()
	}
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	f.Metadata[continuationKey] = c
}

// InvalidateContinuation marks any cached continuation stale. Called on every
// provider error.
func (f *File) InvalidateContinuation() {
	c, ok := f.continuation()
	if !ok {
		return
	}
	c.Valid = false
	f.SetContinuation(c)
}

// WarmContinuation returns cached continuation tokens when they are valid for
// the given model and system prompt, and reports whether the cache is warm.
func (f *File) WarmContinuation(model, systemPrompt string) (Continuation, bool) {
	c, ok := f.continuation()
	if !ok || !c.Valid || len(c.Tokens) == 0 {
		return Continuation{}, false
	}
	if c.ModelName != model || c.PromptFingerprint != Fingerprint(systemPrompt) {
		return Continuation{}, false
	}
	return c, true
}

func (f *File) continuation() (Continuation, bool) {
	raw, ok := f.Metadata[continuationKey]
	if !ok {
		return Continuation{}, false
	}
	// Metadata round-trips through JSON, so the value may be a map after load.
	switch v := raw.(type) {
	case Continuation:
		return v, true
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return Continuation{}, false
		}
		var c Continuation
		if err := json.Unmarshal(data, &c); err != nil {
			return Continuation{}, false
		}
		return c, true
	}
}
