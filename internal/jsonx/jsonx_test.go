package jsonx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrictParse(t *testing.T) {
	data, err := Parse(`{"response":"ok","n":1}`)
	require.NoError(t, err)
	assert.Equal(t, "ok", data["response"])
}

func TestFencedExtraction(t *testing.T) {
	input := "Some preface text\n```json\n{\"response\":\"ok\",\"plan\":[\"a\",\"b\"]}\n```\nsuffix"
	data, err := Parse(input)
	require.NoError(t, err)
	assert.Equal(t, "ok", data["response"])
	assert.Equal(t, []any{"a", "b"}, data["plan"])
}

func TestBalancedSpanInProse(t *testing.T) {
	data, err := Parse(`The model says: {"response":"found me"} and then rambles on`)
	require.NoError(t, err)
	assert.Equal(t, "found me", data["response"])
}

func TestBalancedSpanRespectsStrings(t *testing.T) {
	// The brace inside the string must not end the span.
	data, err := Parse(`prefix {"response":"a } b"} suffix`)
	require.NoError(t, err)
	assert.Equal(t, "a } b", data["response"])
}

func TestBalancedSpanSkipsNonJSONBraces(t *testing.T) {
	// A stray brace group in the prose must not shadow the real object.
	data, err := Parse(`set {x} in the config, then reply {"response":"ok"}`)
	require.NoError(t, err)
	assert.Equal(t, "ok", data["response"])
}

func TestExtractBalancedPrefersValidSpan(t *testing.T) {
	span, ok := ExtractBalanced(`{not json} trailing {"response":"ok"}`)
	require.True(t, ok)
	assert.Equal(t, `{"response":"ok"}`, span)
}

func TestExtractBalancedFallsBackToFirstBalanced(t *testing.T) {
	// No candidate is valid JSON; the first balanced span is still returned
	// so the repair step gets a chance.
	span, ok := ExtractBalanced(`{a: 1} and {b: 2}`)
	require.True(t, ok)
	assert.Equal(t, `{a: 1}`, span)
}

func TestTrailingCommaAndComments(t *testing.T) {
	input := `{
		// the answer
		"response": "ok", /* block */
		"plan": "p",
	}`
	data, err := Parse(input)
	require.NoError(t, err)
	assert.Equal(t, "ok", data["response"])
	assert.Equal(t, "p", data["plan"])
}

func TestBareKeysQuoted(t *testing.T) {
	data, err := Parse(`{response: "ok", thought: "t"}`)
	require.NoError(t, err)
	assert.Equal(t, "ok", data["response"])
}

func TestSmartQuotesNormalized(t *testing.T) {
	data, err := Parse("{“response”: “ok”}")
	require.NoError(t, err)
	assert.Equal(t, "ok", data["response"])
}

func TestMissingClosersBalanced(t *testing.T) {
	data, err := Parse(`{"response":"ok","changes":[{"file":"a"`)
	require.NoError(t, err)
	assert.Equal(t, "ok", data["response"])
}

func TestTopLevelArrayWrapped(t *testing.T) {
	data, err := Parse(`[1,2,3]`)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, data["items"])
}

func TestNoJSONAtAll(t *testing.T) {
	_, err := Parse("just some prose with no braces")
	assert.Error(t, err)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, "no fences", StripFences("no fences"))
}
