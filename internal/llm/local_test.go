package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milo/internal/config"
)

func newFakeGenerateServer(t *testing.T, capture *generateRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		case "/api/generate":
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
			chunks := []generateChunk{
				{Response: "hel", Thinking: "let me think"},
				{Response: "lo"},
				{Done: true, Context: []int{9, 8, 7}, PromptEvalCount: 12, EvalCount: 5},
			}
			for _, chunk := range chunks {
				data, err := json.Marshal(chunk)
				require.NoError(t, err)
				fmt.Fprintf(w, "%s\n", data)
			}
		default:
			http.NotFound(w, r)
		}
	}))
}

func newLocalForServer(url string) *localProvider {
	return newLocalProvider(config.LocalProvider, config.ProviderConfig{
		Endpoint: url, Model: "test-model", MaxTokens: 64, ContextSize: 1024,
	})
}

func TestLocalCallAccumulatesStream(t *testing.T) {
	var captured generateRequest
	server := newFakeGenerateServer(t, &captured)
	defer server.Close()

	p := newLocalForServer(server.URL)
	var streamed []string
	result, err := p.Call(context.Background(), Request{
		System:  "you are a test",
		Task:    "say hello",
		Stream:  true,
		OnChunk: func(chunk string) { streamed = append(streamed, chunk) },
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", result.Text)
	assert.Equal(t, "let me think", result.Thinking)
	assert.Equal(t, []string{"hel", "lo"}, streamed)
	assert.Equal(t, []int{9, 8, 7}, result.Continuation)
	assert.Equal(t, 12, result.Usage.InputTokens)
	assert.Equal(t, 5, result.Usage.OutputTokens)

	assert.Equal(t, "you are a test", captured.System)
	assert.Equal(t, "say hello", captured.Prompt)
	assert.Equal(t, "test-model", captured.Model)
}

func TestLocalWarmContinuationSkipsSystem(t *testing.T) {
	var captured generateRequest
	server := newFakeGenerateServer(t, &captured)
	defer server.Close()

	p := newLocalForServer(server.URL)
	_, err := p.Call(context.Background(), Request{
		System:       "ignored on warm calls",
		Task:         "continue",
		Continuation: []int{1, 2, 3},
	})
	require.NoError(t, err)
	assert.Empty(t, captured.System)
	assert.Equal(t, []int{1, 2, 3}, captured.Context)
}

func TestLocalServerErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "model not loaded"})
	}))
	defer server.Close()

	p := newLocalForServer(server.URL)
	_, err := p.Call(context.Background(), Request{Task: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestLocalValidate(t *testing.T) {
	var captured generateRequest
	server := newFakeGenerateServer(t, &captured)
	defer server.Close()

	assert.NoError(t, newLocalForServer(server.URL).Validate(context.Background()))

	down := newLocalForServer("http://127.0.0.1:1")
	assert.Error(t, down.Validate(context.Background()))
}

func TestNewProviderDispatch(t *testing.T) {
	local, err := New(config.LocalProvider, config.ProviderConfig{}, "")
	require.NoError(t, err)
	assert.Equal(t, config.LocalProvider, local.Name())

	_, err = New("custom", config.ProviderConfig{}, "key")
	assert.Error(t, err, "non-local providers need an endpoint")

	remote, err := New("custom", config.ProviderConfig{Endpoint: "https://example.test/v1"}, "key")
	require.NoError(t, err)
	assert.Equal(t, "custom", remote.Name())
}
