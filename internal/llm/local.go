package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"milo/internal/config"
	"milo/internal/logging"
)

// localProvider talks to an ollama-style /api/generate endpoint. It is the
// only adapter that returns continuation tokens: the server's context array
// is carried back so the next turn can skip re-sending the full prompt.
type localProvider struct {
	name     string
	cfg      config.ProviderConfig
	endpoint string
	client   *http.Client
	log      logging.Logger
}

func newLocalProvider(name string, cfg config.ProviderConfig) *localProvider {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = config.DefaultLocalEndpoint
	}
	return &localProvider{
		name:     name,
		cfg:      cfg,
		endpoint: endpoint,
		// Per-call deadlines come from the caller's context.
		client: &http.Client{},
		log:    logging.NewComponentLogger(fmt.Sprintf("llm[%s]", name)),
	}
}

func (p *localProvider) Name() string { return p.name }

type generateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Context []int          `json:"context,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type generateChunk struct {
	Response        string `json:"response"`
	Thinking        string `json:"thinking,omitempty"`
	Done            bool   `json:"done"`
	Context         []int  `json:"context,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

func (p *localProvider) Call(ctx context.Context, req Request) (*Result, error) {
	body := generateRequest{
		Model:   p.cfg.Model,
		Prompt:  req.Task,
		Stream:  req.Stream,
		Context: req.Continuation,
		Options: map[string]any{
			"temperature": p.cfg.Temperature,
			"top_p":       p.cfg.TopP,
			"num_predict": p.cfg.MaxTokens,
			"num_ctx":     p.cfg.ContextSize,
		},
	}
	// A warm continuation already encodes the system prompt; re-sending it
	// would duplicate context.
	if len(req.Continuation) == 0 {
		body.System = req.System
	} else {
		p.log.Debug("warm continuation: %d cached tokens", len(req.Continuation))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		var msg struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&msg)
		if msg.Error != "" {
			return nil, fmt.Errorf("provider %s: %s", p.name, msg.Error)
		}
		return nil, fmt.Errorf("provider %s: status %d", p.name, resp.StatusCode)
	}

	result := &Result{}
	var text, thinking strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("provider %s: bad chunk: %w", p.name, err)
		}
		if chunk.Response != "" {
			text.WriteString(chunk.Response)
			if req.Stream && req.OnChunk != nil {
				req.OnChunk(chunk.Response)
			}
		}
		if chunk.Thinking != "" {
			thinking.WriteString(chunk.Thinking)
		}
		if chunk.Done {
			result.Continuation = chunk.Context
			result.Usage = Usage{
				InputTokens:  chunk.PromptEvalCount,
				OutputTokens: chunk.EvalCount,
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("provider %s: read stream: %w", p.name, err)
	}
	result.Text = text.String()
	result.Thinking = thinking.String()
	return result, nil
}

// Validate probes the server's tag listing.
func (p *localProvider) Validate(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.endpoint+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider %s unreachable at %s: %w", p.name, p.endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider %s returned status %d", p.name, resp.StatusCode)
	}
	return nil
}
