package config

// RunPolicy controls whether model-proposed shell commands are executed.
type RunPolicy string

const (
	RunPolicyAsk    RunPolicy = "ask"
	RunPolicyAlways RunPolicy = "always"
	RunPolicyNever  RunPolicy = "never"
)

const (
	// LocalProvider is the designated default provider. It is the only
	// provider whose continuation tokens are cached between turns.
	LocalProvider = "local"

	DefaultLocalEndpoint = "http://localhost:11434"
	DefaultLocalModel    = "qwen2.5-coder:14b"

	DefaultStreamTimeoutMS   = 120000
	DefaultStreamRetryCount  = 1
	DefaultStreamRenderFPS   = 24
	DefaultCommandTimeoutMS  = 120000
	DefaultMaxBudget         = 5.0
	DefaultCompactThreshold  = 80
	DefaultCompactKeepRecent = 8
	DefaultMissionMaxSteps   = 5000
	DefaultMissionIdleLimit  = 3
)

// ProviderConfig holds per-provider connection and generation settings.
type ProviderConfig struct {
	Endpoint    string  `json:"endpoint"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
	ContextSize int     `json:"context_size"`
	Stream      bool    `json:"stream"`
	StreamPrint bool    `json:"stream_print"`
}

// MCPServerConfig describes one Model Context Protocol server process.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Config is the persisted process-wide configuration.
type Config struct {
	ActiveProvider string                    `json:"active_provider"`
	Providers      map[string]ProviderConfig `json:"providers"`

	PlanningMode                 bool `json:"planning_mode"`
	FastMode                     bool `json:"fast_mode"`
	MissionMode                  bool `json:"mission_mode"`
	VoiceMode                    bool `json:"voice_mode"`
	SeeProjectMode               bool `json:"see_project_mode"`
	NewlineSupport               bool `json:"newline_support"`
	WebBrowsingAllowed           bool `json:"web_browsing_allowed"`
	AutoReloadSession            bool `json:"auto_reload_session"`
	EnvBridgeEnabled             bool `json:"env_bridge_enabled"`
	CommandLogEnabled            bool `json:"command_log_enabled"`
	StrictEditRequiresFullAccess bool `json:"strict_edit_requires_full_access"`
	MCPEnabled                   bool `json:"mcp_enabled"`

	RunPolicy      RunPolicy `json:"run_policy"`
	EffortLevel    string    `json:"effort_level"`
	ReasoningLevel string    `json:"reasoning_level"`

	StreamTimeoutMS          int     `json:"stream_timeout_ms"`
	StreamRetryCount         int     `json:"stream_retry_count"`
	StreamRenderFPS          int     `json:"stream_render_fps"`
	CommandTimeoutMS         int     `json:"command_timeout_ms"` // 0 = unlimited
	MaxBudget                float64 `json:"max_budget"`
	AutoCompactThresholdPct  int     `json:"auto_compact_threshold_pct"`
	AutoCompactKeepRecent    int     `json:"auto_compact_keep_recent_turns"`
	MissionMaxSteps          int     `json:"mission_max_steps"`
	MissionIdleStepThreshold int     `json:"mission_idle_step_threshold"`

	Theme      string                     `json:"theme"`
	MCPServers map[string]MCPServerConfig `json:"mcp_servers,omitempty"`
}

// Default returns a Config with every field at its documented default.
func Default() *Config {
	return &Config{
		ActiveProvider: LocalProvider,
		Providers: map[string]ProviderConfig{
			LocalProvider: {
				Endpoint:    DefaultLocalEndpoint,
				Model:       DefaultLocalModel,
				Temperature: 0.2,
				TopP:        0.9,
				MaxTokens:   8192,
				ContextSize: 32768,
				Stream:      true,
				StreamPrint: true,
			},
			"openai": {
				Endpoint:    "https://api.openai.com/v1",
				Model:       "gpt-4o-mini",
				Temperature: 0.2,
				TopP:        0.9,
				MaxTokens:   8192,
				ContextSize: 128000,
				Stream:      true,
				StreamPrint: true,
			},
		},
		NewlineSupport:           true,
		WebBrowsingAllowed:       true,
		EnvBridgeEnabled:         true,
		CommandLogEnabled:        true,
		RunPolicy:                RunPolicyAsk,
		EffortLevel:              "medium",
		ReasoningLevel:           "medium",
		StreamTimeoutMS:          DefaultStreamTimeoutMS,
		StreamRetryCount:         DefaultStreamRetryCount,
		StreamRenderFPS:          DefaultStreamRenderFPS,
		CommandTimeoutMS:         DefaultCommandTimeoutMS,
		MaxBudget:                DefaultMaxBudget,
		AutoCompactThresholdPct:  DefaultCompactThreshold,
		AutoCompactKeepRecent:    DefaultCompactKeepRecent,
		MissionMaxSteps:          DefaultMissionMaxSteps,
		MissionIdleStepThreshold: DefaultMissionIdleLimit,
		Theme:                    "dark",
	}
}

// Provider returns the active provider's config, falling back to the local
// provider when the configured name is unknown.
func (c *Config) Provider() ProviderConfig {
	if p, ok := c.Providers[c.ActiveProvider]; ok {
		return p
	}
	return c.Providers[LocalProvider]
}

// ContextWindow returns the active provider's context window in tokens.
func (c *Config) ContextWindow() int {
	p := c.Provider()
	if p.ContextSize > 0 {
		return p.ContextSize
	}
	return 32768
}
