package config

import (
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"milo/internal/logging"
)

// ApplyEnvBridge overlays AGENT_* variables from a project-root .env file onto
// the config. It is read once at load; OS environment variables with the same
// names take precedence over the file.
func ApplyEnvBridge(cfg *Config, projectRoot string) {
	if !cfg.EnvBridgeEnabled {
		return
	}
	logger := logging.NewComponentLogger("EnvBridge")

	vars := map[string]string{}
	envPath := filepath.Join(projectRoot, ".env")
	if fileVars, err := godotenv.Read(envPath); err == nil {
		for k, v := range fileVars {
			vars[k] = v
		}
	}
	// Process env always wins over the .env file.
	for _, entry := range os.Environ() {
		if idx := strings.IndexByte(entry, '='); idx > 0 {
			vars[entry[:idx]] = entry[idx+1:]
		}
	}

	if v := vars["AGENT_PROVIDER"]; v != "" {
		if _, ok := cfg.Providers[v]; ok {
			cfg.ActiveProvider = v
		} else {
			logger.Warn("AGENT_PROVIDER names unknown provider %q, ignoring", v)
		}
	}
	if v := vars["AGENT_MAX_BUDGET"]; v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.MaxBudget = f
		}
	}
	if v := vars["AGENT_RUN_POLICY"]; v != "" {
		switch RunPolicy(v) {
		case RunPolicyAsk, RunPolicyAlways, RunPolicyNever:
			cfg.RunPolicy = RunPolicy(v)
		}
	}
	if v := vars["AGENT_STREAM_TIMEOUT_MS"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StreamTimeoutMS = n
		}
	}
	if v := vars["AGENT_STREAM_RETRY_COUNT"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.StreamRetryCount = n
		}
	}
	if v := vars["AGENT_STREAM_RENDER_FPS"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StreamRenderFPS = n
		}
	}
	if v := vars["AGENT_COMMAND_TIMEOUT_MS"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.CommandTimeoutMS = n
		}
	}
	if v := vars["AGENT_COMMAND_LOG_ENABLED"]; v != "" {
		cfg.CommandLogEnabled = parseBool(v)
	}
	if v := vars["AGENT_STRICT_EDIT_REQUIRES_FULL_ACCESS"]; v != "" {
		cfg.StrictEditRequiresFullAccess = parseBool(v)
	}

	// Per-provider overrides: <PROV>_MODEL, <PROV>_ENDPOINT. API keys are
	// handled by the secrets store, not persisted into the config.
	for name, provider := range cfg.Providers {
		prefix := strings.ToUpper(name)
		changed := false
		if v := vars[prefix+"_MODEL"]; v != "" {
			provider.Model = v
			changed = true
		}
		if v := vars[prefix+"_ENDPOINT"]; v != "" {
			provider.Endpoint = NormalizeEndpoint(v)
			changed = true
		}
		if changed {
			cfg.Providers[name] = provider
		}
	}
}

// EnvAPIKey returns the <PROV>_API_KEY override for a provider, if any.
func EnvAPIKey(provider string) string {
	return os.Getenv(strings.ToUpper(provider) + "_API_KEY")
}

// NormalizeEndpoint rewrites IP-literal hosts to localhost before the value is
// persisted, so configs stay portable across machines.
func NormalizeEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	host := u.Hostname()
	if ip := net.ParseIP(host); ip == nil {
		return endpoint
	}
	port := u.Port()
	if port != "" {
		u.Host = "localhost:" + port
	} else {
		u.Host = "localhost"
	}
	return u.String()
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
