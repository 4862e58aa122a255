package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8000,
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			},
		},
		Runtime: RuntimeConfig{
			Transport:            "inprocess",
			Model:                "claude-sonnet-4-5-20250929",
			MaxTurns:             30,
			MaxTokens:            8192,
			ThinkingBudgetTokens: 10000,
		},
		Provider: ProviderConfig{
			BaseURL: "https://api.anthropic.com",
			Version: "2023-06-01",
		},
		Sandbox: SandboxConfig{
			Root: "~/.agentgate/sandbox",
			BlockedPathGlobs: []string{
				"*.pem",
				"*.key",
				"id_rsa*",
			},
			BlockedExtensions: []string{".exe", ".dll", ".so", ".dylib"},
			DangerousCommandRegexes: []string{
				`rm\s+-[a-z]*r[a-z]*f?\s+/(\s|$)`,
				`mkfs(\.|\s)`,
				`dd\s+if=/dev/(zero|u?random)`,
				`\b(shutdown|reboot|halt)\b`,
			},
			SensitiveContentRegexes: []string{
				`(?i)api[_-]?key\s*[:=]\s*\S+`,
				`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`,
				`(?i)aws_secret_access_key`,
			},
			MaxOpsPerMin:    120,
			MaxWritesPerMin: 30,
			MaxShellPerMin:  30,
		},
		Trace: TraceConfig{
			Dir:             "~/.agentgate/traces",
			JanitorSchedule: "0 3 * * *",
		},
		Storage: StorageConfig{
			Mode: "standalone",
		},
		Skills: SkillsConfig{
			Dir: ".claude/skills",
		},
		Search: SearchConfig{
			BaseURL:       "https://serpapi.com/search",
			Engine:        "google",
			RatePerSecond: 1,
			Burst:         5,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error — defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values; AGENTGATE_* spellings take
// precedence over the provider-native ones.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	// Provider credentials: native names first, AGENTGATE_* wins.
	envStr("ANTHROPIC_API_KEY", &c.Provider.APIKey)
	envStr("ANTHROPIC_BASE_URL", &c.Provider.BaseURL)
	envStr("ANTHROPIC_MODEL", &c.Runtime.Model)
	envStr("ANTHROPIC_MODEL_THINKING", &c.Runtime.ThinkingModel)
	envStr("AGENTGATE_API_KEY", &c.Provider.APIKey)
	envStr("AGENTGATE_BASE_URL", &c.Provider.BaseURL)
	envStr("AGENTGATE_MODEL", &c.Runtime.Model)
	envStr("AGENTGATE_THINKING_MODEL", &c.Runtime.ThinkingModel)

	// Gateway listener
	envStr("AGENTGATE_HOST", &c.Gateway.Host)
	envInt("AGENTGATE_PORT", &c.Gateway.Port)
	envStr("AGENTGATE_PUBLIC_BASE_URL", &c.Gateway.PublicBaseURL)

	// Runtime transport
	envStr("AGENTGATE_RUNTIME_TRANSPORT", &c.Runtime.Transport)
	envStr("AGENTGATE_RUNTIME_URL", &c.Runtime.URL)
	envInt("AGENTGATE_MAX_TURNS", &c.Runtime.MaxTurns)

	// Sandbox & traces
	envStr("AGENTGATE_SANDBOX_ROOT", &c.Sandbox.Root)
	envStr("AGENTGATE_TRACE_DIR", &c.Trace.Dir)
	envInt("AGENTGATE_TRACE_RETENTION_DAYS", &c.Trace.RetentionDays)

	// Storage
	envStr("AGENTGATE_POSTGRES_DSN", &c.Storage.PostgresDSN)
	envStr("AGENTGATE_MODE", &c.Storage.Mode)

	// Skills
	envStr("AGENTGATE_SKILLS_DIR", &c.Skills.Dir)

	// Search proxy: native name first, AGENTGATE_* wins.
	envStr("SERPAPI_API_KEY", &c.Search.APIKey)
	envStr("AGENTGATE_SEARCH_API_KEY", &c.Search.APIKey)
	envStr("AGENTGATE_SEARCH_BASE_URL", &c.Search.BaseURL)

	// Telemetry
	envStr("AGENTGATE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("AGENTGATE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("AGENTGATE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("AGENTGATE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("AGENTGATE_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	// Tailscale (tsnet)
	envStr("AGENTGATE_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("AGENTGATE_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("AGENTGATE_TSNET_DIR", &c.Tailscale.StateDir)
}

// ApplyEnvOverrides re-applies environment variable overrides onto the config.
// Call this after modifying config to restore runtime secrets from env vars.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// Save writes the config to a JSON file. Secret fields carry `json:"-"` and
// never reach disk.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields masked.
// Used by the doctor command and config display paths.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Deep copy via JSON round-trip
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	// Secrets are json:"-" so the round-trip dropped them; re-mask from live values.
	if c.Provider.APIKey != "" {
		cp.Provider.APIKey = secretMask
	}
	if c.Search.APIKey != "" {
		cp.Search.APIKey = secretMask
	}
	if c.Storage.PostgresDSN != "" {
		cp.Storage.PostgresDSN = secretMask
	}
	if c.Tailscale.AuthKey != "" {
		cp.Tailscale.AuthKey = secretMask
	}
	for name, srv := range cp.MCP.Servers {
		for k := range srv.Env {
			srv.Env[k] = secretMask
		}
		cp.MCP.Servers[name] = srv
	}

	return cp
}

// StripSecrets zeros out all secret fields in the config.
// Used before saving to disk to ensure secrets never persist in config.json.
func (c *Config) StripSecrets() {
	c.Provider.APIKey = ""
	c.Search.APIKey = ""
	c.Storage.PostgresDSN = ""
	c.Tailscale.AuthKey = ""
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
