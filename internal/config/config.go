package config

import (
	"sync"
)

// Config is the root configuration for the Agent Gateway.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Runtime   RuntimeConfig   `json:"runtime"`
	Provider  ProviderConfig  `json:"provider"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	Trace     TraceConfig     `json:"trace"`
	Storage   StorageConfig   `json:"storage,omitempty"`
	Skills    SkillsConfig    `json:"skills,omitempty"`
	Search    SearchConfig    `json:"search,omitempty"`
	MCP       MCPConfig       `json:"mcp,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Tailscale TailscaleConfig `json:"tailscale,omitempty"`
	mu        sync.RWMutex
}

// GatewayConfig configures the HTTP listener and browser-facing surface.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	PublicBaseURL  string   `json:"public_base_url,omitempty"` // base for /sandbox artifact URLs (default http://<host>:<port>)
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // CORS origins; empty = allow all (dev mode)
}

// RuntimeConfig configures how turns reach the agent runtime.
type RuntimeConfig struct {
	Transport            string `json:"transport,omitempty"` // "inprocess" (default) or "websocket"
	URL                  string `json:"url,omitempty"`       // websocket transport endpoint
	Model                string `json:"model"`
	ThinkingModel        string `json:"thinking_model,omitempty"` // extended-thinking variant (default: Model)
	MaxTurns             int    `json:"max_turns"`                // agentic loop cap per turn
	MaxTokens            int    `json:"max_tokens,omitempty"`
	ThinkingBudgetTokens int    `json:"thinking_budget_tokens,omitempty"` // extended-thinking budget (default 10000)
	Workdir              string `json:"workdir,omitempty"`                // cwd exposed to tools (default: sandbox root)
}

// ProviderConfig holds upstream LLM API settings.
// APIKey is NEVER read from config.json (secret) — env only.
type ProviderConfig struct {
	APIKey  string `json:"-"` // from env ANTHROPIC_API_KEY / AGENTGATE_API_KEY only
	BaseURL string `json:"base_url,omitempty"`
	Version string `json:"version,omitempty"` // anthropic-version header
}

// SandboxConfig is the filesystem/shell policy the gateway enforces on
// every tool invocation. Roots and globs are matched lexically; the policy
// layer never touches the filesystem.
type SandboxConfig struct {
	Root                    string   `json:"root"`                      // primary allowed root; also the /sandbox static dir
	AllowedRoots            []string `json:"allowed_roots,omitempty"`   // additional write-permitted prefixes
	BlockedPathGlobs        []string `json:"blocked_path_globs,omitempty"`
	AllowedExtensions       []string `json:"allowed_extensions,omitempty"` // optional whitelist; empty = any
	BlockedExtensions       []string `json:"blocked_extensions,omitempty"`
	DangerousCommandRegexes []string `json:"dangerous_command_regexes,omitempty"`
	SensitiveContentRegexes []string `json:"sensitive_content_regexes,omitempty"`
	MaxOpsPerMin            int      `json:"max_ops_per_min,omitempty"`
	MaxWritesPerMin         int      `json:"max_writes_per_min,omitempty"`
	MaxShellPerMin          int      `json:"max_shell_per_min,omitempty"`
}

// TraceConfig configures per-turn trace persistence and retention.
type TraceConfig struct {
	Dir             string `json:"dir"`
	RetentionDays   int    `json:"retention_days,omitempty"`   // 0 = keep forever
	JanitorSchedule string `json:"janitor_schedule,omitempty"` // cron expression (default "0 3 * * *")
}

// StorageConfig selects the trace index backend.
// PostgresDSN is NEVER read from config.json (secret) — env AGENTGATE_POSTGRES_DSN only.
type StorageConfig struct {
	Mode        string `json:"mode,omitempty"` // "standalone" (default, sqlite) or "managed" (postgres)
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"` // default: <trace.dir>/traces.db
}

// SkillsConfig locates the skills directory (<dir>/<id>/SKILL.md).
type SkillsConfig struct {
	Dir string `json:"dir,omitempty"`
}

// SearchConfig configures the fallback web-search proxy.
// APIKey from env SERPAPI_API_KEY / AGENTGATE_SEARCH_API_KEY only.
type SearchConfig struct {
	APIKey        string  `json:"-"`
	BaseURL       string  `json:"base_url,omitempty"`
	Engine        string  `json:"engine,omitempty"`          // default "google"
	RatePerSecond float64 `json:"rate_per_second,omitempty"` // proxy token bucket (default 1)
	Burst         int     `json:"burst,omitempty"`           // default 5
}

// MCPConfig lists stdio MCP servers whose tools extend the allowed-tool set.
type MCPConfig struct {
	Servers map[string]MCPServerConfig `json:"servers,omitempty"`
}

// MCPServerConfig describes one stdio MCP server process.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export for traces and metrics.
// When enabled, spans are exported to an OTLP-compatible backend (Jaeger,
// Tempo, Datadog, etc.) in addition to the local trace files.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317", "https://otel.example.com:4318")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext OTLP, for local collectors (default false)
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "agentgate")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

// TailscaleConfig configures the optional Tailscale tsnet listener.
// Requires building with -tags tsnet. Auth key from env only (never persisted).
type TailscaleConfig struct {
	Hostname  string `json:"hostname"`             // Tailscale machine name (e.g. "agentgate")
	StateDir  string `json:"state_dir,omitempty"`  // persistent state directory (default: os.UserConfigDir/tsnet-agentgate)
	AuthKey   string `json:"-"`                    // from env AGENTGATE_TSNET_AUTH_KEY only
	Ephemeral bool   `json:"ephemeral,omitempty"`  // remove node on exit (default false)
	EnableTLS bool   `json:"enable_tls,omitempty"` // use ListenTLS for auto HTTPS certs
}

// IsManagedMode returns true when the trace index runs on Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Storage.Mode == "managed" && c.Storage.PostgresDSN != ""
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = src.Gateway
	c.Runtime = src.Runtime
	c.Provider = src.Provider
	c.Sandbox = src.Sandbox
	c.Trace = src.Trace
	c.Storage = src.Storage
	c.Skills = src.Skills
	c.Search = src.Search
	c.MCP = src.MCP
	c.Telemetry = src.Telemetry
	c.Tailscale = src.Tailscale
}

// SandboxRoot returns the expanded primary sandbox root.
func (c *Config) SandboxRoot() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Sandbox.Root)
}

// TraceDir returns the expanded trace directory.
func (c *Config) TraceDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Trace.Dir)
}

// WriteRoots returns all expanded roots under which writes are permitted,
// primary root first.
func (c *Config) WriteRoots() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	roots := make([]string, 0, 1+len(c.Sandbox.AllowedRoots))
	if c.Sandbox.Root != "" {
		roots = append(roots, ExpandHome(c.Sandbox.Root))
	}
	for _, r := range c.Sandbox.AllowedRoots {
		roots = append(roots, ExpandHome(r))
	}
	return roots
}
