package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.Gateway.Port != 8000 {
		t.Errorf("Gateway.Port = %d, want 8000", cfg.Gateway.Port)
	}
	if cfg.Runtime.MaxTurns != 30 {
		t.Errorf("Runtime.MaxTurns = %d, want 30", cfg.Runtime.MaxTurns)
	}
	if cfg.Runtime.Transport != "inprocess" {
		t.Errorf("Runtime.Transport = %q, want %q", cfg.Runtime.Transport, "inprocess")
	}
	if cfg.Storage.Mode != "standalone" {
		t.Errorf("Storage.Mode = %q, want %q", cfg.Storage.Mode, "standalone")
	}
	if cfg.Sandbox.MaxOpsPerMin == 0 || cfg.Sandbox.MaxWritesPerMin == 0 || cfg.Sandbox.MaxShellPerMin == 0 {
		t.Error("sandbox rate limits should default to non-zero caps")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateway.Port != 8000 {
		t.Errorf("Gateway.Port = %d, want default 8000", cfg.Gateway.Port)
	}
}

func TestLoadJSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		// gateway listener
		"gateway": {"host": "127.0.0.1", "port": 9100},
		"runtime": {"model": "claude-test-1", "max_turns": 5},
	}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("Gateway.Host = %q, want %q", cfg.Gateway.Host, "127.0.0.1")
	}
	if cfg.Gateway.Port != 9100 {
		t.Errorf("Gateway.Port = %d, want 9100", cfg.Gateway.Port)
	}
	if cfg.Runtime.Model != "claude-test-1" {
		t.Errorf("Runtime.Model = %q, want %q", cfg.Runtime.Model, "claude-test-1")
	}
	if cfg.Runtime.MaxTurns != 5 {
		t.Errorf("Runtime.MaxTurns = %d, want 5", cfg.Runtime.MaxTurns)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"runtime": {"model": "from-file"}}`), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ANTHROPIC_MODEL", "from-env")
	t.Setenv("AGENTGATE_PORT", "9200")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Runtime.Model != "from-env" {
		t.Errorf("Runtime.Model = %q, want env override %q", cfg.Runtime.Model, "from-env")
	}
	if cfg.Gateway.Port != 9200 {
		t.Errorf("Gateway.Port = %d, want env override 9200", cfg.Gateway.Port)
	}
}

func TestAgentgateEnvWinsOverNative(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "native-key")
	t.Setenv("AGENTGATE_API_KEY", "gate-key")

	cfg := Default()
	cfg.applyEnvOverrides()
	if cfg.Provider.APIKey != "gate-key" {
		t.Errorf("Provider.APIKey = %q, want %q", cfg.Provider.APIKey, "gate-key")
	}
}

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Provider.APIKey = "sk-ant-secret"
	cfg.Search.APIKey = "serp-secret"
	cfg.MCP.Servers = map[string]MCPServerConfig{
		"tavily": {Command: "npx", Env: map[string]string{"TAVILY_API_KEY": "tv-secret"}},
	}

	cp := cfg.MaskedCopy()
	if cp.Provider.APIKey != secretMask {
		t.Errorf("masked APIKey = %q, want %q", cp.Provider.APIKey, secretMask)
	}
	if cp.Search.APIKey != secretMask {
		t.Errorf("masked Search.APIKey = %q, want %q", cp.Search.APIKey, secretMask)
	}
	if got := cp.MCP.Servers["tavily"].Env["TAVILY_API_KEY"]; got != secretMask {
		t.Errorf("masked MCP env = %q, want %q", got, secretMask)
	}
	// Original untouched.
	if cfg.Provider.APIKey != "sk-ant-secret" {
		t.Error("MaskedCopy mutated the original config")
	}
}

func TestWriteRootsExpandsAndOrders(t *testing.T) {
	cfg := Default()
	cfg.Sandbox.Root = "/srv/sandbox"
	cfg.Sandbox.AllowedRoots = []string{"/srv/shared"}

	roots := cfg.WriteRoots()
	if len(roots) != 2 {
		t.Fatalf("WriteRoots() len = %d, want 2", len(roots))
	}
	if roots[0] != "/srv/sandbox" || roots[1] != "/srv/shared" {
		t.Errorf("WriteRoots() = %v, want primary first", roots)
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"tilde slash", "~/x", home + "/x"},
		{"bare tilde", "~", home},
		{"absolute untouched", "/tmp/x", "/tmp/x"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandHome(tt.in); got != tt.want {
				t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
