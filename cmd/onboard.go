package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentgate/internal/config"
	"github.com/nextlevelbuilder/agentgate/internal/providers"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

// runOnboard walks the user through first-time setup: API key, model,
// sandbox root. The key goes to .env.local (0600); config.json never
// holds secrets.
func runOnboard() {
	cfgPath := resolveConfigPath()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("Existing config at %s is unreadable (%v); starting fresh.\n", cfgPath, err)
		cfg = config.Default()
	}

	apiKey := cfg.Provider.APIKey
	model := cfg.Runtime.Model
	sandboxRoot := cfg.Sandbox.Root
	verify := true

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Anthropic API key").
				Description("Stored in .env.local next to your config, never in config.json.").
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("API key is required")
					}
					return nil
				}).
				Value(&apiKey),
			huh.NewSelect[string]().
				Title("Model").
				Options(
					huh.NewOption("Claude Sonnet 4.5 (recommended)", "claude-sonnet-4-5-20250929"),
					huh.NewOption("Claude Opus 4.1", "claude-opus-4-1-20250805"),
					huh.NewOption("Claude Haiku 4.5", "claude-haiku-4-5-20251001"),
				).
				Value(&model),
			huh.NewInput().
				Title("Sandbox root").
				Description("Directory the agent's file tools are confined to.").
				Value(&sandboxRoot),
			huh.NewConfirm().
				Title("Verify the key with a one-token API call?").
				Value(&verify),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return
		}
		fmt.Printf("Setup failed: %v\n", err)
		os.Exit(1)
	}

	cfg.Provider.APIKey = strings.TrimSpace(apiKey)
	cfg.Runtime.Model = model
	cfg.Sandbox.Root = sandboxRoot

	if verify {
		fmt.Print("Verifying API key...")
		if verr := verifyAnthropicKey(cfg); verr != nil {
			if verr.fatal {
				fmt.Println(" FAILED")
				fmt.Printf("  %s\n", verr.message)
				os.Exit(1)
			}
			fmt.Println(" WARNING")
			fmt.Printf("  %s (continuing — the key itself may still be valid)\n", verr.message)
		} else {
			fmt.Println(" OK")
		}
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		fmt.Printf("Could not save config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config saved to %s\n", cfgPath)

	envPath := filepath.Join(filepath.Dir(cfgPath), ".env.local")
	if err := writeEnvLocal(envPath, cfg.Provider.APIKey); err != nil {
		fmt.Printf("Could not write %s: %v\n", envPath, err)
		fmt.Println("Export the key manually:  export ANTHROPIC_API_KEY=<key>")
	} else {
		fmt.Printf("API key saved to %s\n", envPath)
	}

	fmt.Println()
	fmt.Println("Setup complete. Start the gateway with:")
	fmt.Println()
	fmt.Println("  ./agentgate")
	fmt.Println()
}

// keyVerifyError holds the result of the API key probe.
type keyVerifyError struct {
	fatal   bool   // true = bad credentials
	message string // human-readable description
}

func (e *keyVerifyError) Error() string { return e.message }

// verifyAnthropicKey checks the key by sending a minimal Chat request
// through the same provider layer the gateway uses, so auth headers, base
// URL overrides, and retries all match real traffic.
//
//   - 401/403 HTTPError → invalid API key (fatal)
//   - any other error   → non-fatal warning (transient/config issue)
//   - success           → key is valid
func verifyAnthropicKey(cfg *config.Config) *keyVerifyError {
	prov := providers.NewAnthropicProvider(cfg.Provider.APIKey,
		providers.WithAnthropicModel(cfg.Runtime.Model),
		providers.WithAnthropicBaseURL(cfg.Provider.BaseURL),
		providers.WithAnthropicVersion(cfg.Provider.Version),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err := prov.Chat(ctx, providers.ChatRequest{
		Messages:  []providers.Message{providers.UserText("hi")},
		MaxTokens: 1,
	})
	if err != nil {
		var httpErr *providers.HTTPError
		if errors.As(err, &httpErr) && (httpErr.Status == 401 || httpErr.Status == 403) {
			return &keyVerifyError{
				fatal:   true,
				message: fmt.Sprintf("API returned %d — invalid API key", httpErr.Status),
			}
		}
		return &keyVerifyError{fatal: false, message: friendlyProviderError(err)}
	}
	return nil
}

// friendlyProviderError extracts a human-readable message from provider errors.
func friendlyProviderError(err error) string {
	msg := err.Error()

	// Try to extract "message" field from embedded JSON error blobs.
	if idx := strings.Index(msg, `"message"`); idx >= 0 {
		rest := msg[idx:]
		if start := strings.Index(rest, `:`); start >= 0 {
			rest = strings.TrimLeft(rest[start+1:], " ")
			if len(rest) > 0 && rest[0] == '"' {
				rest = rest[1:]
				if end := strings.Index(rest, `"`); end >= 0 && rest[:end] != "" {
					return rest[:end]
				}
			}
		}
	}

	// Strip "HTTP NNN: " style prefixes.
	if idx := strings.LastIndex(msg, ": "); idx >= 0 && idx < len(msg)-2 {
		suffix := msg[idx+2:]
		if strings.HasPrefix(suffix, "{") {
			return "request rejected by provider"
		}
		return suffix
	}

	return msg
}

// writeEnvLocal writes (or replaces) the ANTHROPIC_API_KEY line in a dotenv
// file, preserving any other entries the user keeps there.
func writeEnvLocal(path, apiKey string) error {
	var kept []string
	if data, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			trimmed := strings.TrimPrefix(strings.TrimSpace(line), "export ")
			if strings.HasPrefix(trimmed, "ANTHROPIC_API_KEY=") {
				continue
			}
			kept = append(kept, line)
		}
		for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
			kept = kept[:len(kept)-1]
		}
	}

	var b strings.Builder
	if len(kept) == 0 {
		b.WriteString("# agentgate secrets — loaded at startup, keep out of version control.\n")
	} else {
		b.WriteString(strings.Join(kept, "\n"))
		b.WriteString("\n")
	}
	b.WriteString("ANTHROPIC_API_KEY=" + apiKey + "\n")

	return os.WriteFile(path, []byte(b.String()), 0600)
}
