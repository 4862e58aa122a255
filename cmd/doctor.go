package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentgate/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("agentgate doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	// Provider
	fmt.Println()
	fmt.Println("  Provider:")
	checkSecret("API key", cfg.Provider.APIKey)
	fmt.Printf("    %-12s %s\n", "Base URL:", cfg.Provider.BaseURL)
	fmt.Printf("    %-12s %s\n", "Model:", cfg.Runtime.Model)
	if cfg.Runtime.Transport == "websocket" {
		fmt.Printf("    %-12s websocket (%s)\n", "Transport:", cfg.Runtime.URL)
	} else {
		fmt.Printf("    %-12s inprocess\n", "Transport:")
	}

	// Storage
	fmt.Println()
	fmt.Println("  Storage:")
	if cfg.IsManagedMode() {
		fmt.Printf("    %-12s managed\n", "Mode:")
		checkPostgres(cfg.Storage.PostgresDSN)
	} else {
		fmt.Printf("    %-12s standalone\n", "Mode:")
		path := cfg.Storage.SQLitePath
		if path == "" {
			path = cfg.TraceDir() + "/traces.db"
		}
		fmt.Printf("    %-12s %s", "Index:", path)
		if _, err := os.Stat(path); err != nil {
			fmt.Println(" (not created yet)")
		} else {
			fmt.Println(" (OK)")
		}
	}

	// Working directories
	fmt.Println()
	fmt.Println("  Directories:")
	checkDir("Traces", cfg.TraceDir())
	checkDir("Sandbox", cfg.SandboxRoot())
	checkDir("Skills", config.ExpandHome(cfg.Skills.Dir))

	// Search proxy
	fmt.Println()
	fmt.Println("  Search:")
	checkSecret("API key", cfg.Search.APIKey)
	if cfg.Search.Engine != "" {
		fmt.Printf("    %-12s %s\n", "Engine:", cfg.Search.Engine)
	}

	// MCP servers
	fmt.Println()
	fmt.Println("  MCP Servers:")
	if len(cfg.MCP.Servers) == 0 {
		fmt.Println("    (none configured)")
	} else {
		names := make([]string, 0, len(cfg.MCP.Servers))
		for name := range cfg.MCP.Servers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			checkCommand(name, cfg.MCP.Servers[name].Command)
		}
	}

	// External tools
	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("bash")
	checkBinary("curl")
	checkBinary("git")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkSecret(name, value string) {
	if value == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	masked := "****"
	if len(value) > 8 {
		masked = value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}

func checkDir(name, path string) {
	fmt.Printf("    %-12s %s", name+":", path)
	if _, err := os.Stat(path); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}
}

func checkPostgres(dsn string) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s connected\n", "Status:")

	// golang-migrate bookkeeping table
	var version int64
	var dirty bool
	err = db.QueryRow("SELECT version, dirty FROM schema_migrations").Scan(&version, &dirty)
	switch {
	case err != nil:
		fmt.Printf("    %-12s none applied (run: agentgate migrate up)\n", "Schema:")
	case dirty:
		fmt.Printf("    %-12s v%d (DIRTY — run: agentgate migrate force %d)\n", "Schema:", version, version-1)
	default:
		fmt.Printf("    %-12s v%d\n", "Schema:", version)
	}
}

func checkCommand(name, command string) {
	if command == "" {
		fmt.Printf("    %-12s (no command)\n", name+":")
		return
	}
	if _, err := exec.LookPath(command); err != nil {
		fmt.Printf("    %-12s %s NOT FOUND\n", name+":", command)
	} else {
		fmt.Printf("    %-12s %s\n", name+":", command)
	}
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
