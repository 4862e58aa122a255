package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentgate/internal/config"
	"github.com/nextlevelbuilder/agentgate/internal/trace"
)

func tracesCmd() *cobra.Command {
	var dir string
	var limit int

	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Inspect trace files",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "trace directory (default: from config)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent traces",
		Run: func(cmd *cobra.Command, args []string) {
			runTracesList(resolveTraceDir(dir), limit)
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 20, "max traces to show")

	showCmd := &cobra.Command{
		Use:   "show <trace-id>",
		Short: "Show one trace as a timeline",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runTracesShow(resolveTraceDir(dir), args[0])
		},
	}

	cmd.AddCommand(listCmd)
	cmd.AddCommand(showCmd)
	return cmd
}

func resolveTraceDir(flagDir string) string {
	if flagDir != "" {
		return config.ExpandHome(flagDir)
	}
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	return cfg.TraceDir()
}

func runTracesList(dir string, limit int) {
	ids, err := trace.IDs(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading %s: %v\n", dir, err)
		os.Exit(1)
	}
	if len(ids) == 0 {
		fmt.Printf("No traces in %s\n", dir)
		return
	}

	// IDs embed the start timestamp, so lexical order is chronological.
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	type row struct {
		id, start, status, duration, tools, summary string
	}
	rows := make([]row, 0, len(ids))
	for _, id := range ids {
		f, err := trace.Load(dir, id)
		if err != nil {
			rows = append(rows, row{id: id, status: "unreadable"})
			continue
		}
		tools := "-"
		if f.Metadata.Stats != nil {
			tools = fmt.Sprintf("%d", f.Metadata.Stats.ToolCalls)
		}
		rows = append(rows, row{
			id:       id,
			start:    f.Metadata.StartTime.Format("2006-01-02 15:04:05"),
			status:   f.Metadata.Status,
			duration: formatDurationMS(f.Metadata.DurationMS),
			tools:    tools,
			summary:  runewidth.Truncate(firstLine(f.FirstMessage()), 48, "…"),
		})
	}

	header := row{id: "TRACE ID", start: "START", status: "STATUS", duration: "DURATION", tools: "TOOLS", summary: "SUMMARY"}
	all := append([]row{header}, rows...)

	// Column widths by display cells, so CJK summaries stay aligned.
	var wID, wStart, wStatus, wDur, wTools int
	for _, r := range all {
		wID = max(wID, runewidth.StringWidth(r.id))
		wStart = max(wStart, runewidth.StringWidth(r.start))
		wStatus = max(wStatus, runewidth.StringWidth(r.status))
		wDur = max(wDur, runewidth.StringWidth(r.duration))
		wTools = max(wTools, runewidth.StringWidth(r.tools))
	}

	for _, r := range all {
		fmt.Printf("%s  %s  %s  %s  %s  %s\n",
			padCell(r.id, wID),
			padCell(r.start, wStart),
			padCell(r.status, wStatus),
			padCell(r.duration, wDur),
			padCell(r.tools, wTools),
			r.summary,
		)
	}
}

func runTracesShow(dir, id string) {
	f, err := trace.Load(dir, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading %s: %v\n", id, err)
		os.Exit(1)
	}

	m := f.Metadata
	fmt.Printf("Trace:    %s\n", m.TraceID)
	if m.SessionID != "" {
		fmt.Printf("Session:  %s\n", m.SessionID)
	}
	fmt.Printf("Start:    %s\n", m.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Printf("Status:   %s\n", m.Status)
	fmt.Printf("Duration: %s\n", formatDurationMS(m.DurationMS))
	if m.Error != nil {
		fmt.Printf("Error:    [%s] %s\n", m.Error.Type, m.Error.Message)
	}
	if s := m.Stats; s != nil {
		fmt.Printf("Stats:    %d tool calls, %d iterations, %d sub-agents, %d errors",
			s.ToolCalls, s.Iterations, s.SubAgents, s.Errors)
		if s.SandboxBlocks > 0 {
			fmt.Printf(", %d sandbox blocks", s.SandboxBlocks)
		}
		if s.HooksTriggered > 0 {
			fmt.Printf(", %d hooks", s.HooksTriggered)
		}
		fmt.Println()
	}

	if msg := f.FirstMessage(); msg != "" {
		fmt.Printf("Message:  %s\n", runewidth.Truncate(firstLine(msg), 100, "…"))
	}

	tl := trace.BuildTimeline(f)
	if len(tl.Items) == 0 {
		fmt.Println("\n(no tool activity)")
		return
	}

	fmt.Println()
	fmt.Println("Timeline:")
	for _, item := range tl.Items {
		switch item["type"] {
		case "tool":
			status := ""
			if item["status"] != "completed" {
				status = fmt.Sprintf("  [%v]", item["status"])
			}
			fmt.Printf("  %8s  %-12v %vms%s\n",
				fmt.Sprintf("+%vms", item["start_ms"]),
				item["name"], item["duration_ms"], status)
		case "sandbox_block":
			fmt.Printf("  %8s  BLOCKED %v: %v (%v)\n",
				fmt.Sprintf("+%vms", item["time_ms"]),
				item["tool_name"], item["reason"], item["blocked_path"])
		case "thinking":
			fmt.Printf("  %8s  thinking (%v chars)\n",
				fmt.Sprintf("+%vms", item["time_ms"]), item["length"])
		}
	}

	if len(tl.Iterations) > 1 {
		fmt.Println()
		fmt.Println("Iterations:")
		for _, span := range tl.Iterations {
			fmt.Printf("  #%d  +%dms → +%dms  (%d tools)\n",
				span.Iteration, span.StartMS, span.EndMS, len(span.Tools))
		}
	}
}

func formatDurationMS(ms *int64) string {
	if ms == nil {
		return "-"
	}
	if *ms < 1000 {
		return fmt.Sprintf("%dms", *ms)
	}
	return fmt.Sprintf("%.1fs", float64(*ms)/1000)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func padCell(s string, width int) string {
	gap := width - runewidth.StringWidth(s)
	if gap <= 0 {
		return s
	}
	return s + strings.Repeat(" ", gap)
}
