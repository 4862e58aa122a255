package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentgate/internal/config"
)

func chatCmd() *cobra.Command {
	var addr string
	var sessionID string
	var thinking bool

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to a running gateway from the terminal",
		Long:  "Sends a message to the gateway's streaming chat endpoint and renders the event stream. With no message argument, starts an interactive session.",
		Args:  cobra.ArbitraryArgs,
		Run: func(cmd *cobra.Command, args []string) {
			runChat(addr, sessionID, thinking, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gateway address (default: from config)")
	cmd.Flags().StringVar(&sessionID, "session", "", "continue an existing session")
	cmd.Flags().BoolVar(&thinking, "thinking", false, "use the extended thinking endpoint")
	return cmd
}

func runChat(addr, sessionID string, thinking bool, message string) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if addr == "" {
		host := cfg.Gateway.Host
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "localhost"
		}
		addr = fmt.Sprintf("%s:%d", host, cfg.Gateway.Port)
	}
	baseURL := "http://" + addr

	// No client timeout: a turn streams for as long as the agent works.
	client := &http.Client{}

	if message != "" {
		// One-shot mode
		if _, err := sseChatSend(client, baseURL, sessionID, thinking, message); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()
		return
	}

	// Interactive REPL
	fmt.Fprintf(os.Stderr, "\nagentgate interactive chat (%s, model: %s)\n", baseURL, cfg.Runtime.Model)
	fmt.Fprintf(os.Stderr, "Type \"exit\" to quit, \"/new\" for a new session\n\n")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(os.Stderr, "Goodbye!")
			return
		}
		if input == "/new" {
			sessionID = ""
			fmt.Fprintf(os.Stderr, "New session.\n\n")
			continue
		}

		newSession, err := sseChatSend(client, baseURL, sessionID, thinking, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			continue
		}
		sessionID = newSession
		fmt.Println()
		fmt.Println()
	}
}

// sseChatSend posts one message and renders the event stream: text deltas
// to stdout, tool and error notices to stderr. Returns the session ID the
// gateway assigned so the next message continues the conversation.
func sseChatSend(client *http.Client, baseURL, sessionID string, thinking bool, message string) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"message":    message,
		"session_id": sessionID,
	})

	path := "/api/chat"
	if thinking {
		path = "/api/chat/thinking"
	}
	req, err := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return sessionID, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		return sessionID, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return sessionID, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if sid := resp.Header.Get("X-Session-Id"); sid != "" {
		if decoded, err := url.QueryUnescape(sid); err == nil {
			sessionID = decoded
		}
	}

	r := &frameRenderer{}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			r.render(event, strings.TrimPrefix(line, "data: "))
		}
	}
	if err := sc.Err(); err != nil {
		return sessionID, fmt.Errorf("stream: %w", err)
	}
	return sessionID, nil
}

// frameRenderer prints stream frames for a terminal: the answer itself on
// stdout, everything else as bracketed notices on stderr.
type frameRenderer struct {
	cost float64
}

func (r *frameRenderer) render(event, data string) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return
	}

	switch event {
	case "text_delta":
		if text, ok := payload["text"].(string); ok {
			fmt.Print(text)
		}

	case "tool_start":
		name, _ := payload["name"].(string)
		if input, ok := payload["input"].(map[string]any); ok && len(input) > 0 {
			compact, _ := json.Marshal(input)
			fmt.Fprintf(os.Stderr, "  [tool] %s %s\n", name, compact)
		} else {
			fmt.Fprintf(os.Stderr, "  [tool] %s\n", name)
		}

	case "tool_result":
		if status, _ := payload["status"].(string); status == "error" {
			msg, _ := payload["error"].(string)
			fmt.Fprintf(os.Stderr, "  [tool] error: %s\n", msg)
		}

	case "agent_spawn":
		agentType, _ := payload["agent_type"].(string)
		fmt.Fprintf(os.Stderr, "  [agent] spawning %s\n", agentType)

	case "hook_pre_tool":
		if action, _ := payload["action"].(string); action == "block" {
			msg, _ := payload["message"].(string)
			fmt.Fprintf(os.Stderr, "  [hook] blocked: %s\n", msg)
		}

	case "html_created":
		artifactURL, _ := payload["url"].(string)
		fmt.Fprintf(os.Stderr, "  [artifact] %s\n", artifactURL)

	case "cost_update":
		if c, ok := payload["total_cost"].(float64); ok {
			r.cost = c
		}

	case "message_complete":
		if tokens, ok := payload["total_tokens"].(float64); ok && tokens > 0 {
			fmt.Fprintf(os.Stderr, "\n  [done] %d tokens, $%.4f\n", int(tokens), r.cost)
		}

	case "error":
		msg, _ := payload["error"].(string)
		if msg == "" {
			msg = data
		}
		fmt.Fprintf(os.Stderr, "\n[error] %s\n", msg)
	}
}
