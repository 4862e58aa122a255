package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	fetchMaxChars    = 50000
	fetchMaxRedirect = 3
	fetchTimeout     = 30 * time.Second
	fetchUserAgent   = "agentgate/1.0 (+https://github.com/nextlevelbuilder/agentgate)"
)

// WebFetchTool fetches a URL and extracts readable text.
type WebFetchTool struct {
	maxChars     int
	client       *http.Client
	allowPrivate bool // tests only; production tools never set this
}

func NewWebFetchTool() *WebFetchTool {
	t := &WebFetchTool{maxChars: fetchMaxChars}
	t.client = &http.Client{
		Timeout: fetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= fetchMaxRedirect {
				return fmt.Errorf("stopped after %d redirects", fetchMaxRedirect)
			}
			// Redirects can point anywhere; re-screen the target.
			if err := t.screen(req.URL); err != nil {
				return err
			}
			return nil
		},
	}
	return t
}

func (t *WebFetchTool) screen(u *url.URL) error {
	if t.allowPrivate {
		return nil
	}
	return checkPrivateTarget(u)
}

func (t *WebFetchTool) Name() string { return "WebFetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL and return its content as readable text. HTML is stripped to text, JSON is pretty-printed."
}

func (t *WebFetchTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch",
			},
			"prompt": map[string]any{
				"type":        "string",
				"description": "What to look for in the fetched content",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) *Result {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return ErrorResult("url is required")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid URL: %v", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrorResult("only http and https URLs are supported")
	}
	if parsed.Host == "" {
		return ErrorResult("missing hostname in URL")
	}
	if err := t.screen(parsed); err != nil {
		return ErrorResult(fmt.Sprintf("fetch blocked: %v", err))
	}

	text, err := t.doFetch(ctx, rawURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch failed: %v", err)).WithError(err)
	}
	return NewResult(text)
}

func (t *WebFetchTool) doFetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// Read a multiple of the text budget; HTML markup inflates the raw size.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxChars*4)))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	var text string
	switch {
	case strings.Contains(contentType, "application/json"):
		text = extractJSON(body)
	case strings.Contains(contentType, "text/html"),
		strings.Contains(contentType, "application/xhtml"):
		text = htmlToText(string(body))
	default:
		text = string(body)
	}

	truncated := false
	if len(text) > t.maxChars {
		text = text[:t.maxChars]
		truncated = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", resp.Request.URL.String())
	fmt.Fprintf(&b, "Status: %d\n", resp.StatusCode)
	if truncated {
		fmt.Fprintf(&b, "Truncated: true (limit: %d chars)\n", t.maxChars)
	}
	b.WriteString("\n")
	b.WriteString(text)
	return b.String(), nil
}

// checkPrivateTarget rejects URLs whose host resolves to loopback,
// private, or link-local addresses so a prompt cannot aim the fetcher at
// internal services.
func checkPrivateTarget(u *url.URL) error {
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing hostname")
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("localhost is not allowed")
	}

	ips := []net.IP{}
	if ip := net.ParseIP(host); ip != nil {
		ips = append(ips, ip)
	} else {
		resolved, err := net.LookupIP(host)
		if err != nil {
			// Unresolvable hosts fail at dial time with a clearer error.
			return nil
		}
		ips = resolved
	}

	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("address %s is not routable from the sandbox", ip)
		}
	}
	return nil
}
