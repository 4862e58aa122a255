package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func fetchToolFor(t *testing.T) *WebFetchTool {
	t.Helper()
	tool := NewWebFetchTool()
	tool.allowPrivate = true // httptest servers listen on loopback
	return tool
}

func TestWebFetchExtractsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><style>p{color:red}</style><script>alert(1)</script></head>
<body><nav>menu</nav><p>First paragraph.</p><ul><li>item one</li></ul></body></html>`))
	}))
	defer srv.Close()

	res := fetchToolFor(t).Execute(context.Background(), map[string]any{"url": srv.URL})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "First paragraph.") || !strings.Contains(res.ForLLM, "- item one") {
		t.Errorf("extracted = %q", res.ForLLM)
	}
	for _, leak := range []string{"alert(1)", "color:red", "menu"} {
		if strings.Contains(res.ForLLM, leak) {
			t.Errorf("non-content leaked: %q", leak)
		}
	}
	if !strings.Contains(res.ForLLM, "Status: 200") {
		t.Errorf("missing status header: %q", res.ForLLM)
	}
}

func TestWebFetchPrettyPrintsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"b":2,"a":1}`))
	}))
	defer srv.Close()

	res := fetchToolFor(t).Execute(context.Background(), map[string]any{"url": srv.URL})
	if !strings.Contains(res.ForLLM, "\"a\": 1") {
		t.Errorf("json not pretty-printed: %q", res.ForLLM)
	}
}

func TestWebFetchTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("z", fetchMaxChars+1000)))
	}))
	defer srv.Close()

	res := fetchToolFor(t).Execute(context.Background(), map[string]any{"url": srv.URL})
	if !strings.Contains(res.ForLLM, "Truncated: true") {
		t.Errorf("missing truncation header: %.120q", res.ForLLM)
	}
}

func TestWebFetchRedirectCap(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/next", http.StatusFound)
	}))
	defer srv.Close()

	res := fetchToolFor(t).Execute(context.Background(), map[string]any{"url": srv.URL})
	if !res.IsError || !strings.Contains(res.ForLLM, "stopped after 3 redirects") {
		t.Errorf("result = %+v", res)
	}
}

func TestWebFetchRejectsBadInput(t *testing.T) {
	tool := NewWebFetchTool()
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing url", map[string]any{}, "url is required"},
		{"bad scheme", map[string]any{"url": "ftp://example.com/x"}, "only http and https"},
		{"no host", map[string]any{"url": "http://"}, "missing hostname"},
		{"localhost blocked", map[string]any{"url": "http://localhost:8080/admin"}, "fetch blocked"},
		{"loopback ip blocked", map[string]any{"url": "http://127.0.0.1/metrics"}, "fetch blocked"},
		{"private ip blocked", map[string]any{"url": "http://10.0.0.5/internal"}, "fetch blocked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tool.Execute(context.Background(), tt.args)
			if !res.IsError || !strings.Contains(res.ForLLM, tt.want) {
				t.Errorf("result = %+v, want substring %q", res, tt.want)
			}
		})
	}
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"entities", "<p>a &amp; b &lt;c&gt;</p>", "a & b <c>"},
		{"breaks", "one<br>two", "one\ntwo"},
		{"nested tags", "<div><span>inner</span></div>", "inner"},
		{"comment stripped", "<!-- hidden -->shown", "shown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := htmlToText(tt.in); got != tt.want {
				t.Errorf("htmlToText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
