// Package gateway assembles the HTTP server: REST surface, the monitor
// websocket feed, CORS for configured UI origins, and static serving of
// sandbox artifacts.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/config"
	httpapi "github.com/nextlevelbuilder/agentgate/internal/http"
)

// Handlers groups the REST handlers mounted on the gateway mux. Nil entries
// are skipped, so tests can assemble a server with only the routes they need.
type Handlers struct {
	Chat     *httpapi.ChatHandler
	Traces   *httpapi.TracesHandler
	Metrics  *httpapi.MetricsHandler
	Skills   *httpapi.SkillsHandler
	Search   *httpapi.SearchHandler
	Sessions *httpapi.SessionsHandler
	System   *httpapi.SystemHandler
}

// Server is the gateway HTTP server.
type Server struct {
	cfg      *config.Config
	handlers Handlers
	monitor  *Hub // nil: no /api/events endpoint

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway server. The monitor hub is constructed by the
// caller so the turn pipeline can hold it independently of the server.
func NewServer(cfg *config.Config, monitor *Hub, h Handlers) *Server {
	return &Server{
		cfg:      cfg,
		handlers: h,
		monitor:  monitor,
	}
}

// originAllowed reports whether origin may talk to the gateway.
// No configured origins means every origin is accepted (dev mode), and an
// empty Origin header is a non-browser client and always passes.
func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	return false
}

// BuildMux creates and caches the mux with all routes registered.
// Call this before Start() if you need the mux for additional listeners
// (e.g. Tailscale).
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()

	if s.handlers.Chat != nil {
		s.handlers.Chat.RegisterRoutes(mux)
	}
	if s.handlers.Traces != nil {
		s.handlers.Traces.RegisterRoutes(mux)
	}
	if s.handlers.Metrics != nil {
		s.handlers.Metrics.RegisterRoutes(mux)
	}
	if s.handlers.Skills != nil {
		s.handlers.Skills.RegisterRoutes(mux)
	}
	if s.handlers.Search != nil {
		s.handlers.Search.RegisterRoutes(mux)
	}
	if s.handlers.Sessions != nil {
		s.handlers.Sessions.RegisterRoutes(mux)
	}
	if s.handlers.System != nil {
		s.handlers.System.RegisterRoutes(mux)
	}

	// Monitor websocket feed
	if s.monitor != nil {
		mux.HandleFunc("GET /api/events", s.monitor.HandleEvents)
	}

	// Agent-written artifacts (html_created events link here)
	mux.Handle("GET /sandbox/", http.StripPrefix("/sandbox", artifactFiles(s.cfg.SandboxRoot())))

	s.mux = mux
	return mux
}

// Handler returns the mux wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	return s.withCORS(s.BuildMux())
}

// withCORS answers preflight requests and reflects allowed origins.
// Credentialed requests forbid the "*" wildcard, so the matched origin is
// echoed back verbatim.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !originAllowed(s.cfg.Gateway.AllowedOrigins, origin) {
			slog.Warn("security.cors_rejected", "origin", origin)
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r) // browser enforces the missing headers
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// SSE headers the browser UI reads off chat responses.
		h.Set("Access-Control-Expose-Headers", "X-Session-Id, X-Trace-Id")
		next.ServeHTTP(w, r)
	})
}

// artifactFiles serves files from the sandbox root. Directory listings are
// disabled; the UI links individual artifacts only.
func artifactFiles(root string) http.Handler {
	fs := http.FileServer(http.Dir(root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}

// Start begins listening and blocks until ctx is canceled or the listener
// fails. Connected monitor sockets are closed after the HTTP server drains;
// Shutdown does not cover hijacked connections.
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
		if s.monitor != nil {
			s.monitor.CloseAll()
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// StartTestServer creates a listener on :0 (random port) and returns the
// actual address and a start function. Used for integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	handler := s.Handler()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: handler}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
			if s.monitor != nil {
				s.monitor.CloseAll()
			}
		}()
		s.httpServer.Serve(ln)
	}

	return addr, start
}
