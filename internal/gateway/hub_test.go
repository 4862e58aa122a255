package gateway

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentgate/internal/turn"
)

var _ turn.FrameSink = (*Hub)(nil)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startMonitorServer(t *testing.T, origins ...string) (*Hub, string) {
	t.Helper()
	hub := NewHub(origins)
	s := NewServer(testConfig(t, origins...), hub, Handlers{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	addr, start := StartTestServer(s, ctx)
	go start()
	return hub, addr
}

func TestMonitorFeed(t *testing.T) {
	hub, addr := startMonitorServer(t)

	// Broadcasting to nobody is a no-op.
	hub.Broadcast("trace_x", "text_delta", map[string]any{"text": "unheard"})

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	waitFor(t, "client registration", func() bool { return hub.ClientCount() == 1 })

	hub.Broadcast("trace_abc", "tool_start", map[string]any{"name": "Bash", "iteration": float64(1)})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.TraceID != "trace_abc" {
		t.Errorf("TraceID = %q, want trace_abc", frame.TraceID)
	}
	if frame.Event != "tool_start" {
		t.Errorf("Event = %q, want tool_start", frame.Event)
	}
	if frame.Data["name"] != "Bash" {
		t.Errorf("Data[name] = %v, want Bash", frame.Data["name"])
	}

	conn.Close()
	waitFor(t, "client unregistration", func() bool { return hub.ClientCount() == 0 })
}

func TestMonitorFansOut(t *testing.T) {
	hub, addr := startMonitorServer(t)

	var conns []*websocket.Conn
	for i := 0; i < 2; i++ {
		conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/events", nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		if resp != nil {
			resp.Body.Close()
		}
		defer conn.Close()
		conns = append(conns, conn)
	}
	waitFor(t, "both clients registered", func() bool { return hub.ClientCount() == 2 })

	hub.Broadcast("trace_fan", "message_complete", map[string]any{"status": "success"})

	for i, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}
		if frame.TraceID != "trace_fan" {
			t.Errorf("client %d TraceID = %q", i, frame.TraceID)
		}
	}
}

func TestMonitorRejectsUnknownOrigin(t *testing.T) {
	_, addr := startMonitorServer(t, "http://localhost:5173")

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/events", header)
	if err == nil {
		conn.Close()
		t.Fatal("dial succeeded, want handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("handshake response = %+v, want 403", resp)
	}
	resp.Body.Close()
}

func TestMonitorAllowsConfiguredOrigin(t *testing.T) {
	hub, addr := startMonitorServer(t, "http://localhost:5173")

	header := http.Header{}
	header.Set("Origin", "http://localhost:5173")
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/events", header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	waitFor(t, "client registration", func() bool { return hub.ClientCount() == 1 })
}

func TestCloseAllDisconnectsClients(t *testing.T) {
	hub, addr := startMonitorServer(t)

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()
	waitFor(t, "client registration", func() bool { return hub.ClientCount() == 1 })

	hub.CloseAll()
	if n := hub.ClientCount(); n != 0 {
		t.Errorf("ClientCount after CloseAll = %d, want 0", n)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("read succeeded after CloseAll, want connection error")
	}
}
