package sandbox

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/config"
)

func TestRollingWindowCap(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := newRollingWindow(3, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if !w.Allow() {
			t.Fatalf("event %d denied before cap", i+1)
		}
	}
	if w.Allow() {
		t.Fatal("event over cap allowed")
	}
	if got := w.Count(); got != 3 {
		t.Errorf("Count = %d, want 3", got)
	}

	// Sliding the window past the first events frees capacity.
	now = now.Add(61 * time.Second)
	if !w.Allow() {
		t.Fatal("event denied after window slid")
	}
	if got := w.Count(); got != 1 {
		t.Errorf("Count after slide = %d, want 1", got)
	}
}

func TestRollingWindowPartialSlide(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := newRollingWindow(2, func() time.Time { return now })

	w.Allow()
	now = now.Add(30 * time.Second)
	w.Allow()
	if w.Allow() {
		t.Fatal("third event inside window allowed")
	}

	// 31s later the first stamp has aged out but the second has not.
	now = now.Add(31 * time.Second)
	if !w.Allow() {
		t.Fatal("event denied after oldest stamp aged out")
	}
	if w.Allow() {
		t.Fatal("window should be full again")
	}
}

func TestRollingWindowUnlimited(t *testing.T) {
	w := newRollingWindow(0, time.Now)
	for i := 0; i < 500; i++ {
		if !w.Allow() {
			t.Fatalf("unlimited window denied event %d", i)
		}
	}
	if got := w.Count(); got != 0 {
		t.Errorf("unlimited window Count = %d, want 0", got)
	}
}

func TestPolicyPerKindWindows(t *testing.T) {
	cfg := config.SandboxConfig{
		Root:            testRoot,
		MaxOpsPerMin:    100,
		MaxWritesPerMin: 2,
		MaxShellPerMin:  1,
	}
	p, err := New(cfg, []string{testRoot})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.SetClock(func() time.Time { return now })

	writeInput := map[string]any{"file_path": testRoot + "/a.txt", "content": "x"}

	if d := p.Check("Write", writeInput); !d.Allowed {
		t.Fatalf("write 1 denied: %s", d.Reason)
	}
	if d := p.Check("Write", writeInput); !d.Allowed {
		t.Fatalf("write 2 denied: %s", d.Reason)
	}
	if d := p.Check("Write", writeInput); d.Allowed || d.Reason != ReasonRateLimit {
		t.Fatalf("write 3: allowed=%v reason=%q, want rate limit", d.Allowed, d.Reason)
	}

	// Reads share only the total-ops window, not the write window.
	if d := p.Check("Read", map[string]any{"file_path": testRoot + "/a.txt"}); !d.Allowed {
		t.Fatalf("read denied: %s", d.Reason)
	}

	if d := p.Check("Bash", map[string]any{"command": "ls"}); !d.Allowed {
		t.Fatalf("shell 1 denied: %s", d.Reason)
	}
	if d := p.Check("Bash", map[string]any{"command": "ls"}); d.Allowed || d.Reason != ReasonRateLimit {
		t.Fatalf("shell 2: allowed=%v reason=%q, want rate limit", d.Allowed, d.Reason)
	}

	// A minute later everything is permitted again.
	now = now.Add(rateWindow + time.Second)
	if d := p.Check("Write", writeInput); !d.Allowed {
		t.Fatalf("write after window denied: %s", d.Reason)
	}
	if d := p.Check("Bash", map[string]any{"command": "ls"}); !d.Allowed {
		t.Fatalf("shell after window denied: %s", d.Reason)
	}
}
