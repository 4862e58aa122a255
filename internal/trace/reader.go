package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadFile parses the trace document at path.
func ReadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc File
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse trace %s: %w", filepath.Base(path), err)
	}
	return &doc, nil
}

// Load reads trace id from dir. IDs are bare filenames; anything carrying
// path separators or dot-dot is rejected rather than resolved.
func Load(dir, id string) (*File, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("invalid trace id %q", id)
	}
	return ReadFile(filepath.Join(dir, id+".json"))
}

// ValidID reports whether id is safe to use as a trace filename stem.
func ValidID(id string) bool {
	return id != "" &&
		strings.HasPrefix(id, "trace_") &&
		!strings.ContainsAny(id, `/\`) &&
		!strings.Contains(id, "..")
}

// FirstMessage returns the user message captured by the request event,
// empty when the trace has none.
func (f *File) FirstMessage() string {
	for _, ev := range f.Events {
		if ev.EventType == "request" {
			return dataString(ev.Data, "message")
		}
	}
	return ""
}

// ToolsUsed collects the distinct tool names from tool_start events, in
// first-use order.
func (f *File) ToolsUsed() []string {
	seen := make(map[string]bool)
	var tools []string
	for _, ev := range f.Events {
		if ev.EventType != "tool_start" {
			continue
		}
		name := dataString(ev.Data, "name")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		tools = append(tools, name)
	}
	return tools
}

// IDs returns the trace ids present in dir, unsorted. Non-trace files are
// ignored.
func IDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "trace_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}
