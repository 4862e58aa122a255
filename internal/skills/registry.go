// Package skills loads agent skill documents from disk.
//
// A skill lives at <dir>/<id>/SKILL.md: YAML-ish front matter (name,
// description, allowed-tools) followed by the markdown body that gets
// injected when the agent invokes the skill.
package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Skill is one parsed SKILL.md document.
type Skill struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	AllowedTools []string `json:"allowed_tools"`
	Content      string   `json:"content"`
	Path         string   `json:"file_path"`
}

// Preview returns the first n characters of the body for list views.
func (s Skill) Preview(n int) string {
	if len(s.Content) <= n {
		return s.Content
	}
	return s.Content[:n] + "..."
}

// Registry caches parsed skills and reloads on demand.
type Registry struct {
	dir string

	mu     sync.RWMutex
	skills map[string]Skill
}

func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:    dir,
		skills: make(map[string]Skill),
	}
}

// Dir returns the directory the registry scans.
func (r *Registry) Dir() string { return r.dir }

// Load rescans the skills directory and replaces the cache. A missing
// directory is not an error; it just yields an empty registry.
func (r *Registry) Load() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.mu.Lock()
			r.skills = make(map[string]Skill)
			r.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read skills dir: %w", err)
	}

	next := make(map[string]Skill)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(r.dir, e.Name(), "SKILL.md")
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		sk := Parse(e.Name(), string(raw))
		sk.Path = path
		next[sk.ID] = sk
	}

	r.mu.Lock()
	r.skills = next
	r.mu.Unlock()
	return nil
}

// List returns all skills sorted by ID.
func (r *Registry) List() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns one skill by directory name.
func (r *Registry) Get(id string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[id]
	return s, ok
}

// Len reports the number of cached skills.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.skills)
}

// Parse splits front matter from body. Documents without front matter are
// valid; the directory name stands in for the skill name.
func Parse(id, raw string) Skill {
	sk := Skill{ID: id, Name: id, Content: strings.TrimSpace(raw)}

	if !strings.HasPrefix(raw, "---") {
		return sk
	}
	end := strings.Index(raw[3:], "---")
	if end == -1 {
		return sk
	}
	front := raw[3 : 3+end]
	sk.Content = strings.TrimSpace(raw[3+end+3:])

	for _, line := range strings.Split(front, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		switch key {
		case "name":
			if value != "" {
				sk.Name = value
			}
		case "description":
			sk.Description = value
		case "allowed-tools":
			for _, t := range strings.Split(value, ",") {
				if t = strings.TrimSpace(t); t != "" {
					sk.AllowedTools = append(sk.AllowedTools, t)
				}
			}
		}
	}
	return sk
}

func (r *Registry) logReload() {
	slog.Info("skills reloaded", "dir", r.dir, "count", r.Len())
}
