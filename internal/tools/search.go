package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	grepMaxMatches   = 100
	grepMaxLineChars = 250
	grepMaxFileSize  = 1 << 20 // files larger than 1MB are skipped
)

// GlobTool matches files by pattern, newest first.
type GlobTool struct {
	workdir string
}

func NewGlobTool(workdir string) *GlobTool {
	return &GlobTool{workdir: workdir}
}

func (t *GlobTool) Name() string { return "Glob" }

func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern. Supports ** for recursive matching. Results are sorted newest first."
}

func (t *GlobTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Glob pattern, e.g. *.html or **/*.go",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to search in (defaults to the working directory)",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]any) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required")
	}
	base := t.workdir
	if p, _ := args["path"].(string); p != "" {
		base = resolvePath(t.workdir, p)
	}

	matches, err := globMatches(base, pattern)
	if err != nil {
		return ErrorResult(fmt.Sprintf("glob failed: %v", err)).WithError(err)
	}
	if len(matches) == 0 {
		return NewResult("No files found")
	}

	// Newest first so the model sees fresh artifacts at the top.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].modTime > matches[j].modTime
	})

	var b strings.Builder
	for _, m := range matches {
		b.WriteString(m.path)
		b.WriteByte('\n')
	}
	return NewResult(strings.TrimRight(b.String(), "\n"))
}

type globMatch struct {
	path    string
	modTime int64
}

// globMatches resolves a pattern under base. Patterns containing ** walk
// the tree and match the remainder against the relative path and basename;
// plain patterns go through filepath.Glob.
func globMatches(base, pattern string) ([]globMatch, error) {
	if !strings.Contains(pattern, "**") {
		paths, err := filepath.Glob(filepath.Join(base, pattern))
		if err != nil {
			return nil, err
		}
		return statAll(paths), nil
	}

	// "dir/**/suffix" → walk base/dir matching suffix.
	prefix, suffix, _ := strings.Cut(pattern, "**")
	prefix = strings.TrimSuffix(prefix, "/")
	suffix = strings.TrimPrefix(suffix, "/")
	root := base
	if prefix != "" {
		root = filepath.Join(base, prefix)
	}

	var out []globMatch
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if matched, _ := path.Match(suffix, rel); !matched {
			if matched, _ = path.Match(suffix, path.Base(rel)); !matched {
				return nil
			}
		}
		info, infoErr := d.Info()
		var mod int64
		if infoErr == nil {
			mod = info.ModTime().UnixNano()
		}
		out = append(out, globMatch{path: p, modTime: mod})
		return nil
	})
	if err != nil && len(out) == 0 {
		return nil, err
	}
	return out, nil
}

func statAll(paths []string) []globMatch {
	out := make([]globMatch, 0, len(paths))
	for _, p := range paths {
		var mod int64
		if info, err := os.Stat(p); err == nil {
			mod = info.ModTime().UnixNano()
		}
		out = append(out, globMatch{path: p, modTime: mod})
	}
	return out
}

// GrepTool searches file contents with a regular expression.
type GrepTool struct {
	workdir string
}

func NewGrepTool(workdir string) *GrepTool {
	return &GrepTool{workdir: workdir}
}

func (t *GrepTool) Name() string { return "Grep" }

func (t *GrepTool) Description() string {
	return "Search file contents for a regular expression. Returns file:line: matches."
}

func (t *GrepTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Regular expression to search for",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory or file to search (defaults to the working directory)",
			},
			"glob": map[string]any{
				"type":        "string",
				"description": "Only search files whose name matches this glob, e.g. *.go",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Execute(ctx context.Context, args map[string]any) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid pattern: %v", err)).WithError(err)
	}

	target := t.workdir
	if p, _ := args["path"].(string); p != "" {
		target = resolvePath(t.workdir, p)
	}
	nameGlob, _ := args["glob"].(string)

	info, err := os.Stat(target)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to stat path: %v", err)).WithError(err)
	}

	var matches []string
	truncated := false

	searchFile := func(p string) error {
		rel, relErr := filepath.Rel(t.workdir, p)
		if relErr != nil || strings.HasPrefix(rel, "..") {
			rel = p
		}
		f, openErr := os.Open(p)
		if openErr != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if !re.MatchString(line) {
				continue
			}
			if len(line) > grepMaxLineChars {
				line = line[:grepMaxLineChars] + "..."
			}
			matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, lineNo, line))
			if len(matches) >= grepMaxMatches {
				truncated = true
				return filepath.SkipAll
			}
		}
		return nil
	}

	if info.IsDir() {
		err = filepath.WalkDir(target, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return nil
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && p != target {
					return filepath.SkipDir
				}
				return nil
			}
			if nameGlob != "" {
				if matched, _ := path.Match(nameGlob, d.Name()); !matched {
					return nil
				}
			}
			if fi, infoErr := d.Info(); infoErr == nil && fi.Size() > grepMaxFileSize {
				return nil
			}
			return searchFile(p)
		})
		if err != nil {
			return ErrorResult(fmt.Sprintf("search failed: %v", err)).WithError(err)
		}
	} else {
		// SkipAll only signals the match cap when searching a single file.
		if err := searchFile(target); err != nil && err != filepath.SkipAll {
			return ErrorResult(fmt.Sprintf("search failed: %v", err)).WithError(err)
		}
	}

	if len(matches) == 0 {
		return NewResult("No matches found")
	}

	out := strings.Join(matches, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (stopped at %d matches)", grepMaxMatches)
	}
	return NewResult(out)
}
