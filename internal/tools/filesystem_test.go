package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadNumbersLines(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "notes.txt", "alpha\nbeta\ngamma\n")

	tool := NewReadTool(dir)
	res := tool.Execute(context.Background(), map[string]any{"file_path": "notes.txt"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	want := "     1\talpha\n     2\tbeta\n     3\tgamma\n"
	if res.ForLLM != want {
		t.Errorf("output = %q, want %q", res.ForLLM, want)
	}
}

func TestReadOffsetAndLimit(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "long.txt", "l1\nl2\nl3\nl4\nl5\n")

	tool := NewReadTool(dir)
	res := tool.Execute(context.Background(), map[string]any{
		"file_path": "long.txt",
		"offset":    float64(2),
		"limit":     float64(2),
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "     2\tl2") || !strings.Contains(res.ForLLM, "     3\tl3") {
		t.Errorf("missing requested lines: %q", res.ForLLM)
	}
	if strings.Contains(res.ForLLM, "\tl4") {
		t.Errorf("limit not applied: %q", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "(2 more lines)") {
		t.Errorf("missing continuation note: %q", res.ForLLM)
	}
}

func TestReadTruncatesLongLines(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "wide.txt", strings.Repeat("x", 3000)+"\n")

	tool := NewReadTool(dir)
	res := tool.Execute(context.Background(), map[string]any{"file_path": "wide.txt"})
	if !strings.Contains(res.ForLLM, "(line truncated)") {
		t.Error("expected line truncation marker")
	}
	if strings.Contains(res.ForLLM, strings.Repeat("x", 2001)) {
		t.Error("line not cut at the limit")
	}
}

func TestReadEdgeCases(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "empty.txt", "")
	tool := NewReadTool(dir)

	t.Run("empty file", func(t *testing.T) {
		res := tool.Execute(context.Background(), map[string]any{"file_path": "empty.txt"})
		if res.IsError || res.ForLLM != "(empty file)" {
			t.Errorf("result = %+v", res)
		}
	})
	t.Run("missing file", func(t *testing.T) {
		res := tool.Execute(context.Background(), map[string]any{"file_path": "nope.txt"})
		if !res.IsError {
			t.Error("expected error result")
		}
	})
	t.Run("missing path arg", func(t *testing.T) {
		res := tool.Execute(context.Background(), map[string]any{})
		if !res.IsError || res.ForLLM != "file_path is required" {
			t.Errorf("result = %+v", res)
		}
	})
	t.Run("offset past end", func(t *testing.T) {
		writeTemp(t, dir, "short.txt", "one\n")
		res := tool.Execute(context.Background(), map[string]any{"file_path": "short.txt", "offset": float64(10)})
		if !res.IsError {
			t.Error("expected error for offset past end")
		}
	})
}

func TestWriteCreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	tool := NewWriteTool(dir)

	res := tool.Execute(context.Background(), map[string]any{
		"file_path": "charts/sales.html",
		"content":   "<html></html>",
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "File created successfully") {
		t.Errorf("result = %q", res.ForLLM)
	}
	data, err := os.ReadFile(filepath.Join(dir, "charts", "sales.html"))
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if string(data) != "<html></html>" {
		t.Errorf("content = %q", data)
	}
}

func TestWriteReportsUpdate(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "a.txt", "old")
	tool := NewWriteTool(dir)

	res := tool.Execute(context.Background(), map[string]any{"file_path": "a.txt", "content": "new"})
	if !strings.Contains(res.ForLLM, "File updated successfully") {
		t.Errorf("result = %q", res.ForLLM)
	}
}

func TestEditReplacesUniqueMatch(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "cfg.txt", "host=old.example\nport=80\n")
	tool := NewEditTool(dir)

	res := tool.Execute(context.Background(), map[string]any{
		"file_path":  "cfg.txt",
		"old_string": "host=old.example",
		"new_string": "host=new.example",
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "host=new.example\nport=80\n" {
		t.Errorf("file = %q", data)
	}
}

func TestEditRejections(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "dup.txt", "aa bb aa\n")
	tool := NewEditTool(dir)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{
			"ambiguous match",
			map[string]any{"file_path": "dup.txt", "old_string": "aa", "new_string": "cc"},
			"appears 2 times",
		},
		{
			"not found",
			map[string]any{"file_path": "dup.txt", "old_string": "zz", "new_string": "cc"},
			"not found",
		},
		{
			"identical strings",
			map[string]any{"file_path": "dup.txt", "old_string": "aa", "new_string": "aa"},
			"identical",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tool.Execute(context.Background(), tt.args)
			if !res.IsError {
				t.Fatal("expected error result")
			}
			if !strings.Contains(res.ForLLM, tt.want) {
				t.Errorf("message = %q, want substring %q", res.ForLLM, tt.want)
			}
		})
	}
}

func TestEditReplaceAll(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "dup.txt", "aa bb aa\n")
	tool := NewEditTool(dir)

	res := tool.Execute(context.Background(), map[string]any{
		"file_path":   "dup.txt",
		"old_string":  "aa",
		"new_string":  "cc",
		"replace_all": true,
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "2 replacement(s)") {
		t.Errorf("result = %q", res.ForLLM)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "cc bb cc\n" {
		t.Errorf("file = %q", data)
	}
}

func TestResolvePathAnchorsRelative(t *testing.T) {
	if got := resolvePath("/work", "sub/file.txt"); got != "/work/sub/file.txt" {
		t.Errorf("relative = %q", got)
	}
	if got := resolvePath("/work", "/abs/file.txt"); got != "/abs/file.txt" {
		t.Errorf("absolute = %q", got)
	}
}
