package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadFileTool(t *testing.T) {
	dir := t.TempDir()
	content := "line1\nline2\nline3\nline4"
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := &ReadFileTool{Root: dir}

	result := tool.Execute(context.Background(), map[string]any{"path": "f.txt"})
	if !result.Success {
		t.Fatalf("read failed: %s", result.Error)
	}
	if result.Data["content"] != content {
		t.Errorf("content = %q", result.Data["content"])
	}

	// Offset and limit are 1-based lines.
	result = tool.Execute(context.Background(), map[string]any{
		"path": "f.txt", "offset": float64(2), "limit": float64(2),
	})
	if !result.Success {
		t.Fatalf("ranged read failed: %s", result.Error)
	}
	if result.Data["content"] != "line2\nline3" {
		t.Errorf("ranged content = %q, want %q", result.Data["content"], "line2\nline3")
	}
}

func TestReadFileToolMissingArgs(t *testing.T) {
	tool := &ReadFileTool{}
	result := tool.Execute(context.Background(), nil)
	if result.Success || !strings.Contains(result.Error, "path") {
		t.Errorf("result = %+v, want a missing-path failure", result)
	}
}

func TestReadFileToolRejectsEscape(t *testing.T) {
	tool := &ReadFileTool{Root: t.TempDir()}
	result := tool.Execute(context.Background(), map[string]any{"path": "../../etc/passwd"})
	if result.Success {
		t.Fatal("read escaped the workspace root")
	}
	if !strings.Contains(result.Error, "escapes workspace root") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestWriteFileTool(t *testing.T) {
	dir := t.TempDir()
	tool := &WriteFileTool{Root: dir}

	result := tool.Execute(context.Background(), map[string]any{
		"path": "sub/dir/out.txt", "content": "hello",
	})
	if !result.Success {
		t.Fatalf("write failed: %s", result.Error)
	}
	data, err := os.ReadFile(filepath.Join(dir, "sub", "dir", "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("written content = %q", data)
	}
	if result.Data["bytes"] != 5 {
		t.Errorf("bytes = %v, want 5", result.Data["bytes"])
	}
}

func TestWriteFileToolRejectsEscape(t *testing.T) {
	tool := &WriteFileTool{Root: t.TempDir()}
	result := tool.Execute(context.Background(), map[string]any{
		"path": "../outside.txt", "content": "x",
	})
	if result.Success {
		t.Fatal("write escaped the workspace root")
	}
}

func TestGlobTool(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{"a.go", "b.txt", "pkg/c.go", "pkg/deep/d.go"} {
		full := filepath.Join(dir, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	tool := &GlobTool{Root: dir}

	result := tool.Execute(context.Background(), map[string]any{"pattern": "**/*.go"})
	if !result.Success {
		t.Fatalf("glob failed: %s", result.Error)
	}
	matches, ok := result.Data["matches"].([]string)
	if !ok {
		t.Fatalf("matches = %T", result.Data["matches"])
	}
	want := []string{"a.go", "pkg/c.go", "pkg/deep/d.go"}
	if len(matches) != len(want) {
		t.Fatalf("matches = %v, want %v", matches, want)
	}
	for i := range want {
		if matches[i] != want[i] {
			t.Errorf("matches[%d] = %q, want %q", i, matches[i], want[i])
		}
	}
}

func TestGlobToolInvalidPattern(t *testing.T) {
	tool := &GlobTool{Root: t.TempDir()}
	result := tool.Execute(context.Background(), map[string]any{"pattern": "[unclosed"})
	if result.Success {
		t.Error("invalid pattern reported success")
	}
}
