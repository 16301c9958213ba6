package tools

import (
	"context"
	"os"
	"path/filepath"
)

const WriteFileToolName = "write_file"

// WriteFileTool writes or overwrites a file in the workspace.
type WriteFileTool struct {
	Root string
}

func (t *WriteFileTool) Spec() Spec {
	return Spec{
		Name:        WriteFileToolName,
		Description: "Write content to a file, creating it (and parent directories) if needed. Overwrites existing content.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path of the file to write",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Full content to write",
				},
			},
			"required":             []string{"path", "content"},
			"additionalProperties": false,
		},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) Result {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return Fail("write_file: missing required argument: path")
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return Fail("write_file: missing required argument: content")
	}

	resolved, err := resolveWithin(t.Root, path)
	if err != nil {
		return Fail("write_file: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return Fail("write_file: %v", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return Fail("write_file: %v", err)
	}
	return Ok(map[string]any{
		"path":  resolved,
		"bytes": len(content),
	})
}

func absPath(path string) (string, error) {
	return filepath.Abs(path)
}
