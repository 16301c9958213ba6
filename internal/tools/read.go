package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const ReadFileToolName = "read_file"

// maxReadBytes caps file content fed back to the model.
const maxReadBytes = 256 * 1024

// ReadFileTool reads a file from the workspace.
type ReadFileTool struct {
	// Root confines reads to a directory when set.
	Root string
}

func (t *ReadFileTool) Spec() Spec {
	return Spec{
		Name:        ReadFileToolName,
		Description: "Read the contents of a file. Returns the file text, optionally limited to a line range.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to the file to read",
				},
				"offset": map[string]any{
					"type":        "integer",
					"description": "1-based line to start reading from",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of lines to return",
				},
			},
			"required":             []string{"path"},
			"additionalProperties": false,
		},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) Result {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return Fail("read_file: missing required argument: path")
	}
	resolved, err := resolveWithin(t.Root, path)
	if err != nil {
		return Fail("read_file: %v", err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return Fail("read_file: %v", err)
	}
	truncated := false
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
		truncated = true
	}

	text := string(data)
	if offset, ok := intArg(args, "offset"); ok && offset > 1 {
		lines := strings.Split(text, "\n")
		if offset > len(lines) {
			return Fail("read_file: offset %d past end of file (%d lines)", offset, len(lines))
		}
		lines = lines[offset-1:]
		if limit, ok := intArg(args, "limit"); ok && limit > 0 && limit < len(lines) {
			lines = lines[:limit]
			truncated = true
		}
		text = strings.Join(lines, "\n")
	} else if limit, ok := intArg(args, "limit"); ok && limit > 0 {
		lines := strings.Split(text, "\n")
		if limit < len(lines) {
			lines = lines[:limit]
			truncated = true
		}
		text = strings.Join(lines, "\n")
	}

	data2 := map[string]any{
		"content": text,
		"path":    resolved,
	}
	if truncated {
		data2["truncated"] = true
	}
	return Ok(data2)
}

// resolveWithin resolves path and, when root is set, rejects escapes.
func resolveWithin(root, path string) (string, error) {
	resolved := path
	if root != "" && !strings.HasPrefix(path, "/") {
		resolved = root + "/" + path
	}
	if root != "" {
		abs, err := absPath(resolved)
		if err != nil {
			return "", err
		}
		rootAbs, err := absPath(root)
		if err != nil {
			return "", err
		}
		if abs != rootAbs && !strings.HasPrefix(abs, rootAbs+"/") {
			return "", fmt.Errorf("path %s escapes workspace root", path)
		}
		return abs, nil
	}
	return resolved, nil
}
