package tools

import (
	"context"
	"io/fs"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

const GlobToolName = "glob"

// maxGlobMatches bounds the result list fed back to the model.
const maxGlobMatches = 500

// GlobTool finds files matching a doublestar pattern ("**/*.go").
type GlobTool struct {
	Root string
}

func (t *GlobTool) Spec() Spec {
	return Spec{
		Name:        GlobToolName,
		Description: "Find files matching a glob pattern. Supports ** for recursive matching.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Glob pattern, e.g. internal/**/*.go",
				},
			},
			"required":             []string{"pattern"},
			"additionalProperties": false,
		},
	}
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]any) Result {
	pattern, ok := stringArg(args, "pattern")
	if !ok || pattern == "" {
		return Fail("glob: missing required argument: pattern")
	}
	if !doublestar.ValidatePattern(pattern) {
		return Fail("glob: invalid pattern: %s", pattern)
	}

	root := t.Root
	if root == "" {
		root = "."
	}

	var matches []string
	truncated := false
	fsys := os.DirFS(root)
	err := doublestar.GlobWalk(fsys, pattern, func(path string, d fs.DirEntry) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		if len(matches) >= maxGlobMatches {
			truncated = true
			return doublestar.SkipDir
		}
		matches = append(matches, path)
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return Result{Cancelled: true, Error: "glob cancelled"}
	}
	if err != nil {
		return Fail("glob: %v", err)
	}

	sort.Strings(matches)
	data := map[string]any{
		"matches": matches,
		"count":   len(matches),
	}
	if truncated {
		data["truncated"] = true
	}
	return Ok(data)
}
