package tools

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// projectApprovalsFile holds per-project tool approvals, checked into the
// repository so a team shares them.
const projectApprovalsFile = ".limcode/approvals.yaml"

// ProjectApprovals is the persisted per-project auto-execute policy. Its
// entries are merged into the confirmation gate's auto-execute list.
type ProjectApprovals struct {
	// AutoExecute lists tool names or glob patterns that run without
	// confirmation inside this project.
	AutoExecute []string `yaml:"auto_execute"`

	path string
}

// LoadProjectApprovals reads the approvals file under root. A missing file
// yields an empty, saveable policy.
func LoadProjectApprovals(root string) (*ProjectApprovals, error) {
	path := filepath.Join(root, projectApprovalsFile)
	pa := &ProjectApprovals{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return pa, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, pa); err != nil {
		return nil, err
	}
	return pa, nil
}

// Approve adds an entry and persists the file.
func (pa *ProjectApprovals) Approve(entry string) error {
	for _, e := range pa.AutoExecute {
		if e == entry {
			return nil
		}
	}
	pa.AutoExecute = append(pa.AutoExecute, entry)
	return pa.save()
}

func (pa *ProjectApprovals) save() error {
	if err := os.MkdirAll(filepath.Dir(pa.path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(pa)
	if err != nil {
		return err
	}
	return os.WriteFile(pa.path, data, 0o644)
}
