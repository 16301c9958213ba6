package checkpoint

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxSnapshotFiles bounds one snapshot; workspaces larger than this skip
// checkpointing rather than copy unbounded data.
const maxSnapshotFiles = 2000

// maxSnapshotFileSize skips individual files larger than this.
const maxSnapshotFileSize = 4 << 20

// Workspace snapshots changed workspace files around tool batches so a
// human can recover pre-tool state. Only files modified since the previous
// snapshot are copied; an unchanged workspace yields no record.
type Workspace struct {
	root    string
	dataDir string

	// mtimes holds the modification times seen at the last snapshot.
	mtimes map[string]time.Time
	// baselined flips after the initial scan; new files before that are
	// not changes.
	baselined bool
}

// NewWorkspace builds a manager for root, storing snapshots under dataDir
// (default ~/.local/share/limcode/checkpoints).
func NewWorkspace(root, dataDir string) (*Workspace, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share", "limcode", "checkpoints")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}

	w := &Workspace{root: root, dataDir: dataDir, mtimes: make(map[string]time.Time)}
	// Baseline scan so the first checkpoint only captures real changes.
	if _, err := w.changedFiles(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Workspace) Create(ctx context.Context, conversationID string, messageIndex int, toolName string, phase Phase) (*Record, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	changed, err := w.changedFiles()
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return nil, nil
	}

	id := uuid.NewString()
	snapDir := filepath.Join(w.dataDir, id)
	for _, rel := range changed {
		if err := copyFile(filepath.Join(w.root, rel), filepath.Join(snapDir, rel)); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", rel, err)
		}
	}

	return &Record{
		ID:             id,
		ConversationID: conversationID,
		MessageIndex:   messageIndex,
		ToolName:       toolName,
		Phase:          phase,
		Timestamp:      time.Now(),
		Files:          changed,
	}, nil
}

// changedFiles walks the workspace and returns files whose mtime moved
// since the last scan, updating the baseline as it goes.
func (w *Workspace) changedFiles() ([]string, error) {
	var changed []string
	count := 0

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".git" || name == "node_modules" || strings.HasPrefix(name, ".limcode") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		count++
		if count > maxSnapshotFiles {
			return fs.SkipAll
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxSnapshotFileSize {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		if prev, ok := w.mtimes[rel]; !ok || !prev.Equal(info.ModTime()) {
			if ok || w.baselined {
				changed = append(changed, rel)
			}
			w.mtimes[rel] = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.baselined = true
	if count > maxSnapshotFiles {
		return nil, nil
	}
	return changed, nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
