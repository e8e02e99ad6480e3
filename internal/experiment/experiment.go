// Package experiment manages training run directories and checkpoints.
package experiment

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bevgrid-ml/bevgrid/internal/config"
)

// Run is one training experiment: a directory under the log root holding
// the dumped configuration and checkpoints.
type Run struct {
	Name string
	Dir  string
}

// New creates a run directory named after the tag, the start time and a
// short unique suffix, and dumps the effective configuration into it.
func New(cfg *config.Config, tag string) (*Run, error) {
	name := fmt.Sprintf("%s_%s_%s",
		tag, time.Now().Format("2006-01-02_15-04"), uuid.NewString()[:8])
	dir := filepath.Join(cfg.LogDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("experiment: create run dir: %w", err)
	}

	dump, err := cfg.Dump()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yml"), []byte(dump), 0o644); err != nil {
		return nil, fmt.Errorf("experiment: dump config: %w", err)
	}

	slog.Info("created experiment", "name", name, "dir", dir)
	return &Run{Name: name, Dir: dir}, nil
}

// Resume reopens an existing run directory.
func Resume(dir string) (*Run, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("experiment: no run directory at %s", dir)
	}
	return &Run{Name: filepath.Base(dir), Dir: dir}, nil
}

// CheckpointPath returns the latest-checkpoint location of the run.
func (r *Run) CheckpointPath() string {
	return filepath.Join(r.Dir, "latest.ckpt")
}

// BestCheckpointPath returns the best-scoring checkpoint location.
func (r *Run) BestCheckpointPath() string {
	return filepath.Join(r.Dir, "best.ckpt")
}
