package transfer

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Iskam31/YADISKTGBOT/internal/logging"
	"github.com/Iskam31/YADISKTGBOT/internal/metrics"
)

// Janitor removes abandoned staging files. A crashed or killed process
// can leave staged blobs behind; every live upload deletes its own file
// before returning, so anything old in TempDir is garbage.
type Janitor struct {
	dir    string
	maxAge time.Duration
}

// NewJanitor creates a Janitor for dir.
func NewJanitor(dir string, maxAge time.Duration) *Janitor {
	return &Janitor{dir: dir, maxAge: maxAge}
}

// Sweep removes staging files older than maxAge and returns how many went.
func (j *Janitor) Sweep() int {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("janitor cannot read temp dir", zap.String("dir", j.dir), zap.Error(err))
		}
		return 0
	}

	cutoff := time.Now().Add(-j.maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.dir, e.Name())
		if err := os.Remove(path); err != nil {
			logging.Warn("janitor cannot remove file", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		metrics.RecordTempFilesCleaned(removed)
		logging.Info("removed abandoned staging files", zap.Int("count", removed), zap.String("dir", j.dir))
	}
	return removed
}

// Run sweeps on a ticker until the context ends.
func (j *Janitor) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}
