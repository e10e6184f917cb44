// Package outputs writes generated PNGs to disk and prunes old ones.
package outputs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/depthslice/server/internal/logging"
)

var logger = logging.NewLogger()

const ext = ".png"

// Config contains output directory settings. Zero Retention and MaxFiles
// keep files forever.
type Config struct {
	Dir           string
	Retention     time.Duration
	MaxFiles      int
	CleanupPeriod time.Duration
}

// Store saves PNGs under timestamped names.
type Store struct {
	cfg Config
	now func() time.Time
}

// New creates the output directory if needed.
func New(cfg Config) (*Store, error) {
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = time.Hour
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &Store{cfg: cfg, now: time.Now}, nil
}

// FileName formats t as YYYYMMDDHHMMSSffffff.png.
func FileName(t time.Time) string {
	return fmt.Sprintf("%s%06d%s", t.Format("20060102150405"), t.Nanosecond()/1000, ext)
}

// Save writes data under the current timestamp and returns the path. The
// file appears atomically.
func (s *Store) Save(data []byte) (string, error) {
	path := filepath.Join(s.cfg.Dir, FileName(s.now()))

	tmp, err := os.CreateTemp(s.cfg.Dir, ".tmp-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return path, nil
}

type entry struct {
	path    string
	modTime time.Time
	size    int64
}

// Prune removes files older than the retention window, then the oldest
// files beyond MaxFiles. It returns the number of files removed.
func (s *Store) Prune() (int, error) {
	if s.cfg.Retention <= 0 && s.cfg.MaxFiles <= 0 {
		return 0, nil
	}

	dirEntries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return 0, err
	}

	var files []entry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ext) || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		files = append(files, entry{path: filepath.Join(s.cfg.Dir, name), modTime: info.ModTime(), size: info.Size()})
	}

	// Newest first
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	cutoff := s.now().Add(-s.cfg.Retention)
	var removed int
	var freed uint64
	for i, f := range files {
		expired := s.cfg.Retention > 0 && f.modTime.Before(cutoff)
		overCap := s.cfg.MaxFiles > 0 && i >= s.cfg.MaxFiles
		if !expired && !overCap {
			continue
		}
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", f.path).Msg("failed to remove output")
			continue
		}
		removed++
		freed += uint64(f.size)
	}

	if removed > 0 {
		logger.Info().Int("removed", removed).Str("freed", humanize.Bytes(freed)).Msg("pruned generated images")
	}
	return removed, nil
}

// Run prunes every CleanupPeriod until ctx is cancelled.
func (s *Store) Run(ctx context.Context) error {
	if s.cfg.Retention <= 0 && s.cfg.MaxFiles <= 0 {
		return nil
	}

	ticker := time.NewTicker(s.cfg.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Prune(); err != nil {
				logger.Error().Err(err).Msg("failed to prune generated images")
			}
		case <-ctx.Done():
			return nil
		}
	}
}
