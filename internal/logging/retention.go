package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PruneTarget is a directory and file pattern eligible for pruning. Paths in
// Keep are never removed.
type PruneTarget struct {
	Dir     string
	Pattern string
	Keep    []string
}

// PruneLogs removes files matching targets last modified more than
// retentionDays before now, and returns how many it removed. A retentionDays
// of 0 disables pruning.
func PruneLogs(logger *slog.Logger, retentionDays int, now time.Time, targets ...PruneTarget) int {
	if retentionDays <= 0 {
		return 0
	}
	cutoff := now.AddDate(0, 0, -retentionDays)
	removed := 0
	for _, target := range targets {
		removed += pruneDir(logger, target, cutoff)
	}
	return removed
}

func pruneDir(logger *slog.Logger, target PruneTarget, cutoff time.Time) int {
	dir := strings.TrimSpace(target.Dir)
	if dir == "" {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	keep := make(map[string]struct{}, len(target.Keep))
	for _, path := range target.Keep {
		if abs, err := filepath.Abs(strings.TrimSpace(path)); err == nil {
			keep[abs] = struct{}{}
		}
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if pattern := strings.TrimSpace(target.Pattern); pattern != "" {
			if ok, err := filepath.Match(pattern, entry.Name()); err != nil || !ok {
				continue
			}
		}
		path, err := filepath.Abs(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		if _, skip := keep[path]; skip {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "log prune failed; file remains", "log_prune_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check ownership of paths.log_dir"),
			)
			continue
		}
		removed++
		if logger != nil {
			logger.Info("log pruned",
				String(FieldEventType, "log_pruned"),
				String("path", path),
			)
		}
	}
	return removed
}
