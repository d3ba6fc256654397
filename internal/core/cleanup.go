package core

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// sweepTree removes the directory tree rooted at root, deepest entries
// first. The sweep is best-effort: entries that no longer exist are skipped
// (tolerating partial external deletion) and individual removal failures are
// collected rather than aborting the walk. The aggregate of all failures is
// returned; a missing root is not an error. Every entry gets its removal
// attempt regardless of earlier failures.
func sweepTree(root string, log *slog.Logger) error {
	if root == "" {
		return nil
	}

	var entries []string
	walkErrs := []error{}
	err := filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			// Record and keep walking; an unreadable subtree must not
			// abort the sweep of its siblings.
			walkErrs = append(walkErrs, fmt.Errorf("walk %s: %w", path, err))
			return nil
		}
		entries = append(entries, path)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		walkErrs = append(walkErrs, fmt.Errorf("walk %s: %w", root, err))
	}

	// WalkDir yields parents before children (lexical pre-order); removing
	// in reverse order guarantees children go before their directories.
	removeErrs := []error{}
	for i := len(entries) - 1; i >= 0; i-- {
		if rmErr := os.Remove(entries[i]); rmErr != nil {
			if os.IsNotExist(rmErr) {
				continue
			}
			removeErrs = append(removeErrs, fmt.Errorf("remove %s: %w", entries[i], rmErr))
		}
	}

	if n := len(walkErrs) + len(removeErrs); n > 0 {
		log.Warn("data directory sweep incomplete", "dir", root, "failures", n)
	}
	return errors.Join(errors.Join(walkErrs...), errors.Join(removeErrs...))
}
