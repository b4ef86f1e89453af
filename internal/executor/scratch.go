package executor

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
)

// Scratch hands out uniquely named script files in one directory. Every call
// gets its own file, so overlapping evaluations never share a path.
type Scratch struct {
	dir    string
	logger *slog.Logger
}

// NewScratch creates a Scratch rooted at dir. The directory is created lazily.
func NewScratch(dir string, logger *slog.Logger) *Scratch {
	return &Scratch{dir: dir, logger: logger}
}

// Write stores content in a new file whose name starts with kind. The returned
// cleanup removes the file; callers defer it right after a successful Write.
// A failed removal is logged, never returned.
func (s *Scratch) Write(kind, content string) (string, func(), error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("scratch: creating %s: %w", s.dir, err)
	}

	f, err := os.CreateTemp(s.dir, kind+"-*.php")
	if err != nil {
		return "", nil, fmt.Errorf("scratch: creating file: %w", err)
	}
	path := f.Name()

	cleanup := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to remove scratch file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("scratch: writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("scratch: closing %s: %w", path, err)
	}

	return path, cleanup, nil
}
