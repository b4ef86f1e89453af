// Package watch evaluates a PHP file every time it is written to disk.
//
// It is the terminal counterpart of the language server: each write is a
// change event for the file's session, the first line that changed stands in
// for the cursor, and annotations print to the terminal.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/sakif/phpinline/internal/session"
	"github.com/sakif/phpinline/internal/trigger"
)

// Watcher follows one file.
type Watcher struct {
	path     string
	uri      string
	sessions *session.Manager
	logger   *slog.Logger

	mu   sync.Mutex
	text string
}

// New creates a Watcher for path. Attach a session manager before Run; its
// presenter can use Text to look up the file's source lines.
func New(path string, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch: resolving %s: %w", path, err)
	}
	return &Watcher{
		path:   abs,
		uri:    "file://" + filepath.ToSlash(abs),
		logger: logger,
	}, nil
}

// URI identifies the watched file's session.
func (w *Watcher) URI() string {
	return w.uri
}

// Text returns the last content read from disk. Its signature matches the
// presenters' text lookups.
func (w *Watcher) Text(string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.text
}

// Attach sets the session manager events are sent to.
func (w *Watcher) Attach(sessions *session.Manager) {
	w.sessions = sessions
}

// Run evaluates the file's last statement once, then on every write, until
// ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if w.sessions == nil {
		return errors.New("watch: no session manager attached")
	}

	text, err := w.read()
	if err != nil {
		return err
	}
	w.setText(text)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: creating watcher: %w", err)
	}
	defer fw.Close()

	// Editors often save by renaming a temp file over the original, which
	// drops a watch on the file itself. Watching the directory survives that.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch: watching %s: %w", filepath.Dir(w.path), err)
	}

	if err := w.sessions.Open(session.Document{
		URI:   w.uri,
		Path:  w.path,
		Text:  text,
		Saved: true,
	}); err != nil {
		return err
	}
	if err := w.sessions.Select(w.uri, trigger.LastLine(text)); err != nil {
		return err
	}

	w.logger.Info("watching", slog.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			return w.sessions.Close(w.uri)

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

// reload feeds the file's new content to its session. A write that leaves
// the content unchanged, such as a touch, is ignored.
func (w *Watcher) reload() {
	text, err := w.read()
	if err != nil {
		w.logger.Warn("failed to read watched file",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		return
	}
	if text == w.Text(w.uri) {
		return
	}
	w.setText(text)

	if err := w.sessions.Change(w.uri, text); err != nil {
		w.logger.Error("failed to schedule evaluation", slog.String("error", err.Error()))
		return
	}
	if err := w.sessions.Saved(w.uri, w.path); err != nil {
		w.logger.Error("failed to mark file saved", slog.String("error", err.Error()))
	}
}

func (w *Watcher) read() (string, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("watch: %s does not exist", w.path)
		}
		return "", fmt.Errorf("watch: reading %s: %w", w.path, err)
	}
	return string(data), nil
}

func (w *Watcher) setText(text string) {
	w.mu.Lock()
	w.text = text
	w.mu.Unlock()
}
