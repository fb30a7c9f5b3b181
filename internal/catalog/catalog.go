// Package catalog keeps a list of the sudo I/O log sessions found below a
// root directory.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"sudocast/internal/replay"
	"sudocast/internal/sudolog"
	"sudocast/pkg/bytesource"
	"sudocast/pkg/outputtype"
)

// ErrNotFound is returned by Lookup for an unknown session ID.
var ErrNotFound = errors.New("session not found")

// Entry describes one session directory.
type Entry struct {
	// ID is the directory relative to the root, with forward slashes.
	ID         string
	Dir        string
	Metadata   sudolog.Metadata
	Summary    sudolog.Summary
	OutputType outputtype.OutputType
	ModTime    time.Time
	// Err is set when the session could not be read completely. The other
	// fields hold whatever was read before the failure.
	Err error
}

// Catalog is safe for concurrent use.
type Catalog struct {
	root        string
	compression bytesource.Compression

	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty catalog. Call Scan to fill it.
func New(root string, c bytesource.Compression) *Catalog {
	return &Catalog{
		root:        filepath.Clean(root),
		compression: c,
		entries:     make(map[string]Entry),
	}
}

func (c *Catalog) Root() string {
	return c.root
}

// Compression is the mode used to read timing and ttyout files.
func (c *Catalog) Compression() bytesource.Compression {
	return c.compression
}

// Scan walks the root directory and replaces the list of sessions.
func (c *Catalog) Scan() error {
	entries := make(map[string]Entry)
	if err := c.walk(c.root, entries); err != nil {
		return fmt.Errorf("failed to scan %s: %w", c.root, err)
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	slog.Info("Scanned sessions", "root", c.root, "sessions", len(entries))
	return nil
}

func (c *Catalog) walk(dir string, entries map[string]Entry) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			slog.Debug("Skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() || !sudolog.IsSessionDir(path) {
			return nil
		}
		e := c.describe(path)
		entries[e.ID] = e
		return fs.SkipDir
	})
}

// Refresh updates the sessions containing the changed paths. It is the
// callback of the Watcher.
func (c *Catalog) Refresh(paths []string) {
	found := make(map[string]Entry)
	for _, p := range paths {
		switch {
		case sudolog.IsSessionDir(p):
			e := c.describe(p)
			found[e.ID] = e
		case sudolog.IsSessionDir(filepath.Dir(p)):
			e := c.describe(filepath.Dir(p))
			found[e.ID] = e
		default:
			if info, err := os.Stat(p); err == nil && info.IsDir() {
				if err := c.walk(p, found); err != nil {
					slog.Warn("Failed to scan new directory", "path", p, "error", err)
				}
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if !sudolog.IsSessionDir(e.Dir) {
			delete(c.entries, id)
			slog.Debug("Session removed", "id", id)
		}
	}
	for id, e := range found {
		c.entries[id] = e
		slog.Debug("Session updated", "id", id)
	}
}

// List returns all sessions ordered by ID.
func (c *Catalog) List() []Entry {
	c.mu.RLock()
	list := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		list = append(list, e)
	}
	c.mu.RUnlock()

	slices.SortFunc(list, func(a, b Entry) int {
		return strings.Compare(a.ID, b.ID)
	})
	return list
}

// Lookup returns the session with the given ID.
func (c *Catalog) Lookup(id string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	return e, nil
}

// Watch keeps the catalog up to date until ctx is done.
func (c *Catalog) Watch(ctx context.Context, debounce time.Duration) error {
	w, err := NewWatcher(debounce, c.Refresh)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	watched, unwatched, err := w.WatchRecursive(c.root)
	if err != nil {
		w.Stop()
		return fmt.Errorf("failed to watch %s: %w", c.root, err)
	}
	if unwatched > 0 {
		slog.Warn("Some directories cannot be watched", "root", c.root, "unwatched", unwatched)
	}
	slog.Info("Watching sessions", "root", c.root, "directories", watched)

	w.Start()
	<-ctx.Done()
	w.Stop()
	return nil
}

func (c *Catalog) id(dir string) string {
	rel, err := filepath.Rel(c.root, dir)
	if err != nil || rel == "." {
		return filepath.Base(dir)
	}
	return filepath.ToSlash(rel)
}

func (c *Catalog) describe(dir string) Entry {
	e := Entry{
		ID:         c.id(dir),
		Dir:        dir,
		OutputType: outputtype.OutputTypeUnknown,
	}
	if info, err := os.Stat(filepath.Join(dir, sudolog.TimingFile)); err == nil {
		e.ModTime = info.ModTime()
	}

	e.Metadata, e.Err = sudolog.ReadMetadata(dir)
	if e.Err != nil {
		return e
	}
	e.Summary, e.Err = sudolog.Summarize(dir, c.compression)
	if e.Err != nil {
		return e
	}
	e.OutputType, e.Err = Detect(dir, c.compression)
	return e
}

// Detect classifies the recorded output of the session in dir by looking
// at its first outputtype.DefaultSampleSize bytes.
func Detect(dir string, c bytesource.Compression) (outputtype.OutputType, error) {
	s, err := sudolog.Open(dir, c)
	if err != nil {
		return outputtype.OutputTypeUnknown, err
	}
	defer func() { _ = s.Close() }()

	d := outputtype.NewDetector(outputtype.DefaultSampleSize)
	r := replay.NewReader(s)
	for !d.IsDetected() {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return outputtype.OutputTypeUnknown, err
		}
		d.Analyze(ev.Data)
	}
	d.Finish()

	t, reason := d.GetDetectedType()
	slog.Debug("Detected output type", "dir", dir, "type", t, "reason", reason)
	return t, nil
}
