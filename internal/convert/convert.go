// Package convert runs one conversion of a session directory into a cast
// file or stream.
package convert

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"sudocast/internal/cast"
	"sudocast/internal/sudolog"
	"sudocast/pkg/bytesource"
)

type Options struct {
	Compression bytesource.Compression
	Header      cast.Header
	// AllowTrailing accepts ttyout bytes not covered by the timing file.
	AllowTrailing bool
	// MeasureDuration replaces the configured header duration with the
	// sum of all delays. It costs one extra pass over the timing file.
	MeasureDuration bool
}

// ToWriter converts the session in dir and writes the cast to w.
func ToWriter(w io.Writer, dir string, opts Options) (cast.Stats, error) {
	header := opts.Header
	if opts.MeasureDuration {
		sum, err := sudolog.Summarize(dir, opts.Compression)
		if err != nil {
			return cast.Stats{}, err
		}
		header.Duration = sum.Duration
	}

	s, err := sudolog.Open(dir, opts.Compression)
	if err != nil {
		return cast.Stats{}, err
	}
	defer func() { _ = s.Close() }()

	start := time.Now()
	stats, err := cast.ConvertSession(w, header, s, cast.Options{AllowTrailing: opts.AllowTrailing})
	if err != nil {
		return stats, err
	}
	slog.Debug("Session converted",
		"dir", dir,
		"chunks", stats.Chunks,
		"bytes", stats.Bytes,
		"elapsed", time.Since(start))
	return stats, nil
}

// ToFile converts the session in dir into the file at path. The cast is
// written to a temporary file next to path and renamed on success, so a
// failed run never leaves a partial file behind.
func ToFile(path, dir string, opts Options) (stats cast.Stats, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return stats, fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			if rmErr := os.Remove(tmp.Name()); rmErr != nil && !os.IsNotExist(rmErr) {
				slog.Warn("Failed to remove partial output", "path", tmp.Name(), "error", rmErr)
			}
		}
	}()

	stats, err = ToWriter(tmp, dir, opts)
	if err != nil {
		return stats, err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return stats, fmt.Errorf("failed to set output file mode: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return stats, fmt.Errorf("failed to close output file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return stats, fmt.Errorf("failed to move output into place: %w", err)
	}
	return stats, nil
}

// Run converts dir to path, or to stdout when path is empty or "-".
func Run(dir, path string, stdout io.Writer, opts Options) (cast.Stats, error) {
	if path == "" || path == "-" {
		return ToWriter(stdout, dir, opts)
	}
	return ToFile(path, dir, opts)
}
