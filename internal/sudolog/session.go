package sudolog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"sudocast/pkg/bytesource"
)

// File names inside a session directory.
const (
	LogFile    = "log"
	StderrFile = "stderr"
	StdoutFile = "stdout"
	TimingFile = "timing"
	TTYOutFile = "ttyout"
)

// Session is an opened session directory. The caller owns the timing and
// ttyout streams and must Close the session.
type Session struct {
	Dir      string
	Metadata Metadata
	Timing   *TimingReader
	TTYOut   bytesource.Source

	timing bytesource.Source
}

// Open parses the header of the session in dir and opens its timing and
// ttyout streams with compression c. The stderr and stdout files must be
// present but are not read.
func Open(dir string, c bytesource.Compression) (*Session, error) {
	meta, err := ReadMetadata(dir)
	if err != nil {
		return nil, err
	}

	for _, name := range []string{StderrFile, StdoutFile} {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
		_ = f.Close()
	}

	timing, err := bytesource.Open(filepath.Join(dir, TimingFile), c)
	if err != nil {
		return nil, err
	}
	ttyout, err := bytesource.Open(filepath.Join(dir, TTYOutFile), c)
	if err != nil {
		_ = timing.Close()
		return nil, err
	}

	return &Session{
		Dir:      dir,
		Metadata: meta,
		Timing:   NewTimingReader(timing),
		TTYOut:   ttyout,
		timing:   timing,
	}, nil
}

// ReadMetadata parses only the log file of the session in dir. The log
// file is never compressed.
func ReadMetadata(dir string) (Metadata, error) {
	logSrc, err := bytesource.Open(filepath.Join(dir, LogFile), bytesource.None)
	if err != nil {
		return Metadata{}, err
	}
	defer func() { _ = logSrc.Close() }()
	return ParseHeader(logSrc)
}

// Close closes the timing and ttyout streams.
func (s *Session) Close() error {
	return errors.Join(s.timing.Close(), s.TTYOut.Close())
}

// IsSessionDir reports whether dir looks like a sudo I/O log session: it
// contains a log and a timing file.
func IsSessionDir(dir string) bool {
	for _, name := range []string{LogFile, TimingFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || !info.Mode().IsRegular() {
			return false
		}
	}
	return true
}

// Summary describes a session without reading ttyout.
type Summary struct {
	Records    int
	TotalBytes int64
	Duration   float64 // sum of all delays in seconds
}

// Summarize walks the timing file of the session in dir.
func Summarize(dir string, c bytesource.Compression) (Summary, error) {
	var sum Summary
	src, err := bytesource.Open(filepath.Join(dir, TimingFile), c)
	if err != nil {
		return sum, err
	}
	defer func() { _ = src.Close() }()

	tr := NewTimingReader(src)
	for {
		rec, err := tr.Next()
		if err == io.EOF {
			return sum, nil
		}
		if err != nil {
			return sum, err
		}
		sum.Records++
		sum.TotalBytes += int64(rec.Bytes)
		sum.Duration += rec.Delay
	}
}
