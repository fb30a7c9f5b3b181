// Package bytesource reads the files of a recorded session as forward-only
// byte streams. A Source hides whether the file on disk is plain or gzip
// compressed; the choice is made once, when the file is opened.
package bytesource

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrTruncatedStream is returned by ReadExactly when the stream ends before
// the requested number of bytes.
var ErrTruncatedStream = errors.New("truncated stream")

// Compression selects how a file on disk is decoded.
type Compression string

const (
	None Compression = "none"
	Gzip Compression = "gzip"
	// Auto decodes gzip when the file starts with the gzip magic bytes and
	// reads it plain otherwise.
	Auto Compression = "auto"
)

var gzipMagic = []byte{0x1f, 0x8b}

// ParseCompression maps a flag or config value to a Compression. The empty
// string means None.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return None, nil
	case None, Gzip, Auto:
		return c, nil
	default:
		return "", fmt.Errorf("unknown compression %q (want none, gzip or auto)", s)
	}
}

// Source is a forward-only byte stream.
type Source interface {
	// ReadExactly returns the next n bytes. It fails with ErrTruncatedStream
	// when fewer than n bytes remain.
	ReadExactly(n int) ([]byte, error)

	// ReadLine returns the next line without its newline, or io.EOF once
	// the stream is exhausted. A carriage return before the newline is
	// kept. A last line without a terminating newline is still returned.
	ReadLine() (string, error)

	// AtEOF reports whether all bytes have been consumed.
	AtEOF() (bool, error)

	// Name returns the path the source was opened from.
	Name() string

	io.Closer
}

type source struct {
	name   string
	r      *bufio.Reader
	closer []io.Closer
}

var _ Source = &source{}

// Open opens path and returns a Source decoding it according to c.
func Open(path string, c Compression) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	src, err := newSource(path, f, c)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return src, nil
}

// New wraps an already opened reader. The closer, if any, is closed by
// Source.Close.
func New(name string, r io.ReadCloser, c Compression) (Source, error) {
	return newSource(name, r, c)
}

func newSource(name string, rc io.ReadCloser, c Compression) (*source, error) {
	br := bufio.NewReader(rc)
	if c == Auto {
		c = None
		magic, err := br.Peek(len(gzipMagic))
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		if bytes.Equal(magic, gzipMagic) {
			c = Gzip
		}
	}

	switch c {
	case None, "":
		return &source{name: name, r: br, closer: []io.Closer{rc}}, nil
	case Gzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to read gzip header of %s: %w", name, err)
		}
		return &source{
			name:   name,
			r:      bufio.NewReader(gz),
			closer: []io.Closer{gz, rc},
		}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
}

func (s *source) Name() string {
	return s.name
}

func (s *source) ReadExactly(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%s: negative read length %d", s.name, n)
	}
	// The buffer grows with the bytes present, not with the requested length.
	var buf bytes.Buffer
	got, err := io.CopyN(&buf, s.r, int64(n))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: wanted %d bytes, got %d: %w", s.name, n, got, ErrTruncatedStream)
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.name, err)
	}
	return buf.Bytes(), nil
}

func (s *source) ReadLine() (string, error) {
	line, err := s.r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return line, nil
		}
		if err == io.EOF {
			return "", io.EOF
		}
		return "", fmt.Errorf("failed to read %s: %w", s.name, err)
	}
	return strings.TrimSuffix(line, "\n"), nil
}

func (s *source) AtEOF() (bool, error) {
	_, err := s.r.Peek(1)
	if err == io.EOF {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", s.name, err)
	}
	return false, nil
}

func (s *source) Close() error {
	var errs []error
	for _, c := range s.closer {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
