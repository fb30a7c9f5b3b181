package cast

import (
	"errors"
	"fmt"
	"io"

	"sudocast/internal/sudolog"
	"sudocast/pkg/bytesource"
)

// ErrTrailingData is returned when ttyout holds bytes beyond the ones the
// timing file accounts for.
var ErrTrailingData = errors.New("ttyout has bytes not covered by the timing file")

// Options tune Convert.
type Options struct {
	// AllowTrailing accepts ttyout bytes left over after the last record.
	AllowTrailing bool
}

// Stats describes a finished conversion.
type Stats struct {
	Chunks int
	Bytes  int64
}

// Convert writes the cast document for one session to w. Each timing
// record consumes exactly its byte count from ttyout, in order. On error
// the document is left unterminated.
func Convert(w io.Writer, header Header, meta sudolog.Metadata, timing *sudolog.TimingReader, ttyout bytesource.Source, opts Options) (Stats, error) {
	var stats Stats
	cw := NewWriter(w, header)
	if err := cw.WriteHeader(meta); err != nil {
		return stats, err
	}

	for {
		rec, err := timing.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, err
		}
		data, err := ttyout.ReadExactly(rec.Bytes)
		if err != nil {
			return stats, fmt.Errorf("timing record %d: %w", timing.Line(), err)
		}
		if err := cw.WriteChunk(rec.Delay, data); err != nil {
			return stats, err
		}
		stats.Chunks++
		stats.Bytes += int64(len(data))
	}

	if !opts.AllowTrailing {
		atEOF, err := ttyout.AtEOF()
		if err != nil {
			return stats, err
		}
		if !atEOF {
			return stats, fmt.Errorf("%s after %d bytes: %w", ttyout.Name(), stats.Bytes, ErrTrailingData)
		}
	}

	return stats, cw.Close()
}

// ConvertSession is Convert for an opened session.
func ConvertSession(w io.Writer, header Header, s *sudolog.Session, opts Options) (Stats, error) {
	return Convert(w, header, s.Metadata, s.Timing, s.TTYOut, opts)
}
