package sudolog

import (
	"fmt"
	"io"
	"iter"
	"math"
	"strconv"
	"strings"

	"sudocast/pkg/bytesource"
)

// TimingRecord is one line of the timing file.
type TimingRecord struct {
	Op    int     // event type as written by sudo; not interpreted
	Delay float64 // seconds since the previous event
	Bytes int     // number of ttyout bytes belonging to this event
}

// TimingReader iterates the records of a timing file, one line at a time.
type TimingReader struct {
	src  bytesource.Source
	line int
	err  error
}

func NewTimingReader(src bytesource.Source) *TimingReader {
	return &TimingReader{src: src}
}

// Next returns the next record, or io.EOF after the last one. Once Next
// has returned an error it keeps returning it.
func (tr *TimingReader) Next() (TimingRecord, error) {
	if tr.err != nil {
		return TimingRecord{}, tr.err
	}
	line, err := tr.src.ReadLine()
	if err != nil {
		tr.err = err
		return TimingRecord{}, err
	}
	tr.line++
	rec, err := ParseTimingLine(line)
	if err != nil {
		tr.err = fmt.Errorf("%s line %d: %w", tr.src.Name(), tr.line, err)
		return TimingRecord{}, tr.err
	}
	return rec, nil
}

// All returns the remaining records as an iterator. Iteration stops after
// the first error, which is yielded with a zero record; io.EOF is not
// yielded.
func (tr *TimingReader) All() iter.Seq2[TimingRecord, error] {
	return func(yield func(TimingRecord, error) bool) {
		for {
			rec, err := tr.Next()
			if err == io.EOF {
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

// Line returns the number of lines consumed so far.
func (tr *TimingReader) Line() int {
	return tr.line
}

// ParseTimingLine parses "OPCODE DELAY BYTES".
func ParseTimingLine(line string) (TimingRecord, error) {
	var rec TimingRecord
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return rec, fmt.Errorf("want 3 fields, got %d in %q: %w", len(fields), line, ErrTimingFormat)
	}

	op, err := strconv.Atoi(fields[0])
	if err != nil {
		return rec, fmt.Errorf("bad op code %q: %w", fields[0], ErrTimingFormat)
	}
	delay, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || math.IsNaN(delay) || math.IsInf(delay, 0) {
		return rec, fmt.Errorf("bad delay %q: %w", fields[1], ErrTimingFormat)
	}
	n, err := strconv.Atoi(fields[2])
	if err != nil || n < 0 {
		return rec, fmt.Errorf("bad byte count %q: %w", fields[2], ErrTimingFormat)
	}

	rec.Op = op
	rec.Delay = delay
	rec.Bytes = n
	return rec, nil
}
