// Package cast writes asciinema cast v1 documents as a stream: the header
// first, then one [delay, "text"] entry per output chunk. Nothing but the
// chunk being escaped is held in memory.
package cast

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"sudocast/internal/sudolog"
	"sudocast/pkg/jsonesc"
)

// ErrState is returned when the writer methods are called out of order.
var ErrState = errors.New("cast writer used out of order")

// Header holds the header values which do not come from the session log.
type Header struct {
	Width    int
	Height   int
	Duration float64
	Term     string
	Shell    string
}

// DefaultHeader returns the values historically written by the converter.
func DefaultHeader() Header {
	return Header{
		Width:    89,
		Height:   26,
		Duration: 27.221634,
		Term:     "xterm-256color",
		Shell:    "/bin/bash",
	}
}

type state int

const (
	stateStart state = iota
	stateHeader
	stateEntries
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateHeader:
		return "header emitted"
	case stateEntries:
		return "emitting entries"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// Writer streams one cast document to an io.Writer.
type Writer struct {
	w       *bufio.Writer
	header  Header
	state   state
	entries int
	scratch []byte
}

func NewWriter(w io.Writer, header Header) *Writer {
	return &Writer{
		w:      bufio.NewWriter(w),
		header: header,
	}
}

// Entries returns the number of chunks written so far.
func (cw *Writer) Entries() int {
	return cw.entries
}

// WriteHeader writes the header object and opens the stdout array.
func (cw *Writer) WriteHeader(meta sudolog.Metadata) error {
	if cw.state != stateStart {
		return fmt.Errorf("write header in state %s: %w", cw.state, ErrState)
	}
	h := cw.header
	b := cw.scratch[:0]
	b = append(b, "{\n"...)
	b = fmt.Appendf(b, "  \"version\": %d,\n", 1)
	b = fmt.Appendf(b, "  \"width\": %d,\n", h.Width)
	b = fmt.Appendf(b, "  \"height\": %d,\n", h.Height)
	b = fmt.Appendf(b, "  \"duration\": %f,\n", h.Duration)
	b = append(b, "  \"command\": null,\n"...)
	b = append(b, "  \"title\": null,\n"...)
	b = append(b, "  \"start\": "...)
	b = appendStart(b, meta.Start)
	b = append(b, ",\n"...)
	b = appendField(b, "user", meta.User)
	b = appendField(b, "group", meta.Group)
	b = appendField(b, "terminal", meta.Terminal)
	b = appendField(b, "home", meta.Home)
	b = appendField(b, "command", meta.Command)
	b = append(b, "  \"env\": {\n"...)
	b = append(b, "    \"TERM\": "...)
	b = appendString(b, h.Term)
	b = append(b, ",\n    \"SHELL\": "...)
	b = appendString(b, h.Shell)
	b = append(b, "\n  },\n"...)
	b = append(b, "  \"stdout\": ["...)
	cw.scratch = b

	if _, err := cw.w.Write(b); err != nil {
		return err
	}
	cw.state = stateHeader
	return nil
}

// WriteChunk appends one [delay, "text"] entry.
func (cw *Writer) WriteChunk(delay float64, data []byte) error {
	if cw.state != stateHeader && cw.state != stateEntries {
		return fmt.Errorf("write chunk in state %s: %w", cw.state, ErrState)
	}
	b := cw.scratch[:0]
	if cw.state == stateEntries {
		b = append(b, ',')
	}
	b = fmt.Appendf(b, "\n    [%f, \"", delay)
	b = jsonesc.Append(b, data)
	b = append(b, "\"]"...)
	cw.scratch = b

	if _, err := cw.w.Write(b); err != nil {
		return err
	}
	cw.state = stateEntries
	cw.entries++
	return nil
}

// Close terminates the array and the document and flushes the output.
// It does not close the underlying io.Writer.
func (cw *Writer) Close() error {
	switch cw.state {
	case stateHeader:
		_, _ = cw.w.WriteString("]\n}\n")
	case stateEntries:
		_, _ = cw.w.WriteString("\n  ]\n}\n")
	default:
		return fmt.Errorf("close in state %s: %w", cw.state, ErrState)
	}
	cw.state = stateClosed
	return cw.w.Flush()
}

// Flush writes buffered output to the underlying writer.
func (cw *Writer) Flush() error {
	return cw.w.Flush()
}

func appendField(b []byte, key, value string) []byte {
	b = append(b, "  \""...)
	b = append(b, key...)
	b = append(b, "\": "...)
	b = appendString(b, value)
	return append(b, ",\n"...)
}

func appendString(b []byte, s string) []byte {
	b = append(b, '"')
	b = jsonesc.Append(b, []byte(s))
	return append(b, '"')
}

// appendStart writes the start timestamp bare when it is a JSON number
// (sudo logs epoch seconds) and quoted otherwise.
func appendStart(b []byte, start string) []byte {
	if _, err := strconv.ParseFloat(start, 64); err == nil && json.Valid([]byte(start)) {
		return append(b, start...)
	}
	return appendString(b, start)
}
