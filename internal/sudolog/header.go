// Package sudolog reads the session directories sudo writes when I/O
// logging is enabled (log, stderr, stdout, timing and ttyout).
package sudolog

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/shlex"

	"sudocast/pkg/bytesource"
)

var (
	// ErrHeaderFormat is returned when the first three lines of the log
	// file do not follow the header grammar.
	ErrHeaderFormat = errors.New("malformed session header")

	// ErrTimingFormat is returned for a timing line which is not
	// "OPCODE DELAY BYTES".
	ErrTimingFormat = errors.New("malformed timing record")
)

// Metadata is the information in the header of the log file.
type Metadata struct {
	Start    string // verbatim, not validated as a date
	User     string
	Group    string
	Terminal string // everything after "::", e.g. /dev/pts/0:24:80
	Home     string
	Command  string
}

// Program returns the first word of Command, split with shell quoting
// rules. It falls back to the raw command when it cannot be split.
func (m Metadata) Program() string {
	words, err := shlex.Split(m.Command)
	if err != nil || len(words) == 0 {
		return strings.TrimSpace(m.Command)
	}
	return words[0]
}

// ParseHeader reads the three header lines from src:
//
//	TIMESTAMP:USER:GROUP::TERMINAL
//	HOME_DIRECTORY
//	COMMAND_LINE
//
// The terminal is everything after the "::" separator, colons included,
// as sudo writes it as tty:lines:cols. The part before it is split from
// the right so a timestamp may contain colons. A line without "::" is read
// as TIMESTAMP:USER:GROUP:PLACEHOLDER:TERMINAL and the placeholder is
// dropped. The source is not closed.
func ParseHeader(src bytesource.Source) (Metadata, error) {
	var meta Metadata

	first, err := readHeaderLine(src, "first")
	if err != nil {
		return meta, err
	}
	if !splitFirstLine(first, &meta) {
		return meta, fmt.Errorf("%s line 1: want TIMESTAMP:USER:GROUP::TERMINAL, got %q: %w",
			src.Name(), first, ErrHeaderFormat)
	}

	if meta.Home, err = readHeaderLine(src, "home"); err != nil {
		return meta, err
	}
	if meta.Command, err = readHeaderLine(src, "command"); err != nil {
		return meta, err
	}
	return meta, nil
}

func readHeaderLine(src bytesource.Source, what string) (string, error) {
	line, err := src.ReadLine()
	if err == io.EOF {
		return "", fmt.Errorf("%s: missing %s line: %w", src.Name(), what, ErrHeaderFormat)
	}
	if err != nil {
		return "", err
	}
	return line, nil
}

func splitFirstLine(line string, meta *Metadata) bool {
	for off := 0; ; {
		i := strings.Index(line[off:], "::")
		if i < 0 {
			break
		}
		i += off
		head := strings.Split(line[:i], ":")
		if n := len(head); n >= 3 {
			meta.Start = strings.Join(head[:n-2], ":")
			meta.User = head[n-2]
			meta.Group = head[n-1]
			meta.Terminal = line[i+2:]
			return true
		}
		off = i + 1
	}

	segments := strings.Split(line, ":")
	n := len(segments)
	if n < 5 {
		return false
	}
	meta.Start = strings.Join(segments[:n-4], ":")
	meta.User = segments[n-4]
	meta.Group = segments[n-3]
	meta.Terminal = segments[n-1]
	return true
}
