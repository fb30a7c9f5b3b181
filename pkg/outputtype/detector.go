package outputtype

import (
	"bytes"
	"regexp"
)

// OutputType is the kind of program a session recorded, judged from its
// terminal output.
type OutputType string

const (
	OutputTypeUnknown    OutputType = "unknown"
	OutputTypeBinary     OutputType = "binary"
	OutputTypeText       OutputType = "text"
	OutputTypeFullscreen OutputType = "fullscreen"
	OutputTypeInk        OutputType = "ink"
)

// DefaultSampleSize is how much output a Detector looks at before deciding.
const DefaultSampleSize = 8192

// Longest sequence we match, kept from one chunk to the next.
const tailSize = 16

var (
	alternateScreen = [][]byte{
		[]byte("\x1b[?1049h"),
		[]byte("\x1b[?1047h"),
		[]byte("\x1b[?47h"),
	}
	clearScreen = [][]byte{
		[]byte("\x1b[2J"),
		[]byte("\x1b[3J"),
	}
	cursorMovement = regexp.MustCompile(`\x1b\[(\d*(;\d*)?H|\d*[ABCD])`)
	sgr            = regexp.MustCompile(`\x1b\[[0-9;]+m`)
)

// Detector classifies output fed to it chunk by chunk.
// Note: not safe for concurrent use.
type Detector struct {
	detectedType    OutputType
	detectionReason string
	detected        bool

	sampleSize   int
	seen         int
	nonPrintable int
	tail         []byte

	hasCursorMovement bool
	hasColorCodes     bool
}

// NewDetector creates a detector which decides after sampleSize bytes at
// the latest. A sampleSize <= 0 means DefaultSampleSize.
func NewDetector(sampleSize int) *Detector {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &Detector{
		detectedType: OutputTypeUnknown,
		sampleSize:   sampleSize,
	}
}

// Analyze inspects the next chunk of output. It returns true once the type
// is decided; further calls are no-ops.
func (d *Detector) Analyze(chunk []byte) bool {
	if d.detected {
		return true
	}
	if bytes.IndexByte(chunk, 0) >= 0 {
		return d.decide(OutputTypeBinary, "null bytes detected")
	}
	d.nonPrintable += countNonPrintable(chunk)
	d.seen += len(chunk)

	window := make([]byte, 0, len(d.tail)+len(chunk))
	window = append(append(window, d.tail...), chunk...)

	if containsAny(window, alternateScreen) {
		return d.decide(OutputTypeFullscreen, "alternate screen buffer escape sequence detected")
	}
	if containsAny(window, clearScreen) {
		return d.decide(OutputTypeFullscreen, "clear screen escape sequence detected")
	}
	if !d.hasCursorMovement && cursorMovement.Match(window) {
		d.hasCursorMovement = true
	}
	if !d.hasColorCodes && sgr.Match(window) {
		d.hasColorCodes = true
	}

	if len(window) > tailSize {
		window = window[len(window)-tailSize:]
	}
	d.tail = window

	if d.seen >= d.sampleSize {
		return d.Finish()
	}
	return false
}

// Finish decides with what has been seen so far. Call it when the output
// ends before the sample is full.
func (d *Detector) Finish() bool {
	if d.detected {
		return true
	}
	switch {
	case d.seen == 0:
		return d.decide(OutputTypeUnknown, "no output")
	case float64(d.nonPrintable) > float64(d.seen)*0.3:
		return d.decide(OutputTypeBinary, "high proportion of non-printable characters detected")
	case d.hasColorCodes || d.hasCursorMovement:
		return d.decide(OutputTypeInk, "ANSI color codes or cursor movement without fullscreen sequences")
	default:
		return d.decide(OutputTypeText, "no special terminal control sequences detected")
	}
}

// GetDetectedType returns the detected type and reason
func (d *Detector) GetDetectedType() (OutputType, string) {
	return d.detectedType, d.detectionReason
}

// IsDetected returns true if type has been determined
func (d *Detector) IsDetected() bool {
	return d.detected
}

func (d *Detector) decide(t OutputType, reason string) bool {
	d.detectedType = t
	d.detectionReason = reason
	d.detected = true
	d.tail = nil
	return true
}

func containsAny(b []byte, needles [][]byte) bool {
	for _, n := range needles {
		if bytes.Contains(b, n) {
			return true
		}
	}
	return false
}

// countNonPrintable counts control characters other than tab, newline,
// carriage return, backspace, bell and escape, which terminals use all
// the time.
func countNonPrintable(chunk []byte) int {
	n := 0
	for _, b := range chunk {
		switch b {
		case '\t', '\n', '\r', '\b', 0x07, 0x1b:
			continue
		}
		if b < 0x20 || b == 0x7f {
			n++
		}
	}
	return n
}
