// Package testsession builds sudo I/O log session directories for tests.
// Used by the sudolog, cast, convert, catalog and server test packages.
package testsession

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

// DefaultLog is the header used when Session.Log is empty.
const DefaultLog = "2023-01-01T00:00:00Z:alice:staff::pts/3\n/home/alice\n/bin/bash\n"

// Session describes the files to write. Empty Log means DefaultLog.
type Session struct {
	Log    string
	Timing string
	TTYOut []byte
	Gzip   bool // compress timing and ttyout
}

// Write creates the session under a fresh temp dir and returns its path.
func Write(t testing.TB, s Session) string {
	t.Helper()
	return WriteAt(t, t.TempDir(), s)
}

// WriteAt creates the session in dir, creating dir if needed.
func WriteAt(t testing.TB, dir string, s Session) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("failed to create session dir: %v", err)
	}
	log := s.Log
	if log == "" {
		log = DefaultLog
	}
	timing := []byte(s.Timing)
	ttyout := s.TTYOut
	if s.Gzip {
		timing = compress(t, timing)
		ttyout = compress(t, ttyout)
	}
	files := map[string][]byte{
		"log":    []byte(log),
		"stderr": nil,
		"stdout": nil,
		"timing": timing,
		"ttyout": ttyout,
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}

func compress(t testing.TB, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}
