package bytesource

import (
	"bytes"
	"compress/gzip"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write(data)
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

// openBoth returns the same content opened as a plain and as a gzip file.
func openBoth(t *testing.T, data []byte) map[string]Source {
	t.Helper()
	dir := t.TempDir()
	plain, err := Open(writeFile(t, dir, "plain", data), None)
	require.NoError(t, err)
	compressed, err := Open(writeFile(t, dir, "compressed", gzipBytes(t, data)), Gzip)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = plain.Close()
		_ = compressed.Close()
	})
	return map[string]Source{"plain": plain, "gzip": compressed}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		input    string
		expected Compression
		wantErr  bool
	}{
		{input: "", expected: None},
		{input: "none", expected: None},
		{input: "GZIP", expected: Gzip},
		{input: " auto ", expected: Auto},
		{input: "zstd", wantErr: true},
	}
	for _, tt := range tests {
		c, err := ParseCompression(tt.input)
		if tt.wantErr {
			require.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		require.Equal(t, tt.expected, c)
	}
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"), None)
	require.Error(t, err)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestOpen_GzipRejectsPlainFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "timing", []byte("0 1.0 5\n"))
	_, err := Open(path, Gzip)
	require.Error(t, err)
}

func TestReadLine(t *testing.T) {
	for name, src := range openBoth(t, []byte("first\nsecond\r\n\nlast")) {
		t.Run(name, func(t *testing.T) {
			var lines []string
			for {
				line, err := src.ReadLine()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				lines = append(lines, line)
			}
			require.Equal(t, []string{"first", "second\r", "", "last"}, lines)
		})
	}
}

func TestReadExactly(t *testing.T) {
	for name, src := range openBoth(t, []byte("hello\x00\xffworld")) {
		t.Run(name, func(t *testing.T) {
			chunk, err := src.ReadExactly(5)
			require.NoError(t, err)
			require.Equal(t, "hello", string(chunk))

			chunk, err = src.ReadExactly(2)
			require.NoError(t, err)
			require.Equal(t, []byte{0x00, 0xff}, chunk)

			chunk, err = src.ReadExactly(0)
			require.NoError(t, err)
			require.Empty(t, chunk)

			atEOF, err := src.AtEOF()
			require.NoError(t, err)
			require.False(t, atEOF)

			_, err = src.ReadExactly(6)
			require.ErrorIs(t, err, ErrTruncatedStream)
		})
	}
}

func TestReadExactly_HugeLength(t *testing.T) {
	for name, src := range openBoth(t, []byte("ab")) {
		t.Run(name, func(t *testing.T) {
			_, err := src.ReadExactly(math.MaxInt64)
			require.ErrorIs(t, err, ErrTruncatedStream)
			require.ErrorContains(t, err, "got 2")
		})
	}
}

func TestReadExactly_EmptyStream(t *testing.T) {
	for name, src := range openBoth(t, nil) {
		t.Run(name, func(t *testing.T) {
			atEOF, err := src.AtEOF()
			require.NoError(t, err)
			require.True(t, atEOF)

			_, err = src.ReadExactly(1)
			require.ErrorIs(t, err, ErrTruncatedStream)
		})
	}
}

func TestAuto_DetectsGzip(t *testing.T) {
	dir := t.TempDir()
	content := []byte("0 0.5 3\n")

	for _, data := range [][]byte{content, gzipBytes(t, content)} {
		src, err := Open(writeFile(t, dir, "timing", data), Auto)
		require.NoError(t, err)
		line, err := src.ReadLine()
		require.NoError(t, err)
		require.Equal(t, "0 0.5 3", line)
		require.NoError(t, src.Close())
	}
}

func TestAuto_EmptyFileIsPlain(t *testing.T) {
	src, err := Open(writeFile(t, t.TempDir(), "ttyout", nil), Auto)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	_, err = src.ReadLine()
	require.ErrorIs(t, err, io.EOF)
}

func TestNew_UsesName(t *testing.T) {
	src, err := New("memory", io.NopCloser(bytes.NewReader([]byte("ab"))), None)
	require.NoError(t, err)
	require.Equal(t, "memory", src.Name())

	_, err = src.ReadExactly(3)
	require.ErrorIs(t, err, ErrTruncatedStream)
	require.Contains(t, err.Error(), "memory")
}
