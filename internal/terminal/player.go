// Package terminal replays a session on the local terminal.
package terminal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"

	"sudocast/internal/replay"
	"sudocast/internal/sudolog"
	"sudocast/pkg/bytesource"
)

// Written after an interrupted replay: reset attributes, show the cursor
// and leave the alternate screen.
const resetSequence = "\x1b[0m\x1b[?25h\x1b[?1049l"

type Options struct {
	Compression bytesource.Compression
	Speed       float64
	IdleLimit   time.Duration
	// Width and Height are the size the session was recorded at.
	Width  int
	Height int
}

// Check returns warnings about replaying a recording of width x height
// columns and rows to out.
func Check(out *os.File, width, height int) []string {
	if !term.IsTerminal(int(out.Fd())) {
		return []string{"output is not a terminal, escape sequences are written as they are"}
	}
	size, err := pty.GetsizeFull(out)
	if err != nil {
		return []string{fmt.Sprintf("cannot read terminal size: %v", err)}
	}
	if int(size.Cols) < width || int(size.Rows) < height {
		return []string{fmt.Sprintf("terminal is %dx%d, the recording is %dx%d",
			size.Cols, size.Rows, width, height)}
	}
	return nil
}

// Play replays the session in dir to out at the recorded pace. When in is
// a terminal it is put into raw mode, and q or Ctrl-C stops the replay;
// Play then returns nil.
func Play(ctx context.Context, dir string, in, out *os.File, opts Options) error {
	for _, warning := range Check(out, opts.Width, opts.Height) {
		slog.Warn("Replay may not look right", "reason", warning)
	}

	sess, err := sudolog.Open(dir, opts.Compression)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var quit atomic.Bool
	if in != nil && term.IsTerminal(int(in.Fd())) {
		fd := int(in.Fd())
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("failed to set terminal to raw mode: %w", err)
		}
		defer func() { _ = term.Restore(fd, state) }()

		// The goroutine may outlive Play, blocked in Read.
		go watchKeys(in, func() {
			quit.Store(true)
			cancel()
		})
	}

	slog.Debug("Replaying session", "dir", dir, "user", sess.Metadata.User, "command", sess.Metadata.Command)
	events := replay.NewReader(sess).Channel(ctx)
	player := &replay.Player{Speed: opts.Speed, IdleLimit: opts.IdleLimit}
	err = player.Play(ctx, events, out)
	cancel()
	replay.Drain(events)

	if errors.Is(err, context.Canceled) {
		if term.IsTerminal(int(out.Fd())) {
			_, _ = io.WriteString(out, resetSequence)
		}
		if quit.Load() {
			return nil
		}
	}
	return err
}

// watchKeys calls stop when q or Ctrl-C is read from in.
func watchKeys(in io.Reader, stop func()) {
	buf := make([]byte, 64)
	for {
		n, err := in.Read(buf)
		if bytes.ContainsAny(buf[:n], "q\x03") {
			stop()
			return
		}
		if err != nil {
			return
		}
	}
}
