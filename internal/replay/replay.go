// Package replay turns an opened session into a stream of timed output
// events, and plays such a stream back at the recorded pace.
package replay

import (
	"context"
	"fmt"
	"io"

	"sudocast/internal/sudolog"
)

// Event is the output of one timing record.
type Event struct {
	Delay float64 // seconds since the previous event
	Data  []byte
	Error error // set on the last event when reading failed
}

// Reader reads events from a session. Like the session it is consumed
// exactly once.
type Reader struct {
	session *sudolog.Session
}

func NewReader(s *sudolog.Session) *Reader {
	return &Reader{session: s}
}

// Next returns the next event, or io.EOF after the last one.
func (r *Reader) Next() (Event, error) {
	rec, err := r.session.Timing.Next()
	if err != nil {
		return Event{}, err
	}
	data, err := r.session.TTYOut.ReadExactly(rec.Bytes)
	if err != nil {
		return Event{}, fmt.Errorf("timing record %d: %w", r.session.Timing.Line(), err)
	}
	return Event{Delay: rec.Delay, Data: data}, nil
}

// Channel starts a goroutine which sends all events on the returned
// channel and closes it at the end. A read error is delivered as a final
// event with Error set. The goroutine stops early when ctx is done.
func (r *Reader) Channel(ctx context.Context) <-chan Event {
	channel := make(chan Event)
	go r.readToChannel(ctx, channel)
	return channel
}

func (r *Reader) readToChannel(ctx context.Context, channel chan<- Event) {
	defer close(channel)
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			ev = Event{Error: err}
		}
		select {
		case channel <- ev:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Output returns a reader over the concatenated event data, ignoring the
// delays. Close stops the reading goroutine and waits for it, after which
// the session may be closed.
func (r *Reader) Output(ctx context.Context) io.ReadCloser {
	ctx, cancel := context.WithCancel(ctx)
	return &channelReader{channel: r.Channel(ctx), cancel: cancel}
}

type channelReader struct {
	channel <-chan Event
	cancel  context.CancelFunc
	buffer  []byte // rest of a chunk that did not fit into p
}

func (cr *channelReader) Close() error {
	cr.cancel()
	Drain(cr.channel)
	cr.buffer = nil
	return nil
}

func (cr *channelReader) Read(p []byte) (n int, err error) {
	if len(cr.buffer) > 0 {
		n = copy(p, cr.buffer)
		cr.buffer = cr.buffer[n:]
		return n, nil
	}

	for ev := range cr.channel {
		if ev.Error != nil {
			return 0, ev.Error
		}
		if len(ev.Data) == 0 {
			continue
		}
		n = copy(p, ev.Data)
		if n < len(ev.Data) {
			cr.buffer = append(cr.buffer[:0], ev.Data[n:]...)
		}
		return n, nil
	}
	return 0, io.EOF
}

// Drain discards events until the channel is closed. Cancel the context
// passed to Channel first, then Drain, before closing the session.
func Drain(events <-chan Event) {
	for range events {
	}
}
