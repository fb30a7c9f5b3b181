package replay

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sudocast/internal/sudolog"
	"sudocast/internal/testsession"
	"sudocast/pkg/bytesource"
)

func openSession(t *testing.T, s testsession.Session) *sudolog.Session {
	t.Helper()
	sess, err := sudolog.Open(testsession.Write(t, s), bytesource.Auto)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestReader_Channel(t *testing.T) {
	sess := openSession(t, testsession.Session{
		Timing: "0 0.1 2\n0 0.2 3\n0 0.3 0\n",
		TTYOut: []byte("ab\ncd"),
	})

	var events []Event
	for ev := range NewReader(sess).Channel(context.Background()) {
		require.NoError(t, ev.Error)
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	require.Equal(t, Event{Delay: 0.1, Data: []byte("ab")}, events[0])
	require.Equal(t, Event{Delay: 0.2, Data: []byte("\ncd")}, events[1])
	require.Equal(t, 0.3, events[2].Delay)
	require.Empty(t, events[2].Data)
}

func TestReader_ChannelReportsTruncation(t *testing.T) {
	sess := openSession(t, testsession.Session{Timing: "0 0.1 2\n0 0.2 9\n", TTYOut: []byte("abc")})

	var last Event
	count := 0
	for ev := range NewReader(sess).Channel(context.Background()) {
		last = ev
		count++
	}
	require.Equal(t, 2, count)
	require.ErrorIs(t, last.Error, bytesource.ErrTruncatedStream)
}

func TestReader_ChannelStopsOnCancel(t *testing.T) {
	sess := openSession(t, testsession.Session{Timing: "0 0.1 1\n0 0.1 1\n0 0.1 1\n", TTYOut: []byte("abc")})

	ctx, cancel := context.WithCancel(context.Background())
	channel := NewReader(sess).Channel(ctx)
	<-channel
	cancel()

	// The goroutine closes the channel instead of blocking forever.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-channel:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestReader_Output(t *testing.T) {
	sess := openSession(t, testsession.Session{
		Timing: "0 0.1 5\n0 0.2 6\n",
		TTYOut: []byte("hello world"),
		Gzip:   true,
	})

	r := NewReader(sess).Output(context.Background())
	defer r.Close()
	buf := make([]byte, 3)
	var out bytes.Buffer
	for {
		n, err := r.Read(buf)
		out.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	require.Equal(t, "hello world", out.String())
}

func TestReader_OutputClose(t *testing.T) {
	sess := openSession(t, testsession.Session{Timing: "0 0.1 1\n0 0.1 1\n0 0.1 1\n", TTYOut: []byte("abc")})

	r := NewReader(sess).Output(context.Background())
	buf := make([]byte, 1)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "a", string(buf[:n]))

	require.NoError(t, r.Close())
	require.NoError(t, sess.Close())
}

func TestPlayer_Wait(t *testing.T) {
	p := &Player{}
	require.Equal(t, 1500*time.Millisecond, p.Wait(1.5))
	require.Equal(t, time.Duration(0), p.Wait(-1))

	p = &Player{Speed: 2, IdleLimit: time.Second}
	require.Equal(t, 250*time.Millisecond, p.Wait(0.5))
	require.Equal(t, time.Second, p.Wait(10))
}

func TestPlayer_Play(t *testing.T) {
	var waits []time.Duration
	p := &Player{
		Speed: 2,
		sleep: func(ctx context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}
	events := make(chan Event, 3)
	events <- Event{Delay: 1, Data: []byte("a")}
	events <- Event{Delay: 0.5, Data: nil}
	events <- Event{Delay: 0.25, Data: []byte("b")}
	close(events)

	var out bytes.Buffer
	require.NoError(t, p.Play(context.Background(), events, &out))
	require.Equal(t, "ab", out.String())
	require.Equal(t, []time.Duration{500 * time.Millisecond, 250 * time.Millisecond, 125 * time.Millisecond}, waits)
}

func TestPlayer_PlayReturnsEventError(t *testing.T) {
	events := make(chan Event, 2)
	events <- Event{Data: []byte("a")}
	events <- Event{Error: bytesource.ErrTruncatedStream}
	close(events)

	var out bytes.Buffer
	err := (&Player{}).Play(context.Background(), events, &out)
	require.ErrorIs(t, err, bytesource.ErrTruncatedStream)
	require.Equal(t, "a", out.String())
}

func TestPlayer_PlayCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := make(chan Event, 1)
	events <- Event{Delay: 60, Data: []byte("late")}
	close(events)

	var out bytes.Buffer
	err := (&Player{}).Play(ctx, events, &out)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, out.Len())
}
