package replay

import (
	"context"
	"io"
	"time"
)

// Player writes events to an io.Writer, waiting the recorded delay before
// each one.
type Player struct {
	// Speed divides every delay. Values <= 0 mean 1.
	Speed float64
	// IdleLimit caps a single delay (after Speed). Zero disables the cap.
	IdleLimit time.Duration

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Wait returns how long the player pauses before an event with the given
// delay.
func (p *Player) Wait(delay float64) time.Duration {
	speed := p.Speed
	if speed <= 0 {
		speed = 1
	}
	if delay <= 0 {
		return 0
	}
	d := time.Duration(delay / speed * float64(time.Second))
	if p.IdleLimit > 0 && d > p.IdleLimit {
		d = p.IdleLimit
	}
	return d
}

// Play writes every event from events to w and returns the first read or
// write error. It returns ctx.Err() when ctx is cancelled.
func (p *Player) Play(ctx context.Context, events <-chan Event, w io.Writer) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	for ev := range events {
		if ev.Error != nil {
			return ev.Error
		}
		if err := sleep(ctx, p.Wait(ev.Delay)); err != nil {
			return err
		}
		if len(ev.Data) == 0 {
			continue
		}
		if _, err := w.Write(ev.Data); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
