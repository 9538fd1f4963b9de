package sensor

import (
	"context"
	"sync"

	"github.com/srg/hrmon/internal/groutine"
	"github.com/srg/hrmon/internal/ringchan"
)

// DefaultReadingBuffer is how many undelivered readings a link keeps before dropping the oldest.
const DefaultReadingBuffer = 16

// link is the Link shared by every source. The first shutdown wins and records the cause.
type link struct {
	readings *ringchan.RingChannel[Reading]
	ctx      context.Context
	cancel   context.CancelCauseFunc
	done     chan struct{}
	once     sync.Once

	mu  sync.Mutex
	err error

	// teardown releases source-specific resources; it runs once, before Done closes.
	teardown func() error
}

func newLink(parent context.Context, buffer int) *link {
	if buffer <= 0 {
		buffer = DefaultReadingBuffer
	}
	ctx, cancel := context.WithCancelCause(parent)
	l := &link{
		readings: ringchan.New[Reading](buffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	groutine.Go(ctx, "sensor-link-watch", func(ctx context.Context) {
		<-ctx.Done()
		cause := context.Cause(ctx)
		if cause == context.Canceled {
			cause = nil
		}
		l.shutdown(cause)
	})

	return l
}

func (l *link) push(r Reading) {
	l.readings.Send(r)
}

func (l *link) Readings() <-chan Reading { return l.readings.C() }

func (l *link) Done() <-chan struct{} { return l.done }

func (l *link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close ends the link on request; Err stays nil.
func (l *link) Close() error {
	return l.shutdown(nil)
}

func (l *link) shutdown(cause error) error {
	var teardownErr error
	l.once.Do(func() {
		l.mu.Lock()
		l.err = cause
		l.mu.Unlock()

		l.cancel(cause)
		if l.teardown != nil {
			teardownErr = l.teardown()
		}
		l.readings.Close()
		close(l.done)
	})
	return teardownErr
}
