package push

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"studyflow/pkg/backoff"
)

// Transport opens subscriptions on a broker. Each Subscribe call owns
// its own connection; dropped is invoked at most once when the
// subscription dies for any reason other than closing the returned
// Closer.
type Transport interface {
	Subscribe(topic string, deliver func(Event), dropped func(error)) (io.Closer, error)
}

// Channel maintains a single live subscription to one topic and
// transparently re-subscribes after failures with exponential backoff.
// Events received while no subscription is live are lost; subscribers
// that need gap-free state must reconcile through polling as well.
type Channel struct {
	topic     string
	transport Transport
	log       *slog.Logger
	after     func(time.Duration) <-chan time.Time

	callbacks atomic.Pointer[Callbacks]

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// ChannelOption configures a channel before it starts.
type ChannelOption func(*Channel)

// WithChannelLogger sets the channel logger.
func WithChannelLogger(log *slog.Logger) ChannelOption {
	return func(c *Channel) {
		if log != nil {
			c.log = log
		}
	}
}

// WithChannelAfter replaces the reconnect timer source (tests).
func WithChannelAfter(after func(time.Duration) <-chan time.Time) ChannelOption {
	return func(c *Channel) {
		if after != nil {
			c.after = after
		}
	}
}

// Open starts a channel on the given topic. The returned channel is
// already connecting; callbacks set later still receive subsequent
// events and status changes.
func Open(topic string, transport Transport, cb Callbacks, opts ...ChannelOption) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		topic:     topic,
		transport: transport,
		log:       slog.Default(),
		after:     time.After,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.callbacks.Store(&cb)
	go c.run(ctx)
	return c
}

// Topic returns the topic this channel is subscribed to.
func (c *Channel) Topic() string { return c.topic }

// SetCallbacks replaces the callback set. Events already in flight may
// still reach the previous callbacks; everything after the swap goes to
// the new ones.
func (c *Channel) SetCallbacks(cb Callbacks) {
	c.callbacks.Store(&cb)
}

// Close tears the subscription down and stops reconnecting. Safe to
// call more than once; blocks until the channel goroutine has exited.
func (c *Channel) Close() error {
	c.closeOnce.Do(c.cancel)
	<-c.done
	return nil
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer c.notifyStatus(Status{State: StateClosed})

	attempt := 0
	for {
		if attempt > 0 {
			wait := backoff.Exponential(attempt)
			c.notifyStatus(Status{State: StateReconnecting, Attempt: attempt, Wait: wait})
			c.log.Info("push reconnect scheduled",
				slog.String("topic", c.topic), slog.Int("attempt", attempt), slog.Duration("wait", wait))
			select {
			case <-ctx.Done():
				return
			case <-c.after(wait):
			}
		} else {
			c.notifyStatus(Status{State: StateConnecting})
		}

		dropped := make(chan error, 1)
		conn, err := c.transport.Subscribe(c.topic, c.deliver, func(err error) {
			select {
			case dropped <- err:
			default:
			}
		})
		if err != nil {
			attempt++
			c.log.Warn("push subscribe failed",
				slog.String("topic", c.topic), slog.Int("attempt", attempt), slog.Any("error", err))
			continue
		}

		attempt = 0
		c.notifyStatus(Status{State: StateSubscribed})
		c.log.Info("push subscribed", slog.String("topic", c.topic))

		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case err := <-dropped:
			_ = conn.Close()
			attempt = 1
			c.log.Warn("push subscription dropped",
				slog.String("topic", c.topic), slog.Any("error", err))
		}
	}
}

func (c *Channel) deliver(ev Event) {
	cb := c.callbacks.Load()
	if cb != nil && cb.OnEvent != nil {
		cb.OnEvent(ev)
	}
}

func (c *Channel) notifyStatus(st Status) {
	cb := c.callbacks.Load()
	if cb != nil && cb.OnStatus != nil {
		cb.OnStatus(st)
	}
}
