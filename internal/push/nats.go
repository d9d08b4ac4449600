package push

import (
	"errors"
	"io"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSTransport subscribes over NATS. Topic names map to subjects with
// colons replaced by dots, and the subscription covers the whole
// subtree so the event type rides in the subject suffix:
// topic "user:u1:jobs" subscribes "user.u1.jobs.>" and a message on
// "user.u1.jobs.job.updated" arrives typed job.updated.
type NATSTransport struct {
	url  string
	opts []nats.Option
}

// NewNATS creates a transport connecting to the given NATS URL. Extra
// options are passed through to nats.Connect on every Subscribe.
func NewNATS(url string, opts ...nats.Option) *NATSTransport {
	return &NATSTransport{url: url, opts: opts}
}

// Subscribe opens a dedicated connection per subscription. Built-in
// client reconnection is disabled; the owning channel drives recovery
// so backoff behaves the same across transports.
func (t *NATSTransport) Subscribe(topic string, deliver func(Event), dropped func(error)) (io.Closer, error) {
	prefix := strings.ReplaceAll(topic, ":", ".")
	closing := &atomic.Bool{}

	opts := append([]nats.Option{
		// Unique connection names keep concurrent subscriptions apart
		// in server-side monitoring.
		nats.Name("studyflow-" + uuid.NewString()),
		nats.NoReconnect(),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if closing.Load() {
				return
			}
			err := nc.LastError()
			if err == nil {
				err = errors.New("nats connection closed")
			}
			dropped(err)
		}),
	}, t.opts...)

	nc, err := nats.Connect(t.url, opts...)
	if err != nil {
		return nil, err
	}

	sub, err := nc.Subscribe(prefix+".>", func(m *nats.Msg) {
		kind := strings.TrimPrefix(m.Subject, prefix+".")
		deliver(Event{Type: EventType(kind), Topic: topic, Data: m.Data})
	})
	if err != nil {
		closing.Store(true)
		nc.Close()
		return nil, err
	}
	return &natsConn{nc: nc, sub: sub, closing: closing}, nil
}

type natsConn struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	closing *atomic.Bool
}

func (c *natsConn) Close() error {
	c.closing.Store(true)
	err := c.sub.Unsubscribe()
	c.nc.Close()
	return err
}
