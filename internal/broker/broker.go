package broker

import (
	"errors"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hlindberg/vigilancia/internal/mqtt"
)

// Options configures a Broker.
type Options struct {
	SigningKey    []byte
	MailboxSize   int
	RetryInterval time.Duration
	MaxRetries    int
}

// Option is an Options-modifying function.
type Option func(*Options) error

// DefaultOptions returns the broker defaults: no authentication, a 100-message mailbox per
// client, and the recommended 5s/5-retry retransmission budget.
func DefaultOptions() Options {
	return Options{
		MailboxSize:   100,
		RetryInterval: mqtt.DefaultRetryInterval,
		MaxRetries:    mqtt.DefaultMaxRetries,
	}
}

// SigningKey sets the HMAC key CONNECT credentials are verified against. An empty key (the
// default) disables authentication - any CONNECT is accepted regardless of username/password.
func SigningKey(key []byte) Option {
	return func(o *Options) error {
		o.SigningKey = key
		return nil
	}
}

// MailboxSize sets the per-client outgoing mailbox capacity.
func MailboxSize(n int) Option {
	return func(o *Options) error {
		o.MailboxSize = n
		return nil
	}
}

// RetryInterval overrides the QoS 1 retransmission interval.
func RetryInterval(d time.Duration) Option {
	return func(o *Options) error {
		o.RetryInterval = d
		return nil
	}
}

// MaxRetries overrides the QoS 1 retransmission budget.
func MaxRetries(n int) Option {
	return func(o *Options) error {
		o.MaxRetries = n
		return nil
	}
}

// Broker is an MQTT 3.1.1 broker supporting QoS 0 and 1, session reattachment and will messages.
// A Broker has no state of its own beyond the session registry and subscription index; all of its
// methods are safe to call concurrently.
type Broker struct {
	options       Options
	registry      *registry
	subscriptions *subscriptionIndex
}

// New creates a Broker from the given options.
func New(options ...Option) *Broker {
	opts := DefaultOptions()
	for _, fOpt := range options {
		if err := fOpt(&opts); err != nil {
			log.Fatalf("broker option apply failure: %s", err)
		}
	}
	return &Broker{
		options:       opts,
		registry:      newRegistry(),
		subscriptions: newSubscriptionIndex(),
	}
}

// Serve accepts connections on listener until it is closed, spawning one goroutine per
// connection. Any other Accept error is logged and the loop goes on accepting. A failure on a single accepted connection is contained
// to that connection's goroutine; it never stops the accept loop or touches another client.
func (b *Broker) Serve(listener net.Listener) error {
	log.Infof("broker listening on %s", listener.Addr())
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Errorf("accept failed: %s", err)
			continue
		}
		go b.handleConnection(conn)
	}
}
