package changefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/verdant/ordernotify/cfg"
)

const sourceNats = "nats"

func init() {
	RegisterListener(sourceNats, func(config cfg.ChangeFeedConfiguration, decoder Decoder) (Listener, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats change feed requires nats_url")
		}
		return NewNatsListener(config.NatsURL, config.TopicPrefix, decoder)
	})
}

// NatsListener receives change events published on <prefix>.<schema>.<table> subjects
type NatsListener struct {
	nc      *nats.Conn
	prefix  string
	decoder Decoder

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNatsListener connects to url. Connection failures are retried in the background.
func NewNatsListener(url, prefix string, decoder Decoder) (*NatsListener, error) {
	nc, err := nats.Connect(url,
		nats.Name("ordernotify"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("Disconnected from NATS change feed")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS change feed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return NewNatsListenerWithConn(nc, prefix, decoder), nil
}

// NewNatsListenerWithConn uses an existing connection; Close closes it
func NewNatsListenerWithConn(nc *nats.Conn, prefix string, decoder Decoder) *NatsListener {
	return &NatsListener{nc: nc, prefix: prefix, decoder: decoder}
}

// Subscribe implements Listener. NATS invokes the handler sequentially per subscription.
func (l *NatsListener) Subscribe(ctx context.Context, sub Subscription, cb Callback) error {
	m, err := newMatcher(sub)
	if err != nil {
		return err
	}

	subject := topicFor(l.prefix, sub)
	ns, err := l.nc.Subscribe(subject, func(msg *nats.Msg) {
		deliver(sourceNats, l.decoder, m, msg.Data, cb)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	l.mu.Lock()
	l.subs = append(l.subs, ns)
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		if ns.IsValid() {
			ns.Unsubscribe()
		}
	}()

	log.Info().Str("subject", subject).Msg("Subscribed to NATS change feed")
	return nil
}

// Close drains subscriptions and closes the connection
func (l *NatsListener) Close() error {
	l.mu.Lock()
	subs := l.subs
	l.subs = nil
	l.mu.Unlock()

	for _, s := range subs {
		if s.IsValid() {
			s.Unsubscribe()
		}
	}

	if l.nc != nil {
		l.nc.Close()
	}
	return nil
}
