// Package bridge republishes bus events on NATS so other local tools can
// follow the daemon without holding a gRPC stream.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultPrefix is the subject prefix when none is configured.
const DefaultPrefix = "chatsync"

// Publisher sends a payload on a subject. *nats.Conn implements it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Connect dials a NATS server and keeps reconnecting forever.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("chatsyncd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("nats error", zap.Error(err))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

type envelope struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Bridge forwards bus events to NATS.
type Bridge struct {
	pub    Publisher
	bus    *bus.Bus
	prefix string
	logger *zap.Logger
}

// New creates a bridge publishing under prefix.
func New(pub Publisher, b *bus.Bus, prefix string, logger *zap.Logger) *Bridge {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{pub: pub, bus: b, prefix: prefix, logger: logger}
}

// Subject is the NATS subject an event kind is published on.
func (br *Bridge) Subject(kind string) string {
	return br.prefix + "." + kind
}

// Run forwards events until ctx is done. Publish failures are logged and
// the event is dropped.
func (br *Bridge) Run(ctx context.Context) error {
	events, unsubscribe := br.bus.Subscribe("", 256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-events:
			br.forward(evt)
		}
	}
}

func (br *Bridge) forward(evt bus.Event) {
	data, err := json.Marshal(envelope{ID: evt.ID, Kind: evt.Kind, Timestamp: evt.Timestamp, Payload: evt.Payload})
	if err != nil {
		br.logger.Warn("encode event failed", zap.String("kind", evt.Kind), zap.Error(err))
		return
	}
	if err := br.pub.Publish(br.Subject(evt.Kind), data); err != nil {
		br.logger.Warn("publish event failed", zap.String("kind", evt.Kind), zap.Error(err))
	}
}
