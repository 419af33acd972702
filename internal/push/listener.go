// Package push listens on the backend's per-conversation WebSocket and
// feeds every delivered message into the same idempotent merge the poller
// uses. Polling keeps running; push only makes new messages show sooner.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
)

// DefaultPath is the backend's chat consumer route.
const DefaultPath = "ws/chat/{id}/"

// Sink receives pushed messages.
type Sink interface {
	MergeMessage(m model.Message)
	Selected() (int64, bool)
}

// Options configures a Listener.
type Options struct {
	BaseURL    *url.URL
	Path       string
	Jar        http.CookieJar
	Origin     string
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Listener keeps one connection open for the selected conversation.
type Listener struct {
	opts   Options
	sink   Sink
	bus    *bus.Bus
	logger *zap.Logger
	dialer *websocket.Dialer
}

type frame struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

var errSwitch = errors.New("selection changed")

// NewListener creates a listener.
func NewListener(opts Options, sink Sink, b *bus.Bus, logger *zap.Logger) *Listener {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		opts:   opts,
		sink:   sink,
		bus:    b,
		logger: logger,
		dialer: &websocket.Dialer{
			Jar:              opts.Jar,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// URL returns the socket address for a conversation.
func (l *Listener) URL(convID int64) (string, error) {
	if l.opts.BaseURL == nil {
		return "", errors.New("push: no base url")
	}
	rel := strings.ReplaceAll(l.opts.Path, "{id}", strconv.FormatInt(convID, 10))
	u := l.opts.BaseURL.ResolveReference(&url.URL{Path: rel})
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("push: unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// Run follows the selected conversation until ctx is done, reconnecting
// with exponential backoff after failures.
func (l *Listener) Run(ctx context.Context) error {
	events, unsubscribe := l.bus.Subscribe("conversation.", 32)
	defer unsubscribe()

	backoff := l.opts.MinBackoff
	for {
		convID, ok := l.sink.Selected()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-events:
				continue
			}
		}

		connected, err := l.session(ctx, convID, events)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = l.opts.MinBackoff
		}
		if errors.Is(err, errSwitch) {
			continue
		}
		l.logger.Warn("push connection lost", zap.Int64("conversation_id", convID),
			zap.Duration("retry_in", backoff), zap.Error(err))

		if !l.wait(ctx, backoff, convID, events) {
			return nil
		}
		backoff = min(backoff*2, l.opts.MaxBackoff)
	}
}

// wait sleeps for d, returning early when the selection moves away from
// convID. It returns false once ctx is done.
func (l *Listener) wait(ctx context.Context, d time.Duration, convID int64, events <-chan bus.Event) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case evt := <-events:
			if l.switched(evt, convID) {
				return true
			}
		}
	}
}

// session holds one connection until it fails, ctx ends or the selection
// moves away from convID.
func (l *Listener) session(ctx context.Context, convID int64, events <-chan bus.Event) (bool, error) {
	target, err := l.URL(convID)
	if err != nil {
		return false, err
	}
	header := http.Header{}
	if l.opts.Origin != "" {
		header.Set("Origin", l.opts.Origin)
	}
	conn, resp, err := l.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return false, fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	l.logger.Info("push connected", zap.Int64("conversation_id", convID))
	l.bus.Emit(bus.PushConnected, bus.ConversationRef{ConversationID: convID})
	defer l.bus.Emit(bus.PushDisconnected, bus.ConversationRef{ConversationID: convID})

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return true, ctx.Err()
		case evt := <-events:
			if l.switched(evt, convID) {
				return true, errSwitch
			}
		case data := <-frames:
			l.handle(convID, data)
		case err := <-readErr:
			return true, err
		}
	}
}

// switched reports whether evt moved the selection away from convID.
func (l *Listener) switched(evt bus.Event, convID int64) bool {
	if evt.Kind != bus.ConversationSelected && evt.Kind != bus.ConversationRemoved {
		return false
	}
	sel, ok := l.sink.Selected()
	return !ok || sel != convID
}

func (l *Listener) handle(convID int64, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		l.logger.Debug("ignoring malformed push frame", zap.Error(err))
		metrics.PushEventsTotal.WithLabelValues("malformed").Inc()
		return
	}
	metrics.PushEventsTotal.WithLabelValues(f.Type).Inc()
	if f.Type != "message" || len(f.Message) == 0 {
		return
	}
	var m model.Message
	if err := json.Unmarshal(f.Message, &m); err != nil {
		l.logger.Debug("ignoring malformed push message", zap.Error(err))
		return
	}
	if m.ConversationID == 0 {
		m.ConversationID = convID
	}
	l.sink.MergeMessage(m)
}
