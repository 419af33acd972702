package push

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	gosync "sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSink struct {
	mu       gosync.Mutex
	selected int64
	merged   []model.Message
}

func (s *fakeSink) MergeMessage(m model.Message) {
	s.mu.Lock()
	s.merged = append(s.merged, m)
	s.mu.Unlock()
}

func (s *fakeSink) Selected() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.selected != 0
}

func (s *fakeSink) selectConv(id int64) {
	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()
}

func (s *fakeSink) messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.merged...)
}

type wsServer struct {
	mu      gosync.Mutex
	paths   []string
	cookies []string
	origins []string
}

func (w *wsServer) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return func(rw http.ResponseWriter, r *http.Request) {
		w.mu.Lock()
		w.paths = append(w.paths, r.URL.Path)
		if c, err := r.Cookie("sessionid"); err == nil {
			w.cookies = append(w.cookies, c.Value)
		}
		w.origins = append(w.origins, r.Header.Get("Origin"))
		w.mu.Unlock()

		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteJSON(map[string]any{
			"type": "message",
			"message": map[string]any{
				"id":         len(w.snapshotPaths()),
				"content":    "hi",
				"created_at": "2024-01-01T11:00:00Z",
				"sender":     map[string]any{"id": 9, "username": "amy"},
			},
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

func (w *wsServer) snapshotPaths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.paths...)
}

func newListener(t *testing.T, srvURL string, sink Sink, b *bus.Bus) *Listener {
	t.Helper()
	base, err := url.Parse(srvURL + "/")
	require.NoError(t, err)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	jar.SetCookies(base, []*http.Cookie{{Name: "sessionid", Value: "s3cret", Path: "/"}})
	return NewListener(Options{
		BaseURL:    base,
		Jar:        jar,
		Origin:     "http://localhost:5173",
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
	}, sink, b, zap.NewNop())
}

func TestListenerMergesPushedMessages(t *testing.T) {
	srv := &wsServer{}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	b := bus.New()
	sink := &fakeSink{selected: 5}
	l := newListener(t, ts.URL, sink, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	m := sink.messages()[0]
	assert.Equal(t, int64(5), m.ConversationID)
	assert.Equal(t, "hi", m.Content)
	assert.Equal(t, int64(9), m.Sender.ID)

	sink.selectConv(6)
	b.Emit(bus.ConversationSelected, bus.ConversationRef{ConversationID: 6})
	require.Eventually(t, func() bool { return len(sink.messages()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(6), sink.messages()[1].ConversationID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, []string{"/ws/chat/5/", "/ws/chat/6/"}, srv.paths)
	assert.Equal(t, []string{"s3cret", "s3cret"}, srv.cookies)
	assert.Equal(t, "http://localhost:5173", srv.origins[0])
}

func TestListenerRetriesAfterRejectedHandshake(t *testing.T) {
	var mu gosync.Mutex
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		http.Error(rw, "forbidden", http.StatusForbidden)
	}))
	defer ts.Close()

	sink := &fakeSink{selected: 5}
	l := newListener(t, ts.URL, sink, bus.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, sink.messages())
}

func TestListenerURL(t *testing.T) {
	base, _ := url.Parse("https://api.example.com/")
	l := NewListener(Options{BaseURL: base}, &fakeSink{}, bus.New(), nil)
	got, err := l.URL(42)
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/ws/chat/42/", got)

	ftp, _ := url.Parse("ftp://example.com/")
	l = NewListener(Options{BaseURL: ftp}, &fakeSink{}, bus.New(), nil)
	_, err = l.URL(1)
	assert.Error(t, err)
}
