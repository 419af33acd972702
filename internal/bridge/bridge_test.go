package bridge

import (
	"context"
	"encoding/json"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   gosync.Mutex
	msgs []published
	fail bool
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("nats: connection closed")
	}
	p.msgs = append(p.msgs, published{subject, data})
	return nil
}

func (p *fakePublisher) snapshot() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func TestBridgeForwardsEvents(t *testing.T) {
	b := bus.New()
	pub := &fakePublisher{}
	br := New(pub, b, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = br.Run(ctx)
		close(done)
	}()

	// Run subscribes asynchronously; keep emitting until it is listening.
	require.Eventually(t, func() bool {
		b.Emit(bus.MessageSent, bus.MessagesPayload{ConversationID: 7, MessageIDs: []int64{101}, Added: 1})
		return len(pub.snapshot()) > 0
	}, time.Second, 10*time.Millisecond)

	msg := pub.snapshot()[0]
	assert.Equal(t, "chatsync.message.sent", msg.subject)

	var env struct {
		ID      string `json:"id"`
		Kind    string `json:"kind"`
		Payload struct {
			ConversationID int64 `json:"conversation_id"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg.data, &env))
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, bus.MessageSent, env.Kind)
	assert.Equal(t, int64(7), env.Payload.ConversationID)

	cancel()
	<-done
}

func TestBridgeSurvivesPublishErrors(t *testing.T) {
	pub := &fakePublisher{fail: true}
	br := New(pub, bus.New(), "dev", nil)
	br.forward(bus.Event{Kind: bus.ConversationRemoved})
	assert.Empty(t, pub.snapshot())
	assert.Equal(t, "dev.conversation.removed", br.Subject(bus.ConversationRemoved))
}
