package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwire/messenger-sync/internal/identity"
	"github.com/chatwire/messenger-sync/internal/model"
	"github.com/chatwire/messenger-sync/internal/store"
	"github.com/chatwire/messenger-sync/internal/store/memory"
	"github.com/chatwire/messenger-sync/pkg/logger"
)

func writeMessage(t *testing.T, s *memory.Store, convID string, msg model.Message) {
	t.Helper()
	err := s.Write(context.Background(), store.MessagePath(convID, msg.ID), model.EncodeMessage(msg))
	if err != nil {
		t.Fatalf("write message: %v", err)
	}
}

func TestMessageSubscribe_GrowsWithEachMessage(t *testing.T) {
	st := memory.New()
	svc := NewMessageService(st, logger.NewNop())
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	feed, err := svc.Subscribe(context.Background(), "c1")
	require.NoError(t, err)
	defer feed.Close()

	msgs, ok := recv(t, feed)
	require.True(t, ok)
	require.Empty(t, msgs)

	writeMessage(t, st, "c1", model.Message{ID: "m1", SenderID: "u1", Body: "first", SentAt: base})
	msgs, ok = recv(t, feed)
	require.True(t, ok)
	require.Len(t, msgs, 1)

	writeMessage(t, st, "c1", model.Message{ID: "m2", SenderID: "u2", Body: "second", SentAt: base.Add(time.Minute)})
	msgs, ok = recv(t, feed)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Body)
	assert.Equal(t, "second", msgs[1].Body)
	assert.Equal(t, "c1", msgs[0].ConversationID)
}

func TestMessageSubscribe_ReordersLateArrivals(t *testing.T) {
	st := memory.New()
	svc := NewMessageService(st, logger.NewNop())
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	feed, err := svc.Subscribe(context.Background(), "c1")
	require.NoError(t, err)
	defer feed.Close()

	msgs, ok := recv(t, feed)
	require.True(t, ok)
	require.Empty(t, msgs)

	// The later message arrives first. The feed must re-sort on every
	// emission so the final list is in send-time order regardless.
	writeMessage(t, st, "c1", model.Message{ID: "m2", SenderID: "u1", Body: "later", SentAt: base.Add(time.Minute)})
	msgs, ok = recv(t, feed)
	require.True(t, ok)
	require.Len(t, msgs, 1)

	writeMessage(t, st, "c1", model.Message{ID: "m1", SenderID: "u1", Body: "earlier", SentAt: base})
	msgs, ok = recv(t, feed)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "earlier", msgs[0].Body)
	assert.Equal(t, "later", msgs[1].Body)
}

func TestMessageSubscribe_ReplaysHistoryOnAttach(t *testing.T) {
	st := memory.New()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	writeMessage(t, st, "c1", model.Message{ID: "m1", SenderID: "u1", Body: "a", SentAt: base})
	writeMessage(t, st, "c1", model.Message{ID: "m2", SenderID: "u1", Body: "b", SentAt: base.Add(time.Second)})

	svc := NewMessageService(st, logger.NewNop())
	feed, err := svc.Subscribe(context.Background(), "c1")
	require.NoError(t, err)
	defer feed.Close()

	// History is delivered as one emission once replay completes, never as
	// a partial list.
	msgs, ok := recv(t, feed)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Body)
	assert.Equal(t, "b", msgs[1].Body)
}

func TestMessageSubscribe_EmptyConversationEmitsImmediately(t *testing.T) {
	st := memory.New()
	svc := NewMessageService(st, logger.NewNop())

	feed, err := svc.Subscribe(context.Background(), "brand-new")
	require.NoError(t, err)
	defer feed.Close()

	// A conversation with no history must still tell the consumer so,
	// with an empty list rather than silence.
	msgs, ok := recv(t, feed)
	require.True(t, ok)
	require.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestMessageSubscribe_SkipsUndecodable(t *testing.T) {
	st := memory.New()
	require.NoError(t, st.Write(context.Background(), "messages/c1/bad", store.Document{"body": "no id"}))

	svc := NewMessageService(st, logger.NewNop())
	feed, err := svc.Subscribe(context.Background(), "c1")
	require.NoError(t, err)
	defer feed.Close()

	// The undecodable child is dropped from the replay, leaving an empty
	// first emission.
	msgs, ok := recv(t, feed)
	require.True(t, ok)
	require.Empty(t, msgs)

	writeMessage(t, st, "c1", model.Message{ID: "m1", SenderID: "u1", Body: "ok", SentAt: time.Now().UTC()})
	msgs, ok = recv(t, feed)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestSend_RequiresPrincipal(t *testing.T) {
	svc := NewMessageService(memory.New(), logger.NewNop())

	_, err := svc.Send(context.Background(), "", "c1", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrNoPrincipal)
}

func TestSend_WritesMessageAndBumpsConversation(t *testing.T) {
	st := memory.New()
	writeConversation(t, st, model.Conversation{
		ID: "c1", ParticipantIDs: []string{"me", "u2"},
		LastActivityAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	svc := NewMessageService(st, logger.NewNop())
	ctx := context.Background()

	msg, err := svc.Send(ctx, "me", "c1", "hello there")
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	assert.Equal(t, "me", msg.SenderID)

	doc, err := st.ReadOnce(ctx, store.MessagePath("c1", msg.ID))
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "hello there", doc["body"])

	convDoc, err := st.ReadOnce(ctx, store.ConversationPath("c1"))
	require.NoError(t, err)
	conv, err := model.DecodeConversation(convDoc)
	require.NoError(t, err)
	assert.Equal(t, "hello there", conv.LastMessagePreview)
	assert.True(t, conv.LastActivityAt.Equal(msg.SentAt))
}

func TestSend_MissingConversation(t *testing.T) {
	svc := NewMessageService(memory.New(), logger.NewNop())

	_, err := svc.Send(context.Background(), "me", "nope", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSend_IDsAreUnique(t *testing.T) {
	st := memory.New()
	writeConversation(t, st, model.Conversation{
		ID: "c1", ParticipantIDs: []string{"me"}, LastActivityAt: time.Now().UTC(),
	})

	svc := NewMessageService(st, logger.NewNop())
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		msg, err := svc.Send(ctx, "me", "c1", "x")
		require.NoError(t, err)
		require.False(t, seen[msg.ID], "duplicate message id %s", msg.ID)
		seen[msg.ID] = true
	}
}
