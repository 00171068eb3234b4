package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwire/messenger-sync/internal/model"
	"github.com/chatwire/messenger-sync/internal/store/memory"
	"github.com/chatwire/messenger-sync/pkg/logger"
)

func TestConversationSubscribe_UnauthenticatedGetsEmptyFeed(t *testing.T) {
	svc := NewConversationService(memory.New(), logger.NewNop())

	feed, err := svc.Subscribe(context.Background(), "")
	require.NoError(t, err)
	defer feed.Close()

	convs, ok := recv(t, feed)
	require.True(t, ok)
	assert.Empty(t, convs)

	_, ok = recv(t, feed)
	assert.False(t, ok, "feed should finish after the single empty emission")
	assert.NoError(t, feed.Err())
}

func TestConversationSubscribe_FiltersToParticipant(t *testing.T) {
	st := memory.New()
	now := time.Now().UTC()
	writeConversation(t, st, model.Conversation{
		ID: "mine", ParticipantIDs: []string{"me", "u2"}, LastActivityAt: now,
	})
	writeConversation(t, st, model.Conversation{
		ID: "theirs", ParticipantIDs: []string{"u2", "u3"}, LastActivityAt: now,
	})

	svc := NewConversationService(st, logger.NewNop())
	feed, err := svc.Subscribe(context.Background(), "me")
	require.NoError(t, err)
	defer feed.Close()

	convs, ok := recv(t, feed)
	require.True(t, ok)
	require.Len(t, convs, 1)
	assert.Equal(t, "mine", convs[0].ID)
}

func TestConversationSubscribe_OrdersByActivityDescending(t *testing.T) {
	st := memory.New()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	writeConversation(t, st, model.Conversation{
		ID: "old", ParticipantIDs: []string{"me"}, LastActivityAt: base,
	})
	writeConversation(t, st, model.Conversation{
		ID: "recent", ParticipantIDs: []string{"me"}, LastActivityAt: base.Add(time.Hour),
	})
	// Same timestamp as "old": ties keep wire order, which is child-key
	// order, so "old" sorts before "tied".
	writeConversation(t, st, model.Conversation{
		ID: "tied", ParticipantIDs: []string{"me"}, LastActivityAt: base,
	})

	svc := NewConversationService(st, logger.NewNop())
	feed, err := svc.Subscribe(context.Background(), "me")
	require.NoError(t, err)
	defer feed.Close()

	convs, ok := recv(t, feed)
	require.True(t, ok)
	require.Len(t, convs, 3)
	assert.Equal(t, "recent", convs[0].ID)
	assert.Equal(t, "old", convs[1].ID)
	assert.Equal(t, "tied", convs[2].ID)
}

func TestConversationSubscribe_EmitsOnChange(t *testing.T) {
	st := memory.New()
	svc := NewConversationService(st, logger.NewNop())

	feed, err := svc.Subscribe(context.Background(), "me")
	require.NoError(t, err)
	defer feed.Close()

	convs, ok := recv(t, feed)
	require.True(t, ok)
	assert.Empty(t, convs)

	writeConversation(t, st, model.Conversation{
		ID: "c1", ParticipantIDs: []string{"me", "u2"}, LastActivityAt: time.Now().UTC(),
	})

	convs, ok = recv(t, feed)
	require.True(t, ok)
	require.Len(t, convs, 1)
	assert.Equal(t, "c1", convs[0].ID)
}

func TestConversationSubscribe_PropagatesFailure(t *testing.T) {
	st := memory.New()
	svc := NewConversationService(st, logger.NewNop())

	feed, err := svc.Subscribe(context.Background(), "me")
	require.NoError(t, err)
	defer feed.Close()

	_, ok := recv(t, feed)
	require.True(t, ok)

	boom := errors.New("listener cancelled")
	st.FailPath("conversations", boom)

	for {
		_, ok := recv(t, feed)
		if !ok {
			break
		}
	}
	assert.ErrorIs(t, feed.Err(), boom)
}

func TestWatch_NilWhenAbsent(t *testing.T) {
	st := memory.New()
	svc := NewConversationService(st, logger.NewNop())

	watch, err := svc.Watch(context.Background(), "nope")
	require.NoError(t, err)
	defer watch.Close()

	conv, ok := recv(t, watch)
	require.True(t, ok)
	assert.Nil(t, conv)

	writeConversation(t, st, model.Conversation{
		ID: "nope", ParticipantIDs: []string{"me"}, LastActivityAt: time.Now().UTC(),
	})
	conv, ok = recv(t, watch)
	require.True(t, ok)
	require.NotNil(t, conv)
	assert.Equal(t, "nope", conv.ID)
}

func TestConversationGet(t *testing.T) {
	st := memory.New()
	svc := NewConversationService(st, logger.NewNop())
	ctx := context.Background()

	conv, err := svc.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, conv)

	writeConversation(t, st, model.Conversation{
		ID: "c1", ParticipantIDs: []string{"me", "u2"}, LastActivityAt: time.Now().UTC(),
	})
	conv, err = svc.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.True(t, conv.HasParticipant("me"))
	assert.False(t, conv.HasParticipant("stranger"))
}

func TestFindExisting(t *testing.T) {
	st := memory.New()
	now := time.Now().UTC()
	writeConversation(t, st, model.Conversation{
		ID: "pair", ParticipantIDs: []string{"me", "u2"}, LastActivityAt: now,
	})
	// A group containing the same pair must not count as the 1:1.
	writeConversation(t, st, model.Conversation{
		ID: "group", ParticipantIDs: []string{"me", "u2", "u3"}, LastActivityAt: now, IsGroup: true,
	})

	svc := NewConversationService(st, logger.NewNop())
	ctx := context.Background()

	conv, err := svc.FindExisting(ctx, "me", "u2")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "pair", conv.ID)

	// Order of the pair must not matter.
	conv, err = svc.FindExisting(ctx, "u2", "me")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "pair", conv.ID)

	conv, err = svc.FindExisting(ctx, "me", "u9")
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestCreateOrGet_ReturnsExisting(t *testing.T) {
	st := memory.New()
	svc := NewConversationService(st, logger.NewNop())
	ctx := context.Background()

	id1, err := svc.CreateOrGet(ctx, "me", "u2")
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	id2, err := svc.CreateOrGet(ctx, "u2", "me")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestCreateOrGet_CollapsesConcurrentCalls(t *testing.T) {
	st := memory.New()
	svc := NewConversationService(st, logger.NewNop())
	ctx := context.Background()

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := svc.CreateOrGet(ctx, "me", "u2")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
}

func TestAddParticipant(t *testing.T) {
	st := memory.New()
	writeConversation(t, st, model.Conversation{
		ID: "c1", ParticipantIDs: []string{"me", "u2"}, LastActivityAt: time.Now().UTC(),
	})

	svc := NewConversationService(st, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, svc.AddParticipant(ctx, "c1", "u3"))

	conv, err := svc.FindExisting(ctx, "me", "u2")
	require.NoError(t, err)
	assert.Nil(t, conv, "promoted conversation is no longer a 1:1")

	watch, err := svc.Watch(ctx, "c1")
	require.NoError(t, err)
	defer watch.Close()
	got, ok := recv(t, watch)
	require.True(t, ok)
	require.NotNil(t, got)
	assert.Equal(t, []string{"me", "u2", "u3"}, got.ParticipantIDs)
	assert.True(t, got.IsGroup)
}

func TestAddParticipant_PresentIsNoOp(t *testing.T) {
	st := memory.New()
	writeConversation(t, st, model.Conversation{
		ID: "c1", ParticipantIDs: []string{"me", "u2"}, LastActivityAt: time.Now().UTC(),
	})

	svc := NewConversationService(st, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, svc.AddParticipant(ctx, "c1", "u2"))

	watch, err := svc.Watch(ctx, "c1")
	require.NoError(t, err)
	defer watch.Close()
	got, ok := recv(t, watch)
	require.True(t, ok)
	require.NotNil(t, got)
	assert.Equal(t, []string{"me", "u2"}, got.ParticipantIDs)
	assert.False(t, got.IsGroup)
}

func TestAddParticipant_MissingConversation(t *testing.T) {
	svc := NewConversationService(memory.New(), logger.NewNop())
	err := svc.AddParticipant(context.Background(), "nope", "u2")
	require.Error(t, err)
}

func TestParticipantSet(t *testing.T) {
	convs := []model.Conversation{
		{ID: "a", ParticipantIDs: []string{"u1", "u2"}},
		{ID: "b", ParticipantIDs: []string{"u2", "u3"}},
	}
	assert.Equal(t, []string{"u1", "u2", "u3"}, ParticipantSet(convs))
}
