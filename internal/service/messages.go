package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatwire/messenger-sync/internal/identity"
	"github.com/chatwire/messenger-sync/internal/model"
	"github.com/chatwire/messenger-sync/internal/store"
	"github.com/chatwire/messenger-sync/pkg/logger"
	"github.com/chatwire/messenger-sync/pkg/metrics"
)

// MessageFeed streams the full message list of one conversation, ordered by
// send time ascending.
type MessageFeed = store.Subscription[[]model.Message]

// MessageService maintains live message feeds and the send path.
type MessageService struct {
	store  store.Store
	logger *logger.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(st store.Store, log *logger.Logger) *MessageService {
	return &MessageService{store: st, logger: log}
}

// Subscribe opens a live feed of the conversation's messages. The feed keeps
// an append-only accumulator seeded empty per subscription and re-sorts it by
// send time before every emission, so consumers always see a fully
// time-ordered list even when the remote store delivers additions out of
// chronological order. History is absorbed silently until the replay-done
// marker, then the whole accumulator goes out as one emission; a brand-new
// conversation still gets that first emission, an empty list, so consumers
// are never left waiting. Child-changed and child-removed events are
// ignored: messages are immutable and undeletable in this domain.
func (s *MessageService) Subscribe(ctx context.Context, conversationID string) (*MessageFeed, error) {
	sub, err := s.store.SubscribeChildren(ctx, store.MessagesPath(conversationID))
	if err != nil {
		return nil, fmt.Errorf("subscribe messages %s: %w", conversationID, err)
	}

	feed := store.NewSubscription[[]model.Message](sub.Close)
	metrics.SubscriptionsActive.WithLabelValues("messages").Inc()

	go func() {
		defer metrics.SubscriptionsActive.WithLabelValues("messages").Dec()

		var acc []model.Message
		replayDone := false

		emit := func() bool {
			out := make([]model.Message, len(acc))
			copy(out, acc)
			if !feed.Push(out) {
				return false
			}
			metrics.FeedEmissionsTotal.WithLabelValues("messages").Inc()
			return true
		}

		for ev := range sub.C {
			if ev.Kind == store.ChildReplayDone {
				replayDone = true
				if !emit() {
					return
				}
				continue
			}
			if ev.Kind != store.ChildAdded {
				continue
			}
			msg, err := model.DecodeMessage(ev.Doc)
			if err != nil {
				s.logger.Warn("skipping undecodable message",
					zap.String("conversation_id", conversationID),
					zap.String("key", ev.Key),
					zap.Error(err))
				continue
			}
			msg.ConversationID = conversationID

			acc = append(acc, msg)
			sort.SliceStable(acc, func(i, j int) bool {
				return acc[i].SentAt.Before(acc[j].SentAt)
			})

			if replayDone && !emit() {
				return
			}
		}
		if err := sub.Err(); err != nil {
			s.logger.Warn("message feed failed", zap.Error(err),
				zap.String("conversation_id", conversationID))
			feed.Fail(err)
		} else {
			feed.Finish()
		}
	}()
	return feed, nil
}

// Send writes a new message and bumps the conversation's preview and
// last-activity timestamp. The message id is generated client-side so
// concurrent senders cannot collide.
func (s *MessageService) Send(ctx context.Context, principalID, conversationID, body string) (*model.Message, error) {
	if principalID == "" {
		return nil, fmt.Errorf("send message: %w", identity.ErrNoPrincipal)
	}

	msg := model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		SenderID:       principalID,
		Body:           body,
		SentAt:         time.Now().UTC(),
	}

	if err := s.store.Write(ctx, store.MessagePath(conversationID, msg.ID), model.EncodeMessage(msg)); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	err := s.store.Update(ctx, store.ConversationPath(conversationID), store.Document{
		"last_message_preview": body,
		"last_activity_at":     msg.SentAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	metrics.MessagesSentTotal.Inc()
	return &msg, nil
}
