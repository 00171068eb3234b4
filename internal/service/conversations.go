// Package service implements the sync and aggregation core: conversation and
// message feeds, the profile join aggregator, the conversation directory, and
// search.
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/chatwire/messenger-sync/internal/model"
	"github.com/chatwire/messenger-sync/internal/store"
	"github.com/chatwire/messenger-sync/pkg/logger"
	"github.com/chatwire/messenger-sync/pkg/metrics"
)

// ConversationFeed streams the principal's conversation list, most recent
// activity first.
type ConversationFeed = store.Subscription[[]model.Conversation]

// ConversationWatch streams a single conversation document, nil when absent.
type ConversationWatch = store.Subscription[*model.Conversation]

// ConversationService maintains the live conversation list and the
// conversation directory (dedup, create, add participant).
type ConversationService struct {
	store  store.Store
	logger *logger.Logger

	// Collapses concurrent in-process CreateOrGet calls for the same pair.
	pairCalls singleflight.Group
}

// NewConversationService creates a new conversation service.
func NewConversationService(st store.Store, log *logger.Logger) *ConversationService {
	return &ConversationService{store: st, logger: log}
}

// Subscribe opens a live feed of the conversations the principal participates
// in, sorted by last activity descending. Each call opens a fresh remote
// subscription; closing the feed detaches it. An unauthenticated principal
// gets a single empty emission and a closed feed.
func (s *ConversationService) Subscribe(ctx context.Context, principalID string) (*ConversationFeed, error) {
	if principalID == "" {
		feed := store.NewSubscription[[]model.Conversation](nil)
		feed.Push([]model.Conversation{})
		feed.Finish()
		return feed, nil
	}

	sub, err := s.store.SubscribeValue(ctx, store.ConversationsPath())
	if err != nil {
		return nil, fmt.Errorf("subscribe conversations: %w", err)
	}

	feed := store.NewSubscription[[]model.Conversation](sub.Close)
	metrics.SubscriptionsActive.WithLabelValues("conversations").Inc()

	go func() {
		defer metrics.SubscriptionsActive.WithLabelValues("conversations").Dec()

		for doc := range sub.C {
			convs := participantView(model.DecodeConversationList(doc), principalID)
			if !feed.Push(convs) {
				return
			}
			metrics.FeedEmissionsTotal.WithLabelValues("conversations").Inc()
		}
		if err := sub.Err(); err != nil {
			s.logger.Warn("conversation feed failed", zap.Error(err),
				zap.String("principal_id", principalID))
			feed.Fail(err)
		} else {
			feed.Finish()
		}
	}()
	return feed, nil
}

// Watch opens a live feed of one conversation document.
func (s *ConversationService) Watch(ctx context.Context, conversationID string) (*ConversationWatch, error) {
	sub, err := s.store.SubscribeValue(ctx, store.ConversationPath(conversationID))
	if err != nil {
		return nil, fmt.Errorf("watch conversation %s: %w", conversationID, err)
	}

	watch := store.NewSubscription[*model.Conversation](sub.Close)
	metrics.SubscriptionsActive.WithLabelValues("conversation").Inc()

	go func() {
		defer metrics.SubscriptionsActive.WithLabelValues("conversation").Dec()

		for doc := range sub.C {
			var conv *model.Conversation
			if doc != nil {
				if c, err := model.DecodeConversation(doc); err == nil {
					conv = &c
				}
			}
			if !watch.Push(conv) {
				return
			}
		}
		if err := sub.Err(); err != nil {
			watch.Fail(err)
		} else {
			watch.Finish()
		}
	}()
	return watch, nil
}

// Get reads the conversation document once. A missing conversation is
// returned as nil, not an error.
func (s *ConversationService) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	doc, err := s.store.ReadOnce(ctx, store.ConversationPath(conversationID))
	if err != nil {
		return nil, fmt.Errorf("read conversation %s: %w", conversationID, err)
	}
	if doc == nil {
		return nil, nil
	}
	conv, err := model.DecodeConversation(doc)
	if err != nil {
		return nil, fmt.Errorf("read conversation %s: %w", conversationID, err)
	}
	return &conv, nil
}

// FindExisting returns the 1:1 conversation between the two principals, or
// nil if none exists. The remote store has no compound-key query across
// unordered pairs, so this is a linear scan: O(n) in total conversation count.
func (s *ConversationService) FindExisting(ctx context.Context, principalID, otherID string) (*model.Conversation, error) {
	doc, err := s.store.ReadOnce(ctx, store.ConversationsPath())
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}

	for _, conv := range model.DecodeConversationList(doc) {
		if len(conv.ParticipantIDs) == 2 &&
			conv.HasParticipant(principalID) &&
			conv.HasParticipant(otherID) &&
			!conv.IsGroup {
			c := conv
			return &c, nil
		}
	}
	return nil, nil
}

// Create writes a fresh two-participant, non-group conversation and returns
// its id. No uniqueness lock is taken; see CreateOrGet.
func (s *ConversationService) Create(ctx context.Context, principalID, otherID string) (string, error) {
	conv := model.Conversation{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ParticipantIDs: []string{principalID, otherID},
		LastActivityAt: time.Now().UTC(),
		IsGroup:        false,
	}

	if err := s.store.Write(ctx, store.ConversationPath(conv.ID), model.EncodeConversation(conv)); err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}

	metrics.ConversationsCreatedTotal.Inc()
	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("principal_id", principalID),
		zap.String("other_id", otherID))
	return conv.ID, nil
}

// CreateOrGet returns the existing 1:1 conversation for the pair or creates
// one. Concurrent in-process calls for the same pair are collapsed into one
// lookup. Two clients racing across processes can still create duplicates:
// the store offers no transactional check-and-set across the unordered pair.
func (s *ConversationService) CreateOrGet(ctx context.Context, principalID, otherID string) (string, error) {
	id, err, _ := s.pairCalls.Do(pairKey(principalID, otherID), func() (any, error) {
		existing, err := s.FindExisting(ctx, principalID, otherID)
		if err != nil {
			return "", err
		}
		if existing != nil {
			return existing.ID, nil
		}
		return s.Create(ctx, principalID, otherID)
	})
	if err != nil {
		return "", err
	}
	return id.(string), nil
}

// AddParticipant appends a user to a conversation and promotes it to a group.
// Adding a user already present is a successful no-op. The participant list
// is append-only; the group flag is never demoted.
func (s *ConversationService) AddParticipant(ctx context.Context, conversationID, userID string) error {
	doc, err := s.store.ReadOnce(ctx, store.ConversationPath(conversationID))
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("add participant: conversation %s: %w", conversationID, store.ErrNotFound)
	}

	conv, err := model.DecodeConversation(doc)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	if conv.HasParticipant(userID) {
		return nil
	}

	participants := append(append([]string(nil), conv.ParticipantIDs...), userID)
	err = s.store.Update(ctx, store.ConversationPath(conversationID), store.Document{
		"participant_ids": participants,
		"is_group":        true,
	})
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}

	s.logger.Info("participant added",
		zap.String("conversation_id", conversationID),
		zap.String("user_id", userID))
	return nil
}

// participantView filters to the principal's conversations and orders them by
// last activity descending. The stable sort keeps wire order for equal
// timestamps.
func participantView(all []model.Conversation, principalID string) []model.Conversation {
	out := make([]model.Conversation, 0, len(all))
	for _, conv := range all {
		if conv.HasParticipant(principalID) {
			out = append(out, conv)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}

// ParticipantSet collects the distinct participant ids across conversations,
// in first-seen order.
func ParticipantSet(convs []model.Conversation) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, conv := range convs {
		for _, id := range conv.ParticipantIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}
