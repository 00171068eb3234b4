package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatwire/messenger-sync/internal/model"
	"github.com/chatwire/messenger-sync/internal/store"
	"github.com/chatwire/messenger-sync/pkg/logger"
)

// upperBoundSentinel is the highest character appended to a prefix to form an
// inclusive upper bound for the nickname range query.
const upperBoundSentinel = ""

// SearchService filters the cached conversation list and queries the remote
// profile directory by display-name prefix.
type SearchService struct {
	store  store.Store
	logger *logger.Logger
}

// NewSearchService creates a new search service.
func NewSearchService(st store.Store, log *logger.Logger) *SearchService {
	return &SearchService{store: st, logger: log}
}

// FilterLocal returns the conversations whose other participants' display
// names contain query, case-insensitively. Conversations whose other
// participants have no resolved profile yet simply don't match; they surface
// once the profile resolves and filtering is re-run. An empty query is the
// identity.
func (s *SearchService) FilterLocal(all []model.Conversation, profiles map[string]model.Profile, principalID, query string) []model.Conversation {
	if query == "" {
		return all
	}
	needle := strings.ToLower(query)

	out := make([]model.Conversation, 0, len(all))
	for _, conv := range all {
		for _, id := range conv.ParticipantIDs {
			if id == principalID {
				continue
			}
			profile, ok := profiles[id]
			if !ok {
				continue
			}
			if strings.Contains(strings.ToLower(profile.DisplayName), needle) {
				out = append(out, conv)
				break
			}
		}
	}
	return out
}

// SearchRemote queries the profile directory for display names starting with
// prefix. The caller excludes the principal's own profile from the results.
func (s *SearchService) SearchRemote(ctx context.Context, prefix string) ([]model.Profile, error) {
	docs, err := s.store.RangeQuery(ctx, store.ProfilesPath(), "display_name", prefix, prefix+upperBoundSentinel)
	if err != nil {
		return nil, fmt.Errorf("search profiles: %w", err)
	}

	out := make([]model.Profile, 0, len(docs))
	for _, doc := range docs {
		profile, err := model.DecodeProfile(doc)
		if err != nil {
			continue
		}
		out = append(out, profile)
	}
	return out, nil
}
