package service

import (
	"context"
	"fmt"

	"github.com/chatwire/messenger-sync/internal/identity"
	"github.com/chatwire/messenger-sync/internal/model"
	"github.com/chatwire/messenger-sync/internal/store"
	"github.com/chatwire/messenger-sync/pkg/logger"
)

// ProfileWatch streams a single profile document, nil when absent.
type ProfileWatch = store.Subscription[*model.Profile]

// ProfileService reads and updates individual profiles.
type ProfileService struct {
	store  store.Store
	logger *logger.Logger
}

// NewProfileService creates a new profile service.
func NewProfileService(st store.Store, log *logger.Logger) *ProfileService {
	return &ProfileService{store: st, logger: log}
}

// Watch opens a live feed of one profile document.
func (s *ProfileService) Watch(ctx context.Context, userID string) (*ProfileWatch, error) {
	sub, err := s.store.SubscribeValue(ctx, store.ProfilePath(userID))
	if err != nil {
		return nil, fmt.Errorf("watch profile %s: %w", userID, err)
	}

	watch := store.NewSubscription[*model.Profile](sub.Close)
	go func() {
		for doc := range sub.C {
			var profile *model.Profile
			if doc != nil {
				if p, err := model.DecodeProfile(doc); err == nil {
					profile = &p
				}
			}
			if !watch.Push(profile) {
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

// Get reads a profile once. Returns nil without error when absent.
func (s *ProfileService) Get(ctx context.Context, userID string) (*model.Profile, error) {
	doc, err := s.store.ReadOnce(ctx, store.ProfilePath(userID))
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	if doc == nil {
		return nil, nil
	}
	profile, err := model.DecodeProfile(doc)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// Update partially updates the principal's own profile. The avatar reference
// is only written when provided.
func (s *ProfileService) Update(ctx context.Context, principalID, displayName, tagline string, avatarRef *string) error {
	if principalID == "" {
		return fmt.Errorf("update profile: %w", identity.ErrNoPrincipal)
	}

	fields := store.Document{
		"display_name": displayName,
		"tagline":      tagline,
	}
	if avatarRef != nil {
		fields["avatar_ref"] = *avatarRef
	}

	if err := s.store.Update(ctx, store.ProfilePath(principalID), fields); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}
