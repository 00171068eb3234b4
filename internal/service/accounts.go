package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/chatwire/messenger-sync/internal/identity"
	"github.com/chatwire/messenger-sync/internal/model"
	"github.com/chatwire/messenger-sync/internal/store"
	"github.com/chatwire/messenger-sync/pkg/logger"
)

// ErrAccountIncomplete is returned on login when the identity exists but its
// profile was never written. The orphaned identity is deleted before this is
// returned, so the handle is free for a fresh registration.
var ErrAccountIncomplete = errors.New("registration incomplete, please register again")

// AccountService owns the registration and login lifecycle: identity creation
// with profile-write rollback, orphan cleanup, and session token issuance.
type AccountService struct {
	ids    identity.Provider
	store  store.Store
	logger *logger.Logger

	jwtSecret       string
	tokenTTL        time.Duration
	registerTimeout time.Duration
}

// NewAccountService creates a new account service.
func NewAccountService(ids identity.Provider, st store.Store, jwtSecret string, tokenTTL, registerTimeout time.Duration, log *logger.Logger) *AccountService {
	return &AccountService{
		ids:             ids,
		store:           st,
		logger:          log,
		jwtSecret:       jwtSecret,
		tokenTTL:        tokenTTL,
		registerTimeout: registerTimeout,
	}
}

// Register creates a principal and its profile. If the profile write or its
// readback verification fails or times out, the just-created identity is
// rolled back so the handle is not left orphaned. A duplicate handle fails
// with identity.ErrHandleTaken, unless the existing identity turns out to be
// an orphan of a previous failed registration, which is cleaned up first.
func (s *AccountService) Register(ctx context.Context, handle, secret, tagline string) (string, error) {
	if handle == "" || secret == "" {
		return "", errors.New("handle and secret are required")
	}

	principalID, err := s.ids.CreatePrincipal(ctx, handle, secret)
	if errors.Is(err, identity.ErrHandleTaken) {
		if s.cleanupOrphan(ctx, handle, secret) {
			principalID, err = s.ids.CreatePrincipal(ctx, handle, secret)
		}
	}
	if err != nil {
		return "", err
	}

	wctx, cancel := context.WithTimeout(ctx, s.registerTimeout)
	defer cancel()

	if err := s.writeProfile(wctx, principalID, handle, tagline); err != nil {
		s.rollback(principalID)
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("registration timed out, please check your connection: %w", err)
		}
		return "", fmt.Errorf("registration failed: %w", err)
	}

	s.logger.Info("principal registered",
		zap.String("principal_id", principalID),
		zap.String("handle", handle))
	return principalID, nil
}

// Login authenticates a principal and returns a session token. An identity
// whose profile is missing is an orphan from a failed registration: it is
// deleted here so the handle can be registered again.
func (s *AccountService) Login(ctx context.Context, handle, secret string) (string, string, error) {
	principalID, err := s.ids.Authenticate(ctx, handle, secret)
	if err != nil {
		return "", "", err
	}

	doc, err := s.store.ReadOnce(ctx, store.ProfilePath(principalID))
	if err != nil {
		return "", "", fmt.Errorf("login: %w", err)
	}
	if doc == nil {
		s.logger.Warn("cleaning up orphaned identity",
			zap.String("principal_id", principalID),
			zap.String("handle", handle))
		if derr := s.ids.DeletePrincipal(ctx, principalID); derr != nil {
			s.logger.Error("orphan cleanup failed", zap.Error(derr),
				zap.String("principal_id", principalID))
		}
		return "", "", ErrAccountIncomplete
	}

	token, err := s.IssueToken(principalID)
	if err != nil {
		return "", "", err
	}
	return principalID, token, nil
}

// IssueToken mints a signed session token for the principal.
func (s *AccountService) IssueToken(principalID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   principalID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

// SignOut clears the session principal.
func (s *AccountService) SignOut() {
	s.ids.SignOut()
}

func (s *AccountService) writeProfile(ctx context.Context, principalID, handle, tagline string) error {
	profile := model.Profile{
		ID:          principalID,
		DisplayName: handle,
		Tagline:     tagline,
	}
	if err := s.store.Write(ctx, store.ProfilePath(principalID), model.EncodeProfile(profile)); err != nil {
		return err
	}

	// Readback verification: the identity must not outlive a profile that
	// never landed.
	doc, err := s.store.ReadOnce(ctx, store.ProfilePath(principalID))
	if err != nil {
		return err
	}
	if doc == nil {
		return errors.New("profile readback failed")
	}
	return nil
}

// cleanupOrphan deletes an identity left behind by a failed registration,
// identified by authenticating with the same credentials and finding no
// profile. Reports whether an orphan was removed.
func (s *AccountService) cleanupOrphan(ctx context.Context, handle, secret string) bool {
	principalID, err := s.ids.Authenticate(ctx, handle, secret)
	if err != nil {
		return false
	}

	doc, err := s.store.ReadOnce(ctx, store.ProfilePath(principalID))
	if err != nil || doc != nil {
		return false
	}

	if err := s.ids.DeletePrincipal(ctx, principalID); err != nil {
		s.logger.Error("orphan cleanup failed", zap.Error(err),
			zap.String("principal_id", principalID))
		return false
	}
	s.logger.Info("orphaned identity removed before re-registration",
		zap.String("handle", handle))
	return true
}

// rollback deletes a principal after a failed registration; runs on its own
// deadline because the caller's context may already be expired.
func (s *AccountService) rollback(principalID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.ids.DeletePrincipal(ctx, principalID); err != nil {
		s.logger.Error("registration rollback failed", zap.Error(err),
			zap.String("principal_id", principalID))
		return
	}
	s.logger.Info("registration rolled back", zap.String("principal_id", principalID))
}
