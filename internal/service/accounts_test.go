package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwire/messenger-sync/internal/identity"
	"github.com/chatwire/messenger-sync/internal/store"
	"github.com/chatwire/messenger-sync/internal/store/memory"
	"github.com/chatwire/messenger-sync/pkg/logger"
)

const testSecret = "test-signing-secret"

func newAccountService(st *memory.Store) (*AccountService, *identity.MemoryProvider) {
	ids := identity.NewMemoryProvider()
	svc := NewAccountService(ids, st, testSecret, time.Hour, 5*time.Second, logger.NewNop())
	return svc, ids
}

func TestRegister_CreatesIdentityAndProfile(t *testing.T) {
	st := memory.New()
	svc, _ := newAccountService(st)
	ctx := context.Background()

	principalID, err := svc.Register(ctx, "ada", "hunter22", "hello")
	require.NoError(t, err)
	require.NotEmpty(t, principalID)

	doc, err := st.ReadOnce(ctx, store.ProfilePath(principalID))
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "ada", doc["display_name"])
	assert.Equal(t, "hello", doc["tagline"])
}

func TestRegister_EmptyCredentials(t *testing.T) {
	svc, _ := newAccountService(memory.New())

	_, err := svc.Register(context.Background(), "", "secret", "")
	require.Error(t, err)
	_, err = svc.Register(context.Background(), "ada", "", "")
	require.Error(t, err)
}

func TestRegister_HandleTaken(t *testing.T) {
	svc, _ := newAccountService(memory.New())
	ctx := context.Background()

	_, err := svc.Register(ctx, "ada", "hunter22", "")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "ada", "otherpass", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrHandleTaken)
}

func TestRegister_RollsBackOnProfileWriteFailure(t *testing.T) {
	st := memory.New()
	svc, ids := newAccountService(st)
	ctx := context.Background()

	st.SetWriteError("users", errors.New("store refused the write"))
	_, err := svc.Register(ctx, "ada", "hunter22", "")
	require.Error(t, err)

	// The failed registration must not leave the identity behind: the same
	// handle registers cleanly once the store recovers.
	st.SetWriteError("users", nil)
	principalID, err := svc.Register(ctx, "ada", "hunter22", "")
	require.NoError(t, err)
	require.NotEmpty(t, principalID)

	got, err := ids.Authenticate(ctx, "ada", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, principalID, got)
}

func TestRegister_ReclaimsOrphanedHandle(t *testing.T) {
	st := memory.New()
	svc, ids := newAccountService(st)
	ctx := context.Background()

	// Simulate a crashed registration: the identity exists, the profile
	// never landed and the rollback never ran.
	orphanID, err := ids.CreatePrincipal(ctx, "ada", "hunter22")
	require.NoError(t, err)

	principalID, err := svc.Register(ctx, "ada", "hunter22", "")
	require.NoError(t, err)
	assert.NotEqual(t, orphanID, principalID)

	doc, err := st.ReadOnce(ctx, store.ProfilePath(principalID))
	require.NoError(t, err)
	require.NotNil(t, doc)
}

func TestRegister_DoesNotReclaimCompleteAccount(t *testing.T) {
	svc, _ := newAccountService(memory.New())
	ctx := context.Background()

	_, err := svc.Register(ctx, "ada", "hunter22", "")
	require.NoError(t, err)

	// Same handle, same secret, but the account is complete: still taken.
	_, err = svc.Register(ctx, "ada", "hunter22", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrHandleTaken)
}

func TestLogin_Success(t *testing.T) {
	svc, _ := newAccountService(memory.New())
	ctx := context.Background()

	registeredID, err := svc.Register(ctx, "ada", "hunter22", "")
	require.NoError(t, err)

	principalID, token, err := svc.Login(ctx, "ada", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, registeredID, principalID)

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(tok *jwt.Token) (any, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	assert.Equal(t, principalID, claims.Subject)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc, _ := newAccountService(memory.New())
	ctx := context.Background()

	_, err := svc.Register(ctx, "ada", "hunter22", "")
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "ada", "wrong")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

	_, _, err = svc.Login(ctx, "nobody", "hunter22")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
}

func TestLogin_OrphanedIdentityIsCleanedUp(t *testing.T) {
	st := memory.New()
	svc, ids := newAccountService(st)
	ctx := context.Background()

	_, err := ids.CreatePrincipal(ctx, "ada", "hunter22")
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "ada", "hunter22")
	assert.ErrorIs(t, err, ErrAccountIncomplete)

	// The orphan is gone, so the handle is free again.
	principalID, err := svc.Register(ctx, "ada", "hunter22", "")
	require.NoError(t, err)
	require.NotEmpty(t, principalID)
}

func TestIssueToken_Expiry(t *testing.T) {
	ids := identity.NewMemoryProvider()
	svc := NewAccountService(ids, memory.New(), testSecret, time.Minute, 5*time.Second, logger.NewNop())

	token, err := svc.IssueToken("p1")
	require.NoError(t, err)

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(tok *jwt.Token) (any, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Minute), claims.ExpiresAt.Time, 10*time.Second)
}

func TestSignOut(t *testing.T) {
	svc, ids := newAccountService(memory.New())
	ctx := context.Background()

	_, err := svc.Register(ctx, "ada", "hunter22", "")
	require.NoError(t, err)

	_, ok := ids.CurrentPrincipalID()
	require.True(t, ok)

	svc.SignOut()
	_, ok = ids.CurrentPrincipalID()
	assert.False(t, ok)
}
