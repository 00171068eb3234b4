package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePrincipal(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	id, err := p.CreatePrincipal(ctx, "ada", "hunter22")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	current, ok := p.CurrentPrincipalID()
	require.True(t, ok)
	assert.Equal(t, id, current)

	_, err = p.CreatePrincipal(ctx, "ada", "other")
	assert.ErrorIs(t, err, ErrHandleTaken)
}

func TestAuthenticate(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	id, err := p.CreatePrincipal(ctx, "ada", "hunter22")
	require.NoError(t, err)
	p.SignOut()

	got, err := p.Authenticate(ctx, "ada", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = p.Authenticate(ctx, "ada", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = p.Authenticate(ctx, "ghost", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestDeletePrincipal(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	id, err := p.CreatePrincipal(ctx, "ada", "hunter22")
	require.NoError(t, err)

	require.NoError(t, p.DeletePrincipal(ctx, id))

	// Deleting the session principal clears the session.
	_, ok := p.CurrentPrincipalID()
	assert.False(t, ok)

	// The handle is free again.
	_, err = p.CreatePrincipal(ctx, "ada", "hunter22")
	require.NoError(t, err)

	assert.ErrorIs(t, p.DeletePrincipal(ctx, "missing"), ErrNoPrincipal)
}

func TestSignOut(t *testing.T) {
	p := NewMemoryProvider()

	_, err := p.CreatePrincipal(context.Background(), "ada", "hunter22")
	require.NoError(t, err)

	p.SignOut()
	_, ok := p.CurrentPrincipalID()
	assert.False(t, ok)
}
