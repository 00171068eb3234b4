package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MemoryProvider is an in-process Provider keeping bcrypt-hashed secrets.
// Suitable for tests and single-node deployments.
type MemoryProvider struct {
	mu       sync.Mutex
	byHandle map[string]*account
	byID     map[string]*account
	current  string
}

type account struct {
	id     string
	handle string
	hash   []byte
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		byHandle: make(map[string]*account),
		byID:     make(map[string]*account),
	}
}

// CurrentPrincipalID implements Provider.
func (p *MemoryProvider) CurrentPrincipalID() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.current != ""
}

// CreatePrincipal implements Provider. The new principal becomes the session
// principal.
func (p *MemoryProvider) CreatePrincipal(ctx context.Context, handle, secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byHandle[handle]; exists {
		return "", ErrHandleTaken
	}

	acct := &account{
		id:     uuid.Must(uuid.NewV7()).String(),
		handle: handle,
		hash:   hash,
	}
	p.byHandle[handle] = acct
	p.byID[acct.id] = acct
	p.current = acct.id
	return acct.id, nil
}

// Authenticate implements Provider.
func (p *MemoryProvider) Authenticate(ctx context.Context, handle, secret string) (string, error) {
	p.mu.Lock()
	acct, ok := p.byHandle[handle]
	p.mu.Unlock()
	if !ok {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(secret)); err != nil {
		return "", ErrInvalidCredentials
	}

	p.mu.Lock()
	p.current = acct.id
	p.mu.Unlock()
	return acct.id, nil
}

// DeletePrincipal implements Provider.
func (p *MemoryProvider) DeletePrincipal(ctx context.Context, principalID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.byID[principalID]
	if !ok {
		return ErrNoPrincipal
	}
	delete(p.byID, acct.id)
	delete(p.byHandle, acct.handle)
	if p.current == acct.id {
		p.current = ""
	}
	return nil
}

// SignOut implements Provider.
func (p *MemoryProvider) SignOut() {
	p.mu.Lock()
	p.current = ""
	p.mu.Unlock()
}
