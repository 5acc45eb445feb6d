// Package identity resolves the authenticated viewer the sync engine
// attributes mutations to. The engine consumes tokens minted elsewhere;
// it never creates or refreshes credentials itself.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/supabase-community/supabase-go"
)

// ErrNoToken is returned when no access token was configured.
var ErrNoToken = errors.New("identity: no access token")

// Supabase validates a bearer access token against Supabase Auth and
// exposes the user id it resolves to.
//
// Concurrency model:
// - Safe for concurrent use. The first successful resolution is cached;
//   the token is fixed for the provider's lifetime.
type Supabase struct {
	client *supabase.Client
	token  string

	mu     sync.Mutex
	viewer string
}

// NewSupabase constructs a provider for one access token.
func NewSupabase(projectURL, anonKey, accessToken string) (*Supabase, error) {
	projectURL = strings.TrimSpace(projectURL)
	if projectURL == "" {
		return nil, errors.New("identity: empty project URL")
	}
	client, err := supabase.NewClient(projectURL, anonKey, nil)
	if err != nil {
		return nil, fmt.Errorf("identity: supabase client: %w", err)
	}
	return &Supabase{client: client, token: strings.TrimSpace(accessToken)}, nil
}

// Token returns the raw bearer token, for transports that forward it.
func (p *Supabase) Token() string { return p.token }

// ViewerID resolves and caches the authenticated user id.
func (p *Supabase) ViewerID(ctx context.Context) (string, error) {
	if p.token == "" {
		return "", ErrNoToken
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.viewer != "" {
		return p.viewer, nil
	}

	// GetUser chained with WithToken takes no context; the client applies
	// its own HTTP timeout underneath.
	user, err := p.client.Auth.WithToken(p.token).GetUser()
	if err != nil {
		return "", fmt.Errorf("identity: token rejected: %w", err)
	}
	p.viewer = user.ID.String()
	return p.viewer, nil
}

// IsAuthenticated reports whether the provider can currently name a viewer.
func (p *Supabase) IsAuthenticated(ctx context.Context) bool {
	_, err := p.ViewerID(ctx)
	return err == nil
}
