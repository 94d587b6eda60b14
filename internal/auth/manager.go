package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/beekhof/mailclash/internal/model"
)

// Provider is the OAuth collaborator: code exchange, refresh and identity lookup.
type Provider interface {
	Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	Profile(ctx context.Context, accessToken string) (string, error)
}

// AuthorizationResult is what the consent flow hands back to the engine.
type AuthorizationResult struct {
	Code        string
	RedirectURI string
	Err         error
}

// Succeeded reports whether the consent flow produced an authorization code.
func (r AuthorizationResult) Succeeded() bool {
	return r.Err == nil && r.Code != ""
}

// Manager owns credential acquisition and refresh for all linked accounts.
type Manager struct {
	provider    Provider
	store       TokenStore
	maxAccounts int
	logger      zerolog.Logger
	now         func() time.Time

	refreshes singleflight.Group
}

// NewManager creates a Manager capped at maxAccounts linked accounts.
func NewManager(provider Provider, store TokenStore, maxAccounts int, logger zerolog.Logger) *Manager {
	return &Manager{
		provider:    provider,
		store:       store,
		maxAccounts: maxAccounts,
		logger:      logger.With().Str("component", "auth").Logger(),
		now:         time.Now,
	}
}

// Acquire turns a completed authorization into a stored credential for a new account.
// Nothing is persisted unless every check passes.
func (m *Manager) Acquire(ctx context.Context, existing []string, result AuthorizationResult) (*model.Account, error) {
	if len(existing) >= m.maxAccounts {
		return nil, fmt.Errorf("%w: maximum of %d email accounts reached", model.ErrAccountLimitExceeded, m.maxAccounts)
	}
	if !result.Succeeded() {
		if result.Err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrAuthenticationFailed, result.Err)
		}
		return nil, fmt.Errorf("%w: no authorization code received", model.ErrAuthenticationFailed)
	}

	// Exchange the authorization code for tokens
	token, err := m.provider.Exchange(ctx, result.Code, result.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange authorization code: %w", model.ErrAuthenticationFailed, err)
	}
	if token == nil || token.AccessToken == "" {
		return nil, fmt.Errorf("%w: token exchange returned no access token", model.ErrAuthenticationFailed)
	}

	// The account is identified by the email address the token belongs to
	email, err := m.provider.Profile(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrProfileResolutionFailed, err)
	}
	if email == "" {
		return nil, fmt.Errorf("%w: profile returned no email", model.ErrProfileResolutionFailed)
	}
	if slices.Contains(existing, email) {
		return nil, fmt.Errorf("%w: %s", model.ErrDuplicateAccount, email)
	}

	// Persist only once every check has passed
	cred := model.CredentialFromToken(token)
	if err := m.store.Put(StorageKey(email), cred); err != nil {
		return nil, fmt.Errorf("failed to save credential for %s: %w", email, err)
	}

	m.logger.Info().Str("account", email).Bool("refresh_token", cred.HasRefreshToken()).Msg("account linked")
	return &model.Account{ID: email, Credential: *cred}, nil
}

// Credential loads the stored credential for accountID.
func (m *Manager) Credential(accountID string) (*model.Credential, error) {
	cred, err := m.store.Get(StorageKey(accountID))
	if err != nil {
		return nil, fmt.Errorf("failed to load credential for %s: %w", accountID, err)
	}
	if cred == nil {
		return nil, fmt.Errorf("%w: no credential stored for %s", model.ErrNotFound, accountID)
	}
	return cred, nil
}

// Refresh exchanges the stored refresh token for a new access token and persists
// the merged credential. Concurrent calls for the same account share one exchange.
func (m *Manager) Refresh(ctx context.Context, accountID string) (string, error) {
	v, err, shared := m.refreshes.Do(accountID, func() (any, error) {
		return m.refresh(ctx, accountID)
	})
	if err != nil {
		return "", err
	}
	if shared {
		m.logger.Debug().Str("account", accountID).Msg("joined in-flight refresh")
	}
	return v.(string), nil
}

func (m *Manager) refresh(ctx context.Context, accountID string) (string, error) {
	key := StorageKey(accountID)
	cred, err := m.store.Get(key)
	if err != nil {
		return "", fmt.Errorf("failed to load credential for %s: %w", accountID, err)
	}
	if !cred.HasRefreshToken() {
		return "", fmt.Errorf("%w: %s", model.ErrNoRefreshToken, accountID)
	}

	token, err := m.provider.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		if errors.Is(err, model.ErrRefreshRejected) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", model.ErrRefreshRejected, err)
	}
	if token == nil || token.AccessToken == "" {
		return "", fmt.Errorf("%w: provider returned no access token", model.ErrRefreshRejected)
	}

	// Google only returns a refresh token when it rotates one; otherwise keep ours
	merged := &model.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       token.Expiry,
	}
	if token.RefreshToken != "" {
		merged.RefreshToken = token.RefreshToken
	}
	if err := m.store.Put(key, merged); err != nil {
		return "", fmt.Errorf("failed to save refreshed credential for %s: %w", accountID, err)
	}

	m.logger.Info().
		Str("account", accountID).
		Bool("rotated", merged.RefreshToken != cred.RefreshToken).
		Time("expiry", merged.Expiry).
		Msg("access token refreshed")
	return merged.AccessToken, nil
}

// AccessToken returns a usable access token, refreshing first when the stored
// one is absent or known to be expired.
func (m *Manager) AccessToken(ctx context.Context, accountID string) (string, error) {
	cred, err := m.Credential(accountID)
	if err != nil {
		return "", err
	}
	if cred.AccessToken != "" && !cred.Expired(m.now()) {
		return cred.AccessToken, nil
	}
	return m.Refresh(ctx, accountID)
}

// Forget deletes the stored credential for accountID.
func (m *Manager) Forget(accountID string) error {
	if err := m.store.Delete(StorageKey(accountID)); err != nil {
		return fmt.Errorf("failed to delete credential for %s: %w", accountID, err)
	}
	return nil
}
