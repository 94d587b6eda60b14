package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	googleoauth "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/beekhof/mailclash/internal/model"
)

// Scopes requested for every linked account: read mail, write calendar
// events, read the account's email identity.
var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/calendar.events",
	"https://www.googleapis.com/auth/userinfo.email",
}

// DefaultTimeout bounds each token endpoint and userinfo request.
const DefaultTimeout = 10 * time.Second

// GoogleEndpoint is the Google OAuth 2.0 endpoint pair.
var GoogleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// NewOAuthConfig builds the oauth2 config used for all accounts.
func NewOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       Scopes,
		Endpoint:     GoogleEndpoint,
	}
}

// GoogleProvider implements Provider against Google's OAuth and userinfo APIs.
type GoogleProvider struct {
	config         *oauth2.Config
	timeout        time.Duration
	httpClient     *http.Client
	profileOptions []option.ClientOption
}

// NewGoogleProvider wraps an oauth2 config. Every provider request is bounded
// by timeout (DefaultTimeout when zero). Extra client options are passed to
// the userinfo service (e.g. option.WithEndpoint in tests).
func NewGoogleProvider(config *oauth2.Config, timeout time.Duration, profileOptions ...option.ClientOption) *GoogleProvider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GoogleProvider{
		config:         config,
		timeout:        timeout,
		httpClient:     &http.Client{Timeout: timeout},
		profileOptions: profileOptions,
	}
}

// requestContext bounds one provider call and routes oauth2's token requests
// through the provider's HTTP client.
func (p *GoogleProvider) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient), cancel
}

func (p *GoogleProvider) withRedirect(redirectURI string) *oauth2.Config {
	cfg := *p.config
	cfg.RedirectURL = redirectURI
	return &cfg
}

// AuthCodeURL returns the consent URL for the given state and redirect URI.
func (p *GoogleProvider) AuthCodeURL(state, redirectURI string) string {
	return p.withRedirect(redirectURI).AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange swaps an authorization code for a token.
func (p *GoogleProvider) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	ctx, cancel := p.requestContext(ctx)
	defer cancel()

	token, err := p.withRedirect(redirectURI).Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return token, nil
}

// Refresh obtains a new access token for refreshToken.
func (p *GoogleProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx, cancel := p.requestContext(ctx)
	defer cancel()

	// An empty access token is never valid, so the source always hits the token endpoint.
	source := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("%w: provider returned %d: %s",
				model.ErrRefreshRejected, retrieveErr.Response.StatusCode, retrieveErr.ErrorCode)
		}
		return nil, fmt.Errorf("%w: %w", model.ErrRefreshRejected, err)
	}
	return token, nil
}

// Profile resolves the email address of the token's owner.
func (p *GoogleProvider) Profile(ctx context.Context, accessToken string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	opts := append([]option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})),
	}, p.profileOptions...)

	service, err := googleoauth.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create userinfo service: %w", err)
	}

	info, err := service.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to fetch profile: %w", err)
	}
	return info.Email, nil
}
