package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/deemusic/internal/clock"
	"github.com/desertthunder/deemusic/internal/metrics"
	"github.com/desertthunder/deemusic/internal/models"
	"github.com/desertthunder/deemusic/internal/pkce"
	"github.com/desertthunder/deemusic/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenGateway performs the token endpoint grants.
type TokenGateway struct {
	user       *oauth2.Config
	app        *clientcredentials.Config
	httpClient *http.Client
	clock      clock.Clock
	metrics    *metrics.Metrics
	logger     *log.Logger
}

// GatewayOpts contains optional collaborators for [NewTokenGateway].
type GatewayOpts struct {
	HTTPClient *http.Client
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	Logger     *log.Logger
}

// NewTokenGateway builds a gateway for the given Spotify credentials.
//
// The user login is a public client: the client id travels in the form body and no secret is sent.
func NewTokenGateway(cfg shared.SpotifyConfig, opts GatewayOpts) (*TokenGateway, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}
	cfg = endpoints(cfg)

	user := &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURI,
		Scopes:      Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	var app *clientcredentials.Config
	if cfg.ClientSecret != "" {
		app = &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
	}

	return &TokenGateway{
		user:       user,
		app:        app,
		httpClient: opts.HTTPClient,
		clock:      clock.OrReal(opts.Clock),
		metrics:    opts.Metrics,
		logger:     shared.WithLogger(opts.Logger, "component", "token-gateway"),
	}, nil
}

// AuthCodeURL returns the authorization endpoint URL for the given S256 challenge.
func (g *TokenGateway) AuthCodeURL(challenge string) string {
	return g.user.AuthCodeURL("",
		oauth2.SetAuthURLParam("code_challenge_method", pkce.Method),
		oauth2.SetAuthURLParam("code_challenge", challenge),
	)
}

// Exchange trades an authorization code and its verifier for a user credential.
func (g *TokenGateway) Exchange(ctx context.Context, code, verifier string) (models.Credential, error) {
	tok, err := g.user.Exchange(withHTTPClient(ctx, g.httpClient), code, oauth2.VerifierOption(verifier))
	g.metrics.Grant("authorization_code", err)
	if err != nil {
		return models.Credential{}, fmt.Errorf("%w: %w", shared.ErrExchangeFailed, err)
	}

	g.logger.Debug("authorization code exchanged", "refreshable", tok.RefreshToken != "")
	return g.credential(tok, ""), nil
}

// Refresh mints a new access token. When the provider omits a new refresh token the
// previous one is carried over.
func (g *TokenGateway) Refresh(ctx context.Context, refreshToken string) (models.Credential, error) {
	if refreshToken == "" {
		return models.Credential{}, fmt.Errorf("%w: no refresh token", shared.ErrRefreshFailed)
	}

	src := g.user.TokenSource(withHTTPClient(ctx, g.httpClient), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	g.metrics.Grant("refresh_token", err)
	if err != nil {
		return models.Credential{}, fmt.Errorf("%w: %w", shared.ErrRefreshFailed, err)
	}

	g.logger.Debug("access token refreshed", "rotated", tok.RefreshToken != "" && tok.RefreshToken != refreshToken)
	return g.credential(tok, refreshToken), nil
}

// ClientCredentials fetches an app-only credential usable for anonymous search.
// The result never carries a refresh token.
func (g *TokenGateway) ClientCredentials(ctx context.Context) (models.Credential, error) {
	if g.app == nil {
		return models.Credential{}, fmt.Errorf("%w: client_secret not configured", shared.ErrClientAuthFailed)
	}

	tok, err := g.app.Token(withHTTPClient(ctx, g.httpClient))
	g.metrics.Grant("client_credentials", err)
	if err != nil {
		return models.Credential{}, fmt.Errorf("%w: %w", shared.ErrClientAuthFailed, err)
	}

	cred := g.credential(tok, "")
	cred.RefreshToken = ""
	return cred, nil
}

// credential converts an oauth2 token, anchoring expiry on the gateway clock.
func (g *TokenGateway) credential(tok *oauth2.Token, previousRefresh string) models.Credential {
	now := g.clock.Now()

	lifetime := time.Duration(tok.ExpiresIn) * time.Second
	switch {
	case tok.ExpiresIn > 0:
	case !tok.Expiry.IsZero():
		lifetime = tok.Expiry.Sub(now)
	default:
		g.logger.Debug("token response has no expires_in, assuming provider default")
		lifetime = defaultLifetime * time.Second
	}

	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	return models.NewCredential(tok.AccessToken, refresh, lifetime, now)
}
