package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/deemusic/internal/clock"
	"github.com/desertthunder/deemusic/internal/metrics"
	"github.com/desertthunder/deemusic/internal/models"
	"github.com/desertthunder/deemusic/internal/notify"
	"github.com/desertthunder/deemusic/internal/pkce"
	"github.com/desertthunder/deemusic/internal/shared"
	"github.com/desertthunder/deemusic/internal/store"
)

// DefaultCallbackPath is the redirect path used when none is configured.
const DefaultCallbackPath = "/callback"

// Gateway performs the token endpoint grants.
type Gateway interface {
	AuthCodeURL(challenge string) string
	Exchange(ctx context.Context, code, verifier string) (models.Credential, error)
	Refresh(ctx context.Context, refreshToken string) (models.Credential, error)
	ClientCredentials(ctx context.Context) (models.Credential, error)
}

// ProfileFetcher loads the signed-in user's profile.
type ProfileFetcher interface {
	Profile(ctx context.Context, token string) (models.Profile, error)
}

// Navigator moves the user agent: a full navigation to the authorization endpoint, and a
// history-replacing rewrite of the visible location after a callback.
type Navigator interface {
	Navigate(url string) error
	ReplaceLocation(path string)
}

// Options configures a [Controller]. Gateway, Store and Navigator are required.
type Options struct {
	Gateway      Gateway
	Store        *store.Session
	Navigator    Navigator
	Profiles     ProfileFetcher
	Poster       notify.Poster
	Clock        clock.Clock
	Metrics      *metrics.Metrics
	Logger       *log.Logger
	CallbackPath string
}

// Controller is the session state machine.
type Controller struct {
	gateway      Gateway
	store        *store.Session
	navigator    Navigator
	profiles     ProfileFetcher
	poster       notify.Poster
	clock        clock.Clock
	metrics      *metrics.Metrics
	logger       *log.Logger
	callbackPath string

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	booted    bool
	state     models.SessionState
	app       *models.Credential
	profile   *models.Profile
	timer     clock.Timer
	listeners map[int]func(models.SessionState)
	nextID    int
}

func NewController(opts Options) (*Controller, error) {
	if opts.Gateway == nil || opts.Store == nil || opts.Navigator == nil {
		return nil, fmt.Errorf("%w: controller needs a gateway, store and navigator", shared.ErrInvalidInput)
	}
	path := opts.CallbackPath
	if path == "" {
		path = DefaultCallbackPath
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		gateway:      opts.Gateway,
		store:        opts.Store,
		navigator:    opts.Navigator,
		profiles:     opts.Profiles,
		poster:       opts.Poster,
		clock:        clock.OrReal(opts.Clock),
		metrics:      opts.Metrics,
		logger:       shared.WithLogger(opts.Logger, "component", "auth"),
		callbackPath: path,
		ctx:          ctx,
		cancel:       cancel,
		state:        models.SessionState{Kind: models.SessionBooting},
		listeners:    map[int]func(models.SessionState){},
	}, nil
}

// Boot runs the startup decision for location. It may run once per controller.
//
// A callback location with a code is exchanged for a credential; otherwise a stored credential
// that has not expired is resumed without a network call; otherwise the session is anonymous.
// Boot always leaves the controller Authenticated or Anonymous. A failed exchange is returned
// after the failure has been posted.
func (c *Controller) Boot(ctx context.Context, location *url.URL) error {
	c.mu.Lock()
	if c.booted {
		c.mu.Unlock()
		return shared.ErrAlreadyBooted
	}
	c.booted = true
	c.mu.Unlock()

	if c.IsCallback(location) {
		return c.exchange(ctx, location)
	}

	if cred, ok := c.store.Credential(); ok {
		if cred.ValidAt(c.clock.Now()) {
			c.logger.Info("resuming stored session", "expires_at", cred.ExpiresAt)
			c.authenticate(ctx, cred)
			return nil
		}
		c.logger.Info("stored session has expired", "expires_at", cred.ExpiresAt)
		if err := c.store.ClearCredential(); err != nil {
			c.logger.Warn("failed to clear expired credential", "error", err)
		}
	}

	c.becomeAnonymous()
	return nil
}

// HandleCallback exchanges the code carried by an authorization callback that arrives after
// boot, as happens when the app is served by a long-running process.
func (c *Controller) HandleCallback(ctx context.Context, location *url.URL) error {
	c.mu.Lock()
	c.booted = true
	c.mu.Unlock()
	return c.exchange(ctx, location)
}

// IsCallback reports whether location is the authorization redirect target.
// A callback carrying an error instead of a code also counts.
func (c *Controller) IsCallback(location *url.URL) bool {
	if location == nil || location.Path != c.callbackPath {
		return false
	}
	q := location.Query()
	return q.Has("code") || q.Has("error")
}

func (c *Controller) exchange(ctx context.Context, location *url.URL) error {
	defer c.navigator.ReplaceLocation("/")

	q := location.Query()
	code := q.Get("code")
	if code == "" {
		reason := q.Get("error")
		if reason == "" {
			reason = "no authorization code"
		}
		err := fmt.Errorf("%w: %s", shared.ErrExchangeFailed, reason)
		c.failLogin(err)
		return err
	}

	verifier, ok := c.store.Verifier()
	if !ok {
		c.failLogin(shared.ErrMissingVerifier)
		return shared.ErrMissingVerifier
	}

	c.mu.Lock()
	epoch := c.state.Epoch
	c.mu.Unlock()

	cred, err := c.gateway.Exchange(ctx, code, verifier)
	if clearErr := c.store.ClearVerifier(); clearErr != nil {
		c.logger.Warn("failed to clear code verifier", "error", clearErr)
	}
	if err != nil {
		c.failLogin(err)
		return err
	}

	c.mu.Lock()
	stale := c.state.Epoch != epoch
	c.mu.Unlock()
	if stale {
		c.logger.Debug("exchange response dropped, session changed")
		return nil
	}

	if err := c.store.SaveCredential(cred); err != nil {
		c.logger.Warn("failed to persist credential", "error", err)
	}

	c.logger.Info("logged in", "expires_at", cred.ExpiresAt, "refreshable", cred.Refreshable())
	c.authenticate(ctx, cred)
	return nil
}

func (c *Controller) failLogin(err error) {
	c.logger.Error("login failed", "error", err)
	switch {
	case errors.Is(err, shared.ErrMissingVerifier):
		c.post("Login could not be completed. Please try logging in again.")
	default:
		c.post("Login failed: %v", err)
	}

	c.mu.Lock()
	loggedIn := c.state.LoggedIn()
	c.mu.Unlock()
	if !loggedIn {
		c.becomeAnonymous()
	}
}

// authenticate adopts cred as a new login session and loads the profile.
func (c *Controller) authenticate(ctx context.Context, cred models.Credential) {
	c.mu.Lock()
	epoch := c.state.Epoch + 1
	c.profile = nil
	emit := c.transition(models.SessionState{Kind: models.SessionAuthenticated, Credential: &cred, Epoch: epoch})
	c.arm(epoch, cred)
	c.mu.Unlock()
	emit()

	c.loadProfile(ctx, epoch, cred.AccessToken)
}

func (c *Controller) loadProfile(ctx context.Context, epoch uint64, token string) {
	if c.profiles == nil {
		return
	}
	p, err := c.profiles.Profile(ctx, token)
	if err != nil {
		c.logger.Debug("profile unavailable", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Epoch == epoch && c.state.LoggedIn() {
		c.profile = &p
	}
}

func (c *Controller) becomeAnonymous() {
	c.mu.Lock()
	if c.state.Kind == models.SessionAnonymous {
		c.mu.Unlock()
		return
	}
	emit := c.transition(models.SessionState{Kind: models.SessionAnonymous, Epoch: c.state.Epoch + 1})
	c.mu.Unlock()
	emit()
}

// Login starts the PKCE flow: it stores a fresh verifier and navigates to the authorization
// endpoint with the derived challenge. Nothing else changes locally.
func (c *Controller) Login(ctx context.Context) error {
	challenge, err := pkce.New()
	if err != nil {
		return err
	}
	if err := c.store.SaveVerifier(challenge.Verifier); err != nil {
		return fmt.Errorf("failed to store code verifier: %w", err)
	}

	authURL := c.gateway.AuthCodeURL(challenge.Challenge)
	c.logger.Info("redirecting to authorization endpoint")
	if err := c.navigator.Navigate(authURL); err != nil {
		return fmt.Errorf("failed to open authorization page: %w", err)
	}
	return nil
}

// Logout ends the user session. Listeners see the Anonymous state before Logout returns.
// Logging out without a session is a no-op.
func (c *Controller) Logout() error {
	c.mu.Lock()
	c.disarm()
	active := c.state.LoggedIn() || c.state.Kind == models.SessionExpired
	var emit func()
	if active {
		c.profile = nil
		emit = c.transition(models.SessionState{Kind: models.SessionAnonymous, Epoch: c.state.Epoch + 1})
	}
	c.mu.Unlock()

	err := c.store.ClearCredential()
	if emit != nil {
		c.logger.Info("logged out")
		emit()
	}
	if err != nil {
		return fmt.Errorf("failed to clear stored credential: %w", err)
	}
	return nil
}

// State returns a copy of the current session state.
func (c *Controller) State() models.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshot(c.state)
}

// Profile returns the signed-in user's profile once it has loaded.
func (c *Controller) Profile() (models.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profile == nil {
		return models.Profile{}, false
	}
	return *c.profile, true
}

// UserToken returns the user access token while logged in.
// The token stays usable while a refresh is in flight.
func (c *Controller) UserToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.LoggedIn() || c.state.Credential == nil {
		return "", false
	}
	return c.state.Credential.AccessToken, true
}

// BearerToken returns the token requests should carry: the user token when logged in, else an
// app-only token obtained with the client credentials grant. The app token is kept in memory
// and fetched again once it has expired.
func (c *Controller) BearerToken(ctx context.Context) (string, error) {
	if token, ok := c.UserToken(); ok {
		return token, nil
	}

	c.mu.Lock()
	app := c.app
	c.mu.Unlock()
	if app != nil && app.ValidAt(c.clock.Now()) {
		return app.AccessToken, nil
	}

	cred, err := c.gateway.ClientCredentials(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.app = &cred
	c.mu.Unlock()
	c.logger.Debug("app token fetched", "expires_at", cred.ExpiresAt)
	return cred.AccessToken, nil
}

// Subscribe registers fn to be called after every state transition, in registration order.
// The returned func removes it.
func (c *Controller) Subscribe(fn func(models.SessionState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Close stops the refresh timer and abandons any refresh in flight.
func (c *Controller) Close() {
	c.mu.Lock()
	c.disarm()
	c.mu.Unlock()
	c.cancel()
}

// transition replaces the state and returns a func that delivers it to listeners.
// Callers hold c.mu and call the returned func after unlocking.
func (c *Controller) transition(next models.SessionState) func() {
	c.state = next
	c.metrics.State(next.Kind)
	c.logger.Debug("session state", "kind", next.Kind, "epoch", next.Epoch)

	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(models.SessionState), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}

	s := snapshot(next)
	return func() {
		for _, fn := range fns {
			fn(s)
		}
	}
}

func (c *Controller) post(format string, args ...any) {
	if c.poster != nil {
		c.poster.Post(format, args...)
	}
}

func snapshot(s models.SessionState) models.SessionState {
	if s.Credential != nil {
		cred := *s.Credential
		s.Credential = &cred
	}
	return s
}
