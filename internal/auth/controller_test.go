package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/deemusic/internal/models"
	"github.com/desertthunder/deemusic/internal/pkce"
	"github.com/desertthunder/deemusic/internal/shared"
	"github.com/desertthunder/deemusic/internal/store"
	tu "github.com/desertthunder/deemusic/internal/testing"
)

var start = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

// fakeGateway issues credentials relative to its clock, the way the provider would.
type fakeGateway struct {
	mu    sync.Mutex
	clock *tu.FakeClock

	exchanges  []string
	refreshes  []string
	appFetches int

	exchangeErr error
	refreshErr  error
	appErr      error

	refreshToken string
	onRefresh    func()
}

func (g *fakeGateway) AuthCodeURL(challenge string) string {
	return "https://accounts.example.com/authorize?code_challenge_method=S256&code_challenge=" + challenge
}

func (g *fakeGateway) Exchange(_ context.Context, code, verifier string) (models.Credential, error) {
	g.mu.Lock()
	g.exchanges = append(g.exchanges, code+":"+verifier)
	g.mu.Unlock()
	if g.exchangeErr != nil {
		return models.Credential{}, g.exchangeErr
	}
	return models.NewCredential("AT1", "RT1", time.Hour, g.clock.Now()), nil
}

func (g *fakeGateway) Refresh(_ context.Context, refreshToken string) (models.Credential, error) {
	g.mu.Lock()
	g.refreshes = append(g.refreshes, refreshToken)
	n := len(g.refreshes)
	hook := g.onRefresh
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	if g.refreshErr != nil {
		return models.Credential{}, g.refreshErr
	}
	rt := g.refreshToken
	if rt == "" {
		rt = refreshToken
	}
	return models.NewCredential("AT"+string(rune('1'+n)), rt, time.Hour, g.clock.Now()), nil
}

func (g *fakeGateway) ClientCredentials(context.Context) (models.Credential, error) {
	g.mu.Lock()
	g.appFetches++
	n := g.appFetches
	g.mu.Unlock()
	if g.appErr != nil {
		return models.Credential{}, g.appErr
	}
	return models.NewCredential("APP"+string(rune('0'+n)), "", time.Hour, g.clock.Now()), nil
}

type fakeProfiles struct {
	err   error
	calls int
}

func (p *fakeProfiles) Profile(_ context.Context, token string) (models.Profile, error) {
	p.calls++
	if p.err != nil {
		return models.Profile{}, p.err
	}
	return models.Profile{ID: "user1", DisplayName: "Dee (" + token + ")"}, nil
}

type harness struct {
	clock    *tu.FakeClock
	kv       *store.Memory
	session  *store.Session
	gateway  *fakeGateway
	nav      *tu.FakeNavigator
	poster   *tu.RecordingPoster
	profiles *fakeProfiles
	ctrl     *Controller
	seen     []models.SessionKind
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	c := tu.NewFakeClock(start)
	kv := store.NewMemory()
	return newHarnessWith(t, c, kv)
}

// newHarnessWith builds a controller over an existing clock and store, as a page reload would.
func newHarnessWith(t *testing.T, c *tu.FakeClock, kv *store.Memory) *harness {
	t.Helper()
	h := &harness{
		clock:    c,
		kv:       kv,
		session:  store.NewSession(kv),
		gateway:  &fakeGateway{clock: c},
		nav:      &tu.FakeNavigator{},
		poster:   &tu.RecordingPoster{},
		profiles: &fakeProfiles{},
	}

	ctrl, err := NewController(Options{
		Gateway:   h.gateway,
		Store:     h.session,
		Navigator: h.nav,
		Profiles:  h.profiles,
		Poster:    h.poster,
		Clock:     c,
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	t.Cleanup(ctrl.Close)
	ctrl.Subscribe(func(s models.SessionState) { h.seen = append(h.seen, s.Kind) })
	h.ctrl = ctrl
	return h
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("bad url %s: %v", raw, err)
	}
	return u
}

func TestController(t *testing.T) {
	ctx := context.Background()

	t.Run("NewController Requires Collaborators", func(t *testing.T) {
		if _, err := NewController(Options{}); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Fresh Visit Is Anonymous", func(t *testing.T) {
		h := newHarness(t)

		if err := h.ctrl.Boot(ctx, mustURL(t, "/")); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if kind := h.ctrl.State().Kind; kind != models.SessionAnonymous {
			t.Errorf("expected anonymous, got %v", kind)
		}
		if _, ok := h.ctrl.UserToken(); ok {
			t.Error("expected no user token")
		}
		if len(h.clock.Pending()) != 0 {
			t.Error("expected no timers for an anonymous session")
		}
	})

	t.Run("Boot Runs Once", func(t *testing.T) {
		h := newHarness(t)
		h.ctrl.Boot(ctx, mustURL(t, "/"))

		if err := h.ctrl.Boot(ctx, mustURL(t, "/")); !errors.Is(err, shared.ErrAlreadyBooted) {
			t.Errorf("expected ErrAlreadyBooted, got %v", err)
		}
	})

	t.Run("Fresh Login", func(t *testing.T) {
		first := newHarness(t)
		first.ctrl.Boot(ctx, mustURL(t, "/"))

		if err := first.ctrl.Login(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		verifier, ok := first.session.Verifier()
		if !ok {
			t.Fatal("expected verifier to be persisted before navigating")
		}
		if len(first.nav.Visited) != 1 {
			t.Fatalf("expected one navigation, got %d", len(first.nav.Visited))
		}
		if !strings.HasSuffix(first.nav.Visited[0], "code_challenge="+pkce.ChallengeFor(verifier)) {
			t.Errorf("expected challenge for stored verifier in %s", first.nav.Visited[0])
		}
		if kind := first.ctrl.State().Kind; kind != models.SessionAnonymous {
			t.Errorf("login must not change local state, got %v", kind)
		}

		// The redirect reloads the app against the same store.
		second := newHarnessWith(t, first.clock, first.kv)
		if err := second.ctrl.Boot(ctx, mustURL(t, "/callback?code=abc123")); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		state := second.ctrl.State()
		if state.Kind != models.SessionAuthenticated || state.Credential == nil {
			t.Fatalf("expected authenticated state, got %+v", state)
		}
		if want := start.Add(3570 * time.Second); !state.Credential.ExpiresAt.Equal(want) {
			t.Errorf("expected expiry %v, got %v", want, state.Credential.ExpiresAt)
		}
		if got := second.gateway.exchanges; len(got) != 1 || got[0] != "abc123:"+verifier {
			t.Errorf("expected exchange with stored verifier, got %v", got)
		}
		if _, ok := second.session.Verifier(); ok {
			t.Error("expected verifier to be cleared")
		}
		if len(second.nav.Replaced) != 1 || second.nav.Replaced[0] != "/" {
			t.Errorf("expected location rewritten to /, got %v", second.nav.Replaced)
		}

		stored, ok := second.session.Credential()
		if !ok || stored.AccessToken != "AT1" || stored.RefreshToken != "RT1" {
			t.Errorf("expected persisted credential, got %+v", stored)
		}

		if pending := second.clock.Pending(); len(pending) != 1 || pending[0] != 3540*time.Second {
			t.Errorf("expected one refresh timer at 3540s, got %v", pending)
		}

		profile, ok := second.ctrl.Profile()
		if !ok || profile.ID != "user1" {
			t.Errorf("expected profile to load, got %+v", profile)
		}
	})

	t.Run("Missing Verifier", func(t *testing.T) {
		h := newHarness(t)

		err := h.ctrl.Boot(ctx, mustURL(t, "/callback?code=abc123"))
		if !errors.Is(err, shared.ErrMissingVerifier) {
			t.Fatalf("expected ErrMissingVerifier, got %v", err)
		}
		if kind := h.ctrl.State().Kind; kind != models.SessionAnonymous {
			t.Errorf("expected anonymous, got %v", kind)
		}
		if len(h.gateway.exchanges) != 0 {
			t.Error("expected no exchange without a verifier")
		}
		if h.poster.Count() != 1 {
			t.Errorf("expected one message, got %d", h.poster.Count())
		}
	})

	t.Run("Exchange Failure", func(t *testing.T) {
		h := newHarness(t)
		h.session.SaveVerifier("VERIFIER")
		h.gateway.exchangeErr = shared.ErrExchangeFailed

		err := h.ctrl.Boot(ctx, mustURL(t, "/callback?code=abc123"))
		if !errors.Is(err, shared.ErrExchangeFailed) {
			t.Fatalf("expected ErrExchangeFailed, got %v", err)
		}
		if kind := h.ctrl.State().Kind; kind != models.SessionAnonymous {
			t.Errorf("expected anonymous, got %v", kind)
		}
		if _, ok := h.session.Verifier(); ok {
			t.Error("expected verifier to be consumed")
		}
		if !strings.Contains(h.poster.Last(), "Login failed") {
			t.Errorf("unexpected message %q", h.poster.Last())
		}
	})

	t.Run("Denied Authorization", func(t *testing.T) {
		h := newHarness(t)
		h.session.SaveVerifier("VERIFIER")

		err := h.ctrl.Boot(ctx, mustURL(t, "/callback?error=access_denied"))
		if !errors.Is(err, shared.ErrExchangeFailed) {
			t.Fatalf("expected ErrExchangeFailed, got %v", err)
		}
		if !strings.Contains(h.poster.Last(), "access_denied") {
			t.Errorf("expected reason in message, got %q", h.poster.Last())
		}
		if len(h.nav.Replaced) != 1 {
			t.Error("expected location to be rewritten")
		}
	})

	t.Run("Resume Stored Session", func(t *testing.T) {
		h := newHarness(t)
		h.session.SaveCredential(models.NewCredential("AT1", "RT1", time.Hour, start))

		if err := h.ctrl.Boot(ctx, mustURL(t, "/")); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if kind := h.ctrl.State().Kind; kind != models.SessionAuthenticated {
			t.Errorf("expected authenticated, got %v", kind)
		}
		if token, _ := h.ctrl.UserToken(); token != "AT1" {
			t.Errorf("expected resumed token, got %q", token)
		}
		if len(h.gateway.exchanges)+len(h.gateway.refreshes)+h.gateway.appFetches != 0 {
			t.Error("resume must not hit the network")
		}
	})

	t.Run("Expired Stored Session", func(t *testing.T) {
		h := newHarness(t)
		h.session.SaveCredential(models.NewCredential("AT1", "RT1", time.Minute, start.Add(-time.Hour)))

		h.ctrl.Boot(ctx, mustURL(t, "/"))
		if kind := h.ctrl.State().Kind; kind != models.SessionAnonymous {
			t.Errorf("expected anonymous, got %v", kind)
		}
		if _, ok := h.session.Credential(); ok {
			t.Error("expected expired credential to be cleared")
		}
	})

	t.Run("HandleCallback After Boot", func(t *testing.T) {
		h := newHarness(t)
		h.ctrl.Boot(ctx, mustURL(t, "/"))
		h.ctrl.Login(ctx)

		if err := h.ctrl.HandleCallback(ctx, mustURL(t, "/callback?code=xyz")); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if kind := h.ctrl.State().Kind; kind != models.SessionAuthenticated {
			t.Errorf("expected authenticated, got %v", kind)
		}
	})

	t.Run("Logout", func(t *testing.T) {
		t.Run("Clears Session", func(t *testing.T) {
			h := newHarness(t)
			h.session.SaveCredential(models.NewCredential("AT1", "RT1", time.Hour, start))
			h.ctrl.Boot(ctx, mustURL(t, "/"))

			if err := h.ctrl.Logout(); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if kind := h.ctrl.State().Kind; kind != models.SessionAnonymous {
				t.Errorf("expected anonymous, got %v", kind)
			}
			if h.kv.Len() != 0 {
				t.Errorf("expected store to be empty, got %d keys", h.kv.Len())
			}
			if _, ok := h.ctrl.Profile(); ok {
				t.Error("expected profile to be cleared")
			}
			if len(h.clock.Pending()) != 0 {
				t.Errorf("expected refresh timer to be cancelled, got %v", h.clock.Pending())
			}
		})

		t.Run("Idempotent", func(t *testing.T) {
			h := newHarness(t)
			h.session.SaveCredential(models.NewCredential("AT1", "RT1", time.Hour, start))
			h.ctrl.Boot(ctx, mustURL(t, "/"))

			if err := h.ctrl.Logout(); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			first := h.ctrl.State()
			transitions := len(h.seen)

			if err := h.ctrl.Logout(); err != nil {
				t.Fatalf("expected no error on second logout, got %v", err)
			}
			second := h.ctrl.State()

			if first.Kind != second.Kind || first.Epoch != second.Epoch {
				t.Errorf("expected identical states, got %+v and %+v", first, second)
			}
			if len(h.seen) != transitions {
				t.Error("second logout must not notify listeners")
			}
		})

		t.Run("Without Session", func(t *testing.T) {
			h := newHarness(t)
			h.ctrl.Boot(ctx, mustURL(t, "/"))

			if err := h.ctrl.Logout(); err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	})

	t.Run("BearerToken", func(t *testing.T) {
		t.Run("Anonymous Uses App Token", func(t *testing.T) {
			h := newHarness(t)
			h.ctrl.Boot(ctx, mustURL(t, "/"))

			token, err := h.ctrl.BearerToken(ctx)
			if err != nil || token != "APP1" {
				t.Fatalf("expected APP1, got %q (%v)", token, err)
			}
			token, _ = h.ctrl.BearerToken(ctx)
			if token != "APP1" || h.gateway.appFetches != 1 {
				t.Errorf("expected cached app token, got %q after %d fetches", token, h.gateway.appFetches)
			}
		})

		t.Run("Refetches Expired App Token", func(t *testing.T) {
			h := newHarness(t)
			h.ctrl.Boot(ctx, mustURL(t, "/"))
			h.ctrl.BearerToken(ctx)

			h.clock.Advance(time.Hour)
			token, err := h.ctrl.BearerToken(ctx)
			if err != nil || token != "APP2" {
				t.Errorf("expected APP2 after expiry, got %q (%v)", token, err)
			}
		})

		t.Run("Logged In Uses User Token", func(t *testing.T) {
			h := newHarness(t)
			h.session.SaveCredential(models.NewCredential("AT1", "RT1", time.Hour, start))
			h.ctrl.Boot(ctx, mustURL(t, "/"))

			token, err := h.ctrl.BearerToken(ctx)
			if err != nil || token != "AT1" {
				t.Errorf("expected user token, got %q (%v)", token, err)
			}
			if h.gateway.appFetches != 0 {
				t.Error("expected no app token fetch while logged in")
			}
		})

		t.Run("Client Auth Failure", func(t *testing.T) {
			h := newHarness(t)
			h.gateway.appErr = shared.ErrClientAuthFailed
			h.ctrl.Boot(ctx, mustURL(t, "/"))

			if _, err := h.ctrl.BearerToken(ctx); !errors.Is(err, shared.ErrClientAuthFailed) {
				t.Errorf("expected ErrClientAuthFailed, got %v", err)
			}
		})
	})

	t.Run("Profile Failure Tolerated", func(t *testing.T) {
		h := newHarness(t)
		h.profiles.err = shared.ErrNetworkFailure
		h.session.SaveCredential(models.NewCredential("AT1", "RT1", time.Hour, start))

		if err := h.ctrl.Boot(ctx, mustURL(t, "/")); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if _, ok := h.ctrl.Profile(); ok {
			t.Error("expected profile to stay unset")
		}
		if h.poster.Count() != 0 {
			t.Error("profile failures must not post messages")
		}
	})
}
