package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/desertthunder/deemusic/internal/auth"
	"github.com/desertthunder/deemusic/internal/models"
	"github.com/desertthunder/deemusic/internal/notify"
	"github.com/desertthunder/deemusic/internal/player"
	"github.com/desertthunder/deemusic/internal/repositories"
	"github.com/desertthunder/deemusic/internal/server"
	"github.com/desertthunder/deemusic/internal/services"
	"github.com/desertthunder/deemusic/internal/shared"
	"github.com/desertthunder/deemusic/internal/store"
)

// stack is the wired session machinery shared by the commands.
type stack struct {
	db           *sql.DB
	api          *services.SpotifyService
	search       *services.SearchCache
	banner       *notify.Banner
	controller   *auth.Controller
	coordinator  *player.Coordinator
	callbackPath string
}

// open builds the session stack. nav receives the controller's navigations.
func (r *Runner) open(nav auth.Navigator) (*stack, error) {
	if err := r.config.Validate(); err != nil {
		return nil, err
	}
	sp := r.config.Credentials.Spotify

	redirect, err := url.Parse(sp.RedirectURI)
	if err != nil || redirect.Path == "" {
		return nil, fmt.Errorf("%w: redirect_uri %q has no path", shared.ErrInvalidConfig, sp.RedirectURI)
	}

	s := &stack{callbackPath: redirect.Path}

	kv := r.kv
	if kv == nil {
		db, err := shared.OpenSessionDatabase(r.config.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open session database: %w", err)
		}
		s.db = db
		kv = repositories.NewKVRepository(db, r.logger)
	}

	gateway, err := services.NewTokenGateway(sp, services.GatewayOpts{
		HTTPClient: r.httpClient,
		Clock:      r.clock,
		Metrics:    r.metrics,
		Logger:     r.logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.api = services.NewSpotifyService(sp, services.ServiceOpts{
		HTTPClient: r.httpClient,
		Metrics:    r.metrics,
		Logger:     r.logger,
	})

	if s.search, err = services.NewSearchCache(s.api, r.config.Search, r.logger); err != nil {
		s.Close()
		return nil, err
	}

	s.banner = notify.NewBanner(r.clock, 0, r.logger)
	s.banner.Subscribe(func(m notify.Message) {
		if m.Text != "" {
			r.logger.Warn(m.Text)
		}
	})

	s.controller, err = auth.NewController(auth.Options{
		Gateway:      gateway,
		Store:        store.NewSession(kv),
		Navigator:    nav,
		Profiles:     s.api,
		Poster:       s.banner,
		Clock:        r.clock,
		Metrics:      r.metrics,
		Logger:       r.logger,
		CallbackPath: s.callbackPath,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	devices := player.NewRemoteFactory(s.api, player.RemoteConfig{
		Name:         r.config.Player.DeviceName,
		Volume:       r.config.Player.Volume,
		PollInterval: r.config.Player.PollInterval.Duration,
	}, r.logger)

	s.coordinator, err = player.NewCoordinator(player.Options{
		Session:   s.controller,
		Control:   s.api,
		NewDevice: devices,
		Poster:    s.banner,
		Metrics:   r.metrics,
		Logger:    r.logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// boot opens the stack and runs the startup decision for the app root.
func (r *Runner) boot(ctx context.Context, nav auth.Navigator) (*stack, error) {
	s, err := r.open(nav)
	if err != nil {
		return nil, err
	}
	if err := s.controller.Boot(ctx, &url.URL{Path: "/"}); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close stops playback, the refresh timer and the database, in that order.
func (s *stack) Close() {
	if s.coordinator != nil {
		s.coordinator.Close()
	}
	if s.controller != nil {
		s.controller.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

// requireLogin fails unless a user session is active.
func (s *stack) requireLogin() error {
	if !s.controller.State().LoggedIn() {
		return fmt.Errorf("%w: run 'deemusic login' first", shared.ErrNotAuthenticated)
	}
	return nil
}

// waitForDevice starts the coordinator and blocks until a device is registered or wait elapses.
func (s *stack) waitForDevice(ctx context.Context, wait time.Duration) (models.PlaybackBinding, error) {
	s.coordinator.Start()

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if b, ok := s.coordinator.Binding(); ok && b.DeviceID != "" {
			return b, nil
		}
		select {
		case <-ctx.Done():
			return models.PlaybackBinding{}, fmt.Errorf("%w: no device became ready within %s", shared.ErrDeviceUnavailable, wait)
		case <-ticker.C:
		}
	}
}

// compile-time checks that the wiring satisfies the app's interfaces.
var (
	_ server.Auth     = (*auth.Controller)(nil)
	_ server.Searcher = (*services.SearchCache)(nil)
	_ server.Player   = (*player.Coordinator)(nil)
	_ server.Messages = (*notify.Banner)(nil)
)
