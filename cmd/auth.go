package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/desertthunder/deemusic/internal/server"
	"github.com/desertthunder/deemusic/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// Login performs the PKCE authorization flow.
//
// Starts a local HTTP server on the redirect URI, opens the browser at the authorization page
// and waits for the callback to be exchanged.
func (r *Runner) Login(ctx context.Context, cmd *cli.Command) error {
	timeout := cmd.Duration("timeout")

	open := r.openBrowser
	if cmd.Bool("no-browser") {
		open = func(u string) error {
			return r.writePlain("Open this URL to log in:\n\n%s\n\n", u)
		}
	}

	nav := server.NewNavigator(open, r.logger)
	s, err := r.boot(ctx, nav)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.controller.State().LoggedIn() {
		r.writePlain("%s Already logged in\n", r.palette.OK("✓"))
		return r.printStatus(s)
	}

	redirect, err := url.Parse(r.config.Credentials.Spotify.RedirectURI)
	if err != nil {
		return fmt.Errorf("%w: redirect_uri: %v", shared.ErrInvalidConfig, err)
	}

	callback := server.NewCallbackHandler(s.controller, s.callbackPath, "", r.logger)
	router := server.NewBasicRouter()
	router.Use(server.RequestID, server.Logging(r.logger))
	router.Handler(callback)
	srv := server.NewServer(redirect.Host, router, r.logger)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error {
		defer cancel()
		if err := s.controller.Login(gctx); err != nil {
			return err
		}
		r.writePlain("Waiting for authorization on %s ...\n", r.config.Credentials.Spotify.RedirectURI)

		select {
		case err := <-callback.Result():
			return err
		case <-gctx.Done():
			return fmt.Errorf("%w: no callback within %s", shared.ErrTimeout, timeout)
		}
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	r.writePlain("%s Authorization successful\n", r.palette.OK("✓"))
	return r.printStatus(s)
}

// Logout clears the stored session.
func (r *Runner) Logout(ctx context.Context, cmd *cli.Command) error {
	s, err := r.boot(ctx, server.NewNavigator(nil, r.logger))
	if err != nil {
		return err
	}
	defer s.Close()

	wasLoggedIn := s.controller.State().LoggedIn()
	if err := s.controller.Logout(); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	if wasLoggedIn {
		r.writePlain("%s Logged out\n", r.palette.OK("✓"))
	} else {
		r.writePlain("%s\n", r.palette.Help("Not logged in."))
	}
	return nil
}

// StatusView is the JSON shape of the status command.
type StatusView struct {
	State       string     `json:"state"`
	LoggedIn    bool       `json:"logged_in"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	UserID      string     `json:"user_id,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
}

// Status prints the session state after boot.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	s, err := r.boot(ctx, server.NewNavigator(nil, r.logger))
	if err != nil {
		return err
	}
	defer s.Close()

	if cmd.Bool("json") {
		return r.writeJSON(r.statusView(s), true)
	}
	return r.printStatus(s)
}

func (r *Runner) statusView(s *stack) StatusView {
	state := s.controller.State()
	v := StatusView{State: state.Kind.String(), LoggedIn: state.LoggedIn()}
	if state.Credential != nil {
		expires := state.Credential.ExpiresAt
		v.ExpiresAt = &expires
	}
	if p, ok := s.controller.Profile(); ok {
		v.UserID = p.ID
		v.DisplayName = p.DisplayName
	}
	return v
}

func (r *Runner) printStatus(s *stack) error {
	state := s.controller.State()

	r.writePlainHeader("Session")
	r.writePlain("State:   %s\n", r.palette.Session(state))
	if state.Credential != nil {
		r.writePlain("Token:   %s\n", r.palette.Expiry(state.Credential.ExpiresAt, r.clock.Now()))
	}
	if p, ok := s.controller.Profile(); ok {
		name := p.DisplayName
		if name == "" {
			name = p.ID
		}
		r.writePlain("User:    %s\n", name)
	}
	if !state.LoggedIn() {
		r.writePlainln("%s", r.palette.Help("Run 'deemusic login' to sign in."))
	}
	return nil
}
