package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/deemusic/internal/models"
	"github.com/desertthunder/deemusic/internal/server"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// Serve runs the web app until interrupted.
//
// Login navigations are held by the navigator and handed to the browser by POST /api/login;
// the authorization callback is served by the same process.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	nav := server.NewNavigator(nil, r.logger)
	s, err := r.boot(ctx, nav)
	if err != nil {
		return err
	}
	defer s.Close()

	s.coordinator.Start()

	app := server.NewApp(server.AppOptions{
		Auth:         s.controller,
		Navigator:    nav,
		Search:       s.search,
		Player:       s.coordinator,
		Messages:     s.banner,
		Metrics:      r.metrics,
		Logger:       r.logger,
		CallbackPath: s.callbackPath,
	})

	addr := cmd.String("addr")
	if addr == "" {
		addr = r.config.Server.Addr()
	}
	srv := server.NewServer(addr, app, r.logger)

	r.logger.Info("session ready", "state", s.controller.State().Kind, "addr", addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error {
		unsubscribe := s.controller.Subscribe(func(st models.SessionState) {
			r.logger.Info("session changed", "state", st.Kind, "epoch", st.Epoch)
		})
		defer unsubscribe()
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}
