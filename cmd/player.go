package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/desertthunder/deemusic/internal/formatter"
	"github.com/desertthunder/deemusic/internal/server"
	"github.com/desertthunder/deemusic/internal/shared"
	"github.com/urfave/cli/v3"
)

// Search prints one page of track results. Without a login the app token is used.
func (r *Runner) Search(ctx context.Context, cmd *cli.Command) error {
	query := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if query == "" {
		return fmt.Errorf("%w: search query", shared.ErrMissingArgument)
	}
	offset := cmd.Int("offset")
	if offset < 0 {
		return fmt.Errorf("%w: offset must not be negative", shared.ErrInvalidArgument)
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	s, err := r.boot(ctx, server.NewNavigator(nil, r.logger))
	if err != nil {
		return err
	}
	defer s.Close()

	token, err := s.controller.BearerToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to get a search token: %w", err)
	}

	r.logger.Debug("searching tracks", "query", query, "offset", offset)
	page, err := s.search.Search(ctx, token, query, int(offset))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(page, cmd.Bool("pretty"))
	}
	return formatter.Write(r.output, page, format)
}

// Play toggles playback of a track on the configured device.
func (r *Runner) Play(ctx context.Context, cmd *cli.Command) error {
	uri := strings.TrimSpace(cmd.Args().First())
	if uri == "" {
		return fmt.Errorf("%w: track uri", shared.ErrMissingArgument)
	}

	s, err := r.boot(ctx, server.NewNavigator(nil, r.logger))
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.requireLogin(); err != nil {
		return err
	}

	binding, err := s.waitForDevice(ctx, cmd.Duration("wait"))
	if err != nil {
		return err
	}
	r.logger.Debug("device ready", "device_id", binding.DeviceID)

	if err := s.coordinator.Toggle(ctx, uri); err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}

	binding, _ = s.coordinator.Binding()
	if binding.Paused {
		r.writePlain("%s Paused %s\n", r.palette.Warn("⏸"), uri)
	} else {
		r.writePlain("%s Playing %s\n", r.palette.OK("▶"), uri)
	}
	return nil
}

// Volume sets the device volume from a 0-100 level.
func (r *Runner) Volume(ctx context.Context, cmd *cli.Command) error {
	arg := cmd.Args().First()
	if arg == "" {
		return fmt.Errorf("%w: volume level", shared.ErrMissingArgument)
	}
	level, err := strconv.Atoi(arg)
	if err != nil || level < 0 || level > 100 {
		return fmt.Errorf("%w: volume must be an integer from 0 to 100", shared.ErrInvalidArgument)
	}

	s, err := r.boot(ctx, server.NewNavigator(nil, r.logger))
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.requireLogin(); err != nil {
		return err
	}
	if _, err := s.waitForDevice(ctx, cmd.Duration("wait")); err != nil {
		return err
	}

	if err := s.coordinator.SetVolume(ctx, float64(level)/100); err != nil {
		return fmt.Errorf("failed to set volume: %w", err)
	}
	r.writePlain("%s Volume %d%%\n", r.palette.OK("✓"), level)
	return nil
}
