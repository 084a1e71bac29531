package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/deemusic/internal/metrics"
	"github.com/desertthunder/deemusic/internal/models"
	"github.com/desertthunder/deemusic/internal/shared"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
)

// SpotifyService calls the bearer-authenticated Web API endpoints.
type SpotifyService struct {
	apiURL     string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *log.Logger
}

// ServiceOpts contains optional collaborators for [NewSpotifyService].
type ServiceOpts struct {
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	Logger     *log.Logger
}

func NewSpotifyService(cfg shared.SpotifyConfig, opts ServiceOpts) *SpotifyService {
	cfg = endpoints(cfg)
	return &SpotifyService{
		apiURL:     cfg.APIURL,
		httpClient: opts.HTTPClient,
		metrics:    opts.Metrics,
		logger:     shared.WithLogger(opts.Logger, "component", "spotify"),
	}
}

// client returns a Web API client that sends token as its bearer credential.
func (s *SpotifyService) client(ctx context.Context, token string) *spotify.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	hc := oauth2.NewClient(withHTTPClient(ctx, s.httpClient), src)
	return spotify.New(hc, spotify.WithBaseURL(s.apiURL))
}

func networkError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", shared.ErrNetworkFailure, op, err)
}

// Profile fetches the signed-in user's profile.
func (s *SpotifyService) Profile(ctx context.Context, token string) (models.Profile, error) {
	user, err := s.client(ctx, token).CurrentUser(ctx)
	if err != nil {
		return models.Profile{}, networkError("profile", err)
	}
	return models.Profile{ID: user.ID, DisplayName: user.DisplayName}, nil
}

// SearchTracks runs a track search and returns one page of results.
func (s *SpotifyService) SearchTracks(ctx context.Context, token, query string, offset, limit int) (models.SearchPage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.SearchPage{}, fmt.Errorf("%w: empty search query", shared.ErrInvalidInput)
	}

	res, err := s.client(ctx, token).Search(ctx, query, spotify.SearchTypeTrack,
		spotify.Limit(limit), spotify.Offset(offset))
	if err != nil {
		return models.SearchPage{}, networkError("search", err)
	}

	page := models.SearchPage{Query: query, Offset: offset}
	if res.Tracks == nil {
		return page, nil
	}

	page.Total = int(res.Tracks.Total)
	page.Tracks = make([]models.Track, 0, len(res.Tracks.Tracks))
	for _, t := range res.Tracks.Tracks {
		page.Tracks = append(page.Tracks, trackFrom(t))
	}

	s.logger.Debug("search complete", "query", query, "offset", offset, "results", len(page.Tracks))
	return page, nil
}

func trackFrom(t spotify.FullTrack) models.Track {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}
	return models.Track{
		ID:       string(t.ID),
		URI:      string(t.URI),
		Title:    t.Name,
		Artist:   strings.Join(artists, ", "),
		Album:    t.Album.Name,
		Duration: time.Duration(t.Duration) * time.Millisecond,
		Preview:  t.PreviewURL,
	}
}

// TransferPlayback makes deviceID the active playback device.
func (s *SpotifyService) TransferPlayback(ctx context.Context, token, deviceID string, play bool) error {
	err := s.client(ctx, token).TransferPlayback(ctx, spotify.ID(deviceID), play)
	s.metrics.Playback("transfer", err)
	if err != nil {
		return networkError("transfer playback", err)
	}
	return nil
}

// PlayURI starts playing a single track URI on deviceID.
func (s *SpotifyService) PlayURI(ctx context.Context, token, deviceID, uri string) error {
	id := spotify.ID(deviceID)
	err := s.client(ctx, token).PlayOpt(ctx, &spotify.PlayOptions{
		DeviceID: &id,
		URIs:     []spotify.URI{spotify.URI(uri)},
	})
	s.metrics.Playback("play", err)
	if err != nil {
		return networkError("play", err)
	}
	return nil
}

// Resume continues whatever is loaded on deviceID.
func (s *SpotifyService) Resume(ctx context.Context, token, deviceID string) error {
	id := spotify.ID(deviceID)
	err := s.client(ctx, token).PlayOpt(ctx, &spotify.PlayOptions{DeviceID: &id})
	s.metrics.Playback("resume", err)
	if err != nil {
		return networkError("resume", err)
	}
	return nil
}

// Pause pauses playback on deviceID.
func (s *SpotifyService) Pause(ctx context.Context, token, deviceID string) error {
	id := spotify.ID(deviceID)
	err := s.client(ctx, token).PauseOpt(ctx, &spotify.PlayOptions{DeviceID: &id})
	s.metrics.Playback("pause", err)
	if err != nil {
		return networkError("pause", err)
	}
	return nil
}

// SetVolume sets the volume of deviceID, percent in [0, 100].
func (s *SpotifyService) SetVolume(ctx context.Context, token, deviceID string, percent int) error {
	percent = min(max(percent, 0), 100)
	id := spotify.ID(deviceID)
	err := s.client(ctx, token).VolumeOpt(ctx, percent, &spotify.PlayOptions{DeviceID: &id})
	s.metrics.Playback("volume", err)
	if err != nil {
		return networkError("volume", err)
	}
	return nil
}

// Devices lists the user's available Connect devices.
func (s *SpotifyService) Devices(ctx context.Context, token string) ([]models.DeviceInfo, error) {
	devices, err := s.client(ctx, token).PlayerDevices(ctx)
	if err != nil {
		return nil, networkError("devices", err)
	}

	out := make([]models.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, models.DeviceInfo{
			ID:     string(d.ID),
			Name:   d.Name,
			Type:   d.Type,
			Active: d.Active,
			Volume: int(d.Volume),
		})
	}
	return out, nil
}

// PlayerState returns the provider's view of current playback. A nil snapshot means nothing
// is loaded on any device.
func (s *SpotifyService) PlayerState(ctx context.Context, token string) (*models.PlaybackSnapshot, error) {
	state, err := s.client(ctx, token).PlayerState(ctx)
	if err != nil {
		return nil, networkError("player state", err)
	}
	if state == nil || state.Device.ID == "" {
		return nil, nil
	}

	snap := &models.PlaybackSnapshot{
		DeviceID: string(state.Device.ID),
		Paused:   !state.Playing,
	}
	if state.Item != nil {
		snap.TrackURI = string(state.Item.URI)
	}
	return snap, nil
}
