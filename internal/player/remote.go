package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/deemusic/internal/models"
	"github.com/desertthunder/deemusic/internal/shared"
	"golang.org/x/time/rate"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultVolume       = 0.6
)

// API is the part of the Web API a [RemoteDevice] polls.
type API interface {
	Devices(ctx context.Context, token string) ([]models.DeviceInfo, error)
	PlayerState(ctx context.Context, token string) (*models.PlaybackSnapshot, error)
	SetVolume(ctx context.Context, token, deviceID string, percent int) error
}

// RemoteConfig selects and configures the Connect device.
type RemoteConfig struct {
	// Name of the device to bind. Empty binds whichever device is active.
	Name         string
	Volume       float64
	PollInterval time.Duration
}

// RemoteDevice is a Spotify Connect device observed by polling.
//
// Ready is emitted when the named device appears in the device list, NotReady when it
// disappears, and StateChanged whenever the player state reported for it changes. The state
// of a newly found device is emitted before its Ready.
type RemoteDevice struct {
	api    API
	tokens TokenFunc
	cfg    RemoteConfig
	logger *log.Logger

	events chan Event

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	deviceID string
	last     *DeviceState
	started  bool
}

// NewRemoteFactory returns a [DeviceFactory] producing a [RemoteDevice] per session.
func NewRemoteFactory(api API, cfg RemoteConfig, logger *log.Logger) DeviceFactory {
	return func(tokens TokenFunc) Device {
		return NewRemoteDevice(api, tokens, cfg, logger)
	}
}

func NewRemoteDevice(api API, tokens TokenFunc, cfg RemoteConfig, logger *log.Logger) *RemoteDevice {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Volume < 0 || cfg.Volume > 1 {
		cfg.Volume = DefaultVolume
	}
	return &RemoteDevice{
		api:    api,
		tokens: tokens,
		cfg:    cfg,
		logger: shared.WithLogger(logger, "component", "remote-device", "name", cfg.Name),
		events: make(chan Event, 16),
	}
}

func (d *RemoteDevice) Events() <-chan Event { return d.events }

// Connect starts polling. It returns immediately; readiness arrives as an event.
func (d *RemoteDevice) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go d.run(ctx)
	return nil
}

// Disconnect stops polling and closes the event channel.
func (d *RemoteDevice) Disconnect() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SetVolume sets the device volume, level in [0, 1].
func (d *RemoteDevice) SetVolume(ctx context.Context, level float64) error {
	token, ok := d.tokens()
	if !ok {
		return shared.ErrNotAuthenticated
	}
	d.mu.Lock()
	id := d.deviceID
	d.mu.Unlock()
	if id == "" {
		return shared.ErrDeviceUnavailable
	}
	return d.api.SetVolume(ctx, token, id, int(level*100+0.5))
}

func (d *RemoteDevice) run(ctx context.Context) {
	defer close(d.done)
	defer close(d.events)

	limiter := rate.NewLimiter(rate.Every(d.cfg.PollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if err := d.poll(ctx); err != nil {
			d.logger.Debug("poll failed", "error", err)
		}
	}
}

func (d *RemoteDevice) poll(ctx context.Context) error {
	token, ok := d.tokens()
	if !ok {
		return shared.ErrNotAuthenticated
	}

	devices, err := d.api.Devices(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	id := d.pick(devices)
	d.mu.Lock()
	previous := d.deviceID
	d.deviceID = id
	if id != previous {
		d.last = nil
	}
	d.mu.Unlock()

	if previous != "" && id != previous {
		if !d.emit(ctx, Event{Kind: EventNotReady, DeviceID: previous}) {
			return nil
		}
	}
	if id == "" {
		return nil
	}

	err = d.report(ctx, token, id)
	if id == previous {
		return err
	}
	if err != nil {
		d.logger.Debug("no initial player state", "device_id", id, "error", err)
	}

	if !d.emit(ctx, Event{Kind: EventReady, DeviceID: id}) {
		return nil
	}
	if previous == "" {
		if err := d.api.SetVolume(ctx, token, id, int(d.cfg.Volume*100+0.5)); err != nil {
			d.logger.Warn("failed to apply initial volume", "error", err)
		}
	}
	return nil
}

// report emits the player state for id when it differs from the last one seen.
func (d *RemoteDevice) report(ctx context.Context, token, id string) error {
	snap, err := d.api.PlayerState(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to read player state: %w", err)
	}
	if snap == nil || snap.DeviceID != id {
		return nil
	}

	state := &DeviceState{Paused: snap.Paused, TrackURI: snap.TrackURI}
	d.mu.Lock()
	changed := d.last == nil || *d.last != *state
	d.last = state
	d.mu.Unlock()

	if changed {
		d.emit(ctx, Event{Kind: EventStateChanged, State: state})
	}
	return nil
}

// pick returns the id of the configured device, or of the active one when no name is set.
func (d *RemoteDevice) pick(devices []models.DeviceInfo) string {
	for _, dev := range devices {
		if d.cfg.Name != "" && dev.Name == d.cfg.Name {
			return dev.ID
		}
		if d.cfg.Name == "" && dev.Active {
			return dev.ID
		}
	}
	return ""
}

func (d *RemoteDevice) emit(ctx context.Context, ev Event) bool {
	select {
	case d.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
