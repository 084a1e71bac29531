package player

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/deemusic/internal/metrics"
	"github.com/desertthunder/deemusic/internal/models"
	"github.com/desertthunder/deemusic/internal/notify"
	"github.com/desertthunder/deemusic/internal/shared"
)

// Session is the read side of the auth controller.
type Session interface {
	State() models.SessionState
	UserToken() (string, bool)
	Subscribe(fn func(models.SessionState)) func()
}

// Control is the playback control plane.
type Control interface {
	TransferPlayback(ctx context.Context, token, deviceID string, play bool) error
	PlayURI(ctx context.Context, token, deviceID, uri string) error
	Resume(ctx context.Context, token, deviceID string) error
	Pause(ctx context.Context, token, deviceID string) error
}

// Options configures a [Coordinator]. Session, Control and NewDevice are required.
type Options struct {
	Session   Session
	Control   Control
	NewDevice DeviceFactory
	Poster    notify.Poster
	Metrics   *metrics.Metrics
	Logger    *log.Logger
}

// binding is the live device for one login session.
type binding struct {
	epoch  uint64
	device Device
	cancel context.CancelFunc
	done   chan struct{}

	// pending is a device that reported Ready and is not yet published. Guarded by the
	// coordinator's mu.
	pending string
}

// Coordinator owns the playback binding.
type Coordinator struct {
	session   Session
	control   Control
	newDevice DeviceFactory
	poster    notify.Poster
	metrics   *metrics.Metrics
	logger    *log.Logger

	mu          sync.Mutex
	live        *binding
	state       models.PlaybackBinding
	unsubscribe func()
}

func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Session == nil || opts.Control == nil || opts.NewDevice == nil {
		return nil, fmt.Errorf("%w: coordinator needs a session, control plane and device factory", shared.ErrInvalidInput)
	}
	return &Coordinator{
		session:   opts.Session,
		control:   opts.Control,
		newDevice: opts.NewDevice,
		poster:    opts.Poster,
		metrics:   opts.Metrics,
		logger:    shared.WithLogger(opts.Logger, "component", "player"),
	}, nil
}

// Start follows the session: it binds a device for the current login, if any, and for every
// later one.
func (c *Coordinator) Start() {
	unsubscribe := c.session.Subscribe(c.observe)
	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	c.observe(c.session.State())
}

// Close stops following the session and tears down the binding.
func (c *Coordinator) Close() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.teardown()
}

// observe reconciles the binding with a session notification. Notifications are delivered
// after the controller unlocks, so one may arrive after a newer state; those are dropped.
func (c *Coordinator) observe(s models.SessionState) {
	if current := c.session.State(); current.Epoch > s.Epoch {
		c.logger.Debug("stale session state dropped", "epoch", s.Epoch, "current", current.Epoch)
		return
	}
	if s.LoggedIn() {
		c.activate(s.Epoch)
		return
	}
	c.teardown()
}

// activate creates the device for epoch unless one is already live for it, or the session
// has moved on from epoch.
func (c *Coordinator) activate(epoch uint64) {
	c.mu.Lock()
	if c.live != nil && c.live.epoch == epoch {
		c.mu.Unlock()
		return
	}
	if current := c.session.State(); !current.LoggedIn() || current.Epoch != epoch {
		c.mu.Unlock()
		return
	}
	stale := c.live
	c.live = nil
	c.state = models.PlaybackBinding{}

	ctx, cancel := context.WithCancel(context.Background())
	b := &binding{
		epoch:  epoch,
		device: c.newDevice(c.session.UserToken),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.live = b
	c.mu.Unlock()

	if stale != nil {
		c.stop(stale)
	}

	go c.drain(ctx, b)
	if err := b.device.Connect(ctx); err != nil {
		c.logger.Error("failed to connect playback device", "error", err)
		c.post("Could not connect the player: %v", err)
		return
	}
	c.logger.Info("playback device connecting", "epoch", epoch)
}

// teardown disconnects the live device and clears the binding. It is safe to call repeatedly.
func (c *Coordinator) teardown() {
	c.mu.Lock()
	b := c.live
	c.live = nil
	c.state = models.PlaybackBinding{}
	c.mu.Unlock()

	if b != nil {
		c.stop(b)
		c.logger.Info("playback device disconnected", "epoch", b.epoch)
	}
}

func (c *Coordinator) stop(b *binding) {
	b.cancel()
	b.device.Disconnect()
	<-b.done
}

// drain is the single consumer of b's device events.
func (c *Coordinator) drain(ctx context.Context, b *binding) {
	defer close(b.done)
	events := b.device.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handle(ctx, b, ev)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, b *binding, ev Event) {
	c.metrics.DeviceEvent(ev.Kind.String())

	c.mu.Lock()
	if c.live != b {
		c.mu.Unlock()
		return
	}

	switch ev.Kind {
	case EventReady:
		b.pending = ev.DeviceID
		c.mu.Unlock()

		c.logger.Info("playback device ready", "device_id", ev.DeviceID)
		if token, ok := c.session.UserToken(); ok {
			if err := c.control.TransferPlayback(ctx, token, ev.DeviceID, false); err != nil {
				c.logger.Warn("failed to make device active", "device_id", ev.DeviceID, "error", err)
			}
		}
		c.settle(ctx, b)

		c.mu.Lock()
		if c.live == b && b.pending == ev.DeviceID {
			c.state.DeviceID = ev.DeviceID
			b.pending = ""
		}
		c.mu.Unlock()
		return

	case EventNotReady:
		if c.state.DeviceID == ev.DeviceID {
			c.state.DeviceID = ""
		}
		if b.pending == ev.DeviceID {
			b.pending = ""
		}
		c.mu.Unlock()
		c.logger.Warn("playback device went offline", "device_id", ev.DeviceID)
		return

	case EventStateChanged:
		if ev.State != nil {
			c.state.ActiveTrackURI = ev.State.TrackURI
			c.state.Paused = ev.State.Paused
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
}

// settle applies the events b's device has already queued, so a device published after Ready
// carries the state it reported alongside it.
func (c *Coordinator) settle(ctx context.Context, b *binding) {
	events := b.device.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handle(ctx, b, ev)
		default:
			return
		}
	}
}

// Binding returns the current playback binding. ok is false when no device is bound.
// DeviceID is set once a ready device has been made active and its queued state applied.
func (c *Coordinator) Binding() (models.PlaybackBinding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.live != nil
}

type action string

const (
	actionPlay   action = "play"
	actionResume action = "resume"
	actionPause  action = "pause"
)

// Toggle plays uri if it is not the active track, otherwise resumes or pauses it.
//
// The binding is updated before the control calls are issued and is left as is if they fail.
// Failures are posted and returned.
func (c *Coordinator) Toggle(ctx context.Context, uri string) error {
	if uri == "" {
		return fmt.Errorf("%w: empty track uri", shared.ErrInvalidInput)
	}

	c.mu.Lock()
	if c.live == nil || c.state.DeviceID == "" {
		c.mu.Unlock()
		c.post("No playback device is available yet.")
		return shared.ErrDeviceUnavailable
	}
	token, ok := c.session.UserToken()
	if !ok {
		c.mu.Unlock()
		return shared.ErrNotAuthenticated
	}

	deviceID := c.state.DeviceID
	var act action
	switch {
	case uri != c.state.ActiveTrackURI:
		act = actionPlay
		c.state.ActiveTrackURI = uri
		c.state.Paused = false
	case c.state.Paused:
		act = actionResume
		c.state.Paused = false
	default:
		act = actionPause
		c.state.Paused = true
	}
	c.mu.Unlock()

	c.logger.Debug("toggle", "action", act, "uri", uri, "device_id", deviceID)

	var err error
	switch act {
	case actionPlay:
		if err = c.control.TransferPlayback(ctx, token, deviceID, false); err == nil {
			err = c.control.PlayURI(ctx, token, deviceID, uri)
		}
	case actionResume:
		if err = c.control.TransferPlayback(ctx, token, deviceID, false); err == nil {
			err = c.control.Resume(ctx, token, deviceID)
		}
	case actionPause:
		err = c.control.Pause(ctx, token, deviceID)
	}

	if err != nil {
		c.logger.Warn("playback control failed", "action", act, "error", err)
		c.post("Playback failed: %v", err)
		return err
	}
	return nil
}

// SetVolume sets the bound device's volume, level in [0, 1].
func (c *Coordinator) SetVolume(ctx context.Context, level float64) error {
	c.mu.Lock()
	b := c.live
	c.mu.Unlock()
	if b == nil {
		c.post("No playback device is available yet.")
		return shared.ErrDeviceUnavailable
	}

	level = min(max(level, 0), 1)
	if err := b.device.SetVolume(ctx, level); err != nil {
		c.post("Could not change the volume: %v", err)
		return err
	}
	return nil
}

func (c *Coordinator) post(format string, args ...any) {
	if c.poster != nil {
		c.poster.Post(format, args...)
	}
}
