package player

import "context"

// EventKind is the kind of a device [Event].
type EventKind int

const (
	EventReady EventKind = iota
	EventNotReady
	EventStateChanged
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventNotReady:
		return "not_ready"
	case EventStateChanged:
		return "state_changed"
	default:
		return "unknown"
	}
}

// DeviceState is what a device reports it is playing.
type DeviceState struct {
	Paused   bool
	TrackURI string
}

// Event is emitted by a [Device]. DeviceID is set for Ready and NotReady; State is set for
// StateChanged and may be nil when the device has nothing loaded.
type Event struct {
	Kind     EventKind
	DeviceID string
	State    *DeviceState
}

// Device is a playback device handle.
//
// Events are delivered on the channel returned by Events until Disconnect; a device closes the
// channel once it has stopped. A device that knows what it is playing when it becomes ready
// reports that state before Ready.
type Device interface {
	Connect(ctx context.Context) error
	Disconnect()
	SetVolume(ctx context.Context, level float64) error
	Events() <-chan Event
}

// TokenFunc returns the current user access token.
type TokenFunc func() (string, bool)

// DeviceFactory creates the device for one login session.
type DeviceFactory func(tokens TokenFunc) Device
