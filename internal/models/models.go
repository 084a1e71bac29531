package models

import (
	"fmt"
	"time"
)

// ExpirySkew is subtracted from every provider-reported token lifetime so local expiry
// is always reached before the provider invalidates the token.
const ExpirySkew = 30 * time.Second

// Credential is a bearer token with its refresh token and absolute expiry.
//
// An empty RefreshToken marks a client-level (app-only) credential that is never refreshed.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// NewCredential builds a Credential whose expiry is now + lifetime - [ExpirySkew].
func NewCredential(accessToken, refreshToken string, lifetime time.Duration, now time.Time) Credential {
	return Credential{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(lifetime - ExpirySkew),
	}
}

// Refreshable reports whether the credential carries a refresh token.
func (c Credential) Refreshable() bool {
	return c.RefreshToken != ""
}

// ValidAt reports whether the credential is usable at t (expiry strictly in the future).
func (c Credential) ValidAt(t time.Time) bool {
	return c.AccessToken != "" && c.ExpiresAt.After(t)
}

// Validate checks the credential has the fields a bearer request needs.
func (c Credential) Validate() error {
	if c.AccessToken == "" {
		return fmt.Errorf("credential has no access token")
	}
	if c.ExpiresAt.IsZero() {
		return fmt.Errorf("credential has no expiry")
	}
	return nil
}

// SessionKind enumerates the states of the auth state machine.
type SessionKind int

const (
	SessionBooting SessionKind = iota
	SessionAnonymous
	SessionAuthenticated
	SessionRefreshing
	SessionExpired
)

func (k SessionKind) String() string {
	switch k {
	case SessionBooting:
		return "booting"
	case SessionAnonymous:
		return "anonymous"
	case SessionAuthenticated:
		return "authenticated"
	case SessionRefreshing:
		return "refreshing"
	case SessionExpired:
		return "expired"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// SessionState is the derived session value. Credential is only set for
// [SessionAuthenticated] and [SessionRefreshing].
type SessionState struct {
	Kind       SessionKind
	Credential *Credential
	Epoch      uint64
}

// LoggedIn reports whether a user credential is active (refreshing counts: the stale token stays usable).
func (s SessionState) LoggedIn() bool {
	return (s.Kind == SessionAuthenticated || s.Kind == SessionRefreshing) && s.Credential != nil
}

// PlaybackBinding records the device this session controls and its mirrored playback state.
type PlaybackBinding struct {
	DeviceID       string `json:"device_id"`
	ActiveTrackURI string `json:"active_track_uri,omitempty"`
	Paused         bool   `json:"paused"`
}

// DeviceInfo describes a Connect device as reported by the provider.
type DeviceInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Active bool   `json:"active"`
	Volume int    `json:"volume"`
}

// PlaybackSnapshot is the provider's view of what a device is playing.
type PlaybackSnapshot struct {
	DeviceID string `json:"device_id"`
	TrackURI string `json:"track_uri,omitempty"`
	Paused   bool   `json:"paused"`
}

// Profile is the subset of the user profile the app displays.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Track is a search result.
type Track struct {
	ID       string        `json:"id"`
	URI      string        `json:"uri"`
	Title    string        `json:"title"`
	Artist   string        `json:"artist"`
	Album    string        `json:"album"`
	Duration time.Duration `json:"duration"`
	Preview  string        `json:"preview_url,omitempty"`
}

// SearchPage is one page of track search results.
type SearchPage struct {
	Query  string  `json:"query"`
	Offset int     `json:"offset"`
	Total  int     `json:"total"`
	Tracks []Track `json:"tracks"`
}
