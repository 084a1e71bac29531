// Package player keeps a playback device bound to the logged-in session.
//
// The [Coordinator] watches the auth session. When a login session starts it creates exactly one
// [Device] for it and drains the device's events on a single goroutine: Ready registers the
// device as the active playback target, StateChanged mirrors the paused flag and current track
// into the [models.PlaybackBinding]. When the session ends the device is disconnected and the
// binding cleared.
//
// [Coordinator.Toggle] plays, resumes or pauses a track. Local state is updated optimistically
// and is not rolled back when a control call fails; the next device state event reconciles it.
//
// [RemoteDevice] is a [Device] backed by a Spotify Connect device found by polling the Web API.
package player
