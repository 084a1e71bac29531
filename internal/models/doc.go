// Package models defines the domain values shared by the session, playback and search layers.
//
//   - [Credential] : access token, optional refresh token and the locally tracked expiry
//   - [SessionState] : the derived login state owned by the auth controller
//   - [PlaybackBinding] : which device this session controls and what it is playing
//   - [Track] : a search result row
//
// Credentials are immutable values; transitions replace them wholesale.
package models
