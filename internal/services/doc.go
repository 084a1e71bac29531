// Package services talks to the streaming provider.
//
// # Token Gateway
//
// [TokenGateway] performs the three token endpoint grants (authorization code with PKCE,
// refresh token, client credentials) through [golang.org/x/oauth2] and normalizes every
// response into a [models.Credential] whose expiry is now + expires_in - 30s.
//
// Failures are wrapped with the matching sentinel from the shared package:
//   - [shared.ErrExchangeFailed] : authorization code exchange
//   - [shared.ErrRefreshFailed] : refresh token grant
//   - [shared.ErrClientAuthFailed] : client credentials grant
//
// # Web API
//
// [SpotifyService] wraps the zmb3 Spotify client for the bearer-authenticated endpoints the
// app uses: the profile, track search, and the player control plane (device transfer,
// play with URI, resume, pause, volume). Every call takes the bearer token explicitly, so
// the caller decides which credential a request runs under. Failures wrap [shared.ErrNetworkFailure].
//
// [SearchCache] memoizes search pages in an LRU keyed by query and offset.
package services
