// Package auth owns the login session.
//
// A [Controller] is the single writer of the session state. It decides at boot whether the
// current location is an authorization callback, a returning session, or an anonymous visit,
// runs the PKCE login, and hands out bearer tokens: the user token while logged in, an
// app-only client-credentials token otherwise.
//
// While a refreshable user credential is held, the controller keeps one refresh timer armed
// (see [RefreshDelay]). A failed refresh logs the user out and posts a message.
//
// Every transition is stamped with an epoch. Network responses and timers carry the epoch they
// started under and are dropped if the session moved on in the meantime.
package auth
