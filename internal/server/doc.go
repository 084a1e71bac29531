// Package server hosts the app over HTTP.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
// [RequestID], [Logging] and [Recover] are the stack every app route runs behind.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Authorization Callback
//
// [CallbackHandler] serves the redirect target of the PKCE login. It hands the callback location to the
// auth controller, which exchanges the code using the verifier stored at login. When the app is being
// served the browser is then sent back to "/", otherwise a confirmation page is written and the outcome
// is delivered once on [CallbackHandler.Result] so a CLI login can finish.
//
// # App API
//
// [NewApp] wires the controller, search cache, playback coordinator and message banner behind JSON routes:
//
//	GET  /api/session        session kind, expiry and profile
//	POST /api/login          start a login (303 to the authorization endpoint)
//	POST /api/logout         end the session
//	GET  /api/search         track search with ?q= and ?offset=
//	GET  /api/player         current playback binding
//	POST /api/player/toggle  play, resume or pause {"uri": ...}
//	POST /api/player/volume  set volume {"level": 0..1}
//	GET  /api/messages       the visible banner message
//	GET  /metrics            Prometheus metrics
package server
