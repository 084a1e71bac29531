package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrExchangeFailed   = fmt.Errorf("authorization code exchange failed")
	ErrRefreshFailed    = fmt.Errorf("token refresh failed")
	ErrClientAuthFailed = fmt.Errorf("client credentials grant failed")
	ErrMissingVerifier  = fmt.Errorf("no code verifier stored for this login attempt")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrAlreadyBooted    = fmt.Errorf("session already booted")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// API and playback errors
	ErrNetworkFailure    = fmt.Errorf("network request failed")
	ErrDeviceUnavailable = fmt.Errorf("no playback device available")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
