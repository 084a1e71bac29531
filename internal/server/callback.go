package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/deemusic/internal/shared"
)

// CallbackExchanger completes a login from the callback location.
type CallbackExchanger interface {
	HandleCallback(ctx context.Context, location *url.URL) error
}

// CallbackHandler serves the authorization redirect target.
// Implements the Handler interface for registration with a Router.
type CallbackHandler struct {
	auth     CallbackExchanger
	path     string
	redirect string
	logger   *log.Logger

	resultChan chan error
	once       sync.Once
}

// NewCallbackHandler creates a handler for path.
//
// A non-empty redirect sends the browser there after the exchange, success or not. An empty redirect
// writes a confirmation page instead.
func NewCallbackHandler(auth CallbackExchanger, path, redirect string, logger *log.Logger) *CallbackHandler {
	return &CallbackHandler{
		auth:       auth,
		path:       path,
		redirect:   redirect,
		logger:     shared.WithLogger(logger, "component", "callback"),
		resultChan: make(chan error, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *CallbackHandler) Routes() []string {
	return []string{h.path}
}

// ServeHTTP hands the callback to the controller and reports the outcome.
func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := h.auth.HandleCallback(r.Context(), r.URL)
	h.Send(err)
	if err != nil {
		h.logger.Warn("callback did not complete a login", "error", err)
	}

	if h.redirect != "" {
		http.Redirect(w, r, h.redirect, http.StatusSeeOther)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, callbackPage, "#E22134", "✗ Login Failed", "Return to the terminal and run login again.")
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, callbackPage, "#1DB954", "✓ Logged In", "You can close this window and return to the terminal.")
}

// Send delivers the outcome of the first callback.
func (h *CallbackHandler) Send(err error) {
	h.once.Do(func() {
		h.resultChan <- err
		close(h.resultChan)
	})
}

// Result receives the outcome of the first callback and is then closed.
func (h *CallbackHandler) Result() <-chan error {
	return h.resultChan
}

const callbackPage = `<!DOCTYPE html>
<html>
<head>
    <title>DeeMusic</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: %s; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>%s</h1>
        <p>%s</p>
    </div>
</body>
</html>
`
