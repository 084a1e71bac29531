package server

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/deemusic/internal/shared"
)

// Navigator moves the user agent for the auth controller.
//
// With an opener, navigations go to it (the CLI opens the system browser). Without one, the
// navigation is held until the HTTP handler that triggered it sends the browser there.
type Navigator struct {
	open   func(url string) error
	logger *log.Logger

	mu       sync.Mutex
	pending  string
	location string
}

func NewNavigator(open func(url string) error, logger *log.Logger) *Navigator {
	return &Navigator{open: open, logger: shared.WithLogger(logger, "component", "navigator"), location: "/"}
}

func (n *Navigator) Navigate(url string) error {
	if n.open != nil {
		return n.open(url)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = url
	return nil
}

// ReplaceLocation records the location the app should show.
func (n *Navigator) ReplaceLocation(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.location = path
	n.logger.Debug("location replaced", "path", path)
}

// Take returns and clears the held navigation.
func (n *Navigator) Take() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	url := n.pending
	n.pending = ""
	return url, url != ""
}

// Location returns the last replaced location.
func (n *Navigator) Location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.location
}
