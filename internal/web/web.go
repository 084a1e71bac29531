// Package web renders the app shell served at "/".
//
// The page shows the session (anonymous or logged in, with the display name once the profile has
// loaded), the current banner message and the playback binding, and posts to the JSON API for
// login, logout and playback.
package web

import (
	"embed"
	"html/template"
	"io"
	"time"

	"github.com/desertthunder/deemusic/internal/models"
)

//go:embed templates/*.html
var files embed.FS

var index = template.Must(template.New("index.html").Funcs(template.FuncMap{
	"clock": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Local().Format("15:04:05")
	},
}).ParseFS(files, "templates/index.html"))

// Page is the data the index template renders.
type Page struct {
	State       string
	LoggedIn    bool
	DisplayName string
	ExpiresAt   *time.Time
	Message     string
	Bound       bool
	Playback    models.PlaybackBinding
}

// Render writes the index page.
func Render(w io.Writer, p Page) error {
	return index.Execute(w, p)
}
