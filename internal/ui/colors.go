package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/deemusic/internal/models"
)

// Styles is the default palette.
var Styles = NewPalette("#1DB954", "#04B575", "#E22134", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

func (p *Palette) Title(s string) string { return p.title.Render(s) }
func (p *Palette) OK(s string) string    { return p.ok.Render(s) }
func (p *Palette) Err(s string) string   { return p.err.Render(s) }
func (p *Palette) Warn(s string) string  { return p.warn.Render(s) }
func (p *Palette) Help(s string) string  { return p.help.Render(s) }

// Session renders the session kind, colored by whether a user is signed in.
func (p *Palette) Session(s models.SessionState) string {
	switch {
	case s.LoggedIn():
		return p.OK(s.Kind.String())
	case s.Kind == models.SessionExpired:
		return p.Err(s.Kind.String())
	default:
		return p.Warn(s.Kind.String())
	}
}

// Expiry renders how long until t, relative to now.
func (p *Palette) Expiry(t, now time.Time) string {
	left := t.Sub(now).Round(time.Second)
	if left <= 0 {
		return p.Err("expired")
	}
	return p.Help(fmt.Sprintf("expires in %s (%s)", left, t.Local().Format(time.Kitchen)))
}
