// Package notify implements the single user-visible message channel.
//
// Every failure that reaches the user is posted here as one transient message; posting
// replaces the current message and each message clears itself after [DefaultTTL].
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/deemusic/internal/clock"
	"github.com/desertthunder/deemusic/internal/shared"
)

// DefaultTTL is how long a message stays visible.
const DefaultTTL = 4 * time.Second

// Message is one posted banner message. A zero Text means the banner was cleared.
type Message struct {
	ID       string    `json:"id,omitempty"`
	Text     string    `json:"text"`
	PostedAt time.Time `json:"posted_at,omitempty"`
}

// Poster is the write side of the banner used by components that surface failures.
type Poster interface {
	Post(format string, args ...any)
}

// Banner holds at most one current message.
type Banner struct {
	mu          sync.Mutex
	clock       clock.Clock
	ttl         time.Duration
	current     Message
	timer       clock.Timer
	subscribers []func(Message)
	logger      *log.Logger
}

// NewBanner creates a banner. A nil clock uses wall time; ttl <= 0 uses [DefaultTTL].
func NewBanner(c clock.Clock, ttl time.Duration, logger *log.Logger) *Banner {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Banner{clock: clock.OrReal(c), ttl: ttl, logger: shared.WithLogger(logger, "component", "banner")}
}

// Post replaces the current message and arms its auto-clear.
func (b *Banner) Post(format string, args ...any) {
	msg := Message{
		ID:       shared.GenerateID(),
		Text:     fmt.Sprintf(format, args...),
		PostedAt: b.clock.Now(),
	}

	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.current = msg
	id := msg.ID
	b.timer = b.clock.AfterFunc(b.ttl, func() { b.clear(id) })
	subs := append([]func(Message){}, b.subscribers...)
	b.mu.Unlock()

	b.logger.Info("message posted", "text", msg.Text)
	for _, fn := range subs {
		fn(msg)
	}
}

// clear drops the current message only if it is still the one identified by id.
func (b *Banner) clear(id string) {
	b.mu.Lock()
	if b.current.ID != id {
		b.mu.Unlock()
		return
	}
	b.current = Message{}
	b.timer = nil
	subs := append([]func(Message){}, b.subscribers...)
	b.mu.Unlock()

	for _, fn := range subs {
		fn(Message{})
	}
}

// Current returns the visible message, if any.
func (b *Banner) Current() (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, b.current.Text != ""
}

// Subscribe registers fn to receive every posted and cleared message.
func (b *Banner) Subscribe(fn func(Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}
