// Package notify shows short-lived status messages to the user.
//
// The [Center] holds at most one notification. Showing a new one dismisses
// whatever was visible before (dismiss-then-show); nothing is persisted.
package notify

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Level classifies a notification.
type Level int

const (
	// LevelInfo is a neutral status message.
	LevelInfo Level = iota

	// LevelError reports a failure.
	LevelError
)

// String returns "info" or "error".
func (l Level) String() string {
	if l == LevelError {
		return "error"
	}
	return "info"
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText decodes "info" or "error".
func (l *Level) UnmarshalText(text []byte) error {
	switch string(text) {
	case "info":
		*l = LevelInfo
	case "error":
		*l = LevelError
	default:
		return fmt.Errorf("notify: unknown level %q", text)
	}
	return nil
}

// Messages shown by the dictation session.
const (
	MsgWaiting            = "Waiting for dictation..."
	MsgRecording          = "Recording..."
	MsgMicrophoneError    = "Microphone error!"
	MsgTranscriptionError = "Transcription Error!"
	MsgMissingCredential  = "No API key configured!"
	MsgPlaybackError      = "Playback Error!"
)

// Notification is one transient message.
type Notification struct {
	ID      uint64    `json:"id"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier is what producers of notifications depend on.
type Notifier interface {
	Info(msg string)
	Error(msg string)
}

// DefaultTTL is how long a notification stays visible when no TTL is
// configured.
const DefaultTTL = 4 * time.Second

// Center is a single-slot [Notifier]. Listeners receive every shown
// notification and a nil value when the slot is cleared.
type Center struct {
	ttl time.Duration

	mu        sync.Mutex
	current   *Notification
	nextID    uint64
	timer     *time.Timer
	listeners []func(*Notification)
}

// NewCenter returns a Center whose notifications expire after ttl. A ttl of
// zero uses [DefaultTTL]; a negative ttl disables expiry.
func NewCenter(ttl time.Duration) *Center {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Center{ttl: ttl}
}

// OnChange registers fn. It is called without the center's lock held.
func (c *Center) OnChange(fn func(*Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Info shows an informational notification.
func (c *Center) Info(msg string) { c.show(LevelInfo, msg) }

// Error shows an error notification.
func (c *Center) Error(msg string) { c.show(LevelError, msg) }

// Current returns the visible notification, if any.
func (c *Center) Current() (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Notification{}, false
	}
	return *c.current, true
}

// Dismiss clears the visible notification.
func (c *Center) Dismiss() {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return
	}
	c.current = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	fns := c.snapshotListeners()
	c.mu.Unlock()
	for _, fn := range fns {
		fn(nil)
	}
}

func (c *Center) show(level Level, msg string) {
	if level == LevelError {
		slog.Warn("notify", "message", msg)
	} else {
		slog.Debug("notify", "message", msg)
	}

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.nextID++
	n := &Notification{ID: c.nextID, Level: level, Message: msg, At: time.Now()}
	c.current = n
	if c.ttl > 0 {
		id := n.ID
		c.timer = time.AfterFunc(c.ttl, func() { c.expire(id) })
	}
	fns := c.snapshotListeners()
	c.mu.Unlock()

	cp := *n
	for _, fn := range fns {
		fn(&cp)
	}
}

func (c *Center) expire(id uint64) {
	c.mu.Lock()
	if c.current == nil || c.current.ID != id {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.timer = nil
	fns := c.snapshotListeners()
	c.mu.Unlock()
	for _, fn := range fns {
		fn(nil)
	}
}

// snapshotListeners copies the listener list. Callers hold c.mu.
func (c *Center) snapshotListeners() []func(*Notification) {
	return slices.Clone(c.listeners)
}

// Discard is a Notifier that drops everything.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Info(string)  {}
func (discard) Error(string) {}

var _ Notifier = (*Center)(nil)
