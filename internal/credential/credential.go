// Package credential holds the transcription API key and lets the rest of
// the program react when it changes.
package credential

import (
	"errors"
	"regexp"
	"strings"
	"sync"
)

// ErrMissing is returned by [Require] when no credential is configured.
var ErrMissing = errors.New("credential: no API key configured")

// openAIKey matches the legacy OpenAI secret key format.
var openAIKey = regexp.MustCompile(`^sk-[0-9a-zA-Z]{47,50}$`)

// LooksLikeOpenAIKey reports whether key has the shape of a classic OpenAI
// secret key. Project-scoped keys do not match; callers should warn rather
// than reject.
func LooksLikeOpenAIKey(key string) bool { return openAIKey.MatchString(key) }

// Source supplies the current credential.
type Source interface {
	Credential() string
}

// Require returns the source's credential, or ErrMissing when it is blank.
func Require(src Source) (string, error) {
	if src == nil {
		return "", ErrMissing
	}
	key := strings.TrimSpace(src.Credential())
	if key == "" {
		return "", ErrMissing
	}
	return key, nil
}

// Static is a fixed credential.
type Static string

// Credential implements [Source].
func (s Static) Credential() string { return string(s) }

// Store is a mutable [Source] with change notification.
type Store struct {
	mu     sync.RWMutex
	value  string
	subs   map[int]func(string)
	nextID int
}

// NewStore returns a Store holding initial.
func NewStore(initial string) *Store {
	return &Store{value: strings.TrimSpace(initial)}
}

// Credential implements [Source].
func (s *Store) Credential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set replaces the credential. Subscribers are notified only when the value
// actually changes.
func (s *Store) Set(value string) {
	value = strings.TrimSpace(value)
	s.mu.Lock()
	if value == s.value {
		s.mu.Unlock()
		return
	}
	s.value = value
	fns := make([]func(string), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(value)
	}
}

// Subscribe registers fn to be called with each new value. The returned
// function unsubscribes.
func (s *Store) Subscribe(fn func(string)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func(string))
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

var (
	_ Source = Static("")
	_ Source = (*Store)(nil)
)
