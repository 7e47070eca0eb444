package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/speechblobs/pkg/audio"
	"github.com/MrWong99/speechblobs/pkg/provider/stt"
	"github.com/MrWong99/speechblobs/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	stt      map[string]func(ProviderEntry) (stt.Provider, error)
	vad      map[string]func(ProviderEntry) (vad.Engine, error)
	capture  map[string]func(ProviderEntry) (audio.Capture, error)
	playback map[string]func(ProviderEntry) (audio.Player, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:      make(map[string]func(ProviderEntry) (stt.Provider, error)),
		vad:      make(map[string]func(ProviderEntry) (vad.Engine, error)),
		capture:  make(map[string]func(ProviderEntry) (audio.Capture, error)),
		playback: make(map[string]func(ProviderEntry) (audio.Player, error)),
	}
}

// RegisterSTT registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterCapture registers a microphone capture factory under name.
func (r *Registry) RegisterCapture(name string, factory func(ProviderEntry) (audio.Capture, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterPlayback registers an audio player factory under name.
func (r *Registry) RegisterPlayback(name string, factory func(ProviderEntry) (audio.Player, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playback[name] = factory
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	return create(r, r.vad, "vad", entry)
}

// CreateCapture instantiates a capture device using the factory registered under entry.Name.
func (r *Registry) CreateCapture(entry ProviderEntry) (audio.Capture, error) {
	return create(r, r.capture, "capture", entry)
}

// CreatePlayback instantiates a player using the factory registered under entry.Name.
func (r *Registry) CreatePlayback(entry ProviderEntry) (audio.Player, error) {
	return create(r, r.playback, "playback", entry)
}

// Names returns the sorted provider names registered for kind ("stt",
// "vad", "capture" or "playback").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "stt":
		names = keys(r.stt)
	case "vad":
		names = keys(r.vad)
	case "capture":
		names = keys(r.capture)
	case "playback":
		names = keys(r.playback)
	}
	slices.Sort(names)
	return names
}

func create[T any](r *Registry, factories map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
