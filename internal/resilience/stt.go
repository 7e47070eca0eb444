package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/speechblobs/pkg/provider/stt"
)

// STTBreaker wraps an [stt.Provider] with a [CircuitBreaker]. Every
// Transcribe call is attempted at most once.
type STTBreaker struct {
	provider stt.Provider
	cb       *CircuitBreaker
}

// NewSTTBreaker returns a guarded provider.
func NewSTTBreaker(p stt.Provider, cfg CircuitBreakerConfig) *STTBreaker {
	return &STTBreaker{provider: p, cb: NewCircuitBreaker(cfg)}
}

// Transcribe implements [stt.Provider]. While the breaker is open it returns
// an error wrapping [ErrCircuitOpen] without contacting the backend.
func (b *STTBreaker) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	var tr stt.Transcript
	err := b.cb.Execute(func() error {
		var err error
		tr, err = b.provider.Transcribe(ctx, req)
		return err
	})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("resilience: %s: %w", b.cb.name, err)
	}
	return tr, nil
}

// Breaker exposes the underlying breaker for health checks and resets.
func (b *STTBreaker) Breaker() *CircuitBreaker { return b.cb }

var _ stt.Provider = (*STTBreaker)(nil)
