// Package mock provides test doubles for the stt package interfaces.
//
// Provider answers immediately with Result/Err by default. Set Hold to park
// every call until the test completes it through the returned [Call], which
// makes out-of-order completion deterministic:
//
//	p := &mock.Provider{Hold: true}
//	go pipeline.Submit(a); go pipeline.Submit(b)
//	calls := p.WaitCalls(t, 2)
//	calls[1].Succeed("second")
//	calls[0].Fail(errors.New("boom"))
package mock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/speechblobs/pkg/provider/stt"
)

// Call is one recorded Transcribe invocation.
type Call struct {
	// Req is the request passed to Transcribe.
	Req stt.Request

	reply chan result
}

type result struct {
	tr  stt.Transcript
	err error
}

// Succeed completes a held call with text.
func (c *Call) Succeed(text string) { c.reply <- result{tr: stt.Transcript{Text: text}} }

// Fail completes a held call with err.
func (c *Call) Fail(err error) { c.reply <- result{err: err} }

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Hold is false.
	Result stt.Transcript

	// Err, if non-nil, is returned by Transcribe when Hold is false.
	Err error

	// Hold parks every call until it is completed via its Call.
	Hold bool

	// Calls records every invocation in arrival order.
	Calls []*Call

	notify chan struct{}
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	c := &Call{Req: req, reply: make(chan result, 1)}
	p.mu.Lock()
	p.Calls = append(p.Calls, c)
	hold, res, err := p.Hold, p.Result, p.Err
	if p.notify != nil {
		close(p.notify)
		p.notify = nil
	}
	p.mu.Unlock()

	if !hold {
		return res, err
	}
	select {
	case r := <-c.reply:
		return r.tr, r.err
	case <-ctx.Done():
		return stt.Transcript{}, ctx.Err()
	}
}

// CallCount returns the number of Transcribe invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// WaitCalls blocks until at least n calls have arrived and returns the first
// n. It fails the test after two seconds.
func (p *Provider) WaitCalls(t testing.TB, n int) []*Call {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		p.mu.Lock()
		if len(p.Calls) >= n {
			calls := append([]*Call(nil), p.Calls[:n]...)
			p.mu.Unlock()
			return calls
		}
		if p.notify == nil {
			p.notify = make(chan struct{})
		}
		ch := p.notify
		p.mu.Unlock()

		select {
		case <-ch:
		case <-deadline:
			t.Fatalf("mock stt: waited for %d calls, got %d", n, p.CallCount())
			return nil
		}
	}
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
