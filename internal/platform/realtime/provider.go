package realtime

import (
	"context"
	"sync"
)

// Provider owns the process-wide Channel. The first Get builds and starts
// it; later calls return the same instance until Reset.
type Provider struct {
	mu      sync.Mutex
	ch      *Channel
	factory func() *Channel
	ctx     context.Context
	builds  int
}

// NewProvider creates a Provider that builds channels with factory and
// runs them under ctx.
func NewProvider(ctx context.Context, factory func() *Channel) *Provider {
	return &Provider{ctx: ctx, factory: factory}
}

// Get returns the shared Channel, creating it on first use.
func (p *Provider) Get() *Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		p.ch = p.factory()
		p.ch.Start(p.ctx)
		p.builds++
	}
	return p.ch
}

// Reset closes the shared Channel; the next Get builds a fresh one. It is
// registered as a session logout hook.
func (p *Provider) Reset() {
	p.mu.Lock()
	ch := p.ch
	p.ch = nil
	p.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

// Builds returns how many channels the provider has created.
func (p *Provider) Builds() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.builds
}
