package venue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"mmhedge/internal/errors"
	"mmhedge/pkg/exception"
)

// Factory builds the client of one wallet, authenticating as needed.
type Factory func(ctx context.Context, wallet string) (Client, error)

// Pool shares one client per wallet across trader loops. Clients are
// reference counted and closed when the last lease is released.
type Pool struct {
	mu      sync.Mutex
	factory Factory
	entries map[string]*entry
	closed  bool
}

type entry struct {
	ready  chan struct{}
	client Client
	err    error
	refs   int
}

// NewPool creates an empty pool.
func NewPool(factory Factory) *Pool {
	return &Pool{
		factory: factory,
		entries: make(map[string]*entry),
	}
}

// Lease is one loop's handle on a shared client.
type Lease struct {
	Client
	pool     *Pool
	wallet   string
	released atomic.Bool
}

// Wallet returns the wallet the lease belongs to.
func (l *Lease) Wallet() string {
	return l.wallet
}

// Release gives the client back. The second call returns ErrLeaseReleased.
func (l *Lease) Release() error {
	if l.released.Swap(true) {
		return exception.ErrLeaseReleased
	}
	return l.pool.release(l.wallet)
}

// Acquire returns a lease on the wallet client, creating it on first use.
// Concurrent callers for the same wallet share one creation.
func (p *Pool) Acquire(ctx context.Context, wallet string) (*Lease, error) {
	e, err := p.get(ctx, wallet, true)
	if err != nil {
		return nil, err
	}
	return &Lease{Client: e.client, pool: p, wallet: wallet}, nil
}

// Warm creates the clients of every wallet concurrently without taking leases.
func (p *Pool) Warm(ctx context.Context, wallets []string) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, w := range wallets {
		eg.Go(func() error {
			_, err := p.get(ctx, w, false)
			return err
		})
	}
	return eg.Wait()
}

// Refs returns the number of live leases on wallet.
func (p *Pool) Refs(wallet string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[wallet]; ok {
		return e.refs
	}
	return 0
}

// Close tears down every client regardless of outstanding leases.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	var first error
	for wallet, e := range entries {
		<-e.ready
		if e.client == nil {
			continue
		}
		if err := e.client.Close(); err != nil {
			logs.Errorf("close venue client, wallet: %s, err: %+v", wallet, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (p *Pool) get(ctx context.Context, wallet string, lease bool) (*entry, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, exception.ErrPoolClosed
	}
	e, ok := p.entries[wallet]
	if !ok {
		e = &entry{ready: make(chan struct{})}
		p.entries[wallet] = e
	}
	if lease {
		e.refs++
	}
	p.mu.Unlock()

	if !ok {
		e.client, e.err = p.factory(ctx, wallet)
		if e.err != nil {
			e.err = errors.Wrapf(e.err, "create client for wallet %s", wallet)
		}
		close(e.ready)
	}

	select {
	case <-e.ready:
	case <-ctx.Done():
		p.drop(wallet, e, lease, false)
		return nil, ctx.Err()
	}

	if e.err != nil {
		p.drop(wallet, e, lease, true)
		return nil, e.err
	}
	return e, nil
}

// drop undoes a failed get. A failed entry is forgotten so the next call retries.
func (p *Pool) drop(wallet string, e *entry, lease, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if lease {
		e.refs--
	}
	if cur, ok := p.entries[wallet]; ok && cur == e && failed {
		delete(p.entries, wallet)
	}
}

func (p *Pool) release(wallet string) error {
	p.mu.Lock()
	e, ok := p.entries[wallet]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	e.refs--
	if e.refs > 0 {
		p.mu.Unlock()
		return nil
	}
	delete(p.entries, wallet)
	p.mu.Unlock()

	logs.Infof("last lease released, closing venue client, wallet: %s", wallet)
	return e.client.Close()
}
