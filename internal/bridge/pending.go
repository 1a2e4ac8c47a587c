package bridge

import (
	"sync"

	"cdpintercept/internal/exchange"
)

// pendingSet tracks in-flight exchanges so shutdown can abort them.
type pendingSet struct {
	mu sync.Mutex
	m  map[string]*exchange.Exchange
}

func newPendingSet() *pendingSet {
	return &pendingSet{m: make(map[string]*exchange.Exchange)}
}

func (p *pendingSet) add(x *exchange.Exchange) {
	p.mu.Lock()
	p.m[x.ID] = x
	p.mu.Unlock()
}

func (p *pendingSet) remove(id string) {
	p.mu.Lock()
	delete(p.m, id)
	p.mu.Unlock()
}

func (p *pendingSet) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// drain empties the set and returns what was pending.
func (p *pendingSet) drain() []*exchange.Exchange {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*exchange.Exchange, 0, len(p.m))
	for _, x := range p.m {
		out = append(out, x)
	}
	p.m = make(map[string]*exchange.Exchange)
	return out
}
