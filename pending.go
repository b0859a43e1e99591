package ctecache

import "sync"

// pendingTable holds handles that were evicted or invalidated while still
// pinned. The nesting by creation time allows multiple generations of the
// same fingerprint to await deletion at once.
type pendingTable struct {
	mu      sync.Mutex
	entries map[Fingerprint]map[int64]*Handle
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		entries: make(map[Fingerprint]map[int64]*Handle),
	}
}

func (p *pendingTable) park(fp Fingerprint, createTime int64, h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inner, ok := p.entries[fp]
	if !ok {
		inner = make(map[int64]*Handle)
		p.entries[fp] = inner
	}
	inner[createTime] = h
}

func (p *pendingTable) get(fp Fingerprint, createTime int64) (*Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inner, ok := p.entries[fp]
	if !ok {
		return nil, false
	}
	h, ok := inner[createTime]
	return h, ok
}

func (p *pendingTable) remove(fp Fingerprint, createTime int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inner, ok := p.entries[fp]
	if !ok {
		return
	}
	delete(inner, createTime)
	if len(inner) == 0 {
		delete(p.entries, fp)
	}
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, inner := range p.entries {
		n += len(inner)
	}
	return n
}
