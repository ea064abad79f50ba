package i2np

import "sync"

// Pool recycles Message values to keep the hot parse/dispatch path free of
// per-message allocation (spec.md §5 "Memory": "I2NP messages circulate
// through a pool to avoid per-message allocation").
type Pool struct {
	pool sync.Pool
}

// NewPool returns a ready-to-use message pool.
func NewPool() *Pool {
	return &Pool{pool: sync.Pool{New: func() any { return new(Message) }}}
}

// Get returns a zeroed Message, either recycled or freshly allocated.
func (p *Pool) Get() *Message {
	m := p.pool.Get().(*Message)
	*m = Message{}
	return m
}

// Put returns m to the pool. Callers must not retain references to m or
// its Payload slice afterward.
func (p *Pool) Put(m *Message) {
	if m == nil {
		return
	}
	p.pool.Put(m)
}
