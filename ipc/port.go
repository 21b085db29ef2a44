package ipc

import (
	"corvid/defs"
	"corvid/hashtable"
	"corvid/ksync"
	"corvid/ustr"
)

// Port is a named rendezvous point (spec.md §3 "Port"): a server Listens
// on a name, clients Open a Connection to it, and the server Accepts
// each incoming connection's server-side Connection off a bounded
// backlog.
type Port struct {
	name    string
	backlog int

	sp      ksync.Spinlock
	pending []*Connection
	waiting ksync.WaitQueue
	closed  bool
}

// Registry is the global, process-wide port namespace (spec.md §4.8
// "Global port registry"), the top of the lock-ordering chain spec.md §5
// names. Grounded on corvid/hashtable (itself adapted from Biscuit's
// Hashtable_t) for the name -> *Port lookup.
type Registry struct {
	ports *hashtable.Table[*Port]
}

// NewRegistry creates an empty port registry.
func NewRegistry() *Registry {
	return &Registry{ports: hashtable.New[*Port](64)}
}

// Listen registers a new port under name with the given pending-
// connection backlog, failing with EEXIST if the name is already taken.
// name is canonicalized (corvid/ustr.Canonicalize) before use as the
// registry key, so two user programs spelling the same name with
// different Unicode representations still collide as intended rather than
// silently coexisting under distinct keys.
func (r *Registry) Listen(name string, backlog int) (*Port, defs.Err_t) {
	if backlog <= 0 {
		panic("ipc: backlog must be positive")
	}
	name = ustr.Canonicalize(name)
	p := &Port{name: name, backlog: backlog}
	if !r.ports.Set(name, p) {
		return nil, defs.EEXIST
	}
	return p, defs.EOK
}

// Open connects to the port registered under name, returning the
// client-side Connection. The server side is queued on the port's
// backlog for a subsequent Accept.
func (r *Registry) Open(name string) (*Connection, defs.Err_t) {
	p, ok := r.ports.Get(ustr.Canonicalize(name))
	if !ok {
		return nil, defs.ENOTFOUND
	}

	client, server := newPair(defs.QueueMax)

	p.sp.Lock()
	if p.closed {
		p.sp.Unlock()
		return nil, defs.EDESTUNREACH
	}
	if len(p.pending) >= p.backlog {
		p.sp.Unlock()
		return nil, defs.EDESTUNREACH
	}
	p.pending = append(p.pending, server)
	p.sp.Unlock()
	p.waiting.NotifyOne()

	return client, defs.EOK
}

// Accept blocks until a pending connection arrives, the port closes, or
// the wait times out/is interrupted.
func (p *Port) Accept(timeoutUsec int64, interrupt <-chan struct{}) (*Connection, defs.Err_t) {
	p.sp.Lock()
	for {
		if len(p.pending) > 0 {
			c := p.pending[0]
			p.pending = p.pending[1:]
			p.sp.Unlock()
			return c, defs.EOK
		}
		if p.closed {
			p.sp.Unlock()
			return nil, defs.EDESTUNREACH
		}
		status := p.waiting.Wait(&p.sp, timeoutUsec, interrupt)
		if status != ksync.WakeNormal {
			p.sp.Unlock()
			return nil, wakeStatusErr(status)
		}
	}
}

// Name returns the name this port was registered under.
func (p *Port) Name() string { return p.name }

// Close unregisters the port and hangs up every still-pending connection
// (spec.md §4.8 "port-close"): a client that already Opened but was never
// Accepted sees its peer close, exactly as if the server had hung up
// immediately after accepting.
func (r *Registry) Close(p *Port) defs.Err_t {
	r.ports.Del(p.name)

	p.sp.Lock()
	if p.closed {
		p.sp.Unlock()
		return defs.EOK
	}
	p.closed = true
	pending := p.pending
	p.pending = nil
	p.sp.Unlock()
	p.waiting.Broadcast()

	for _, c := range pending {
		c.Hangup()
	}
	return defs.EOK
}
