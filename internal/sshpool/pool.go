// Package sshpool implements C8 (§4.8): a process-wide, reference-counted
// pool of live SSH client handles keyed by (host, user, port, compress).
// Grounded on ssh_pool.py's acquire/release shape, adapted because Go has no
// atexit: callers must invoke CloseAll explicitly from their shutdown path
// rather than relying on automatic registration.
package sshpool

import (
	"fmt"
	"sync"
)

// Key identifies a pooled connection.
type Key struct {
	Host     string
	User     string
	Port     int
	Compress bool
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%s:%d(compress=%t)", k.User, k.Host, k.Port, k.Compress)
}

// Client is the slice of *golang.org/x/crypto/ssh.Client the pool depends
// on. Depending on this trait instead of the concrete type lets tests inject
// a fake connection instead of dialing a real host.
type Client interface {
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)
	Close() error
}

// Dialer creates a new Client for key. It is a constructor parameter rather
// than a hard-coded import, per the "pool's construction hook is a
// parameter" design note — tests inject a fake dialer instead of touching a
// real network.
type Dialer func(key Key) (Client, error)

type entry struct {
	client   Client
	refcount int
}

// Pool is safe for concurrent use. Its mutex guards only map bookkeeping,
// never I/O: dialing happens outside the lock.
type Pool struct {
	mu      sync.Mutex
	entries map[Key]*entry
	dial    Dialer
}

// New creates a pool that uses dial to establish new connections.
func New(dial Dialer) *Pool {
	return &Pool{
		entries: make(map[Key]*entry),
		dial:    dial,
	}
}

// Handle is a scoped reference to a pooled client. Callers must call Release
// exactly once, typically via defer, regardless of how the scope exits.
type Handle struct {
	pool   *Pool
	key    Key
	Client Client
}

// Release decrements the handle's refcount. The underlying connection is
// never closed here — only by CloseAll.
func (h *Handle) Release() {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()
	if e, ok := h.pool.entries[h.key]; ok {
		e.refcount--
	}
}

func clientAlive(c Client) bool {
	if c == nil {
		return false
	}
	_, _, err := c.SendRequest("keepalive@limsync", true, nil)
	return err == nil
}

// Acquire returns a handle to a connected client for key, dialing a new
// connection if none is cached or if the cached one's transport is no longer
// active. Dead entries are purged lazily here, at acquire time.
func (p *Pool) Acquire(key Key) (*Handle, error) {
	p.mu.Lock()
	e, ok := p.entries[key]
	if ok && !clientAlive(e.client) {
		delete(p.entries, key)
		ok = false
	}
	if ok {
		e.refcount++
		p.mu.Unlock()
		return &Handle{pool: p, key: key, Client: e.client}, nil
	}
	p.mu.Unlock()

	client, err := p.dial(key)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.entries[key]; ok && clientAlive(existing.client) {
		// Lost the race against a concurrent Acquire; prefer the winner's
		// connection and close ours.
		_ = client.Close()
		existing.refcount++
		return &Handle{pool: p, key: key, Client: existing.client}, nil
	}

	p.entries[key] = &entry{client: client, refcount: 1}
	return &Handle{pool: p, key: key, Client: client}, nil
}

// CloseAll closes every pooled connection regardless of refcount. Callers
// invoke this explicitly from their process shutdown path.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.entries {
		_ = e.client.Close()
		delete(p.entries, key)
	}
}

// Size reports the number of distinct live connections currently pooled,
// primarily useful for tests.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
