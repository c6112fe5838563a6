// Package userhost manages the finite pool of system accounts used to
// isolate handin process execution, and exposes it over a line-oriented TCP
// protocol so many runner hosts can share one pool.
package userhost

import (
	"sync"
	"time"
)

// Pool tracks lease expiries for a fixed list of system accounts. An
// account is available again once the current time reaches its expiry;
// there is no persistence, state lives only for the process lifetime.
type Pool struct {
	users []string

	mu      sync.Mutex
	expires map[string]int64
	now     func() int64
}

// NewPool builds a pool over the given account names. All accounts start
// available.
func NewPool(users []string) *Pool {
	expires := make(map[string]int64, len(users))
	for _, u := range users {
		expires[u] = 0
	}
	return &Pool{
		users:   users,
		expires: expires,
		now:     func() int64 { return time.Now().Unix() },
	}
}

// Acquire scans the account list in stable order and leases the first one
// whose expiry has passed, for expires seconds. It returns false when every
// account is currently leased; callers must treat that as pool exhaustion
// and fail the attempt rather than block.
func (p *Pool) Acquire(expires int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, u := range p.users {
		if p.expires[u] < now {
			p.expires[u] = now + int64(expires)
			return u, true
		}
	}
	return "", false
}

// Release makes the account immediately available again.
func (p *Pool) Release(user string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.expires[user]; ok {
		p.expires[user] = 0
	}
}

// Size reports the number of accounts managed by the pool.
func (p *Pool) Size() int {
	return len(p.users)
}
