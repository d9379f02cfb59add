package server

import (
	"errors"
	"hash/fnv"
	"sync"
)

var (
	// ErrAlreadyBound indicates the connection identity already has a session.
	ErrAlreadyBound = errors.New("connection is already signed in")
	// ErrUsernameTaken indicates the username is bound to another live
	// connection on this process.
	ErrUsernameTaken = errors.New("username is already taken")
)

// Handle is a live transport held by this process, used for direct push
// delivery. Implementations must serialize their own writes.
type Handle interface {
	Send(frame any) error
	Close() error
}

const registryShards = 16

// Registry maps connection identities to authenticated usernames and
// usernames to locally-held connection handles. Both maps are sharded so
// unrelated connections never contend on the same lock; a bind or unbind
// holds at most one shard lock at a time.
type Registry struct {
	sessions [registryShards]sessionShard
	handles  [registryShards]handleShard
}

type sessionShard struct {
	mu sync.RWMutex
	m  map[string]string // connection id -> username
}

type handleShard struct {
	mu sync.RWMutex
	m  map[string]Handle // username -> live handle
}

// NewRegistry creates an empty registry. One instance is constructed at
// process start and shared by the protocol engine and the fan-out listener.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.sessions {
		r.sessions[i].m = make(map[string]string)
	}
	for i := range r.handles {
		r.handles[i].m = make(map[string]Handle)
	}
	return r
}

func shardIndex(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % registryShards)
}

// Bind registers the (connection id → username) session and the local
// handle. It fails with ErrAlreadyBound if the connection already has a
// session, or ErrUsernameTaken if the username is live on another local
// connection; in the latter case the session entry is rolled back so no
// partial binding survives.
func (r *Registry) Bind(connID, username string, h Handle) error {
	ss := &r.sessions[shardIndex(connID)]
	ss.mu.Lock()
	if _, exists := ss.m[connID]; exists {
		ss.mu.Unlock()
		return ErrAlreadyBound
	}
	ss.m[connID] = username
	ss.mu.Unlock()

	hs := &r.handles[shardIndex(username)]
	hs.mu.Lock()
	if _, exists := hs.m[username]; exists {
		hs.mu.Unlock()
		ss.mu.Lock()
		delete(ss.m, connID)
		ss.mu.Unlock()
		return ErrUsernameTaken
	}
	hs.m[username] = h
	hs.mu.Unlock()

	return nil
}

// Resolve returns the username bound to a connection identity. A false
// result means the connection is anonymous.
func (r *Registry) Resolve(connID string) (string, bool) {
	ss := &r.sessions[shardIndex(connID)]
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	username, ok := ss.m[connID]
	return username, ok
}

// Unbind removes the session and the local handle for a connection
// identity. It is idempotent: unbinding an unknown connection returns
// ("", false) and changes nothing.
func (r *Registry) Unbind(connID string) (string, bool) {
	ss := &r.sessions[shardIndex(connID)]
	ss.mu.Lock()
	username, ok := ss.m[connID]
	if !ok {
		ss.mu.Unlock()
		return "", false
	}
	delete(ss.m, connID)
	ss.mu.Unlock()

	hs := &r.handles[shardIndex(username)]
	hs.mu.Lock()
	delete(hs.m, username)
	hs.mu.Unlock()

	return username, true
}

// LocalHandle returns the live handle for a username, if this process holds
// one. Used by the fan-out listener for push delivery.
func (r *Registry) LocalHandle(username string) (Handle, bool) {
	hs := &r.handles[shardIndex(username)]
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	h, ok := hs.m[username]
	return h, ok
}

// LocalUsernames returns a snapshot of the usernames with live local
// connections. The snapshot may be stale by the time it is used; callers
// handle missing handles by skipping.
func (r *Registry) LocalUsernames() []string {
	var usernames []string
	for i := range r.handles {
		hs := &r.handles[i]
		hs.mu.RLock()
		for username := range hs.m {
			usernames = append(usernames, username)
		}
		hs.mu.RUnlock()
	}
	return usernames
}

// Len returns the number of live local sessions.
func (r *Registry) Len() int {
	n := 0
	for i := range r.handles {
		hs := &r.handles[i]
		hs.mu.RLock()
		n += len(hs.m)
		hs.mu.RUnlock()
	}
	return n
}

// CloseAll closes every local handle and clears the registry. Used at
// shutdown.
func (r *Registry) CloseAll() {
	for i := range r.handles {
		hs := &r.handles[i]
		hs.mu.Lock()
		for username, h := range hs.m {
			h.Close()
			delete(hs.m, username)
		}
		hs.mu.Unlock()
	}
	for i := range r.sessions {
		ss := &r.sessions[i]
		ss.mu.Lock()
		for connID := range ss.m {
			delete(ss.m, connID)
		}
		ss.mu.Unlock()
	}
}
