// Package presence tracks which users are currently connected. The
// registry exclusively owns its entries; dispatchers and sweepers read and
// mutate them under a single read-write lock.
package presence

import (
	"sync"
	"time"

	"github.com/dialog-im/dialogd/internal/wire"
)

// Link is the write side of a live connection. Implemented by the server's
// connection type; the registry never reads from it.
type Link interface {
	// SendRecord seals and writes one record through the connection's
	// write mutex. Returns an error once the socket is broken.
	SendRecord(rec *wire.Record) error
	// Close shuts the underlying socket. Safe to call more than once.
	Close() error
}

// Entry is one online user. advertisedHost and advertisedMediaPort are
// peer-reach hints supplied by the client and echoed to other clients
// unverified.
type Entry struct {
	Username  string
	Link      Link
	LastSeen  time.Time
	Host      string
	MediaPort int
}

// Registry maps usernames to their live entries.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Add inserts an entry, overwriting any prior entry for the same username.
// The displaced link, if any, is returned so the caller can close it after
// releasing its own locks.
func (r *Registry) Add(username string, link Link, host string, mediaPort int) (displaced Link) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prior, ok := r.entries[username]; ok {
		displaced = prior.Link
	}
	r.entries[username] = &Entry{
		Username:  username,
		Link:      link,
		LastSeen:  time.Now(),
		Host:      host,
		MediaPort: mediaPort,
	}
	return displaced
}

// Remove drops the entry if it still belongs to the given link. The link
// check keeps a stale dispatcher's teardown from evicting the entry a
// fresh login just installed. A nil link removes unconditionally.
func (r *Registry) Remove(username string, link Link) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[username]
	if !ok {
		return false
	}
	if link != nil && e.Link != link {
		return false
	}
	delete(r.entries, username)
	return true
}

// Get returns a copy of the entry; the Link field aliases the live link.
func (r *Registry) Get(username string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[username]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Touch refreshes lastSeen. Reports whether the user was online.
func (r *Registry) Touch(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[username]
	if !ok {
		return false
	}
	e.LastSeen = time.Now()
	return true
}

// UpdateReach replaces the advertised host/port and refreshes lastSeen.
func (r *Registry) UpdateReach(username, host string, mediaPort int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[username]
	if !ok {
		return false
	}
	e.Host = host
	e.MediaPort = mediaPort
	e.LastSeen = time.Now()
	return true
}

// Snapshot returns the roster, excluding the requesting user.
func (r *Registry) Snapshot(exclude string) []wire.UserInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]wire.UserInfo, 0, len(r.entries))
	for name, e := range r.entries {
		if name == exclude {
			continue
		}
		users = append(users, wire.UserInfo{
			Username:   name,
			P2PPort:    e.MediaPort,
			ExternalIP: e.Host,
			LastSeen:   e.LastSeen.Format(time.RFC3339),
		})
	}
	return users
}

// Stale returns the usernames whose lastSeen is older than maxIdle.
func (r *Registry) Stale(maxIdle time.Duration) []string {
	cutoff := time.Now().Add(-maxIdle)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stale []string
	for name, e := range r.entries {
		if e.LastSeen.Before(cutoff) {
			stale = append(stale, name)
		}
	}
	return stale
}

// Count reports how many users are online.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Usernames lists everyone online, for the server_status diagnostic.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
