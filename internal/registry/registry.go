// Package registry maps bound user identities and group memberships to live
// connection handles. State is partitioned into shards so operations on
// different identities or groups do not contend on one global lock.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

// Sender is the transport-side primitive for pushing one frame to a peer.
// A send error means the connection is no longer reachable.
type Sender interface {
	Send(data []byte) error
	Close() error
	RemoteAddr() string
}

// Connection is the registry-owned handle for one live transport session.
// Other components never hold it across the session boundary; they re-resolve
// it by identity or group lookup.
type Connection struct {
	sender Sender

	mu       sync.Mutex
	identity string
	groups   map[string]struct{}
}

// Identity returns the bound identity, or "" before login.
func (c *Connection) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Send pushes one encoded frame to the peer.
func (c *Connection) Send(data []byte) error {
	return c.sender.Send(data)
}

// RemoteAddr reports the peer address for logging.
func (c *Connection) RemoteAddr() string {
	return c.sender.RemoteAddr()
}

type identityShard struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

type groupShard struct {
	mu     sync.RWMutex
	groups map[string]map[*Connection]struct{}
}

// Registry tracks every open connection plus its identity binding and group
// memberships.
type Registry struct {
	identities [shardCount]identityShard
	groups     [shardCount]groupShard
	online     atomic.Int64
}

func New() *Registry {
	r := &Registry{}
	for i := range r.identities {
		r.identities[i].conns = make(map[string]*Connection)
	}
	for i := range r.groups {
		r.groups[i].groups = make(map[string]map[*Connection]struct{})
	}
	return r
}

func shardFor(key string) int {
	return int(xxhash.Sum64String(key) % shardCount)
}

// Register creates the handle for a freshly opened transport session.
func (r *Registry) Register(sender Sender) *Connection {
	conn := &Connection{
		sender: sender,
		groups: make(map[string]struct{}),
	}
	r.online.Add(1)
	return conn
}

// Bind associates identity with conn. If the identity was bound to another
// connection the prior binding is silently replaced (last writer wins); the
// displaced connection stays open until its transport reaps it.
func (r *Registry) Bind(conn *Connection, identity string) {
	conn.mu.Lock()
	old := conn.identity
	conn.identity = identity
	conn.mu.Unlock()

	if old != "" && old != identity {
		r.unmap(conn, old)
	}

	shard := &r.identities[shardFor(identity)]
	shard.mu.Lock()
	shard.conns[identity] = conn
	shard.mu.Unlock()
}

// unmap deletes identity -> conn, but only while conn still owns the entry.
func (r *Registry) unmap(conn *Connection, identity string) {
	shard := &r.identities[shardFor(identity)]
	shard.mu.Lock()
	if shard.conns[identity] == conn {
		delete(shard.conns, identity)
	}
	shard.mu.Unlock()
}

// JoinGroup adds conn to the group's member set. Idempotent.
func (r *Registry) JoinGroup(conn *Connection, group string) {
	conn.mu.Lock()
	conn.groups[group] = struct{}{}
	conn.mu.Unlock()

	shard := &r.groups[shardFor(group)]
	shard.mu.Lock()
	members, ok := shard.groups[group]
	if !ok {
		members = make(map[*Connection]struct{})
		shard.groups[group] = members
	}
	members[conn] = struct{}{}
	shard.mu.Unlock()
}

// LookupByIdentity resolves an identity to its current connection.
func (r *Registry) LookupByIdentity(identity string) (*Connection, bool) {
	shard := &r.identities[shardFor(identity)]
	shard.mu.RLock()
	conn, ok := shard.conns[identity]
	shard.mu.RUnlock()
	return conn, ok
}

// MembersOf snapshots the group's member set. Empty slice for an unknown
// group. The snapshot is consistent at some instant during the call only.
func (r *Registry) MembersOf(group string) []*Connection {
	shard := &r.groups[shardFor(group)]
	shard.mu.RLock()
	members := shard.groups[group]
	out := make([]*Connection, 0, len(members))
	for conn := range members {
		out = append(out, conn)
	}
	shard.mu.RUnlock()
	return out
}

// Remove drops the identity binding and all group memberships for conn.
// Called exactly once per connection close; safe alongside lookups for other
// connections.
func (r *Registry) Remove(conn *Connection) {
	conn.mu.Lock()
	identity := conn.identity
	conn.identity = ""
	groups := make([]string, 0, len(conn.groups))
	for g := range conn.groups {
		groups = append(groups, g)
	}
	conn.groups = make(map[string]struct{})
	conn.mu.Unlock()

	if identity != "" {
		r.unmap(conn, identity)
	}
	for _, g := range groups {
		shard := &r.groups[shardFor(g)]
		shard.mu.Lock()
		if members, ok := shard.groups[g]; ok {
			delete(members, conn)
			if len(members) == 0 {
				delete(shard.groups, g)
			}
		}
		shard.mu.Unlock()
	}
	r.online.Add(-1)
}

// CountOnline reports the number of registered connections. Best effort under
// concurrent connects and disconnects.
func (r *Registry) CountOnline() int {
	n := r.online.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}
