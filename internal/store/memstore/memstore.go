// Package memstore is the reference in-memory offline store. Mailboxes are
// partitioned into shards keyed by identity so appends for different users
// never contend.
package memstore

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pipiwolve/chiikawa-chat/internal/envelope"
)

const shardCount = 32

type shard struct {
	mu        sync.Mutex
	mailboxes map[string][]*envelope.Message
}

// MemStore holds every mailbox in process memory. Growth is unbounded unless
// a per-mailbox cap is configured; with a cap, the oldest entry is evicted to
// make room.
type MemStore struct {
	shards [shardCount]shard
	cap    int
}

// New returns a store with unbounded mailboxes.
func New() *MemStore {
	return NewWithCap(0)
}

// NewWithCap bounds each mailbox to perMailboxCap entries, oldest evicted
// first. Zero means unbounded.
func NewWithCap(perMailboxCap int) *MemStore {
	s := &MemStore{cap: perMailboxCap}
	for i := range s.shards {
		s.shards[i].mailboxes = make(map[string][]*envelope.Message)
	}
	return s
}

func (s *MemStore) shardFor(identity string) *shard {
	return &s.shards[xxhash.Sum64String(identity)%shardCount]
}

func (s *MemStore) Append(identity string, env *envelope.Message) error {
	sh := s.shardFor(identity)
	sh.mu.Lock()
	box := append(sh.mailboxes[identity], env.Clone())
	if s.cap > 0 && len(box) > s.cap {
		box = box[len(box)-s.cap:]
	}
	sh.mailboxes[identity] = box
	sh.mu.Unlock()
	return nil
}

func (s *MemStore) Drain(identity string) ([]*envelope.Message, error) {
	sh := s.shardFor(identity)
	sh.mu.Lock()
	box := sh.mailboxes[identity]
	delete(sh.mailboxes, identity)
	sh.mu.Unlock()
	if box == nil {
		return []*envelope.Message{}, nil
	}
	return box, nil
}

func (s *MemStore) RemoveOne(identity, msgID string) error {
	sh := s.shardFor(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	box, ok := sh.mailboxes[identity]
	if !ok {
		return nil
	}
	for i, env := range box {
		if env.MsgID == msgID {
			box = append(box[:i], box[i+1:]...)
			break
		}
	}
	if len(box) == 0 {
		delete(sh.mailboxes, identity)
	} else {
		sh.mailboxes[identity] = box
	}
	return nil
}

func (s *MemStore) MarkRead(identity string, msgIDs []string) ([]string, error) {
	wanted := make(map[string]struct{}, len(msgIDs))
	for _, id := range msgIDs {
		wanted[id] = struct{}{}
	}
	var found []string
	sh := s.shardFor(identity)
	sh.mu.Lock()
	for _, env := range sh.mailboxes[identity] {
		if _, ok := wanted[env.MsgID]; ok {
			env.Read = true
			found = append(found, env.MsgID)
		}
	}
	sh.mu.Unlock()
	return found, nil
}

func (s *MemStore) Count(identity string) (int, error) {
	sh := s.shardFor(identity)
	sh.mu.Lock()
	n := len(sh.mailboxes[identity])
	sh.mu.Unlock()
	return n, nil
}
