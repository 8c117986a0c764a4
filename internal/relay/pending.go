package relay

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/pipiwolve/chiikawa-chat/internal/envelope"
)

const pendingShards = 32

type pendingEntry struct {
	env    *envelope.Message
	sender string
}

type pendingShard struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

// pendingIndex maps msgId to the original envelope and its sender identity,
// so read receipts can be routed back. Entries live until the read-ack
// retires them or, with a cap configured, until evicted oldest-first. The
// eviction queue uses lazy deletion: retired ids stay queued and are skipped
// when they surface.
type pendingIndex struct {
	shards [pendingShards]pendingShard
	cap    int
	total  atomic.Int64

	evictMu sync.Mutex
	order   []string
}

func newPendingIndex(cap int) *pendingIndex {
	p := &pendingIndex{cap: cap}
	for i := range p.shards {
		p.shards[i].entries = make(map[string]*pendingEntry)
	}
	return p
}

func (p *pendingIndex) shardFor(msgID string) *pendingShard {
	return &p.shards[xxhash.Sum64String(msgID)%pendingShards]
}

func (p *pendingIndex) put(msgID, sender string, env *envelope.Message) {
	sh := p.shardFor(msgID)
	sh.mu.Lock()
	_, existed := sh.entries[msgID]
	sh.entries[msgID] = &pendingEntry{env: env, sender: sender}
	sh.mu.Unlock()

	if existed {
		return
	}
	p.total.Add(1)
	if p.cap <= 0 {
		return
	}
	p.evictMu.Lock()
	p.order = append(p.order, msgID)
	for p.total.Load() > int64(p.cap) && len(p.order) > 0 {
		victim := p.order[0]
		p.order = p.order[1:]
		if victim == msgID {
			// Never evict the entry just inserted.
			p.order = append(p.order, victim)
			break
		}
		p.remove(victim)
	}
	p.evictMu.Unlock()
}

func (p *pendingIndex) remove(msgID string) {
	sh := p.shardFor(msgID)
	sh.mu.Lock()
	if _, ok := sh.entries[msgID]; ok {
		delete(sh.entries, msgID)
		p.total.Add(-1)
	}
	sh.mu.Unlock()
}

// lookup returns the tracked envelope and sender identity for msgID.
func (p *pendingIndex) lookup(msgID string) (env *envelope.Message, sender string, ok bool) {
	sh := p.shardFor(msgID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	entry, ok := sh.entries[msgID]
	if !ok {
		return nil, "", false
	}
	return entry.env, entry.sender, true
}

// markRead flags the entry and returns the sender identity it was tracked
// under. ok is false for an unknown id.
func (p *pendingIndex) markRead(msgID string) (sender string, ok bool) {
	sh := p.shardFor(msgID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	entry, ok := sh.entries[msgID]
	if !ok {
		return "", false
	}
	entry.env.Read = true
	return entry.sender, true
}

func (p *pendingIndex) len() int {
	n := p.total.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}
