// Package relay implements the message routing core: command dispatch,
// at-least-once offline delivery, the ack/read-receipt protocol, and the
// session lifecycle. The transport layer feeds it decoded frames through
// HandleConnect / HandleEnvelope / HandleDisconnect and supplies the send
// primitive via registry.Sender.
package relay

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pipiwolve/chiikawa-chat/internal/envelope"
	"github.com/pipiwolve/chiikawa-chat/internal/registry"
	"github.com/pipiwolve/chiikawa-chat/internal/store"
)

type Config struct {
	// DefaultGroup is joined by every connection on bind.
	DefaultGroup string

	// SystemName is the From identity on join/leave notices.
	SystemName string

	// PendingCap bounds the pending-delivery index, oldest entries
	// evicted first. Zero means unbounded.
	PendingCap int
}

func (c *Config) applyDefaults() {
	if c.DefaultGroup == "" {
		c.DefaultGroup = "group1"
	}
	if c.SystemName == "" {
		c.SystemName = "system"
	}
}

// Service is constructed once at startup and handed to the transport layer.
type Service struct {
	reg     *registry.Registry
	st      store.Store
	pending *pendingIndex
	cfg     Config
}

func New(reg *registry.Registry, st store.Store, cfg Config) *Service {
	cfg.applyDefaults()
	return &Service{
		reg:     reg,
		st:      st,
		pending: newPendingIndex(cfg.PendingCap),
		cfg:     cfg,
	}
}

// Registry exposes the connection registry for diagnostics handlers.
func (s *Service) Registry() *registry.Registry {
	return s.reg
}

// HandleConnect registers a freshly opened transport session. An empty
// identity (no handshake parameter) gets a generated fallback so the
// connection is never rejected.
func (s *Service) HandleConnect(sender registry.Sender, identity string) *registry.Connection {
	conn := s.reg.Register(sender)
	if identity == "" {
		identity = uuid.NewString()
	}
	s.bindSession(conn, identity)
	return conn
}

// HandleDisconnect removes the session and broadcasts the leave notice.
// Called exactly once per connection close.
func (s *Service) HandleDisconnect(conn *registry.Connection, reason string) {
	identity := conn.Identity()
	s.reg.Remove(conn)
	count := s.reg.CountOnline()
	log.Printf("disconnect %s (%s): %s, %d online", identity, conn.RemoteAddr(), reason, count)
	if identity != "" {
		s.notice(fmt.Sprintf("%s left, %d online", identity, count))
	}
}

// HandleEnvelope decodes and dispatches one inbound frame. A malformed
// payload is dropped without side effects; a processing fault is contained to
// this envelope. Commands 1-3 are answered with exactly one server ack.
func (s *Service) HandleEnvelope(conn *registry.Connection, raw []byte) {
	env, err := envelope.Decode(raw)
	if err != nil {
		log.Printf("drop undecodable frame from %s: %v", conn.RemoteAddr(), err)
		return
	}
	if env.Cmd == 0 {
		log.Printf("drop frame without cmd from %s", conn.RemoteAddr())
		return
	}

	// Assign the idempotency key before any storage or routing decision.
	if env.MsgID == "" {
		env.MsgID = uuid.NewString()
	}

	if s.dispatch(conn, env) {
		s.serverAck(conn, env.MsgID)
	}
}

// dispatch runs the command's effect and reports whether a server ack is
// owed. The ack is owed once the command is accepted, even if the effect
// faults afterwards.
func (s *Service) dispatch(conn *registry.Connection, env *envelope.Message) (ack bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("cmd %d from %s panicked: %v", env.Cmd, conn.RemoteAddr(), r)
		}
	}()

	switch env.Cmd {
	case envelope.CmdLogin:
		if env.From == "" {
			log.Printf("drop login without identity from %s", conn.RemoteAddr())
			return false
		}
		ack = true
		s.bindSession(conn, env.From)

	case envelope.CmdPrivate:
		sender := conn.Identity()
		if sender == "" {
			log.Printf("drop private send from unbound %s", conn.RemoteAddr())
			return false
		}
		ack = true
		s.handlePrivate(env, sender)

	case envelope.CmdGroup:
		sender := conn.Identity()
		if sender == "" {
			log.Printf("drop group send from unbound %s", conn.RemoteAddr())
			return false
		}
		ack = true
		s.handleGroup(env, sender)

	case envelope.CmdClientAck:
		identity := conn.Identity()
		if identity == "" {
			log.Printf("drop ack from unbound %s", conn.RemoteAddr())
			return false
		}
		s.processClientAck(env.MsgID, identity)

	case envelope.CmdReadAck:
		identity := conn.Identity()
		if identity == "" || len(env.MsgIDs) == 0 {
			return false
		}
		s.processReadAck(env.MsgIDs, identity)

	default:
		// Reserved for future commands.
		log.Printf("ignore unknown cmd %d from %s", env.Cmd, conn.RemoteAddr())
	}
	return ack
}

// bindSession runs the full bind routine: registry binding, default group
// join, join notice, then backlog replay. Both the handshake and an in-band
// login land here.
func (s *Service) bindSession(conn *registry.Connection, identity string) {
	s.reg.Bind(conn, identity)
	s.reg.JoinGroup(conn, s.cfg.DefaultGroup)

	count := s.reg.CountOnline()
	log.Printf("bind %s (%s), %d online", identity, conn.RemoteAddr(), count)
	s.notice(fmt.Sprintf("%s joined, %d online", identity, count))

	backlog, err := s.st.Drain(identity)
	if err != nil {
		log.Printf("drain mailbox for %s: %v", identity, err)
		return
	}
	for _, pending := range backlog {
		s.deliver(conn, pending)
	}
}

func (s *Service) handlePrivate(env *envelope.Message, sender string) {
	env.From = sender
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}
	if env.To == "" {
		log.Printf("drop private message %s without recipient", env.MsgID)
		return
	}

	// Stored first so the message survives a delivery failure.
	if err := s.st.Append(env.To, env); err != nil {
		log.Printf("store message %s for %s: %v", env.MsgID, env.To, err)
	}
	s.pending.put(env.MsgID, sender, env.Clone())

	if dst, ok := s.reg.LookupByIdentity(env.To); ok {
		s.deliver(dst, env)
	}
}

func (s *Service) handleGroup(env *envelope.Message, sender string) {
	env.From = sender
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}
	group := env.To
	if group == "" {
		group = s.cfg.DefaultGroup
		env.To = group
	}

	s.pending.put(env.MsgID, sender, env.Clone())

	members := s.reg.MembersOf(group)
	for _, member := range members {
		// The author keeps no offline copy of its own message.
		if identity := member.Identity(); identity != "" && identity != sender {
			if err := s.st.Append(identity, env); err != nil {
				log.Printf("store message %s for %s: %v", env.MsgID, identity, err)
			}
		}
	}
	for _, member := range members {
		s.deliver(member, env)
	}
}

// processClientAck prunes the acked entry from the acker's mailbox. When the
// acker is the message's original sender, the recipient's stored copy is
// pruned as well, so a sender-side ack retires the message even if the
// recipient never connects. Absent entries mean already delivered or already
// acked; not an error. The pending index keeps its entry so a later read-ack
// can still reach the sender.
func (s *Service) processClientAck(msgID, identity string) {
	if msgID == "" {
		return
	}
	if err := s.st.RemoveOne(identity, msgID); err != nil {
		log.Printf("ack %s for %s: %v", msgID, identity, err)
	}
	if env, sender, ok := s.pending.lookup(msgID); ok && sender == identity && env.To != identity {
		if err := s.st.RemoveOne(env.To, msgID); err != nil {
			log.Printf("ack %s for %s: %v", msgID, env.To, err)
		}
	}
}

// processReadAck flags each id read in the reader's mailbox and the pending
// index, then pushes a read receipt to each original sender still online.
// Receipts to offline senders are dropped, not queued. The pending entry is
// retired after the read-ack, so a repeated read-ack cannot duplicate
// receipts.
func (s *Service) processReadAck(msgIDs []string, reader string) {
	seen := make(map[string]struct{}, len(msgIDs))
	ids := make([]string, 0, len(msgIDs))
	for _, id := range msgIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	if _, err := s.st.MarkRead(reader, ids); err != nil {
		log.Printf("mark read for %s: %v", reader, err)
	}

	now := time.Now().UnixMilli()
	for _, id := range ids {
		sender, ok := s.pending.markRead(id)
		if !ok {
			continue
		}
		if senderConn, online := s.reg.LookupByIdentity(sender); online {
			receipt := &envelope.Message{
				Cmd:       envelope.CmdReadReceipt,
				From:      reader,
				To:        sender,
				MsgID:     id,
				MsgIDs:    []string{id},
				Read:      true,
				Timestamp: now,
			}
			s.deliver(senderConn, receipt)
		}
		s.pending.remove(id)
	}
}

// PendingCount reports the pending-delivery index size. Diagnostics only.
func (s *Service) PendingCount() int {
	return s.pending.len()
}

// notice broadcasts a system message to the default group, best effort.
func (s *Service) notice(body string) {
	env := &envelope.Message{
		Cmd:       envelope.CmdGroup,
		Type:      "group",
		From:      s.cfg.SystemName,
		To:        s.cfg.DefaultGroup,
		Body:      body,
		Timestamp: time.Now().UnixMilli(),
	}
	for _, member := range s.reg.MembersOf(s.cfg.DefaultGroup) {
		s.deliver(member, env)
	}
}

func (s *Service) serverAck(conn *registry.Connection, msgID string) {
	ack := &envelope.Message{
		Cmd:   envelope.CmdServerAck,
		From:  "server",
		Body:  "ACK",
		MsgID: msgID,
	}
	s.deliver(conn, ack)
}

// deliver encodes and enqueues one envelope; a failure means the peer is
// unreachable and is logged only.
func (s *Service) deliver(conn *registry.Connection, env *envelope.Message) {
	data, err := env.Encode()
	if err != nil {
		log.Printf("encode message %s: %v", env.MsgID, err)
		return
	}
	if err := conn.Send(data); err != nil {
		log.Printf("send to %s: %v", conn.RemoteAddr(), err)
	}
}
