// Package envelope defines the wire-level message unit exchanged between
// clients and the relay. One JSON object per frame; Cmd selects behavior.
package envelope

import "encoding/json"

// Command codes. Negative and unlisted values are reserved and ignored.
const (
	CmdServerAck   = -1  // server -> client: processed acknowledgment
	CmdLogin       = 1   // client -> server: bind identity
	CmdPrivate     = 2   // client -> server: private message
	CmdGroup       = 3   // client -> server: group message
	CmdClientAck   = 99  // client -> server: message received
	CmdReadAck     = 100 // client -> server: messages read (batched MsgIds)
	CmdReadReceipt = 101 // server -> original sender: message was read
)

// Message is the envelope shared by all commands. Output omits unset fields.
// From is always overwritten server-side with the sender's bound identity.
type Message struct {
	Cmd       int      `json:"cmd"`
	Type      string   `json:"type,omitempty"` // legacy "private"|"group" hint
	From      string   `json:"from,omitempty"`
	To        string   `json:"to,omitempty"`
	Nickname  string   `json:"nickname,omitempty"`
	Body      string   `json:"message,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"` // unix millis
	MsgID     string   `json:"msgId,omitempty"`
	Read      bool     `json:"read,omitempty"`
	MsgIDs    []string `json:"msgIds,omitempty"`
}

// wireMessage mirrors Message plus the legacy body aliases clients still send.
type wireMessage struct {
	Cmd       *int     `json:"cmd"`
	Type      string   `json:"type"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	Nickname  string   `json:"nickname"`
	Message   *string  `json:"message"`
	Text      *string  `json:"text"`
	Msg       *string  `json:"msg"`
	SysMsg    *string  `json:"sysMsg"`
	Timestamp int64    `json:"timestamp"`
	MsgID     string   `json:"msgId"`
	Read      bool     `json:"read"`
	MsgIDs    []string `json:"msgIds"`
}

// UnmarshalJSON accepts the body under "message", "text", "msg" or "sysMsg",
// in that priority order. A missing cmd decodes to 0, which no command uses.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Cmd = 0
	if w.Cmd != nil {
		m.Cmd = *w.Cmd
	}
	m.Type = w.Type
	m.From = w.From
	m.To = w.To
	m.Nickname = w.Nickname
	m.Timestamp = w.Timestamp
	m.MsgID = w.MsgID
	m.Read = w.Read
	m.MsgIDs = w.MsgIDs
	m.Body = ""
	for _, alias := range []*string{w.Message, w.Text, w.Msg, w.SysMsg} {
		if alias != nil {
			m.Body = *alias
			break
		}
	}
	return nil
}

// Decode parses one raw frame. The error covers undecodable payloads only;
// semantic validation (missing cmd, unbound sender) is the router's job.
func Decode(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Encode marshals an envelope for the wire.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Clone returns a shallow copy with its own MsgIDs slice.
func (m *Message) Clone() *Message {
	cp := *m
	if m.MsgIDs != nil {
		cp.MsgIDs = append([]string(nil), m.MsgIDs...)
	}
	return &cp
}
