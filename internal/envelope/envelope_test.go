package envelope

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestDecodeBodyAliases(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"message", `{"cmd":2,"message":"hi"}`, "hi"},
		{"text", `{"cmd":2,"text":"hi"}`, "hi"},
		{"msg", `{"cmd":2,"msg":"hi"}`, "hi"},
		{"sysMsg", `{"cmd":2,"sysMsg":"hi"}`, "hi"},
		{"message wins over text", `{"cmd":2,"message":"a","text":"b"}`, "a"},
		{"text wins over msg", `{"cmd":2,"text":"b","msg":"c"}`, "b"},
		{"msg wins over sysMsg", `{"cmd":2,"msg":"c","sysMsg":"d"}`, "c"},
		{"none", `{"cmd":2}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if m.Body != tt.want {
				t.Errorf("Body = %q, want %q", m.Body, tt.want)
			}
		})
	}
}

func TestDecodeMissingCmd(t *testing.T) {
	m, err := Decode([]byte(`{"message":"hi"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if m.Cmd != 0 {
		t.Errorf("Cmd = %d, want 0 for missing cmd", m.Cmd)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestDecodeFullEnvelope(t *testing.T) {
	raw := `{"cmd":100,"type":"private","from":"alice","to":"bob","nickname":"Ali","text":"hello","timestamp":1700000000000,"msgId":"m-1","read":true,"msgIds":["a","b"]}`
	m, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if m.Cmd != 100 || m.Type != "private" || m.From != "alice" || m.To != "bob" {
		t.Errorf("header fields wrong: %+v", m)
	}
	if m.Nickname != "Ali" || m.Body != "hello" || m.Timestamp != 1700000000000 {
		t.Errorf("body fields wrong: %+v", m)
	}
	if m.MsgID != "m-1" || !m.Read || len(m.MsgIDs) != 2 {
		t.Errorf("ack fields wrong: %+v", m)
	}
}

func TestEncodeOmitsUnsetFields(t *testing.T) {
	m := &Message{Cmd: CmdServerAck, MsgID: "m-1"}
	data, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	s := string(data)
	for _, field := range []string{"from", "to", "nickname", "message", "timestamp", "read", "msgIds", "type"} {
		if strings.Contains(s, `"`+field+`"`) {
			t.Errorf("output contains unset field %q: %s", field, s)
		}
	}
	if !strings.Contains(s, `"cmd":-1`) || !strings.Contains(s, `"msgId":"m-1"`) {
		t.Errorf("output missing set fields: %s", s)
	}
}

func TestEncodeDecodeVerbatim(t *testing.T) {
	in := &Message{
		Cmd: CmdPrivate, From: "alice", To: "bob", Body: "hi",
		Timestamp: 42, MsgID: "x", Read: true,
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("round trip mismatch:\n in %+v\nout %+v", in, out)
	}
}

func TestClone(t *testing.T) {
	in := &Message{Cmd: CmdReadAck, MsgIDs: []string{"a", "b"}}
	cp := in.Clone()
	cp.MsgIDs[0] = "z"
	if in.MsgIDs[0] != "a" {
		t.Error("Clone shares MsgIDs backing array")
	}
}
