package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/pipiwolve/chiikawa-chat/internal/envelope"
	"github.com/pipiwolve/chiikawa-chat/internal/registry"
	"github.com/pipiwolve/chiikawa-chat/internal/relay"
	"github.com/pipiwolve/chiikawa-chat/internal/store/memstore"
)

type nopSender struct{}

func (nopSender) Send(data []byte) error { return nil }
func (nopSender) Close() error           { return nil }
func (nopSender) RemoteAddr() string     { return "test:0" }

func newTestRouter() (*mux.Router, *relay.Service, *memstore.MemStore) {
	reg := registry.New()
	st := memstore.New()
	svc := relay.New(reg, st, relay.Config{})
	h := &StatusHandler{Service: svc, Store: st}

	r := mux.NewRouter()
	r.HandleFunc("/status", h.Status).Methods("GET")
	r.HandleFunc("/mailbox/{identity}", h.Mailbox).Methods("GET")
	return r, svc, st
}

func TestStatus(t *testing.T) {
	r, svc, _ := newTestRouter()
	svc.HandleConnect(nopSender{}, "alice")
	svc.HandleConnect(nopSender{}, "bob")

	req, _ := http.NewRequest("GET", "/status", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rr.Code)
	}
	var resp struct {
		Online  int `json:"online"`
		Pending int `json:"pending"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Online != 2 {
		t.Errorf("online = %d, want 2", resp.Online)
	}
}

func TestMailbox(t *testing.T) {
	r, _, st := newTestRouter()
	st.Append("bob", &envelope.Message{Cmd: envelope.CmdPrivate, MsgID: "m1", Body: "hi"})

	req, _ := http.NewRequest("GET", "/mailbox/bob", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rr.Code)
	}
	var resp struct {
		Identity string `json:"identity"`
		Depth    int    `json:"depth"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Identity != "bob" || resp.Depth != 1 {
		t.Errorf("response = %+v, want bob with depth 1", resp)
	}
}
