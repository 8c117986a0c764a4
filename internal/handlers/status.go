// Package handlers exposes the diagnostics REST surface next to the
// websocket endpoint.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pipiwolve/chiikawa-chat/internal/relay"
	"github.com/pipiwolve/chiikawa-chat/internal/store"
)

type StatusHandler struct {
	Service *relay.Service
	Store   store.Store
}

type statusResponse struct {
	Online  int `json:"online"`
	Pending int `json:"pending"`
}

type mailboxResponse struct {
	Identity string `json:"identity"`
	Depth    int    `json:"depth"`
}

// Status reports the online connection count and pending-index size.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Online:  h.Service.Registry().CountOnline(),
		Pending: h.Service.PendingCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Mailbox reports the offline mailbox depth for one identity.
func (h *StatusHandler) Mailbox(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["identity"]
	depth, err := h.Store.Count(identity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(mailboxResponse{Identity: identity, Depth: depth})
}
