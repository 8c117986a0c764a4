package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pipiwolve/chiikawa-chat/internal/handlers"
	"github.com/pipiwolve/chiikawa-chat/internal/relay"
	"github.com/pipiwolve/chiikawa-chat/internal/registry"
	"github.com/pipiwolve/chiikawa-chat/internal/store"
	"github.com/pipiwolve/chiikawa-chat/internal/store/memstore"
	"github.com/pipiwolve/chiikawa-chat/internal/store/sqlstore"
	"github.com/pipiwolve/chiikawa-chat/internal/ws"
)

var (
	addr        = flag.String("addr", ":8080", "http service address")
	storeDriver = flag.String("store", "memory", "offline store backend: memory or sqlite3")
	storeDSN    = flag.String("store-dsn", "chiikawa.db", "sqlite data source name")
	group       = flag.String("group", "group1", "default broadcast group")
	mailboxCap  = flag.Int("mailbox-cap", 0, "max offline messages per user, 0 = unbounded (memory store only)")
	pendingCap  = flag.Int("pending-cap", 0, "max pending-index entries, 0 = unbounded")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var st store.Store
	switch *storeDriver {
	case "memory":
		st = memstore.NewWithCap(*mailboxCap)
	case "sqlite3":
		s, err := sqlstore.New(*storeDSN)
		if err != nil {
			log.Fatal(err)
		}
		defer s.Close()
		st = s
	default:
		log.Fatalf("unknown store driver %q", *storeDriver)
	}

	reg := registry.New()
	svc := relay.New(reg, st, relay.Config{
		DefaultGroup: *group,
		PendingCap:   *pendingCap,
	})

	statusHandler := &handlers.StatusHandler{Service: svc, Store: st}

	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	// WebSocket endpoint; identity comes from the "name" query parameter.
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWs(svc, w, req)
	})

	// Diagnostics
	r.HandleFunc("/status", statusHandler.Status).Methods("GET")
	r.HandleFunc("/mailbox/{identity}", statusHandler.Mailbox).Methods("GET")

	log.Println("Starting relay on", *addr)
	log.Fatal(http.ListenAndServe(*addr, r))
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}
