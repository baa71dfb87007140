// Package server wires the websocket surface to the session registry and
// launches one session per mission definition found at boot.
package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/mission"
	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/session"
)

// Server owns the session arena and the live-connection table.
type Server struct {
	cfg      Config
	registry *session.Registry
	store    mission.Store

	mu      sync.Mutex
	clients map[string]*client
}

// NewServer builds a server around an existing registry and mission store.
func NewServer(cfg Config, registry *session.Registry, store mission.Store) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		store:    store,
		clients:  make(map[string]*client),
	}
}

// LaunchMissions creates and registers one session per definition the store
// lists. Returns the number launched.
func (srv *Server) LaunchMissions() int {
	ids, err := srv.store.List()
	if err != nil {
		log.Printf("mission store: %v", err)
		return 0
	}
	launched := 0
	for _, id := range ids {
		def, err := srv.store.Load(id)
		if err != nil {
			log.Printf("mission %s: %v", id, err)
			continue
		}
		sess, err := session.New(def.Name, def)
		if err != nil {
			log.Printf("mission %s: %v", id, err)
			continue
		}
		if err := srv.registry.Register(sess); err != nil {
			log.Printf("mission %s: %v", id, err)
			continue
		}
		log.Printf("launched session %s (%s) from mission %s", sess.Name, sess.ID, id)
		launched++
	}
	return launched
}

// sweepEnded destroys and unregisters ended sessions once their last member
// leaves. Destruction is explicit; nothing is collected implicitly while a
// member remains.
func (srv *Server) sweepEnded() {
	for _, s := range srv.registry.List() {
		if s.State() == session.StateEnded && s.MemberCount() == 0 {
			srv.registry.Unregister(s.ID)
			s.Destroy()
		}
	}
}

// StartApp loads missions, starts the cleanup loop, and serves until the
// listener fails.
func StartApp(cfg Config) {
	registry := session.NewRegistry()
	store := mission.DirStore{Dir: cfg.MissionDir}
	srv := NewServer(cfg, registry, store)

	n := srv.LaunchMissions()
	log.Printf("mission dir %s: %d session(s) launched", cfg.MissionDir, n)

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			srv.sweepEnded()
		}
	}()

	log.Printf("listening on %s", cfg.Addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, srv.routes()))
}
