package server

import (
	"encoding/json"
	"net/http"
)

// sessionSummary is the read-only listing entry for the lobby.
type sessionSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	State   string `json:"state"`
	Members int    `json:"members"`
}

func (srv *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.serveWS)
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions := srv.registry.List()
		out := make([]sessionSummary, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, sessionSummary{
				ID:      s.ID,
				Name:    s.Name,
				State:   string(s.State()),
				Members: s.MemberCount(),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
