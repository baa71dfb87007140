package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/channel"
	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/mission"
	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/session"
	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/wire"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSocket adapts a gorilla connection to channel.Socket. Writes are
// serialized: the session broadcasts and the connection's own read loop may
// both emit.
type wsSocket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSocket) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

func (s *wsSocket) Close() error { return s.conn.Close() }

// client is one live connection: exactly one per participant identity.
type client struct {
	id      string
	name    string
	sock    *wsSocket
	ch      *channel.Channel
	session *session.Session // guarded by Server.mu
}

func (srv *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	identity := r.Header.Get(wire.HeaderParticipant)
	if identity == "" {
		identity = r.URL.Query().Get("user")
	}
	name := r.URL.Query().Get("name")
	takeover := r.Header.Get(wire.HeaderForceSwitch) != "" || r.URL.Query().Get("forceSwitch") != ""

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("upgrade:", err)
		return
	}
	sock := &wsSocket{conn: conn}
	ch := channel.New(sock)

	if identity == "" {
		_ = ch.Emit(wire.MethodError, wire.ErrorData{
			Code:    wire.CodeUnauthenticated,
			Message: "participant identity required",
		})
		_ = sock.Close()
		return
	}

	c := &client{id: identity, name: name, sock: sock, ch: ch}
	if !srv.admit(c, takeover) {
		_ = ch.Emit(wire.MethodError, wire.ErrorData{
			Code:    wire.CodeDuplicateClient,
			Message: "identity already connected",
		})
		_ = sock.Close()
		return
	}
	srv.bindConnection(c)
	log.Printf("participant %s connected", identity)

	limiter := rate.NewLimiter(rate.Limit(srv.cfg.EventRate), srv.cfg.EventBurst)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if !limiter.Allow() {
			_ = ch.Emit(wire.MethodError, wire.ErrorData{
				Code:    wire.CodeRateLimit,
				Message: "event rate limit exceeded",
			})
			break
		}
		var ev wire.Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Method == "" {
			_ = ch.Emit(wire.MethodError, wire.ErrorData{
				Code:    wire.CodeInvalidPayload,
				Message: "malformed event envelope",
			})
			continue
		}
		ch.Dispatch(ev)
	}

	srv.release(c)
	_ = sock.Close()
	log.Printf("participant %s disconnected", identity)
}

// admit enforces one live connection per identity. Without the takeover
// header a duplicate is rejected and the original stays untouched; with it
// the existing side is told to disconnect intentionally and is replaced.
func (srv *Server) admit(c *client, takeover bool) bool {
	srv.mu.Lock()
	existing := srv.clients[c.id]
	if existing != nil && !takeover {
		srv.mu.Unlock()
		return false
	}
	srv.clients[c.id] = c
	srv.mu.Unlock()

	if existing != nil {
		_ = existing.ch.Emit(wire.MethodError, wire.ErrorData{
			Code:    wire.CodeForcedSwitch,
			Message: "replaced by a new connection for this identity",
		})
		_ = existing.sock.Close()
		log.Printf("participant %s: forceful takeover", c.id)
	}
	return true
}

// release drops the identity registration and any session membership, but
// only if the connection still owns its identity slot (a takeover may have
// claimed it already).
func (srv *Server) release(c *client) {
	srv.mu.Lock()
	owned := srv.clients[c.id] == c
	sess := c.session
	if owned {
		delete(srv.clients, c.id)
	}
	srv.mu.Unlock()
	if owned && sess != nil {
		sess.Quit(c.id)
	}
}

// bindConnection registers the pre-join listeners. Session-scoped listeners
// are attached by Session.Join and removed again on quit/kick/ban.
func (srv *Server) bindConnection(c *client) {
	c.ch.AddEventListener(wire.MethodRequestJoinSession, func(ev wire.Event) {
		srv.handleJoin(c, ev)
	})
	c.ch.AddEventListener(wire.MethodRequestCurrentSession, func(ev wire.Event) {
		srv.mu.Lock()
		joined := c.session != nil
		srv.mu.Unlock()
		if !joined {
			srv.sendError(c, ev, wire.Errorf(wire.CodeNotInSession, "not in a session"))
		}
		// When joined, the session's own listener answers.
	})
}

func (srv *Server) handleJoin(c *client, ev wire.Event) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Name      string `json:"name"`
		Role      string `json:"role"`
		ForceID   string `json:"forceId"`
	}
	if err := ev.Decode(&payload); err != nil || payload.SessionID == "" {
		srv.sendError(c, ev, wire.Errorf(wire.CodeInvalidPayload, "join payload requires sessionId"))
		return
	}

	srv.mu.Lock()
	already := c.session
	srv.mu.Unlock()
	if already != nil {
		srv.sendError(c, ev, wire.Errorf(wire.CodeAlreadyInSession, "already in a session"))
		return
	}

	sess := srv.registry.Get(payload.SessionID)
	if sess == nil {
		srv.sendError(c, ev, wire.Errorf(wire.CodeSessionNotFound, "session %s not found", payload.SessionID))
		return
	}

	role := session.RoleParticipant
	if payload.Role != "" {
		parsed, ok := session.ParseRole(payload.Role)
		if !ok {
			srv.sendError(c, ev, wire.Errorf(wire.CodeInvalidPayload, "unknown role %q", payload.Role))
			return
		}
		role = parsed
	}
	name := payload.Name
	if name == "" {
		name = c.name
	}
	if name == "" {
		name = c.id
	}

	member := &session.Member{
		ID:      c.id,
		Name:    name,
		Role:    role,
		ForceID: mission.ForceID(payload.ForceID),
		Ch:      c.ch,
	}
	member.OnRemove = func() {
		srv.mu.Lock()
		if c.session == sess {
			c.session = nil
		}
		srv.mu.Unlock()
	}
	if werr := sess.Join(member); werr != nil {
		srv.sendError(c, ev, werr)
		return
	}

	srv.mu.Lock()
	c.session = sess
	srv.mu.Unlock()

	resp, err := wire.NewEvent(wire.MethodSessionJoined, map[string]any{
		"sessionId": sess.ID,
		"member":    session.MemberView{ID: member.ID, Name: member.Name, Role: member.Role, ForceID: member.ForceID},
	})
	if err != nil {
		return
	}
	resp.Request = &wire.RequestInfo{Event: &ev, RequesterID: c.id, Fulfilled: true}
	if err := c.ch.EmitEvent(resp); err != nil {
		log.Printf("participant %s: send session-joined: %v", c.id, err)
	}
}

func (srv *Server) sendError(c *client, req wire.Event, werr *wire.Error) {
	ev, err := wire.NewEvent(wire.MethodError, wire.ErrorData{Code: werr.Code, Message: werr.Message})
	if err != nil {
		return
	}
	if req.RequestID != "" {
		ev.Request = &wire.RequestInfo{Event: &req, RequesterID: c.id, Fulfilled: true}
	}
	if err := c.ch.EmitEvent(ev); err != nil {
		log.Printf("participant %s: send error: %v", c.id, err)
	}
}
