package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/mission"
	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/session"
	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/wire"
)

const serverMissionYAML = `
id: drill
name: Drill
forces:
  - id: blue
    name: Blue Cell
    pool: 10
nodes:
  - id: entry
    name: Entry
    force: blue
    revealed: true
`

func newTestServer(t *testing.T, cfg Config) (*Server, *session.Session, *httptest.Server) {
	t.Helper()
	def, err := mission.Parse([]byte(serverMissionYAML))
	require.NoError(t, err)
	sess, err := session.New(def.Name, def)
	require.NoError(t, err)

	registry := session.NewRegistry()
	require.NoError(t, registry.Register(sess))

	srv := NewServer(cfg, registry, mission.DirStore{Dir: t.TempDir()})
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return srv, sess, ts
}

func defaultTestConfig() Config {
	return Config{Addr: ":0", MissionDir: "missions", EventRate: 100, EventBurst: 100}
}

func dialWS(t *testing.T, ts *httptest.Server, identity string, takeover bool) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	hdr := http.Header{}
	if identity != "" {
		hdr.Set(wire.HeaderParticipant, identity)
	}
	if takeover {
		hdr.Set(wire.HeaderForceSwitch, "1")
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wire.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev wire.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

// readUntil skips interleaved broadcasts until the wanted method arrives.
func readUntil(t *testing.T, conn *websocket.Conn, method string) wire.Event {
	t.Helper()
	for i := 0; i < 10; i++ {
		ev := readEvent(t, conn)
		if ev.Method == method {
			return ev
		}
	}
	t.Fatalf("no %s event received", method)
	return wire.Event{}
}

func decodeError(t *testing.T, ev wire.Event) wire.ErrorData {
	t.Helper()
	require.Equal(t, wire.MethodError, ev.Method)
	var data wire.ErrorData
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	return data
}

func sendEvent(t *testing.T, conn *websocket.Conn, ev wire.Event) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(ev))
}

func TestUnauthenticatedRejected(t *testing.T) {
	_, _, ts := newTestServer(t, defaultTestConfig())
	conn := dialWS(t, ts, "", false)

	data := decodeError(t, readEvent(t, conn))
	require.Equal(t, wire.CodeUnauthenticated, data.Code)

	// The server closes its side right after.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev wire.Event
	require.Error(t, conn.ReadJSON(&ev))
}

func TestDuplicateIdentityRejected(t *testing.T) {
	_, _, ts := newTestServer(t, defaultTestConfig())
	first := dialWS(t, ts, "alice", false)

	second := dialWS(t, ts, "alice", false)
	data := decodeError(t, readEvent(t, second))
	require.Equal(t, wire.CodeDuplicateClient, data.Code)

	// The original connection is untouched and still answers.
	sendEvent(t, first, wire.Event{Method: wire.MethodRequestCurrentSession, RequestID: "r1"})
	data = decodeError(t, readUntil(t, first, wire.MethodError))
	require.Equal(t, wire.CodeNotInSession, data.Code)
}

func TestForcefulTakeover(t *testing.T) {
	_, sess, ts := newTestServer(t, defaultTestConfig())
	first := dialWS(t, ts, "alice", false)

	second := dialWS(t, ts, "alice", true)

	// The old side is told why it is going away.
	data := decodeError(t, readEvent(t, first))
	require.Equal(t, wire.CodeForcedSwitch, data.Code)

	// The new side owns the identity and can join.
	sendEvent(t, second, wire.Event{
		Method:    wire.MethodRequestJoinSession,
		RequestID: "r1",
		Data:      json.RawMessage(`{"sessionId":"` + sess.ID + `"}`),
	})
	joined := readUntil(t, second, wire.MethodSessionJoined)
	require.NotNil(t, joined.Request)
	require.True(t, joined.Request.Fulfilled)
}

func TestJoinSessionFlow(t *testing.T) {
	_, sess, ts := newTestServer(t, defaultTestConfig())
	conn := dialWS(t, ts, "alice", false)

	sendEvent(t, conn, wire.Event{
		Method:    wire.MethodRequestJoinSession,
		RequestID: "r1",
		Data:      json.RawMessage(`{"sessionId":"` + sess.ID + `","role":"manager"}`),
	})

	joined := readUntil(t, conn, wire.MethodSessionJoined)
	require.NotNil(t, joined.Request)
	require.Equal(t, "r1", joined.Request.Event.RequestID)
	require.Equal(t, "alice", joined.Request.RequesterID)

	var payload struct {
		SessionID string             `json:"sessionId"`
		Member    session.MemberView `json:"member"`
	}
	require.NoError(t, joined.Decode(&payload))
	require.Equal(t, sess.ID, payload.SessionID)
	require.Equal(t, session.RoleManager, payload.Member.Role)

	// Session-scoped requests are now answered.
	sendEvent(t, conn, wire.Event{Method: wire.MethodRequestCurrentSession, RequestID: "r2"})
	current := readUntil(t, conn, wire.MethodCurrentSession)
	require.NotNil(t, current.Request)
	require.Equal(t, "r2", current.Request.Event.RequestID)
}

func TestJoinUnknownSession(t *testing.T) {
	_, _, ts := newTestServer(t, defaultTestConfig())
	conn := dialWS(t, ts, "alice", false)

	sendEvent(t, conn, wire.Event{
		Method:    wire.MethodRequestJoinSession,
		RequestID: "r1",
		Data:      json.RawMessage(`{"sessionId":"ghost"}`),
	})

	data := decodeError(t, readUntil(t, conn, wire.MethodError))
	require.Equal(t, wire.CodeSessionNotFound, data.Code)
}

func TestCurrentSessionBeforeJoin(t *testing.T) {
	_, _, ts := newTestServer(t, defaultTestConfig())
	conn := dialWS(t, ts, "alice", false)

	sendEvent(t, conn, wire.Event{Method: wire.MethodRequestCurrentSession, RequestID: "r1"})

	ev := readUntil(t, conn, wire.MethodError)
	data := decodeError(t, ev)
	require.Equal(t, wire.CodeNotInSession, data.Code)

	// Correlated so the client's pending record clears.
	require.NotNil(t, ev.Request)
	require.True(t, ev.Request.Fulfilled)
}

func TestMalformedEnvelope(t *testing.T) {
	_, sess, ts := newTestServer(t, defaultTestConfig())
	conn := dialWS(t, ts, "alice", false)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	data := decodeError(t, readEvent(t, conn))
	require.Equal(t, wire.CodeInvalidPayload, data.Code)

	// The connection survives malformed frames.
	sendEvent(t, conn, wire.Event{
		Method:    wire.MethodRequestJoinSession,
		RequestID: "r1",
		Data:      json.RawMessage(`{"sessionId":"` + sess.ID + `"}`),
	})
	readUntil(t, conn, wire.MethodSessionJoined)
}

func TestRateLimitDisconnects(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.EventRate = 1
	cfg.EventBurst = 2
	_, _, ts := newTestServer(t, cfg)
	conn := dialWS(t, ts, "alice", false)

	for i := 0; i < 5; i++ {
		sendEvent(t, conn, wire.Event{Method: "noop"})
	}

	data := decodeError(t, readUntil(t, conn, wire.MethodError))
	require.Equal(t, wire.CodeRateLimit, data.Code)
}

func TestSessionsEndpoint(t *testing.T) {
	_, sess, ts := newTestServer(t, defaultTestConfig())

	resp, err := http.Get(ts.URL + "/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []sessionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	require.Equal(t, sess.ID, list[0].ID)
	require.Equal(t, "Drill", list[0].Name)
	require.Equal(t, string(session.StateUnstarted), list[0].State)
}

func TestHealthz(t *testing.T) {
	_, _, ts := newTestServer(t, defaultTestConfig())

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRejoinAfterQuit(t *testing.T) {
	_, sess, ts := newTestServer(t, defaultTestConfig())
	conn := dialWS(t, ts, "alice", false)

	join := wire.Event{
		Method:    wire.MethodRequestJoinSession,
		RequestID: "r1",
		Data:      json.RawMessage(`{"sessionId":"` + sess.ID + `"}`),
	}
	sendEvent(t, conn, join)
	readUntil(t, conn, wire.MethodSessionJoined)
	require.Equal(t, 1, sess.MemberCount())

	sendEvent(t, conn, wire.Event{Method: wire.MethodRequestQuitSession, RequestID: "r2"})
	quit := readUntil(t, conn, wire.MethodSessionQuit)
	require.NotNil(t, quit.Request)
	require.True(t, quit.Request.Fulfilled)
	require.Eventually(t, func() bool {
		return sess.MemberCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// The same connection can join again: quitting only removed the
	// session's listeners and freed the membership slot.
	join.RequestID = "r3"
	sendEvent(t, conn, join)
	joined := readUntil(t, conn, wire.MethodSessionJoined)
	require.NotNil(t, joined.Request)
	require.Equal(t, "r3", joined.Request.Event.RequestID)
	require.True(t, joined.Request.Fulfilled)
	require.Equal(t, 1, sess.MemberCount())

	// And session-scoped requests are answered once more.
	sendEvent(t, conn, wire.Event{Method: wire.MethodRequestCurrentSession, RequestID: "r4"})
	current := readUntil(t, conn, wire.MethodCurrentSession)
	require.Equal(t, "r4", current.Request.Event.RequestID)
}

func TestDisconnectQuitsSession(t *testing.T) {
	_, sess, ts := newTestServer(t, defaultTestConfig())
	conn := dialWS(t, ts, "alice", false)

	sendEvent(t, conn, wire.Event{
		Method:    wire.MethodRequestJoinSession,
		RequestID: "r1",
		Data:      json.RawMessage(`{"sessionId":"` + sess.ID + `"}`),
	})
	readUntil(t, conn, wire.MethodSessionJoined)
	require.Equal(t, 1, sess.MemberCount())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return sess.MemberCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
