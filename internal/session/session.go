package session

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/mission"
	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/wire"
)

// State is the session lifecycle state.
type State string

const (
	StateUnstarted State = "unstarted"
	StateStarted   State = "started"
	StateEnded     State = "ended"
)

// Session is the authoritative instance of one running mission. It is the
// sole mutator of its mission graph and forces: every handler locks mu, runs
// to completion, and broadcasts inside the lock so participants observe
// mutations in commit order.
type Session struct {
	ID   string
	Name string

	mu      sync.Mutex
	state   State
	def     *mission.Definition
	mission *mission.Mission

	members map[string]*Member
	order   []string // member ids in join order
	banned  map[string]struct{}

	rng *rand.Rand
	now func() time.Time

	// generation increments on reset so pending resolutions from the
	// previous deal are discarded instead of mutating the fresh graph.
	generation uint64
	timers     map[*time.Timer]struct{}
	destroyed  bool
}

// New builds an unstarted session from a mission definition.
func New(name string, def *mission.Definition) (*Session, error) {
	m, err := def.Build()
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:      uuid.NewString(),
		Name:    name,
		state:   StateUnstarted,
		def:     def,
		mission: m,
		members: make(map[string]*Member),
		banned:  make(map[string]struct{}),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
		timers:  make(map[*time.Timer]struct{}),
	}, nil
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MemberCount returns the number of joined participants.
func (s *Session) MemberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Member returns a joined member by participant id.
func (s *Session) Member(id string) *Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[id]
}

// Join adds a participant. Rejected when the id is banned or already
// present. On success the member's channel gets the session's request
// listeners and everyone is told the new membership.
func (s *Session) Join(m *Member) *wire.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, bad := s.banned[m.ID]; bad {
		return wire.Errorf(wire.CodeBanned, "participant %s is banned from session %s", m.ID, s.Name)
	}
	if _, dup := s.members[m.ID]; dup {
		return wire.Errorf(wire.CodeAlreadyInSession, "participant %s already joined", m.ID)
	}
	if m.ForceID != "" && s.mission.Force(m.ForceID) == nil {
		return wire.Errorf(wire.CodeInvalidPayload, "unknown force %s", m.ForceID)
	}

	m.JoinedAt = s.now()
	s.members[m.ID] = m
	s.order = append(s.order, m.ID)
	s.bind(m)
	s.broadcastMembersLocked()
	log.Printf("session %s: %s joined as %s", s.Name, m.ID, m.Role)
	return nil
}

// removeLocked detaches a member: the session's listeners cleared, pending
// requests dropped, membership broadcast to the remaining participants. The
// member's OnRemove hook fires last so its owner can release the slot.
func (s *Session) removeLocked(id string) *Member {
	m, ok := s.members[id]
	if !ok {
		return nil
	}
	delete(s.members, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.unbindLocked(m)
	m.Ch.ClearUnfulfilledRequests()
	s.broadcastMembersLocked()
	if m.OnRemove != nil {
		m.OnRemove()
	}
	return m
}

// Quit removes a participant at their own request or on disconnect.
func (s *Session) Quit(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeLocked(id) != nil {
		log.Printf("session %s: %s quit", s.Name, id)
	}
}

// Destroy ends the session, detaches every member, and stops pending
// resolutions. The owner must also unregister it from the registry;
// sessions are removed explicitly, never collected implicitly.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	s.state = StateEnded
	for t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[*time.Timer]struct{})
	for _, id := range append([]string(nil), s.order...) {
		if m := s.members[id]; m != nil {
			delete(s.members, id)
			s.unbindLocked(m)
			m.Ch.ClearUnfulfilledRequests()
			if m.OnRemove != nil {
				m.OnRemove()
			}
		}
	}
	s.order = nil
	log.Printf("session %s: destroyed", s.Name)
}

/* --------------------------- broadcast helpers --------------------------- */

// membersLocked returns members in join order.
func (s *Session) membersLocked() []*Member {
	out := make([]*Member, 0, len(s.order))
	for _, id := range s.order {
		if m := s.members[id]; m != nil {
			out = append(out, m)
		}
	}
	return out
}

// broadcastLocked emits a fire-and-forget event to every member.
func (s *Session) broadcastLocked(method string, data any) {
	ev, err := wire.NewEvent(method, data)
	if err != nil {
		log.Printf("session %s: marshal %s: %v", s.Name, method, err)
		return
	}
	for _, m := range s.membersLocked() {
		if err := m.Ch.EmitEvent(ev); err != nil {
			log.Printf("session %s: send %s to %s: %v", s.Name, method, m.ID, err)
		}
	}
}

func (s *Session) broadcastMembersLocked() {
	views := make([]MemberView, 0, len(s.order))
	for _, m := range s.membersLocked() {
		views = append(views, m.view())
	}
	s.broadcastLocked(wire.MethodSessionMembers, map[string]any{"members": views})
}

// respondLocked sends a correlated response to the requester and the same
// event as a plain notification to every other member.
func (s *Session) respondLocked(req wire.Event, requester *Member, method string, data any, fulfilled bool) {
	ev, err := wire.NewEvent(method, data)
	if err != nil {
		log.Printf("session %s: marshal %s: %v", s.Name, method, err)
		return
	}
	plain := ev
	ev.Request = &wire.RequestInfo{Event: &req, RequesterID: requester.ID, Fulfilled: fulfilled}
	for _, m := range s.membersLocked() {
		out := plain
		if m.ID == requester.ID {
			out = ev
		}
		if err := m.Ch.EmitEvent(out); err != nil {
			log.Printf("session %s: send %s to %s: %v", s.Name, method, m.ID, err)
		}
	}
}

// respondScopedLocked is respondLocked restricted to members the filter
// admits. The requester always receives the correlated response.
func (s *Session) respondScopedLocked(req wire.Event, requester *Member, method string, data any, fulfilled bool, include func(*Member) bool) {
	ev, err := wire.NewEvent(method, data)
	if err != nil {
		log.Printf("session %s: marshal %s: %v", s.Name, method, err)
		return
	}
	plain := ev
	ev.Request = &wire.RequestInfo{Event: &req, RequesterID: requester.ID, Fulfilled: fulfilled}
	for _, m := range s.membersLocked() {
		out := plain
		if m.ID == requester.ID {
			out = ev
		} else if !include(m) {
			continue
		}
		if err := m.Ch.EmitEvent(out); err != nil {
			log.Printf("session %s: send %s to %s: %v", s.Name, method, m.ID, err)
		}
	}
}

// respondAllLocked sends a correlated response to every member, e.g. the
// multi-stage execute-action broadcasts.
func (s *Session) respondAllLocked(req wire.Event, requesterID string, method string, data any, fulfilled bool) {
	ev, err := wire.NewEvent(method, data)
	if err != nil {
		log.Printf("session %s: marshal %s: %v", s.Name, method, err)
		return
	}
	ev.Request = &wire.RequestInfo{Event: &req, RequesterID: requesterID, Fulfilled: fulfilled}
	for _, m := range s.membersLocked() {
		if err := m.Ch.EmitEvent(ev); err != nil {
			log.Printf("session %s: send %s to %s: %v", s.Name, method, m.ID, err)
		}
	}
}

// sendErrorLocked addresses a structured error to the requester only. The
// attached request info is marked fulfilled so the client's pending record
// clears.
func (s *Session) sendErrorLocked(m *Member, req wire.Event, werr *wire.Error) {
	ev, err := wire.NewEvent(wire.MethodError, wire.ErrorData{Code: werr.Code, Message: werr.Message})
	if err != nil {
		return
	}
	if req.RequestID != "" {
		ev.Request = &wire.RequestInfo{Event: &req, RequesterID: m.ID, Fulfilled: true}
	}
	if err := m.Ch.EmitEvent(ev); err != nil {
		log.Printf("session %s: send error to %s: %v", s.Name, m.ID, err)
	}
}

/* ---------------------------- lifecycle ops ----------------------------- */

func (s *Session) startLocked(requester *Member, req wire.Event) *wire.Error {
	if s.state != StateUnstarted {
		return wire.Errorf(wire.CodeProgressLocked, "session %s already %s", s.Name, s.state)
	}
	s.state = StateStarted
	log.Printf("session %s: started by %s", s.Name, requester.ID)
	s.respondLocked(req, requester, wire.MethodSessionStarted, map[string]any{"state": s.state}, true)
	return nil
}

func (s *Session) endLocked(requester *Member, req wire.Event) *wire.Error {
	if s.state == StateEnded {
		return wire.Errorf(wire.CodeProgressLocked, "session %s already ended", s.Name)
	}
	s.state = StateEnded
	log.Printf("session %s: ended by %s", s.Name, requester.ID)
	s.respondLocked(req, requester, wire.MethodSessionEnded, map[string]any{"state": s.state}, true)
	return nil
}

// resetLocked re-deals the mission from its definition without touching
// membership. Pending resolutions from the old deal are discarded via the
// generation counter.
func (s *Session) resetLocked(requester *Member, req wire.Event) *wire.Error {
	if s.state != StateStarted {
		return wire.Errorf(wire.CodeProgressLocked, "session %s is %s", s.Name, s.state)
	}
	fresh, err := s.def.Build()
	if err != nil {
		log.Printf("session %s: reset rebuild: %v", s.Name, err)
		return wire.Errorf(wire.CodeServerError, "internal server error")
	}
	s.mission = fresh
	s.generation++
	log.Printf("session %s: reset by %s", s.Name, requester.ID)
	s.respondLocked(req, requester, wire.MethodSessionReset, map[string]any{"state": s.state}, true)
	return nil
}

/* ----------------------------- snapshots -------------------------------- */

// snapshotLocked renders the session as one member may see it.
func (s *Session) snapshotLocked(m *Member) map[string]any {
	perms := m.Role.Permissions()
	views := make([]MemberView, 0, len(s.order))
	for _, other := range s.membersLocked() {
		views = append(views, other.view())
	}
	return map[string]any{
		"id":      s.ID,
		"name":    s.Name,
		"state":   s.state,
		"members": views,
		"mission": s.mission.SnapshotFor(m.ForceID, perms.AllForces),
	}
}

// SnapshotFor returns the force-filtered wire snapshot for a member.
func (s *Session) SnapshotFor(m *Member) mission.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mission.SnapshotFor(m.ForceID, m.Role.Permissions().AllForces)
}

func (s *Session) String() string {
	return fmt.Sprintf("session %s (%s)", s.Name, s.ID)
}
