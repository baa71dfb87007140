package session

import (
	"log"

	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/channel"
	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/mission"
	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/wire"
)

// op is one request handler body, run with the session lock held.
type op func(m *Member, ev wire.Event) *wire.Error

// requestHandlers is the table of request methods a session answers.
func (s *Session) requestHandlers() map[string]op {
	return map[string]op{
		wire.MethodRequestCurrentSession: s.opCurrentSession,
		wire.MethodRequestQuitSession:    s.opQuit,
		wire.MethodRequestOpenNode:       s.opOpenNode,
		wire.MethodRequestExecuteAction:  s.opExecuteAction,
		wire.MethodRequestStartSession:   s.manageOnly(func(m *Member, ev wire.Event) *wire.Error { return s.startLocked(m, ev) }),
		wire.MethodRequestEndSession:     s.manageOnly(func(m *Member, ev wire.Event) *wire.Error { return s.endLocked(m, ev) }),
		wire.MethodRequestResetSession:   s.manageOnly(func(m *Member, ev wire.Event) *wire.Error { return s.resetLocked(m, ev) }),
		wire.MethodRequestConfigUpdate:   s.manageOnly(s.opConfigUpdate),
		wire.MethodRequestKick:           s.manageOnly(s.opKick),
		wire.MethodRequestBan:            s.manageOnly(s.opBan),
		wire.MethodRequestAssignForce:    s.manageOnly(s.opAssignForce),
		wire.MethodRequestAssignRole:     s.manageOnly(s.opAssignRole),
		wire.MethodRequestSendOutput:     s.opSendOutput,
	}
}

// bind registers the session's request listeners on a member's channel.
// Called with the lock held during Join; unbindLocked removes exactly this
// set again on removal.
func (s *Session) bind(m *Member) {
	for method, fn := range s.requestHandlers() {
		m.Ch.AddEventListener(method, s.guarded(m, method, fn))
	}
}

// unbindLocked clears only the listeners bind registered. Connection-level
// listeners (join, the pre-join guard) survive, so a removed participant can
// join again over the same connection.
func (s *Session) unbindLocked(m *Member) {
	handlers := s.requestHandlers()
	methods := make([]string, 0, len(handlers))
	for method := range handlers {
		methods = append(methods, method)
	}
	m.Ch.ClearEventListeners(methods...)
}

// guarded wraps an op with the session lock, structured-error conversion,
// and the outermost recover boundary: validation failures become error
// envelopes for the requester, panics become the generic server error, and
// other members never hear about either.
func (s *Session) guarded(m *Member, method string, fn op) channel.Handler {
	return func(ev wire.Event) {
		s.mu.Lock()
		defer s.mu.Unlock()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("session %s: panic in %s handler: %v", s.Name, method, r)
				s.sendErrorLocked(m, ev, wire.Errorf(wire.CodeServerError, "internal server error"))
			}
		}()
		if s.members[m.ID] == nil {
			s.sendErrorLocked(m, ev, wire.Errorf(wire.CodeNotInSession, "not in session %s", s.Name))
			return
		}
		if werr := fn(m, ev); werr != nil {
			s.sendErrorLocked(m, ev, werr)
		}
	}
}

// manageOnly gates an op on the Manage permission.
func (s *Session) manageOnly(fn op) op {
	return func(m *Member, ev wire.Event) *wire.Error {
		if !m.Role.Permissions().Manage {
			return wire.Errorf(wire.CodeUnauthorized, "role %s may not manage session %s", m.Role, s.Name)
		}
		return fn(m, ev)
	}
}

func progressAllowed(m *Member) *wire.Error {
	if !m.Role.Permissions().Progress {
		return wire.Errorf(wire.CodeUnauthorized, "role %s may not progress the mission", m.Role)
	}
	return nil
}

/* ------------------------------ handlers -------------------------------- */

func (s *Session) opCurrentSession(m *Member, ev wire.Event) *wire.Error {
	s.respondLocked(ev, m, wire.MethodCurrentSession, s.snapshotLocked(m), true)
	return nil
}

func (s *Session) opQuit(m *Member, ev wire.Event) *wire.Error {
	// Respond before removal clears the member's listeners.
	s.respondLocked(ev, m, wire.MethodSessionQuit, map[string]any{"memberId": m.ID}, true)
	s.removeLocked(m.ID)
	log.Printf("session %s: %s quit", s.Name, m.ID)
	return nil
}

func (s *Session) opOpenNode(m *Member, ev wire.Event) *wire.Error {
	if werr := progressAllowed(m); werr != nil {
		return werr
	}
	var payload struct {
		NodeID mission.NodeID `json:"nodeId"`
	}
	if err := ev.Decode(&payload); err != nil || payload.NodeID == "" {
		return wire.Errorf(wire.CodeInvalidPayload, "open-node payload requires nodeId")
	}
	return s.openNodeLocked(m, ev, payload.NodeID)
}

func (s *Session) opExecuteAction(m *Member, ev wire.Event) *wire.Error {
	if werr := progressAllowed(m); werr != nil {
		return werr
	}
	var payload struct {
		ActionID mission.ActionID `json:"actionId"`
	}
	if err := ev.Decode(&payload); err != nil || payload.ActionID == "" {
		return wire.Errorf(wire.CodeInvalidPayload, "execute-action payload requires actionId")
	}
	return s.executeActionLocked(m, ev, payload.ActionID)
}

func (s *Session) opConfigUpdate(m *Member, ev wire.Event) *wire.Error {
	var mod Modifier
	if err := ev.Decode(&mod); err != nil {
		return wire.Errorf(wire.CodeInvalidPayload, "config-update payload: %v", err)
	}
	if werr := s.enactLocked(mod); werr != nil {
		return werr
	}
	s.respondLocked(ev, m, wire.MethodModifierEnacted, mod, true)
	return nil
}

func (s *Session) opKick(m *Member, ev wire.Event) *wire.Error {
	var payload struct {
		MemberID string `json:"memberId"`
	}
	if err := ev.Decode(&payload); err != nil || payload.MemberID == "" {
		return wire.Errorf(wire.CodeInvalidPayload, "kick payload requires memberId")
	}
	target := s.members[payload.MemberID]
	if target == nil {
		return wire.Errorf(wire.CodeNotInSession, "member %s not in session", payload.MemberID)
	}
	s.respondLocked(ev, m, wire.MethodMemberKicked, map[string]any{"memberId": target.ID}, true)
	s.removeLocked(target.ID)
	log.Printf("session %s: %s kicked %s", s.Name, m.ID, target.ID)
	return nil
}

// opBan removes the target and records the id so future joins are rejected.
func (s *Session) opBan(m *Member, ev wire.Event) *wire.Error {
	var payload struct {
		MemberID string `json:"memberId"`
	}
	if err := ev.Decode(&payload); err != nil || payload.MemberID == "" {
		return wire.Errorf(wire.CodeInvalidPayload, "ban payload requires memberId")
	}
	s.banned[payload.MemberID] = struct{}{}
	s.respondLocked(ev, m, wire.MethodMemberBanned, map[string]any{"memberId": payload.MemberID}, true)
	s.removeLocked(payload.MemberID)
	log.Printf("session %s: %s banned %s", s.Name, m.ID, payload.MemberID)
	return nil
}

func (s *Session) opAssignForce(m *Member, ev wire.Event) *wire.Error {
	var payload struct {
		MemberID string          `json:"memberId"`
		ForceID  mission.ForceID `json:"forceId"`
	}
	if err := ev.Decode(&payload); err != nil || payload.MemberID == "" {
		return wire.Errorf(wire.CodeInvalidPayload, "assign-force payload requires memberId")
	}
	target := s.members[payload.MemberID]
	if target == nil {
		return wire.Errorf(wire.CodeNotInSession, "member %s not in session", payload.MemberID)
	}
	if payload.ForceID != "" && s.mission.Force(payload.ForceID) == nil {
		return wire.Errorf(wire.CodeInvalidPayload, "unknown force %s", payload.ForceID)
	}
	target.ForceID = payload.ForceID
	s.respondLocked(ev, m, wire.MethodForceAssigned, target.view(), true)
	s.broadcastMembersLocked()
	return nil
}

func (s *Session) opAssignRole(m *Member, ev wire.Event) *wire.Error {
	var payload struct {
		MemberID string `json:"memberId"`
		Role     string `json:"role"`
	}
	if err := ev.Decode(&payload); err != nil || payload.MemberID == "" {
		return wire.Errorf(wire.CodeInvalidPayload, "assign-role payload requires memberId")
	}
	role, ok := ParseRole(payload.Role)
	if !ok {
		return wire.Errorf(wire.CodeInvalidPayload, "unknown role %q", payload.Role)
	}
	target := s.members[payload.MemberID]
	if target == nil {
		return wire.Errorf(wire.CodeNotInSession, "member %s not in session", payload.MemberID)
	}
	target.Role = role
	s.respondLocked(ev, m, wire.MethodRoleAssigned, target.view(), true)
	s.broadcastMembersLocked()
	return nil
}

// opSendOutput appends a line to a force's output log. Members write to
// their own force; Manage may write to any. The notification reaches only
// members who can see that force.
func (s *Session) opSendOutput(m *Member, ev wire.Event) *wire.Error {
	var payload struct {
		ForceID mission.ForceID `json:"forceId"`
		Text    string          `json:"text"`
	}
	if err := ev.Decode(&payload); err != nil || payload.Text == "" {
		return wire.Errorf(wire.CodeInvalidPayload, "send-output payload requires text")
	}
	forceID := payload.ForceID
	if forceID == "" {
		forceID = m.ForceID
	}
	if forceID != m.ForceID && !m.Role.Permissions().Manage {
		return wire.Errorf(wire.CodeUnauthorized, "role %s may only write to its own force output", m.Role)
	}
	f := s.mission.Force(forceID)
	if f == nil {
		return wire.Errorf(wire.CodeInvalidPayload, "unknown force %s", forceID)
	}
	entry := f.AppendOutput(payload.Text, s.now())
	s.respondScopedLocked(ev, m, wire.MethodOutputSent, map[string]any{
		"forceId": forceID,
		"text":    entry.Text,
		"at":      entry.At,
	}, true, func(other *Member) bool {
		return other.Role.Permissions().AllForces || other.ForceID == forceID
	})
	return nil
}
