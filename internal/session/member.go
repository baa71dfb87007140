// Package session implements the authoritative aggregate for one running
// mission: membership and roles, the session lifecycle, request handlers
// for every participant operation, timed action execution, and the modifier
// hook through which external effects mutate the mission graph.
package session

import (
	"time"

	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/channel"
	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/mission"
)

// Role names a fixed permission set.
type Role string

const (
	RoleParticipant     Role = "participant"
	RoleObserver        Role = "observer"
	RoleLimitedObserver Role = "limited-observer"
	RoleManager         Role = "manager"
)

// Permissions is what a role may do. Progress covers opening nodes and
// executing actions; Manage covers session control, membership, and
// modifiers; AllForces widens visibility past the member's own force.
type Permissions struct {
	Progress  bool
	Manage    bool
	AllForces bool
}

// Permissions returns the fixed set for the role. Unknown roles get none.
func (r Role) Permissions() Permissions {
	switch r {
	case RoleManager:
		return Permissions{Progress: true, Manage: true, AllForces: true}
	case RoleParticipant:
		return Permissions{Progress: true}
	case RoleObserver:
		return Permissions{AllForces: true}
	case RoleLimitedObserver:
		return Permissions{}
	}
	return Permissions{}
}

// ParseRole validates a wire role string.
func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleParticipant, RoleObserver, RoleLimitedObserver, RoleManager:
		return Role(raw), true
	}
	return "", false
}

// Member is one participant's membership in a session.
type Member struct {
	ID       string
	Name     string
	Role     Role
	ForceID  mission.ForceID
	Ch       *channel.Channel
	JoinedAt time.Time

	// OnRemove, when set, runs after the member has been detached from the
	// session on quit, kick, ban, or destroy. The server uses it to mark the
	// connection free to join again.
	OnRemove func()
}

// MemberView is the wire form of a member.
type MemberView struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Role    Role            `json:"role"`
	ForceID mission.ForceID `json:"forceId,omitempty"`
}

func (m *Member) view() MemberView {
	return MemberView{ID: m.ID, Name: m.Name, Role: m.Role, ForceID: m.ForceID}
}
