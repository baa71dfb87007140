package mission

import (
	"errors"
	"fmt"
)

var (
	// ErrNodeNotFound is returned when a referenced node doesn't exist.
	ErrNodeNotFound = errors.New("mission: node not found")
	// ErrActionNotFound is returned when a referenced action isn't indexed.
	ErrActionNotFound = errors.New("mission: action not found")
	// ErrForceNotFound is returned when a referenced force doesn't exist.
	ErrForceNotFound = errors.New("mission: force not found")
	// ErrNotOpenable is returned when opening a node outside the openable state.
	ErrNotOpenable = errors.New("mission: node not openable")
	// ErrNotRevealed is returned when operating on a hidden node.
	ErrNotRevealed = errors.New("mission: node not revealed")
)

// Mission owns the node forest, the revealed-action index, and the forces
// for one running instance. It has no locking of its own: the owning session
// is its sole mutator.
type Mission struct {
	ID   string
	Name string

	roots   []*Node
	byPath  map[string]*Node
	byID    map[NodeID]*Node
	actions map[ActionID]*Action

	forces     map[ForceID]*Force
	forceOrder []ForceID
}

// NodeByID returns a node, revealed or not.
func (m *Mission) NodeByID(id NodeID) *Node { return m.byID[id] }

// NodeByPath returns a node by its structural path.
func (m *Mission) NodeByPath(path string) *Node { return m.byPath[path] }

// ActionByID looks an action up in the revealed-action index. Actions of
// hidden or prototype nodes are not indexed.
func (m *Mission) ActionByID(id ActionID) *Action { return m.actions[id] }

// Force returns a force by id.
func (m *Mission) Force(id ForceID) *Force { return m.forces[id] }

// Forces returns the forces in definition order.
func (m *Mission) Forces() []*Force {
	out := make([]*Force, 0, len(m.forceOrder))
	for _, id := range m.forceOrder {
		out = append(out, m.forces[id])
	}
	return out
}

// Roots returns the forest roots in definition order.
func (m *Mission) Roots() []*Node { return m.roots }

// Walk visits every node depth-first in definition order. Shared traversal
// for snapshots, the action index, and validation.
func (m *Mission) Walk(fn func(n *Node)) {
	var visit func(n *Node)
	visit = func(n *Node) {
		fn(n)
		for _, c := range n.Children {
			visit(c)
		}
	}
	for _, r := range m.roots {
		visit(r)
	}
}

// RevealSet is what one mutation uncovered: nodes revealed in full and
// structural prototypes revealed ahead of content.
type RevealSet struct {
	Nodes      []*Node
	Prototypes []Prototype
}

// Open flips a revealed, openable node to opened. Its direct children are
// revealed in full and their own children surface as prototypes. The action
// index is rebuilt to include the new children's actions.
func (m *Mission) Open(id NodeID) (*RevealSet, error) {
	n := m.byID[id]
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if !n.Revealed {
		return nil, fmt.Errorf("%w: %s", ErrNotRevealed, id)
	}
	if !n.Openable() {
		return nil, fmt.Errorf("%w: %s (state %s)", ErrNotOpenable, id, n.State())
	}
	n.Opened = true

	rs := &RevealSet{}
	for _, c := range n.Children {
		m.revealNode(c, rs)
	}
	m.RebuildActionIndex()
	return rs, nil
}

// Reveal uncovers the given nodes in full, surfacing their children as
// prototypes, and rebuilds the action index. Unknown ids are an error;
// already-revealed nodes are skipped.
func (m *Mission) Reveal(ids []NodeID) (*RevealSet, error) {
	rs := &RevealSet{}
	for _, id := range ids {
		n := m.byID[id]
		if n == nil {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
		m.revealNode(n, rs)
	}
	m.RebuildActionIndex()
	return rs, nil
}

func (m *Mission) revealNode(n *Node, rs *RevealSet) {
	if n.Revealed && !n.PrototypeOnly {
		return
	}
	n.Revealed = true
	n.PrototypeOnly = false
	rs.Nodes = append(rs.Nodes, n)
	for _, c := range n.Children {
		if c.Revealed {
			continue
		}
		c.Revealed = true
		c.PrototypeOnly = true
		rs.Prototypes = append(rs.Prototypes, c.prototype())
	}
}

// SetBlocked flips a node's block flag.
func (m *Mission) SetBlocked(id NodeID, blocked bool) error {
	n := m.byID[id]
	if n == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	n.Blocked = blocked
	return nil
}

// RebuildActionIndex remaps action ids to actions for every fully revealed
// node. Called after any reveal so newly surfaced actions resolve.
func (m *Mission) RebuildActionIndex() {
	m.actions = make(map[ActionID]*Action)
	m.Walk(func(n *Node) {
		if !n.Revealed || n.PrototypeOnly {
			return
		}
		for _, a := range n.Actions {
			m.actions[a.ID] = a
		}
	})
}
