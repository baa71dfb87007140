// Package mission implements the mission graph model: the forest of nodes a
// running session progresses through, the actions attached to them, timed
// executions with probabilistic outcomes, and per-force resource pools.
// Pure data and invariants; no I/O besides the YAML definition loader.
package mission

// NodeID uniquely identifies a node within one mission.
type NodeID string

// NodeState is derived from the reveal/open/block flags and the presence of
// an in-flight execution; it is never stored.
type NodeState string

const (
	StateHidden     NodeState = "hidden"
	StateRevealed   NodeState = "revealed"
	StateOpenable   NodeState = "openable"
	StateOpened     NodeState = "opened"
	StateBlocked    NodeState = "blocked"
	StateExecutable NodeState = "executable"
	StateExecuting  NodeState = "executing"
)

// Node is one unit of mission structure. The canonical layout is a forest:
// every node has at most one structural parent and a slash-joined path of
// ids from its root.
type Node struct {
	ID      NodeID
	Name    string
	Details string
	// ForceID scopes visibility; empty means visible to every force.
	ForceID ForceID
	Path    string

	Revealed bool
	Opened   bool
	Blocked  bool
	// PrototypeOnly marks a node whose structure was revealed ahead of its
	// content. Cleared when the node is revealed in full.
	PrototypeOnly bool

	Parent   *Node
	Children []*Node
	Actions  []*Action

	// Live is the at-most-one in-flight execution on this node.
	Live *Execution
}

// State derives the node's current state. A node is never opened without
// being revealed, and never executable while blocked.
func (n *Node) State() NodeState {
	switch {
	case !n.Revealed:
		return StateHidden
	case n.PrototypeOnly:
		return StateRevealed
	case n.Blocked:
		return StateBlocked
	case n.Live != nil:
		return StateExecuting
	case n.Opened && len(n.Actions) > 0:
		return StateExecutable
	case n.Opened:
		return StateOpened
	default:
		return StateOpenable
	}
}

// Openable reports whether an open request would be accepted.
func (n *Node) Openable() bool { return n.State() == StateOpenable }

// Executable reports whether an execute request would be accepted.
func (n *Node) Executable() bool { return n.State() == StateExecutable }

// Prototype is the structural stub of a node revealed ahead of its content.
type Prototype struct {
	ID   NodeID `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

func (n *Node) prototype() Prototype {
	return Prototype{ID: n.ID, Name: n.Name, Path: n.Path}
}
