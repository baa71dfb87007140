package mission

import "time"

// ActionID uniquely identifies an action within one mission.
type ActionID string

// Action is an operation attached to exactly one node. Its numeric fields
// are mutable: session modifiers may adjust cost, process time, and success
// chance while the mission runs. In-flight executions are unaffected; their
// parameters are captured at acceptance.
type Action struct {
	ID   ActionID
	Node *Node
	Name string

	ResourceCost  int
	ProcessTime   time.Duration
	SuccessChance float64

	// Reveals lists the nodes revealed in full when an execution succeeds.
	Reveals []NodeID

	Executions []*Execution
}
