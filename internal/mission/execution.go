package mission

import (
	"time"

	"github.com/google/uuid"
)

// Execution is one invocation of an action. It is created when the session
// accepts an execute request and lives until the session is destroyed.
type Execution struct {
	ID        string
	Action    *Action
	StartedAt time.Time

	// Outcome is nil while the execution is in flight and immutable once set.
	Outcome *Outcome
}

// NewExecution records an accepted invocation and marks the owning node as
// executing. The caller must have validated the node first.
func NewExecution(a *Action, startedAt time.Time) *Execution {
	e := &Execution{
		ID:        uuid.NewString(),
		Action:    a,
		StartedAt: startedAt,
	}
	a.Executions = append(a.Executions, e)
	a.Node.Live = e
	return e
}

// Outcome resolves an execution. Exactly one per execution; revealed nodes
// are only present on success.
type Outcome struct {
	Successful         bool
	RevealedNodes      []*Node
	RevealedPrototypes []Prototype
	ResolvedAt         time.Time
}

// Resolve attaches the outcome and clears the node's in-flight marker.
func (e *Execution) Resolve(o *Outcome) {
	if e.Outcome != nil {
		return
	}
	e.Outcome = o
	if e.Action.Node.Live == e {
		e.Action.Node.Live = nil
	}
}
