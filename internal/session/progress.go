package session

import (
	"log"
	"time"

	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/mission"
	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/wire"
)

// nodeOpenedData is the node-opened response payload.
type nodeOpenedData struct {
	NodeID             mission.NodeID      `json:"nodeId"`
	Path               string              `json:"path"`
	State              mission.NodeState   `json:"state"`
	RevealedChildNodes []mission.NodeView  `json:"revealedChildNodes"`
	RevealedPrototypes []mission.Prototype `json:"revealedPrototypes,omitempty"`
}

// openNodeLocked validates and applies an open request. Validation happens
// before any mutation; a rejected open leaves the graph untouched and only
// the requester hears about it.
func (s *Session) openNodeLocked(requester *Member, req wire.Event, nodeID mission.NodeID) *wire.Error {
	if s.state != StateStarted {
		return wire.Errorf(wire.CodeProgressLocked, "session %s is %s", s.Name, s.state)
	}
	n := s.mission.NodeByID(nodeID)
	if n == nil {
		return wire.Errorf(wire.CodeNodeNotFound, "node %s not found", nodeID)
	}
	if !n.Revealed {
		return wire.Errorf(wire.CodeNodeNotRevealed, "node %s not revealed", nodeID)
	}
	if !n.Openable() {
		return wire.Errorf(wire.CodeNodeNotOpenable, "node %s not openable (state %s)", nodeID, n.State())
	}

	rs, err := s.mission.Open(nodeID)
	if err != nil {
		log.Printf("session %s: open %s: %v", s.Name, nodeID, err)
		return wire.Errorf(wire.CodeServerError, "internal server error")
	}

	data := nodeOpenedData{
		NodeID:             n.ID,
		Path:               n.Path,
		State:              n.State(),
		RevealedChildNodes: make([]mission.NodeView, 0, len(rs.Nodes)),
		RevealedPrototypes: rs.Prototypes,
	}
	for _, c := range rs.Nodes {
		data.RevealedChildNodes = append(data.RevealedChildNodes, s.mission.SnapshotNode(c))
	}
	log.Printf("session %s: %s opened node %s (%d revealed)", s.Name, requester.ID, nodeID, len(rs.Nodes))
	s.respondLocked(req, requester, wire.MethodNodeOpened, data, true)
	return nil
}

// executionData is shared by the initiated and completed broadcasts.
type executionData struct {
	ExecutionID        string              `json:"executionId"`
	ActionID           mission.ActionID    `json:"actionId"`
	NodeID             mission.NodeID      `json:"nodeId"`
	ForceID            mission.ForceID     `json:"forceId,omitempty"`
	Pool               int                 `json:"pool"`
	ProcessTimeS       float64             `json:"processTimeS,omitempty"`
	Successful         *bool               `json:"successful,omitempty"`
	RevealedNodes      []mission.NodeView  `json:"revealedNodes,omitempty"`
	RevealedPrototypes []mission.Prototype `json:"revealedPrototypes,omitempty"`
}

// executeActionLocked validates an execute request and, on acceptance,
// deducts the cost, creates the execution, marks the node executing before
// any delay begins, broadcasts the non-final initiated response, and
// schedules the resolution after the action's process time.
func (s *Session) executeActionLocked(requester *Member, req wire.Event, actionID mission.ActionID) *wire.Error {
	if s.state != StateStarted {
		return wire.Errorf(wire.CodeProgressLocked, "session %s is %s", s.Name, s.state)
	}
	a := s.mission.ActionByID(actionID)
	if a == nil {
		return wire.Errorf(wire.CodeActionNotFound, "action %s not found", actionID)
	}
	n := a.Node
	if !n.Revealed {
		return wire.Errorf(wire.CodeNodeNotRevealed, "node %s not revealed", n.ID)
	}
	if !n.Executable() {
		return wire.Errorf(wire.CodeNodeNotExecutable, "node %s not executable (state %s)", n.ID, n.State())
	}

	forceID := n.ForceID
	if forceID == "" {
		forceID = requester.ForceID
	}
	force := s.mission.Force(forceID)
	if force == nil {
		return wire.Errorf(wire.CodeInvalidPayload, "no force owns action %s", actionID)
	}
	if !force.CanAfford(a.ResourceCost) {
		return wire.Errorf(wire.CodeInsufficientResources,
			"force %s has %d, action %s costs %d", forceID, force.Pool, actionID, a.ResourceCost)
	}

	// Acceptance: deduct and mark executing synchronously, before the timer
	// starts, so a concurrent second request on the node is rejected above.
	force.Spend(a.ResourceCost)
	exec := mission.NewExecution(a, s.now())

	// In-flight parameters are fixed at acceptance; later modifiers only
	// affect future executions.
	processTime := a.ProcessTime
	chance := a.SuccessChance
	gen := s.generation

	log.Printf("session %s: %s executing action %s on node %s (cost %d, %.0fs)",
		s.Name, requester.ID, actionID, n.ID, a.ResourceCost, processTime.Seconds())
	s.respondAllLocked(req, requester.ID, wire.MethodActionExecutionInitiated, executionData{
		ExecutionID:  exec.ID,
		ActionID:     a.ID,
		NodeID:       n.ID,
		ForceID:      forceID,
		Pool:         force.Pool,
		ProcessTimeS: processTime.Seconds(),
	}, false)

	var timer *time.Timer
	timer = time.AfterFunc(processTime, func() {
		s.resolveExecution(exec, chance, gen, req, requester.ID, forceID, timer)
	})
	s.timers[timer] = struct{}{}
	return nil
}

// resolveExecution runs after the process time elapses. The success chance
// is evaluated exactly once, here; the outcome stores the roll. A session
// that ended, reset, or was destroyed in the meantime discards the
// resolution without broadcasting.
func (s *Session) resolveExecution(exec *mission.Execution, chance float64, gen uint64, req wire.Event, requesterID string, forceID mission.ForceID, timer *time.Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, timer)

	if s.destroyed || s.state != StateStarted || gen != s.generation {
		return
	}

	a := exec.Action
	outcome := &mission.Outcome{
		Successful: s.rng.Float64() < chance,
		ResolvedAt: s.now(),
	}
	if outcome.Successful && len(a.Reveals) > 0 {
		rs, err := s.mission.Reveal(a.Reveals)
		if err != nil {
			log.Printf("session %s: reveal for action %s: %v", s.Name, a.ID, err)
		} else {
			outcome.RevealedNodes = rs.Nodes
			outcome.RevealedPrototypes = rs.Prototypes
		}
	}
	exec.Resolve(outcome)

	data := executionData{
		ExecutionID:        exec.ID,
		ActionID:           a.ID,
		NodeID:             a.Node.ID,
		ForceID:            forceID,
		Successful:         &outcome.Successful,
		RevealedPrototypes: outcome.RevealedPrototypes,
	}
	if f := s.mission.Force(forceID); f != nil {
		data.Pool = f.Pool
	}
	for _, rn := range outcome.RevealedNodes {
		data.RevealedNodes = append(data.RevealedNodes, s.mission.SnapshotNode(rn))
	}
	log.Printf("session %s: action %s on node %s resolved (success=%v, %d revealed)",
		s.Name, a.ID, a.Node.ID, outcome.Successful, len(outcome.RevealedNodes))
	s.respondAllLocked(req, requesterID, wire.MethodActionExecutionCompleted, data, true)
}
