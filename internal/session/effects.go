package session

import (
	"log"
	"time"

	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/mission"
	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/wire"
)

// ModifierKind names one externally decided mutation. The decision logic
// lives outside this module; the session only applies and rebroadcasts.
type ModifierKind string

const (
	ModifierBlockNode        ModifierKind = "block-node"
	ModifierUnblockNode      ModifierKind = "unblock-node"
	ModifierOpenNode         ModifierKind = "open-node"
	ModifierAdjustPool       ModifierKind = "adjust-pool"
	ModifierSetSuccessChance ModifierKind = "set-success-chance"
	ModifierSetProcessTime   ModifierKind = "set-process-time"
	ModifierSetResourceCost  ModifierKind = "set-resource-cost"
	ModifierSendOutput       ModifierKind = "send-output"
)

// Modifier is one already-decided mutation to apply to the mission graph.
type Modifier struct {
	Kind     ModifierKind     `json:"kind"`
	NodeID   mission.NodeID   `json:"nodeId,omitempty"`
	ActionID mission.ActionID `json:"actionId,omitempty"`
	ForceID  mission.ForceID  `json:"forceId,omitempty"`
	Amount   int              `json:"amount,omitempty"`
	Value    float64          `json:"value,omitempty"`
	Seconds  float64          `json:"seconds,omitempty"`
	Text     string           `json:"text,omitempty"`
}

// Effector is the hook through which external effect scripts mutate a
// running session. *Session implements it.
type Effector interface {
	Enact(mod Modifier) error
}

// Enact applies one modifier atomically and rebroadcasts it as a
// modifier-enacted event. Validation is complete before any mutation.
func (s *Session) Enact(mod Modifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if werr := s.enactLocked(mod); werr != nil {
		return werr
	}
	s.broadcastLocked(wire.MethodModifierEnacted, mod)
	return nil
}

// enactLocked validates and applies one modifier. The caller announces the
// result: Enact broadcasts plainly, opConfigUpdate correlates the response
// to the requester.
func (s *Session) enactLocked(mod Modifier) *wire.Error {
	switch mod.Kind {
	case ModifierBlockNode, ModifierUnblockNode:
		if s.mission.NodeByID(mod.NodeID) == nil {
			return wire.Errorf(wire.CodeNodeNotFound, "node %s not found", mod.NodeID)
		}
		_ = s.mission.SetBlocked(mod.NodeID, mod.Kind == ModifierBlockNode)

	case ModifierOpenNode:
		n := s.mission.NodeByID(mod.NodeID)
		if n == nil {
			return wire.Errorf(wire.CodeNodeNotFound, "node %s not found", mod.NodeID)
		}
		if !n.Openable() {
			return wire.Errorf(wire.CodeNodeNotOpenable, "node %s not openable (state %s)", mod.NodeID, n.State())
		}
		if _, err := s.mission.Open(mod.NodeID); err != nil {
			log.Printf("session %s: modifier open %s: %v", s.Name, mod.NodeID, err)
			return wire.Errorf(wire.CodeServerError, "internal server error")
		}

	case ModifierAdjustPool:
		f := s.mission.Force(mod.ForceID)
		if f == nil {
			return wire.Errorf(wire.CodeInvalidPayload, "unknown force %s", mod.ForceID)
		}
		f.Credit(mod.Amount)

	case ModifierSetSuccessChance:
		a := s.mission.ActionByID(mod.ActionID)
		if a == nil {
			return wire.Errorf(wire.CodeActionNotFound, "action %s not found", mod.ActionID)
		}
		if mod.Value < 0 || mod.Value > 1 {
			return wire.Errorf(wire.CodeInvalidPayload, "success chance %.2f out of range", mod.Value)
		}
		a.SuccessChance = mod.Value

	case ModifierSetProcessTime:
		a := s.mission.ActionByID(mod.ActionID)
		if a == nil {
			return wire.Errorf(wire.CodeActionNotFound, "action %s not found", mod.ActionID)
		}
		if mod.Seconds < 0 {
			return wire.Errorf(wire.CodeInvalidPayload, "negative process time")
		}
		a.ProcessTime = time.Duration(mod.Seconds * float64(time.Second))

	case ModifierSetResourceCost:
		a := s.mission.ActionByID(mod.ActionID)
		if a == nil {
			return wire.Errorf(wire.CodeActionNotFound, "action %s not found", mod.ActionID)
		}
		if mod.Amount < 0 {
			return wire.Errorf(wire.CodeInvalidPayload, "negative resource cost")
		}
		a.ResourceCost = mod.Amount

	case ModifierSendOutput:
		f := s.mission.Force(mod.ForceID)
		if f == nil {
			return wire.Errorf(wire.CodeInvalidPayload, "unknown force %s", mod.ForceID)
		}
		f.AppendOutput(mod.Text, s.now())

	default:
		return wire.Errorf(wire.CodeInvalidPayload, "unknown modifier kind %q", mod.Kind)
	}

	log.Printf("session %s: modifier %s enacted", s.Name, mod.Kind)
	return nil
}
