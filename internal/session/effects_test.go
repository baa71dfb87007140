package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/mission"
	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/wire"
)

func TestEnactBlockAndUnblock(t *testing.T) {
	s, _, _, bob, bobSock := startedSession(t)

	require.NoError(t, s.Enact(Modifier{Kind: ModifierBlockNode, NodeID: "entry"}))
	require.Equal(t, mission.StateBlocked, s.SnapshotFor(bob).Nodes[0].State)
	require.Len(t, bobSock.byMethod(wire.MethodModifierEnacted), 1)

	// A blocked node rejects opens.
	dispatch(bob, wire.MethodRequestOpenNode, "r1", `{"nodeId":"entry"}`)
	errs := bobSock.errors()
	require.Len(t, errs, 1)
	require.Equal(t, wire.CodeNodeNotOpenable, errs[0].Code)

	require.NoError(t, s.Enact(Modifier{Kind: ModifierUnblockNode, NodeID: "entry"}))
	require.Equal(t, mission.StateOpenable, s.SnapshotFor(bob).Nodes[0].State)
}

func TestEnactOpenNode(t *testing.T) {
	s, _, _, bob, bobSock := startedSession(t)

	require.NoError(t, s.Enact(Modifier{Kind: ModifierOpenNode, NodeID: "entry"}))

	snap := s.SnapshotFor(bob)
	states := map[string]mission.NodeState{}
	for _, nv := range snap.Nodes {
		states[nv.Path] = nv.State
	}
	require.Equal(t, mission.StateExecutable, states["entry"])
	require.Contains(t, states, "entry/relay")
	require.Len(t, bobSock.byMethod(wire.MethodModifierEnacted), 1)

	// Not openable twice, through the hook either.
	err := s.Enact(Modifier{Kind: ModifierOpenNode, NodeID: "entry"})
	require.Error(t, err)
}

func TestEnactAdjustPool(t *testing.T) {
	s, _, _, bob, _ := startedSession(t)

	require.NoError(t, s.Enact(Modifier{Kind: ModifierAdjustPool, ForceID: "blue", Amount: -7}))
	for _, fv := range s.SnapshotFor(bob).Forces {
		if fv.ID == "blue" {
			require.Equal(t, 3, fv.Pool)
		}
	}

	// Deductions clamp at zero.
	require.NoError(t, s.Enact(Modifier{Kind: ModifierAdjustPool, ForceID: "blue", Amount: -100}))
	for _, fv := range s.SnapshotFor(bob).Forces {
		if fv.ID == "blue" {
			require.Equal(t, 0, fv.Pool)
		}
	}
}

func TestEnactActionTuning(t *testing.T) {
	s, _, _, _, _ := startedSession(t)

	require.NoError(t, s.Enact(Modifier{Kind: ModifierSetSuccessChance, ActionID: "strike", Value: 0.25}))
	require.NoError(t, s.Enact(Modifier{Kind: ModifierSetProcessTime, ActionID: "strike", Seconds: 3}))
	require.NoError(t, s.Enact(Modifier{Kind: ModifierSetResourceCost, ActionID: "strike", Amount: 9}))

	err := s.Enact(Modifier{Kind: ModifierSetSuccessChance, ActionID: "strike", Value: 1.5})
	require.Error(t, err)
	err = s.Enact(Modifier{Kind: ModifierSetProcessTime, ActionID: "strike", Seconds: -1})
	require.Error(t, err)
	err = s.Enact(Modifier{Kind: ModifierSetResourceCost, ActionID: "ghost", Amount: 1})
	require.Error(t, err)
}

func TestEnactSendOutput(t *testing.T) {
	s, _, _, bob, _ := startedSession(t)

	require.NoError(t, s.Enact(Modifier{Kind: ModifierSendOutput, ForceID: "blue", Text: "intel drop"}))
	for _, fv := range s.SnapshotFor(bob).Forces {
		if fv.ID == "blue" {
			require.Len(t, fv.Output, 1)
			require.Equal(t, "intel drop", fv.Output[0].Text)
		}
	}
}

func TestEnactUnknownKind(t *testing.T) {
	s, _, _, _, _ := startedSession(t)
	require.Error(t, s.Enact(Modifier{Kind: "teleport"}))
}

func TestConfigUpdateCorrelatedResponse(t *testing.T) {
	s, mgr, mgrSock, bob, bobSock := startedSession(t)

	dispatch(mgr, wire.MethodRequestConfigUpdate, "r9", `{"kind":"block-node","nodeId":"entry"}`)

	// The requester gets a fulfilled response so the pending record clears.
	evs := mgrSock.byMethod(wire.MethodModifierEnacted)
	require.Len(t, evs, 1)
	require.NotNil(t, evs[0].Request)
	require.Equal(t, "r9", evs[0].Request.Event.RequestID)
	require.Equal(t, "alice", evs[0].Request.RequesterID)
	require.True(t, evs[0].Request.Fulfilled)

	// Everyone else hears a plain notification, exactly once.
	others := bobSock.byMethod(wire.MethodModifierEnacted)
	require.Len(t, others, 1)
	require.Nil(t, others[0].Request)

	require.Equal(t, mission.StateBlocked, s.SnapshotFor(bob).Nodes[0].State)
}

func TestConfigUpdateRequiresManage(t *testing.T) {
	_, _, _, bob, bobSock := startedSession(t)

	dispatch(bob, wire.MethodRequestConfigUpdate, "r1", `{"kind":"block-node","nodeId":"entry"}`)

	errs := bobSock.errors()
	require.Len(t, errs, 1)
	require.Equal(t, wire.CodeUnauthorized, errs[0].Code)
	require.Empty(t, bobSock.byMethod(wire.MethodModifierEnacted))
}

// Session satisfies the hook interface external effect scripts are given.
var _ Effector = (*Session)(nil)
