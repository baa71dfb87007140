package mission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotForForceFiltering(t *testing.T) {
	m := buildTestMission(t)
	_, err := m.Open("alpha")
	require.NoError(t, err)

	snap := m.SnapshotFor("blue", false)

	paths := make([]string, 0, len(snap.Nodes))
	for _, nv := range snap.Nodes {
		paths = append(paths, nv.Path)
	}
	// Gamma belongs to red; delta carries no force and is visible to anyone
	// once revealed.
	require.ElementsMatch(t, []string{"alpha", "alpha/beta", "alpha/beta/delta"}, paths)

	require.Len(t, snap.Forces, 1)
	require.Equal(t, ForceID("blue"), snap.Forces[0].ID)
}

func TestSnapshotForAllForces(t *testing.T) {
	m := buildTestMission(t)
	_, err := m.Open("alpha")
	require.NoError(t, err)

	snap := m.SnapshotFor("", true)
	require.Len(t, snap.Nodes, 4)
	require.Len(t, snap.Forces, 2)
}

func TestSnapshotHidesUnrevealed(t *testing.T) {
	m := buildTestMission(t)

	snap := m.SnapshotFor("", true)
	require.Len(t, snap.Nodes, 1)
	require.Equal(t, "alpha", snap.Nodes[0].Path)

	// Hidden children are not even referenced by path.
	require.Empty(t, snap.Nodes[0].Children)
}

func TestSnapshotPrototypeExposesStructureOnly(t *testing.T) {
	m := buildTestMission(t)
	_, err := m.Open("alpha")
	require.NoError(t, err)

	snap := m.SnapshotFor("", true)
	var delta *NodeView
	for i := range snap.Nodes {
		if snap.Nodes[i].Path == "alpha/beta/delta" {
			delta = &snap.Nodes[i]
		}
	}
	require.NotNil(t, delta)
	require.True(t, delta.Prototype)
	require.Equal(t, StateRevealed, delta.State)
	require.Empty(t, delta.Details)
	require.Empty(t, delta.Actions)
}

func TestSnapshotMarksExecutingAction(t *testing.T) {
	m := buildTestMission(t)
	_, err := m.Open("alpha")
	require.NoError(t, err)

	e := NewExecution(m.ActionByID("scan"), time.Now())
	snap := m.SnapshotFor("blue", false)

	var alpha *NodeView
	for i := range snap.Nodes {
		if snap.Nodes[i].Path == "alpha" {
			alpha = &snap.Nodes[i]
		}
	}
	require.NotNil(t, alpha)
	require.Equal(t, StateExecuting, alpha.State)
	require.Len(t, alpha.Actions, 1)
	require.True(t, alpha.Actions[0].Executing)

	e.Resolve(&Outcome{Successful: false})
	snap = m.SnapshotFor("blue", false)
	for _, nv := range snap.Nodes {
		for _, av := range nv.Actions {
			require.False(t, av.Executing)
		}
	}
}

func TestProjectionApply(t *testing.T) {
	m := buildTestMission(t)

	p := Project(m.SnapshotFor("blue", false))
	require.Equal(t, "test-op", p.MissionID)
	require.Len(t, p.Nodes, 1)
	require.Equal(t, StateOpenable, p.Nodes["alpha"].State)

	_, err := m.Open("alpha")
	require.NoError(t, err)
	p.Apply(m.SnapshotFor("blue", false))

	require.Len(t, p.Nodes, 3)
	require.Equal(t, StateExecutable, p.Nodes["alpha"].State)
	require.ElementsMatch(t, []ActionID{"scan", "probe"}, p.ActionIDs())
	require.Len(t, p.NodeIDs(), 3)
	require.Equal(t, 20, p.Forces["blue"].Pool)
}
