package mission

// Snapshot is the wire form of the graph as one viewer is allowed to see
// it: revealed nodes only, filtered by force visibility. The authoritative
// mission produces it; the client projection consumes it.
type Snapshot struct {
	MissionID string      `json:"missionId"`
	Name      string      `json:"name"`
	Nodes     []NodeView  `json:"nodes"`
	Forces    []ForceView `json:"forces"`
}

// NodeView is one revealed node, flattened; children are referenced by path.
type NodeView struct {
	ID        NodeID       `json:"id"`
	Path      string       `json:"path"`
	Name      string       `json:"name"`
	Details   string       `json:"details,omitempty"`
	Force     ForceID      `json:"force,omitempty"`
	State     NodeState    `json:"state"`
	Prototype bool         `json:"prototype,omitempty"`
	Children  []string     `json:"children,omitempty"`
	Actions   []ActionView `json:"actions,omitempty"`
}

// ActionView is the wire form of an action.
type ActionView struct {
	ID            ActionID `json:"id"`
	Name          string   `json:"name"`
	ResourceCost  int      `json:"resourceCost"`
	ProcessTimeS  float64  `json:"processTimeS"`
	SuccessChance float64  `json:"successChance"`
	Executing     bool     `json:"executing,omitempty"`
}

// ForceView is the wire form of a force.
type ForceView struct {
	ID     ForceID       `json:"id"`
	Name   string        `json:"name"`
	Pool   int           `json:"pool"`
	Output []OutputEntry `json:"output,omitempty"`
}

// SnapshotFor renders the graph for one viewer. With allForces the whole
// revealed graph is visible (managers, observers); otherwise nodes are
// filtered to the given force plus force-neutral nodes, and only that
// force's pool and output are included.
func (m *Mission) SnapshotFor(viewForce ForceID, allForces bool) Snapshot {
	snap := Snapshot{MissionID: m.ID, Name: m.Name}

	m.Walk(func(n *Node) {
		if !n.Revealed {
			return
		}
		if !allForces && n.ForceID != "" && n.ForceID != viewForce {
			return
		}
		snap.Nodes = append(snap.Nodes, m.nodeView(n))
	})

	for _, f := range m.Forces() {
		if !allForces && f.ID != viewForce {
			continue
		}
		snap.Forces = append(snap.Forces, ForceView{
			ID:     f.ID,
			Name:   f.Name,
			Pool:   f.Pool,
			Output: append([]OutputEntry(nil), f.Output...),
		})
	}
	return snap
}

// SnapshotNode renders the wire view of a single node, e.g. for the
// revealed-node lists in open and execution broadcasts.
func (m *Mission) SnapshotNode(n *Node) NodeView {
	return m.nodeView(n)
}

func (m *Mission) nodeView(n *Node) NodeView {
	view := NodeView{
		ID:        n.ID,
		Path:      n.Path,
		Name:      n.Name,
		Force:     n.ForceID,
		State:     n.State(),
		Prototype: n.PrototypeOnly,
	}
	// Prototypes expose structure only, not content.
	if n.PrototypeOnly {
		return view
	}
	view.Details = n.Details
	for _, c := range n.Children {
		if c.Revealed {
			view.Children = append(view.Children, c.Path)
		}
	}
	for _, a := range n.Actions {
		view.Actions = append(view.Actions, ActionView{
			ID:            a.ID,
			Name:          a.Name,
			ResourceCost:  a.ResourceCost,
			ProcessTimeS:  a.ProcessTime.Seconds(),
			SuccessChance: a.SuccessChance,
			Executing:     n.Live != nil && n.Live.Action == a,
		})
	}
	return view
}

// Projection is the client-side, non-authoritative view of a mission,
// reconstructed from snapshots. It indexes what the server said was visible
// and mutates only by applying newer snapshots.
type Projection struct {
	MissionID string
	Nodes     map[string]NodeView // by structural path
	Forces    map[ForceID]ForceView
}

// Project builds a projection from a snapshot.
func Project(s Snapshot) *Projection {
	p := &Projection{
		MissionID: s.MissionID,
		Nodes:     make(map[string]NodeView, len(s.Nodes)),
		Forces:    make(map[ForceID]ForceView, len(s.Forces)),
	}
	p.Apply(s)
	return p
}

// Apply merges a newer snapshot into the projection.
func (p *Projection) Apply(s Snapshot) {
	for _, nv := range s.Nodes {
		p.Nodes[nv.Path] = nv
	}
	for _, fv := range s.Forces {
		p.Forces[fv.ID] = fv
	}
}

// NodeIDs returns the ids of every projected node.
func (p *Projection) NodeIDs() []NodeID {
	out := make([]NodeID, 0, len(p.Nodes))
	for _, nv := range p.Nodes {
		out = append(out, nv.ID)
	}
	return out
}

// ActionIDs returns the ids of every projected action.
func (p *Projection) ActionIDs() []ActionID {
	var out []ActionID
	for _, nv := range p.Nodes {
		for _, av := range nv.Actions {
			out = append(out, av.ID)
		}
	}
	return out
}
