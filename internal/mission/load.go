package mission

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition is the declarative YAML form of a mission. Building a Mission
// from it is repeatable: sessions re-deal from the same definition on reset.
type Definition struct {
	ID     string     `yaml:"id"`
	Name   string     `yaml:"name"`
	Forces []ForceDef `yaml:"forces"`
	Nodes  []NodeDef  `yaml:"nodes"`
}

// ForceDef declares a force. Pool -1 means unbounded.
type ForceDef struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Pool int    `yaml:"pool"`
}

// NodeDef declares a node and its subtree.
type NodeDef struct {
	ID       string      `yaml:"id"`
	Name     string      `yaml:"name"`
	Details  string      `yaml:"details"`
	Force    string      `yaml:"force"`
	Revealed bool        `yaml:"revealed"`
	Opened   bool        `yaml:"opened"`
	Blocked  bool        `yaml:"blocked"`
	Actions  []ActionDef `yaml:"actions"`
	Children []NodeDef   `yaml:"children"`
}

// ActionDef declares an action.
type ActionDef struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	ResourceCost  int      `yaml:"resourceCost"`
	ProcessTimeS  float64  `yaml:"processTimeS"`
	SuccessChance float64  `yaml:"successChance"`
	Reveals       []string `yaml:"reveals"`
}

var errInvalidDefinition = errors.New("mission: invalid definition")

// Parse decodes a YAML mission definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("mission: parse definition: %w", err)
	}
	if def.ID == "" {
		return nil, fmt.Errorf("%w: missing mission id", errInvalidDefinition)
	}
	return &def, nil
}

// Build instantiates a fresh Mission from the definition, validating ids,
// chances, costs, and reveal targets.
func (d *Definition) Build() (*Mission, error) {
	m := &Mission{
		ID:     d.ID,
		Name:   d.Name,
		byPath: make(map[string]*Node),
		byID:   make(map[NodeID]*Node),
		forces: make(map[ForceID]*Force),
	}

	for _, fd := range d.Forces {
		if fd.ID == "" {
			return nil, fmt.Errorf("%w: force without id", errInvalidDefinition)
		}
		id := ForceID(fd.ID)
		if _, dup := m.forces[id]; dup {
			return nil, fmt.Errorf("%w: duplicate force %s", errInvalidDefinition, id)
		}
		if fd.Pool < PoolInfinite {
			return nil, fmt.Errorf("%w: force %s pool %d", errInvalidDefinition, id, fd.Pool)
		}
		m.forces[id] = &Force{ID: id, Name: fd.Name, Pool: fd.Pool}
		m.forceOrder = append(m.forceOrder, id)
	}

	for _, nd := range d.Nodes {
		root, err := m.buildNode(nd, nil, "")
		if err != nil {
			return nil, err
		}
		m.roots = append(m.roots, root)
	}

	// Reveal targets can point anywhere in the forest, so check them last.
	var verr error
	m.Walk(func(n *Node) {
		for _, a := range n.Actions {
			for _, target := range a.Reveals {
				if m.byID[target] == nil && verr == nil {
					verr = fmt.Errorf("%w: action %s reveals unknown node %s", errInvalidDefinition, a.ID, target)
				}
			}
		}
	})
	if verr != nil {
		return nil, verr
	}

	m.RebuildActionIndex()
	return m, nil
}

func (m *Mission) buildNode(nd NodeDef, parent *Node, parentPath string) (*Node, error) {
	if nd.ID == "" {
		return nil, fmt.Errorf("%w: node without id", errInvalidDefinition)
	}
	id := NodeID(nd.ID)
	if _, dup := m.byID[id]; dup {
		return nil, fmt.Errorf("%w: duplicate node %s", errInvalidDefinition, id)
	}
	path := string(id)
	if parentPath != "" {
		path = parentPath + "/" + string(id)
	}
	if nd.Force != "" && m.forces[ForceID(nd.Force)] == nil {
		return nil, fmt.Errorf("%w: node %s references unknown force %s", errInvalidDefinition, id, nd.Force)
	}
	if nd.Opened && !nd.Revealed {
		return nil, fmt.Errorf("%w: node %s opened but not revealed", errInvalidDefinition, id)
	}

	n := &Node{
		ID:       id,
		Name:     nd.Name,
		Details:  nd.Details,
		ForceID:  ForceID(nd.Force),
		Path:     path,
		Revealed: nd.Revealed,
		Opened:   nd.Opened,
		Blocked:  nd.Blocked,
		Parent:   parent,
	}
	m.byID[id] = n
	m.byPath[path] = n

	for _, ad := range nd.Actions {
		if ad.ID == "" {
			return nil, fmt.Errorf("%w: node %s action without id", errInvalidDefinition, id)
		}
		if ad.SuccessChance < 0 || ad.SuccessChance > 1 {
			return nil, fmt.Errorf("%w: action %s successChance %.2f", errInvalidDefinition, ad.ID, ad.SuccessChance)
		}
		if ad.ResourceCost < 0 || ad.ProcessTimeS < 0 {
			return nil, fmt.Errorf("%w: action %s negative cost or process time", errInvalidDefinition, ad.ID)
		}
		reveals := make([]NodeID, 0, len(ad.Reveals))
		for _, r := range ad.Reveals {
			reveals = append(reveals, NodeID(r))
		}
		n.Actions = append(n.Actions, &Action{
			ID:            ActionID(ad.ID),
			Node:          n,
			Name:          ad.Name,
			ResourceCost:  ad.ResourceCost,
			ProcessTime:   time.Duration(ad.ProcessTimeS * float64(time.Second)),
			SuccessChance: ad.SuccessChance,
			Reveals:       reveals,
		})
	}

	for _, cd := range nd.Children {
		child, err := m.buildNode(cd, n, path)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
	return n, nil
}

// Store is the persistence boundary for mission definitions. Storage
// backends live outside this module; DirStore covers the flat-file case.
type Store interface {
	Load(id string) (*Definition, error)
	List() ([]string, error)
}

// DirStore reads definitions from <dir>/<id>.yaml.
type DirStore struct {
	Dir string
}

func (s DirStore) Load(id string) (*Definition, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, filepath.Clean(id)+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("mission: load %q: %w", id, err)
	}
	return Parse(data)
}

func (s DirStore) List() ([]string, error) {
	entries, err := filepath.Glob(filepath.Join(s.Dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, path := range entries {
		base := filepath.Base(path)
		ids = append(ids, base[:len(base)-len(".yaml")])
	}
	return ids, nil
}
