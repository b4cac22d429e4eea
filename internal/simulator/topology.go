package simulator

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrEmptyTopology = errors.New("topology has no machines")

// DefaultBranching shapes the generated topology: the last element is the
// fan-out of the root, the first the fan-out of the lowest inner nodes. The
// default is four racks of eight machines.
var DefaultBranching = []int{8, 4}

// Node is one element of the cluster structure tree.
type Node struct {
	Name     string  `json:"name" yaml:"name"`
	Children []*Node `json:"children,omitempty" yaml:"children,omitempty"`
}

type Topology struct {
	Machines  []string `json:"machines" yaml:"machines"`
	Structure *Node    `json:"structure" yaml:"structure"`
}

// LoadTopology reads a topology file. JSON files parse as YAML, so either
// format works.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if len(t.Machines) == 0 && t.Structure != nil {
		t.Machines = t.Structure.Flatten()
	}
	if len(t.Machines) == 0 {
		return nil, ErrEmptyTopology
	}
	if t.Structure == nil {
		t.Structure = flatStructure(t.Machines)
	}
	return &t, nil
}

// GenerateTopology builds a balanced tree with machine0, machine1, ... named
// in depth-first order. Every node in the tree is a machine.
func GenerateTopology(branching ...int) *Topology {
	if len(branching) == 0 {
		branching = DefaultBranching
	}
	next := 0
	var build func(depths []int) *Node
	build = func(depths []int) *Node {
		node := &Node{Name: fmt.Sprintf("machine%d", next)}
		next++
		if len(depths) == 0 {
			return node
		}
		last := len(depths) - 1
		for i := 0; i < depths[last]; i++ {
			node.Children = append(node.Children, build(depths[:last]))
		}
		return node
	}
	root := build(branching)
	return &Topology{Machines: root.Flatten(), Structure: root}
}

// Flatten returns the names of n and its descendants in pre-order.
func (n *Node) Flatten() []string {
	var out []string
	var walk func(*Node)
	walk = func(n *Node) {
		out = append(out, n.Name)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
	return out
}

func (n *Node) clone() *Node {
	c := &Node{Name: n.Name}
	for _, child := range n.Children {
		c.Children = append(c.Children, child.clone())
	}
	return c
}

// remove drops the first descendant called name, promoting its children.
func (n *Node) remove(name string) bool {
	for i, child := range n.Children {
		if child.Name == name {
			rest := append([]*Node{}, n.Children[i+1:]...)
			n.Children = append(append(n.Children[:i], child.Children...), rest...)
			return true
		}
		if child.remove(name) {
			return true
		}
	}
	return false
}

func flatStructure(machines []string) *Node {
	root := &Node{Name: "cluster"}
	for _, m := range machines {
		root.Children = append(root.Children, &Node{Name: m})
	}
	return root
}
