package tags

import "fmt"

// Tree is the editable top-level tag list. Edits only reach top-level tags.
type Tree struct {
	nodes []Node
}

// NewTree returns a tree holding a deep copy of nodes.
func NewTree(nodes []Node) *Tree {
	t := &Tree{}
	t.Load(nodes)
	return t
}

// Load replaces the whole tree with a deep copy of nodes.
func (t *Tree) Load(nodes []Node) {
	t.nodes = CloneAll(nodes)
}

// Nodes returns a deep copy of the current nodes.
func (t *Tree) Nodes() []Node {
	return CloneAll(t.nodes)
}

// Len returns the number of top-level tags.
func (t *Tree) Len() int { return len(t.nodes) }

// Find returns the top-level tag with the given id.
func (t *Tree) Find(id string) (Node, bool) {
	i := t.index(id)
	if i < 0 {
		return Node{}, false
	}
	return t.nodes[i].Clone(), true
}

// SetValue replaces the value of the top-level tag id. It never creates a
// tag and never touches sequence children.
func (t *Tree) SetValue(id string, v Value) error {
	i := t.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrTagNotFound, id)
	}
	if t.nodes[i].IsSequence() || v.Kind() == KindSequence {
		return fmt.Errorf("%w: %s", ErrSequenceValue, id)
	}
	t.nodes[i].Value = v
	return nil
}

func (t *Tree) index(id string) int {
	for i := range t.nodes {
		if t.nodes[i].ID == id {
			return i
		}
	}
	return -1
}
