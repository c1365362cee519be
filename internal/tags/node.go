package tags

import (
	"encoding/json"
	"errors"
)

var (
	// ErrTagNotFound is returned when an edit targets an id that is not a top-level tag.
	ErrTagNotFound = errors.New("tags: tag not found")
	// ErrSequenceValue is returned when a scalar edit targets a sequence tag.
	ErrSequenceValue = errors.New("tags: cannot set the value of a sequence")
	// ErrUnsupportedValue is returned for JSON values that are not scalars.
	ErrUnsupportedValue = errors.New("tags: unsupported value")
)

// VRSequence is the value representation of sequence tags.
const VRSequence = "SQ"

// Node is one tag. A node is a sequence when its VR is SQ; only sequences
// carry children.
type Node struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	VR            string `json:"vr"`
	VRDescription string `json:"vrDescription,omitempty"`
	Value         Value  `json:"value"`
	Children      []Item `json:"children"`
}

// Item is one item of a sequence. Numbers start at 1.
type Item struct {
	Number int    `json:"itemNumber"`
	Tags   []Node `json:"tags"`
}

// IsSequence reports whether n is a sequence tag.
func (n Node) IsSequence() bool { return n.VR == VRSequence }

// UnmarshalJSON decodes a node and restores the sequence marker for SQ tags.
func (n *Node) UnmarshalJSON(data []byte) error {
	type plain Node
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*n = Node(p)
	if n.IsSequence() {
		if s, ok := n.Value.Str(); ok {
			if count, ok := parseSequenceMarker(s); ok {
				n.Value = Sequence(count)
			}
		} else if n.Value.IsNull() {
			n.Value = Sequence(len(n.Children))
		}
	}
	return nil
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	if n.Children == nil {
		return n
	}
	items := make([]Item, len(n.Children))
	for i, it := range n.Children {
		items[i] = Item{Number: it.Number, Tags: CloneAll(it.Tags)}
	}
	n.Children = items
	return n
}

// CloneAll deep-copies a slice of nodes. A nil slice stays nil.
func CloneAll(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

// WalkFunc is called for each node visited by Walk. depth is 1 for top-level nodes.
type WalkFunc func(n Node, depth int) error

// Walk visits nodes depth-first in order, descending into sequence items
// while depth < maxDepth. A maxDepth of 0 or less means no bound.
// The first error returned by fn stops the walk and is returned.
func Walk(nodes []Node, maxDepth int, fn WalkFunc) error {
	return walk(nodes, 1, maxDepth, fn)
}

func walk(nodes []Node, depth, maxDepth int, fn WalkFunc) error {
	for _, n := range nodes {
		if err := fn(n, depth); err != nil {
			return err
		}
		if maxDepth > 0 && depth >= maxDepth {
			continue
		}
		for _, it := range n.Children {
			if err := walk(it.Tags, depth+1, maxDepth, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// MaxDepth returns the deepest level reached by nodes, 0 for an empty slice.
func MaxDepth(nodes []Node) int {
	deepest := 0
	_ = Walk(nodes, 0, func(_ Node, depth int) error {
		deepest = max(deepest, depth)
		return nil
	})
	return deepest
}
