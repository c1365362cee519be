package tags

// EditSession tracks edits to a tag tree against the snapshot it was
// created from. Only values change; the structure of the current tree
// always matches the snapshot.
type EditSession struct {
	original []Node
	current  *Tree
}

// NewEditSession starts a session on a deep copy of nodes.
func NewEditSession(nodes []Node) *EditSession {
	return &EditSession{
		original: CloneAll(nodes),
		current:  NewTree(nodes),
	}
}

// Original returns a deep copy of the snapshot.
func (s *EditSession) Original() []Node { return CloneAll(s.original) }

// Current returns a deep copy of the edited nodes.
func (s *EditSession) Current() []Node { return s.current.Nodes() }

// Tree returns the edited tree.
func (s *EditSession) Tree() *Tree { return s.current }

// Set replaces the value of a top-level tag.
func (s *EditSession) Set(id string, v Value) error {
	return s.current.SetValue(id, v)
}

// Reset discards every edit.
func (s *EditSession) Reset() {
	s.current.Load(s.original)
}

// Modified returns the ids of the current top-level tags whose value differs
// from the snapshot tag with the same id, in current order. Tags without a
// snapshot counterpart are not reported.
func (s *EditSession) Modified() []string {
	orig := make(map[string]Value, len(s.original))
	for _, n := range s.original {
		if _, dup := orig[n.ID]; !dup {
			orig[n.ID] = n.Value
		}
	}

	var ids []string
	for _, n := range s.current.nodes {
		if v, ok := orig[n.ID]; ok && !v.Equal(n.Value) {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// ModifiedCount returns len(Modified()).
func (s *EditSession) ModifiedCount() int {
	return len(s.Modified())
}

// IsModified reports whether the tag id differs from the snapshot.
func (s *EditSession) IsModified(id string) bool {
	for _, m := range s.Modified() {
		if m == id {
			return true
		}
	}
	return false
}
