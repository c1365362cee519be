package tags

import (
	"strings"

	"golang.org/x/text/cases"
)

// Filter returns the top-level nodes whose id, name or value text contains
// query, ignoring case. Sequence children are not searched. An empty query
// returns nodes unchanged. The result keeps input order. A null value has
// empty text, so the query "null" does not select null tags.
func Filter(nodes []Node, query string) []Node {
	if query == "" {
		return nodes
	}
	fold := cases.Fold()
	q := fold.String(query)

	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if matches(fold, n, q) {
			out = append(out, n)
		}
	}
	return out
}

func matches(fold cases.Caser, n Node, q string) bool {
	for _, field := range []string{n.ID, n.Name, n.Value.Text()} {
		if strings.Contains(fold.String(field), q) {
			return true
		}
	}
	return false
}

// FilterGroups applies Filter inside each group and drops groups left empty.
func FilterGroups(groups []Group, query string) []Group {
	if query == "" {
		return groups
	}
	var out []Group
	for _, g := range groups {
		if nodes := Filter(g.Nodes, query); len(nodes) > 0 {
			out = append(out, Group{Category: g.Category, Nodes: nodes})
		}
	}
	return out
}
