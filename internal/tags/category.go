package tags

import "strings"

// Category is the display bucket of a tag.
type Category int

const (
	CategoryPatient Category = iota
	CategoryStudy
	CategorySeries
	CategoryImage
	CategorySequence
	CategoryPrivate
	CategoryOther
)

func (c Category) String() string {
	switch c {
	case CategoryPatient:
		return "Patient Information"
	case CategoryStudy:
		return "Study Information"
	case CategorySeries:
		return "Series Information"
	case CategoryImage:
		return "Image Information"
	case CategorySequence:
		return "Sequence Tags"
	case CategoryPrivate:
		return "Private Tags"
	default:
		return "Other"
	}
}

// CategoryOf classifies a tag by name, first match wins.
func CategoryOf(n Node) Category {
	switch {
	case strings.Contains(n.Name, "Patient"):
		return CategoryPatient
	case strings.Contains(n.Name, "Study"):
		return CategoryStudy
	case strings.Contains(n.Name, "Series"):
		return CategorySeries
	case strings.Contains(n.Name, "Image"):
		return CategoryImage
	case strings.Contains(n.Name, "Sequence") || n.IsSequence():
		return CategorySequence
	case strings.Contains(n.Name, "Private"):
		return CategoryPrivate
	default:
		return CategoryOther
	}
}

// Group is one category bucket.
type Group struct {
	Category Category
	Nodes    []Node
}

// GroupByCategory buckets nodes by category. Groups appear in the order their
// first tag appears in nodes and tags keep their relative order. Empty groups
// are omitted. Every node lands in exactly one group.
func GroupByCategory(nodes []Node) []Group {
	var groups []Group
	index := make(map[Category]int)
	for _, n := range nodes {
		c := CategoryOf(n)
		i, ok := index[c]
		if !ok {
			i = len(groups)
			index[c] = i
			groups = append(groups, Group{Category: c})
		}
		groups[i].Nodes = append(groups[i].Nodes, n)
	}
	return groups
}
