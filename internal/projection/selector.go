package projection

import "strings"

// Selector is one node of the field selection forest. Slots lists the
// request positions whose path ends at this node.
type Selector struct {
	Name     string
	Children []*Selector
	Slots    []int
}

// Select builds the selection forest for dotted field paths. Sibling paths
// sharing a prefix share the prefix nodes; roots keep first-seen order.
func Select(fields []string) []*Selector {
	var roots []*Selector
	for slot, path := range fields {
		parts := strings.Split(strings.TrimSpace(path), ".")
		level := &roots
		var node *Selector
		for _, name := range parts {
			node = child(level, name)
			level = &node.Children
		}
		node.Slots = append(node.Slots, slot)
	}
	return roots
}

func child(level *[]*Selector, name string) *Selector {
	for _, n := range *level {
		if n.Name == name {
			return n
		}
	}
	n := &Selector{Name: name}
	*level = append(*level, n)
	return n
}
