// Package version models a document's version history as a DAG and proposes
// dotted hierarchical names for new versions.
//
// A graph is an immutable snapshot built from a freshly fetched version list.
// It is never patched in place; callers rebuild it whenever the underlying
// list changes so the structural invariants are re-checked on every build.
package version

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidGraph marks a version list whose parent relation references
	// missing versions or contains a cycle. No partial graph is returned.
	ErrInvalidGraph = errors.New("invalid version graph")

	// ErrNotFound marks a lookup of an id absent from a built graph.
	ErrNotFound = errors.New("version not found")
)

// Node is one version in the graph. Parents is the authoritative edge set;
// children are derived during Build as the inverse relation.
type Node struct {
	ID      string
	Name    string
	Parents []string
}

// Graph indexes a document's versions by id and answers ancestry and sibling
// queries. All methods are read-only; a Graph is safe for concurrent use.
type Graph struct {
	nodes    map[string]Node
	children map[string][]string
	byName   map[string]string
}

// Build constructs a graph from a flat version list. It fails with
// ErrInvalidGraph when a parent id does not resolve within the list or when
// the parent relation is cyclic.
func Build(nodes []Node) (*Graph, error) {
	g := &Graph{
		nodes:    make(map[string]Node, len(nodes)),
		children: make(map[string][]string),
		byName:   make(map[string]string, len(nodes)),
	}

	for _, node := range nodes {
		if _, ok := g.nodes[node.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate version id %q", ErrInvalidGraph, node.ID)
		}
		g.nodes[node.ID] = node
		if other, ok := g.byName[node.Name]; ok {
			return nil, fmt.Errorf("%w: name %q used by versions %q and %q", ErrInvalidGraph, node.Name, other, node.ID)
		}
		g.byName[node.Name] = node.ID
	}

	for _, node := range nodes {
		for _, parent := range node.Parents {
			if _, ok := g.nodes[parent]; !ok {
				return nil, fmt.Errorf("%w: version %q references unknown parent %q", ErrInvalidGraph, node.ID, parent)
			}
			g.children[parent] = append(g.children[parent], node.ID)
		}
	}
	for _, ids := range g.children {
		sort.Strings(ids)
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkAcyclic runs a depth-first traversal from every node; revisiting a
// node on the current path means the parent relation loops.
func (g *Graph) checkAcyclic() error {
	const (
		unvisited = iota
		onPath
		done
	)
	state := make(map[string]int, len(g.nodes))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case onPath:
			return fmt.Errorf("%w: cycle through version %q", ErrInvalidGraph, id)
		}
		state[id] = onPath
		for _, parent := range g.nodes[id].Parents {
			if err := visit(parent); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// Resolve returns the version with the given id.
func (g *Graph) Resolve(id string) (Node, error) {
	node, ok := g.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return node, nil
}

// ResolveName returns the version carrying the given name.
func (g *Graph) ResolveName(name string) (Node, error) {
	id, ok := g.byName[name]
	if !ok {
		return Node{}, fmt.Errorf("%w: name %q", ErrNotFound, name)
	}
	return g.nodes[id], nil
}

// ChildrenOf returns the ids of versions listing id as a parent.
func (g *Graph) ChildrenOf(id string) []string {
	return append([]string(nil), g.children[id]...)
}

// Names returns every version name in the graph, sorted.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.byName))
	for name := range g.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of versions in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// SiblingsOf returns the names sharing the given name's direct naming
// prefix, the given name excluded. For a root name the prefix is empty, so
// every other root is a sibling.
func (g *Graph) SiblingsOf(name string) []string {
	prefix := namePrefix(name)
	var siblings []string
	for candidate := range g.byName {
		if candidate == name {
			continue
		}
		if namePrefix(candidate) == prefix {
			siblings = append(siblings, candidate)
		}
	}
	sort.Strings(siblings)
	return siblings
}

// AncestorChainNames returns the dotted-prefix ancestors implied by the
// name's own structure, deepest first: "1.2.3" yields ["1.2", "1"]. The
// chain is derived from the name string alone, not from parent edges; the
// naming scheme is textual on purpose, so a version named "1.2" treats "1"
// as its naming ancestor even when its true parent edge points elsewhere.
func AncestorChainNames(name string) []string {
	parts := strings.Split(name, ".")
	chain := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		chain = append(chain, strings.Join(parts[:len(parts)-i], "."))
	}
	return chain
}

// namePrefix strips the last dotted component, keeping the trailing dot:
// "1.2.3" -> "1.2.", "1" -> "".
func namePrefix(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return ""
	}
	return name[:idx+1]
}
