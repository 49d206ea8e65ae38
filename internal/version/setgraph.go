package version

import "fmt"

// DocumentRef pins one document to one of its versions inside a set version.
type DocumentRef struct {
	DocumentID string
	VersionID  string
}

// SetNode is one version of a document set. It has the same identity, naming
// and parent structure as a document version, but its payload is the list of
// pinned document versions rather than text.
type SetNode struct {
	ID        string
	Name      string
	Parents   []string
	Documents []DocumentRef
}

// SetGraph is the version graph of a document set. Structure and invariants
// match Graph; only the payload differs.
type SetGraph struct {
	graph    *Graph
	payloads map[string][]DocumentRef
}

// BuildSetGraph constructs a set-version graph, enforcing the same unknown
// parent and cycle checks as Build.
func BuildSetGraph(nodes []SetNode) (*SetGraph, error) {
	plain := make([]Node, len(nodes))
	payloads := make(map[string][]DocumentRef, len(nodes))
	for i, node := range nodes {
		plain[i] = Node{ID: node.ID, Name: node.Name, Parents: node.Parents}
		payloads[node.ID] = node.Documents
	}
	graph, err := Build(plain)
	if err != nil {
		return nil, err
	}
	return &SetGraph{graph: graph, payloads: payloads}, nil
}

// Resolve returns the set version with the given id.
func (g *SetGraph) Resolve(id string) (SetNode, error) {
	node, err := g.graph.Resolve(id)
	if err != nil {
		return SetNode{}, err
	}
	return SetNode{
		ID:        node.ID,
		Name:      node.Name,
		Parents:   node.Parents,
		Documents: append([]DocumentRef(nil), g.payloads[node.ID]...),
	}, nil
}

// ResolveName returns the set version carrying the given name.
func (g *SetGraph) ResolveName(name string) (SetNode, error) {
	node, err := g.graph.ResolveName(name)
	if err != nil {
		return SetNode{}, err
	}
	return g.Resolve(node.ID)
}

// PinnedVersion returns the version a set version pins for documentID.
func (g *SetGraph) PinnedVersion(id, documentID string) (string, error) {
	node, err := g.Resolve(id)
	if err != nil {
		return "", err
	}
	for _, ref := range node.Documents {
		if ref.DocumentID == documentID {
			return ref.VersionID, nil
		}
	}
	return "", fmt.Errorf("%w: document %q in set version %q", ErrNotFound, documentID, id)
}

// Names returns every set version name, sorted.
func (g *SetGraph) Names() []string {
	return g.graph.Names()
}

// SiblingsOf returns the set version names sharing name's direct prefix.
func (g *SetGraph) SiblingsOf(name string) []string {
	return g.graph.SiblingsOf(name)
}

// ChildrenOf returns the ids of set versions listing id as a parent.
func (g *SetGraph) ChildrenOf(id string) []string {
	return g.graph.ChildrenOf(id)
}
