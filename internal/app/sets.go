package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"docvers/api/internal/store"
	"docvers/api/internal/util"
	"docvers/api/internal/version"
	"docvers/api/internal/workflow"
)

// CreateSetVersionInput is the payload for branching a new set version.
type CreateSetVersionInput struct {
	Name      string
	Parents   []string
	Documents []store.SetVersionDocument
}

func (s *Service) ListDocumentSets(ctx context.Context) ([]store.DocumentSet, error) {
	return s.store.ListDocumentSets(ctx)
}

func (s *Service) GetDocumentSet(ctx context.Context, id string) (store.DocumentSet, error) {
	set, err := s.store.GetDocumentSet(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return store.DocumentSet{}, domainError(http.StatusNotFound, "NOT_FOUND", "Document set not found", nil)
		}
		return store.DocumentSet{}, err
	}
	return set, nil
}

// CreateDocumentSet creates a set with root version "1" pinning the given
// document versions.
func (s *Service) CreateDocumentSet(ctx context.Context, sess Session, name string, documents []store.SetVersionDocument) (store.DocumentSet, store.SetVersion, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.DocumentSet{}, store.SetVersion{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if err := s.validatePins(ctx, documents); err != nil {
		return store.DocumentSet{}, store.SetVersion{}, err
	}

	now := time.Now().UTC()
	set := store.DocumentSet{
		ID:        util.NewID("set"),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertDocumentSet(ctx, set); err != nil {
		return store.DocumentSet{}, store.SetVersion{}, err
	}

	root := store.SetVersion{
		ID:        util.NewID("sver"),
		SetID:     set.ID,
		Name:      "1",
		State:     string(workflow.StateInProgress),
		Documents: documents,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertSetVersion(ctx, root); err != nil {
		return store.DocumentSet{}, store.SetVersion{}, err
	}
	return set, root, nil
}

// ListSetVersions returns a set's versions, re-validating the stored parent
// relation the same way document versions are.
func (s *Service) ListSetVersions(ctx context.Context, setID string) ([]store.SetVersion, error) {
	if _, err := s.GetDocumentSet(ctx, setID); err != nil {
		return nil, err
	}
	versions, err := s.store.ListSetVersions(ctx, setID)
	if err != nil {
		return nil, err
	}
	if _, err := buildSetGraph(versions); err != nil {
		return nil, err
	}
	return versions, nil
}

// SetVersionNameProposals mirrors VersionNameProposals for set versions.
func (s *Service) SetVersionNameProposals(ctx context.Context, setID, parentVersionID string) ([]string, error) {
	versions, err := s.ListSetVersions(ctx, setID)
	if err != nil {
		return nil, err
	}
	graph, err := buildSetGraph(versions)
	if err != nil {
		return nil, err
	}
	parent, err := graph.Resolve(parentVersionID)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Parent set version not found", nil)
	}
	candidates, err := version.Candidates(parent.Name, graph.Names())
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "MALFORMED_NAME", err.Error(), nil)
	}
	return candidates, nil
}

// CreateSetVersion branches a new set version under the same naming rules as
// document versions. The pinned document list starts from the payload.
func (s *Service) CreateSetVersion(ctx context.Context, sess Session, setID string, input CreateSetVersionInput) (store.SetVersion, error) {
	versions, err := s.ListSetVersions(ctx, setID)
	if err != nil {
		return store.SetVersion{}, err
	}
	graph, err := buildSetGraph(versions)
	if err != nil {
		return store.SetVersion{}, err
	}

	name := strings.TrimSpace(input.Name)
	if !version.ValidName(name) {
		return store.SetVersion{}, domainError(http.StatusUnprocessableEntity, "MALFORMED_NAME",
			"set version name must be dot-separated integers", nil)
	}
	if _, err := graph.ResolveName(name); err == nil {
		return store.SetVersion{}, domainError(http.StatusConflict, "NAME_TAKEN",
			"set version name already used in this set", nil)
	}
	if len(input.Parents) == 0 {
		return store.SetVersion{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"at least one parent set version is required", nil)
	}
	for _, parent := range input.Parents {
		if _, err := graph.Resolve(parent); err != nil {
			return store.SetVersion{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"parent set version not found", map[string]any{"parent": parent})
		}
	}
	primary, _ := graph.Resolve(input.Parents[0])
	candidates, err := version.Candidates(primary.Name, graph.Names())
	if err != nil {
		return store.SetVersion{}, domainError(http.StatusUnprocessableEntity, "MALFORMED_NAME", err.Error(), nil)
	}
	if !containsString(candidates, name) {
		return store.SetVersion{}, domainError(http.StatusUnprocessableEntity, "NAME_NOT_PROPOSED",
			"set version name is not a valid branch name for the chosen parent", map[string]any{"candidates": candidates})
	}
	if err := s.validatePins(ctx, input.Documents); err != nil {
		return store.SetVersion{}, err
	}

	now := time.Now().UTC()
	created := store.SetVersion{
		ID:        util.NewID("sver"),
		SetID:     setID,
		Name:      name,
		State:     string(workflow.StateInProgress),
		Parents:   input.Parents,
		Documents: input.Documents,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertSetVersion(ctx, created); err != nil {
		return store.SetVersion{}, err
	}
	return created, nil
}

// UpdateSetVersionDocuments replaces the pinned document list of one set
// version.
func (s *Service) UpdateSetVersionDocuments(ctx context.Context, sess Session, setID, setVersionID string, documents []store.SetVersionDocument) (store.SetVersion, error) {
	versions, err := s.ListSetVersions(ctx, setID)
	if err != nil {
		return store.SetVersion{}, err
	}
	var target *store.SetVersion
	for i := range versions {
		if versions[i].ID == setVersionID {
			target = &versions[i]
			break
		}
	}
	if target == nil {
		return store.SetVersion{}, domainError(http.StatusNotFound, "NOT_FOUND", "Set version not found", nil)
	}
	if workflow.State(target.State) == workflow.StatePublished {
		return store.SetVersion{}, domainError(http.StatusConflict, "VERSION_PUBLISHED",
			"published set versions are immutable", nil)
	}
	if err := s.validatePins(ctx, documents); err != nil {
		return store.SetVersion{}, err
	}

	if err := s.store.ReplaceSetVersionDocuments(ctx, setVersionID, documents); err != nil {
		return store.SetVersion{}, err
	}
	target.Documents = documents
	return *target, nil
}

// validatePins checks that every pinned document version exists and that no
// document is pinned twice.
func (s *Service) validatePins(ctx context.Context, documents []store.SetVersionDocument) error {
	seen := make(map[string]struct{}, len(documents))
	for _, pin := range documents {
		if _, ok := seen[pin.DocumentID]; ok {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"document pinned more than once", map[string]any{"document": pin.DocumentID})
		}
		seen[pin.DocumentID] = struct{}{}
		if _, err := s.store.GetVersion(ctx, pin.DocumentID, pin.VersionID); err != nil {
			if store.IsNotFound(err) {
				return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
					"pinned version not found", map[string]any{"document": pin.DocumentID, "version": pin.VersionID})
			}
			return err
		}
	}
	return nil
}

func buildSetGraph(versions []store.SetVersion) (*version.SetGraph, error) {
	nodes := make([]version.SetNode, len(versions))
	for i, v := range versions {
		refs := make([]version.DocumentRef, len(v.Documents))
		for j, pin := range v.Documents {
			refs[j] = version.DocumentRef{DocumentID: pin.DocumentID, VersionID: pin.VersionID}
		}
		nodes[i] = version.SetNode{ID: v.ID, Name: v.Name, Parents: v.Parents, Documents: refs}
	}
	graph, err := version.BuildSetGraph(nodes)
	if err != nil {
		return nil, domainError(http.StatusInternalServerError, "INVALID_GRAPH", err.Error(), nil)
	}
	return graph, nil
}
