package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"docvers/api/internal/email"
	"docvers/api/internal/notify"
	"docvers/api/internal/rbac"
	"docvers/api/internal/store"
	"docvers/api/internal/util"
	"docvers/api/internal/version"
	"docvers/api/internal/workflow"
)

// CreateVersionInput is the payload for branching a new version. A version
// with more than one parent is a merge.
type CreateVersionInput struct {
	Name    string
	Content string
	Parents []string
}

// ListVersions returns a document's versions with derived child edges. The
// stored parent relation is re-validated on every read; a corrupt graph is
// reported rather than partially served.
func (s *Service) ListVersions(ctx context.Context, documentID string) ([]store.DocumentVersion, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if _, err := buildGraph(versions); err != nil {
		return nil, err
	}
	return versions, nil
}

func (s *Service) GetVersion(ctx context.Context, documentID, versionID string) (store.DocumentVersion, error) {
	v, err := s.store.GetVersion(ctx, documentID, versionID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.DocumentVersion{}, domainError(http.StatusNotFound, "NOT_FOUND", "Version not found", nil)
		}
		return store.DocumentVersion{}, err
	}
	return v, nil
}

// VersionNameProposals returns the ordered candidate names for a version
// branched from parentVersionID: the nested branch first, then the parent's
// next sibling, then one candidate per shallower naming level.
func (s *Service) VersionNameProposals(ctx context.Context, documentID, parentVersionID string) ([]string, error) {
	versions, err := s.ListVersions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	graph, err := buildGraph(versions)
	if err != nil {
		return nil, err
	}
	parent, err := graph.Resolve(parentVersionID)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Parent version not found", nil)
	}
	candidates, err := version.Candidates(parent.Name, graph.Names())
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "MALFORMED_NAME", err.Error(), nil)
	}
	return candidates, nil
}

// CreateVersion branches a new version from one or more parents. The name
// must be well-formed, unused, and one of the candidates proposed for the
// first parent. The creator becomes the version's owner.
func (s *Service) CreateVersion(ctx context.Context, sess Session, documentID string, input CreateVersionInput) (store.DocumentVersion, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return store.DocumentVersion{}, err
	}
	versions, err := s.store.ListVersions(ctx, documentID)
	if err != nil {
		return store.DocumentVersion{}, err
	}
	graph, err := buildGraph(versions)
	if err != nil {
		return store.DocumentVersion{}, err
	}

	name := strings.TrimSpace(input.Name)
	if !version.ValidName(name) {
		return store.DocumentVersion{}, domainError(http.StatusUnprocessableEntity, "MALFORMED_NAME",
			"version name must be dot-separated integers", nil)
	}
	if _, err := graph.ResolveName(name); err == nil {
		return store.DocumentVersion{}, domainError(http.StatusConflict, "NAME_TAKEN",
			"version name already used in this document", nil)
	}

	if len(input.Parents) == 0 {
		return store.DocumentVersion{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"at least one parent version is required", nil)
	}
	for _, parent := range input.Parents {
		if _, err := graph.Resolve(parent); err != nil {
			return store.DocumentVersion{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"parent version not found", map[string]any{"parent": parent})
		}
	}

	// The name is constrained to the proposal list of the first parent, so
	// concurrent branches cannot claim arbitrary positions in the hierarchy.
	primary, _ := graph.Resolve(input.Parents[0])
	candidates, err := version.Candidates(primary.Name, graph.Names())
	if err != nil {
		return store.DocumentVersion{}, domainError(http.StatusUnprocessableEntity, "MALFORMED_NAME", err.Error(), nil)
	}
	if !containsString(candidates, name) {
		return store.DocumentVersion{}, domainError(http.StatusUnprocessableEntity, "NAME_NOT_PROPOSED",
			"version name is not a valid branch name for the chosen parent", map[string]any{"candidates": candidates})
	}

	created, err := s.insertVersion(ctx, sess, documentID, name, input.Content, input.Parents)
	if err != nil {
		return store.DocumentVersion{}, err
	}
	if doc, derr := s.store.GetDocument(ctx, documentID); derr == nil {
		s.reindexDocument(ctx, doc)
	}
	return created, nil
}

func (s *Service) insertVersion(ctx context.Context, sess Session, documentID, name, content string, parents []string) (store.DocumentVersion, error) {
	now := time.Now().UTC()
	v := store.DocumentVersion{
		ID:         util.NewID("ver"),
		DocumentID: documentID,
		Name:       name,
		Content:    content,
		State:      string(workflow.StateInProgress),
		Parents:    parents,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.InsertVersion(ctx, v, sess.UserID); err != nil {
		return store.DocumentVersion{}, err
	}
	return v, nil
}

// UpdateVersionContent replaces a version's text. Only owners and editors may
// write, and published versions are immutable.
func (s *Service) UpdateVersionContent(ctx context.Context, sess Session, documentID, versionID, content string) (store.DocumentVersion, error) {
	v, err := s.GetVersion(ctx, documentID, versionID)
	if err != nil {
		return store.DocumentVersion{}, err
	}
	if workflow.State(v.State) == workflow.StatePublished {
		return store.DocumentVersion{}, domainError(http.StatusConflict, "VERSION_PUBLISHED",
			"published versions are immutable", nil)
	}
	if err := s.requireRole(ctx, sess, versionID, []rbac.Role{rbac.RoleOwner, rbac.RoleEditor}); err != nil {
		return store.DocumentVersion{}, err
	}

	if err := s.store.UpdateVersionContent(ctx, documentID, versionID, content); err != nil {
		return store.DocumentVersion{}, err
	}
	if doc, derr := s.store.GetDocument(ctx, documentID); derr == nil {
		s.reindexDocument(ctx, doc)
	}
	return s.GetVersion(ctx, documentID, versionID)
}

// ChangeVersionState moves a version one step along the review chain. The
// target must be the current state's forward or backward neighbor, and the
// actor must hold a role allowed to leave the current state. Every other
// member is notified.
func (s *Service) ChangeVersionState(ctx context.Context, sess Session, documentID, versionID string, target workflow.State) (store.DocumentVersion, error) {
	if !workflow.Valid(target) {
		return store.DocumentVersion{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"unknown workflow state", nil)
	}
	v, err := s.GetVersion(ctx, documentID, versionID)
	if err != nil {
		return store.DocumentVersion{}, err
	}
	current := workflow.State(v.State)

	allowed := workflow.RequiredRoles(current)
	if len(allowed) == 0 {
		return store.DocumentVersion{}, domainError(http.StatusForbidden, "FORBIDDEN",
			"no transitions are possible from the current state", nil)
	}
	if err := s.requireRole(ctx, sess, versionID, allowed); err != nil {
		return store.DocumentVersion{}, err
	}

	if target != workflow.NextForward(current) && target != workflow.NextBackward(current) {
		return store.DocumentVersion{}, domainError(http.StatusUnprocessableEntity, "INVALID_TRANSITION",
			"state is not reachable from the current state", map[string]any{
				"current":  current,
				"forward":  workflow.NextForward(current),
				"backward": workflow.NextBackward(current),
			})
	}

	if err := s.store.UpdateVersionState(ctx, documentID, versionID, string(target)); err != nil {
		return store.DocumentVersion{}, err
	}

	s.recordEvents(ctx, sess, documentID, versionID, store.Event{
		Kind:  store.EventStatusChanged,
		State: string(target),
	}, nil)

	return s.GetVersion(ctx, documentID, versionID)
}

// ---- members ----

func (s *Service) Members(ctx context.Context, documentID, versionID string) ([]store.VersionMember, error) {
	if _, err := s.GetVersion(ctx, documentID, versionID); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, versionID)
}

// UpdateMembers reconciles the version's role assignment against the desired
// one and applies the difference as individual grants and revokes. Ownership
// is never reassigned; only the owner may edit membership.
func (s *Service) UpdateMembers(ctx context.Context, sess Session, documentID, versionID string, desired rbac.Assignment) (rbac.Delta, error) {
	if _, err := s.GetVersion(ctx, documentID, versionID); err != nil {
		return rbac.Delta{}, err
	}
	if err := s.requireRole(ctx, sess, versionID, []rbac.Role{rbac.RoleOwner}); err != nil {
		return rbac.Delta{}, err
	}
	for role := range desired {
		if role == rbac.RoleOwner {
			return rbac.Delta{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"ownership cannot be reassigned", nil)
		}
		if !rbac.Valid(role) {
			return rbac.Delta{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"unknown role", map[string]any{"role": role})
		}
	}

	members, err := s.store.ListMembers(ctx, versionID)
	if err != nil {
		return rbac.Delta{}, err
	}
	original := make(rbac.Assignment)
	for _, member := range members {
		for _, role := range member.Roles {
			r := rbac.Role(role)
			if r == rbac.RoleOwner {
				continue
			}
			original[r] = append(original[r], member.UserID)
		}
	}

	delta := rbac.Reconcile(original, desired)
	for role, users := range delta.Added {
		for _, userID := range users {
			if err := s.store.GrantRole(ctx, versionID, userID, string(role)); err != nil {
				return rbac.Delta{}, err
			}
			s.recordEvents(ctx, sess, documentID, versionID, store.Event{
				Kind: store.EventRoleAdded,
				Role: string(role),
			}, []string{userID})
		}
	}
	for role, users := range delta.Removed {
		for _, userID := range users {
			if err := s.store.RevokeRole(ctx, versionID, userID, string(role)); err != nil {
				return rbac.Delta{}, err
			}
			s.recordEvents(ctx, sess, documentID, versionID, store.Event{
				Kind: store.EventRoleRemoved,
				Role: string(role),
			}, []string{userID})
		}
	}
	return delta, nil
}

// requireRole checks the acting user's roles on a version.
func (s *Service) requireRole(ctx context.Context, sess Session, versionID string, wanted []rbac.Role) error {
	members, err := s.store.ListMembers(ctx, versionID)
	if err != nil {
		return err
	}
	var held []rbac.Role
	for _, member := range members {
		if member.UserID != sess.UserID {
			continue
		}
		for _, role := range member.Roles {
			held = append(held, rbac.Role(role))
		}
	}
	if !rbac.HasAny(held, wanted) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return nil
}

// recordEvents writes one change event per recipient. With a nil recipient
// list every member except the actor is notified. Event persistence is best
// effort; a failed insert is logged, not surfaced.
func (s *Service) recordEvents(ctx context.Context, sess Session, documentID, versionID string, template store.Event, recipients []string) {
	if recipients == nil {
		members, err := s.store.ListMembers(ctx, versionID)
		if err != nil {
			s.log.Warn().Err(err).Str("version", versionID).Msg("record events: list members")
			return
		}
		for _, member := range members {
			if member.UserID == sess.UserID {
				continue
			}
			recipients = append(recipients, member.UserID)
		}
	}

	for _, userID := range recipients {
		event := template
		event.ID = util.NewID("evt")
		event.UserID = userID
		event.DocumentID = documentID
		event.VersionID = versionID
		event.CreatedAt = time.Now().UTC()
		if err := s.store.InsertEvent(ctx, event); err != nil {
			s.log.Warn().Err(err).Str("version", versionID).Str("user", userID).Msg("record event")
			continue
		}
		if s.metrics != nil {
			s.metrics.EventsTotal.WithLabelValues(event.Kind).Inc()
		}
	}

	s.mailRecipients(ctx, documentID, versionID, template, recipients)
}

// mailRecipients sends one change mail per recipient whose username is an
// address. Mail is best effort and never blocks the request.
func (s *Service) mailRecipients(ctx context.Context, documentID, versionID string, template store.Event, recipients []string) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	message, err := projectEvent(template)
	if err != nil {
		return
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return
	}
	v, err := s.store.GetVersion(ctx, documentID, versionID)
	if err != nil {
		return
	}

	var addresses []string
	for _, userID := range recipients {
		user, err := s.store.GetUserByID(ctx, userID)
		if err != nil || !strings.Contains(user.Username, "@") {
			continue
		}
		addresses = append(addresses, user.Username)
	}
	if len(addresses) == 0 {
		return
	}

	subject, body := email.ChangeNotification(doc.Name, v.Name, message)
	go func() {
		if err := s.mail.Send(addresses, subject, body); err != nil {
			s.log.Warn().Err(err).Msg("send change mail")
		}
	}()
}

// projectEvent renders a stored event through the notification projector.
func projectEvent(event store.Event) (string, error) {
	var payload notify.Payload
	switch event.Kind {
	case store.EventStatusChanged:
		payload = notify.StatusChangedPayload(workflow.State(event.State))
	case store.EventRoleAdded:
		payload = notify.RoleAddedPayload(rbac.Role(event.Role))
	case store.EventRoleRemoved:
		payload = notify.RoleRemovedPayload(rbac.Role(event.Role))
	}
	return notify.Project(payload)
}

func buildGraph(versions []store.DocumentVersion) (*version.Graph, error) {
	nodes := make([]version.Node, len(versions))
	for i, v := range versions {
		nodes[i] = version.Node{ID: v.ID, Name: v.Name, Parents: v.Parents}
	}
	graph, err := version.Build(nodes)
	if err != nil {
		if errors.Is(err, version.ErrInvalidGraph) {
			return nil, domainError(http.StatusInternalServerError, "INVALID_GRAPH", err.Error(), nil)
		}
		return nil, err
	}
	return graph, nil
}

func containsString(values []string, want string) bool {
	for _, value := range values {
		if value == want {
			return true
		}
	}
	return false
}
