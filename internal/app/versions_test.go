package app

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"docvers/api/internal/rbac"
	"docvers/api/internal/store"
	"docvers/api/internal/workflow"
)

func seedDocument(t *testing.T, svc *Service, sess Session) (store.Document, store.DocumentVersion) {
	t.Helper()
	doc, root, err := svc.CreateDocument(context.Background(), sess, "Handbook", "root text")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return doc, root
}

func domainCode(t *testing.T, err error) (int, string) {
	t.Helper()
	var derr *DomainError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return derr.Status, derr.Code
}

func TestVersionNameProposals(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := mustRegister(t, svc, "alice")
	doc, root := seedDocument(t, svc, sess)

	candidates, err := svc.VersionNameProposals(ctx, doc.ID, root.ID)
	if err != nil {
		t.Fatalf("VersionNameProposals: %v", err)
	}
	want := []string{"1.1", "2"}
	if len(candidates) != len(want) {
		t.Fatalf("candidates = %v, want %v", candidates, want)
	}
	for i := range want {
		if candidates[i] != want[i] {
			t.Fatalf("candidates = %v, want %v", candidates, want)
		}
	}
}

func TestCreateVersionBranchAndMerge(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := mustRegister(t, svc, "alice")
	doc, root := seedDocument(t, svc, sess)

	branch, err := svc.CreateVersion(ctx, sess, doc.ID, CreateVersionInput{
		Name:    "1.1",
		Content: "draft",
		Parents: []string{root.ID},
	})
	if err != nil {
		t.Fatalf("CreateVersion(1.1): %v", err)
	}

	other, err := svc.CreateVersion(ctx, sess, doc.ID, CreateVersionInput{
		Name:    "2",
		Parents: []string{root.ID},
	})
	if err != nil {
		t.Fatalf("CreateVersion(2): %v", err)
	}

	// A merge carries both branches as parents; the name is proposed for the
	// first parent.
	merge, err := svc.CreateVersion(ctx, sess, doc.ID, CreateVersionInput{
		Name:    "1.2",
		Parents: []string{branch.ID, other.ID},
	})
	if err != nil {
		t.Fatalf("CreateVersion(merge): %v", err)
	}
	if len(merge.Parents) != 2 {
		t.Fatalf("merge parents = %v", merge.Parents)
	}

	versions, err := svc.ListVersions(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 4 {
		t.Fatalf("expected 4 versions, got %d", len(versions))
	}
}

func TestCreateVersionRejectsBadNames(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := mustRegister(t, svc, "alice")
	doc, root := seedDocument(t, svc, sess)

	cases := []struct {
		name     string
		input    CreateVersionInput
		wantCode string
	}{
		{
			name:     "malformed",
			input:    CreateVersionInput{Name: "1.a", Parents: []string{root.ID}},
			wantCode: "MALFORMED_NAME",
		},
		{
			name:     "taken",
			input:    CreateVersionInput{Name: "1", Parents: []string{root.ID}},
			wantCode: "NAME_TAKEN",
		},
		{
			name:     "no parents",
			input:    CreateVersionInput{Name: "2"},
			wantCode: "VALIDATION_ERROR",
		},
		{
			name:     "unknown parent",
			input:    CreateVersionInput{Name: "2", Parents: []string{"missing"}},
			wantCode: "VALIDATION_ERROR",
		},
		{
			name:     "not proposed",
			input:    CreateVersionInput{Name: "7", Parents: []string{root.ID}},
			wantCode: "NAME_NOT_PROPOSED",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateVersion(ctx, sess, doc.ID, tc.input)
			if err == nil {
				t.Fatal("expected error")
			}
			if _, code := domainCode(t, err); code != tc.wantCode {
				t.Fatalf("code = %s, want %s", code, tc.wantCode)
			}
		})
	}
}

func TestUpdateVersionContentRequiresEditorRole(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := mustRegister(t, svc, "alice")
	outsider := mustRegister(t, svc, "mallory")
	doc, root := seedDocument(t, svc, owner)

	if _, err := svc.UpdateVersionContent(ctx, outsider, doc.ID, root.ID, "hijacked"); err == nil {
		t.Fatal("non-member write must be forbidden")
	} else if status, _ := domainCode(t, err); status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", status)
	}

	updated, err := svc.UpdateVersionContent(ctx, owner, doc.ID, root.ID, "edited")
	if err != nil {
		t.Fatalf("owner write: %v", err)
	}
	if updated.Content != "edited" {
		t.Fatalf("content = %q", updated.Content)
	}
}

func TestChangeVersionStateWalksTheChain(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()
	owner := mustRegister(t, svc, "alice")
	reviewer := mustRegister(t, svc, "rita")
	doc, root := seedDocument(t, svc, owner)
	fake.grant(root.ID, reviewer.UserID, "reviewer")

	// owner submits for review
	v, err := svc.ChangeVersionState(ctx, owner, doc.ID, root.ID, workflow.StateReadyForReview)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if workflow.State(v.State) != workflow.StateReadyForReview {
		t.Fatalf("state = %s", v.State)
	}

	// only the reviewer may leave readyForReview
	if _, err := svc.ChangeVersionState(ctx, owner, doc.ID, root.ID, workflow.StateReviewed); err == nil {
		t.Fatal("owner must not approve their own review")
	}
	if v, err = svc.ChangeVersionState(ctx, reviewer, doc.ID, root.ID, workflow.StateReviewed); err != nil {
		t.Fatalf("review: %v", err)
	}

	// a decline from reviewed falls back to inProgress, skipping readyForReview
	if v, err = svc.ChangeVersionState(ctx, owner, doc.ID, root.ID, workflow.StateInProgress); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if workflow.State(v.State) != workflow.StateInProgress {
		t.Fatalf("state = %s", v.State)
	}

	// walk to published
	for _, step := range []struct {
		actor Session
		to    workflow.State
	}{
		{owner, workflow.StateReadyForReview},
		{reviewer, workflow.StateReviewed},
		{owner, workflow.StatePublished},
	} {
		if v, err = svc.ChangeVersionState(ctx, step.actor, doc.ID, root.ID, step.to); err != nil {
			t.Fatalf("to %s: %v", step.to, err)
		}
	}

	// published is terminal in both directions
	if _, err := svc.ChangeVersionState(ctx, owner, doc.ID, root.ID, workflow.StateInProgress); err == nil {
		t.Fatal("published must be terminal")
	} else if status, _ := domainCode(t, err); status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", status)
	}
}

func TestChangeVersionStateRejectsSkips(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := mustRegister(t, svc, "alice")
	doc, root := seedDocument(t, svc, owner)

	_, err := svc.ChangeVersionState(ctx, owner, doc.ID, root.ID, workflow.StatePublished)
	if err == nil {
		t.Fatal("skipping review states must fail")
	}
	if _, code := domainCode(t, err); code != "INVALID_TRANSITION" {
		t.Fatalf("code = %s", code)
	}
}

func TestStateChangeNotifiesOtherMembers(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()
	owner := mustRegister(t, svc, "alice")
	viewer := mustRegister(t, svc, "vera")
	doc, root := seedDocument(t, svc, owner)
	fake.grant(root.ID, viewer.UserID, "viewer")

	if _, err := svc.ChangeVersionState(ctx, owner, doc.ID, root.ID, workflow.StateReadyForReview); err != nil {
		t.Fatalf("submit: %v", err)
	}

	notifications, err := svc.ListNotifications(ctx, viewer)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifications))
	}
	if notifications[0].Message != "Status changed: Ready For Review" {
		t.Fatalf("message = %q", notifications[0].Message)
	}

	// the actor is not notified about their own change
	own, err := svc.ListNotifications(ctx, owner)
	if err != nil {
		t.Fatalf("ListNotifications(owner): %v", err)
	}
	if len(own) != 0 {
		t.Fatalf("actor must not self-notify, got %d", len(own))
	}

	if err := svc.MarkNotificationSeen(ctx, viewer, notifications[0].ID); err != nil {
		t.Fatalf("MarkNotificationSeen: %v", err)
	}
	if err := svc.MarkNotificationSeen(ctx, owner, notifications[0].ID); err == nil {
		t.Fatal("only the recipient may acknowledge a notification")
	}
}

func TestListNotificationsRejectsMalformedEvents(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()
	sess := mustRegister(t, svc, "alice")

	fake.events = append(fake.events, store.Event{ID: "evt1", UserID: sess.UserID, Kind: "unknown"})
	_, err := svc.ListNotifications(ctx, sess)
	if err == nil {
		t.Fatal("unknown event kind must fail projection")
	}
	if _, code := domainCode(t, err); code != "EVENT_MALFORMED" {
		t.Fatalf("code = %s", code)
	}
}

func TestUpdateMembersReconciles(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()
	owner := mustRegister(t, svc, "alice")
	u1 := mustRegister(t, svc, "u1")
	u2 := mustRegister(t, svc, "u2")
	u3 := mustRegister(t, svc, "u3")
	doc, root := seedDocument(t, svc, owner)
	fake.grant(root.ID, u1.UserID, "editor")
	fake.grant(root.ID, u2.UserID, "editor")

	delta, err := svc.UpdateMembers(ctx, owner, doc.ID, root.ID, rbac.Assignment{
		rbac.RoleEditor: {u2.UserID, u3.UserID},
	})
	if err != nil {
		t.Fatalf("UpdateMembers: %v", err)
	}
	if got := delta.Added[rbac.RoleEditor]; len(got) != 1 || got[0] != u3.UserID {
		t.Fatalf("added = %v", delta.Added)
	}
	if got := delta.Removed[rbac.RoleEditor]; len(got) != 1 || got[0] != u1.UserID {
		t.Fatalf("removed = %v", delta.Removed)
	}

	// the owner row is untouched by reconciliation
	members, _ := svc.Members(ctx, doc.ID, root.ID)
	foundOwner := false
	for _, member := range members {
		if member.UserID == owner.UserID {
			foundOwner = true
		}
	}
	if !foundOwner {
		t.Fatal("owner must survive reconciliation")
	}

	// granted and revoked users each get a targeted notification
	added, _ := svc.ListNotifications(ctx, u3)
	if len(added) != 1 || added[0].Message != "Added role: editor" {
		t.Fatalf("u3 notifications = %+v", added)
	}
	removed, _ := svc.ListNotifications(ctx, u1)
	if len(removed) != 1 || removed[0].Message != "Removed role: editor" {
		t.Fatalf("u1 notifications = %+v", removed)
	}

	// reconciling the same assignment again is a no-op
	delta, err = svc.UpdateMembers(ctx, owner, doc.ID, root.ID, rbac.Assignment{
		rbac.RoleEditor: {u2.UserID, u3.UserID},
	})
	if err != nil {
		t.Fatalf("UpdateMembers(idempotent): %v", err)
	}
	if !delta.Empty() {
		t.Fatalf("expected empty delta, got %+v", delta)
	}
}

func TestUpdateMembersGuards(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()
	owner := mustRegister(t, svc, "alice")
	editor := mustRegister(t, svc, "ed")
	doc, root := seedDocument(t, svc, owner)
	fake.grant(root.ID, editor.UserID, "editor")

	// only the owner edits membership
	if _, err := svc.UpdateMembers(ctx, editor, doc.ID, root.ID, rbac.Assignment{}); err == nil {
		t.Fatal("non-owner membership edit must be forbidden")
	}

	// ownership is not assignable
	_, err := svc.UpdateMembers(ctx, owner, doc.ID, root.ID, rbac.Assignment{
		rbac.RoleOwner: {editor.UserID},
	})
	if err == nil {
		t.Fatal("assigning the owner role must fail")
	}
}

func TestListVersionsRejectsCorruptGraph(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()
	sess := mustRegister(t, svc, "alice")
	doc, root := seedDocument(t, svc, sess)

	// damage the stored parent relation
	fake.versions = append(fake.versions, store.DocumentVersion{
		ID:         "orphan",
		DocumentID: doc.ID,
		Name:       "2",
		State:      "inProgress",
		Parents:    []string{"missing-parent"},
	})
	_ = root

	_, err := svc.ListVersions(ctx, doc.ID)
	if err == nil {
		t.Fatal("corrupt graph must fail the listing")
	}
	if _, code := domainCode(t, err); code != "INVALID_GRAPH" {
		t.Fatalf("code = %s", code)
	}
}
