package notify

import (
	"errors"
	"testing"

	"docvers/api/internal/rbac"
	"docvers/api/internal/workflow"
)

func TestProject(t *testing.T) {
	cases := []struct {
		name    string
		payload Payload
		want    string
	}{
		{
			name:    "status change",
			payload: StatusChangedPayload(workflow.StateReadyForReview),
			want:    "Status changed: Ready For Review",
		},
		{
			name:    "role added",
			payload: RoleAddedPayload(rbac.RoleReviewer),
			want:    "Added role: reviewer",
		},
		{
			name:    "role removed",
			payload: RoleRemovedPayload(rbac.RoleEditor),
			want:    "Removed role: editor",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Project(tc.payload)
			if err != nil {
				t.Fatalf("Project: %v", err)
			}
			if got != tc.want {
				t.Errorf("Project = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestProjectRejectsEmptyPayload(t *testing.T) {
	_, err := Project(Payload{})
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("Project(empty): err = %v, want ErrMalformedEvent", err)
	}
}

func TestProjectRejectsAmbiguousPayload(t *testing.T) {
	state := workflow.StatePublished
	role := rbac.RoleViewer

	_, err := Project(Payload{StatusChanged: &state, RoleAdded: &role})
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("Project(two variants): err = %v, want ErrMalformedEvent", err)
	}

	_, err = Project(Payload{StatusChanged: &state, RoleAdded: &role, RoleRemoved: &role})
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("Project(three variants): err = %v, want ErrMalformedEvent", err)
	}
}
