package rbac

import (
	"reflect"
	"testing"
)

func TestReconcile(t *testing.T) {
	original := Assignment{
		RoleEditor: {"u1", "u2"},
		RoleViewer: {"u3"},
	}
	desired := Assignment{
		RoleEditor: {"u2", "u3"},
		RoleViewer: {"u3"},
	}

	delta := Reconcile(original, desired)

	wantAdded := map[Role][]string{RoleEditor: {"u3"}}
	wantRemoved := map[Role][]string{RoleEditor: {"u1"}}
	if !reflect.DeepEqual(delta.Added, wantAdded) {
		t.Errorf("Added = %v, want %v", delta.Added, wantAdded)
	}
	if !reflect.DeepEqual(delta.Removed, wantRemoved) {
		t.Errorf("Removed = %v, want %v", delta.Removed, wantRemoved)
	}
	if _, ok := delta.Added[RoleViewer]; ok {
		t.Error("viewer delta must stay empty")
	}
	if _, ok := delta.Removed[RoleViewer]; ok {
		t.Error("viewer delta must stay empty")
	}
}

func TestReconcileIdempotence(t *testing.T) {
	assignments := []Assignment{
		{},
		{RoleViewer: {"u1"}},
		{RoleEditor: {"u1", "u2"}, RoleReviewer: {"u3"}, RoleViewer: nil},
	}

	for _, a := range assignments {
		delta := Reconcile(a, a)
		if !delta.Empty() {
			t.Errorf("Reconcile(a, a) = %+v, want empty delta", delta)
		}
	}
}

func TestReconcileMissingDesiredRoleRevokesAll(t *testing.T) {
	original := Assignment{RoleReviewer: {"u1", "u2"}}
	desired := Assignment{}

	delta := Reconcile(original, desired)

	want := map[Role][]string{RoleReviewer: {"u1", "u2"}}
	if !reflect.DeepEqual(delta.Removed, want) {
		t.Errorf("Removed = %v, want %v", delta.Removed, want)
	}
	if len(delta.Added) != 0 {
		t.Errorf("Added = %v, want empty", delta.Added)
	}
}

func TestReconcileNewRoleGrantsAll(t *testing.T) {
	delta := Reconcile(Assignment{}, Assignment{RoleViewer: {"u9", "u4"}})

	want := map[Role][]string{RoleViewer: {"u4", "u9"}}
	if !reflect.DeepEqual(delta.Added, want) {
		t.Errorf("Added = %v, want %v (sorted)", delta.Added, want)
	}
}

func TestReconcileLeavesUnrelatedRolesAlone(t *testing.T) {
	original := Assignment{
		RoleOwner:  {"owner1"},
		RoleEditor: {"u1"},
	}
	desired := Assignment{
		RoleOwner:  {"owner1"},
		RoleEditor: {"u1", "u2"},
	}

	delta := Reconcile(original, desired)

	if _, ok := delta.Added[RoleOwner]; ok {
		t.Error("owner assignment must not produce grants")
	}
	if _, ok := delta.Removed[RoleOwner]; ok {
		t.Error("owner assignment must not produce revokes")
	}
	if !reflect.DeepEqual(delta.Added[RoleEditor], []string{"u2"}) {
		t.Errorf("editor Added = %v, want [u2]", delta.Added[RoleEditor])
	}
}
