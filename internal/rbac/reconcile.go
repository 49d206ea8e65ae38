package rbac

import "sort"

// Assignment maps a role to the set of user ids holding it.
type Assignment map[Role][]string

// Delta is the minimal edit script turning one assignment into another,
// expressed as independent grant/revoke pairs. The remote authority only
// exposes single grant and revoke calls, so the delta is applied one entry at
// a time; every entry is idempotent on the server side and safe to retry
// individually.
type Delta struct {
	Added   map[Role][]string
	Removed map[Role][]string
}

// Empty reports whether the delta contains no grants and no revokes.
func (d Delta) Empty() bool {
	for _, users := range d.Added {
		if len(users) > 0 {
			return false
		}
	}
	for _, users := range d.Removed {
		if len(users) > 0 {
			return false
		}
	}
	return true
}

// Reconcile computes, per role, the users to grant (desired minus original)
// and to revoke (original minus desired). A role absent from desired is
// treated as fully revoked. Users and roles outside the explicit difference
// are never touched. Reconciling an assignment against itself yields an
// empty delta.
func Reconcile(original, desired Assignment) Delta {
	delta := Delta{
		Added:   make(map[Role][]string),
		Removed: make(map[Role][]string),
	}

	for _, role := range roleUniverse(original, desired) {
		before := toSet(original[role])
		after := toSet(desired[role])

		var added, removed []string
		for user := range after {
			if _, ok := before[user]; !ok {
				added = append(added, user)
			}
		}
		for user := range before {
			if _, ok := after[user]; !ok {
				removed = append(removed, user)
			}
		}
		sort.Strings(added)
		sort.Strings(removed)
		if len(added) > 0 {
			delta.Added[role] = added
		}
		if len(removed) > 0 {
			delta.Removed[role] = removed
		}
	}
	return delta
}

func roleUniverse(original, desired Assignment) []Role {
	seen := make(map[Role]struct{})
	var roles []Role
	for role := range original {
		if _, ok := seen[role]; !ok {
			seen[role] = struct{}{}
			roles = append(roles, role)
		}
	}
	for role := range desired {
		if _, ok := seen[role]; !ok {
			seen[role] = struct{}{}
			roles = append(roles, role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

func toSet(users []string) map[string]struct{} {
	set := make(map[string]struct{}, len(users))
	for _, user := range users {
		set[user] = struct{}{}
	}
	return set
}
