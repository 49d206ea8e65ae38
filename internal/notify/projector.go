// Package notify projects raw change events into the messages shown on the
// notifications screen.
package notify

import (
	"errors"
	"fmt"

	"docvers/api/internal/rbac"
	"docvers/api/internal/workflow"
)

// ErrMalformedEvent marks a payload with zero or more than one populated
// variant. Ambiguous events are a caller error and are never resolved by
// guessing.
var ErrMalformedEvent = errors.New("malformed event payload")

// Payload is a tagged union with exactly one populated variant.
type Payload struct {
	StatusChanged *workflow.State
	RoleAdded     *rbac.Role
	RoleRemoved   *rbac.Role
}

// StatusChangedPayload builds a payload for a review state change.
func StatusChangedPayload(state workflow.State) Payload {
	return Payload{StatusChanged: &state}
}

// RoleAddedPayload builds a payload for a role grant.
func RoleAddedPayload(role rbac.Role) Payload {
	return Payload{RoleAdded: &role}
}

// RoleRemovedPayload builds a payload for a role revocation.
func RoleRemovedPayload(role rbac.Role) Payload {
	return Payload{RoleRemoved: &role}
}

// Project renders the payload's single variant as a display string.
func Project(p Payload) (string, error) {
	populated := 0
	if p.StatusChanged != nil {
		populated++
	}
	if p.RoleAdded != nil {
		populated++
	}
	if p.RoleRemoved != nil {
		populated++
	}
	if populated != 1 {
		return "", fmt.Errorf("%w: %d variants populated", ErrMalformedEvent, populated)
	}

	switch {
	case p.StatusChanged != nil:
		return "Status changed: " + p.StatusChanged.Label(), nil
	case p.RoleAdded != nil:
		return "Added role: " + string(*p.RoleAdded), nil
	default:
		return "Removed role: " + string(*p.RoleRemoved), nil
	}
}
