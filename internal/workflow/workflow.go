// Package workflow defines the review state machine for document versions.
//
// The state graph is fixed: inProgress -> readyForReview -> reviewed ->
// published, with published terminal in both directions and every backward
// transition returning to inProgress. The package is purely declarative; it
// never checks who is acting. Callers compare the acting user's roles against
// RequiredRoles before applying a transition.
package workflow

import "docvers/api/internal/rbac"

type State string

const (
	StateInProgress     State = "inProgress"
	StateReadyForReview State = "readyForReview"
	StateReviewed       State = "reviewed"
	StatePublished      State = "published"
)

// States lists all workflow states in review order.
func States() []State {
	return []State{StateInProgress, StateReadyForReview, StateReviewed, StatePublished}
}

func Valid(state State) bool {
	switch state {
	case StateInProgress, StateReadyForReview, StateReviewed, StatePublished:
		return true
	default:
		return false
	}
}

// Label returns the display name shown next to a version.
func (s State) Label() string {
	switch s {
	case StateInProgress:
		return "In Progress"
	case StateReadyForReview:
		return "Ready For Review"
	case StateReviewed:
		return "Reviewed"
	case StatePublished:
		return "Published"
	default:
		return string(s)
	}
}

// NextForward returns the state one step further along the review chain.
// Published is a fixed point.
func NextForward(s State) State {
	switch s {
	case StateInProgress:
		return StateReadyForReview
	case StateReadyForReview:
		return StateReviewed
	case StateReviewed:
		return StatePublished
	default:
		return StatePublished
	}
}

// NextBackward returns the state a declined review falls back to. Both ends
// of the chain are fixed points: in-progress has nowhere to go and published
// may never be withdrawn.
func NextBackward(s State) State {
	switch s {
	case StateReadyForReview, StateReviewed:
		return StateInProgress
	case StatePublished:
		return StatePublished
	default:
		return StateInProgress
	}
}

// RequiredRoles returns the roles allowed to move a version out of the given
// state, in either direction. An empty set means no transition is possible.
func RequiredRoles(s State) []rbac.Role {
	switch s {
	case StateInProgress:
		return []rbac.Role{rbac.RoleOwner, rbac.RoleEditor}
	case StateReadyForReview:
		return []rbac.Role{rbac.RoleReviewer}
	case StateReviewed:
		return []rbac.Role{rbac.RoleOwner}
	default:
		return nil
	}
}
