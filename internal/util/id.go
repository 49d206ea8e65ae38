package util

import "github.com/google/uuid"

// NewID returns a fresh identifier, optionally namespaced with a prefix
// ("ver_..."). The remote-facing ids are plain UUIDs.
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
