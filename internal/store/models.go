package store

import "time"

type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

type Document struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DocumentVersion struct {
	ID         string
	DocumentID string
	Name       string
	Content    string
	State      string
	Parents    []string
	Children   []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// VersionMember is one user's role set on one version, with the username
// joined in for display.
type VersionMember struct {
	VersionID string
	UserID    string
	Username  string
	Roles     []string
}

// Event kinds, mirrored by the notify package's payload variants.
const (
	EventStatusChanged = "statusChanged"
	EventRoleAdded     = "roleAdded"
	EventRoleRemoved   = "roleRemoved"
)

type Event struct {
	ID         string
	UserID     string
	DocumentID string
	VersionID  string
	Kind       string
	Role       string // set for roleAdded/roleRemoved
	State      string // set for statusChanged
	Seen       bool
	CreatedAt  time.Time
}

type Comment struct {
	ID         string
	DocumentID string
	VersionID  string
	AuthorID   string
	AuthorName string
	Body       string
	CreatedAt  time.Time
}

// Attachment is file metadata; the bytes live in object storage under Key.
type Attachment struct {
	ID          string
	DocumentID  string
	VersionID   string
	FileName    string
	ContentType string
	Size        int64
	Key         string
	UploadedBy  string
	CreatedAt   time.Time
}

type DocumentSet struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SetVersion struct {
	ID        string
	SetID     string
	Name      string
	State     string
	Parents   []string
	Documents []SetVersionDocument
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SetVersionDocument pins one document version inside a set version.
type SetVersionDocument struct {
	DocumentID string
	VersionID  string
}
