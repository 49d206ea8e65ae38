package app

import (
	"context"
	"database/sql"
	"sort"
	"testing"
	"time"

	"docvers/api/internal/authpw"
	"docvers/api/internal/session"
	"docvers/api/internal/store"

	"github.com/rs/zerolog"
)

// fakeStore is an in-memory dataStore for service tests. It also satisfies
// authpw.UserStore so the password flows run against the same data.
type fakeStore struct {
	users       []store.User
	documents   []store.Document
	versions    []store.DocumentVersion
	members     map[string]map[string][]string // versionID -> userID -> roles
	events      []store.Event
	comments    []store.Comment
	attachments []store.Attachment
	sets        []store.DocumentSet
	setVersions []store.SetVersion
}

func newFakeStore() *fakeStore {
	return &fakeStore{members: make(map[string]map[string][]string)}
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	f.users = append(f.users, user)
	return nil
}

func (f *fakeStore) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	for _, user := range f.users {
		if user.Username == username {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	for _, user := range f.users {
		if user.ID == id {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]store.User, error) {
	return append([]store.User(nil), f.users...), nil
}

func (f *fakeStore) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return append([]store.Document(nil), f.documents...), nil
}

func (f *fakeStore) GetDocument(ctx context.Context, id string) (store.Document, error) {
	for _, doc := range f.documents {
		if doc.ID == id {
			return doc, nil
		}
	}
	return store.Document{}, sql.ErrNoRows
}

func (f *fakeStore) InsertDocument(ctx context.Context, doc store.Document) error {
	f.documents = append(f.documents, doc)
	return nil
}

func (f *fakeStore) UpdateDocumentName(ctx context.Context, id, name string) error {
	for i := range f.documents {
		if f.documents[i].ID == id {
			f.documents[i].Name = name
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) ListVersions(ctx context.Context, documentID string) ([]store.DocumentVersion, error) {
	var out []store.DocumentVersion
	for _, v := range f.versions {
		if v.DocumentID == documentID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeStore) GetVersion(ctx context.Context, documentID, versionID string) (store.DocumentVersion, error) {
	for _, v := range f.versions {
		if v.DocumentID == documentID && v.ID == versionID {
			return v, nil
		}
	}
	return store.DocumentVersion{}, sql.ErrNoRows
}

func (f *fakeStore) InsertVersion(ctx context.Context, version store.DocumentVersion, ownerID string) error {
	f.versions = append(f.versions, version)
	f.grant(version.ID, ownerID, "owner")
	return nil
}

func (f *fakeStore) UpdateVersionContent(ctx context.Context, documentID, versionID, content string) error {
	for i := range f.versions {
		if f.versions[i].DocumentID == documentID && f.versions[i].ID == versionID {
			f.versions[i].Content = content
			f.versions[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateVersionState(ctx context.Context, documentID, versionID, state string) error {
	for i := range f.versions {
		if f.versions[i].DocumentID == documentID && f.versions[i].ID == versionID {
			f.versions[i].State = state
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) ListMembers(ctx context.Context, versionID string) ([]store.VersionMember, error) {
	var members []store.VersionMember
	for userID, roles := range f.members[versionID] {
		username := userID
		if user, err := f.GetUserByID(ctx, userID); err == nil {
			username = user.Username
		}
		sorted := append([]string(nil), roles...)
		sort.Strings(sorted)
		members = append(members, store.VersionMember{
			VersionID: versionID,
			UserID:    userID,
			Username:  username,
			Roles:     sorted,
		})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	return members, nil
}

func (f *fakeStore) grant(versionID, userID, role string) {
	if f.members[versionID] == nil {
		f.members[versionID] = make(map[string][]string)
	}
	for _, held := range f.members[versionID][userID] {
		if held == role {
			return
		}
	}
	f.members[versionID][userID] = append(f.members[versionID][userID], role)
}

func (f *fakeStore) GrantRole(ctx context.Context, versionID, userID, role string) error {
	f.grant(versionID, userID, role)
	return nil
}

func (f *fakeStore) RevokeRole(ctx context.Context, versionID, userID, role string) error {
	roles := f.members[versionID][userID]
	var kept []string
	for _, held := range roles {
		if held != role {
			kept = append(kept, held)
		}
	}
	if len(kept) == 0 {
		delete(f.members[versionID], userID)
	} else {
		f.members[versionID][userID] = kept
	}
	return nil
}

func (f *fakeStore) InsertEvent(ctx context.Context, event store.Event) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeStore) ListEvents(ctx context.Context, userID string) ([]store.Event, error) {
	var out []store.Event
	for _, event := range f.events {
		if event.UserID == userID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkEventSeen(ctx context.Context, eventID, userID string) error {
	for i := range f.events {
		if f.events[i].ID == eventID && f.events[i].UserID == userID {
			f.events[i].Seen = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) InsertComment(ctx context.Context, comment store.Comment) error {
	f.comments = append(f.comments, comment)
	return nil
}

func (f *fakeStore) ListComments(ctx context.Context, documentID, versionID string) ([]store.Comment, error) {
	var out []store.Comment
	for _, comment := range f.comments {
		if comment.DocumentID == documentID && comment.VersionID == versionID {
			out = append(out, comment)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertAttachment(ctx context.Context, att store.Attachment) error {
	f.attachments = append(f.attachments, att)
	return nil
}

func (f *fakeStore) ListAttachments(ctx context.Context, documentID, versionID string) ([]store.Attachment, error) {
	var out []store.Attachment
	for _, att := range f.attachments {
		if att.DocumentID == documentID && att.VersionID == versionID {
			out = append(out, att)
		}
	}
	return out, nil
}

func (f *fakeStore) GetAttachment(ctx context.Context, documentID, versionID, attachmentID string) (store.Attachment, error) {
	for _, att := range f.attachments {
		if att.DocumentID == documentID && att.VersionID == versionID && att.ID == attachmentID {
			return att, nil
		}
	}
	return store.Attachment{}, sql.ErrNoRows
}

func (f *fakeStore) DeleteAttachment(ctx context.Context, documentID, versionID, attachmentID string) error {
	for i, att := range f.attachments {
		if att.DocumentID == documentID && att.VersionID == versionID && att.ID == attachmentID {
			f.attachments = append(f.attachments[:i], f.attachments[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) ListDocumentSets(ctx context.Context) ([]store.DocumentSet, error) {
	return append([]store.DocumentSet(nil), f.sets...), nil
}

func (f *fakeStore) GetDocumentSet(ctx context.Context, id string) (store.DocumentSet, error) {
	for _, set := range f.sets {
		if set.ID == id {
			return set, nil
		}
	}
	return store.DocumentSet{}, sql.ErrNoRows
}

func (f *fakeStore) InsertDocumentSet(ctx context.Context, set store.DocumentSet) error {
	f.sets = append(f.sets, set)
	return nil
}

func (f *fakeStore) ListSetVersions(ctx context.Context, setID string) ([]store.SetVersion, error) {
	var out []store.SetVersion
	for _, v := range f.setVersions {
		if v.SetID == setID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertSetVersion(ctx context.Context, version store.SetVersion) error {
	f.setVersions = append(f.setVersions, version)
	return nil
}

func (f *fakeStore) ReplaceSetVersionDocuments(ctx context.Context, setVersionID string, documents []store.SetVersionDocument) error {
	for i := range f.setVersions {
		if f.setVersions[i].ID == setVersionID {
			f.setVersions[i].Documents = documents
			return nil
		}
	}
	return sql.ErrNoRows
}

// fakeSessions is an in-memory sessionStore.
type fakeSessions struct {
	refresh map[string]session.TokenData
	revoked map[string]bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		refresh: make(map[string]session.TokenData),
		revoked: make(map[string]bool),
	}
}

func (f *fakeSessions) SaveRefreshSession(ctx context.Context, tokenHash, userID, username string, expiresAt time.Time) error {
	f.refresh[tokenHash] = session.TokenData{UserID: userID, Username: username, CreatedAt: time.Now().UTC()}
	return nil
}

func (f *fakeSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error) {
	data, ok := f.refresh[tokenHash]
	if !ok {
		return session.TokenData{}, session.ErrSessionNotFound
	}
	return data, nil
}

func (f *fakeSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeSessions) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	f.revoked[jti] = true
	return nil
}

func (f *fakeSessions) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	return f.revoked[jti], nil
}

func newTestService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	fake := newFakeStore()
	svc := NewService(ServiceOptions{
		Store:      fake,
		Sessions:   newFakeSessions(),
		Passwords:  authpw.NewService(fake),
		Log:        zerolog.Nop(),
		JWTSecret:  []byte("test-secret"),
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	})
	return svc, fake
}

func mustRegister(t *testing.T, svc *Service, username string) Session {
	t.Helper()
	sess, err := svc.Register(context.Background(), username, "password123")
	if err != nil {
		t.Fatalf("Register(%s): %v", username, err)
	}
	return sess
}

func TestRegisterLoginAndRefresh(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	registered := mustRegister(t, svc, "alice")
	if registered.Token == "" || registered.RefreshToken == "" {
		t.Fatal("registration must mint a token pair")
	}

	if _, err := svc.Register(ctx, "alice", "password123"); err == nil {
		t.Fatal("duplicate registration must fail")
	}

	logged, err := svc.Login(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	parsed, err := svc.SessionFromToken(ctx, logged.Token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if parsed.Username != "alice" || parsed.UserID != logged.UserID {
		t.Fatalf("session mismatch: %+v", parsed)
	}

	rotated, err := svc.Refresh(ctx, logged.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == logged.RefreshToken {
		t.Fatal("refresh must rotate the refresh token")
	}
	if _, err := svc.Refresh(ctx, logged.RefreshToken); err == nil {
		t.Fatal("old refresh token must be revoked after rotation")
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sess := mustRegister(t, svc, "bob")
	parsed, err := svc.SessionFromToken(ctx, sess.Token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if err := svc.Logout(ctx, parsed, sess.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, sess.Token); err == nil {
		t.Fatal("access token must be rejected after logout")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)
	mustRegister(t, svc, "carol")
	if _, err := svc.Login(context.Background(), "carol", "wrong-password"); err == nil {
		t.Fatal("wrong password must fail")
	}
}

func TestCreateDocumentCreatesRootVersion(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()
	sess := mustRegister(t, svc, "alice")

	doc, root, err := svc.CreateDocument(ctx, sess, "Handbook", "v1 text")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if root.Name != "1" {
		t.Fatalf("root version name = %q, want 1", root.Name)
	}
	if root.DocumentID != doc.ID {
		t.Fatalf("root version document = %q, want %q", root.DocumentID, doc.ID)
	}

	members, err := svc.Members(ctx, doc.ID, root.ID)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 1 || members[0].UserID != sess.UserID || members[0].Roles[0] != "owner" {
		t.Fatalf("creator must own the root version, got %+v", members)
	}
	if len(fake.documents) != 1 {
		t.Fatalf("expected one stored document, got %d", len(fake.documents))
	}
}

func TestCreateDocumentRequiresName(t *testing.T) {
	svc, _ := newTestService(t)
	sess := mustRegister(t, svc, "alice")
	if _, _, err := svc.CreateDocument(context.Background(), sess, "   ", ""); err == nil {
		t.Fatal("blank document name must fail")
	}
}

func TestRenameDocument(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := mustRegister(t, svc, "alice")

	doc, _, err := svc.CreateDocument(ctx, sess, "Handbook", "")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	renamed, err := svc.RenameDocument(ctx, doc.ID, "Employee Handbook")
	if err != nil {
		t.Fatalf("RenameDocument: %v", err)
	}
	if renamed.Name != "Employee Handbook" {
		t.Fatalf("renamed name = %q", renamed.Name)
	}
	if _, err := svc.RenameDocument(ctx, "missing", "x"); err == nil {
		t.Fatal("renaming a missing document must fail")
	}
}
