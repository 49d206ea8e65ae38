// Package app wires the decision core (version graph, naming, workflow,
// membership reconciliation, notification projection) to storage and exposes
// it as an HTTP service.
package app

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docvers/api/internal/auth"
	"docvers/api/internal/authpw"
	"docvers/api/internal/email"
	"docvers/api/internal/metrics"
	"docvers/api/internal/search"
	"docvers/api/internal/session"
	"docvers/api/internal/store"
	"docvers/api/internal/util"

	"github.com/rs/zerolog"
)

// dataStore is the persistence surface the service needs. *store.PostgresStore
// implements it; tests substitute an in-memory fake.
type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(ctx context.Context, id string) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)

	ListDocuments(ctx context.Context) ([]store.Document, error)
	GetDocument(ctx context.Context, id string) (store.Document, error)
	InsertDocument(ctx context.Context, doc store.Document) error
	UpdateDocumentName(ctx context.Context, id, name string) error

	ListVersions(ctx context.Context, documentID string) ([]store.DocumentVersion, error)
	GetVersion(ctx context.Context, documentID, versionID string) (store.DocumentVersion, error)
	InsertVersion(ctx context.Context, version store.DocumentVersion, ownerID string) error
	UpdateVersionContent(ctx context.Context, documentID, versionID, content string) error
	UpdateVersionState(ctx context.Context, documentID, versionID, state string) error

	ListMembers(ctx context.Context, versionID string) ([]store.VersionMember, error)
	GrantRole(ctx context.Context, versionID, userID, role string) error
	RevokeRole(ctx context.Context, versionID, userID, role string) error

	InsertEvent(ctx context.Context, event store.Event) error
	ListEvents(ctx context.Context, userID string) ([]store.Event, error)
	MarkEventSeen(ctx context.Context, eventID, userID string) error

	InsertComment(ctx context.Context, comment store.Comment) error
	ListComments(ctx context.Context, documentID, versionID string) ([]store.Comment, error)

	InsertAttachment(ctx context.Context, att store.Attachment) error
	ListAttachments(ctx context.Context, documentID, versionID string) ([]store.Attachment, error)
	GetAttachment(ctx context.Context, documentID, versionID, attachmentID string) (store.Attachment, error)
	DeleteAttachment(ctx context.Context, documentID, versionID, attachmentID string) error

	ListDocumentSets(ctx context.Context) ([]store.DocumentSet, error)
	GetDocumentSet(ctx context.Context, id string) (store.DocumentSet, error)
	InsertDocumentSet(ctx context.Context, set store.DocumentSet) error
	ListSetVersions(ctx context.Context, setID string) ([]store.SetVersion, error)
	InsertSetVersion(ctx context.Context, version store.SetVersion) error
	ReplaceSetVersionDocuments(ctx context.Context, setVersionID string, documents []store.SetVersionDocument) error
}

// sessionStore is the refresh-session and token-denylist surface backed by
// Redis in production.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID, username string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// blobStore is the attachment byte store backed by MinIO in production.
type blobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type Service struct {
	store      dataStore
	sessions   sessionStore
	passwords  *authpw.Service
	search     *search.Service
	blobs      blobStore
	mail       *email.Service
	metrics    *metrics.Metrics
	log        zerolog.Logger
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// ServiceOptions carries the dependencies of a Service. Search, Blobs and
// Mail are optional; the matching endpoints degrade when they are nil.
type ServiceOptions struct {
	Store      dataStore
	Sessions   sessionStore
	Passwords  *authpw.Service
	Search     *search.Service
	Blobs      blobStore
	Mail       *email.Service
	Metrics    *metrics.Metrics
	Log        zerolog.Logger
	JWTSecret  []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func NewService(opts ServiceOptions) *Service {
	return &Service{
		store:      opts.Store,
		sessions:   opts.Sessions,
		passwords:  opts.Passwords,
		search:     opts.Search,
		blobs:      opts.Blobs,
		mail:       opts.Mail,
		metrics:    opts.Metrics,
		log:        opts.Log,
		jwtSecret:  opts.JWTSecret,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---- sessions ----

// Session is an authenticated caller. Token and RefreshToken are only set on
// the flows that mint them.
type Session struct {
	UserID       string
	Username     string
	TokenID      string
	Token        string
	RefreshToken string
	ExpiresAt    time.Time
}

// Register creates a user and signs them in.
func (s *Service) Register(ctx context.Context, username, password string) (Session, error) {
	user, err := s.passwords.Register(ctx, username, password)
	if err != nil {
		if errors.Is(err, authpw.ErrUsernameTaken) {
			return Session{}, domainError(http.StatusConflict, "USERNAME_TAKEN", "Username already registered", nil)
		}
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return s.issueSession(ctx, user)
}

// Login verifies credentials and mints a token pair.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.passwords.Login(ctx, username, password)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil)
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the old session is revoked and a fresh
// token pair is issued for the same user.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	hash := hashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, fmt.Errorf("rotate refresh session: %w", err)
	}

	user, err := s.store.GetUserByID(ctx, data.UserID)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	return s.issueSession(ctx, user)
}

// Logout revokes the refresh session and denylists the access token.
func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, hashToken(refreshToken)); err != nil {
			return err
		}
	}
	if sess.TokenID != "" {
		if err := s.sessions.RevokeAccessToken(ctx, sess.TokenID, sess.ExpiresAt); err != nil {
			return err
		}
	}
	return nil
}

// SessionFromToken validates a bearer token against signature, expiry and the
// revocation denylist.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken(s.jwtSecret, token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return Session{
		UserID:    claims.Subject,
		Username:  claims.Username,
		TokenID:   claims.ID,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("")
	token, err := auth.IssueToken(s.jwtSecret, user.ID, user.Username, jti, s.accessTTL)
	if err != nil {
		return Session{}, err
	}

	refreshToken, err := newRefreshToken()
	if err != nil {
		return Session{}, err
	}
	refreshExpiry := time.Now().Add(s.refreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, hashToken(refreshToken), user.ID, user.Username, refreshExpiry); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		UserID:       user.ID,
		Username:     user.Username,
		TokenID:      jti,
		Token:        token,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(s.accessTTL),
	}, nil
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Refresh tokens are stored hashed so a Redis dump does not leak usable
// credentials.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ---- users ----

func (s *Service) ListUsers(ctx context.Context) ([]store.User, error) {
	return s.store.ListUsers(ctx)
}

// ---- documents ----

func (s *Service) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return s.store.ListDocuments(ctx)
}

func (s *Service) GetDocument(ctx context.Context, id string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Document{}, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
		}
		return store.Document{}, err
	}
	return doc, nil
}

// CreateDocument creates a document together with its root version "1". The
// creator becomes the root version's owner.
func (s *Service) CreateDocument(ctx context.Context, sess Session, name, content string) (store.Document, store.DocumentVersion, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Document{}, store.DocumentVersion{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	now := time.Now().UTC()
	doc := store.Document{
		ID:        util.NewID("doc"),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return store.Document{}, store.DocumentVersion{}, err
	}

	root, err := s.insertVersion(ctx, sess, doc.ID, "1", content, nil)
	if err != nil {
		return store.Document{}, store.DocumentVersion{}, err
	}

	if s.search != nil {
		s.search.IndexDocument(search.DocumentRecord{ID: doc.ID, Name: doc.Name, Content: content})
	}
	return doc, root, nil
}

func (s *Service) RenameDocument(ctx context.Context, id, name string) (store.Document, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Document{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if err := s.store.UpdateDocumentName(ctx, id, name); err != nil {
		if store.IsNotFound(err) {
			return store.Document{}, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
		}
		return store.Document{}, err
	}
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return store.Document{}, err
	}
	s.reindexDocument(ctx, doc)
	return doc, nil
}

// SearchDocuments answers a full-text query, falling back to Postgres when
// the search backend is down or not configured.
func (s *Service) SearchDocuments(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

// reindexDocument pushes the document's latest content into the search index.
func (s *Service) reindexDocument(ctx context.Context, doc store.Document) {
	if s.search == nil {
		return
	}
	versions, err := s.store.ListVersions(ctx, doc.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("document", doc.ID).Msg("reindex: list versions")
		return
	}
	content := ""
	var latest time.Time
	for _, v := range versions {
		if v.UpdatedAt.After(latest) {
			latest = v.UpdatedAt
			content = v.Content
		}
	}
	s.search.IndexDocument(search.DocumentRecord{ID: doc.ID, Name: doc.Name, Content: content})
}
