package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoRows is returned for lookups of missing records.
var ErrNoRows = sql.ErrNoRows

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Username, user.PasswordHash, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM users WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, created_at FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Username, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// ---- documents ----

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at, updated_at FROM documents ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at FROM documents WHERE id = $1
	`, id).Scan(&doc.ID, &doc.Name, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`, doc.ID, doc.Name, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocumentName(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET name = $2, updated_at = NOW() WHERE id = $1
	`, id, name)
	if err != nil {
		return fmt.Errorf("update document name: %w", err)
	}
	return requireRow(res)
}

// ---- versions ----

// Parent ids are aggregated as a JSON array so they scan through
// database/sql as raw bytes.
const versionColumns = `
	v.id, v.document_id, v.name, v.content, v.state, v.created_at, v.updated_at,
	COALESCE(JSON_AGG(p.parent_id ORDER BY p.parent_id) FILTER (WHERE p.parent_id IS NOT NULL), '[]')
`

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string) ([]DocumentVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions v
		LEFT JOIN version_parents p ON p.version_id = v.id
		WHERE v.document_id = $1
		GROUP BY v.id
		ORDER BY v.created_at
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []DocumentVersion
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	fillChildren(versions)
	return versions, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, documentID, versionID string) (DocumentVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions v
		LEFT JOIN version_parents p ON p.version_id = v.id
		WHERE v.document_id = $1 AND v.id = $2
		GROUP BY v.id
	`, documentID, versionID)
	return scanVersion(row)
}

// InsertVersion writes the version, its parent edges, and the owner's member
// row in one transaction.
func (s *PostgresStore) InsertVersion(ctx context.Context, version DocumentVersion, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert version: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_versions (id, document_id, name, content, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, version.ID, version.DocumentID, version.Name, version.Content, version.State, version.CreatedAt, version.UpdatedAt); err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	for _, parent := range version.Parents {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO version_parents (version_id, parent_id) VALUES ($1, $2)
		`, version.ID, parent); err != nil {
			return fmt.Errorf("insert version parent: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO version_members (version_id, user_id, role) VALUES ($1, $2, 'owner')
	`, version.ID, ownerID); err != nil {
		return fmt.Errorf("insert owner member: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) UpdateVersionContent(ctx context.Context, documentID, versionID, content string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE document_versions SET content = $3, updated_at = NOW()
		WHERE document_id = $1 AND id = $2
	`, documentID, versionID, content)
	if err != nil {
		return fmt.Errorf("update version content: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdateVersionState(ctx context.Context, documentID, versionID, state string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE document_versions SET state = $3, updated_at = NOW()
		WHERE document_id = $1 AND id = $2
	`, documentID, versionID, state)
	if err != nil {
		return fmt.Errorf("update version state: %w", err)
	}
	return requireRow(res)
}

// ---- members ----

func (s *PostgresStore) ListMembers(ctx context.Context, versionID string) ([]VersionMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.user_id, u.username, JSON_AGG(m.role ORDER BY m.role)
		FROM version_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.version_id = $1
		GROUP BY m.user_id, u.username
		ORDER BY u.username
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []VersionMember
	for rows.Next() {
		member := VersionMember{VersionID: versionID}
		var rolesRaw []byte
		if err := rows.Scan(&member.UserID, &member.Username, &rolesRaw); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		if err := json.Unmarshal(rolesRaw, &member.Roles); err != nil {
			return nil, fmt.Errorf("decode member roles: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// GrantRole is idempotent: re-granting a held role is a no-op.
func (s *PostgresStore) GrantRole(ctx context.Context, versionID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO version_members (version_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (version_id, user_id, role) DO NOTHING
	`, versionID, userID, role)
	if err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	return nil
}

// RevokeRole is idempotent: revoking an absent role is a no-op.
func (s *PostgresStore) RevokeRole(ctx context.Context, versionID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM version_members WHERE version_id = $1 AND user_id = $2 AND role = $3
	`, versionID, userID, role)
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	return nil
}

// ---- events ----

func (s *PostgresStore) InsertEvent(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, user_id, document_id, version_id, kind, role, state, seen, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.ID, event.UserID, event.DocumentID, event.VersionID, event.Kind,
		nullable(event.Role), nullable(event.State), event.Seen, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, userID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, document_id, version_id, kind, COALESCE(role, ''), COALESCE(state, ''), seen, created_at
		FROM events
		WHERE user_id = $1
		ORDER BY seen, created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		if err := rows.Scan(&event.ID, &event.UserID, &event.DocumentID, &event.VersionID,
			&event.Kind, &event.Role, &event.State, &event.Seen, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// MarkEventSeen flips the seen flag; only the target user may acknowledge.
func (s *PostgresStore) MarkEventSeen(ctx context.Context, eventID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET seen = TRUE WHERE id = $1 AND user_id = $2
	`, eventID, userID)
	if err != nil {
		return fmt.Errorf("mark event seen: %w", err)
	}
	return requireRow(res)
}

// ---- comments ----

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, document_id, version_id, author_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, comment.ID, comment.DocumentID, comment.VersionID, comment.AuthorID, comment.Body, comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, documentID, versionID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.version_id, c.author_id, u.username, c.body, c.created_at
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.document_id = $1 AND c.version_id = $2
		ORDER BY c.created_at
	`, documentID, versionID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []Comment
	for rows.Next() {
		var comment Comment
		if err := rows.Scan(&comment.ID, &comment.DocumentID, &comment.VersionID,
			&comment.AuthorID, &comment.AuthorName, &comment.Body, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}

// ---- attachments ----

func (s *PostgresStore) InsertAttachment(ctx context.Context, att Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, document_id, version_id, file_name, content_type, size, key, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, att.ID, att.DocumentID, att.VersionID, att.FileName, att.ContentType, att.Size, att.Key, att.UploadedBy, att.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, documentID, versionID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, version_id, file_name, content_type, size, key, uploaded_by, created_at
		FROM attachments
		WHERE document_id = $1 AND version_id = $2
		ORDER BY created_at
	`, documentID, versionID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var atts []Attachment
	for rows.Next() {
		var att Attachment
		if err := rows.Scan(&att.ID, &att.DocumentID, &att.VersionID, &att.FileName,
			&att.ContentType, &att.Size, &att.Key, &att.UploadedBy, &att.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		atts = append(atts, att)
	}
	return atts, rows.Err()
}

func (s *PostgresStore) GetAttachment(ctx context.Context, documentID, versionID, attachmentID string) (Attachment, error) {
	var att Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, version_id, file_name, content_type, size, key, uploaded_by, created_at
		FROM attachments
		WHERE document_id = $1 AND version_id = $2 AND id = $3
	`, documentID, versionID, attachmentID).Scan(&att.ID, &att.DocumentID, &att.VersionID,
		&att.FileName, &att.ContentType, &att.Size, &att.Key, &att.UploadedBy, &att.CreatedAt)
	if err != nil {
		return Attachment{}, err
	}
	return att, nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, documentID, versionID, attachmentID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM attachments WHERE document_id = $1 AND version_id = $2 AND id = $3
	`, documentID, versionID, attachmentID)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return requireRow(res)
}

// ---- document sets ----

func (s *PostgresStore) ListDocumentSets(ctx context.Context) ([]DocumentSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at, updated_at FROM document_sets ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list document sets: %w", err)
	}
	defer rows.Close()

	var sets []DocumentSet
	for rows.Next() {
		var set DocumentSet
		if err := rows.Scan(&set.ID, &set.Name, &set.CreatedAt, &set.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document set: %w", err)
		}
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

func (s *PostgresStore) GetDocumentSet(ctx context.Context, id string) (DocumentSet, error) {
	var set DocumentSet
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at FROM document_sets WHERE id = $1
	`, id).Scan(&set.ID, &set.Name, &set.CreatedAt, &set.UpdatedAt)
	if err != nil {
		return DocumentSet{}, err
	}
	return set, nil
}

func (s *PostgresStore) InsertDocumentSet(ctx context.Context, set DocumentSet) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_sets (id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`, set.ID, set.Name, set.CreatedAt, set.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document set: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSetVersions(ctx context.Context, setID string) ([]SetVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.set_id, v.name, v.state, v.created_at, v.updated_at,
			COALESCE(JSON_AGG(p.parent_id ORDER BY p.parent_id) FILTER (WHERE p.parent_id IS NOT NULL), '[]')
		FROM set_versions v
		LEFT JOIN set_version_parents p ON p.set_version_id = v.id
		WHERE v.set_id = $1
		GROUP BY v.id
		ORDER BY v.created_at
	`, setID)
	if err != nil {
		return nil, fmt.Errorf("list set versions: %w", err)
	}
	defer rows.Close()

	var versions []SetVersion
	for rows.Next() {
		var version SetVersion
		var parentsRaw []byte
		if err := rows.Scan(&version.ID, &version.SetID, &version.Name, &version.State,
			&version.CreatedAt, &version.UpdatedAt, &parentsRaw); err != nil {
			return nil, fmt.Errorf("scan set version: %w", err)
		}
		if err := json.Unmarshal(parentsRaw, &version.Parents); err != nil {
			return nil, fmt.Errorf("decode set version parents: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range versions {
		documents, err := s.listSetVersionDocuments(ctx, versions[i].ID)
		if err != nil {
			return nil, err
		}
		versions[i].Documents = documents
	}
	return versions, nil
}

func (s *PostgresStore) listSetVersionDocuments(ctx context.Context, setVersionID string) ([]SetVersionDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, version_id FROM set_version_documents
		WHERE set_version_id = $1
		ORDER BY document_id
	`, setVersionID)
	if err != nil {
		return nil, fmt.Errorf("list set version documents: %w", err)
	}
	defer rows.Close()

	var documents []SetVersionDocument
	for rows.Next() {
		var doc SetVersionDocument
		if err := rows.Scan(&doc.DocumentID, &doc.VersionID); err != nil {
			return nil, fmt.Errorf("scan set version document: %w", err)
		}
		documents = append(documents, doc)
	}
	return documents, rows.Err()
}

func (s *PostgresStore) InsertSetVersion(ctx context.Context, version SetVersion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert set version: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO set_versions (id, set_id, name, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, version.ID, version.SetID, version.Name, version.State, version.CreatedAt, version.UpdatedAt); err != nil {
		return fmt.Errorf("insert set version: %w", err)
	}

	for _, parent := range version.Parents {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO set_version_parents (set_version_id, parent_id) VALUES ($1, $2)
		`, version.ID, parent); err != nil {
			return fmt.Errorf("insert set version parent: %w", err)
		}
	}

	for _, doc := range version.Documents {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO set_version_documents (set_version_id, document_id, version_id)
			VALUES ($1, $2, $3)
		`, version.ID, doc.DocumentID, doc.VersionID); err != nil {
			return fmt.Errorf("insert set version document: %w", err)
		}
	}

	return tx.Commit()
}

// ReplaceSetVersionDocuments swaps the pinned document list of a set version.
func (s *PostgresStore) ReplaceSetVersionDocuments(ctx context.Context, setVersionID string, documents []SetVersionDocument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace set documents: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM set_version_documents WHERE set_version_id = $1
	`, setVersionID); err != nil {
		return fmt.Errorf("clear set version documents: %w", err)
	}
	for _, doc := range documents {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO set_version_documents (set_version_id, document_id, version_id)
			VALUES ($1, $2, $3)
		`, setVersionID, doc.DocumentID, doc.VersionID); err != nil {
			return fmt.Errorf("insert set version document: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE set_versions SET updated_at = NOW() WHERE id = $1
	`, setVersionID); err != nil {
		return fmt.Errorf("touch set version: %w", err)
	}

	return tx.Commit()
}

// ---- helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (DocumentVersion, error) {
	var version DocumentVersion
	var parentsRaw []byte
	err := row.Scan(&version.ID, &version.DocumentID, &version.Name, &version.Content,
		&version.State, &version.CreatedAt, &version.UpdatedAt, &parentsRaw)
	if err != nil {
		return DocumentVersion{}, err
	}
	if err := json.Unmarshal(parentsRaw, &version.Parents); err != nil {
		return DocumentVersion{}, fmt.Errorf("decode version parents: %w", err)
	}
	return version, nil
}

// fillChildren derives the child edge set as the inverse of the parent
// relation within one document's version list.
func fillChildren(versions []DocumentVersion) {
	index := make(map[string]int, len(versions))
	for i, version := range versions {
		index[version.ID] = i
	}
	for _, version := range versions {
		for _, parent := range version.Parents {
			if i, ok := index[parent]; ok {
				versions[i].Children = append(versions[i].Children, version.ID)
			}
		}
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsNotFound reports whether err is a missing-row error from any store call.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
