package app

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"docvers/api/internal/blob"
	"docvers/api/internal/store"
	"docvers/api/internal/util"
)

const maxAttachmentSize = 64 << 20

// UploadAttachment stores the attachment bytes in the blob store and its
// metadata in Postgres. Requires a configured blob backend.
func (s *Service) UploadAttachment(ctx context.Context, sess Session, documentID, versionID, fileName, contentType string, size int64, r io.Reader) (store.Attachment, error) {
	if s.blobs == nil {
		return store.Attachment{}, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_DISABLED",
			"attachment storage is not configured", nil)
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return store.Attachment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file name is required", nil)
	}
	if size <= 0 || size > maxAttachmentSize {
		return store.Attachment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"attachment size must be positive and at most 64 MiB", nil)
	}
	if _, err := s.GetVersion(ctx, documentID, versionID); err != nil {
		return store.Attachment{}, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	att := store.Attachment{
		ID:          util.NewID("att"),
		DocumentID:  documentID,
		VersionID:   versionID,
		FileName:    fileName,
		ContentType: contentType,
		Size:        size,
		UploadedBy:  sess.UserID,
		CreatedAt:   time.Now().UTC(),
	}
	att.Key = blob.Key(documentID, versionID, att.ID)

	if err := s.blobs.Put(ctx, att.Key, r, size, contentType); err != nil {
		return store.Attachment{}, err
	}
	if err := s.store.InsertAttachment(ctx, att); err != nil {
		// Metadata failed after the bytes landed; remove the orphan object.
		_ = s.blobs.Delete(ctx, att.Key)
		return store.Attachment{}, err
	}
	return att, nil
}

func (s *Service) ListAttachments(ctx context.Context, documentID, versionID string) ([]store.Attachment, error) {
	if _, err := s.GetVersion(ctx, documentID, versionID); err != nil {
		return nil, err
	}
	return s.store.ListAttachments(ctx, documentID, versionID)
}

// OpenAttachment returns the attachment metadata and an open reader over its
// bytes. The caller closes the reader.
func (s *Service) OpenAttachment(ctx context.Context, documentID, versionID, attachmentID string) (store.Attachment, io.ReadCloser, error) {
	if s.blobs == nil {
		return store.Attachment{}, nil, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_DISABLED",
			"attachment storage is not configured", nil)
	}
	att, err := s.store.GetAttachment(ctx, documentID, versionID, attachmentID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Attachment{}, nil, domainError(http.StatusNotFound, "NOT_FOUND", "Attachment not found", nil)
		}
		return store.Attachment{}, nil, err
	}
	body, err := s.blobs.Get(ctx, att.Key)
	if err != nil {
		return store.Attachment{}, nil, err
	}
	return att, body, nil
}

// DeleteAttachment removes metadata first so a dangling object is the worst
// failure mode, never a dangling database row.
func (s *Service) DeleteAttachment(ctx context.Context, sess Session, documentID, versionID, attachmentID string) error {
	if s.blobs == nil {
		return domainError(http.StatusServiceUnavailable, "ATTACHMENTS_DISABLED",
			"attachment storage is not configured", nil)
	}
	att, err := s.store.GetAttachment(ctx, documentID, versionID, attachmentID)
	if err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Attachment not found", nil)
		}
		return err
	}
	if err := s.store.DeleteAttachment(ctx, documentID, versionID, attachmentID); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, att.Key); err != nil {
		s.log.Warn().Err(err).Str("key", att.Key).Msg("delete attachment object")
	}
	return nil
}
