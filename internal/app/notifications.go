package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"docvers/api/internal/store"
	"docvers/api/internal/util"
)

// Notification is a change event projected into its display message.
type Notification struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	VersionID  string    `json:"versionId"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	Seen       bool      `json:"seen"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ListNotifications projects the user's change events. Unseen events sort
// first. A stored event that projects to no single message is corrupt data
// and fails the listing.
func (s *Service) ListNotifications(ctx context.Context, sess Session) ([]Notification, error) {
	events, err := s.store.ListEvents(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}

	notifications := make([]Notification, 0, len(events))
	for _, event := range events {
		message, err := projectEvent(event)
		if err != nil {
			return nil, domainError(http.StatusInternalServerError, "EVENT_MALFORMED", err.Error(),
				map[string]any{"event": event.ID})
		}
		notifications = append(notifications, Notification{
			ID:         event.ID,
			DocumentID: event.DocumentID,
			VersionID:  event.VersionID,
			Kind:       event.Kind,
			Message:    message,
			Seen:       event.Seen,
			CreatedAt:  event.CreatedAt,
		})
	}
	return notifications, nil
}

// MarkNotificationSeen acknowledges one of the caller's own notifications.
func (s *Service) MarkNotificationSeen(ctx context.Context, sess Session, eventID string) error {
	if err := s.store.MarkEventSeen(ctx, eventID, sess.UserID); err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Notification not found", nil)
		}
		return err
	}
	return nil
}

// ---- comments ----

func (s *Service) ListComments(ctx context.Context, documentID, versionID string) ([]store.Comment, error) {
	if _, err := s.GetVersion(ctx, documentID, versionID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, documentID, versionID)
}

func (s *Service) AddComment(ctx context.Context, sess Session, documentID, versionID, body string) (store.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "comment body is required", nil)
	}
	if _, err := s.GetVersion(ctx, documentID, versionID); err != nil {
		return store.Comment{}, err
	}

	comment := store.Comment{
		ID:         util.NewID("cmt"),
		DocumentID: documentID,
		VersionID:  versionID,
		AuthorID:   sess.UserID,
		AuthorName: sess.Username,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, err
	}
	return comment, nil
}
