package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docvers/api/internal/auth"
	"docvers/api/internal/metrics"
	"docvers/api/internal/rbac"
	"docvers/api/internal/search"
	"docvers/api/internal/store"
	"docvers/api/internal/util"
	"docvers/api/internal/workflow"

	"github.com/rs/zerolog"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, m *metrics.Metrics, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, metrics: m, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		metrics.Handler().ServeHTTP(w, r)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ok":     false,
				"checks": map[string]any{"database": err.Error()},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Auth routes, no session required.
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/register" {
		s.handleAuth(w, r, s.service.Register)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		s.handleAuth(w, r, s.service.Login)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sess, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(sess))
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		sess := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				sess = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), sess, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        sess.UserID,
			"username":      sess.Username,
		})
		return
	}

	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/users" {
		users, err := s.service.ListUsers(r.Context())
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(users))
		for _, user := range users {
			payload = append(payload, map[string]any{"id": user.ID, "username": user.Username})
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": payload})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := search.Query{Text: strings.TrimSpace(r.URL.Query().Get("q"))}
		var err error
		if q.Limit, err = queryInt(r, "limit", 20); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		if q.Offset, err = queryInt(r, "offset", 0); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, s.service.SearchDocuments(r.Context(), q))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/notifications" {
		notifications, err := s.service.ListNotifications(r.Context(), sess)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "notifications" && parts[3] == "seen" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if err := s.service.MarkNotificationSeen(r.Context(), sess, parts[2]); err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "documents" {
		s.handleDocuments(w, r, sess, parts)
		return
	}
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "sets" {
		s.handleSets(w, r, sess, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleAuth(w http.ResponseWriter, r *http.Request, flow func(context.Context, string, string) (Session, error)) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sess, err := flow(r.Context(), body.Username, body.Password)
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(sess))
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	// /api/documents
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			docs, err := s.service.ListDocuments(r.Context())
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			payload := make([]map[string]any, 0, len(docs))
			for _, doc := range docs {
				payload = append(payload, documentJSON(doc))
			}
			writeJSON(w, http.StatusOK, map[string]any{"documents": payload})
		case http.MethodPost:
			var body struct {
				Name    string `json:"name"`
				Content string `json:"content"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			doc, root, err := s.service.CreateDocument(r.Context(), sess, body.Name, body.Content)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"document":    documentJSON(doc),
				"rootVersion": versionJSON(root),
			})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	documentID := parts[2]

	// /api/documents/{id}
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			doc, err := s.service.GetDocument(r.Context(), documentID)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"document": documentJSON(doc)})
		case http.MethodPut:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			doc, err := s.service.RenameDocument(r.Context(), documentID, body.Name)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"document": documentJSON(doc)})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// /api/documents/{id}/versions
	if len(parts) == 4 && parts[3] == "versions" {
		switch r.Method {
		case http.MethodGet:
			versions, err := s.service.ListVersions(r.Context(), documentID)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			payload := make([]map[string]any, 0, len(versions))
			for _, v := range versions {
				payload = append(payload, versionJSON(v))
			}
			writeJSON(w, http.StatusOK, map[string]any{"versions": payload})
		case http.MethodPost:
			var body struct {
				Name    string   `json:"name"`
				Content string   `json:"content"`
				Parents []string `json:"parents"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			created, err := s.service.CreateVersion(r.Context(), sess, documentID, CreateVersionInput{
				Name:    body.Name,
				Content: body.Content,
				Parents: body.Parents,
			})
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"version": versionJSON(created)})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) < 5 || parts[3] != "versions" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	versionID := parts[4]

	// /api/documents/{id}/versions/{vid}
	if len(parts) == 5 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		v, err := s.service.GetVersion(r.Context(), documentID, versionID)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"version": versionJSON(v)})
		return
	}

	if len(parts) != 6 && !(len(parts) == 7 && parts[5] == "attachments") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[5] {
	case "names":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		candidates, err := s.service.VersionNameProposals(r.Context(), documentID, versionID)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})

	case "content":
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		v, err := s.service.UpdateVersionContent(r.Context(), sess, documentID, versionID, body.Content)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"version": versionJSON(v)})

	case "state":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			State string `json:"state"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		v, err := s.service.ChangeVersionState(r.Context(), sess, documentID, versionID, workflow.State(body.State))
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"version": versionJSON(v)})

	case "members":
		s.handleMembers(w, r, sess, documentID, versionID)

	case "comments":
		s.handleComments(w, r, sess, documentID, versionID)

	case "attachments":
		s.handleAttachments(w, r, sess, documentID, versionID, parts)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleMembers(w http.ResponseWriter, r *http.Request, sess Session, documentID, versionID string) {
	switch r.Method {
	case http.MethodGet:
		members, err := s.service.Members(r.Context(), documentID, versionID)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(members))
		for _, member := range members {
			payload = append(payload, map[string]any{
				"userId":   member.UserID,
				"username": member.Username,
				"roles":    member.Roles,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"members": payload})

	case http.MethodPut:
		var body struct {
			Roles map[string][]string `json:"roles"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		desired := make(rbac.Assignment, len(body.Roles))
		for role, users := range body.Roles {
			desired[rbac.Role(role)] = users
		}
		delta, err := s.service.UpdateMembers(r.Context(), sess, documentID, versionID, desired)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"added":   delta.Added,
			"removed": delta.Removed,
		})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, sess Session, documentID, versionID string) {
	switch r.Method {
	case http.MethodGet:
		comments, err := s.service.ListComments(r.Context(), documentID, versionID)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(comments))
		for _, comment := range comments {
			payload = append(payload, commentJSON(comment))
		}
		writeJSON(w, http.StatusOK, map[string]any{"comments": payload})

	case http.MethodPost:
		var body struct {
			Body string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.service.AddComment(r.Context(), sess, documentID, versionID, body.Body)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"comment": commentJSON(comment)})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleAttachments(w http.ResponseWriter, r *http.Request, sess Session, documentID, versionID string, parts []string) {
	// /api/documents/{id}/versions/{vid}/attachments
	if len(parts) == 6 {
		switch r.Method {
		case http.MethodGet:
			atts, err := s.service.ListAttachments(r.Context(), documentID, versionID)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			payload := make([]map[string]any, 0, len(atts))
			for _, att := range atts {
				payload = append(payload, attachmentJSON(att))
			}
			writeJSON(w, http.StatusOK, map[string]any{"attachments": payload})

		case http.MethodPost:
			file, header, err := r.FormFile("file")
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart field 'file' is required", nil)
				return
			}
			defer file.Close()
			att, err := s.service.UploadAttachment(r.Context(), sess, documentID, versionID,
				header.Filename, header.Header.Get("Content-Type"), header.Size, file)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"attachment": attachmentJSON(att)})

		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// /api/documents/{id}/versions/{vid}/attachments/{aid}
	attachmentID := parts[6]
	switch r.Method {
	case http.MethodGet:
		att, body, err := s.service.OpenAttachment(r.Context(), documentID, versionID, attachmentID)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		defer body.Close()
		w.Header().Set("Content-Type", att.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.FileName))
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, body)

	case http.MethodDelete:
		if err := s.service.DeleteAttachment(r.Context(), sess, documentID, versionID, attachmentID); err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleSets(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	// /api/sets
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			sets, err := s.service.ListDocumentSets(r.Context())
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			payload := make([]map[string]any, 0, len(sets))
			for _, set := range sets {
				payload = append(payload, setJSON(set))
			}
			writeJSON(w, http.StatusOK, map[string]any{"sets": payload})

		case http.MethodPost:
			var body struct {
				Name      string `json:"name"`
				Documents []struct {
					DocumentID string `json:"documentId"`
					VersionID  string `json:"versionId"`
				} `json:"documents"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			set, root, err := s.service.CreateDocumentSet(r.Context(), sess, body.Name, pinInputs(body.Documents))
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"set":         setJSON(set),
				"rootVersion": setVersionJSON(root),
			})

		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	setID := parts[2]

	// /api/sets/{id}
	if len(parts) == 3 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		set, err := s.service.GetDocumentSet(r.Context(), setID)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"set": setJSON(set)})
		return
	}

	// /api/sets/{id}/versions
	if len(parts) == 4 && parts[3] == "versions" {
		switch r.Method {
		case http.MethodGet:
			versions, err := s.service.ListSetVersions(r.Context(), setID)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			payload := make([]map[string]any, 0, len(versions))
			for _, v := range versions {
				payload = append(payload, setVersionJSON(v))
			}
			writeJSON(w, http.StatusOK, map[string]any{"versions": payload})

		case http.MethodPost:
			var body struct {
				Name      string   `json:"name"`
				Parents   []string `json:"parents"`
				Documents []struct {
					DocumentID string `json:"documentId"`
					VersionID  string `json:"versionId"`
				} `json:"documents"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			created, err := s.service.CreateSetVersion(r.Context(), sess, setID, CreateSetVersionInput{
				Name:      body.Name,
				Parents:   body.Parents,
				Documents: pinInputs(body.Documents),
			})
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"version": setVersionJSON(created)})

		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 6 && parts[3] == "versions" {
		setVersionID := parts[4]
		switch parts[5] {
		case "names":
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
				return
			}
			candidates, err := s.service.SetVersionNameProposals(r.Context(), setID, setVersionID)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
			return

		case "documents":
			if r.Method != http.MethodPut {
				writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
				return
			}
			var body struct {
				Documents []struct {
					DocumentID string `json:"documentId"`
					VersionID  string `json:"versionId"`
				} `json:"documents"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			updated, err := s.service.UpdateSetVersionDocuments(r.Context(), sess, setID, setVersionID, pinInputs(body.Documents))
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"version": setVersionJSON(updated)})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return sess, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("")
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		duration := time.Since(started)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, writer.status, duration)
		}
		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Dur("duration", duration).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) writeMapped(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// ---- payload shaping ----

func sessionJSON(sess Session) map[string]any {
	return map[string]any{
		"token":        sess.Token,
		"refreshToken": sess.RefreshToken,
		"userId":       sess.UserID,
		"username":     sess.Username,
		"expiresAt":    sess.ExpiresAt.Unix(),
	}
}

func documentJSON(doc store.Document) map[string]any {
	return map[string]any{
		"id":        doc.ID,
		"name":      doc.Name,
		"createdAt": doc.CreatedAt,
		"updatedAt": doc.UpdatedAt,
	}
}

func versionJSON(v store.DocumentVersion) map[string]any {
	return map[string]any{
		"id":         v.ID,
		"documentId": v.DocumentID,
		"name":       v.Name,
		"content":    v.Content,
		"state":      v.State,
		"stateLabel": workflow.State(v.State).Label(),
		"parents":    emptyIfNil(v.Parents),
		"children":   emptyIfNil(v.Children),
		"createdAt":  v.CreatedAt,
		"updatedAt":  v.UpdatedAt,
	}
}

func commentJSON(comment store.Comment) map[string]any {
	return map[string]any{
		"id":         comment.ID,
		"versionId":  comment.VersionID,
		"authorId":   comment.AuthorID,
		"authorName": comment.AuthorName,
		"body":       comment.Body,
		"createdAt":  comment.CreatedAt,
	}
}

func attachmentJSON(att store.Attachment) map[string]any {
	return map[string]any{
		"id":          att.ID,
		"fileName":    att.FileName,
		"contentType": att.ContentType,
		"size":        att.Size,
		"uploadedBy":  att.UploadedBy,
		"createdAt":   att.CreatedAt,
	}
}

func setJSON(set store.DocumentSet) map[string]any {
	return map[string]any{
		"id":        set.ID,
		"name":      set.Name,
		"createdAt": set.CreatedAt,
		"updatedAt": set.UpdatedAt,
	}
}

func setVersionJSON(v store.SetVersion) map[string]any {
	documents := make([]map[string]any, 0, len(v.Documents))
	for _, pin := range v.Documents {
		documents = append(documents, map[string]any{
			"documentId": pin.DocumentID,
			"versionId":  pin.VersionID,
		})
	}
	return map[string]any{
		"id":         v.ID,
		"setId":      v.SetID,
		"name":       v.Name,
		"state":      v.State,
		"stateLabel": workflow.State(v.State).Label(),
		"parents":    emptyIfNil(v.Parents),
		"documents":  documents,
		"createdAt":  v.CreatedAt,
		"updatedAt":  v.UpdatedAt,
	}
}

func pinInputs(pins []struct {
	DocumentID string `json:"documentId"`
	VersionID  string `json:"versionId"`
}) []store.SetVersionDocument {
	documents := make([]store.SetVersionDocument, 0, len(pins))
	for _, pin := range pins {
		documents = append(documents, store.SetVersionDocument{
			DocumentID: pin.DocumentID,
			VersionID:  pin.VersionID,
		})
	}
	return documents
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// ---- plumbing ----

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return parsed, nil
}
