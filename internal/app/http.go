package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"coursetalk/api/internal/auth"
	"coursetalk/api/internal/comments"
	"coursetalk/api/internal/store"
	"coursetalk/api/internal/uploads"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        logrus.FieldLogger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		log:        service.log.WithField("component", "http"),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		ready, checks := s.service.Readiness(ctx)
		if !ready {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		viewer, ok := s.optionalViewer(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": viewer.IsAuthenticated(),
			"viewer":        viewer,
		})
		return
	}

	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/api"))
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch parts[0] {
	case "comments":
		s.routeComments(w, r, parts)
		return
	case "uploads":
		s.routeUploads(w, r, parts)
		return
	case "descriptions":
		s.routeDescriptions(w, r, parts)
		return
	case "admin":
		if s.routeAdmin(w, r, parts) {
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) routeComments(w http.ResponseWriter, r *http.Request, parts []string) {
	// /api/comments
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			viewer, ok := s.optionalViewer(w, r)
			if !ok {
				return
			}
			query := r.URL.Query()
			payload, err := s.service.ListComments(r.Context(), viewer, comments.TargetQuery{
				TargetType: query.Get("targetType"),
				TargetID:   query.Get("targetId"),
				SectionID:  query.Get("sectionId"),
				TeacherID:  query.Get("teacherId"),
			})
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			viewer, ok := s.requireViewer(w, r)
			if !ok {
				return
			}
			var body CreateCommentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateComment(r.Context(), viewer, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	commentID := parts[1]

	// /api/comments/{id}
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			viewer, ok := s.optionalViewer(w, r)
			if !ok {
				return
			}
			payload, err := s.service.GetThread(r.Context(), viewer, commentID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPatch:
			viewer, ok := s.requireViewer(w, r)
			if !ok {
				return
			}
			var body EditCommentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.EditComment(r.Context(), viewer, commentID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			viewer, ok := s.requireViewer(w, r)
			if !ok {
				return
			}
			payload, err := s.service.DeleteComment(r.Context(), viewer, commentID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// /api/comments/{id}/reactions
	if len(parts) == 3 && parts[2] == "reactions" {
		viewer, ok := s.requireViewer(w, r)
		if !ok {
			return
		}
		switch r.Method {
		case http.MethodPost:
			var body struct {
				Type string `json:"type"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.ToggleReaction(r.Context(), viewer, commentID, body.Type)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			payload, err := s.service.RemoveReaction(r.Context(), viewer, commentID, r.URL.Query().Get("type"))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) routeUploads(w http.ResponseWriter, r *http.Request, parts []string) {
	viewer, ok := s.requireViewer(w, r)
	if !ok {
		return
	}

	// /api/uploads
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListUploads(r.Context(), viewer)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var body ReserveUploadInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.ReserveUpload(r.Context(), viewer, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// /api/uploads/complete
	if len(parts) == 2 && parts[1] == "complete" && r.Method == http.MethodPost {
		var body FinalizeUploadInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.FinalizeUpload(r.Context(), viewer, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	uploadID := parts[1]

	// /api/uploads/{id}
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodPatch:
			var body RenameUploadInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.RenameUpload(r.Context(), viewer, uploadID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			payload, err := s.service.DeleteUpload(r.Context(), viewer, uploadID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// /api/uploads/{id}/download
	if len(parts) == 3 && parts[2] == "download" && r.Method == http.MethodGet {
		url, err := s.service.UploadDownloadURL(r.Context(), viewer, uploadID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Location", url)
		w.WriteHeader(http.StatusFound)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) routeDescriptions(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	switch r.Method {
	case http.MethodGet:
		viewer, ok := s.optionalViewer(w, r)
		if !ok {
			return
		}
		query := r.URL.Query()
		payload, err := s.service.GetDescription(r.Context(), viewer, query.Get("targetType"), query.Get("targetId"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPost:
		viewer, ok := s.requireViewer(w, r)
		if !ok {
			return
		}
		var body UpsertDescriptionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpsertDescription(r.Context(), viewer, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// optionalViewer resolves the caller when a valid token is present and falls
// back to an anonymous viewer otherwise.
func (s *HTTPServer) optionalViewer(w http.ResponseWriter, r *http.Request) (comments.Viewer, bool) {
	token := bearerToken(r)
	if token == "" {
		return comments.Viewer{}, true
	}
	viewer, err := s.service.ViewerFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			return comments.Viewer{}, true
		}
		s.fail(w, r, err)
		return comments.Viewer{}, false
	}
	return viewer, true
}

func (s *HTTPServer) requireViewer(w http.ResponseWriter, r *http.Request) (comments.Viewer, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return comments.Viewer{}, false
	}
	viewer, err := s.service.ViewerFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return comments.Viewer{}, false
		}
		s.fail(w, r, err)
		return comments.Viewer{}, false
	}
	return viewer, true
}

// fail maps err to a response. Unexpected errors are logged and reported.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"request_id": requestIDFrom(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).Error("request failed")
		sentry.CaptureException(err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
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
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var quotaErr *uploads.QuotaError
	if errors.As(err, &quotaErr) {
		return http.StatusBadRequest, "QUOTA_EXCEEDED", "Quota exceeded", map[string]any{
			"usedBytes":      quotaErr.UsedBytes,
			"requestedBytes": quotaErr.RequestedBytes,
			"quotaBytes":     quotaErr.QuotaBytes,
		}
	}
	var sizeErr *uploads.SizeError
	if errors.As(err, &sizeErr) {
		return http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File too large", map[string]any{
			"size":             sizeErr.Size,
			"maxFileSizeBytes": sizeErr.MaxFileSizeBytes,
		}
	}
	var inputErr *uploads.InputError
	if errors.As(err, &inputErr) {
		return http.StatusBadRequest, "VALIDATION_ERROR", inputErr.Message, nil
	}

	switch {
	case errors.Is(err, uploads.ErrForbiddenKey):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, uploads.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Upload not found", nil
	case errors.Is(err, uploads.ErrUploadExpired):
		return http.StatusBadRequest, "UPLOAD_EXPIRED", "Upload session expired", nil
	case errors.Is(err, uploads.ErrUploadMissing):
		return http.StatusBadRequest, "UPLOAD_MISSING", "Uploaded file not found", nil
	case errors.Is(err, comments.ErrInvalidTransition):
		return http.StatusBadRequest, "INVALID_TRANSITION", "Invalid status transition", nil
	case errors.Is(err, comments.ErrCommentLocked):
		return http.StatusForbidden, "COMMENT_LOCKED", "Comment locked", nil
	case errors.Is(err, comments.ErrNotAuthor), errors.Is(err, comments.ErrNotAdmin):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, comments.ErrInvalidAttachments):
		return errInvalidAttachments.Status, errInvalidAttachments.Code, errInvalidAttachments.Message, nil
	case errors.Is(err, comments.ErrInvalidTarget), errors.Is(err, store.ErrUnsupportedTarget):
		return errInvalidTarget.Status, errInvalidTarget.Code, errInvalidTarget.Message, nil
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
