package app

import (
	"fmt"
	"net/http"
)

// routeAdmin serves /api/admin/*. It reports false for unknown paths.
func (s *HTTPServer) routeAdmin(w http.ResponseWriter, r *http.Request, parts []string) bool {
	// /api/admin/comments → ["admin", "comments"]
	if len(parts) == 2 && parts[1] == "comments" && r.Method == http.MethodGet {
		viewer, ok := s.requireViewer(w, r)
		if !ok {
			return true
		}
		query := r.URL.Query()
		payload, err := s.service.ListModerationQueue(r.Context(), viewer, query.Get("status"), query.Get("limit"))
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, payload)
		return true
	}

	// /api/admin/comments/{id}
	if len(parts) == 3 && parts[1] == "comments" && r.Method == http.MethodPatch {
		viewer, ok := s.requireViewer(w, r)
		if !ok {
			return true
		}
		var body ModerateCommentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		payload, err := s.service.ModerateComment(r.Context(), viewer, parts[2], body)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, payload)
		return true
	}

	// /api/admin/suspensions
	if len(parts) == 2 && parts[1] == "suspensions" {
		viewer, ok := s.requireViewer(w, r)
		if !ok {
			return true
		}
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListSuspensions(r.Context(), viewer)
			if err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var body CreateSuspensionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			payload, err := s.service.CreateSuspension(r.Context(), viewer, body)
			if err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return true
	}

	// /api/admin/suspensions/{id}
	if len(parts) == 3 && parts[1] == "suspensions" && r.Method == http.MethodPatch {
		viewer, ok := s.requireViewer(w, r)
		if !ok {
			return true
		}
		payload, err := s.service.LiftSuspension(r.Context(), viewer, parts[2])
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, payload)
		return true
	}

	return false
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid int: empty")
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid int: %s", s)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
