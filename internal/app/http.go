package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskshare/api/internal/auth"
	"taskshare/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
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
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/register" {
		s.handleRegister(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		s.handleLogin(w, r)
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
		accessToken, err := s.service.RefreshSession(r.Context(), body.RefreshToken)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": accessToken})
		return
	}

	ident, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		if err := s.service.Logout(r.Context(), ident); err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/profile" {
		profile, err := s.service.Profile(r.Context(), ident)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user":        userView(profile.User),
			"ownedLists":  profile.OwnedLists,
			"sharedLists": profile.SharedLists,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		offset := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
				return
			}
			offset = parsed
		}
		payload, err := s.service.SearchTasks(r.Context(), ident, q, limit, offset)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.URL.Path == "/api/lists" {
		switch r.Method {
		case http.MethodGet:
			lists, err := s.service.GetLists(r.Context(), ident)
			if err != nil {
				s.respondError(w, r, err)
				return
			}
			views := make([]map[string]any, 0, len(lists))
			for _, l := range lists {
				views = append(views, listView(l))
			}
			writeJSON(w, http.StatusOK, map[string]any{"lists": views})
			return
		case http.MethodPost:
			var body CreateListInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			list, err := s.service.CreateList(r.Context(), ident, body)
			if err != nil {
				s.respondError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"list": listView(list)})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "lists" {
		s.handleLists(w, r, ident, parts)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "tasks" {
		s.handleTasks(w, r, ident, parts)
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "comments" {
		s.handleComments(w, r, ident, parts[2])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Register(r.Context(), body.Name, body.Email, body.Password)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionView(session))
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

func (s *HTTPServer) handleLists(w http.ResponseWriter, r *http.Request, ident Identity, parts []string) {
	listID := parts[2]

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			list, shares, err := s.service.GetList(r.Context(), ident, listID)
			if err != nil {
				s.respondError(w, r, err)
				return
			}
			shareViews := make([]map[string]any, 0, len(shares))
			for _, sh := range shares {
				shareViews = append(shareViews, shareView(sh))
			}
			writeJSON(w, http.StatusOK, map[string]any{"list": listView(list), "shares": shareViews})
			return
		case http.MethodPut:
			var body UpdateListInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			list, err := s.service.UpdateList(r.Context(), ident, listID, body)
			if err != nil {
				s.respondError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"list": listView(list)})
			return
		case http.MethodDelete:
			if err := s.service.DeleteList(r.Context(), ident, listID); err != nil {
				s.respondError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && parts[3] == "share" && r.Method == http.MethodPost {
		var body ShareListInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		share, err := s.service.ShareList(r.Context(), ident, listID, body)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"share": shareView(share)})
		return
	}

	if len(parts) == 5 && parts[3] == "share" && r.Method == http.MethodDelete {
		if err := s.service.UnshareList(r.Context(), ident, listID, parts[4]); err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[3] == "tasks" {
		switch r.Method {
		case http.MethodGet:
			tasks, err := s.service.GetTasksByList(r.Context(), ident, listID)
			if err != nil {
				s.respondError(w, r, err)
				return
			}
			views := make([]map[string]any, 0, len(tasks))
			for _, t := range tasks {
				views = append(views, taskView(t))
			}
			writeJSON(w, http.StatusOK, map[string]any{"tasks": views})
			return
		case http.MethodPost:
			var body CreateTaskInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			task, err := s.service.CreateTask(r.Context(), ident, listID, body)
			if err != nil {
				s.respondError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"task": taskView(task)})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 5 && parts[3] == "tasks" && parts[4] == "reorder" && r.Method == http.MethodPut {
		var body struct {
			TaskIDs []string `json:"taskIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		tasks, err := s.service.ReorderTasks(r.Context(), ident, listID, body.TaskIDs)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		views := make([]map[string]any, 0, len(tasks))
		for _, t := range tasks {
			views = append(views, taskView(t))
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": views})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, ident Identity, parts []string) {
	taskID := parts[2]

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			task, err := s.service.GetTask(r.Context(), ident, taskID)
			if err != nil {
				s.respondError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"task": taskView(task)})
			return
		case http.MethodPut:
			var body UpdateTaskInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			task, err := s.service.UpdateTask(r.Context(), ident, taskID, body)
			if err != nil {
				s.respondError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"task": taskView(task)})
			return
		case http.MethodDelete:
			if err := s.service.DeleteTask(r.Context(), ident, taskID); err != nil {
				s.respondError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && parts[3] == "toggle" && r.Method == http.MethodPost {
		task, err := s.service.ToggleTask(r.Context(), ident, taskID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"task": taskView(task)})
		return
	}

	if len(parts) == 4 && parts[3] == "comments" {
		switch r.Method {
		case http.MethodGet:
			comments, err := s.service.GetCommentsByTask(r.Context(), ident, taskID)
			if err != nil {
				s.respondError(w, r, err)
				return
			}
			views := make([]map[string]any, 0, len(comments))
			for _, c := range comments {
				views = append(views, commentView(c))
			}
			writeJSON(w, http.StatusOK, map[string]any{"comments": views})
			return
		case http.MethodPost:
			var body struct {
				Content string `json:"content"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			comment, err := s.service.CreateComment(r.Context(), ident, taskID, body.Content)
			if err != nil {
				s.respondError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"comment": commentView(comment)})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, ident Identity, commentID string) {
	switch r.Method {
	case http.MethodPut:
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.service.UpdateComment(r.Context(), ident, commentID, body.Content)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comment": commentView(comment)})
		return
	case http.MethodDelete:
		if err := s.service.DeleteComment(r.Context(), ident, commentID); err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) requireIdentity(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Identity{}, false
	}
	ident, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Identity{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Identity{}, false
	}
	return ident, true
}

// respondError maps an error onto the wire and logs the internal
// reason when a DomainError carries one.
func (s *HTTPServer) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Reason != "" {
		log.Printf("denied %s %s: %s", r.Method, r.URL.Path, domainErr.Reason)
	}
	status, code, message, details := mapError(err)
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

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

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
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
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
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// View helpers shape store rows into API payloads.

func sessionView(session Session) map[string]any {
	return map[string]any{
		"user":         userView(session.User),
		"accessToken":  session.AccessToken,
		"refreshToken": session.RefreshToken,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func userView(u store.User) map[string]any {
	return map[string]any{
		"id":        u.ID,
		"name":      u.Name,
		"email":     u.Email,
		"createdAt": u.CreatedAt,
	}
}

func listView(l store.TaskList) map[string]any {
	return map[string]any{
		"id":          l.ID,
		"title":       l.Title,
		"description": l.Description,
		"color":       l.Color,
		"isArchived":  l.IsArchived,
		"ownerId":     l.OwnerID,
		"ownerName":   l.OwnerName,
		"ownerEmail":  l.OwnerEmail,
		"taskCount":   l.TaskCount,
		"shareCount":  l.ShareCount,
		"permission":  l.Permission,
		"createdAt":   l.CreatedAt,
		"updatedAt":   l.UpdatedAt,
	}
}

func shareView(sh store.ListShare) map[string]any {
	return map[string]any{
		"id":         sh.ID,
		"listId":     sh.ListID,
		"userId":     sh.UserID,
		"userName":   sh.UserName,
		"userEmail":  sh.UserEmail,
		"permission": sh.Permission,
		"createdAt":  sh.CreatedAt,
	}
}

func taskView(t store.Task) map[string]any {
	return map[string]any{
		"id":           t.ID,
		"listId":       t.ListID,
		"title":        t.Title,
		"description":  t.Description,
		"completed":    t.Completed,
		"priority":     t.Priority,
		"dueDate":      t.DueDate,
		"position":     t.Position,
		"commentCount": t.CommentCount,
		"createdAt":    t.CreatedAt,
		"updatedAt":    t.UpdatedAt,
	}
}

func commentView(c store.Comment) map[string]any {
	return map[string]any{
		"id":        c.ID,
		"taskId":    c.TaskID,
		"userId":    c.UserID,
		"userName":  c.UserName,
		"userEmail": c.UserEmail,
		"content":   c.Content,
		"createdAt": c.CreatedAt,
		"updatedAt": c.UpdatedAt,
	}
}
