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

	"github.com/hitusss/cs-grenade-sub000/internal/auth"
	"github.com/hitusss/cs-grenade-sub000/internal/rbac"
	"github.com/hitusss/cs-grenade-sub000/internal/search"
	"github.com/hitusss/cs-grenade-sub000/internal/store"
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

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     session.Token,
			"userName":  session.UserName,
			"userId":    session.UserID,
			"role":      session.Role,
			"expiresAt": session.ExpiresAt.Unix(),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "role": session.Role})
		return
	}

	// Image bytes are rendered in-page, so they are fetchable without a
	// session. Keys are unguessable.
	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/images/") {
		imageID := strings.TrimPrefix(r.URL.Path, "/images/")
		if imageID != "" && !strings.Contains(imageID, "/") {
			s.handleImage(w, r, imageID)
			return
		}
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	actor := Actor{UserID: session.UserID, Role: rbac.Normalize(session.Role)}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/notifications" {
		limit := 50
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be a positive integer", nil)
				return
			}
			limit = parsed
		}
		items, err := s.service.ListNotifications(r.Context(), session.UserID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not load notifications", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/destinations" {
		var body DestinationSubmission
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		d, err := s.service.CreateDestination(r.Context(), actor, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"destination": destinationPayload(d)})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/grenades" {
		var body GrenadeSubmission
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		g, err := s.service.CreateGrenade(r.Context(), actor, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"grenade": grenadePayload(g)})
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 5 && parts[0] == "api" && parts[1] == "admin" && parts[2] == "users" && parts[4] == "role" && r.Method == http.MethodPost {
		var body struct {
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SetUserRole(r.Context(), actor, parts[3], body.Role); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "destinations" {
		s.handleEntity(w, r, session, actor, store.KindDestination, parts)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "grenades" {
		s.handleEntity(w, r, session, actor, store.KindGrenade, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleEntity(w http.ResponseWriter, r *http.Request, session Session, actor Actor, kind store.EntityKind, parts []string) {
	entityID := parts[2]
	entity := rbac.EntityDestination
	if kind == store.KindGrenade {
		entity = rbac.EntityGrenade
	}

	if len(parts) == 3 && r.Method == http.MethodGet {
		if !rbac.Can(actor.Role, rbac.ActionRead, entity, rbac.ScopeAny) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		s.handleGetEntity(w, r, kind, entityID)
		return
	}

	if len(parts) == 4 && parts[3] == "edit" && r.Method == http.MethodPost {
		s.handleEdit(w, r, actor, kind, entityID)
		return
	}

	if len(parts) == 4 && parts[3] == "review" && r.Method == http.MethodGet {
		if !rbac.Can(actor.Role, rbac.ActionReview, entity, rbac.ScopeAny) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		view, err := s.service.GetReview(r.Context(), kind, entityID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if len(parts) == 5 && parts[3] == "review" && r.Method == http.MethodPost {
		switch parts[4] {
		case "accept":
			if !rbac.Can(actor.Role, rbac.ActionReview, entity, rbac.ScopeAny) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			outcome, err := s.service.AcceptChange(r.Context(), kind, entityID)
			writeReviewOutcome(w, outcome, err)
			return
		case "reject":
			if !rbac.Can(actor.Role, rbac.ActionReview, entity, rbac.ScopeAny) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			outcome, err := s.service.RejectChange(r.Context(), kind, entityID)
			writeReviewOutcome(w, outcome, err)
			return
		case "cancel":
			outcome, err := s.service.CancelChange(r.Context(), actor, kind, entityID)
			writeReviewOutcome(w, outcome, err)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleGetEntity(w http.ResponseWriter, r *http.Request, kind store.EntityKind, entityID string) {
	if kind == store.KindDestination {
		d, err := s.service.GetDestination(r.Context(), entityID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"destination": destinationPayload(d)})
		return
	}
	g, err := s.service.GetGrenade(r.Context(), entityID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"grenade": grenadePayload(g)})
}

func (s *HTTPServer) handleEdit(w http.ResponseWriter, r *http.Request, actor Actor, kind store.EntityKind, entityID string) {
	var result RouteResult
	var err error
	if kind == store.KindDestination {
		var body DestinationSubmission
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		result, err = s.service.RouteDestinationEdit(r.Context(), actor, entityID, body)
	} else {
		var body GrenadeSubmission
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		result, err = s.service.RouteGrenadeEdit(r.Context(), actor, entityID, body)
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := search.Query{
		Text:         strings.TrimSpace(r.URL.Query().Get("q")),
		FilterType:   search.ResultType(strings.TrimSpace(r.URL.Query().Get("type"))),
		VerifiedOnly: r.URL.Query().Get("verified") == "true",
		Limit:        20,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		q.Limit = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		q.Offset = parsed
	}
	writeJSON(w, http.StatusOK, s.service.Search(q))
}

func (s *HTTPServer) handleImage(w http.ResponseWriter, r *http.Request, imageID string) {
	data, contentType, err := s.service.GetImage(r.Context(), imageID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeReviewOutcome(w http.ResponseWriter, outcome ReviewOutcome, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome})
}

func destinationPayload(d store.Destination) map[string]any {
	return map[string]any{
		"id":       d.ID,
		"name":     d.Name,
		"x":        d.X,
		"y":        d.Y,
		"ownerId":  d.OwnerID,
		"verified": d.Verified,
	}
}

func grenadePayload(g store.Grenade) map[string]any {
	images := make([]map[string]any, 0, len(g.Images))
	for _, img := range g.Images {
		images = append(images, map[string]any{
			"id":          img.ID,
			"url":         "/images/" + img.ID,
			"contentType": img.ContentType,
			"description": img.Description,
			"order":       img.Order,
		})
	}
	return map[string]any{
		"id":          g.ID,
		"name":        g.Name,
		"x":           g.X,
		"y":           g.Y,
		"description": g.Description,
		"ownerId":     g.OwnerID,
		"verified":    g.Verified,
		"images":      images,
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
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
