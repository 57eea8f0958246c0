package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"modeld/internal/access"
	"modeld/internal/app"
	"modeld/internal/auth"
	"modeld/internal/store"
	"modeld/internal/util"
	"modeld/pkg/domain"
)

// Limiter throttles requests per key. Credential endpoints use it keyed by
// client IP; a nil limiter disables throttling.
type Limiter interface {
	Allow(key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App               *app.App
	AllowRoleOverride bool
	LoginLimiter      Limiter
}

// Server exposes HTTP endpoints for the schema and record API.
type Server struct {
	app               *app.App
	mux               *http.ServeMux
	allowRoleOverride bool
	loginLimiter      Limiter
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:               cfg.App,
		mux:               http.NewServeMux(),
		allowRoleOverride: cfg.AllowRoleOverride,
		loginLimiter:      cfg.LoginLimiter,
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/me", s.authenticated(s.handleMe))

	// models & records (session required; role guards run in the app layer)
	s.mux.Handle("/api/models", s.authenticated(s.handleModels))
	s.mux.Handle("/api/models/", s.authenticated(s.handleModelSubtree))

	// role assignments
	s.mux.Handle("/api/access/roles", s.authenticated(s.handleRoles))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// session guard wrapper
type authHandler func(http.ResponseWriter, *http.Request, domain.Identity)

// authenticated resolves the bearer token to an identity before invoking the
// handler. When the deployment allows it, an X-Role-Override header is parsed
// here and injected into the request context so the role resolver sees it as
// an explicit value rather than ambient state.
func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "authorize", "fail", "reason", "missing_token")
			writeDenied(w, access.Decision{Reason: access.ReasonNoSession, Redirect: access.FallbackSignIn})
			return
		}
		identity, found, err := s.app.IdentityByToken(token)
		if err != nil || !found {
			s.audit(r, "authorize", "fail", "reason", "invalid_token")
			writeDenied(w, access.Decision{Reason: access.ReasonNoSession, Redirect: access.FallbackSignIn})
			return
		}
		if s.allowRoleOverride {
			if raw := strings.TrimSpace(r.Header.Get("X-Role-Override")); raw != "" {
				if role, ok := domain.ParseRole(raw); ok {
					r = r.WithContext(access.WithOverride(r.Context(), role))
					s.audit(r, "role.override", "applied", "identity_id", identity.ID, "role", string(role))
				}
			}
		}
		s.audit(r, "authorize", "success", "identity_id", identity.ID)
		next(w, r, identity)
	})
}

// auth handlers

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.withinQuota(w, r) {
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	identity, token, err := s.app.SignUp(req.Email, req.Password)
	if err != nil {
		s.audit(r, "signup", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "signup", "success", "identity_id", identity.ID)
	writeJSON(w, http.StatusCreated, sessionResponse{Token: token, Identity: identity})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.withinQuota(w, r) {
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	identity, token, err := s.app.LogIn(req.Email, req.Password)
	if err != nil {
		s.audit(r, "login", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "login", "success", "identity_id", identity.ID)
	writeJSON(w, http.StatusOK, sessionResponse{Token: token, Identity: identity})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeDenied(w, access.Decision{Reason: access.ReasonNoSession, Redirect: access.FallbackSignIn})
		return
	}
	if err := s.app.LogOut(token); err != nil {
		s.audit(r, "logout", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	decision := s.app.ResolveAccess(r.Context(), &identity, access.OpViewModels)
	writeJSON(w, http.StatusOK, meResponse{Identity: identity, Role: decision.Role})
}

// /api/models
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	switch r.Method {
	case http.MethodGet:
		models, err := s.app.ListModels(r.Context(), &identity)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": models, "count": len(models)})
	case http.MethodPost:
		var input app.ModelInput
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		model, err := s.app.CreateModel(r.Context(), &identity, input)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "model.create", "success", "identity_id", identity.ID, "model_id", model.ID)
		writeJSON(w, http.StatusCreated, model)
	default:
		methodNotAllowed(w)
	}
}

// /api/models/{id}, /api/models/{id}/validate,
// /api/models/{id}/records, /api/models/{id}/records/{rid}
func (s *Server) handleModelSubtree(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	path := strings.TrimPrefix(r.URL.Path, "/api/models/")
	parts := strings.Split(path, "/")
	if parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	modelID := parts[0]
	switch {
	case len(parts) == 1:
		s.handleModelByID(w, r, identity, modelID)
	case len(parts) == 2 && parts[1] == "validate":
		s.handleValidate(w, r, identity, modelID)
	case len(parts) == 2 && parts[1] == "records":
		s.handleRecords(w, r, identity, modelID)
	case len(parts) == 3 && parts[1] == "records" && parts[2] != "":
		s.handleRecordByID(w, r, identity, modelID, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleModelByID(w http.ResponseWriter, r *http.Request, identity domain.Identity, modelID string) {
	switch r.Method {
	case http.MethodGet:
		model, err := s.app.GetModel(r.Context(), &identity, modelID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, model)
	case http.MethodPut:
		var input app.ModelInput
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		model, err := s.app.UpdateModel(r.Context(), &identity, modelID, input)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "model.update", "success", "identity_id", identity.ID, "model_id", modelID)
		writeJSON(w, http.StatusOK, model)
	case http.MethodDelete:
		if err := s.app.DeleteModel(r.Context(), &identity, modelID); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "model.delete", "success", "identity_id", identity.ID, "model_id", modelID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request, identity domain.Identity, modelID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}
	record, err := s.app.ValidateRecord(r.Context(), &identity, modelID, payload)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "record": record})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request, identity domain.Identity, modelID string) {
	switch r.Method {
	case http.MethodGet:
		records, err := s.app.ListRecords(r.Context(), &identity, modelID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": records, "count": len(records)})
	case http.MethodPost:
		payload, ok := decodePayload(w, r)
		if !ok {
			return
		}
		record, err := s.app.CreateRecord(r.Context(), &identity, modelID, payload)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "record.create", "success", "identity_id", identity.ID, "model_id", modelID, "record_id", record.ID)
		writeJSON(w, http.StatusCreated, record)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleRecordByID(w http.ResponseWriter, r *http.Request, identity domain.Identity, modelID, recordID string) {
	switch r.Method {
	case http.MethodPut:
		payload, ok := decodePayload(w, r)
		if !ok {
			return
		}
		record, err := s.app.UpdateRecord(r.Context(), &identity, modelID, recordID, payload)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "record.update", "success", "identity_id", identity.ID, "model_id", modelID, "record_id", recordID)
		writeJSON(w, http.StatusOK, record)
	case http.MethodDelete:
		if err := s.app.DeleteRecord(r.Context(), &identity, modelID, recordID); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "record.delete", "success", "identity_id", identity.ID, "model_id", modelID, "record_id", recordID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// /api/access/roles
func (s *Server) handleRoles(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	switch r.Method {
	case http.MethodGet:
		roles, err := s.app.ListRoleAssignments(r.Context(), &identity)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles, "count": len(roles)})
	case http.MethodPut:
		var req roleAssignmentRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		role, ok := domain.ParseRole(req.Role)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid role")
			return
		}
		if err := s.app.SetRoleAssignment(r.Context(), &identity, req.IdentityID, role); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "role.assign", "success", "identity_id", identity.ID, "target_id", req.IdentityID, "role", req.Role)
		writeJSON(w, http.StatusOK, map[string]string{"status": "assigned"})
	default:
		methodNotAllowed(w)
	}
}

// request/response shapes

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token    string          `json:"token"`
	Identity domain.Identity `json:"identity"`
}

type meResponse struct {
	Identity domain.Identity `json:"identity"`
	Role     domain.Role     `json:"role,omitempty"`
}

type roleAssignmentRequest struct {
	IdentityID string `json:"identityId"`
	Role       string `json:"role"`
}

type recordPayloadRequest struct {
	Values map[string]string `json:"values"`
}

func decodePayload(w http.ResponseWriter, r *http.Request) (map[string]string, bool) {
	var req recordPayloadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	if req.Values == nil {
		req.Values = map[string]string{}
	}
	return req.Values, true
}

// withinQuota enforces the credential-endpoint rate limit per client IP.
func (s *Server) withinQuota(w http.ResponseWriter, r *http.Request) bool {
	if s.loginLimiter == nil {
		return true
	}
	if s.loginLimiter.Allow(clientIP(r)) {
		return true
	}
	s.audit(r, "ratelimit", "blocked", "ip", clientIP(r))
	writeError(w, http.StatusTooManyRequests, "too many requests")
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDenied implements the deny-then-redirect contract: a denial names its
// reason and the fallback destination instead of surfacing a bare error.
func writeDenied(w http.ResponseWriter, decision access.Decision) {
	status := http.StatusForbidden
	if decision.Reason == access.ReasonNoSession {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, map[string]string{
		"error":    "access denied",
		"reason":   string(decision.Reason),
		"redirect": decision.Redirect,
	})
}

// writeAppError maps orchestrator errors onto HTTP responses. Storage faults
// are reported as a generic failure so no caller is left in an indeterminate
// state.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var denied *app.DeniedError
	if errors.As(err, &denied) {
		s.audit(r, "guard", "denied", "reason", string(denied.Decision.Reason))
		writeDenied(w, denied.Decision)
		return
	}
	var invalid *app.ValidationError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "validation failed",
			"violations": invalid.Violations,
		})
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "identifier conflict")
	case errors.Is(err, store.ErrPartialUpdate):
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "model metadata was updated but the field set was not replaced",
			"code":  "partial_update",
		})
	case errors.Is(err, domain.ErrInvalidField), errors.Is(err, domain.ErrInvalidModel):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrEmailAndPasswordRequired), errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", clientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" || outcome == "applied" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func clientIP(r *http.Request) string {
	if xfwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xfwd != "" {
		parts := strings.Split(xfwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
