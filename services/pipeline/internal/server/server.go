package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"devotionai/internal/ratelimit"
	"devotionai/internal/servicetoken"
	"devotionai/internal/util"
	"devotionai/pkg/domain"
	"devotionai/services/pipeline/internal/app"
)

const maxBodyBytes = 1 << 20

// PrincipalVerifier resolves a user access token.
type PrincipalVerifier interface {
	VerifyPrincipal(ctx context.Context, token string) (domain.Principal, error)
}

// ServiceVerifier validates internal service tokens.
type ServiceVerifier interface {
	Verify(token string) (servicetoken.Claims, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                *app.App
	TokenVerifier      PrincipalVerifier
	InternalVerifier   ServiceVerifier
	WebhookSecret      string
	WebhookLimiter     *ratelimit.FixedWindowLimiter
	TrustedProxies     *util.TrustedProxies
	CORSAllowedOrigins []string
}

// Server exposes HTTP endpoints for the content pipeline.
type Server struct {
	app              *app.App
	tokenVerifier    PrincipalVerifier
	internalVerifier ServiceVerifier
	webhookSecret    string
	webhookLimiter   *ratelimit.FixedWindowLimiter
	trustedProxies   *util.TrustedProxies
	corsOrigins      []string
	mux              *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	s := &Server{
		app:              cfg.App,
		tokenVerifier:    cfg.TokenVerifier,
		internalVerifier: cfg.InternalVerifier,
		webhookSecret:    strings.TrimSpace(cfg.WebhookSecret),
		webhookLimiter:   cfg.WebhookLimiter,
		trustedProxies:   cfg.TrustedProxies,
		corsOrigins:      cfg.CORSAllowedOrigins,
		mux:              http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.corsOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/assignments", s.withAdminOrService(servicetoken.ScopeAssignmentsRun, s.handleAssignments))

	// content
	s.mux.Handle("/content", s.withUser(s.handleListContent))
	s.mux.Handle("/content/submit", s.withUser(s.handleSubmit))
	s.mux.Handle("/content/approve", s.withAdmin(s.handleApprove))
	s.mux.Handle("/content/reject", s.withAdmin(s.handleReject))
	s.mux.Handle("/content/seed", s.withAdmin(s.handleSeed))
	s.mux.Handle("/content/", s.withUser(s.handleContentByID))

	s.mux.Handle("/creators", s.withAdmin(s.handleSaveCreator))
	s.mux.Handle("/admin/verses/reset", s.withAdmin(s.handleResetVerses))

	var webhook http.Handler = http.HandlerFunc(s.handleVideoWebhook)
	if s.webhookLimiter != nil && s.webhookSecret == "" {
		webhook = s.webhookLimiter.Middleware(func(r *http.Request) string {
			return util.ClientIP(r, s.trustedProxies)
		}, webhook)
	}
	s.mux.Handle("/webhooks/video", webhook)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type principalHandler func(http.ResponseWriter, *http.Request, domain.Principal)

func (s *Server) withUser(next principalHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenVerifier == nil {
			writeError(w, http.StatusInternalServerError, codeInternal, "auth not configured")
			return
		}
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, codeInvalidToken, "unauthorized")
			return
		}
		principal, err := s.tokenVerifier.VerifyPrincipal(r.Context(), token)
		if err != nil {
			util.LoggerFromContext(r.Context()).Debug("user_token_rejected", "err", err)
			writeError(w, http.StatusUnauthorized, codeInvalidToken, "unauthorized")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", principal.UserID))
		next(w, r.WithContext(ctx), principal)
	})
}

func (s *Server) withAdmin(next principalHandler) http.Handler {
	return s.withUser(func(w http.ResponseWriter, r *http.Request, p domain.Principal) {
		if !p.IsAdmin() {
			writeError(w, http.StatusForbidden, codeForbidden, "forbidden")
			return
		}
		next(w, r, p)
	})
}

// withAdminOrService accepts an internal service token carrying scope, or an admin user token.
func (s *Server) withAdminOrService(scope string, next principalHandler) http.Handler {
	admin := s.withAdmin(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := servicetoken.BearerToken(r)
		if ok && s.internalVerifier != nil {
			if claims, err := s.internalVerifier.Verify(token); err == nil {
				if !claims.HasScope(scope) {
					writeError(w, http.StatusForbidden, codeForbidden, "forbidden")
					return
				}
				next(w, r, domain.Principal{UserID: "service:" + claims.Subject, Role: domain.RoleAdmin})
				return
			}
		}
		admin.ServeHTTP(w, r)
	})
}

type assignmentRequest struct {
	Action        string `json:"action"`
	Month         string `json:"month"`
	Mode          string `json:"mode"`
	Language      string `json:"language"`
	ContentItemID string `json:"content_item_id"`
	CreatorID     string `json:"creator_id"`
}

func (s *Server) handleAssignments(w http.ResponseWriter, r *http.Request, _ domain.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req assignmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "auto_assign":
		res, err := s.app.AutoAssign(r.Context(), req.Month, domain.Mode(req.Mode), req.Language)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case "reassign":
		if strings.TrimSpace(req.ContentItemID) == "" || strings.TrimSpace(req.CreatorID) == "" {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "content_item_id and creator_id required")
			return
		}
		if err := s.app.ReassignDay(r.Context(), req.ContentItemID, req.CreatorID); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "unknown action")
	}
}

func (s *Server) handleListContent(w http.ResponseWriter, r *http.Request, _ domain.Principal) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	items, err := s.app.ListContent(r.Context(), q.Get("month"), domain.Mode(q.Get("mode")), q.Get("language"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

type submitRequest struct {
	ContentItemID string `json:"content_item_id"`
	VideoURL      string `json:"video_url"`
	ThumbnailURL  string `json:"thumbnail_url"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := s.app.Submit(r.Context(), p, req.ContentItemID, req.VideoURL, req.ThumbnailURL)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type reviewRequest struct {
	ContentItemID string `json:"content_item_id"`
	Note          string `json:"note"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req reviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := s.app.Approve(r.Context(), p, req.ContentItemID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req reviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := s.app.Reject(r.Context(), p, req.ContentItemID, req.Note)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type seedRequest struct {
	Month    string `json:"month"`
	Mode     string `json:"mode"`
	Language string `json:"language"`
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request, _ domain.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req seedRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.app.SeedMonth(r.Context(), req.Month, domain.Mode(req.Mode), req.Language)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// /content/{id}, /content/{id}/logs, /content/{id}/generate, /content/{id}/avatar-video
func (s *Server) handleContentByID(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	path := strings.TrimPrefix(r.URL.Path, "/content/")
	id, action, _ := strings.Cut(path, "/")
	if id == "" || strings.Contains(action, "/") {
		notFound(w)
		return
	}
	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		item, err := s.app.GetContent(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case "logs":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		logs, err := s.app.ListGenerationLogs(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": logs, "count": len(logs)})
	case "generate":
		if !requireAdminPost(w, r, p) {
			return
		}
		var req struct {
			Field string `json:"field"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		entry, err := s.app.GenerateText(r.Context(), id, req.Field)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case "avatar-video":
		if !requireAdminPost(w, r, p) {
			return
		}
		jobID, err := s.app.SubmitAvatarVideo(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
	default:
		notFound(w)
	}
}

func requireAdminPost(w http.ResponseWriter, r *http.Request, p domain.Principal) bool {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return false
	}
	if !p.IsAdmin() {
		writeError(w, http.StatusForbidden, codeForbidden, "forbidden")
		return false
	}
	return true
}

func (s *Server) handleSaveCreator(w http.ResponseWriter, r *http.Request, _ domain.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req domain.Creator
	if !decodeJSON(w, r, &req) {
		return
	}
	creator, err := s.app.SaveCreator(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, creator)
}

func (s *Server) handleResetVerses(w http.ResponseWriter, r *http.Request, _ domain.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	n, err := s.app.ResetVerses(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset", "cleared": n})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON body")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, codeNotFound, "not found")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
