package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wallpapers/internal/usertoken"
	"wallpapers/internal/util"
	"wallpapers/pkg/domain"
	"wallpapers/pkg/fault"
	"wallpapers/pkg/notify"
	"wallpapers/services/wallpaper/internal/app"
)

// TokenVerifier checks identity-provider ID tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (usertoken.Identity, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  TokenVerifier
	TrustedProxies *util.TrustedProxies
	// Revoker rejects tokens after sign-out; optional.
	Revoker usertoken.Revoker
	// Gatherer backs /metrics; the route is not registered when nil.
	Gatherer prometheus.Gatherer
}

// Server exposes HTTP endpoints for the wallpaper service.
type Server struct {
	app            *app.App
	tokenVerifier  TokenVerifier
	revoker        usertoken.Revoker
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("token verifier required")
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		revoker:        cfg.Revoker,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
		maxUploadBytes: cfg.App.MaxUploadBytes(),
	}
	s.routes(cfg.Gatherer)
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("wallpaper", s.trustedProxies, util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// profile
	s.mux.Handle("/me", s.withUser(s.handleMe))
	s.mux.HandleFunc("/signout", s.handleSignOut)

	// wallpapers
	s.mux.Handle("/wallpapers", s.withUser(s.handleWallpapers))
	s.mux.Handle("/wallpapers/mine", s.withUser(s.handleMine))
	s.mux.Handle("/wallpapers/search", s.withUser(s.handleSearch))
	s.mux.Handle("/wallpapers/", s.withUser(s.handleWallpaperByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, app.Identity)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, app.Identity{UID: id.UID, Email: id.Email, Name: id.Name})
	})
}

func (s *Server) authorize(r *http.Request) (usertoken.Identity, bool) {
	logger := util.LoggerFromContext(r.Context())
	token, ok := bearerToken(r)
	if !ok {
		return usertoken.Identity{}, false
	}
	id, err := s.tokenVerifier.Verify(r.Context(), token)
	if err != nil {
		logger.Info("token rejected", "err", err)
		return usertoken.Identity{}, false
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(r.Context(), token)
		if err != nil {
			// fail open on store errors
			logger.Warn("token revocation check failed", "uid", id.UID, "err", err)
		}
		if revoked {
			logger.Info("revoked token presented", "uid", id.UID)
			return usertoken.Identity{}, false
		}
	}
	return id, true
}

// handleSignOut revokes the presented token for the rest of its lifetime.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	id, ok := s.authorize(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if s.revoker != nil {
		token, _ := bearerToken(r)
		if err := s.revoker.Revoke(r.Context(), token, time.Until(id.ExpiresAt)); err != nil {
			util.LoggerFromContext(r.Context()).Error("sign-out revocation failed", "uid", id.UID, "err", err)
			writeError(w, http.StatusServiceUnavailable, "sign-out unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, id app.Identity) {
	switch r.Method {
	case http.MethodGet:
		user, err := s.app.EnsureProfile(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPost:
		var req app.ProfileInput
		if !decodeJSON(w, r, &req) {
			return
		}
		user, err := s.app.RegisterProfile(r.Context(), id, req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, user)
	case http.MethodPatch:
		var req domain.UserPatch
		if !decodeJSON(w, r, &req) {
			return
		}
		user, err := s.app.UpdateProfile(r.Context(), id.UID, req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	default:
		methodNotAllowed(w)
	}
}

// /wallpapers
func (s *Server) handleWallpapers(w http.ResponseWriter, r *http.Request, id app.Identity) {
	switch r.Method {
	case http.MethodGet:
		filter, err := parseFilter(r)
		if err != nil {
			writeAppError(w, err)
			return
		}
		items, err := s.app.PublicWallpapers(r.Context(), id.UID, filter)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeList(w, items)
	case http.MethodPost:
		s.handleCreate(w, r, id)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMine(w http.ResponseWriter, r *http.Request, id app.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	items, err := s.app.UserWallpapers(r.Context(), id.UID, filter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeList(w, items)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, id app.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	mine, _ := strconv.ParseBool(q.Get("mine"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	items, err := s.app.SearchWallpapers(r.Context(), id.UID, q.Get("q"), mine, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeList(w, items)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, id app.Identity) {
	// leave room for the other form fields
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image is required (field: image)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	isPublic, _ := strconv.ParseBool(r.FormValue("isPublic"))
	meta := domain.NewWallpaper{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Tags:        splitList(r.MultipartForm.Value["tags"]),
		Category:    r.FormValue("category"),
		IsPublic:    isPublic,
	}
	blob := domain.Blob{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	created, err := s.app.CreateWallpaper(r.Context(), id.UID, meta, blob)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// /wallpapers/{id}, /wallpapers/{id}/image or /wallpapers/{id}/apply
func (s *Server) handleWallpaperByID(w http.ResponseWriter, r *http.Request, id app.Identity) {
	path := strings.TrimPrefix(r.URL.Path, "/wallpapers/")
	parts := strings.SplitN(path, "/", 2)
	wallpaperID := parts[0]
	if wallpaperID == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "image":
			s.handleImage(w, r, id, wallpaperID)
		case "apply":
			s.handleApply(w, r, id, wallpaperID)
		default:
			notFound(w, "not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		wp, err := s.app.GetWallpaper(r.Context(), id.UID, wallpaperID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, wp)
	case http.MethodPatch:
		var req domain.WallpaperPatch
		if !decodeJSON(w, r, &req) {
			return
		}
		wp, err := s.app.UpdateWallpaper(r.Context(), id.UID, wallpaperID, req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, wp)
	case http.MethodDelete:
		if err := s.app.DeleteWallpaper(r.Context(), id.UID, wallpaperID); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request, id app.Identity, wallpaperID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	img, err := s.app.WallpaperImage(r.Context(), id.UID, wallpaperID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request, id app.Identity, wallpaperID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req applyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	target, err := app.ParseTarget(req.Target)
	if err != nil {
		writeAppError(w, err)
		return
	}
	res, err := s.app.ApplyWallpaper(r.Context(), id.UID, wallpaperID, target)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type applyRequest struct {
	Target string `json:"target"`
}

func parseFilter(r *http.Request) (domain.WallpaperFilter, error) {
	q := r.URL.Query()
	f := domain.WallpaperFilter{
		Tags:      splitList(q["tags"]),
		Category:  q.Get("category"),
		OrderBy:   q.Get("orderBy"),
		Direction: domain.SortDirection(strings.ToLower(q.Get("orderDirection"))),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return f, app.ErrValidation
		}
		f.Limit = n
	}
	return f, nil
}

// splitList accepts both repeated values and comma separated lists.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeList(w http.ResponseWriter, items []domain.Wallpaper) {
	if items == nil {
		items = []domain.Wallpaper{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeCodedError(w, status, errorCode(status), msg)
}

func writeCodedError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps application errors to a status. Sentinels are checked
// before fault classes so a plain "not found" never reads as a backend fault.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrValidation):
		writeCodedError(w, http.StatusBadRequest, "WALLPAPER_INVALID_REQUEST", err.Error())
		return
	case errors.Is(err, app.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	case errors.Is(err, app.ErrNotFound):
		writeCodedError(w, http.StatusNotFound, "WALLPAPER_NOT_FOUND", err.Error())
		return
	case errors.Is(err, app.ErrProfileNotFound):
		writeCodedError(w, http.StatusNotFound, "PROFILE_NOT_FOUND", err.Error())
		return
	case errors.Is(err, app.ErrRateLimited):
		writeCodedError(w, http.StatusTooManyRequests, "WALLPAPER_RATE_LIMITED", err.Error())
		return
	case errors.Is(err, app.ErrUnsupported):
		writeCodedError(w, http.StatusNotImplemented, "APPLY_UNSUPPORTED", err.Error())
		return
	case errors.Is(err, app.ErrForbidden), errors.Is(err, app.ErrApplyPermission):
		writeCodedError(w, http.StatusForbidden, "WALLPAPER_FORBIDDEN", err.Error())
		return
	}

	var classified *fault.Error
	if !errors.As(err, &classified) {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	msg := notify.MessageFor(classified.Class)
	switch classified.Class {
	case fault.Permission:
		writeCodedError(w, http.StatusForbidden, "BACKEND_PERMISSION_DENIED", msg)
	case fault.Network, fault.LockTimeout:
		writeCodedError(w, http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", msg)
	case fault.IndexMissing:
		writeCodedError(w, http.StatusServiceUnavailable, "BACKEND_INDEX_BUILDING", msg)
	default:
		writeCodedError(w, http.StatusInternalServerError, "SYSTEM_INTERNAL_ERROR", msg)
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "WALLPAPER_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "WALLPAPER_FORBIDDEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "WALLPAPER_FILE_TOO_LARGE"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
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
