// Package rest exposes the blog content API over HTTP.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"pressd/internal/core/storage"
	"pressd/internal/posts"
	"pressd/internal/search"
)

// PostService is the post repository surface the handlers use.
type PostService interface {
	Create(ctx context.Context, userID int64, in posts.CreateInput) (*storage.Post, error)
	Update(ctx context.Context, postID int64, in posts.UpdateInput) (*storage.Post, error)
	Delete(ctx context.Context, postID int64) error
	Restore(ctx context.Context, postID int64) (*storage.Post, error)
	FindByID(ctx context.Context, postID int64) (*storage.Post, error)
	Owner(ctx context.Context, postID int64) (int64, error)
	ListPublished(ctx context.Context, beforeID int64, limit int) ([]*storage.Post, int64, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*storage.Post, error)
}

// SearchService is the search engine surface the handlers use.
type SearchService interface {
	Search(ctx context.Context, req search.Request) ([]*storage.Post, error)
	SearchByUser(ctx context.Context, userID int64, q string, limit int) ([]*storage.Post, error)
}

// TagService lists tags with usage counts.
type TagService interface {
	List(ctx context.Context, q string, limit int) ([]storage.TagCount, error)
}

// AuthService issues and verifies API tokens.
type AuthService interface {
	Register(ctx context.Context, name, email, password string) (*storage.User, string, error)
	Login(ctx context.Context, email, password string) (*storage.User, string, error)
	Logout(ctx context.Context, token string) error
	Verify(ctx context.Context, token string) (int64, error)
}

// Handler serves the REST API.
type Handler struct {
	posts  PostService
	search SearchService
	tags   TagService
	auth   AuthService
}

// NewHandler creates a Handler.
func NewHandler(posts PostService, search SearchService, tags TagService, auth AuthService) *Handler {
	return &Handler{posts: posts, search: search, tags: tags, auth: auth}
}

// RegisterRoutes attaches the API routes to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.handleHealth)

	mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", h.requireAuth(h.handleLogout))

	mux.HandleFunc("GET /api/posts", h.handleListPosts)
	mux.HandleFunc("GET /api/posts/{id}", h.handleGetPost)
	mux.HandleFunc("POST /api/posts", h.requireAuth(h.handleCreatePost))
	mux.HandleFunc("PUT /api/posts/{id}", h.requireAuth(h.handleUpdatePost))
	mux.HandleFunc("DELETE /api/posts/{id}", h.requireAuth(h.handleDeletePost))
	mux.HandleFunc("POST /api/posts/{id}/restore", h.requireAuth(h.handleRestorePost))

	mux.HandleFunc("GET /api/search", h.handleSearch)
	mux.HandleFunc("GET /api/tags", h.handleListTags)

	mux.HandleFunc("GET /api/my/posts", h.requireAuth(h.handleMyPosts))
	mux.HandleFunc("GET /api/my/search", h.requireAuth(h.handleMySearch))
}

// APIError is the error payload.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{Code: code, Message: message})
}

// writeStoreError maps storage-level failures to responses. Anything that is
// not a recognized miss is an internal error; the detail goes to the log, not
// the client.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrPostNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "post not found")
	case errors.Is(err, storage.ErrUserNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "user not found")
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
	}
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

type contextKey string

const contextKeyUserID contextKey = "user_id"

// requireAuth authenticates the bearer token and stores the user id in the
// request context.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing bearer token")
			return
		}
		userID, err := h.auth.Verify(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyUserID, userID)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}

func authedUserID(ctx context.Context) int64 {
	id, _ := ctx.Value(contextKeyUserID).(int64)
	return id
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
