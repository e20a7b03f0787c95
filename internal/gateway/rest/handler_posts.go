package rest

import (
	"net/http"
	"strconv"

	"pressd/internal/core/storage"
	"pressd/internal/posts"
)

type createPostRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Status string   `json:"status"`
	Tags   []string `json:"tags"`
}

type updatePostRequest struct {
	Title  *string   `json:"title"`
	Body   *string   `json:"body"`
	Status *string   `json:"status"`
	Tags   *[]string `json:"tags"`
}

type postListResponse struct {
	Posts      []*storage.Post `json:"posts"`
	NextCursor int64           `json:"next_cursor,omitempty"`
}

func (h *Handler) handleListPosts(w http.ResponseWriter, r *http.Request) {
	cursor, _ := strconv.ParseInt(r.URL.Query().Get("cursor"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, next, err := h.posts.ListPublished(r.Context(), cursor, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, postListResponse{Posts: list, NextCursor: next})
}

func (h *Handler) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid post id")
		return
	}
	post, err := h.posts.FindByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// Drafts are only visible to their owner through /api/my/posts.
	if post.Status != storage.StatusPublished {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "post not found")
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *Handler) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "malformed request body")
		return
	}
	if req.Title == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "title and body are required")
		return
	}
	status := storage.PostStatus(req.Status)
	if req.Status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "status must be draft or published")
		return
	}

	post, err := h.posts.Create(r.Context(), authedUserID(r.Context()), posts.CreateInput{
		Title:  req.Title,
		Body:   req.Body,
		Status: status,
		Tags:   req.Tags,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (h *Handler) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid post id")
		return
	}
	var req updatePostRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "malformed request body")
		return
	}

	var status *storage.PostStatus
	if req.Status != nil {
		s := storage.PostStatus(*req.Status)
		if !s.Valid() {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "status must be draft or published")
			return
		}
		status = &s
	}

	if !h.authorizeOwner(w, r, id) {
		return
	}

	post, err := h.posts.Update(r.Context(), id, posts.UpdateInput{
		Title:  req.Title,
		Body:   req.Body,
		Status: status,
		Tags:   req.Tags,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *Handler) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid post id")
		return
	}
	if !h.authorizeOwner(w, r, id) {
		return
	}
	if err := h.posts.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleRestorePost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid post id")
		return
	}
	if !h.authorizeOwner(w, r, id) {
		return
	}
	post, err := h.posts.Restore(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// authorizeOwner resolves the post's owner through the lookup index, which
// also covers soft-deleted posts, and rejects foreign callers. Writes the
// response on failure.
func (h *Handler) authorizeOwner(w http.ResponseWriter, r *http.Request, postID int64) bool {
	owner, err := h.posts.Owner(r.Context(), postID)
	if err != nil {
		writeStoreError(w, err)
		return false
	}
	if owner != authedUserID(r.Context()) {
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "not your post")
		return false
	}
	return true
}

func (h *Handler) handleMyPosts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if limit <= 0 {
		limit = 15
	}
	if page < 1 {
		page = 1
	}

	list, err := h.posts.ListByUser(r.Context(), authedUserID(r.Context()), limit, (page-1)*limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, postListResponse{Posts: list})
}
