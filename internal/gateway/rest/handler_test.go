package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressd/internal/core/storage"
	"pressd/internal/identity"
	"pressd/internal/posts"
	"pressd/internal/search"
)

type fakePostService struct {
	byID    map[int64]*storage.Post
	owners  map[int64]int64
	created *storage.Post
	updated *posts.UpdateInput
	deleted []int64
}

func (f *fakePostService) Create(_ context.Context, userID int64, in posts.CreateInput) (*storage.Post, error) {
	post := &storage.Post{
		ID:     100,
		UserID: userID,
		Title:  in.Title,
		Body:   in.Body,
		Status: in.Status,
		Tags:   []storage.Tag{},
	}
	if post.Status == "" {
		post.Status = storage.StatusDraft
	}
	f.created = post
	return post, nil
}

func (f *fakePostService) Update(_ context.Context, postID int64, in posts.UpdateInput) (*storage.Post, error) {
	post, ok := f.byID[postID]
	if !ok {
		return nil, storage.ErrPostNotFound
	}
	f.updated = &in
	return post, nil
}

func (f *fakePostService) Delete(_ context.Context, postID int64) error {
	if _, ok := f.byID[postID]; !ok {
		return storage.ErrPostNotFound
	}
	f.deleted = append(f.deleted, postID)
	return nil
}

func (f *fakePostService) Restore(_ context.Context, postID int64) (*storage.Post, error) {
	post, ok := f.byID[postID]
	if !ok {
		return nil, storage.ErrPostNotFound
	}
	return post, nil
}

func (f *fakePostService) FindByID(_ context.Context, postID int64) (*storage.Post, error) {
	post, ok := f.byID[postID]
	if !ok {
		return nil, storage.ErrPostNotFound
	}
	return post, nil
}

func (f *fakePostService) Owner(_ context.Context, postID int64) (int64, error) {
	owner, ok := f.owners[postID]
	if !ok {
		return 0, storage.ErrPostNotFound
	}
	return owner, nil
}

func (f *fakePostService) ListPublished(context.Context, int64, int) ([]*storage.Post, int64, error) {
	return []*storage.Post{}, 0, nil
}

func (f *fakePostService) ListByUser(context.Context, int64, int, int) ([]*storage.Post, error) {
	return []*storage.Post{}, nil
}

type fakeSearchService struct {
	lastReq search.Request
}

func (f *fakeSearchService) Search(_ context.Context, req search.Request) ([]*storage.Post, error) {
	f.lastReq = req
	return []*storage.Post{}, nil
}

func (f *fakeSearchService) SearchByUser(context.Context, int64, string, int) ([]*storage.Post, error) {
	return []*storage.Post{}, nil
}

type fakeTagService struct{}

func (fakeTagService) List(context.Context, string, int) ([]storage.TagCount, error) {
	return []storage.TagCount{{Tag: storage.Tag{ID: 1, Name: "go", Slug: "go"}, PostCount: 3}}, nil
}

type fakeAuthService struct {
	registerErr error
	loginErr    error
	verifyID    int64
}

func (f *fakeAuthService) Register(_ context.Context, name, email, _ string) (*storage.User, string, error) {
	if f.registerErr != nil {
		return nil, "", f.registerErr
	}
	return &storage.User{ID: 1, Name: name, Email: email}, "token-1", nil
}

func (f *fakeAuthService) Login(_ context.Context, email, _ string) (*storage.User, string, error) {
	if f.loginErr != nil {
		return nil, "", f.loginErr
	}
	return &storage.User{ID: 1, Email: email}, "token-1", nil
}

func (f *fakeAuthService) Logout(context.Context, string) error { return nil }

func (f *fakeAuthService) Verify(_ context.Context, token string) (int64, error) {
	if token != "valid" {
		return 0, identity.ErrInvalidToken
	}
	return f.verifyID, nil
}

type fixture struct {
	mux    *http.ServeMux
	posts  *fakePostService
	search *fakeSearchService
	auth   *fakeAuthService
}

func newFixture() *fixture {
	postSvc := &fakePostService{
		byID:   make(map[int64]*storage.Post),
		owners: make(map[int64]int64),
	}
	searchSvc := &fakeSearchService{}
	authSvc := &fakeAuthService{verifyID: 1}

	h := NewHandler(postSvc, searchSvc, fakeTagService{}, authSvc)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &fixture{mux: mux, posts: postSvc, search: searchSvc, auth: authSvc}
}

func (f *fixture) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	return apiErr.Code
}

func TestHealth(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetPublishedPost(t *testing.T) {
	f := newFixture()
	f.posts.byID[5] = &storage.Post{ID: 5, Status: storage.StatusPublished, Tags: []storage.Tag{}}

	w := f.do(t, http.MethodGet, "/api/posts/5", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var post storage.Post
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &post))
	assert.Equal(t, int64(5), post.ID)
}

func TestGetDraftPostHidden(t *testing.T) {
	f := newFixture()
	f.posts.byID[5] = &storage.Post{ID: 5, Status: storage.StatusDraft}

	w := f.do(t, http.MethodGet, "/api/posts/5", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotFound, errCode(t, w))
}

func TestGetPostBadID(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodGet, "/api/posts/abc", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePostRequiresAuth(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodPost, "/api/posts", `{"title":"t","body":"b"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/api/posts", `{"title":"t","body":"b"}`, "bogus")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreatePost(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodPost, "/api/posts", `{"title":"t","body":"b","status":"published"}`, "valid")
	assert.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, f.posts.created)
	assert.Equal(t, int64(1), f.posts.created.UserID)
	assert.Equal(t, storage.StatusPublished, f.posts.created.Status)
}

func TestCreatePostValidation(t *testing.T) {
	f := newFixture()

	w := f.do(t, http.MethodPost, "/api/posts", `{"title":"","body":"b"}`, "valid")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/posts", `{"title":"t","body":"b","status":"archived"}`, "valid")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/posts", `not json`, "valid")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateForeignPostForbidden(t *testing.T) {
	f := newFixture()
	f.posts.byID[5] = &storage.Post{ID: 5, UserID: 9, Status: storage.StatusPublished}
	f.posts.owners[5] = 9

	w := f.do(t, http.MethodPut, "/api/posts/5", `{"title":"stolen"}`, "valid")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, ErrCodeForbidden, errCode(t, w))
	assert.Nil(t, f.posts.updated)
}

func TestUpdateOwnPost(t *testing.T) {
	f := newFixture()
	f.posts.byID[5] = &storage.Post{ID: 5, UserID: 1, Status: storage.StatusPublished, Tags: []storage.Tag{}}
	f.posts.owners[5] = 1

	w := f.do(t, http.MethodPut, "/api/posts/5", `{"title":"mine"}`, "valid")
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, f.posts.updated)
	require.NotNil(t, f.posts.updated.Title)
	assert.Equal(t, "mine", *f.posts.updated.Title)
	assert.Nil(t, f.posts.updated.Tags)
}

func TestDeleteOwnPost(t *testing.T) {
	f := newFixture()
	f.posts.byID[5] = &storage.Post{ID: 5, UserID: 1}
	f.posts.owners[5] = 1

	w := f.do(t, http.MethodDelete, "/api/posts/5", "", "valid")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{5}, f.posts.deleted)
}

func TestSearchPassesFilters(t *testing.T) {
	f := newFixture()

	w := f.do(t, http.MethodGet, "/api/search?q=golang&tags=go,sql&author_id=2&from=2024-03-01&limit=5&page=2", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	req := f.search.lastReq
	assert.Equal(t, "golang", req.Query)
	assert.Equal(t, 5, req.Limit)
	assert.Equal(t, 2, req.Page)
	require.NotNil(t, req.AuthorID)
	assert.Equal(t, int64(2), *req.AuthorID)
	assert.Equal(t, []string{"go", "sql"}, req.Tags)
	require.NotNil(t, req.From)
	assert.Nil(t, req.To)
}

func TestSearchRequiresQueryOrFilter(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodGet, "/api/search", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchRejectsBadDates(t *testing.T) {
	f := newFixture()

	w := f.do(t, http.MethodGet, "/api/search?q=go&from=yesterday", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/search?q=go&from=2024-05-01&to=2024-04-01", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMySearchRequiresMinQuery(t *testing.T) {
	f := newFixture()

	w := f.do(t, http.MethodGet, "/api/my/search?q=a", "", "valid")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/my/search?q=ab", "", "valid")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListTags(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodGet, "/api/tags", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"post_count":3`)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture()

	w := f.do(t, http.MethodPost, "/api/auth/register", `{"name":"a","email":"a@b.c","password":"short"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/auth/register", `{"name":"a","email":"a@b.c","password":"long enough"}`, "")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "token-1")
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture()
	f.auth.registerErr = storage.ErrUserExists

	w := f.do(t, http.MethodPost, "/api/auth/register", `{"name":"a","email":"a@b.c","password":"long enough"}`, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, ErrCodeConflict, errCode(t, w))
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture()
	f.auth.loginErr = identity.ErrInvalidCredentials

	w := f.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@b.c","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMyPostsRequiresAuth(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodGet, "/api/my/posts", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/my/posts", "", "valid")
	assert.Equal(t, http.StatusOK, w.Code)
}
