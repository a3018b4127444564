package interaction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/content_companion/internal/api"
	"github.com/italolelis/content_companion/internal/backend"
	"github.com/italolelis/content_companion/internal/localstore"
	"github.com/italolelis/content_companion/internal/storage"
	"github.com/italolelis/content_companion/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const validID = "000000000000000000000000"

type fakeBackend struct {
	mu sync.Mutex

	liked         bool
	likes         int
	saved         bool
	saves         int
	likeErr       error
	saveErr       error
	viewErr       error
	likeGate      chan struct{}
	likeCalls     atomic.Int32
	views         atomic.Int32
	comments      []backend.Comment
	commentsErr   error
	commentsCalls int
}

func (f *fakeBackend) ToggleLike(context.Context, string, string) (backend.LikeState, error) {
	f.likeCalls.Add(1)

	if f.likeGate != nil {
		<-f.likeGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.likeErr != nil {
		return backend.LikeState{}, f.likeErr
	}

	f.liked = !f.liked
	if f.liked {
		f.likes++
	} else {
		f.likes--
	}

	return backend.LikeState{Liked: f.liked, LikeCount: f.likes}, nil
}

func (f *fakeBackend) ToggleBookmark(context.Context, string) (backend.BookmarkState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.saveErr != nil {
		return backend.BookmarkState{}, f.saveErr
	}

	f.saved = !f.saved
	if f.saved {
		f.saves++
	} else {
		f.saves--
	}

	return backend.BookmarkState{Bookmarked: f.saved, BookmarkCount: f.saves}, nil
}

func (f *fakeBackend) BookmarkStatus(context.Context, string) (backend.BookmarkState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return backend.BookmarkState{Bookmarked: f.saved, BookmarkCount: f.saves}, nil
}

func (f *fakeBackend) RecordView(context.Context, string, string, int64, float64, bool) error {
	f.views.Add(1)

	return f.viewErr
}

func (f *fakeBackend) Share(context.Context, string, string, string, string) (int, error) {
	return 3, nil
}

func (f *fakeBackend) Comments(_ context.Context, _, _ string, q backend.CommentQuery) (backend.Page[backend.Comment], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.commentsCalls++

	if f.commentsErr != nil {
		return backend.Page[backend.Comment]{}, f.commentsErr
	}

	return backend.Page[backend.Comment]{Items: f.comments, Page: max(q.Page, 1), Total: len(f.comments)}, nil
}

func (f *fakeBackend) PostComment(_ context.Context, contentID, _, text, _ string) (backend.Comment, error) {
	return backend.Comment{ID: "new", ContentID: contentID, Text: text, Username: "me"}, nil
}

func (f *fakeBackend) LikeComment(context.Context, string) (backend.CommentLike, error) {
	return backend.CommentLike{Liked: true, LikeCount: 1}, nil
}

type env struct {
	kv       storage.KV
	library  *localstore.Library
	fallback *localstore.Fallback
	client   *Client
}

func newEnv(t *testing.T, b Backend) *env {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "interaction.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	kv := sqlite.NewKVRepository(db)
	e := &env{
		kv:       kv,
		library:  localstore.NewLibrary(kv),
		fallback: localstore.NewFallback(kv, "u1"),
	}

	comments := localstore.NewPageCache(kv, "comments", 2*time.Minute, backend.Comment.Key)
	e.client = NewClient(b, e.library, e.fallback, comments)
	t.Cleanup(e.client.Close)

	return e
}

type bearer string

func (b bearer) Resolve(context.Context) (*oauth2.Token, error) {
	if b == "" {
		return nil, errors.New("no token")
	}

	return &oauth2.Token{AccessToken: string(b), TokenType: "Bearer"}, nil
}

func httpBackend(t *testing.T, r chi.Router) *backend.Client {
	t.Helper()

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	return backend.NewClient(api.NewClient(ts.URL, "android", time.Second, bearer("tok")))
}

func TestToggleLike_ReturnsServerValuesVerbatim(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/content/media/{id}/like", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, validID, chi.URLParam(r, "id"))
		fmt.Fprint(w, `{"data":{"liked":true,"likeCount":5}}`)
	})

	e := newEnv(t, httpBackend(t, r))

	res, err := e.client.ToggleLike(context.Background(), validID, "video")
	require.NoError(t, err)
	assert.Equal(t, LikeResult{Liked: true, TotalLikes: 5, Source: SourceServer}, res)
	assert.Equal(t, State{Liked: true, LikeCount: 5}, e.client.State(validID))
}

func TestToggleLike_InvalidIDNeverHitsNetwork(t *testing.T) {
	fb := &fakeBackend{}
	e := newEnv(t, fb)
	ctx := context.Background()

	res, err := e.client.ToggleLike(ctx, "not-a-valid-id", "video")
	require.NoError(t, err)
	assert.Equal(t, LikeResult{Liked: true, TotalLikes: 1, Source: SourceFallback}, res)
	assert.Zero(t, fb.likeCalls.Load())

	liked, count, err := e.fallback.Get(ctx, localstore.FallbackLikes, "not-a-valid-id")
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, 1, count)
}

func TestToggleLike_IsAnInvolution(t *testing.T) {
	fb := &fakeBackend{likes: 4}
	e := newEnv(t, fb)
	ctx := context.Background()

	first, err := e.client.ToggleLike(ctx, validID, "audio")
	require.NoError(t, err)
	assert.Equal(t, LikeResult{Liked: true, TotalLikes: 5, Source: SourceServer}, first)

	second, err := e.client.ToggleLike(ctx, validID, "audio")
	require.NoError(t, err)
	assert.Equal(t, LikeResult{Liked: false, TotalLikes: 4, Source: SourceServer}, second)
}

func TestToggleLike_FailurePolicy(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantErr   bool
		wantState State
		source    Source
	}{
		{
			name:      "rate limited keeps optimistic value",
			err:       &api.BackendError{Status: 429, Kind: api.KindRateLimited},
			wantErr:   true,
			wantState: State{Liked: true, LikeCount: 3},
			source:    SourceOptimistic,
		},
		{
			name:      "unauthorized rolls back",
			err:       &api.BackendError{Status: 401, Kind: api.KindUnauthorized},
			wantErr:   true,
			wantState: State{Liked: false, LikeCount: 2},
			source:    SourceServer,
		},
		{
			name:      "bad request rolls back",
			err:       &api.BackendError{Status: 400, Kind: api.KindBadRequest, Detail: "bad body"},
			wantErr:   true,
			wantState: State{Liked: false, LikeCount: 2},
			source:    SourceServer,
		},
		{
			name:      "not found rolls back",
			err:       &api.BackendError{Status: 404, Kind: api.KindNotFound},
			wantErr:   true,
			wantState: State{Liked: false, LikeCount: 2},
			source:    SourceServer,
		},
		{
			name:      "server error falls back",
			err:       &api.BackendError{Status: 503, Kind: api.KindServerError},
			wantState: State{Liked: true, LikeCount: 1},
			source:    SourceFallback,
		},
		{
			name:      "transport error falls back",
			err:       &api.TransportError{Op: "like", Kind: api.TransportTimeout},
			wantState: State{Liked: true, LikeCount: 1},
			source:    SourceFallback,
		},
		{
			name:      "forbidden falls back",
			err:       &api.BackendError{Status: 403, Kind: api.KindRejected},
			wantState: State{Liked: true, LikeCount: 1},
			source:    SourceFallback,
		},
		{
			name:      "conflict falls back",
			err:       &api.BackendError{Status: 409, Kind: api.KindRejected},
			wantState: State{Liked: true, LikeCount: 1},
			source:    SourceFallback,
		},
		{
			name:      "unprocessable falls back",
			err:       &api.BackendError{Status: 422, Kind: api.KindRejected},
			wantState: State{Liked: true, LikeCount: 1},
			source:    SourceFallback,
		},
		{
			name:      "unreadable response rolls back",
			err:       &api.ShapeMismatchError{Op: "toggle_like"},
			wantErr:   true,
			wantState: State{Liked: false, LikeCount: 2},
			source:    SourceServer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBackend{likeErr: tt.err}
			e := newEnv(t, fb)
			e.client.update(validID, func(s *State) { s.LikeCount = 2 })

			res, err := e.client.ToggleLike(context.Background(), validID, "video")
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.err)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.source, res.Source)
			assert.Equal(t, tt.wantState, e.client.State(validID))
		})
	}
}

func TestToggleLike_UnauthorizedPropagates(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/content/artist/{id}/like", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"jwt expired"}`)
	})

	e := newEnv(t, httpBackend(t, r))

	_, err := e.client.ToggleLike(context.Background(), validID, "artist")
	assert.True(t, api.IsUnauthorized(err))
}

func TestToggleLike_ConcurrentCallsShareOneRequest(t *testing.T) {
	fb := &fakeBackend{likeGate: make(chan struct{})}
	e := newEnv(t, fb)

	var wg sync.WaitGroup

	results := make([]LikeResult, 2)

	for i := range results {
		wg.Add(1)

		go func() {
			defer wg.Done()

			res, err := e.client.ToggleLike(context.Background(), validID, "video")
			assert.NoError(t, err)

			results[i] = res
		}()
	}

	require.Eventually(t, func() bool { return fb.likeCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fb.likeGate)
	wg.Wait()

	assert.Equal(t, int32(1), fb.likeCalls.Load())
	assert.Equal(t, results[0], results[1])
}

func TestToggleSave_UnsaveRemovesFromLibrary(t *testing.T) {
	fb := &fakeBackend{}
	e := newEnv(t, fb)
	ctx := context.Background()

	res, err := e.client.ToggleSave(ctx, validID, "video")
	require.NoError(t, err)
	assert.True(t, res.Saved)

	// Adding is the caller's job.
	assert.False(t, e.library.Contains(validID))
	require.NoError(t, e.library.Add(ctx, localstore.LibraryItem{ID: validID, Title: "t"}))

	res, err = e.client.ToggleSave(ctx, validID, "video")
	require.NoError(t, err)
	assert.False(t, res.Saved)
	assert.False(t, e.library.Contains(validID))
}

func TestToggleSave_FallbackWhenOffline(t *testing.T) {
	fb := &fakeBackend{saveErr: &api.TransportError{Op: "save", Kind: api.TransportOffline}}
	e := newEnv(t, fb)

	res, err := e.client.ToggleSave(context.Background(), validID, "video")
	require.NoError(t, err)
	assert.Equal(t, SaveResult{Saved: true, TotalSaves: 1, Source: SourceFallback}, res)
}

func TestToggleSave_FallbackWhenRejected(t *testing.T) {
	for _, status := range []int{403, 409} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			fb := &fakeBackend{saveErr: &api.BackendError{Status: status, Kind: api.KindRejected}}
			e := newEnv(t, fb)

			res, err := e.client.ToggleSave(context.Background(), validID, "video")
			require.NoError(t, err)
			assert.Equal(t, SaveResult{Saved: true, TotalSaves: 1, Source: SourceFallback}, res)
			assert.True(t, e.client.State(validID).Saved)
		})
	}
}

func TestToggleSave_NotFoundRollsBack(t *testing.T) {
	fb := &fakeBackend{saveErr: &api.BackendError{Status: 404, Kind: api.KindNotFound}}
	e := newEnv(t, fb)

	res, err := e.client.ToggleSave(context.Background(), validID, "video")
	require.Error(t, err)
	assert.Equal(t, SourceServer, res.Source)
	assert.False(t, e.client.State(validID).Saved)
}

func TestSaveStatus(t *testing.T) {
	fb := &fakeBackend{saved: true, saves: 8}
	e := newEnv(t, fb)

	res, err := e.client.SaveStatus(context.Background(), validID)
	require.NoError(t, err)
	assert.Equal(t, SaveResult{Saved: true, TotalSaves: 8, Source: SourceServer}, res)
	assert.True(t, e.client.State(validID).Saved)
}

func TestRecordView_NeverFails(t *testing.T) {
	fb := &fakeBackend{viewErr: &api.TransportError{Op: "view", Kind: api.TransportOffline}}
	e := newEnv(t, fb)

	for range 5 {
		e.client.RecordView(context.Background(), validID, "video", ViewOptions{DurationMs: 1000})
	}

	e.client.Close()
	assert.Equal(t, int32(5), fb.views.Load())
	assert.Zero(t, e.client.State(validID).ViewCount)

	fb.viewErr = nil
	e.client.RecordView(context.Background(), validID, "video", ViewOptions{IsComplete: true})
	e.client.Close()
	assert.Equal(t, 1, e.client.State(validID).ViewCount)
}

func TestShare(t *testing.T) {
	e := newEnv(t, &fakeBackend{})

	n, err := e.client.Share(context.Background(), validID, "video", "whatsapp", "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, e.client.State(validID).ShareCount)
}

func TestComments_UsernamesEndToEnd(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/content/media/{id}/comments", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":{"comments":[
			{"_id":"c1","content":"amen","user":{"firstName":"A","lastName":"B"}},
			{"_id":"c2","content":"hi"}
		]}}`)
	})

	e := newEnv(t, httpBackend(t, r))

	page, err := e.client.Comments(context.Background(), validID, "sermon", backend.CommentQuery{Page: 1, Limit: 20})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "A B", page.Items[0].Username)
	assert.Equal(t, "User", page.Items[1].Username)
}

func TestComments_CacheAndPagination(t *testing.T) {
	fb := &fakeBackend{comments: []backend.Comment{{ID: "c1"}, {ID: "c2"}}}
	e := newEnv(t, fb)
	ctx := context.Background()

	_, err := e.client.Comments(ctx, validID, "video", backend.CommentQuery{Page: 1})
	require.NoError(t, err)

	_, err = e.client.Comments(ctx, validID, "video", backend.CommentQuery{Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, fb.commentsCalls, "fresh first page comes from cache")
	assert.Equal(t, 2, e.client.State(validID).CommentCount)

	fb.comments = []backend.Comment{{ID: "c2"}, {ID: "c3"}}

	page, err := e.client.Comments(ctx, validID, "video", backend.CommentQuery{Page: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)

	fb.commentsErr = &api.TransportError{Op: "comments", Kind: api.TransportOffline}

	page, err = e.client.Comments(ctx, validID, "video", backend.CommentQuery{Page: 2})
	require.NoError(t, err, "offline reads serve the cached listing")
	assert.Len(t, page.Items, 3)
}

func TestPostComment(t *testing.T) {
	fb := &fakeBackend{comments: []backend.Comment{{ID: "c1"}}}
	e := newEnv(t, fb)
	ctx := context.Background()

	_, err := e.client.PostComment(ctx, validID, "video", "   ", "")
	require.ErrorIs(t, err, ErrEmptyComment)

	_, err = e.client.Comments(ctx, validID, "video", backend.CommentQuery{Page: 1})
	require.NoError(t, err)

	cm, err := e.client.PostComment(ctx, validID, "video", " hello ", "")
	require.NoError(t, err)
	assert.Equal(t, "hello", cm.Text)

	_, err = e.client.Comments(ctx, validID, "video", backend.CommentQuery{Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, fb.commentsCalls, "posting invalidates the cached listing")
}

func TestPostComment_InvalidatesCacheAfterRestart(t *testing.T) {
	fb := &fakeBackend{comments: []backend.Comment{{ID: "c1"}}}
	e := newEnv(t, fb)
	ctx := context.Background()

	for _, sortBy := range []string{"", "newest", "popular"} {
		_, err := e.client.Comments(ctx, validID, "video", backend.CommentQuery{Page: 1, SortBy: sortBy})
		require.NoError(t, err)
	}

	require.Equal(t, 3, fb.commentsCalls)

	comments := localstore.NewPageCache(e.kv, "comments", 2*time.Minute, backend.Comment.Key)
	restarted := NewClient(fb, e.library, e.fallback, comments)
	t.Cleanup(restarted.Close)

	_, err := restarted.PostComment(ctx, validID, "video", "hello", "")
	require.NoError(t, err)

	for _, sortBy := range []string{"", "newest", "popular"} {
		_, err := restarted.Comments(ctx, validID, "video", backend.CommentQuery{Page: 1, SortBy: sortBy})
		require.NoError(t, err)
	}

	assert.Equal(t, 6, fb.commentsCalls, "every persisted sort order is refetched")
}

func TestLikeComment(t *testing.T) {
	e := newEnv(t, &fakeBackend{})

	res, err := e.client.LikeComment(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, backend.CommentLike{Liked: true, LikeCount: 1}, res)
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("507f1f77bcf86cd799439011"))
	assert.True(t, ValidID("507F1F77BCF86CD799439011"))
	assert.False(t, ValidID("507f1f77bcf86cd79943901"))
	assert.False(t, ValidID("not-a-valid-id"))
	assert.False(t, ValidID(""))
}
