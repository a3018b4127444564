package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/content_companion/internal/api"
	"github.com/italolelis/content_companion/internal/backend"
	"github.com/italolelis/content_companion/internal/downloader"
	"github.com/italolelis/content_companion/internal/interaction"
	"github.com/italolelis/content_companion/internal/localstore"
	"github.com/italolelis/content_companion/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const validID = "0123456789abcdef01234567"

type staticToken string

func (s staticToken) Resolve(context.Context) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: string(s), TokenType: "Bearer"}, nil
}

type testEnv struct {
	handler http.Handler
	library *localstore.Library
}

// newTestEnv wires the whole stack against a fake content backend. The backend
// also serves the media file for download grants.
func newTestEnv(t *testing.T, username, password string, extra func(r chi.Router)) *testEnv {
	t.Helper()

	var srvURL string

	r := chi.NewRouter()
	r.Get("/files/{name}", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 2048))
	})
	r.Post("/api/media/{id}/download", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "gone" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"success":false,"message":"Media not found"}`)

			return
		}

		fmt.Fprintf(w, `{"data":{"downloadUrl":"%s/files/a.mp4","fileName":"a.mp4","fileSize":2048,"contentType":"video/mp4"}}`, srvURL)
	})
	r.Patch("/api/media/offline-downloads/{id}", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"success":true}`)
	})
	r.Post("/api/content/media/{id}/like", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":{"liked":true,"likeCount":5}}`)
	})
	r.Post("/api/bookmark/{id}/toggle", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":{"bookmarked":true,"bookmarkCount":3}}`)
	})
	r.Post("/api/comments/{id}/like", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":{"liked":true,"likeCount":1}}`)
	})

	if extra != nil {
		extra(r)
	}

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	srvURL = ts.URL

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "companion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	kv := sqlite.NewKVRepository(db)
	bc := backend.NewClient(api.NewClient(ts.URL, "android", time.Second, staticToken("tok")))

	library := localstore.NewLibrary(kv)
	playlists := localstore.NewPlaylists(kv)
	require.NoError(t, library.Load(context.Background()))
	require.NoError(t, playlists.Load(context.Background()))

	d := downloader.NewDownloader(t.TempDir(), bc, localstore.NewDownloads(kv))
	t.Cleanup(d.Close)

	ic := interaction.NewClient(bc, library, localstore.NewFallback(kv, "u1"),
		localstore.NewPageCache(kv, "comments", time.Minute, backend.Comment.Key))
	t.Cleanup(ic.Close)

	h := NewHandler(username, password, Deps{
		Downloads:    d,
		Interactions: ic,
		Library:      library,
		Playlists:    playlists,
		Syncer: &localstore.Syncer{
			Library:        library,
			LibrarySource:  bc,
			Playlists:      playlists,
			PlaylistSource: bc,
		},
		PurgeMinAge: time.Hour,
	})

	return &testEnv{handler: h.Routes(), library: library}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())

	return v
}

func TestBasicAuth(t *testing.T) {
	env := newTestEnv(t, "admin", "secret", nil)

	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/library", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/library", nil)
	req.SetBasicAuth("admin", "wrong")

	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/library", nil)
	req.SetBasicAuth("admin", "secret")

	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStartDownload(t *testing.T) {
	env := newTestEnv(t, "", "", nil)

	body := `{"id":"abc","title":"Sermon","contentType":"video","fileSize":2048}`

	rec := env.do(t, http.MethodPost, "/downloads", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	view := decodeBody[downloadView](t, rec)
	assert.Equal(t, "abc", view.ID)
	assert.True(t, view.IsDownloaded())
	assert.Equal(t, "2.0 kB", view.Size)

	rec = env.do(t, http.MethodPost, "/downloads", body)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/downloads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]downloadView](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/downloads/abc", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/downloads/abc", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/downloads/abc", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartDownload_Errors(t *testing.T) {
	env := newTestEnv(t, "", "", nil)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"missing title", `{"id":"abc","contentType":"video"}`, http.StatusBadRequest, "invalid_request"},
		{"unknown content type", `{"id":"abc","title":"t","contentType":"merch"}`, http.StatusBadRequest, "invalid_request"},
		{"malformed", `{"id":`, http.StatusBadRequest, "invalid_request"},
		{"not found", `{"id":"gone","title":"t","contentType":"audio"}`, http.StatusNotFound, "BACKEND_REJECTED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/downloads", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeBody[errorBody](t, rec).Error.Code)
		})
	}
}

func TestCancelDownload_NotActive(t *testing.T) {
	env := newTestEnv(t, "", "", nil)

	rec := env.do(t, http.MethodPost, "/downloads/abc/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToggleLike(t *testing.T) {
	env := newTestEnv(t, "", "", nil)

	rec := env.do(t, http.MethodPost, "/content/video/"+validID+"/like", "")
	require.Equal(t, http.StatusOK, rec.Code)

	res := decodeBody[interaction.LikeResult](t, rec)
	assert.Equal(t, interaction.LikeResult{Liked: true, TotalLikes: 5, Source: interaction.SourceServer}, res)

	rec = env.do(t, http.MethodGet, "/content/video/"+validID+"/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decodeBody[interaction.State](t, rec).LikeCount)
}

func TestToggleSave_AddsToLibrary(t *testing.T) {
	env := newTestEnv(t, "", "", nil)

	rec := env.do(t, http.MethodPost, "/content/audio/"+validID+"/save", `{"title":"Hymn","author":"Choir"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[interaction.SaveResult](t, rec).Saved)

	assert.True(t, env.library.Contains(validID))

	rec = env.do(t, http.MethodGet, "/library", "")
	items := decodeBody[[]localstore.LibraryItem](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, "Hymn", items[0].Title)
}

func TestToggleSave_InvalidBody(t *testing.T) {
	env := newTestEnv(t, "", "", nil)

	rec := env.do(t, http.MethodPost, "/content/audio/"+validID+"/save", `{"thumbnail":"not a url"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordView(t *testing.T) {
	env := newTestEnv(t, "", "", nil)

	rec := env.do(t, http.MethodPost, "/content/video/"+validID+"/view", `{"progressPct":150}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/content/video/"+validID+"/view", `{"durationMs":1000,"progressPct":50}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestComments(t *testing.T) {
	env := newTestEnv(t, "", "", func(r chi.Router) {
		r.Get("/api/content/media/{id}/comments", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"data":{"comments":[{"_id":"c1","content":"amen","user":{"firstName":"A","lastName":"B"}}]}}`)
		})
		r.Post("/api/comments", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"data":{"comment":{"_id":"c9","content":"hello","user":{"username":"me"}}}}`)
		})
	})

	rec := env.do(t, http.MethodGet, "/content/video/"+validID+"/comments", "")
	require.Equal(t, http.StatusOK, rec.Code)

	page := decodeBody[localstore.CachedPage[backend.Comment]](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "A B", page.Items[0].Username)

	rec = env.do(t, http.MethodPost, "/content/video/"+validID+"/comments", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/content/video/"+validID+"/comments", `{"text":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "c9", decodeBody[backend.Comment](t, rec).ID)

	rec = env.do(t, http.MethodPost, "/comments/c9/like", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, commentLikeResponse{Liked: true, LikeCount: 1}, decodeBody[commentLikeResponse](t, rec))
}

func TestPlaylists(t *testing.T) {
	env := newTestEnv(t, "", "", nil)

	rec := env.do(t, http.MethodPost, "/playlists", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/playlists", `{"name":"Morning"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	pl := decodeBody[localstore.Playlist](t, rec)

	rec = env.do(t, http.MethodPost, "/playlists/"+pl.ID+"/items", `{"contentId":"m1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"m1"}, decodeBody[localstore.Playlist](t, rec).ItemIDs)

	rec = env.do(t, http.MethodPatch, "/playlists/"+pl.ID, `{"name":"Evening"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Evening", decodeBody[localstore.Playlist](t, rec).Name)

	rec = env.do(t, http.MethodDelete, "/playlists/"+pl.ID+"/items/m1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[localstore.Playlist](t, rec).ItemIDs)

	rec = env.do(t, http.MethodDelete, "/playlists/"+pl.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/playlists/"+pl.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSync(t *testing.T) {
	env := newTestEnv(t, "", "", func(r chi.Router) {
		r.Get("/api/bookmark/user", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"data":{"media":[{"_id":"m1","title":"Hymn"}]}}`)
		})
		r.Get("/api/playlists", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"data":{"playlists":[{"_id":"p1","name":"Morning"}]}}`)
		})
	})

	rec := env.do(t, http.MethodPost, "/sync", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	report := decodeBody[localstore.SyncReport](t, rec)
	assert.Equal(t, 1, report.Library)
	assert.Equal(t, 1, report.Playlists)
	assert.True(t, env.library.Contains("m1"))
}

func TestSync_BackendDown(t *testing.T) {
	env := newTestEnv(t, "", "", func(r chi.Router) {
		r.Get("/api/bookmark/user", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		r.Get("/api/playlists", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
	})

	rec := env.do(t, http.MethodPost, "/sync", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPurge(t *testing.T) {
	env := newTestEnv(t, "", "", nil)

	rec := env.do(t, http.MethodPost, "/maintenance/purge", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decodeBody[map[string]int](t, rec)["orphanFiles"])
}
