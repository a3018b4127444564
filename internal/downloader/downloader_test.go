package downloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/content_companion/internal/api"
	"github.com/italolelis/content_companion/internal/backend"
	"github.com/italolelis/content_companion/internal/localstore"
	"github.com/italolelis/content_companion/internal/storage"
	"github.com/italolelis/content_companion/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu sync.Mutex

	grant       *backend.DownloadGrant
	initiateErr error
	listPage    backend.Page[backend.OfflineDownload]

	initiateCalls int
	listCalls     int
	deleted       []string
	updates       []backend.OfflineDownloadUpdate
}

func (f *fakeBackend) InitiateDownload(_ context.Context, _ string, _ int64) (*backend.DownloadGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.initiateCalls++

	if f.initiateErr != nil {
		return nil, f.initiateErr
	}

	g := *f.grant

	return &g, nil
}

func (f *fakeBackend) UpdateOfflineDownload(_ context.Context, _ string, u backend.OfflineDownloadUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updates = append(f.updates, u)

	return errors.New("backend unavailable")
}

func (f *fakeBackend) DeleteOfflineDownload(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted = append(f.deleted, id)

	return errors.New("backend unavailable")
}

func (f *fakeBackend) ListOfflineDownloads(_ context.Context, filter backend.ListFilter) (backend.Page[backend.OfflineDownload], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++

	p := f.listPage
	p.Page = max(filter.Page, 1)

	return p, nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.initiateCalls
}

func newTestKV(t *testing.T) storage.KV {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "downloads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return sqlite.NewKVRepository(db)
}

func fileServer(t *testing.T, body string) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"), "signed URLs are fetched without the API token")
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)

	return ts
}

func newTestDownloader(t *testing.T, fb *fakeBackend, opts ...Option) (*Downloader, *localstore.Downloads) {
	t.Helper()

	records := localstore.NewDownloads(newTestKV(t))
	d := NewDownloader(t.TempDir(), fb, records, opts...)
	t.Cleanup(d.Close)

	return d, records
}

func TestStart_DownloadsAndGuardsRepeats(t *testing.T) {
	content := strings.Repeat("a", 1000)
	ts := fileServer(t, content)

	fb := &fakeBackend{grant: &backend.DownloadGrant{DownloadURL: ts.URL + "/y.mp4", FileName: "y.mp4", FileSize: 1000}}
	d, _ := newTestDownloader(t, fb)

	var reports []float64

	rec, err := d.Start(context.Background(), Item{ID: "abc", Title: "Y", ContentType: storage.ContentVideo}, func(p float64) {
		reports = append(reports, p)
	})
	require.NoError(t, err)

	assert.Equal(t, storage.StatusDownloaded, rec.Status)
	assert.NotEmpty(t, rec.LocalPath)
	assert.Equal(t, ts.URL+"/y.mp4", rec.RemoteURL)
	assert.EqualValues(t, 1000, rec.FileSize)
	assert.Equal(t, 100.0, rec.DownloadProgress)
	assert.True(t, d.IsDownloaded("abc"))

	data, err := os.ReadFile(rec.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
	assert.NoFileExists(t, rec.LocalPath+PartialSuffix)

	require.NotEmpty(t, reports)
	assert.Equal(t, 100.0, reports[len(reports)-1])

	for i := 1; i < len(reports); i++ {
		assert.GreaterOrEqual(t, reports[i], reports[i-1])
	}

	again, err := d.Start(context.Background(), Item{ID: "abc"}, nil)
	code, _ := CodeOf(err)
	assert.Equal(t, CodeAlreadyDownloaded, code)
	assert.Equal(t, rec.LocalPath, again.LocalPath)
	assert.Equal(t, 1, fb.calls(), "no network call for an already downloaded item")

	d.Close()

	fb.mu.Lock()
	defer fb.mu.Unlock()

	require.Len(t, fb.updates, 1, "completion is reported once, with no retry")
	assert.Equal(t, "DOWNLOADED", fb.updates[0].DownloadStatus)
	assert.Equal(t, rec.LocalPath, *fb.updates[0].LocalPath)
}

func TestStart_BackendRejections(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    Code
		reason  Reason
		message string
	}{
		{
			name:    "not allowed",
			err:     &api.BackendError{Status: 400, Kind: api.KindBadRequest, Detail: "Invalid interaction type download"},
			code:    CodeBackendRejected,
			reason:  ReasonNotAllowed,
			message: "This content cannot be downloaded at this time",
		},
		{
			name:   "invalid id",
			err:    &api.BackendError{Status: 400, Kind: api.KindBadRequest, Detail: "Invalid media ID"},
			code:   CodeBackendRejected,
			reason: ReasonInvalidID,
		},
		{
			name:   "unauthorized",
			err:    &api.BackendError{Status: 401, Kind: api.KindUnauthorized},
			code:   CodeBackendRejected,
			reason: ReasonUnauthorized,
		},
		{
			name:   "not found",
			err:    &api.BackendError{Status: 404, Kind: api.KindNotFound},
			code:   CodeBackendRejected,
			reason: ReasonNotFound,
		},
		{
			name:    "server error",
			err:     &api.BackendError{Status: 500, Kind: api.KindServerError, Detail: "TypeError at line 3"},
			code:    CodeBackendRejected,
			reason:  ReasonServerError,
			message: "Something went wrong on our side. Please try again later.",
		},
		{
			name:   "shape mismatch",
			err:    &api.ShapeMismatchError{Op: "initiate_download"},
			code:   CodeBackendRejected,
			reason: ReasonServerError,
		},
		{
			name: "offline",
			err:  &api.TransportError{Op: "initiate_download", Kind: api.TransportOffline, Err: errors.New("connection refused")},
			code: CodeTransferFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBackend{initiateErr: tt.err}
			d, records := newTestDownloader(t, fb)

			rec, err := d.Start(context.Background(), Item{ID: "abc"}, nil)
			assert.Nil(t, rec)

			var derr *Error
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, tt.code, derr.Code)
			assert.Equal(t, tt.reason, derr.Reason)
			assert.NotEmpty(t, derr.Message)
			assert.NotContains(t, derr.Message, "TypeError")

			if tt.message != "" {
				assert.Equal(t, tt.message, derr.Message)
			}

			_, ok := records.Get("abc")
			assert.False(t, ok, "no record is left behind")
		})
	}
}

func TestStart_TransferFailureMarksFailed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	fb := &fakeBackend{grant: &backend.DownloadGrant{DownloadURL: ts.URL, FileName: "y.mp4"}}

	var failed []storage.DownloadRecord

	d, _ := newTestDownloader(t, fb, OnFailed(func(r storage.DownloadRecord, _ error) { failed = append(failed, r) }))

	rec, err := d.Start(context.Background(), Item{ID: "abc"}, nil)
	code, _ := CodeOf(err)
	assert.Equal(t, CodeTransferFailed, code)
	require.NotNil(t, rec)
	assert.Equal(t, storage.StatusFailed, rec.Status)
	assert.False(t, d.IsDownloaded("abc"))
	require.Len(t, failed, 1)

	// A FAILED record can be retried.
	_, err = d.Start(context.Background(), Item{ID: "abc"}, nil)
	code, _ = CodeOf(err)
	assert.Equal(t, CodeTransferFailed, code)
	assert.Equal(t, 2, fb.calls())
}

func TestCancel(t *testing.T) {
	started := make(chan struct{})

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer ts.Close()

	fb := &fakeBackend{grant: &backend.DownloadGrant{DownloadURL: ts.URL, FileName: "big.mp4"}}
	d, records := newTestDownloader(t, fb)

	assert.False(t, d.Cancel("abc"), "cancelling an idle id is a no-op")

	type result struct {
		rec *storage.DownloadRecord
		err error
	}

	done := make(chan result, 1)

	go func() {
		rec, err := d.Start(context.Background(), Item{ID: "abc"}, nil)
		done <- result{rec, err}
	}()

	<-started

	_, err := d.Start(context.Background(), Item{ID: "abc"}, nil)
	code, _ := CodeOf(err)
	assert.Equal(t, CodeInProgress, code)

	assert.True(t, d.Cancel("abc"))

	select {
	case res := <-done:
		var derr *Error
		require.ErrorAs(t, res.err, &derr)
		assert.Equal(t, CodeTransferFailed, derr.Code)
		assert.Equal(t, msgCancelled, derr.Message)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled download did not return")
	}

	rec, ok := records.Get("abc")
	require.True(t, ok)
	assert.Equal(t, storage.StatusFailed, rec.Status)
	assert.False(t, d.Active("abc"))
}

func TestRemove_DuringTransferSkipsFailureReport(t *testing.T) {
	started := make(chan struct{})

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer ts.Close()

	var failed []string

	fb := &fakeBackend{grant: &backend.DownloadGrant{DownloadURL: ts.URL, FileName: "big.mp4"}}
	d, records := newTestDownloader(t, fb, OnFailed(func(rec storage.DownloadRecord, _ error) {
		failed = append(failed, rec.ID)
	}))

	done := make(chan error, 1)

	go func() {
		_, err := d.Start(context.Background(), Item{ID: "abc"}, nil)
		done <- err
	}()

	<-started

	require.NoError(t, d.Remove(context.Background(), "abc"))

	select {
	case err := <-done:
		code, _ := CodeOf(err)
		assert.Equal(t, CodeTransferFailed, code)
	case <-time.After(5 * time.Second):
		t.Fatal("removed download did not return")
	}

	d.Close()

	_, ok := records.Get("abc")
	assert.False(t, ok)
	assert.Empty(t, failed)
	assert.False(t, d.Active("abc"))

	fb.mu.Lock()
	defer fb.mu.Unlock()

	assert.Equal(t, []string{"abc"}, fb.deleted)

	for _, u := range fb.updates {
		assert.NotEqual(t, string(storage.StatusFailed), u.DownloadStatus, "no FAILED report for a removed item")
	}
}

func TestRemove_IsIdempotent(t *testing.T) {
	ts := fileServer(t, "data")
	fb := &fakeBackend{grant: &backend.DownloadGrant{DownloadURL: ts.URL, FileName: "y.mp3"}}
	d, records := newTestDownloader(t, fb)

	rec, err := d.Start(context.Background(), Item{ID: "abc"}, nil)
	require.NoError(t, err)

	require.NoError(t, d.Remove(context.Background(), "abc"))
	require.NoError(t, d.Remove(context.Background(), "abc"))

	_, ok := records.Get("abc")
	assert.False(t, ok)
	assert.NoFileExists(t, rec.LocalPath)
	assert.False(t, d.IsDownloaded("abc"))

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Equal(t, []string{"abc", "abc"}, fb.deleted, "backend failures do not block removal")
}

func TestRemoteDownloads_UsesCache(t *testing.T) {
	kv := newTestKV(t)
	cache := localstore.NewPageCache(kv, "offline_downloads", time.Minute, func(o backend.OfflineDownload) string { return o.MediaID })

	fb := &fakeBackend{listPage: backend.Page[backend.OfflineDownload]{Items: []backend.OfflineDownload{{MediaID: "m1"}}, Limit: 1, Total: 2}}
	d, _ := newTestDownloader(t, fb, WithRemoteCache(cache))

	ctx := context.Background()

	page, err := d.RemoteDownloads(ctx, backend.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	_, err = d.RemoteDownloads(ctx, backend.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, fb.listCalls, "fresh first page is served from cache")

	fb.listPage.Items = []backend.OfflineDownload{{MediaID: "m2"}}

	page, err = d.RemoteDownloads(ctx, backend.ListFilter{Page: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, fb.listCalls)
}

func TestTargetPath_StaysInDownloadDir(t *testing.T) {
	d := NewDownloader("/data", &fakeBackend{}, nil)

	assert.Equal(t, "/data/abc_y.mp4", d.targetPath("abc", "y.mp4"))
	assert.Equal(t, "/data/abc_passwd", d.targetPath("abc", "../../etc/passwd"))
	assert.Equal(t, "/data/a_b_file", d.targetPath("a/b", ""))
}

func TestContentTypeOf(t *testing.T) {
	assert.Equal(t, storage.ContentAudio, contentTypeOf("", "audio/mpeg"))
	assert.Equal(t, storage.ContentEbook, contentTypeOf("", "application/pdf"))
	assert.Equal(t, storage.ContentVideo, contentTypeOf("", ""))
	assert.Equal(t, storage.ContentLive, contentTypeOf(storage.ContentLive, "video/mp4"))
}

func TestPurge(t *testing.T) {
	ts := fileServer(t, "data")
	fb := &fakeBackend{grant: &backend.DownloadGrant{DownloadURL: ts.URL, FileName: "y.mp3"}}
	d, records := newTestDownloader(t, fb)
	ctx := context.Background()

	kept, err := d.Start(ctx, Item{ID: "kept"}, nil)
	require.NoError(t, err)

	gone, err := d.Start(ctx, Item{ID: "gone"}, nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(gone.LocalPath))

	orphan := filepath.Join(d.DownloadDir(), "stray.bin")
	require.NoError(t, os.WriteFile(orphan, []byte("x"), 0o644))

	partial := d.targetPath("failed", "z.mp4") + PartialSuffix
	require.NoError(t, os.WriteFile(partial, []byte("xy"), 0o644))

	report, err := d.Purge(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, report.OrphanFiles)
	assert.Equal(t, 1, report.PartialFiles)
	assert.Equal(t, 1, report.MissingFiles)
	assert.FileExists(t, kept.LocalPath)
	assert.NoFileExists(t, orphan)
	assert.NoFileExists(t, partial)

	rec, ok := records.Get("gone")
	require.True(t, ok)
	assert.Equal(t, storage.StatusFailed, rec.Status)
	assert.False(t, d.IsDownloaded("gone"))
}
