// Package downloader drives the offline download flow: ask the backend for a
// time-limited URL, stream the file to disk, then report the outcome back.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/content_companion/internal/backend"
	"github.com/italolelis/content_companion/internal/downloader/progress"
	"github.com/italolelis/content_companion/internal/localstore"
	"github.com/italolelis/content_companion/internal/logctx"
	"github.com/italolelis/content_companion/internal/storage"
	"github.com/italolelis/content_companion/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	dirPerm = 0755

	// PartialSuffix marks a file still being written (or left behind by a failed transfer).
	PartialSuffix = ".part"

	progressStep     = 1.0
	progressInterval = int64(10 * 1024 * 1024) // 10MB
	persistStep      = 10.0
	notifyTimeout    = 30 * time.Second
)

// Backend is the part of the content API the downloader talks to.
type Backend interface {
	InitiateDownload(ctx context.Context, contentID string, fileSize int64) (*backend.DownloadGrant, error)
	UpdateOfflineDownload(ctx context.Context, contentID string, update backend.OfflineDownloadUpdate) error
	DeleteOfflineDownload(ctx context.Context, contentID string) error
	ListOfflineDownloads(ctx context.Context, filter backend.ListFilter) (backend.Page[backend.OfflineDownload], error)
}

// Item is what the caller knows about the content to download.
type Item struct {
	ID          string
	Title       string
	Description string
	Author      string
	ContentType storage.ContentType
	FileSize    int64
}

// ProgressFunc receives the transfer progress in [0, 100], never decreasing.
type ProgressFunc func(percent float64)

type Downloader struct {
	downloadDir string
	backend     Backend
	records     *localstore.Downloads
	remote      *localstore.PageCache[backend.OfflineDownload]
	transfers   *http.Client
	telemetry   *telemetry.Telemetry
	now         func() time.Time

	mu     sync.Mutex
	active map[string]*activeTransfer

	notifications sync.WaitGroup

	onFinished func(storage.DownloadRecord)
	onFailed   func(storage.DownloadRecord, error)
}

// activeTransfer is an in-flight Start for one content id. removed is set when
// Remove aborts it, so the failure is not reported back.
type activeTransfer struct {
	cancel  context.CancelFunc
	done    chan struct{}
	removed bool
}

type Option func(*Downloader)

// WithTransferClient sets the client used to fetch signed URLs. It must not
// carry the API's bearer token.
func WithTransferClient(hc *http.Client) Option {
	return func(d *Downloader) { d.transfers = hc }
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(d *Downloader) { d.telemetry = t }
}

// WithRemoteCache caches the backend's offline-download listing.
func WithRemoteCache(c *localstore.PageCache[backend.OfflineDownload]) Option {
	return func(d *Downloader) { d.remote = c }
}

// OnFinished registers a callback run after a download is stored as DOWNLOADED.
func OnFinished(fn func(storage.DownloadRecord)) Option {
	return func(d *Downloader) { d.onFinished = fn }
}

// OnFailed registers a callback run after a download is stored as FAILED.
func OnFailed(fn func(storage.DownloadRecord, error)) Option {
	return func(d *Downloader) { d.onFailed = fn }
}

func NewDownloader(downloadDir string, b Backend, records *localstore.Downloads, opts ...Option) *Downloader {
	d := &Downloader{
		downloadDir: downloadDir,
		backend:     b,
		records:     records,
		// Signed URLs can take long to stream; the transfer is bounded by
		// cancellation, not by a client-wide timeout.
		transfers: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		now:       time.Now,
		active:    make(map[string]*activeTransfer),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// DownloadDir is where finished files are written.
func (d *Downloader) DownloadDir() string {
	return d.downloadDir
}

// Close waits for pending backend notifications.
func (d *Downloader) Close() {
	d.notifications.Wait()
}

// IsDownloaded is true only for a DOWNLOADED record with a local path.
func (d *Downloader) IsDownloaded(id string) bool {
	return d.records.IsDownloaded(id)
}

func (d *Downloader) Get(id string) (*storage.DownloadRecord, bool) {
	return d.records.Get(id)
}

// Downloads lists local download records, most recent first.
func (d *Downloader) Downloads() []storage.DownloadRecord {
	return d.records.List()
}

// Active reports whether a transfer for id is running in this process.
func (d *Downloader) Active(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.active[id]

	return ok
}

// Start downloads item. It returns the stored record on success. A download
// that was already completed yields the existing record together with an
// ALREADY_DOWNLOADED error and makes no network call.
func (d *Downloader) Start(ctx context.Context, item Item, onProgress ProgressFunc) (*storage.DownloadRecord, error) {
	logger := logctx.LoggerFromContext(ctx).With("content_id", item.ID)
	ctx = logctx.WithLogger(ctx, logger)

	if strings.TrimSpace(item.ID) == "" {
		return nil, rejected(ReasonInvalidID, errors.New("empty content id"))
	}

	if err := d.records.Load(ctx); err != nil {
		return nil, transferFailed(msgTransferFailed, err)
	}

	if rec, ok := d.records.Get(item.ID); ok && rec.IsDownloaded() {
		logger.Debug("content already downloaded", "local_path", rec.LocalPath)

		return rec, &Error{Code: CodeAlreadyDownloaded, Message: msgAlreadyDownloaded}
	}

	ctx, release, ok := d.acquire(ctx, item.ID)
	if !ok {
		return nil, &Error{Code: CodeInProgress, Message: msgInProgress}
	}
	defer release()

	var (
		rec     *storage.DownloadRecord
		written int64
	)

	err := d.telemetry.InstrumentDownload(ctx, &written, func(ctx context.Context) error {
		var err error

		rec, written, err = d.download(ctx, item, onProgress)

		return err
	})

	return rec, err
}

// acquire registers id as active and returns a cancellable context for its transfer.
func (d *Downloader) acquire(ctx context.Context, id string) (context.Context, func(), bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, busy := d.active[id]; busy {
		return ctx, nil, false
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &activeTransfer{cancel: cancel, done: make(chan struct{})}
	d.active[id] = t

	return ctx, func() {
		d.mu.Lock()
		delete(d.active, id)
		d.mu.Unlock()

		cancel()
		close(t.done)
	}, true
}

func (d *Downloader) download(ctx context.Context, item Item, onProgress ProgressFunc) (*storage.DownloadRecord, int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	grant, err := d.backend.InitiateDownload(ctx, item.ID, item.FileSize)
	if err != nil {
		derr := classifyInitiate(err)
		logger.Warn("download request rejected", "code", derr.Code, "reason", derr.Reason, "err", err)

		return nil, 0, derr
	}

	rec := storage.DownloadRecord{
		ID:           item.ID,
		Title:        item.Title,
		Description:  item.Description,
		Author:       item.Author,
		ContentType:  contentTypeOf(item.ContentType, grant.ContentType),
		RemoteURL:    grant.DownloadURL,
		FileName:     grant.FileName,
		FileSize:     grant.FileSize,
		Status:       storage.StatusDownloading,
		DownloadedAt: d.now(),
	}

	if rec.FileSize == 0 {
		rec.FileSize = item.FileSize
	}

	if err := d.records.Put(ctx, rec); err != nil {
		return nil, 0, transferFailed(msgTransferFailed, err)
	}

	targetPath := d.targetPath(item.ID, grant.FileName)

	written, err := d.transfer(ctx, rec, targetPath, onProgress)
	if err != nil {
		return d.fail(ctx, item.ID, written, err)
	}

	if _, err := d.records.Update(ctx, item.ID, func(r *storage.DownloadRecord) {
		r.Status = storage.StatusDownloaded
		r.LocalPath = targetPath
		r.DownloadProgress = 100
		r.FileSize = written
	}); err != nil {
		return nil, written, transferFailed(msgTransferFailed, err)
	}

	final, _ := d.records.Get(item.ID)

	logger.Info("download finished", "local_path", targetPath, "size", humanize.Bytes(uint64(written)))

	d.notify(ctx, item.ID, backend.OfflineDownloadUpdate{
		LocalPath:        &targetPath,
		IsDownloaded:     ptr(true),
		DownloadStatus:   string(storage.StatusDownloaded),
		DownloadProgress: ptr(100.0),
	})

	if d.onFinished != nil {
		d.onFinished(*final)
	}

	return final, written, nil
}

func (d *Downloader) fail(ctx context.Context, id string, written int64, cause error) (*storage.DownloadRecord, int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	message := msgTransferFailed
	if errors.Is(cause, context.Canceled) {
		message = msgCancelled
	}

	logger.Warn("download failed", "written", humanize.Bytes(uint64(written)), "err", cause)

	// The transfer context may be gone; the FAILED status must still land.
	storeCtx := context.WithoutCancel(ctx)

	derr := transferFailed(message, cause)

	found, err := d.records.Update(storeCtx, id, func(r *storage.DownloadRecord) {
		r.Status = storage.StatusFailed
	})
	if err != nil {
		logger.Error("failed to mark download as failed", "err", err)
	}

	// A removed item must not be reported back as FAILED after its DELETE.
	if !found || d.removing(id) {
		logger.Debug("download removed while transferring, skipping failure report")

		rec, _ := d.records.Get(id)

		return rec, written, derr
	}

	d.notify(ctx, id, backend.OfflineDownloadUpdate{
		IsDownloaded:   ptr(false),
		DownloadStatus: string(storage.StatusFailed),
	})

	rec, ok := d.records.Get(id)
	if ok && d.onFailed != nil {
		d.onFailed(*rec, derr)
	}

	return rec, written, derr
}

// transfer streams the signed URL into targetPath+PartialSuffix and renames it
// on success. A failed transfer leaves the partial file in place.
func (d *Downloader) transfer(ctx context.Context, rec storage.DownloadRecord, targetPath string, onProgress ProgressFunc) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.RemoteURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build transfer request: %w", err)
	}

	resp, err := d.transfers.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("failed to fetch file: unexpected status %d", resp.StatusCode)
	}

	total := rec.FileSize
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	if err := ensureTargetDir(targetPath, logger); err != nil {
		return 0, err
	}

	partial := targetPath + PartialSuffix

	out, err := os.Create(partial)
	if err != nil {
		return 0, &LocalIOError{Op: "create", Path: partial, Err: err}
	}

	written, err := d.writeFile(ctx, out, resp.Body, rec.ID, total, onProgress)

	if cerr := out.Close(); err == nil && cerr != nil {
		err = &LocalIOError{Op: "close", Path: partial, Err: cerr}
	}

	if err != nil {
		return written, err
	}

	if err := os.Rename(partial, targetPath); err != nil {
		return written, &LocalIOError{Op: "rename", Path: targetPath, Err: err}
	}

	return written, nil
}

func (d *Downloader) writeFile(ctx context.Context, out io.Writer, body io.Reader, id string, total int64, onProgress ProgressFunc) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("downloading file", "file_size", humanize.Bytes(uint64(max(total, 0))))

	lastPersisted := 0.0

	pr := progress.NewReader(body, total, progressStep, progressInterval, func(written int64, percent float64) {
		if total > 0 {
			logger.Debug("download progress",
				"downloaded", humanize.Bytes(uint64(written)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(percent, 2))
		} else {
			logger.Debug("download progress", "downloaded", humanize.Bytes(uint64(written)))
		}

		if onProgress != nil && total > 0 {
			onProgress(percent)
		}

		if percent-lastPersisted >= persistStep && percent < 100 {
			lastPersisted = percent

			if _, err := d.records.Update(ctx, id, func(r *storage.DownloadRecord) {
				r.DownloadProgress = percent
			}); err != nil {
				logger.Debug("failed to persist progress", "err", err)
			}
		}
	})

	if _, err := io.Copy(out, pr); err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return pr.Written(), &LocalIOError{Op: "write", Path: pathErr.Path, Err: err}
		}

		return pr.Written(), fmt.Errorf("failed to copy file: %w", err)
	}

	if onProgress != nil {
		onProgress(100)
	}

	return pr.Written(), nil
}

// Cancel aborts the in-flight transfer for id; the record ends up FAILED.
// It reports whether a transfer was running.
func (d *Downloader) Cancel(id string) bool {
	d.mu.Lock()
	t, ok := d.active[id]
	d.mu.Unlock()

	if ok {
		t.cancel()
	}

	return ok
}

func (d *Downloader) removing(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.active[id]

	return ok && t.removed
}

// abort cancels the transfer for id, marks it removed and waits until Start
// has returned, so its failure handling runs before the record is deleted.
func (d *Downloader) abort(ctx context.Context, id string) {
	d.mu.Lock()
	t, ok := d.active[id]
	if ok {
		t.removed = true
	}
	d.mu.Unlock()

	if !ok {
		return
	}

	t.cancel()

	select {
	case <-t.done:
	case <-ctx.Done():
	}
}

// Remove deletes the local file, tells the backend and drops the record. Each
// step runs even when a previous one failed; only a failure to drop the record
// is returned.
func (d *Downloader) Remove(ctx context.Context, id string) error {
	logger := logctx.LoggerFromContext(ctx).With("content_id", id)

	d.abort(ctx, id)

	if err := d.records.Load(ctx); err != nil {
		logger.Warn("failed to load downloads index", "err", err)
	}

	if rec, ok := d.records.Get(id); ok {
		paths := []string{d.targetPath(id, rec.FileName) + PartialSuffix}
		if rec.LocalPath != "" {
			paths = append(paths, rec.LocalPath)
		}

		for _, p := range paths {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				logger.Warn("failed to delete downloaded file", "err", &LocalIOError{Op: "delete", Path: p, Err: err})
			}
		}
	}

	if err := d.backend.DeleteOfflineDownload(ctx, id); err != nil {
		logger.Debug("failed to remove offline download from backend", "err", err)
	}

	if err := d.records.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to remove download record: %w", err)
	}

	logger.Info("download removed")

	return nil
}

// RemoteDownloads lists the backend's offline-download index. Page 1 is served
// from the cache while fresh; later pages extend the cached listing.
func (d *Downloader) RemoteDownloads(ctx context.Context, filter backend.ListFilter) (localstore.CachedPage[backend.OfflineDownload], error) {
	key := filter.Status + "|" + filter.ContentType

	if d.remote != nil && filter.Page <= 1 {
		if cached, fresh, err := d.remote.Get(ctx, key); err == nil && fresh {
			return cached, nil
		}
	}

	page, err := d.backend.ListOfflineDownloads(ctx, filter)
	if err != nil {
		return localstore.CachedPage[backend.OfflineDownload]{}, err
	}

	if d.remote == nil {
		return localstore.CachedPage[backend.OfflineDownload]{
			Items: page.Items, Page: page.Page, Limit: page.Limit, Total: page.Total, FetchedAt: d.now(),
		}, nil
	}

	return d.remote.Merge(ctx, key, page.Items, max(page.Page, 1), page.Limit, page.Total)
}

// notify sends a single best-effort PATCH in the background. Its failure never
// changes the local record.
func (d *Downloader) notify(ctx context.Context, id string, update backend.OfflineDownloadUpdate) {
	logger := logctx.LoggerFromContext(ctx)

	d.notifications.Add(1)

	go func() {
		defer d.notifications.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()

		if err := d.backend.UpdateOfflineDownload(ctx, id, update); err != nil {
			logger.Warn("failed to notify backend of download status", "status", update.DownloadStatus, "err", err)
		}
	}()
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// targetPath keeps every file inside the download dir, prefixed with the
// content id so two items with the same file name do not collide.
func (d *Downloader) targetPath(id, fileName string) string {
	name := unsafeChars.ReplaceAllString(filepath.Base(fileName), "_")
	if name == "" || name == "." || name == "_" {
		name = "file"
	}

	return filepath.Join(d.downloadDir, unsafeChars.ReplaceAllString(id, "_")+"_"+name)
}

func ensureTargetDir(targetPath string, logger *slog.Logger) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		logger.Error("failed to create target directory", "dir", dir, "err", err)

		return &LocalIOError{Op: "mkdir", Path: dir, Err: err}
	}

	return nil
}

// contentTypeOf prefers the caller's label and falls back to the MIME type
// the backend reported.
func contentTypeOf(label storage.ContentType, mime string) storage.ContentType {
	if label != "" {
		return label
	}

	major, _, _ := strings.Cut(mime, "/")
	if ct, ok := storage.ParseContentType(major); ok {
		return ct
	}

	if strings.Contains(mime, "pdf") || strings.Contains(mime, "epub") {
		return storage.ContentEbook
	}

	return storage.ContentVideo
}

func ptr[T any](v T) *T {
	return &v
}
