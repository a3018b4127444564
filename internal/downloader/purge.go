package downloader

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/italolelis/content_companion/internal/cleanup"
	"github.com/italolelis/content_companion/internal/logctx"
	"github.com/italolelis/content_companion/internal/storage"
)

// Purge deletes partial files of transfers that are not running and files no
// record owns. DOWNLOADED records whose file has disappeared are marked FAILED
// so IsDownloaded stays truthful.
func (d *Downloader) Purge(ctx context.Context, minAge time.Duration) (cleanup.Report, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := d.records.Load(ctx); err != nil {
		return cleanup.Report{}, err
	}

	keep := make(map[string]struct{})
	missing := 0

	for _, rec := range d.records.List() {
		if d.Active(rec.ID) {
			keep[d.targetPath(rec.ID, rec.FileName)+PartialSuffix] = struct{}{}
		}

		if rec.Status != storage.StatusDownloaded || rec.LocalPath == "" {
			continue
		}

		if _, err := os.Stat(rec.LocalPath); errors.Is(err, fs.ErrNotExist) {
			missing++

			logger.Warn("downloaded file is missing", "content_id", rec.ID, "local_path", rec.LocalPath)

			if _, err := d.records.Update(ctx, rec.ID, func(r *storage.DownloadRecord) {
				r.Status = storage.StatusFailed
				r.LocalPath = ""
			}); err != nil {
				return cleanup.Report{}, err
			}

			continue
		}

		keep[rec.LocalPath] = struct{}{}
	}

	report, err := cleanup.Purge(ctx, d.downloadDir, keep, PartialSuffix, minAge)
	report.MissingFiles = missing

	return report, err
}
