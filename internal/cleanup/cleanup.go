// Package cleanup removes files in the download directory that no download
// record owns: partial files left by failed transfers and orphans.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/content_companion/internal/logctx"
)

// Report summarizes a purge.
type Report struct {
	PartialFiles int   `json:"partialFiles"`
	OrphanFiles  int   `json:"orphanFiles"`
	FreedBytes   int64 `json:"freedBytes"`
	// MissingFiles counts DOWNLOADED records whose file is gone; the caller fills it.
	MissingFiles int `json:"missingFiles"`
}

// Purge deletes every regular file in dir that is not in keep and was last
// modified at least minAge ago. Files ending in partialSuffix are counted as
// partial downloads, everything else as orphans. Subdirectories are left alone.
func Purge(ctx context.Context, dir string, keep map[string]struct{}, partialSuffix string, minAge time.Duration) (Report, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	var report Report

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return report, nil
	}

	if err != nil {
		return report, fmt.Errorf("failed to read download dir: %w", err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		if !entry.Type().IsRegular() {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())
		if _, ok := keep[filePath]; ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			logger.Error("failed to stat file", "file", filePath, "err", err)

			return report, err
		}

		if now.Sub(info.ModTime()) < minAge {
			continue
		}

		if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Error("failed to delete file", "file", filePath, "err", err)

			return report, err
		}

		report.FreedBytes += info.Size()

		if strings.HasSuffix(entry.Name(), partialSuffix) {
			report.PartialFiles++
		} else {
			report.OrphanFiles++
		}

		logger.Info("deleted unowned file", "file", filePath, "size", humanize.Bytes(uint64(info.Size())))
	}

	return report, nil
}
