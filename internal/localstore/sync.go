package localstore

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// SyncReport says how many entries each collection holds after a sync.
type SyncReport struct {
	Library   int       `json:"library"`
	Playlists int       `json:"playlists"`
	SyncedAt  time.Time `json:"syncedAt"`
}

// Syncer replaces the library and playlists with the backend's copies.
type Syncer struct {
	Library        *Library
	LibrarySource  SavedContentSource
	Playlists      *Playlists
	PlaylistSource PlaylistSource
}

// Sync fetches both collections concurrently. A failure in one does not stop
// the other from being replaced; the first error is returned.
func (s *Syncer) Sync(ctx context.Context) (SyncReport, error) {
	var (
		report SyncReport
		g      errgroup.Group
	)

	g.Go(func() error {
		n, err := s.Library.SyncFromBackend(ctx, s.LibrarySource)
		report.Library = n

		return err
	})

	g.Go(func() error {
		n, err := s.Playlists.SyncFromBackend(ctx, s.PlaylistSource)
		report.Playlists = n

		return err
	})

	err := g.Wait()
	report.SyncedAt = time.Now()

	return report, err
}
