package localstore

import (
	"context"
	"sort"

	"github.com/italolelis/content_companion/internal/storage"
)

const downloadsCollection = "downloads"

// Downloads is the downloaded-items index.
type Downloads struct {
	m *Mirror[storage.DownloadRecord]
}

func NewDownloads(kv storage.KV) *Downloads {
	return &Downloads{
		m: NewMirror(kv, downloadsCollection, func(r storage.DownloadRecord) string { return r.ID }),
	}
}

func (d *Downloads) Load(ctx context.Context) error {
	return d.m.Load(ctx)
}

// Get returns a copy of the record for id.
func (d *Downloads) Get(id string) (*storage.DownloadRecord, bool) {
	r, ok := d.m.Get(id)
	if !ok {
		return nil, false
	}

	return &r, true
}

func (d *Downloads) IsDownloaded(id string) bool {
	r, ok := d.Get(id)

	return ok && r.IsDownloaded()
}

// List returns every record, most recent first.
func (d *Downloads) List() []storage.DownloadRecord {
	records := d.m.All()

	sort.Slice(records, func(i, j int) bool {
		if records[i].DownloadedAt.Equal(records[j].DownloadedAt) {
			return records[i].ID < records[j].ID
		}

		return records[i].DownloadedAt.After(records[j].DownloadedAt)
	})

	return records
}

func (d *Downloads) Put(ctx context.Context, r storage.DownloadRecord) error {
	return d.m.Put(ctx, r)
}

// Update mutates the record for id in place. It reports false when there is no such record.
func (d *Downloads) Update(ctx context.Context, id string, fn func(r *storage.DownloadRecord)) (bool, error) {
	found := false

	_, err := d.m.Update(ctx, id, func(cur storage.DownloadRecord, ok bool) (storage.DownloadRecord, bool, error) {
		if !ok {
			return cur, false, nil
		}

		found = true

		fn(&cur)

		return cur, true, nil
	})

	return found, err
}

func (d *Downloads) Delete(ctx context.Context, id string) error {
	return d.m.Delete(ctx, id)
}
