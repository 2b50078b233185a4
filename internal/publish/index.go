package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/logger"
	"github.com/rssrn/birdbird/internal/storage"
)

// IndexEntry is one batch as listed in the index.
type IndexEntry struct {
	ID                 string    `json:"id"`
	Uploaded           time.Time `json:"uploaded"`
	OriginalDate       string    `json:"original_date"`
	StartDate          string    `json:"start_date"`
	EndDate            string    `json:"end_date"`
	ClipCount          int       `json:"clip_count"`
	HighlightsDuration float64   `json:"highlights_duration"`
	ContentHash        string    `json:"content_hash,omitempty"`
}

// Index is the discoverable list of retained batches. Version increases by
// one with every committed change.
type Index struct {
	Version int64        `json:"version"`
	Latest  string       `json:"latest"`
	Batches []IndexEntry `json:"batches"`
}

// Upsert adds or replaces the entry for e.ID and makes it the latest batch.
// It reports false when an identical batch is already listed as latest.
func (ix *Index) Upsert(e IndexEntry) bool {
	i := slices.IndexFunc(ix.Batches, func(b IndexEntry) bool { return b.ID == e.ID })
	if i >= 0 && ix.Batches[i].ContentHash == e.ContentHash && e.ContentHash != "" && ix.Latest == e.ID {
		return false
	}

	// drop every entry with this ID; older indexes may hold duplicates
	ix.Batches = slices.DeleteFunc(ix.Batches, func(b IndexEntry) bool { return b.ID == e.ID })
	ix.Batches = append(ix.Batches, e)
	ix.sort()
	ix.Latest = e.ID
	return true
}

// Remove drops the given batch IDs. When the latest batch is removed the
// newest remaining one becomes latest.
func (ix *Index) Remove(ids ...string) bool {
	before := len(ix.Batches)
	ix.Batches = slices.DeleteFunc(ix.Batches, func(b IndexEntry) bool { return slices.Contains(ids, b.ID) })
	changed := len(ix.Batches) != before

	if slices.Contains(ids, ix.Latest) {
		ix.Latest = ""
		if len(ix.Batches) > 0 {
			ix.Latest = ix.Batches[0].ID
		}
		changed = true
	}
	return changed
}

// Lookup returns the entry for id.
func (ix *Index) Lookup(id string) (IndexEntry, bool) {
	i := slices.IndexFunc(ix.Batches, func(b IndexEntry) bool { return b.ID == id })
	if i < 0 {
		return IndexEntry{}, false
	}
	return ix.Batches[i], true
}

func (ix *Index) sort() {
	slices.SortStableFunc(ix.Batches, func(a, b IndexEntry) int {
		ia, okA := ParseBatchID(a.ID)
		ib, okB := ParseBatchID(b.ID)
		if okA && okB {
			return compareNewestFirst(ia, ib)
		}
		return b.Uploaded.Compare(a.Uploaded)
	})
}

func (ix *Index) clone() *Index {
	c := *ix
	c.Batches = slices.Clone(ix.Batches)
	return &c
}

// ReadIndex fetches the index at key. A missing index is empty at version 0.
func ReadIndex(ctx context.Context, store storage.ObjectStore, key string) (*Index, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		if storage.IsNotFound(err) {
			return &Index{}, nil
		}
		return nil, err
	}

	var ix Index
	if err := json.Unmarshal(data, &ix); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("key", key).
			Build()
	}
	return &ix, nil
}

// CommitIndex is the single read-modify-write path for the index. It reads
// the index, fails with *errors.IndexConflictError unless the version equals
// expected, applies mutate, and writes the result under a temporary key
// before renaming it over key. When mutate reports no change nothing is
// written and the current index is returned.
func CommitIndex(ctx context.Context, store storage.ObjectStore, key string, expected int64, mutate func(*Index) (bool, error)) (*Index, bool, error) {
	log := GetLogger()

	current, err := ReadIndex(ctx, store, key)
	if err != nil {
		return nil, false, err
	}
	if current.Version != expected {
		return nil, false, &errors.IndexConflictError{Key: key, Expected: expected, Found: current.Version}
	}

	next := current.clone()
	changed, err := mutate(next)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		log.Debug("Index unchanged", logger.Int64("version", current.Version))
		return current, false, nil
	}
	next.Version = expected + 1

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return nil, false, errors.New(err).Category(errors.CategoryProcessing).Build()
	}

	if err := ctx.Err(); err != nil {
		return nil, false, errors.New(err).Category(errors.CategoryCancellation).Build()
	}

	tmpKey := key + ".tmp-" + uuid.NewString()
	if err := store.Put(ctx, tmpKey, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return nil, false, err
	}

	// the index must not have moved while the temporary copy was written
	recheck, err := ReadIndex(ctx, store, key)
	if err != nil {
		_ = store.Delete(context.WithoutCancel(ctx), tmpKey)
		return nil, false, err
	}
	if recheck.Version != expected {
		_ = store.Delete(context.WithoutCancel(ctx), tmpKey)
		return nil, false, &errors.IndexConflictError{Key: key, Expected: expected, Found: recheck.Version}
	}

	if err := store.Rename(ctx, tmpKey, key); err != nil {
		_ = store.Delete(context.WithoutCancel(ctx), tmpKey)
		return nil, false, err
	}

	log.Info("Index updated",
		logger.Int64("version", next.Version),
		logger.String("latest", next.Latest),
		logger.Int("batches", len(next.Batches)))
	return next, true, nil
}
