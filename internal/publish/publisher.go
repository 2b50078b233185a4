// Package publish uploads a finished batch to object storage and maintains
// the index of retained batches.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/logger"
	"github.com/rssrn/birdbird/internal/observability/metrics"
	"github.com/rssrn/birdbird/internal/storage"
)

// Published object names within a batch.
const (
	ReelObject     = "highlights.mp4"
	WindowsObject  = "windows.json"
	MetadataObject = "metadata.json"
)

// Mode selects how a batch ID is chosen when batches with the same date exist.
type Mode int

const (
	// ModeAuto reuses a same-date batch with identical content, otherwise
	// takes the next sequence.
	ModeAuto Mode = iota
	// ModeNew always takes the next sequence.
	ModeNew
	// ModeReplace overwrites the highest existing sequence.
	ModeReplace
)

// Options configures a Publisher.
type Options struct {
	Prefix       string
	IndexKey     string
	Workers      int
	IndexRetries int
	Mode         Mode
}

// OptionsFromSettings builds publisher options from configuration.
func OptionsFromSettings(s *conf.PublishSettings) Options {
	return Options{
		Prefix:       s.Prefix,
		IndexKey:     s.IndexKey,
		Workers:      s.UploadWorkers,
		IndexRetries: s.IndexRetries,
	}
}

// Input is everything a batch publishes.
type Input struct {
	ReelPath string
	Windows  []byte
	Summary  Summary
	// Date is the earliest capture date in the batch; it names the batch.
	Date time.Time
}

// Result reports what a publish did.
type Result struct {
	BatchID      string
	Reused       bool // an existing batch with identical content was found
	Uploaded     []string
	Skipped      []string
	Index        *Index
	IndexChanged bool
	Metadata     *Metadata
}

// Observer receives publish outcomes; *metrics.PublishMetrics satisfies it.
type Observer interface {
	RecordAsset(asset, status string, size int64)
	RecordIndexUpdate(status string, version int64, batches int)
}

type nopObserver struct{}

func (nopObserver) RecordAsset(string, string, int64) {}
func (nopObserver) RecordIndexUpdate(string, int64, int) {}

// Publisher uploads batches to a store.
type Publisher struct {
	store storage.ObjectStore
	fs    afero.Fs
	opts  Options
	obs   Observer
	now   func() time.Time
}

// NewPublisher returns a publisher reading local files from fsys.
func NewPublisher(store storage.ObjectStore, fsys afero.Fs, opts Options) *Publisher {
	if opts.Prefix == "" {
		opts.Prefix = conf.DefaultBatchPrefix
	}
	if opts.IndexKey == "" {
		opts.IndexKey = conf.DefaultIndexKey
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Publisher{store: store, fs: fsys, opts: opts, obs: nopObserver{}, now: time.Now}
}

// SetObserver installs o to receive asset and index outcomes.
func (p *Publisher) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	p.obs = o
}

func (p *Publisher) batchKey(id, name string) string {
	return path.Join(p.opts.Prefix, id, name)
}

// asset is one object to upload.
type asset struct {
	name        string
	key         string
	contentType string
	md5         string
	size        int64
	open        func() (io.ReadSeeker, io.Closer, error)
}

// Publish uploads the batch assets and then, only once every upload has
// succeeded, commits the index. Any failure leaves the index untouched.
func (p *Publisher) Publish(ctx context.Context, in *Input) (*Result, error) {
	log := GetLogger()

	if err := ctx.Err(); err != nil {
		return nil, cancelled(err, "publish")
	}

	reelMD5, reelSize, err := p.hashFile(in.ReelPath)
	if err != nil {
		return nil, err
	}
	hash, err := Fingerprint(reelMD5, in.Windows, &in.Summary)
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryProcessing).Build()
	}

	index, err := ReadIndex(ctx, p.store, p.opts.IndexKey)
	if err != nil {
		return nil, err
	}

	id, existing, fresh, err := p.assignBatchID(ctx, in.Date, hash)
	if err != nil {
		return nil, err
	}

	meta := existing
	if meta == nil {
		meta = &Metadata{BatchID: id.String(), Uploaded: p.now().UTC(), ContentHash: hash, Summary: in.Summary}
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryProcessing).Build()
	}

	log.Info("Publishing batch",
		logger.String("batch_id", id.String()),
		logger.Bool("reused", existing != nil),
		logger.String("content_hash", hash))

	assets := []asset{
		{
			name: ReelObject, key: p.batchKey(id.String(), ReelObject), contentType: "video/mp4",
			md5: reelMD5, size: reelSize,
			open: func() (io.ReadSeeker, io.Closer, error) {
				f, err := p.fs.Open(in.ReelPath)
				return f, f, err
			},
		},
		bytesAsset(WindowsObject, p.batchKey(id.String(), WindowsObject), in.Windows),
		bytesAsset(MetadataObject, p.batchKey(id.String(), MetadataObject), metaJSON),
	}

	res := &Result{BatchID: id.String(), Reused: existing != nil, Metadata: meta}
	// metadata.json marks the batch complete, so it goes up last
	err = p.uploadAll(ctx, assets[:2], res)
	if err == nil {
		err = p.uploadAll(ctx, assets[2:], res)
	}
	if err != nil {
		if fresh {
			p.discard(ctx, id)
		}
		return nil, err
	}

	// every asset is in place; only now may the index change
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err, "commit_index")
	}

	entry := meta.IndexEntry()
	committed, changed, err := p.commit(ctx, index.Version, func(ix *Index) (bool, error) {
		return ix.Upsert(entry), nil
	})
	if err != nil {
		return nil, err
	}
	res.Index, res.IndexChanged = committed, changed

	log.Info("Batch published",
		logger.String("batch_id", res.BatchID),
		logger.Int("uploaded", len(res.Uploaded)),
		logger.Int("skipped", len(res.Skipped)),
		logger.Bool("index_changed", res.IndexChanged))
	return res, nil
}

// Reindex commits the index entry for a batch whose assets are already
// uploaded. It recovers a publish that failed at the index step.
func (p *Publisher) Reindex(ctx context.Context, batchID string) (*Index, bool, error) {
	id, ok := ParseBatchID(batchID)
	if !ok {
		return nil, false, errors.Newf("invalid batch id %q", batchID).
			Category(errors.CategoryValidation).
			Build()
	}

	for _, name := range []string{ReelObject, WindowsObject} {
		if _, err := p.store.Stat(ctx, p.batchKey(id.String(), name)); err != nil {
			return nil, false, err
		}
	}
	meta, err := p.readMetadata(ctx, id)
	if err != nil {
		return nil, false, err
	}

	current, err := ReadIndex(ctx, p.store, p.opts.IndexKey)
	if err != nil {
		return nil, false, err
	}
	entry := meta.IndexEntry()
	return p.commit(ctx, current.Version, func(ix *Index) (bool, error) { return ix.Upsert(entry), nil })
}

// commit applies mutate through CommitIndex. On a version conflict only the
// index step is repeated, against the version that was found.
func (p *Publisher) commit(ctx context.Context, expected int64, mutate func(*Index) (bool, error)) (*Index, bool, error) {
	for attempt := 0; ; attempt++ {
		ix, changed, err := CommitIndex(ctx, p.store, p.opts.IndexKey, expected, mutate)
		if err == nil {
			status := metrics.StatusSuccess
			if !changed {
				status = metrics.StatusUnchanged
			}
			p.obs.RecordIndexUpdate(status, ix.Version, len(ix.Batches))
			return ix, changed, nil
		}
		var conflict *errors.IndexConflictError
		if !errors.As(err, &conflict) {
			p.obs.RecordIndexUpdate(metrics.StatusError, 0, 0)
			return nil, false, err
		}
		p.obs.RecordIndexUpdate(metrics.StatusConflict, 0, 0)
		if attempt >= p.opts.IndexRetries {
			return nil, false, err
		}
		GetLogger().Warn("Index changed during update, retrying index step",
			logger.Int64("expected", conflict.Expected),
			logger.Int64("found", conflict.Found),
			logger.Int("attempt", attempt+1))
		expected = conflict.Found
	}
}

// ListBatches returns the complete batches in storage, newest first.
func (p *Publisher) ListBatches(ctx context.Context) ([]BatchID, error) {
	complete, _, err := p.scanBatches(ctx)
	return complete, err
}

// scanBatches splits the batch directories in storage into complete ones,
// which hold metadata.json, and incomplete ones left by an interrupted
// publish. Both are newest first.
func (p *Publisher) scanBatches(ctx context.Context) (complete, incomplete []BatchID, err error) {
	objects, err := p.store.List(ctx, p.opts.Prefix+"/")
	if err != nil {
		return nil, nil, err
	}
	keys := make([]string, 0, len(objects))
	hasMeta := make(map[string]bool)
	for _, o := range objects {
		keys = append(keys, o.Key)
		if dir, ok := strings.CutSuffix(o.Key, "/"+MetadataObject); ok {
			hasMeta[path.Base(dir)] = true
		}
	}
	for _, id := range batchIDsFromKeys(p.opts.Prefix, keys) {
		if hasMeta[id.String()] {
			complete = append(complete, id)
		} else {
			incomplete = append(incomplete, id)
		}
	}
	return complete, incomplete, nil
}

// assignBatchID picks the batch ID for date. When an existing batch is
// reused its metadata is returned so the republished copy is byte-identical.
// fresh is true when the ID holds no complete batch, so a failed upload may
// remove whatever it left there.
func (p *Publisher) assignBatchID(ctx context.Context, date time.Time, hash string) (id BatchID, existing *Metadata, fresh bool, err error) {
	complete, incomplete, err := p.scanBatches(ctx)
	if err != nil {
		return BatchID{}, nil, false, err
	}
	first := NewBatchID(date, 1)
	done := sameDate(complete, first.Date)
	partial := sameDate(incomplete, first.Date)

	next := first
	for _, ids := range [][]BatchID{done, partial} {
		if len(ids) > 0 && ids[0].Seq >= next.Seq {
			next = NewBatchID(date, ids[0].Seq+1)
		}
	}

	// a partial directory under the canonical name is taken over rather
	// than skipped, so a retry of the same content keeps its ID
	var orphan *BatchID
	for i := range partial {
		if partial[i].String() == NewBatchID(date, partial[i].Seq).String() {
			orphan = &partial[i]
			break
		}
	}

	switch p.opts.Mode {
	case ModeNew:
		return next, nil, true, nil
	case ModeReplace:
		if len(done) > 0 {
			return done[0], nil, false, nil
		}
	default:
		for _, id := range done {
			meta, err := p.readMetadata(ctx, id)
			if err != nil {
				if storage.IsNotFound(err) || errors.IsCategory(err, errors.CategoryFileParsing) {
					continue
				}
				return BatchID{}, nil, false, err
			}
			if meta.ContentHash == hash {
				return id, meta, false, nil
			}
		}
	}
	if orphan != nil {
		GetLogger().Info("Taking over incomplete batch directory", logger.String("batch_id", orphan.String()))
		return *orphan, nil, true, nil
	}
	return next, nil, true, nil
}

// discard removes what a failed publish uploaded under a fresh batch ID.
// It runs even when ctx is cancelled and only logs its own failures.
func (p *Publisher) discard(ctx context.Context, id BatchID) {
	log := GetLogger()
	ctx = context.WithoutCancel(ctx)

	objects, err := p.store.List(ctx, p.opts.Prefix+"/"+id.String()+"/")
	if err != nil {
		log.Warn("Could not list partial batch for removal", logger.String("batch_id", id.String()), logger.Error(err))
		return
	}
	removed := 0
	for _, o := range objects {
		if err := p.store.Delete(ctx, o.Key); err != nil {
			log.Warn("Could not remove partial batch object", logger.String("key", o.Key), logger.Error(err))
			continue
		}
		removed++
	}
	log.Warn("Removed partial batch after failed upload",
		logger.String("batch_id", id.String()),
		logger.Int("objects", removed))
}

func (p *Publisher) readMetadata(ctx context.Context, id BatchID) (*Metadata, error) {
	key := p.batchKey(id.String(), MetadataObject)
	data, err := p.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("key", key).
			Build()
	}
	return &meta, nil
}

// uploadAll uploads assets on a bounded pool. A new upload starts only
// while ctx is live; uploads already running are allowed to finish.
func (p *Publisher) uploadAll(ctx context.Context, assets []asset, res *Result) error {
	sem := semaphore.NewWeighted(int64(p.opts.Workers))
	var (
		g       errgroup.Group
		mu      sync.Mutex
		skipped = make(map[string]bool)
	)

	var acquireErr error
	for _, a := range assets {
		if err := sem.Acquire(ctx, 1); err != nil {
			acquireErr = err
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			skip, err := p.uploadOne(ctx, a)
			switch {
			case err != nil:
				p.obs.RecordAsset(a.name, metrics.StatusError, a.size)
				return err
			case skip:
				p.obs.RecordAsset(a.name, metrics.StatusSkipped, a.size)
			default:
				p.obs.RecordAsset(a.name, metrics.StatusSuccess, a.size)
			}
			mu.Lock()
			skipped[a.name] = skip
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return err
	}
	if acquireErr != nil {
		return cancelled(acquireErr, "upload")
	}

	for _, a := range assets {
		if skipped[a.name] {
			res.Skipped = append(res.Skipped, a.name)
		} else {
			res.Uploaded = append(res.Uploaded, a.name)
		}
	}
	return nil
}

// uploadOne uploads a, or reports true when the remote copy already matches.
func (p *Publisher) uploadOne(ctx context.Context, a asset) (bool, error) {
	log := GetLogger()

	if remote, err := p.store.Stat(ctx, a.key); err == nil {
		if unchanged(remote, a.md5, a.size) {
			log.Debug("Skipping unchanged object", logger.String("key", a.key))
			return true, nil
		}
	} else if !storage.IsNotFound(err) {
		return false, err
	}

	body, closer, err := a.open()
	if err != nil {
		return false, errors.New(err).
			Category(errors.CategoryFileIO).
			Context("asset", a.name).
			Build()
	}
	defer closer.Close()

	start := time.Now()
	if err := p.store.Put(ctx, a.key, body, a.size, a.contentType); err != nil {
		return false, err
	}
	log.Info("Uploaded object",
		logger.String("key", a.key),
		logger.Int64("bytes", a.size),
		logger.Duration("elapsed", time.Since(start)))
	return false, nil
}

// unchanged compares a remote object with local content. A plain ETag is the
// content MD5; a multipart ETag or a backend without ETags falls back to size.
func unchanged(remote storage.ObjectInfo, localMD5 string, localSize int64) bool {
	if remote.ETag != "" && !strings.Contains(remote.ETag, "-") {
		return strings.EqualFold(remote.ETag, localMD5)
	}
	return remote.Size == localSize
}

func (p *Publisher) hashFile(name string) (string, int64, error) {
	f, err := p.fs.Open(name)
	if err != nil {
		return "", 0, errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", name).
			Build()
	}
	defer f.Close()

	sum, err := md5Hex(f)
	if err != nil {
		return "", 0, errors.New(err).Category(errors.CategoryFileIO).Context("path", name).Build()
	}
	fi, err := f.Stat()
	if err != nil {
		return "", 0, errors.New(err).Category(errors.CategoryFileIO).Context("path", name).Build()
	}
	return sum, fi.Size(), nil
}

func bytesAsset(name, key string, data []byte) asset {
	sum, _ := md5Hex(bytes.NewReader(data))
	return asset{
		name: name, key: key, contentType: "application/json",
		md5: sum, size: int64(len(data)),
		open: func() (io.ReadSeeker, io.Closer, error) {
			return bytes.NewReader(data), io.NopCloser(nil), nil
		},
	}
}

func cancelled(err error, op string) error {
	return errors.New(err).
		Category(errors.CategoryCancellation).
		Context("operation", op).
		Build()
}
