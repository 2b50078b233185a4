package pipeline

import (
	"context"

	"github.com/spf13/afero"

	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/ffmpeg"
	"github.com/rssrn/birdbird/internal/notification"
	"github.com/rssrn/birdbird/internal/observability"
	"github.com/rssrn/birdbird/internal/storage"
)

// Need selects the external collaborators Open sets up.
type Need int

const (
	// NeedTranscoder locates ffmpeg and ffprobe.
	NeedTranscoder Need = 1 << iota
	// NeedStore opens the configured object store.
	NeedStore
)

// Open builds a runner from settings. Only the collaborators in needs are
// set up, so processing needs no credentials and publishing needs no ffmpeg.
func Open(ctx context.Context, settings *conf.Settings, needs Need) (*Runner, error) {
	deps := Deps{Fs: afero.NewOsFs()}

	var err error
	if needs&NeedTranscoder != 0 {
		if deps.Transcoder, err = ffmpeg.NewExecutor(ffmpeg.OptionsFromSettings(&settings.Highlights)); err != nil {
			return nil, err
		}
	}

	if settings.Metrics.Enabled {
		if deps.Metrics, err = observability.NewMetrics(settings.Storage.Backend); err != nil {
			return nil, errors.New(err).
				Category(errors.CategoryConfiguration).
				Context("operation", "create_metrics").
				Build()
		}
	}

	if deps.Notifier, err = notification.NewNotifier(&settings.Notification); err != nil {
		return nil, err
	}

	if needs&NeedStore != 0 {
		deps.Store, err = storage.Open(ctx, &settings.Storage, settings.Publish.Retry, settings.Publish.UploadTimeout)
		if err != nil {
			return nil, err
		}
	}

	r, err := New(settings, deps)
	if err != nil {
		if deps.Store != nil {
			deps.Store.Close()
		}
		return nil, err
	}
	return r, nil
}

// Close writes the metrics textfile and releases the object store.
func (r *Runner) Close() error {
	var errs []error
	if err := r.Flush(); err != nil {
		errs = append(errs, err)
	}
	if r.deps.Store != nil {
		if err := r.deps.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
