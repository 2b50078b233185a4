// Package highlights cuts the active segments out of each clip and joins
// them into a single chronological reel.
package highlights

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/detection"
	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/logger"
	"github.com/rssrn/birdbird/internal/segments"
)

// ErrNoActivity is returned when no clip has an active segment.
var ErrNoActivity = errors.NewStd("no active segments to assemble")

// Transcoder is the external tool seam used by the assembler.
type Transcoder interface {
	Extract(ctx context.Context, input string, start, end float64, output string) error
	Concat(ctx context.Context, parts []string, output string) error
	Duration(ctx context.Context, path string) (float64, error)
}

// ExcludedClip records a clip whose segments were left out of the reel.
type ExcludedClip struct {
	ClipID string `json:"clip_id"`
	Reason string `json:"reason"`
}

// Stats summarizes an assembly run.
type Stats struct {
	ClipCount        int            `json:"clip_count"`
	ActiveClipCount  int            `json:"active_clip_count"`
	SegmentCount     int            `json:"segment_count"`
	OriginalDuration float64        `json:"original_duration"` // all footage
	ActiveDuration   float64        `json:"active_duration"`   // clips with activity
	FinalDuration    float64        `json:"final_duration"`    // reel
	Excluded         []ExcludedClip `json:"excluded,omitempty"`
	Elapsed          time.Duration  `json:"-"`
}

// Result is the output of Assemble.
type Result struct {
	Output   string
	Timeline *Timeline
	Stats    Stats
}

// Options configures an Assembler.
type Options struct {
	Output  string // reel path
	Workers int    // concurrent extractions
}

// OptionsFromSettings builds assembler options from configuration.
func OptionsFromSettings(s *conf.HighlightSettings) Options {
	return Options{Output: s.Output, Workers: s.Workers}
}

// Assembler builds the highlights reel.
type Assembler struct {
	tc   Transcoder
	opts Options
}

// NewAssembler returns an assembler using tc for all media operations.
func NewAssembler(tc Transcoder, opts Options) *Assembler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Assembler{tc: tc, opts: opts}
}

// clipJob is the extraction work for one clip.
type clipJob struct {
	clip  detection.Clip
	segs  []segments.Segment
	parts []string
	err   error
}

// Assemble extracts every segment and concatenates the parts in clip
// capture order. A clip whose extraction fails is excluded and reported in
// Stats; a failed concatenation is fatal and leaves no reel behind.
func (a *Assembler) Assemble(ctx context.Context, inv *detection.Inventory, segs []segments.Segment) (*Result, error) {
	log := GetLogger()
	started := time.Now()

	jobs := groupByClip(inv, segs)
	stats := Stats{
		ClipCount:        len(inv.Clips),
		ActiveClipCount:  len(jobs),
		SegmentCount:     len(segs),
		OriginalDuration: inv.TotalDuration(),
	}
	for i := range jobs {
		stats.ActiveDuration += jobs[i].clip.Duration
	}

	if len(jobs) == 0 {
		return nil, errors.New(ErrNoActivity).
			Category(errors.CategoryProcessing).
			Context("clips", len(inv.Clips)).
			Build()
	}

	if err := os.MkdirAll(filepath.Dir(a.opts.Output), 0o755); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "create_output_dir").
			Context("path", a.opts.Output).
			Build()
	}
	workDir, err := os.MkdirTemp(filepath.Dir(a.opts.Output), ".highlights-*")
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "create_work_dir").
			Build()
	}
	defer os.RemoveAll(workDir)

	log.Info("Extracting segments",
		logger.Int("clips", len(jobs)),
		logger.Int("segments", len(segs)),
		logger.Int("workers", a.opts.Workers))

	a.extractAll(ctx, jobs, workDir)

	if err := ctx.Err(); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryCancellation).
			Context("operation", "extract_segments").
			Build()
	}

	var (
		parts   []string
		entries []Entry
		reel    float64
	)
	for i := range jobs {
		job := &jobs[i]
		if job.err != nil {
			stats.Excluded = append(stats.Excluded, ExcludedClip{ClipID: job.clip.ID, Reason: job.err.Error()})
			for _, s := range job.segs {
				entries = append(entries, Entry{
					ClipID: s.ClipID, ClipStart: s.Start, ClipEnd: s.End,
					ReelStart: reel, ReelEnd: reel,
					Excluded: true, Reason: job.err.Error(),
				})
			}
			continue
		}

		for k, s := range job.segs {
			length := s.Duration()
			// cuts snap to keyframes under stream copy, so measure what was written
			if probed, err := a.tc.Duration(ctx, job.parts[k]); err == nil && probed > 0 {
				length = probed
			}
			entries = append(entries, Entry{
				ClipID: s.ClipID, ClipStart: s.Start, ClipEnd: s.End,
				ToClipEnd: s.End >= job.clip.Duration,
				ReelStart: reel, ReelEnd: reel + length,
			})
			reel += length
			parts = append(parts, job.parts[k])
		}
	}

	if len(parts) == 0 {
		return nil, &errors.ConcatenationError{
			Output: a.opts.Output,
			Err:    fmt.Errorf("all %d clips failed extraction", len(jobs)),
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryCancellation).
			Context("operation", "concatenate").
			Build()
	}

	log.Info("Concatenating reel", logger.Int("parts", len(parts)), logger.String("output", a.opts.Output))
	if err := a.tc.Concat(ctx, parts, a.opts.Output); err != nil {
		os.Remove(a.opts.Output)
		return nil, &errors.ConcatenationError{Output: a.opts.Output, Parts: len(parts), Err: err}
	}

	stats.FinalDuration = reel
	if probed, err := a.tc.Duration(ctx, a.opts.Output); err == nil && probed > 0 {
		stats.FinalDuration = probed
	}
	stats.Elapsed = time.Since(started)

	log.Info("Highlights reel ready",
		logger.String("output", a.opts.Output),
		logger.Float64("original_seconds", stats.OriginalDuration),
		logger.Float64("final_seconds", stats.FinalDuration),
		logger.Int("excluded_clips", len(stats.Excluded)),
		logger.Duration("elapsed", stats.Elapsed))

	return &Result{Output: a.opts.Output, Timeline: NewTimeline(entries), Stats: stats}, nil
}

// extractAll runs clip jobs on a bounded pool. Failures are recorded on the
// job rather than returned, so one bad clip never stops the others.
func (a *Assembler) extractAll(ctx context.Context, jobs []clipJob, workDir string) {
	log := GetLogger()

	var g errgroup.Group
	g.SetLimit(a.opts.Workers)

	for i := range jobs {
		// cancellation is honoured between clips, never mid-extraction
		if ctx.Err() != nil {
			break
		}
		job := &jobs[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				job.err = ctx.Err()
				return nil
			}
			for k, s := range job.segs {
				part := filepath.Join(workDir, fmt.Sprintf("%04d-%02d.mp4", i, k))
				if err := a.tc.Extract(ctx, job.clip.Path, s.Start, s.End, part); err != nil {
					job.err = &errors.ClipExtractionError{ClipID: job.clip.ID, Err: err}
					log.Warn("Clip extraction failed, excluding clip from reel",
						logger.String("clip", job.clip.ID),
						logger.Error(err))
					for _, p := range job.parts {
						os.Remove(p)
					}
					job.parts = nil
					return nil
				}
				job.parts = append(job.parts, part)
			}
			return nil
		})
	}

	_ = g.Wait()
}

// groupByClip pairs segments with their clips in chronological clip order.
func groupByClip(inv *detection.Inventory, segs []segments.Segment) []clipJob {
	byClip := make(map[string][]segments.Segment)
	for _, s := range segs {
		byClip[s.ClipID] = append(byClip[s.ClipID], s)
	}

	clips := make([]detection.Clip, 0, len(byClip))
	for id := range byClip {
		if clip, ok := inv.Lookup(id); ok {
			clips = append(clips, clip)
		}
	}
	detection.SortClips(clips)

	jobs := make([]clipJob, 0, len(clips))
	for _, clip := range clips {
		jobs = append(jobs, clipJob{clip: clip, segs: byClip[clip.ID]})
	}
	return jobs
}
