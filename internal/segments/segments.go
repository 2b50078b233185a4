// Package segments turns sparse presence samples into tight activity
// intervals within each clip.
//
// The presence detector scores frames at fixed instants: densely near the
// start of a clip, where birds that triggered the camera are most likely,
// and sparsely afterwards. A Segment edge is placed halfway between the last
// positive sample of a run and the neighbouring negative one, so boundaries
// come from the cached sample timeline without decoding any video.
package segments

import (
	"math"
	"slices"
	"sort"

	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/detection"
	"github.com/rssrn/birdbird/internal/logger"
)

// epsilon is the tolerance used when matching offsets to sample instants.
const epsilon = 1e-6

// Segment is an active interval [Start, End) within one clip, in seconds.
type Segment struct {
	ClipID string
	Start  float64
	End    float64
}

// Duration returns the length of the segment in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Contains reports whether offset lies in [Start, End). The clip end is
// treated as inside a segment that reaches it.
func (s Segment) Contains(offset, clipDuration float64) bool {
	if offset >= s.Start && offset < s.End {
		return true
	}
	return s.End >= clipDuration && offset >= s.Start && offset <= s.End
}

// Cadence is the presence detector's sampling schedule.
type Cadence struct {
	DenseInterval  float64 // spacing of samples inside DenseWindow
	DenseWindow    float64 // length of the densely sampled lead-in
	SparseInterval float64 // spacing of samples after the lead-in
}

// DefaultCadence returns four samples a second for the first second, then one a second.
func DefaultCadence() Cadence {
	return Cadence{
		DenseInterval:  conf.DefaultDenseInterval,
		DenseWindow:    conf.DefaultDenseWindow,
		SparseInterval: conf.DefaultSparseInterval,
	}
}

// Instants returns the sample times in [0, duration) in ascending order.
func (c Cadence) Instants(duration float64) []float64 {
	if duration <= 0 || c.DenseInterval <= 0 || c.SparseInterval <= 0 {
		return nil
	}

	var out []float64
	for i := 0; ; i++ {
		t := float64(i) * c.DenseInterval
		if t >= c.DenseWindow-epsilon || t >= duration {
			break
		}
		out = append(out, t)
	}
	for i := 0; ; i++ {
		t := c.DenseWindow + float64(i)*c.SparseInterval
		if t >= duration {
			break
		}
		out = append(out, t)
	}
	return out
}

// Options configures a Resolver.
type Options struct {
	Cadence        Cadence
	MergeThreshold float64 // runs whose edges are this close are joined; 0 means the sparse interval
	BufferBefore   float64
	BufferAfter    float64
}

// OptionsFromSettings builds resolver options from configuration.
func OptionsFromSettings(s *conf.SegmentSettings) Options {
	return Options{
		Cadence: Cadence{
			DenseInterval:  s.DenseInterval,
			DenseWindow:    s.DenseWindow,
			SparseInterval: s.SparseInterval,
		},
		MergeThreshold: s.MergeThreshold,
		BufferBefore:   s.BufferBefore,
		BufferAfter:    s.BufferAfter,
	}
}

// Resolver converts presence offsets into segments. It is stateless and safe
// for concurrent use.
type Resolver struct {
	opts Options
}

// NewResolver creates a resolver. A zero merge threshold falls back to the
// sparse sampling interval.
func NewResolver(opts Options) *Resolver {
	if opts.MergeThreshold <= 0 {
		opts.MergeThreshold = opts.Cadence.SparseInterval
	}
	return &Resolver{opts: opts}
}

// Resolve returns the segments of one clip given its sorted positive
// presence offsets. A clip without positives yields no segments.
func (r *Resolver) Resolve(clipID string, duration float64, positives []float64) []Segment {
	if duration <= 0 || len(positives) == 0 {
		return nil
	}

	// Upstream offsets may overshoot the clip slightly; clamp rather than reject.
	pos := make([]float64, 0, len(positives))
	for _, p := range positives {
		pos = append(pos, math.Min(math.Max(p, 0), duration))
	}
	slices.Sort(pos)
	pos = dedupe(pos)

	instants := dedupe(mergeSorted(r.opts.Cadence.Instants(duration), pos))

	// Locate every positive on the sample timeline and group consecutive ones into runs.
	type run struct{ first, last int }
	var runs []run
	for _, p := range pos {
		i := sort.Search(len(instants), func(k int) bool { return instants[k] >= p-epsilon })
		if n := len(runs); n > 0 && runs[n-1].last == i-1 {
			runs[n-1].last = i
			continue
		}
		runs = append(runs, run{first: i, last: i})
	}

	segs := make([]Segment, 0, len(runs))
	for _, rn := range runs {
		start := 0.0
		if rn.first > 0 {
			start = (instants[rn.first-1] + instants[rn.first]) / 2
		}
		end := duration
		if rn.last < len(instants)-1 {
			end = (instants[rn.last] + instants[rn.last+1]) / 2
		}
		segs = append(segs, Segment{ClipID: clipID, Start: start, End: end})
	}

	segs = merge(segs, r.opts.MergeThreshold)

	if r.opts.BufferBefore > 0 || r.opts.BufferAfter > 0 {
		for i := range segs {
			segs[i].Start = math.Max(0, segs[i].Start-r.opts.BufferBefore)
			segs[i].End = math.Min(duration, segs[i].End+r.opts.BufferAfter)
		}
		segs = merge(segs, r.opts.MergeThreshold)
	}

	return segs
}

// ResolveOpenEnded returns the single segment of a clip whose presence was
// only sampled up to first: it runs from first, less the leading buffer, to
// the end of the clip.
func (r *Resolver) ResolveOpenEnded(clipID string, duration, first float64) []Segment {
	if duration <= 0 {
		return nil
	}
	first = math.Min(math.Max(first, 0), duration)
	return []Segment{{ClipID: clipID, Start: math.Max(0, first-r.opts.BufferBefore), End: duration}}
}

// ResolveBatch resolves every clip of inv in chronological order. Clips
// without presence offsets contribute nothing.
func (r *Resolver) ResolveBatch(inv *detection.Inventory, presence map[string]detection.Presence) []Segment {
	log := GetLogger()

	var out []Segment
	active := 0
	for i := range inv.Clips {
		clip := &inv.Clips[i]
		p := presence[clip.ID]
		var segs []Segment
		switch {
		case len(p.Offsets) == 0:
		case p.OpenEnded:
			segs = r.ResolveOpenEnded(clip.ID, clip.Duration, p.Offsets[0])
		default:
			segs = r.Resolve(clip.ID, clip.Duration, p.Offsets)
		}
		if len(segs) == 0 {
			continue
		}
		active++
		out = append(out, segs...)
		log.Debug("Resolved clip segments",
			logger.String("clip", clip.ID),
			logger.Int("segments", len(segs)),
			logger.Float64("active_seconds", TotalDuration(segs)))
	}

	log.Info("Resolved activity segments",
		logger.Int("clips", len(inv.Clips)),
		logger.Int("active_clips", active),
		logger.Int("segments", len(out)))
	return out
}

// TotalDuration sums the length of segs.
func TotalDuration(segs []Segment) float64 {
	var total float64
	for _, s := range segs {
		total += s.Duration()
	}
	return total
}

// merge joins neighbouring segments separated by at most gap seconds.
// segs must be sorted by Start.
func merge(segs []Segment, gap float64) []Segment {
	if len(segs) < 2 {
		return segs
	}
	out := segs[:1]
	for _, s := range segs[1:] {
		last := &out[len(out)-1]
		if s.Start-last.End <= gap+epsilon {
			last.End = math.Max(last.End, s.End)
			continue
		}
		out = append(out, s)
	}
	return out
}

func mergeSorted(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// dedupe drops values within epsilon of their predecessor from a sorted slice.
func dedupe(s []float64) []float64 {
	if len(s) < 2 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v-out[len(out)-1] > epsilon {
			out = append(out, v)
		}
	}
	return out
}
