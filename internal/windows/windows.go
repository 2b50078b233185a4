// Package windows picks the best fixed-length viewing window in the
// highlights reel for each species, and one overall window with the most
// varied activity.
package windows

import (
	"cmp"
	"encoding/json"
	"slices"

	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/detection"
	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/highlights"
	"github.com/rssrn/birdbird/internal/logger"
)

// boundary tolerance for the closed window [start, start+length]
const epsilon = 1e-9

// Point is a species detection projected onto the reel.
type Point struct {
	Offset     float64
	Confidence float64
	Label      string
}

// Weights are the coefficients of the window score.
type Weights struct {
	Variety    float64 `json:"variety"`
	Confidence float64 `json:"confidence"`
	Count      float64 `json:"count"`
}

// Window is a scored viewing window in reel time.
type Window struct {
	Label          string  `json:"species,omitempty"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Score          float64 `json:"score"`
	Count          int     `json:"count"`
	Distinct       int     `json:"distinct"`
	MeanConfidence float64 `json:"mean_confidence"`
}

// Options configures a Selector.
type Options struct {
	Length  float64
	Weights Weights
}

// OptionsFromSettings builds selector options from configuration.
func OptionsFromSettings(s *conf.WindowSettings) Options {
	return Options{
		Length: s.Length,
		Weights: Weights{
			Variety:    s.VarietyWeight,
			Confidence: s.ConfidenceWeight,
			Count:      s.CountWeight,
		},
	}
}

// Selector scores windows over projected detections.
type Selector struct {
	opts Options
}

// NewSelector validates opts and returns a selector.
func NewSelector(opts Options) (*Selector, error) {
	if opts.Length <= 0 {
		return nil, errors.Newf("window length must be positive, got %v", opts.Length).
			Category(errors.CategoryValidation).
			Build()
	}
	w := opts.Weights
	if w.Variety < 0 || w.Confidence < 0 || w.Count < 0 {
		return nil, errors.Newf("window weights must not be negative").
			Category(errors.CategoryValidation).
			Context("weights", w).
			Build()
	}
	return &Selector{opts: opts}, nil
}

// Project maps rank-1 species events onto the reel. Events whose clip
// segment was excluded, or that fall outside every segment, are dropped and
// counted in the second return value.
func Project(tl *highlights.Timeline, events []detection.Event) ([]Point, int) {
	points := make([]Point, 0, len(events))
	dropped := 0
	for _, ev := range events {
		if !ev.Source.IsSpecies() || !ev.Primary() {
			continue
		}
		offset, ok := tl.Map(ev.ClipID, ev.Offset)
		if !ok {
			dropped++
			continue
		}
		points = append(points, Point{Offset: offset, Confidence: ev.Confidence, Label: ev.Label})
	}
	sortPoints(points)
	return points, dropped
}

// PerSpecies returns the best window for every label in points, ordered by label.
func (s *Selector) PerSpecies(points []Point) []Window {
	byLabel := make(map[string][]Point)
	for _, p := range points {
		byLabel[p.Label] = append(byLabel[p.Label], p)
	}

	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	slices.Sort(labels)

	out := make([]Window, 0, len(labels))
	for _, label := range labels {
		if w, ok := s.sweep(byLabel[label]); ok {
			w.Label = label
			out = append(out, w)
		}
	}
	return out
}

// Global returns the single window with the best score across all labels,
// where the variety term rewards windows showing several species.
func (s *Selector) Global(points []Point) (Window, bool) {
	return s.sweep(points)
}

// sweep evaluates every window start at which the set of covered points can
// change and returns the best one. Ties keep the earliest start.
func (s *Selector) sweep(points []Point) (Window, bool) {
	if len(points) == 0 {
		return Window{}, false
	}
	pts := slices.Clone(points)
	sortPoints(pts)
	length := s.opts.Length

	// a window changes content only when its start passes a point or its
	// end reaches one
	starts := make([]float64, 0, 2*len(pts))
	for _, p := range pts {
		starts = append(starts, p.Offset, max(0, p.Offset-length))
	}
	slices.Sort(starts)
	starts = slices.Compact(starts)

	var (
		lo, hi int
		sum    float64
		labels = make(map[string]int)
		best   Window
		found  bool
	)
	for _, start := range starts {
		for hi < len(pts) && pts[hi].Offset <= start+length+epsilon {
			sum += pts[hi].Confidence
			labels[pts[hi].Label]++
			hi++
		}
		for lo < hi && pts[lo].Offset < start-epsilon {
			sum -= pts[lo].Confidence
			if labels[pts[lo].Label]--; labels[pts[lo].Label] == 0 {
				delete(labels, pts[lo].Label)
			}
			lo++
		}

		n := hi - lo
		if n == 0 {
			continue
		}
		mean := sum / float64(n)
		score := s.opts.Weights.Variety*float64(len(labels)) +
			s.opts.Weights.Confidence*mean +
			s.opts.Weights.Count*float64(n)

		if !found || score > best.Score+epsilon {
			best = Window{
				Start:          start,
				End:            start + length,
				Score:          score,
				Count:          n,
				Distinct:       len(labels),
				MeanConfidence: mean,
			}
			found = true
		}
	}
	return best, found
}

func sortPoints(points []Point) {
	slices.SortStableFunc(points, func(a, b Point) int {
		return cmp.Or(
			cmp.Compare(a.Offset, b.Offset),
			cmp.Compare(a.Label, b.Label),
			cmp.Compare(b.Confidence, a.Confidence),
		)
	})
}

// Document is the published windows artifact.
type Document struct {
	WindowLength float64  `json:"window_length"`
	Weights      Weights  `json:"weights"`
	Species      []Window `json:"species"`
	Best         *Window  `json:"best,omitempty"`
	Unmapped     int      `json:"unmapped_events"`
}

// Select projects events onto the timeline and builds the windows document.
func (s *Selector) Select(tl *highlights.Timeline, events []detection.Event) *Document {
	points, dropped := Project(tl, events)
	doc := &Document{
		WindowLength: s.opts.Length,
		Weights:      s.opts.Weights,
		Species:      s.PerSpecies(points),
		Unmapped:     dropped,
	}
	if w, ok := s.Global(points); ok {
		doc.Best = &w
	}

	GetLogger().Info("Selected viewing windows",
		logger.Int("species", len(doc.Species)),
		logger.Int("points", len(points)),
		logger.Int("unmapped", dropped))
	return doc
}

// Marshal encodes the document as indented JSON.
func (d *Document) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}
