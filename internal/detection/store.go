package detection

import (
	"cmp"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/logger"
)

// OffsetTolerance is how far past the end of a clip an event may lie before
// it is rejected. Smaller overshoots are kept and clamped downstream.
const OffsetTolerance = 0.5

// Malformed event reasons used as counter keys.
const (
	ReasonUnknownClip     = "unknown_clip"
	ReasonNegativeOffset  = "negative_offset"
	ReasonOffsetRange     = "offset_out_of_range"
	ReasonConfidenceRange = "confidence_out_of_range"
	ReasonUnknownSource   = "unknown_source"
	ReasonBadRecord       = "bad_record"
)

// Store holds the normalized events of one batch, ordered by clip capture
// time and offset.
type Store struct {
	inventory *Inventory
	clipOrder map[string]int
	events    []Event
	sorted    bool
	malformed map[string]int
}

// NewStore creates an empty store for the clips of inv.
func NewStore(inv *Inventory) *Store {
	order := make(map[string]int, len(inv.Clips))
	for i := range inv.Clips {
		order[inv.Clips[i].ID] = i
	}
	return &Store{
		inventory: inv,
		clipOrder: order,
		sorted:    true,
		malformed: make(map[string]int),
	}
}

// Inventory returns the clip inventory the store validates against.
func (s *Store) Inventory() *Inventory {
	return s.inventory
}

// Add validates ev and appends it. A rejected event is counted and a
// *errors.MalformedEventError is returned; callers treat it as a warning.
func (s *Store) Add(ev Event) error {
	if reason, detail := s.check(ev); reason != "" {
		s.malformed[reason]++
		return &errors.MalformedEventError{
			Source: string(ev.Source),
			ClipID: ev.ClipID,
			Offset: ev.Offset,
			Reason: detail,
		}
	}
	s.events = append(s.events, ev)
	s.sorted = false
	return nil
}

func (s *Store) check(ev Event) (reason, detail string) {
	if !ev.Source.Valid() {
		return ReasonUnknownSource, "unknown detector source"
	}
	clip, ok := s.inventory.Lookup(ev.ClipID)
	if !ok {
		return ReasonUnknownClip, "clip is not part of the batch"
	}
	if ev.Offset < 0 {
		return ReasonNegativeOffset, "negative offset"
	}
	if ev.Offset > clip.Duration+OffsetTolerance {
		return ReasonOffsetRange, "offset beyond clip duration"
	}
	if ev.Confidence < 0 || ev.Confidence > 1 {
		return ReasonConfidenceRange, "confidence outside 0..1"
	}
	return "", ""
}

// Ingest adds every event of a normalized document and counts the records
// the normalizer already rejected. It returns the number of events accepted.
func (s *Store) Ingest(n *Normalized) int {
	log := GetLogger()
	for _, m := range n.Malformed {
		s.malformed[ReasonBadRecord]++
		log.Debug("Dropped detector record", logger.Error(m))
	}

	accepted := 0
	for _, ev := range n.Events {
		if err := s.Add(ev); err != nil {
			log.Debug("Dropped detection event", logger.Error(err))
			continue
		}
		accepted++
	}
	return accepted
}

func (s *Store) ensureSorted() {
	if s.sorted {
		return
	}
	slices.SortStableFunc(s.events, func(a, b Event) int {
		return cmp.Or(
			cmp.Compare(s.clipOrder[a.ClipID], s.clipOrder[b.ClipID]),
			cmp.Compare(a.Offset, b.Offset),
			cmp.Compare(a.Rank, b.Rank),
			strings.Compare(string(a.Source), string(b.Source)),
		)
	})
	s.sorted = true
}

// Events returns all accepted events in batch order. The slice must not be modified.
func (s *Store) Events() []Event {
	s.ensureSorted()
	return s.events
}

// Len returns the number of accepted events.
func (s *Store) Len() int {
	return len(s.events)
}

// Presence is the visual presence evidence for one clip.
type Presence struct {
	Offsets   []float64 // positive sample offsets, ascending
	OpenEnded bool      // no samples were taken after the first positive
}

// Presence returns the presence evidence of each clip. Clips without
// presence events are absent from the map.
func (s *Store) Presence() map[string]Presence {
	s.ensureSorted()
	out := make(map[string]Presence)
	for _, ev := range s.events {
		if ev.Source != SourceVisualPresence {
			continue
		}
		p := out[ev.ClipID]
		p.Offsets = append(p.Offsets, ev.Offset)
		p.OpenEnded = p.OpenEnded || ev.OpenEnded
		out[ev.ClipID] = p
	}
	return out
}

// SpeciesEvents returns the first-choice species events in batch order.
func (s *Store) SpeciesEvents() []Event {
	s.ensureSorted()
	var out []Event
	for _, ev := range s.events {
		if ev.Source.IsSpecies() && ev.Primary() {
			out = append(out, ev)
		}
	}
	return out
}

// SpeciesCounts returns the number of first-choice events per label.
func (s *Store) SpeciesCounts() map[string]int {
	counts := make(map[string]int)
	for _, ev := range s.SpeciesEvents() {
		counts[ev.Label]++
	}
	return counts
}

// Malformed returns the number of dropped events per reason.
func (s *Store) Malformed() map[string]int {
	return maps.Clone(s.malformed)
}

// MalformedTotal returns the number of dropped events.
func (s *Store) MalformedTotal() int {
	total := 0
	for _, v := range s.malformed {
		total += v
	}
	return total
}

// DetectorFiles names the detector output documents relative to a work dir.
type DetectorFiles struct {
	Presence string
	Species  string
	Songs    string
}

// LoadDetectorOutput reads whichever detector documents exist under workDir
// and ingests them into s. A missing document means that detector did not
// run and is not an error; an unreadable or unparseable one is.
func LoadDetectorOutput(fsys afero.Fs, workDir string, files DetectorFiles, threshold float64, s *Store) error {
	log := GetLogger()

	type loader struct {
		source    Source
		file      string
		normalize func([]byte) (*Normalized, error)
	}
	loaders := []loader{
		{SourceVisualPresence, files.Presence, func(b []byte) (*Normalized, error) { return NormalizePresence(b, threshold) }},
		{SourceVisualSpecies, files.Species, NormalizeSpecies},
		{SourceAudioSpecies, files.Songs, NormalizeSongs},
	}

	for _, l := range loaders {
		if l.file == "" {
			continue
		}
		path := filepath.Join(workDir, l.file)
		data, err := afero.ReadFile(fsys, path)
		if err != nil {
			if exists, _ := afero.Exists(fsys, path); !exists {
				log.Info("Detector output not found, skipping", logger.String("source", string(l.source)), logger.String("path", path))
				continue
			}
			return errors.New(err).
				Category(errors.CategoryFileIO).
				Context("operation", "read_detector_output").
				Context("path", path).
				Build()
		}

		normalized, err := l.normalize(data)
		if err != nil {
			return errors.New(err).
				Category(errors.CategoryFileParsing).
				Context("operation", "normalize_detector_output").
				Context("path", path).
				Build()
		}

		accepted := s.Ingest(normalized)
		log.Info("Loaded detector output",
			logger.String("source", string(l.source)),
			logger.Int("events", accepted),
			logger.Int("rejected", len(normalized.Events)-accepted+len(normalized.Malformed)))
	}

	if total := s.MalformedTotal(); total > 0 {
		log.Warn("Dropped malformed detection events", logger.Int("count", total), logger.Any("by_reason", s.Malformed()))
	}
	return nil
}
