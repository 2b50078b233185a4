// Package detection normalizes the output of the external detectors into a
// single ordered event model keyed by clip and offset.
//
// Three detectors run over a batch independently:
//   - the presence detector samples frames and scores "is there a bird"
//   - the visual species classifier labels frames with ranked hypotheses
//   - the audio analyzer reports vocalizations per clip
//
// Each detector writes its own JSON shape. The normalizers in this package
// are the only code that knows those shapes; everything downstream works on
// Event values.
package detection

import (
	"fmt"
)

// Source identifies the detector that produced an event.
type Source string

const (
	SourceVisualPresence Source = "visual-presence"
	SourceVisualSpecies  Source = "visual-species"
	SourceAudioSpecies   Source = "audio-species"
)

// PresenceLabel is the label carried by every visual-presence event.
const PresenceLabel = "bird"

// Valid reports whether s is a known detector source.
func (s Source) Valid() bool {
	switch s {
	case SourceVisualPresence, SourceVisualSpecies, SourceAudioSpecies:
		return true
	}
	return false
}

// IsSpecies reports whether events from s carry a species label.
func (s Source) IsSpecies() bool {
	return s == SourceVisualSpecies || s == SourceAudioSpecies
}

// Event is one detector observation. Events are values and are never
// modified after normalization.
type Event struct {
	Source     Source
	ClipID     string  // clip file name, e.g. "1514302300.avi"
	Offset     float64 // seconds from the start of the clip
	Confidence float64 // 0.0-1.0
	Label      string  // normalized species name, or "bird" for presence
	Rank       int     // 1 for the top hypothesis; 0 when the detector does not rank
	// OpenEnded marks a presence event after which the detector took no
	// further samples; the bird is taken to stay until the clip ends.
	OpenEnded bool
}

// Primary reports whether the event is a detector's first choice.
// Unranked events count as primary.
func (e Event) Primary() bool {
	return e.Rank <= 1
}

func (e Event) String() string {
	if e.Rank > 0 {
		return fmt.Sprintf("%s %s@%.2fs %s #%d (%.2f)", e.Source, e.ClipID, e.Offset, e.Label, e.Rank, e.Confidence)
	}
	return fmt.Sprintf("%s %s@%.2fs %s (%.2f)", e.Source, e.ClipID, e.Offset, e.Label, e.Confidence)
}
