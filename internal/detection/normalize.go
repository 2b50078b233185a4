package detection

import (
	"strings"

	"github.com/antonholmquist/jason"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/rssrn/birdbird/internal/errors"
)

// Normalized is the result of mapping one detector document.
type Normalized struct {
	Events    []Event
	Malformed []*errors.MalformedEventError
}

func (n *Normalized) reject(source Source, clipID string, offset float64, reason string) {
	n.Malformed = append(n.Malformed, &errors.MalformedEventError{
		Source: string(source),
		ClipID: clipID,
		Offset: offset,
		Reason: reason,
	})
}

// NormalizeLabel returns the canonical form of a species label: NFC,
// trimmed, single-spaced and title-cased.
func NormalizeLabel(label string) string {
	label = norm.NFC.String(label)
	label = strings.Join(strings.Fields(label), " ")
	if label == "" {
		return ""
	}
	return cases.Title(language.English).String(label)
}

func parseDocument(source Source, data []byte) (*jason.Object, error) {
	doc, err := jason.NewObjectFromBytes(data)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("source", string(source)).
			Build()
	}
	return doc, nil
}

// NormalizePresence maps presence detector output. The document has the form
//
//	{"clips": {"<file>": {"samples": [{"t": 0.25, "score": 0.8}], "first_bird": 0.25, "confidence": 0.8}}}
//
// Samples scoring below threshold are negatives and produce no event. Older
// detector versions only wrote first_bird and confidence; such a clip yields
// a single open-ended event at first_bird.
func NormalizePresence(data []byte, threshold float64) (*Normalized, error) {
	doc, err := parseDocument(SourceVisualPresence, data)
	if err != nil {
		return nil, err
	}

	clips, err := doc.GetObject("clips")
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("source", string(SourceVisualPresence)).
			Context("field", "clips").
			Build()
	}

	out := &Normalized{}
	for clipID, value := range clips.Map() {
		record, err := value.Object()
		if err != nil {
			out.reject(SourceVisualPresence, clipID, 0, "clip entry is not an object")
			continue
		}

		samples, err := record.GetObjectArray("samples")
		if err != nil {
			normalizeLegacyPresence(out, clipID, record, threshold)
			continue
		}

		for _, sample := range samples {
			t, errT := sample.GetFloat64("t")
			score, errS := sample.GetFloat64("score")
			if errT != nil || errS != nil {
				out.reject(SourceVisualPresence, clipID, t, "sample needs numeric t and score")
				continue
			}
			if score < threshold {
				continue
			}
			out.Events = append(out.Events, Event{
				Source:     SourceVisualPresence,
				ClipID:     clipID,
				Offset:     t,
				Confidence: score,
				Label:      PresenceLabel,
			})
		}
	}
	return out, nil
}

func normalizeLegacyPresence(out *Normalized, clipID string, record *jason.Object, threshold float64) {
	first, errF := record.GetFloat64("first_bird")
	conf, errC := record.GetFloat64("confidence")
	if errF != nil || errC != nil {
		out.reject(SourceVisualPresence, clipID, 0, "clip has neither samples nor first_bird/confidence")
		return
	}
	if conf < threshold {
		return
	}
	out.Events = append(out.Events, Event{
		Source:     SourceVisualPresence,
		ClipID:     clipID,
		Offset:     first,
		Confidence: conf,
		Label:      PresenceLabel,
		OpenEnded:  true,
	})
}

// NormalizeSpecies maps visual species classifier output:
//
//	{"detections": [{"clip": "<file>", "timestamp_s": 3.0, "species": "Blue Tit", "confidence": 0.9,
//	                 "runners_up": [{"species": "Great Tit", "confidence": 0.05}]}]}
//
// The top hypothesis is rank 1 and runners-up follow in document order.
func NormalizeSpecies(data []byte) (*Normalized, error) {
	doc, err := parseDocument(SourceVisualSpecies, data)
	if err != nil {
		return nil, err
	}

	records, err := doc.GetObjectArray("detections")
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("source", string(SourceVisualSpecies)).
			Context("field", "detections").
			Build()
	}

	out := &Normalized{}
	for _, record := range records {
		clipID, _ := record.GetString("clip")
		offset, errT := record.GetFloat64("timestamp_s")
		label, errL := record.GetString("species")
		conf, errC := record.GetFloat64("confidence")
		if clipID == "" || errT != nil || errL != nil || errC != nil {
			out.reject(SourceVisualSpecies, clipID, offset, "record needs clip, timestamp_s, species and confidence")
			continue
		}

		out.Events = append(out.Events, Event{
			Source:     SourceVisualSpecies,
			ClipID:     clipID,
			Offset:     offset,
			Confidence: conf,
			Label:      NormalizeLabel(label),
			Rank:       1,
		})

		runnersUp, err := record.GetObjectArray("runners_up")
		if err != nil {
			continue
		}
		for i, alt := range runnersUp {
			altLabel, errL := alt.GetString("species")
			altConf, errC := alt.GetFloat64("confidence")
			if errL != nil || errC != nil {
				out.reject(SourceVisualSpecies, clipID, offset, "runner-up needs species and confidence")
				continue
			}
			out.Events = append(out.Events, Event{
				Source:     SourceVisualSpecies,
				ClipID:     clipID,
				Offset:     offset,
				Confidence: altConf,
				Label:      NormalizeLabel(altLabel),
				Rank:       i + 2,
			})
		}
	}
	return out, nil
}

// NormalizeSongs maps audio analyzer output:
//
//	{"detections": [{"filename": "<file>", "start_s": 3.0, "end_s": 6.0,
//	                 "common_name": "Blue Tit", "scientific_name": "Cyanistes caeruleus", "confidence": 0.7}]}
//
// The event offset is the start of the vocalization.
func NormalizeSongs(data []byte) (*Normalized, error) {
	doc, err := parseDocument(SourceAudioSpecies, data)
	if err != nil {
		return nil, err
	}

	records, err := doc.GetObjectArray("detections")
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("source", string(SourceAudioSpecies)).
			Context("field", "detections").
			Build()
	}

	out := &Normalized{}
	for _, record := range records {
		clipID, _ := record.GetString("filename")
		start, errS := record.GetFloat64("start_s")
		conf, errC := record.GetFloat64("confidence")
		label, _ := record.GetString("common_name")
		if label == "" {
			// some analyzer models only emit the scientific name
			label, _ = record.GetString("scientific_name")
		}
		if clipID == "" || label == "" || errS != nil || errC != nil {
			out.reject(SourceAudioSpecies, clipID, start, "record needs filename, start_s, confidence and a name")
			continue
		}
		if end, err := record.GetFloat64("end_s"); err == nil && end < start {
			out.reject(SourceAudioSpecies, clipID, start, "end_s precedes start_s")
			continue
		}

		out.Events = append(out.Events, Event{
			Source:     SourceAudioSpecies,
			ClipID:     clipID,
			Offset:     start,
			Confidence: conf,
			Label:      NormalizeLabel(label),
		})
	}
	return out, nil
}
