package pipeline

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/rssrn/birdbird/internal/detection"
	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/highlights"
	"github.com/rssrn/birdbird/internal/publish"
	"github.com/rssrn/birdbird/internal/windows"
)

// Local artifact names written beside the reel.
const (
	windowsFile = "windows.json"
	summaryFile = "summary.json"
)

// Batch is a processed batch ready to publish.
type Batch struct {
	Dir      string
	ReelPath string
	Windows  []byte // encoded windows document
	Summary  publish.Summary
	// Date is the earliest capture date; it names the published batch.
	Date time.Time
}

func newBatch(dir string, inv *detection.Inventory, store *detection.Store, reel *highlights.Result, doc *windows.Document) (*Batch, error) {
	encoded, err := doc.Marshal()
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryProcessing).Build()
	}

	date := inv.Range.Start
	if date.IsZero() {
		date = inv.Date
	}
	end := inv.Range.End
	if end.IsZero() {
		end = date
	}

	st := reel.Stats
	return &Batch{
		Dir:      dir,
		ReelPath: reel.Output,
		Windows:  encoded,
		Date:     date,
		Summary: publish.Summary{
			OriginalDate:       inv.Date.Format(detection.ISODateLayout),
			StartDate:          date.Format(detection.ISODateLayout),
			EndDate:            end.Format(detection.ISODateLayout),
			ClipCount:          st.ClipCount,
			ActiveClipCount:    st.ActiveClipCount,
			SegmentCount:       st.SegmentCount,
			OriginalDuration:   st.OriginalDuration,
			HighlightsDuration: st.FinalDuration,
			SpeciesCounts:      store.SpeciesCounts(),
			Excluded:           st.Excluded,
			Malformed:          store.Malformed(),
			ClockSuspect:       inv.ClockSuspect,
		},
	}, nil
}

// assetsDir is where the reel and its companion documents live.
func (b *Batch) assetsDir() string {
	return filepath.Dir(b.ReelPath)
}

// Save writes the windows document and summary beside the reel.
func (b *Batch) Save(fsys afero.Fs) error {
	summary, err := json.MarshalIndent(&b.Summary, "", "  ")
	if err != nil {
		return errors.New(err).Category(errors.CategoryProcessing).Build()
	}
	for name, data := range map[string][]byte{windowsFile: b.Windows, summaryFile: summary} {
		path := filepath.Join(b.assetsDir(), name)
		if err := afero.WriteFile(fsys, path, data, 0o644); err != nil {
			return errors.New(err).
				Category(errors.CategoryFileIO).
				Context("operation", "save_batch").
				Context("path", path).
				Build()
		}
	}
	return nil
}

// LoadBatch reads a batch previously saved by Process.
func LoadBatch(fsys afero.Fs, dir, reelPath string) (*Batch, error) {
	b := &Batch{Dir: dir, ReelPath: reelPath}

	if exists, _ := afero.Exists(fsys, reelPath); !exists {
		return nil, errors.Newf("no highlights reel at %s, run process first", reelPath).
			Category(errors.CategoryNotFound).
			Build()
	}

	read := func(name string) ([]byte, error) {
		path := filepath.Join(b.assetsDir(), name)
		data, err := afero.ReadFile(fsys, path)
		if err != nil {
			return nil, errors.New(err).
				Category(errors.CategoryFileIO).
				Context("operation", "load_batch").
				Context("path", path).
				Build()
		}
		return data, nil
	}

	var err error
	if b.Windows, err = read(windowsFile); err != nil {
		return nil, err
	}
	summary, err := read(summaryFile)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(summary, &b.Summary); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("file", summaryFile).
			Build()
	}

	b.Date, err = time.Parse(detection.ISODateLayout, b.Summary.StartDate)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("field", "start_date").
			Build()
	}
	return b, nil
}
