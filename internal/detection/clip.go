package detection

import (
	"context"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/logger"
)

// DateLayout is the layout of batch directory names and index dates.
const (
	DateLayout    = "20060102"
	ISODateLayout = "2006-01-02"
)

// wrapGapDays is the smallest gap between consecutive filename days that is
// read as a month boundary (e.g. 30, 31, 01, 02).
const wrapGapDays = 15

// clipNamePattern matches camera file names of the form DDHHmmss00.ext
var clipNamePattern = regexp.MustCompile(`^(\d{2})(\d{2})(\d{2})(\d{2})(\d{2})\.[A-Za-z0-9]+$`)

// Clip is one source video file of a batch.
type Clip struct {
	ID         string    // file name, used as the key in detector output
	Path       string    // full path on disk
	CapturedAt time.Time // camera wall clock, stored as UTC without zone conversion
	Duration   float64   // seconds
}

// DateRange is an inclusive range of capture dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether the range is unset.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

func (r DateRange) String() string {
	if r.IsZero() {
		return ""
	}
	if r.Start.Equal(r.End) {
		return r.Start.Format(ISODateLayout)
	}
	return r.Start.Format(ISODateLayout) + " to " + r.End.Format(ISODateLayout)
}

// RangeOf returns the range of capture dates covered by clips.
func RangeOf(clips []Clip) DateRange {
	var r DateRange
	for i := range clips {
		day := truncateDay(clips[i].CapturedAt)
		if r.Start.IsZero() || day.Before(r.Start) {
			r.Start = day
		}
		if r.End.IsZero() || day.After(r.End) {
			r.End = day
		}
	}
	return r
}

// SkippedFile records a file found in the batch directory that is not part of the inventory.
type SkippedFile struct {
	Name   string
	Reason string
}

// Inventory is the set of clips of one batch, ordered chronologically.
type Inventory struct {
	Dir          string
	Date         time.Time // batch directory date
	Clips        []Clip
	Range        DateRange
	ClockSuspect bool // filename clock disagreed with the directory date
	Skipped      []SkippedFile

	byID map[string]int
}

// Lookup returns the clip with the given ID.
func (inv *Inventory) Lookup(id string) (Clip, bool) {
	i, ok := inv.byID[id]
	if !ok {
		return Clip{}, false
	}
	return inv.Clips[i], true
}

// TotalDuration returns the summed duration of all clips in seconds.
func (inv *Inventory) TotalDuration() float64 {
	var total float64
	for i := range inv.Clips {
		total += inv.Clips[i].Duration
	}
	return total
}

// DurationProber reports the playable length of a media file in seconds.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// InventoryOptions controls ScanClips.
type InventoryOptions struct {
	Pattern string    // glob for clip files, defaults to "*.avi"
	Date    time.Time // overrides the date parsed from the directory name
}

// NewInventory builds an inventory from clips that already carry capture
// times and durations.
func NewInventory(dir string, date time.Time, clips []Clip) *Inventory {
	inv := &Inventory{Dir: dir, Date: date, Clips: slices.Clone(clips)}
	SortClips(inv.Clips)
	inv.Range = RangeOf(inv.Clips)
	inv.reindex()
	return inv
}

func (inv *Inventory) reindex() {
	inv.byID = make(map[string]int, len(inv.Clips))
	for i := range inv.Clips {
		inv.byID[inv.Clips[i].ID] = i
	}
}

// SortClips orders clips by capture time, then ID.
func SortClips(clips []Clip) {
	slices.SortStableFunc(clips, func(a, b Clip) int {
		if c := a.CapturedAt.Compare(b.CapturedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// ParseBatchDate parses a batch directory name of the form YYYYMMDD.
func ParseBatchDate(dir string) (time.Time, error) {
	name := filepath.Base(filepath.Clean(dir))
	date, err := time.Parse(DateLayout, name)
	if err != nil {
		return time.Time{}, errors.Newf("batch directory %q is not named YYYYMMDD", name).
			Category(errors.CategoryValidation).
			Context("dir", dir).
			Build()
	}
	return date, nil
}

// ScanClips lists clip files in dir, derives their capture times and probes
// their durations. Files that do not follow the camera naming scheme or
// cannot be probed are skipped with a warning.
func ScanClips(ctx context.Context, fsys afero.Fs, dir string, opts InventoryOptions, prober DurationProber) (*Inventory, error) {
	log := GetLogger()

	date := opts.Date
	if date.IsZero() {
		var err error
		if date, err = ParseBatchDate(dir); err != nil {
			return nil, err
		}
	}

	pattern := opts.Pattern
	if pattern == "" {
		pattern = "*.avi"
	}

	matches, err := afero.Glob(fsys, filepath.Join(dir, pattern))
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "list_clips").
			Context("dir", dir).
			Build()
	}
	slices.Sort(matches)

	inv := &Inventory{Dir: dir, Date: date}

	var (
		names  []string
		paths  []string
		stamps []clipStamp
	)
	for _, path := range matches {
		name := filepath.Base(path)
		stamp, ok := parseClipName(name)
		if !ok {
			log.Warn("Skipping file with unexpected name", logger.String("file", name))
			inv.Skipped = append(inv.Skipped, SkippedFile{Name: name, Reason: "name does not match DDHHmmss00"})
			continue
		}
		names = append(names, name)
		paths = append(paths, path)
		stamps = append(stamps, stamp)
	}

	times, suspect := resolveCaptureTimes(date, stamps)
	inv.ClockSuspect = suspect
	if suspect {
		log.Warn("Filename clock disagrees with directory date, using directory date",
			logger.String("dir", dir),
			logger.String("date", date.Format(ISODateLayout)))
	}

	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, errors.New(err).
				Category(errors.CategoryCancellation).
				Context("operation", "probe_clips").
				Build()
		}

		duration, err := prober.Duration(ctx, paths[i])
		if err != nil || duration <= 0 {
			reason := "zero duration"
			if err != nil {
				reason = err.Error()
			}
			log.Warn("Skipping clip that could not be probed",
				logger.String("clip", name),
				logger.String("reason", reason))
			inv.Skipped = append(inv.Skipped, SkippedFile{Name: name, Reason: "probe failed: " + reason})
			continue
		}

		inv.Clips = append(inv.Clips, Clip{
			ID:         name,
			Path:       paths[i],
			CapturedAt: times[i],
			Duration:   duration,
		})
	}

	SortClips(inv.Clips)
	inv.Range = RangeOf(inv.Clips)
	inv.reindex()

	log.Info("Clip inventory ready",
		logger.Int("clips", len(inv.Clips)),
		logger.Int("skipped", len(inv.Skipped)),
		logger.String("date_range", inv.Range.String()))

	return inv, nil
}

// clipStamp is the wall clock encoded in a clip file name.
type clipStamp struct {
	day, hour, minute, second, hundredths int
}

func parseClipName(name string) (clipStamp, bool) {
	m := clipNamePattern.FindStringSubmatch(name)
	if m == nil {
		return clipStamp{}, false
	}
	var parts [5]int
	for i := range parts {
		parts[i], _ = strconv.Atoi(m[i+1])
	}
	s := clipStamp{day: parts[0], hour: parts[1], minute: parts[2], second: parts[3], hundredths: parts[4]}
	if s.day < 1 || s.day > 31 || s.hour > 23 || s.minute > 59 || s.second > 59 {
		return clipStamp{}, false
	}
	return s, true
}

func (s clipStamp) timeOfDay() time.Duration {
	return time.Duration(s.hour)*time.Hour +
		time.Duration(s.minute)*time.Minute +
		time.Duration(s.second)*time.Second +
		time.Duration(s.hundredths)*10*time.Millisecond
}

// resolveCaptureTimes combines the directory year and month with each file
// name's day and time. When the directory day falls outside the span of
// filename days the camera clock is considered wrong and every clip is
// stamped with the directory date instead, keeping its time of day.
func resolveCaptureTimes(dirDate time.Time, stamps []clipStamp) ([]time.Time, bool) {
	times := make([]time.Time, len(stamps))
	if len(stamps) == 0 {
		return times, false
	}

	days := make([]int, 0, len(stamps))
	for _, s := range stamps {
		days = append(days, s.day)
	}
	slices.Sort(days)
	days = slices.Compact(days)

	// A large gap in the sorted days splits them into an early and a late
	// part of two consecutive months.
	wrapAt := 0
	for i := 1; i < len(days); i++ {
		if days[i]-days[i-1] > wrapGapDays {
			wrapAt = days[i]
			break
		}
	}

	dirDay := dirDate.Day()
	var valid bool
	if wrapAt == 0 {
		valid = days[0] <= dirDay && dirDay <= days[len(days)-1]
	} else {
		valid = dirDay >= wrapAt || dirDay <= lastBelow(days, wrapAt)
	}

	// monthOffset returns which month relative to the directory a day falls in
	monthOffset := func(day int) int {
		if wrapAt == 0 {
			return 0
		}
		if dirDay >= wrapAt {
			// directory sits in the late part, early days are next month
			if day < wrapAt {
				return 1
			}
			return 0
		}
		if day >= wrapAt {
			return -1
		}
		return 0
	}

	year, month, _ := dirDate.Date()
	suspect := !valid
	if !suspect {
		for i, s := range stamps {
			t := time.Date(year, month+time.Month(monthOffset(s.day)), s.day, 0, 0, 0, 0, time.UTC)
			if t.Day() != s.day {
				// day does not exist in that month
				suspect = true
				break
			}
			times[i] = t.Add(s.timeOfDay())
		}
	}

	if suspect {
		base := truncateDay(dirDate)
		for i, s := range stamps {
			times[i] = base.Add(s.timeOfDay())
		}
	}
	return times, suspect
}

func lastBelow(sorted []int, limit int) int {
	last := 0
	for _, d := range sorted {
		if d >= limit {
			break
		}
		last = d
	}
	return last
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
