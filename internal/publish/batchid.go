package publish

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rssrn/birdbird/internal/detection"
)

// batchIDPattern accepts the current YYYYMMDD-NN form and the legacy YYYYMMDD_NN form.
var batchIDPattern = regexp.MustCompile(`^(\d{8})[-_](\d{2,})$`)

// BatchID identifies a published batch.
type BatchID struct {
	Date string // YYYYMMDD
	Seq  int
	Raw  string // as found in storage, which may use the legacy separator
}

// NewBatchID formats a batch ID for date and seq.
func NewBatchID(date time.Time, seq int) BatchID {
	d := date.Format(detection.DateLayout)
	return BatchID{Date: d, Seq: seq, Raw: fmt.Sprintf("%s-%02d", d, seq)}
}

// ParseBatchID parses a batch ID in either separator form.
func ParseBatchID(s string) (BatchID, bool) {
	m := batchIDPattern.FindStringSubmatch(s)
	if m == nil {
		return BatchID{}, false
	}
	if _, err := time.Parse(detection.DateLayout, m[1]); err != nil {
		return BatchID{}, false
	}
	seq, err := strconv.Atoi(m[2])
	if err != nil || seq < 1 {
		return BatchID{}, false
	}
	return BatchID{Date: m[1], Seq: seq, Raw: s}, true
}

func (b BatchID) String() string {
	return b.Raw
}

// compareNewestFirst orders batch IDs by date then sequence, descending.
func compareNewestFirst(a, b BatchID) int {
	return cmp.Or(
		strings.Compare(b.Date, a.Date),
		cmp.Compare(b.Seq, a.Seq),
	)
}

// SortNewestFirst sorts ids newest first.
func SortNewestFirst(ids []BatchID) {
	slices.SortFunc(ids, compareNewestFirst)
}

// batchIDsFromKeys extracts the distinct batch IDs below prefix from object keys.
func batchIDsFromKeys(prefix string, keys []string) []BatchID {
	seen := make(map[string]bool)
	var ids []BatchID
	for _, key := range keys {
		rest, ok := strings.CutPrefix(key, prefix+"/")
		if !ok {
			continue
		}
		dir, _, found := strings.Cut(rest, "/")
		if !found || seen[dir] {
			continue
		}
		if id, ok := ParseBatchID(dir); ok {
			seen[dir] = true
			ids = append(ids, id)
		}
	}
	SortNewestFirst(ids)
	return ids
}

// sameDate returns the ids with the given date, newest first.
func sameDate(ids []BatchID, date string) []BatchID {
	var out []BatchID
	for _, id := range ids {
		if id.Date == date {
			out = append(out, id)
		}
	}
	return out
}

func idStrings(ids []BatchID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
