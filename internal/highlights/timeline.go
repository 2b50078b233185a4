package highlights

import (
	"sort"
)

// Entry places one segment of a clip in the reel.
type Entry struct {
	ClipID    string  `json:"clip_id"`
	ClipStart float64 `json:"clip_start"`
	ClipEnd   float64 `json:"clip_end"`
	ReelStart float64 `json:"reel_start"`
	ReelEnd   float64 `json:"reel_end"`
	Excluded  bool    `json:"excluded,omitempty"`
	Reason    string  `json:"reason,omitempty"`

	// ToClipEnd is set when the segment runs to the end of the clip; only
	// then is ClipEnd itself covered.
	ToClipEnd bool `json:"to_clip_end,omitempty"`
}

// Timeline is the chronological list of segments with their reel offsets.
// Excluded entries keep their place in the list but occupy no reel time.
type Timeline struct {
	Entries []Entry `json:"entries"`

	byClip map[string][]int
}

// NewTimeline indexes entries, which must be in reel order.
func NewTimeline(entries []Entry) *Timeline {
	tl := &Timeline{Entries: entries, byClip: make(map[string][]int)}
	for i, e := range entries {
		if e.Excluded {
			continue
		}
		tl.byClip[e.ClipID] = append(tl.byClip[e.ClipID], i)
	}
	return tl
}

// Map projects an offset within a clip onto the reel. It reports false when
// the offset is not covered by an included segment of that clip.
func (tl *Timeline) Map(clipID string, offset float64) (float64, bool) {
	idx := tl.byClip[clipID]
	if len(idx) == 0 {
		return 0, false
	}

	// entries of one clip are ordered and disjoint; find the last starting at or before offset
	k := sort.Search(len(idx), func(i int) bool { return tl.Entries[idx[i]].ClipStart > offset }) - 1
	if k < 0 {
		return 0, false
	}
	e := tl.Entries[idx[k]]
	if offset > e.ClipEnd || offset == e.ClipEnd && !e.ToClipEnd {
		return 0, false
	}

	reel := e.ReelStart + (offset - e.ClipStart)
	if reel > e.ReelEnd {
		// probed part shorter than nominal
		reel = e.ReelEnd
	}
	return reel, true
}

// Duration returns the reel length covered by included entries.
func (tl *Timeline) Duration() float64 {
	var end float64
	for _, e := range tl.Entries {
		if !e.Excluded && e.ReelEnd > end {
			end = e.ReelEnd
		}
	}
	return end
}

// Included returns the number of entries present in the reel.
func (tl *Timeline) Included() int {
	n := 0
	for _, e := range tl.Entries {
		if !e.Excluded {
			n++
		}
	}
	return n
}
