package ocr

import (
	"sort"
	"strings"
)

// Aggregate orders readings by frame timestamp and removes near-duplicate
// text: readings whose normalized text is identical within a sliding window
// of 3 consecutive frames collapse to the highest-confidence instance. This
// is what keeps a static overlay from repeating once per sampled frame.
func Aggregate(readings []Reading) []Reading {
	if len(readings) == 0 {
		return nil
	}

	sorted := make([]Reading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	frameTimes := distinctTimestamps(sorted)
	frameIndex := make(map[float64]int, len(frameTimes))
	for i, ts := range frameTimes {
		frameIndex[ts] = i
	}

	type kept struct {
		idx      int
		frameIdx int
	}
	best := make(map[string]kept)
	drop := make(map[int]bool)

	for i, r := range sorted {
		key := normalizeText(r.Text)
		fi := frameIndex[r.Timestamp]

		prev, seen := best[key]
		if seen && fi-prev.frameIdx < 3 {
			if r.Confidence > sorted[prev.idx].Confidence {
				drop[prev.idx] = true
				best[key] = kept{idx: i, frameIdx: fi}
			} else {
				drop[i] = true
				// Keep the window anchored at the latest sighting so a long
				// static overlay stays collapsed.
				best[key] = kept{idx: prev.idx, frameIdx: fi}
			}
			continue
		}
		best[key] = kept{idx: i, frameIdx: fi}
	}

	var out []Reading
	for i, r := range sorted {
		if !drop[i] {
			out = append(out, r)
		}
	}
	return out
}

// JoinText concatenates readings (assumed timestamp-ordered) into the flat
// OCR text handed to the synthesis prompt.
func JoinText(readings []Reading) string {
	parts := make([]string, 0, len(readings))
	for _, r := range readings {
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, " ")
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func distinctTimestamps(sorted []Reading) []float64 {
	var out []float64
	for _, r := range sorted {
		if len(out) == 0 || out[len(out)-1] != r.Timestamp {
			out = append(out, r.Timestamp)
		}
	}
	return out
}
