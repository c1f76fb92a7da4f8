// Package model defines the on-disk data model shared by every Reforge
// stage: the build receipt, the two oracle reports, the two join reports,
// and the decompiler reshape records. Every output type embeds Envelope so
// that cross-stage provenance (package name, schema version, profile id,
// binary hash) is always present, per spec.md §6's output-schema contract.
package model

// SchemaVersion is bumped whenever a field is added or removed from any
// on-disk report. Additive, backward-compatible changes still bump the
// minor component.
const SchemaVersion = "1.0"

// PackageName identifies this tool in every emitted envelope.
const PackageName = "reforge"

// Envelope is embedded by every top-level report struct emitted to disk.
// Its field order is part of the byte-stable serialization contract (§5):
// encoding/json preserves struct field order, so this must never be
// reordered once a schema version ships.
type Envelope struct {
	PackageName   string `json:"package_name"`
	Version       string `json:"version"`
	SchemaVersion string `json:"schema_version"`
	ProfileID     string `json:"profile_id"`
	BinarySHA256  string `json:"binary_sha256,omitempty"`
	// GeneratedAt is the generation timestamp. In the oracle and join
	// reports it is the only field that differs between two runs over
	// identical inputs; the build receipt also carries per-cell
	// started_at/finished_at times and phase durations, which differ too.
	GeneratedAt string `json:"generated_at"`
}

// NewEnvelope builds an envelope with the package/schema identity already
// filled in; callers only need to supply profileID, binarySHA256 and the
// generation timestamp.
func NewEnvelope(profileID, binarySHA256, generatedAt string) Envelope {
	return Envelope{
		PackageName:   PackageName,
		Version:       SchemaVersion,
		SchemaVersion: SchemaVersion,
		ProfileID:     profileID,
		BinarySHA256:  binarySHA256,
		GeneratedAt:   generatedAt,
	}
}

// Verdict is the three-way per-unit outcome shared by every stage's
// per-function/per-unit records (spec.md §7).
type Verdict string

const (
	VerdictAccept Verdict = "ACCEPT"
	VerdictWarn   Verdict = "WARN"
	VerdictReject Verdict = "REJECT"
)

// Range is a half-open byte/address interval [Low, High). Used for both
// DWARF PC ranges and decompiler basic-block/body ranges.
type Range struct {
	Low  uint64 `json:"low"`
	High uint64 `json:"high"`
}

// Size returns High-Low, or 0 for a degenerate/invalid range.
func (r Range) Size() uint64 {
	if r.High <= r.Low {
		return 0
	}
	return r.High - r.Low
}

// Overlap returns the byte overlap between two ranges (0 if disjoint).
func (r Range) Overlap(o Range) uint64 {
	low := r.Low
	if o.Low > low {
		low = o.Low
	}
	high := r.High
	if o.High < high {
		high = o.High
	}
	if high <= low {
		return 0
	}
	return high - low
}

// NormalizeRanges sorts, drops empty, and merges overlapping/adjacent
// ranges, as required by spec.md §4.2 step 1 and the invariant in §3: for
// any DWARF function with defined ranges, every segment satisfies
// low < high, and segments are sorted and non-overlapping after
// normalization.
func NormalizeRanges(ranges []Range) []Range {
	filtered := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		if r.High > r.Low {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 {
		return filtered
	}

	sortRanges(filtered)

	merged := make([]Range, 0, len(filtered))
	cur := filtered[0]
	for _, r := range filtered[1:] {
		if r.Low <= cur.High {
			if r.High > cur.High {
				cur.High = r.High
			}
			continue
		}
		merged = append(merged, cur)
		cur = r
	}
	merged = append(merged, cur)
	return merged
}

func sortRanges(ranges []Range) {
	// Insertion sort is fine here: per-function segment counts are small
	// (single digits in the overwhelming majority of cases) and this
	// keeps the dependency-free stdlib-only sort explicit and stable.
	for i := 1; i < len(ranges); i++ {
		for j := i; j > 0 && less(ranges[j], ranges[j-1]); j-- {
			ranges[j], ranges[j-1] = ranges[j-1], ranges[j]
		}
	}
}

func less(a, b Range) bool {
	if a.Low != b.Low {
		return a.Low < b.Low
	}
	return a.High < b.High
}

// TotalBytes sums Size() over a normalized range set.
func TotalBytes(ranges []Range) uint64 {
	var total uint64
	for _, r := range ranges {
		total += r.Size()
	}
	return total
}
