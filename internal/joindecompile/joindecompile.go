// Package joindecompile bridges DWARF/tree-sitter coordinates to decompiler
// output via address-range overlap (spec.md §4.5). Grounded on the same
// interval-scan idiom as model.Range.Overlap and model.NormalizeRanges: no
// interval tree is needed at this scale, a linear scan per DWARF function
// against the decompiler's function list is sufficient and keeps the
// selection logic (max overlap, then tie-breaks) auditable.
package joindecompile

import (
	"fmt"
	"sort"

	"github.com/NicolasKol/reforge/internal/config"
	"github.com/NicolasKol/reforge/internal/model"
)

// ErrJoin is the sentinel base error for hard join failures (spec.md §4.5
// step 1: a binary_sha256 mismatch across inputs is a hard failure).
var ErrJoin = fmt.Errorf("joindecompile")

// Inputs bundles every cross-validated input this join needs.
type Inputs struct {
	BuildReceiptSHA256 string
	DwarfReportSHA256  string
	AlignmentSHA256    string
	DecompReportSHA256 string

	DwarfFunctions []model.DwarfFunctionEntry
	Alignment      []model.AlignmentPair // keyed by DwarfStableID
	Decomp         []model.DecompFunctionRecord
}

// Join cross-validates hashes, then produces one JoinedFunctionRow per
// DWARF function (including REJECT/non-target rows, spec.md §4.5 closing
// line: "all DWARF functions ... appear in the output").
func Join(cfg config.Config, in Inputs) ([]model.JoinedFunctionRow, error) {
	if in.BuildReceiptSHA256 != in.DwarfReportSHA256 ||
		in.BuildReceiptSHA256 != in.AlignmentSHA256 ||
		in.BuildReceiptSHA256 != in.DecompReportSHA256 {
		return nil, fmt.Errorf("%w: binary_sha256 mismatch across build receipt, dwarf report, alignment, decompiler report", ErrJoin)
	}

	alignmentByID := make(map[string]model.AlignmentPair, len(in.Alignment))
	for _, a := range in.Alignment {
		alignmentByID[a.DwarfStableID] = a
	}

	candidates := make([]decompCandidate, 0, len(in.Decomp))
	for _, d := range in.Decomp {
		if d.Body == nil {
			continue
		}
		candidates = append(candidates, decompCandidate{record: d})
	}

	rows := make([]model.JoinedFunctionRow, 0, len(in.DwarfFunctions))
	matchCounts := map[uint64]int{}

	for i := range in.DwarfFunctions {
		fn := in.DwarfFunctions[i]
		row := buildRow(cfg, fn, alignmentByID[fn.StableID], candidates)
		rows = append(rows, row)
		if row.HasDecompMatch && row.DecompEntryVA != nil {
			matchCounts[*row.DecompEntryVA]++
		}
	}

	for i := range rows {
		if rows[i].HasDecompMatch && rows[i].DecompEntryVA != nil {
			count := matchCounts[*rows[i].DecompEntryVA]
			if count > 1 {
				rows[i].FatFunctionMultiDwarf = true
				rows[i].FatFunctionCount = count
			}
		}
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].DwarfStableID < rows[j].DwarfStableID })
	return rows, nil
}

type decompCandidate struct {
	record model.DecompFunctionRecord
}

func buildRow(cfg config.Config, fn model.DwarfFunctionEntry, align model.AlignmentPair, candidates []decompCandidate) model.JoinedFunctionRow {
	row := model.JoinedFunctionRow{
		DwarfStableID:    fn.StableID,
		DwarfName:        fn.Name,
		Decl:             fn.Decl,
		DwarfVerdict:     fn.Verdict,
		AlignmentVerdict: align.Verdict,
		IsAuxFunction:    cfg.IsAuxFunction(fn.Name),
	}
	if align.Best != nil {
		row.BestTsFuncID = align.Best.TsFuncID
	}

	if len(fn.Ranges) == 0 {
		row.MatchKind = model.MatchNoRange
		return row
	}
	row.TotalDwarfRangeBytes = fn.TotalRangeBytes

	best, bestOverlap := selectBest(fn, candidates)
	if best == nil || bestOverlap == 0 {
		row.MatchKind = model.MatchNone
		return row
	}

	row.HasDecompMatch = true
	entryVA := best.record.EntryVA
	row.DecompEntryVA = &entryVA
	row.OverlapBytes = bestOverlap
	if row.TotalDwarfRangeBytes > 0 {
		row.PCOverlapRatio = float64(bestOverlap) / float64(row.TotalDwarfRangeBytes)
	}
	row.IsThunk = best.record.IsThunk
	row.IsExternalBlock = best.record.IsExternal
	row.IsImportProxy = best.record.IsImportProxy
	row.CFGCompleteness = best.record.CFGCompleteness
	row.FatalWarnings = fatalWarningsOf(best.record.Warnings)

	row.MatchKind = classifyMatchKind(cfg, row.PCOverlapRatio, fn, candidates, bestOverlap)

	row.IsHighConfidence = isHighConfidence(fn, align, row)
	return row
}

func selectBest(fn model.DwarfFunctionEntry, candidates []decompCandidate) (*decompCandidate, uint64) {
	var best *decompCandidate
	var bestOverlap uint64
	lowPC := fn.Ranges[0].Low

	for i := range candidates {
		c := &candidates[i]
		overlap := overlapBytes(fn.Ranges, *c.record.Body)
		if overlap == 0 {
			continue
		}
		if best == nil || isBetter(overlap, c, bestOverlap, best, lowPC) {
			best = c
			bestOverlap = overlap
		}
	}
	return best, bestOverlap
}

func overlapBytes(ranges []model.Range, body model.Range) uint64 {
	var total uint64
	for _, r := range ranges {
		total += r.Overlap(body)
	}
	return total
}

// isBetter implements spec.md §4.5 step 4: max overlap_bytes, then min
// distance to DWARF low_pc, then prefer non-thunk, then prefer non-external.
func isBetter(overlap uint64, candidate *decompCandidate, bestOverlap uint64, best *decompCandidate, lowPC uint64) bool {
	if overlap != bestOverlap {
		return overlap > bestOverlap
	}
	candDist := distance(candidate.record.EntryVA, lowPC)
	bestDist := distance(best.record.EntryVA, lowPC)
	if candDist != bestDist {
		return candDist < bestDist
	}
	if candidate.record.IsThunk != best.record.IsThunk {
		return !candidate.record.IsThunk
	}
	if candidate.record.IsExternal != best.record.IsExternal {
		return !candidate.record.IsExternal
	}
	return false
}

func distance(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

func classifyMatchKind(cfg config.Config, ratio float64, fn model.DwarfFunctionEntry, candidates []decompCandidate, bestOverlap uint64) model.MatchKind {
	if anyWithinMultiMatchWindow(cfg, fn, candidates, bestOverlap) {
		return model.MatchMulti
	}
	switch {
	case ratio >= cfg.Thresholds.StrongOverlapRatio:
		return model.MatchJoinedStrong
	case ratio >= cfg.Thresholds.WeakOverlapRatio:
		return model.MatchJoinedWeak
	default:
		return model.MatchNone
	}
}

func anyWithinMultiMatchWindow(cfg config.Config, fn model.DwarfFunctionEntry, candidates []decompCandidate, bestOverlap uint64) bool {
	if bestOverlap == 0 {
		return false
	}
	window := float64(bestOverlap) * cfg.Thresholds.MultiMatchWindow
	count := 0
	for i := range candidates {
		overlap := overlapBytes(fn.Ranges, *candidates[i].record.Body)
		if overlap == 0 {
			continue
		}
		if float64(bestOverlap)-float64(overlap) <= window {
			count++
		}
	}
	return count > 1
}

func fatalWarningsOf(warnings []model.DecompWarning) []model.DecompWarning {
	var out []model.DecompWarning
	for _, w := range warnings {
		if model.FatalWarnings[w] {
			out = append(out, w)
		}
	}
	return out
}

// isHighConfidence implements the §4.5 step 8 gate: ACCEPT DWARF verdict,
// unique MATCH alignment at ratio 1.0, JOINED_STRONG, no noise flags, CFG
// completeness above LOW, and no fatal warnings.
func isHighConfidence(fn model.DwarfFunctionEntry, align model.AlignmentPair, row model.JoinedFunctionRow) bool {
	if fn.Verdict != model.VerdictAccept {
		return false
	}
	if align.Verdict != model.AlignMatch || align.NCandidates != 1 || align.Best == nil || align.Best.OverlapRatio != 1.0 {
		return false
	}
	if row.MatchKind != model.MatchJoinedStrong {
		return false
	}
	if row.IsExternalBlock || row.IsThunk || row.IsAuxFunction || row.IsImportProxy {
		return false
	}
	if row.CFGCompleteness == model.CFGLow {
		return false
	}
	if len(row.FatalWarnings) > 0 {
		return false
	}
	return true
}
