// Package joindwarfts bridges DWARF and tree-sitter coordinates via
// preprocessor `#line` directives (spec.md §4.4). There is no teacher analog
// for this stage; the origin-map scan follows the same line-oriented
// subprocess-output-processing style the teacher uses for compiler output
// (pkg/hw/cpu/llvm), generalized to scanning `.i` text instead of a compiler
// log.
package joindwarfts

import (
	"bufio"
	"bytes"
	"sort"
	"strconv"
	"strings"

	"github.com/NicolasKol/reforge/internal/config"
	"github.com/NicolasKol/reforge/internal/model"
)

// OriginMap is a forward function from a preprocessed line number to the
// original (file, line) it was generated from, built by scanning `#line`
// directives (spec.md §4.4 step 1).
type OriginMap struct {
	entries []originEntry
}

type originEntry struct {
	iLine        int
	originFile   string
	originLine   int
	excluded     bool
}

// BuildOriginMap scans `#line LINE "FILE"` directives in a preprocessed
// unit's text and returns the forward map from preprocessed line number to
// original source coordinates.
func BuildOriginMap(cfg config.Config, text []byte) *OriginMap {
	om := &OriginMap{}
	scanner := bufio.NewScanner(bytes.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	iLine := 0
	nextOriginLine := 0
	currentFile := ""
	haveDirective := false

	for scanner.Scan() {
		iLine++
		line := scanner.Text()
		if file, originLine, ok := parseLineDirective(line); ok {
			currentFile = file
			nextOriginLine = originLine
			haveDirective = true
			continue
		}
		if !haveDirective {
			continue
		}
		excluded := currentFile == "" || cfg.HasExcludedPrefix(currentFile) || isSyntheticName(currentFile)
		om.entries = append(om.entries, originEntry{
			iLine:      iLine,
			originFile: currentFile,
			originLine: nextOriginLine,
			excluded:   excluded,
		})
		nextOriginLine++
	}
	return om
}

func isSyntheticName(file string) bool {
	return strings.HasPrefix(file, "<") && strings.HasSuffix(file, ">")
}

// parseLineDirective parses a `# LINE "FILE"...` or `#line LINE "FILE"`
// directive, the two forms GNU cpp and clang -E respectively emit.
func parseLineDirective(line string) (file string, lineNo int, ok bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", 0, false
	}
	rest := strings.TrimPrefix(trimmed, "#")
	rest = strings.TrimPrefix(rest, "line")
	rest = strings.TrimSpace(rest)

	fields := strings.SplitN(rest, "\"", 3)
	if len(fields) < 2 {
		return "", 0, false
	}
	numPart := strings.TrimSpace(fields[0])
	n, err := strconv.Atoi(numPart)
	if err != nil {
		return "", 0, false
	}
	return fields[1], n, true
}

// Resolve returns the origin (file, line, ok) for a given preprocessed line.
func (om *OriginMap) Resolve(iLine int) (string, int, bool) {
	idx := sort.Search(len(om.entries), func(i int) bool { return om.entries[i].iLine >= iLine })
	if idx >= len(om.entries) || om.entries[idx].iLine != iLine {
		return "", 0, false
	}
	e := om.entries[idx]
	if e.excluded {
		return "", 0, false
	}
	return e.originFile, e.originLine, true
}

// TsCandidate is one tree-sitter function available for scoring against a
// DWARF target, together with the origin map of the TU it lives in.
type TsCandidate struct {
	TsFuncID    string
	TUPath      string
	ContextHash string
	StartLine   int
	EndLine     int
	StartByte   int
	Origin      *OriginMap
}

// Align scores every candidate against every DWARF function and returns one
// AlignmentPair per DWARF function, REJECT entries passed through as
// non-targets (spec.md §4.4).
func Align(cfg config.Config, dwarfFns []model.DwarfFunctionEntry, candidates []TsCandidate) []model.AlignmentPair {
	pairs := make([]model.AlignmentPair, 0, len(dwarfFns))
	for _, fn := range dwarfFns {
		pairs = append(pairs, alignOne(cfg, fn, candidates))
	}
	return pairs
}

func alignOne(cfg config.Config, fn model.DwarfFunctionEntry, candidates []TsCandidate) model.AlignmentPair {
	pair := model.AlignmentPair{
		DwarfStableID: fn.StableID,
		DwarfName:     fn.Name,
		Decl:          fn.Decl,
		DwarfVerdict:  fn.Verdict,
		TotalCount:    fn.NLineRows,
	}

	if fn.Verdict == model.VerdictReject {
		pair.IsTarget = false
		pair.Verdict = model.AlignNoMatch
		pair.Reasons = fn.Reasons
		return pair
	}
	pair.IsTarget = true

	lineCounts := make(map[model.LineRowKey]int, len(fn.LineRows))
	for _, row := range fn.LineRows {
		lineCounts[row.LineRowKey] = row.Count
	}

	var scored []model.AlignmentCandidate
	anyOriginMapHit := false
	for _, c := range candidates {
		if c.Origin == nil {
			continue
		}
		overlap := 0
		sawResolved := false
		for iLine := c.StartLine; iLine <= c.EndLine; iLine++ {
			file, line, ok := c.Origin.Resolve(iLine)
			if !ok {
				continue
			}
			sawResolved = true
			overlap += lineCounts[model.LineRowKey{File: file, Line: line}]
		}
		if sawResolved {
			anyOriginMapHit = true
		}
		if overlap == 0 {
			continue
		}
		ratio := 0.0
		if fn.NLineRows > 0 {
			ratio = float64(overlap) / float64(fn.NLineRows)
		}
		scored = append(scored, model.AlignmentCandidate{
			TsFuncID:     c.TsFuncID,
			TUPath:       c.TUPath,
			OverlapCount: overlap,
			OverlapRatio: ratio,
			SpanSize:     c.EndLine - c.StartLine + 1,
			StartByte:    c.StartByte,
			ContextHash:  c.ContextHash,
		})
	}

	rankCandidates(scored)
	pair.Candidates = scored
	pair.NCandidates = len(scored)

	pair.Verdict, pair.Reasons, pair.Best = decide(cfg, scored, anyOriginMapHit, fn)
	return pair
}

// rankCandidates sorts by (-overlap_ratio, -overlap_count, span_size,
// tu_path, start_byte) — spec.md §4.4 step 3, fully deterministic tie-breaks.
func rankCandidates(candidates []model.AlignmentCandidate) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.OverlapRatio != b.OverlapRatio {
			return a.OverlapRatio > b.OverlapRatio
		}
		if a.OverlapCount != b.OverlapCount {
			return a.OverlapCount > b.OverlapCount
		}
		if a.SpanSize != b.SpanSize {
			return a.SpanSize < b.SpanSize
		}
		if a.TUPath != b.TUPath {
			return a.TUPath < b.TUPath
		}
		return a.StartByte < b.StartByte
	})
}

func decide(cfg config.Config, candidates []model.AlignmentCandidate, sawOriginMap bool, fn model.DwarfFunctionEntry) (model.AlignmentVerdict, []string, *model.AlignmentCandidate) {
	var propagated []string
	for _, r := range fn.Reasons {
		if r == model.FuncReasonMultiFileRange {
			propagated = append(propagated, model.AlignReasonMultiFileRangePropagated)
		}
	}

	if len(candidates) == 0 {
		if !sawOriginMap {
			return model.AlignNoMatch, append(propagated, model.AlignReasonOriginMapMissing), nil
		}
		return model.AlignNoMatch, append(propagated, model.AlignReasonNoCandidates), nil
	}

	best := candidates[0]
	if best.OverlapCount == 0 {
		return model.AlignNoMatch, append(propagated, model.AlignReasonNoOverlap), nil
	}
	if best.OverlapRatio < cfg.Thresholds.MinOverlapRatio {
		return model.AlignNoMatch, append(propagated, model.AlignReasonLowOverlapRatio), nil
	}
	if best.OverlapCount < 1 {
		return model.AlignNoMatch, append(propagated, model.AlignReasonBelowMinOverlap), nil
	}

	if len(candidates) > 1 {
		runnerUp := candidates[1]
		if best.OverlapRatio-runnerUp.OverlapRatio <= cfg.Thresholds.NearTieEpsilon {
			if best.ContextHash != "" && best.ContextHash == runnerUp.ContextHash && best.TUPath != runnerUp.TUPath {
				return model.AlignAmbiguous, append(propagated, model.AlignReasonHeaderReplicationCollision), &best
			}
			return model.AlignAmbiguous, append(propagated, model.AlignReasonNearTie), &best
		}
	}

	return model.AlignMatch, append(propagated, model.AlignReasonUniqueBest), &best
}
