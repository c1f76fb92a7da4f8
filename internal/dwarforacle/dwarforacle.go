// Package dwarforacle extracts per-function ground truth from a debug ELF
// binary's DWARF sections (spec.md §4.2). The walk follows the teacher's
// llvm.DWARFParser: open debug/dwarf off an *elf.File, run the Reader over
// the DIE tree once, and build the line-number program via
// dwarfData.LineReader per compilation unit. Unlike the teacher (which
// resolves locations into Cucaracha register/stack addresses), this oracle
// never looks at variable or location-expression DIEs — it resolves
// function ranges, line-row multisets and declaration tuples only.
package dwarforacle

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"io"
	"sort"

	"github.com/NicolasKol/reforge/internal/config"
	"github.com/NicolasKol/reforge/internal/model"
)

// ErrOracle is the sentinel base error for every hard failure this package
// returns.
var ErrOracle = fmt.Errorf("dwarforacle")

// Extract opens path as an ELF file, runs the binary gate, and — if the
// gate passes — extracts one DwarfFunctionEntry per subprogram DIE.
func Extract(cfg config.Config, path, binarySHA256 string, nowFn func() string) (*model.DwarfBinaryReport, []model.DwarfFunctionEntry, error) {
	report := &model.DwarfBinaryReport{
		Envelope: model.NewEnvelope(cfg.ProfileID, binarySHA256, nowFn()),
	}

	f, err := elf.Open(path)
	if err != nil {
		report.Verdict = model.DwarfBinaryReject
		report.Reasons = []string{model.ReasonParserCannotOpen}
		return report, nil, nil
	}
	defer f.Close()

	if reason, ok := binaryGateReject(f); ok {
		report.Verdict = model.DwarfBinaryReject
		report.Reasons = []string{reason}
		return report, nil, nil
	}

	dwarfData, err := f.DWARF()
	if err != nil {
		report.Verdict = model.DwarfBinaryReject
		report.Reasons = []string{model.ReasonParserCannotOpen}
		return report, nil, nil
	}

	entries, extractErr := extractFunctions(cfg, dwarfData)
	if extractErr != nil {
		report.Verdict = model.DwarfBinaryReject
		report.Reasons = []string{model.ReasonParserCannotOpen}
		return report, nil, nil
	}

	report.Verdict = model.DwarfBinaryAccept
	report.NFunctions = len(entries)
	for _, e := range entries {
		switch e.Verdict {
		case model.VerdictAccept:
			report.NAccept++
		case model.VerdictWarn:
			report.NWarn++
		case model.VerdictReject:
			report.NReject++
		}
	}
	return report, entries, nil
}

func binaryGateReject(f *elf.File) (string, bool) {
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_X86_64 {
		return model.ReasonNotELFx86_64, true
	}
	if f.Section(".debug_info") == nil {
		return model.ReasonMissingDebugInfo, true
	}
	if f.Section(".debug_line") == nil {
		return model.ReasonMissingDebugLine, true
	}
	if isSplitDWARF(f) {
		return model.ReasonSplitDWARF, true
	}
	return "", false
}

// isSplitDWARF reports split or externally-linked debug data by section
// name only: a .debug_cu_index or a .gnu_debugaltlink section. Skeleton
// units that name a .dwo file are not inspected.
func isSplitDWARF(f *elf.File) bool {
	return f.Section(".debug_cu_index") != nil || f.Section(".gnu_debugaltlink") != nil
}

type cuLineTable struct {
	rows  []lineRow
	files []*dwarf.LineFile
}

type lineRow struct {
	addr   uint64
	file   string
	line   int
	column int
}

// buildCULineTable runs the CU's line-number program exactly once (spec.md
// §4.2 step 2: "table is built once per CU and reused across functions").
func buildCULineTable(dwarfData *dwarf.Data, cu *dwarf.Entry) (*cuLineTable, error) {
	lineReader, err := dwarfData.LineReader(cu)
	if err != nil {
		return nil, err
	}
	if lineReader == nil {
		return &cuLineTable{}, nil
	}

	table := &cuLineTable{}
	var entry dwarf.LineEntry
	for {
		if err := lineReader.Next(&entry); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if entry.EndSequence {
			continue
		}
		table.rows = append(table.rows, lineRow{
			addr:   entry.Address,
			file:   resolveFileName(entry.File),
			line:   entry.Line,
			column: entry.Column,
		})
	}
	sort.Slice(table.rows, func(i, j int) bool { return table.rows[i].addr < table.rows[j].addr })
	table.files = lineReader.Files()
	return table, nil
}

func resolveFileName(f *dwarf.LineFile) string {
	if f == nil {
		return ""
	}
	return f.Name
}

// rowsInRanges returns every line-table row whose address falls within any
// of the normalized ranges.
func (t *cuLineTable) rowsInRanges(ranges []model.Range) []lineRow {
	var out []lineRow
	for _, row := range t.rows {
		for _, r := range ranges {
			if row.addr >= r.Low && row.addr < r.High {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

func extractFunctions(cfg config.Config, dwarfData *dwarf.Data) ([]model.DwarfFunctionEntry, error) {
	reader := dwarfData.Reader()

	var entries []model.DwarfFunctionEntry
	var currentCU *dwarf.Entry
	var currentTable *cuLineTable
	var compDir string

	for {
		entry, err := reader.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}

		switch entry.Tag {
		case dwarf.TagCompileUnit:
			currentCU = entry
			compDir, _ = entry.Val(dwarf.AttrCompDir).(string)
			table, tableErr := buildCULineTable(dwarfData, entry)
			if tableErr != nil {
				currentTable = &cuLineTable{}
			} else {
				currentTable = table
			}

		case dwarf.TagSubprogram:
			if currentCU == nil {
				continue
			}
			fn := buildFunctionEntry(cfg, dwarfData, entry, currentCU, currentTable, compDir)
			entries = append(entries, fn)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CUOffset != entries[j].CUOffset {
			return entries[i].CUOffset < entries[j].CUOffset
		}
		return entries[i].DIEOffset < entries[j].DIEOffset
	})
	return entries, nil
}

func buildFunctionEntry(cfg config.Config, dwarfData *dwarf.Data, die, cu *dwarf.Entry, table *cuLineTable, compDir string) model.DwarfFunctionEntry {
	fn := model.DwarfFunctionEntry{
		CUOffset:  int64(cu.Offset),
		DIEOffset: int64(die.Offset),
		StableID:  fmt.Sprintf("%d:%d", cu.Offset, die.Offset),
	}

	if name, ok := die.Val(dwarf.AttrName).(string); ok {
		fn.Name = name
	}
	if linkage, ok := die.Val(dwarf.AttrLinkageName).(string); ok {
		fn.LinkageName = linkage
	}
	fn.IsAnonymous = fn.Name == ""

	isDeclaration, _ := die.Val(dwarf.AttrDeclaration).(bool)
	ranges, rangesErr := dwarfData.Ranges(die)
	if rangesErr != nil {
		ranges = nil
	}
	var rawRanges []model.Range
	for _, r := range ranges {
		rawRanges = append(rawRanges, model.Range{Low: r[0], High: r[1]})
	}
	fn.Ranges = model.NormalizeRanges(rawRanges)
	fn.TotalRangeBytes = model.TotalBytes(fn.Ranges)

	fn.Decl = resolveDecl(die, compDir, table.files)

	var reasons []string
	switch {
	case isDeclaration:
		reasons = append(reasons, model.FuncReasonDeclarationOnly)
	case len(fn.Ranges) == 0:
		reasons = append(reasons, model.FuncReasonMissingRange)
	}

	if len(reasons) == 0 {
		rows := table.rowsInRanges(fn.Ranges)
		counts := map[model.LineRowKey]int{}
		for _, row := range rows {
			counts[model.LineRowKey{File: row.file, Line: row.line}]++
		}
		fn.LineRows = sortedLineRows(counts)
		fn.NLineRows = len(rows)

		if fn.NLineRows == 0 {
			reasons = append(reasons, model.FuncReasonNoLineRowsInRange)
		} else {
			fn.DominantFile, fn.DominantFileRatio = dominantFile(fn.LineRows, fn.NLineRows)
			if fn.DominantFileRatio < cfg.Thresholds.DominantFileRatio {
				reasons = append(reasons, model.FuncReasonMultiFileRange)
			}
			if fn.DominantFile != "" && cfg.HasExcludedPrefix(fn.DominantFile) {
				reasons = append(reasons, model.FuncReasonSystemHeaderDominant)
			}
			if len(fn.Ranges) > cfg.Thresholds.FragmentedSegmentCount {
				reasons = append(reasons, model.FuncReasonRangesFragmented)
			}
			if fn.IsAnonymous {
				reasons = append(reasons, model.FuncReasonNameMissing)
			}
		}
	}

	fn.Verdict, fn.Reasons = classifyVerdict(reasons)
	return fn
}

func sortedLineRows(counts map[model.LineRowKey]int) []model.LineRowCount {
	rows := make([]model.LineRowCount, 0, len(counts))
	for k, c := range counts {
		rows = append(rows, model.LineRowCount{LineRowKey: k, Count: c})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].File != rows[j].File {
			return rows[i].File < rows[j].File
		}
		return rows[i].Line < rows[j].Line
	})
	return rows
}

func dominantFile(rows []model.LineRowCount, total int) (string, float64) {
	fileCounts := map[string]int{}
	for _, r := range rows {
		fileCounts[r.File] += r.Count
	}
	var best string
	var bestCount int
	files := make([]string, 0, len(fileCounts))
	for f := range fileCounts {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, f := range files {
		if fileCounts[f] > bestCount {
			best, bestCount = f, fileCounts[f]
		}
	}
	if total == 0 {
		return best, 0
	}
	return best, float64(bestCount) / float64(total)
}

func resolveDecl(die *dwarf.Entry, compDir string, files []*dwarf.LineFile) model.SourceDecl {
	decl := model.SourceDecl{CompilationDir: compDir}

	fileIdx, hasFile := die.Val(dwarf.AttrDeclFile).(int64)
	if !hasFile {
		decl.DeclMissingReason = model.DeclMissingNoDeclFileAttr
		return decl
	}
	if fileIdx < 0 || int(fileIdx) >= len(files) || files[fileIdx] == nil {
		decl.DeclMissingReason = model.DeclMissingFileIndexOutOfRange
		return decl
	}
	decl.DeclFile = files[fileIdx].Name

	if line, ok := die.Val(dwarf.AttrDeclLine).(int64); ok {
		decl.DeclLine = int(line)
	}
	if col, ok := die.Val(dwarf.AttrDeclColumn).(int64); ok {
		decl.DeclColumn = int(col)
	}
	if compDir == "" {
		decl.DeclMissingReason = model.DeclMissingNoCompDir
	}
	return decl
}

func classifyVerdict(reasons []string) (model.Verdict, []string) {
	rejectSet := map[string]bool{
		model.FuncReasonDeclarationOnly:   true,
		model.FuncReasonMissingRange:      true,
		model.FuncReasonNoLineRowsInRange: true,
	}
	for _, r := range reasons {
		if rejectSet[r] {
			return model.VerdictReject, reasons
		}
	}
	if len(reasons) > 0 {
		return model.VerdictWarn, reasons
	}
	return model.VerdictAccept, nil
}
