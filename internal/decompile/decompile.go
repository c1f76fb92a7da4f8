// Package decompile reshapes the decompiler's raw NDJSON output into the
// Reforge function-record model (spec.md §4.5 prerequisite). The teacher has
// no decompiler integration; the line-oriented NDJSON decode follows the
// same bufio.Scanner-driven subprocess-output pattern the teacher uses when
// consuming compiler stdout in pkg/hw/cpu/llvm/clang.go, adapted here to a
// one-JSON-object-per-line stream instead of a build log.
package decompile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/NicolasKol/reforge/internal/model"
)

// ErrReshape is the sentinel base error for hard NDJSON-reshape failures.
var ErrReshape = fmt.Errorf("decompile")

// rawRecord mirrors one decompiler NDJSON line before classification.
type rawRecord struct {
	Type       string          `json:"type"` // "function" | "summary"
	AltType    string          `json:"_type"` // same tag under the "_type" key, used when "type" is absent
	EntryVA    *uint64         `json:"entry_va"`
	BodyStart  *uint64         `json:"body_start"`
	BodyEnd    *uint64         `json:"body_end"`
	Text       string          `json:"decompiled_text"`
	Variables  []rawVariable   `json:"variables"`
	CFG        []rawBlock      `json:"cfg"`
	Calls      []rawCall       `json:"calls"`
	Warnings   []string        `json:"warnings"`
	IsThunk    bool            `json:"is_thunk"`
	IsExternal bool            `json:"is_external"`
	IsImport   bool            `json:"is_import_proxy"`
	ImageBase  *uint64         `json:"image_base"`
	ToolVersion string         `json:"tool_version"`
}

type rawVariable struct {
	Name        string   `json:"name"`
	Storage     string   `json:"storage"` // "stack"|"register"|"memory"|"unique"
	Offset      *int64   `json:"offset"`
	Register    string   `json:"register"`
	Address     *uint64  `json:"address"`
	TypeString  string   `json:"type_string"`
	AccessSites []uint64 `json:"access_sites"`
}

type rawBlock struct {
	Start       uint64   `json:"start"`
	End         uint64   `json:"end"`
	Successors  []uint64 `json:"successors"`
}

type rawCall struct {
	CallerEntryVA uint64  `json:"caller_entry_va"`
	CallsiteVA    uint64  `json:"callsite_va"`
	Kind          string  `json:"kind"` // "direct"|"indirect"
	CalleeEntryVA *uint64 `json:"callee_entry_va"`
}

var warningTaxonomy = map[string]model.DecompWarning{
	"decompile_timeout":          model.WarnDecompileTimeout,
	"unknown_calling_convention": model.WarnUnknownCallingConv,
	"unreachable_blocks_removed": model.WarnUnreachableBlocksRemoved,
	"unresolved_indirect_jump":   model.WarnUnresolvedIndirectJump,
	"switch_recovery_failed":     model.WarnSwitchRecoveryFailed,
}

// Reshape reads one decompiler NDJSON stream and returns the summary
// trailer plus every function record, sorted by entry VA (spec.md §5).
//
// image_base is only known once the trailing summary record is read, so
// Reshape buffers every function record as it is decoded and rebases each
// one's addresses against image_base after the stream is fully consumed
// (spec.md §9: without this, PIE binaries join at zero overlap since every
// decompiler-reported VA is relative to the load base, not link-time DWARF
// addresses).
func Reshape(r io.Reader) (model.DecompSummary, []model.DecompFunctionRecord, error) {
	var summary model.DecompSummary
	var raws []rawRecord

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw rawRecord
		if err := json.Unmarshal(line, &raw); err != nil {
			return summary, nil, fmt.Errorf("%w: malformed NDJSON record: %v", ErrReshape, err)
		}
		if raw.Type == "" {
			raw.Type = raw.AltType
		}

		switch raw.Type {
		case "summary":
			if raw.ImageBase != nil {
				summary.ImageBase = *raw.ImageBase
			}
			summary.ToolVersion = raw.ToolVersion
		case "function":
			raws = append(raws, raw)
		default:
			return summary, nil, fmt.Errorf("%w: unknown record type %q", ErrReshape, raw.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, nil, fmt.Errorf("%w: %v", ErrReshape, err)
	}

	records := make([]model.DecompFunctionRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, reshapeFunction(raw, summary.ImageBase))
	}

	sort.Slice(records, func(i, j int) bool { return records[i].EntryVA < records[j].EntryVA })
	return summary, records, nil
}

func reshapeFunction(raw rawRecord, imageBase uint64) model.DecompFunctionRecord {
	rec := model.DecompFunctionRecord{
		DecompiledText: raw.Text,
		IsThunk:        raw.IsThunk,
		IsExternal:     raw.IsExternal,
		IsImportProxy:  raw.IsImport,
	}
	if raw.EntryVA != nil {
		rec.EntryVA = *raw.EntryVA + imageBase
	}
	if raw.BodyStart != nil && raw.BodyEnd != nil {
		rec.Body = &model.Range{Low: *raw.BodyStart + imageBase, High: *raw.BodyEnd + imageBase}
	}

	for _, v := range raw.Variables {
		rec.Variables = append(rec.Variables, reshapeVariable(v))
	}
	for _, b := range raw.CFG {
		rec.CFG = append(rec.CFG, model.BasicBlock{
			Range:      model.Range{Low: b.Start + imageBase, High: b.End + imageBase},
			Successors: rebaseVAs(b.Successors, imageBase),
		})
	}
	for _, c := range raw.Calls {
		kind := model.CallDirect
		if c.Kind == "indirect" {
			kind = model.CallIndirect
		}
		call := model.CallSite{
			CallerEntryVA: c.CallerEntryVA + imageBase,
			CallsiteVA:    c.CallsiteVA + imageBase,
			Kind:          kind,
		}
		if c.CalleeEntryVA != nil {
			callee := *c.CalleeEntryVA + imageBase
			call.CalleeEntryVA = &callee
		}
		rec.Calls = append(rec.Calls, call)
	}

	for _, w := range raw.Warnings {
		if classified, ok := warningTaxonomy[w]; ok {
			rec.Warnings = append(rec.Warnings, classified)
		}
	}

	rec.CFGCompleteness = classifyCFGCompleteness(rec.Warnings)
	rec.Verdict = classifyVerdict(rec.Warnings, rec.Body)
	return rec
}

func rebaseVAs(vas []uint64, imageBase uint64) []uint64 {
	if vas == nil {
		return nil
	}
	out := make([]uint64, len(vas))
	for i, va := range vas {
		out[i] = va + imageBase
	}
	return out
}

func reshapeVariable(v rawVariable) model.DecompVariable {
	dv := model.DecompVariable{
		Name:        v.Name,
		TypeString:  v.TypeString,
		AccessSites: v.AccessSites,
	}
	switch v.Storage {
	case "stack":
		dv.StorageClass = model.StorageStack
		off := int64(0)
		if v.Offset != nil {
			off = *v.Offset
		}
		dv.StorageKey = fmt.Sprintf("stack:off:%s", signedHex(off))
	case "register":
		dv.StorageClass = model.StorageRegister
		dv.StorageKey = "reg:" + v.Register
	case "memory":
		dv.StorageClass = model.StorageMemory
		addr := uint64(0)
		if v.Address != nil {
			addr = *v.Address
		}
		dv.StorageKey = fmt.Sprintf("mem:0x%x", addr)
	case "unique":
		dv.StorageClass = model.StorageUnique
		dv.StorageKey = "uniq:" + v.Name
	default:
		dv.StorageClass = model.StorageUnknown
		dv.StorageKey = "uniq:" + v.Name
	}
	return dv
}

func signedHex(v int64) string {
	if v < 0 {
		return fmt.Sprintf("-0x%x", -v)
	}
	return fmt.Sprintf("+0x%x", v)
}

func classifyCFGCompleteness(warnings []model.DecompWarning) model.CFGCompleteness {
	has := func(w model.DecompWarning) bool {
		for _, x := range warnings {
			if x == w {
				return true
			}
		}
		return false
	}
	switch {
	case has(model.WarnDecompileTimeout), has(model.WarnUnresolvedIndirectJump):
		return model.CFGLow
	case has(model.WarnUnreachableBlocksRemoved), has(model.WarnSwitchRecoveryFailed), has(model.WarnUnknownCallingConv):
		return model.CFGMedium
	default:
		return model.CFGHigh
	}
}

func classifyVerdict(warnings []model.DecompWarning, body *model.Range) model.Verdict {
	if body == nil {
		return model.VerdictReject
	}
	for _, w := range warnings {
		if model.FatalWarnings[w] {
			return model.VerdictReject
		}
	}
	if len(warnings) > 0 {
		return model.VerdictWarn
	}
	return model.VerdictAccept
}
