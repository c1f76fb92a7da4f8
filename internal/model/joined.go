package model

// MatchKind is the join-oracles-to-decompiler classification (spec.md §4.5
// step 5).
type MatchKind string

const (
	MatchJoinedStrong MatchKind = "JOINED_STRONG"
	MatchJoinedWeak   MatchKind = "JOINED_WEAK"
	MatchMulti        MatchKind = "MULTI_MATCH"
	MatchNone         MatchKind = "NO_MATCH"
	MatchNoRange      MatchKind = "NO_RANGE"
)

// JoinedFunctionRow is one output row: the DWARF entry union the alignment
// row union the best-match decompiler function (or an absence marker).
// REJECT DWARF rows are preserved (spec.md §3, §4.5).
type JoinedFunctionRow struct {
	DwarfStableID string     `json:"dwarf_stable_id"`
	DwarfName     string     `json:"dwarf_name,omitempty"`
	Decl          SourceDecl `json:"decl"`
	DwarfVerdict  Verdict    `json:"dwarf_verdict"`

	AlignmentVerdict AlignmentVerdict `json:"alignment_verdict,omitempty"`
	BestTsFuncID     string           `json:"best_ts_func_id,omitempty"`

	DecompEntryVA *uint64 `json:"decomp_entry_va,omitempty"`
	HasDecompMatch bool   `json:"has_decomp_match"`

	OverlapBytes         uint64  `json:"overlap_bytes"`
	TotalDwarfRangeBytes uint64  `json:"total_dwarf_range_bytes"`
	PCOverlapRatio       float64 `json:"pc_overlap_ratio"`

	MatchKind MatchKind `json:"match_kind"`

	FatFunctionMultiDwarf bool `json:"fat_function_multi_dwarf"`
	FatFunctionCount      int  `json:"fat_function_count,omitempty"`

	IsExternalBlock bool `json:"is_external_block"`
	IsThunk         bool `json:"is_thunk"`
	IsAuxFunction   bool `json:"is_aux_function"`
	IsImportProxy   bool `json:"is_import_proxy"`

	CFGCompleteness CFGCompleteness `json:"cfg_completeness,omitempty"`
	FatalWarnings   []DecompWarning `json:"fatal_warnings,omitempty"`

	IsHighConfidence bool `json:"is_high_confidence"`
}

// JoinReport is the top-level join-oracles-to-decompiler output.
type JoinReport struct {
	Envelope
	NRows           int `json:"n_rows"`
	NJoinedStrong   int `json:"n_joined_strong"`
	NJoinedWeak     int `json:"n_joined_weak"`
	NMultiMatch     int `json:"n_multi_match"`
	NNoMatch        int `json:"n_no_match"`
	NNoRange        int `json:"n_no_range"`
	NHighConfidence int `json:"n_high_confidence"`
}
