package model

// OptLevel is one of the four matrix optimization levels.
type OptLevel string

const (
	O0 OptLevel = "O0"
	O1 OptLevel = "O1"
	O2 OptLevel = "O2"
	O3 OptLevel = "O3"
)

// AllOptLevels enumerates the matrix in deterministic order.
var AllOptLevels = []OptLevel{O0, O1, O2, O3}

// Variant is one of the three post-compilation treatments.
type Variant string

const (
	VariantDebug    Variant = "debug"
	VariantRelease  Variant = "release"
	VariantStripped Variant = "stripped"
)

// AllVariants enumerates the matrix in deterministic order.
var AllVariants = []Variant{VariantDebug, VariantRelease, VariantStripped}

// CellFlag is one of the non-exhaustive cell-level flags from spec.md §4.1.
type CellFlag string

const (
	FlagBuildFailed           CellFlag = "BUILD_FAILED"
	FlagTimeout               CellFlag = "TIMEOUT"
	FlagCompileUnitFailed     CellFlag = "COMPILE_UNIT_FAILED"
	FlagLinkFailed            CellFlag = "LINK_FAILED"
	FlagStripFailed           CellFlag = "STRIP_FAILED"
	FlagNoArtifact            CellFlag = "NO_ARTIFACT"
	FlagNonELFOutput          CellFlag = "NON_ELF_OUTPUT"
	FlagDebugExpectedMissing  CellFlag = "DEBUG_EXPECTED_MISSING"
	FlagStripExpectedMissing CellFlag = "STRIP_EXPECTED_MISSING"
)

// CellStatus is the terminal status of a BuildCell.
type CellStatus string

const (
	CellSuccess CellStatus = "SUCCESS"
	CellFailed  CellStatus = "FAILED"
)

// PhaseRecord captures one subprocess invocation's outcome.
type PhaseRecord struct {
	Phase      string   `json:"phase"` // compile|link|strip|preprocess
	Command    string   `json:"command"`
	ExitCode   int      `json:"exit_code"`
	TimedOut   bool     `json:"timed_out"`
	DurationMS int64    `json:"duration_ms"`
	Stdout     string   `json:"stdout,omitempty"`
	Stderr     string   `json:"stderr,omitempty"`
	OutputHash string   `json:"output_hash,omitempty"`
	Flags      []string `json:"flags,omitempty"`
}

// ELFMetadata summarizes the ELF properties relevant to downstream stages.
type ELFMetadata struct {
	Type            string `json:"type"`
	Architecture    string `json:"architecture"`
	BuildID         string `json:"build_id,omitempty"`
	HasDebugInfo    bool   `json:"has_debug_info"`
	HasDebugLine    bool   `json:"has_debug_line"`
	DebugSectionsOK bool   `json:"debug_sections_ok"`
}

// ArtifactDescriptor describes one produced binary.
type ArtifactDescriptor struct {
	Path     string      `json:"path"`
	SHA256   string      `json:"sha256"`
	Size     int64       `json:"size"`
	ELF      ELFMetadata `json:"elf"`
}

// BuildCell is one point in the (optimization, variant) matrix.
type BuildCell struct {
	Optimization OptLevel            `json:"optimization"`
	Variant      Variant             `json:"variant"`
	Status       CellStatus          `json:"status"`
	Flags        []CellFlag          `json:"flags,omitempty"`
	Sequence     int                 `json:"sequence"`
	StartedAt    string              `json:"started_at"`
	FinishedAt   string              `json:"finished_at"`
	CompilePhases []PhaseRecord      `json:"compile_phases"`
	LinkPhase     *PhaseRecord       `json:"link_phase,omitempty"`
	StripPhase    *PhaseRecord       `json:"strip_phase,omitempty"`
	Artifact      *ArtifactDescriptor `json:"artifact,omitempty"`
}

// PreprocessUnit is one `.i` output, independent of the build matrix.
type PreprocessUnit struct {
	SourcePath string `json:"source_path"`
	OutputPath string `json:"output_path"`
	OutputHash string `json:"output_hash,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Failed     bool   `json:"failed"`
	Reason     string `json:"reason,omitempty"`
}

// ToolchainIdentity records the compiler/host identity used for the build.
type ToolchainIdentity struct {
	CompilerPath    string `json:"compiler_path"`
	CompilerVersion string `json:"compiler_version"`
	OS              string `json:"os"`
	Kernel          string `json:"kernel,omitempty"`
	Architecture    string `json:"architecture"`
}

// BuilderIdentity records the Reforge builder's own identity.
type BuilderIdentity struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	LockTextSHA string `json:"lock_text_sha256"`
}

// Profile describes the fixed base flags, link libraries and per-variant
// flag deltas used for a build job.
type Profile struct {
	ID                string              `json:"id"`
	BaseFlags         []string            `json:"base_flags"`
	AllowedLinkLibs   []string            `json:"allowed_link_libs"`
	VariantFlagDeltas map[Variant][]string `json:"variant_flag_deltas"`
	PreprocessFlags   []string            `json:"preprocess_flags"`
	IncludePaths      []string            `json:"include_paths"`
}

// BuildReceipt is the single authoritative output of the Builder.
type BuildReceipt struct {
	Envelope
	JobID       string             `json:"job_id"`
	Snapshot    SourceSnapshot     `json:"snapshot"`
	Builder     BuilderIdentity    `json:"builder"`
	Toolchain   ToolchainIdentity  `json:"toolchain"`
	Profile     Profile            `json:"profile"`
	Preprocess  []PreprocessUnit   `json:"preprocess"`
	Cells       []BuildCell        `json:"cells"`
	JobStatus   string             `json:"job_status"` // SUCCESS|PARTIAL|FAILED
}
