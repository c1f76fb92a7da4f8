package builder

import (
	"context"
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/NicolasKol/reforge/internal/atomicio"
	"github.com/NicolasKol/reforge/internal/config"
	"github.com/NicolasKol/reforge/internal/errutil"
	"github.com/NicolasKol/reforge/internal/hashutil"
	"github.com/NicolasKol/reforge/internal/model"
	"github.com/NicolasKol/reforge/internal/snapshot"
	"github.com/NicolasKol/reforge/internal/workerpool"
)

// ErrBuild is the sentinel base error for every hard failure this package
// returns (the receipt itself still gets written for a per-unit or policy
// failure; ErrBuild is reserved for failures that prevent producing any
// receipt at all, e.g. an unwritable job directory).
var ErrBuild = fmt.Errorf("builder")

// Job describes one build-receipt job: a named snapshot, a profile, and
// the list of translation units to compile.
type Job struct {
	Name     string
	JobID    string
	Files    []snapshot.File
	TUs      []string // relative paths of .c files within Files
	Profile  model.Profile
}

const clockTimestampLayout = "2006-01-02T15:04:05.000Z"

// Run executes the full builder pipeline: materialize the snapshot,
// preprocess every TU, compile/link/(strip) every matrix cell, and emit a
// single build_receipt.json under jobDir. jobDir must not already exist
// (spec.md §5: a rebuild of a named snapshot either replaces the directory
// atomically or refuses if the target exists).
func Run(ctx context.Context, cfg config.Config, jobDir string, job Job, nowFn func() time.Time) (*model.BuildReceipt, error) {
	if _, err := os.Stat(jobDir); err == nil {
		return nil, errutil.Wrap(ErrBuild, "job directory already exists: %s", jobDir)
	}

	tmpDir := jobDir + ".tmp"
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, errutil.Wrap(ErrBuild, "clearing stale temp dir: %v", err)
	}

	snap := snapshot.Build(job.Name, job.Files)
	srcDir := filepath.Join(tmpDir, "src")
	if err := snapshot.Materialize(srcDir, job.Files); err != nil {
		return nil, errutil.Wrap(ErrBuild, "materializing snapshot: %v", err)
	}

	toolchain, err := DiscoverToolchain("", "")
	if err != nil {
		return nil, errutil.Wrap(ErrBuild, "discovering toolchain: %v", err)
	}
	version, _ := toolchain.Version(ctx)

	receipt := &model.BuildReceipt{
		Envelope: model.NewEnvelope(cfg.ProfileID, "", nowFn().UTC().Format(clockTimestampLayout)),
		JobID:    job.JobID,
		Snapshot: snap,
		Builder: model.BuilderIdentity{
			Name:        "reforge-builder",
			Version:     model.SchemaVersion,
			LockTextSHA: hashutil.Bytes([]byte(fmt.Sprintf("%+v", job.Profile))),
		},
		Toolchain: model.ToolchainIdentity{
			CompilerPath:    toolchain.CompilerPath,
			CompilerVersion: version,
			OS:              runtime.GOOS,
			Architecture:    runtime.GOARCH,
		},
		Profile: job.Profile,
	}

	receipt.Preprocess = preprocessAll(ctx, cfg, toolchain, srcDir, tmpDir, job)

	cells := Cells()
	results := make([]model.BuildCell, len(cells))
	pool := workerpool.New(ctx, cfg.WorkerPoolSize)
	for i, c := range cells {
		i, c := i, c
		pool.Go(func(ctx context.Context) error {
			cell := buildCell(ctx, cfg, toolchain, srcDir, tmpDir, job, c.Opt, c.Variant, nowFn)
			cell.Sequence = i
			results[i] = cell
			return nil
		})
	}
	_ = pool.Wait() // buildCell reports failure via cell.Status, never returns an error

	anyCellFailed := false
	for _, cell := range results {
		if cell.Status != model.CellSuccess {
			anyCellFailed = true
		}
		receipt.Cells = append(receipt.Cells, cell)
	}

	switch {
	case !anyCellFailed:
		receipt.JobStatus = "SUCCESS"
	case len(receipt.Cells) > 0 && allFailed(receipt.Cells):
		receipt.JobStatus = "FAILED"
	default:
		receipt.JobStatus = "PARTIAL"
	}

	receiptPath := filepath.Join(tmpDir, "build_receipt.json")
	if err := atomicio.WriteJSON(receiptPath, receipt); err != nil {
		return nil, errutil.Wrap(ErrBuild, "writing receipt: %v", err)
	}

	if err := atomicio.ReplaceDirectory(tmpDir, jobDir); err != nil {
		return nil, errutil.Wrap(ErrBuild, "publishing job directory: %v", err)
	}

	return receipt, nil
}

func allFailed(cells []model.BuildCell) bool {
	for _, c := range cells {
		if c.Status == model.CellSuccess {
			return false
		}
	}
	return true
}

func preprocessAll(ctx context.Context, cfg config.Config, toolchain *Toolchain, srcDir, tmpDir string, job Job) []model.PreprocessUnit {
	units := make([]model.PreprocessUnit, 0, len(job.TUs))
	outDir := filepath.Join(tmpDir, "preprocess")
	logsDir := filepath.Join(outDir, "logs")

	for _, tu := range job.TUs {
		unit := preprocessOne(ctx, cfg, toolchain, srcDir, outDir, logsDir, tu, job.Profile)
		units = append(units, unit)
	}
	return units
}

func preprocessOne(ctx context.Context, cfg config.Config, toolchain *Toolchain, srcDir, outDir, logsDir, tu string, profile model.Profile) model.PreprocessUnit {
	stem := strings.TrimSuffix(filepath.Base(tu), filepath.Ext(tu))
	outputPath := filepath.Join(outDir, stem+".i")
	sourcePath := filepath.Join(srcDir, filepath.FromSlash(tu))

	args := append([]string{}, profile.PreprocessFlags...)
	for _, inc := range profile.IncludePaths {
		args = append(args, "-I"+inc)
	}
	args = append(args, "-E", "-o", outputPath, sourcePath)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return model.PreprocessUnit{SourcePath: tu, OutputPath: outputPath, Failed: true, Reason: err.Error()}
	}
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return model.PreprocessUnit{SourcePath: tu, OutputPath: outputPath, Failed: true, Reason: err.Error()}
	}

	// Preprocess failure is non-fatal (spec.md §4.1): mark FAILED, continue.
	result, runErr := run(ctx, cfg.Timeouts.Preprocess, toolchain.CompilerPath, args...)
	logPath := filepath.Join(logsDir, stem+".log")
	_ = atomicio.WriteFile(logPath, []byte(result.Stdout+result.Stderr), 0o644)

	unit := model.PreprocessUnit{
		SourcePath: tu,
		OutputPath: outputPath,
		ExitCode:   result.ExitCode,
		DurationMS: result.Duration.Milliseconds(),
	}
	if runErr != nil {
		unit.Failed = true
		unit.Reason = runErr.Error()
		return unit
	}
	if digest, _, hashErr := hashutil.File(outputPath); hashErr == nil {
		unit.OutputHash = digest
	}
	return unit
}

func buildCell(ctx context.Context, cfg config.Config, toolchain *Toolchain, srcDir, tmpDir string, job Job, opt model.OptLevel, variant model.Variant, nowFn func() time.Time) model.BuildCell {
	cell := model.BuildCell{
		Optimization: opt,
		Variant:      variant,
		StartedAt:    nowFn().UTC().Format(clockTimestampLayout),
	}

	cellDir := filepath.Join(tmpDir, string(opt), string(variant))
	objDir := filepath.Join(cellDir, "obj")
	binDir := filepath.Join(cellDir, "bin")
	logsDir := filepath.Join(cellDir, "logs")
	for _, d := range []string{objDir, binDir, logsDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			cell.Status = model.CellFailed
			cell.Flags = append(cell.Flags, model.FlagBuildFailed)
			finishCell(&cell, nowFn)
			return cell
		}
	}

	flags := append([]string{optFlag(opt)}, job.Profile.BaseFlags...)
	flags = append(flags, variantExtraFlags(variant, job.Profile)...)
	for _, inc := range job.Profile.IncludePaths {
		flags = append(flags, "-I"+inc)
	}

	objects := make([]string, 0, len(job.TUs))
	compileFailed := false
	for _, tu := range job.TUs {
		stem := strings.TrimSuffix(filepath.Base(tu), filepath.Ext(tu))
		objPath := filepath.Join(objDir, stem+".o")
		sourcePath := filepath.Join(srcDir, filepath.FromSlash(tu))

		args := append(append([]string{}, flags...), "-c", "-o", objPath, sourcePath)
		result, err := run(ctx, cfg.Timeouts.Compile, toolchain.CompilerPath, args...)
		logPath := filepath.Join(logsDir, "compile_"+stem+".log")
		_ = atomicio.WriteFile(logPath, []byte(result.Stdout+result.Stderr), 0o644)

		phase := model.PhaseRecord{
			Phase:      "compile",
			Command:    result.Command,
			ExitCode:   result.ExitCode,
			TimedOut:   result.TimedOut,
			DurationMS: result.Duration.Milliseconds(),
		}
		if err != nil {
			compileFailed = true
			if result.TimedOut {
				phase.Flags = append(phase.Flags, string(model.FlagTimeout))
			} else {
				phase.Flags = append(phase.Flags, string(model.FlagCompileUnitFailed))
			}
			cell.CompilePhases = append(cell.CompilePhases, phase)
			continue
		}
		if digest, _, hashErr := hashutil.File(objPath); hashErr == nil {
			phase.OutputHash = digest
		}
		cell.CompilePhases = append(cell.CompilePhases, phase)
		objects = append(objects, objPath)
	}

	if compileFailed {
		cell.Status = model.CellFailed
		cell.Flags = append(cell.Flags, model.FlagCompileUnitFailed)
		finishCell(&cell, nowFn)
		return cell
	}

	binPath := filepath.Join(binDir, job.Name)
	linkArgs := append(append([]string{}, objects...), "-o", binPath)
	for _, lib := range job.Profile.AllowedLinkLibs {
		linkArgs = append(linkArgs, "-l"+strings.TrimPrefix(lib, "-l"))
	}
	linkResult, linkErr := run(ctx, cfg.Timeouts.Link, toolchain.CompilerPath, linkArgs...)
	_ = atomicio.WriteFile(filepath.Join(logsDir, "link.log"), []byte(linkResult.Stdout+linkResult.Stderr), 0o644)

	linkPhase := model.PhaseRecord{
		Phase:      "link",
		Command:    linkResult.Command,
		ExitCode:   linkResult.ExitCode,
		TimedOut:   linkResult.TimedOut,
		DurationMS: linkResult.Duration.Milliseconds(),
	}
	cell.LinkPhase = &linkPhase
	if linkErr != nil {
		linkPhase.Flags = append(linkPhase.Flags, string(model.FlagLinkFailed))
		cell.Status = model.CellFailed
		cell.Flags = append(cell.Flags, model.FlagLinkFailed)
		finishCell(&cell, nowFn)
		return cell
	}

	if variant == model.VariantStripped {
		stripResult, stripErr := run(ctx, cfg.Timeouts.Strip, toolchain.StripPath, "--strip-all", binPath)
		_ = atomicio.WriteFile(filepath.Join(logsDir, "strip.log"), []byte(stripResult.Stdout+stripResult.Stderr), 0o644)
		stripPhase := model.PhaseRecord{
			Phase:      "strip",
			Command:    stripResult.Command,
			ExitCode:   stripResult.ExitCode,
			TimedOut:   stripResult.TimedOut,
			DurationMS: stripResult.Duration.Milliseconds(),
		}
		cell.StripPhase = &stripPhase
		if stripErr != nil {
			stripPhase.Flags = append(stripPhase.Flags, string(model.FlagStripFailed))
			cell.Status = model.CellFailed
			cell.Flags = append(cell.Flags, model.FlagStripFailed)
			finishCell(&cell, nowFn)
			return cell
		}
	}

	artifact, artifactErr := describeArtifact(binPath, cellDir, variant)
	if artifactErr != nil {
		cell.Status = model.CellFailed
		cell.Flags = append(cell.Flags, model.FlagNoArtifact)
		finishCell(&cell, nowFn)
		return cell
	}
	cell.Artifact = artifact
	cell.Flags = append(cell.Flags, variantPostConditionFlags(variant, artifact.ELF)...)

	cell.Status = model.CellSuccess
	finishCell(&cell, nowFn)
	return cell
}

func finishCell(cell *model.BuildCell, nowFn func() time.Time) {
	cell.FinishedAt = nowFn().UTC().Format(clockTimestampLayout)
}

func describeArtifact(binPath, cellDir string, variant model.Variant) (*model.ArtifactDescriptor, error) {
	digest, size, err := hashutil.File(binPath)
	if err != nil {
		return nil, err
	}

	f, err := elf.Open(binPath)
	if err != nil {
		return nil, errutil.Wrap(ErrBuild, "%s: %v", model.FlagNonELFOutput, err)
	}
	defer f.Close()

	meta := model.ELFMetadata{
		Type:         f.Type.String(),
		Architecture: f.Machine.String(),
	}
	if section := f.Section(".debug_info"); section != nil {
		meta.HasDebugInfo = true
	}
	if section := f.Section(".debug_line"); section != nil {
		meta.HasDebugLine = true
	}
	if buildid := f.Section(".note.gnu.build-id"); buildid != nil {
		if data, err := buildid.Data(); err == nil && len(data) > 16 {
			meta.BuildID = fmt.Sprintf("%x", data[16:])
		}
	}
	meta.DebugSectionsOK = validateDebugSections(meta, variant)

	relPath, _ := filepath.Rel(cellDir, binPath)
	return &model.ArtifactDescriptor{
		Path:   filepath.ToSlash(filepath.Join(filepath.Base(cellDir), relPath)),
		SHA256: digest,
		Size:   size,
		ELF:    meta,
	}, nil
}

func validateDebugSections(meta model.ELFMetadata, variant model.Variant) bool {
	switch variant {
	case model.VariantDebug:
		return meta.HasDebugInfo && meta.HasDebugLine
	case model.VariantStripped:
		return !meta.HasDebugInfo && !meta.HasDebugLine
	default:
		return true
	}
}

func variantPostConditionFlags(variant model.Variant, meta model.ELFMetadata) []model.CellFlag {
	var flags []model.CellFlag
	switch variant {
	case model.VariantDebug:
		if !meta.HasDebugInfo || !meta.HasDebugLine {
			flags = append(flags, model.FlagDebugExpectedMissing)
		}
	case model.VariantStripped:
		if meta.HasDebugInfo || meta.HasDebugLine {
			flags = append(flags, model.FlagStripExpectedMissing)
		}
	}
	return flags
}
