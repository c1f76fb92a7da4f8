package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/NicolasKol/reforge/internal/atomicio"
	"github.com/NicolasKol/reforge/internal/decompile"
	"github.com/NicolasKol/reforge/internal/joindecompile"
	"github.com/NicolasKol/reforge/internal/model"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	joinDCBinarySHA256    string
	joinDCDwarfReportPath string
	joinDCDwarfFuncsPath  string
	joinDCAlignReportPath string
	joinDCAlignPairsPath  string
	joinDCDecompNDJSON    string
	joinDCOutDir          string
)

var joinDecompileCmd = &cobra.Command{
	Use:   "join-decompile",
	Short: "Join DWARF/tree-sitter ground truth to decompiler output via address overlap",
	Long: `join-decompile reshapes the decompiler's raw NDJSON, cross-validates it
against the upstream DWARF oracle and alignment reports by binary_sha256,
and produces one joined row per DWARF function (spec.md §4.5).

--binary-sha256 is the experiment-cell identity shared by the debug binary
the DWARF oracle read and the stripped binary the decompiler analyzed (the
orchestration layer's "binaries" table key, spec.md §6) — not re-derived
from a local file hash, since stripping changes the file's bytes even
though the analyzed code is the same.`,
	RunE: runJoinDecompile,
}

func init() {
	RootCmd.AddCommand(joinDecompileCmd)

	joinDecompileCmd.Flags().StringVar(&joinDCBinarySHA256, "binary-sha256", "", "shared experiment-cell identity (required)")
	joinDecompileCmd.Flags().StringVar(&joinDCDwarfReportPath, "dwarf-report", "", "path to oracle_report.json (required)")
	joinDecompileCmd.Flags().StringVar(&joinDCDwarfFuncsPath, "dwarf-functions", "", "path to oracle_functions.json (required)")
	joinDecompileCmd.Flags().StringVar(&joinDCAlignReportPath, "alignment-report", "", "path to alignment_report.json (required)")
	joinDecompileCmd.Flags().StringVar(&joinDCAlignPairsPath, "alignment-pairs", "", "path to alignment_pairs.json (required)")
	joinDecompileCmd.Flags().StringVar(&joinDCDecompNDJSON, "decompiler-ndjson", "", "path to the decompiler's raw NDJSON output (required)")
	joinDecompileCmd.Flags().StringVar(&joinDCOutDir, "out", "", "output directory (default: join_oracles_decompile alongside --decompiler-ndjson)")

	for _, name := range []string{"binary-sha256", "dwarf-report", "dwarf-functions", "alignment-report", "alignment-pairs", "decompiler-ndjson"} {
		_ = joinDecompileCmd.MarkFlagRequired(name)
	}
}

func runJoinDecompile(cmd *cobra.Command, args []string) error {
	var dwarfReportEnv model.Envelope
	if err := readJSON(joinDCDwarfReportPath, &dwarfReportEnv); err != nil {
		return err
	}
	var alignReportEnv model.Envelope
	if err := readJSON(joinDCAlignReportPath, &alignReportEnv); err != nil {
		return err
	}

	var dwarfFns []model.DwarfFunctionEntry
	if err := readJSON(joinDCDwarfFuncsPath, &dwarfFns); err != nil {
		return err
	}
	var alignPairs []model.AlignmentPair
	if err := readJSON(joinDCAlignPairsPath, &alignPairs); err != nil {
		return err
	}

	f, err := os.Open(joinDCDecompNDJSON)
	if err != nil {
		return fmt.Errorf("opening %s: %w", joinDCDecompNDJSON, err)
	}
	summary, decompFns, err := decompile.Reshape(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("reshaping decompiler output: %w", err)
	}

	decompReport := model.DecompReport{
		Envelope: model.NewEnvelope(activeConfig.ProfileID, joinDCBinarySHA256, time.Now().UTC().Format(clockTimestampLayout)),
		Summary:  summary,
	}

	outDir := joinDCOutDir
	if outDir == "" {
		outDir = filepath.Join(filepath.Dir(joinDCDecompNDJSON), "join_oracles_decompile")
	}
	decompileDir := filepath.Join(filepath.Dir(joinDCDecompNDJSON), "decompile")
	if err := atomicio.WriteJSON(filepath.Join(decompileDir, "report.json"), decompReport); err != nil {
		return fmt.Errorf("writing decompile report.json: %w", err)
	}
	if err := atomicio.WriteJSONLines(filepath.Join(decompileDir, "functions.jsonl"), decompFns); err != nil {
		return fmt.Errorf("writing functions.jsonl: %w", err)
	}

	rows, err := joindecompile.Join(activeConfig, joindecompile.Inputs{
		BuildReceiptSHA256: joinDCBinarySHA256,
		DwarfReportSHA256:  dwarfReportEnv.BinarySHA256,
		AlignmentSHA256:    alignReportEnv.BinarySHA256,
		DecompReportSHA256: decompReport.BinarySHA256,
		DwarfFunctions:     dwarfFns,
		Alignment:          alignPairs,
		Decomp:             decompFns,
	})
	if err != nil {
		logger.Error("join-decompile failed", "error", err)
		return err
	}

	report := model.JoinReport{
		Envelope: model.NewEnvelope(activeConfig.ProfileID, joinDCBinarySHA256, time.Now().UTC().Format(clockTimestampLayout)),
		NRows:    len(rows),
	}
	for _, r := range rows {
		switch r.MatchKind {
		case model.MatchJoinedStrong:
			report.NJoinedStrong++
		case model.MatchJoinedWeak:
			report.NJoinedWeak++
		case model.MatchMulti:
			report.NMultiMatch++
		case model.MatchNone:
			report.NNoMatch++
		case model.MatchNoRange:
			report.NNoRange++
		}
		if r.IsHighConfidence {
			report.NHighConfidence++
		}
	}

	if err := atomicio.WriteJSON(filepath.Join(outDir, "join_report.json"), report); err != nil {
		return fmt.Errorf("writing join_report.json: %w", err)
	}
	if err := atomicio.WriteJSONLines(filepath.Join(outDir, "joined_functions.jsonl"), rows); err != nil {
		return fmt.Errorf("writing joined_functions.jsonl: %w", err)
	}

	logger.Info("join-decompile finished", "rows", report.NRows, "high_confidence", report.NHighConfidence)
	fmt.Println(color.GreenString("%d rows (%d strong, %d weak, %d multi, %d no-match, %d no-range, %d high-confidence)",
		report.NRows, report.NJoinedStrong, report.NJoinedWeak, report.NMultiMatch, report.NNoMatch, report.NNoRange, report.NHighConfidence))
	return nil
}
