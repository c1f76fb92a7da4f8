package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/NicolasKol/reforge/internal/atomicio"
	"github.com/NicolasKol/reforge/internal/dwarforacle"
	"github.com/NicolasKol/reforge/internal/hashutil"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var dwarfBinPath string

var dwarfCmd = &cobra.Command{
	Use:   "dwarf-oracle",
	Short: "Extract per-function ground truth from a debug ELF binary's DWARF",
	RunE:  runDwarfOracle,
}

func init() {
	RootCmd.AddCommand(dwarfCmd)

	dwarfCmd.Flags().StringVar(&dwarfBinPath, "bin", "", "path to the debug ELF binary (required)")
	_ = dwarfCmd.MarkFlagRequired("bin")
}

func runDwarfOracle(cmd *cobra.Command, args []string) error {
	sha, _, err := hashutil.File(dwarfBinPath)
	if err != nil {
		return fmt.Errorf("hashing %s: %w", dwarfBinPath, err)
	}

	nowFn := func() string { return time.Now().UTC().Format(clockTimestampLayout) }
	report, functions, err := dwarforacle.Extract(activeConfig, dwarfBinPath, sha, nowFn)
	if err != nil {
		logger.Error("dwarf oracle failed", "bin", dwarfBinPath, "error", err)
		return err
	}

	// dwarfBinPath is {O0|..}/{debug}/bin/{name}; oracle/ is a sibling of
	// bin/ under {debug}, not under bin/ itself (spec.md's on-disk layout).
	outDir := filepath.Join(filepath.Dir(filepath.Dir(dwarfBinPath)), "oracle")
	if err := atomicio.WriteJSON(filepath.Join(outDir, "oracle_report.json"), report); err != nil {
		return fmt.Errorf("writing oracle_report.json: %w", err)
	}
	if err := atomicio.WriteJSON(filepath.Join(outDir, "oracle_functions.json"), functions); err != nil {
		return fmt.Errorf("writing oracle_functions.json: %w", err)
	}

	logger.Info("dwarf oracle finished", "bin", dwarfBinPath, "verdict", report.Verdict, "functions", report.NFunctions)
	fmt.Println(color.GreenString("%s: %s (%d functions, %d accept, %d warn, %d reject)",
		dwarfBinPath, report.Verdict, report.NFunctions, report.NAccept, report.NWarn, report.NReject))
	return nil
}
