package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/NicolasKol/reforge/internal/atomicio"
	"github.com/NicolasKol/reforge/internal/model"
	"github.com/NicolasKol/reforge/internal/tsoracle"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	tsIPaths []string
	tsOutDir string
)

var tsOracleCmd = &cobra.Command{
	Use:   "ts-oracle",
	Short: "Index function definitions and structural nodes from preprocessed .i files",
	RunE:  runTsOracle,
}

func init() {
	RootCmd.AddCommand(tsOracleCmd)

	tsOracleCmd.Flags().StringArrayVar(&tsIPaths, "i-path", nil, "preprocessed .i file to index (repeatable, required)")
	tsOracleCmd.Flags().StringVar(&tsOutDir, "out", "", "output directory (default: oracle_ts alongside the first --i-path)")
	_ = tsOracleCmd.MarkFlagRequired("i-path")
}

func runTsOracle(cmd *cobra.Command, args []string) error {
	if len(tsIPaths) == 0 {
		return fmt.Errorf("at least one --i-path is required")
	}

	units := make([]tsoracle.Unit, 0, len(tsIPaths))
	for _, path := range tsIPaths {
		text, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		units = append(units, tsoracle.Unit{Path: path, Text: text})
	}

	tus, functions := tsoracle.Extract(cmd.Context(), activeConfig, units)

	report := model.TsReport{
		Envelope:   model.NewEnvelope(activeConfig.ProfileID, "", time.Now().UTC().Format(clockTimestampLayout)),
		TUs:        tus,
		NFunctions: len(functions),
	}

	var recipes []model.ExtractionRecipe
	for _, fn := range functions {
		recipes = append(recipes, tsoracle.Recipes(fn)...)
	}

	outDir := tsOutDir
	if outDir == "" {
		// tsIPaths[0] is {root}/{name}/preprocess/{stem}.i; oracle_ts/ sits
		// at the job root, a sibling of preprocess/ (spec.md's on-disk layout).
		outDir = filepath.Join(filepath.Dir(filepath.Dir(tsIPaths[0])), "oracle_ts")
	}

	if err := atomicio.WriteJSON(filepath.Join(outDir, "oracle_ts_report.json"), report); err != nil {
		return fmt.Errorf("writing oracle_ts_report.json: %w", err)
	}
	if err := atomicio.WriteJSON(filepath.Join(outDir, "oracle_ts_functions.json"), functions); err != nil {
		return fmt.Errorf("writing oracle_ts_functions.json: %w", err)
	}
	if err := atomicio.WriteJSON(filepath.Join(outDir, "extraction_recipes.json"), recipes); err != nil {
		return fmt.Errorf("writing extraction_recipes.json: %w", err)
	}

	logger.Info("ts oracle finished", "tus", len(tus), "functions", len(functions))
	fmt.Println(color.GreenString("%d TUs, %d functions indexed", len(tus), len(functions)))
	return nil
}
