package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/NicolasKol/reforge/internal/atomicio"
	"github.com/NicolasKol/reforge/internal/joindwarfts"
	"github.com/NicolasKol/reforge/internal/model"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	joinDTBinarySHA256       string
	joinDTDwarfFunctionsPath string
	joinDTTsFunctionsPath    string
	joinDTIPaths             []string
	joinDTOutDir             string
)

var joinDwarfTsCmd = &cobra.Command{
	Use:   "join-dwarf-ts",
	Short: "Align DWARF functions to tree-sitter candidates via #line directives",
	RunE:  runJoinDwarfTs,
}

func init() {
	RootCmd.AddCommand(joinDwarfTsCmd)

	joinDwarfTsCmd.Flags().StringVar(&joinDTBinarySHA256, "binary-sha256", "", "debug binary sha256, carried forward from oracle_report.json's envelope (required)")
	joinDwarfTsCmd.Flags().StringVar(&joinDTDwarfFunctionsPath, "dwarf-functions", "", "path to oracle_functions.json (required)")
	joinDwarfTsCmd.Flags().StringVar(&joinDTTsFunctionsPath, "ts-functions", "", "path to oracle_ts_functions.json (required)")
	joinDwarfTsCmd.Flags().StringArrayVar(&joinDTIPaths, "i-path", nil, "preprocessed .i file a ts function came from (repeatable, required)")
	joinDwarfTsCmd.Flags().StringVar(&joinDTOutDir, "out", "", "output directory (default: join_dwarf_ts alongside --dwarf-functions)")
	_ = joinDwarfTsCmd.MarkFlagRequired("binary-sha256")
	_ = joinDwarfTsCmd.MarkFlagRequired("dwarf-functions")
	_ = joinDwarfTsCmd.MarkFlagRequired("ts-functions")
	_ = joinDwarfTsCmd.MarkFlagRequired("i-path")
}

func runJoinDwarfTs(cmd *cobra.Command, args []string) error {
	var dwarfFns []model.DwarfFunctionEntry
	if err := readJSON(joinDTDwarfFunctionsPath, &dwarfFns); err != nil {
		return err
	}

	var tsFns []model.TsFunctionEntry
	if err := readJSON(joinDTTsFunctionsPath, &tsFns); err != nil {
		return err
	}

	originMaps := make(map[string]*joindwarfts.OriginMap, len(joinDTIPaths))
	for _, path := range joinDTIPaths {
		text, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		originMaps[path] = joindwarfts.BuildOriginMap(activeConfig, text)
	}

	candidates := make([]joindwarfts.TsCandidate, 0, len(tsFns))
	for _, fn := range tsFns {
		candidates = append(candidates, joindwarfts.TsCandidate{
			TsFuncID:    fn.TsFuncID,
			TUPath:      fn.TUPath,
			ContextHash: fn.ContextHash,
			StartLine:   fn.Span.StartLine,
			EndLine:     fn.Span.EndLine,
			StartByte:   fn.Span.StartByte,
			Origin:      originMaps[fn.TUPath],
		})
	}

	pairs := joindwarfts.Align(activeConfig, dwarfFns, candidates)

	report := model.AlignmentReport{
		Envelope: model.NewEnvelope(activeConfig.ProfileID, joinDTBinarySHA256, time.Now().UTC().Format(clockTimestampLayout)),
	}
	for _, p := range pairs {
		if !p.IsTarget {
			report.NNonTargets++
			continue
		}
		report.NTargets++
		switch p.Verdict {
		case model.AlignMatch:
			report.NMatch++
		case model.AlignAmbiguous:
			report.NAmbiguous++
		case model.AlignNoMatch:
			report.NNoMatch++
		}
	}

	outDir := joinDTOutDir
	if outDir == "" {
		// joinDTDwarfFunctionsPath is {O0|..}/{debug}/oracle/oracle_functions.json;
		// join_dwarf_ts/ is a sibling of oracle/ under {debug} (spec.md's
		// on-disk layout), not nested inside oracle/ itself.
		outDir = filepath.Join(filepath.Dir(filepath.Dir(joinDTDwarfFunctionsPath)), "join_dwarf_ts")
	}

	if err := atomicio.WriteJSON(filepath.Join(outDir, "alignment_report.json"), report); err != nil {
		return fmt.Errorf("writing alignment_report.json: %w", err)
	}
	if err := atomicio.WriteJSON(filepath.Join(outDir, "alignment_pairs.json"), pairs); err != nil {
		return fmt.Errorf("writing alignment_pairs.json: %w", err)
	}

	logger.Info("join-dwarf-ts finished", "targets", report.NTargets, "match", report.NMatch, "ambiguous", report.NAmbiguous, "no_match", report.NNoMatch)
	fmt.Println(color.GreenString("%d targets: %d match, %d ambiguous, %d no-match", report.NTargets, report.NMatch, report.NAmbiguous, report.NNoMatch))
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
