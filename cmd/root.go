// Package cmd wires the reforge CLI: one cobra subcommand per core stage
// (spec.md §6's five orchestration operations), sharing a config value and
// a fanned-out logger exactly as the teacher's cmd/root.go wires a single
// viper-backed config to its cobra tree.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/NicolasKol/reforge/internal/config"
	"github.com/NicolasKol/reforge/internal/logging"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// clockTimestampLayout matches the ISO-8601 layout every stage uses for
// the one timestamp field spec.md §5 permits to vary between runs.
const clockTimestampLayout = "2006-01-02T15:04:05.000Z"

var (
	cfgFile   string
	rootFlag  string
	profileID string
	verbose   bool

	activeConfig config.Config
	logger       *slog.Logger
	closeLogger  = func() {}
)

// RootCmd is the base `reforge` command.
var RootCmd = &cobra.Command{
	Use:   "reforge",
	Short: "Controlled reverse-engineering experiment pipeline",
	Long: `Reforge compiles synthetic C snapshots across an optimization x variant
matrix, extracts per-function ground truth from DWARF and tree-sitter, and
joins both against decompiler output so downstream tooling can score
decompilation quality without losing provenance.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if root := viper.GetString("root"); root != "" {
			cfg.Root = root
		}
		if profile := viper.GetString("profile"); profile != "" {
			cfg.ProfileID = profile
		}
		activeConfig = cfg

		l, closeFn, err := logging.New(filepath.Join(cfg.Root, "logs", "reforge.log"), verbose)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		logger = l
		closeLogger = closeFn
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeLogger()
	},
}

// Execute adds all child commands to RootCmd and runs it. Called once by
// main.main().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("reforge: %v", err))
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file overlaying defaults")
	RootCmd.PersistentFlags().StringVar(&rootFlag, "root", ".", "job root directory ({root}/{name}/... per spec.md §6)")
	RootCmd.PersistentFlags().StringVar(&profileID, "profile", "default", "profile id recorded in every output envelope")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cobra.OnInitialize(initEnv)
}

// initEnv binds the --root/--profile flags into viper and layers
// REFORGE_-prefixed environment variables over them, mirroring the
// teacher's viper.AutomaticEnv() call in cmd/root.go. Once bound,
// viper.GetString("root")/("profile") returns the flag's value when the flag
// was passed explicitly, otherwise REFORGE_ROOT/REFORGE_PROFILE when set,
// otherwise the flag's default; PersistentPreRunE reads it to overlay
// activeConfig.
func initEnv() {
	viper.SetEnvPrefix("REFORGE")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("root", RootCmd.PersistentFlags().Lookup("root"))
	_ = viper.BindPFlag("profile", RootCmd.PersistentFlags().Lookup("profile"))
}
