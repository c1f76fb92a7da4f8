package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/NicolasKol/reforge/internal/builder"
	"github.com/NicolasKol/reforge/internal/config"
	"github.com/NicolasKol/reforge/internal/snapshot"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	buildName  string
	buildFiles []string
	buildTUs   []string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compile a synthetic C snapshot across the optimization x variant matrix",
	Long: `build materializes the given source files under {root}/{name}, compiles
every (optimization, variant) cell, and emits a single build_receipt.json.
It refuses if {root}/{name} already exists (spec.md §5).`,
	RunE: runBuild,
}

func init() {
	RootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVar(&buildName, "name", "", "snapshot name, also the job directory name (required)")
	buildCmd.Flags().StringArrayVar(&buildFiles, "file", nil, "source or header file to include (repeatable)")
	buildCmd.Flags().StringArrayVar(&buildTUs, "tu", nil, "relative path of a translation unit to compile (repeatable, defaults to every .c file)")
	_ = buildCmd.MarkFlagRequired("name")
}

func runBuild(cmd *cobra.Command, args []string) error {
	if len(buildFiles) == 0 {
		return fmt.Errorf("at least one --file is required")
	}

	files := make([]snapshot.File, 0, len(buildFiles))
	var defaultTUs []string
	for _, path := range buildFiles {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		rel := filepath.Base(path)
		files = append(files, snapshot.File{RelativePath: rel, Contents: contents})
		if filepath.Ext(rel) == ".c" {
			defaultTUs = append(defaultTUs, rel)
		}
	}

	tus := buildTUs
	if len(tus) == 0 {
		tus = defaultTUs
	}

	job := builder.Job{
		Name:    buildName,
		JobID:   uuid.NewString(),
		Files:   files,
		TUs:     tus,
		Profile: config.DefaultProfile(activeConfig.ProfileID),
	}

	jobDir := filepath.Join(activeConfig.Root, buildName)
	logger.Info("build starting", "name", buildName, "job_id", job.JobID, "job_dir", jobDir)

	receipt, err := builder.Run(cmd.Context(), activeConfig, jobDir, job, time.Now)
	if err != nil {
		logger.Error("build failed", "name", buildName, "error", err)
		return err
	}

	logger.Info("build finished", "name", buildName, "status", receipt.JobStatus, "cells", len(receipt.Cells))
	fmt.Println(color.GreenString("job %s: %s (%d cells)", receipt.JobID, receipt.JobStatus, len(receipt.Cells)))
	return nil
}
