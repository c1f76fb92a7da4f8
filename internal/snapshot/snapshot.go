// Package snapshot materializes a SourceSnapshot from submitted files: the
// Builder's immutable, hashed view of the source it was asked to compile
// (spec.md §3). The builder is the sole owner of the on-disk snapshot
// directory (§4.1 Ownership).
package snapshot

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/NicolasKol/reforge/internal/hashutil"
	"github.com/NicolasKol/reforge/internal/model"
)

// File is one input file before it becomes part of a snapshot.
type File struct {
	RelativePath string
	Contents     []byte
}

// Build computes the per-file hashes and the normalized archive hash for a
// set of input files, and returns the immutable SourceSnapshot record.
func Build(name string, files []File) model.SourceSnapshot {
	sorted := append([]File(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RelativePath < sorted[j].RelativePath })

	entries := make([]model.SourceFile, 0, len(sorted))
	byPath := make(map[string][]byte, len(sorted))
	for _, f := range sorted {
		entries = append(entries, model.SourceFile{
			RelativePath: f.RelativePath,
			SHA256:       hashutil.Bytes(f.Contents),
			Size:         int64(len(f.Contents)),
		})
		byPath[f.RelativePath] = f.Contents
	}

	return model.SourceSnapshot{
		Name:          name,
		Files:         entries,
		ArchiveSHA256: hashutil.NormalizedArchive(byPath),
	}
}

// Materialize writes every file in files to dir (creating parent
// directories as needed), preserving RelativePath layout. The caller is
// responsible for atomically publishing dir once the write completes in
// full (spec.md §5's directory-rename requirement).
func Materialize(dir string, files []File) error {
	for _, f := range files {
		target := filepath.Join(dir, filepath.FromSlash(f.RelativePath))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, f.Contents, 0o644); err != nil {
			return err
		}
	}
	return nil
}
