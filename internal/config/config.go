// Package config carries the single explicit configuration value threaded
// through every stage entry point. Spec.md §9 is explicit: "Global mutable
// state: none is permitted in the core. All configuration (profile,
// thresholds, excluded prefixes) flows in via an explicit config value at
// stage entry." Nothing in this package is a package-level var used by
// stage logic; Load only ever returns a value for the caller to pass along.
package config

import (
	"os"
	"time"

	"github.com/NicolasKol/reforge/internal/model"
	"gopkg.in/yaml.v3"
)

// Thresholds bundles every numeric policy knob named in spec.md.
type Thresholds struct {
	// DominantFileRatio is the minimum dominant-file ratio before a DWARF
	// function is WARN-tagged MULTI_FILE_RANGE (default 0.7).
	DominantFileRatio float64 `yaml:"dominant_file_ratio"`
	// FragmentedSegmentCount is the segment count above which a DWARF
	// function is WARN-tagged RANGES_FRAGMENTED.
	FragmentedSegmentCount int `yaml:"fragmented_segment_count"`
	// DeepNestingDepth is the structural-node depth at or above which a
	// tree-sitter function is WARN-tagged DEEP_NESTING.
	DeepNestingDepth int `yaml:"deep_nesting_depth"`
	// MinOverlapRatio is the join-DWARF-TS acceptance threshold (0.7).
	MinOverlapRatio float64 `yaml:"min_overlap_ratio"`
	// NearTieEpsilon is the absolute near-tie window on overlap ratio
	// (0.02), per spec.md §9 Open Question (a): absolute, not relative.
	NearTieEpsilon float64 `yaml:"near_tie_epsilon"`
	// StrongOverlapRatio/WeakOverlapRatio gate JOINED_STRONG/JOINED_WEAK
	// in the address-overlap join (0.9 / 0.3).
	StrongOverlapRatio float64 `yaml:"strong_overlap_ratio"`
	WeakOverlapRatio   float64 `yaml:"weak_overlap_ratio"`
	// MultiMatchWindow is the within-5%-of-best window for MULTI_MATCH.
	MultiMatchWindow float64 `yaml:"multi_match_window"`
}

// DefaultThresholds returns the values named explicitly in spec.md.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DominantFileRatio:      0.7,
		FragmentedSegmentCount: 8,
		DeepNestingDepth:       6,
		MinOverlapRatio:        0.7,
		NearTieEpsilon:         0.02,
		StrongOverlapRatio:     0.9,
		WeakOverlapRatio:       0.3,
		MultiMatchWindow:       0.05,
	}
}

// Timeouts bundles the per-phase subprocess timeouts (spec.md §5).
type Timeouts struct {
	Compile    time.Duration `yaml:"compile"`
	Link       time.Duration `yaml:"link"`
	Strip      time.Duration `yaml:"strip"`
	Preprocess time.Duration `yaml:"preprocess"`
	Decompile  time.Duration `yaml:"decompile"`
}

// DefaultTimeouts returns generous but bounded per-phase timeouts suitable
// for compiling small synthetic C snapshots.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Compile:    30 * time.Second,
		Link:       30 * time.Second,
		Strip:      15 * time.Second,
		Preprocess: 15 * time.Second,
		Decompile:  120 * time.Second,
	}
}

// ExcludedPrefixes lists path prefixes treated as "not user code" for the
// SYSTEM_HEADER_DOMINANT warning and for excluding origin-map lines in the
// DWARF-to-tree-sitter join.
var DefaultExcludedPrefixes = []string{
	"/usr/include",
	"/usr/lib/gcc",
	"<built-in>",
	"<command-line>",
}

// AuxFunctionNames is the frozen name set of init/fini/compiler auxiliaries
// used for is_aux_function noise tagging (spec.md §4.5 step 7).
var DefaultAuxFunctionNames = []string{
	"_start",
	"__libc_csu_init",
	"__libc_csu_fini",
	"_init",
	"_fini",
	"frame_dummy",
	"register_tm_clones",
	"deregister_tm_clones",
	"__do_global_dtors_aux",
	"__libc_start_main",
}

// Config is the single explicit value passed to every stage's entry point.
type Config struct {
	Thresholds        Thresholds `yaml:"thresholds"`
	Timeouts          Timeouts   `yaml:"timeouts"`
	ExcludedPrefixes  []string   `yaml:"excluded_prefixes"`
	AuxFunctionNames  []string   `yaml:"aux_function_names"`
	WorkerPoolSize    int        `yaml:"worker_pool_size"`
	Root              string     `yaml:"root"`
	ProfileID         string     `yaml:"profile_id"`
}

// Default returns a Config populated with every documented default.
func Default() Config {
	return Config{
		Thresholds:       DefaultThresholds(),
		Timeouts:         DefaultTimeouts(),
		ExcludedPrefixes: append([]string(nil), DefaultExcludedPrefixes...),
		AuxFunctionNames: append([]string(nil), DefaultAuxFunctionNames...),
		WorkerPoolSize:   4,
		Root:             ".",
		ProfileID:        "default",
	}
}

// Load reads a YAML config file and overlays it onto Default(). A missing
// file is not an error: Default() alone is a usable config.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// HasExcludedPrefix reports whether path begins with any of cfg's excluded
// prefixes.
func (c Config) HasExcludedPrefix(path string) bool {
	for _, p := range c.ExcludedPrefixes {
		if len(path) >= len(p) && path[:len(p)] == p {
			return true
		}
	}
	return false
}

// IsAuxFunction reports whether name is in the frozen auxiliary name set.
func (c Config) IsAuxFunction(name string) bool {
	for _, n := range c.AuxFunctionNames {
		if n == name {
			return true
		}
	}
	return false
}

// DefaultProfile returns the fixed base-flag/variant-delta profile named in
// spec.md §4.1's variant table: debug adds -g, release and stripped add
// nothing at compile time (stripped differs only in the post-link strip
// phase), and only libm is an allowed link library.
func DefaultProfile(id string) model.Profile {
	return model.Profile{
		ID:              id,
		BaseFlags:       []string{"-Wall", "-fno-omit-frame-pointer"},
		AllowedLinkLibs: []string{"-lm"},
		VariantFlagDeltas: map[model.Variant][]string{
			model.VariantDebug:    {"-g"},
			model.VariantRelease:  {},
			model.VariantStripped: {},
		},
		PreprocessFlags: []string{"-E"},
		IncludePaths:    nil,
	}
}
