package builder

import "github.com/NicolasKol/reforge/internal/model"

// optFlag returns the -O flag for a matrix optimization level.
func optFlag(level model.OptLevel) string {
	switch level {
	case model.O0:
		return "-O0"
	case model.O1:
		return "-O1"
	case model.O2:
		return "-O2"
	case model.O3:
		return "-O3"
	default:
		return "-O0"
	}
}

// variantExtraFlags returns the compile-time flags a variant adds on top of
// the profile's base flags (spec.md §4.1 variant table).
func variantExtraFlags(variant model.Variant, profile model.Profile) []string {
	extra := append([]string(nil), profile.VariantFlagDeltas[variant]...)
	if variant == model.VariantDebug {
		hasG := false
		for _, f := range extra {
			if f == "-g" {
				hasG = true
			}
		}
		if !hasG {
			extra = append(extra, "-g")
		}
	}
	return extra
}

// Cells returns the 12 (optimization, variant) pairs in the deterministic
// order spec.md §5 requires.
func Cells() []struct {
	Opt     model.OptLevel
	Variant model.Variant
} {
	var cells []struct {
		Opt     model.OptLevel
		Variant model.Variant
	}
	for _, opt := range model.AllOptLevels {
		for _, variant := range model.AllVariants {
			cells = append(cells, struct {
				Opt     model.OptLevel
				Variant model.Variant
			}{opt, variant})
		}
	}
	return cells
}
