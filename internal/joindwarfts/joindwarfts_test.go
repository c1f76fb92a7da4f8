package joindwarfts

import (
	"testing"

	"github.com/NicolasKol/reforge/internal/config"
	"github.com/NicolasKol/reforge/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestParseLineDirective(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantFile string
		wantLine int
		wantOK   bool
	}{
		{"gcc cpp form", `# 12 "main.c"`, "main.c", 12, true},
		{"clang line form", `#line 5 "util.h"`, "util.h", 5, true},
		{"not a directive", `int x = 1;`, "", 0, false},
		{"malformed number", `# abc "main.c"`, "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, line, ok := parseLineDirective(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantFile, file)
				assert.Equal(t, tt.wantLine, line)
			}
		})
	}
}

func TestBuildOriginMapResolvesSequentialLines(t *testing.T) {
	cfg := config.Default()
	text := []byte("# 1 \"main.c\"\nint a;\nint b;\nint c;\n")

	om := BuildOriginMap(cfg, text)

	file, line, ok := om.Resolve(2)
	assert.True(t, ok)
	assert.Equal(t, "main.c", file)
	assert.Equal(t, 1, line)

	file, line, ok = om.Resolve(4)
	assert.True(t, ok)
	assert.Equal(t, "main.c", file)
	assert.Equal(t, 3, line)
}

func TestBuildOriginMapExcludesSystemHeaders(t *testing.T) {
	cfg := config.Default()
	text := []byte("# 1 \"/usr/include/stdio.h\"\nint a;\n")

	om := BuildOriginMap(cfg, text)
	_, _, ok := om.Resolve(2)
	assert.False(t, ok)
}

func TestBuildOriginMapExcludesSyntheticNames(t *testing.T) {
	cfg := config.Default()
	text := []byte("# 1 \"<built-in>\"\nint a;\n")

	om := BuildOriginMap(cfg, text)
	_, _, ok := om.Resolve(2)
	assert.False(t, ok)
}

func TestRankCandidatesDeterministicTieBreak(t *testing.T) {
	candidates := []model.AlignmentCandidate{
		{TUPath: "b.i", OverlapRatio: 0.8, OverlapCount: 4, SpanSize: 10, StartByte: 5},
		{TUPath: "a.i", OverlapRatio: 0.8, OverlapCount: 4, SpanSize: 10, StartByte: 1},
		{TUPath: "a.i", OverlapRatio: 0.9, OverlapCount: 2, SpanSize: 10, StartByte: 0},
	}
	rankCandidates(candidates)
	assert.Equal(t, 0.9, candidates[0].OverlapRatio)
	assert.Equal(t, "a.i", candidates[1].TUPath)
	assert.Equal(t, "b.i", candidates[2].TUPath)
}

func TestAlignOneNoCandidatesOriginMapMissing(t *testing.T) {
	cfg := config.Default()
	fn := model.DwarfFunctionEntry{
		StableID: "0:1",
		Verdict:  model.VerdictAccept,
		NLineRows: 3,
	}

	pair := alignOne(cfg, fn, nil)
	assert.True(t, pair.IsTarget)
	assert.Equal(t, model.AlignNoMatch, pair.Verdict)
	assert.Contains(t, pair.Reasons, model.AlignReasonOriginMapMissing)
}

func TestAlignOneRejectPassesThroughAsNonTarget(t *testing.T) {
	cfg := config.Default()
	fn := model.DwarfFunctionEntry{
		StableID: "0:2",
		Verdict:  model.VerdictReject,
		Reasons:  []string{model.FuncReasonMissingRange},
	}

	pair := alignOne(cfg, fn, nil)
	assert.False(t, pair.IsTarget)
	assert.Equal(t, model.AlignNoMatch, pair.Verdict)
	assert.Equal(t, []string{model.FuncReasonMissingRange}, pair.Reasons)
}

func TestAlignOneUniqueBestMatch(t *testing.T) {
	cfg := config.Default()
	fn := model.DwarfFunctionEntry{
		StableID:  "0:3",
		Verdict:   model.VerdictAccept,
		NLineRows: 10,
		LineRows: []model.LineRowCount{
			{LineRowKey: model.LineRowKey{File: "main.c", Line: 5}, Count: 10},
		},
	}
	om := &OriginMap{entries: []originEntry{
		{iLine: 1, originFile: "main.c", originLine: 5},
	}}
	candidates := []TsCandidate{
		{TsFuncID: "main.i:0:10:abc", TUPath: "main.i", StartLine: 1, EndLine: 1, Origin: om},
	}

	pair := alignOne(cfg, fn, candidates)
	assert.Equal(t, model.AlignMatch, pair.Verdict)
	assert.Contains(t, pair.Reasons, model.AlignReasonUniqueBest)
	assert.NotNil(t, pair.Best)
	assert.Equal(t, 10, pair.Best.OverlapCount)
	assert.Equal(t, 1.0, pair.Best.OverlapRatio)
}

func TestAlignOneHeaderReplicationCollision(t *testing.T) {
	cfg := config.Default()
	fn := model.DwarfFunctionEntry{
		StableID:  "0:4",
		Verdict:   model.VerdictAccept,
		NLineRows: 10,
		LineRows: []model.LineRowCount{
			{LineRowKey: model.LineRowKey{File: "shared.h", Line: 1}, Count: 10},
		},
	}
	omA := &OriginMap{entries: []originEntry{{iLine: 1, originFile: "shared.h", originLine: 1}}}
	omB := &OriginMap{entries: []originEntry{{iLine: 1, originFile: "shared.h", originLine: 1}}}
	candidates := []TsCandidate{
		{TsFuncID: "a.i:0:10:samehash", TUPath: "a.i", StartLine: 1, EndLine: 1, ContextHash: "samehash", Origin: omA},
		{TsFuncID: "b.i:0:10:samehash", TUPath: "b.i", StartLine: 1, EndLine: 1, ContextHash: "samehash", Origin: omB},
	}

	pair := alignOne(cfg, fn, candidates)
	assert.Equal(t, model.AlignAmbiguous, pair.Verdict)
	assert.Contains(t, pair.Reasons, model.AlignReasonHeaderReplicationCollision)
}
