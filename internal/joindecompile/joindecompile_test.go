package joindecompile

import (
	"testing"

	"github.com/NicolasKol/reforge/internal/config"
	"github.com/NicolasKol/reforge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinRejectsHashMismatch(t *testing.T) {
	cfg := config.Default()
	_, err := Join(cfg, Inputs{
		BuildReceiptSHA256: "a",
		DwarfReportSHA256:  "b",
	})
	assert.ErrorIs(t, err, ErrJoin)
}

func TestJoinNoRangeRow(t *testing.T) {
	cfg := config.Default()
	in := Inputs{
		BuildReceiptSHA256: "x", DwarfReportSHA256: "x", AlignmentSHA256: "x", DecompReportSHA256: "x",
		DwarfFunctions: []model.DwarfFunctionEntry{
			{StableID: "0:1", Verdict: model.VerdictReject},
		},
	}
	rows, err := Join(cfg, in)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.MatchNoRange, rows[0].MatchKind)
	assert.False(t, rows[0].HasDecompMatch)
}

func TestJoinStrongMatch(t *testing.T) {
	cfg := config.Default()
	in := Inputs{
		BuildReceiptSHA256: "x", DwarfReportSHA256: "x", AlignmentSHA256: "x", DecompReportSHA256: "x",
		DwarfFunctions: []model.DwarfFunctionEntry{
			{
				StableID:        "0:1",
				Name:            "add",
				Verdict:         model.VerdictAccept,
				Ranges:          []model.Range{{Low: 0x1000, High: 0x1010}},
				TotalRangeBytes: 16,
			},
		},
		Alignment: []model.AlignmentPair{
			{
				DwarfStableID: "0:1",
				Verdict:       model.AlignMatch,
				NCandidates:   1,
				Best:          &model.AlignmentCandidate{OverlapRatio: 1.0, TsFuncID: "main.i:0:10:h"},
			},
		},
		Decomp: []model.DecompFunctionRecord{
			{
				EntryVA:         0x1000,
				Body:            &model.Range{Low: 0x1000, High: 0x1010},
				CFGCompleteness: model.CFGHigh,
				Verdict:         model.VerdictAccept,
			},
		},
	}

	rows, err := Join(cfg, in)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.True(t, row.HasDecompMatch)
	assert.Equal(t, model.MatchJoinedStrong, row.MatchKind)
	assert.Equal(t, uint64(16), row.OverlapBytes)
	assert.InDelta(t, 1.0, row.PCOverlapRatio, 1e-9)
	assert.True(t, row.IsHighConfidence)
}

func TestJoinWeakMatchBelowStrongThreshold(t *testing.T) {
	cfg := config.Default()
	in := Inputs{
		BuildReceiptSHA256: "x", DwarfReportSHA256: "x", AlignmentSHA256: "x", DecompReportSHA256: "x",
		DwarfFunctions: []model.DwarfFunctionEntry{
			{
				StableID:        "0:2",
				Verdict:         model.VerdictAccept,
				Ranges:          []model.Range{{Low: 0x2000, High: 0x2100}},
				TotalRangeBytes: 256,
			},
		},
		Decomp: []model.DecompFunctionRecord{
			{EntryVA: 0x2000, Body: &model.Range{Low: 0x2000, High: 0x2080}},
		},
	}

	rows, err := Join(cfg, in)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.MatchJoinedWeak, rows[0].MatchKind)
	assert.False(t, rows[0].IsHighConfidence)
}

func TestJoinFatFunctionTagging(t *testing.T) {
	cfg := config.Default()
	in := Inputs{
		BuildReceiptSHA256: "x", DwarfReportSHA256: "x", AlignmentSHA256: "x", DecompReportSHA256: "x",
		DwarfFunctions: []model.DwarfFunctionEntry{
			{StableID: "0:1", Verdict: model.VerdictAccept, Ranges: []model.Range{{Low: 0x1000, High: 0x1010}}, TotalRangeBytes: 16},
			{StableID: "0:2", Verdict: model.VerdictAccept, Ranges: []model.Range{{Low: 0x1000, High: 0x1010}}, TotalRangeBytes: 16},
		},
		Decomp: []model.DecompFunctionRecord{
			{EntryVA: 0x1000, Body: &model.Range{Low: 0x1000, High: 0x1010}},
		},
	}

	rows, err := Join(cfg, in)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.True(t, row.FatFunctionMultiDwarf)
		assert.Equal(t, 2, row.FatFunctionCount)
	}
}

func TestIsAuxFunctionTagging(t *testing.T) {
	cfg := config.Default()
	in := Inputs{
		BuildReceiptSHA256: "x", DwarfReportSHA256: "x", AlignmentSHA256: "x", DecompReportSHA256: "x",
		DwarfFunctions: []model.DwarfFunctionEntry{
			{StableID: "0:1", Name: "_start", Verdict: model.VerdictAccept},
		},
	}

	rows, err := Join(cfg, in)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsAuxFunction)
}
