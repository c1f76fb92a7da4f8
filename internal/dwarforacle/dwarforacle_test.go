package dwarforacle

import (
	"debug/dwarf"
	"testing"

	"github.com/NicolasKol/reforge/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestClassifyVerdict(t *testing.T) {
	tests := []struct {
		name    string
		reasons []string
		want    model.Verdict
	}{
		{"no reasons is accept", nil, model.VerdictAccept},
		{"declaration only is reject", []string{model.FuncReasonDeclarationOnly}, model.VerdictReject},
		{"missing range is reject", []string{model.FuncReasonMissingRange}, model.VerdictReject},
		{"no line rows is reject", []string{model.FuncReasonNoLineRowsInRange}, model.VerdictReject},
		{"multi file range is warn", []string{model.FuncReasonMultiFileRange}, model.VerdictWarn},
		{"name missing is warn", []string{model.FuncReasonNameMissing}, model.VerdictWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, _ := classifyVerdict(tt.reasons)
			assert.Equal(t, tt.want, verdict)
		})
	}
}

func TestDominantFile(t *testing.T) {
	rows := []model.LineRowCount{
		{LineRowKey: model.LineRowKey{File: "a.c", Line: 1}, Count: 3},
		{LineRowKey: model.LineRowKey{File: "a.c", Line: 2}, Count: 2},
		{LineRowKey: model.LineRowKey{File: "b.h", Line: 9}, Count: 1},
	}

	file, ratio := dominantFile(rows, 6)
	assert.Equal(t, "a.c", file)
	assert.InDelta(t, 5.0/6.0, ratio, 1e-9)
}

func TestDominantFileTieBreaksByName(t *testing.T) {
	rows := []model.LineRowCount{
		{LineRowKey: model.LineRowKey{File: "z.c", Line: 1}, Count: 2},
		{LineRowKey: model.LineRowKey{File: "a.c", Line: 1}, Count: 2},
	}

	file, ratio := dominantFile(rows, 4)
	assert.Equal(t, "a.c", file)
	assert.InDelta(t, 0.5, ratio, 1e-9)
}

func TestSortedLineRows(t *testing.T) {
	counts := map[model.LineRowKey]int{
		{File: "b.c", Line: 5}: 1,
		{File: "a.c", Line: 9}: 1,
		{File: "a.c", Line: 2}: 1,
	}

	rows := sortedLineRows(counts)
	assert.Equal(t, []model.LineRowCount{
		{LineRowKey: model.LineRowKey{File: "a.c", Line: 2}, Count: 1},
		{LineRowKey: model.LineRowKey{File: "a.c", Line: 9}, Count: 1},
		{LineRowKey: model.LineRowKey{File: "b.c", Line: 5}, Count: 1},
	}, rows)
}

func TestResolveDeclMissingFileAttr(t *testing.T) {
	die := &dwarf.Entry{}
	decl := resolveDecl(die, "/work", nil)
	assert.Equal(t, model.DeclMissingNoDeclFileAttr, decl.DeclMissingReason)
}

func TestResolveDeclFileIndexOutOfRange(t *testing.T) {
	die := &dwarf.Entry{Field: []dwarf.Field{
		{Attr: dwarf.AttrDeclFile, Val: int64(5)},
	}}
	decl := resolveDecl(die, "/work", nil)
	assert.Equal(t, model.DeclMissingFileIndexOutOfRange, decl.DeclMissingReason)
}

func TestResolveDeclResolvesAgainstFileTable(t *testing.T) {
	files := []*dwarf.LineFile{nil, {Name: "snippet.c"}}
	die := &dwarf.Entry{Field: []dwarf.Field{
		{Attr: dwarf.AttrDeclFile, Val: int64(1)},
		{Attr: dwarf.AttrDeclLine, Val: int64(12)},
		{Attr: dwarf.AttrDeclColumn, Val: int64(3)},
	}}

	decl := resolveDecl(die, "/work", files)
	assert.Equal(t, "snippet.c", decl.DeclFile)
	assert.Equal(t, 12, decl.DeclLine)
	assert.Equal(t, 3, decl.DeclColumn)
	assert.Equal(t, "/work", decl.CompilationDir)
	assert.Empty(t, decl.DeclMissingReason)
}

func TestResolveDeclMissingCompDir(t *testing.T) {
	files := []*dwarf.LineFile{nil, {Name: "snippet.c"}}
	die := &dwarf.Entry{Field: []dwarf.Field{
		{Attr: dwarf.AttrDeclFile, Val: int64(1)},
	}}

	decl := resolveDecl(die, "", files)
	assert.Equal(t, model.DeclMissingNoCompDir, decl.DeclMissingReason)
}

func TestRowsInRanges(t *testing.T) {
	table := &cuLineTable{rows: []lineRow{
		{addr: 0x10, file: "a.c", line: 1},
		{addr: 0x20, file: "a.c", line: 2},
		{addr: 0x30, file: "a.c", line: 3},
	}}

	rows := table.rowsInRanges([]model.Range{{Low: 0x10, High: 0x21}})
	assert.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].line)
	assert.Equal(t, 2, rows[1].line)
}

