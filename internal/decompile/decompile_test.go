package decompile

import (
	"strings"
	"testing"

	"github.com/NicolasKol/reforge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReshapeParsesSummaryAndFunctions(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"function","entry_va":4096,"body_start":4096,"body_end":4112,"decompiled_text":"void f(){}"}`,
		`{"type":"function","entry_va":4096,"body_start":4096,"body_end":4112}`,
		`{"type":"summary","image_base":65536,"tool_version":"v1.2.3"}`,
	}, "\n")

	summary, records, err := Reshape(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, uint64(65536), summary.ImageBase)
	assert.Equal(t, "v1.2.3", summary.ToolVersion)
	assert.Len(t, records, 2)
}

func TestReshapeRebasesAddressesByImageBase(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"function","entry_va":16,"body_start":16,"body_end":32,"cfg":[{"start":16,"end":24,"successors":[24]}],"calls":[{"caller_entry_va":16,"callsite_va":20,"kind":"direct","callee_entry_va":256}]}`,
		`{"type":"summary","image_base":4096,"tool_version":"v1"}`,
	}, "\n")

	_, records, err := Reshape(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, uint64(4112), rec.EntryVA)
	require.NotNil(t, rec.Body)
	assert.Equal(t, uint64(4112), rec.Body.Low)
	assert.Equal(t, uint64(4128), rec.Body.High)
	require.Len(t, rec.CFG, 1)
	assert.Equal(t, uint64(4112), rec.CFG[0].Range.Low)
	assert.Equal(t, uint64(4120), rec.CFG[0].Range.High)
	assert.Equal(t, []uint64{4120}, rec.CFG[0].Successors)
	require.Len(t, rec.Calls, 1)
	assert.Equal(t, uint64(4112), rec.Calls[0].CallerEntryVA)
	assert.Equal(t, uint64(4116), rec.Calls[0].CallsiteVA)
	require.NotNil(t, rec.Calls[0].CalleeEntryVA)
	assert.Equal(t, uint64(4352), *rec.Calls[0].CalleeEntryVA)
}

func TestReshapeSortsByEntryVA(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"function","entry_va":200,"body_start":200,"body_end":220}`,
		`{"type":"function","entry_va":100,"body_start":100,"body_end":120}`,
	}, "\n")

	_, records, err := Reshape(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(100), records[0].EntryVA)
	assert.Equal(t, uint64(200), records[1].EntryVA)
}

func TestReshapeRejectsMalformedRecord(t *testing.T) {
	_, _, err := Reshape(strings.NewReader(`{not json`))
	assert.Error(t, err)
}

func TestReshapeFunctionClassifiesFatalWarning(t *testing.T) {
	input := `{"type":"function","entry_va":1,"body_start":1,"body_end":2,"warnings":["unresolved_indirect_jump"]}`
	_, records, err := Reshape(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.VerdictReject, records[0].Verdict)
	assert.Equal(t, model.CFGLow, records[0].CFGCompleteness)
	assert.Contains(t, records[0].Warnings, model.WarnUnresolvedIndirectJump)
}

func TestReshapeFunctionWithoutBodyIsRejected(t *testing.T) {
	input := `{"type":"function","entry_va":1}`
	_, records, err := Reshape(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.VerdictReject, records[0].Verdict)
	assert.Nil(t, records[0].Body)
}

func TestReshapeVariableStorageKeys(t *testing.T) {
	tests := []struct {
		name string
		v    rawVariable
		want string
		class model.StorageClass
	}{
		{"stack positive", rawVariable{Storage: "stack", Offset: ptrInt64(16)}, "stack:off:+0x10", model.StorageStack},
		{"stack negative", rawVariable{Storage: "stack", Offset: ptrInt64(-4)}, "stack:off:-0x4", model.StorageStack},
		{"register", rawVariable{Storage: "register", Register: "rax"}, "reg:rax", model.StorageRegister},
		{"memory", rawVariable{Storage: "memory", Address: ptrUint64(0x1000)}, "mem:0x1000", model.StorageMemory},
		{"unique", rawVariable{Storage: "unique", Name: "tmp1"}, "uniq:tmp1", model.StorageUnique},
		{"unknown falls back to unique-style key", rawVariable{Storage: "", Name: "x"}, "uniq:x", model.StorageUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dv := reshapeVariable(tt.v)
			assert.Equal(t, tt.want, dv.StorageKey)
			assert.Equal(t, tt.class, dv.StorageClass)
		})
	}
}

func ptrInt64(v int64) *int64   { return &v }
func ptrUint64(v uint64) *uint64 { return &v }
