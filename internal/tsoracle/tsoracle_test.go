package tsoracle

import (
	"testing"

	"github.com/NicolasKol/reforge/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestStripCommentsLineAndBlock(t *testing.T) {
	src := "int x; // trailing\nint y; /* block\nspanning */ int z;"
	got := stripComments(src)
	assert.NotContains(t, got, "trailing")
	assert.NotContains(t, got, "spanning")
	assert.Contains(t, got, "int x;")
	assert.Contains(t, got, "int y;")
	assert.Contains(t, got, "int z;")
}

func TestCollapseWhitespace(t *testing.T) {
	got := collapseWhitespace("int   x  =\n\t1;\n\n")
	assert.Equal(t, "int x = 1;", got)
}

func TestNormalizedContextHashIgnoresCommentsAndSpacing(t *testing.T) {
	a := normalizedContextHash([]byte("int add(int a, int b) { return a + b; } // comment"))
	b := normalizedContextHash([]byte("int add(int a, int b) {\n  return a + b;\n}\n"))
	assert.Equal(t, a, b)
}

func TestNormalizedContextHashDiffersOnRealChange(t *testing.T) {
	a := normalizedContextHash([]byte("int add(int a, int b) { return a + b; }"))
	b := normalizedContextHash([]byte("int add(int a, int b) { return a - b; }"))
	assert.NotEqual(t, a, b)
}

func TestHasNonstandardExtensionPattern(t *testing.T) {
	assert.True(t, hasNonstandardExtensionPattern([]byte("__attribute__((noinline)) void f(void) {}")))
	assert.True(t, hasNonstandardExtensionPattern([]byte("void f(void) { asm volatile (\"nop\"); }")))
	assert.False(t, hasNonstandardExtensionPattern([]byte("void f(void) { return; }")))
}

func TestClassifyVerdictTS(t *testing.T) {
	tests := []struct {
		name    string
		reasons []string
		want    model.Verdict
	}{
		{"clean", nil, model.VerdictAccept},
		{"parse error is reject", []string{model.TsReasonTUParseError}, model.VerdictReject},
		{"invalid span is reject", []string{model.TsReasonInvalidSpan}, model.VerdictReject},
		{"missing name is reject", []string{model.TsReasonMissingFunctionName}, model.VerdictReject},
		{"deep nesting is warn", []string{model.TsReasonDeepNesting}, model.VerdictWarn},
		{"duplicate name is warn", []string{model.TsReasonDuplicateFunctionName}, model.VerdictWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, _ := classifyVerdict(tt.reasons)
			assert.Equal(t, tt.want, verdict)
		})
	}
}

func TestRecipes(t *testing.T) {
	fn := model.TsFunctionEntry{
		TUPath: "main.i",
		Span:   model.Span{StartByte: 100, EndByte: 200},
	}
	recipes := Recipes(fn)
	assert.Len(t, recipes, 2)
	assert.Equal(t, "function_only", recipes[0].Kind)
	assert.Equal(t, 100, recipes[0].StartByte)
	assert.Equal(t, 200, recipes[0].EndByte)
	assert.Equal(t, "function_with_file_preamble", recipes[1].Kind)
	assert.Equal(t, 0, recipes[1].StartByte)
	assert.Equal(t, 100, recipes[1].PreambleTo)
	assert.Equal(t, 200, recipes[1].EndByte)
}
