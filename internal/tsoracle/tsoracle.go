// Package tsoracle indexes function definitions and structural nodes from
// preprocessed C translation units using tree-sitter (spec.md §4.3). There is
// no DWARF/ELF analog for this stage in the teacher, so the walk is grounded
// on the smacker/go-tree-sitter API surface named in the retrieval pack's
// manifests (github.com/smacker/go-tree-sitter + .../c): construct a
// sitter.Parser, set the C grammar, parse into a *sitter.Tree, and walk the
// whole tree from the root node looking for function_definition nodes.
package tsoracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"

	"github.com/NicolasKol/reforge/internal/config"
	"github.com/NicolasKol/reforge/internal/hashutil"
	"github.com/NicolasKol/reforge/internal/model"
)

// ParserIdentity and GrammarVersion are recorded verbatim in every TU
// report so downstream consumers can detect a grammar upgrade.
const (
	ParserIdentity = "smacker/go-tree-sitter"
	GrammarVersion = "tree-sitter-c"
)

var structuralNodeTypes = map[string]bool{
	"compound_statement": true,
	"if_statement":        true,
	"for_statement":       true,
	"while_statement":     true,
	"do_statement":        true,
	"switch_statement":    true,
	"return_statement":    true,
	"goto_statement":      true,
	"labeled_statement":   true,
}

// Unit is one preprocessed `.i` file submitted to the oracle.
type Unit struct {
	Path string
	Text []byte
}

// Extract parses every unit and returns the per-TU report list and the
// flattened function entry list, in the deterministic order spec.md §5
// requires (TU path, then start_byte within a TU).
func Extract(ctx context.Context, cfg config.Config, units []Unit) ([]model.TsTUReport, []model.TsFunctionEntry) {
	sorted := append([]Unit(nil), units...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var tuReports []model.TsTUReport
	var functions []model.TsFunctionEntry
	nameCounts := map[string]int{}

	for _, u := range sorted {
		report, fns := extractUnit(ctx, cfg, u)
		tuReports = append(tuReports, report)
		for _, fn := range fns {
			nameCounts[fn.Name]++
		}
		functions = append(functions, fns...)
	}

	for i := range functions {
		if name := functions[i].Name; name != "" && nameCounts[name] > 1 {
			functions[i].Reasons = append(functions[i].Reasons, model.TsReasonDuplicateFunctionName)
			if functions[i].Verdict == model.VerdictAccept {
				functions[i].Verdict = model.VerdictWarn
			}
		}
	}

	return tuReports, functions
}

func extractUnit(ctx context.Context, cfg config.Config, u Unit) (model.TsTUReport, []model.TsFunctionEntry) {
	report := model.TsTUReport{
		TUPath:         u.Path,
		TUHash:         hashutil.Bytes(u.Text),
		ParserIdentity: ParserIdentity,
		GrammarVersion: GrammarVersion,
		Status:         model.TsParseOK,
	}

	parser := sitter.NewParser()
	parser.SetLanguage(c.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, u.Text)
	if err != nil || tree == nil {
		report.Status = model.TsParseError
		report.Errors = []model.ParseErrorLocation{{NodeType: "PARSE_FAILED"}}
		return report, nil
	}
	root := tree.RootNode()

	errorNodes := collectErrorNodes(root)
	report.ErrorNodeCount = len(errorNodes)
	if root.HasError() {
		report.Status = model.TsParseError
		for _, n := range errorNodes {
			report.Errors = append(report.Errors, model.ParseErrorLocation{
				ByteOffset: int(n.StartByte()),
				Line:       int(n.StartPoint().Row) + 1,
				Column:     int(n.StartPoint().Column) + 1,
				NodeType:   n.Type(),
			})
		}
	}

	var functions []model.TsFunctionEntry
	walkFunctionDefinitions(root, func(fnNode *sitter.Node) {
		functions = append(functions, buildFunctionEntry(cfg, u, fnNode, report.Status))
	})

	sort.Slice(functions, func(i, j int) bool { return functions[i].Span.StartByte < functions[j].Span.StartByte })
	return report, functions
}

func collectErrorNodes(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil {
			return
		}
		if node.IsError() || node.IsMissing() {
			out = append(out, node)
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(n)
	return out
}

func walkFunctionDefinitions(n *sitter.Node, visit func(*sitter.Node)) {
	if n == nil {
		return
	}
	if n.Type() == "function_definition" {
		visit(n)
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walkFunctionDefinitions(n.Child(i), visit)
	}
}

func buildFunctionEntry(cfg config.Config, u Unit, fnNode *sitter.Node, tuStatus model.TsParseStatus) model.TsFunctionEntry {
	span := nodeSpan(fnNode)
	raw := u.Text[fnNode.StartByte():fnNode.EndByte()]
	contextHash := normalizedContextHash(raw)

	entry := model.TsFunctionEntry{
		TUPath:      u.Path,
		Span:        span,
		RawTextHash: hashutil.Bytes(raw),
		ContextHash: contextHash,
	}
	entry.TsFuncID = fmt.Sprintf("%s:%d:%d:%s", u.Path, span.StartByte, span.EndByte, contextHash)

	declarator := findChildByType(fnNode, "function_declarator")
	bodyNode := findChildByType(fnNode, "compound_statement")
	if declarator != nil {
		entry.Name = findFunctionName(declarator, u.Text)
		entry.SignatureSpan = nodeSpan(declarator)
	}
	if bodyNode != nil {
		entry.BodySpan = nodeSpan(bodyNode)
	}

	var reasons []string
	if tuStatus == model.TsParseError {
		reasons = append(reasons, model.TsReasonTUParseError)
	}
	if span.EndByte <= span.StartByte {
		reasons = append(reasons, model.TsReasonInvalidSpan)
	}
	if entry.Name == "" {
		reasons = append(reasons, model.TsReasonMissingFunctionName)
	}

	if bodyNode != nil {
		maxDepth := 0
		entry.StructuralNodes = collectStructuralNodes(u.Text, bodyNode, 1, &maxDepth)
		if maxDepth >= cfg.Thresholds.DeepNestingDepth {
			reasons = append(reasons, model.TsReasonDeepNesting)
		}
	}
	if containsAnonymousAggregate(fnNode) {
		reasons = append(reasons, model.TsReasonAnonymousAggregate)
	}
	if hasNonstandardExtensionPattern(raw) {
		reasons = append(reasons, model.TsReasonNonstandardExtension)
	}

	entry.Verdict, entry.Reasons = classifyVerdict(reasons)
	return entry
}

func nodeSpan(n *sitter.Node) model.Span {
	return model.Span{
		StartByte: int(n.StartByte()),
		EndByte:   int(n.EndByte()),
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
	}
}

func findChildByType(n *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child != nil && child.Type() == typ {
			return child
		}
	}
	return nil
}

// findFunctionName descends through pointer/array declarator wrappers to
// the identifier naming the function.
func findFunctionName(declarator *sitter.Node, src []byte) string {
	var walk func(*sitter.Node) *sitter.Node
	walk = func(n *sitter.Node) *sitter.Node {
		if n == nil {
			return nil
		}
		if n.Type() == "identifier" {
			return n
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			if found := walk(n.Child(i)); found != nil {
				return found
			}
		}
		return nil
	}
	id := walk(declarator)
	if id == nil {
		return ""
	}
	return string(src[id.StartByte():id.EndByte()])
}

func collectStructuralNodes(src []byte, n *sitter.Node, depth int, maxDepth *int) []model.StructuralNode {
	var out []model.StructuralNode
	if depth > *maxDepth {
		*maxDepth = depth
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		childDepth := depth
		if structuralNodeTypes[child.Type()] {
			childDepth = depth + 1
			raw := src[child.StartByte():child.EndByte()]
			out = append(out, model.StructuralNode{
				Type:    child.Type(),
				Span:    nodeSpan(child),
				RawHash: hashutil.Bytes(raw),
				Depth:   childDepth,
			})
		}
		out = append(out, collectStructuralNodes(src, child, childDepth, maxDepth)...)
	}
	return out
}

func containsAnonymousAggregate(n *sitter.Node) bool {
	found := false
	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil || found {
			return
		}
		if node.Type() == "struct_specifier" || node.Type() == "union_specifier" {
			if findChildByType(node, "type_identifier") == nil {
				found = true
				return
			}
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(n)
	return found
}

func hasNonstandardExtensionPattern(raw []byte) bool {
	text := string(raw)
	for _, kw := range []string{"__attribute__", "asm volatile", "__builtin_"} {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// normalizedContextHash strips comments and collapses whitespace to single
// spaces (no token rewriting, no constant folding) before hashing, per
// spec.md §4.3 — this is the cross-TU dedup key.
func normalizedContextHash(raw []byte) string {
	normalized := stripComments(string(raw))
	normalized = collapseWhitespace(normalized)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func stripComments(s string) string {
	var b strings.Builder
	inLineComment := false
	inBlockComment := false
	for i := 0; i < len(s); i++ {
		if inLineComment {
			if s[i] == '\n' {
				inLineComment = false
				b.WriteByte(s[i])
			}
			continue
		}
		if inBlockComment {
			if s[i] == '*' && i+1 < len(s) && s[i+1] == '/' {
				inBlockComment = false
				i++
			}
			continue
		}
		if s[i] == '/' && i+1 < len(s) && s[i+1] == '/' {
			inLineComment = true
			i++
			continue
		}
		if s[i] == '/' && i+1 < len(s) && s[i+1] == '*' {
			inBlockComment = true
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func classifyVerdict(reasons []string) (model.Verdict, []string) {
	rejectSet := map[string]bool{
		model.TsReasonTUParseError:        true,
		model.TsReasonInvalidSpan:         true,
		model.TsReasonMissingFunctionName: true,
	}
	for _, r := range reasons {
		if rejectSet[r] {
			return model.VerdictReject, reasons
		}
	}
	if len(reasons) > 0 {
		return model.VerdictWarn, reasons
	}
	return model.VerdictAccept, nil
}

// Recipes builds the function_only and function_with_file_preamble
// extraction recipes for one function entry (spec.md §4.3).
func Recipes(fn model.TsFunctionEntry) []model.ExtractionRecipe {
	return []model.ExtractionRecipe{
		{Kind: "function_only", TUPath: fn.TUPath, StartByte: fn.Span.StartByte, EndByte: fn.Span.EndByte},
		{Kind: "function_with_file_preamble", TUPath: fn.TUPath, StartByte: 0, EndByte: fn.Span.EndByte, PreambleTo: fn.Span.StartByte},
	}
}
