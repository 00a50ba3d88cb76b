package oracle

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"

	"hotpatch/internal/capability"
	"hotpatch/internal/errors"
	"hotpatch/internal/identity"
	"hotpatch/internal/text"
)

// TreeSitter is the reference oracle implementation, backed by
// tree-sitter grammars. A fresh parser is created per Parse call so
// unrelated snapshots can be parsed concurrently.
type TreeSitter struct {
	module identity.ModuleID
}

// NewTreeSitter creates a tree-sitter oracle binding units into module.
func NewTreeSitter(module identity.ModuleID) *TreeSitter {
	return &TreeSitter{module: module}
}

func grammarFor(lang Language) (*sitter.Language, error) {
	switch lang {
	case LangGo:
		return golang.GetLanguage(), nil
	case LangJavaScript:
		return javascript.GetLanguage(), nil
	default:
		return nil, errors.Newf(errors.OracleInternal, "unsupported language %q", lang)
	}
}

var functionNodeTypes = map[Language][]string{
	LangGo:         {"function_declaration", "method_declaration"},
	LangJavaScript: {"function_declaration", "method_definition", "generator_function_declaration"},
}

var scopeNodeTypes = map[Language]string{
	LangGo:         "block",
	LangJavaScript: "statement_block",
}

// Parse implements Parser.
func (o *TreeSitter) Parse(ctx context.Context, snap Snapshot) (*SyntaxFacts, error) {
	grammar, err := grammarFor(snap.Lang)
	if err != nil {
		return nil, err
	}

	parser := sitter.NewParser()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, snap.Content)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.New(errors.OracleInternal, fmt.Sprintf("parsing %s", snap.Path), err)
	}
	defer tree.Close()

	facts := &SyntaxFacts{
		Snapshot: snap,
		Settings: map[string]string{},
	}

	root := tree.RootNode()
	collectSyntaxErrors(root, snap, facts)
	collectFunctions(root, snap, facts)
	return facts, nil
}

func nodeSpan(n *sitter.Node) text.Span {
	return text.Span{Start: int(n.StartByte()), End: int(n.EndByte())}
}

func nodeLocation(n *sitter.Node, snap Snapshot) text.Location {
	p := n.StartPoint()
	return text.Location{Path: snap.Path, Line: int(p.Row) + 1, Column: int(p.Column) + 1}
}

func collectSyntaxErrors(n *sitter.Node, snap Snapshot, facts *SyntaxFacts) {
	if !n.HasError() {
		return
	}
	if n.IsError() || n.IsMissing() {
		msg := "unexpected token"
		if n.IsMissing() {
			msg = fmt.Sprintf("missing %s", n.Type())
		}
		facts.Errors = append(facts.Errors, SyntaxError{
			Message:  msg,
			Location: nodeLocation(n, snap),
			Span:     nodeSpan(n),
		})
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		collectSyntaxErrors(n.Child(i), snap, facts)
	}
}

func collectFunctions(root *sitter.Node, snap Snapshot, facts *SyntaxFacts) {
	types := functionNodeTypes[snap.Lang]
	isFunction := func(t string) bool {
		for _, ft := range types {
			if t == ft {
				return true
			}
		}
		return false
	}

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if isFunction(n.Type()) {
			if unit, ok := extractFunction(n, snap); ok {
				facts.Functions = append(facts.Functions, unit)
			}
			// Function literals nested in a body belong to the unit's
			// body shape, not the declaration list.
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(root)
}

func extractFunction(n *sitter.Node, snap Snapshot) (FunctionUnit, bool) {
	nameNode := n.ChildByFieldName("name")
	bodyNode := n.ChildByFieldName("body")
	if nameNode == nil || bodyNode == nil {
		return FunctionUnit{}, false
	}

	declSpan := nodeSpan(n)
	bodySpan := nodeSpan(bodyNode)

	sigText := string(snap.Content[declSpan.Start:bodySpan.Start])
	unit := FunctionUnit{
		Name:      unitName(n, nameNode, snap),
		Signature: NormalizeSignature(sigText),
		DeclSpan:  declSpan,
		BodySpan:  bodySpan,
		DeclLine:  int(n.StartPoint().Row),
	}

	if tp := n.ChildByFieldName("type_parameters"); tp != nil {
		unit.GenericArity = int(tp.NamedChildCount())
	}

	collectScopes(bodyNode, snap.Lang, bodySpan, &unit)
	collectHandlers(bodyNode, &unit)
	return unit, true
}

// unitName qualifies Go methods by receiver type so Method on two types
// never collapses to one unit.
func unitName(n, nameNode *sitter.Node, snap Snapshot) string {
	name := nameNode.Content(snap.Content)
	if n.Type() == "method_declaration" {
		if recv := n.ChildByFieldName("receiver"); recv != nil {
			return NormalizeSignature(recv.Content(snap.Content)) + "." + name
		}
	}
	return name
}

func collectScopes(body *sitter.Node, lang Language, bodySpan text.Span, unit *FunctionUnit) {
	scopeType := scopeNodeTypes[lang]
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == scopeType {
			if s := nodeSpan(n); s != bodySpan {
				unit.Scopes = append(unit.Scopes, s)
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(body)
}

func collectHandlers(body *sitter.Node, unit *FunctionUnit) {
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "try_statement" {
			enclosing := nodeSpan(n)
			var protected text.Span
			if tryBody := n.ChildByFieldName("body"); tryBody != nil {
				protected = nodeSpan(tryBody)
			}
			if h := n.ChildByFieldName("handler"); h != nil {
				unit.Handlers = append(unit.Handlers, HandlerRegion{
					Handler:   nodeSpan(h),
					Protected: protected,
					Enclosing: enclosing,
				})
			}
			if f := n.ChildByFieldName("finalizer"); f != nil {
				unit.Handlers = append(unit.Handlers, HandlerRegion{
					Handler:   nodeSpan(f),
					Protected: protected,
					Enclosing: enclosing,
				})
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(body)
}

// NormalizeSignature collapses all whitespace runs to single spaces so
// formatting-only edits do not read as signature changes.
func NormalizeSignature(sig string) string {
	return strings.Join(strings.Fields(sig), " ")
}

// Bind implements Binder. Definition tokens are derived from the unit
// name so the same definition keeps its token across snapshots.
func (o *TreeSitter) Bind(ctx context.Context, facts *SyntaxFacts) (*SemanticFacts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content := facts.Snapshot.Content
	out := &SemanticFacts{Module: o.module, Path: facts.Snapshot.Path}
	for _, fn := range facts.Functions {
		out.Units = append(out.Units, BoundUnit{
			FunctionUnit:    fn,
			DefinitionToken: TokenForName(fn.Name),
			SignatureID:     identity.HashContent([]byte(fn.Signature)),
			BodyID:          identity.HashContent(content[fn.BodySpan.Start:fn.BodySpan.End]),
		})
	}
	return out, nil
}

// TokenForName derives a stable non-negative definition token from a
// unit name.
func TokenForName(name string) int {
	h := fnv.New32a()
	h.Write([]byte(name))
	return int(h.Sum32() & 0x7fffffff)
}

// ComputeSemanticEdits implements EditComputer. Updates are emitted only
// for units whose body text actually changed; inserts and deletes come
// from token-set differences.
func (o *TreeSitter) ComputeSemanticEdits(ctx context.Context, old, new *SemanticFacts) ([]SemanticEdit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	oldByToken := make(map[int]BoundUnit, len(old.Units))
	for _, u := range old.Units {
		oldByToken[u.DefinitionToken] = u
	}

	var edits []SemanticEdit
	for _, u := range new.Units {
		prev, existed := oldByToken[u.DefinitionToken]
		if !existed {
			edits = append(edits, SemanticEdit{
				Kind:                 EditInsert,
				Module:               new.Module,
				DefinitionToken:      u.DefinitionToken,
				Span:                 u.DeclSpan,
				RequiredCapabilities: capability.AddMethod,
			})
			continue
		}
		delete(oldByToken, u.DefinitionToken)

		if prev.BodyID == u.BodyID && prev.SignatureID == u.SignatureID {
			continue
		}
		required := capability.BaselineEdits
		if u.GenericArity > 0 {
			required |= capability.GenericEdits
		}
		if prev.SignatureID != u.SignatureID {
			required |= capability.ChangeSignature
		}
		edits = append(edits, SemanticEdit{
			Kind:                 EditUpdate,
			Module:               new.Module,
			DefinitionToken:      u.DefinitionToken,
			Span:                 u.BodySpan,
			RequiredCapabilities: required,
		})
	}

	// Iterate the slice, not the map, so edit order is deterministic.
	for _, u := range old.Units {
		if _, stillPresent := oldByToken[u.DefinitionToken]; !stillPresent {
			continue
		}
		edits = append(edits, SemanticEdit{
			Kind:                 EditDelete,
			Module:               old.Module,
			DefinitionToken:      u.DefinitionToken,
			Span:                 u.DeclSpan,
			RequiredCapabilities: capability.ChangeSignature,
		})
	}
	return edits, nil
}
