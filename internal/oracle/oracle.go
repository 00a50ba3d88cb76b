// Package oracle defines the syntax/semantic oracle the analysis engine
// queries for facts about document snapshots, along with a tree-sitter
// backed implementation. The engine core depends only on the interfaces;
// hosts may plug in a full compiler front end.
package oracle

import (
	"context"

	"hotpatch/internal/capability"
	"hotpatch/internal/identity"
	"hotpatch/internal/text"
)

// Language identifies the grammar used to parse a snapshot.
type Language string

const (
	LangGo         Language = "go"
	LangJavaScript Language = "javascript"
)

// Snapshot is one immutable version of a document.
type Snapshot struct {
	UnitID  string
	Path    string
	Lang    Language
	Content []byte
	Version int
}

// Hash returns the content hash of the snapshot.
func (s Snapshot) Hash() string {
	return identity.HashContent(s.Content)
}

// SyntaxError is one parse error in a snapshot.
type SyntaxError struct {
	Message  string
	Location text.Location
	Span     text.Span
}

// HandlerRegion is the span of a catch/finally-like handler together
// with the region of code it protects and the whole enclosing statement.
type HandlerRegion struct {
	Handler   text.Span // the catch/finally clause itself
	Protected text.Span // the try block the handler guards
	Enclosing text.Span // the whole try statement
}

// FunctionUnit is the syntax-level shape of one method-like definition.
type FunctionUnit struct {
	Name         string
	Signature    string // declaration text up to the body, whitespace-normalized
	GenericArity int
	Attributes   []string // capability-affecting attributes, sorted
	DeclSpan     text.Span
	BodySpan     text.Span
	DeclLine     int // 0-indexed line of the declaration
	Scopes       []text.Span // lexical scopes nested in the body
	Handlers     []HandlerRegion
}

// SyntaxFacts is the parser's output for one snapshot.
type SyntaxFacts struct {
	Snapshot  Snapshot
	Errors    []SyntaxError
	Functions []FunctionUnit
	// Settings are project-level knobs the unit declares (output kind,
	// language version); changes to them are rude independent of any
	// one document.
	Settings map[string]string
}

// FirstError returns the earliest syntax error, or nil.
func (f *SyntaxFacts) FirstError() *SyntaxError {
	if len(f.Errors) == 0 {
		return nil
	}
	first := f.Errors[0]
	for _, e := range f.Errors[1:] {
		if e.Span.Start < first.Span.Start {
			first = e
		}
	}
	return &first
}

// BoundUnit is a function unit with its symbol-level identity resolved.
type BoundUnit struct {
	FunctionUnit
	DefinitionToken int
	// SignatureID changes exactly when the unit's signature changes;
	// BodyID changes exactly when the body text changes.
	SignatureID string
	BodyID      string
}

// SemanticFacts is the binder's output for one snapshot.
type SemanticFacts struct {
	Module identity.ModuleID
	Path   string
	Units  []BoundUnit
}

// UnitByToken returns the bound unit with the given definition token.
func (f *SemanticFacts) UnitByToken(token int) (BoundUnit, bool) {
	for _, u := range f.Units {
		if u.DefinitionToken == token {
			return u, true
		}
	}
	return BoundUnit{}, false
}

// EditKind describes what a semantic edit does.
type EditKind string

const (
	EditUpdate EditKind = "update"
	EditInsert EditKind = "insert"
	EditDelete EditKind = "delete"
)

// SemanticEdit is one change to apply to the running program.
type SemanticEdit struct {
	Kind                 EditKind
	Module               identity.ModuleID
	DefinitionToken      int
	Span                 text.Span
	RequiredCapabilities capability.Set
}

// Parser produces syntax-level facts for a snapshot. Implementations
// must honor ctx cancellation and be safe for concurrent use across
// unrelated snapshots.
type Parser interface {
	Parse(ctx context.Context, snap Snapshot) (*SyntaxFacts, error)
}

// Binder resolves symbol-level identity for parsed facts.
type Binder interface {
	Bind(ctx context.Context, facts *SyntaxFacts) (*SemanticFacts, error)
}

// EditComputer derives semantic edits from a bound old/new pair.
type EditComputer interface {
	ComputeSemanticEdits(ctx context.Context, old, new *SemanticFacts) ([]SemanticEdit, error)
}

// Oracle bundles the three collaborator roles behind one handle.
type Oracle interface {
	Parser
	Binder
	EditComputer
}
