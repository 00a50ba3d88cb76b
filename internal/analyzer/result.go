package analyzer

import (
	"fmt"
	"reflect"
	"time"

	"hotpatch/internal/capability"
	"hotpatch/internal/classify"
	"hotpatch/internal/diag"
	"hotpatch/internal/oracle"
	"hotpatch/internal/text"
)

// ResultKind discriminates the analysis outcome for one document.
type ResultKind uint8

const (
	// KindUnchanged is the no-op fast path
	KindUnchanged ResultKind = iota
	// KindBlocked means a syntax error or oracle fault stopped analysis
	KindBlocked
	// KindChangedRude means the change is real but a blocking
	// classification diagnostic stops semantic-edit computation
	KindChangedRude
	// KindChangedOK means the change was fully analyzed
	KindChangedOK
)

func (k ResultKind) String() string {
	switch k {
	case KindUnchanged:
		return "unchanged"
	case KindBlocked:
		return "blocked"
	case KindChangedRude:
		return "changed-rude"
	case KindChangedOK:
		return "changed-ok"
	}
	return "unknown"
}

// Result is the immutable outcome of analyzing one document. The
// constructor for each kind accepts exactly the fields valid for that
// kind, so the invariants tying optional fields together cannot be
// violated by construction.
type Result struct {
	kind     ResultKind
	unitID   string
	filePath string
	elapsed  time.Duration

	firstSyntaxError *oracle.SyntaxError
	diagnostics      []diag.Diagnostic

	activeStatements []classify.ActiveStatement
	semanticEdits    []oracle.SemanticEdit
	exceptionRegions [][]text.Span
	lineEdits        []text.FileLineEdits
	requiredCaps     capability.Set
}

// NewUnchanged builds the fast-path result for an identical snapshot
// pair.
func NewUnchanged(unitID, filePath string, elapsed time.Duration) *Result {
	return &Result{kind: KindUnchanged, unitID: unitID, filePath: filePath, elapsed: elapsed}
}

// NewBlocked builds the result for a document whose analysis stopped
// before classification could complete: a syntax error, or a synthetic
// blocking diagnostic for an oracle fault. At least one of the two must
// be present.
func NewBlocked(unitID, filePath string, elapsed time.Duration, firstSyntaxError *oracle.SyntaxError, diagnostics []diag.Diagnostic) *Result {
	if firstSyntaxError == nil && !diag.AnyBlocking(diagnostics) {
		panic("analyzer: blocked result requires a syntax error or blocking diagnostic")
	}
	return &Result{
		kind:             KindBlocked,
		unitID:           unitID,
		filePath:         filePath,
		elapsed:          elapsed,
		firstSyntaxError: firstSyntaxError,
		diagnostics:      diagnostics,
	}
}

// NewChangedRude builds the result for a change with at least one
// blocking classification diagnostic. Active statements are still
// reported so the host can render the rude edits in place.
func NewChangedRude(unitID, filePath string, elapsed time.Duration, active []classify.ActiveStatement, diagnostics []diag.Diagnostic) *Result {
	if !diag.AnyBlocking(diagnostics) {
		panic("analyzer: rude result requires a blocking diagnostic")
	}
	if active == nil {
		active = []classify.ActiveStatement{}
	}
	return &Result{
		kind:             KindChangedRude,
		unitID:           unitID,
		filePath:         filePath,
		elapsed:          elapsed,
		diagnostics:      diagnostics,
		activeStatements: active,
	}
}

// NewChangedOK builds the fully analyzed success result.
func NewChangedOK(
	unitID, filePath string,
	elapsed time.Duration,
	active []classify.ActiveStatement,
	diagnostics []diag.Diagnostic,
	edits []oracle.SemanticEdit,
	regions [][]text.Span,
	lineEdits []text.FileLineEdits,
	caps capability.Set,
) *Result {
	if diag.AnyBlocking(diagnostics) {
		panic("analyzer: successful result cannot carry a blocking diagnostic")
	}
	if len(regions) != len(active) {
		panic(fmt.Sprintf("analyzer: %d exception region sets for %d active statements", len(regions), len(active)))
	}
	if caps == capability.None {
		panic("analyzer: successful result requires a non-empty capability set")
	}
	seen := make(map[string]bool, len(lineEdits))
	for _, g := range lineEdits {
		if seen[g.Path] {
			panic(fmt.Sprintf("analyzer: duplicate line-edit group for %s", g.Path))
		}
		seen[g.Path] = true
		for i := 1; i < len(g.Edits); i++ {
			if g.Edits[i-1].OldLine >= g.Edits[i].OldLine {
				panic(fmt.Sprintf("analyzer: line edits for %s not sorted by old line", g.Path))
			}
		}
	}
	if active == nil {
		active = []classify.ActiveStatement{}
	}
	if edits == nil {
		edits = []oracle.SemanticEdit{}
	}
	if regions == nil {
		regions = [][]text.Span{}
	}
	if lineEdits == nil {
		lineEdits = []text.FileLineEdits{}
	}
	return &Result{
		kind:             KindChangedOK,
		unitID:           unitID,
		filePath:         filePath,
		elapsed:          elapsed,
		diagnostics:      diagnostics,
		activeStatements: active,
		semanticEdits:    edits,
		exceptionRegions: regions,
		lineEdits:        lineEdits,
		requiredCaps:     caps,
	}
}

// Kind returns the result's discriminant.
func (r *Result) Kind() ResultKind { return r.kind }

// UnitID returns the analyzed unit's id.
func (r *Result) UnitID() string { return r.unitID }

// FilePath returns the analyzed document's path.
func (r *Result) FilePath() string { return r.filePath }

// Elapsed returns how long the analysis took.
func (r *Result) Elapsed() time.Duration { return r.elapsed }

// HasChanges reports whether the document changed at all.
func (r *Result) HasChanges() bool {
	return r.kind == KindChangedRude || r.kind == KindChangedOK
}

// IsBlocked reports whether analysis stopped before classification
// completed.
func (r *Result) IsBlocked() bool {
	return r.kind == KindBlocked
}

// FirstSyntaxError returns the earliest syntax error on a blocked
// result, or nil.
func (r *Result) FirstSyntaxError() *oracle.SyntaxError {
	return r.firstSyntaxError
}

// Diagnostics returns the classification diagnostics, empty when
// unchanged.
func (r *Result) Diagnostics() []diag.Diagnostic {
	return r.diagnostics
}

// HasBlockingDiagnostic reports whether any classification diagnostic
// is blocking.
func (r *Result) HasBlockingDiagnostic() bool {
	return diag.AnyBlocking(r.diagnostics)
}

// ActiveStatements returns the tracked active statements. Present
// exactly when the document changed and analysis was not blocked.
func (r *Result) ActiveStatements() ([]classify.ActiveStatement, bool) {
	if !r.HasChanges() {
		return nil, false
	}
	return r.activeStatements, true
}

// SemanticEdits returns the computed edits. Present only on a fully
// successful result.
func (r *Result) SemanticEdits() ([]oracle.SemanticEdit, bool) {
	if r.kind != KindChangedOK {
		return nil, false
	}
	return r.semanticEdits, true
}

// ExceptionRegions returns one region set per active statement.
// Present only on a fully successful result.
func (r *Result) ExceptionRegions() ([][]text.Span, bool) {
	if r.kind != KindChangedOK {
		return nil, false
	}
	return r.exceptionRegions, true
}

// LineEdits returns line mappings grouped by file. Present only on a
// fully successful result.
func (r *Result) LineEdits() ([]text.FileLineEdits, bool) {
	if r.kind != KindChangedOK {
		return nil, false
	}
	return r.lineEdits, true
}

// RequiredCapabilities returns the union of capabilities the semantic
// edits require; None unless the result is fully successful.
func (r *Result) RequiredCapabilities() capability.Set {
	if r.kind != KindChangedOK {
		return capability.None
	}
	return r.requiredCaps
}

// Equivalent reports whether two results are identical apart from
// elapsed time. Used to verify analysis idempotence.
func (r *Result) Equivalent(other *Result) bool {
	if r == nil || other == nil {
		return r == other
	}
	a, b := *r, *other
	a.elapsed, b.elapsed = 0, 0
	return reflect.DeepEqual(a, b)
}
