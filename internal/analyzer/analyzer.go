// Package analyzer orchestrates the analysis of one changed document:
// unchanged fast path, syntax check, change classification, reuse
// lookup, and semantic-edit computation, producing an immutable Result.
package analyzer

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"hotpatch/internal/capability"
	"hotpatch/internal/classify"
	"hotpatch/internal/diag"
	"hotpatch/internal/errors"
	"hotpatch/internal/identity"
	"hotpatch/internal/logging"
	"hotpatch/internal/oracle"
	"hotpatch/internal/text"
)

// Request carries everything needed to analyze one document. The lazy
// inputs are shared across concurrent requests and forced at most once.
type Request struct {
	UnitID string
	Old    oracle.Snapshot
	New    oracle.Snapshot

	// Project-level settings in effect for each snapshot; changes are
	// rude independent of the document's own content.
	OldSettings map[string]string
	NewSettings map[string]string

	// ActiveStatements resolves the statements with live frames at the
	// time of the request. Nil means none.
	ActiveStatements *Lazy[[]classify.ActiveStatement]

	// NewActiveSpans are the spans in the new text to track for each
	// active statement, by ordinal.
	NewActiveSpans []text.Span

	// Capabilities resolves the host runtime's capability set. Nil
	// means unrestricted.
	Capabilities *Lazy[capability.Set]

	// Constraints is the queue-owned reuse-constraint store. Analyze
	// only writes to it at the very end of a successful run, after the
	// last suspension point, so a cancelled run leaves it untouched.
	// Nil disables constraint bookkeeping.
	Constraints *identity.ConstraintStore
}

// DocumentAnalyzer runs the per-document analysis pipeline.
type DocumentAnalyzer struct {
	oracle     oracle.Oracle
	classifier *classify.Classifier
	logger     *logging.Logger
}

// New creates a DocumentAnalyzer.
func New(o oracle.Oracle, c *classify.Classifier, logger *logging.Logger) *DocumentAnalyzer {
	if c == nil {
		c = classify.New(nil)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &DocumentAnalyzer{oracle: o, classifier: c, logger: logger}
}

// Analyze produces exactly one Result for the request, or a
// cancellation error. Oracle faults never escape: they become a Blocked
// result with a synthetic diagnostic. No shared state is mutated; all
// outputs are freshly constructed.
func (a *DocumentAnalyzer) Analyze(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()

	// Unchanged fast path: no oracle involvement at all.
	if req.Old.Hash() == req.New.Hash() && settingsEqual(req.OldSettings, req.NewSettings) {
		return NewUnchanged(req.UnitID, req.New.Path, time.Since(start)), nil
	}

	defer func() {
		if p := recover(); p != nil {
			a.logger.Error("oracle fault during analysis", map[string]any{
				"unit":  req.UnitID,
				"panic": fmt.Sprint(p),
			})
			res = a.blockedInternal(req, start, fmt.Sprintf("oracle fault: %v", p))
			err = nil
		}
	}()

	newFacts, oerr := a.oracle.Parse(ctx, req.New)
	if oerr != nil {
		return a.oracleFailure(ctx, req, start, "parsing new snapshot", oerr)
	}
	if first := newFacts.FirstError(); first != nil {
		a.logger.Debug("analysis blocked on syntax error", map[string]any{
			"unit":     req.UnitID,
			"location": first.Location.String(),
		})
		return NewBlocked(req.UnitID, req.New.Path, time.Since(start), first, nil), nil
	}

	oldFacts, oerr := a.oracle.Parse(ctx, req.Old)
	if oerr != nil {
		return a.oracleFailure(ctx, req, start, "parsing old snapshot", oerr)
	}

	oldSem, oerr := a.oracle.Bind(ctx, oldFacts)
	if oerr != nil {
		return a.oracleFailure(ctx, req, start, "binding old snapshot", oerr)
	}
	newSem, oerr := a.oracle.Bind(ctx, newFacts)
	if oerr != nil {
		return a.oracleFailure(ctx, req, start, "binding new snapshot", oerr)
	}

	active, lerr := a.activeStatements(ctx, req)
	if lerr != nil {
		return nil, lerr
	}

	classification := a.classifier.Classify(oldSem, newSem, active)
	settingsDiags := a.classifier.CompareSettings(
		mergedSettings(oldFacts.Settings, req.OldSettings),
		mergedSettings(newFacts.Settings, req.NewSettings),
	)
	diags := append(append([]diag.Diagnostic{}, classification.Diagnostics...), settingsDiags...)

	if classification.Kind == classify.Unchanged && len(settingsDiags) == 0 {
		// Textually different but structurally identical.
		return NewUnchanged(req.UnitID, req.New.Path, time.Since(start)), nil
	}

	tracked := trackedStatements(active, req.NewActiveSpans)

	if diag.AnyBlocking(diags) {
		a.logger.Info("change classified as rude", map[string]any{
			"unit":        req.UnitID,
			"diagnostics": len(diags),
		})
		return NewChangedRude(req.UnitID, req.New.Path, time.Since(start), tracked, diags), nil
	}

	edits, oerr := a.oracle.ComputeSemanticEdits(ctx, oldSem, newSem)
	if oerr != nil {
		return a.oracleFailure(ctx, req, start, "computing semantic edits", oerr)
	}

	caps, lerr := a.capabilities(ctx, req)
	if lerr != nil {
		return nil, lerr
	}

	// An edit the runtime cannot apply is a blocking diagnostic, not a
	// silently dropped edit.
	var capDiags []diag.Diagnostic
	for _, e := range edits {
		if missing := caps.Missing(e.RequiredCapabilities); missing != capability.None {
			capDiags = append(capDiags, diag.Diagnostic{
				Code:     diag.CodeCapabilityUnsupported,
				Severity: diag.SevBlocking,
				Message:  fmt.Sprintf("%s edit of definition %d requires unsupported capabilities: %s", e.Kind, e.DefinitionToken, missing),
				Location: text.Location{Path: req.New.Path},
				Span:     e.Span,
			})
		}
	}
	if len(capDiags) > 0 {
		return NewChangedRude(req.UnitID, req.New.Path, time.Since(start), tracked, append(diags, capDiags...)), nil
	}

	regions := make([][]text.Span, len(tracked))
	for i, stmt := range tracked {
		if u, ok := newSem.UnitByToken(stmt.DefinitionToken); ok {
			regions[i] = classify.ExceptionRegions(stmt.NewSpan, u.Handlers)
		}
	}

	lineEdits := computeLineEdits(oldSem, newSem)

	required := capability.BaselineEdits
	for _, e := range edits {
		required |= e.RequiredCapabilities
	}

	recordConstraints(req, newSem, edits, tracked)

	elapsed := time.Since(start)
	a.logger.Info("analysis complete", map[string]any{
		"unit":      req.UnitID,
		"edits":     len(edits),
		"elapsedMs": elapsed.Milliseconds(),
	})
	return NewChangedOK(req.UnitID, req.New.Path, elapsed, tracked, diags, edits, regions, lineEdits, required), nil
}

func (a *DocumentAnalyzer) activeStatements(ctx context.Context, req Request) ([]classify.ActiveStatement, error) {
	if req.ActiveStatements == nil {
		return nil, nil
	}
	return req.ActiveStatements.Get(ctx)
}

func (a *DocumentAnalyzer) capabilities(ctx context.Context, req Request) (capability.Set, error) {
	if req.Capabilities == nil {
		return capability.All(), nil
	}
	return req.Capabilities.Get(ctx)
}

// oracleFailure converts an oracle error into a Blocked result unless
// the failure is the request's own cancellation.
func (a *DocumentAnalyzer) oracleFailure(ctx context.Context, req Request, start time.Time, stage string, oerr error) (*Result, error) {
	if ctx.Err() != nil || stderrors.Is(oerr, context.Canceled) || stderrors.Is(oerr, context.DeadlineExceeded) {
		return nil, oerr
	}
	a.logger.Error("oracle internal error", map[string]any{
		"unit":      req.UnitID,
		"stage":     stage,
		"error":     errors.New(errors.OracleInternal, stage, oerr).Error(),
		"elapsedMs": time.Since(start).Milliseconds(),
	})
	return a.blockedInternal(req, start, fmt.Sprintf("%s: %v", stage, oerr)), nil
}

func (a *DocumentAnalyzer) blockedInternal(req Request, start time.Time, message string) *Result {
	return NewBlocked(req.UnitID, req.New.Path, time.Since(start), nil, []diag.Diagnostic{{
		Code:     diag.CodeOracleInternal,
		Severity: diag.SevBlocking,
		Message:  message,
		Location: text.Location{Path: req.New.Path},
	}})
}

// trackedStatements rebinds each active statement's new-text span from
// the host-supplied tracking spans, by ordinal.
func trackedStatements(active []classify.ActiveStatement, spans []text.Span) []classify.ActiveStatement {
	out := make([]classify.ActiveStatement, len(active))
	copy(out, active)
	for i := range out {
		if out[i].Ordinal < len(spans) {
			out[i].NewSpan = spans[out[i].Ordinal]
		}
	}
	return out
}

// computeLineEdits maps declaration-line movement of units present in
// both snapshots into grouped line edits.
func computeLineEdits(old, new *oracle.SemanticFacts) []text.FileLineEdits {
	oldByToken := make(map[int]oracle.BoundUnit, len(old.Units))
	for _, u := range old.Units {
		oldByToken[u.DefinitionToken] = u
	}

	var paths []string
	var edits []text.LineEdit
	for _, u := range new.Units {
		prev, ok := oldByToken[u.DefinitionToken]
		if !ok || prev.DeclLine == u.DeclLine {
			continue
		}
		paths = append(paths, new.Path)
		edits = append(edits, text.LineEdit{OldLine: prev.DeclLine, NewLine: u.DeclLine})
	}
	return text.GroupLineEdits(paths, edits)
}

// recordConstraints updates the reuse-constraint store for a clean
// change: edited definitions lose their cached constraints, and every
// unedited definition holding an active statement gets a constraint
// narrowed around that statement's offset by the unit's lexical scopes.
func recordConstraints(req Request, facts *oracle.SemanticFacts, edits []oracle.SemanticEdit, active []classify.ActiveStatement) {
	store := req.Constraints
	if store == nil {
		return
	}
	edited := make(map[int]bool, len(edits))
	for _, e := range edits {
		store.Invalidate(e.Module, e.DefinitionToken)
		edited[e.DefinitionToken] = true
	}
	version := req.New.Version
	if version < 1 {
		version = 1
	}
	for _, a := range active {
		if a.ILOffset < 0 || edited[a.DefinitionToken] {
			continue
		}
		u, ok := facts.UnitByToken(a.DefinitionToken)
		if !ok {
			continue
		}
		id := identity.NewCodeIdentity(facts.Module, a.DefinitionToken, version, ilSpan(u.BodySpan))
		if !id.InstructionSpan.Contains(a.ILOffset) {
			continue
		}
		store.Narrowed(id, a.ILOffset, ilScopes(u.Scopes))
	}
}

func ilSpan(s text.Span) text.ILSpan {
	return text.NewILSpan(s.Start, s.End)
}

func ilScopes(scopes []text.Span) []text.ILSpan {
	out := make([]text.ILSpan, len(scopes))
	for i, s := range scopes {
		out[i] = ilSpan(s)
	}
	return out
}

func settingsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func mergedSettings(base, overlay map[string]string) map[string]string {
	if len(overlay) == 0 {
		return base
	}
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
