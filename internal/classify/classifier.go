// Package classify compares the old and new shape of a document and
// decides whether the change is absent, confined to method bodies, or
// structurally disallowed for a running program.
package classify

import (
	"fmt"
	"sort"

	"hotpatch/internal/diag"
	"hotpatch/internal/identity"
	"hotpatch/internal/oracle"
	"hotpatch/internal/text"
)

// Kind is the outcome of classifying one document's change.
type Kind uint8

const (
	// Unchanged means no unit's shape or body differs
	Unchanged Kind = iota
	// BodyOnly means every difference is confined to method bodies
	BodyOnly
	// Disallowed means at least one change is rude for a running program
	Disallowed
)

func (k Kind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case BodyOnly:
		return "body-only"
	case Disallowed:
		return "disallowed"
	}
	return "unknown"
}

// ActiveStatement is a source span with a live activation frame at the
// moment of analysis.
type ActiveStatement struct {
	Ordinal         int
	Module          identity.ModuleID
	DefinitionToken int
	ILOffset        int
	OldSpan         text.Span // span in the old snapshot
	NewSpan         text.Span // tracked span in the new snapshot
}

// Classification is the result for one (old, new) document pair. It is
// terminal for that pair; a different new state starts fresh.
type Classification struct {
	Kind        Kind
	Diagnostics []diag.Diagnostic
}

// HasBlocking reports whether any diagnostic is blocking.
func (c Classification) HasBlocking() bool {
	return diag.AnyBlocking(c.Diagnostics)
}

// Classifier compares bound facts under a severity policy.
type Classifier struct {
	policy Policy
}

// New creates a classifier. A nil policy uses the defaults.
func New(policy Policy) *Classifier {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Classifier{policy: policy}
}

func (c *Classifier) diagnostic(code diag.Code, message string, unit oracle.BoundUnit, path string) diag.Diagnostic {
	return diag.Diagnostic{
		Code:     code,
		Severity: c.policy.SeverityOf(code),
		Message:  message,
		Location: text.Location{Path: path, Line: unit.DeclLine + 1, Column: 1},
		Span:     unit.DeclSpan,
	}
}

// Classify compares old and new bound facts given the live active
// statements. Both facts must describe the same document.
func (c *Classifier) Classify(old, new *oracle.SemanticFacts, active []ActiveStatement) Classification {
	oldByToken := make(map[int]oracle.BoundUnit, len(old.Units))
	for _, u := range old.Units {
		oldByToken[u.DefinitionToken] = u
	}

	activeByToken := make(map[int][]ActiveStatement)
	for _, a := range active {
		activeByToken[a.DefinitionToken] = append(activeByToken[a.DefinitionToken], a)
	}

	path := pathOf(old, new)
	var diags []diag.Diagnostic
	changed := false

	for _, u := range new.Units {
		prev, existed := oldByToken[u.DefinitionToken]
		if !existed {
			changed = true
			continue
		}
		delete(oldByToken, u.DefinitionToken)

		frames := activeByToken[u.DefinitionToken]

		if prev.SignatureID != u.SignatureID {
			changed = true
			if len(frames) > 0 {
				diags = append(diags, c.diagnostic(
					diag.CodeSignatureChangeActive,
					fmt.Sprintf("signature of %s changed while it has %d live frame(s)", u.Name, len(frames)),
					u, path))
			}
		}
		if prev.GenericArity != u.GenericArity {
			changed = true
			diags = append(diags, c.diagnostic(
				diag.CodeGenericArityChange,
				fmt.Sprintf("generic arity of %s changed from %d to %d", u.Name, prev.GenericArity, u.GenericArity),
				u, path))
		}
		if !equalAttributes(prev.Attributes, u.Attributes) {
			changed = true
			diags = append(diags, c.diagnostic(
				diag.CodeCapabilityAttribute,
				fmt.Sprintf("capability-affecting attributes of %s changed", u.Name),
				u, path))
		}
		if prev.BodyID != u.BodyID {
			changed = true
		}

		// An active statement must stay inside the same nesting of
		// lexical scopes; a change to that nesting invalidates the
		// frame's locals.
		for _, a := range frames {
			oldDepth := enclosingScopes(prev, a.OldSpan)
			newDepth := enclosingScopes(u, a.NewSpan)
			if oldDepth != newDepth {
				diags = append(diags, c.diagnostic(
					diag.CodeScopeStructureChange,
					fmt.Sprintf("scope structure around active statement %d in %s changed (%d -> %d enclosing scopes)", a.Ordinal, u.Name, oldDepth, newDepth),
					u, path))
			}
		}
	}

	// Units deleted from the new snapshot, in declaration order.
	for _, prev := range old.Units {
		if _, deleted := oldByToken[prev.DefinitionToken]; !deleted {
			continue
		}
		token := prev.DefinitionToken
		changed = true
		code := diag.CodeMemberDeleted
		msg := fmt.Sprintf("%s was deleted", prev.Name)
		if len(activeByToken[token]) > 0 {
			// Deleting a member with live frames is always blocking,
			// whatever the policy says about ordinary deletions.
			diags = append(diags, diag.Diagnostic{
				Code:     code,
				Severity: diag.SevBlocking,
				Message:  msg + " while it has live frames",
				Location: text.Location{Path: path, Line: prev.DeclLine + 1, Column: 1},
				Span:     prev.DeclSpan,
			})
			continue
		}
		diags = append(diags, c.diagnostic(code, msg, prev, path))
	}

	diag.Sort(diags)

	kind := Unchanged
	if changed {
		kind = BodyOnly
	}
	if diag.AnyBlocking(diags) {
		kind = Disallowed
	}
	return Classification{Kind: kind, Diagnostics: diags}
}

// CompareSettings reports rude project-level setting changes, which are
// independent of any single document.
func (c *Classifier) CompareSettings(old, new map[string]string) []diag.Diagnostic {
	var keys []string
	for k := range old {
		keys = append(keys, k)
	}
	for k := range new {
		if _, ok := old[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var diags []diag.Diagnostic
	for _, k := range keys {
		if old[k] == new[k] {
			continue
		}
		diags = append(diags, diag.Diagnostic{
			Code:     diag.CodeProjectSettingChange,
			Severity: c.policy.SeverityOf(diag.CodeProjectSettingChange),
			Message:  fmt.Sprintf("project setting %q changed from %q to %q", k, old[k], new[k]),
		})
	}
	return diags
}

func enclosingScopes(u oracle.BoundUnit, span text.Span) int {
	depth := 0
	for _, sc := range u.Scopes {
		if sc.ContainsSpan(span) {
			depth++
		}
	}
	return depth
}

func equalAttributes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func pathOf(old, new *oracle.SemanticFacts) string {
	if new.Path != "" {
		return new.Path
	}
	return old.Path
}
