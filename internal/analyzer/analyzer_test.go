package analyzer

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"
	"testing"

	"hotpatch/internal/capability"
	"hotpatch/internal/classify"
	"hotpatch/internal/diag"
	"hotpatch/internal/identity"
	"hotpatch/internal/oracle"
	"hotpatch/internal/text"
)

func testUnit(name string, token int, sig, body string) oracle.BoundUnit {
	return oracle.BoundUnit{
		FunctionUnit: oracle.FunctionUnit{
			Name:      name,
			Signature: sig,
			DeclSpan:  text.Span{Start: 0, End: 10},
			BodySpan:  text.Span{Start: 10, End: 10 + len(body)},
		},
		DefinitionToken: token,
		SignatureID:     identity.HashContent([]byte(sig)),
		BodyID:          identity.HashContent([]byte(body)),
	}
}

func semFacts(path string, units ...oracle.BoundUnit) *oracle.SemanticFacts {
	return &oracle.SemanticFacts{Module: "app", Path: path, Units: units}
}

// pairOracle serves oldSem for version 1 snapshots and newSem otherwise.
func pairOracle(oldSem, newSem *oracle.SemanticFacts, edits []oracle.SemanticEdit) *oracle.Stub {
	return &oracle.Stub{
		BindFn: func(ctx context.Context, f *oracle.SyntaxFacts) (*oracle.SemanticFacts, error) {
			if f.Snapshot.Version == 1 {
				return oldSem, nil
			}
			return newSem, nil
		},
		EditsFn: func(ctx context.Context, old, new *oracle.SemanticFacts) ([]oracle.SemanticEdit, error) {
			return edits, nil
		},
	}
}

func request(oldContent, newContent string) Request {
	return Request{
		UnitID: "lib",
		Old:    oracle.Snapshot{UnitID: "lib", Path: "a.go", Lang: oracle.LangGo, Content: []byte(oldContent), Version: 1},
		New:    oracle.Snapshot{UnitID: "lib", Path: "a.go", Lang: oracle.LangGo, Content: []byte(newContent), Version: 2},
	}
}

func TestAnalyzeIdenticalContentSkipsOracle(t *testing.T) {
	st := &oracle.Stub{}
	a := New(st, nil, nil)

	req := request("package a", "package a")
	res, err := a.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Kind() != KindUnchanged {
		t.Fatalf("kind = %v, want unchanged", res.Kind())
	}
	if n := st.TotalCalls(); n != 0 {
		t.Fatalf("oracle was called %d times for identical content", n)
	}
	if res.HasChanges() || res.IsBlocked() {
		t.Fatal("unchanged result must report no changes and no block")
	}
}

func TestAnalyzeSyntaxErrorBlocks(t *testing.T) {
	st := &oracle.Stub{
		ParseFn: func(ctx context.Context, snap oracle.Snapshot) (*oracle.SyntaxFacts, error) {
			return &oracle.SyntaxFacts{
				Snapshot: snap,
				Errors: []oracle.SyntaxError{
					{Message: "late", Span: text.Span{Start: 50, End: 51}},
					{Message: "early", Span: text.Span{Start: 3, End: 4}},
				},
			}, nil
		},
	}
	a := New(st, nil, nil)

	res, err := a.Analyze(context.Background(), request("old", "new"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.IsBlocked() {
		t.Fatalf("kind = %v, want blocked", res.Kind())
	}
	first := res.FirstSyntaxError()
	if first == nil || first.Message != "early" {
		t.Fatalf("first syntax error = %+v, want the earliest", first)
	}
	if res.HasChanges() {
		t.Fatal("blocked result must not report changes")
	}
	if _, ok := res.SemanticEdits(); ok {
		t.Fatal("blocked result must not expose semantic edits")
	}
}

func TestAnalyzeStructurallyIdenticalIsUnchanged(t *testing.T) {
	u := testUnit("F", 1, "func F()", "{ return }")
	st := pairOracle(semFacts("a.go", u), semFacts("a.go", u), nil)
	a := New(st, nil, nil)

	// Whitespace moved outside any declaration.
	res, err := a.Analyze(context.Background(), request("old text", "new text"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Kind() != KindUnchanged {
		t.Fatalf("kind = %v, want unchanged", res.Kind())
	}
}

func TestAnalyzeBodyOnlyChange(t *testing.T) {
	oldU := testUnit("F", 1, "func F()", "{ return 1 }")
	newU := testUnit("F", 1, "func F()", "{ return 2 }")
	edits := []oracle.SemanticEdit{{
		Kind:                 oracle.EditUpdate,
		Module:               "app",
		DefinitionToken:      1,
		Span:                 newU.DeclSpan,
		RequiredCapabilities: capability.BaselineEdits,
	}}
	st := pairOracle(semFacts("a.go", oldU), semFacts("a.go", newU), edits)
	a := New(st, nil, nil)

	res, err := a.Analyze(context.Background(), request("v1", "v2"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Kind() != KindChangedOK {
		t.Fatalf("kind = %v, want changed-ok", res.Kind())
	}
	got, ok := res.SemanticEdits()
	if !ok || len(got) != 1 || got[0].Kind != oracle.EditUpdate {
		t.Fatalf("semantic edits = %+v, %v", got, ok)
	}
	if caps := res.RequiredCapabilities(); !caps.Has(capability.BaselineEdits) {
		t.Fatalf("required capabilities = %v, want baseline", caps)
	}
	if res.HasBlockingDiagnostic() {
		t.Fatalf("unexpected blocking diagnostics: %+v", res.Diagnostics())
	}
	active, ok := res.ActiveStatements()
	if !ok || len(active) != 0 {
		t.Fatalf("active statements = %+v, %v", active, ok)
	}
	regions, ok := res.ExceptionRegions()
	if !ok || len(regions) != len(active) {
		t.Fatalf("exception regions not parallel to active statements")
	}
}

func TestAnalyzeSignatureChangeWithLiveFramesIsRude(t *testing.T) {
	oldU := testUnit("F", 1, "func F()", "{}")
	newU := testUnit("F", 1, "func F(x int)", "{}")
	st := pairOracle(semFacts("a.go", oldU), semFacts("a.go", newU), nil)
	a := New(st, nil, nil)

	req := request("v1", "v2")
	req.ActiveStatements = Resolved([]classify.ActiveStatement{{
		Ordinal:         0,
		Module:          "app",
		DefinitionToken: 1,
		ILOffset:        4,
		OldSpan:         text.Span{Start: 11, End: 12},
	}})
	req.NewActiveSpans = []text.Span{{Start: 15, End: 16}}

	res, err := a.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Kind() != KindChangedRude {
		t.Fatalf("kind = %v, want changed-rude", res.Kind())
	}
	if !res.HasBlockingDiagnostic() {
		t.Fatal("rude result must carry a blocking diagnostic")
	}
	codes := diagCodes(res.Diagnostics())
	if !codes[diag.CodeSignatureChangeActive] {
		t.Fatalf("diagnostics %v missing signature-change code", res.Diagnostics())
	}
	if _, ok := res.SemanticEdits(); ok {
		t.Fatal("rude result must not expose semantic edits")
	}
	if caps := res.RequiredCapabilities(); caps != capability.None {
		t.Fatalf("rude result capabilities = %v, want none", caps)
	}
	active, ok := res.ActiveStatements()
	if !ok || len(active) != 1 {
		t.Fatalf("active statements = %+v, %v", active, ok)
	}
	if active[0].NewSpan != (text.Span{Start: 15, End: 16}) {
		t.Fatalf("active span not remapped: %+v", active[0])
	}
	if st.EditCalls() != 0 {
		t.Fatal("semantic edits must not be computed for a rude change")
	}
}

func TestAnalyzeMissingCapabilityIsRude(t *testing.T) {
	oldU := testUnit("F", 1, "func F()", "{ a }")
	newU := testUnit("F", 1, "func F()", "{ b }")
	edits := []oracle.SemanticEdit{{
		Kind:                 oracle.EditUpdate,
		Module:               "app",
		DefinitionToken:      1,
		RequiredCapabilities: capability.BaselineEdits | capability.ChangeSignature,
	}}
	st := pairOracle(semFacts("a.go", oldU), semFacts("a.go", newU), edits)
	a := New(st, nil, nil)

	req := request("v1", "v2")
	req.Capabilities = Resolved(capability.BaselineEdits)

	res, err := a.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Kind() != KindChangedRude {
		t.Fatalf("kind = %v, want changed-rude", res.Kind())
	}
	if !diagCodes(res.Diagnostics())[diag.CodeCapabilityUnsupported] {
		t.Fatalf("diagnostics %v missing capability code", res.Diagnostics())
	}
}

func TestAnalyzeSettingChangeIsRude(t *testing.T) {
	u := testUnit("F", 1, "func F()", "{}")
	st := pairOracle(semFacts("a.go", u), semFacts("a.go", u), nil)
	a := New(st, nil, nil)

	req := request("v1", "v2")
	req.OldSettings = map[string]string{"langver": "10"}
	req.NewSettings = map[string]string{"langver": "11"}

	res, err := a.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Kind() != KindChangedRude {
		t.Fatalf("kind = %v, want changed-rude", res.Kind())
	}
	if !diagCodes(res.Diagnostics())[diag.CodeProjectSettingChange] {
		t.Fatalf("diagnostics %v missing setting-change code", res.Diagnostics())
	}
}

func TestAnalyzeOraclePanicBecomesBlocked(t *testing.T) {
	st := &oracle.Stub{
		ParseFn: func(ctx context.Context, snap oracle.Snapshot) (*oracle.SyntaxFacts, error) {
			panic("parser bug")
		},
	}
	a := New(st, nil, nil)

	res, err := a.Analyze(context.Background(), request("v1", "v2"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.IsBlocked() {
		t.Fatalf("kind = %v, want blocked", res.Kind())
	}
	if !diagCodes(res.Diagnostics())[diag.CodeOracleInternal] {
		t.Fatalf("diagnostics %v missing oracle-internal code", res.Diagnostics())
	}
}

func TestAnalyzeOracleErrorBecomesBlocked(t *testing.T) {
	st := &oracle.Stub{
		ParseFn: func(ctx context.Context, snap oracle.Snapshot) (*oracle.SyntaxFacts, error) {
			return nil, fmt.Errorf("grammar not loaded")
		},
	}
	a := New(st, nil, nil)

	res, err := a.Analyze(context.Background(), request("v1", "v2"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.IsBlocked() || !diagCodes(res.Diagnostics())[diag.CodeOracleInternal] {
		t.Fatalf("got %v %+v, want blocked with oracle-internal diagnostic", res.Kind(), res.Diagnostics())
	}
}

func TestAnalyzeCancellationIsAnErrorNotAResult(t *testing.T) {
	st := &oracle.Stub{}
	a := New(st, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := a.Analyze(ctx, request("v1", "v2"))
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res != nil {
		t.Fatalf("cancelled analysis produced a result: %+v", res)
	}
}

func TestAnalyzeIdempotent(t *testing.T) {
	oldU := testUnit("F", 1, "func F()", "{ return 1 }")
	newU := testUnit("F", 1, "func F()", "{ return 2 }")
	edits := []oracle.SemanticEdit{{
		Kind:                 oracle.EditUpdate,
		Module:               "app",
		DefinitionToken:      1,
		RequiredCapabilities: capability.BaselineEdits,
	}}
	st := pairOracle(semFacts("a.go", oldU), semFacts("a.go", newU), edits)
	a := New(st, nil, nil)

	req := request("v1", "v2")
	first, err := a.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := a.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !first.Equivalent(second) {
		t.Fatal("repeated analysis of the same pair diverged")
	}
}

func TestAnalyzeLineEditsFromDeclMovement(t *testing.T) {
	oldU := testUnit("F", 1, "func F()", "{ return 1 }")
	oldU.DeclLine = 3
	newU := testUnit("F", 1, "func F()", "{ return 2 }")
	newU.DeclLine = 7
	edits := []oracle.SemanticEdit{{
		Kind:                 oracle.EditUpdate,
		Module:               "app",
		DefinitionToken:      1,
		RequiredCapabilities: capability.BaselineEdits,
	}}
	st := pairOracle(semFacts("a.go", oldU), semFacts("a.go", newU), edits)
	a := New(st, nil, nil)

	res, err := a.Analyze(context.Background(), request("v1", "v2"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	groups, ok := res.LineEdits()
	if !ok || len(groups) != 1 {
		t.Fatalf("line edits = %+v, %v", groups, ok)
	}
	g := groups[0]
	if g.Path != "a.go" || len(g.Edits) != 1 || g.Edits[0] != (text.LineEdit{OldLine: 3, NewLine: 7}) {
		t.Fatalf("line edit group = %+v", g)
	}
}

func TestAnalyzeCancellationLeavesNoResidue(t *testing.T) {
	oldU := testUnit("F", 1, "func F()", "{ return 1 }")
	newU := testUnit("F", 1, "func F()", "{ return 2 }")

	// Suspension points in call order: parse new, parse old, bind old,
	// bind new, compute edits.
	for target := 1; target <= 5; target++ {
		store := identity.NewConstraintStore()
		store.Put(identity.ReuseConstraint{Identity: identity.CodeIdentity{
			Module:          "app",
			DefinitionToken: 9,
			Version:         1,
			InstructionSpan: text.NewILSpan(0, 10),
		}})
		before := store.Snapshot()

		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		trip := func(ctx context.Context) error {
			calls++
			if calls == target {
				cancel()
			}
			return ctx.Err()
		}
		st := &oracle.Stub{
			ParseFn: func(ctx context.Context, snap oracle.Snapshot) (*oracle.SyntaxFacts, error) {
				if err := trip(ctx); err != nil {
					return nil, err
				}
				return &oracle.SyntaxFacts{Snapshot: snap}, nil
			},
			BindFn: func(ctx context.Context, f *oracle.SyntaxFacts) (*oracle.SemanticFacts, error) {
				if err := trip(ctx); err != nil {
					return nil, err
				}
				if f.Snapshot.Version == 1 {
					return semFacts("a.go", oldU), nil
				}
				return semFacts("a.go", newU), nil
			},
			EditsFn: func(ctx context.Context, old, new *oracle.SemanticFacts) ([]oracle.SemanticEdit, error) {
				if err := trip(ctx); err != nil {
					return nil, err
				}
				return nil, nil
			},
		}
		a := New(st, nil, nil)
		req := request("v1", "v2")
		req.Constraints = store

		res, err := a.Analyze(ctx, req)
		if !stderrors.Is(err, context.Canceled) {
			t.Fatalf("target %d: err = %v, want cancellation", target, err)
		}
		if res != nil {
			t.Fatalf("target %d: cancelled run published a result", target)
		}
		if !reflect.DeepEqual(store.Snapshot(), before) {
			t.Fatalf("target %d: cancelled run left residue in the constraint store", target)
		}
		cancel()
	}
}

func TestAnalyzeRecordsReuseConstraints(t *testing.T) {
	stable := testUnit("G", 2, "func G()", "{ work() }")
	stable.BodySpan = text.Span{Start: 100, End: 200}
	stable.Scopes = []text.Span{{Start: 120, End: 140}}

	oldF := testUnit("F", 1, "func F()", "{ return 1 }")
	newF := testUnit("F", 1, "func F()", "{ return 2 }")
	edits := []oracle.SemanticEdit{{
		Kind:                 oracle.EditUpdate,
		Module:               "app",
		DefinitionToken:      1,
		RequiredCapabilities: capability.BaselineEdits,
	}}
	st := pairOracle(semFacts("a.go", oldF, stable), semFacts("a.go", newF, stable), edits)
	a := New(st, nil, nil)

	store := identity.NewConstraintStore()
	store.Put(identity.ReuseConstraint{Identity: identity.CodeIdentity{
		Module:          "app",
		DefinitionToken: 1,
		Version:         1,
		InstructionSpan: text.NewILSpan(0, 50),
	}})

	req := request("v1", "v2")
	req.Constraints = store
	req.ActiveStatements = Resolved([]classify.ActiveStatement{{
		Ordinal:         0,
		Module:          "app",
		DefinitionToken: 2,
		ILOffset:        110,
		OldSpan:         text.Span{Start: 110, End: 112},
	}})
	req.NewActiveSpans = []text.Span{{Start: 110, End: 112}}

	res, err := a.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Kind() != KindChangedOK {
		t.Fatalf("kind = %v, want changed-ok (diags: %+v)", res.Kind(), res.Diagnostics())
	}

	if _, ok := store.Lookup("app", 1, 1, 10); ok {
		t.Fatal("edited definition kept its stale constraint")
	}
	c, ok := store.Lookup("app", 2, 2, 110)
	if !ok {
		t.Fatal("no constraint recorded for the active unedited definition")
	}
	if got, want := c.Identity.InstructionSpan, text.NewILSpan(100, 120); got != want {
		t.Fatalf("constraint span = %v, want %v (narrowed below the inner scope)", got, want)
	}
}

func diagCodes(diags []diag.Diagnostic) map[diag.Code]bool {
	out := make(map[diag.Code]bool, len(diags))
	for _, d := range diags {
		out[d.Code] = true
	}
	return out
}
