package oracle

import (
	"context"
	"sync/atomic"

	"hotpatch/internal/identity"
)

// Stub is an Oracle for tests: every role is a hook, every call is
// counted. The zero hooks produce empty facts and no edits.
type Stub struct {
	ParseFn func(ctx context.Context, snap Snapshot) (*SyntaxFacts, error)
	BindFn  func(ctx context.Context, facts *SyntaxFacts) (*SemanticFacts, error)
	EditsFn func(ctx context.Context, old, new *SemanticFacts) ([]SemanticEdit, error)

	Module identity.ModuleID

	parseCalls atomic.Int64
	bindCalls  atomic.Int64
	editCalls  atomic.Int64
}

// Parse implements Parser.
func (s *Stub) Parse(ctx context.Context, snap Snapshot) (*SyntaxFacts, error) {
	s.parseCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.ParseFn != nil {
		return s.ParseFn(ctx, snap)
	}
	return &SyntaxFacts{Snapshot: snap, Settings: map[string]string{}}, nil
}

// Bind implements Binder.
func (s *Stub) Bind(ctx context.Context, facts *SyntaxFacts) (*SemanticFacts, error) {
	s.bindCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.BindFn != nil {
		return s.BindFn(ctx, facts)
	}
	module := s.Module
	if module == "" {
		module = "stub"
	}
	out := &SemanticFacts{Module: module, Path: facts.Snapshot.Path}
	for _, fn := range facts.Functions {
		out.Units = append(out.Units, BoundUnit{
			FunctionUnit:    fn,
			DefinitionToken: TokenForName(fn.Name),
			SignatureID:     identity.HashContent([]byte(fn.Signature)),
			BodyID:          identity.HashContent(facts.Snapshot.Content[fn.BodySpan.Start:fn.BodySpan.End]),
		})
	}
	return out, nil
}

// ComputeSemanticEdits implements EditComputer.
func (s *Stub) ComputeSemanticEdits(ctx context.Context, old, new *SemanticFacts) ([]SemanticEdit, error) {
	s.editCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.EditsFn != nil {
		return s.EditsFn(ctx, old, new)
	}
	return nil, nil
}

// ParseCalls returns the number of Parse invocations.
func (s *Stub) ParseCalls() int64 { return s.parseCalls.Load() }

// BindCalls returns the number of Bind invocations.
func (s *Stub) BindCalls() int64 { return s.bindCalls.Load() }

// EditCalls returns the number of ComputeSemanticEdits invocations.
func (s *Stub) EditCalls() int64 { return s.editCalls.Load() }

// TotalCalls returns the number of oracle calls of any kind.
func (s *Stub) TotalCalls() int64 {
	return s.ParseCalls() + s.BindCalls() + s.EditCalls()
}
