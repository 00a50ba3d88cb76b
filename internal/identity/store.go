package identity

import "hotpatch/internal/text"

// ConstraintStore holds the reuse constraints for cached per-method
// analyses. It is owned by the execution queue: all access happens inside
// a serialized queue turn, so the store takes no locks of its own.
type ConstraintStore struct {
	constraints map[constraintKey]ReuseConstraint
}

type constraintKey struct {
	module ModuleID
	token  int
}

// NewConstraintStore creates an empty store.
func NewConstraintStore() *ConstraintStore {
	return &ConstraintStore{constraints: make(map[constraintKey]ReuseConstraint)}
}

// Put records the constraint for its (module, token) pair, replacing any
// previous revision.
func (s *ConstraintStore) Put(c ReuseConstraint) {
	c.Identity.mustValidate()
	s.constraints[constraintKey{c.Identity.Module, c.Identity.DefinitionToken}] = c
}

// Lookup reports whether a cached analysis for (module, token) is still
// valid at (version, offset).
func (s *ConstraintStore) Lookup(module ModuleID, token, version, offset int) (ReuseConstraint, bool) {
	c, ok := s.constraints[constraintKey{module, token}]
	if !ok {
		return ReuseConstraint{}, false
	}
	if !c.SatisfiedBy(module, token, version, offset) {
		return ReuseConstraint{}, false
	}
	return c, true
}

// Invalidate drops the constraint for (module, token) if present.
func (s *ConstraintStore) Invalidate(module ModuleID, token int) {
	delete(s.constraints, constraintKey{module, token})
}

// InvalidateModule drops every constraint belonging to module.
func (s *ConstraintStore) InvalidateModule(module ModuleID) {
	for k := range s.constraints {
		if k.module == module {
			delete(s.constraints, k)
		}
	}
}

// Len returns the number of stored constraints.
func (s *ConstraintStore) Len() int {
	return len(s.constraints)
}

// Snapshot returns a copy of the store's contents. Used by tests to
// verify a cancelled request left no residue.
func (s *ConstraintStore) Snapshot() map[ModuleID][]ReuseConstraint {
	out := make(map[ModuleID][]ReuseConstraint)
	for k, c := range s.constraints {
		out[k.module] = append(out[k.module], c)
	}
	return out
}

// Narrowed stores a constraint whose span has been narrowed around
// queryOffset by the given scopes, and returns it.
func (s *ConstraintStore) Narrowed(id CodeIdentity, queryOffset int, scopes []text.ILSpan) ReuseConstraint {
	id.mustValidate()
	span := ComputeReuseSpan(queryOffset, id.InstructionSpan, scopes)
	c := ReuseConstraint{Identity: CodeIdentity{
		Module:          id.Module,
		DefinitionToken: id.DefinitionToken,
		Version:         id.Version,
		InstructionSpan: span,
	}}
	s.Put(c)
	return c
}
