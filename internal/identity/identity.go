// Package identity defines the keys under which per-method analysis
// results are cached and the constraints that decide when a cached result
// may be reused at a new query point.
package identity

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"hotpatch/internal/text"
)

// ModuleID is the opaque identity of a compiled unit.
type ModuleID string

// CodeIdentity identifies a specific compiled revision of a method body.
// Instances are immutable and compared by value.
type CodeIdentity struct {
	Module          ModuleID
	DefinitionToken int
	Version         int
	InstructionSpan text.ILSpan
}

// NewCodeIdentity constructs a validated CodeIdentity. Violations are
// caller bugs and panic rather than returning an error.
func NewCodeIdentity(module ModuleID, token, version int, span text.ILSpan) CodeIdentity {
	id := CodeIdentity{
		Module:          module,
		DefinitionToken: token,
		Version:         version,
		InstructionSpan: span,
	}
	id.mustValidate()
	return id
}

func (id CodeIdentity) mustValidate() {
	if id.Module == "" {
		panic("identity: empty module id")
	}
	if id.DefinitionToken < 0 {
		panic(fmt.Sprintf("identity: negative definition token %d", id.DefinitionToken))
	}
	if id.Version < 1 {
		panic(fmt.Sprintf("identity: version %d below 1", id.Version))
	}
	if id.InstructionSpan.End < id.InstructionSpan.Start {
		panic(fmt.Sprintf("identity: reversed instruction span %s", id.InstructionSpan))
	}
}

func (id CodeIdentity) String() string {
	return fmt.Sprintf("%s#%d v%d %s", id.Module, id.DefinitionToken, id.Version, id.InstructionSpan)
}

// ReuseConstraint wraps a CodeIdentity and answers whether a cached
// analysis keyed by it is still valid for a query point.
type ReuseConstraint struct {
	Identity CodeIdentity
}

// SatisfiedBy reports whether the constraint holds for the query
// (module, token, version, offset): all identity fields match exactly and
// the offset falls inside the constraint's instruction span. A negative
// offset is a contract violation and panics.
func (c ReuseConstraint) SatisfiedBy(module ModuleID, token, version, offset int) bool {
	if offset < 0 {
		panic(fmt.Sprintf("identity: negative query offset %d", offset))
	}
	return c.Identity.Module == module &&
		c.Identity.DefinitionToken == token &&
		c.Identity.Version == version &&
		c.Identity.InstructionSpan.Contains(offset)
}

// ComputeReuseSpan narrows initial to the maximal span around queryOffset
// that crosses no scope boundary: for each scope, an offset strictly
// before the scope clamps the upper bound to the scope start, an offset
// at or past the scope end clamps the lower bound to the scope end, and
// an offset inside the scope clamps both bounds to the scope. The result
// is the intersection of all per-scope narrowings, so iteration order
// does not matter.
func ComputeReuseSpan(queryOffset int, initial text.ILSpan, scopes []text.ILSpan) text.ILSpan {
	if queryOffset < 0 {
		panic(fmt.Sprintf("identity: negative query offset %d", queryOffset))
	}

	span := initial
	for _, scope := range scopes {
		switch {
		case queryOffset < scope.Start:
			if scope.Start < span.End {
				span.End = scope.Start
			}
		case queryOffset >= scope.End:
			if scope.End > span.Start {
				span.Start = scope.End
			}
		default:
			span = span.Intersect(scope)
		}
	}
	if span.End < span.Start {
		span.End = span.Start
	}
	return span
}

// HashContent returns the hex-encoded BLAKE2b-256 digest of a snapshot's
// content, used for the unchanged fast path and store keys.
func HashContent(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])
}
