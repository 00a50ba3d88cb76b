// Package diag defines classification diagnostics: the reason codes,
// severities, and locations attached to edits the classifier found
// noteworthy or disallowed.
package diag

import (
	"fmt"
	"sort"

	"hotpatch/internal/text"
)

// Severity defines how a diagnostic affects further analysis.
type Severity uint8

const (
	// SevInfo diagnostics are reported and never affect analysis
	SevInfo Severity = iota
	// SevWarning diagnostics are reported but analysis continues
	SevWarning
	// SevBlocking diagnostics halt semantic-edit computation for the unit
	SevBlocking
)

func (s Severity) String() string {
	switch s {
	case SevInfo:
		return "info"
	case SevWarning:
		return "warning"
	case SevBlocking:
		return "blocking"
	}
	return "unknown"
}

// Code is a stable reason code for a classification diagnostic.
type Code string

const (
	// CodeSyntaxError marks the first parse error in a unit
	CodeSyntaxError Code = "SYNTAX_ERROR"
	// CodeSignatureChangeActive marks a signature edit on a member with live frames
	CodeSignatureChangeActive Code = "SIGNATURE_CHANGE_ACTIVE"
	// CodeScopeStructureChange marks a change to scopes an active statement runs inside
	CodeScopeStructureChange Code = "SCOPE_STRUCTURE_CHANGE"
	// CodeGenericArityChange marks a change to a member's generic arity
	CodeGenericArityChange Code = "GENERIC_ARITY_CHANGE"
	// CodeCapabilityAttribute marks an attribute edit that alters capability requirements
	CodeCapabilityAttribute Code = "CAPABILITY_ATTRIBUTE_CHANGE"
	// CodeProjectSettingChange marks a rude project-level setting change
	CodeProjectSettingChange Code = "PROJECT_SETTING_CHANGE"
	// CodeMemberDeleted marks deletion of a declared member
	CodeMemberDeleted Code = "MEMBER_DELETED"
	// CodeCapabilityUnsupported marks an edit whose capability the host lacks
	CodeCapabilityUnsupported Code = "CAPABILITY_UNSUPPORTED"
	// CodeOracleInternal is the synthetic diagnostic for an oracle fault
	CodeOracleInternal Code = "ORACLE_INTERNAL"
)

// Diagnostic is one classification finding.
type Diagnostic struct {
	Code     Code          `json:"code"`
	Severity Severity      `json:"severity"`
	Message  string        `json:"message"`
	Location text.Location `json:"location"`
	Span     text.Span     `json:"span"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s %s at %s: %s", d.Severity, d.Code, d.Location, d.Message)
}

// AnyBlocking reports whether at least one diagnostic is blocking.
func AnyBlocking(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SevBlocking {
			return true
		}
	}
	return false
}

// Sort orders diagnostics by location (path, then span start), blocking
// first within a location, for stable output.
func Sort(diags []Diagnostic) {
	sort.SliceStable(diags, func(i, j int) bool {
		a, b := diags[i], diags[j]
		if a.Location.Path != b.Location.Path {
			return a.Location.Path < b.Location.Path
		}
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		return a.Severity > b.Severity
	})
}
