// Package capability models the feature set a hosting runtime must
// support for semantic edits to be appliable.
package capability

import (
	"sort"
	"strings"
)

// Set is a flag set of runtime capabilities.
type Set uint32

const (
	// None is the empty capability set
	None Set = 0

	// BaselineEdits allows editing existing method bodies
	BaselineEdits Set = 1 << iota
	// AddMethod allows adding new methods to existing types
	AddMethod
	// AddType allows adding new top-level types
	AddType
	// AddStaticField allows adding static fields
	AddStaticField
	// AddInstanceField allows adding instance fields
	AddInstanceField
	// ChangeSignature allows changing signatures of members without live frames
	ChangeSignature
	// GenericEdits allows editing generic members
	GenericEdits
	// EditActiveCode allows editing methods that have live activation frames
	EditActiveCode
)

var capabilityNames = map[Set]string{
	BaselineEdits:    "baselineEdits",
	AddMethod:        "addMethod",
	AddType:          "addType",
	AddStaticField:   "addStaticField",
	AddInstanceField: "addInstanceField",
	ChangeSignature:  "changeSignature",
	GenericEdits:     "genericEdits",
	EditActiveCode:   "editActiveCode",
}

// All returns every known capability.
func All() Set {
	var all Set
	for c := range capabilityNames {
		all |= c
	}
	return all
}

// Has reports whether s contains every capability in required.
func (s Set) Has(required Set) bool {
	return s&required == required
}

// Missing returns the capabilities in required that s lacks.
func (s Set) Missing(required Set) Set {
	return required &^ s
}

func (s Set) String() string {
	if s == None {
		return "none"
	}
	var names []string
	for c, name := range capabilityNames {
		if s&c != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// Parse converts a capability name to its flag. The second result is
// false for unknown names.
func Parse(name string) (Set, bool) {
	for c, n := range capabilityNames {
		if n == name {
			return c, true
		}
	}
	return None, false
}
