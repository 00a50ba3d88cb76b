package classify

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"hotpatch/internal/diag"
	"hotpatch/internal/errors"
)

// Policy maps classification reason codes to severities. The rude-edit
// taxonomy evolves with the host runtime, so the blocking/warning split
// is data, not code.
type Policy map[diag.Code]diag.Severity

// DefaultPolicy returns the built-in severity table.
func DefaultPolicy() Policy {
	return Policy{
		diag.CodeSyntaxError:           diag.SevBlocking,
		diag.CodeSignatureChangeActive: diag.SevBlocking,
		diag.CodeScopeStructureChange:  diag.SevBlocking,
		diag.CodeGenericArityChange:    diag.SevBlocking,
		diag.CodeCapabilityAttribute:   diag.SevBlocking,
		diag.CodeProjectSettingChange:  diag.SevBlocking,
		diag.CodeMemberDeleted:         diag.SevWarning,
		diag.CodeCapabilityUnsupported: diag.SevBlocking,
		diag.CodeOracleInternal:        diag.SevBlocking,
	}
}

// SeverityOf returns the policy severity for code, defaulting to
// blocking for codes absent from the table: an unknown rude-edit kind
// must never slip through as a warning.
func (p Policy) SeverityOf(code diag.Code) diag.Severity {
	if sev, ok := p[code]; ok {
		return sev
	}
	return diag.SevBlocking
}

var severityNames = map[string]diag.Severity{
	"info":     diag.SevInfo,
	"warning":  diag.SevWarning,
	"blocking": diag.SevBlocking,
}

// LoadPolicy reads severity overrides from a YAML file and applies them
// on top of the defaults:
//
//	MEMBER_DELETED: blocking
//	GENERIC_ARITY_CHANGE: warning
//
// Unknown codes and unknown severities are rejected.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PolicyInvalid, fmt.Sprintf("reading policy %s", path), err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses severity overrides from YAML bytes.
func ParsePolicy(data []byte) (Policy, error) {
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.New(errors.PolicyInvalid, "parsing policy", err)
	}

	policy := DefaultPolicy()
	for codeName, sevName := range raw {
		code := diag.Code(codeName)
		if _, known := policy[code]; !known {
			return nil, errors.Newf(errors.PolicyInvalid, "unknown reason code %q", codeName)
		}
		sev, ok := severityNames[sevName]
		if !ok {
			return nil, errors.Newf(errors.PolicyInvalid, "unknown severity %q for %s", sevName, codeName)
		}
		policy[code] = sev
	}
	return policy, nil
}
