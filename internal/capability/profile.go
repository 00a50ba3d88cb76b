package capability

import (
	"context"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"hotpatch/internal/errors"
)

// Provider yields the capability set the hosting runtime supports. It is
// queried lazily, at most once per session.
type Provider interface {
	SupportedCapabilities(ctx context.Context) (Set, error)
}

// StaticProvider returns a fixed capability set.
type StaticProvider Set

// SupportedCapabilities implements Provider.
func (p StaticProvider) SupportedCapabilities(ctx context.Context) (Set, error) {
	return Set(p), nil
}

// profileFile mirrors the on-disk TOML profile:
//
//	name = "coreclr-9"
//	[capabilities]
//	baselineEdits = true
//	addMethod = true
type profileFile struct {
	Name         string          `toml:"name"`
	Capabilities map[string]bool `toml:"capabilities"`
}

// Profile is a named capability set loaded from a TOML file.
type Profile struct {
	Name string
	Set  Set
}

// LoadProfile reads a runtime capability profile. Unknown capability
// names are rejected so typos do not silently widen or narrow the set.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.ProfileInvalid, fmt.Sprintf("reading profile %s", path), err)
	}

	var file profileFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, errors.New(errors.ProfileInvalid, fmt.Sprintf("parsing profile %s", path), err)
	}

	var set Set
	for name, enabled := range file.Capabilities {
		flag, ok := Parse(name)
		if !ok {
			return nil, errors.Newf(errors.ProfileInvalid, "profile %s: unknown capability %q", path, name)
		}
		if enabled {
			set |= flag
		}
	}

	name := file.Name
	if name == "" {
		name = path
	}
	return &Profile{Name: name, Set: set}, nil
}

// SupportedCapabilities implements Provider.
func (p *Profile) SupportedCapabilities(ctx context.Context) (Set, error) {
	return p.Set, nil
}
