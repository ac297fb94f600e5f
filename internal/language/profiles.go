package language

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// profilesFile is the on-disk schema for profile overrides.
type profilesFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadRegistry builds a registry from the built-in profiles, optionally
// overridden or extended by a YAML file. Overrides are applied once at
// startup; the resulting registry is immutable.
func LoadRegistry(path string) (*Registry, error) {
	profiles := builtinProfiles()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read profiles file: %w", err)
		}

		var file profilesFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse profiles file: %w", err)
		}

		for _, p := range file.Profiles {
			if err := validateProfile(p); err != nil {
				return nil, fmt.Errorf("profile %q: %w", p.ID, err)
			}
			profiles[p.ID] = p
		}
	}

	return &Registry{profiles: profiles}, nil
}

func validateProfile(p Profile) error {
	if p.ID == "" {
		return fmt.Errorf("missing id")
	}
	if p.Image == "" {
		return fmt.Errorf("missing image")
	}
	if len(p.RunCommand) == 0 {
		return fmt.Errorf("missing run_command")
	}
	if p.SourceFileName == "" && p.FallbackFileName == "" {
		return fmt.Errorf("missing source_file_name")
	}
	return nil
}
