package agents

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Agents []Profile `yaml:"agents"`
}

// LoadSeedFile reads profiles from a YAML document of the form:
//
//	agents:
//	  - id: front-desk
//	    organization_id: org-1
//	    phone_number: "+15550100000"
//	    active: true
func LoadSeedFile(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agents: read seed file: %w", err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) ([]Profile, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("agents: parse seed: %w", err)
	}
	for i, p := range f.Agents {
		if err := validate(p); err != nil {
			return nil, fmt.Errorf("agents: seed entry %d: %w", i, err)
		}
	}
	return f.Agents, nil
}

// Seed loads path into r.
func (r *MemoryRepo) Seed(path string) (int, error) {
	ps, err := LoadSeedFile(path)
	if err != nil {
		return 0, err
	}
	for _, p := range ps {
		if err := r.Put(p); err != nil {
			return 0, fmt.Errorf("agents: seed %s: %w", p.ID, err)
		}
	}
	return len(ps), nil
}
