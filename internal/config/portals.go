package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PortalEntry describes one portal in the YAML inventory, with the known
// candidate MACs to audit and optionally how many fresh ones to generate.
type PortalEntry struct {
	Name     string   `yaml:"name"`
	URL      string   `yaml:"url"`
	Timezone string   `yaml:"timezone"`
	MACs     []string `yaml:"macs"`
	Generate int      `yaml:"generate"`
}

type portalsFile struct {
	Portals []PortalEntry `yaml:"portals"`
}

// LoadPortals reads the portal inventory at path.
func LoadPortals(path string) ([]PortalEntry, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var f portalsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse portals file %s: %w", path, err)
	}
	for i, p := range f.Portals {
		if p.URL == "" {
			return nil, fmt.Errorf("portals file %s: entry %d has no url", path, i)
		}
	}
	return f.Portals, nil
}
