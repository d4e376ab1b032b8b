package campaign

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Preset is a named campaign configuration loaded from YAML.
type Preset struct {
	ID        string `yaml:"id"`
	AutoStart bool   `yaml:"auto_start"`
	Config    Config `yaml:",inline"`
}

// PresetFile is the top-level YAML structure.
type PresetFile struct {
	Campaigns []Preset `yaml:"campaigns"`
}

// LoadPresets reads campaign presets from a YAML file. Each preset is filled
// with defaults and validated.
func LoadPresets(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePresets(data)
}

// ParsePresets decodes preset YAML.
func ParsePresets(data []byte) ([]Preset, error) {
	var file PresetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(file.Campaigns))
	for i := range file.Campaigns {
		p := &file.Campaigns[i]
		if p.ID == "" {
			return nil, fmt.Errorf("preset %d: id is required", i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("preset %s: duplicate id", p.ID)
		}
		seen[p.ID] = true
		p.Config = p.Config.WithDefaults()
		if err := p.Config.Validate(); err != nil {
			return nil, fmt.Errorf("preset %s: %w", p.ID, err)
		}
	}
	return file.Campaigns, nil
}
