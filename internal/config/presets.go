package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Preset is a named set of burn parameters for one material.
type Preset struct {
	Name        string     `yaml:"name" json:"name"`
	Material    string     `yaml:"material" json:"material"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Burn        BurnConfig `yaml:"burn" json:"burn"`
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// Presets is a catalog of burn presets keyed by name.
type Presets struct {
	byName map[string]Preset
}

// LoadPresets reads a preset catalog. A missing path yields an empty catalog.
func LoadPresets(path string) (*Presets, error) {
	p := &Presets{byName: make(map[string]Preset)}
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets: %w", err)
	}
	return ParsePresets(data)
}

func ParsePresets(data []byte) (*Presets, error) {
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse presets: %w", err)
	}

	p := &Presets{byName: make(map[string]Preset, len(file.Presets))}
	for _, preset := range file.Presets {
		if preset.Name == "" {
			return nil, fmt.Errorf("preset without name")
		}
		if _, exists := p.byName[preset.Name]; exists {
			return nil, fmt.Errorf("duplicate preset %q", preset.Name)
		}
		if err := preset.Burn.Validate(); err != nil {
			return nil, fmt.Errorf("preset %q: %w", preset.Name, err)
		}
		p.byName[preset.Name] = preset
	}
	return p, nil
}

func (p *Presets) Get(name string) (Preset, bool) {
	preset, ok := p.byName[name]
	return preset, ok
}

// List returns all presets sorted by name.
func (p *Presets) List() []Preset {
	out := make([]Preset, 0, len(p.byName))
	for _, preset := range p.byName {
		out = append(out, preset)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
