// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package thresholds

import (
	_ "embed"
	"fmt"
	"maps"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var embeddedProfiles []byte

// AnyStage keys the entry of a plant that applies to all its stages.
const AnyStage = "any"

type profileFile struct {
	Defaults map[string]float64                       `yaml:"defaults"`
	Plants   map[string]map[string]map[string]float64 `yaml:"plants"`
}

// Profiles is the plant type x growth stage target table.
type Profiles struct {
	defaults EnvironmentalThresholds
	plants   map[string]map[string]map[string]float64
}

// LoadProfiles parses a profile table. A nil or empty doc loads the
// built-in table.
func LoadProfiles(doc []byte) (*Profiles, error) {
	if len(doc) == 0 {
		doc = embeddedProfiles
	}
	var f profileFile
	if err := yaml.Unmarshal(doc, &f); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}

	defaults, err := EnvironmentalThresholds{}.Merge(toRecord(f.Defaults))
	if err != nil {
		return nil, fmt.Errorf("profile defaults: %w", err)
	}

	p := &Profiles{defaults: defaults, plants: map[string]map[string]map[string]float64{}}
	for plant, stages := range f.Plants {
		norm := map[string]map[string]float64{}
		for stage, values := range stages {
			norm[normalize(stage)] = values
		}
		p.plants[normalize(plant)] = norm
	}

	// reject entries that would produce invalid thresholds at lookup time
	for plant, stages := range p.plants {
		for stage := range stages {
			if _, err := p.Lookup(plant, stage); err != nil {
				return nil, fmt.Errorf("profile %s/%s: %w", plant, stage, err)
			}
		}
	}
	return p, nil
}

// MustDefaultProfiles loads the embedded table and panics if it is broken.
func MustDefaultProfiles() *Profiles {
	p, err := LoadProfiles(nil)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Profiles) Defaults() EnvironmentalThresholds { return p.defaults }

// Lookup resolves plant/stage: global defaults, overlaid by the plant's
// "any" entry, overlaid by the stage entry. Unknown plants or stages fall
// back to the next layer down.
func (p *Profiles) Lookup(plant, stage string) (EnvironmentalThresholds, error) {
	t := p.defaults
	stages, ok := p.plants[normalize(plant)]
	if !ok {
		return t, nil
	}

	var err error
	if base, ok := stages[AnyStage]; ok {
		if t, err = t.Merge(toRecord(base)); err != nil {
			return p.defaults, err
		}
	}
	if s := normalize(stage); s != AnyStage {
		if values, ok := stages[s]; ok {
			if t, err = t.Merge(toRecord(values)); err != nil {
				return p.defaults, err
			}
		}
	}
	return t, nil
}

func (p *Profiles) PlantTypes() []string {
	return slices.Sorted(maps.Keys(p.plants))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func toRecord(values map[string]float64) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
