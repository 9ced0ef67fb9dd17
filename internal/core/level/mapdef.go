package level

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/qcserver/internal/core/physics"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

// MapDef is everything a level needs besides the program: collision
// brushes standing in for BSP geometry, the bounds of brush models and
// the entity placement text.
type MapDef struct {
	Name    string                 `yaml:"name"`
	Brushes []physics.Brush        `yaml:"brushes"`
	Models  map[string]ModelBounds `yaml:"models"`
	// Entities is placement text in the { "key" "value" } block format.
	Entities string `yaml:"entities"`
}

type ModelBounds struct {
	Mins vmath.Vec3 `yaml:"mins"`
	Maxs vmath.Vec3 `yaml:"maxs"`
}

// LoadMapFile reads a YAML map definition. A missing name defaults to the
// file's base name.
func LoadMapFile(path string) (*MapDef, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read map: %w", err)
	}
	var def MapDef
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadMap, path, err)
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &def, nil
}

func (d *MapDef) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: empty name", ErrBadMap)
	}
	for i, b := range d.Brushes {
		for axis := 0; axis < 3; axis++ {
			if b.Mins[axis] > b.Maxs[axis] {
				return fmt.Errorf("%w: brush %d has backwards bounds", ErrBadMap, i)
			}
		}
	}
	return nil
}
