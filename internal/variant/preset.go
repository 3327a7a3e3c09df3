package variant

import (
	"fmt"

	"github.com/filevault/filevault/internal/config"
)

// FitMode controls how a source image fills the preset's box.
type FitMode string

const (
	// FitCover scales to fill the box and crops the overflow.
	FitCover FitMode = "cover"
	// FitContain scales to fit entirely inside the box.
	FitContain FitMode = "contain"
)

// Preset is a named width/height/fit configuration for derived images.
// Its ID doubles as the key suffix of cached variants.
type Preset struct {
	ID     string
	Width  int
	Height int
	Fit    FitMode
}

// PresetsFromConfig converts configured presets into the runtime set,
// keyed by ID.
func PresetsFromConfig(cfgs []config.PresetConfig) (map[string]Preset, error) {
	presets := make(map[string]Preset, len(cfgs))
	for _, c := range cfgs {
		fit := FitMode(c.Fit)
		if fit != FitCover && fit != FitContain {
			return nil, fmt.Errorf("preset %q: unknown fit mode %q", c.ID, c.Fit)
		}
		presets[c.ID] = Preset{
			ID:     c.ID,
			Width:  c.Width,
			Height: c.Height,
			Fit:    fit,
		}
	}
	return presets, nil
}

// Key returns the storage key of the cached variant for keyBase under
// p. Variants are always PNG regardless of source format.
func (p Preset) Key(keyBase string) string {
	return keyBase + "." + p.ID + ".png"
}
