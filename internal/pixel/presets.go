package pixel

import (
	"fmt"
	"strings"
)

// Preset is a named window/level setting for a modality.
// Center and Width are in modality units (Hounsfield for CT), so a
// preset policy should be combined with the image's rescale via WithRescale.
type Preset struct {
	Modality string
	Name     string
	Center   float64
	Width    float64
}

// Policy returns the window policy for the preset.
func (p Preset) Policy() Policy {
	return Window(p.Center, p.Width)
}

var presets = []Preset{
	{Modality: "CT", Name: "BRAIN", Center: 40, Width: 80},
	{Modality: "CT", Name: "SUBDURAL", Center: 75, Width: 215},
	{Modality: "CT", Name: "BONE", Center: 400, Width: 2000},
	{Modality: "CT", Name: "LUNG", Center: -600, Width: 1500},
	{Modality: "CT", Name: "MEDIASTINUM", Center: 40, Width: 400},
	{Modality: "CT", Name: "ABDOMEN", Center: 40, Width: 350},
	{Modality: "CT", Name: "LIVER", Center: 60, Width: 150},
	{Modality: "MR", Name: "DEFAULT", Center: 500, Width: 1000},
	{Modality: "MR", Name: "BRIGHT", Center: 300, Width: 600},
	{Modality: "MR", Name: "CONTRAST", Center: 600, Width: 1200},
}

// Presets returns the presets for a modality, or all presets if modality is empty.
func Presets(modality string) []Preset {
	var out []Preset
	for _, p := range presets {
		if modality == "" || strings.EqualFold(p.Modality, modality) {
			out = append(out, p)
		}
	}
	return out
}

// FindPreset looks up a preset by name (case-insensitive). An empty modality
// searches every modality and returns the first match.
func FindPreset(modality, name string) (Preset, error) {
	for _, p := range Presets(modality) {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	var names []string
	for _, p := range Presets(modality) {
		names = append(names, p.Name)
	}
	return Preset{}, fmt.Errorf("unknown window preset %q (valid: %s)", name, strings.Join(names, ", "))
}
