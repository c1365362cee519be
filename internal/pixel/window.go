package pixel

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrUnknownPolicy is returned when a Policy has no valid mode.
var ErrUnknownPolicy = errors.New("pixel: unknown window policy")

// Mode selects how samples are mapped to display intensities.
type Mode int

const (
	// ModeFixedRange assumes the full 16-bit range regardless of the data.
	ModeFixedRange Mode = iota + 1
	// ModeAutoWindow stretches the observed min..max to 0..255.
	ModeAutoWindow
	// ModeWindow applies an explicit center/width window (DICOM linear VOI).
	ModeWindow
)

// String returns the flag form of the mode.
func (m Mode) String() string {
	switch m {
	case ModeFixedRange:
		return "fixed"
	case ModeAutoWindow:
		return "auto"
	case ModeWindow:
		return "window"
	default:
		return "unknown"
	}
}

// Policy is the window/level policy applied by Normalize.
// The zero value is invalid so callers always choose a policy explicitly.
type Policy struct {
	Mode Mode

	// Only used by ModeWindow.
	Center    float64
	Width     float64
	Slope     float64 // 0 is treated as 1
	Intercept float64
}

// FixedRange returns the full 16-bit range policy.
func FixedRange() Policy { return Policy{Mode: ModeFixedRange} }

// AutoWindow returns the min/max auto-window policy.
func AutoWindow() Policy { return Policy{Mode: ModeAutoWindow} }

// Window returns an explicit window policy on stored values.
func Window(center, width float64) Policy {
	return Policy{Mode: ModeWindow, Center: center, Width: width, Slope: 1}
}

// WithRescale returns a copy of p that applies slope/intercept before windowing.
func (p Policy) WithRescale(slope, intercept float64) Policy {
	p.Slope = slope
	p.Intercept = intercept
	return p
}

// String returns the form accepted by ParsePolicy.
func (p Policy) String() string {
	if p.Mode == ModeWindow {
		return fmt.Sprintf("%g/%g", p.Center, p.Width)
	}
	return p.Mode.String()
}

// ParsePolicy parses "auto", "fixed", "CENTER/WIDTH" or "preset:NAME".
// Preset names are looked up across all modalities.
func ParsePolicy(s string) (Policy, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "auto", "":
		return AutoWindow(), nil
	case "fixed":
		return FixedRange(), nil
	}

	if name, ok := strings.CutPrefix(strings.ToLower(s), "preset:"); ok {
		preset, err := FindPreset("", name)
		if err != nil {
			return Policy{}, err
		}
		return preset.Policy(), nil
	}

	center, width, ok := strings.Cut(s, "/")
	if !ok {
		return Policy{}, fmt.Errorf("invalid window policy %q (valid: auto, fixed, CENTER/WIDTH, preset:NAME)", s)
	}
	c, err := strconv.ParseFloat(strings.TrimSpace(center), 64)
	if err != nil {
		return Policy{}, fmt.Errorf("invalid window center %q: %w", center, err)
	}
	w, err := strconv.ParseFloat(strings.TrimSpace(width), 64)
	if err != nil {
		return Policy{}, fmt.Errorf("invalid window width %q: %w", width, err)
	}
	if w <= 0 {
		return Policy{}, fmt.Errorf("window width must be > 0, got %g", w)
	}
	return Window(c, w), nil
}

// Normalize maps every sample to an 8-bit intensity using the given policy.
// The output has the same length as samples and is monotonic non-decreasing
// in sample value, except for a Window policy with a negative rescale slope,
// where it is non-increasing.
func Normalize(samples []uint16, p Policy) ([]uint8, error) {
	out := make([]uint8, len(samples))

	switch p.Mode {
	case ModeFixedRange:
		for i, s := range samples {
			out[i] = clamp8(math.Round(float64(s) / 65535 * 255))
		}

	case ModeAutoWindow:
		if len(samples) == 0 {
			return out, nil
		}
		lo, hi := minMax(samples)
		valueRange := float64(hi) - float64(lo)
		if valueRange == 0 {
			// Flat image: anything non-zero is fully on.
			for i, s := range samples {
				if s > 0 {
					out[i] = 255
				}
			}
			return out, nil
		}
		for i, s := range samples {
			out[i] = clamp8(math.Round((float64(s) - float64(lo)) / valueRange * 255))
		}

	case ModeWindow:
		slope := p.Slope
		if slope == 0 {
			slope = 1
		}
		for i, s := range samples {
			out[i] = linearVOI(float64(s)*slope+p.Intercept, p.Center, p.Width)
		}

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownPolicy, p.Mode)
	}

	return out, nil
}

// linearVOI implements the DICOM linear VOI LUT function.
// Widths of 1 or less degrade to a threshold at center.
func linearVOI(x, center, width float64) uint8 {
	if width <= 1 {
		if x >= center {
			return 255
		}
		return 0
	}
	lower := center - 0.5 - (width-1)/2
	upper := center - 0.5 + (width-1)/2
	switch {
	case x <= lower:
		return 0
	case x > upper:
		return 255
	}
	return clamp8(math.Round(((x-(center-0.5))/(width-1) + 0.5) * 255))
}

func minMax(samples []uint16) (lo, hi uint16) {
	lo, hi = samples[0], samples[0]
	for _, s := range samples[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	return lo, hi
}

func clamp8(v float64) uint8 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
