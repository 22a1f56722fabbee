package config

import (
	"fmt"
	"strconv"
	"strings"
)

// DelaySpan is a humanization delay range in seconds.
type DelaySpan struct {
	Min float64
	Max float64
}

// Preset bundles the tunables for one time-control family. Applying a
// preset is a plain bulk Set+Save; the watcher rebroadcasts it.
type Preset struct {
	Name        string
	Description string
	Depth       int
	Base        DelaySpan
	Moving      DelaySpan
	Thinking    DelaySpan
}

const DefaultPresetName = "rapid"

// Initial-clock ceilings for preset detection, in seconds.
const (
	bulletMaxSeconds = 120
	blitzMaxSeconds  = 300
	rapidMaxSeconds  = 900
)

var presets = map[string]Preset{
	"bullet": {
		Name:        "bullet",
		Description: "≤2 min: shallow search, near-instant replies",
		Depth:       6,
		Base:        DelaySpan{Min: 0.2, Max: 0.6},
		Moving:      DelaySpan{Min: 0.1, Max: 0.4},
		Thinking:    DelaySpan{Min: 0.3, Max: 1.0},
	},
	"blitz": {
		Name:        "blitz",
		Description: "≤5 min: quick but not frantic",
		Depth:       10,
		Base:        DelaySpan{Min: 0.4, Max: 1.2},
		Moving:      DelaySpan{Min: 0.2, Max: 0.8},
		Thinking:    DelaySpan{Min: 0.5, Max: 1.8},
	},
	"rapid": {
		Name:        "rapid",
		Description: "≤15 min: balanced depth and pacing",
		Depth:       14,
		Base:        DelaySpan{Min: 0.8, Max: 2.0},
		Moving:      DelaySpan{Min: 0.3, Max: 1.2},
		Thinking:    DelaySpan{Min: 1.0, Max: 3.0},
	},
	"classical": {
		Name:        "classical",
		Description: "long games: full depth, unhurried delays",
		Depth:       18,
		Base:        DelaySpan{Min: 1.2, Max: 3.0},
		Moving:      DelaySpan{Min: 0.5, Max: 1.8},
		Thinking:    DelaySpan{Min: 1.5, Max: 4.5},
	},
}

// PresetByName resolves a preset, tolerating case and surrounding space.
func PresetByName(name string) (Preset, bool) {
	p, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// PresetNames lists the known presets in detection order.
func PresetNames() []string {
	return []string{"bullet", "blitz", "rapid", "classical"}
}

// DetectPreset picks the preset for a game's initial clock.
func DetectPreset(initialSeconds int) Preset {
	switch {
	case initialSeconds <= 0:
		return presets[DefaultPresetName]
	case initialSeconds <= bulletMaxSeconds:
		return presets["bullet"]
	case initialSeconds <= blitzMaxSeconds:
		return presets["blitz"]
	case initialSeconds <= rapidMaxSeconds:
		return presets["rapid"]
	default:
		return presets["classical"]
	}
}

// Apply writes the preset into the store and persists it.
func (p Preset) Apply(s *Store) error {
	if err := ValidatePreset(p); err != nil {
		return err
	}
	s.Set("engine", "depth", strconv.Itoa(p.Depth))
	s.Set("humanization", "min-delay", formatDelay(p.Base.Min))
	s.Set("humanization", "max-delay", formatDelay(p.Base.Max))
	s.Set("humanization", "moving-min-delay", formatDelay(p.Moving.Min))
	s.Set("humanization", "moving-max-delay", formatDelay(p.Moving.Max))
	s.Set("humanization", "thinking-min-delay", formatDelay(p.Thinking.Min))
	s.Set("humanization", "thinking-max-delay", formatDelay(p.Thinking.Max))
	if err := s.Save(); err != nil {
		return fmt.Errorf("persist preset %s: %w", p.Name, err)
	}
	return nil
}

// ValidatePreset rejects ranges that would break the humanizer or engine.
func ValidatePreset(p Preset) error {
	if p.Depth <= 0 {
		return fmt.Errorf("preset %s: depth must be > 0", p.Name)
	}
	for _, span := range []struct {
		label string
		d     DelaySpan
	}{{"base", p.Base}, {"moving", p.Moving}, {"thinking", p.Thinking}} {
		if span.d.Min < 0 || span.d.Max < span.d.Min {
			return fmt.Errorf("preset %s: bad %s delay range [%v,%v]", p.Name, span.label, span.d.Min, span.d.Max)
		}
	}
	return nil
}

func formatDelay(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
