package presets

import (
	"errors"
	"fmt"
)

// ErrPresetNotFound is returned when a caller asks for a preset name that is
// not in the registry.
var ErrPresetNotFound = errors.New("preset not found")

// Default is the preset used when nothing in the context points elsewhere.
const Default = "medium"

// Thumbnail is stored alongside every locally generated derivative set.
const Thumbnail = "thumbnail"

// SizePreset describes one display placement: the exact output box and the
// quality used for each encoded format.
type SizePreset struct {
	Name             string `json:"name" yaml:"name"`
	Width            int    `json:"width" yaml:"width"`
	Height           int    `json:"height" yaml:"height"`
	PrimaryQuality   int    `json:"primary_quality" yaml:"primary_quality"`
	SecondaryQuality int    `json:"secondary_quality" yaml:"secondary_quality"`
}

// table is never mutated after package init. Accessors hand out copies.
var table = [...]SizePreset{
	{Name: "thumbnail", Width: 150, Height: 150, PrimaryQuality: 80, SecondaryQuality: 70},
	{Name: "small", Width: 400, Height: 300, PrimaryQuality: 82, SecondaryQuality: 72},
	{Name: "medium", Width: 800, Height: 600, PrimaryQuality: 85, SecondaryQuality: 75},
	{Name: "large", Width: 1200, Height: 800, PrimaryQuality: 85, SecondaryQuality: 78},
	{Name: "hero", Width: 1920, Height: 1080, PrimaryQuality: 88, SecondaryQuality: 80},
	{Name: "mobile_hero", Width: 768, Height: 1024, PrimaryQuality: 85, SecondaryQuality: 75},
	{Name: "ultra", Width: 2560, Height: 1440, PrimaryQuality: 90, SecondaryQuality: 82},
}

var index = func() map[string]int {
	m := make(map[string]int, len(table))
	for i, p := range table {
		m[p.Name] = i
	}
	return m
}()

// Get returns the preset registered under name.
func Get(name string) (SizePreset, error) {
	i, ok := index[name]
	if !ok {
		return SizePreset{}, fmt.Errorf("%w: %q", ErrPresetNotFound, name)
	}
	return table[i], nil
}

// MustGet is Get for names known at compile time.
func MustGet(name string) SizePreset {
	p, err := Get(name)
	if err != nil {
		panic(err)
	}
	return p
}

// Exists reports whether name is a registered preset.
func Exists(name string) bool {
	_, ok := index[name]
	return ok
}

// List returns every preset in registration order.
func List() []SizePreset {
	out := make([]SizePreset, len(table))
	copy(out, table[:])
	return out
}

// Names returns the registered preset names in registration order.
func Names() []string {
	names := make([]string, len(table))
	for i, p := range table {
		names[i] = p.Name
	}
	return names
}

// Validate checks a single preset against the registry invariants.
func (p SizePreset) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("preset name is required")
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("preset %s: dimensions must be positive, got %dx%d", p.Name, p.Width, p.Height)
	}
	if p.PrimaryQuality < 1 || p.PrimaryQuality > 100 {
		return fmt.Errorf("preset %s: primary quality %d out of range [1,100]", p.Name, p.PrimaryQuality)
	}
	if p.SecondaryQuality < 1 || p.SecondaryQuality > 100 {
		return fmt.Errorf("preset %s: secondary quality %d out of range [1,100]", p.Name, p.SecondaryQuality)
	}
	if p.SecondaryQuality > p.PrimaryQuality {
		return fmt.Errorf("preset %s: secondary quality %d above primary %d", p.Name, p.SecondaryQuality, p.PrimaryQuality)
	}
	return nil
}

// Validate checks the whole registry, including name uniqueness.
func Validate() error {
	seen := make(map[string]bool, len(table))
	for _, p := range table {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate preset name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
