// Package classifier infers the display placement of an image from the text
// around it (caption, markup, alt text) or, failing that, its filename.
package classifier

import (
	"strings"

	"imagepipe/internal/presets"
)

// Rule binds a preset to the keywords that signal it.
type Rule struct {
	Preset   string
	Keywords []string
}

// DefaultRules is evaluated top to bottom. Visually dominant placements come
// first so that "hero thumbnail strip" resolves to hero, not thumbnail.
var DefaultRules = []Rule{
	{Preset: "hero", Keywords: []string{"hero", "banner", "cover", "background"}},
	{Preset: "large", Keywords: []string{"large", "featured", "gallery"}},
	{Preset: "medium", Keywords: []string{"article", "content", "post"}},
	{Preset: "small", Keywords: []string{"card", "preview", "list", "sidebar"}},
	{Preset: "thumbnail", Keywords: []string{"thumb", "avatar", "profile", "icon"}},
}

// Classifier maps context text to a preset name.
type Classifier struct {
	rules    []Rule
	fallback string
}

// New builds a classifier over rules. Keywords are lowercased once here.
// Rules naming unknown presets are dropped so Classify always returns a
// registry key.
func New(rules []Rule) *Classifier {
	c := &Classifier{fallback: presets.Default}
	for _, r := range rules {
		if !presets.Exists(r.Preset) {
			continue
		}
		kw := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kw = append(kw, k)
			}
		}
		c.rules = append(c.rules, Rule{Preset: r.Preset, Keywords: kw})
	}
	return c
}

var std = New(DefaultRules)

// Classify uses the default rule table.
func Classify(contextHint, filename string) string {
	return std.Classify(contextHint, filename)
}

// Classify returns the preset for contextHint, trying filename when the hint
// has no match and the default preset when neither does.
func (c *Classifier) Classify(contextHint, filename string) string {
	if name, ok := c.match(contextHint); ok {
		return name
	}
	if name, ok := c.match(filename); ok {
		return name
	}
	return c.fallback
}

// Rules returns a copy of the rule table in priority order.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

func (c *Classifier) match(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	text = strings.ToLower(text)
	for _, r := range c.rules {
		for _, k := range r.Keywords {
			if strings.Contains(text, k) {
				return r.Preset, true
			}
		}
	}
	return "", false
}
