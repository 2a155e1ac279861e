package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"imagepipe/internal/presets"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		hint     string
		filename string
		want     string
	}{
		{"hero keyword", "hero banner image", "x.jpg", "hero"},
		{"avatar thumb", "user avatar thumb", "x.jpg", "thumbnail"},
		{"fallback", "", "random.jpg", "medium"},
		{"case insensitive", "FEATURED story", "x.jpg", "large"},
		{"article body", "inline image in article body", "x.jpg", "medium"},
		{"sidebar card", "sidebar widget", "x.jpg", "small"},
		{"hero wins over thumbnail", "hero thumbnail strip", "x.jpg", "hero"},
		{"filename fallback", "nothing useful here", "profile-pic.png", "thumbnail"},
		{"hint beats filename", "gallery grid", "avatar.png", "large"},
		{"nothing anywhere", "plain text", "IMG_0001.JPG", "medium"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.hint, tt.filename))
		})
	}
}

func TestClassifyAlwaysReturnsRegistryKey(t *testing.T) {
	inputs := []string{"", "hero", "icon", "zzz", "post", "list", "CoVeR"}
	for _, in := range inputs {
		assert.True(t, presets.Exists(Classify(in, in)), "input %q", in)
	}
}

func TestNew_DropsUnknownPresets(t *testing.T) {
	c := New([]Rule{
		{Preset: "poster", Keywords: []string{"poster"}},
		{Preset: "small", Keywords: []string{" Tile "}},
	})

	assert.Len(t, c.Rules(), 1)
	assert.Equal(t, "medium", c.Classify("poster wall", ""))
	assert.Equal(t, "small", c.Classify("tile grid", ""))
}

func TestDefaultRuleOrder(t *testing.T) {
	var order []string
	for _, r := range DefaultRules {
		order = append(order, r.Preset)
	}
	assert.Equal(t, []string{"hero", "large", "medium", "small", "thumbnail"}, order)
}
