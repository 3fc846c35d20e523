package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePresets(t *testing.T) {
	presets, err := ParsePresets([]byte(`
presets:
  - name: slate
    material: stone
    burn:
      power: 255
      duration: 90
      plotting_mode: raster
      intensity_mode: fixed
      step_delay: 5ms
  - name: birch
    material: wood
    burn:
      power: 180
      duration: 50
`))
	require.NoError(t, err)

	list := presets.List()
	require.Len(t, list, 2)
	assert.Equal(t, "birch", list[0].Name)
	assert.Equal(t, "slate", list[1].Name)

	slate, ok := presets.Get("slate")
	require.True(t, ok)
	assert.Equal(t, uint8(255), slate.Burn.Power)
	assert.Equal(t, 5*time.Millisecond, slate.Burn.StepDelay)

	_, ok = presets.Get("granite")
	assert.False(t, ok)
}

func TestParsePresets_Invalid(t *testing.T) {
	for name, content := range map[string]string{
		"syntax":    "presets: [",
		"nameless":  "presets:\n  - material: wood\n",
		"duplicate": "presets:\n  - name: a\n  - name: a\n",
		"mode":      "presets:\n  - name: a\n    burn:\n      plotting_mode: zigzag\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePresets([]byte(content))
			assert.Error(t, err)
		})
	}
}

func TestLoadPresets_EmptyPath(t *testing.T) {
	presets, err := LoadPresets("")
	require.NoError(t, err)
	assert.Empty(t, presets.List())
}
