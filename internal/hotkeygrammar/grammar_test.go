package hotkeygrammar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseDefaultCombo(t *testing.T) {
	c, err := Parse(DefaultCombo)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ctrl", "Alt"}, c.Modifiers)
	assert.Equal(t, "v", c.Key)
}

func TestParseRejectsUnknownModifier(t *testing.T) {
	_, err := Parse("Hyper+a")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseRejectsUnknownKey(t *testing.T) {
	_, err := Parse("Ctrl+Æ")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := Parse("")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseAllowsBareKey(t *testing.T) {
	c, err := Parse("F5")
	require.NoError(t, err)
	assert.Empty(t, c.Modifiers)
	assert.Equal(t, "f5", c.Key)
}

func TestParseDeduplicatesModifiers(t *testing.T) {
	c, err := Parse("Ctrl+ctrl+v")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ctrl"}, c.Modifiers)
}

func TestParseIsCaseInsensitive(t *testing.T) {
	c, err := Parse("ctrl+ALT+v")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ctrl", "Alt"}, c.Modifiers)
	assert.Equal(t, "v", c.Key)
}

// Property: any combo built from valid modifier/key tokens roundtrips
// through Parse -> String -> Parse to the same canonical decomposition.
func TestParseStringRoundtripProperty(t *testing.T) {
	modifierTokens := []string{"Ctrl", "Control", "Shift", "Alt", "Super", "Meta"}
	keyTokens := []string{"a", "z", "0", "9", "f1", "f12", "space", "escape", "return"}

	rapid.Check(t, func(rt *rapid.T) {
		nMods := rapid.IntRange(0, 3).Draw(rt, "nMods")
		var parts []string
		seen := map[string]bool{}
		for i := 0; i < nMods; i++ {
			m := rapid.SampledFrom(modifierTokens).Draw(rt, "mod")
			if seen[m] {
				continue
			}
			seen[m] = true
			parts = append(parts, m)
		}
		key := rapid.SampledFrom(keyTokens).Draw(rt, "key")
		parts = append(parts, key)

		combo := parts[0]
		for _, p := range parts[1:] {
			combo += "+" + p
		}

		c1, err := Parse(combo)
		require.NoError(rt, err)

		c2, err := Parse(c1.String())
		require.NoError(rt, err)

		assert.Equal(rt, c1, c2)
	})
}
