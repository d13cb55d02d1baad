package messages

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_HasEveryKeyTheCoreUses(t *testing.T) {
	c := Default()
	for _, k := range []string{
		"prefix",
		"protection.cannot-drop", "protection.cannot-move", "protection.cannot-container",
		"cooldown.wait",
		"command.no-permission", "command.unknown", "command.reload-success", "command.reload-failed",
		"command.remove-usage", "command.give-usage", "command.player-not-found", "command.item-not-found",
		"command.remove-item-success", "command.remove-all-success", "command.world-not-enabled",
		"command.give-success",
		"help.header", "help.reload", "help.remove", "help.give", "help.help", "help.footer",
	} {
		assert.True(t, c.Has(k), k)
	}
}

func TestGet_SubstitutesAndColorizes(t *testing.T) {
	c, err := Parse([]byte("prefix: \"&7[x] \"\ngreet:\n  hello: \"&aHi {player}, {player}!\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "§aHi bob, bob!", c.Get("greet.hello", "player", "bob"))
	assert.Equal(t, "§7[x] §aHi bob, bob!", c.Prefixed("greet.hello", "player", "bob"))
	assert.Equal(t, "§cMessage not found: nope", c.Get("nope"))
	// A dangling name without a value is ignored.
	assert.Equal(t, "§aHi {player}, {player}!", c.Get("greet.hello", "player"))
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "messages.yaml")
	require.NoError(t, os.WriteFile(path, []byte("protection:\n  cannot-drop: \"&4nope\"\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "§4nope", c.Get("protection.cannot-drop"))
	assert.True(t, c.Has("protection.cannot-move"))

	missing, err := Load(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Keys(), missing.Keys())

	require.NoError(t, os.WriteFile(path, []byte("a: [\n"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestSource_Swap(t *testing.T) {
	s := NewSource(nil)
	require.True(t, s.Current().Has("prefix"))
	c, err := Parse([]byte("prefix: \"\"\n"))
	require.NoError(t, err)
	s.Swap(c)
	assert.False(t, s.Current().Has("help.header"))
}
