// File: cmd/root_test.go
package cmd

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeConfigAppliesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir()) // no config.yaml around

	require.NoError(t, initializeConfig())

	assert.Equal(t, "info", viper.GetString("logger.level"))
	assert.Equal(t, 16000, viper.GetInt("audio.capture_sample_rate"))
	assert.Equal(t, 400, viper.GetInt("browser.max_elements"))
}

func TestInitializeConfigEnvOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())
	t.Setenv("COPILOT_LOGGER_LEVEL", "debug")

	require.NoError(t, initializeConfig())

	assert.Equal(t, "debug", viper.GetString("logger.level"))
}

func TestRunCmdFlags(t *testing.T) {
	cmd := newRunCmd()

	for _, name := range []string{"server", "mode", "goal", "turbo", "resume", "mute", "headless", "device"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag %q", name)
	}
	assert.Equal(t, "voice", cmd.Flags().Lookup("mode").DefValue)
}
