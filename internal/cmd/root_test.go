package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"serve", "doctor", "jobs"} {
		assert.True(t, names[want], "command %q should be registered", want)
	}
}

func TestJobsSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range jobsCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"list", "show", "cancel"} {
		assert.True(t, names[want], "jobs subcommand %q should be registered", want)
	}
}

func TestLoadConfigAppliesLogLevelFlag(t *testing.T) {
	orig := logLevel
	defer func() { logLevel = orig }()

	logLevel = "debug"
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
