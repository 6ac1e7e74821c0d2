package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestGetEnvWithDefault(t *testing.T) {
	t.Setenv("SITELEVELS_TEST_KEY", "")
	assert.Equal(t, "fallback", getEnvWithDefault("SITELEVELS_TEST_KEY", "fallback"))

	t.Setenv("SITELEVELS_TEST_KEY", "set")
	assert.Equal(t, "set", getEnvWithDefault("SITELEVELS_TEST_KEY", "fallback"))
}

func TestSetupLoggingLevels(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	setupLogging(&Config{LogLevel: "debug", Env: "production"})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	// Invalid levels fall back to warn
	setupLogging(&Config{LogLevel: "nonsense", Env: "production"})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}
