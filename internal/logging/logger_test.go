package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/config"
)

func TestNewLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &config.Config{
		ServiceName:  "newrelic-onboarding",
		Region:       "us-east-1",
		StackSetName: "NewRelic-Integration",
		LogLevel:     "info",
	})

	logger.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "newrelic-onboarding", entry["service"])
	assert.Equal(t, "us-east-1", entry["region"])
	assert.Equal(t, "NewRelic-Integration", entry["stackset"])
	assert.Equal(t, "hello", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNewLogger_OmitsEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &config.Config{LogLevel: "info"})

	logger.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "service")
	assert.NotContains(t, entry, "region")
}

func TestNewLogger_Level(t *testing.T) {
	logger := newLogger(&bytes.Buffer{}, &config.Config{LogLevel: "warn"})
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	logger := newLogger(&bytes.Buffer{}, &config.Config{LogLevel: "chatty"})
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())

	logger = newLogger(&bytes.Buffer{}, &config.Config{})
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}
