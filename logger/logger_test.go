package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentLoggers(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, zerolog.DebugLevel)

	ForHandler("CATEGORY").Info().Str("url", "https://example.com").Msg("page handled")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "handler", entry["component"])
	assert.Equal(t, "CATEGORY", entry["role"])
	assert.Equal(t, "https://example.com", entry["url"])
	assert.Equal(t, "page handled", entry["message"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, zerolog.WarnLevel)
	defer InitWithWriter(&bytes.Buffer{}, zerolog.DebugLevel)

	Info("hidden %d", 1)
	assert.Zero(t, buf.Len())

	LogError("sink", errors.New("boom"), "save failed for %s", "123")
	assert.Contains(t, buf.String(), "save failed for 123")
	assert.Contains(t, buf.String(), "boom")
	assert.False(t, IsDebugEnabled())
}

func TestGetLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("EMLAK_ENVIRONMENT", "production")
	assert.Equal(t, zerolog.InfoLevel, getLogLevel())

	t.Setenv("EMLAK_ENVIRONMENT", "development")
	assert.Equal(t, zerolog.DebugLevel, getLogLevel())

	t.Setenv("LOG_LEVEL", "warn")
	assert.Equal(t, zerolog.WarnLevel, getLogLevel())

	t.Setenv("LOG_LEVEL", "nonsense")
	assert.Equal(t, zerolog.InfoLevel, getLogLevel())
}
