package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/platform/config"
)

func TestNewWithWriter(t *testing.T) {
	t.Run("json at configured level", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(&buf, config.LoggerConfig{Level: "warn"})
		log.Info("dropped")
		log.Warn("audit write failed", "entity", "ORDER")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "WARN", line["level"])
		assert.Equal(t, "audit write failed", line["msg"])
		assert.Equal(t, "ORDER", line["entity"])
	})

	t.Run("text format", func(t *testing.T) {
		var buf bytes.Buffer
		NewWithWriter(&buf, config.LoggerConfig{Level: "debug", Format: "text"}).Debug("hello")
		assert.Contains(t, buf.String(), "level=DEBUG")
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(&buf, config.LoggerConfig{Level: "loud"})
		log.Debug("hidden")
		assert.Empty(t, buf.String())
		log.Info("shown")
		assert.NotEmpty(t, buf.String())
	})
}
