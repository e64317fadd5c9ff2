package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballotbox/internal/platform/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestNewWithWriter(t *testing.T) {
	t.Run("json by default", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(&buf, config.LogConfig{Level: "info"})
		log.Debug("hidden")
		log.Info("vote cast", "election_id", "e1")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "vote cast", line["msg"])
		assert.Equal(t, "e1", line["election_id"])
		assert.Equal(t, "ballotbox", line["service"])
	})

	t.Run("text format", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(&buf, config.LogConfig{Level: "debug", Format: "text"})
		log.Debug("sweep")
		assert.Contains(t, buf.String(), "msg=sweep")
	})
}
