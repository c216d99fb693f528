package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger(t *testing.T) {
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	setupLogger("release", "info", &buf)
	log.Info().Str("module", "test").Msg("hello")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "test", line["module"])
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	buf.Reset()
	setupLogger("debug", "debug", &buf)
	log.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.Error(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
