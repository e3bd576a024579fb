package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/bat-bot-video/internal/contextkeys"
)

func TestFromCtx_AddsFields(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var buf bytes.Buffer
	SetupWriter(Config{Service: "bot", Level: "debug", Format: "json"}, &buf)

	ctx := contextkeys.WithUserID(context.Background(), 42)
	ctx = contextkeys.WithSessionID(ctx, "s-1")
	l := FromCtx(ctx)
	l.Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "bot", line["svc"])
	require.Equal(t, float64(42), line["uid"])
	require.Equal(t, "s-1", line["sid"])
	require.Equal(t, "hello", line["message"])
}

func TestSetup_LevelFilter(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var buf bytes.Buffer
	SetupWriter(Config{Level: "warn"}, &buf)
	log.Info().Msg("dropped")
	require.Zero(t, buf.Len())
	log.Warn().Msg("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("LOG_FILE_MAX_AGE", "")
	c := FromEnv("bot")
	require.Equal(t, "debug", c.Level)
	require.Equal(t, "json", c.Format)
	require.Equal(t, 2, c.FileMaxAgeDays)
}
