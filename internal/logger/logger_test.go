package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSetupWriter(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	l := SetupWriter(&buf, "warn", "json")

	l.Info().Msg("hidden")
	l.Warn().Str("stream", "rtm_lmp").Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "shown", entry["message"])
	require.Equal(t, "rtm_lmp", entry["stream"])
	require.Contains(t, entry, "time")
}

func TestSetupWriter_UnknownLevel(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	SetupWriter(&buf, "loud", "console")
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
