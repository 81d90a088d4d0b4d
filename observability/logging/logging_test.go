package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupEmitsRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Options{Service: "bendd", Env: "test", Level: "debug", Writer: &buf})
	logger.Debug("loan state changed", "loan", 7)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "loan state changed", line["message"])
	require.Equal(t, "bendd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
	require.EqualValues(t, 7, line["loan"])
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Options{Service: "bendd", Level: "warn", Writer: &buf})
	logger.Info("ignored")
	require.Zero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("WARNING")
	require.NoError(t, err)
	require.Equal(t, slog.LevelWarn, level)
	_, err = ParseLevel("verbose")
	require.Error(t, err)
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("client", "10.0.0.1").Value.String())
	require.Equal(t, "borrow", MaskField("op", "borrow").Value.String())
	require.Equal(t, " ", MaskField("api_token", " ").Value.String())
	require.True(t, IsAllowlisted(" Asset "))
	require.True(t, IsSensitive("X-Api-Token"))
	require.False(t, IsSensitive("loan"))
}

func TestSetupMasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Options{Service: "bendd", Writer: &buf})
	logger.Info("auth configured", "api_token", "hunter2", "route", "/v1/ops/borrow",
		slog.Group("tls", slog.String("private_key", "pem")))

	out := buf.String()
	require.NotContains(t, out, "hunter2")
	require.NotContains(t, out, "\"pem\"")
	require.Contains(t, out, "/v1/ops/borrow")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, RedactedValue, line["api_token"])
}
