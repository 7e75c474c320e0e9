package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("vaultd", "test", Options{Level: "debug", Output: &buf})
	logger.Debug("call committed", slog.String("caller", "0xabc"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "call committed", line["message"])
	require.Equal(t, "vaultd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("vaultd", "", Options{Level: "warn", Output: &buf})
	logger.Info("ignored")
	require.Zero(t, buf.Len())
	logger.Error("kept")
	require.Contains(t, buf.String(), `"severity":"ERROR"`)
	require.NotContains(t, buf.String(), `"env"`)
}

func TestSetupWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaultd.log")
	var buf bytes.Buffer
	logger := SetupWithOptions("vaultd", "", Options{Output: &buf, File: &FileConfig{Path: path, MaxSizeMB: 1}})
	logger.Info("persisted")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), "persisted"))
	require.Contains(t, buf.String(), "persisted")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("remote_addr", "10.0.0.1").Value.String())
	require.Equal(t, "E_AccountLiquidity", MaskField("code", "E_AccountLiquidity").Value.String())
	require.Equal(t, "", MaskField("remote_addr", "").Value.String())
	require.Contains(t, RedactionAllowlist(), "request_id")
}

func TestHandlerScrubsCredentialKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("vaultd", "", Options{Output: &buf})
	logger.Info("auth configured", slog.String("jwt_secret", "hunter2"), slog.String("Authorization", "Bearer abc"), slog.String("vault", "0x01"))
	out := buf.String()
	require.NotContains(t, out, "hunter2")
	require.NotContains(t, out, "Bearer abc")
	require.Contains(t, out, `"vault":"0x01"`)
	require.Equal(t, 2, strings.Count(out, RedactedValue))
}
