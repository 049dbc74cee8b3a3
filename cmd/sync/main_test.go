package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"dispatchsync/internal/config"
	"dispatchsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"-mode", "full", "-from", "2025-01-01", "-force", "-resume-from-batch", "3"})
	require.NoError(t, err)
	assert.Equal(t, "full", o.mode)
	assert.Equal(t, "2025-01-01", o.from)
	assert.True(t, o.force)
	assert.Equal(t, 3, o.resumeFrom)
	assert.Equal(t, models.SyncTypeOrders, o.syncType)

	_, err = parseFlags([]string{"-mode", "weekly"})
	assert.Error(t, err)
	_, err = parseFlags([]string{"-type", "users"})
	assert.Error(t, err)
	_, err = parseFlags([]string{"-resume-from-batch", "-1"})
	assert.Error(t, err)
}

func TestParseDay(t *testing.T) {
	d, err := parseDay("")
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = parseDay("2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", d.Format(models.DateLayout))

	_, err = parseDay("10/03/2025")
	assert.Error(t, err)
}

func writeConfig(t *testing.T, apiKey string) string {
	t.Helper()
	dir := t.TempDir()
	body := "database:\n  path: " + filepath.Join(dir, "cache.db") + "\n" +
		"logging:\n  output: stderr\n  level: error\n" +
		"upstream:\n  base_url: http://127.0.0.1:1\n  api_key: \"" + apiKey + "\"\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRun_Status(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"-config", writeConfig(t, "secret"), "-status", "-type", "order_tags"}, &out)
	require.NoError(t, err)

	var status models.SyncStatus
	require.NoError(t, json.Unmarshal(out.Bytes(), &status))
	assert.Equal(t, models.SyncTypeOrderTags, status.SyncType)
	assert.Equal(t, models.SyncStateIdle, status.Status)
}

func TestRun_Reset(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-config", writeConfig(t, "secret"), "-reset"}, &out))
	assert.Contains(t, out.String(), `"status": "idle"`)
}

func TestRun_MissingAPIKey(t *testing.T) {
	err := run([]string{"-config", writeConfig(t, ""), "-mode", "full"}, &bytes.Buffer{})
	assert.True(t, errors.Is(err, config.ErrConfig))
}

func TestRun_StatusAndResetWithoutAPIKey(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-config", writeConfig(t, ""), "-reset"}, &out))
	assert.Contains(t, out.String(), `"status": "idle"`)
}

func TestRun_BadDate(t *testing.T) {
	err := run([]string{"-config", "unused.yaml", "-from", "yesterday"}, &bytes.Buffer{})
	assert.Error(t, err)
}
