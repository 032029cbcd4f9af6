package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupConfig_NoConfigReturnsEmptyPath(t *testing.T) {
	dir := t.TempDir()
	backupPath, err := BackupConfig(dir)
	require.NoError(t, err)
	assert.Empty(t, backupPath)
}

func TestBackupConfig_CreatesTimestampedCopy(t *testing.T) {
	dir := t.TempDir()
	content := "vsa:\n  dimension: 5000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".embeddenator.yaml"), []byte(content), 0o644))

	backupPath, err := BackupConfig(dir)
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)

	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestListConfigBackups_PrunesBeyondMaxBackups(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".embeddenator.yaml"), []byte("version: 1\n"), 0o644))

	for i := 0; i < MaxBackups+2; i++ {
		_, err := BackupConfig(dir)
		require.NoError(t, err)
	}

	backups, err := ListConfigBackups(dir)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), MaxBackups)
}

func TestRestoreConfig_WritesBackupContentBack(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, ".embeddenator.yaml")
	original := "vsa:\n  dimension: 7000\n"
	require.NoError(t, os.WriteFile(configPath, []byte(original), 0o644))

	backupPath, err := BackupConfig(dir)
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)

	require.NoError(t, os.WriteFile(configPath, []byte("vsa:\n  dimension: 9999\n"), 0o644))
	require.NoError(t, RestoreConfig(dir, backupPath))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, original, string(data))
}

func TestRestoreConfig_FailsWhenBackupFileMissing(t *testing.T) {
	dir := t.TempDir()
	err := RestoreConfig(dir, filepath.Join(dir, "nonexistent.bak"))
	assert.Error(t, err)
}
