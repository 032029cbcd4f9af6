package daemon

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngramLock_LockThenUnlockSucceeds(t *testing.T) {
	engramPath := filepath.Join(t.TempDir(), "repo.engram")
	lock := NewEngramLock(engramPath)

	require.NoError(t, lock.Lock())
	assert.True(t, lock.IsLocked())
	assert.Equal(t, engramPath+".lock", lock.Path())

	require.NoError(t, lock.Unlock())
	assert.False(t, lock.IsLocked())
}

func TestEngramLock_TryLockFailsWhenAlreadyHeld(t *testing.T) {
	engramPath := filepath.Join(t.TempDir(), "repo.engram")

	holder := NewEngramLock(engramPath)
	require.NoError(t, holder.Lock())
	defer holder.Unlock()

	contender := NewEngramLock(engramPath)
	acquired, err := contender.TryLock()
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.False(t, contender.IsLocked())
}

func TestEngramLock_UnlockWithoutLockIsNoop(t *testing.T) {
	engramPath := filepath.Join(t.TempDir(), "repo.engram")
	lock := NewEngramLock(engramPath)

	assert.NoError(t, lock.Unlock())
}
