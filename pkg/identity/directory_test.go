package identity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coursetrail/pkg/observability"
)

const testDirectory = `
users:
  - id: 1
    username: root
    roles: [admin]
  - id: 2
    username: mrs.t
    display_name: Mrs T
    roles: [teacher]
  - id: 3
    username: auditor
    capabilities: [coursetrail:viewaudit]
  - id: 10
    username: alice
    roles: [student]
courses:
  - id: 100
    name: Algebra
    teachers: [2]
    students: [10, 11, 12]
  - id: 200
    name: Geometry
    teachers: [2, 5]
    students: [12, 13]
  - id: 300
    name: History
    teachers: [5]
    students: [14]
`

func writeDirectory(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDirectory(t *testing.T) {
	dir, err := LoadDirectory(writeDirectory(t, testDirectory))
	require.NoError(t, err)

	t.Run("lookup", func(t *testing.T) {
		id, ok := dir.Lookup(2)
		require.True(t, ok)
		assert.Equal(t, "mrs.t", id.Username)
		assert.True(t, id.IsTeacher())

		id, ok = dir.Lookup(3)
		require.True(t, ok)
		assert.True(t, id.HasCapability(CapabilityViewAudit))

		_, ok = dir.Lookup(99)
		assert.False(t, ok)
	})

	t.Run("lookup returns a copy", func(t *testing.T) {
		id, _ := dir.Lookup(1)
		id.Roles[0] = RoleGuest

		again, _ := dir.Lookup(1)
		assert.True(t, again.IsAdmin())
	})

	t.Run("students across all courses", func(t *testing.T) {
		ids, err := dir.StudentIDs(context.Background(), 2, 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{10, 11, 12, 13}, ids)
	})

	t.Run("students in one course", func(t *testing.T) {
		ids, err := dir.StudentIDs(context.Background(), 2, 200)
		require.NoError(t, err)
		assert.Equal(t, []int64{12, 13}, ids)
	})

	t.Run("course not taught", func(t *testing.T) {
		ids, err := dir.StudentIDs(context.Background(), 2, 300)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestLoadDirectory_Errors(t *testing.T) {
	_, err := LoadDirectory(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadDirectory(writeDirectory(t, "users: [}"))
	assert.Error(t, err)

	_, err = LoadDirectory(writeDirectory(t, "users:\n  - username: nobody\n"))
	assert.ErrorContains(t, err, "has no id")
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	path := writeDirectory(t, testDirectory)
	dir, err := LoadDirectory(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("users: [}"), 0o600))
	assert.Error(t, dir.Reload())

	_, ok := dir.Lookup(2)
	assert.True(t, ok)
}

func TestWatchReloads(t *testing.T) {
	path := writeDirectory(t, testDirectory)
	dir, err := LoadDirectory(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, dir.Watch(ctx, observability.NopLogger()))

	require.NoError(t, os.WriteFile(path, []byte("users:\n  - id: 42\n    username: newcomer\n"), 0o600))

	assert.Eventually(t, func() bool {
		_, ok := dir.Lookup(42)
		return ok
	}, 2*time.Second, 20*time.Millisecond)
}
