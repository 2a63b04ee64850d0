package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkspaceGuardFailsWhenRootMissing(t *testing.T) {
	_, err := NewWorkspaceGuard(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestValidatePathAcceptsPathWithinRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "file.txt"), []byte("hi"), 0o644))

	guard, err := NewWorkspaceGuard(root)
	require.NoError(t, err)

	resolved, err := guard.ValidatePath("file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(guard.Root(), "file.txt"), resolved)
}

func TestValidatePathRejectsEscape(t *testing.T) {
	root := filepath.Join(t.TempDir(), "workspace")
	require.NoError(t, os.MkdirAll(root, 0o755))

	guard, err := NewWorkspaceGuard(root)
	require.NoError(t, err)

	_, err = guard.ValidatePath("../etc/passwd")
	assert.ErrorContains(t, err, "escapes workspace root")
}

func TestValidatePathRejectsSymlinkEscape(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "workspace")
	secret := filepath.Join(base, "secret")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.MkdirAll(secret, 0o755))

	link := filepath.Join(root, "escape")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	guard, err := NewWorkspaceGuard(root)
	require.NoError(t, err)

	_, err = guard.ValidatePath("escape")
	assert.ErrorContains(t, err, "escapes workspace root")
}

func TestMountArgs(t *testing.T) {
	assert.Empty(t, MountArgs("/root", AccessNone))
	assert.Equal(t, []string{"/root:/workspace:ro"}, MountArgs("/root", AccessReadOnly))
	assert.Equal(t, []string{"/root:/workspace:rw"}, MountArgs("/root", AccessReadWrite))
}

func TestConfigDefaultHost(t *testing.T) {
	assert.Equal(t, "unix:///var/run/docker.sock", Config{Runtime: RuntimeDocker}.DefaultHost())
	assert.Equal(t, "unix:///run/podman/podman.sock", Config{Runtime: RuntimePodman}.DefaultHost())
	assert.Equal(t, "tcp://custom", Config{Host: "tcp://custom"}.DefaultHost())
}
