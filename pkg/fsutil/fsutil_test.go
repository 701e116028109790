package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "file.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestCopyFileAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "out", "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o600))

	require.NoError(t, CopyFileAtomic(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.True(t, Exists(dst))
	assert.False(t, Exists(filepath.Join(dir, "missing")))

	require.Error(t, CopyFileAtomic(filepath.Join(dir, "missing"), dst))
}

func TestExpandPath(t *testing.T) {
	t.Setenv("ENDSTATE_TEST_DIR", "/opt/tools")

	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".gitconfig"), ExpandPath("~/.gitconfig"))
	assert.Equal(t, "/opt/tools/bin", ExpandPath("$ENDSTATE_TEST_DIR/bin"))
	assert.Equal(t, "/opt/tools/bin", ExpandPath("${ENDSTATE_TEST_DIR}/bin"))
	assert.Equal(t, "/opt/tools/bin", ExpandPath("%ENDSTATE_TEST_DIR%/bin"))
	assert.Equal(t, "%ENDSTATE_UNSET_VAR%/x", ExpandPath("%ENDSTATE_UNSET_VAR%/x"))
}

func TestResolvePath(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	assert.Equal(t, filepath.Join(base, "configs", "a.ini"), ResolvePath(base, "configs/a.ini"))

	abs := filepath.Join(base, "abs.txt")
	assert.Equal(t, abs, ResolvePath("/elsewhere", abs))
}
