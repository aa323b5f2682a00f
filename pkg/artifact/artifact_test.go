package artifact

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestCreate_New(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.bin")

	f, err := Create(path, false, nil)
	require.NoError(t, err)
	_, err = f.WriteString("GRMD")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "GRMD", string(data))
}

func TestCreate_ExistingWithoutForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	_, err := Create(path, false, nil)
	require.ErrorIs(t, err, ErrArtifactExists)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "old", string(data), "existing artifact must be left alone")
}

func TestCreate_ExistingWithForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, os.WriteFile(path, []byte("old artifact"), 0o644))

	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)

	f, err := Create(path, true, log)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Zero(t, info.Size())
	require.Contains(t, buf.String(), "level=warning")
	require.Contains(t, buf.String(), "will be overwritten")
}

func TestCreate_MissingDirectory(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "missing", "model.bin"), true, nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrArtifactExists)
}
