package configinit

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigInitWritesTemplate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cmd := Command()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"init", path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "storage:")

	cmd.SetArgs([]string{"init", path})
	assert.Error(t, cmd.Execute(), "existing config must not be overwritten")
}

func TestConfigInitStdout(t *testing.T) {
	t.Parallel()

	cmd := Command()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"init", "--stdout"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "publish:")
}

func TestSkipsConfig(t *testing.T) {
	t.Parallel()

	cmd := Command()
	sub, _, err := cmd.Find([]string{"init"})
	require.NoError(t, err)
	assert.True(t, SkipsConfig(sub))
	assert.False(t, SkipsConfig(cmd))
}
