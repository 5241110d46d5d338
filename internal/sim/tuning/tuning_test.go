package tuning

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_StreamYAML(t *testing.T) {
	cfg, err := Load("../../../configs/stream.yaml")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.ChunkSize)
	assert.Equal(t, 3, cfg.Radius)
	assert.Equal(t, 0, cfg.WorldExtent)
	assert.Equal(t, "file", cfg.Storage.Backend)
	require.NoError(t, cfg.Stream().Validate())
}

func TestLoad_EmptyPathGivesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, 1, cfg.WorldExtent)
	assert.Equal(t, 1000, cfg.MaxTasks)
}

func write(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "stream.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(write(t, "radius: 5\nstorage:\n  backend: sqlite\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Radius)
	assert.Equal(t, 8, cfg.ChunkSize)
	assert.Equal(t, "sqlite", cfg.Store().Backend)
	assert.Equal(t, "data/chunks", cfg.Store().Dir)
}

func TestLoad_SchemaRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "chunk_sise: 8\n",
		"zero chunk size": "chunk_size: 0\n",
		"bad backend":     "storage:\n  backend: tape\n",
		"string radius":   "radius: far\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(write(t, body))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	cfg.MaxTasks = 0
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Storage.Backend = "s3"
	assert.Error(t, cfg.Validate())
}
