package tuning

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"voxelstream.ai/internal/persistence/chunkstore"
	"voxelstream.ai/internal/sim/stream"
)

//go:embed stream.schema.json
var schemaJSON []byte

type Tuning struct {
	ChunkSize    int   `yaml:"chunk_size"`
	ColumnHeight int   `yaml:"column_height"`
	WorldExtent  int   `yaml:"world_extent"`
	Radius       int   `yaml:"radius"`
	MaxTasks     int   `yaml:"max_tasks"`
	TickRateHz   int   `yaml:"tick_rate_hz"`
	Seed         int64 `yaml:"seed"`

	Storage  Storage  `yaml:"storage"`
	Observer Observer `yaml:"observer"`
	Logs     Logs     `yaml:"logs"`
}

type Storage struct {
	Backend    string `yaml:"backend"`
	Dir        string `yaml:"dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

type Observer struct {
	MaxMovesPerSec float64 `yaml:"max_moves_per_sec"`
	Burst          int     `yaml:"burst"`
	QueueSize      int     `yaml:"queue_size"`
}

type Logs struct {
	// TickDir receives the compressed per-tick JSONL log; empty disables it.
	TickDir string `yaml:"tick_dir"`
}

func Defaults() Tuning {
	return Tuning{
		ChunkSize:    8,
		ColumnHeight: 16,
		WorldExtent:  1,
		Radius:       3,
		MaxTasks:     1000,
		TickRateHz:   30,
		Seed:         1337,
		Storage: Storage{
			Backend: chunkstore.BackendFile,
			Dir:     "data/chunks",
		},
		Observer: Observer{
			MaxMovesPerSec: 20,
			Burst:          5,
			QueueSize:      256,
		},
	}
}

// Load reads a YAML tuning file over the defaults. An empty path returns the
// defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := validateSchema(raw); err != nil {
		return t, fmt.Errorf("stream.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("stream.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("stream.yaml: %w", err)
	}
	return t, nil
}

func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// Round trip through JSON so the validator sees JSON types.
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("stream.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return err
	}
	s, err := c.Compile("stream.schema.json")
	if err != nil {
		return err
	}
	return s.Validate(v)
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	t.Storage.Backend = strings.ToLower(strings.TrimSpace(t.Storage.Backend))
	if t.Storage.Backend == "" {
		t.Storage.Backend = chunkstore.BackendFile
	}
	if strings.TrimSpace(t.Storage.Dir) == "" {
		t.Storage.Dir = "data/chunks"
	}
	if t.Observer.MaxMovesPerSec <= 0 {
		t.Observer.MaxMovesPerSec = 20
	}
	if t.Observer.Burst <= 0 {
		t.Observer.Burst = 1
	}
	if t.Observer.QueueSize <= 0 {
		t.Observer.QueueSize = 256
	}
}

func (t Tuning) Validate() error {
	if err := t.Stream().Validate(); err != nil {
		return err
	}
	switch t.Storage.Backend {
	case chunkstore.BackendFile, chunkstore.BackendSQLite, chunkstore.BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be file, sqlite or memory: got %q", t.Storage.Backend)
	}
	return nil
}

func (t Tuning) Stream() stream.Config {
	return stream.Config{
		ChunkSize:    t.ChunkSize,
		ColumnHeight: t.ColumnHeight,
		WorldExtent:  t.WorldExtent,
		Radius:       t.Radius,
		MaxTasks:     t.MaxTasks,
		TickRateHz:   t.TickRateHz,
	}
}

func (t Tuning) Store() chunkstore.Config {
	return chunkstore.Config{
		Backend:    t.Storage.Backend,
		Dir:        t.Storage.Dir,
		SQLitePath: t.Storage.SQLitePath,
	}
}
