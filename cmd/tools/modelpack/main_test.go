package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motion-play/hoopsense/internal/mldetect"
	"github.com/motion-play/hoopsense/internal/tinyml"
)

const smallSpec = `
name: tiny_direction
steps: 8
channels: 2
layers:
  - type: conv1d
    filters: 4
    kernel: 3
    padding: same
    activation: relu
  - type: maxpool1d
    pool: 2
  - type: flatten
  - type: dense
    units: 3
    activation: softmax
`

func TestPackBuiltInArchitecture(t *testing.T) {
	cfg := Config{Steps: 300, Channels: mldetect.NumPositions, RandomSeed: 1, Verify: true}
	spec, err := loadSpec(cfg)
	require.NoError(t, err)

	artifact, summary, err := pack(spec, cfg)
	require.NoError(t, err)
	assert.Contains(t, summary, `model "direction_cnn"`)

	m, err := tinyml.DecodeModel(artifact)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 300, mldetect.NumPositions}, m.Tensors[m.Inputs[0]].Shape)
	assert.Less(t, tinyml.RequiredArena(m), 150*1024, "must fit the default arena")
}

func TestPackYAMLSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.yaml")
	require.NoError(t, os.WriteFile(path, []byte(smallSpec), 0o644))

	cfg := Config{SpecFile: path, RandomSeed: 8, Verify: true}
	spec, err := loadSpec(cfg)
	require.NoError(t, err)
	assert.Equal(t, "tiny_direction", spec.Name)
	assert.Len(t, spec.Layers[0].Weights, 3*2*4)

	quantized, _, err := pack(spec, cfg)
	require.NoError(t, err)

	cfg.Float = true
	float, _, err := pack(spec, cfg)
	require.NoError(t, err)
	assert.Less(t, len(quantized), len(float), "int8 weights are smaller")
}

func TestLoadSpecErrors(t *testing.T) {
	dir := t.TempDir()

	txt := filepath.Join(dir, "spec.txt")
	require.NoError(t, os.WriteFile(txt, []byte("{}"), 0o644))
	_, err := loadSpec(Config{SpecFile: txt})
	assert.ErrorContains(t, err, "must be .json")

	bad := filepath.Join(dir, "spec.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"layers": [`), 0o644))
	_, err = loadSpec(Config{SpecFile: bad})
	assert.Error(t, err)

	unknown := filepath.Join(dir, "unknown.json")
	require.NoError(t, os.WriteFile(unknown, []byte(`{"steps": 4, "channels": 1, "layers": [{"type": "lstm"}]}`), 0o644))
	_, err = loadSpec(Config{SpecFile: unknown, RandomSeed: 1})
	assert.ErrorContains(t, err, "unknown type")
}

func TestPackWithoutWeightsFails(t *testing.T) {
	spec := tinyml.DirectionCNN(300, mldetect.NumPositions)
	_, _, err := pack(spec, Config{Verify: true})
	assert.Error(t, err)
}
