// Command modelpack turns a float layer description of the direction
// network into the quantized model artifact the ML detector loads.
//
// The description is the JSON or YAML form of tinyml.SequentialSpec as
// exported after training. Without -spec the production architecture is
// used, which needs -random-seed to fill its weights; such artifacts are
// only useful for sizing the tensor arena.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/motion-play/hoopsense/internal/mldetect"
	"github.com/motion-play/hoopsense/internal/tinyml"
)

// Config holds the command line.
type Config struct {
	SpecFile   string
	OutputFile string
	Steps      int
	Channels   int
	RandomSeed uint64
	Float      bool
	Verify     bool
}

func main() {
	cfg := parseFlags()
	if cfg.OutputFile == "" {
		log.Fatal("-o is required")
	}

	spec, err := loadSpec(cfg)
	if err != nil {
		log.Fatalf("Failed to load layer description: %v", err)
	}

	artifact, summary, err := pack(spec, cfg)
	if err != nil {
		log.Fatalf("Failed to pack model: %v", err)
	}
	if err := os.WriteFile(cfg.OutputFile, artifact, 0o644); err != nil {
		log.Fatalf("Failed to write artifact: %v", err)
	}

	fmt.Print(summary)
	log.Printf("Wrote %d bytes to %s", len(artifact), cfg.OutputFile)
}

func parseFlags() Config {
	cfg := Config{}
	var seed int64

	flag.StringVar(&cfg.SpecFile, "spec", "", "Layer description (.json, .yaml); empty uses the built-in architecture")
	flag.StringVar(&cfg.OutputFile, "o", "", "Output artifact path")
	flag.IntVar(&cfg.Steps, "steps", 300, "Input time steps for the built-in architecture")
	flag.IntVar(&cfg.Channels, "channels", mldetect.NumPositions, "Input channels for the built-in architecture")
	flag.Int64Var(&seed, "random-seed", -1, "Fill missing weights with seeded random values")
	flag.BoolVar(&cfg.Float, "float", false, "Keep float32 weights instead of int8")
	flag.BoolVar(&cfg.Verify, "verify", true, "Decode the artifact and allocate its arena before writing")

	flag.Parse()

	if seed >= 0 {
		cfg.RandomSeed = uint64(seed) + 1
	}
	return cfg
}

// loadSpec reads the layer description, or builds the default architecture.
// A RandomSeed of zero means no random fill; flag values are shifted by one.
func loadSpec(cfg Config) (tinyml.SequentialSpec, error) {
	var spec tinyml.SequentialSpec
	if cfg.SpecFile == "" {
		spec = tinyml.DirectionCNN(cfg.Steps, cfg.Channels)
	} else {
		data, err := os.ReadFile(cfg.SpecFile)
		if err != nil {
			return spec, err
		}
		switch ext := strings.ToLower(filepath.Ext(cfg.SpecFile)); ext {
		case ".json":
			err = json.Unmarshal(data, &spec)
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &spec)
		default:
			return spec, fmt.Errorf("layer description must be .json, .yaml or .yml, got %q", ext)
		}
		if err != nil {
			return spec, fmt.Errorf("parse %s: %w", cfg.SpecFile, err)
		}
	}

	if cfg.RandomSeed > 0 {
		if err := spec.FillRandom(cfg.RandomSeed - 1); err != nil {
			return spec, err
		}
	}
	return spec, nil
}

// pack builds and encodes the artifact. With Verify set the artifact is
// decoded again and run once on a zero input so that a broken artifact is
// never written.
func pack(spec tinyml.SequentialSpec, cfg Config) ([]byte, string, error) {
	b, err := tinyml.BuildSequential(spec, !cfg.Float)
	if err != nil {
		return nil, "", err
	}
	artifact, err := b.Encode()
	if err != nil {
		return nil, "", err
	}
	if !cfg.Verify {
		return artifact, fmt.Sprintf("model %q: %d bytes (not verified)\n", spec.Name, len(artifact)), nil
	}

	m, err := tinyml.DecodeModel(artifact)
	if err != nil {
		return nil, "", fmt.Errorf("verify: %w", err)
	}
	arena := make([]byte, tinyml.RequiredArena(m))
	it, err := tinyml.NewInterpreter(m, arena)
	if err != nil {
		return nil, "", fmt.Errorf("verify: %w", err)
	}
	if err := it.AllocateTensors(); err != nil {
		return nil, "", fmt.Errorf("verify: %w", err)
	}
	if err := it.Invoke(); err != nil {
		return nil, "", fmt.Errorf("verify: %w", err)
	}
	return artifact, it.Summary(), nil
}
