// Command algo-compare replays recorded sessions through the heuristic and
// ML direction detectors and compares them with each other and with the
// session's ground-truth label.
//
// Sessions come from the recording database (-db with -session or -all) or
// from a single CSV capture (-csv with an optional -label).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/motion-play/hoopsense/internal/config"
	"github.com/motion-play/hoopsense/internal/ingest"
	"github.com/motion-play/hoopsense/internal/recording"
	"github.com/motion-play/hoopsense/internal/security"
)

// Config holds configuration for the comparison.
type Config struct {
	DBPath     string
	SessionID  string
	All        bool
	CSVFile    string
	Label      string
	ConfigFile string
	ModelPath  string
	OutputDir  string
	OutputJSON string
	Plot       bool
	SwapCheck  bool
	Verbose    bool
}

func main() {
	cfg := parseFlags()

	if cfg.CSVFile == "" && cfg.DBPath == "" {
		log.Fatal("either -csv or -db is required")
	}
	if cfg.DBPath != "" && cfg.SessionID == "" && !cfg.All {
		log.Fatal("-db needs -session or -all")
	}
	if (cfg.Plot || cfg.OutputJSON != "") && cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	tuning := config.DefaultTuningConfig()
	if cfg.ConfigFile != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(cfg.ConfigFile); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if cfg.ModelPath != "" {
		tuning.ModelPath = &cfg.ModelPath
	}

	inputs, err := loadSessions(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to load sessions: %v", err)
	}
	if len(inputs) == 0 {
		log.Fatal("no sessions to compare")
	}

	var logf func(string, ...interface{})
	if cfg.Verbose {
		logf = log.Printf
	}
	comp := &comparer{Tuning: tuning, SwapCheck: cfg.SwapCheck, Logf: logf}
	result, err := comp.Run(inputs)
	if err != nil {
		log.Fatalf("Comparison failed: %v", err)
	}

	printResults(result)

	if cfg.Plot {
		for i := range inputs {
			path, err := security.OutputPath(cfg.OutputDir, inputs[i].Name+"-"+inputs[i].ID, ".png")
			if err != nil {
				log.Printf("Warning: skipping plot for %s: %v", inputs[i].ID, err)
				continue
			}
			if err := plotSession(path, inputs[i], result.Sessions[i]); err != nil {
				log.Printf("Warning: failed to plot %s: %v", inputs[i].ID, err)
				continue
			}
			log.Printf("Plot written to: %s", path)
		}
	}

	if cfg.OutputJSON != "" {
		outputPath := filepath.Join(cfg.OutputDir, cfg.OutputJSON)
		if err := security.ValidatePathWithinDirectory(outputPath, cfg.OutputDir); err != nil {
			log.Fatalf("Invalid -json: %v", err)
		}
		if err := exportJSON(result, outputPath); err != nil {
			log.Printf("Warning: failed to export JSON: %v", err)
		} else {
			log.Printf("Results exported to: %s", outputPath)
		}
	}
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.DBPath, "db", "", "Recording database to read sessions from")
	flag.StringVar(&cfg.SessionID, "session", "", "Session id to compare")
	flag.BoolVar(&cfg.All, "all", false, "Compare every labelled session in the database")
	flag.StringVar(&cfg.CSVFile, "csv", "", "CSV capture to compare instead of a stored session")
	flag.StringVar(&cfg.Label, "label", "", "Ground truth for -csv: a->b, b->a, no-transit")
	flag.StringVar(&cfg.ConfigFile, "config", "", "Tuning config file (.json, .yaml)")
	flag.StringVar(&cfg.ModelPath, "model", "", "Model artifact for the ML backend (overrides model_path)")
	flag.StringVar(&cfg.OutputDir, "output", "", "Output directory for plots and JSON")
	flag.StringVar(&cfg.OutputJSON, "json", "", "Output JSON filename (e.g., results.json)")
	flag.BoolVar(&cfg.Plot, "plot", false, "Write a PNG trace plot per session")
	flag.BoolVar(&cfg.SwapCheck, "swap-check", true, "Replay with A/B sensors swapped and expect the direction to flip")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable detector logging")

	flag.Parse()

	return cfg
}

func loadSessions(ctx context.Context, cfg Config) ([]sessionInput, error) {
	if cfg.CSVFile != "" {
		label := recording.Label(cfg.Label)
		if !label.Valid() {
			return nil, fmt.Errorf("invalid label %q", cfg.Label)
		}
		f, err := os.Open(cfg.CSVFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		readings, err := ingest.ReadCSV(f)
		if err != nil {
			return nil, err
		}
		name := filepath.Base(cfg.CSVFile)
		return []sessionInput{{ID: name, Name: name, Label: label, Readings: readings}}, nil
	}

	store, err := recording.Open(cfg.DBPath, nil)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	var sessions []recording.Session
	if cfg.SessionID != "" {
		s, err := store.GetSession(ctx, cfg.SessionID)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	} else {
		all, err := store.Sessions(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range all {
			if s.Label != recording.LabelNone {
				sessions = append(sessions, s)
			}
		}
		sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })
	}

	inputs := make([]sessionInput, 0, len(sessions))
	for _, s := range sessions {
		readings, err := store.Readings(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", s.ID, err)
		}
		inputs = append(inputs, sessionInput{ID: s.ID, Name: s.Name, Label: s.Label, Readings: readings})
	}
	return inputs, nil
}

func printResults(result *ComparisonResult) {
	fmt.Println("\n=== Algorithm Comparison Results ===")
	fmt.Printf("Sessions: %d\n", len(result.Sessions))
	if result.MLUnavailable != "" {
		fmt.Printf("ML backend unavailable: %s\n", result.MLUnavailable)
	}

	fmt.Println("\n--- Per-Session ---")
	for _, s := range result.Sessions {
		fmt.Printf("%s (%s) label=%q readings=%d\n", s.SessionID, s.Name, s.Label, s.Readings)
		for _, name := range backendOrder(s.Runs) {
			run := s.Runs[name]
			fmt.Printf("  %-9s predicted=%-7s detections=%d", name, run.Predicted, len(run.Detections))
			if run.SwapConsistent != nil {
				fmt.Printf(" swap-consistent=%t", *run.SwapConsistent)
			}
			fmt.Println()
		}
	}

	fmt.Println("\n--- Per-Backend Statistics ---")
	for _, name := range backendOrder(result.PerBackend) {
		st := result.PerBackend[name]
		fmt.Printf("\n%s:\n", name)
		fmt.Printf("  Labelled sessions: %d\n", st.Labelled)
		fmt.Printf("  Accuracy: %.1f%% (%d correct)\n", st.Accuracy*100, st.Correct)
		fmt.Printf("  Confidence: mean %.3f, stddev %.3f over %d detections\n", st.MeanConfidence, st.StdConfidence, st.Detections)
		if st.SwapChecked > 0 {
			fmt.Printf("  Swap symmetry: %d/%d\n", st.SwapConsistent, st.SwapChecked)
		}
		fmt.Printf("  Avg Processing: %.2f µs/reading\n", st.AvgProcessingUs)
		if st.Labelled > 0 {
			fmt.Println("  Confusion (rows expected, cols predicted: unknown, a->b, b->a):")
			fmt.Printf("%v\n", mat.Formatted(confusionMatrix(st.Confusion), mat.Prefix("    "), mat.Squeeze()))
		}
	}

	if result.Agreement.Compared > 0 {
		fmt.Println("\n--- Agreement ---")
		fmt.Printf("Sessions compared: %d\n", result.Agreement.Compared)
		fmt.Printf("Agreement: %.1f%%\n", result.Agreement.AgreementPct)
	}
}

func exportJSON(result *ComparisonResult, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
