// Command session-import loads downloaded session files and CSV captures
// into the recording database so they can be replayed by algo-compare.
//
//	session-import -db recordings.db session-*.json capture.csv
//	session-import -db recordings.db -list
//	session-import -db recordings.db -export <session-id> > capture.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/motion-play/hoopsense/internal/ingest"
	"github.com/motion-play/hoopsense/internal/recording"
)

// Config holds the command line.
type Config struct {
	DBPath   string
	Name     string
	Label    string
	List     bool
	Export   string
	SetLabel string
	Delete   string
	Verbose  bool
	Files    []string
}

func main() {
	cfg := parseFlags()
	if cfg.DBPath == "" {
		log.Fatal("-db is required")
	}

	var logf func(string, ...interface{})
	if cfg.Verbose {
		logf = log.Printf
	}
	store, err := recording.Open(cfg.DBPath, logf)
	if err != nil {
		log.Fatalf("Failed to open recording database: %v", err)
	}
	defer store.Close()

	if err := run(context.Background(), store, cfg, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.DBPath, "db", "", "Recording database path")
	flag.StringVar(&cfg.Name, "name", "", "Session name (default: file name)")
	flag.StringVar(&cfg.Label, "label", "", "Ground-truth label for CSV captures or -set-label: a->b, b->a, no-transit")
	flag.BoolVar(&cfg.List, "list", false, "List stored sessions")
	flag.StringVar(&cfg.Export, "export", "", "Write the readings of this session to stdout as CSV")
	flag.StringVar(&cfg.SetLabel, "set-label", "", "Set -label on this session")
	flag.StringVar(&cfg.Delete, "delete", "", "Delete this session")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Log store activity")

	flag.Parse()
	cfg.Files = flag.Args()

	return cfg
}

func run(ctx context.Context, store *recording.Store, cfg Config, out io.Writer) error {
	label := recording.Label(cfg.Label)
	if !label.Valid() {
		return fmt.Errorf("invalid label %q", cfg.Label)
	}

	switch {
	case cfg.Export != "":
		readings, err := store.Readings(ctx, cfg.Export)
		if err != nil {
			return err
		}
		if len(readings) == 0 {
			if _, err := store.GetSession(ctx, cfg.Export); err != nil {
				return err
			}
		}
		return ingest.WriteCSV(out, readings)
	case cfg.SetLabel != "":
		return store.SetLabel(ctx, cfg.SetLabel, label)
	case cfg.Delete != "":
		return store.DeleteSession(ctx, cfg.Delete)
	}

	if len(cfg.Files) > 1 && cfg.Name != "" {
		return fmt.Errorf("-name applies to a single file")
	}
	for _, path := range cfg.Files {
		res, err := importFile(ctx, store, path, cfg.Name, label)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(out, "%s: session %s, %d readings imported, %d skipped, label %q\n",
			path, res.Session.ID, res.Imported, res.Skipped, res.Session.Label)
	}

	if cfg.List || len(cfg.Files) == 0 {
		return listSessions(ctx, store, out)
	}
	return nil
}

// importFile picks the importer from the file extension.
func importFile(ctx context.Context, store *recording.Store, path, name string, label recording.Label) (recording.ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return recording.ImportResult{}, err
	}
	defer f.Close()

	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(base))
	if name == "" {
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	switch ext {
	case ".json":
		res, err := store.ImportSessionJSON(ctx, f, name)
		if err != nil {
			return res, err
		}
		if label != recording.LabelNone && res.Session.Label != label {
			if err := store.SetLabel(ctx, res.Session.ID, label); err != nil {
				return res, err
			}
			res.Session.Label = label
		}
		return res, nil
	case ".csv":
		return store.ImportCSV(ctx, f, recording.Session{Name: name, Label: label, Source: "csv:" + base})
	}
	return recording.ImportResult{}, fmt.Errorf("unsupported file type %q (want .json or .csv)", ext)
}

func listSessions(ctx context.Context, store *recording.Store, out io.Writer) error {
	sessions, err := store.Sessions(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLABEL\tREADINGS\tSOURCE\tCREATED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", s.ID, s.Name, s.Label, s.ReadingCount, s.Source, s.CreatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}
