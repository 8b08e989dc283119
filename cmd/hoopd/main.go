// Command hoopd reads the sensor board's serial stream, runs the configured
// direction detector over it and logs every detected transit. Detections
// and, optionally, the raw readings are stored in the recording database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/motion-play/hoopsense/internal/config"
	"github.com/motion-play/hoopsense/internal/monitoring"
	"github.com/motion-play/hoopsense/internal/version"
)

var (
	configFile      = flag.String("config", "", "Path to a tuning config file (.json, .yaml)")
	port            = flag.String("port", "", "Serial port of the sensor board (overrides serial_port)")
	replayFile      = flag.String("replay", "", "Replay a CSV capture instead of opening the serial port")
	replayInterval  = flag.Duration("replay-interval", time.Millisecond, "Delay between replayed lines, 0 for as fast as possible")
	disableSerial   = flag.Bool("disable-serial", false, "Run without a serial port (debug routes only)")
	listen          = flag.String("listen", "", "Debug HTTP listen address (overrides debug_listen, \"off\" disables)")
	dbFile          = flag.String("db", "", "Recording database path (overrides db_path)")
	recordName      = flag.String("record", "", "Record readings into a new session with this name")
	calibrationFile = flag.String("calibration", "", "Device calibration JSON consulted by the heuristic detector")
	quiet           = flag.Bool("quiet", false, "Mute detector diagnostics")
	showVersion     = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	opts, err := optionsFromFlags()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("starting %s", version.String())
	if err := run(ctx, opts); err != nil && err != context.Canceled {
		log.Fatalf("hoopd: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// options is everything run needs, resolved from flags and the tuning file.
type options struct {
	Tuning *config.TuningConfig

	Port           string
	Baud           int
	ReplayFile     string
	ReplayInterval time.Duration
	DisableSerial  bool

	Listen          string
	DBPath          string
	RecordName      string
	CalibrationFile string

	Logf         monitoring.Logger
	DetectorLogf monitoring.Logger
}

func optionsFromFlags() (options, error) {
	tuning := config.EmptyTuningConfig()
	if *configFile != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(*configFile); err != nil {
			return options{}, err
		}
	}
	opts := resolveOptions(tuning, flagOverrides{
		Port:            *port,
		ReplayFile:      *replayFile,
		ReplayInterval:  *replayInterval,
		DisableSerial:   *disableSerial,
		Listen:          *listen,
		DBPath:          *dbFile,
		RecordName:      *recordName,
		CalibrationFile: *calibrationFile,
		Quiet:           *quiet,
	})
	return opts, opts.validate()
}

type flagOverrides struct {
	Port            string
	ReplayFile      string
	ReplayInterval  time.Duration
	DisableSerial   bool
	Listen          string
	DBPath          string
	RecordName      string
	CalibrationFile string
	Quiet           bool
}

// resolveOptions merges flags over the tuning file. A flag left at its zero
// value keeps the file's setting.
func resolveOptions(tuning *config.TuningConfig, f flagOverrides) options {
	opts := options{
		Tuning:          tuning,
		Port:            tuning.GetSerialPort(),
		Baud:            tuning.GetSerialBaud(),
		ReplayFile:      f.ReplayFile,
		ReplayInterval:  f.ReplayInterval,
		DisableSerial:   f.DisableSerial,
		Listen:          tuning.GetDebugListen(),
		DBPath:          tuning.GetDBPath(),
		RecordName:      f.RecordName,
		CalibrationFile: f.CalibrationFile,
		Logf:            log.Printf,
		DetectorLogf:    monitoring.Prefixed("[detector] ", log.Printf),
	}
	if f.Port != "" {
		opts.Port = f.Port
	}
	if f.Listen != "" {
		opts.Listen = f.Listen
	}
	if opts.Listen == "off" {
		opts.Listen = ""
	}
	if f.DBPath != "" {
		opts.DBPath = f.DBPath
	}
	if f.Quiet {
		opts.DetectorLogf = nil
	}
	return opts
}

func (o options) validate() error {
	switch {
	case o.ReplayFile != "" && o.DisableSerial:
		return fmt.Errorf("-replay and -disable-serial are mutually exclusive")
	case o.ReplayFile == "" && !o.DisableSerial && o.Port == "":
		return fmt.Errorf("serial port is required (set -port or serial_port, or use -replay / -disable-serial)")
	case o.RecordName != "" && o.DBPath == "":
		return fmt.Errorf("-record needs a database (set -db or db_path)")
	}
	if o.ReplayFile != "" {
		if _, err := os.Stat(o.ReplayFile); err != nil {
			return fmt.Errorf("replay file: %w", err)
		}
	}
	return nil
}
