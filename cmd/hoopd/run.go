package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/motion-play/hoopsense/internal/detection"
	"github.com/motion-play/hoopsense/internal/ingest"
	"github.com/motion-play/hoopsense/internal/monitoring"
	"github.com/motion-play/hoopsense/internal/recording"
	"github.com/motion-play/hoopsense/internal/serialmux"
	"github.com/motion-play/hoopsense/internal/session"
	"github.com/motion-play/hoopsense/internal/version"
)

// readingBuffer decouples the serial line rate from detector bursts.
const readingBuffer = 256

func run(ctx context.Context, opts options) error {
	logf := monitoring.OrDiscard(opts.Logf)

	serial, source, err := openSerial(opts)
	if err != nil {
		return err
	}
	defer serial.Close()

	var store *recording.Store
	if opts.DBPath != "" {
		store, err = recording.Open(opts.DBPath, logf)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	var cal detection.CalibrationHolder
	if opts.CalibrationFile != "" {
		c, err := loadCalibration(opts.CalibrationFile)
		if err != nil {
			return err
		}
		cal.Store(c)
		logf("loaded calibration from %s: %s", opts.CalibrationFile, c)
	}

	sel, err := session.NewDetector(session.Options{
		Tuning:      opts.Tuning,
		Calibration: &cal,
		Logf:        opts.DetectorLogf,
	})
	if err != nil {
		return err
	}
	defer sel.Close()
	logf("detector backend: %s (requested %s)", sel.Backend, sel.Requested)

	p := &pipeline{
		serial: serial,
		runner: session.NewRunner(sel, session.RunnerOptions{Logf: opts.DetectorLogf}),
		pump:   &ingest.Pump{Logf: monitoring.Prefixed("[ingest] ", logf)},
		store:  store,
		logf:   logf,
	}
	if opts.RecordName != "" {
		sess, err := store.CreateSession(ctx, recording.Session{Name: opts.RecordName, Source: source})
		if err != nil {
			return fmt.Errorf("create recording session: %w", err)
		}
		logf("recording readings into session %s (%s)", sess.ID, sess.Name)
		p.sessionID = sess.ID
		p.recorder = newRecorder(store, sess.ID, logf)
	}

	var wg sync.WaitGroup
	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()
	if opts.Listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveDebug(serveCtx, opts.Listen, p, logf)
		}()
	}

	err = p.run(ctx)
	stopServing()
	wg.Wait()
	return err
}

// openSerial picks the line source: a replayed capture, no source at all,
// or the real device.
func openSerial(opts options) (serialmux.SerialMuxInterface, string, error) {
	switch {
	case opts.ReplayFile != "":
		lines, err := replayLines(opts.ReplayFile)
		if err != nil {
			return nil, "", err
		}
		return serialmux.NewMockSerialMux(lines, opts.ReplayInterval), "replay:" + opts.ReplayFile, nil
	case opts.DisableSerial:
		return serialmux.NewDisabledSerialMux(), "disabled", nil
	}
	mux, err := serialmux.NewRealSerialMux(opts.Port, serialmux.PortOptions{BaudRate: opts.Baud})
	if err != nil {
		return nil, "", err
	}
	return mux, "serial:" + opts.Port, nil
}

// replayLines re-encodes a CSV capture in the board's line protocol.
func replayLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	readings, err := ingest.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read replay %s: %w", path, err)
	}
	lines := make([]string, len(readings))
	for i, r := range readings {
		lines[i] = ingest.FormatReading(r)
	}
	return lines, nil
}

func loadCalibration(path string) (*detection.DeviceCalibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration: %w", err)
	}
	cal := detection.NewDeviceCalibration()
	if err := json.Unmarshal(data, cal); err != nil {
		return nil, fmt.Errorf("parse calibration %s: %w", path, err)
	}
	if cal.Magic != detection.CalibrationMagic || cal.Version != detection.CalibrationVersion {
		return nil, fmt.Errorf("calibration %s: bad header (magic=0x%08X version=%d)", path, cal.Magic, cal.Version)
	}
	return cal, nil
}

// pipeline wires serial lines through the pump, the optional recorder and
// the detector runner to the detection log.
type pipeline struct {
	serial    serialmux.SerialMuxInterface
	runner    *session.Runner
	pump      *ingest.Pump
	store     *recording.Store // nil when detections are only logged
	recorder  *recorder        // nil when not recording
	sessionID string
	logf      monitoring.Logger
}

// run returns when ctx is cancelled or the line source ends, after every
// stage has drained.
func (p *pipeline) run(ctx context.Context) error {
	id, lines := p.serial.Subscribe()
	defer p.serial.Unsubscribe(id)

	var wg sync.WaitGroup
	errs := make(chan error, 4)

	// The mux is closed when Monitor returns so that a finished replay
	// closes the subscriber channel and the stages below drain in order.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.serial.Monitor(ctx); err != nil && err != context.Canceled {
			errs <- fmt.Errorf("monitor serial port: %w", err)
		}
		p.serial.Close()
		p.logf("monitor routine terminated")
	}()

	readings := make(chan detection.SensorReading, readingBuffer)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(readings)
		if err := p.pump.Run(ctx, lines, readings); err != nil && err != context.Canceled {
			errs <- err
		}
	}()

	detectorIn := (<-chan detection.SensorReading)(readings)
	if p.recorder != nil {
		recorded := make(chan detection.SensorReading, readingBuffer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(recorded)
			if err := p.recorder.tee(ctx, readings, recorded); err != nil && err != context.Canceled {
				errs <- err
			}
		}()
		detectorIn = recorded
	}

	events := make(chan session.Event, 16)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(events)
		if err := p.runner.Run(ctx, detectorIn, events); err != nil && err != context.Canceled {
			errs <- err
		}
	}()

	for ev := range events {
		p.handleEvent(ctx, ev)
	}
	wg.Wait()
	close(errs)

	if err, ok := <-errs; ok {
		return err
	}
	return ctx.Err()
}

func (p *pipeline) handleEvent(ctx context.Context, ev session.Event) {
	res := ev.Result
	p.logf("transit %s confidence=%.2f module=%d modules=%d consistent=%t",
		res.Direction, res.Confidence, res.DetectedModule, res.ModulesDetected, res.DirectionConsistent)
	if p.store == nil {
		return
	}
	_, err := p.store.RecordDetection(ctx, recording.Detection{
		ID:          ev.ID,
		SessionID:   p.sessionID,
		TimestampMs: res.TimestampMs,
		Direction:   res.Direction,
		Confidence:  res.Confidence,
		Backend:     ev.Backend,
		Module:      res.DetectedModule,
	})
	if err != nil {
		p.logf("failed to record detection %s: %v", ev.ID, err)
	}
}

// debugMux mounts every component's /debug/ routes.
func (p *pipeline) debugMux() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	p.serial.AttachAdminRoutes(mux)
	p.runner.AttachAdminRoutes(mux)
	if p.store != nil {
		if err := p.store.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}

	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.String())
	debug.KV("Backend", p.runner.Backend())
	debug.KVFunc("Readings", func() any {
		s := &p.pump.Stats
		return fmt.Sprintf("%d lines, %d readings, %d malformed, %d status",
			s.Lines.Load(), s.Readings.Load(), s.Malformed.Load(), s.Status.Load())
	})
	if p.recorder != nil {
		debug.KVFunc("Recorded", func() any { return p.recorder.stored.Load() })
	}
	return mux, nil
}

func serveDebug(ctx context.Context, addr string, p *pipeline, logf monitoring.Logger) {
	mux, err := p.debugMux()
	if err != nil {
		logf("debug routes disabled: %v", err)
		return
	}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/tail") {
			logf("got request %q", r.URL.Path)
		}
		mux.ServeHTTP(w, r)
	})
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logf("debug server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logf("debug server failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logf("debug server shutdown error: %v", err)
	}
	logf("debug server stopped")
}
