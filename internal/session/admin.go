package session

import (
	"context"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"tailscale.com/tsweb"

	"github.com/motion-play/hoopsense/internal/detection"
	"github.com/motion-play/hoopsense/internal/httputil"
)

const adminTimeout = 2 * time.Second

// AttachAdminRoutes mounts the detector debug routes under /debug/. They
// reach the detector through Do, so they only answer while Run is running.
func (r *Runner) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("detector", "detector state", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), adminTimeout)
		defer cancel()
		var state string
		err := r.Do(ctx, func(d detection.Detector) { state = d.DebugString() })
		if err != nil {
			http.Error(w, "detector not running", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "backend: %s\n%s\n", r.backend, state)
	})

	debug.HandleSilentFunc("detector-reset", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		full := req.FormValue("full") == "1"
		ctx, cancel := context.WithTimeout(req.Context(), adminTimeout)
		defer cancel()
		err := r.Do(ctx, func(d detection.Detector) {
			if full {
				d.FullReset()
			} else {
				d.Reset()
			}
		})
		if err != nil {
			http.Error(w, "detector not running", http.StatusServiceUnavailable)
			return
		}
		r.logf("session: detector reset (full=%t) from debug console", full)
		fmt.Fprintf(w, "reset (full=%t)\n", full)
	})

	debug.HandleFunc("detections", "recent detections", func(w http.ResponseWriter, req *http.Request) {
		events, total := r.Recent()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "%d detections since start\n\n", total)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tAT\tDIRECTION\tCONFIDENCE\tMODULE\tBACKEND")
		for i := len(events) - 1; i >= 0; i-- {
			e := events[i]
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%d\t%s\n", e.ID, e.At.Format(time.RFC3339Nano),
				e.Result.Direction, e.Result.Confidence, e.Result.DetectedModule, e.Backend)
		}
		tw.Flush()
	})

	debug.HandleSilentFunc("detections.json", func(w http.ResponseWriter, req *http.Request) {
		events, total := r.Recent()
		httputil.WriteJSONOK(w, recentResponse{Backend: r.backend, Total: total, Events: events})
	})
}

type recentResponse struct {
	Backend string  `json:"backend"`
	Total   uint64  `json:"total"`
	Events  []Event `json:"events"`
}
