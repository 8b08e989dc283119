package recording

import (
	"errors"
	"fmt"
	"net/http"
	"text/tabwriter"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/motion-play/hoopsense/internal/httputil"
)

type sessionDetail struct {
	Session    Session     `json:"session"`
	Detections []Detection `json:"detections"`
}

// AttachAdminRoutes mounts a tailsql console over the store and a session
// listing under /debug/.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.DB, &tailsql.DBOptions{
		Label: "Recordings",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("sessions", "recorded sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions, err := s.Sessions(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tLABEL\tREADINGS\tCREATED")
		for _, sess := range sessions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", sess.ID, sess.Name, sess.Label, sess.ReadingCount, sess.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		tw.Flush()
	})

	// sessions.json lists every session; ?id= returns one session with its
	// detections.
	debug.HandleSilentFunc("sessions.json", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			sessions, err := s.Sessions(r.Context())
			if err != nil {
				httputil.InternalServerError(w, err.Error())
				return
			}
			httputil.WriteJSONOK(w, sessions)
			return
		}
		sess, err := s.GetSession(r.Context(), id)
		if errors.Is(err, ErrSessionNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		dets, err := s.Detections(r.Context(), id)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, sessionDetail{Session: sess, Detections: dets})
	})
	return nil
}
