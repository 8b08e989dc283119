package serialmux

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motion-play/hoopsense/internal/testutil"
)

func drain(ch chan string) []string {
	var got []string
	for {
		select {
		case line, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, line)
		default:
			return got
		}
	}
}

func TestMonitorFansOutLines(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("1000,0,12\r\n2000,1,14\n# comment\n"))
	mux := NewSerialMux(port)

	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	require.NoError(t, mux.Monitor(context.Background()))

	want := []string{"1000,0,12", "2000,1,14", "# comment"}
	assert.Equal(t, want, drain(a))
	assert.Equal(t, want, drain(b))

	lines, dropped := mux.Stats()
	assert.EqualValues(t, 3, lines)
	assert.Zero(t, dropped)
}

func TestMonitorDropsForSlowSubscriber(t *testing.T) {
	port := NewTestableSerialPort()
	var sb strings.Builder
	for i := 0; i < subscriberBuffer+6; i++ {
		sb.WriteString("1,0,10\n")
	}
	port.AddReadData([]byte(sb.String()))
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Monitor(context.Background()))

	assert.Len(t, drain(ch), subscriberBuffer)
	lines, dropped := mux.Stats()
	assert.EqualValues(t, subscriberBuffer+6, lines)
	assert.EqualValues(t, 6, dropped)
}

func TestMonitorReadError(t *testing.T) {
	port := NewTestableSerialPort()
	readErr := errors.New("device unplugged")
	port.ReadError = readErr
	mux := NewSerialMux(port)

	err := mux.Monitor(context.Background())
	assert.ErrorIs(t, err, readErr)
}

func TestMonitorStopsOnCancel(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)
	defer mux.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestMonitorStopsOnClose(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	require.NoError(t, mux.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after Close")
	}
	assert.True(t, port.Closed)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	id, ch := mux.Subscribe()
	mux.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")

	// Unknown ids are ignored.
	mux.Unsubscribe("missing")
}

func TestCloseClosesSubscribers(t *testing.T) {
	port := NewTestableSerialPort()
	port.CloseError = errors.New("close failed")
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	assert.EqualError(t, mux.Close(), "close failed")
	_, ok := <-ch
	assert.False(t, ok)

	assert.NoError(t, mux.Close(), "second Close is a no-op")

	_, late := mux.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after Close yields a closed channel")
}

func TestSendCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		setup   func(*TestableSerialPort)
		want    string
		wantErr error
	}{
		{name: "appends newline", command: "CAL", want: "CAL\n"},
		{name: "keeps newline", command: "RESET\n", want: "RESET\n"},
		{
			name:    "short write",
			command: "CAL",
			setup:   func(p *TestableSerialPort) { p.ShortWrite = true },
			want:    "CAL",
			wantErr: ErrWriteFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := NewTestableSerialPort()
			if tt.setup != nil {
				tt.setup(port)
			}
			mux := NewSerialMux(port)
			err := mux.SendCommand(tt.command)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, string(port.GetWrittenData()))
		})
	}
}

func TestSendCommandWriteError(t *testing.T) {
	port := NewTestableSerialPort()
	writeErr := errors.New("io error")
	port.WriteError = writeErr
	mux := NewSerialMux(port)

	assert.ErrorIs(t, mux.SendCommand("CAL"), writeErr)
	assert.NoError(t, mux.SendCommand("CAL"), "error is returned once")
}

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"", LineTypeEmpty},
		{"   ", LineTypeEmpty},
		{"# header", LineTypeComment},
		{"123456,3,40", LineTypeReading},
		{"  123456,3,40,7", LineTypeReading},
		{"CAL OK module=1", LineTypeStatus},
		{`{"fw":"1.2"}`, LineTypeStatus},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyLine(tt.line), "line %q", tt.line)
	}
}

func TestAdminSendCommandAPI(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name       string
		method     string
		form       url.Values
		wantStatus int
		wantBody   string
	}{
		{"valid", http.MethodPost, url.Values{"command": {"ping"}}, http.StatusOK, `Wrote command "ping"`},
		{"not allowed", http.MethodPost, url.Values{"command": {"format"}}, http.StatusBadRequest, "not allowed"},
		{"empty", http.MethodPost, url.Values{"command": {"  "}}, http.StatusBadRequest, "Missing command"},
		{"missing", http.MethodPost, url.Values{}, http.StatusBadRequest, "Missing command"},
		{"wrong method", http.MethodGet, nil, http.StatusMethodNotAllowed, "Method not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.form != nil {
				body = strings.NewReader(tt.form.Encode())
			}
			req := testutil.NewDebugRequest(tt.method, "/debug/send-command-api", body)
			if tt.form != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			rec := httptest.NewRecorder()
			httpMux.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
	assert.Equal(t, "ping\n", string(port.GetWrittenData()))
}

func TestIsAllowedCommand(t *testing.T) {
	assert.True(t, IsAllowedCommand("ping"))
	assert.True(t, IsAllowedCommand(" Reboot "))
	assert.False(t, IsAllowedCommand("format"))
	assert.False(t, IsAllowedCommand(""))
}

func TestAdminStatsAndConsole(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("1,0,10\n"))
	mux := NewSerialMux(port)
	_, _ = mux.Subscribe()
	require.NoError(t, mux.Monitor(context.Background()))

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, testutil.NewDebugRequest(http.MethodGet, "/debug/serial-stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lines=1 dropped=0 subscribers=1")

	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, testutil.NewDebugRequest(http.MethodGet, "/debug/send-command", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "send-command-api")

	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, testutil.NewDebugRequest(http.MethodGet, "/debug/tail.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "EventSource")
}

func TestNewMockSerialMuxReplaysOnce(t *testing.T) {
	mux := NewMockSerialMux([]string{"1000,0,10", "2000,1,11\n"}, 0)
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Monitor(context.Background()))
	assert.Equal(t, []string{"1000,0,10", "2000,1,11"}, drain(ch))
	assert.NoError(t, mux.SendCommand("CAL"))
}

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()
	d.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)

	_, ch = d.Subscribe()
	assert.NoError(t, d.Close())
	_, ok = <-ch
	assert.False(t, ok)
	assert.NoError(t, d.Close())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Monitor(ctx), context.Canceled)
	assert.NoError(t, d.SendCommand("CAL"))
}
