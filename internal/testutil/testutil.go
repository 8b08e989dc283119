// Package testutil holds helpers shared by the debug route tests.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
)

// LoopbackAddr is a client address that passes tsweb's local-only check
// on /debug/ routes.
const LoopbackAddr = "127.0.0.1:12345"

// NewDebugRequest builds a request that appears to come from localhost.
func NewDebugRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = LoopbackAddr
	return req
}

// ServeDebug sends a loopback request through h and returns the recorder.
func ServeDebug(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, NewDebugRequest(method, target, nil))
	return rec
}

// PostForm sends a loopback form POST through h.
func PostForm(h http.Handler, target string, form url.Values) *httptest.ResponseRecorder {
	req := NewDebugRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
