package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("test message")
	if !called {
		t.Error("custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("nil logger should mute output")
	}
}

func TestOrDiscard(t *testing.T) {
	l := OrDiscard(nil)
	if l == nil {
		t.Fatal("OrDiscard(nil) returned nil")
	}
	l("no panic %d", 1)

	var got string
	custom := Logger(func(format string, v ...interface{}) { got = fmt.Sprintf(format, v...) })
	OrDiscard(custom)("x=%d", 3)
	if got != "x=3" {
		t.Errorf("got %q, want %q", got, "x=3")
	}
}

func TestPrefixed(t *testing.T) {
	var got string
	base := Logger(func(format string, v ...interface{}) { got = fmt.Sprintf(format, v...) })

	Prefixed("[ml]", base)("arena %d/%d", 10, 20)
	if got != "[ml] arena 10/20" {
		t.Errorf("got %q", got)
	}

	// nil base must not panic
	Prefixed("[x]", nil)("ignored")
}
