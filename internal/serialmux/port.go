package serialmux

import (
	"io"
)

// SerialPorter is the part of a serial port the mux needs. Tests substitute
// an in-memory port.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// inputResetter is implemented by ports that can discard bytes buffered
// before the mux started reading.
type inputResetter interface {
	ResetInputBuffer() error
}
