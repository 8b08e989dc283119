package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate is the rate the sensor board firmware streams at.
const DefaultBaudRate = 115200

// PortOptions configure the device port. The board always frames 8N1, so
// only the rate is adjustable.
type PortOptions struct {
	BaudRate int `json:"baud_rate" yaml:"baud_rate"`
}

// Normalize fills in the default rate.
func (o PortOptions) Normalize() (PortOptions, error) {
	switch {
	case o.BaudRate == 0:
		o.BaudRate = DefaultBaudRate
	case o.BaudRate < 0:
		return o, fmt.Errorf("invalid baud rate %d", o.BaudRate)
	}
	return o, nil
}

// SerialMode returns the go.bug.st/serial mode for the board.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}, nil
}
