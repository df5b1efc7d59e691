// Package i2c gives access to devices on a Linux I2C bus through the
// /dev/i2c-N character devices.
package i2c

import "errors"

// ErrUnsupported is returned by [Open] on platforms without i2c-dev.
var ErrUnsupported = errors.New("i2c: not supported on this platform")

// Device is one slave address on an open bus. Each Write and Read is a
// separate bus transaction addressed to that slave.
type Device struct {
	fd   int
	path string
	addr uint8
}

// Path returns the bus device path the Device was opened on.
func (d *Device) Path() string { return d.path }

// Addr returns the 7-bit slave address.
func (d *Device) Addr() uint8 { return d.addr }
