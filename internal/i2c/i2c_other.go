//go:build !linux

package i2c

// Open always fails with [ErrUnsupported].
func Open(path string, addr uint8) (*Device, error) {
	return nil, ErrUnsupported
}

// Write always fails with [ErrUnsupported].
func (d *Device) Write(p []byte) error { return ErrUnsupported }

// Read always fails with [ErrUnsupported].
func (d *Device) Read(p []byte) error { return ErrUnsupported }

// Close is a no-op.
func (d *Device) Close() error { return nil }
