//go:build linux

package i2c

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ioctlSlave is I2C_SLAVE from include/uapi/linux/i2c-dev.h. It binds the
// file descriptor to a 7-bit slave address for subsequent read/write calls.
const ioctlSlave = 0x0703

// Open opens the bus at path (e.g. /dev/i2c-1) and selects the slave at addr.
func Open(path string, addr uint8) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := unix.IoctlSetInt(fd, ioctlSlave, int(addr)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("select slave 0x%02x on %s: %w", addr, path, err)
	}
	return &Device{fd: fd, path: path, addr: addr}, nil
}

// Write sends p to the device in a single transaction.
func (d *Device) Write(p []byte) error {
	n, err := unix.Write(d.fd, p)
	if err != nil {
		return fmt.Errorf("write 0x%02x: %w", d.addr, err)
	}
	if n != len(p) {
		return fmt.Errorf("write 0x%02x: short write %d/%d", d.addr, n, len(p))
	}
	return nil
}

// Read fills p from the device in a single transaction.
func (d *Device) Read(p []byte) error {
	n, err := unix.Read(d.fd, p)
	if err != nil {
		return fmt.Errorf("read 0x%02x: %w", d.addr, err)
	}
	if n != len(p) {
		return fmt.Errorf("read 0x%02x: short read %d/%d", d.addr, n, len(p))
	}
	return nil
}

// Close releases the file descriptor.
func (d *Device) Close() error {
	return unix.Close(d.fd)
}
