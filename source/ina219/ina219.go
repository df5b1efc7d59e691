// Package ina219 samples a TI INA219 current/power monitor over I2C.
//
// The chip is kept in power-down mode between samples. Each sample opens
// the bus, programs the calibration register, wakes the chip, reads the
// bus voltage, current and power registers and powers it down again.
package ina219

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jpalmerr/pulselog"
	"github.com/jpalmerr/pulselog/internal/i2c"
)

// register addresses
const (
	regConfig      = 0x00
	regBusVoltage  = 0x02
	regPower       = 0x03
	regCurrent     = 0x04
	regCalibration = 0x05
)

// operating mode bits of the config register
const (
	modeMask       = 0x0007
	modePowerDown  = 0x0000
	modeContinuous = 0x0007 // shunt and bus, continuous
)

// DefaultAddress is the chip's address with A0 and A1 grounded.
const DefaultAddress = 0x40

const (
	shuntOhms = 0.1
	// the datasheet calibration constant
	calibrationScale = 0.04096
	// current LSB divisor; keeps the calibration within 15 bits
	currentSteps = 32800
	// conversion time after leaving power-down
	wakeDelay = 40 * time.Microsecond
)

var metrics = []string{"voltage", "current", "power"}

// Bus is one I2C slave. *i2c.Device satisfies it.
type Bus interface {
	Write(p []byte) error
	Read(p []byte) error
	Close() error
}

// Opener opens the bus at path and selects the slave at addr.
type Opener func(path string, addr uint8) (Bus, error)

func openDevice(path string, addr uint8) (Bus, error) {
	dev, err := i2c.Open(path, addr)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// Config holds the settings for one chip.
type Config struct {
	Name         string
	Bus          string  // e.g. /dev/i2c-1
	Address      uint8   // defaults to DefaultAddress
	ExpectedAmps float64 // maximum expected current
}

// Sensor is a [pulselog.Source] for an INA219.
type Sensor struct {
	cfg         Config
	names       []string
	currentLSB  float64
	calibration uint16
	open        Opener
	logger      *slog.Logger
}

// Option configures a Sensor.
type Option func(*Sensor)

// WithOpener replaces the function used to open the bus.
func WithOpener(open Opener) Option {
	return func(s *Sensor) { s.open = open }
}

// New creates a Sensor. The bus is not touched until the first Sample.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Sensor, error) {
	if cfg.Name == "" {
		return nil, errors.New("ina219: name is required")
	}
	if cfg.Bus == "" {
		return nil, fmt.Errorf("ina219 %s: bus is required", cfg.Name)
	}
	if cfg.ExpectedAmps <= 0 || math.IsNaN(cfg.ExpectedAmps) || math.IsInf(cfg.ExpectedAmps, 0) {
		return nil, fmt.Errorf("ina219 %s: expected amps must be positive, got %v", cfg.Name, cfg.ExpectedAmps)
	}
	if cfg.Address == 0 {
		cfg.Address = DefaultAddress
	}
	if logger == nil {
		logger = slog.Default()
	}

	lsb := cfg.ExpectedAmps / currentSteps
	cal := math.Trunc(calibrationScale / (lsb * shuntOhms))
	if cal > math.MaxUint16 {
		return nil, fmt.Errorf("ina219 %s: expected amps %v too small for calibration", cfg.Name, cfg.ExpectedAmps)
	}

	s := &Sensor{
		cfg:         cfg,
		names:       pulselog.MetricNames(cfg.Name, metrics),
		currentLSB:  lsb,
		calibration: uint16(cal),
		open:        openDevice,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name implements [pulselog.Source].
func (s *Sensor) Name() string { return s.cfg.Name }

// Names implements [pulselog.Source].
func (s *Sensor) Names() []string { return append([]string(nil), s.names...) }

// Sample implements [pulselog.Source].
func (s *Sensor) Sample(ctx context.Context) []float64 {
	values, err := s.measure(ctx)
	return pulselog.Fallback(s.logger, s.cfg.Name, len(s.names), values, err)
}

func (s *Sensor) measure(ctx context.Context) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bus, err := s.open(s.cfg.Bus, s.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pulselog.ErrTransport, err)
	}
	defer func() { _ = bus.Close() }()

	chip := &chip{bus: bus}
	if err := chip.writeRegister(regCalibration, s.calibration); err != nil {
		return nil, fmt.Errorf("%w: calibrate: %w", pulselog.ErrTransport, err)
	}

	var busV, power uint16
	var current int16
	err = withAwake(chip, func() error {
		var err error
		if busV, err = chip.readRegister(regBusVoltage); err != nil {
			return err
		}
		var raw uint16
		if raw, err = chip.readRegister(regCurrent); err != nil {
			return err
		}
		current = int16(raw)
		power, err = chip.readRegister(regPower)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pulselog.ErrTransport, err)
	}

	voltage := float64(busV>>3) * 4 / 1000
	milliamps := float64(current) * 1000 * s.currentLSB
	milliwatts := float64(power) * 20 * s.currentLSB * 1000

	// an idle panel reads zero or noise; report it as no output
	if milliwatts <= 0 {
		s.logger.Warn("non-positive power reading, reporting zero row",
			"source", s.cfg.Name,
			"voltage", voltage,
			"current", milliamps,
			"power", milliwatts,
		)
		return []float64{0, 0, 0}, nil
	}
	return []float64{voltage, milliamps, milliwatts}, nil
}

// chip wraps the register protocol: a one-byte pointer write selects the
// register, followed by a two-byte big-endian read or write.
type chip struct {
	bus Bus
}

func (c *chip) readRegister(reg uint8) (uint16, error) {
	if err := c.bus.Write([]byte{reg}); err != nil {
		return 0, fmt.Errorf("select register 0x%02x: %w", reg, err)
	}
	buf := make([]byte, 2)
	if err := c.bus.Read(buf); err != nil {
		return 0, fmt.Errorf("read register 0x%02x: %w", reg, err)
	}
	return binary.BigEndian.Uint16(buf), nil
}

func (c *chip) writeRegister(reg uint8, value uint16) error {
	buf := []byte{reg, 0, 0}
	binary.BigEndian.PutUint16(buf[1:], value)
	if err := c.bus.Write(buf); err != nil {
		return fmt.Errorf("write register 0x%02x: %w", reg, err)
	}
	return nil
}

func (c *chip) setMode(mode uint16) error {
	config, err := c.readRegister(regConfig)
	if err != nil {
		return err
	}
	return c.writeRegister(regConfig, config&^modeMask|mode)
}

// withAwake runs fn with the chip in continuous mode and always puts it
// back into power-down afterwards, including when waking or fn fails or
// panics. A power-down failure is joined to fn's error.
func withAwake(c *chip, fn func() error) (err error) {
	defer func() {
		if serr := c.setMode(modePowerDown); serr != nil {
			err = errors.Join(err, fmt.Errorf("power down: %w", serr))
		}
	}()

	if err := c.setMode(modeContinuous); err != nil {
		return fmt.Errorf("wake: %w", err)
	}
	time.Sleep(wakeDelay)
	return fn()
}
