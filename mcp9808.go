// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mcp9808

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// Hysteresis selects the temperature band applied below the alert limits to
// keep the alert output from oscillating when the temperature drifts around
// a boundary. It applies for decreasing temperature only.
type Hysteresis byte

const (
	Hysteresis0C  Hysteresis = iota // 0°C, the power-up default.
	Hysteresis1C5                   // +1.5°C
	Hysteresis3C                    // +3°C
	Hysteresis6C                    // +6°C
)

// PowerMode selects between continuous conversion and shutdown.
type PowerMode byte

const (
	// Continuous conversion, the power-up default.
	Continuous PowerMode = iota
	// Shutdown disables all power-consuming activities. The registers remain
	// readable and writable. The device refuses to enter shutdown while a
	// lock bit is set.
	Shutdown
)

// Resolution selects the step size of the ambient temperature register.
// Finer resolutions take longer to convert.
type Resolution byte

const (
	Half      Resolution = iota // 0.5°C, ~30ms conversion time.
	Quarter                     // 0.25°C, ~65ms
	Eighth                      // 0.125°C, ~130ms
	Sixteenth                   // 0.0625°C, ~250ms, the power-up default.
)

// AlertMode selects how the alert output pin behaves when a limit is
// crossed.
type AlertMode byte

const (
	// ModeComparator deasserts the output by itself once the temperature
	// drops back inside the limits (minus hysteresis).
	ModeComparator AlertMode = 0
	// ModeInterrupt keeps the output asserted until ClearInterrupt is
	// called.
	ModeInterrupt AlertMode = 1
)

const (
	// Register addresses. All registers except resolution are 16 bit,
	// MSB first.
	regConfiguration  byte = 0x01
	regUpperLimit     byte = 0x02
	regLowerLimit     byte = 0x03
	regCriticalLimit  byte = 0x04
	regTemperature    byte = 0x05
	regManufacturerID byte = 0x06
	regDeviceID       byte = 0x07
	regResolution     byte = 0x08

	// Bit fields of the configuration register.
	configAlertMode      uint16 = 1 << 0
	configAlertPolarity  uint16 = 1 << 1
	configAlertSelect    uint16 = 1 << 2
	configAlertControl   uint16 = 1 << 3
	configAlertStatus    uint16 = 1 << 4
	configInterruptClear uint16 = 1 << 5
	configWindowLock     uint16 = 1 << 6
	configCriticalLock   uint16 = 1 << 7
	configShutdown       uint16 = 1 << 8
	configHysteresisPos         = 9
	configHysteresisMask uint16 = 3 << configHysteresisPos

	// Limit comparison flags packed in the top 3 bits of the ambient
	// temperature register.
	statusAboveCritical uint16 = 1 << 15
	statusAboveUpper    uint16 = 1 << 14
	statusBelowLower    uint16 = 1 << 13

	// One count of the temperature registers is 1/16°C.
	degreesResolution physic.Temperature = 62_500 * physic.MicroKelvin

	// The limit registers hold 0.25°C steps; the two low fraction bits and
	// the bits above the sign stay clear.
	limitMask uint16 = 0x1ffc

	expectedManufacturerID uint16 = 0x0054
	expectedDeviceID       byte   = 0x04

	// DefaultAddress is the I²C address with the A0-A2 strapping pins low.
	// Strapping selects addresses up to 0x1f.
	DefaultAddress i2c.Addr = 0x18
	maxAddress     i2c.Addr = 0x1f

	// MinimumLimit is the lowest temperature the limit registers accept.
	MinimumLimit physic.Temperature = physic.ZeroCelsius - 40*physic.Kelvin
	// MaximumLimit is the highest temperature the limit registers accept.
	MaximumLimit physic.Temperature = physic.ZeroCelsius + 125*physic.Kelvin
)

var (
	errInvalidAddress    = errors.New("mcp9808: address must be in 0x18-0x1f")
	errInvalidHysteresis = errors.New("mcp9808: invalid hysteresis setting")
	errInvalidPowerMode  = errors.New("mcp9808: invalid power mode")
	errInvalidResolution = errors.New("mcp9808: invalid resolution setting")
	errLimitOutOfRange   = errors.New("mcp9808: limit temperature out of range")
)

// Worst case conversion time for each resolution, per the datasheet.
var conversionTimes = []time.Duration{
	30 * time.Millisecond,
	65 * time.Millisecond,
	130 * time.Millisecond,
	250 * time.Millisecond,
}

var resolutionSteps = []physic.Temperature{
	8 * degreesResolution,
	4 * degreesResolution,
	2 * degreesResolution,
	degreesResolution,
}

// Opts holds the configuration written to the device at startup.
type Opts struct {
	Resolution Resolution
	Hysteresis Hysteresis
	// Limit registers to program at startup. A zero value leaves the
	// register untouched.
	UpperLimit    physic.Temperature
	LowerLimit    physic.Temperature
	CriticalLimit physic.Temperature
}

// AlertStatus holds the limit comparison flags sampled together with an
// ambient temperature reading.
type AlertStatus struct {
	AboveCritical bool
	AboveUpper    bool
	BelowLower    bool
}

// AlertConfig describes the alert output pin configuration.
type AlertConfig struct {
	// Enabled drives the alert output when a limit is crossed.
	Enabled bool
	// CriticalOnly restricts the output to the critical limit; the upper
	// and lower window limits are ignored.
	CriticalOnly bool
	// ActiveHigh selects active-high polarity. The default is active-low,
	// which needs a pull-up resistor.
	ActiveHigh bool
	Mode       AlertMode
}

// Dev represents an MCP9808 sensor.
type Dev struct {
	d        *i2c.Dev
	mu       sync.Mutex
	opts     *Opts
	res      Resolution
	shutdown chan struct{}
	halted   bool
}

// NewI2C returns a new MCP9808 sensor using the specified bus and address.
// If opts is nil, the device power-up defaults are kept. The device identity
// is verified through the manufacturer and device ID registers before any
// configuration is written.
func NewI2C(b i2c.Bus, addr i2c.Addr, opts *Opts) (*Dev, error) {
	if addr < DefaultAddress || addr > maxAddress {
		return nil, errInvalidAddress
	}
	if opts == nil {
		opts = &Opts{Resolution: Sixteenth}
	}
	if opts.Resolution > Sixteenth {
		return nil, errInvalidResolution
	}
	if opts.Hysteresis > Hysteresis6C {
		return nil, errInvalidHysteresis
	}
	dev := &Dev{d: &i2c.Dev{Bus: b, Addr: uint16(addr)}, opts: opts, res: opts.Resolution}
	return dev, dev.start()
}

// start verifies the device identity and programs the startup configuration.
func (dev *Dev) start() error {
	mfg, id, _, err := dev.DeviceID()
	if err != nil {
		return err
	}
	if mfg != expectedManufacturerID || id != expectedDeviceID {
		return fmt.Errorf("mcp9808: unexpected device id 0x%04x/0x%02x", mfg, id)
	}
	bits := uint16(dev.opts.Hysteresis) << configHysteresisPos
	if err := dev.updateConfiguration(configShutdown|configHysteresisMask, bits); err != nil {
		return err
	}
	if err := dev.writeResolution(dev.opts.Resolution); err != nil {
		return err
	}
	limits := []struct {
		reg byte
		t   physic.Temperature
	}{
		{regUpperLimit, dev.opts.UpperLimit},
		{regLowerLimit, dev.opts.LowerLimit},
		{regCriticalLimit, dev.opts.CriticalLimit},
	}
	for _, limit := range limits {
		if limit.t == 0 {
			continue
		}
		if err := dev.setLimit(limit.reg, limit.t); err != nil {
			return err
		}
	}
	dev.halted = false
	return nil
}

func (dev *Dev) readRegUint16(reg byte) (uint16, error) {
	r := make([]byte, 2)
	if err := dev.d.Tx([]byte{reg}, r); err != nil {
		return 0, fmt.Errorf("mcp9808: %w", err)
	}
	return uint16(r[0])<<8 | uint16(r[1]), nil
}

func (dev *Dev) writeRegUint16(reg byte, value uint16) error {
	if err := dev.d.Tx([]byte{reg, byte(value >> 8), byte(value & 0xff)}, nil); err != nil {
		return fmt.Errorf("mcp9808: %w", err)
	}
	return nil
}

// updateConfiguration reads the configuration register, replaces the bits
// selected by mask and writes the full word back, leaving the unrelated
// fields untouched.
func (dev *Dev) updateConfiguration(mask, bits uint16) error {
	current, err := dev.readRegUint16(regConfiguration)
	if err != nil {
		return err
	}
	return dev.writeRegUint16(regConfiguration, current&^mask|bits)
}

// countToTemperature decodes the 13 bit two's complement value shared by the
// ambient and limit registers. One count is 1/16°C.
func countToTemperature(raw uint16) physic.Temperature {
	count := int16(raw<<3) >> 3
	return physic.ZeroCelsius + physic.Temperature(count)*degreesResolution
}

// temperatureToCount encodes a limit temperature, truncated to the 0.25°C
// granularity of the limit registers.
func temperatureToCount(t physic.Temperature) uint16 {
	count := int16((t - physic.ZeroCelsius) / degreesResolution)
	return uint16(count) & limitMask
}

// Temperature returns the ambient temperature along with the limit
// comparison flags that were sampled with it.
func (dev *Dev) Temperature() (physic.Temperature, AlertStatus, error) {
	raw, err := dev.readRegUint16(regTemperature)
	if err != nil {
		return 0, AlertStatus{}, err
	}
	status := AlertStatus{
		AboveCritical: raw&statusAboveCritical != 0,
		AboveUpper:    raw&statusAboveUpper != 0,
		BelowLower:    raw&statusBelowLower != 0,
	}
	return countToTemperature(raw), status, nil
}

// Hysteresis returns the limit hysteresis band currently programmed.
func (dev *Dev) Hysteresis() (Hysteresis, error) {
	config, err := dev.readRegUint16(regConfiguration)
	if err != nil {
		return Hysteresis0C, err
	}
	return Hysteresis(config >> configHysteresisPos & 3), nil
}

// SetHysteresis programs the limit hysteresis band. The other configuration
// fields are preserved. The field cannot be altered while a lock bit is set.
func (dev *Dev) SetHysteresis(h Hysteresis) error {
	if h > Hysteresis6C {
		return errInvalidHysteresis
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.updateConfiguration(configHysteresisMask, uint16(h)<<configHysteresisPos)
}

// PowerMode returns the current conversion mode.
func (dev *Dev) PowerMode() (PowerMode, error) {
	config, err := dev.readRegUint16(regConfiguration)
	if err != nil {
		return Continuous, err
	}
	if config&configShutdown != 0 {
		return Shutdown, nil
	}
	return Continuous, nil
}

// SetPowerMode switches between continuous conversion and shutdown. The
// other configuration fields are preserved.
func (dev *Dev) SetPowerMode(mode PowerMode) error {
	if mode > Shutdown {
		return errInvalidPowerMode
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	var bits uint16
	if mode == Shutdown {
		bits = configShutdown
	}
	if err := dev.updateConfiguration(configShutdown, bits); err != nil {
		return err
	}
	dev.halted = mode == Shutdown
	return nil
}

// Resolution returns the ambient temperature resolution.
func (dev *Dev) Resolution() (Resolution, error) {
	r := make([]byte, 1)
	if err := dev.d.Tx([]byte{regResolution}, r); err != nil {
		return Half, fmt.Errorf("mcp9808: %w", err)
	}
	return Resolution(r[0] & 3), nil
}

// SetResolution programs the ambient temperature resolution. The resolution
// register is dedicated, so no read-modify-write is needed.
func (dev *Dev) SetResolution(res Resolution) error {
	if res > Sixteenth {
		return errInvalidResolution
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.writeResolution(res); err != nil {
		return err
	}
	dev.res = res
	return nil
}

func (dev *Dev) writeResolution(res Resolution) error {
	if err := dev.d.Tx([]byte{regResolution, byte(res)}, nil); err != nil {
		return fmt.Errorf("mcp9808: %w", err)
	}
	return nil
}

// SetUpperLimit programs the upper alert limit. The write is refused while
// the window lock bit is set.
func (dev *Dev) SetUpperLimit(t physic.Temperature) error {
	return dev.setLimit(regUpperLimit, t)
}

// SetLowerLimit programs the lower alert limit.
func (dev *Dev) SetLowerLimit(t physic.Temperature) error {
	return dev.setLimit(regLowerLimit, t)
}

// SetCriticalLimit programs the critical alert limit. The write is refused
// while the critical lock bit is set.
func (dev *Dev) SetCriticalLimit(t physic.Temperature) error {
	return dev.setLimit(regCriticalLimit, t)
}

// UpperLimit returns the programmed upper alert limit.
func (dev *Dev) UpperLimit() (physic.Temperature, error) {
	return dev.limit(regUpperLimit)
}

// LowerLimit returns the programmed lower alert limit.
func (dev *Dev) LowerLimit() (physic.Temperature, error) {
	return dev.limit(regLowerLimit)
}

// CriticalLimit returns the programmed critical alert limit.
func (dev *Dev) CriticalLimit() (physic.Temperature, error) {
	return dev.limit(regCriticalLimit)
}

func (dev *Dev) setLimit(reg byte, t physic.Temperature) error {
	if t < MinimumLimit || t > MaximumLimit {
		return errLimitOutOfRange
	}
	return dev.writeRegUint16(reg, temperatureToCount(t))
}

func (dev *Dev) limit(reg byte) (physic.Temperature, error) {
	raw, err := dev.readRegUint16(reg)
	if err != nil {
		return 0, err
	}
	return countToTemperature(raw), nil
}

// DeviceID returns the manufacturer ID, device ID and die revision from the
// read-only identification registers.
func (dev *Dev) DeviceID() (mfg uint16, id, revision uint8, err error) {
	mfg, err = dev.readRegUint16(regManufacturerID)
	if err != nil {
		return 0, 0, 0, err
	}
	word, err := dev.readRegUint16(regDeviceID)
	if err != nil {
		return 0, 0, 0, err
	}
	return mfg, uint8(word >> 8), uint8(word & 0xff), nil
}

// SetAlertOutput configures the alert output pin. The enable, polarity and
// mode bits cannot be altered while a lock bit is set.
func (dev *Dev) SetAlertOutput(cfg AlertConfig) error {
	var bits uint16
	if cfg.Enabled {
		bits |= configAlertControl
	}
	if cfg.CriticalOnly {
		bits |= configAlertSelect
	}
	if cfg.ActiveHigh {
		bits |= configAlertPolarity
	}
	if cfg.Mode == ModeInterrupt {
		bits |= configAlertMode
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	mask := configAlertControl | configAlertSelect | configAlertPolarity | configAlertMode
	return dev.updateConfiguration(mask, bits)
}

// AlertOutput returns the alert output pin configuration.
func (dev *Dev) AlertOutput() (AlertConfig, error) {
	config, err := dev.readRegUint16(regConfiguration)
	if err != nil {
		return AlertConfig{}, err
	}
	cfg := AlertConfig{
		Enabled:      config&configAlertControl != 0,
		CriticalOnly: config&configAlertSelect != 0,
		ActiveHigh:   config&configAlertPolarity != 0,
	}
	if config&configAlertMode != 0 {
		cfg.Mode = ModeInterrupt
	}
	return cfg, nil
}

// AlertAsserted reports whether the device is currently driving its alert
// output.
func (dev *Dev) AlertAsserted() (bool, error) {
	config, err := dev.readRegUint16(regConfiguration)
	return config&configAlertStatus != 0, err
}

// ClearInterrupt releases the alert output after an interrupt mode alert has
// been serviced. It has no effect in comparator mode.
func (dev *Dev) ClearInterrupt() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.updateConfiguration(configInterruptClear, configInterruptClear)
}

// LockWindow locks the upper and lower limit registers. The lock only
// clears on power-on reset.
func (dev *Dev) LockWindow() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.updateConfiguration(configWindowLock, configWindowLock)
}

// LockCritical locks the critical limit register until power-on reset.
func (dev *Dev) LockCritical() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.updateConfiguration(configCriticalLock, configCriticalLock)
}

// Locks reports the window and critical lock bits.
func (dev *Dev) Locks() (window, critical bool, err error) {
	config, err := dev.readRegUint16(regConfiguration)
	return config&configWindowLock != 0, config&configCriticalLock != 0, err
}

// Sense reads the ambient temperature into env. If the device was halted it
// is returned to continuous conversion first. Implements physic.SenseEnv.
func (dev *Dev) Sense(env *physic.Env) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.halted {
		if err := dev.updateConfiguration(configShutdown, 0); err != nil {
			return err
		}
		dev.halted = false
	}
	t, _, err := dev.Temperature()
	if err != nil {
		return err
	}
	env.Temperature = t
	env.Pressure = 0
	env.Humidity = 0
	return nil
}

// SenseContinuous continuously reads from the device and writes the value to
// the returned channel. Implements physic.SenseEnv. To terminate the
// continuous read, call Halt().
//
// If interval is shorter than the conversion time at the configured
// resolution, an error is returned.
func (dev *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	channelSize := 16
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.shutdown != nil {
		return nil, errors.New("mcp9808: SenseContinuous already running")
	}
	if interval < conversionTimes[dev.res] {
		return nil, fmt.Errorf("mcp9808: interval is shorter than the %s conversion time", conversionTimes[dev.res])
	}
	dev.shutdown = make(chan struct{})
	ch := make(chan physic.Env, channelSize)
	go func(ch chan physic.Env, shutdown <-chan struct{}) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(ch)
		for {
			select {
			case <-shutdown:
				return
			case <-ticker.C:
				env := physic.Env{}
				// Drop the reading when nobody drains the channel.
				if err := dev.Sense(&env); err == nil && len(ch) < channelSize {
					ch <- env
				}
			}
		}
	}(ch, dev.shutdown)
	return ch, nil
}

// Precision returns the smallest temperature step at the configured
// resolution. Implements physic.SenseEnv.
func (dev *Dev) Precision(env *physic.Env) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	env.Temperature = resolutionSteps[dev.res]
	env.Pressure = 0
	env.Humidity = 0
}

// Halt stops any running SenseContinuous and places the device in shutdown.
// Implements conn.Resource.
func (dev *Dev) Halt() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.shutdown != nil {
		close(dev.shutdown)
		dev.shutdown = nil
	}
	if dev.halted {
		return nil
	}
	if err := dev.updateConfiguration(configShutdown, configShutdown); err != nil {
		return err
	}
	dev.halted = true
	return nil
}

func (dev *Dev) String() string {
	return fmt.Sprintf("mcp9808: %s", dev.d.String())
}

func (h Hysteresis) String() string {
	return [...]string{"0°C", "+1.5°C", "+3°C", "+6°C"}[h&3]
}

func (m PowerMode) String() string {
	if m == Shutdown {
		return "shutdown"
	}
	return "continuous"
}

func (r Resolution) String() string {
	return [...]string{"0.5°C", "0.25°C", "0.125°C", "0.0625°C"}[r&3]
}

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
