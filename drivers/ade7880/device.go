package ade7880

import (
	"errors"
	"sync/atomic"

	"tinygo.org/x/drivers"
)

// State is the driver's view of the chip.
type State uint32

const (
	StatePoweredOff State = iota
	StateAwaitingInit
	StateInitializing
	StateRunning
)

func (s State) String() string {
	switch s {
	case StatePoweredOff:
		return "powered_off"
	case StateAwaitingInit:
		return "awaiting_init"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

var (
	ErrBusy       = errors.New("ade7880: initialization already armed or in progress")
	ErrNotArmed   = errors.New("ade7880: initialization not armed")
	ErrNotRunning = errors.New("ade7880: device not running")
	ErrRunning    = errors.New("ade7880: device already running")
)

// Stats counts register transactions since construction.
type Stats struct {
	Writes   uint32
	Reads    uint32
	Failures uint32
}

// Device represents one ADE7880 on a serial bus.
type Device struct {
	tr   Transport
	addr uint16
	cfg  Config

	// Written only by the initializer; the poller only loads it.
	state atomic.Uint32
	armed atomic.Bool

	// Owned by the initializing/polling goroutine.
	lastErr error
	verify  VerifyReport
	stats   Stats

	// Fixed buffers to avoid per-call heap allocations.
	w [6]byte
	r [4]byte
}

// New constructs a Device on an I2C bus. It does not touch the bus; the chip
// needs its power-on settling time before Initialize. cfg is not validated
// here; Initialize rejects an invalid one before the first transaction.
func New(bus drivers.I2C, cfg Config) *Device {
	cfg = cfg.withDefaults()
	return NewWithTransport(I2CTransport(bus, cfg.Address), cfg)
}

// NewWithTransport constructs a Device on an arbitrary byte transport.
func NewWithTransport(tr Transport, cfg Config) *Device {
	cfg = cfg.withDefaults()
	d := &Device{tr: tr, addr: cfg.Address, cfg: cfg}
	d.state.Store(uint32(StatePoweredOff))
	d.state.Store(uint32(StateAwaitingInit))
	return d
}

// Introspection.
func (d *Device) State() State             { return State(d.state.Load()) }
func (d *Device) Running() bool            { return d.State() == StateRunning }
func (d *Device) Config() Config           { return d.cfg }
func (d *Device) Address() uint16          { return d.addr }
func (d *Device) Stats() Stats             { return d.stats }
func (d *Device) LastError() error         { return d.lastErr }
func (d *Device) LastVerify() VerifyReport { return d.verify }
func (d *Device) Armed() bool              { return d.armed.Load() }

// Arm reserves the next initialization attempt and returns the device to
// StateAwaitingInit. A second Arm before that attempt finishes is rejected,
// as is arming a running device.
func (d *Device) Arm() error {
	if d.Running() {
		return ErrRunning
	}
	if !d.armed.CompareAndSwap(false, true) {
		return ErrBusy
	}
	d.state.Store(uint32(StateAwaitingInit))
	return nil
}

// begin moves AwaitingInit -> Initializing exactly once per attempt.
func (d *Device) begin() error {
	if d.state.CompareAndSwap(uint32(StateAwaitingInit), uint32(StateInitializing)) {
		d.armed.Store(true)
		return nil
	}
	if d.armed.Load() {
		return ErrBusy
	}
	return ErrNotArmed
}

func (d *Device) finish(err error) {
	d.lastErr = err
	if err == nil {
		d.state.Store(uint32(StateRunning))
	}
	d.armed.Store(false)
}
