package ade7880

import (
	"errors"
	"strconv"

	"tinygo.org/x/drivers"
)

// Transport moves raw bytes to and from the chip. Send transmits one frame;
// Receive fills p and reports how many bytes arrived.
type Transport interface {
	Send(p []byte) error
	Receive(p []byte) (int, error)
}

// i2cTransport binds a tinygo I2C bus to the fixed device address. Each
// Send and Receive is its own bus transaction.
type i2cTransport struct {
	bus  drivers.I2C
	addr uint16
}

func (t i2cTransport) Send(p []byte) error { return t.bus.Tx(t.addr, p, nil) }

func (t i2cTransport) Receive(p []byte) (int, error) {
	if err := t.bus.Tx(t.addr, nil, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// I2CTransport exposes the I2C binding used by New.
func I2CTransport(bus drivers.I2C, addr uint16) Transport {
	if addr == 0 {
		addr = AddressDefault
	}
	return i2cTransport{bus: bus, addr: addr}
}

var (
	ErrTransport = errors.New("ade7880: transport failure")
	ErrShortRead = errors.New("ade7880: short read")
)

// RegError reports a failed register transaction. It matches ErrTransport
// and the underlying cause with errors.Is.
type RegError struct {
	Op  string // "write", "select" or "read"
	Reg Register
	Err error
}

func (e *RegError) Error() string {
	return "ade7880: " + e.Op + " " + e.Reg.Name + " (0x" + strconv.FormatUint(uint64(e.Reg.Addr), 16) + "): " + e.Err.Error()
}

func (e *RegError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// writeReg transmits one complete write frame for r.
func (d *Device) writeReg(r Register, v uint32) error {
	frame := appendWrite(d.w[:0], r.Addr, r.Width, v)
	d.stats.Writes++
	if err := d.tr.Send(frame); err != nil {
		d.stats.Failures++
		return &RegError{Op: "write", Reg: r, Err: err}
	}
	return nil
}

// readReg selects r and then reads its payload. A failed select abandons
// the transaction: the chip's read pointer is unset, so no payload read is
// attempted.
func (d *Device) readReg(r Register) (uint32, error) {
	d.stats.Reads++
	if err := d.tr.Send(appendAddr(d.w[:0], r.Addr)); err != nil {
		d.stats.Failures++
		return 0, &RegError{Op: "select", Reg: r, Err: err}
	}
	buf := d.r[:r.Width]
	n, err := d.tr.Receive(buf)
	if err == nil && n < len(buf) {
		err = ErrShortRead
	}
	if err != nil {
		d.stats.Failures++
		return 0, &RegError{Op: "read", Reg: r, Err: err}
	}
	return decodeRead(buf), nil
}

// readSigned reads r and sign-extends it from its significant bits.
func (d *Device) readSigned(r Register) (int32, error) {
	v, err := d.readReg(r)
	if err != nil {
		return 0, err
	}
	return signExtend(v, r), nil
}

func signExtend(v uint32, r Register) int32 {
	bits := uint(r.Bits)
	if bits == 0 || bits >= 32 {
		return int32(v)
	}
	shift := 32 - bits
	return int32(v<<shift) >> shift
}
