// drivers/ade7880/adetest/chip.go

// Package adetest provides an in-memory ADE7880 that speaks the register
// protocol over tinygo's drivers.I2C. It is used by the driver and service
// tests and by the host binary's -simulate mode.
package adetest

import (
	"errors"
	"sync"

	"ade7880-go/drivers/ade7880"

	"tinygo.org/x/drivers"
)

var _ drivers.I2C = (*Chip)(nil)

var (
	// ErrInjected is returned by Tx for injected failures.
	ErrInjected = errors.New("adetest: injected bus failure")
	// ErrFrameWidth reports a payload length that disagrees with the register.
	ErrFrameWidth = errors.New("adetest: payload width mismatch")
)

// Op classifies a transaction seen by the chip.
type Op uint8

const (
	OpWrite  Op = iota // address + payload
	OpSelect           // address only
	OpRead             // payload read from the selected register
)

func (o Op) String() string {
	switch o {
	case OpWrite:
		return "write"
	case OpSelect:
		return "select"
	case OpRead:
		return "read"
	default:
		return "?"
	}
}

// Tx is one recorded bus transaction.
type Tx struct {
	Op    Op
	Addr  uint16 // register address (the selected one for reads)
	Value uint32 // written or returned value
	Len   int    // payload bytes
	Err   error
}

// Chip is a register-level ADE7880 simulation.
//
// Writes land in a flat register memory. Selects move the read pointer; a
// read returns the pointed register's value truncated to the requested
// length, big-endian. Energy accumulators clear on read. Writes to the RAM
// region are dropped once the protection key/control pair has been written,
// as on the real part.
//
// Live measurement registers (xVRMS, xIRMS, xWATT) set with Set stand in for
// the DSP output: once RUN is set, reads return them regardless of what the
// start-up sequence wrote to the same addresses.
type Chip struct {
	mu      sync.Mutex
	addr    uint16
	mem     map[uint16]uint32
	live    map[uint16]uint32
	widths  map[uint16]ade7880.Width
	clear   map[uint16]bool
	ptr     uint16
	ptrOK   bool
	keyed   bool
	locked  bool
	log     []Tx
	failIdx map[int]bool
	failFn  func(n int, t Tx) bool
	runAddr uint16
}

// NewChip returns a chip answering on ade7880.AddressDefault.
func NewChip() *Chip {
	c := &Chip{
		addr:    ade7880.AddressDefault,
		mem:     make(map[uint16]uint32),
		live:    make(map[uint16]uint32),
		widths:  make(map[uint16]ade7880.Width),
		clear:   make(map[uint16]bool),
		failIdx: make(map[int]bool),
	}
	for _, r := range ade7880.Registers() {
		c.widths[r.Addr] = r.Width
		if r.Access == ade7880.AccessReadClear {
			c.clear[r.Addr] = true
		}
	}
	for _, ch := range ade7880.Channels() {
		r, _ := ch.Register()
		c.live[r.Addr] = 0
	}
	if r, ok := ade7880.Lookup("RUN"); ok {
		c.runAddr = r.Addr
	}
	return c
}

// running reports whether the DSP has been started via RUN.
func (c *Chip) running() bool { return c.mem[c.runAddr]&1 != 0 }

// value is what a read of addr returns.
func (c *Chip) value(addr uint16) uint32 {
	if v, ok := c.live[addr]; ok && c.running() {
		return v
	}
	return c.mem[addr]
}

// Tx implements drivers.I2C.
func (c *Chip) Tx(addr uint16, w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.classify(w, r)
	n := len(c.log)
	if addr != c.addr {
		t.Err = errors.New("adetest: no device at address")
	} else if c.failIdx[n] || (c.failFn != nil && c.failFn(n, t)) {
		t.Err = ErrInjected
	}
	if t.Err == nil {
		t.Err = c.checkWidth(t)
	}
	if t.Err != nil {
		// A failed select leaves the pointer unset.
		if t.Op == OpSelect {
			c.ptrOK = false
		}
		c.log = append(c.log, t)
		return t.Err
	}

	switch t.Op {
	case OpWrite:
		c.store(t.Addr, t.Value)
	case OpSelect:
		c.ptr, c.ptrOK = t.Addr, true
	case OpRead:
		if !c.ptrOK {
			t.Err = errors.New("adetest: read without select")
			c.log = append(c.log, t)
			return t.Err
		}
		t.Addr = c.ptr
		t.Value = c.value(c.ptr)
		for i := range r {
			r[i] = byte(t.Value >> (uint(len(r)-1-i) * 8))
		}
		if c.clear[c.ptr] {
			c.mem[c.ptr] = 0
		}
	}
	c.log = append(c.log, t)
	return nil
}

func (c *Chip) classify(w, r []byte) Tx {
	switch {
	case len(r) > 0:
		return Tx{Op: OpRead, Len: len(r)}
	case len(w) == 2:
		return Tx{Op: OpSelect, Addr: uint16(w[0])<<8 | uint16(w[1])}
	default:
		t := Tx{Op: OpWrite, Len: len(w) - 2}
		if len(w) >= 2 {
			t.Addr = uint16(w[0])<<8 | uint16(w[1])
		}
		for _, b := range w[min(2, len(w)):] {
			t.Value = t.Value<<8 | uint32(b)
		}
		return t
	}
}

// checkWidth rejects frames whose payload does not match the register
// table, the way the real part would clock garbage into the wrong bytes.
func (c *Chip) checkWidth(t Tx) error {
	addr := t.Addr
	switch t.Op {
	case OpSelect:
		return nil
	case OpRead:
		if !c.ptrOK {
			return nil
		}
		addr = c.ptr
	}
	if w, ok := c.widths[addr]; ok && int(w) != t.Len {
		return ErrFrameWidth
	}
	return nil
}

func (c *Chip) store(addr uint16, v uint32) {
	switch addr {
	case 0xE7FE:
		c.keyed = v == 0xAD
		return
	case 0xE7E3:
		if c.keyed && v == 0x80 {
			c.locked = true
		}
		c.keyed = false
		return
	}
	if c.locked && addr >= 0x4380 && addr <= 0x43BF {
		return
	}
	c.mem[addr] = v
}

// SetAddress changes the I2C address the chip answers on.
func (c *Chip) SetAddress(a uint16) {
	c.mu.Lock()
	c.addr = a
	c.mu.Unlock()
}

// Set stores a raw register value, masked to the register's significant
// bits. Live measurement registers keep the value as DSP output, served once
// the DSP runs; other registers are written to memory directly.
func (c *Chip) Set(name string, v uint32) {
	r, ok := ade7880.Lookup(name)
	if !ok {
		panic("adetest: unknown register " + name)
	}
	c.mu.Lock()
	if _, ok := c.live[r.Addr]; ok {
		c.live[r.Addr] = v & r.Mask()
	} else {
		c.mem[r.Addr] = v & r.Mask()
	}
	c.mu.Unlock()
}

// Get returns what a read of the register would return now.
func (c *Chip) Get(name string) uint32 {
	r, ok := ade7880.Lookup(name)
	if !ok {
		panic("adetest: unknown register " + name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value(r.Addr)
}

// Locked reports whether the RAM protection sequence has been seen.
func (c *Chip) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

// FailAt makes the n-th transaction (0-based, counted across the whole log)
// fail.
func (c *Chip) FailAt(n ...int) {
	c.mu.Lock()
	for _, i := range n {
		c.failIdx[i] = true
	}
	c.mu.Unlock()
}

// FailWhen installs a predicate evaluated for every transaction before it
// is applied. Passing nil removes it.
func (c *Chip) FailWhen(fn func(n int, t Tx) bool) {
	c.mu.Lock()
	c.failFn = fn
	c.mu.Unlock()
}

// Log returns a copy of all transactions so far.
func (c *Chip) Log() []Tx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tx(nil), c.log...)
}

// Reset clears the log and failure injection. Register memory is kept.
func (c *Chip) Reset() {
	c.mu.Lock()
	c.log = nil
	c.failIdx = make(map[int]bool)
	c.failFn = nil
	c.mu.Unlock()
}

// Count returns how many logged transactions have the given op. Failed
// transactions are included.
func (c *Chip) Count(op Op) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.log {
		if t.Op == op {
			n++
		}
	}
	return n
}

// Writes returns the successful write transactions to addr.
func (c *Chip) Writes(addr uint16) []Tx {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Tx
	for _, t := range c.log {
		if t.Op == OpWrite && t.Addr == addr && t.Err == nil {
			out = append(out, t)
		}
	}
	return out
}

// LoadNominal fills the live registers with plausible mains readings:
// roughly 230 V, 5 A and 1150 W on every phase, 0.2 A on the neutral.
func (c *Chip) LoadNominal() {
	vfs, ifs := 500.5, 49.4975
	codes := func(x, fs, full float64) uint32 { return uint32(x / fs * full) }
	v := codes(230, vfs, ade7880.FullScaleCodes)
	i := codes(5, ifs, ade7880.FullScaleCodes)
	p := codes(1150, vfs*ifs, ade7880.PowerFullScaleCodes)
	n := codes(0.2, ifs, ade7880.FullScaleCodes)
	for _, ph := range []string{"A", "B", "C"} {
		c.Set(ph+"VRMS", v)
		c.Set(ph+"IRMS", i)
		c.Set(ph+"WATT", p)
	}
	c.Set("NIRMS", n)
}
