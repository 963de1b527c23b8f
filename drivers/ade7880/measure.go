package ade7880

import "errors"

// Quantity is a measured electrical quantity.
type Quantity uint8

const (
	Voltage Quantity = iota
	Current
	ActivePower
)

func (q Quantity) String() string {
	switch q {
	case Voltage:
		return "voltage"
	case Current:
		return "current"
	case ActivePower:
		return "active_power"
	default:
		return "unknown"
	}
}

// Unit returns the SI symbol for q.
func (q Quantity) Unit() string {
	switch q {
	case Voltage:
		return "V"
	case Current:
		return "A"
	case ActivePower:
		return "W"
	default:
		return ""
	}
}

// Phase selects a line conductor or the neutral.
type Phase uint8

const (
	PhaseA Phase = iota
	PhaseB
	PhaseC
	PhaseN
)

func (p Phase) String() string {
	switch p {
	case PhaseA:
		return "a"
	case PhaseB:
		return "b"
	case PhaseC:
		return "c"
	case PhaseN:
		return "n"
	default:
		return "?"
	}
}

// Channel is one pollable output: a quantity on a phase.
type Channel struct {
	Quantity Quantity
	Phase    Phase
}

// String returns the configuration key, e.g. "voltage_a".
func (c Channel) String() string { return c.Quantity.String() + "_" + c.Phase.String() }

// channelRegs maps every supported channel to its live register.
var channelRegs = map[Channel]Register{
	{Voltage, PhaseA}:     regAVRMS,
	{Voltage, PhaseB}:     regBVRMS,
	{Voltage, PhaseC}:     regCVRMS,
	{Current, PhaseA}:     regAIRMS,
	{Current, PhaseB}:     regBIRMS,
	{Current, PhaseC}:     regCIRMS,
	{Current, PhaseN}:     regNIRMS,
	{ActivePower, PhaseA}: regAWATT,
	{ActivePower, PhaseB}: regBWATT,
	{ActivePower, PhaseC}: regCWATT,
}

// Channels lists every supported channel in poll order.
func Channels() []Channel {
	return []Channel{
		{Voltage, PhaseA}, {Voltage, PhaseB}, {Voltage, PhaseC},
		{Current, PhaseA}, {Current, PhaseB}, {Current, PhaseC}, {Current, PhaseN},
		{ActivePower, PhaseA}, {ActivePower, PhaseB}, {ActivePower, PhaseC},
	}
}

// ParseChannel resolves a configuration key such as "current_n".
func ParseChannel(s string) (Channel, bool) {
	for _, c := range Channels() {
		if c.String() == s {
			return c, true
		}
	}
	return Channel{}, false
}

// Register returns the live register behind c.
func (c Channel) Register() (Register, bool) {
	r, ok := channelRegs[c]
	return r, ok
}

var ErrUnknownChannel = errors.New("ade7880: unknown channel")

// Reading is one polled channel. Err is set when the read failed; Value is
// then zero and must not be published.
type Reading struct {
	Channel Channel
	Raw     int32
	Value   float32
	Err     error
}

func (d *Device) scaleFor(q Quantity) Scale {
	switch q {
	case Voltage:
		return d.cfg.VoltageScale
	case Current:
		return d.cfg.CurrentScale
	default:
		return d.cfg.PowerScale
	}
}

// ReadChannel reads and scales a single channel.
func (d *Device) ReadChannel(c Channel) (float32, error) {
	r := d.readChannel(c)
	return r.Value, r.Err
}

func (d *Device) readChannel(c Channel) Reading {
	out := Reading{Channel: c}
	if !d.Running() {
		out.Err = ErrNotRunning
		return out
	}
	reg, ok := channelRegs[c]
	if !ok {
		out.Err = ErrUnknownChannel
		return out
	}
	var raw int32
	var err error
	if reg.Signed {
		raw, err = d.readSigned(reg)
	} else {
		var u uint32
		u, err = d.readReg(reg)
		raw = int32(u & reg.Mask())
	}
	if err != nil {
		out.Err = err
		return out
	}
	out.Raw = raw
	out.Value = d.scaleFor(c.Quantity).Apply(int64(raw))
	return out
}

// Poll reads the given channels and hands each result to fn. It is a no-op
// returning zero unless the device is running. A failed channel does not
// stop the remaining ones. It returns the number of channels read.
func (d *Device) Poll(chs []Channel, fn func(Reading)) int {
	if !d.Running() {
		return 0
	}
	for _, c := range chs {
		r := d.readChannel(c)
		if fn != nil {
			fn(r)
		}
	}
	return len(chs)
}

// Sample is one phase's voltage, current and active power.
type Sample struct {
	Phase   Phase
	Voltage float32
	Current float32
	Power   float32
}

// ReadPhase reads all three quantities of a line phase. Fields whose read
// failed are left zero; the joined error reports them.
func (d *Device) ReadPhase(p Phase) (Sample, error) {
	if p == PhaseN {
		return Sample{}, ErrUnknownChannel
	}
	s := Sample{Phase: p}
	var errs []error
	for _, q := range [...]Quantity{Voltage, Current, ActivePower} {
		v, err := d.ReadChannel(Channel{q, p})
		if err != nil {
			errs = append(errs, err)
			if errors.Is(err, ErrNotRunning) {
				break
			}
			continue
		}
		switch q {
		case Voltage:
			s.Voltage = v
		case Current:
			s.Current = v
		case ActivePower:
			s.Power = v
		}
	}
	return s, errors.Join(errs...)
}
