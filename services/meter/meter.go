// services/meter/meter.go

// Package meter is the lifecycle component around one ADE7880: it arms the
// delayed start-up on setup, polls the configured channels on every tick and
// publishes values and status.
package meter

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ade7880-go/bus"
	"ade7880-go/drivers/ade7880"
	"ade7880-go/errcode"
	"ade7880-go/types"
	"ade7880-go/x/timex"

	"tinygo.org/x/drivers"
)

// Update interval bounds.
const (
	DefaultUpdateInterval = 60 * time.Second
	MinUpdateInterval     = 200 * time.Millisecond
	MaxUpdateInterval     = time.Hour
)

// Scheduler runs deferred work. f must run on the same goroutine as the
// component's ticks.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// IRQPin is the optional interrupt input. It is configured during setup and
// not consulted afterwards.
type IRQPin interface {
	Configure() error
	Number() int
}

// Options configures a Meter.
type Options struct {
	Name           string
	Driver         ade7880.Config
	SetupDelay     time.Duration // 0 => ade7880.SettleTime
	UpdateInterval time.Duration // 0 => DefaultUpdateInterval, clamped
	IRQ            IRQPin        // nil when no interrupt pin is wired
	Logger         *slog.Logger  // nil => slog.Default()
	Conn           *bus.Connection
}

var ErrUnknownChannel = errors.New("meter: unknown channel")

// Meter binds a Device to its sensors.
type Meter struct {
	name     string
	dev      *ade7880.Device
	delay    time.Duration
	interval time.Duration
	irq      IRQPin
	log      *slog.Logger
	conn     *bus.Connection
	fault    error // non-fatal start-up problem of the running device

	sensors map[ade7880.Channel]Sensor
	order   []ade7880.Channel
}

// New validates the driver configuration and builds a Meter on an I2C bus.
func New(i2c drivers.I2C, opts Options) (*Meter, error) {
	if err := opts.Driver.Validate(); err != nil {
		return nil, err
	}
	return NewWithDevice(ade7880.New(i2c, opts.Driver), opts), nil
}

// NewWithDevice wraps an existing Device.
func NewWithDevice(dev *ade7880.Device, opts Options) *Meter {
	if opts.Name == "" {
		opts.Name = "ade7880"
	}
	if opts.SetupDelay <= 0 {
		opts.SetupDelay = ade7880.SettleTime
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Meter{
		name:     opts.Name,
		dev:      dev,
		delay:    opts.SetupDelay,
		interval: timex.Clamp(opts.UpdateInterval, DefaultUpdateInterval, MinUpdateInterval, MaxUpdateInterval),
		irq:      opts.IRQ,
		log:      lg.With("meter", opts.Name),
		conn:     opts.Conn,
		sensors:  map[ade7880.Channel]Sensor{},
	}
}

func (m *Meter) Name() string                  { return m.name }
func (m *Meter) Device() *ade7880.Device       { return m.dev }
func (m *Meter) State() ade7880.State          { return m.dev.State() }
func (m *Meter) UpdateInterval() time.Duration { return m.interval }
func (m *Meter) SetupDelay() time.Duration     { return m.delay }
func (m *Meter) Channels() []ade7880.Channel   { return append([]ade7880.Channel(nil), m.order...) }
func (m *Meter) Fault() error                  { return m.fault }

// Bind attaches s to ch. A nil s unbinds the channel so it is no longer read.
func (m *Meter) Bind(ch ade7880.Channel, s Sensor) error {
	if _, ok := ch.Register(); !ok {
		return ErrUnknownChannel
	}
	if s == nil {
		delete(m.sensors, ch)
	} else {
		m.sensors[ch] = s
	}
	m.order = m.order[:0]
	for _, c := range ade7880.Channels() {
		if _, ok := m.sensors[c]; ok {
			m.order = append(m.order, c)
		}
	}
	return nil
}

// OnSetup configures the interrupt pin (if any) and schedules initialization
// after the settling delay. A call while an attempt is pending returns
// ade7880.ErrBusy and a call on a running meter ade7880.ErrRunning; after a
// failed attempt it re-arms.
func (m *Meter) OnSetup(s Scheduler) error {
	if err := m.dev.Arm(); err != nil {
		m.log.Warn("setup rejected", "err", err, "state", m.dev.State().String())
		return err
	}
	if m.irq != nil {
		if err := m.irq.Configure(); err != nil {
			m.log.Error("irq pin setup failed", "pin", m.irq.Number(), "err", err)
		}
	}
	m.publishInfo()
	m.publishStatus()
	m.log.Debug("initialization armed", "delay", m.delay)
	s.AfterFunc(m.delay, m.initialize)
	return nil
}

func (m *Meter) initialize() {
	start := time.Now()
	m.log.Info("initializing", "address", m.dev.Address())
	err := m.dev.Initialize()
	m.fault = nil
	defer m.publishStatus()

	if err != nil {
		attrs := []any{"err", err, "code", string(errcode.Of(err))}
		var se *ade7880.StepError
		if errors.As(err, &se) {
			attrs = append(attrs, "step", se.Step)
		}
		var re *ade7880.RegError
		if errors.As(err, &re) {
			attrs = append(attrs, "register", re.Reg.Name, "addr", re.Reg.Addr)
		}
		m.log.Error("initialization failed", attrs...)
		return
	}

	rep := m.dev.LastVerify()
	if rep.ReadErrors > 0 {
		m.log.Warn("readback incomplete", "failed", rep.ReadErrors, "checked", rep.Checked)
	}
	for _, mm := range rep.Mismatches {
		m.log.Warn("readback mismatch", "register", mm.Reg.Name, "addr", mm.Reg.Addr, "want", mm.Want, "got", mm.Got)
	}
	if rep.Strict && !rep.OK() {
		m.fault = &errcode.E{
			C:   errcode.VerifyMismatch,
			Op:  ade7880.StepVerify,
			Msg: fmt.Sprintf("%d of %d readbacks differ, %d unreadable", len(rep.Mismatches), rep.Checked, rep.ReadErrors),
		}
	}
	m.log.Info("running", "took", time.Since(start), "writes", m.dev.Stats().Writes, "reads", m.dev.Stats().Reads)
}

// OnTick polls every bound channel. Nothing touches the bus until the device
// is running.
func (m *Meter) OnTick() {
	if len(m.order) == 0 {
		return
	}
	m.dev.Poll(m.order, func(r ade7880.Reading) {
		if r.Err != nil {
			m.log.Debug("channel read failed", "channel", r.Channel.String(), "err", r.Err)
			return
		}
		if s := m.sensors[r.Channel]; s != nil {
			s.Publish(r.Value)
		}
	})
}

func (m *Meter) channelNames() []string {
	out := make([]string, len(m.order))
	for i, c := range m.order {
		out[i] = c.String()
	}
	return out
}

func (m *Meter) irqNumber() int {
	if m.irq == nil {
		return -1
	}
	return m.irq.Number()
}

// Dump logs the configuration and current state.
func (m *Meter) Dump() {
	cfg := m.dev.Config()
	attrs := []any{
		"address", cfg.Address,
		"current_gain", cfg.CurrentGain,
		"neutral_gain", cfg.NeutralGain,
		"voltage_gain", cfg.VoltageGain,
		"rogowski", cfg.Rogowski,
		"mains_60hz", cfg.Mains60Hz,
		"strict_verify", cfg.StrictVerify,
		"irq_pin", m.irqNumber(),
		"update_interval", m.interval,
		"state", m.dev.State().String(),
		"channels", m.channelNames(),
	}
	if err := m.dev.LastError(); err != nil {
		attrs = append(attrs, "last_error", err)
	}
	if m.fault != nil {
		attrs = append(attrs, "fault", m.fault)
	}
	m.log.Info("ADE7880", attrs...)
}

// Status builds the current status payload.
func (m *Meter) Status() types.MeterStatus {
	st := m.dev.Stats()
	s := types.MeterStatus{
		Level:  types.Level(m.dev.State().String()),
		Link:   types.LinkDown,
		Writes: st.Writes,
		Reads:  st.Reads,
		Fails:  st.Failures,
		TS:     timex.NowMs(),
	}
	if err := m.dev.LastError(); err != nil {
		s.Error = string(errcode.Of(err))
		var se *ade7880.StepError
		if errors.As(err, &se) {
			s.Step = se.Step
		}
	}
	if m.dev.Running() {
		s.Link = types.LinkUp
		if m.fault != nil {
			s.Link = types.LinkDegraded
			s.Error = string(errcode.Of(m.fault))
		}
	}
	return s
}

func (m *Meter) publishStatus() {
	if m.conn == nil {
		return
	}
	m.conn.Publish(m.conn.NewMessage(StatusTopic(m.name), m.Status(), true))
}

func (m *Meter) publishInfo() {
	if m.conn == nil {
		return
	}
	cfg := m.dev.Config()
	m.conn.Publish(m.conn.NewMessage(InfoTopic(m.name), types.Info{
		SchemaVersion: 1,
		Driver:        "ade7880",
		Detail: types.MeterInfo{
			Address:        cfg.Address,
			CurrentGain:    cfg.CurrentGain,
			NeutralGain:    cfg.NeutralGain,
			VoltageGain:    cfg.VoltageGain,
			Rogowski:       cfg.Rogowski,
			Mains60Hz:      cfg.Mains60Hz,
			StrictVerify:   cfg.StrictVerify,
			IRQPin:         m.irqNumber(),
			UpdateInterval: m.interval.Milliseconds(),
			Channels:       m.channelNames(),
		},
	}, true))
}
