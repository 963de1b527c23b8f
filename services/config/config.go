package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"ade7880-go/bus"
	"ade7880-go/drivers/ade7880"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------
// String constants
// -----------------------------------------------------------------------------

const (
	serviceName  = "config"
	configPrefix = "config"
	meterToken   = "meter"
	CtxBoardKey  = "board" // context key used for the board ID
)

// EmbeddedConfigLookup allows overriding how board defaults are resolved.
var EmbeddedConfigLookup = func(board string) ([]byte, bool) {
	b, ok := embeddedConfigs[board]
	return b, ok
}

// -----------------------------------------------------------------------------
// File schema
// -----------------------------------------------------------------------------

// File is the YAML document read by the host binary.
type File struct {
	Bus     Bus     `yaml:"bus"`
	Metrics Metrics `yaml:"metrics"`
	Capture Capture `yaml:"capture"`
	Meters  []Meter `yaml:"meters"`
}

// Bus selects the host I2C bus.
type Bus struct {
	Name    string `yaml:"name"`     // i2creg name; empty => first bus
	SpeedHz int64  `yaml:"speed_hz"` // 0 => 400 kHz
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Listen string `yaml:"listen"` // empty disables
	Path   string `yaml:"path"`   // default /metrics
}

// Capture configures the CBOR capture file.
type Capture struct {
	Path string `yaml:"path"` // empty disables
}

// Meter is one ADE7880 and its outputs.
type Meter struct {
	Name           string        `yaml:"name"`
	Address        uint16        `yaml:"address"`
	CurrentGain    uint8         `yaml:"current_gain"`
	NeutralGain    uint8         `yaml:"neutral_gain"`
	VoltageGain    uint8         `yaml:"voltage_gain"`
	Rogowski       bool          `yaml:"rogowski"`
	Mains60Hz      bool          `yaml:"mains_60hz"`
	StrictVerify   bool          `yaml:"strict_verify"`
	IRQPin         string        `yaml:"irq_pin"` // gpioreg name; empty => none
	SetupDelay     time.Duration `yaml:"setup_delay"`
	UpdateInterval time.Duration `yaml:"update_interval"`
	Calibration    Calibration   `yaml:"calibration"`
	FullScale      FullScale     `yaml:"full_scale"`
	Channels       []string      `yaml:"channels"`
}

// Calibration overrides the start-up constants. Zero keeps the default.
type Calibration struct {
	WTHR   uint8  `yaml:"wthr"`
	VARTHR uint8  `yaml:"varthr"`
	VATHR  uint8  `yaml:"vathr"`
	VLEVEL uint32 `yaml:"vlevel"`
	VNOM   uint32 `yaml:"vnom"`
	CFxDEN uint16 `yaml:"cfxden"`
	CFMODE uint16 `yaml:"cfmode"`
}

// FullScale gives the physical value at the full-scale register reading.
type FullScale struct {
	Voltage float64 `yaml:"voltage"` // volts
	Current float64 `yaml:"current"` // amps
	Power   float64 `yaml:"power"`   // watts; 0 => voltage × current
}

var (
	ErrNoMeters      = errors.New("config: no meters configured")
	ErrDuplicateName = errors.New("config: duplicate meter name")
	ErrUnknownBoard  = errors.New("config: no embedded config for board")
)

// ChannelError reports an unknown channel key.
type ChannelError struct {
	Meter, Channel string
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("config: meter %q: unknown channel %q", e.Meter, e.Channel)
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load reads and parses path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Embedded returns the built-in defaults for a board.
func Embedded(board string) (*File, error) {
	raw, ok := EmbeddedConfigLookup(board)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBoard, board)
	}
	return Parse(raw)
}

// Validate checks names, channels and the driver configuration of every meter.
func (f *File) Validate() error {
	if len(f.Meters) == 0 {
		return ErrNoMeters
	}
	seen := map[string]bool{}
	for i := range f.Meters {
		m := &f.Meters[i]
		if m.Name == "" {
			m.Name = fmt.Sprintf("ade7880_%d", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateName, m.Name)
		}
		seen[m.Name] = true
		if _, err := m.ChannelList(); err != nil {
			return err
		}
		if fs := m.FullScale; fs.Voltage < 0 || fs.Current < 0 || fs.Power < 0 {
			return fmt.Errorf("config: meter %q: negative full scale: %w", m.Name, ade7880.ErrInvalidConfig)
		}
		if err := m.ToDriver().Validate(); err != nil {
			return fmt.Errorf("config: meter %q: %w", m.Name, err)
		}
	}
	return nil
}

// ChannelList resolves the channel keys. An empty list enables every channel.
func (m *Meter) ChannelList() ([]ade7880.Channel, error) {
	if len(m.Channels) == 0 {
		return ade7880.Channels(), nil
	}
	out := make([]ade7880.Channel, 0, len(m.Channels))
	for _, key := range m.Channels {
		ch, ok := ade7880.ParseChannel(key)
		if !ok {
			return nil, &ChannelError{Meter: m.Name, Channel: key}
		}
		out = append(out, ch)
	}
	return out, nil
}

// ToDriver converts to the driver configuration. Zero fields are left for
// the driver to default.
func (m *Meter) ToDriver() ade7880.Config {
	def := ade7880.DefaultConfig()
	cfg := ade7880.Config{
		Address:      m.Address,
		CurrentGain:  m.CurrentGain,
		NeutralGain:  m.NeutralGain,
		VoltageGain:  m.VoltageGain,
		Rogowski:     m.Rogowski,
		Mains60Hz:    m.Mains60Hz,
		StrictVerify: m.StrictVerify,
		WTHR:         m.Calibration.WTHR,
		VARTHR:       m.Calibration.VARTHR,
		VATHR:        m.Calibration.VATHR,
		VLEVEL:       m.Calibration.VLEVEL,
		VNOM:         m.Calibration.VNOM,
		CFxDEN:       m.Calibration.CFxDEN,
		CFMODE:       m.Calibration.CFMODE,
	}
	v, i, p := m.FullScale.Voltage, m.FullScale.Current, m.FullScale.Power
	if v > 0 {
		cfg.VoltageScale = ade7880.Scale{Raw: def.VoltageScale.Raw, Physical: v}
	}
	if i > 0 {
		cfg.CurrentScale = ade7880.Scale{Raw: def.CurrentScale.Raw, Physical: i}
	}
	if p == 0 && (v > 0 || i > 0) {
		if v <= 0 {
			v = def.VoltageScale.Physical
		}
		if i <= 0 {
			i = def.CurrentScale.Physical
		}
		p = v * i
	}
	if p > 0 {
		cfg.PowerScale = ade7880.Scale{Raw: def.PowerScale.Raw, Physical: p}
	}
	return cfg
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

// ConfigService publishes each meter's configuration as a retained message
// at config/meter/<name>.
type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// MeterTopic is where a meter's configuration is retained.
func MeterTopic(name string) bus.Topic { return bus.T(configPrefix, meterToken, name) }

// Publish retains every meter of f on the bus.
func (s *ConfigService) Publish(conn *bus.Connection, f *File) {
	for _, m := range f.Meters {
		conn.Publish(conn.NewMessage(MeterTopic(m.Name), m, true))
	}
}

// publishEmbedded resolves the board from ctx and publishes its defaults.
func (s *ConfigService) publishEmbedded(ctx context.Context, conn *bus.Connection) error {
	board, _ := ctx.Value(CtxBoardKey).(string)
	if board == "" {
		return errors.New("missing board ID in context")
	}
	f, err := Embedded(board)
	if err != nil {
		return err
	}
	s.Publish(conn, f)
	return nil
}

// Start launches the embedded config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.publishEmbedded(ctx, conn)
	}()
	return done
}
