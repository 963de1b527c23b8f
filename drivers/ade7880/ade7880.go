// Package ade7880 provides a TinyGo-compatible driver for the ADE7880
// three-phase energy metering IC.
//
// Design notes (datasheet references):
// • I2C, 16-bit register addresses, 8/16/32-bit payloads, MSB first.
// • Reads are two transactions: address select, then payload read.
// • Default 7-bit address = 0b0111000.
// • 24-bit DSP RAM registers are transferred as 32-bit words.
// • Start-up: lock the serial port, program gains and DSP RAM, lock RAM
//   write protection, start the DSP, clear the energy accumulators.
//
// Concurrency: a Device is not reentrant. Initialize and Poll must be called
// from the same goroutine (or otherwise serialised); only State may be read
// from elsewhere.
package ade7880

import (
	"errors"
)

// AddressDefault is the fixed 7-bit I2C address.
const AddressDefault = 0x38

// Reference full-scale points (ADE7880 datasheet, RMS and power sections).
const (
	// FullScaleCodes is the xVRMS/xIRMS reading for a full-scale input.
	FullScaleCodes = 5326737
	// PowerFullScaleCodes is xWATT with both inputs at full scale, in phase.
	PowerFullScaleCodes = 27059678

	adcFullScaleV  = 0.5      // peak volts at the ADC input
	voltageDivider = 1001.0   // 1 MΩ / 1 kΩ front-end attenuation
	currentFullA   = 49.4975  // 35 A RMS sensor, peak
	defaultVNOM    = 0x23C354 // 220 V·√2 / 500 V · 3766572
	defaultVLEVEL  = 0x38000  // datasheet default
	defaultCFxDEN  = 0x0DB3   // AN-1171 starting point
	defaultCFMODE  = 0x08A0   // CF1..CF3 enabled
	defaultTHR     = 0x03     // AN-1171 default for xTHR
	rogowskiCoeff  = 0xFF8000 // DICOEFF for di/dt sensors
	compmode60Hz   = 0x41FF   // COMPMODE.SELFREQ set, other bits default
	config2I2CLock = 0x02     // CONFIG2.I2C_LOCK
	runDSP         = 0x0001   // RUN
	ramProtKey     = 0xAD     // written to RAMPROT_KEY
	ramProtEnable  = 0x80     // written to RAMPROT_CTL
	configIntegr   = 0x0001   // CONFIG.INTEN
)

// Scale maps a raw register count linearly onto a physical unit.
type Scale struct {
	Raw      float64 // full-scale register value
	Physical float64 // physical value at Raw
}

// Apply converts a raw count.
func (s Scale) Apply(raw int64) float32 {
	if s.Raw == 0 {
		return 0
	}
	return float32(float64(raw) * (s.Physical / s.Raw))
}

var (
	ErrInvalidConfig = errors.New("ade7880: invalid config")
	ErrInvalidGain   = errors.New("ade7880: gain must be 1, 2, 4, 8 or 16")
)

// Config holds everything written during start-up plus the scaling used by
// the poller. Zero values are replaced by DefaultConfig values in New, so the
// thresholds, VLEVEL, VNOM, CFxDEN and CFMODE cannot be programmed as zero.
type Config struct {
	Address uint16

	// PGA gains: 1, 2, 4, 8 or 16. Zero means 1.
	CurrentGain uint8 // PGA1, phase currents
	NeutralGain uint8 // PGA2, neutral current
	VoltageGain uint8 // PGA3, phase voltages

	Rogowski     bool // di/dt current sensors: program DICOEFF and CONFIG.INTEN
	Mains60Hz    bool // COMPMODE.SELFREQ
	StrictVerify bool // compare RAM readbacks against the written values

	WTHR   uint8 // active power threshold
	VARTHR uint8 // reactive power threshold
	VATHR  uint8 // apparent power threshold
	VLEVEL uint32
	VNOM   uint32
	CFxDEN uint16 // CF1DEN, CF2DEN and CF3DEN
	CFMODE uint16

	VoltageScale Scale
	CurrentScale Scale
	PowerScale   Scale
}

// DefaultConfig returns the reference board configuration.
func DefaultConfig() Config {
	vfs := adcFullScaleV * voltageDivider
	return Config{
		Address:      AddressDefault,
		CurrentGain:  1,
		NeutralGain:  1,
		VoltageGain:  1,
		WTHR:         defaultTHR,
		VARTHR:       defaultTHR,
		VATHR:        defaultTHR,
		VLEVEL:       defaultVLEVEL,
		VNOM:         defaultVNOM,
		CFxDEN:       defaultCFxDEN,
		CFMODE:       defaultCFMODE,
		VoltageScale: Scale{Raw: FullScaleCodes, Physical: vfs},
		CurrentScale: Scale{Raw: FullScaleCodes, Physical: currentFullA},
		PowerScale:   Scale{Raw: PowerFullScaleCodes, Physical: vfs * currentFullA},
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Address == 0 {
		c.Address = def.Address
	}
	if c.CurrentGain == 0 {
		c.CurrentGain = 1
	}
	if c.NeutralGain == 0 {
		c.NeutralGain = 1
	}
	if c.VoltageGain == 0 {
		c.VoltageGain = 1
	}
	if c.WTHR == 0 {
		c.WTHR = def.WTHR
	}
	if c.VARTHR == 0 {
		c.VARTHR = def.VARTHR
	}
	if c.VATHR == 0 {
		c.VATHR = def.VATHR
	}
	if c.VLEVEL == 0 {
		c.VLEVEL = def.VLEVEL
	}
	if c.VNOM == 0 {
		c.VNOM = def.VNOM
	}
	if c.CFxDEN == 0 {
		c.CFxDEN = def.CFxDEN
	}
	if c.CFMODE == 0 {
		c.CFMODE = def.CFMODE
	}
	if c.VoltageScale == (Scale{}) {
		c.VoltageScale = def.VoltageScale
	}
	if c.CurrentScale == (Scale{}) {
		c.CurrentScale = def.CurrentScale
	}
	if c.PowerScale == (Scale{}) {
		c.PowerScale = def.PowerScale
	}
	return c
}

// Validate checks the fields New cannot default.
func (c Config) Validate() error {
	for _, g := range [...]uint8{c.CurrentGain, c.NeutralGain, c.VoltageGain} {
		if g != 0 && !validGain(g) {
			return ErrInvalidGain
		}
	}
	if c.Address > 0x7F {
		return ErrInvalidConfig
	}
	if c.VLEVEL > regVLEVEL.Mask() || c.VNOM > regVNOM.Mask() {
		return ErrInvalidConfig
	}
	for _, s := range [...]Scale{c.VoltageScale, c.CurrentScale, c.PowerScale} {
		if s.Raw < 0 || s.Physical < 0 {
			return ErrInvalidConfig
		}
	}
	return nil
}

// Gain returns the packed Gain register value for c.
func (c Config) Gain() uint16 {
	c = c.withDefaults()
	return packGain(c.CurrentGain, c.NeutralGain, c.VoltageGain)
}
