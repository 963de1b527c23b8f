package ade7880

import "time"

// SettleTime is the power-on boot time to wait before touching the bus.
const SettleTime = 100 * time.Millisecond

// Start-up step names, in execution order.
const (
	StepConfig        = "config"
	StepInterfaceLock = "interface_lock"
	StepGain          = "gain"
	StepFeatures      = "features"
	StepRAMInit       = "ram_init"
	StepThresholds    = "thresholds"
	StepRAMProtect    = "ram_protect"
	StepVerify        = "verify"
	StepRunDSP        = "run_dsp"
	StepClearEnergy   = "clear_energy"
	StepCFOutputs     = "cf_outputs"
)

// StepError reports the start-up step that stopped initialization.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return "ade7880: init " + e.Step + ": " + e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

// Mismatch is one readback that differs from the value written.
type Mismatch struct {
	Reg       Register
	Want, Got uint32
}

// VerifyReport summarises the RAM readback pass. Readback never gates
// start-up; mismatches are only collected when Config.StrictVerify is set.
type VerifyReport struct {
	Strict     bool
	Checked    int
	ReadErrors int
	Mismatches []Mismatch
}

func (r VerifyReport) OK() bool { return r.ReadErrors == 0 && len(r.Mismatches) == 0 }

type step struct {
	name string
	run  func(d *Device) error
}

var sequence = []step{
	{StepInterfaceLock, (*Device).lockInterface},
	{StepGain, (*Device).writeGain},
	{StepFeatures, (*Device).writeFeatures},
	{StepRAMInit, (*Device).initRAM},
	{StepThresholds, (*Device).writeThresholds},
	{StepRAMProtect, (*Device).protectRAM},
	{StepVerify, (*Device).verifyRAM},
	{StepRunDSP, (*Device).startDSP},
	{StepClearEnergy, (*Device).clearEnergy},
	{StepCFOutputs, (*Device).enableCFOutputs},
}

// Initialize runs the start-up sequence once the settling delay has passed.
// An invalid Config fails at StepConfig before any bus traffic. Otherwise the
// first failing transaction stops the sequence. Either way the device stays
// in StateInitializing and a *StepError is returned. A failed device needs
// Arm before it can be initialized again.
func (d *Device) Initialize() error {
	if err := d.begin(); err != nil {
		return err
	}
	d.verify = VerifyReport{Strict: d.cfg.StrictVerify}
	if err := d.cfg.Validate(); err != nil {
		err = &StepError{Step: StepConfig, Err: err}
		d.finish(err)
		return err
	}
	for _, s := range sequence {
		if err := s.run(d); err != nil {
			err = &StepError{Step: s.name, Err: err}
			d.finish(err)
			return err
		}
	}
	d.finish(nil)
	return nil
}

// Select I2C as the active serial port and lock it.
func (d *Device) lockInterface() error {
	return d.writeReg(regCONFIG2, config2I2CLock)
}

func (d *Device) writeGain() error {
	return d.writeReg(regGain, uint32(d.cfg.Gain()))
}

func (d *Device) writeFeatures() error {
	if d.cfg.Rogowski {
		if err := d.writeReg(regDICOEFF, rogowskiCoeff); err != nil {
			return err
		}
		if err := d.writeReg(regCONFIG, configIntegr); err != nil {
			return err
		}
	}
	if d.cfg.Mains60Hz {
		return d.writeReg(regCOMPMODE, compmode60Hz)
	}
	return nil
}

// Zero the DSP RAM. The final register is written lastWriteRepeats times;
// the last write of a burst is not guaranteed to reach RAM otherwise.
func (d *Device) initRAM() error {
	for _, r := range ramInitList {
		if err := d.writeReg(r, 0); err != nil {
			return err
		}
	}
	last := ramInitList[len(ramInitList)-1]
	for i := 1; i < lastWriteRepeats; i++ {
		if err := d.writeReg(last, 0); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) writeThresholds() error {
	writes := [...]struct {
		r Register
		v uint32
	}{
		{regWTHR, uint32(d.cfg.WTHR)},
		{regVARTHR, uint32(d.cfg.VARTHR)},
		{regVATHR, uint32(d.cfg.VATHR)},
		{regVLEVEL, d.cfg.VLEVEL},
		{regVNOM, d.cfg.VNOM},
		{regCF1DEN, uint32(d.cfg.CFxDEN)},
		{regCF2DEN, uint32(d.cfg.CFxDEN)},
		{regCF3DEN, uint32(d.cfg.CFxDEN)},
	}
	for _, w := range writes {
		if err := d.writeReg(w.r, w.v); err != nil {
			return err
		}
	}
	return nil
}

// Key then control; order matters. Locked until the next reset.
func (d *Device) protectRAM() error {
	if err := d.writeReg(regRAMProtKey, ramProtKey); err != nil {
		return err
	}
	return d.writeReg(regRAMProtCtl, ramProtEnable)
}

// expectedRAM lists the registers read back after protection, with the
// values the earlier steps wrote.
func (d *Device) expectedRAM() []Mismatch {
	exp := make([]Mismatch, 0, len(ramInitList)+3)
	for _, r := range ramInitList {
		exp = append(exp, Mismatch{Reg: r})
	}
	exp = append(exp,
		Mismatch{Reg: regGain, Want: uint32(d.cfg.Gain())},
		Mismatch{Reg: regVLEVEL, Want: d.cfg.VLEVEL},
	)
	if d.cfg.Rogowski {
		exp = append(exp, Mismatch{Reg: regDICOEFF, Want: rogowskiCoeff})
	}
	return exp
}

// verifyRAM is best-effort: it never fails the sequence.
func (d *Device) verifyRAM() error {
	for _, e := range d.expectedRAM() {
		d.verify.Checked++
		got, err := d.readReg(e.Reg)
		if err != nil {
			d.verify.ReadErrors++
			continue
		}
		if !d.cfg.StrictVerify {
			continue
		}
		mask := e.Reg.Mask()
		if got&mask != e.Want&mask {
			e.Got = got
			d.verify.Mismatches = append(d.verify.Mismatches, e)
		}
	}
	return nil
}

func (d *Device) startDSP() error {
	return d.writeReg(regRUN, runDSP)
}

// Reading an energy register resets it, so one pass leaves every
// accumulator at a known zero.
func (d *Device) clearEnergy() error {
	for _, r := range energyRegs {
		if _, err := d.readReg(r); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) enableCFOutputs() error {
	return d.writeReg(regCFMODE, uint32(d.cfg.CFMODE))
}
