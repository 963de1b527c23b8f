// Register map. Addresses and widths follow the datasheet (Rev. C) register tables.
package ade7880

// Width is the on-wire size of a register value in bytes.
type Width uint8

const (
	W8  Width = 1
	W16 Width = 2
	W32 Width = 4
)

// Valid reports whether w is one of the widths the serial protocol uses.
func (w Width) Valid() bool { return w == W8 || w == W16 || w == W32 }

// Access describes how a register may be used.
type Access uint8

const (
	AccessRW        Access = iota
	AccessR                // read-only
	AccessW                // write-only (protection keys)
	AccessReadClear        // read resets the accumulator
)

// Register is one entry of the chip's memory-mapped register space.
type Register struct {
	Name   string
	Addr   uint16
	Width  Width
	Bits   uint8 // significant bits; 0 => Width*8
	Signed bool
	Access Access
}

// Mask returns the mask of the significant bits of r.
func (r Register) Mask() uint32 {
	bits := uint(r.Bits)
	if bits == 0 {
		bits = uint(r.Width) * 8
	}
	if bits >= 32 {
		return 0xFFFF_FFFF
	}
	return 1<<bits - 1
}

// Readable reports whether r may be selected for a payload read.
func (r Register) Readable() bool { return r.Access != AccessW }

// Writable reports whether r accepts write frames.
func (r Register) Writable() bool { return r.Access == AccessRW || r.Access == AccessW }

// 24-bit DSP data memory RAM registers travel as 32-bit words.
func ram(name string, addr uint16) Register {
	return Register{Name: name, Addr: addr, Width: W32, Bits: 24, Signed: true, Access: AccessRW}
}

func energy(name string, addr uint16) Register {
	return Register{Name: name, Addr: addr, Width: W32, Signed: true, Access: AccessReadClear}
}

var (
	// --- DSP data memory RAM: gains and offsets (0x4380..0x43B9) ---
	regAIGAIN   = ram("AIGAIN", 0x4380)
	regAVGAIN   = ram("AVGAIN", 0x4381)
	regBIGAIN   = ram("BIGAIN", 0x4382)
	regBVGAIN   = ram("BVGAIN", 0x4383)
	regCIGAIN   = ram("CIGAIN", 0x4384)
	regCVGAIN   = ram("CVGAIN", 0x4385)
	regNIGAIN   = ram("NIGAIN", 0x4386)
	regDICOEFF  = ram("DICOEFF", 0x4388)
	regAPGAIN   = ram("APGAIN", 0x4389)
	regAWATTOS  = ram("AWATTOS", 0x438A)
	regBPGAIN   = ram("BPGAIN", 0x438B)
	regBWATTOS  = ram("BWATTOS", 0x438C)
	regCPGAIN   = ram("CPGAIN", 0x438D)
	regCWATTOS  = ram("CWATTOS", 0x438E)
	regAIRMSOS  = ram("AIRMSOS", 0x438F)
	regAVRMSOS  = ram("AVRMSOS", 0x4390)
	regBIRMSOS  = ram("BIRMSOS", 0x4391)
	regBVRMSOS  = ram("BVRMSOS", 0x4392)
	regCIRMSOS  = ram("CIRMSOS", 0x4393)
	regCVRMSOS  = ram("CVRMSOS", 0x4394)
	regNIRMSOS  = ram("NIRMSOS", 0x4395)
	regHPGAIN   = ram("HPGAIN", 0x4398)
	regISUMLVL  = ram("ISUMLVL", 0x4399)
	regVLEVEL   = ram("VLEVEL", 0x439F)
	regAFWATTOS = ram("AFWATTOS", 0x43A2)
	regBFWATTOS = ram("BFWATTOS", 0x43A3)
	regCFWATTOS = ram("CFWATTOS", 0x43A4)
	regAFVAROS  = ram("AFVAROS", 0x43A5)
	regBFVAROS  = ram("BFVAROS", 0x43A6)
	regCFVAROS  = ram("CFVAROS", 0x43A7)
	regAFIRMSOS = ram("AFIRMSOS", 0x43A8)
	regBFIRMSOS = ram("BFIRMSOS", 0x43A9)
	regCFIRMSOS = ram("CFIRMSOS", 0x43AA)
	regHXWATTOS = ram("HXWATTOS", 0x43AE)
	regHYWATTOS = ram("HYWATTOS", 0x43AF)
	regHZWATTOS = ram("HZWATTOS", 0x43B0)
	regHXVAROS  = ram("HXVAROS", 0x43B1)
	regHYVAROS  = ram("HYVAROS", 0x43B2)
	regHZVAROS  = ram("HZVAROS", 0x43B3)
	regHXIRMSOS = ram("HXIRMSOS", 0x43B4)
	regHYIRMSOS = ram("HYIRMSOS", 0x43B5)
	regHZIRMSOS = ram("HZIRMSOS", 0x43B6)
	regHXVRMSOS = ram("HXVRMSOS", 0x43B7)
	regHYVRMSOS = ram("HYVRMSOS", 0x43B8)
	regHZVRMSOS = ram("HZVRMSOS", 0x43B9)

	// --- DSP data memory RAM: RMS results (0x43C0..0x43C7) ---
	// Writable during RAM initialisation; read-only measurements afterwards.
	regAIRMS = Register{Name: "AIRMS", Addr: 0x43C0, Width: W32, Bits: 24, Access: AccessRW}
	regAVRMS = Register{Name: "AVRMS", Addr: 0x43C1, Width: W32, Bits: 24, Access: AccessRW}
	regBIRMS = Register{Name: "BIRMS", Addr: 0x43C2, Width: W32, Bits: 24, Access: AccessRW}
	regBVRMS = Register{Name: "BVRMS", Addr: 0x43C3, Width: W32, Bits: 24, Access: AccessRW}
	regCIRMS = Register{Name: "CIRMS", Addr: 0x43C4, Width: W32, Bits: 24, Access: AccessRW}
	regCVRMS = Register{Name: "CVRMS", Addr: 0x43C5, Width: W32, Bits: 24, Access: AccessRW}
	regNIRMS = Register{Name: "NIRMS", Addr: 0x43C6, Width: W32, Bits: 24, Access: AccessRW}
	regISUM  = Register{Name: "ISUM", Addr: 0x43C7, Width: W32, Bits: 28, Access: AccessRW}

	// --- Internal DSP memory ---
	regRUN = Register{Name: "RUN", Addr: 0xE228, Width: W16, Access: AccessRW}

	// --- Billable energy accumulators (read-with-reset) ---
	regAWATTHR  = energy("AWATTHR", 0xE400)
	regBWATTHR  = energy("BWATTHR", 0xE401)
	regCWATTHR  = energy("CWATTHR", 0xE402)
	regAFWATTHR = energy("AFWATTHR", 0xE403)
	regBFWATTHR = energy("BFWATTHR", 0xE404)
	regCFWATTHR = energy("CFWATTHR", 0xE405)
	regAFVARHR  = energy("AFVARHR", 0xE409)
	regBFVARHR  = energy("BFVARHR", 0xE40A)
	regCFVARHR  = energy("CFVARHR", 0xE40B)
	regAVAHR    = energy("AVAHR", 0xE40C)
	regBVAHR    = energy("BVAHR", 0xE40D)
	regCVAHR    = energy("CVAHR", 0xE40E)

	// --- Instantaneous power (ZPSE: 28-bit signed in a 32-bit word) ---
	regAWATT = Register{Name: "AWATT", Addr: 0xE513, Width: W32, Bits: 28, Signed: true, Access: AccessR}
	regBWATT = Register{Name: "BWATT", Addr: 0xE514, Width: W32, Bits: 28, Signed: true, Access: AccessR}
	regCWATT = Register{Name: "CWATT", Addr: 0xE515, Width: W32, Bits: 28, Signed: true, Access: AccessR}

	// --- Configuration and power quality ---
	regVNOM     = Register{Name: "VNOM", Addr: 0xE520, Width: W32, Bits: 24, Access: AccessRW}
	regCOMPMODE = Register{Name: "COMPMODE", Addr: 0xE60E, Width: W16, Access: AccessRW}
	regGain     = Register{Name: "Gain", Addr: 0xE60F, Width: W16, Bits: 9, Access: AccessRW}
	regCFMODE   = Register{Name: "CFMODE", Addr: 0xE610, Width: W16, Access: AccessRW}
	regCF1DEN   = Register{Name: "CF1DEN", Addr: 0xE611, Width: W16, Access: AccessRW}
	regCF2DEN   = Register{Name: "CF2DEN", Addr: 0xE612, Width: W16, Access: AccessRW}
	regCF3DEN   = Register{Name: "CF3DEN", Addr: 0xE613, Width: W16, Access: AccessRW}
	regCONFIG   = Register{Name: "CONFIG", Addr: 0xE618, Width: W16, Access: AccessRW}
	regWTHR     = Register{Name: "WTHR", Addr: 0xEA02, Width: W8, Access: AccessRW}
	regVARTHR   = Register{Name: "VARTHR", Addr: 0xEA03, Width: W8, Access: AccessRW}
	regVATHR    = Register{Name: "VATHR", Addr: 0xEA04, Width: W8, Access: AccessRW}
	regCONFIG2  = Register{Name: "CONFIG2", Addr: 0xEC01, Width: W8, Access: AccessRW}

	// --- RAM write protection (undocumented key/control pair) ---
	regRAMProtKey = Register{Name: "RAMPROT_KEY", Addr: 0xE7FE, Width: W8, Access: AccessW}
	regRAMProtCtl = Register{Name: "RAMPROT_CTL", Addr: 0xE7E3, Width: W8, Access: AccessW}
)

// ramInitList is the ordered list of DSP RAM registers zeroed during start-up.
// The last entry is written three times so the RAM pipeline commits it.
var ramInitList = []Register{
	regAIGAIN, regAVGAIN, regBIGAIN, regBVGAIN, regCIGAIN, regCVGAIN, regNIGAIN,
	regAPGAIN, regAWATTOS, regBPGAIN, regBWATTOS, regCPGAIN, regCWATTOS,
	regAIRMSOS, regAVRMSOS, regBIRMSOS, regBVRMSOS, regCIRMSOS, regCVRMSOS, regNIRMSOS,
	regHPGAIN, regISUMLVL,
	regAFWATTOS, regBFWATTOS, regCFWATTOS,
	regAFVAROS, regBFVAROS, regCFVAROS,
	regAFIRMSOS, regBFIRMSOS, regCFIRMSOS,
	regHXWATTOS, regHYWATTOS, regHZWATTOS,
	regHXVAROS, regHYVAROS, regHZVAROS,
	regHXIRMSOS, regHYIRMSOS, regHZIRMSOS,
	regHXVRMSOS, regHYVRMSOS, regHZVRMSOS,
	regAIRMS, regAVRMS, regBIRMS, regBVRMS, regCIRMS, regCVRMS, regNIRMS,
	regISUM,
}

// lastWriteRepeats is how many consecutive frames the final RAM entry gets.
const lastWriteRepeats = 3

// energyRegs are cleared by reading them once after the DSP starts.
var energyRegs = []Register{
	regAWATTHR, regBWATTHR, regCWATTHR,
	regAVAHR, regBVAHR, regCVAHR,
	regAFWATTHR, regBFWATTHR, regCFWATTHR,
	regAFVARHR, regBFVARHR, regCFVARHR,
}

// registerMap lists every register the driver touches.
var registerMap = func() []Register {
	m := append([]Register(nil), ramInitList...)
	m = append(m, regDICOEFF, regVLEVEL, regRUN)
	m = append(m, energyRegs...)
	m = append(m,
		regAWATT, regBWATT, regCWATT,
		regVNOM, regCOMPMODE, regGain, regCFMODE,
		regCF1DEN, regCF2DEN, regCF3DEN, regCONFIG,
		regWTHR, regVARTHR, regVATHR, regCONFIG2,
		regRAMProtKey, regRAMProtCtl,
	)
	return m
}()

// Registers returns a copy of the driver's register table.
func Registers() []Register { return append([]Register(nil), registerMap...) }

// Lookup finds a register by datasheet name.
func Lookup(name string) (Register, bool) {
	for _, r := range registerMap {
		if r.Name == name {
			return r, true
		}
	}
	return Register{}, false
}
