package ade7880

// Frame layout (both directions, MSB first):
//
//	write:  ADDR_HI ADDR_LO DATA[width-1] .. DATA[0]
//	select: ADDR_HI ADDR_LO
//	read:   DATA[width-1] .. DATA[0]

// appendAddr appends the 2-byte register address to dst.
func appendAddr(dst []byte, addr uint16) []byte {
	return append(dst, byte(addr>>8), byte(addr))
}

// appendWrite appends a full write frame. Bits of v above width are dropped.
func appendWrite(dst []byte, addr uint16, w Width, v uint32) []byte {
	dst = appendAddr(dst, addr)
	for i := int(w) - 1; i >= 0; i-- {
		dst = append(dst, byte(v>>(uint(i)*8)))
	}
	return dst
}

// decodeRead assembles a big-endian payload into an unsigned value.
func decodeRead(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

// log2 counts right shifts until n reaches zero. Exact for powers of two.
func log2(n uint32) uint32 {
	var l uint32
	for n >>= 1; n != 0; n >>= 1 {
		l++
	}
	return l
}

// packGain builds the Gain register: PGA1 (currents) in bits 2:0,
// PGA2 (neutral) in bits 5:3, PGA3 (voltages) in bits 8:6.
func packGain(current, neutral, voltage uint8) uint16 {
	return uint16(log2(uint32(voltage))<<6 |
		log2(uint32(neutral))<<3 |
		log2(uint32(current)))
}

// validGain reports whether g is a supported PGA setting.
func validGain(g uint8) bool {
	switch g {
	case 1, 2, 4, 8, 16:
		return true
	}
	return false
}
