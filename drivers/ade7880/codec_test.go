// drivers/ade7880/codec_test.go
package ade7880

import (
	"bytes"
	"testing"
)

func TestLog2_ValidGains(t *testing.T) {
	want := map[uint32]uint32{1: 0, 2: 1, 4: 2, 8: 3, 16: 4}
	for g, exp := range want {
		if got := log2(g); got != exp {
			t.Errorf("log2(%d)=%d want %d", g, got, exp)
		}
	}
}

func TestPackGain(t *testing.T) {
	cases := []struct {
		i, n, v uint8
		want    uint16
	}{
		{1, 1, 1, 0x000},
		{2, 1, 1, 0x001},
		{1, 4, 1, 0x010},
		{1, 1, 8, 0x0C0},
		{16, 16, 16, 0x124},
	}
	for _, c := range cases {
		if got := packGain(c.i, c.n, c.v); got != c.want {
			t.Errorf("packGain(%d,%d,%d)=0x%03X want 0x%03X", c.i, c.n, c.v, got, c.want)
		}
	}
}

func TestAppendWrite_BigEndian(t *testing.T) {
	cases := []struct {
		addr uint16
		w    Width
		v    uint32
		want []byte
	}{
		{0xEC01, W8, 0x02, []byte{0xEC, 0x01, 0x02}},
		{0xE60F, W16, 0x01C0, []byte{0xE6, 0x0F, 0x01, 0xC0}},
		{0x4388, W32, 0xFF8000, []byte{0x43, 0x88, 0x00, 0xFF, 0x80, 0x00}},
		// Bits above the width are dropped.
		{0xEA02, W8, 0x1234, []byte{0xEA, 0x02, 0x34}},
	}
	for _, c := range cases {
		got := appendWrite(nil, c.addr, c.w, c.v)
		if !bytes.Equal(got, c.want) {
			t.Errorf("appendWrite(0x%04X,%d,0x%X)=% X want % X", c.addr, c.w, c.v, got, c.want)
		}
	}
}

func TestWriteDecode_RoundTrip(t *testing.T) {
	for _, w := range []Width{W8, W16, W32} {
		top := uint64(1)<<(8*uint(w)) - 1
		for _, v := range []uint64{0, 1, 0x5A, top / 3, top - 1, top} {
			frame := appendWrite(nil, 0x1234, w, uint32(v))
			if len(frame) != 2+int(w) {
				t.Fatalf("width %d: frame len %d", w, len(frame))
			}
			if got := decodeRead(frame[2:]); uint64(got) != v {
				t.Errorf("width %d: round trip 0x%X -> 0x%X", w, v, got)
			}
		}
	}
}

func TestSignExtend(t *testing.T) {
	r := Register{Width: W32, Bits: 24, Signed: true}
	if got := signExtend(0xFFFFFF, r); got != -1 {
		t.Errorf("0xFFFFFF -> %d want -1", got)
	}
	if got := signExtend(0x800000, r); got != -0x800000 {
		t.Errorf("0x800000 -> %d want %d", got, -0x800000)
	}
	if got := signExtend(0x7FFFFF, r); got != 0x7FFFFF {
		t.Errorf("0x7FFFFF -> %d", got)
	}
	// Upper byte padding is ignored.
	if got := signExtend(0x0F000001, r); got != 1 {
		t.Errorf("padded -> %d want 1", got)
	}
}

func TestWithDefaults_ZeroCalibrationFallsBack(t *testing.T) {
	def := DefaultConfig()
	c := Config{}.withDefaults()
	if c.WTHR != def.WTHR || c.VARTHR != def.VARTHR || c.VATHR != def.VATHR {
		t.Fatalf("thresholds %d/%d/%d", c.WTHR, c.VARTHR, c.VATHR)
	}
	if c.CFxDEN != defaultCFxDEN || c.CFMODE != defaultCFMODE || c.VLEVEL != defaultVLEVEL || c.VNOM != defaultVNOM {
		t.Fatalf("got %+v", c)
	}
	c = Config{WTHR: 1, CFxDEN: 0x100}.withDefaults()
	if c.WTHR != 1 || c.CFxDEN != 0x100 || c.VATHR != defaultTHR {
		t.Fatalf("explicit values lost: %+v", c)
	}
}
