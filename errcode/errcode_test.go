package errcode

import (
	"errors"
	"fmt"
	"testing"

	"ade7880-go/drivers/ade7880"
)

func TestMapDriverErr(t *testing.T) {
	regErr := &ade7880.RegError{Op: "select", Err: errors.New("nack")}
	short := &ade7880.RegError{Op: "read", Err: ade7880.ErrShortRead}
	cases := []struct {
		err  error
		want Code
	}{
		{nil, OK},
		{ade7880.ErrBusy, Busy},
		{ade7880.ErrNotRunning, NotReady},
		{ade7880.ErrNotArmed, NotReady},
		{ade7880.ErrRunning, AlreadyRunning},
		{regErr, Transport},
		{short, ShortRead},
		{&ade7880.StepError{Step: ade7880.StepGain, Err: regErr}, InitFailed},
		{fmt.Errorf("cfg: %w", ade7880.ErrInvalidGain), InvalidParams},
		{ade7880.ErrUnknownChannel, UnknownChannel},
		{errors.New("other"), Error},
	}
	for _, c := range cases {
		if got := MapDriverErr(c.err); got != c.want {
			t.Errorf("MapDriverErr(%v)=%q want %q", c.err, got, c.want)
		}
	}
}

func TestOf(t *testing.T) {
	if Of(nil) != OK {
		t.Fatal("nil")
	}
	if Of(Busy) != Busy {
		t.Fatal("bare code")
	}
	e := &E{C: VerifyMismatch, Op: "verify", Msg: "AVGAIN"}
	if Of(fmt.Errorf("wrap: %w", e)) != VerifyMismatch {
		t.Fatal("wrapped E")
	}
	if e.Error() != "verify_mismatch: AVGAIN" {
		t.Fatalf("E.Error()=%q", e.Error())
	}
	if Of(ade7880.ErrNotRunning) != NotReady {
		t.Fatal("driver fallback")
	}
}
