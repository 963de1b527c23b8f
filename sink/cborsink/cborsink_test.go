package cborsink

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ade7880-go/bus"
	"ade7880-go/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadAll(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Write(&bus.Message{
		Topic:    bus.ParseTopic("meter/main/voltage/a/value"),
		TS:       1700000000000,
		Retained: true,
		Payload:  types.ChannelValue{Meter: "main", Kind: types.KindVoltage, Phase: "a", Value: 230.5, Unit: "V", TS: 1700000000000},
	}))
	require.NoError(t, w.Write(&bus.Message{
		Topic:   bus.ParseTopic("meter/main/status"),
		TS:      1700000000001,
		Payload: types.MeterStatus{Level: types.LevelRunning, Link: types.LinkUp, Writes: 67},
	}))
	require.NoError(t, w.Close())
	assert.Equal(t, 2, w.Count())

	recs, err := ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "meter/main/voltage/a/value", recs[0].Topic)
	assert.True(t, recs[0].Retained)
	cv, ok := recs[0].Payload.(map[string]any)
	require.True(t, ok, "payload %T", recs[0].Payload)
	assert.Equal(t, "voltage", cv["kind"])
	assert.InDelta(t, 230.5, cv["value"], 1e-6)

	st, ok := recs[1].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "running", st["level"])
	assert.EqualValues(t, 67, st["writes"])
	assert.False(t, recs[1].Retained)
}

func TestWriteAfterClose(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Write(&bus.Message{Topic: bus.T("x")}), os.ErrClosed)
}

type failCloser struct {
	bytes.Buffer
	err error
}

func (f *failCloser) Close() error { return f.err }

func TestClose_CombinesErrors(t *testing.T) {
	closeErr := errors.New("close failed")
	w := NewWriter(&failCloser{err: closeErr})
	// Channels cannot be encoded.
	encErr := w.Write(&bus.Message{Topic: bus.T("x"), Payload: make(chan int)})
	require.Error(t, encErr)

	err := w.Close()
	assert.ErrorIs(t, err, closeErr)
	assert.ErrorIs(t, err, encErr)
}

func TestCreate_AppendsAcrossWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cbor")
	for i := 0; i < 2; i++ {
		w, err := Create(path)
		require.NoError(t, err)
		require.NoError(t, w.Write(&bus.Message{Topic: bus.T("meter", "m", "info"), Payload: types.Info{SchemaVersion: 1, Driver: "ade7880"}}))
		require.NoError(t, w.Close())
	}
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	recs, err := ReadAll(f)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestRun_WritesUntilUnsubscribe(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	b := bus.NewBus(8)
	conn := b.NewConnection("capture")
	sub := conn.Subscribe(bus.T("meter", "#"))

	done := make(chan error, 1)
	go func() { done <- w.Run(t.Context(), sub) }()

	conn.Publish(conn.NewMessage(bus.T("meter", "a", "status"), types.MeterStatus{Level: types.LevelAwaitingInit}, true))
	require.Eventually(t, func() bool { return w.Count() == 1 }, time.Second, 5*time.Millisecond)
	conn.Unsubscribe(sub)
	require.NoError(t, <-done)

	recs, err := ReadAll(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "meter/a/status", recs[0].Topic)
}
