package promsink

import (
	"testing"
	"time"

	"ade7880-go/bus"
	"ade7880-go/types"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// find returns the metric of family name whose labels include want.
func find(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) *dto.Metric {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if got[k] != v {
					continue next
				}
			}
			return m
		}
	}
	t.Fatalf("metric %s%v not found", name, want)
	return nil
}

func TestHandle_ChannelValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := New(reg)
	require.NoError(t, err)

	for _, v := range []float32{229.5, 230.25} {
		s.Handle(&bus.Message{
			Topic:   bus.ParseTopic("meter/main/voltage/a/value"),
			Payload: types.ChannelValue{Meter: "main", Kind: types.KindVoltage, Phase: "a", Value: v, Unit: "V"},
		})
	}
	s.Handle(&bus.Message{
		Topic:   bus.ParseTopic("meter/main/active_power/b/value"),
		Payload: types.ChannelValue{Meter: "main", Kind: types.KindActivePower, Phase: "b", Value: -120, Unit: "W"},
	})

	m := find(t, reg, "ade7880_voltage_volts", map[string]string{"meter": "main", "phase": "a"})
	assert.InDelta(t, 230.25, m.GetGauge().GetValue(), 1e-6)
	m = find(t, reg, "ade7880_active_power_watts", map[string]string{"phase": "b"})
	assert.InDelta(t, -120, m.GetGauge().GetValue(), 1e-6)
	m = find(t, reg, "ade7880_samples_total", map[string]string{"channel": "voltage_a"})
	assert.EqualValues(t, 2, m.GetCounter().GetValue())
}

func TestHandle_Status(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := New(reg)
	require.NoError(t, err)

	s.Handle(&bus.Message{
		Topic:   bus.ParseTopic("meter/main/status"),
		Payload: types.MeterStatus{Level: types.LevelRunning, Link: types.LinkUp, Writes: 67, Reads: 65, Fails: 1},
	})

	assert.EqualValues(t, 1, find(t, reg, "ade7880_up", map[string]string{"meter": "main"}).GetGauge().GetValue())
	assert.EqualValues(t, 1, find(t, reg, "ade7880_state", map[string]string{"level": "running"}).GetGauge().GetValue())
	assert.EqualValues(t, 0, find(t, reg, "ade7880_state", map[string]string{"level": "initializing"}).GetGauge().GetValue())
	assert.EqualValues(t, 67, find(t, reg, "ade7880_transactions", map[string]string{"kind": "write"}).GetGauge().GetValue())

	s.Handle(&bus.Message{
		Topic:   bus.ParseTopic("meter/main/status"),
		Payload: types.MeterStatus{Level: types.LevelInitializing, Link: types.LinkDown},
	})
	assert.EqualValues(t, 0, find(t, reg, "ade7880_up", map[string]string{"meter": "main"}).GetGauge().GetValue())
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestRun_StopsOnUnsubscribe(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := New(reg)
	require.NoError(t, err)

	b := bus.NewBus(4)
	conn := b.NewConnection("prom")
	sub := conn.Subscribe(bus.T("meter", "#"))
	done := make(chan struct{})
	go func() {
		s.Run(t.Context(), sub)
		close(done)
	}()
	conn.Publish(conn.NewMessage(bus.ParseTopic("meter/x/current/n/value"),
		types.ChannelValue{Meter: "x", Kind: types.KindCurrent, Phase: "n", Value: 0.5}, true))
	require.Eventually(t, func() bool {
		mfs, _ := reg.Gather()
		for _, mf := range mfs {
			if mf.GetName() == "ade7880_current_amperes" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	conn.Unsubscribe(sub)
	<-done
}
