// Package promsink exposes published meter values as Prometheus metrics.
package promsink

import (
	"context"

	"ade7880-go/bus"
	"ade7880-go/types"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ade7880"

// Sink turns bus messages into gauges and counters.
type Sink struct {
	values  map[types.Kind]*prometheus.GaugeVec
	samples *prometheus.CounterVec
	up      *prometheus.GaugeVec
	state   *prometheus.GaugeVec
	txs     *prometheus.GaugeVec
}

var levels = []types.Level{
	types.LevelPoweredOff,
	types.LevelAwaitingInit,
	types.LevelInitializing,
	types.LevelRunning,
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Sink, error) {
	s := &Sink{
		values: map[types.Kind]*prometheus.GaugeVec{
			types.KindVoltage:     gaugeVec("voltage_volts", "RMS voltage (V)", "meter", "phase"),
			types.KindCurrent:     gaugeVec("current_amperes", "RMS current (A)", "meter", "phase"),
			types.KindActivePower: gaugeVec("active_power_watts", "Total active power (W)", "meter", "phase"),
		},
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Values published per channel.",
		}, []string{"meter", "channel"}),
		up:    gaugeVec("up", "1 when the meter is running.", "meter"),
		state: gaugeVec("state", "Driver state, one series per level.", "meter", "level"),
		txs:   gaugeVec("transactions", "Register transactions since start, by kind.", "meter", "kind"),
	}
	cs := []prometheus.Collector{s.samples, s.up, s.state, s.txs}
	for _, v := range s.values {
		cs = append(cs, v)
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
}

// Handle applies one bus message. Unknown payloads are ignored.
func (s *Sink) Handle(msg *bus.Message) {
	switch p := msg.Payload.(type) {
	case types.ChannelValue:
		g, ok := s.values[p.Kind]
		if !ok {
			return
		}
		g.WithLabelValues(p.Meter, p.Phase).Set(float64(p.Value))
		s.samples.WithLabelValues(p.Meter, string(p.Kind)+"_"+p.Phase).Inc()
	case types.MeterStatus:
		meter := meterOf(msg.Topic)
		if meter == "" {
			return
		}
		up := 0.0
		if p.Link == types.LinkUp || p.Link == types.LinkDegraded {
			up = 1
		}
		s.up.WithLabelValues(meter).Set(up)
		for _, l := range levels {
			v := 0.0
			if l == p.Level {
				v = 1
			}
			s.state.WithLabelValues(meter, string(l)).Set(v)
		}
		s.txs.WithLabelValues(meter, "write").Set(float64(p.Writes))
		s.txs.WithLabelValues(meter, "read").Set(float64(p.Reads))
		s.txs.WithLabelValues(meter, "failure").Set(float64(p.Fails))
	}
}

// meterOf extracts <name> from meter/<name>/...
func meterOf(t bus.Topic) string {
	if len(t) < 2 || t[0] != "meter" {
		return ""
	}
	return t[1]
}

// Run consumes sub until ctx is done or the subscription closes.
func (s *Sink) Run(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			s.Handle(msg)
		}
	}
}
