// services/meter/sensor.go
package meter

import (
	"ade7880-go/bus"
	"ade7880-go/drivers/ade7880"
	"ade7880-go/types"
	"ade7880-go/x/timex"
)

// Sensor receives one channel's scaled value after every successful poll.
type Sensor interface {
	Publish(v float32)
}

// SensorFunc adapts a function to Sensor.
type SensorFunc func(v float32)

func (f SensorFunc) Publish(v float32) { f(v) }

// Multi fans a value out to several sensors.
type Multi []Sensor

func (m Multi) Publish(v float32) {
	for _, s := range m {
		s.Publish(v)
	}
}

// Topic layout.
const (
	TokMeter  = "meter"
	TokStatus = "status"
	TokInfo   = "info"
	TokValue  = "value"
)

// ValueTopic is where a channel's values are published.
func ValueTopic(meter string, ch ade7880.Channel) bus.Topic {
	return bus.T(TokMeter, meter, ch.Quantity.String(), ch.Phase.String(), TokValue)
}

// StatusTopic carries the retained types.MeterStatus.
func StatusTopic(meter string) bus.Topic { return bus.T(TokMeter, meter, TokStatus) }

// InfoTopic carries the retained types.Info.
func InfoTopic(meter string) bus.Topic { return bus.T(TokMeter, meter, TokInfo) }

// BusSensor publishes retained types.ChannelValue messages.
type BusSensor struct {
	conn  *bus.Connection
	meter string
	ch    ade7880.Channel
	topic bus.Topic
}

func NewBusSensor(conn *bus.Connection, meter string, ch ade7880.Channel) *BusSensor {
	return &BusSensor{conn: conn, meter: meter, ch: ch, topic: ValueTopic(meter, ch)}
}

func (s *BusSensor) Publish(v float32) {
	s.conn.Publish(s.conn.NewMessage(s.topic, types.ChannelValue{
		Meter: s.meter,
		Kind:  types.Kind(s.ch.Quantity.String()),
		Phase: s.ch.Phase.String(),
		Value: v,
		Unit:  s.ch.Quantity.Unit(),
		TS:    timex.NowMs(),
	}, true))
}
