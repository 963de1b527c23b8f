package types

// ---- Kinds ----

// Kind names the quantity a channel carries.
type Kind string

const (
	KindVoltage     Kind = "voltage"
	KindCurrent     Kind = "current"
	KindActivePower Kind = "active_power"
)

// ---- Meter state (retained) ----

// Level mirrors the driver state machine.
type Level string

const (
	LevelPoweredOff   Level = "powered_off"
	LevelAwaitingInit Level = "awaiting_init"
	LevelInitializing Level = "initializing"
	LevelRunning      Level = "running"
)

// Link is the link/state reported for a meter.
type Link string

const (
	LinkUp       Link = "up"
	LinkDown     Link = "down"
	LinkDegraded Link = "degraded"
)

type MeterStatus struct {
	Level  Level  `json:"level" cbor:"level"`
	Link   Link   `json:"link" cbor:"link"`
	Error  string `json:"error,omitempty" cbor:"error,omitempty"` // errcode string
	Step   string `json:"step,omitempty" cbor:"step,omitempty"`   // failed start-up step
	Writes uint32 `json:"writes" cbor:"writes"`
	Reads  uint32 `json:"reads" cbor:"reads"`
	Fails  uint32 `json:"failures" cbor:"failures"`
	TS     int64  `json:"ts_ms" cbor:"ts_ms"`
}

// ---- Values ----

// ChannelValue is one published measurement.
type ChannelValue struct {
	Meter string  `json:"meter" cbor:"meter"`
	Kind  Kind    `json:"kind" cbor:"kind"`
	Phase string  `json:"phase" cbor:"phase"` // "a", "b", "c" or "n"
	Value float32 `json:"value" cbor:"value"`
	Unit  string  `json:"unit" cbor:"unit"`
	TS    int64   `json:"ts_ms" cbor:"ts_ms"`
}

// ---- Info envelope (retained) ----

type Info struct {
	SchemaVersion int         `json:"schema_version" cbor:"schema_version"`
	Driver        string      `json:"driver" cbor:"driver"`
	Detail        interface{} `json:"detail,omitempty" cbor:"detail,omitempty"`
}

// MeterInfo is the Detail of a meter's Info.
type MeterInfo struct {
	Address        uint16   `json:"address" cbor:"address"`
	CurrentGain    uint8    `json:"current_gain" cbor:"current_gain"`
	NeutralGain    uint8    `json:"neutral_gain" cbor:"neutral_gain"`
	VoltageGain    uint8    `json:"voltage_gain" cbor:"voltage_gain"`
	Rogowski       bool     `json:"rogowski" cbor:"rogowski"`
	Mains60Hz      bool     `json:"mains_60hz" cbor:"mains_60hz"`
	StrictVerify   bool     `json:"strict_verify" cbor:"strict_verify"`
	IRQPin         int      `json:"irq_pin" cbor:"irq_pin"` // -1 when absent
	UpdateInterval int64    `json:"update_interval_ms" cbor:"update_interval_ms"`
	Channels       []string `json:"channels" cbor:"channels"`
}
