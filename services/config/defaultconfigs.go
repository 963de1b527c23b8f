package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: board ID (same value placed in ctx under CtxBoardKey)
// Val: raw YAML for that board
// -----------------------------------------------------------------------------

// Reference board: 35 A current transformers, 1 MΩ/1 kΩ voltage dividers,
// 50 Hz mains, all ten channels published every minute.
const cfgRef50 = `
bus:
  name: ""
  speed_hz: 400000
metrics:
  listen: ":9880"
meters:
  - name: main
    address: 0x38
    current_gain: 1
    neutral_gain: 1
    voltage_gain: 1
    setup_delay: 100ms
    update_interval: 60s
`

// Same board wired for 60 Hz mains with di/dt sensors on the phases.
const cfgRogowski60 = `
bus:
  speed_hz: 400000
meters:
  - name: main
    rogowski: true
    mains_60hz: true
    update_interval: 10s
    channels: [voltage_a, voltage_b, voltage_c, current_a, current_b, current_c, active_power_a, active_power_b, active_power_c]
`

var embeddedConfigs = map[string][]byte{
	"ref50":      []byte(cfgRef50),
	"rogowski60": []byte(cfgRogowski60),
}
