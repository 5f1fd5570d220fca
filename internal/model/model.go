package model

import "time"

// Quality flags carried on every published reading.
type Quality string

const (
	QualityOK       Quality = "ok"
	QualityRelayOff Quality = "relay_off"
	QualityDegraded Quality = "degraded"
)

// AreaProfile is the static consumption profile of one building area.
// Immutable for the process lifetime.
type AreaProfile struct {
	DayKWh     float64 `mapstructure:"day_kwh"`
	NightKWh   float64 `mapstructure:"night_kwh"`
	StdPct     float64 `mapstructure:"std_pct"`
	PeakHour   int     `mapstructure:"peak_hour"`
	PeakFactor float64 `mapstructure:"peak_factor"`
	Devices    int     `mapstructure:"devices"`
	Floor      int     `mapstructure:"floor"`
}

// Reading is one synthetic sensor sample for one area. Sequence is strictly
// increasing per area for the lifetime of a process instance; consumers use
// it to detect gaps and restarts.
type Reading struct {
	Area        string    `json:"area"`
	Timestamp   time.Time `json:"timestamp"`
	KWh         float64   `json:"kwh"`
	Voltage     float64   `json:"voltage"`
	Current     float64   `json:"current"`
	PowerFactor float64   `json:"power_factor"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Quality     Quality   `json:"quality"`
	Sequence    uint64    `json:"sequence"`
}

// Summary is the once-per-cycle building-wide rollup.
type Summary struct {
	Timestamp time.Time `json:"timestamp"`
	TotalKWh  float64   `json:"total_kwh"`
	AreaCount int       `json:"area_count"`
}

// Command actions accepted on the per-area and building-wide command topics.
const (
	ActionCutPower     = "cut_power"
	ActionRestorePower = "restore_power"
	ActionStatus       = "status"
	ActionEmergencyCut = "emergency_cut"
	ActionStatusAll    = "status_all"
)

// Command is an inbound actuation request.
type Command struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
	Origin string `json:"origin"`
}

// Ack is the response published for every processed command, exactly one per
// command, including no-ops.
type Ack struct {
	Area           string    `json:"area"`
	ResultingState string    `json:"resulting_state"`
	Applied        bool      `json:"applied"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// StatusPayload is the retained liveness beacon on the system status topic.
// The offline variant is registered as the transport last will.
type StatusPayload struct {
	Status    string    `json:"status"`
	Building  string    `json:"building"`
	Mode      string    `json:"mode,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
