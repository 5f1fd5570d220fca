package simmode

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jefry5/energy-monitor-si/internal/errors"
	"github.com/jefry5/energy-monitor-si/internal/model"
)

// Mode is the closed set of behavioral overlays the engine can run in.
type Mode string

const (
	ModeNormal        Mode = "normal"
	ModeSpike         Mode = "spike"
	ModeSensorFailure Mode = "sensor_failure"
	ModeGradualDrift  Mode = "gradual_drift"
	ModeIntermittent  Mode = "intermittent"
	ModeFlood         Mode = "flood"
	ModeNightSpike    Mode = "night_spike"
)

const (
	ErrUnknownMode = errors.ErrorCode("simmode_unknown_mode")

	spikeFactor      = 2.8
	nightSpikeFactor = 3.5
	driftStep        = 1.02
	driftCap         = 3.0
	floodCount       = 10
)

// ParseMode validates a mode name from configuration.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeNormal, ModeSpike, ModeSensorFailure, ModeGradualDrift,
		ModeIntermittent, ModeFlood, ModeNightSpike:
		return m, nil
	default:
		return ModeNormal, errors.WithMessage(ErrUnknownMode, fmt.Sprintf("unknown simulation mode: %q", s))
	}
}

// Engine overlays mode effects on the base reading of the single configured
// anomaly area. All other areas always evaluate as normal. Mode switches are
// staged and only promoted by BeginCycle, so a switch never takes effect
// mid-cycle.
type Engine struct {
	mu sync.Mutex

	anomalyArea    string
	nightStartHour int
	dayStartHour   int

	active  Mode
	pending Mode

	drift        float64
	suppressNext bool
}

// NewEngine creates a mode engine for the given anomaly area. dayStart and
// nightStart bound the local-time night window used by night_spike.
func NewEngine(anomalyArea string, mode Mode, dayStart, nightStart int) *Engine {
	return &Engine{
		anomalyArea:    anomalyArea,
		dayStartHour:   dayStart,
		nightStartHour: nightStart,
		active:         mode,
		pending:        mode,
		drift:          1.0,
	}
}

// SetMode stages a mode switch for the next cycle.
func (e *Engine) SetMode(mode Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = mode
}

// Mode returns the currently active mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.active
}

// DriftMultiplier returns the current cumulative gradual_drift factor.
func (e *Engine) DriftMultiplier() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.drift
}

// BeginCycle promotes a staged mode switch. Called once by the cycle driver
// before any area is evaluated.
func (e *Engine) BeginCycle() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending != e.active {
		e.active = e.pending
		e.drift = 1.0
		e.suppressNext = false
	}
}

// Apply transforms the base reading for one area. It returns zero readings
// when publication is suppressed, one for ordinary output, and floodCount
// near-duplicates under flood. Sequence numbers are assigned by the caller.
func (e *Engine) Apply(reading model.Reading, now time.Time) []model.Reading {
	e.mu.Lock()
	defer e.mu.Unlock()

	if reading.Area != e.anomalyArea || e.active == ModeNormal {
		return []model.Reading{reading}
	}

	switch e.active {
	case ModeSensorFailure:
		return nil

	case ModeIntermittent:
		skip := e.suppressNext
		e.suppressNext = !skip
		if skip {
			return nil
		}
		return []model.Reading{reading}

	case ModeSpike:
		return []model.Reading{scale(reading, spikeFactor)}

	case ModeNightSpike:
		if !e.isNight(now) {
			return []model.Reading{reading}
		}
		return []model.Reading{scale(reading, nightSpikeFactor)}

	case ModeGradualDrift:
		e.drift = math.Min(e.drift*driftStep, driftCap)
		out := scale(reading, e.drift)
		if e.drift <= 1.5 {
			out.Quality = model.QualityOK
		}
		return []model.Reading{out}

	case ModeFlood:
		out := make([]model.Reading, floodCount)
		for i := range out {
			out[i] = reading
		}
		return out
	}

	return []model.Reading{reading}
}

func (e *Engine) isNight(now time.Time) bool {
	h := now.Hour()

	return h < e.dayStartHour || h >= e.nightStartHour
}

// scale multiplies the consumption and recomputes the current draw so the
// electrical fields stay consistent with the transformed kWh.
func scale(r model.Reading, factor float64) model.Reading {
	r.KWh = round4(r.KWh * factor)
	if r.Voltage > 0 && r.PowerFactor > 0 {
		r.Current = round2(r.KWh * 1000 / (r.Voltage * r.PowerFactor))
	}
	r.Quality = model.QualityDegraded

	return r
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
