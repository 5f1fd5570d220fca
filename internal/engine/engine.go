// Package engine drives the telemetry cycle and processes inbound
// actuation commands. The two activity streams are isolated: a publish
// failure never stalls the cycle cadence, and no command error can stop the
// driver.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jefry5/energy-monitor-si/internal/baseline"
	"github.com/jefry5/energy-monitor-si/internal/consumption"
	"github.com/jefry5/energy-monitor-si/internal/logger"
	"github.com/jefry5/energy-monitor-si/internal/model"
	"github.com/jefry5/energy-monitor-si/internal/relay"
	"github.com/jefry5/energy-monitor-si/internal/simmode"
)

// Publisher is the outbound half of the transport, narrowed so tests can
// substitute a capturing fake.
type Publisher interface {
	PublishReading(reading model.Reading) error
	PublishSummary(summary model.Summary) error
	PublishAck(ack model.Ack) error
}

// Config wires the engine's collaborators.
type Config struct {
	Interval  time.Duration
	Areas     map[string]model.AreaProfile
	Model     *consumption.Model
	Modes     *simmode.Engine
	Relays    *relay.Manager
	Baselines *baseline.Tracker
	Publisher Publisher
}

// Engine produces one reading per area per cycle and answers commands with
// exactly one acknowledgment each.
type Engine struct {
	cfg   Config
	order []string
	seq   map[string]uint64
	cycle uint64
}

func New(cfg Config) *Engine {
	order := make([]string, 0, len(cfg.Areas))
	for area := range cfg.Areas {
		order = append(order, area)
	}
	sort.Strings(order)

	return &Engine{
		cfg:   cfg,
		order: order,
		seq:   make(map[string]uint64, len(cfg.Areas)),
	}
}

// Run drives cycles on the configured interval until the context is
// cancelled. The in-flight cycle always completes before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	e.Cycle(time.Now())

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Uint64("cycles", e.cycle).Msg("cycle driver stopped")
			return nil
		case t := <-ticker.C:
			e.Cycle(t)
		}
	}
}

// Cycle runs one full telemetry cycle at the given instant.
func (e *Engine) Cycle(now time.Time) {
	e.cycle++
	e.cfg.Modes.BeginCycle()

	var (
		totalKWh  float64
		reporting int
	)

	for _, area := range e.order {
		profile := e.cfg.Areas[area]

		if !e.cfg.Relays.IsOn(area) {
			reading := e.relayOffReading(area, now)
			e.publishReading(reading)
			e.cfg.Baselines.Advance(area, 0, now)
			reporting++
			continue
		}

		// The sequence is allocated before the mode overlay, so a suppressed
		// cycle still consumes a number and consumers see the gap.
		seq := e.nextSeq(area)

		base := e.cfg.Model.Compute(area, profile, now)
		outs := e.cfg.Modes.Apply(base, now)
		if len(outs) == 0 {
			// Publication suppressed; no sample reaches consumers, so the
			// baseline holds as well.
			continue
		}

		outs[0].Sequence = seq
		for i := 1; i < len(outs); i++ {
			outs[i].Sequence = e.nextSeq(area)
		}
		for i := range outs {
			e.publishReading(outs[i])
		}

		totalKWh += outs[0].KWh
		e.cfg.Baselines.Advance(area, outs[0].KWh, now)
		reporting++
	}

	summary := model.Summary{
		Timestamp: now,
		TotalKWh:  math.Round(totalKWh*10000) / 10000,
		AreaCount: reporting,
	}
	if err := e.cfg.Publisher.PublishSummary(summary); err != nil {
		logger.ErrorWithCode(err).Msg("summary publish failed, dropped")
	}

	if err := e.cfg.Baselines.FlushAll(); err != nil {
		logger.ErrorWithCode(err).Msg("baseline flush failed, will retry next cycle")
	}

	logger.Debug().
		Uint64("cycle", e.cycle).
		Float64("total_kwh", summary.TotalKWh).
		Int("areas_reporting", reporting).
		Msg("cycle complete")
}

// HandleCommand processes one inbound command payload and publishes exactly
// one acknowledgment, including for no-ops and rejections.
func (e *Engine) HandleCommand(area string, building bool, payload []byte) {
	var cmd model.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		e.publishAck(model.Ack{
			Area:      ackArea(area, building),
			Error:     "invalid command payload",
			Timestamp: time.Now().UTC(),
		})
		return
	}

	if cmd.Origin == "" {
		cmd.Origin = "unknown"
	}

	logger.Info().
		Str("area", ackArea(area, building)).
		Str("action", cmd.Action).
		Str("origin", cmd.Origin).
		Msg("command received")

	var ack model.Ack
	if building {
		ack = e.buildingCommand(cmd)
	} else {
		ack = e.areaCommand(area, cmd)
	}
	ack.Timestamp = time.Now().UTC()

	e.publishAck(ack)
}

func (e *Engine) buildingCommand(cmd model.Command) model.Ack {
	switch cmd.Action {
	case model.ActionEmergencyCut:
		result := e.cfg.Relays.EmergencyCutAll(cmd.Reason, cmd.Origin)
		return resultAck(result)

	case model.ActionStatusAll:
		return model.Ack{
			Area:           "ALL",
			ResultingState: snapshotString(e.cfg.Relays.Snapshot()),
			Applied:        true,
		}

	default:
		return model.Ack{
			Area:  "ALL",
			Error: fmt.Sprintf("unknown action: %q", cmd.Action),
		}
	}
}

func (e *Engine) areaCommand(area string, cmd model.Command) model.Ack {
	switch cmd.Action {
	case model.ActionCutPower:
		return resultAck(e.cfg.Relays.Cut(area, cmd.Reason, cmd.Origin))

	case model.ActionRestorePower:
		return resultAck(e.cfg.Relays.Restore(area, cmd.Reason, cmd.Origin))

	case model.ActionStatus:
		snapshot := e.cfg.Relays.Snapshot()
		status, ok := snapshot[area]
		if !ok {
			return model.Ack{Area: area, Error: fmt.Sprintf("unknown area: %q", area)}
		}
		return model.Ack{Area: area, ResultingState: string(status.State), Applied: true}

	default:
		return model.Ack{Area: area, Error: fmt.Sprintf("unknown action: %q", cmd.Action)}
	}
}

func (e *Engine) publishReading(reading model.Reading) {
	if err := e.cfg.Publisher.PublishReading(reading); err != nil {
		logger.ErrorWithCode(err).
			Str("area", reading.Area).
			Uint64("sequence", reading.Sequence).
			Msg("reading publish failed, dropped")
	}
}

func (e *Engine) publishAck(ack model.Ack) {
	if err := e.cfg.Publisher.PublishAck(ack); err != nil {
		logger.ErrorWithCode(err).Str("area", ack.Area).Msg("ack publish failed")
	}
}

// relayOffReading is the forced-zero telemetry for an area whose relay is
// open.
func (e *Engine) relayOffReading(area string, now time.Time) model.Reading {
	return model.Reading{
		Area:      area,
		Timestamp: now,
		Quality:   model.QualityRelayOff,
		Sequence:  e.nextSeq(area),
	}
}

// nextSeq returns the next strictly increasing sequence number for an area.
// Only the cycle goroutine allocates sequences.
func (e *Engine) nextSeq(area string) uint64 {
	e.seq[area]++

	return e.seq[area]
}

// ackArea names the command target in acks: building-wide commands answer
// as "ALL".
func ackArea(area string, building bool) string {
	if building {
		return "ALL"
	}

	return area
}

func resultAck(result relay.Result) model.Ack {
	ack := model.Ack{
		Area:           result.Area,
		ResultingState: string(result.State),
		Applied:        result.Applied(),
	}
	if result.Err != nil {
		ack.Error = result.Err.Error()
		ack.ResultingState = ""
	}

	return ack
}

// snapshotString flattens a relay snapshot into the ack's resulting_state
// field, sorted for stable output.
func snapshotString(snapshot map[string]relay.Status) string {
	areas := make([]string, 0, len(snapshot))
	for area := range snapshot {
		areas = append(areas, area)
	}
	sort.Strings(areas)

	parts := make([]string, len(areas))
	for i, area := range areas {
		parts[i] = fmt.Sprintf("%s=%s", area, snapshot[area].State)
	}

	return strings.Join(parts, ",")
}
