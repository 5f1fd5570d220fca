package engine_test

import (
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jefry5/energy-monitor-si/internal/baseline"
	"github.com/jefry5/energy-monitor-si/internal/consumption"
	"github.com/jefry5/energy-monitor-si/internal/engine"
	"github.com/jefry5/energy-monitor-si/internal/logger"
	"github.com/jefry5/energy-monitor-si/internal/model"
	"github.com/jefry5/energy-monitor-si/internal/relay"
	"github.com/jefry5/energy-monitor-si/internal/simmode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	os.Exit(m.Run())
}

type capturePublisher struct {
	mu        sync.Mutex
	readings  []model.Reading
	summaries []model.Summary
	acks      []model.Ack
	failNext  bool
}

func (p *capturePublisher) PublishReading(reading model.Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext {
		p.failNext = false
		return assert.AnError
	}
	p.readings = append(p.readings, reading)
	return nil
}

func (p *capturePublisher) PublishSummary(summary model.Summary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries = append(p.summaries, summary)
	return nil
}

func (p *capturePublisher) PublishAck(ack model.Ack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acks = append(p.acks, ack)
	return nil
}

func (p *capturePublisher) readingsFor(area string) []model.Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Reading
	for _, r := range p.readings {
		if r.Area == area {
			out = append(out, r)
		}
	}
	return out
}

var testAreas = map[string]model.AreaProfile{
	"auditorio":  {DayKWh: 5.5, NightKWh: 0.2, StdPct: 0.25, PeakHour: 16, PeakFactor: 1.60, Devices: 6, Floor: 1},
	"biblioteca": {DayKWh: 4.8, NightKWh: 0.8, StdPct: 0.07, PeakHour: 11, PeakFactor: 1.10, Devices: 20, Floor: 3},
}

type fixture struct {
	engine *engine.Engine
	model  *consumption.Model
	modes  *simmode.Engine
	relays *relay.Manager
	pub    *capturePublisher
}

func newFixture(t *testing.T, mode simmode.Mode) *fixture {
	t.Helper()

	modelCfg := consumption.Config{Seed: 42, CurveWidth: 3.0, DayStartHour: 6, NightStartHour: 22}
	m := consumption.New(modelCfg)
	relays := relay.NewManager([]string{"auditorio", "biblioteca"}, nil)
	tracker, err := baseline.NewTracker(nil, 0.3)
	require.NoError(t, err)
	pub := &capturePublisher{}
	modes := simmode.NewEngine("auditorio", mode, 6, 22)

	eng := engine.New(engine.Config{
		Interval:  time.Second,
		Areas:     testAreas,
		Model:     m,
		Modes:     modes,
		Relays:    relays,
		Baselines: tracker,
		Publisher: pub,
	})

	return &fixture{engine: eng, model: m, modes: modes, relays: relays, pub: pub}
}

func runCycles(f *fixture, start time.Time, n int) {
	for i := 0; i < n; i++ {
		f.engine.Cycle(start.Add(time.Duration(i) * time.Second))
	}
}

func TestCyclePublishesEveryAreaAndSummary(t *testing.T) {
	f := newFixture(t, simmode.ModeNormal)
	now := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)

	f.engine.Cycle(now)

	require.Len(t, f.pub.readings, 2)
	require.Len(t, f.pub.summaries, 1)

	summary := f.pub.summaries[0]
	assert.Equal(t, 2, summary.AreaCount)
	assert.InDelta(t, f.pub.readings[0].KWh+f.pub.readings[1].KWh, summary.TotalKWh, 0.001)
}

func TestSequencesAreStrictlyIncreasingPerArea(t *testing.T) {
	f := newFixture(t, simmode.ModeNormal)
	runCycles(f, time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC), 5)

	for area := range testAreas {
		readings := f.pub.readingsFor(area)
		require.Len(t, readings, 5, area)
		for i := 1; i < len(readings); i++ {
			assert.Equal(t, readings[i-1].Sequence+1, readings[i].Sequence, area)
		}
	}
}

func TestIntermittentSuppressionLeavesSequenceGaps(t *testing.T) {
	f := newFixture(t, simmode.ModeIntermittent)
	runCycles(f, time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC), 6)

	// Suppressed cycles still consume a sequence number, so the published
	// stream shows the missed cycles as gaps.
	readings := f.pub.readingsFor("auditorio")
	require.Len(t, readings, 3)
	for i, r := range readings {
		assert.Equal(t, uint64(2*i+1), r.Sequence)
	}

	biblioteca := f.pub.readingsFor("biblioteca")
	require.Len(t, biblioteca, 6)
	assert.Equal(t, uint64(6), biblioteca[5].Sequence)
}

func TestSensorFailureConsumesSequences(t *testing.T) {
	f := newFixture(t, simmode.ModeSensorFailure)
	now := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)
	runCycles(f, now, 4)
	require.Empty(t, f.pub.readingsFor("auditorio"))

	// Recovery: the first reading after the outage carries sequence 5, not
	// 1, so the four silent cycles are visible as a gap.
	f.modes.SetMode(simmode.ModeNormal)
	f.engine.Cycle(now.Add(5 * time.Second))

	readings := f.pub.readingsFor("auditorio")
	require.Len(t, readings, 1)
	assert.Equal(t, uint64(5), readings[0].Sequence)
}

func TestRelayOffForcesZeroReadings(t *testing.T) {
	f := newFixture(t, simmode.ModeNormal)
	f.relays.Cut("auditorio", "test", "test")

	runCycles(f, time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC), 5)

	readings := f.pub.readingsFor("auditorio")
	require.Len(t, readings, 5)
	for _, r := range readings {
		assert.Equal(t, 0.0, r.KWh)
		assert.Equal(t, model.QualityRelayOff, r.Quality)
		assert.Equal(t, 0.0, r.Voltage)
		assert.Equal(t, 0.0, r.Current)
	}

	// The open relay overrides, it does not silence: the area still reports.
	for _, summary := range f.pub.summaries {
		assert.Equal(t, 2, summary.AreaCount)
	}
}

func TestSensorFailurePublishesNothingForAnomalyArea(t *testing.T) {
	f := newFixture(t, simmode.ModeSensorFailure)
	runCycles(f, time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC), 8)

	assert.Empty(t, f.pub.readingsFor("auditorio"))
	assert.Len(t, f.pub.readingsFor("biblioteca"), 8, "other areas keep publishing on schedule")

	for _, summary := range f.pub.summaries {
		assert.Equal(t, 1, summary.AreaCount)
	}
}

func TestFloodPublishesTenWithDistinctSequences(t *testing.T) {
	f := newFixture(t, simmode.ModeFlood)
	f.engine.Cycle(time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC))

	readings := f.pub.readingsFor("auditorio")
	require.Len(t, readings, 10)
	for i := 1; i < len(readings); i++ {
		assert.Equal(t, readings[i-1].Sequence+1, readings[i].Sequence)
	}

	// Duplicates count once toward the building total.
	summary := f.pub.summaries[0]
	biblioteca := f.pub.readingsFor("biblioteca")
	require.Len(t, biblioteca, 1)
	assert.InDelta(t, readings[0].KWh+biblioteca[0].KWh, summary.TotalKWh, 0.001)
}

func TestNightSpikeEndToEnd(t *testing.T) {
	profile := testAreas["auditorio"]

	night := time.Date(2026, time.March, 10, 23, 0, 0, 0, time.UTC)
	f := newFixture(t, simmode.ModeNightSpike)
	f.engine.Cycle(night)

	// The expected value rides on the night profile, amplified 3.5x.
	base := f.model.Compute("auditorio", profile, night)
	readings := f.pub.readingsFor("auditorio")
	require.Len(t, readings, 1)
	assert.InDelta(t, base.KWh*3.5, readings[0].KWh, 0.001)
	assert.Equal(t, model.QualityDegraded, readings[0].Quality)

	// At mid-morning the same engine output matches normal mode exactly.
	morning := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)
	f2 := newFixture(t, simmode.ModeNightSpike)
	f2.engine.Cycle(morning)

	expected := f2.model.Compute("auditorio", profile, morning)
	readings = f2.pub.readingsFor("auditorio")
	require.Len(t, readings, 1)
	assert.Equal(t, expected.KWh, readings[0].KWh)
	assert.Equal(t, model.QualityOK, readings[0].Quality)
}

func TestPublishFailureDropsReadingAndContinues(t *testing.T) {
	f := newFixture(t, simmode.ModeNormal)
	f.pub.failNext = true

	now := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)
	f.engine.Cycle(now)
	f.engine.Cycle(now.Add(time.Second))

	// One reading lost, never queued; the cycle cadence is unaffected.
	assert.Len(t, f.pub.readings, 3)
	assert.Len(t, f.pub.summaries, 2)
}

func command(t *testing.T, action, reason, origin string) []byte {
	t.Helper()
	payload, err := json.Marshal(model.Command{Action: action, Reason: reason, Origin: origin})
	require.NoError(t, err)
	return payload
}

func TestHandleCommandCutAndAck(t *testing.T) {
	f := newFixture(t, simmode.ModeNormal)

	f.engine.HandleCommand("auditorio", false, command(t, model.ActionCutPower, "overload", "workflow"))

	require.Len(t, f.pub.acks, 1)
	ack := f.pub.acks[0]
	assert.Equal(t, "auditorio", ack.Area)
	assert.Equal(t, "OFF", ack.ResultingState)
	assert.True(t, ack.Applied)
	assert.Empty(t, ack.Error)
	assert.False(t, f.relays.IsOn("auditorio"))
}

func TestHandleCommandIdempotentCutAcksTwice(t *testing.T) {
	f := newFixture(t, simmode.ModeNormal)

	payload := command(t, model.ActionCutPower, "overload", "workflow")
	f.engine.HandleCommand("auditorio", false, payload)
	f.engine.HandleCommand("auditorio", false, payload)

	require.Len(t, f.pub.acks, 2, "every command gets exactly one ack, no-ops included")
	for _, ack := range f.pub.acks {
		assert.True(t, ack.Applied)
		assert.Equal(t, "OFF", ack.ResultingState)
	}
}

func TestHandleCommandUnknownAreaRejected(t *testing.T) {
	f := newFixture(t, simmode.ModeNormal)

	f.engine.HandleCommand("sotano", false, command(t, model.ActionCutPower, "x", "y"))

	require.Len(t, f.pub.acks, 1)
	ack := f.pub.acks[0]
	assert.False(t, ack.Applied)
	assert.Contains(t, ack.Error, "unknown area")
}

func TestHandleCommandMalformedPayload(t *testing.T) {
	f := newFixture(t, simmode.ModeNormal)

	f.engine.HandleCommand("auditorio", false, []byte("{not json"))

	require.Len(t, f.pub.acks, 1)
	assert.False(t, f.pub.acks[0].Applied)
	assert.Equal(t, "invalid command payload", f.pub.acks[0].Error)
	assert.True(t, f.relays.IsOn("auditorio"), "malformed commands must not mutate state")
}

func TestHandleCommandUnknownAction(t *testing.T) {
	f := newFixture(t, simmode.ModeNormal)

	f.engine.HandleCommand("auditorio", false, command(t, "self_destruct", "x", "y"))

	require.Len(t, f.pub.acks, 1)
	assert.False(t, f.pub.acks[0].Applied)
	assert.Contains(t, f.pub.acks[0].Error, "unknown action")
}

func TestHandleCommandEmergencyCut(t *testing.T) {
	f := newFixture(t, simmode.ModeNormal)

	f.engine.HandleCommand("building", true, command(t, model.ActionEmergencyCut, "fire", "workflow"))

	require.Len(t, f.pub.acks, 1)
	ack := f.pub.acks[0]
	assert.Equal(t, "ALL", ack.Area)
	assert.Equal(t, "OFF", ack.ResultingState)
	assert.True(t, ack.Applied)

	assert.False(t, f.relays.IsOn("auditorio"))
	assert.False(t, f.relays.IsOn("biblioteca"))
}

func TestHandleCommandStatusAll(t *testing.T) {
	f := newFixture(t, simmode.ModeNormal)
	f.relays.Cut("auditorio", "test", "test")

	f.engine.HandleCommand("building", true, command(t, model.ActionStatusAll, "", "dashboard"))

	require.Len(t, f.pub.acks, 1)
	ack := f.pub.acks[0]
	assert.Equal(t, "ALL", ack.Area)
	assert.True(t, ack.Applied)
	assert.Equal(t, "auditorio=OFF,biblioteca=ON", ack.ResultingState)
}

func TestHandleCommandAreaStatus(t *testing.T) {
	f := newFixture(t, simmode.ModeNormal)

	f.engine.HandleCommand("biblioteca", false, command(t, model.ActionStatus, "", "dashboard"))

	require.Len(t, f.pub.acks, 1)
	ack := f.pub.acks[0]
	assert.Equal(t, "biblioteca", ack.Area)
	assert.Equal(t, "ON", ack.ResultingState)
	assert.True(t, ack.Applied)
}
