package consumption

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/jefry5/energy-monitor-si/internal/model"
)

const (
	minKWh = 0.01

	nominalVoltage = 220.0
	voltageStd     = 2.0
	minPowerFactor = 0.85
	maxPowerFactor = 0.98
	minTemperature = 15.0
	maxTemperature = 35.0
	minHumidity    = 20.0
	maxHumidity    = 95.0
)

// seasonalFactor maps the calendar month onto a two-season climate model:
// summer months amplify consumption, winter months dampen it.
var seasonalFactor = map[time.Month]float64{
	time.December: 1.05, time.January: 1.05, time.February: 1.04, time.March: 1.02,
	time.April: 1.00, time.May: 0.99, time.June: 0.97, time.July: 0.96,
	time.August: 0.97, time.September: 0.98, time.October: 1.00, time.November: 1.02,
}

// Config tunes the deterministic parts of the model.
type Config struct {
	Seed           int64
	CurveWidth     float64 // gaussian width of the hourly curve, in hours
	DayStartHour   int
	NightStartHour int
}

// Model maps (area, timestamp) to a base reading. Compute is a pure
// function: the noise source is seeded from (Seed, area, timestamp), so
// identical inputs always produce identical readings.
type Model struct {
	cfg Config
}

func New(cfg Config) *Model {
	return &Model{cfg: cfg}
}

// Compute returns the base reading for one area at one instant. Quality is
// always ok and the sequence number is left for the caller to assign.
func (m *Model) Compute(area string, profile model.AreaProfile, ts time.Time) model.Reading {
	rng := rand.New(rand.NewSource(m.readingSeed(area, ts)))

	base := profile.DayKWh
	if m.isNight(ts) {
		base = profile.NightKWh
	}
	base *= HourlyFactor(profile, hourOfDay(ts), m.cfg.CurveWidth)
	base *= seasonalFactor[ts.Month()]

	kwh := round4(math.Max(minKWh, base*(1.0+rng.NormFloat64()*profile.StdPct)))

	voltage := round1(nominalVoltage + rng.NormFloat64()*voltageStd)
	pf := round3(minPowerFactor + rng.Float64()*(maxPowerFactor-minPowerFactor))
	current := round2(kwh * 1000 / (voltage * pf))

	temperature, humidity := environment(ts, rng)

	return model.Reading{
		Area:        area,
		Timestamp:   ts,
		KWh:         kwh,
		Voltage:     voltage,
		Current:     current,
		PowerFactor: pf,
		Temperature: temperature,
		Humidity:    humidity,
		Quality:     model.QualityOK,
	}
}

// HourlyFactor is the smooth daily multiplier: a gaussian bell centered at
// the profile's peak hour with wrap-around distance over 24h, normalized to
// 1.0 at the peak. The returned factor attains its maximum, the profile's
// peak factor, exactly at the peak hour.
func HourlyFactor(profile model.AreaProfile, hour, width float64) float64 {
	distance := math.Abs(hour - float64(profile.PeakHour))
	if distance > 12 {
		distance = 24 - distance
	}
	bell := math.Exp(-0.5 * math.Pow(distance/width, 2))

	return 1.0 + (profile.PeakFactor-1.0)*bell
}

// environment derives ambient temperature and humidity on opposing
// sinusoidal daily cycles with bounded noise.
func environment(ts time.Time, rng *rand.Rand) (temperature, humidity float64) {
	phase := math.Sin(math.Pi * (float64(ts.Hour()) - 6) / 12)

	temperature = 18 + 10*phase + rng.NormFloat64()*0.5
	temperature = round1(clamp(temperature, minTemperature, maxTemperature))

	humidity = 75 - 35*phase + rng.NormFloat64()*1.5
	humidity = round1(clamp(humidity, minHumidity, maxHumidity))

	return temperature, humidity
}

func (m *Model) isNight(ts time.Time) bool {
	h := ts.Hour()

	return h < m.cfg.DayStartHour || h >= m.cfg.NightStartHour
}

// readingSeed folds the configured seed, the area name and the timestamp
// into one deterministic source seed per computation.
func (m *Model) readingSeed(area string, ts time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(area))

	return m.cfg.Seed ^ int64(h.Sum64()) ^ ts.Unix()
}

func hourOfDay(ts time.Time) float64 {
	return float64(ts.Hour()) + float64(ts.Minute())/60.0
}

func clamp(v, minValue, maxValue float64) float64 {
	if v < minValue {
		return minValue
	}
	if v > maxValue {
		return maxValue
	}

	return v
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
