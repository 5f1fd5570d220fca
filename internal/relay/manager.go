package relay

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jefry5/energy-monitor-si/internal/errors"
	"github.com/jefry5/energy-monitor-si/internal/logger"
)

// State of one virtual relay.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

const (
	ErrUnknownArea   = errors.ErrorCode("relay_unknown_area")
	ErrStorageInit   = errors.ErrorCode("relay_storage_init_failed")
	ErrStorageAccess = errors.ErrorCode("relay_storage_access_failed")
	ErrStorageClose  = errors.ErrorCode("relay_storage_close_failed")
)

// Status is the durable per-area relay record.
type Status struct {
	State     State
	Reason    string
	ChangedAt time.Time
	ChangedBy string
}

// Result is the outcome of one relay command. Idempotent no-ops resolve with
// Applied true; only unknown areas are rejected.
type Result struct {
	Area  string
	State State
	Err   error
}

// Applied reports whether the command was accepted (including no-ops).
func (r Result) Applied() bool {
	return r.Err == nil
}

// Manager holds one relay state machine per configured area, all guarded by
// a single mutation lock so an emergency cutoff can never interleave with a
// per-area command.
type Manager struct {
	mu     sync.Mutex
	states map[string]*Status
	repo   Repository
}

// NewManager seeds every configured area to ON, then overlays any states the
// repository persisted from a previous run. A nil repository disables
// durability.
func NewManager(areas []string, repo Repository) *Manager {
	m := &Manager{
		states: make(map[string]*Status, len(areas)),
		repo:   repo,
	}

	for _, area := range areas {
		m.states[area] = &Status{State: StateOn}
	}

	if repo != nil {
		persisted, err := repo.LoadAll()
		if err != nil {
			logger.ErrorWithCode(err).Msg("failed to load persisted relay states, starting all ON")
		} else {
			for area, status := range persisted {
				if _, ok := m.states[area]; ok {
					st := status
					m.states[area] = &st
				}
			}
		}
	}

	return m
}

// Cut forces one area's relay OFF. Repeating the command while already OFF
// is a no-op, not an error.
func (m *Manager) Cut(area, reason, actor string) Result {
	return m.set(area, StateOff, reason, actor)
}

// Restore turns one area's relay back ON.
func (m *Manager) Restore(area, reason, actor string) Result {
	return m.set(area, StateOn, reason, actor)
}

// EmergencyCutAll forces every area OFF regardless of current state. It runs
// under the same lock as per-area commands, so it cannot be interleaved.
func (m *Manager) EmergencyCutAll(reason, actor string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for area, status := range m.states {
		if status.State != StateOff {
			logger.Warn().Str("area", area).Str("reason", reason).Msg("relay emergency cutoff")
		}
		status.State = StateOff
		status.Reason = reason
		status.ChangedAt = now
		status.ChangedBy = actor
		m.persist(area, *status)
	}

	return Result{Area: "ALL", State: StateOff}
}

// IsOn reports whether the area's relay is conducting. Unknown areas read as
// ON so telemetry for a misconfigured consumer is never silently zeroed.
func (m *Manager) IsOn(area string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.states[area]

	return !ok || status.State == StateOn
}

// Snapshot returns a copy of every area's relay state without mutation.
func (m *Manager) Snapshot() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Status, len(m.states))
	for area, status := range m.states {
		out[area] = *status
	}

	return out
}

// Areas returns the configured area ids in stable order.
func (m *Manager) Areas() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.states))
	for area := range m.states {
		out = append(out, area)
	}
	sort.Strings(out)

	return out
}

func (m *Manager) set(area string, target State, reason, actor string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.states[area]
	if !ok {
		return Result{
			Area: area,
			Err:  errors.WithMessage(ErrUnknownArea, fmt.Sprintf("unknown area: %q", area)),
		}
	}

	if status.State == target {
		return Result{Area: area, State: target}
	}

	logger.Info().
		Str("area", area).
		Str("from", string(status.State)).
		Str("to", string(target)).
		Str("reason", reason).
		Str("actor", actor).
		Msg("relay state change")

	status.State = target
	status.Reason = reason
	status.ChangedAt = time.Now().UTC()
	status.ChangedBy = actor
	m.persist(area, *status)

	return Result{Area: area, State: target}
}

// persist is best effort: a storage failure must never block actuation.
func (m *Manager) persist(area string, status Status) {
	if m.repo == nil {
		return
	}
	if err := m.repo.Save(area, status); err != nil {
		logger.ErrorWithCode(err).Str("area", area).Msg("failed to persist relay state")
	}
}
