// Package baseline keeps the per-area exponential moving average that the
// downstream anomaly evaluator compares readings against. The record lives
// in external durable storage so a process restart does not reset the
// baseline. The store is shared with the evaluator: the read-modify-write
// here is deliberately last-writer-wins with no distributed locking, and
// consumers use the record's updated_at timestamp to detect staleness.
package baseline

import (
	"sync"
	"time"

	"github.com/jefry5/energy-monitor-si/internal/errors"
	"github.com/jefry5/energy-monitor-si/internal/logger"
)

const (
	ErrInvalidAlpha  = errors.ErrorCode("baseline_invalid_alpha")
	ErrStorageInit   = errors.ErrorCode("baseline_storage_init_failed")
	ErrStorageAccess = errors.ErrorCode("baseline_storage_access_failed")
	ErrStorageClose  = errors.ErrorCode("baseline_storage_close_failed")
	ErrFlushFailed   = errors.ErrorCode("baseline_flush_failed")
)

// Record is the durable EMA state of one area.
type Record struct {
	Area      string
	EMA       float64
	Samples   int64
	UpdatedAt time.Time
}

// Tracker advances baselines in memory and flushes them through a Store
// once per cycle. A flush failure keeps the record dirty so it is retried
// next cycle while detection keeps using the in-memory value.
type Tracker struct {
	mu      sync.Mutex
	store   Store
	alpha   float64
	records map[string]*Record
	dirty   map[string]bool
}

// NewTracker creates a tracker with the given smoothing factor.
func NewTracker(store Store, alpha float64) (*Tracker, error) {
	if alpha <= 0 || alpha > 1 {
		return nil, errors.WithData(ErrInvalidAlpha, alpha)
	}

	return &Tracker{
		store:   store,
		alpha:   alpha,
		records: make(map[string]*Record),
		dirty:   make(map[string]bool),
	}, nil
}

// Warm loads persisted records for the given areas at startup so the
// baseline continues across restarts. A load failure falls back, loudly, to
// seeding fresh from the first sample.
func (t *Tracker) Warm(areas []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.store == nil {
		return
	}

	for _, area := range areas {
		record, err := t.store.Load(area)
		if err != nil {
			logger.ErrorWithCode(err).
				Str("area", area).
				Msg("baseline load failed, seeding fresh from first sample")
			continue
		}
		if record == nil {
			continue
		}
		t.records[area] = record
		logger.Debug().
			Str("area", area).
			Float64("ema", record.EMA).
			Int64("samples", record.Samples).
			Msg("baseline restored")
	}
}

// Advance folds one sample into the area's EMA and returns the updated
// record. The first sample for an area seeds the EMA directly, with no
// warm-up transient.
func (t *Tracker) Advance(area string, sample float64, now time.Time) Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.records[area]
	if !ok {
		record = &Record{Area: area, EMA: sample}
		t.records[area] = record
	} else {
		record.EMA += t.alpha * (sample - record.EMA)
	}
	record.Samples++
	record.UpdatedAt = now
	t.dirty[area] = true

	return *record
}

// FlushAll writes every dirty record back to the store. Records that fail
// stay dirty and are retried on the next call.
func (t *Tracker) FlushAll() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.store == nil {
		return nil
	}

	var firstErr error
	for area := range t.dirty {
		record := t.records[area]
		if err := t.store.Flush(record); err != nil {
			if firstErr == nil {
				firstErr = errors.Wrap(ErrFlushFailed, err)
			}
			continue
		}
		delete(t.dirty, area)
	}

	return firstErr
}
