// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package throttle

import (
	"math"
	"sync"
	"time"

	"sysgrow/internal/events"
	"sysgrow/pkg/logger"
)

// MetricState is the per-metric throttle state of one controller.
type MetricState struct {
	Latest         float64
	HasLatest      bool
	LastStored     float64
	HasStored      bool
	LastInsertTime time.Time
}

// Decision owns the throttle state of one growing unit. It is safe for
// concurrent use; bus workers may deliver two events of the same unit at
// once.
type Decision struct {
	mu     sync.Mutex
	cfg    Config
	states map[events.Metric]*MetricState
	now    func() time.Time
	log    *logger.Logger
}

func NewDecision(cfg Config) *Decision {
	return &Decision{
		cfg:    cfg,
		states: make(map[events.Metric]*MetricState),
		now:    time.Now,
		log:    logger.New("Throttle"),
	}
}

// WithClock replaces the time source, for tests.
func (d *Decision) WithClock(now func() time.Time) *Decision {
	d.now = now
	return d
}

func (d *Decision) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// SetConfig swaps in a new snapshot. Existing per-metric state is kept.
func (d *Decision) SetConfig(cfg Config) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

// ShouldStore reports whether value should be persisted for metric and
// records the reading. The baseline and insert time only move when the
// answer is true; the latest reading always moves.
func (d *Decision) ShouldStore(metric events.Metric, value float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	st, ok := d.states[metric]
	if !ok {
		st = &MetricState{}
		d.states[metric] = st
	}

	store, reason := d.decide(st, metric, value, now)
	if store {
		st.LastInsertTime = now
		st.LastStored = value
		st.HasStored = true
	}
	st.Latest = value
	st.HasLatest = true

	if d.cfg.Debug() {
		d.log.Info("%s=%.3f store=%v (%s)", metric, value, store, reason)
	}
	return store
}

func (d *Decision) decide(st *MetricState, metric events.Metric, value float64, now time.Time) (bool, string) {
	if !d.cfg.Enabled() {
		return true, "throttling disabled"
	}

	p := d.cfg.Policy(metric)
	if st.LastInsertTime.IsZero() || now.Sub(st.LastInsertTime) >= p.Interval {
		return true, "interval elapsed"
	}
	if !d.cfg.Hybrid() {
		return false, "interval not elapsed"
	}

	var baseline float64
	switch {
	case st.HasStored:
		baseline = st.LastStored
	case st.HasLatest:
		baseline = st.Latest
	default:
		return true, "no baseline"
	}

	if math.Abs(value-baseline) >= p.ChangeThreshold {
		return true, "significant change"
	}
	return false, "below change threshold"
}

func (d *Decision) Latest(metric events.Metric) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.states[metric]; ok && st.HasLatest {
		return st.Latest, true
	}
	return 0, false
}

// Baseline is the last value actually persisted for metric.
func (d *Decision) Baseline(metric events.Metric) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.states[metric]; ok && st.HasStored {
		return st.LastStored, true
	}
	return 0, false
}

func (d *Decision) Snapshot() map[events.Metric]MetricState {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[events.Metric]MetricState, len(d.states))
	for m, st := range d.states {
		out[m] = *st
	}
	return out
}
