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

package controller

import (
	"math"

	"sysgrow/internal/events"
	"sysgrow/internal/throttle"
	"sysgrow/pkg/eventbus"
)

// throttledWriter runs the persistence decision over the metric set of a
// sensor topic. Controllers own one each.
type throttledWriter struct {
	decision *throttle.Decision
}

func newThrottledWriter(cfg throttle.Config) *throttledWriter {
	return &throttledWriter{decision: throttle.NewDecision(cfg)}
}

// accept returns the metrics of r that should be persisted now, and how
// many present metrics were throttled. Metrics absent from r are not
// considered at all; neither are NaN or infinite values.
func (w *throttledWriter) accept(topic eventbus.Topic, r events.SensorReading) (map[events.Metric]float64, int) {
	var stored map[events.Metric]float64
	throttled := 0
	for _, m := range events.MetricsFor(topic) {
		v, ok := r.Value(m)
		if !ok || !finite(v) {
			continue
		}
		if !w.decision.ShouldStore(m, v) {
			throttled++
			continue
		}
		if stored == nil {
			stored = map[events.Metric]float64{}
		}
		stored[m] = v
	}
	return stored, throttled
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (w *throttledWriter) latest(m events.Metric) (float64, bool) {
	return w.decision.Latest(m)
}
