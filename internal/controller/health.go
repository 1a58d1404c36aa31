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
	"maps"
	"slices"
	"sync"
	"time"

	"sysgrow/internal/events"
)

// DefaultStaleAfter is how long a sensor may stay silent before it is
// reported stale.
const DefaultStaleAfter = 5 * time.Minute

type StaleSensor struct {
	SensorID int           `json:"sensor_id"`
	Metric   events.Metric `json:"metric"`
	LastSeen time.Time     `json:"last_seen"`
	Age      time.Duration `json:"age_ns"`
}

// Health is a point-in-time snapshot of one controller.
type Health struct {
	UnitID         int                     `json:"unit_id"`
	Controller     string                  `json:"controller"`
	Running        bool                    `json:"running"`
	SensorUpdates  map[events.Metric]int64 `json:"sensor_updates"`
	ControlActions map[events.Metric]int64 `json:"control_actions"`
	ControlErrors  int64                   `json:"control_errors"`
	Stored         int64                   `json:"stored"`
	Throttled      int64                   `json:"throttled"`
	PersistErrors  int64                   `json:"persist_errors"`
	Alerts         int64                   `json:"alerts,omitempty"`
	StaleSensors   []StaleSensor           `json:"stale_sensors"`
}

type sensorKey struct {
	sensorID int
	metric   events.Metric
}

// stats collects the counters behind Health.
type stats struct {
	mu             sync.Mutex
	staleAfter     time.Duration
	lastSeen       map[sensorKey]time.Time
	sensorUpdates  map[events.Metric]int64
	controlActions map[events.Metric]int64
	controlErrors  int64
	stored         int64
	throttled      int64
	persistErrors  int64
	alerts         int64
}

func newStats(staleAfter time.Duration) *stats {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &stats{
		staleAfter:     staleAfter,
		lastSeen:       map[sensorKey]time.Time{},
		sensorUpdates:  map[events.Metric]int64{},
		controlActions: map[events.Metric]int64{},
	}
}

func (s *stats) seen(sensorID int, m events.Metric, at time.Time) {
	s.mu.Lock()
	s.lastSeen[sensorKey{sensorID, m}] = at
	s.sensorUpdates[m]++
	s.mu.Unlock()
}

func (s *stats) control(m events.Metric, acted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.controlErrors++
		return
	}
	if acted {
		s.controlActions[m]++
	}
}

func (s *stats) persisted(stored, throttled int, err error) {
	s.mu.Lock()
	s.stored += int64(stored)
	s.throttled += int64(throttled)
	if err != nil {
		s.persistErrors++
	}
	s.mu.Unlock()
}

func (s *stats) alert() {
	s.mu.Lock()
	s.alerts++
	s.mu.Unlock()
}

func (s *stats) snapshot(unitID int, name string, running bool, now time.Time) Health {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := Health{
		UnitID:         unitID,
		Controller:     name,
		Running:        running,
		SensorUpdates:  maps.Clone(s.sensorUpdates),
		ControlActions: maps.Clone(s.controlActions),
		ControlErrors:  s.controlErrors,
		Stored:         s.stored,
		Throttled:      s.throttled,
		PersistErrors:  s.persistErrors,
		Alerts:         s.alerts,
		StaleSensors:   []StaleSensor{},
	}
	for k, at := range s.lastSeen {
		if age := now.Sub(at); age >= s.staleAfter {
			h.StaleSensors = append(h.StaleSensors, StaleSensor{SensorID: k.sensorID, Metric: k.metric, LastSeen: at, Age: age})
		}
	}
	slices.SortFunc(h.StaleSensors, func(a, b StaleSensor) int {
		if a.SensorID != b.SensorID {
			return a.SensorID - b.SensorID
		}
		if a.Metric < b.Metric {
			return -1
		}
		if a.Metric > b.Metric {
			return 1
		}
		return 0
	})
	return h
}
