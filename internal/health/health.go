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

// Package health serves the process health snapshot as JSON and exports the
// same counters to Prometheus.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"sysgrow/internal/controller"
	"sysgrow/pkg/eventbus"
	"sysgrow/pkg/logger"
	"sysgrow/pkg/sysmon"
)

type BusSource interface {
	Metrics() eventbus.Metrics
}

type UnitSource interface {
	Health() []controller.Health
}

type SystemSource interface {
	Snapshot() sysmon.Snapshot
}

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

type Report struct {
	Status string              `json:"status"`
	Time   time.Time           `json:"time"`
	Bus    eventbus.Metrics    `json:"bus"`
	Units  []controller.Health `json:"units"`
	System *sysmon.Snapshot    `json:"system,omitempty"`
}

// Reporter assembles reports. System may be nil.
type Reporter struct {
	Bus    BusSource
	Units  UnitSource
	System SystemSource

	log *logger.Logger
	now func() time.Time
}

func NewReporter(bus BusSource, units UnitSource, system SystemSource) *Reporter {
	return &Reporter{Bus: bus, Units: units, System: system, log: logger.New("Health"), now: time.Now}
}

// Report is degraded while any sensor is stale or the bus dropped events
// since its last drop summary.
func (r *Reporter) Report() Report {
	rep := Report{Status: StatusOK, Time: r.now(), Units: []controller.Health{}}
	if r.Bus != nil {
		rep.Bus = r.Bus.Metrics()
		if rep.Bus.DroppedRecent > 0 {
			rep.Status = StatusDegraded
		}
	}
	if r.Units != nil {
		rep.Units = r.Units.Health()
	}
	for _, h := range rep.Units {
		if len(h.StaleSensors) > 0 {
			rep.Status = StatusDegraded
		}
	}
	if r.System != nil {
		snap := r.System.Snapshot()
		rep.System = &snap
	}
	return rep
}

func (r *Reporter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.Report()); err != nil {
		r.log.Error("encode report: %v", err)
	}
}
