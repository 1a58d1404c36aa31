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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sysgrow/internal/events"
	"sysgrow/internal/throttle"
)

func TestManager_Lifecycle(t *testing.T) {
	bus := startBus(t)
	m := NewManager(func(unitID int) UnitRuntime {
		return UnitRuntime{
			Climate: NewClimate(unitID, bus, &fakeLogic{}, &fakeSink{}, ClimateOptions{Throttle: throttle.Default()}),
			Plant:   NewPlantSensor(unitID, bus, &fakeSink{}, PlantSensorOptions{Throttle: throttle.Default()}),
		}
	})

	if !m.StartUnit(2) || !m.StartUnit(1) {
		t.Fatal("StartUnit failed")
	}
	if m.StartUnit(1) {
		t.Error("second StartUnit of a running unit succeeded")
	}
	if ids := m.Units(); len(ids) != 2 || ids[0] != 1 {
		t.Errorf("Units() = %v", ids)
	}
	if h := m.Health(); len(h) != 4 || h[0].UnitID != 1 || h[0].Controller != "climate" || !h[0].Running {
		t.Errorf("Health() = %+v", h)
	}

	rt, _ := m.Get(1)
	m.StopUnit(1)
	if rt.Climate.Running() || rt.Plant.Running() {
		t.Error("controllers still running after StopUnit")
	}
	if m.StopUnit(1) {
		t.Error("StopUnit of a stopped unit succeeded")
	}

	m.StopAll()
	if bus.SubscriberCount() != 0 {
		t.Errorf("subscribers left: %d", bus.SubscriberCount())
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	bus := startBus(t)
	m := NewManager(func(unitID int) UnitRuntime {
		return UnitRuntime{
			Climate: NewClimate(unitID, bus, &fakeLogic{}, &fakeSink{}, ClimateOptions{Throttle: throttle.Default()}),
			Plant:   NewPlantSensor(unitID, bus, &fakeSink{}, PlantSensorOptions{Throttle: throttle.Default()}),
		}
	})
	t.Cleanup(m.StopAll)
	return m
}

func TestManager_MergeThrottleKeepsBaseline(t *testing.T) {
	m := newTestManager(t)
	m.StartUnit(1)
	rt, _ := m.Get(1)
	temp := func(v float64) events.SensorReading {
		return reading(1, 4, map[events.Metric]float64{events.Temperature: v})
	}

	rt.Climate.onSensor(events.TopicTemperature, temp(22))
	rt.Climate.onSensor(events.TopicTemperature, temp(22.6)) // below the default 1.0 change
	if got := rt.Climate.Health().Stored; got != 1 {
		t.Fatalf("stored = %d, want 1", got)
	}

	if _, err := m.MergeThrottle(map[string]any{"temperature_change_threshold": 0.5}); err != nil {
		t.Fatal(err)
	}
	if b, ok := rt.Climate.writer.decision.Baseline(events.Temperature); !ok || b != 22 {
		t.Fatalf("baseline after merge = %v, %v, want 22", b, ok)
	}

	rt.Climate.onSensor(events.TopicTemperature, temp(22.6))
	if got := rt.Climate.Health().Stored; got != 2 {
		t.Errorf("stored = %d, want 2 under the merged threshold", got)
	}

	// invalid records change nothing
	if _, err := m.MergeThrottle(map[string]any{"temperature_change_threshold": -1}); err == nil {
		t.Error("negative threshold accepted")
	}
	if p := m.ThrottleConfig().Policy(events.Temperature); p.ChangeThreshold != 0.5 {
		t.Errorf("threshold = %v, want 0.5", p.ChangeThreshold)
	}

	// units started later pick up the merged config
	m.StartUnit(2)
	rt2, _ := m.Get(2)
	if p := rt2.Plant.writer.decision.Config().Policy(events.Temperature); p.ChangeThreshold != 0.5 {
		t.Errorf("new unit threshold = %v, want 0.5", p.ChangeThreshold)
	}
}

func TestManager_ServeHTTP(t *testing.T) {
	m := newTestManager(t)

	do := func(method, target, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		m.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
		return rec
	}

	if rec := do(http.MethodPost, "/start?unit=3", ""); rec.Code != http.StatusOK {
		t.Fatalf("start = %d %s", rec.Code, rec.Body)
	}
	if rec := do(http.MethodPost, "/start?unit=3", ""); rec.Code != http.StatusConflict {
		t.Errorf("second start = %d", rec.Code)
	}

	rec := do(http.MethodPost, "/throttle", `{"co2_interval_minutes": 5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("merge = %d %s", rec.Code, rec.Body)
	}
	var flat map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &flat); err != nil {
		t.Fatal(err)
	}
	if flat["co2_interval_minutes"] != 5.0 {
		t.Errorf("co2_interval_minutes = %v", flat["co2_interval_minutes"])
	}
	rt, _ := m.Get(3)
	if p := rt.Climate.writer.decision.Config().Policy(events.CO2); p.Interval != 5*time.Minute {
		t.Errorf("running unit interval = %v", p.Interval)
	}

	if rec := do(http.MethodPost, "/throttle", `{"throttling_enabled": "maybe"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid merge = %d", rec.Code)
	}
	if rec := do(http.MethodGet, "/", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"units":[3]`) {
		t.Errorf("index = %d %s", rec.Code, rec.Body)
	}
	if rec := do(http.MethodPost, "/stop?unit=3", ""); rec.Code != http.StatusOK || len(m.Units()) != 0 {
		t.Errorf("stop = %d, units %v", rec.Code, m.Units())
	}
}
