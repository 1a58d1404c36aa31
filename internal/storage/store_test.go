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

package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"sysgrow/internal/controller"
	"sysgrow/internal/events"
	"sysgrow/internal/thresholds"
	"sysgrow/pkg/eventbus"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	s, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestOpen_RejectsUnknownScheme(t *testing.T) {
	if _, err := Open("mysql://localhost/db"); err == nil {
		t.Fatal("mysql scheme accepted")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openTestStore(t)
	n, err := Migrate(s.DB())
	if err != nil || n != 0 {
		t.Fatalf("second Migrate applied %d, err %v", n, err)
	}
	statuses, err := MigrationStatuses(s.DB())
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 2 {
		t.Fatalf("statuses = %+v", statuses)
	}
	for _, st := range statuses {
		if !st.Applied || st.AppliedAt == nil {
			t.Errorf("%s not applied", st.ID)
		}
	}
}

func TestSensorReadings_LatestPerMetric(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	must(t, s.InsertSensorReading(ctx, 1, 7, map[events.Metric]float64{events.Temperature: 21, events.Humidity: 55}, t0))
	must(t, s.InsertSensorReading(ctx, 1, 7, map[events.Metric]float64{events.Temperature: 23}, t0.Add(time.Minute)))
	must(t, s.InsertSensorReading(ctx, 2, 9, map[events.Metric]float64{events.Temperature: 30}, t0))

	latest, err := s.LatestSensorReadings(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 2 || latest[events.Temperature] != 23 || latest[events.Humidity] != 55 {
		t.Errorf("latest = %v", latest)
	}

	hist, err := s.SensorHistory(ctx, 1, events.Temperature, t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[1].Value != 23 || !hist[0].RecordedAt.Equal(t0) {
		t.Errorf("history = %+v", hist)
	}
}

func TestPlantReadings_Nullable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ph := 6.1

	must(t, s.SavePlantReading(ctx, 1, 4, controller.PlantReading{PH: &ph}, time.Now()))
	rows, err := s.PlantHistory(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].SoilMoisture.Valid || !rows[0].PH.Valid || rows[0].PH.Float64 != 6.1 {
		t.Errorf("rows = %+v", rows)
	}
}

func TestThresholds_RoundTripThroughService(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	must(t, s.UpsertUnit(ctx, Unit{ID: 1, Name: "tent", PlantType: "tomato", GrowthStage: "flowering", Active: true}))

	svc := thresholds.NewService(s, nil, nil, thresholds.DefaultOptions())
	got, err := svc.ResolveForUnit(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Humidity() != 55 || got.Lux() != 30000 {
		t.Fatalf("profile thresholds = %s", got)
	}

	if _, changed, err := svc.Update(ctx, 1, map[string]any{"co2": 1200}); err != nil || !changed {
		t.Fatalf("Update changed=%v err=%v", changed, err)
	}
	stored, err := s.LoadThresholds(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if stored[events.CO2] != 1200 || len(stored) != len(thresholds.Fields) {
		t.Errorf("stored = %v", stored)
	}

	none, err := s.LoadThresholds(ctx, 99)
	if err != nil || none != nil {
		t.Errorf("unknown unit = %v, %v", none, err)
	}
}

func TestUnits(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	must(t, s.UpsertUnit(ctx, Unit{ID: 2, Name: "b", Active: true}))
	must(t, s.UpsertUnit(ctx, Unit{ID: 1, Name: "a", Active: true}))
	must(t, s.UpsertUnit(ctx, Unit{ID: 3, Name: "c", Active: false}))

	units, err := s.ActiveUnits(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 2 || units[0].ID != 1 {
		t.Errorf("active = %+v", units)
	}

	if _, err := s.GetUnit(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUnit(42) err = %v", err)
	}
	plant, stage, err := s.UnitProfile(ctx, 42)
	if err != nil || plant != "" || stage != "" {
		t.Errorf("UnitProfile(42) = %q %q %v", plant, stage, err)
	}
}

func TestResolvePlant(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	must(t, s.UpsertUnit(ctx, Unit{ID: 1, Active: true}))
	must(t, s.UpsertPlant(ctx, Plant{ID: 5, UnitID: 1, SensorID: 11, UserID: 3, ActuatorID: "valve-1",
		MoistureThreshold: sql.NullFloat64{Float64: 35, Valid: true}}))

	pc, err := s.ResolvePlant(ctx, 1, 11)
	if err != nil {
		t.Fatal(err)
	}
	if pc.PlantID != 5 || pc.Threshold == nil || *pc.Threshold != 35 || pc.ActuatorID != "valve-1" {
		t.Errorf("plant context = %+v", pc)
	}

	pc, err = s.ResolvePlant(ctx, 1, 12)
	if err != nil || pc.PlantID != 0 || pc.Threshold != nil {
		t.Errorf("unknown sensor = %+v, %v", pc, err)
	}
}

func TestRecorder(t *testing.T) {
	s := openTestStore(t)
	bus := eventbus.New(eventbus.Options{Workers: 1, QueueSize: 8})
	bus.Start()
	rec := NewRecorder(s)
	rec.Attach(bus)

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	threshold := 30.0
	events.PlantHealth.Publish(bus, events.PlantHealthWarning{
		ID: "w1", UnitID: 1, SensorID: 3, Metric: events.PH, Value: 8.2,
		Severity: events.SeverityCritical, Message: "ph high", At: at,
	})
	events.IrrigationEligibility.Publish(bus, events.IrrigationTrace{
		ID: "t1", UnitID: 1, SensorID: 11, Moisture: 40, Threshold: &threshold,
		Decision: events.DecisionSkip, SkipReason: events.SkipHysteresisNotMet, At: at,
	})
	bus.Close()
	rec.Detach()

	ctx := context.Background()
	alerts, err := s.RecentAlerts(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 || alerts[0].Severity != events.SeverityCritical || !alerts[0].At.Equal(at) {
		t.Errorf("alerts = %+v", alerts)
	}
	traces, err := s.RecentTraces(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(traces) != 1 || traces[0].SkipReason != events.SkipHysteresisNotMet || *traces[0].Threshold != 30 || traces[0].VPD != nil {
		t.Errorf("traces = %+v", traces)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
