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
	"time"

	"sysgrow/internal/events"
	"sysgrow/pkg/eventbus"
	"sysgrow/pkg/logger"
)

// Recorder keeps a history of outbound notifications: plant health
// warnings and irrigation traces.
type Recorder struct {
	store  *Store
	log    *logger.Logger
	unsubs []func()
}

func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store, log: logger.New("Recorder")}
}

func (r *Recorder) Attach(bus *eventbus.Bus) {
	r.unsubs = append(r.unsubs,
		events.PlantHealth.Subscribe(bus, r.saveAlert),
		events.IrrigationEligibility.Subscribe(bus, r.saveTrace),
	)
}

func (r *Recorder) Detach() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}

func (r *Recorder) saveAlert(w events.PlantHealthWarning) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := r.store.q.exec(ctx, r.store.db, "insert-plant-alert",
		w.ID, w.UnitID, w.SensorID, string(w.Metric), w.Value, string(w.Severity), w.Message, w.At.UTC())
	return err
}

func (r *Recorder) saveTrace(t events.IrrigationTrace) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := r.store.q.exec(ctx, r.store.db, "insert-irrigation-trace",
		t.ID, t.UnitID, t.SensorID, t.PlantID, t.Moisture, t.Threshold, t.VPD,
		string(t.Decision), string(t.SkipReason), t.At.UTC())
	return err
}

func (s *Store) RecentAlerts(ctx context.Context, unitID, limit int) ([]events.PlantHealthWarning, error) {
	var rows []struct {
		ID        string    `db:"id"`
		UnitID    int       `db:"unit_id"`
		SensorID  int       `db:"sensor_id"`
		Metric    string    `db:"metric"`
		Value     float64   `db:"value"`
		Severity  string    `db:"severity"`
		Message   string    `db:"message"`
		CreatedAt time.Time `db:"created_at"`
	}
	if err := s.q.selectAll(ctx, &rows, "list-plant-alerts", unitID, limit); err != nil {
		return nil, err
	}
	out := make([]events.PlantHealthWarning, 0, len(rows))
	for _, r := range rows {
		out = append(out, events.PlantHealthWarning{
			ID: r.ID, UnitID: r.UnitID, SensorID: r.SensorID, Metric: events.Metric(r.Metric),
			Value: r.Value, Severity: events.Severity(r.Severity), Message: r.Message, At: r.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) RecentTraces(ctx context.Context, unitID, limit int) ([]events.IrrigationTrace, error) {
	var rows []struct {
		ID         string          `db:"id"`
		UnitID     int             `db:"unit_id"`
		SensorID   int             `db:"sensor_id"`
		PlantID    int             `db:"plant_id"`
		Moisture   float64         `db:"moisture"`
		Threshold  sql.NullFloat64 `db:"threshold"`
		VPD        sql.NullFloat64 `db:"vpd_kpa"`
		Decision   string          `db:"decision"`
		SkipReason string          `db:"skip_reason"`
		CreatedAt  time.Time       `db:"created_at"`
	}
	if err := s.q.selectAll(ctx, &rows, "list-irrigation-traces", unitID, limit); err != nil {
		return nil, err
	}
	out := make([]events.IrrigationTrace, 0, len(rows))
	for _, r := range rows {
		t := events.IrrigationTrace{
			ID: r.ID, UnitID: r.UnitID, SensorID: r.SensorID, PlantID: r.PlantID, Moisture: r.Moisture,
			Decision: events.IrrigationDecision(r.Decision), SkipReason: events.SkipReason(r.SkipReason), At: r.CreatedAt,
		}
		if r.Threshold.Valid {
			v := r.Threshold.Float64
			t.Threshold = &v
		}
		if r.VPD.Valid {
			v := r.VPD.Float64
			t.VPD = &v
		}
		out = append(out, t)
	}
	return out, nil
}
