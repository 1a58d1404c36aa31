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
	"fmt"
	"time"

	"sysgrow/internal/controller"
	"sysgrow/internal/events"
	"sysgrow/internal/thresholds"

	"github.com/jmoiron/sqlx"
)

// Store implements the analytics sink, the threshold store and the plant
// resolver over one database.
type Store struct {
	db *sqlx.DB
	q  *queries
}

func New(db *sqlx.DB) (*Store, error) {
	q, err := loadQueries(db)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, q: q}, nil
}

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// InsertSensorReading writes one row per metric in a single transaction.
func (s *Store) InsertSensorReading(ctx context.Context, unitID, sensorID int, values map[events.Metric]float64, ts time.Time) error {
	if len(values) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for m, v := range values {
		if _, err := s.q.exec(ctx, tx, "insert-sensor-reading", unitID, sensorID, string(m), v, ts.UTC()); err != nil {
			return fmt.Errorf("insert %s reading: %w", m, err)
		}
	}
	return tx.Commit()
}

func (s *Store) SavePlantReading(ctx context.Context, unitID, plantID int, r controller.PlantReading, ts time.Time) error {
	_, err := s.q.exec(ctx, s.db, "insert-plant-reading", unitID, plantID, r.SoilMoisture, r.PH, r.EC, ts.UTC())
	return err
}

// LatestSensorReadings returns the most recent value of every metric
// recorded for the unit.
func (s *Store) LatestSensorReadings(ctx context.Context, unitID int) (map[events.Metric]float64, error) {
	var rows []struct {
		Metric     string    `db:"metric"`
		Value      float64   `db:"value"`
		RecordedAt time.Time `db:"recorded_at"`
	}
	if err := s.q.selectAll(ctx, &rows, "latest-sensor-readings", unitID); err != nil {
		return nil, err
	}
	out := make(map[events.Metric]float64, len(rows))
	for _, r := range rows {
		out[events.Metric(r.Metric)] = r.Value
	}
	return out, nil
}

type SensorRow struct {
	UnitID     int       `db:"unit_id"`
	SensorID   int       `db:"sensor_id"`
	Metric     string    `db:"metric"`
	Value      float64   `db:"value"`
	RecordedAt time.Time `db:"recorded_at"`
}

func (s *Store) SensorHistory(ctx context.Context, unitID int, m events.Metric, since time.Time) ([]SensorRow, error) {
	var rows []SensorRow
	err := s.q.selectAll(ctx, &rows, "list-sensor-readings", unitID, string(m), since.UTC())
	return rows, err
}

type PlantRow struct {
	UnitID       int             `db:"unit_id"`
	PlantID      int             `db:"plant_id"`
	SoilMoisture sql.NullFloat64 `db:"soil_moisture"`
	PH           sql.NullFloat64 `db:"ph"`
	EC           sql.NullFloat64 `db:"ec"`
	RecordedAt   time.Time       `db:"recorded_at"`
}

func (s *Store) PlantHistory(ctx context.Context, unitID int) ([]PlantRow, error) {
	var rows []PlantRow
	err := s.q.selectAll(ctx, &rows, "list-plant-readings", unitID)
	return rows, err
}

func (s *Store) LoadThresholds(ctx context.Context, unitID int) (map[events.Metric]float64, error) {
	var rows []struct {
		Metric string  `db:"metric"`
		Value  float64 `db:"value"`
	}
	if err := s.q.selectAll(ctx, &rows, "load-thresholds", unitID); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make(map[events.Metric]float64, len(rows))
	for _, r := range rows {
		out[events.Metric(r.Metric)] = r.Value
	}
	return out, nil
}

// SaveThresholds replaces the unit's override set.
func (s *Store) SaveThresholds(ctx context.Context, unitID int, values map[events.Metric]float64, source string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := s.q.exec(ctx, tx, "delete-thresholds", unitID); err != nil {
		return err
	}
	now := time.Now().UTC()
	for m, v := range values {
		if _, err := s.q.exec(ctx, tx, "insert-threshold", unitID, string(m), v, source, now); err != nil {
			return fmt.Errorf("insert %s threshold: %w", m, err)
		}
	}
	return tx.Commit()
}

type Unit struct {
	ID          int    `db:"id"`
	Name        string `db:"name"`
	PlantType   string `db:"plant_type"`
	GrowthStage string `db:"growth_stage"`
	Active      bool   `db:"active"`
}

func (s *Store) GetUnit(ctx context.Context, unitID int) (Unit, error) {
	var u Unit
	err := s.q.get(ctx, &u, "get-unit", unitID)
	if errors.Is(err, sql.ErrNoRows) {
		return u, fmt.Errorf("unit %d: %w", unitID, ErrNotFound)
	}
	return u, err
}

func (s *Store) ActiveUnits(ctx context.Context) ([]Unit, error) {
	var units []Unit
	err := s.q.selectAll(ctx, &units, "list-active-units", true)
	return units, err
}

func (s *Store) UpsertUnit(ctx context.Context, u Unit) error {
	_, err := s.q.exec(ctx, s.db, "upsert-unit", u.ID, u.Name, u.PlantType, u.GrowthStage, u.Active)
	return err
}

// UnitProfile returns the plant type and stage of a unit, empty when the
// unit is unknown.
func (s *Store) UnitProfile(ctx context.Context, unitID int) (string, string, error) {
	u, err := s.GetUnit(ctx, unitID)
	if errors.Is(err, ErrNotFound) {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	return u.PlantType, u.GrowthStage, nil
}

type Plant struct {
	ID                int             `db:"id"`
	UnitID            int             `db:"unit_id"`
	SensorID          int             `db:"sensor_id"`
	UserID            int             `db:"user_id"`
	ActuatorID        string          `db:"actuator_id"`
	MoistureThreshold sql.NullFloat64 `db:"moisture_threshold"`
}

func (s *Store) UpsertPlant(ctx context.Context, p Plant) error {
	_, err := s.q.exec(ctx, s.db, "upsert-plant", p.ID, p.UnitID, p.SensorID, p.UserID, p.ActuatorID, p.MoistureThreshold)
	return err
}

// ResolvePlant maps a soil sensor to its plant. An unknown sensor yields an
// empty context, not an error.
func (s *Store) ResolvePlant(ctx context.Context, unitID, sensorID int) (controller.PlantContext, error) {
	var p Plant
	err := s.q.get(ctx, &p, "get-plant-by-sensor", unitID, sensorID)
	if errors.Is(err, sql.ErrNoRows) {
		return controller.PlantContext{}, nil
	}
	if err != nil {
		return controller.PlantContext{}, err
	}
	pc := controller.PlantContext{
		PlantID:    p.ID,
		ActuatorID: p.ActuatorID,
		UserID:     p.UserID,
	}
	if p.MoistureThreshold.Valid {
		v := p.MoistureThreshold.Float64
		pc.Threshold = &v
	}
	return pc, nil
}

var (
	_ controller.AnalyticsSink = (*Store)(nil)
	_ controller.PlantResolver = (*Store)(nil)
	_ thresholds.Store         = (*Store)(nil)
)
