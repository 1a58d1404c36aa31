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
	"context"
	"time"

	"sysgrow/internal/events"
)

// ControlLogic turns readings into actuator commands for a unit.
type ControlLogic interface {
	// ControlStep reports whether an actuator command was issued.
	ControlStep(ctx context.Context, unitID int, metric events.Metric, sensorID int, value float64) (bool, error)
	SetThresholds(unitID int, values map[events.Metric]float64)
}

// PlantReading holds the plant metrics of one event. Nil means "not in
// this event".
type PlantReading struct {
	SoilMoisture *float64
	PH           *float64
	EC           *float64
}

// AnalyticsSink is where accepted readings are persisted.
type AnalyticsSink interface {
	InsertSensorReading(ctx context.Context, unitID, sensorID int, values map[events.Metric]float64, ts time.Time) error
	SavePlantReading(ctx context.Context, unitID, plantID int, r PlantReading, ts time.Time) error
	LatestSensorReadings(ctx context.Context, unitID int) (map[events.Metric]float64, error)
}

// PlantContext is what is known about the plant behind a soil sensor. Zero
// values mean unknown.
type PlantContext struct {
	PlantID    int
	Threshold  *float64
	ActuatorID string
	UserID     int
}

type PlantResolver interface {
	ResolvePlant(ctx context.Context, unitID, sensorID int) (PlantContext, error)
}

// IrrigationRequest is the enriched context handed to the irrigation
// workflow. Environment fields are nil when unavailable.
type IrrigationRequest struct {
	TraceID     string
	UnitID      int
	SensorID    int
	PlantID     int
	UserID      int
	ActuatorID  string
	Moisture    float64
	Threshold   float64
	Temperature *float64
	Humidity    *float64
	VPD         *float64
	At          time.Time
}

type IrrigationWorkflow interface {
	DetectIrrigationNeed(ctx context.Context, req IrrigationRequest) error
}

// SensorPolling is started and stopped with a unit's climate controller.
type SensorPolling interface {
	StartPolling(ctx context.Context, unitID int) error
	StopPolling(unitID int)
}
