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

package events

import (
	"maps"
	"time"
)

type Metric string

const (
	Temperature  Metric = "temperature"
	Humidity     Metric = "humidity"
	CO2          Metric = "co2"
	VOC          Metric = "voc"
	Lux          Metric = "lux"
	Pressure     Metric = "pressure"
	AirQuality   Metric = "air_quality"
	SoilMoisture Metric = "soil_moisture"
	PH           Metric = "ph"
	EC           Metric = "ec"
)

// AllMetrics in a stable order.
var AllMetrics = []Metric{
	Temperature, Humidity, CO2, VOC, Lux, Pressure, AirQuality, SoilMoisture, PH, EC,
}

func ParseMetric(s string) (Metric, bool) {
	for _, m := range AllMetrics {
		if string(m) == s {
			return m, true
		}
	}
	return "", false
}

// SensorReading is the payload of every *_update sensor topic. Values only
// holds metrics the sensor actually reported; an absent key means "not in
// this event", never zero. Subscribers must treat Values as read-only.
type SensorReading struct {
	UnitID    int
	SensorID  int
	Values    map[Metric]float64
	Timestamp time.Time
}

func NewSensorReading(unitID, sensorID int, ts time.Time, values map[Metric]float64) SensorReading {
	return SensorReading{
		UnitID:    unitID,
		SensorID:  sensorID,
		Values:    maps.Clone(values),
		Timestamp: ts,
	}
}

func (r SensorReading) Value(m Metric) (float64, bool) {
	v, ok := r.Values[m]
	return v, ok
}

// ThresholdsUpdate carries accepted environmental targets for one unit.
type ThresholdsUpdate struct {
	UnitID int
	Values map[Metric]float64
	Source string
}

type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

type PlantHealthWarning struct {
	ID       string    `json:"id"`
	UnitID   int       `json:"unit_id"`
	SensorID int       `json:"sensor_id"`
	Metric   Metric    `json:"metric"`
	Value    float64   `json:"value"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

type IrrigationDecision string

const (
	DecisionNotify IrrigationDecision = "NOTIFY"
	DecisionSkip   IrrigationDecision = "SKIP"
)

type SkipReason string

const (
	SkipNone                SkipReason = ""
	SkipNoSensor            SkipReason = "no_sensor"
	SkipHysteresisNotMet    SkipReason = "hysteresis_not_met"
	SkipNoActuator          SkipReason = "no_actuator"
	SkipRequestCreateFailed SkipReason = "request_create_failed"
)

// IrrigationTrace records one irrigation eligibility evaluation.
type IrrigationTrace struct {
	ID         string             `json:"id"`
	UnitID     int                `json:"unit_id"`
	SensorID   int                `json:"sensor_id"`
	PlantID    int                `json:"plant_id,omitempty"`
	Moisture   float64            `json:"moisture"`
	Threshold  *float64           `json:"threshold,omitempty"`
	VPD        *float64           `json:"vpd_kpa,omitempty"`
	Decision   IrrigationDecision `json:"decision"`
	SkipReason SkipReason         `json:"skip_reason,omitempty"`
	At         time.Time          `json:"at"`
}

type RuntimeState string

const (
	RuntimeStarted RuntimeState = "started"
	RuntimeStopped RuntimeState = "stopped"
)

// RuntimeUpdate announces a unit's controllers starting or stopping.
type RuntimeUpdate struct {
	UnitID     int
	Controller string
	State      RuntimeState
	At         time.Time
}

// DeviceEvent is a sensor or actuator connecting or going away.
type DeviceEvent struct {
	UnitID    int
	DeviceID  string
	Connected bool
	Reason    string
	At        time.Time
}

type ActivityEntry struct {
	UnitID  int
	Kind    string
	Message string
	At      time.Time
}
