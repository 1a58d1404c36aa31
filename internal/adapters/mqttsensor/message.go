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

package mqttsensor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"sysgrow/internal/events"
	"sysgrow/pkg/eventbus"
	"sysgrow/pkg/logger"

	"github.com/spf13/cast"
)

var ErrBadTopic = errors.New("malformed sensor topic")

var parseLog = logger.New("MQTTSensor")

// kinds maps the last topic segment to the bus topic it is published on.
var kinds = map[string]eventbus.Key[events.SensorReading]{
	"temperature":   events.TemperatureUpdate,
	"humidity":      events.HumidityUpdate,
	"co2":           events.CO2Update,
	"voc":           events.VOCUpdate,
	"light":         events.LightUpdate,
	"lux":           events.LightUpdate,
	"pressure":      events.PressureUpdate,
	"air_quality":   events.AirQualityUpdate,
	"soil_moisture": events.SoilMoistureUpdate,
	"soil":          events.SoilMoistureUpdate,
	"ph":            events.PHUpdate,
	"ec":            events.ECUpdate,
}

// ParseMessage decodes a message published on <prefix>/<unit>/<sensor>/<kind>.
//
// The payload is either a bare number, taken as the kind's primary metric,
// or a JSON object of metric names to values with an optional "ts" field
// (RFC 3339 or unix seconds). Values may be numbers or numeric strings;
// unknown keys are ignored. A value that is not a finite number is skipped
// and the other metrics of the message are kept.
func ParseMessage(topic string, payload []byte, now time.Time) (eventbus.Key[events.SensorReading], events.SensorReading, error) {
	var key eventbus.Key[events.SensorReading]

	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) < 3 {
		return key, events.SensorReading{}, fmt.Errorf("%w: %q", ErrBadTopic, topic)
	}
	parts = parts[len(parts)-3:]
	unitID, err := strconv.Atoi(parts[0])
	if err != nil || unitID <= 0 {
		return key, events.SensorReading{}, fmt.Errorf("%w: unit %q", ErrBadTopic, parts[0])
	}
	sensorID, err := strconv.Atoi(parts[1])
	if err != nil || sensorID < 0 {
		return key, events.SensorReading{}, fmt.Errorf("%w: sensor %q", ErrBadTopic, parts[1])
	}
	key, ok := kinds[strings.ToLower(parts[2])]
	if !ok {
		return key, events.SensorReading{}, fmt.Errorf("%w: unknown kind %q", ErrBadTopic, parts[2])
	}
	primary, _ := events.PrimaryMetric(key.Topic)

	values := map[events.Metric]float64{}
	ts := now

	body := strings.TrimSpace(string(payload))
	if v, err := strconv.ParseFloat(body, 64); err == nil {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return key, events.SensorReading{}, fmt.Errorf("%s: not a finite number", primary)
		}
		values[primary] = v
		return key, events.NewSensorReading(unitID, sensorID, ts, values), nil
	}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return key, events.SensorReading{}, fmt.Errorf("decode payload: %w", err)
	}
	for k, raw := range doc {
		if k == "ts" || k == "timestamp" {
			if f, ok := raw.(float64); ok {
				raw = int64(f)
			}
			if t, err := cast.ToTimeE(raw); err == nil {
				ts = t
			}
			continue
		}
		if k == "value" {
			k = string(primary)
		}
		m, ok := events.ParseMetric(k)
		if !ok {
			continue
		}
		v, err := cast.ToFloat64E(raw)
		if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
			err = errors.New("not a finite number")
		}
		if err != nil {
			parseLog.Warn("%s: skipping %s: %v", topic, k, err)
			continue
		}
		values[m] = v
	}
	if len(values) == 0 {
		return key, events.SensorReading{}, fmt.Errorf("payload carries no known metric")
	}
	return key, events.NewSensorReading(unitID, sensorID, ts, values), nil
}
