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

// Package thresholds holds the environmental targets a growing unit is
// controlled towards, and the service that resolves and updates them.
package thresholds

import (
	"errors"
	"fmt"
	"maps"

	"sysgrow/internal/events"

	"github.com/spf13/cast"
)

var (
	ErrOutOfRange   = errors.New("value out of range")
	ErrNotNumeric   = errors.New("value is not numeric")
	ErrUnknownField = errors.New("unknown threshold field")
	ErrMissing      = errors.New("missing value")
)

// ValidationError names the offending field. It unwraps to one of the
// package sentinels.
type ValidationError struct {
	Field events.Metric
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	if r, ok := ranges[e.Field]; ok && errors.Is(e.Err, ErrOutOfRange) {
		return fmt.Sprintf("%s=%v: %v [%g, %g]", e.Field, e.Value, e.Err, r.Min, r.Max)
	}
	return fmt.Sprintf("%s=%v: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

type Range struct {
	Min, Max float64
}

func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

func (r Range) Clamp(v float64) float64 {
	return min(max(v, r.Min), r.Max)
}

// Fields are the threshold fields in declaration order.
var Fields = []events.Metric{
	events.Temperature,
	events.Humidity,
	events.SoilMoisture,
	events.CO2,
	events.VOC,
	events.Lux,
	events.AirQuality,
}

var ranges = map[events.Metric]Range{
	events.Temperature:  {-50, 100},
	events.Humidity:     {0, 100},
	events.SoilMoisture: {0, 100},
	events.CO2:          {0, 5000},
	events.VOC:          {0, 10000},
	events.Lux:          {0, 200000},
	events.AirQuality:   {0, 500},
}

// RangeOf returns the validity range of a threshold field.
func RangeOf(f events.Metric) (Range, bool) {
	r, ok := ranges[f]
	return r, ok
}

// EnvironmentalThresholds is an immutable set of targets. Every value is
// inside its field's range; the zero value is not valid, use New or Merge.
type EnvironmentalThresholds struct {
	values map[events.Metric]float64
}

func New(temperature, humidity, soilMoisture, co2, voc, lux, airQuality float64) (EnvironmentalThresholds, error) {
	return FromMap(map[events.Metric]float64{
		events.Temperature:  temperature,
		events.Humidity:     humidity,
		events.SoilMoisture: soilMoisture,
		events.CO2:          co2,
		events.VOC:          voc,
		events.Lux:          lux,
		events.AirQuality:   airQuality,
	})
}

// FromMap validates a complete set of field values.
func FromMap(values map[events.Metric]float64) (EnvironmentalThresholds, error) {
	clean := make(map[events.Metric]float64, len(Fields))
	var errs []error
	for _, f := range Fields {
		v, ok := values[f]
		if !ok {
			errs = append(errs, &ValidationError{Field: f, Err: ErrMissing})
			continue
		}
		if !ranges[f].Contains(v) {
			errs = append(errs, &ValidationError{Field: f, Value: v, Err: ErrOutOfRange})
			continue
		}
		clean[f] = v
	}
	if len(errs) > 0 {
		return EnvironmentalThresholds{}, errors.Join(errs...)
	}
	return EnvironmentalThresholds{values: clean}, nil
}

func (t EnvironmentalThresholds) Get(f events.Metric) float64 { return t.values[f] }

func (t EnvironmentalThresholds) Temperature() float64  { return t.values[events.Temperature] }
func (t EnvironmentalThresholds) Humidity() float64     { return t.values[events.Humidity] }
func (t EnvironmentalThresholds) SoilMoisture() float64 { return t.values[events.SoilMoisture] }
func (t EnvironmentalThresholds) CO2() float64          { return t.values[events.CO2] }
func (t EnvironmentalThresholds) VOC() float64          { return t.values[events.VOC] }
func (t EnvironmentalThresholds) Lux() float64          { return t.values[events.Lux] }
func (t EnvironmentalThresholds) AirQuality() float64   { return t.values[events.AirQuality] }

// With returns a copy with one field replaced.
func (t EnvironmentalThresholds) With(f events.Metric, v float64) (EnvironmentalThresholds, error) {
	if _, ok := ranges[f]; !ok {
		return t, &ValidationError{Field: f, Value: v, Err: ErrUnknownField}
	}
	next := t.Map()
	next[f] = v
	return FromMap(next)
}

// Merge applies a partial record on top of t. Keys that are not threshold
// fields are ignored. Values are coerced to float64; a value that cannot be
// coerced, or lands out of range, rejects the whole record.
func (t EnvironmentalThresholds) Merge(partial map[string]any) (EnvironmentalThresholds, error) {
	next := t.Map()
	var errs []error
	for key, raw := range partial {
		f, ok := events.ParseMetric(key)
		if !ok {
			continue
		}
		if _, ok := ranges[f]; !ok {
			continue
		}
		v, err := cast.ToFloat64E(raw)
		if err != nil {
			errs = append(errs, &ValidationError{Field: f, Value: raw, Err: ErrNotNumeric})
			continue
		}
		next[f] = v
	}
	if len(errs) > 0 {
		return t, errors.Join(errs...)
	}
	merged, err := FromMap(next)
	if err != nil {
		return t, err
	}
	return merged, nil
}

func (t EnvironmentalThresholds) Map() map[events.Metric]float64 {
	out := maps.Clone(t.values)
	if out == nil {
		out = map[events.Metric]float64{}
	}
	return out
}

// Record is Map keyed by plain strings, the form Merge accepts.
func (t EnvironmentalThresholds) Record() map[string]any {
	out := make(map[string]any, len(t.values))
	for f, v := range t.values {
		out[string(f)] = v
	}
	return out
}

func (t EnvironmentalThresholds) Equal(o EnvironmentalThresholds) bool {
	return maps.Equal(t.values, o.values)
}

func (t EnvironmentalThresholds) IsZero() bool { return len(t.values) == 0 }

func (t EnvironmentalThresholds) String() string {
	return fmt.Sprintf("temp=%.1f hum=%.1f soil=%.1f co2=%.0f voc=%.0f lux=%.0f aq=%.0f",
		t.Temperature(), t.Humidity(), t.SoilMoisture(), t.CO2(), t.VOC(), t.Lux(), t.AirQuality())
}

func joinErrs(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}
