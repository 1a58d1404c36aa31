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

package modbussensor

import (
	"fmt"
	"math"
	"time"

	"sysgrow/internal/events"
	"sysgrow/pkg/modbus"
)

// plausibility bounds a metric's readings. A step larger than MaxStep
// within StepWindow of the previous accepted value is treated as a glitch.
type plausibility struct {
	Min, Max   float64
	MaxStep    float64
	StepWindow time.Duration
}

var plausible = map[events.Metric]plausibility{
	events.Temperature:  {Min: -40, Max: 85, MaxStep: 15, StepWindow: 8 * time.Minute},
	events.Humidity:     {Min: 0, Max: 100, MaxStep: 40, StepWindow: 5 * time.Minute},
	events.CO2:          {Min: 0, Max: 10000},
	events.VOC:          {Min: 0, Max: 60000},
	events.Lux:          {Min: 0, Max: 200000},
	events.Pressure:     {Min: 300, Max: 1100},
	events.AirQuality:   {Min: 0, Max: 500},
	events.SoilMoisture: {Min: 0, Max: 100, MaxStep: 50, StepWindow: 5 * time.Minute},
	events.PH:           {Min: 0, Max: 14, MaxStep: 3, StepWindow: 10 * time.Minute},
	events.EC:           {Min: 0, Max: 20},
}

type sample struct {
	value float64
	at    time.Time
}

func checkValue(def modbus.RegisterDef, m events.Metric, v float64, prev *sample, now time.Time) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("not a finite number")
	}

	p, known := plausible[m]
	lo, hi := p.Min, p.Max
	if def.Min != nil {
		lo = *def.Min
	}
	if def.Max != nil {
		hi = *def.Max
	}
	if known || def.Min != nil || def.Max != nil {
		if v < lo {
			return fmt.Errorf("%.2f below %.2f", v, lo)
		}
		if v > hi {
			return fmt.Errorf("%.2f above %.2f", v, hi)
		}
	}

	if prev == nil || p.MaxStep == 0 {
		return nil
	}
	dt := now.Sub(prev.at)
	if delta := math.Abs(v - prev.value); dt < p.StepWindow && delta > p.MaxStep {
		return fmt.Errorf("changed too fast: %.2f in %v", delta, dt.Truncate(time.Second))
	}
	return nil
}
