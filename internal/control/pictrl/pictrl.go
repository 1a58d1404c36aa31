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

package pictrl

import (
	"math"
	"time"

	"sysgrow/pkg/logger"
)

// PIController is a proportional-integral loop with deadband, integral decay
// and optional anti-windup.
type PIController struct {
	Kp, Ki      float64
	OutputMin   float64
	OutputMax   float64
	Deadband    float64
	DecayFactor float64 // range [0,1], fraction of the integral kept per second
	AntiWindup  bool

	intErr   float64
	lastTime time.Time
	now      func() time.Time
	log      *logger.Logger
}

func NewPIController(kp, ki float64) *PIController {
	return &PIController{
		Kp:        kp,
		Ki:        ki,
		OutputMin: math.Inf(-1),
		OutputMax: math.Inf(1),
		now:       time.Now,
		log:       logger.New("PI Control"),
	}
}

func (pi *PIController) WithOutputLimits(lo, hi float64) *PIController {
	pi.OutputMin = lo
	pi.OutputMax = hi
	return pi
}

func (pi *PIController) WithDeadband(db float64) *PIController {
	pi.Deadband = db
	return pi
}

func (pi *PIController) WithDecay(factor float64) *PIController {
	pi.DecayFactor = factor
	return pi
}

func (pi *PIController) WithAntiWindup(enabled bool) *PIController {
	pi.AntiWindup = enabled
	return pi
}

func (pi *PIController) WithClock(now func() time.Time) *PIController {
	pi.now = now
	return pi
}

// Reset clears the integral, e.g. after the setpoint moved.
func (pi *PIController) Reset() {
	pi.intErr = 0
	pi.lastTime = time.Time{}
}

func (pi *PIController) Integral() float64 { return pi.intErr }

// Update returns the loop output for one measurement. The first call after
// construction or Reset only contributes the proportional term.
func (pi *PIController) Update(setpoint, measurement float64) float64 {
	now := pi.now()
	dt := 0.0
	if !pi.lastTime.IsZero() {
		dt = max(now.Sub(pi.lastTime).Seconds(), 0)
	}
	pi.lastTime = now

	err := setpoint - measurement
	if math.Abs(err) < pi.Deadband {
		err = 0
	}

	if dt > 0 {
		pi.intErr += err * dt
		if pi.DecayFactor > 0 && pi.DecayFactor < 1 {
			pi.intErr *= math.Pow(pi.DecayFactor, dt)
		}
	}

	output := pi.Kp*err + pi.Ki*pi.intErr

	clamped := false
	if output > pi.OutputMax {
		output = pi.OutputMax
		clamped = true
	} else if output < pi.OutputMin {
		output = pi.OutputMin
		clamped = true
	}

	// roll back the last integral step so the term cannot wind up
	if clamped && pi.AntiWindup && dt > 0 {
		pi.intErr -= err * dt
	}

	pi.log.Debug("dt=%.2fs err=%.3f int=%.3f out=%.3f", dt, err, pi.intErr, output)
	return output
}
