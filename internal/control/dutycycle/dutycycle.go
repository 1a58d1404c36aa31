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

package dutycycle

import (
	"context"
	"math"
	"sync"
	"time"

	"sysgrow/pkg/logger"
)

// Actuator switches a relay.
type Actuator func(ctx context.Context, on bool) error

// Controller runs a relay for a percentage of every hour, spread over
// evenly sized cycles and respecting minimum on and off times.
type Controller struct {
	name    string
	actuate Actuator
	minOn   time.Duration
	minOff  time.Duration
	now     func() time.Time
	log     *logger.Logger

	updateCh chan float64

	mu         sync.Mutex
	percent    float64
	currentOn  bool
	lastChange time.Time
}

func New(name string, actuate Actuator) *Controller {
	return &Controller{
		name:     name,
		actuate:  actuate,
		minOn:    5 * time.Minute,
		minOff:   2 * time.Minute,
		now:      time.Now,
		updateCh: make(chan float64, 1),
		log:      logger.New("DutyCycle"),
	}
}

func (c *Controller) WithMinTimes(on, off time.Duration) *Controller {
	c.minOn = on
	c.minOff = off
	return c
}

func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// SetDutyCycle requests a new duty in percent, clamped to 0..100. Only the
// latest request is kept if Run has not picked up the previous one.
func (c *Controller) SetDutyCycle(p float64) {
	p = min(max(p, 0), 100)
	select {
	case c.updateCh <- p:
	default:
		select {
		case <-c.updateCh:
		default:
		}
		c.updateCh <- p
	}
}

// Duty is the duty cycle currently applied by the loop.
func (c *Controller) Duty() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.percent
}

func (c *Controller) On() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentOn
}

// Run evaluates the relay once a minute until ctx is done, then switches
// it off.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.setRelay(context.Background(), false, true)
			return

		case p := <-c.updateCh:
			c.log.Debug("%s: new duty cycle %.1f%%", c.name, p)
			c.mu.Lock()
			c.percent = p
			c.mu.Unlock()
			c.Tick(ctx)

		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick sets the relay to where it should be at the current instant.
func (c *Controller) Tick(ctx context.Context) {
	c.setRelay(ctx, c.shouldBeOn(c.now()), false)
}

func (c *Controller) shouldBeOn(now time.Time) bool {
	c.mu.Lock()
	percent := c.percent
	c.mu.Unlock()

	if percent <= 0 {
		return false
	}
	if percent >= 100 {
		return true
	}

	minOn := c.minOn.Minutes()
	minOff := c.minOff.Minutes()
	runMinutes := math.Max(60.0*percent/100.0, minOn)

	cycles := max(int(math.Floor(60.0/(runMinutes+minOff))), 1)
	cycleLength := 60.0 / float64(cycles)
	onLength := runMinutes / float64(cycles)

	if onLength < minOn {
		onLength = minOn
		cycleLength = onLength * 60.0 / runMinutes
	}
	if offLength := cycleLength - onLength; offLength < minOff {
		cycleLength = onLength + minOff
	}

	minOfHour := float64(now.Minute()) + float64(now.Second())/60.0
	return math.Mod(minOfHour, cycleLength) < onLength
}

// setRelay switches the relay when the state changes and the minimum
// on/off time has passed. force skips the minimum time check.
func (c *Controller) setRelay(ctx context.Context, on, force bool) {
	c.mu.Lock()
	if c.currentOn == on {
		c.mu.Unlock()
		return
	}
	now := c.now()
	if !force && !c.lastChange.IsZero() {
		elapsed := now.Sub(c.lastChange)
		if c.currentOn && elapsed < c.minOn {
			c.mu.Unlock()
			return
		}
		if !c.currentOn && elapsed < c.minOff {
			c.mu.Unlock()
			return
		}
	}
	c.currentOn = on
	c.lastChange = now
	c.mu.Unlock()

	if err := c.actuate(ctx, on); err != nil {
		c.log.Error("%s: actuator error: %v", c.name, err)
	}
}
