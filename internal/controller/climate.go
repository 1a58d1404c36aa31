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
	"sync"
	"time"

	"sysgrow/internal/events"
	"sysgrow/internal/throttle"
	"sysgrow/pkg/eventbus"
	"sysgrow/pkg/logger"
)

type ClimateOptions struct {
	Throttle   throttle.Config
	StaleAfter time.Duration
	// Polling is optional.
	Polling SensorPolling
}

// Climate consumes the environment sensor topics of one unit: it feeds the
// control logic and persists readings through the throttle.
type Climate struct {
	unitID  int
	bus     *eventbus.Bus
	logic   ControlLogic
	sink    AnalyticsSink
	polling SensorPolling
	writer  *throttledWriter
	stats   *stats
	log     *logger.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
	unsubs  []func()
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewClimate(unitID int, bus *eventbus.Bus, logic ControlLogic, sink AnalyticsSink, opts ClimateOptions) *Climate {
	return &Climate{
		unitID:  unitID,
		bus:     bus,
		logic:   logic,
		sink:    sink,
		polling: opts.Polling,
		writer:  newThrottledWriter(opts.Throttle),
		stats:   newStats(opts.StaleAfter),
		log:     logger.New("Climate"),
		now:     time.Now,
	}
}

func (c *Climate) UnitID() int { return c.unitID }

// Start subscribes to the environment topics. A second call logs a warning
// and does nothing.
func (c *Climate) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.log.Warn("unit %d: already started", c.unitID)
		return
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(context.Background())

	for _, key := range events.EnvironmentKeys {
		topic := key.Topic
		c.unsubs = append(c.unsubs, key.Subscribe(c.bus, func(r events.SensorReading) error {
			return c.onSensor(topic, r)
		}))
	}
	c.unsubs = append(c.unsubs, events.Thresholds.Subscribe(c.bus, c.onThresholds))

	if c.polling != nil {
		if err := c.polling.StartPolling(c.ctx, c.unitID); err != nil {
			c.log.Error("unit %d: start polling: %v", c.unitID, err)
		}
	}

	c.log.Info("unit %d: started", c.unitID)
	events.Runtime.Publish(c.bus, events.RuntimeUpdate{
		UnitID: c.unitID, Controller: "climate", State: events.RuntimeStarted, At: c.now(),
	})
}

// Stop removes the subscriptions. A second call logs a warning and does
// nothing.
func (c *Climate) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		c.log.Warn("unit %d: already stopped", c.unitID)
		return
	}
	c.running = false
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
	if c.polling != nil {
		c.polling.StopPolling(c.unitID)
	}
	c.cancel()

	c.log.Info("unit %d: stopped", c.unitID)
	events.Runtime.Publish(c.bus, events.RuntimeUpdate{
		UnitID: c.unitID, Controller: "climate", State: events.RuntimeStopped, At: c.now(),
	})
}

func (c *Climate) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Climate) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c *Climate) onSensor(topic eventbus.Topic, r events.SensorReading) error {
	if r.UnitID != c.unitID {
		return nil
	}
	ctx := c.context()
	now := c.now()

	if m, ok := events.PrimaryMetric(topic); ok {
		if v, ok := r.Value(m); ok && finite(v) {
			c.stats.seen(r.SensorID, m, now)
			if c.logic != nil {
				acted, err := c.logic.ControlStep(ctx, c.unitID, m, r.SensorID, v)
				if err != nil {
					c.log.Error("unit %d: control step %s: %v", c.unitID, m, err)
				}
				c.stats.control(m, acted, err)
			}
		} else {
			c.log.Debug("unit %d: %s event without %s value", c.unitID, topic, m)
		}
	}

	stored, throttled := c.writer.accept(topic, r)
	if len(stored) == 0 {
		c.stats.persisted(0, throttled, nil)
		return nil
	}

	ts := r.Timestamp
	if ts.IsZero() {
		ts = now
	}
	var err error
	if c.sink != nil {
		err = c.sink.InsertSensorReading(ctx, c.unitID, r.SensorID, stored, ts)
		if err != nil {
			// cache updates are kept, only this write is lost
			c.log.Error("unit %d: persist sensor %d: %v", c.unitID, r.SensorID, err)
		}
	}
	c.stats.persisted(len(stored), throttled, err)
	return nil
}

func (c *Climate) onThresholds(u events.ThresholdsUpdate) error {
	if u.UnitID != c.unitID {
		return nil
	}
	if c.logic != nil {
		c.logic.SetThresholds(c.unitID, u.Values)
	}
	c.log.Info("unit %d: thresholds retargeted (source %s)", c.unitID, u.Source)
	return nil
}

// SetThrottleConfig swaps the persistence policy; per-metric state is kept.
func (c *Climate) SetThrottleConfig(cfg throttle.Config) {
	c.writer.decision.SetConfig(cfg)
}

// Latest returns the freshest value seen for m, stored or not.
func (c *Climate) Latest(m events.Metric) (float64, bool) {
	return c.writer.latest(m)
}

func (c *Climate) Health() Health {
	return c.stats.snapshot(c.unitID, "climate", c.Running(), c.now())
}
