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

// Package modbussensor polls sensor registers of a Modbus device and
// publishes their values as sensor readings on the bus.
package modbussensor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sysgrow/internal/controller"
	"sysgrow/internal/events"
	"sysgrow/pkg/eventbus"
	"sysgrow/pkg/logger"
	"sysgrow/pkg/modbus"
)

type Reader interface {
	ReadFloat(ctx context.Context, name string) (float64, error)
}

type unitPoll struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Poller starts one goroutine per poll group of a unit's registers. Values
// failing the plausibility checks are logged and not published.
type Poller struct {
	reader Reader
	cfg    *modbus.Config
	bus    *eventbus.Bus
	log    *logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	units   map[int]*unitPoll
	last    map[string]*sample
	failing map[string]bool
}

func NewPoller(reader Reader, cfg *modbus.Config, bus *eventbus.Bus) *Poller {
	return &Poller{
		reader:  reader,
		cfg:     cfg,
		bus:     bus,
		log:     logger.New("ModbusSensor"),
		now:     time.Now,
		units:   map[int]*unitPoll{},
		last:    map[string]*sample{},
		failing: map[string]bool{},
	}
}

// groups returns the sensor register names of a unit keyed by poll group.
func (p *Poller) groups(unitID int) map[string][]string {
	out := map[string][]string{}
	for name, def := range p.cfg.Registers {
		if !def.IsSensor() || def.UnitID != unitID {
			continue
		}
		group := def.Group
		if group == "" {
			group = "default"
		}
		out[group] = append(out[group], name)
	}
	for _, names := range out {
		sort.Strings(names)
	}
	return out
}

func (p *Poller) StartPolling(ctx context.Context, unitID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.units[unitID]; ok {
		p.log.Warn("unit %d already polling", unitID)
		return nil
	}
	groups := p.groups(unitID)
	if len(groups) == 0 {
		p.log.Debug("unit %d has no sensor registers", unitID)
		return nil
	}
	for _, names := range groups {
		for _, name := range names {
			if _, ok := events.ParseMetric(p.cfg.Registers[name].Metric); !ok {
				return fmt.Errorf("register %q: unknown metric %q", name, p.cfg.Registers[name].Metric)
			}
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	up := &unitPoll{cancel: cancel}
	for group, names := range groups {
		interval := time.Duration(p.cfg.GroupInterval(group)) * time.Second
		up.wg.Add(1)
		go func() {
			defer up.wg.Done()
			p.runGroup(ctx, unitID, group, names, interval)
		}()
	}
	p.units[unitID] = up
	return nil
}

func (p *Poller) StopPolling(unitID int) {
	p.mu.Lock()
	up, ok := p.units[unitID]
	delete(p.units, unitID)
	p.mu.Unlock()

	if !ok {
		return
	}
	up.cancel()
	up.wg.Wait()
}

// StopAll stops every unit's pollers.
func (p *Poller) StopAll() {
	p.mu.Lock()
	ids := make([]int, 0, len(p.units))
	for id := range p.units {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		p.StopPolling(id)
	}
}

func (p *Poller) runGroup(ctx context.Context, unitID int, group string, names []string, interval time.Duration) {
	p.log.Info("unit %d: polling group %q every %v", unitID, group, interval)
	p.poll(ctx, names)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			p.poll(ctx, names)
			p.log.Debug("unit %d group %q: %d registers in %v", unitID, group, len(names), time.Since(start))
		}
	}
}

func (p *Poller) poll(ctx context.Context, names []string) {
	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		def := p.cfg.Registers[name]
		metric, _ := events.ParseMetric(def.Metric)

		v, err := p.reader.ReadFloat(ctx, name)
		now := p.now()
		if err != nil {
			p.deviceState(def, name, err)
			continue
		}
		p.deviceState(def, name, nil)

		p.mu.Lock()
		err = checkValue(def, metric, v, p.last[name], now)
		if err == nil {
			p.last[name] = &sample{value: v, at: now}
		}
		p.mu.Unlock()
		if err != nil {
			p.log.Warn("invalid value on %s (%s=%.3f): %v", name, metric, v, err)
			continue
		}

		key, ok := events.KeyForMetric(metric)
		if !ok {
			continue
		}
		key.Publish(p.bus, events.NewSensorReading(def.UnitID, def.SensorID, now,
			map[events.Metric]float64{metric: v}))
	}
}

// deviceState publishes a device event when a register starts or stops
// failing.
func (p *Poller) deviceState(def modbus.RegisterDef, name string, err error) {
	p.mu.Lock()
	was := p.failing[name]
	p.failing[name] = err != nil
	p.mu.Unlock()

	if (err != nil) == was {
		if err != nil {
			p.log.Debug("read %s: %v", name, err)
		}
		return
	}
	ev := events.DeviceEvent{
		UnitID:    def.UnitID,
		DeviceID:  name,
		Connected: err == nil,
		At:        p.now(),
	}
	if err != nil {
		ev.Reason = err.Error()
		p.log.Error("read %s failed: %v", name, err)
	} else {
		p.log.Info("read %s recovered", name)
	}
	events.Device.Publish(p.bus, ev)
}

var _ controller.SensorPolling = (*Poller)(nil)
