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
	"slices"
	"sync"

	"sysgrow/internal/throttle"
	"sysgrow/pkg/logger"
)

// UnitRuntime is the pair of controllers serving one growing unit.
type UnitRuntime struct {
	Climate *Climate
	Plant   *PlantSensor
}

// Factory builds the controllers of a unit. Either may be nil.
type Factory func(unitID int) UnitRuntime

// Manager owns the runtime of every active unit. Controller state lives
// exactly as long as the unit is started.
type Manager struct {
	factory Factory
	log     *logger.Logger

	mu          sync.Mutex
	units       map[int]UnitRuntime
	throttle    throttle.Config
	hasThrottle bool
}

func NewManager(factory Factory) *Manager {
	return &Manager{
		factory: factory,
		log:     logger.New("Units"),
		units:   map[int]UnitRuntime{},
	}
}

// StartUnit builds and starts the controllers of unitID. Returns false if
// the unit is already running.
func (m *Manager) StartUnit(unitID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.units[unitID]; ok {
		m.log.Warn("unit %d already running", unitID)
		return false
	}
	rt := m.factory(unitID)
	if m.hasThrottle {
		rt.setThrottleConfig(m.throttle)
	}
	if rt.Climate != nil {
		rt.Climate.Start()
	}
	if rt.Plant != nil {
		rt.Plant.Start()
	}
	m.units[unitID] = rt
	return true
}

// StopUnit stops the unit and discards its controllers.
func (m *Manager) StopUnit(unitID int) bool {
	m.mu.Lock()
	rt, ok := m.units[unitID]
	delete(m.units, unitID)
	m.mu.Unlock()
	if !ok {
		m.log.Warn("unit %d not running", unitID)
		return false
	}
	if rt.Climate != nil {
		rt.Climate.Stop()
	}
	if rt.Plant != nil {
		rt.Plant.Stop()
	}
	return true
}

func (m *Manager) StopAll() {
	for _, id := range m.Units() {
		m.StopUnit(id)
	}
}

func (m *Manager) Units() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.units))
	for id := range m.units {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m *Manager) Get(unitID int) (UnitRuntime, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.units[unitID]
	return rt, ok
}

// SetThrottleConfig applies cfg to every running controller and to units
// started later. Per-metric throttle state is kept.
func (m *Manager) SetThrottleConfig(cfg throttle.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttle = cfg
	m.hasThrottle = true
	for _, rt := range m.units {
		rt.setThrottleConfig(cfg)
	}
}

// ThrottleConfig returns the config last set, or the default one.
func (m *Manager) ThrottleConfig() throttle.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasThrottle {
		return throttle.Default()
	}
	return m.throttle
}

// MergeThrottle applies a flat record on top of the current config. An
// invalid record changes nothing.
func (m *Manager) MergeThrottle(raw map[string]any) (throttle.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.throttle
	if !m.hasThrottle {
		current = throttle.Default()
	}
	next, err := current.Merge(raw)
	if err != nil {
		return current, err
	}
	m.throttle = next
	m.hasThrottle = true
	for _, rt := range m.units {
		rt.setThrottleConfig(next)
	}
	m.log.Info("throttle config updated for %d unit(s)", len(m.units))
	return next, nil
}

func (rt UnitRuntime) setThrottleConfig(cfg throttle.Config) {
	if rt.Climate != nil {
		rt.Climate.SetThrottleConfig(cfg)
	}
	if rt.Plant != nil {
		rt.Plant.SetThrottleConfig(cfg)
	}
}

// Health returns one entry per controller, ordered by unit.
func (m *Manager) Health() []Health {
	var out []Health
	for _, id := range m.Units() {
		rt, ok := m.Get(id)
		if !ok {
			continue
		}
		if rt.Climate != nil {
			out = append(out, rt.Climate.Health())
		}
		if rt.Plant != nil {
			out = append(out, rt.Plant.Health())
		}
	}
	return out
}
