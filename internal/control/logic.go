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

// Package control is the default control logic: one PI loop per unit and
// metric, driving duty-cycled relays towards the unit's thresholds.
package control

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"sysgrow/internal/control/dutycycle"
	"sysgrow/internal/control/pictrl"
	"sysgrow/internal/events"
	"sysgrow/internal/thresholds"
	"sysgrow/pkg/logger"
)

type Direction string

const (
	// Raise relays push the metric up (heater, humidifier, light).
	Raise Direction = "raise"
	// Lower relays push it down (exhaust fan, dehumidifier).
	Lower Direction = "lower"
)

// Loop binds a metric to one relay.
type Loop struct {
	Metric    events.Metric `mapstructure:"metric"`
	Relay     string        `mapstructure:"relay"`
	Direction Direction     `mapstructure:"direction"`
	Kp        float64       `mapstructure:"kp"`
	Ki        float64       `mapstructure:"ki"`
	Deadband  float64       `mapstructure:"deadband"`
}

func DefaultLoops() []Loop {
	return []Loop{
		{Metric: events.Temperature, Relay: "heater", Direction: Raise, Kp: 20, Ki: 0.01, Deadband: 0.3},
		{Metric: events.Temperature, Relay: "exhaust_fan", Direction: Lower, Kp: 20, Ki: 0.01, Deadband: 0.3},
		{Metric: events.Humidity, Relay: "humidifier", Direction: Raise, Kp: 5, Ki: 0.005, Deadband: 2},
		{Metric: events.Humidity, Relay: "dehumidifier", Direction: Lower, Kp: 5, Ki: 0.005, Deadband: 2},
		{Metric: events.CO2, Relay: "co2_valve", Direction: Raise, Kp: 0.1, Ki: 0.0001, Deadband: 50},
		{Metric: events.Lux, Relay: "grow_light", Direction: Raise, Kp: 0.01, Ki: 0, Deadband: 500},
	}
}

func (l Loop) validate() error {
	if _, ok := thresholds.RangeOf(l.Metric); !ok {
		return fmt.Errorf("loop %q: metric %q has no threshold", l.Relay, l.Metric)
	}
	if l.Relay == "" {
		return fmt.Errorf("loop for %s: relay name required", l.Metric)
	}
	if l.Direction != Raise && l.Direction != Lower {
		return fmt.Errorf("loop %q: direction must be raise or lower, got %q", l.Relay, l.Direction)
	}
	return nil
}

// ActuatorFactory returns the switch for a unit's named relay.
type ActuatorFactory func(unitID int, relay string) dutycycle.Actuator

// TargetSource resolves a unit's thresholds when no update has been pushed
// for it yet.
type TargetSource interface {
	ResolveForUnit(ctx context.Context, unitID int) (thresholds.EnvironmentalThresholds, error)
	ForTime(t thresholds.EnvironmentalThresholds, at time.Time) thresholds.EnvironmentalThresholds
}

type loopKey struct {
	unitID int
	relay  string
}

type loopState struct {
	cfg   Loop
	pi    *pictrl.PIController
	relay *dutycycle.Controller
	duty  float64
	init  bool
}

// Logic implements the controllers' ControlLogic.
type Logic struct {
	loops    map[events.Metric][]Loop
	targets  TargetSource
	actuator ActuatorFactory
	minStep  float64
	now      func() time.Time
	log      *logger.Logger

	mu       sync.Mutex
	state    map[loopKey]*loopState
	pushed   map[int]thresholds.EnvironmentalThresholds
	runCtx   context.Context
	runGroup sync.WaitGroup
}

func NewLogic(loops []Loop, targets TargetSource, actuator ActuatorFactory) (*Logic, error) {
	if len(loops) == 0 {
		loops = DefaultLoops()
	}
	byMetric := map[events.Metric][]Loop{}
	for _, l := range loops {
		l.Direction = Direction(strings.ToLower(string(l.Direction)))
		if err := l.validate(); err != nil {
			return nil, err
		}
		byMetric[l.Metric] = append(byMetric[l.Metric], l)
	}
	if actuator == nil {
		actuator = LogActuator
	}
	return &Logic{
		loops:    byMetric,
		targets:  targets,
		actuator: actuator,
		minStep:  1,
		now:      time.Now,
		log:      logger.New("Control"),
		state:    map[loopKey]*loopState{},
		pushed:   map[int]thresholds.EnvironmentalThresholds{},
	}, nil
}

// Run drives the relay loops until ctx is done. Relays created before Run
// are started here, later ones as they appear.
func (l *Logic) Run(ctx context.Context) {
	l.mu.Lock()
	l.runCtx = ctx
	for _, st := range l.state {
		l.startRelay(st.relay)
	}
	l.mu.Unlock()

	<-ctx.Done()
	l.runGroup.Wait()
	l.log.Info("relay loops stopped")
}

// startRelay must be called with l.mu held.
func (l *Logic) startRelay(r *dutycycle.Controller) {
	if l.runCtx == nil {
		return
	}
	l.runGroup.Add(1)
	go func() {
		defer l.runGroup.Done()
		r.Run(l.runCtx)
	}()
}

// SetThresholds retargets a unit. Invalid sets are logged and ignored.
func (l *Logic) SetThresholds(unitID int, values map[events.Metric]float64) {
	t, err := thresholds.FromMap(values)
	if err != nil {
		l.log.Warn("unit %d: ignoring thresholds: %v", unitID, err)
		return
	}
	l.mu.Lock()
	l.pushed[unitID] = t
	// a new target invalidates the accumulated integral
	for k, st := range l.state {
		if k.unitID == unitID {
			st.pi.Reset()
		}
	}
	l.mu.Unlock()
}

func (l *Logic) target(ctx context.Context, unitID int, m events.Metric, at time.Time) (float64, error) {
	l.mu.Lock()
	t, ok := l.pushed[unitID]
	l.mu.Unlock()
	if !ok {
		if l.targets == nil {
			return 0, fmt.Errorf("unit %d: no thresholds", unitID)
		}
		var err error
		if t, err = l.targets.ResolveForUnit(ctx, unitID); err != nil {
			return 0, err
		}
	}
	if l.targets != nil {
		t = l.targets.ForTime(t, at)
	}
	return t.Get(m), nil
}

// ControlStep runs every loop bound to metric for the unit. It reports
// true when at least one relay got a new duty cycle.
func (l *Logic) ControlStep(ctx context.Context, unitID int, m events.Metric, sensorID int, value float64) (bool, error) {
	loops := l.loops[m]
	if len(loops) == 0 {
		return false, nil
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return false, fmt.Errorf("sensor %d: invalid %s value %v", sensorID, m, value)
	}

	now := l.now()
	setpoint, err := l.target(ctx, unitID, m, now)
	if err != nil {
		return false, err
	}

	acted := false
	for _, cfg := range loops {
		st := l.loop(unitID, cfg)

		l.mu.Lock()
		out := st.pi.Update(setpoint, value)
		if cfg.Direction == Lower {
			out = -out
		}
		duty := min(max(out, 0), 100)
		changed := !st.init || math.Abs(duty-st.duty) >= l.minStep
		if changed {
			st.duty = duty
			st.init = true
		}
		l.mu.Unlock()

		if changed {
			st.relay.SetDutyCycle(duty)
			l.log.Debug("unit %d %s: %s=%.2f target=%.2f -> %s %.0f%%",
				unitID, cfg.Relay, m, value, setpoint, cfg.Direction, duty)
			acted = true
		}
	}
	return acted, nil
}

func (l *Logic) loop(unitID int, cfg Loop) *loopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := loopKey{unitID, cfg.Relay}
	if st, ok := l.state[key]; ok {
		return st
	}
	st := &loopState{
		cfg: cfg,
		pi: pictrl.NewPIController(cfg.Kp, cfg.Ki).
			WithOutputLimits(-100, 100).
			WithDeadband(cfg.Deadband).
			WithDecay(0.999).
			WithAntiWindup(true).
			WithClock(l.now),
		relay: dutycycle.New(fmt.Sprintf("unit %d %s", unitID, cfg.Relay), l.actuator(unitID, cfg.Relay)),
	}
	l.state[key] = st
	l.startRelay(st.relay)
	return st
}

// Duty reports the last duty cycle commanded for a unit's relay.
func (l *Logic) Duty(unitID int, relay string) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.state[loopKey{unitID, relay}]
	if !ok || !st.init {
		return 0, false
	}
	return st.duty, true
}
