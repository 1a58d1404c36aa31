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

package control

import (
	"context"
	"testing"
	"time"

	"sysgrow/internal/control/dutycycle"
	"sysgrow/internal/control/retry"
	"sysgrow/internal/events"
	"sysgrow/internal/thresholds"
)

type staticTargets struct {
	t thresholds.EnvironmentalThresholds
}

func (s staticTargets) ResolveForUnit(context.Context, int) (thresholds.EnvironmentalThresholds, error) {
	return s.t, nil
}

func (s staticTargets) ForTime(t thresholds.EnvironmentalThresholds, _ time.Time) thresholds.EnvironmentalThresholds {
	return t
}

func newTestLogic(t *testing.T) *Logic {
	t.Helper()
	targets := staticTargets{t: thresholds.MustDefaultProfiles().Defaults()}
	l, err := NewLogic(nil, targets, nil)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l
}

func TestControlStep_DrivesRaiseAndLower(t *testing.T) {
	l := newTestLogic(t)
	ctx := context.Background()

	// 4 degrees below the 24 degree default target
	acted, err := l.ControlStep(ctx, 1, events.Temperature, 7, 20)
	if err != nil || !acted {
		t.Fatalf("acted=%v err=%v", acted, err)
	}
	if d, _ := l.Duty(1, "heater"); d != 80 {
		t.Errorf("heater duty = %v, want 80", d)
	}
	if d, _ := l.Duty(1, "exhaust_fan"); d != 0 {
		t.Errorf("fan duty = %v, want 0", d)
	}

	acted, _ = l.ControlStep(ctx, 1, events.Temperature, 7, 20)
	if acted {
		t.Error("unchanged reading reported an action")
	}
}

func TestControlStep_UnboundMetric(t *testing.T) {
	l := newTestLogic(t)
	acted, err := l.ControlStep(context.Background(), 1, events.Pressure, 1, 1013)
	if acted || err != nil {
		t.Errorf("acted=%v err=%v", acted, err)
	}
}

func TestSetThresholds_Retargets(t *testing.T) {
	l := newTestLogic(t)
	ctx := context.Background()
	l.ControlStep(ctx, 1, events.Temperature, 7, 20)

	next, _ := thresholds.MustDefaultProfiles().Defaults().With(events.Temperature, 20)
	l.SetThresholds(1, next.Map())

	acted, _ := l.ControlStep(ctx, 1, events.Temperature, 7, 20)
	if !acted {
		t.Fatal("retarget did not change the duty")
	}
	if d, _ := l.Duty(1, "heater"); d != 0 {
		t.Errorf("heater duty = %v, want 0 at target", d)
	}

	// other units keep their own targets
	l.ControlStep(ctx, 2, events.Temperature, 8, 20)
	if d, _ := l.Duty(2, "heater"); d != 80 {
		t.Errorf("unit 2 heater duty = %v", d)
	}
}

func TestSetThresholds_IgnoresInvalid(t *testing.T) {
	l := newTestLogic(t)
	l.SetThresholds(1, map[events.Metric]float64{events.Temperature: 500})
	l.ControlStep(context.Background(), 1, events.Temperature, 7, 20)
	if d, _ := l.Duty(1, "heater"); d != 80 {
		t.Errorf("heater duty = %v, invalid thresholds were applied", d)
	}
}

func TestNewLogic_RejectsBadLoop(t *testing.T) {
	_, err := NewLogic([]Loop{{Metric: events.PH, Relay: "doser", Direction: Raise}}, nil, nil)
	if err == nil {
		t.Fatal("loop on a metric without thresholds accepted")
	}
	_, err = NewLogic([]Loop{{Metric: events.Humidity, Relay: "mister", Direction: "sideways"}}, nil, nil)
	if err == nil {
		t.Fatal("bad direction accepted")
	}
}

type fakeRegisters struct {
	writes map[string]any
}

func (f *fakeRegisters) WriteValue(_ context.Context, name string, v any) error {
	f.writes[name] = v
	return nil
}

func TestRegisterActuators(t *testing.T) {
	regs := &fakeRegisters{writes: map[string]any{}}
	factory := RegisterActuators(regs, func(name string) bool { return name == "relay_3_heater" }, "relay_", retry.Default)

	var act dutycycle.Actuator = factory(3, "heater")
	if err := act(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if regs.writes["relay_3_heater"] != true {
		t.Errorf("writes = %v", regs.writes)
	}

	// unknown register falls back to log only
	if err := factory(3, "fan")(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if len(regs.writes) != 1 {
		t.Errorf("unexpected write: %v", regs.writes)
	}
}
