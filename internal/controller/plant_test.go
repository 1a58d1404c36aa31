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
	"math"
	"testing"

	"sysgrow/internal/events"
	"sysgrow/internal/throttle"
)

func newPlant(t *testing.T, opts PlantSensorOptions) (*PlantSensor, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	opts.Throttle = throttle.Default()
	return NewPlantSensor(1, nil, sink, opts), sink
}

func lastTrace(t *testing.T, p *PlantSensor) events.IrrigationTrace {
	t.Helper()
	traces := p.Traces()
	if len(traces) == 0 {
		t.Fatal("no irrigation trace recorded")
	}
	return traces[len(traces)-1]
}

func TestIrrigation_Skips(t *testing.T) {
	tests := []struct {
		name   string
		pc     PlantContext
		value  float64
		reason events.SkipReason
	}{
		{"no threshold", PlantContext{PlantID: 2, ActuatorID: "valve-1", UserID: 9}, 10, events.SkipNoSensor},
		{"at threshold", PlantContext{PlantID: 2, Threshold: ptr(30), ActuatorID: "valve-1", UserID: 9}, 30, events.SkipHysteresisNotMet},
		{"above threshold", PlantContext{PlantID: 2, Threshold: ptr(30), ActuatorID: "valve-1", UserID: 9}, 45, events.SkipHysteresisNotMet},
		{"no actuator", PlantContext{PlantID: 2, Threshold: ptr(30), UserID: 9}, 20, events.SkipNoActuator},
		{"no user", PlantContext{PlantID: 2, Threshold: ptr(30), ActuatorID: "valve-1"}, 20, events.SkipRequestCreateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := &fakeWorkflow{}
			p, _ := newPlant(t, PlantSensorOptions{Resolver: fakeResolver{pc: tt.pc}, Workflow: wf})

			p.onSensor(events.TopicSoilMoisture, reading(1, 11, map[events.Metric]float64{events.SoilMoisture: tt.value}))

			tr := lastTrace(t, p)
			if tr.Decision != events.DecisionSkip || tr.SkipReason != tt.reason {
				t.Errorf("trace = %s/%s, want SKIP/%s", tr.Decision, tr.SkipReason, tt.reason)
			}
			if wf.count() != 0 {
				t.Error("workflow called on a skip")
			}
		})
	}
}

func TestIrrigation_NotifiesWithVPD(t *testing.T) {
	wf := &fakeWorkflow{}
	p, sink := newPlant(t, PlantSensorOptions{
		Resolver: fakeResolver{pc: PlantContext{PlantID: 2, Threshold: ptr(35), ActuatorID: "valve-1", UserID: 9}},
		Workflow: wf,
	})
	sink.latest = map[events.Metric]float64{events.Temperature: 25, events.Humidity: 50}

	p.onSensor(events.TopicSoilMoisture, reading(1, 11, map[events.Metric]float64{events.SoilMoisture: 20}))

	if wf.count() != 1 {
		t.Fatalf("workflow calls = %d, want 1", wf.count())
	}
	req := wf.reqs[0]
	if req.PlantID != 2 || req.Moisture != 20 || req.Threshold != 35 || req.ActuatorID != "valve-1" {
		t.Errorf("request = %+v", req)
	}
	if req.VPD == nil || math.Abs(*req.VPD-1.584) > 0.01 {
		t.Errorf("vpd = %v", req.VPD)
	}
	tr := lastTrace(t, p)
	if tr.Decision != events.DecisionNotify || tr.ID != req.TraceID {
		t.Errorf("trace = %+v", tr)
	}

	if len(sink.plants) != 1 || sink.plants[0].plantID != 2 || *sink.plants[0].reading.SoilMoisture != 20 {
		t.Errorf("plant saves = %+v", sink.plants)
	}
}

func TestIrrigation_VPDUnavailable(t *testing.T) {
	wf := &fakeWorkflow{}
	p, _ := newPlant(t, PlantSensorOptions{
		Resolver: fakeResolver{pc: PlantContext{Threshold: ptr(35), ActuatorID: "valve-1", UserID: 9}},
		Workflow: wf,
	})

	p.onSensor(events.TopicSoilMoisture, reading(1, 11, map[events.Metric]float64{events.SoilMoisture: 20}))
	if wf.count() != 1 || wf.reqs[0].VPD != nil {
		t.Fatalf("want one request without VPD, got %+v", wf.reqs)
	}
}

func TestPlantAlerts_Severity(t *testing.T) {
	bus := startBus(t)
	got := make(chan events.PlantHealthWarning, 4)
	events.PlantHealth.Subscribe(bus, func(w events.PlantHealthWarning) error {
		got <- w
		return nil
	})

	p := NewPlantSensor(1, bus, &fakeSink{}, PlantSensorOptions{Throttle: throttle.Default()})
	p.Start()
	defer p.Stop()

	events.PHUpdate.Publish(bus, reading(1, 3, map[events.Metric]float64{events.PH: 6.2}))
	events.PHUpdate.Publish(bus, reading(1, 3, map[events.Metric]float64{events.PH: 7.2}))
	events.PHUpdate.Publish(bus, reading(1, 3, map[events.Metric]float64{events.PH: 8.1}))
	events.ECUpdate.Publish(bus, reading(1, 3, map[events.Metric]float64{events.EC: 0.2}))

	want := []struct {
		metric events.Metric
		sev    events.Severity
	}{
		{events.PH, events.SeverityWarning},
		{events.PH, events.SeverityCritical},
		{events.EC, events.SeverityCritical},
	}
	for i, w := range want {
		var warning events.PlantHealthWarning
		waitFor(t, "plant health warning", func() bool {
			select {
			case warning = <-got:
				return true
			default:
				return false
			}
		})
		if warning.Metric != w.metric || warning.Severity != w.sev {
			t.Errorf("warning %d = %s/%s, want %s/%s", i, warning.Metric, warning.Severity, w.metric, w.sev)
		}
	}
}

func TestPlantAlerts_IndependentOfThrottle(t *testing.T) {
	bus := startBus(t)
	got := make(chan events.PlantHealthWarning, 4)
	events.PlantHealth.Subscribe(bus, func(w events.PlantHealthWarning) error {
		got <- w
		return nil
	})
	sink := &fakeSink{}
	p := NewPlantSensor(1, bus, sink, PlantSensorOptions{Throttle: throttle.Default()})

	// the second identical reading is throttled but must still alert
	p.onSensor(events.TopicPH, reading(1, 3, map[events.Metric]float64{events.PH: 4.0}))
	p.onSensor(events.TopicPH, reading(1, 3, map[events.Metric]float64{events.PH: 4.0}))

	if len(sink.plants) != 1 {
		t.Fatalf("plant saves = %d, want 1", len(sink.plants))
	}
	for range 2 {
		waitFor(t, "critical warning", func() bool {
			select {
			case w := <-got:
				return w.Severity == events.SeverityCritical
			default:
				return false
			}
		})
	}
	if p.Health().Alerts != 2 {
		t.Errorf("alerts = %d, want 2", p.Health().Alerts)
	}
}

func TestTraces_Bounded(t *testing.T) {
	p, _ := newPlant(t, PlantSensorOptions{TraceLimit: 3})
	for i := range 5 {
		p.onSensor(events.TopicSoilMoisture, reading(1, i, map[events.Metric]float64{events.SoilMoisture: 10}))
	}
	traces := p.Traces()
	if len(traces) != 3 || traces[0].SensorID != 2 {
		t.Errorf("traces = %+v", traces)
	}
}

func TestVPD(t *testing.T) {
	v, err := VPD(25, 50)
	if err != nil || math.Abs(v-1.584) > 0.01 {
		t.Errorf("VPD(25, 50) = %v, %v", v, err)
	}
	if _, err := VPD(25, 120); err == nil {
		t.Error("humidity out of range accepted")
	}
	if _, err := VPD(math.NaN(), 50); err == nil {
		t.Error("NaN accepted")
	}
}

func TestPlantAlerts_IgnoreInfinity(t *testing.T) {
	p, sink := newPlant(t, PlantSensorOptions{})

	p.onSensor(events.TopicPH, reading(1, 3, map[events.Metric]float64{events.PH: math.Inf(1)}))
	p.onSensor(events.TopicEC, reading(1, 3, map[events.Metric]float64{events.EC: math.Inf(-1)}))

	if h := p.Health(); h.Alerts != 0 {
		t.Errorf("alerts = %d, want 0", h.Alerts)
	}
	if len(sink.plants) != 0 {
		t.Errorf("plant saves = %d, want 0", len(sink.plants))
	}
}
