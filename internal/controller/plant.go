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
	"fmt"
	"sync"
	"time"

	"sysgrow/internal/events"
	"sysgrow/internal/throttle"
	"sysgrow/pkg/eventbus"
	"sysgrow/pkg/logger"

	"github.com/google/uuid"
)

// Band is an inclusive acceptable range.
type Band struct {
	Min float64
	Max float64
}

func (b Band) Contains(v float64) bool { return v >= b.Min && v <= b.Max }

type AlertBands struct {
	PHWarning  Band
	PHCritical Band
	ECWarning  Band
	ECCritical Band
}

func DefaultAlertBands() AlertBands {
	return AlertBands{
		PHWarning:  Band{5.5, 7.0},
		PHCritical: Band{5.0, 7.5},
		ECWarning:  Band{0.8, 2.5},
		ECCritical: Band{0.5, 3.5},
	}
}

type PlantSensorOptions struct {
	Throttle   throttle.Config
	StaleAfter time.Duration
	Alerts     AlertBands
	Resolver   PlantResolver
	Workflow   IrrigationWorkflow
	// TraceLimit bounds the in-memory irrigation trace history.
	TraceLimit int
}

// PlantSensor consumes soil moisture, pH and EC readings of one unit. Soil
// readings are evaluated for irrigation; pH and EC are checked against the
// alert bands on every reading, throttled or not.
type PlantSensor struct {
	unitID   int
	bus      *eventbus.Bus
	sink     AnalyticsSink
	resolver PlantResolver
	workflow IrrigationWorkflow
	bands    AlertBands
	writer   *throttledWriter
	stats    *stats
	log      *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	unsubs  []func()
	ctx     context.Context
	cancel  context.CancelFunc

	traceMu    sync.Mutex
	traces     []events.IrrigationTrace
	traceLimit int
}

func NewPlantSensor(unitID int, bus *eventbus.Bus, sink AnalyticsSink, opts PlantSensorOptions) *PlantSensor {
	if opts.Alerts == (AlertBands{}) {
		opts.Alerts = DefaultAlertBands()
	}
	if opts.TraceLimit <= 0 {
		opts.TraceLimit = 100
	}
	return &PlantSensor{
		unitID:     unitID,
		bus:        bus,
		sink:       sink,
		resolver:   opts.Resolver,
		workflow:   opts.Workflow,
		bands:      opts.Alerts,
		writer:     newThrottledWriter(opts.Throttle),
		stats:      newStats(opts.StaleAfter),
		log:        logger.New("PlantSensor"),
		now:        time.Now,
		traceLimit: opts.TraceLimit,
	}
}

func (p *PlantSensor) UnitID() int { return p.unitID }

func (p *PlantSensor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.log.Warn("unit %d: already started", p.unitID)
		return
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())

	for _, key := range events.PlantKeys {
		topic := key.Topic
		p.unsubs = append(p.unsubs, key.Subscribe(p.bus, func(r events.SensorReading) error {
			return p.onSensor(topic, r)
		}))
	}

	p.log.Info("unit %d: started", p.unitID)
	events.Runtime.Publish(p.bus, events.RuntimeUpdate{
		UnitID: p.unitID, Controller: "plant_sensor", State: events.RuntimeStarted, At: p.now(),
	})
}

func (p *PlantSensor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		p.log.Warn("unit %d: already stopped", p.unitID)
		return
	}
	p.running = false
	for _, unsub := range p.unsubs {
		unsub()
	}
	p.unsubs = nil
	p.cancel()

	p.log.Info("unit %d: stopped", p.unitID)
	events.Runtime.Publish(p.bus, events.RuntimeUpdate{
		UnitID: p.unitID, Controller: "plant_sensor", State: events.RuntimeStopped, At: p.now(),
	})
}

func (p *PlantSensor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *PlantSensor) context() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return context.Background()
	}
	return p.ctx
}

func (p *PlantSensor) onSensor(topic eventbus.Topic, r events.SensorReading) error {
	if r.UnitID != p.unitID {
		return nil
	}
	ctx := p.context()
	now := p.now()

	m, _ := events.PrimaryMetric(topic)
	v, ok := r.Value(m)
	if ok && finite(v) {
		p.stats.seen(r.SensorID, m, now)
		switch m {
		case events.SoilMoisture:
			p.evaluateIrrigation(ctx, r.SensorID, v, now)
		case events.PH:
			p.checkBand(r.SensorID, m, v, p.bands.PHWarning, p.bands.PHCritical, now)
		case events.EC:
			p.checkBand(r.SensorID, m, v, p.bands.ECWarning, p.bands.ECCritical, now)
		}
	}

	stored, throttled := p.writer.accept(topic, r)
	if len(stored) == 0 {
		p.stats.persisted(0, throttled, nil)
		return nil
	}

	ts := r.Timestamp
	if ts.IsZero() {
		ts = now
	}
	var err error
	if p.sink != nil {
		plantID := 0
		if p.resolver != nil {
			if pc, rerr := p.resolver.ResolvePlant(ctx, p.unitID, r.SensorID); rerr == nil {
				plantID = pc.PlantID
			}
		}
		err = p.sink.SavePlantReading(ctx, p.unitID, plantID, toPlantReading(stored), ts)
		if err != nil {
			p.log.Error("unit %d: persist plant reading from sensor %d: %v", p.unitID, r.SensorID, err)
		}
	}
	p.stats.persisted(len(stored), throttled, err)
	return nil
}

func toPlantReading(values map[events.Metric]float64) PlantReading {
	var r PlantReading
	if v, ok := values[events.SoilMoisture]; ok {
		r.SoilMoisture = &v
	}
	if v, ok := values[events.PH]; ok {
		r.PH = &v
	}
	if v, ok := values[events.EC]; ok {
		r.EC = &v
	}
	return r
}

func (p *PlantSensor) checkBand(sensorID int, m events.Metric, v float64, warn, crit Band, now time.Time) {
	if warn.Contains(v) {
		return
	}
	sev := events.SeverityWarning
	band := warn
	if !crit.Contains(v) {
		sev = events.SeverityCritical
		band = crit
	}
	w := events.PlantHealthWarning{
		ID:       uuid.NewString(),
		UnitID:   p.unitID,
		SensorID: sensorID,
		Metric:   m,
		Value:    v,
		Severity: sev,
		Message:  fmt.Sprintf("%s %.2f outside %s range [%.2f, %.2f]", m, v, sev, band.Min, band.Max),
		At:       now,
	}
	p.stats.alert()
	p.log.Warn("unit %d: %s", p.unitID, w.Message)
	events.PlantHealth.Publish(p.bus, w)
}

// evaluateIrrigation decides whether the irrigation workflow should be
// consulted for a soil reading and records a trace either way.
func (p *PlantSensor) evaluateIrrigation(ctx context.Context, sensorID int, moisture float64, now time.Time) {
	trace := events.IrrigationTrace{
		ID:       uuid.NewString(),
		UnitID:   p.unitID,
		SensorID: sensorID,
		Moisture: moisture,
		At:       now,
	}

	var pc PlantContext
	if p.resolver != nil {
		var err error
		pc, err = p.resolver.ResolvePlant(ctx, p.unitID, sensorID)
		if err != nil {
			p.log.Warn("unit %d: resolve plant for sensor %d: %v", p.unitID, sensorID, err)
			pc = PlantContext{}
		}
	}
	trace.PlantID = pc.PlantID

	if pc.Threshold == nil {
		p.skip(trace, events.SkipNoSensor)
		return
	}
	threshold := *pc.Threshold
	trace.Threshold = &threshold

	// only a reading below target makes the plant a candidate
	if moisture >= threshold {
		p.skip(trace, events.SkipHysteresisNotMet)
		return
	}
	if pc.ActuatorID == "" {
		p.skip(trace, events.SkipNoActuator)
		return
	}

	req := IrrigationRequest{
		TraceID:    trace.ID,
		UnitID:     p.unitID,
		SensorID:   sensorID,
		PlantID:    pc.PlantID,
		UserID:     pc.UserID,
		ActuatorID: pc.ActuatorID,
		Moisture:   moisture,
		Threshold:  threshold,
		At:         now,
	}
	p.enrich(ctx, &req)
	trace.VPD = req.VPD

	if pc.UserID == 0 || p.workflow == nil {
		p.skip(trace, events.SkipRequestCreateFailed)
		return
	}

	if err := p.workflow.DetectIrrigationNeed(ctx, req); err != nil {
		p.log.Error("unit %d: irrigation workflow: %v", p.unitID, err)
		p.skip(trace, events.SkipRequestCreateFailed)
		return
	}
	trace.Decision = events.DecisionNotify
	p.record(trace)
}

// enrich adds the latest temperature, humidity and VPD. Any failure leaves
// the fields nil.
func (p *PlantSensor) enrich(ctx context.Context, req *IrrigationRequest) {
	if p.sink == nil {
		return
	}
	env, err := p.sink.LatestSensorReadings(ctx, p.unitID)
	if err != nil {
		p.log.Debug("unit %d: environment snapshot unavailable: %v", p.unitID, err)
		return
	}
	t, hasT := env[events.Temperature]
	h, hasH := env[events.Humidity]
	if hasT {
		req.Temperature = &t
	}
	if hasH {
		req.Humidity = &h
	}
	if hasT && hasH {
		if vpd, err := VPD(t, h); err == nil {
			req.VPD = &vpd
		} else {
			p.log.Debug("unit %d: %v", p.unitID, err)
		}
	}
}

func (p *PlantSensor) skip(trace events.IrrigationTrace, reason events.SkipReason) {
	trace.Decision = events.DecisionSkip
	trace.SkipReason = reason
	p.log.Debug("unit %d: irrigation skipped for sensor %d: %s", p.unitID, trace.SensorID, reason)
	p.record(trace)
}

func (p *PlantSensor) record(trace events.IrrigationTrace) {
	p.traceMu.Lock()
	p.traces = append(p.traces, trace)
	if over := len(p.traces) - p.traceLimit; over > 0 {
		p.traces = append([]events.IrrigationTrace(nil), p.traces[over:]...)
	}
	p.traceMu.Unlock()

	events.IrrigationEligibility.Publish(p.bus, trace)
}

// Traces returns the most recent irrigation evaluations, oldest first.
func (p *PlantSensor) Traces() []events.IrrigationTrace {
	p.traceMu.Lock()
	defer p.traceMu.Unlock()
	return append([]events.IrrigationTrace(nil), p.traces...)
}

func (p *PlantSensor) SetThrottleConfig(cfg throttle.Config) {
	p.writer.decision.SetConfig(cfg)
}

func (p *PlantSensor) Latest(m events.Metric) (float64, bool) {
	return p.writer.latest(m)
}

func (p *PlantSensor) Health() Health {
	return p.stats.snapshot(p.unitID, "plant_sensor", p.Running(), p.now())
}
