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
	"errors"
	"sync"
	"testing"
	"time"

	"sysgrow/internal/events"
	"sysgrow/pkg/eventbus"
)

type stepCall struct {
	metric   events.Metric
	sensorID int
	value    float64
}

type fakeLogic struct {
	mu         sync.Mutex
	steps      []stepCall
	thresholds map[events.Metric]float64
	act        bool
	err        error
}

func (f *fakeLogic) ControlStep(_ context.Context, _ int, m events.Metric, sensorID int, v float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, stepCall{m, sensorID, v})
	return f.act, f.err
}

func (f *fakeLogic) SetThresholds(_ int, values map[events.Metric]float64) {
	f.mu.Lock()
	f.thresholds = values
	f.mu.Unlock()
}

func (f *fakeLogic) stepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.steps)
}

type insert struct {
	unitID, sensorID int
	values           map[events.Metric]float64
}

type plantSave struct {
	plantID int
	reading PlantReading
}

type fakeSink struct {
	mu      sync.Mutex
	inserts []insert
	plants  []plantSave
	latest  map[events.Metric]float64
	err     error
}

func (f *fakeSink) InsertSensorReading(_ context.Context, unitID, sensorID int, values map[events.Metric]float64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.inserts = append(f.inserts, insert{unitID, sensorID, values})
	return nil
}

func (f *fakeSink) SavePlantReading(_ context.Context, _ int, plantID int, r PlantReading, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.plants = append(f.plants, plantSave{plantID, r})
	return nil
}

func (f *fakeSink) LatestSensorReadings(context.Context, int) (map[events.Metric]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest == nil {
		return nil, errors.New("no readings")
	}
	return f.latest, nil
}

func (f *fakeSink) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserts)
}

type fakeResolver struct {
	pc  PlantContext
	err error
}

func (f fakeResolver) ResolvePlant(context.Context, int, int) (PlantContext, error) {
	return f.pc, f.err
}

type fakeWorkflow struct {
	mu   sync.Mutex
	reqs []IrrigationRequest
}

func (f *fakeWorkflow) DetectIrrigationNeed(_ context.Context, req IrrigationRequest) error {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return nil
}

func (f *fakeWorkflow) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func startBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	bus := eventbus.New(eventbus.Options{Workers: 1, QueueSize: 64})
	bus.Start()
	t.Cleanup(bus.Close)
	return bus
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func ptr(v float64) *float64 { return &v }

func reading(unitID, sensorID int, values map[events.Metric]float64) events.SensorReading {
	return events.NewSensorReading(unitID, sensorID, time.Time{}, values)
}
