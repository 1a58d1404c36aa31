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

package health

import (
	"net/http"
	"strconv"

	"sysgrow/internal/controller"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sysgrow"

var (
	busQueueDepth = prometheus.NewDesc(namespace+"_bus_queue_depth",
		"Work items waiting in the event bus queue.", nil, nil)
	busQueueCapacity = prometheus.NewDesc(namespace+"_bus_queue_capacity",
		"Capacity of the event bus queue.", nil, nil)
	busSubscribers = prometheus.NewDesc(namespace+"_bus_subscribers",
		"Registered event bus callbacks.", nil, nil)
	busPublished = prometheus.NewDesc(namespace+"_bus_published_total",
		"Events published on the bus.", nil, nil)
	busDelivered = prometheus.NewDesc(namespace+"_bus_delivered_total",
		"Subscriber callbacks that returned without error.", nil, nil)
	busFailed = prometheus.NewDesc(namespace+"_bus_failed_total",
		"Subscriber callbacks that returned an error or panicked.", nil, nil)
	busDropped = prometheus.NewDesc(namespace+"_bus_dropped_total",
		"Subscriber callbacks dropped on a full queue.", nil, nil)
	busDroppedTopic = prometheus.NewDesc(namespace+"_bus_dropped_topic_total",
		"Dropped callbacks for the topics with the most drops.", []string{"topic"}, nil)

	unitLabels     = []string{"unit", "controller"}
	ctrlRunning    = prometheus.NewDesc(namespace+"_controller_running", "1 while the controller is started.", unitLabels, nil)
	ctrlStored     = prometheus.NewDesc(namespace+"_controller_stored_total", "Readings persisted.", unitLabels, nil)
	ctrlThrottled  = prometheus.NewDesc(namespace+"_controller_throttled_total", "Readings skipped by the persistence throttle.", unitLabels, nil)
	ctrlPersistErr = prometheus.NewDesc(namespace+"_controller_persist_errors_total", "Failed persistence attempts.", unitLabels, nil)
	ctrlControlErr = prometheus.NewDesc(namespace+"_controller_control_errors_total", "Failed control steps.", unitLabels, nil)
	ctrlAlerts     = prometheus.NewDesc(namespace+"_controller_alerts_total", "Plant health warnings raised.", unitLabels, nil)
	ctrlStale      = prometheus.NewDesc(namespace+"_controller_stale_sensors", "Sensors silent for longer than the stale limit.", unitLabels, nil)
	ctrlUpdates    = prometheus.NewDesc(namespace+"_controller_sensor_updates_total", "Sensor events handled, by metric.",
		[]string{"unit", "controller", "metric"}, nil)
	ctrlActions = prometheus.NewDesc(namespace+"_controller_control_actions_total", "Control steps that acted, by metric.",
		[]string{"unit", "controller", "metric"}, nil)
)

// Collector reads the bus and controller counters at scrape time.
type Collector struct {
	bus   BusSource
	units UnitSource
}

func NewCollector(bus BusSource, units UnitSource) *Collector {
	return &Collector{bus: bus, units: units}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		busQueueDepth, busQueueCapacity, busSubscribers, busPublished, busDelivered, busFailed, busDropped, busDroppedTopic,
		ctrlRunning, ctrlStored, ctrlThrottled, ctrlPersistErr, ctrlControlErr, ctrlAlerts, ctrlStale, ctrlUpdates, ctrlActions,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.bus != nil {
		m := c.bus.Metrics()
		ch <- prometheus.MustNewConstMetric(busQueueDepth, prometheus.GaugeValue, float64(m.QueueDepth))
		ch <- prometheus.MustNewConstMetric(busQueueCapacity, prometheus.GaugeValue, float64(m.QueueCapacity))
		ch <- prometheus.MustNewConstMetric(busSubscribers, prometheus.GaugeValue, float64(m.Subscribers))
		ch <- prometheus.MustNewConstMetric(busPublished, prometheus.CounterValue, float64(m.Published))
		ch <- prometheus.MustNewConstMetric(busDelivered, prometheus.CounterValue, float64(m.Delivered))
		ch <- prometheus.MustNewConstMetric(busFailed, prometheus.CounterValue, float64(m.Failed))
		ch <- prometheus.MustNewConstMetric(busDropped, prometheus.CounterValue, float64(m.DroppedTotal))
		for _, td := range m.TopDropped {
			ch <- prometheus.MustNewConstMetric(busDroppedTopic, prometheus.CounterValue, float64(td.Count), string(td.Topic))
		}
	}
	if c.units == nil {
		return
	}
	for _, h := range c.units.Health() {
		c.collectUnit(ch, h)
	}
}

func (c *Collector) collectUnit(ch chan<- prometheus.Metric, h controller.Health) {
	unit := strconv.Itoa(h.UnitID)
	running := 0.0
	if h.Running {
		running = 1
	}
	ch <- prometheus.MustNewConstMetric(ctrlRunning, prometheus.GaugeValue, running, unit, h.Controller)
	ch <- prometheus.MustNewConstMetric(ctrlStored, prometheus.CounterValue, float64(h.Stored), unit, h.Controller)
	ch <- prometheus.MustNewConstMetric(ctrlThrottled, prometheus.CounterValue, float64(h.Throttled), unit, h.Controller)
	ch <- prometheus.MustNewConstMetric(ctrlPersistErr, prometheus.CounterValue, float64(h.PersistErrors), unit, h.Controller)
	ch <- prometheus.MustNewConstMetric(ctrlControlErr, prometheus.CounterValue, float64(h.ControlErrors), unit, h.Controller)
	ch <- prometheus.MustNewConstMetric(ctrlAlerts, prometheus.CounterValue, float64(h.Alerts), unit, h.Controller)
	ch <- prometheus.MustNewConstMetric(ctrlStale, prometheus.GaugeValue, float64(len(h.StaleSensors)), unit, h.Controller)
	for m, n := range h.SensorUpdates {
		ch <- prometheus.MustNewConstMetric(ctrlUpdates, prometheus.CounterValue, float64(n), unit, h.Controller, string(m))
	}
	for m, n := range h.ControlActions {
		ch <- prometheus.MustNewConstMetric(ctrlActions, prometheus.CounterValue, float64(n), unit, h.Controller, string(m))
	}
}

// NewRegistry registers c next to the Go runtime and process collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
