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

package events

import (
	"sysgrow/pkg/eventbus"
)

// Inbound sensor topics.
var (
	TopicTemperature  eventbus.Topic = "temperature_update"
	TopicHumidity     eventbus.Topic = "humidity_update"
	TopicCO2          eventbus.Topic = "co2_update"
	TopicVOC          eventbus.Topic = "voc_update"
	TopicLight        eventbus.Topic = "light_update"
	TopicPressure     eventbus.Topic = "pressure_update"
	TopicAirQuality   eventbus.Topic = "air_quality_update"
	TopicSoilMoisture eventbus.Topic = "soil_moisture_update"
	TopicPH           eventbus.Topic = "ph_update"
	TopicEC           eventbus.Topic = "ec_update"
	TopicThresholds   eventbus.Topic = "thresholds_update"
)

// Outbound notification, runtime, device and activity topics.
var (
	TopicPlantHealthWarning    eventbus.Topic = "plant_health_warning"
	TopicIrrigationEligibility eventbus.Topic = "irrigation_eligibility"
	TopicRuntime               eventbus.Topic = "unit_runtime_update"
	TopicDevice                eventbus.Topic = "device_lifecycle"
	TopicActivity              eventbus.Topic = "activity_logged"
)

// Typed keys. Every topic carries exactly one payload type.
var (
	TemperatureUpdate  = eventbus.NewKey[SensorReading](TopicTemperature)
	HumidityUpdate     = eventbus.NewKey[SensorReading](TopicHumidity)
	CO2Update          = eventbus.NewKey[SensorReading](TopicCO2)
	VOCUpdate          = eventbus.NewKey[SensorReading](TopicVOC)
	LightUpdate        = eventbus.NewKey[SensorReading](TopicLight)
	PressureUpdate     = eventbus.NewKey[SensorReading](TopicPressure)
	AirQualityUpdate   = eventbus.NewKey[SensorReading](TopicAirQuality)
	SoilMoistureUpdate = eventbus.NewKey[SensorReading](TopicSoilMoisture)
	PHUpdate           = eventbus.NewKey[SensorReading](TopicPH)
	ECUpdate           = eventbus.NewKey[SensorReading](TopicEC)

	Thresholds            = eventbus.NewKey[ThresholdsUpdate](TopicThresholds)
	PlantHealth           = eventbus.NewKey[PlantHealthWarning](TopicPlantHealthWarning)
	IrrigationEligibility = eventbus.NewKey[IrrigationTrace](TopicIrrigationEligibility)
	Runtime               = eventbus.NewKey[RuntimeUpdate](TopicRuntime)
	Device                = eventbus.NewKey[DeviceEvent](TopicDevice)
	Activity              = eventbus.NewKey[ActivityEntry](TopicActivity)
)

// EnvironmentKeys are the sensor topics consumed by the climate controller.
var EnvironmentKeys = []eventbus.Key[SensorReading]{
	TemperatureUpdate, HumidityUpdate, CO2Update, VOCUpdate,
	LightUpdate, PressureUpdate, AirQualityUpdate,
}

// PlantKeys are the sensor topics consumed by the plant sensor controller.
var PlantKeys = []eventbus.Key[SensorReading]{
	SoilMoistureUpdate, PHUpdate, ECUpdate,
}

// metricSets lists, per sensor topic, the metrics evaluated independently by
// the persistence throttle. The first entry is the topic's primary metric.
var metricSets = map[eventbus.Topic][]Metric{
	TopicTemperature:  {Temperature, Humidity},
	TopicHumidity:     {Humidity, Temperature},
	TopicCO2:          {CO2, VOC},
	TopicVOC:          {VOC, CO2},
	TopicLight:        {Lux},
	TopicPressure:     {Pressure},
	TopicAirQuality:   {AirQuality, CO2, VOC},
	TopicSoilMoisture: {SoilMoisture},
	TopicPH:           {PH},
	TopicEC:           {EC},
}

// MetricsFor returns the metric key set evaluated for a sensor topic.
func MetricsFor(topic eventbus.Topic) []Metric {
	return metricSets[topic]
}

// PrimaryMetric is the metric a sensor topic is named after.
func PrimaryMetric(topic eventbus.Topic) (Metric, bool) {
	set := metricSets[topic]
	if len(set) == 0 {
		return "", false
	}
	return set[0], true
}

// SensorKey looks up the typed key for a sensor topic.
func SensorKey(topic eventbus.Topic) (eventbus.Key[SensorReading], bool) {
	for _, k := range EnvironmentKeys {
		if k.Topic == topic {
			return k, true
		}
	}
	for _, k := range PlantKeys {
		if k.Topic == topic {
			return k, true
		}
	}
	return eventbus.Key[SensorReading]{}, false
}

// KeyForMetric returns the sensor topic named after metric m.
func KeyForMetric(m Metric) (eventbus.Key[SensorReading], bool) {
	for topic, set := range metricSets {
		if set[0] == m {
			return SensorKey(topic)
		}
	}
	return eventbus.Key[SensorReading]{}, false
}
