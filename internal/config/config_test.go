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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sysgrow/internal/control"
	"sysgrow/internal/events"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sysgrow.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bus.Workers != 4 || cfg.Bus.QueueSize != 1024 || cfg.Bus.DropWarnInterval != time.Minute {
		t.Errorf("bus = %+v", cfg.Bus)
	}
	if !cfg.Throttle.Enabled() || !cfg.Throttle.Hybrid() {
		t.Error("throttle defaults not applied")
	}
	if cfg.Thresholds.CacheTTL != 5*time.Minute || cfg.Thresholds.Night.StartHour != 20 {
		t.Errorf("thresholds = %+v", cfg.Thresholds)
	}
	if cfg.PlantAlerts.PHWarning.Min != 5.5 || cfg.PlantAlerts.ECCritical.Max != 3.5 {
		t.Errorf("plant alerts = %+v", cfg.PlantAlerts)
	}
	if len(cfg.Control.Loops) != len(control.DefaultLoops()) {
		t.Errorf("loops = %d", len(cfg.Control.Loops))
	}
	if cfg.Database.URL != "sqlite://sysgrow.db" || cfg.HTTPAddr != ":8080" || cfg.MQTT.Enabled {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
bus:
  workers: 1
  queue_size: 16
throttle:
  use_hybrid_strategy: "false"
  temperature_interval_minutes: 10
thresholds:
  cache_ttl: 30s
  tolerances:
    co2: 100
  night:
    enabled: false
plant_alerts:
  ph_warning: {min: 5.8, max: 6.8}
controller:
  stale_after: 2m
  units: [1, 3]
control:
  loops:
    - metric: temperature
      relay: heater
      direction: raise
      kp: 10
      ki: 0.1
mqtt:
  enabled: true
  broker: tcp://broker:1883
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bus.Workers != 1 || cfg.Bus.QueueSize != 16 {
		t.Errorf("bus = %+v", cfg.Bus)
	}
	if cfg.Throttle.Hybrid() || cfg.Throttle.Policy(events.Temperature).Interval != 10*time.Minute {
		t.Errorf("throttle = %v", cfg.Throttle.Map())
	}
	if cfg.Thresholds.CacheTTL != 30*time.Second || cfg.Thresholds.Tolerances[events.CO2] != 100 ||
		cfg.Thresholds.Tolerances[events.Temperature] != 0.5 || cfg.Thresholds.Night.Enabled {
		t.Errorf("thresholds = %+v", cfg.Thresholds)
	}
	if cfg.PlantAlerts.PHWarning.Min != 5.8 || cfg.PlantAlerts.PHCritical.Min != 5.0 {
		t.Errorf("plant alerts = %+v", cfg.PlantAlerts)
	}
	if cfg.StaleAfter != 2*time.Minute || len(cfg.Units) != 2 || cfg.Units[1] != 3 {
		t.Errorf("controller = %v %v", cfg.StaleAfter, cfg.Units)
	}
	if len(cfg.Control.Loops) != 1 || cfg.Control.Loops[0].Direction != control.Raise || cfg.Control.Loops[0].Kp != 10 {
		t.Errorf("loops = %+v", cfg.Control.Loops)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "database:\n  url: sqlite://file.db\n")
	t.Setenv("SYSGROW_DATABASE_URL", "postgres://db/sysgrow")
	t.Setenv("SYSGROW_MQTT_PASSWORD", "s3cret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.URL != "postgres://db/sysgrow" || cfg.MQTT.Password != "s3cret" {
		t.Errorf("database = %q, password = %q", cfg.Database.URL, cfg.MQTT.Password)
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := map[string]struct {
		body string
		want string
	}{
		"password in file":     {"mqtt:\n  password: x\n", "password"},
		"bad throttle":         {"throttle:\n  co2_change_threshold: lots\n", "invalid throttle config"},
		"unknown tolerance":    {"thresholds:\n  tolerances:\n    wind: 1\n", "unknown field"},
		"night hour":           {"thresholds:\n  night:\n    start_hour: 25\n", "0..23"},
		"warning outside crit": {"plant_alerts:\n  ec_warning: {min: 0.1, max: 2}\n", "inside the critical band"},
		"empty database":       {"database:\n  url: \"\"\n", "database.url"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
