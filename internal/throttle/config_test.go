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

package throttle

import (
	"errors"
	"testing"
	"time"

	"sysgrow/internal/events"
)

func TestMerge_CoercesRecognisedKeys(t *testing.T) {
	cfg, err := Default().Merge(map[string]any{
		"throttling_enabled":           "false",
		"use_hybrid_strategy":          0,
		"debug_logging":                "true",
		"temperature_interval_minutes": "15",
		"co2_change_threshold":         "250.5",
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if cfg.Enabled() || cfg.Hybrid() || !cfg.Debug() {
		t.Errorf("flags = enabled %v hybrid %v debug %v", cfg.Enabled(), cfg.Hybrid(), cfg.Debug())
	}
	if got := cfg.Policy(events.Temperature).Interval; got != 15*time.Minute {
		t.Errorf("temperature interval = %v", got)
	}
	if got := cfg.Policy(events.CO2).ChangeThreshold; got != 250.5 {
		t.Errorf("co2 threshold = %v", got)
	}
}

func TestMerge_DoesNotMutateReceiver(t *testing.T) {
	base := Default()
	if _, err := base.Merge(map[string]any{"humidity_interval_minutes": 5}); err != nil {
		t.Fatal(err)
	}
	if got := base.Policy(events.Humidity).Interval; got != 30*time.Minute {
		t.Errorf("receiver changed: humidity interval = %v", got)
	}
}

func TestMerge_UnknownKeysPassThrough(t *testing.T) {
	cfg, err := Default().Merge(map[string]any{"dashboard_theme": "dark", "foo_interval_minutes": 3})
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := cfg.Extra("dashboard_theme"); !ok || v != "dark" {
		t.Errorf("Extra(dashboard_theme) = %v, %v", v, ok)
	}
	if _, ok := cfg.Extra("foo_interval_minutes"); !ok {
		t.Error("unknown metric key should be carried opaquely")
	}
	m := cfg.Map()
	if m["dashboard_theme"] != "dark" || m["temperature_interval_minutes"] != 30 {
		t.Errorf("Map() = %v", m)
	}
}

func TestMerge_RejectsWholeRecord(t *testing.T) {
	base := Default()
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"negative interval", map[string]any{"ph_interval_minutes": -1, "ph_change_threshold": 0.1}},
		{"non numeric threshold", map[string]any{"ec_change_threshold": "lots", "debug_logging": true}},
		{"bad bool", map[string]any{"throttling_enabled": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := base.Merge(tt.raw)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
			if got.Debug() || got.Policy(events.PH).ChangeThreshold != 0.2 {
				t.Error("rejected merge leaked partial state")
			}
		})
	}
}

func TestPolicy_FallbackIsTimeOnly(t *testing.T) {
	cfg := Config{}
	p := cfg.Policy(events.Temperature)
	if p.Interval != 30*time.Minute {
		t.Errorf("fallback interval = %v", p.Interval)
	}
	if p.ChangeThreshold < 1e300 {
		t.Errorf("fallback threshold = %v, want +Inf", p.ChangeThreshold)
	}
}
