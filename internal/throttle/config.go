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

// Package throttle decides which sensor readings get persisted. Each metric
// has a minimum interval between writes and, with the hybrid strategy, a
// change threshold that forces an early write.
package throttle

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"strings"
	"time"

	"sysgrow/internal/events"

	"github.com/spf13/cast"
)

var ErrInvalidConfig = errors.New("invalid throttle config")

const (
	keyEnabled  = "throttling_enabled"
	keyHybrid   = "use_hybrid_strategy"
	keyDebug    = "debug_logging"
	sfxInterval = "_interval_minutes"
	sfxChange   = "_change_threshold"
)

// Policy is the persistence rule for one metric.
type Policy struct {
	Interval        time.Duration
	ChangeThreshold float64
}

// fallbackPolicy applies to metrics without an explicit policy: time only.
var fallbackPolicy = Policy{Interval: 30 * time.Minute, ChangeThreshold: math.Inf(1)}

var defaultPolicies = map[events.Metric]Policy{
	events.Temperature:  {Interval: 30 * time.Minute, ChangeThreshold: 1.0},
	events.Humidity:     {Interval: 30 * time.Minute, ChangeThreshold: 5.0},
	events.CO2:          {Interval: 30 * time.Minute, ChangeThreshold: 100},
	events.VOC:          {Interval: 30 * time.Minute, ChangeThreshold: 50},
	events.Lux:          {Interval: 30 * time.Minute, ChangeThreshold: 500},
	events.Pressure:     {Interval: 60 * time.Minute, ChangeThreshold: 5},
	events.AirQuality:   {Interval: 30 * time.Minute, ChangeThreshold: 10},
	events.SoilMoisture: {Interval: 60 * time.Minute, ChangeThreshold: 5},
	events.PH:           {Interval: 60 * time.Minute, ChangeThreshold: 0.2},
	events.EC:           {Interval: 60 * time.Minute, ChangeThreshold: 0.2},
}

// Config is an immutable snapshot. Merge returns a new Config; nothing
// mutates one in place.
type Config struct {
	policies map[events.Metric]Policy
	enabled  bool
	hybrid   bool
	debug    bool
	extra    map[string]any
}

func Default() Config {
	return Config{
		policies: maps.Clone(defaultPolicies),
		enabled:  true,
		hybrid:   true,
		extra:    map[string]any{},
	}
}

func (c Config) Enabled() bool { return c.enabled }
func (c Config) Hybrid() bool  { return c.hybrid }
func (c Config) Debug() bool   { return c.debug }

func (c Config) Policy(m events.Metric) Policy {
	if p, ok := c.policies[m]; ok {
		return p
	}
	return fallbackPolicy
}

// Extra returns a key the config does not recognise, passed through as-is.
func (c Config) Extra(key string) (any, bool) {
	v, ok := c.extra[key]
	return v, ok
}

// Merge applies a flat key/value record on top of c. Recognised keys are
// type-coerced; unknown keys are carried opaquely. Any invalid value rejects
// the whole record and c is returned unchanged.
func (c Config) Merge(raw map[string]any) (Config, error) {
	next := Config{
		policies: maps.Clone(c.policies),
		enabled:  c.enabled,
		hybrid:   c.hybrid,
		debug:    c.debug,
		extra:    maps.Clone(c.extra),
	}
	if next.policies == nil {
		next.policies = map[events.Metric]Policy{}
	}
	if next.extra == nil {
		next.extra = map[string]any{}
	}

	var errs []error
	for key, val := range raw {
		if err := next.apply(key, val); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return c, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return next, nil
}

func (c *Config) apply(key string, val any) error {
	switch key {
	case keyEnabled, keyHybrid, keyDebug:
		b, err := cast.ToBoolE(val)
		if err != nil {
			return fmt.Errorf("%s: %v", key, err)
		}
		switch key {
		case keyEnabled:
			c.enabled = b
		case keyHybrid:
			c.hybrid = b
		default:
			c.debug = b
		}
		return nil
	}

	if name, ok := strings.CutSuffix(key, sfxInterval); ok {
		if m, known := events.ParseMetric(name); known {
			minutes, err := cast.ToIntE(val)
			if err != nil {
				return fmt.Errorf("%s: %v", key, err)
			}
			if minutes < 0 {
				return fmt.Errorf("%s: must not be negative, got %d", key, minutes)
			}
			p := c.Policy(m)
			p.Interval = time.Duration(minutes) * time.Minute
			c.policies[m] = p
			return nil
		}
	}

	if name, ok := strings.CutSuffix(key, sfxChange); ok {
		if m, known := events.ParseMetric(name); known {
			threshold, err := cast.ToFloat64E(val)
			if err != nil {
				return fmt.Errorf("%s: %v", key, err)
			}
			if threshold < 0 || math.IsNaN(threshold) {
				return fmt.Errorf("%s: must be a non-negative number, got %v", key, threshold)
			}
			p := c.Policy(m)
			p.ChangeThreshold = threshold
			c.policies[m] = p
			return nil
		}
	}

	c.extra[key] = val
	return nil
}

// Map renders the config back into its flat record form.
func (c Config) Map() map[string]any {
	out := maps.Clone(c.extra)
	if out == nil {
		out = map[string]any{}
	}
	out[keyEnabled] = c.enabled
	out[keyHybrid] = c.hybrid
	out[keyDebug] = c.debug
	for m, p := range c.policies {
		out[string(m)+sfxInterval] = int(p.Interval / time.Minute)
		out[string(m)+sfxChange] = p.ChangeThreshold
	}
	return out
}
