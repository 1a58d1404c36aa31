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

package thresholds

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"sysgrow/internal/events"
	"sysgrow/pkg/eventbus"
	"sysgrow/pkg/logger"

	"github.com/spf13/cast"
)

// Store is the source of truth for per-unit threshold overrides.
type Store interface {
	// LoadThresholds returns nil, nil when the unit has no override.
	LoadThresholds(ctx context.Context, unitID int) (map[events.Metric]float64, error)
	SaveThresholds(ctx context.Context, unitID int, values map[events.Metric]float64, source string) error
	// UnitProfile returns empty strings for a unit with no plant assigned.
	UnitProfile(ctx context.Context, unitID int) (plantType, stage string, err error)
}

// NightAdjust shifts targets during the night window [StartHour, EndHour).
type NightAdjust struct {
	Enabled          bool
	StartHour        int
	EndHour          int
	TemperatureDelta float64
	HumidityDelta    float64
	Lux              float64
}

func (n NightAdjust) IsNight(at time.Time) bool {
	h := at.Hour()
	if n.StartHour == n.EndHour {
		return false
	}
	if n.StartHour < n.EndHour {
		return h >= n.StartHour && h < n.EndHour
	}
	return h >= n.StartHour || h < n.EndHour
}

type Options struct {
	CacheTTL time.Duration
	// Tolerances is the smallest change per field Update will act on.
	Tolerances map[events.Metric]float64
	Night      NightAdjust
}

func DefaultOptions() Options {
	return Options{
		CacheTTL: 5 * time.Minute,
		Tolerances: map[events.Metric]float64{
			events.Temperature:  0.5,
			events.Humidity:     2,
			events.SoilMoisture: 2,
			events.CO2:          50,
			events.VOC:          25,
			events.Lux:          500,
			events.AirQuality:   5,
		},
		Night: NightAdjust{
			Enabled:          true,
			StartHour:        20,
			EndHour:          6,
			TemperatureDelta: -3,
			HumidityDelta:    5,
			Lux:              0,
		},
	}
}

type keyKind uint8

const (
	profileKey keyKind = iota
	unitKey
)

// cacheKey separates unit entries from profile entries so unit 0 never
// aliases the default profile.
type cacheKey struct {
	kind         keyKind
	unit         int
	plant, stage string
}

func keyForUnit(unitID int) cacheKey { return cacheKey{kind: unitKey, unit: unitID} }

type cacheEntry struct {
	value   EnvironmentalThresholds
	expires time.Time
}

// Service resolves thresholds with a TTL cache and writes accepted updates
// back to the store.
type Service struct {
	store    Store
	bus      *eventbus.Bus
	profiles *Profiles
	opts     Options
	now      func() time.Time
	log      *logger.Logger

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

// NewService builds a service. store and bus may be nil: without a store
// only profile lookups work, without a bus updates are not announced.
func NewService(store Store, bus *eventbus.Bus, profiles *Profiles, opts Options) *Service {
	if profiles == nil {
		profiles = MustDefaultProfiles()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultOptions().CacheTTL
	}
	if opts.Tolerances == nil {
		opts.Tolerances = DefaultOptions().Tolerances
	}
	return &Service{
		store:    store,
		bus:      bus,
		profiles: profiles,
		opts:     opts,
		now:      time.Now,
		log:      logger.New("Thresholds"),
		cache:    map[cacheKey]cacheEntry{},
	}
}

func (s *Service) Resolve(ctx context.Context, plant, stage string) (EnvironmentalThresholds, error) {
	key := cacheKey{kind: profileKey, plant: normalize(plant), stage: normalize(stage)}
	if t, ok := s.cached(key); ok {
		return t, nil
	}
	if err := ctx.Err(); err != nil {
		return EnvironmentalThresholds{}, err
	}
	t, err := s.profiles.Lookup(plant, stage)
	if err != nil {
		return EnvironmentalThresholds{}, err
	}
	s.put(key, t)
	return t, nil
}

// ResolveForUnit returns the unit's stored override, layered on top of the
// profile for the unit's plant and stage.
func (s *Service) ResolveForUnit(ctx context.Context, unitID int) (EnvironmentalThresholds, error) {
	key := keyForUnit(unitID)
	if t, ok := s.cached(key); ok {
		return t, nil
	}
	if s.store == nil {
		return s.profiles.Defaults(), nil
	}

	plant, stage, err := s.store.UnitProfile(ctx, unitID)
	if err != nil {
		return EnvironmentalThresholds{}, fmt.Errorf("unit %d profile: %w", unitID, err)
	}
	base, err := s.Resolve(ctx, plant, stage)
	if err != nil {
		return EnvironmentalThresholds{}, err
	}

	override, err := s.store.LoadThresholds(ctx, unitID)
	if err != nil {
		return EnvironmentalThresholds{}, fmt.Errorf("unit %d thresholds: %w", unitID, err)
	}
	t := base
	if len(override) > 0 {
		rec := make(map[string]any, len(override))
		for f, v := range override {
			rec[string(f)] = v
		}
		if t, err = base.Merge(rec); err != nil {
			// a bad stored row must not take the unit down
			s.log.Warn("unit %d: ignoring invalid stored thresholds: %v", unitID, err)
			t = base
		}
	}
	s.put(key, t)
	return t, nil
}

// ForTime applies the day/night adjustment for the given instant.
func (s *Service) ForTime(t EnvironmentalThresholds, at time.Time) EnvironmentalThresholds {
	n := s.opts.Night
	if !n.Enabled || !n.IsNight(at) {
		return t
	}
	adjusted := t.Map()
	adjusted[events.Temperature] = ranges[events.Temperature].Clamp(t.Temperature() + n.TemperatureDelta)
	adjusted[events.Humidity] = ranges[events.Humidity].Clamp(t.Humidity() + n.HumidityDelta)
	adjusted[events.Lux] = ranges[events.Lux].Clamp(n.Lux)
	out, err := FromMap(adjusted)
	if err != nil {
		// unreachable after clamping, keep the day values
		return t
	}
	return out
}

// Update proposes new values for a unit. Field changes smaller than the
// field's tolerance are dropped; if nothing is left the call is a no-op and
// returns changed=false. The remaining fields are validated as a whole,
// persisted, and announced on the bus.
func (s *Service) Update(ctx context.Context, unitID int, proposed map[string]any) (EnvironmentalThresholds, bool, error) {
	current, err := s.ResolveForUnit(ctx, unitID)
	if err != nil {
		return EnvironmentalThresholds{}, false, err
	}

	accepted := map[string]any{}
	var errs []error
	for key, raw := range proposed {
		f, ok := events.ParseMetric(key)
		if !ok {
			continue
		}
		if _, ok := ranges[f]; !ok {
			continue
		}
		v, err := cast.ToFloat64E(raw)
		if err != nil {
			errs = append(errs, &ValidationError{Field: f, Value: raw, Err: ErrNotNumeric})
			continue
		}
		if math.Abs(v-current.Get(f)) < s.opts.Tolerances[f] {
			continue
		}
		accepted[key] = v
	}
	if len(errs) > 0 {
		return current, false, fmt.Errorf("unit %d: %w", unitID, joinErrs(errs))
	}
	if len(accepted) == 0 {
		s.log.Debug("unit %d: proposed change within tolerance, ignored", unitID)
		return current, false, nil
	}

	next, err := current.Merge(accepted)
	if err != nil {
		return current, false, fmt.Errorf("unit %d: %w", unitID, err)
	}
	if s.store != nil {
		if err := s.store.SaveThresholds(ctx, unitID, next.Map(), "service"); err != nil {
			return current, false, fmt.Errorf("unit %d: save thresholds: %w", unitID, err)
		}
	}
	s.Invalidate(unitID)
	s.put(keyForUnit(unitID), next)

	s.log.Info("unit %d thresholds updated: %s", unitID, next)
	if s.bus != nil {
		events.Thresholds.Publish(s.bus, events.ThresholdsUpdate{
			UnitID: unitID,
			Values: next.Map(),
			Source: "service",
		})
	}
	return next, true, nil
}

// Invalidate drops the cached entries of the given units, or every unit
// entry when called without arguments. Profile lookups stay cached.
func (s *Service) Invalidate(unitIDs ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(unitIDs) == 0 {
		for k := range s.cache {
			if k.kind == unitKey {
				delete(s.cache, k)
			}
		}
		return
	}
	for _, id := range unitIDs {
		delete(s.cache, keyForUnit(id))
	}
}

func (s *Service) cached(key cacheKey) (EnvironmentalThresholds, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[key]
	if !ok {
		return EnvironmentalThresholds{}, false
	}
	if !s.now().Before(e.expires) {
		delete(s.cache, key)
		return EnvironmentalThresholds{}, false
	}
	return e.value, true
}

func (s *Service) put(key cacheKey, t EnvironmentalThresholds) {
	s.mu.Lock()
	s.cache[key] = cacheEntry{value: t, expires: s.now().Add(s.opts.CacheTTL)}
	s.mu.Unlock()
}
