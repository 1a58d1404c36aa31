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

// Package config loads the application configuration from a YAML file,
// .env files and SYSGROW_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sysgrow/internal/control"
	"sysgrow/internal/control/retry"
	"sysgrow/internal/controller"
	"sysgrow/internal/events"
	"sysgrow/internal/thresholds"
	"sysgrow/internal/throttle"
	"sysgrow/pkg/eventbus"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	URL string
}

type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
}

type ModbusConfig struct {
	Enabled     bool
	RegisterMap string // path to the register map yaml
	RelayPrefix string
	Retry       retry.Policy
}

type ControlConfig struct {
	Enabled bool
	Loops   []control.Loop
}

type LogConfig struct {
	File  string
	Debug bool
}

type Config struct {
	Bus         eventbus.Options
	Throttle    throttle.Config
	Thresholds  thresholds.Options
	PlantAlerts controller.AlertBands
	StaleAfter  time.Duration
	TraceLimit  int
	Units       []int // started at boot; empty means every active unit in the database

	Database DatabaseConfig
	MQTT     MQTTConfig
	Modbus   ModbusConfig
	Control  ControlConfig
	HTTPAddr string
	Log      LogConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bus.workers", 4)
	v.SetDefault("bus.queue_size", 1024)
	v.SetDefault("bus.drop_warn_threshold", 10)
	v.SetDefault("bus.drop_warn_interval", "1m")
	v.SetDefault("bus.top_n", 10)

	th := thresholds.DefaultOptions()
	v.SetDefault("thresholds.cache_ttl", th.CacheTTL.String())
	v.SetDefault("thresholds.night.enabled", th.Night.Enabled)
	v.SetDefault("thresholds.night.start_hour", th.Night.StartHour)
	v.SetDefault("thresholds.night.end_hour", th.Night.EndHour)
	v.SetDefault("thresholds.night.temperature_delta", th.Night.TemperatureDelta)
	v.SetDefault("thresholds.night.humidity_delta", th.Night.HumidityDelta)
	v.SetDefault("thresholds.night.lux", th.Night.Lux)

	bands := controller.DefaultAlertBands()
	for name, b := range map[string]controller.Band{
		"ph_warning":  bands.PHWarning,
		"ph_critical": bands.PHCritical,
		"ec_warning":  bands.ECWarning,
		"ec_critical": bands.ECCritical,
	} {
		v.SetDefault("plant_alerts."+name+".min", b.Min)
		v.SetDefault("plant_alerts."+name+".max", b.Max)
	}

	v.SetDefault("controller.stale_after", controller.DefaultStaleAfter.String())
	v.SetDefault("controller.trace_limit", 100)
	v.SetDefault("controller.units", []int{})

	v.SetDefault("database.url", "sqlite://sysgrow.db")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "sysgrow")
	v.SetDefault("mqtt.topic", "sysgrow/+/+/+")

	v.SetDefault("modbus.enabled", false)
	v.SetDefault("modbus.register_map", "modbus.yaml")
	v.SetDefault("modbus.relay_prefix", "relay_")
	v.SetDefault("modbus.retry_attempts", retry.Default.Attempts)
	v.SetDefault("modbus.retry_delay", retry.Default.Delay.String())

	v.SetDefault("control.enabled", true)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.file", "")
	v.SetDefault("log.debug", false)
}

// Load reads configuration with env > file > defaults precedence. Values
// from a .env file in the working directory are loaded into the
// environment first. An empty path skips the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SYSGROW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	if v.InConfig("mqtt.password") {
		return nil, errors.New("mqtt password not allowed in config files (use SYSGROW_MQTT_PASSWORD)")
	}
	return build(v)
}

func build(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Bus: eventbus.Options{
			Workers:           v.GetInt("bus.workers"),
			QueueSize:         v.GetInt("bus.queue_size"),
			DropWarnThreshold: v.GetInt("bus.drop_warn_threshold"),
			DropWarnInterval:  v.GetDuration("bus.drop_warn_interval"),
			TopN:              v.GetInt("bus.top_n"),
		},
		PlantAlerts: controller.AlertBands{
			PHWarning:  band(v, "ph_warning"),
			PHCritical: band(v, "ph_critical"),
			ECWarning:  band(v, "ec_warning"),
			ECCritical: band(v, "ec_critical"),
		},
		StaleAfter: v.GetDuration("controller.stale_after"),
		TraceLimit: v.GetInt("controller.trace_limit"),
		Units:      cast.ToIntSlice(v.Get("controller.units")),
		Database:   DatabaseConfig{URL: v.GetString("database.url")},
		MQTT: MQTTConfig{
			Enabled:  v.GetBool("mqtt.enabled"),
			Broker:   v.GetString("mqtt.broker"),
			ClientID: v.GetString("mqtt.client_id"),
			Topic:    v.GetString("mqtt.topic"),
			Username: v.GetString("mqtt.username"),
			Password: v.GetString("mqtt.password"),
		},
		Modbus: ModbusConfig{
			Enabled:     v.GetBool("modbus.enabled"),
			RegisterMap: v.GetString("modbus.register_map"),
			RelayPrefix: v.GetString("modbus.relay_prefix"),
			Retry: retry.Policy{
				Attempts: v.GetInt("modbus.retry_attempts"),
				Delay:    v.GetDuration("modbus.retry_delay"),
			},
		},
		Control:  ControlConfig{Enabled: v.GetBool("control.enabled")},
		HTTPAddr: v.GetString("http.addr"),
		Log: LogConfig{
			File:  v.GetString("log.file"),
			Debug: v.GetBool("log.debug"),
		},
	}

	var err error
	if cfg.Throttle, err = throttle.Default().Merge(v.GetStringMap("throttle")); err != nil {
		return nil, err
	}
	if cfg.Thresholds, err = thresholdOptions(v); err != nil {
		return nil, err
	}

	if v.IsSet("control.loops") {
		if err := v.UnmarshalKey("control.loops", &cfg.Control.Loops); err != nil {
			return nil, fmt.Errorf("control.loops: %w", err)
		}
	}
	if len(cfg.Control.Loops) == 0 {
		cfg.Control.Loops = control.DefaultLoops()
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func band(v *viper.Viper, name string) controller.Band {
	return controller.Band{
		Min: v.GetFloat64("plant_alerts." + name + ".min"),
		Max: v.GetFloat64("plant_alerts." + name + ".max"),
	}
}

func thresholdOptions(v *viper.Viper) (thresholds.Options, error) {
	opts := thresholds.DefaultOptions()
	opts.CacheTTL = v.GetDuration("thresholds.cache_ttl")
	opts.Night = thresholds.NightAdjust{
		Enabled:          v.GetBool("thresholds.night.enabled"),
		StartHour:        v.GetInt("thresholds.night.start_hour"),
		EndHour:          v.GetInt("thresholds.night.end_hour"),
		TemperatureDelta: v.GetFloat64("thresholds.night.temperature_delta"),
		HumidityDelta:    v.GetFloat64("thresholds.night.humidity_delta"),
		Lux:              v.GetFloat64("thresholds.night.lux"),
	}
	for key, raw := range v.GetStringMap("thresholds.tolerances") {
		m, ok := events.ParseMetric(key)
		if !ok {
			return opts, fmt.Errorf("thresholds.tolerances: unknown field %q", key)
		}
		tol, err := cast.ToFloat64E(raw)
		if err != nil || tol < 0 {
			return opts, fmt.Errorf("thresholds.tolerances.%s: invalid value %v", key, raw)
		}
		opts.Tolerances[m] = tol
	}
	return opts, nil
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.Database.URL == "" {
		errs = append(errs, errors.New("database.url must be set"))
	}
	if cfg.HTTPAddr == "" {
		errs = append(errs, errors.New("http.addr must be set"))
	}
	if cfg.Bus.Workers <= 0 || cfg.Bus.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("bus workers and queue_size must be positive, got %d and %d",
			cfg.Bus.Workers, cfg.Bus.QueueSize))
	}
	if cfg.Thresholds.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("thresholds.cache_ttl must be positive, got %v", cfg.Thresholds.CacheTTL))
	}
	n := cfg.Thresholds.Night
	if n.StartHour < 0 || n.StartHour > 23 || n.EndHour < 0 || n.EndHour > 23 {
		errs = append(errs, fmt.Errorf("thresholds.night hours must be 0..23, got %d..%d", n.StartHour, n.EndHour))
	}
	for name, pair := range map[string][2]controller.Band{
		"ph": {cfg.PlantAlerts.PHWarning, cfg.PlantAlerts.PHCritical},
		"ec": {cfg.PlantAlerts.ECWarning, cfg.PlantAlerts.ECCritical},
	} {
		warn, crit := pair[0], pair[1]
		if warn.Min > warn.Max || crit.Min > crit.Max {
			errs = append(errs, fmt.Errorf("plant_alerts.%s: min above max", name))
		} else if crit.Min > warn.Min || crit.Max < warn.Max {
			errs = append(errs, fmt.Errorf("plant_alerts.%s: warning band must lie inside the critical band", name))
		}
	}
	if cfg.Modbus.Enabled && cfg.Modbus.RegisterMap == "" {
		errs = append(errs, errors.New("modbus.register_map must be set when modbus is enabled"))
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker must be set when mqtt is enabled"))
	}
	return errors.Join(errs...)
}
