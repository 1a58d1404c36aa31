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

package main

import (
	"context"
	"fmt"

	"sysgrow/internal/adapters/modbussensor"
	"sysgrow/internal/adapters/mqttsensor"
	"sysgrow/internal/config"
	"sysgrow/internal/control"
	"sysgrow/internal/controller"
	"sysgrow/internal/health"
	"sysgrow/internal/notify"
	"sysgrow/internal/storage"
	"sysgrow/internal/thresholds"
	"sysgrow/pkg/appctx"
	"sysgrow/pkg/eventbus"
	"sysgrow/pkg/logger"
	"sysgrow/pkg/modbus"
	"sysgrow/pkg/rootserv"
	"sysgrow/pkg/service"
	"sysgrow/pkg/sysmon"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the unit controllers and the http server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dbURL != "" {
			cfg.Database.URL = dbURL
		}
		return run(cfg)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cfg *config.Config) error {
	if cfg.Log.File != "" {
		if err := logger.Init(cfg.Log.File); err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer logger.Close()
	}
	logger.EnableDebug(debug || cfg.Log.Debug)
	log := logger.New("Main")

	db, err := storage.Open(cfg.Database.URL)
	if err != nil {
		return err
	}
	if n, err := storage.Migrate(db); err != nil {
		db.Close()
		return err
	} else if n > 0 {
		log.Info("applied %d migration(s)", n)
	}
	store, err := storage.New(db)
	if err != nil {
		db.Close()
		return err
	}
	defer store.Close()

	ctx, cancel := appctx.New()
	defer cancel()

	bus := eventbus.New(cfg.Bus)
	bus.Start()
	defer bus.Close()

	targets := thresholds.NewService(store, bus, nil, cfg.Thresholds)

	// climate relays: modbus registers when a register map is configured,
	// otherwise commands are only logged
	var actuators control.ActuatorFactory = control.LogActuator
	var polling controller.SensorPolling
	var poller *modbussensor.Poller
	if cfg.Modbus.Enabled {
		mbConf, err := modbus.LoadConfig(cfg.Modbus.RegisterMap)
		if err != nil {
			return err
		}
		client, err := modbus.Dial(ctx, mbConf)
		if err != nil {
			return err
		}
		defer client.Close()
		actuators = control.RegisterActuators(client, client.HasRegister, cfg.Modbus.RelayPrefix, cfg.Modbus.Retry)
		poller = modbussensor.NewPoller(client, mbConf, bus)
		polling = poller
	}

	var services []service.Runnable

	var logic controller.ControlLogic
	if cfg.Control.Enabled {
		l, err := control.NewLogic(cfg.Control.Loops, targets, actuators)
		if err != nil {
			return err
		}
		logic = l
		services = append(services, l)
	}

	hub := notify.NewHub()
	hub.Attach(bus)
	recorder := storage.NewRecorder(store)
	recorder.Attach(bus)

	units := controller.NewManager(func(unitID int) controller.UnitRuntime {
		return controller.UnitRuntime{
			Climate: controller.NewClimate(unitID, bus, logic, store, controller.ClimateOptions{
				Throttle:   cfg.Throttle,
				StaleAfter: cfg.StaleAfter,
				Polling:    polling,
			}),
			Plant: controller.NewPlantSensor(unitID, bus, store, controller.PlantSensorOptions{
				Throttle:   cfg.Throttle,
				StaleAfter: cfg.StaleAfter,
				Alerts:     cfg.PlantAlerts,
				Resolver:   store,
				Workflow:   hub,
				TraceLimit: cfg.TraceLimit,
			}),
		}
	})

	units.SetThrottleConfig(cfg.Throttle)

	unitIDs, err := bootUnits(ctx, cfg, store)
	if err != nil {
		return err
	}
	for _, id := range unitIDs {
		units.StartUnit(id)
	}
	log.Info("started %d unit(s)", len(unitIDs))

	sysMonitor := sysmon.New("/")
	reporter := health.NewReporter(bus, units, sysMonitor)
	registry := health.NewRegistry(health.NewCollector(bus, units))

	server := rootserv.New(cfg.HTTPAddr)
	server.Attach("/health", "Health Report", reporter)
	server.Attach("/metrics", "Prometheus Metrics", health.MetricsHandler(registry))
	server.Attach("/units", "Unit Runtime and Throttle", units)
	server.Attach("/thresholds", "Environmental Thresholds", targets)
	server.Attach("/logger", "Logger", logger.WebService())
	server.Attach("/monitor", "System Monitor", sysMonitor)
	server.Attach("/notify", "Live Notifications", hub.Handler())
	services = append(services, server)

	if cfg.MQTT.Enabled {
		services = append(services, mqttsensor.New(bus, mqttsensor.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
		}))
	}

	// tear the runtime down once the context ends, before the bus closes
	services = append(services, service.Func(func(ctx context.Context) {
		<-ctx.Done()
		units.StopAll()
		if poller != nil {
			poller.StopAll()
		}
		recorder.Detach()
		hub.Detach()
		hub.Close()
	}))

	exitCode := <-service.Start(ctx, cancel, services)
	if exitCode != 0 {
		return fmt.Errorf("service exited with code %d", exitCode)
	}
	return nil
}

// bootUnits returns the configured unit ids, or every active unit stored
// in the database when none are configured.
func bootUnits(ctx context.Context, cfg *config.Config, store *storage.Store) ([]int, error) {
	if len(cfg.Units) > 0 {
		return cfg.Units, nil
	}
	active, err := store.ActiveUnits(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active units: %w", err)
	}
	ids := make([]int, 0, len(active))
	for _, u := range active {
		ids = append(ids, u.ID)
	}
	return ids, nil
}
