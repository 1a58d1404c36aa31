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

package control

import (
	"context"
	"fmt"

	"sysgrow/internal/control/dutycycle"
	"sysgrow/internal/control/retry"
	"sysgrow/pkg/logger"
)

var actuatorLog = logger.New("Actuator")

// LogActuator only logs relay switches. It is the fallback when no relay
// hardware is configured.
func LogActuator(unitID int, relay string) dutycycle.Actuator {
	return func(_ context.Context, on bool) error {
		actuatorLog.Info("unit %d %s -> %v", unitID, relay, on)
		return nil
	}
}

// RegisterWriter writes a named register, e.g. a Modbus coil mapped to a
// relay.
type RegisterWriter interface {
	WriteValue(ctx context.Context, name string, value any) error
}

// RegisterActuators switches relays through registers named
// "<prefix><unit>_<relay>" with retry. Relays without a register fall back
// to LogActuator.
func RegisterActuators(w RegisterWriter, known func(name string) bool, prefix string, p retry.Policy) ActuatorFactory {
	writer := retry.NewWriter("RelayWrite", p)
	return func(unitID int, relay string) dutycycle.Actuator {
		name := fmt.Sprintf("%s%d_%s", prefix, unitID, relay)
		if known != nil && !known(name) {
			actuatorLog.Warn("no register %q, relay %s of unit %d is log-only", name, relay, unitID)
			return LogActuator(unitID, relay)
		}
		return func(ctx context.Context, on bool) error {
			return writer.Do(ctx, func(ctx context.Context) error {
				return w.WriteValue(ctx, name, on)
			})
		}
	}
}
