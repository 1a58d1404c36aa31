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

// Package modbus is a small Modbus TCP client driven by a YAML register map.
package modbus

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrUnknownRegister = errors.New("register not configured")

type Config struct {
	Modbus     ConnConfig             `yaml:"modbus"`
	PollGroups map[string]int         `yaml:"poll_groups"` // seconds
	Registers  map[string]RegisterDef `yaml:"registers"`
}

type ConnConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	SlaveID byte   `yaml:"slave_id"`
	Timeout int    `yaml:"timeout"` // seconds
}

// RegisterDef describes one holding register. Sensor registers name the
// unit, sensor and metric their value is published as; relay registers are
// writable and carry none of those.
type RegisterDef struct {
	Address     uint16  `yaml:"address"`
	DataType    string  `yaml:"data_type"` // uint16, int16, bool, float32
	Scale       float64 `yaml:"scale"`     // raw*scale + offset when non-zero
	Offset      float64 `yaml:"offset"`
	Description string  `yaml:"description"`
	Writable    bool    `yaml:"writable"`
	Group       string  `yaml:"group,omitempty"`

	UnitID   int      `yaml:"unit_id,omitempty"`
	SensorID int      `yaml:"sensor_id,omitempty"`
	Metric   string   `yaml:"metric,omitempty"`
	Min      *float64 `yaml:"min,omitempty"`
	Max      *float64 `yaml:"max,omitempty"`
}

// IsSensor reports whether the register feeds a sensor reading.
func (r RegisterDef) IsSensor() bool {
	return r.Metric != "" && r.UnitID > 0
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read modbus config: %w", err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse modbus config: %w", err)
	}
	if cfg.Modbus.Port == 0 {
		cfg.Modbus.Port = 502
	}
	if cfg.Modbus.Timeout == 0 {
		cfg.Modbus.Timeout = 5
	}
	for name, reg := range cfg.Registers {
		if registerCount(reg.DataType) == 0 {
			return nil, fmt.Errorf("register %q: unsupported data type %q", name, reg.DataType)
		}
		if reg.Min != nil && reg.Max != nil && *reg.Min > *reg.Max {
			return nil, fmt.Errorf("register %q: min %v above max %v", name, *reg.Min, *reg.Max)
		}
	}
	return &cfg, nil
}

// GroupInterval returns the poll interval of a group in seconds, falling
// back to the "default" group and then to 60.
func (c *Config) GroupInterval(group string) int {
	if s, ok := c.PollGroups[group]; ok && s > 0 {
		return s
	}
	if s, ok := c.PollGroups["default"]; ok && s > 0 {
		return s
	}
	return 60
}
