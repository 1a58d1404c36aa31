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

// Package sysmon reports host and process resource usage.
package sysmon

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"

	"sysgrow/pkg/logger"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

type CPU struct {
	SystemPercent  float64 `json:"system_percent"`
	ProcessPercent float64 `json:"process_percent"`
}

type Memory struct {
	SystemTotal uint64 `json:"system_total"`
	SystemUsed  uint64 `json:"system_used"`
	SystemFree  uint64 `json:"system_free"`
	ProcessRSS  uint64 `json:"process_rss"`
}

type Disk struct {
	Path  string `json:"path"`
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

type Snapshot struct {
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
	CPU        CPU    `json:"cpu"`
	Memory     Memory `json:"memory"`
	Disk       Disk   `json:"disk"`
}

type Service struct {
	diskPath string
	log      *logger.Logger
}

// New monitors the filesystem holding diskPath; empty means the working
// directory.
func New(diskPath string) *Service {
	if diskPath == "" {
		if wd, err := os.Getwd(); err == nil {
			diskPath = wd
		} else {
			diskPath = "/"
		}
	}
	return &Service{diskPath: diskPath, log: logger.New("SysMon")}
}

// Snapshot samples current usage. Fields whose probe fails are left zero.
func (s *Service) Snapshot() Snapshot {
	snap := Snapshot{
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
		Disk:       Disk{Path: s.diskPath},
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		snap.CPU.SystemPercent = pct[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		snap.Memory.SystemTotal = vmem.Total
		snap.Memory.SystemUsed = vmem.Used
		snap.Memory.SystemFree = vmem.Available
	}
	if total, free, used, err := DiskUsage(s.diskPath); err == nil {
		snap.Disk.Total, snap.Disk.Free, snap.Disk.Used = total, free, used
	} else {
		s.log.Debug("disk usage %s: %v", s.diskPath, err)
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			snap.Memory.ProcessRSS = mi.RSS
		}
		if pct, err := p.CPUPercent(); err == nil {
			snap.CPU.ProcessPercent = pct
		}
	}
	return snap
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Snapshot()); err != nil {
		s.log.Error("encode snapshot: %v", err)
	}
}
