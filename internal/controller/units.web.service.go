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

package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"sysgrow/internal/throttle"
)

type unitsResponse struct {
	Units    []int          `json:"units"`
	Throttle map[string]any `json:"throttle"`
}

// ServeHTTP implements http.Handler
//
//	GET  /                -> running units and the throttle config
//	GET  /throttle        -> throttle config as a flat record
//	POST /throttle        -> merges a flat record into the throttle config
//	POST /start?unit=N    -> starts the controllers of a unit
//	POST /stop?unit=N     -> stops them
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "", "/":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, unitsResponse{Units: m.Units(), Throttle: m.ThrottleConfig().Map()})

	case "/throttle":
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, m.ThrottleConfig().Map())
		case http.MethodPost:
			var raw map[string]any
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&raw); err != nil {
				http.Error(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
				return
			}
			next, err := m.MergeThrottle(raw)
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, throttle.ErrInvalidConfig) {
					status = http.StatusBadRequest
				}
				http.Error(w, err.Error(), status)
				return
			}
			writeJSON(w, http.StatusOK, next.Map())
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}

	case "/start", "/stop":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		unitID, err := strconv.Atoi(r.URL.Query().Get("unit"))
		if err != nil || unitID <= 0 {
			http.Error(w, "unit query parameter must be a positive integer", http.StatusBadRequest)
			return
		}
		var ok bool
		if r.URL.Path == "/start" {
			ok = m.StartUnit(unitID)
		} else {
			ok = m.StopUnit(unitID)
		}
		if !ok {
			http.Error(w, "unit "+strconv.Itoa(unitID)+" already in that state", http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, unitsResponse{Units: m.Units(), Throttle: m.ThrottleConfig().Map()})

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
