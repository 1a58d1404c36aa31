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

package logger

import (
	"bufio"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
)

const defaultTailLines = 250

// Service implements http.Handler for debug/log control
type Service struct{}

func WebService() *Service {
	return &Service{}
}

type tailResponse struct {
	Debug bool     `json:"debug"`
	Lines []string `json:"lines"`
}

// ServeHTTP implements http.Handler
//
//	GET  /         -> {"debug": bool, "lines": [...]} (?n= limits the tail)
//	POST /toggle   -> flips debug logging
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/toggle":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		EnableDebug(!IsDebug())
		writeJSON(w, tailResponse{Debug: IsDebug()})

	case "", "/":
		n := defaultTailLines
		if raw := r.URL.Query().Get("n"); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil && v > 0 {
				n = v
			}
		}
		lines, err := Tail(n)
		if err != nil {
			http.Error(w, "failed to read log: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, tailResponse{Debug: IsDebug(), Lines: lines})

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Tail reads the last n lines of the log file. Returns nothing when
// logging only goes to stdout.
func Tail(n int) ([]string, error) {
	baseMu.RLock()
	f := logFile
	baseMu.RUnlock()
	if f == nil {
		return []string{}, nil
	}

	rf, err := os.Open(f.Name())
	if err != nil {
		return nil, err
	}
	defer rf.Close()

	lines := make([]string, 0, n)
	sc := bufio.NewScanner(rf)
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines, sc.Err()
}
