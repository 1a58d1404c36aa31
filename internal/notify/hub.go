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

// Package notify pushes outbound notification events to dashboard clients
// over websockets.
package notify

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"sysgrow/internal/events"
	"sysgrow/pkg/eventbus"
	"sysgrow/pkg/logger"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Message is the JSON envelope sent to clients.
type Message struct {
	Type   string    `json:"type"`
	UnitID int       `json:"unit_id"`
	Data   any       `json:"data,omitempty"`
	At     time.Time `json:"at"`
}

// Request is a client command. "subscribe" narrows the stream to one unit;
// unit 0 means every unit.
type Request struct {
	Command string `json:"command"`
	UnitID  int    `json:"unit_id,omitempty"`
}

type client struct {
	unitID int
}

func (c *client) wants(unitID int) bool {
	return c.unitID == 0 || c.unitID == unitID
}

type Hub struct {
	log *logger.Logger
	now func() time.Time

	mu      sync.Mutex
	clients map[*websocket.Conn]*client
	unsubs  []func()
}

func NewHub() *Hub {
	return &Hub{
		log:     logger.New("Notify"),
		now:     time.Now,
		clients: make(map[*websocket.Conn]*client),
	}
}

// Attach forwards the notification topics of bus to connected clients.
func (h *Hub) Attach(bus *eventbus.Bus) {
	h.unsubs = append(h.unsubs,
		events.PlantHealth.Subscribe(bus, func(w events.PlantHealthWarning) error {
			h.Broadcast(Message{Type: "plant_health_warning", UnitID: w.UnitID, Data: w, At: w.At})
			return nil
		}),
		events.IrrigationEligibility.Subscribe(bus, func(t events.IrrigationTrace) error {
			h.Broadcast(Message{Type: "irrigation_eligibility", UnitID: t.UnitID, Data: t, At: t.At})
			return nil
		}),
		events.Runtime.Subscribe(bus, func(u events.RuntimeUpdate) error {
			h.Broadcast(Message{Type: "unit_runtime_update", UnitID: u.UnitID, Data: map[string]any{
				"controller": u.Controller,
				"state":      u.State,
			}, At: u.At})
			return nil
		}),
		events.Thresholds.Subscribe(bus, func(u events.ThresholdsUpdate) error {
			h.Broadcast(Message{Type: "thresholds_update", UnitID: u.UnitID, Data: map[string]any{
				"values": u.Values,
				"source": u.Source,
			}})
			return nil
		}),
		events.Device.Subscribe(bus, func(d events.DeviceEvent) error {
			h.Broadcast(Message{Type: "device_lifecycle", UnitID: d.UnitID, Data: map[string]any{
				"device_id": d.DeviceID,
				"connected": d.Connected,
				"reason":    d.Reason,
			}, At: d.At})
			return nil
		}),
	)
}

func (h *Hub) Detach() {
	for _, unsub := range h.unsubs {
		unsub()
	}
	h.unsubs = nil
}

// Broadcast sends msg to every client subscribed to its unit.
func (h *Hub) Broadcast(msg Message) {
	if msg.At.IsZero() {
		msg.At = h.now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal %s: %v", msg.Type, err)
		return
	}
	pm, err := websocket.NewPreparedMessage(websocket.TextMessage, data)
	if err != nil {
		h.log.Error("failed to prepare message: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ws, c := range h.clients {
		if !c.wants(msg.UnitID) {
			continue
		}
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WritePreparedMessage(pm); err != nil {
			h.log.Warn("dropping client %s: %v", ws.RemoteAddr(), err)
			ws.Close()
			delete(h.clients, ws)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ws := range h.clients {
		ws.Close()
		delete(h.clients, ws)
	}
}

func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWebSocket)
	return mux
}

func (h *Hub) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			h.log.Debug("checking origin: %s", origin)
			if origin == "" || strings.Contains(origin, "localhost") {
				return true
			}
			return strings.Contains(origin, r.Host)
		},
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("failed to upgrade websocket: %v", err)
		return
	}

	c := &client{}
	if unit, err := strconv.Atoi(r.URL.Query().Get("unit")); err == nil {
		c.unitID = unit
	}
	h.mu.Lock()
	h.clients[ws] = c
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, ws)
		h.mu.Unlock()
		ws.Close()
	}()

	var req Request
	for {
		if err := ws.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("read: %v", err)
			}
			return
		}
		switch req.Command {
		case "subscribe":
			h.mu.Lock()
			c.unitID = req.UnitID
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := ws.WriteJSON(Message{Type: "subscribed", UnitID: req.UnitID, At: h.now()})
			h.mu.Unlock()
			if err != nil {
				return
			}
		default:
			h.log.Debug("ignoring command %q", req.Command)
		}
	}
}
