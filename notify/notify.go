/*
Copyright (C) 2026  Kronuz Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package notify implements the database-update notification hook
// spec.md §1 names but leaves unimplemented ("the core exposes hooks
// ... but does not implement them here"): a Hub that fans an Event out
// to every websocket listener, wired into a shard.Shard's OnUpdate
// field so a commit that requests a cluster notification reaches
// whoever is watching.
package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Kronuz/xapiand-core/shard"
)

// Op names the kind of change an Event reports.
type Op string

const (
	OpDocumentUpdate Op = "document_update"
	OpMetadataUpdate Op = "metadata_update"
	OpSpellingUpdate Op = "spelling_update"
)

// Event is the payload broadcast to every listener on a database
// update (spec.md §4.2's "notifies cluster listeners").
type Event struct {
	Index       string    `json:"index"`
	ShardNumber uint64    `json:"shard_number"`
	Revision    uint64    `json:"revision"`
	Op          Op        `json:"op"`
	At          time.Time `json:"at"`
}

// Hub fans out Events to every currently-connected websocket listener.
// Zero value is usable.
type Hub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*conn]struct{}
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex // serializes writes, same as the teacher's per-socket sendmutex
}

// NewHub builds a Hub ready to accept listeners.
func NewHub() *Hub {
	h := &Hub{
		conns: make(map[*conn]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return h
}

// HandleUpgrade upgrades an HTTP request to a websocket listener and
// registers it with the hub. The connection is torn down and
// unregistered automatically once the client closes it or a write
// fails.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("notify: upgrade: %w", err)
	}
	c := &conn{ws: ws}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	go h.readLoop(c)
	return nil
}

// readLoop discards inbound messages (listeners are receive-only) and
// unregisters the connection once it closes. Panic-recovered the same
// way the teacher's websocket read loop is, since a malformed frame or
// a closed underlying socket shouldn't take the hub down with it.
func (h *Hub) readLoop(c *conn) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("notify: recovered from panic in read loop: %v\n", r)
		}
		h.remove(c)
	}()
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.ws.Close()
}

// Broadcast sends ev to every currently-registered listener. A
// listener whose write fails is dropped.
func (h *Hub) Broadcast(ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.Lock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.send(body); err != nil {
			h.remove(c)
		}
	}
}

func (c *conn) send(body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, body)
}

// Listeners returns the number of currently-registered listeners.
func (h *Hub) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Hook builds a shard.Shard.OnUpdate closure that broadcasts a
// document-update Event carrying the shard's revision as observed at
// fire time (after Commit has already advanced it).
func (h *Hub) Hook(index string, shardNumber uint64, s *shard.Shard) func() {
	return func() {
		h.Broadcast(Event{
			Index:       index,
			ShardNumber: shardNumber,
			Revision:    s.LocalRevision(),
			Op:          OpDocumentUpdate,
			At:          time.Now(),
		})
	}
}
