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

package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Kronuz/xapiand-core/blobstorage"
	"github.com/Kronuz/xapiand-core/config"
	"github.com/Kronuz/xapiand-core/shard"
	"github.com/Kronuz/xapiand-core/shard/memindex"
	"github.com/Kronuz/xapiand-core/wal"
)

// newTestShard mirrors shard package's own test helper (unexported
// there) since Hook needs a real *shard.Shard to observe LocalRevision
// through.
func newTestShard(t *testing.T) *shard.Shard {
	t.Helper()
	dir := t.TempDir()
	backend := blobstorage.NewFileBackend(dir)

	index := memindex.New()
	opener := func() (shard.Backend, error) { return index, nil }

	w, err := wal.Open(backend, "wal.", 0)
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	blobs, err := blobstorage.Open(backend, "blob.", uuid.New(), 0, 0, false)
	if err != nil {
		t.Fatalf("blobstorage.Open: %v", err)
	}

	cfg := config.Default()
	return shard.New(cfg, opener, index, w, blobs, true, 0, 1)
}

func startHubServer(t *testing.T, h *Hub) (wsURL string, closeServer func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.HandleUpgrade(w, r); err != nil {
			t.Errorf("HandleUpgrade: %v", err)
		}
	}))
	return "ws" + strings.TrimPrefix(srv.URL, "http"), srv.Close
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestBroadcastReachesConnectedListener(t *testing.T) {
	h := NewHub()
	url, closeServer := startHubServer(t, h)
	defer closeServer()

	client := dial(t, url)
	defer client.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Listeners() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if h.Listeners() != 1 {
		t.Fatalf("expected 1 listener registered, got %d", h.Listeners())
	}

	h.Broadcast(Event{Index: "books", ShardNumber: 2, Revision: 7, Op: OpDocumentUpdate})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var got Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Index != "books" || got.ShardNumber != 2 || got.Revision != 7 || got.Op != OpDocumentUpdate {
		t.Fatalf("got %#v", got)
	}
}

func TestBroadcastToMultipleListeners(t *testing.T) {
	h := NewHub()
	url, closeServer := startHubServer(t, h)
	defer closeServer()

	a := dial(t, url)
	defer a.Close()
	b := dial(t, url)
	defer b.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Listeners() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if h.Listeners() != 2 {
		t.Fatalf("expected 2 listeners, got %d", h.Listeners())
	}

	h.Broadcast(Event{Index: "books", Op: OpMetadataUpdate})

	for _, c := range []*websocket.Conn{a, b} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := c.ReadMessage(); err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
	}
}

func TestListenerRemovedAfterClose(t *testing.T) {
	h := NewHub()
	url, closeServer := startHubServer(t, h)
	defer closeServer()

	client := dial(t, url)

	deadline := time.Now().Add(2 * time.Second)
	for h.Listeners() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	client.Close()

	deadline = time.Now().Add(2 * time.Second)
	for h.Listeners() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if h.Listeners() != 0 {
		t.Fatalf("expected listener to be removed after close, got %d", h.Listeners())
	}
}

func TestHookBroadcastsCurrentRevisionAfterCommit(t *testing.T) {
	h := NewHub()
	url, closeServer := startHubServer(t, h)
	defer closeServer()

	client := dial(t, url)
	defer client.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Listeners() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	s := newTestShard(t)
	defer s.Close()
	s.OnUpdate = h.Hook("books", 0, s)

	if _, err := s.AddDocument(shard.Document{Data: []byte("hello")}, false); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := s.Commit(false, true); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var got Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Index != "books" || got.Op != OpDocumentUpdate {
		t.Fatalf("got %#v", got)
	}
	if got.Revision != s.LocalRevision() {
		t.Fatalf("expected revision %d, got %d", s.LocalRevision(), got.Revision)
	}
}
