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

// xapiand-core wires the Database Pool, its per-shard endpoints, the
// multi-shard router, the cluster-update notifier, and the
// local-replica watcher into one running process. Command-line and
// environment parsing are out of scope (spec.md §6): every knob here
// comes from config.Default(), the same entrypoint a real front-end
// would populate from its own flags before calling newNode.
package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Kronuz/xapiand-core/blobstorage"
	"github.com/Kronuz/xapiand-core/config"
	"github.com/Kronuz/xapiand-core/localwatch"
	"github.com/Kronuz/xapiand-core/multishard"
	"github.com/Kronuz/xapiand-core/notify"
	"github.com/Kronuz/xapiand-core/pool"
	"github.com/Kronuz/xapiand-core/scheduler"
	"github.com/Kronuz/xapiand-core/shard"
	"github.com/Kronuz/xapiand-core/shard/memindex"
	"github.com/Kronuz/xapiand-core/shardendpoint"
	"github.com/Kronuz/xapiand-core/wal"
)

func logf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

// splitEndpointName reverses multishard.Router's "<index>.<shard
// number>" naming so the notify.Hub can report an endpoint's real
// index and shard number instead of the opaque combined string.
func splitEndpointName(endpointName string) (index string, shardNumber uint64) {
	dot := strings.LastIndex(endpointName, ".")
	if dot < 0 {
		return endpointName, 0
	}
	n, err := strconv.ParseUint(endpointName[dot+1:], 10, 64)
	if err != nil {
		return endpointName, 0
	}
	return endpointName[:dot], n
}

// node bundles everything a running process owns: the pool every
// endpoint is spawned from, the update hub every shard notifies, and
// the watcher that short-circuits the reopen-staleness poll the
// moment a local replica appears.
type node struct {
	dataDir string
	cfg     *config.Config
	sched   *scheduler.Scheduler
	hub     *notify.Hub
	watch   *localwatch.Watcher
	pool    *pool.Pool

	watchedMu sync.Mutex
	watched   map[string]bool
}

func newNode(dataDir string, cfg *config.Config) (*node, error) {
	watch, err := localwatch.New()
	if err != nil {
		return nil, fmt.Errorf("xapiand: %w", err)
	}

	n := &node{
		dataDir: dataDir,
		cfg:     cfg,
		sched:   scheduler.New(4),
		hub:     notify.NewHub(),
		watch:   watch,
		watched: make(map[string]bool),
	}
	n.pool = pool.New(cfg, n.openerFor)
	return n, nil
}

// openerFor builds the shardendpoint.Opener for one "<index>.<shard>"
// endpoint name: a file-backed blob store and WAL rooted under
// dataDir/endpointName, an in-memory Backend standing in for the
// production index engine (spec.md §6 leaves the concrete backend
// unspecified; no idiomatic Go equivalent of the original's Xapian
// binding exists in the pack — see DESIGN.md), and a shard.Shard whose
// OnUpdate hook feeds the node's notify.Hub.
func (n *node) openerFor(endpointName string) shardendpoint.Opener {
	dir := filepath.Join(n.dataDir, endpointName)
	id := uuid.New()
	index := memindex.New()

	return func(writable bool) (*shard.Shard, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		backend := blobstorage.NewFileBackend(dir)

		w, err := wal.Open(backend, "wal.", 0)
		if err != nil {
			return nil, err
		}
		blobs, err := blobstorage.Open(backend, "blob.", id, 0, n.cfg.VolumeSoftCap, false)
		if err != nil {
			return nil, err
		}

		opener := func() (shard.Backend, error) { return index, nil }
		s := shard.New(n.cfg, opener, index, w, blobs, true, 0, 1)
		idxName, shardNumber := splitEndpointName(endpointName)
		s.OnUpdate = n.hub.Hook(idxName, shardNumber, s)

		n.watchLocalReplica(endpointName, dir)
		return s, nil
	}
}

// watchLocalReplica arranges, once per endpoint, for every outstanding
// reader to reopen on its next checkout the moment endpointName's
// local replica directory appears — instead of waiting out
// RemoteDBUpdateInterval (spec.md §4.2).
func (n *node) watchLocalReplica(endpointName, dir string) {
	n.watchedMu.Lock()
	already := n.watched[endpointName]
	n.watched[endpointName] = true
	n.watchedMu.Unlock()
	if already {
		return
	}

	h, err := n.pool.Spawn(endpointName)
	if err != nil {
		return
	}
	defer h.Release()
	_ = n.watch.WatchForCreate(dir, h.ForceStale)
}

// Router returns a multishard.Router over this node's pool for a named
// index with the given shard count.
func (n *node) Router(index string, shardCount uint64) *multishard.Router {
	return multishard.New(n.cfg, n.pool, index, shardCount, n.sched)
}

// Close tears down every background goroutine the node owns.
func (n *node) Close() {
	n.pool.Finish()
	n.watch.Close()
	n.sched.Stop()
}

func main() {
	cfg := config.Default()
	dataDir := "./data"

	n, err := newNode(dataDir, cfg)
	if err != nil {
		logf("xapiand: %v", err)
		os.Exit(1)
	}
	config.OnShutdown(n.Close)

	router := n.Router("default", 4)

	mux := http.NewServeMux()
	mux.HandleFunc("/_notify", func(w http.ResponseWriter, r *http.Request) {
		if err := n.hub.HandleUpgrade(w, r); err != nil {
			logf("xapiand: notify upgrade: %v", err)
		}
	})
	mux.HandleFunc("/_health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "shards=%d listeners=%d\n", router.ShardCount(), n.hub.Listeners())
	})

	logf("xapiand: ready, %d shard(s), data dir %q", router.ShardCount(), dataDir)
	if err := http.ListenAndServe(":8890", mux); err != nil {
		logf("xapiand: %v", err)
		os.Exit(1)
	}
}
