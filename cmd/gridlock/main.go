// Command gridlock runs one node of the urban traffic actor network.
//
// The node hosts the shards assigned to it: every static map feature
// and mobile participant whose ID lands on a local shard lives here as
// a persistent entity over the node's SQLite store. An HTTP endpoint
// accepts injector commands, the time broadcaster drives the
// simulation clock, and a WebSocket endpoint streams journaled events
// to the browser front-end.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/daviddao/gridlock/pkg/event"
	"github.com/daviddao/gridlock/pkg/logging"
	"github.com/daviddao/gridlock/pkg/message"
	"github.com/daviddao/gridlock/pkg/runtime"
	"github.com/daviddao/gridlock/pkg/shard"
	"github.com/daviddao/gridlock/pkg/store"
	"github.com/daviddao/gridlock/pkg/timebus"
	"github.com/daviddao/gridlock/pkg/traffic"
	"github.com/daviddao/gridlock/pkg/viz"
	"github.com/daviddao/gridlock/pkg/worldmap"
)

const (
	defaultDir = ".gridlock"
	defaultDB  = ".gridlock/gridlock.db"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			printUsage()
			return
		}
		fmt.Fprintf(os.Stderr, "gridlock: unknown argument %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	log := logging.New("gridlock")

	mapPath := os.Getenv("GRIDLOCK_MAP")
	if mapPath == "" {
		fatal("GRIDLOCK_MAP is not set: point it at the city map JSON")
	}
	world, err := worldmap.LoadFile(mapPath)
	if err != nil {
		fatal("load map: %v", err)
	}

	dbPath := envOr("GRIDLOCK_DB", defaultDB)
	if dbPath == defaultDB {
		if err := os.MkdirAll(defaultDir, 0755); err != nil {
			fatal("cannot create %s: %v", defaultDir, err)
		}
	}
	s, err := store.New(dbPath)
	if err != nil {
		fatal("open store: %v", err)
	}
	defer s.Close()

	addr := envOr("GRIDLOCK_ADDR", ":6696")
	node := envOr("GRIDLOCK_NODE", "node-1")
	shards := envInt("GRIDLOCK_SHARDS", 16)
	tickEvery := time.Duration(envInt("GRIDLOCK_TICK_MS", 1000)) * time.Millisecond
	tickStep := event.TimeValue(envInt("GRIDLOCK_TICK_STEP", 1))

	instance := uuid.NewString()
	log.Info("starting node",
		"node", node, "instance", instance, "addr", addr,
		"shards", shards, "db", dbPath, "map", mapPath)

	bus := timebus.New()
	hub := viz.NewHub(logging.Component(log, "viz"))
	defer hub.Close()

	router := shard.New(
		shard.Config{Shards: shards, Node: node},
		traffic.NewBehavior(world, node+addr),
		runtime.Deps{
			Journal:   s,
			Snapshots: s,
			Outbox:    s,
			Log:       logging.Component(log, "runtime"),
			Sink:      hub.Observe,
		},
		bus,
		nil, // single-node build: every shard is local
		logging.Component(log, "shard"),
	)
	defer router.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go bus.Run(ctx, tickEvery, tickStep)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", viz.NewHandler(hub, logging.Component(log, "viz")).Handle)
	mux.HandleFunc("/inject", injectHandler(router, log))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx) //nolint:errcheck // best-effort drain on the way out
	}()

	log.Info("listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal("serve: %v", err)
	}
	log.Info("node stopped", "node", node, "instance", instance)
}

// injectHandler accepts external injector envelopes: a JSON
// message.Envelope without a From, e.g.
//
//	{"to":"L-7","request":{"command":{"type":"identity","data":{"id":"L-7"}}}}
func injectHandler(router *shard.Router, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
			return
		}
		env, err := message.Decode(body)
		if err != nil {
			http.Error(w, "decode envelope: "+err.Error(), http.StatusBadRequest)
			return
		}
		// Injector traffic is non-persistent by definition.
		env.From = ""
		if err := router.Route(env); err != nil {
			log.Warn("inject failed", "to", string(env.To), "error", err)
			http.Error(w, "route: "+err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func printUsage() {
	fmt.Print(`gridlock — urban traffic as a persistent actor network

Runs one node: entities for the local shards, the time broadcaster,
the injector endpoint, and the visualization stream.

Usage:
  gridlock

Environment:
  GRIDLOCK_MAP        City map JSON path (required)
  GRIDLOCK_DB         SQLite store path (default: .gridlock/gridlock.db)
  GRIDLOCK_ADDR       HTTP listen address (default: :6696)
  GRIDLOCK_NODE       Node name in the shard assignment (default: node-1)
  GRIDLOCK_SHARDS     Shard count, must agree across nodes (default: 16)
  GRIDLOCK_TICK_MS    Wall-clock interval between time ticks (default: 1000)
  GRIDLOCK_TICK_STEP  Simulation time advanced per tick (default: 1)
  GRIDLOCK_LOG_LEVEL  debug | info | warn | error (default: info)

Endpoints:
  POST /inject   Injector commands (Identity, CreateMobileEntity, ...)
  GET  /ws       WebSocket event stream for the front-end
  GET  /healthz  Liveness probe
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fatal("invalid %s=%q: %v", key, v, err)
	}
	return n
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "gridlock: "+format+"\n", args...)
	os.Exit(1)
}
