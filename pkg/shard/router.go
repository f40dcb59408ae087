// Package shard routes envelopes to entity instances across the
// cluster.
//
// The entity ID space is partitioned into a fixed number of shards by
// a stable hash; a static assignment maps each shard to its owning
// node. Envelopes for local shards find or spawn the entity instance
// in the per-node registry — at most one live instance per ID — and
// envelopes for remote shards go through the pluggable Forwarder the
// cluster substrate provides. Spawning happens under the registry
// lock, so envelopes arriving during a spawn wait rather than drop.
package shard

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/daviddao/gridlock/pkg/ident"
	"github.com/daviddao/gridlock/pkg/message"
	"github.com/daviddao/gridlock/pkg/runtime"
	"github.com/daviddao/gridlock/pkg/timebus"
)

// BehaviorFactory builds the domain behavior for an entity being
// spawned or revived on this node.
type BehaviorFactory func(id ident.ID) (runtime.Behavior, error)

// Forwarder carries envelopes to shards owned by other nodes. The
// group-communication substrate implements it; the single-node build
// uses none and treats every shard as local.
type Forwarder interface {
	Forward(node string, env message.Envelope)
}

// Config describes this node's view of the shard assignment.
type Config struct {
	// Shards is the fixed shard count; it must agree across nodes.
	Shards int
	// Node is this node's name.
	Node string
	// Assignment maps shard → owning node. Shards missing from the
	// map belong to this node.
	Assignment map[int]string
	// Entity configures every spawned runtime instance.
	Entity runtime.Config
}

// Router owns the local entity registry and the envelope path.
type Router struct {
	cfg       Config
	factory   BehaviorFactory
	deps      runtime.Deps
	bus       *timebus.Bus
	forwarder Forwarder
	log       *slog.Logger

	mu    sync.Mutex
	local map[ident.ID]*runtime.Entity
}

// New builds a router. The runtime deps' Transport and OnFailure are
// overwritten to point back at the router.
func New(cfg Config, factory BehaviorFactory, deps runtime.Deps, bus *timebus.Bus, fwd Forwarder, log *slog.Logger) *Router {
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	r := &Router{
		cfg:       cfg,
		factory:   factory,
		deps:      deps,
		bus:       bus,
		forwarder: fwd,
		log:       log,
		local:     make(map[ident.ID]*runtime.Entity),
	}
	r.deps.Transport = r
	r.deps.OnFailure = r.onEntityFailure
	return r
}

// ShardOf returns the shard owning the ID: a stable FNV-1a hash modulo
// the shard count.
func (r *Router) ShardOf(id ident.ID) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % uint32(r.cfg.Shards))
}

// Owner returns the node owning the ID's shard.
func (r *Router) Owner(id ident.ID) string {
	if node, ok := r.cfg.Assignment[r.ShardOf(id)]; ok {
		return node
	}
	return r.cfg.Node
}

// Route delivers one envelope: locally into the destination's mailbox,
// spawning the entity if needed, or forwarded to the owning node.
func (r *Router) Route(env message.Envelope) error {
	if env.To == "" {
		return fmt.Errorf("shard: envelope without destination")
	}
	owner := r.Owner(env.To)
	if owner != r.cfg.Node {
		if r.forwarder == nil {
			return fmt.Errorf("shard: no forwarder for remote shard on %s", owner)
		}
		r.forwarder.Forward(owner, env)
		return nil
	}
	e, err := r.ensure(env.To)
	if err != nil {
		return err
	}
	e.Enqueue(env)
	return nil
}

// Send implements runtime.Transport: entity-originated envelopes enter
// the same routing path; failures are logged, not surfaced — the
// delivery tracker's retries absorb transient loss.
func (r *Router) Send(env message.Envelope) {
	if err := r.Route(env); err != nil {
		r.log.Warn("send failed", "to", string(env.To), "error", err)
	}
}

// ensure finds or spawns the local instance for the ID.
func (r *Router) ensure(id ident.ID) (*runtime.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.local[id]; ok {
		return e, nil
	}
	behavior, err := r.factory(id)
	if err != nil {
		return nil, fmt.Errorf("shard: build behavior for %s: %w", id, err)
	}
	e := runtime.New(id, behavior, r.deps, r.cfg.Entity)
	if err := e.Start(); err != nil {
		return nil, fmt.Errorf("shard: start %s: %w", id, err)
	}
	if r.bus != nil {
		eid := id
		r.bus.Subscribe(string(id), func(tc timebus.TimeCommand) {
			e.Enqueue(message.Envelope{
				To:      eid,
				Request: &message.Request{Command: message.TimeTick{Value: tc.Value}},
			})
		})
	}
	r.local[id] = e
	return e, nil
}

// LocalCount reports the number of live local instances.
func (r *Router) LocalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.local)
}

// onEntityFailure drops the failed instance from the registry; the
// next envelope for the ID respawns it, which restarts recovery. The
// entity's own loop is already stopping, so this must not block on it.
func (r *Router) onEntityFailure(id ident.ID, err error) {
	r.log.Error("entity failed, scheduling respawn on next envelope", "entity", string(id), "error", err)
	r.mu.Lock()
	delete(r.local, id)
	r.mu.Unlock()
	if r.bus != nil {
		r.bus.Unsubscribe(string(id))
	}
}

// Stop terminates every local instance.
func (r *Router) Stop() {
	r.mu.Lock()
	entities := make([]*runtime.Entity, 0, len(r.local))
	for id, e := range r.local {
		entities = append(entities, e)
		if r.bus != nil {
			r.bus.Unsubscribe(string(id))
		}
	}
	r.local = make(map[ident.ID]*runtime.Entity)
	r.mu.Unlock()
	for _, e := range entities {
		e.Stop()
	}
}
