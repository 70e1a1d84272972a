package cluster

import (
	"context"
	"sync"
	"time"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/types"
)

// Forwarder sends an already-encoded request to a named address and
// returns the peer's encoded response. pkg/wire's client implements this;
// cluster stays free of any wire-format dependency so the two packages can
// be built and tested independently.
type Forwarder interface {
	Forward(ctx context.Context, addr string, payload []byte) ([]byte, error)
}

// Router is the per-node leader-forward router: it accepts a
// write on any node, applies it locally when this node is the leader, and
// otherwise forwards the encoded request to the cached leader address. A
// forwarding failure clears the cache and turns into NoLeader.
type Router struct {
	manager   *Manager
	forwarder Forwarder
	probe     func(ctx context.Context, addr string) bool

	mu         sync.Mutex
	leaderAddr string
}

// NewRouter builds a Router over manager. forwarder may be nil if this
// node never needs to forward (e.g. a single-node deployment or a test).
func NewRouter(manager *Manager, forwarder Forwarder) *Router {
	r := &Router{manager: manager, forwarder: forwarder}
	r.probe = func(ctx context.Context, addr string) bool {
		return NewPeerChecker(addr).Check(ctx).Healthy
	}
	return r
}

func (r *Router) cachedLeader() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaderAddr
}

func (r *Router) setCachedLeader(addr string) {
	r.mu.Lock()
	r.leaderAddr = addr
	r.mu.Unlock()
}

func (r *Router) clearCachedLeader() {
	r.mu.Lock()
	r.leaderAddr = ""
	r.mu.Unlock()
}

// WriteLocal applies mutations directly against this node's Raft
// instance. It returns CodeNotLeader if this node is not currently the
// leader, carrying the leader address the caller should retry against.
func (r *Router) WriteLocal(mutations []types.Mutation, timeout time.Duration) error {
	if !r.manager.IsLeader() {
		if addr := r.manager.LeaderAddr(); addr != "" {
			r.setCachedLeader(addr)
		}
		return latticeerr.NotLeader(r.manager.LeaderID(), r.manager.LeaderAddr())
	}
	return r.manager.Apply(mutations, timeout)
}

// Write is the router's top-level entry point: apply locally if this node
// is the leader, otherwise forward the pre-encoded request to the cached
// leader. On a forwarding failure the cache is cleared and the caller
// receives NoLeader naming the last known address.
func (r *Router) Write(ctx context.Context, encodedRequest []byte) ([]byte, error) {
	if r.manager.IsLeader() {
		return nil, latticeerr.New(latticeerr.CodeInternal, "local writes must use WriteLocal, not Write")
	}

	addr := r.cachedLeader()
	if addr == "" {
		addr = r.manager.LeaderAddr()
		if addr == "" {
			return nil, latticeerr.New(latticeerr.CodeNoLeader, "no known raft leader")
		}
		r.setCachedLeader(addr)
	}

	if r.forwarder == nil {
		return nil, latticeerr.New(latticeerr.CodeInternal, "router has no forwarder configured")
	}

	resp, err := r.forwarder.Forward(ctx, addr, encodedRequest)
	if err != nil {
		lastKnown := addr
		r.clearCachedLeader()
		wrapped := latticeerr.Wrap(latticeerr.CodeNoLeader, err, "forward to leader %s", lastKnown)
		wrapped.LeaderAddr = lastKnown
		return nil, wrapped
	}
	return resp, nil
}

// ProbeLeader runs the peer health probe against the cached leader address
// and clears the cache on failure, so the next Write re-resolves the
// leader from Raft rather than retrying a dead peer.
func (r *Router) ProbeLeader(ctx context.Context) bool {
	addr := r.cachedLeader()
	if addr == "" {
		return false
	}
	healthy := r.probe(ctx, addr)
	if !healthy {
		r.clearCachedLeader()
	}
	return healthy
}

// IsLeader reports whether this node is the current Raft leader, letting
// a caller choose between WriteLocal and Write without duplicating
// Manager's leadership check.
func (r *Router) IsLeader() bool {
	return r.manager.IsLeader()
}
