// Package cluster is the Raft cluster manager and leader-forward router.
// It owns the hashicorp/raft.Raft instance, the state machine from
// pkg/raft, and the log/stable/snapshot stores, and exposes the small
// surface the wire server needs to accept writes on any node while only
// the leader actually commits them.
package cluster

import (
	"fmt"
	"net"
	"os"
	"time"

	hraft "github.com/hashicorp/raft"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/changelog"
	raftadapt "github.com/cuemby/latticedb/pkg/raft"
	"github.com/cuemby/latticedb/pkg/storage"
	"github.com/cuemby/latticedb/pkg/types"
)

// Config holds the configuration needed to stand up a cluster node. The
// Raft timing fields default to tuned values (see applyDefaults) when
// left zero.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string

	HeartbeatTimeout   time.Duration
	ElectionTimeout    time.Duration
	CommitTimeout      time.Duration
	LeaderLeaseTimeout time.Duration

	SnapshotThreshold uint64
	SnapshotInterval  time.Duration
}

func (c *Config) applyDefaults() {
	// Reduced from the hashicorp/raft library defaults (1s/1s/500ms) to
	// target sub-10s failover on a LAN/edge deployment rather than a WAN
	// one.
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 500 * time.Millisecond
	}
	if c.ElectionTimeout == 0 {
		c.ElectionTimeout = 500 * time.Millisecond
	}
	if c.CommitTimeout == 0 {
		c.CommitTimeout = 50 * time.Millisecond
	}
	if c.LeaderLeaseTimeout == 0 {
		c.LeaderLeaseTimeout = 250 * time.Millisecond
	}
	if c.SnapshotThreshold == 0 {
		c.SnapshotThreshold = 8192
	}
	if c.SnapshotInterval == 0 {
		c.SnapshotInterval = 2 * time.Minute
	}
}

// Manager holds the Raft instance for one node plus the storage engine
// and change log the state machine applies against.
type Manager struct {
	cfg   Config
	raft  *hraft.Raft
	fsm   *raftadapt.StateMachine
	store *storage.Engine
	log   *changelog.Log

	logStore    *raftadapt.LogStore
	stableStore hraft.StableStore
}

// NewManager wires the storage engine, change log, and raft state machine
// together but does not start Raft; call Bootstrap or JoinAsFollower next.
func NewManager(cfg Config, store *storage.Engine, clog *changelog.Log) (*Manager, error) {
	cfg.applyDefaults()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "create data dir %s", cfg.DataDir)
	}
	return &Manager{
		cfg:   cfg,
		fsm:   raftadapt.NewStateMachine(store, clog),
		store: store,
		log:   clog,
	}, nil
}

func (m *Manager) raftConfig() *hraft.Config {
	c := hraft.DefaultConfig()
	c.LocalID = hraft.ServerID(m.cfg.NodeID)
	c.HeartbeatTimeout = m.cfg.HeartbeatTimeout
	c.ElectionTimeout = m.cfg.ElectionTimeout
	c.CommitTimeout = m.cfg.CommitTimeout
	c.LeaderLeaseTimeout = m.cfg.LeaderLeaseTimeout
	c.SnapshotThreshold = m.cfg.SnapshotThreshold
	c.SnapshotInterval = m.cfg.SnapshotInterval
	return c
}

// start builds the transport, snapshot store, log/stable stores and the
// hraft.Raft instance, shared by Bootstrap and JoinAsFollower.
func (m *Manager) start() error {
	addr, err := net.ResolveTCPAddr("tcp", m.cfg.BindAddr)
	if err != nil {
		return latticeerr.Wrap(latticeerr.CodeInvalidRequest, err, "resolve bind address %s", m.cfg.BindAddr)
	}
	transport, err := hraft.NewTCPTransport(m.cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return latticeerr.Wrap(latticeerr.CodeInternal, err, "create raft transport")
	}

	snapshotStore, err := hraft.NewFileSnapshotStore(m.cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return latticeerr.Wrap(latticeerr.CodeStorageIO, err, "create snapshot store")
	}

	logStore, err := raftadapt.OpenLogStore(m.cfg.DataDir)
	if err != nil {
		return err
	}
	stableStore, err := raftadapt.OpenStableStore(m.cfg.DataDir)
	if err != nil {
		return err
	}
	m.logStore = logStore
	m.stableStore = stableStore

	r, err := hraft.NewRaft(m.raftConfig(), m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return latticeerr.Wrap(latticeerr.CodeInternal, err, "create raft instance")
	}
	m.raft = r
	return nil
}

// Bootstrap initializes a brand new single-node cluster. It must only
// succeed against an empty log; hraft.Raft.BootstrapCluster enforces that
// itself.
func (m *Manager) Bootstrap() error {
	if err := m.start(); err != nil {
		return err
	}
	configuration := hraft.Configuration{
		Servers: []hraft.Server{
			{ID: hraft.ServerID(m.cfg.NodeID), Address: hraft.ServerAddress(m.cfg.BindAddr)},
		},
	}
	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return latticeerr.Wrap(latticeerr.CodeInternal, err, "bootstrap cluster")
	}
	return nil
}

// JoinAsFollower starts Raft on this node without bootstrapping or
// self-adding; the caller is expected to have already asked the leader (via
// AddVoter or AddLearner on that leader's Manager, typically reached
// through the router's Forwarder) to admit this node's ID and BindAddr.
func (m *Manager) JoinAsFollower() error {
	return m.start()
}

// AddVoter admits a new voting member. Only the leader may call this
// successfully; hraft.Raft itself rejects the call otherwise.
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return latticeerr.New(latticeerr.CodeInternal, "raft not started")
	}
	future := m.raft.AddVoter(hraft.ServerID(nodeID), hraft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return latticeerr.Wrap(latticeerr.CodeInternal, err, "add voter %s", nodeID)
	}
	return nil
}

// AddLearner admits a new non-voting member.
func (m *Manager) AddLearner(nodeID, address string) error {
	if m.raft == nil {
		return latticeerr.New(latticeerr.CodeInternal, "raft not started")
	}
	future := m.raft.AddNonvoter(hraft.ServerID(nodeID), hraft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return latticeerr.Wrap(latticeerr.CodeInternal, err, "add learner %s", nodeID)
	}
	return nil
}

// RemoveServer removes a member (voter or learner) from the cluster.
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return latticeerr.New(latticeerr.CodeInternal, "raft not started")
	}
	future := m.raft.RemoveServer(hraft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return latticeerr.Wrap(latticeerr.CodeInternal, err, "remove server %s", nodeID)
	}
	return nil
}

// IsLeader reports whether this node currently holds Raft leadership.
func (m *Manager) IsLeader() bool {
	return m.raft != nil && m.raft.State() == hraft.Leader
}

// LeaderAddr returns the address of the current Raft leader, or "" if
// none is known.
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	addr, _ := m.raft.LeaderWithID()
	return string(addr)
}

// LeaderID returns the server ID of the current leader, or "" if none is
// known.
func (m *Manager) LeaderID() string {
	if m.raft == nil {
		return ""
	}
	_, id := m.raft.LeaderWithID()
	return string(id)
}

// Servers returns the current Raft membership.
func (m *Manager) Servers() ([]hraft.Server, error) {
	if m.raft == nil {
		return nil, latticeerr.New(latticeerr.CodeInternal, "raft not started")
	}
	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, latticeerr.Wrap(latticeerr.CodeInternal, err, "get configuration")
	}
	return future.Configuration().Servers, nil
}

// Stats exposes Raft runtime counters for operational visibility and for
// pkg/metrics' sampling loop.
func (m *Manager) Stats() map[string]any {
	if m.raft == nil {
		return nil
	}
	stats := map[string]any{
		"state":          m.raft.State().String(),
		"last_log_index": m.raft.LastIndex(),
		"applied_index":  m.raft.AppliedIndex(),
		"leader":         m.LeaderAddr(),
	}
	if servers, err := m.Servers(); err == nil {
		stats["peers"] = uint64(len(servers))
	}
	return stats
}

// Apply submits a batch of mutations as one Raft log entry and waits for
// it to commit. It must only be called on the leader; callers should route
// through Router.Write instead of calling this directly from a follower.
func (m *Manager) Apply(mutations []types.Mutation, timeout time.Duration) error {
	// IsLeader is false when Raft is not started, so that case also
	// answers NotLeader.
	if !m.IsLeader() {
		return latticeerr.NotLeader(m.LeaderID(), m.LeaderAddr())
	}
	data, err := raftadapt.EncodeCommand(raftadapt.Command{Kind: raftadapt.CommandMutate, Mutations: mutations})
	if err != nil {
		return err
	}
	future := m.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if err == hraft.ErrNotLeader || err == hraft.ErrLeadershipLost {
			return latticeerr.NotLeader(m.LeaderID(), m.LeaderAddr())
		}
		return latticeerr.Wrap(latticeerr.CodeTimeout, err, "apply raft command")
	}
	if resp := future.Response(); resp != nil {
		if applyErr, ok := resp.(error); ok && applyErr != nil {
			return fmt.Errorf("state machine apply failed: %w", applyErr)
		}
	}
	return nil
}

// Shutdown stops Raft and closes the log/stable stores this manager opened.
func (m *Manager) Shutdown() error {
	if m.raft == nil {
		return nil
	}
	if err := m.raft.Shutdown().Error(); err != nil {
		return latticeerr.Wrap(latticeerr.CodeInternal, err, "shutdown raft")
	}
	if m.logStore != nil {
		if err := m.logStore.Close(); err != nil {
			return err
		}
	}
	if c, ok := m.stableStore.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
