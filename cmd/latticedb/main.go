// Command latticedb boots one node: the storage engine, catalog, change
// log, compaction scheduler, query engine, and the cluster manager, all
// served over the wire protocol in pkg/wire.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/latticedb/pkg/catalog"
	"github.com/cuemby/latticedb/pkg/changelog"
	"github.com/cuemby/latticedb/pkg/cluster"
	"github.com/cuemby/latticedb/pkg/compaction"
	"github.com/cuemby/latticedb/pkg/log"
	"github.com/cuemby/latticedb/pkg/metrics"
	"github.com/cuemby/latticedb/pkg/query"
	"github.com/cuemby/latticedb/pkg/security"
	"github.com/cuemby/latticedb/pkg/storage"
	"github.com/cuemby/latticedb/pkg/wire"
)

var (
	// Version information (set via ldflags during build).
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "latticedb",
	Short: "latticedb - an embeddable entity-relational database",
	Long: `latticedb is an embeddable, entity-relational database: a
versioned key-value storage engine, a typed catalog, a graph-style query
executor, a plan cache, and a Raft-replicated write path, all served over
one TCP node.`,
	Version: Version,
}

var configPath string

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"latticedb version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to node YAML config (optional, defaults are used for anything absent)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a latticedb node",
	Long: `Start a latticedb node: open storage, bring up the query engine,
start Raft (bootstrapping a new single-node cluster only when --bootstrap
is given, otherwise starting without bootstrap to await admission by a
leader), and serve the wire protocol.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("bootstrap", false, "Bootstrap a brand-new single-node cluster (only valid against an empty log)")
	serveCmd.Flags().String("join-addr", "", "Address of an existing leader to request admission from (skips bootstrap)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	bootstrap, _ := cmd.Flags().GetBool("bootstrap")
	joinAddr, _ := cmd.Flags().GetString("join-addr")

	nodeLog := log.WithNodeID(cfg.NodeID)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	cat, err := catalog.Open(store.DB())
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}

	clog, err := changelog.OpenFromEngine(store)
	if err != nil {
		return fmt.Errorf("open change log: %w", err)
	}

	broker := changelog.NewBroker(5 * time.Second)
	defer broker.Stop()
	bridge := changelog.NewBridge(clog, broker, time.Second)
	if err := bridge.Start(); err != nil {
		return fmt.Errorf("start cdc bridge: %w", err)
	}
	defer bridge.Stop()

	planner := query.NewPlanner(query.MapStats{})
	cache := query.NewPlanCache(cfg.PlanCacheSize)
	executor := query.NewExecutor(store)
	engine := query.NewEngine(cat, planner, cache, executor)

	compactionEngine := compaction.NewEngine(store, cfg.retentionPolicy())
	scheduler := compaction.NewScheduler(compactionEngine, cfg.Retention.Interval)
	scheduler.Start()
	defer scheduler.Stop()
	nodeLog.Info().Msg("compaction scheduler started")

	// Raft is always started, even for a single node: the state machine
	// (pkg/raft) is the only path writes reach storage through, so a node
	// with no Raft instance would have no way to apply a mutation at all.
	// A single-node deployment is simply a one-member Raft cluster that
	// always elects itself leader.
	mgr, err := cluster.NewManager(cluster.Config{
		NodeID:             cfg.NodeID,
		BindAddr:           cfg.RaftAddr,
		DataDir:            cfg.DataDir,
		HeartbeatTimeout:   cfg.Raft.HeartbeatTimeout,
		ElectionTimeout:    cfg.Raft.ElectionTimeout,
		CommitTimeout:      cfg.Raft.CommitTimeout,
		LeaderLeaseTimeout: cfg.Raft.LeaderLeaseTimeout,
		SnapshotThreshold:  cfg.Raft.SnapshotThreshold,
		SnapshotInterval:   cfg.Raft.SnapshotInterval,
	}, store, clog)
	if err != nil {
		return fmt.Errorf("start raft: %w", err)
	}
	defer mgr.Shutdown()

	switch {
	case bootstrap:
		if err := mgr.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
		nodeLog.Info().Msg("bootstrapped single-node cluster")
	case joinAddr != "":
		if err := mgr.JoinAsFollower(); err != nil {
			return fmt.Errorf("join as follower: %w", err)
		}
		nodeLog.Info().Str("leader_hint", joinAddr).Msg("started as follower, awaiting admission")
	default:
		if err := mgr.JoinAsFollower(); err != nil {
			return fmt.Errorf("start raft: %w", err)
		}
		nodeLog.Warn().Msg("raft started with neither --bootstrap nor --join-addr; this node will not join any cluster until an operator calls AddVoter/AddLearner against a leader")
	}

	forwarder := wire.NewTCPForwarder(cfg.NodeID)
	router := cluster.NewRouter(mgr, forwarder)

	tokens := security.NewTokenManager()
	guard := security.NewGuard(tokens)

	node := &wire.Node{
		ServerID:      cfg.NodeID,
		Catalog:       cat,
		Engine:        engine,
		Store:         store,
		Changes:       clog,
		Router:        router,
		Manager:       mgr,
		Guard:         guard,
		Capabilities:  []string{"v1"},
		DefaultBudget: cfg.fanOutBudget(),
	}

	collector := metrics.NewCollector(store, cache, mgr, 0)
	collector.Start()
	defer collector.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				nodeLog.Error().Err(err).Msg("metrics server error")
			}
		}()
		go func() {
			<-ctx.Done()
			metricsSrv.Close()
		}()
		nodeLog.Info().Str("addr", cfg.MetricsAddr).Msg("metrics endpoint listening")
	}

	ln, err := net.Listen("tcp", cfg.WireAddr)
	if err != nil {
		return fmt.Errorf("listen wire: %w", err)
	}
	nodeLog.Info().Str("addr", cfg.WireAddr).Msg("wire protocol listening")

	return node.Serve(ctx, ln)
}
