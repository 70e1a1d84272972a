package wire

import (
	"context"
	"io"
	"net"
	"time"

	hraft "github.com/hashicorp/raft"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/catalog"
	"github.com/cuemby/latticedb/pkg/changelog"
	"github.com/cuemby/latticedb/pkg/cluster"
	"github.com/cuemby/latticedb/pkg/log"
	"github.com/cuemby/latticedb/pkg/metrics"
	"github.com/cuemby/latticedb/pkg/query"
	"github.com/cuemby/latticedb/pkg/security"
	"github.com/cuemby/latticedb/pkg/types"
)

// idSource is the minimal storage surface Node needs for id allocation;
// satisfied by *storage.Engine.
type idSource interface {
	GenerateID() types.EntityID
}

// Node is the wire-protocol front door for one cluster member: it speaks
// the length-prefixed frame protocol over a net.Listener, dispatches
// decoded operations into the catalog, query engine, and cluster router,
// and gates every request through the security layer's capability check.
type Node struct {
	ServerID string

	Catalog *catalog.Catalog
	Engine  *query.Engine
	Store   idSource
	Changes *changelog.Log   // nil disables OpStreamChanges
	Router  *cluster.Router  // nil for a single-node deployment with no Raft
	Manager *cluster.Manager // nil for a single-node deployment with no Raft
	Guard   *security.Guard

	// DefaultBudget is applied to any query arriving with a zero fan-out
	// budget, so an unconfigured client still runs under the node's
	// configured ceiling rather than an unbounded one. The security layer's
	// per-caller ceiling (Guard.FilterQuery) narrows further on top.
	DefaultBudget types.FanOutBudget

	// Capabilities advertised at handshake time; unknown capabilities a
	// client presents are ignored rather than rejected.
	Capabilities []string
}

// Serve accepts connections on ln until it returns an error or ctx is
// cancelled, handling each connection on its own goroutine.
func (n *Node) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go n.handleConn(conn)
	}
}

func (n *Node) handleConn(conn net.Conn) {
	defer conn.Close()
	connLog := log.WithComponent("wire")

	clientHandshake, err := AcceptHandshake(conn, n.ServerID, n.Catalog.Current().Version, n.Capabilities)
	if err != nil {
		connLog.Warn().Err(err).Msg("handshake rejected")
		return
	}
	connLog.Debug().Str("client_id", clientHandshake.ClientID).Msg("client accepted")

	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			if err != io.EOF {
				connLog.Debug().Err(err).Msg("connection closed")
			}
			return
		}

		req, err := DecodeRequest(frame)
		if err != nil {
			connLog.Warn().Err(err).Msg("malformed request")
			return
		}

		ctx := security.ContextWithToken(context.Background(), req.Token)
		resp := n.dispatch(ctx, req)
		payload, err := EncodeResponse(resp)
		if err != nil {
			connLog.Error().Err(err).Msg("encode response")
			return
		}
		if err := WriteFrame(conn, payload); err != nil {
			connLog.Debug().Err(err).Msg("write response")
			return
		}
	}
}

func operationName(kind OperationKind) string {
	switch kind {
	case OpQuery:
		return "query"
	case OpMutate:
		return "mutate"
	case OpMutateBatch:
		return "mutate_batch"
	case OpGetSchema:
		return "get_schema"
	case OpPing:
		return "ping"
	case OpAddVoter:
		return "add_voter"
	case OpAddLearner:
		return "add_learner"
	case OpClusterInfo:
		return "cluster_info"
	case OpStreamChanges:
		return "stream_changes"
	default:
		return "unknown"
	}
}

// dispatch routes one decoded Request to its handler and always returns
// a Response, never an error: every failure is translated to a Response
// carrying a numeric registry code so the wire layer never leaks an
// internal Go error type.
func (n *Node) dispatch(ctx context.Context, req Request) Response {
	timer := metrics.NewTimer()
	opName := operationName(req.Operation.Kind)
	defer func() {
		timer.ObserveDurationVec(metrics.WireRequestDuration, opName)
	}()

	resp := n.dispatchOperation(ctx, req)
	resp.ID = req.ID
	resp.ServerSchemaVersion = n.Catalog.Current().Version

	status := "ok"
	if !resp.OK {
		status = resp.Status.String()
	}
	metrics.WireRequestsTotal.WithLabelValues(opName, status).Inc()
	return resp
}

func (n *Node) dispatchOperation(ctx context.Context, req Request) Response {
	switch req.Operation.Kind {
	case OpPing:
		return Response{OK: true}

	case OpGetSchema:
		bundle := n.Catalog.Current()
		return Response{OK: true, Schema: &bundle}

	case OpQuery:
		if req.Operation.Query == nil {
			return ErrorResponse(req.ID, latticeerr.New(latticeerr.CodeInvalidRequest, "query operation missing GraphQuery"))
		}
		gq := *req.Operation.Query
		if gq.Budget == (types.FanOutBudget{}) {
			gq.Budget = n.DefaultBudget
		}
		if n.Guard != nil {
			var err error
			gq, err = n.Guard.FilterQuery(ctx, gq)
			if err != nil {
				return ErrorResponse(req.ID, err)
			}
		}
		qTimer := metrics.NewTimer()
		result, _, err := n.Engine.Run(gq)
		qTimer.ObserveDuration(metrics.QueryExecuteDuration)
		if err != nil {
			if e, ok := latticeerr.As(err); ok && e.Code == latticeerr.CodeBudgetExceeded {
				metrics.QueryBudgetExceededTotal.Inc()
			}
			return ErrorResponse(req.ID, err)
		}
		return Response{OK: true, QueryResult: &result}

	case OpMutate:
		if req.Operation.Mutation == nil {
			return ErrorResponse(req.ID, latticeerr.New(latticeerr.CodeInvalidRequest, "mutate operation missing Mutation"))
		}
		return n.applyMutations(ctx, req, []types.Mutation{*req.Operation.Mutation})

	case OpMutateBatch:
		return n.applyMutations(ctx, req, req.Operation.Mutations)

	case OpAddVoter, OpAddLearner:
		if err := n.Guard.CheckWriteOrNil(ctx); err != nil {
			return ErrorResponse(req.ID, err)
		}
		if req.Operation.AddServer == nil {
			return ErrorResponse(req.ID, latticeerr.New(latticeerr.CodeInvalidRequest, "add-server operation missing AddServer"))
		}
		if n.Manager == nil {
			return ErrorResponse(req.ID, latticeerr.New(latticeerr.CodeInternal, "node has no cluster manager configured"))
		}
		as := req.Operation.AddServer
		var err error
		if req.Operation.Kind == OpAddVoter {
			err = n.Manager.AddVoter(as.NodeID, as.Address)
		} else {
			err = n.Manager.AddLearner(as.NodeID, as.Address)
		}
		if err != nil {
			return ErrorResponse(req.ID, err)
		}
		return Response{OK: true}

	case OpStreamChanges:
		if err := n.Guard.CheckQuery(ctx); err != nil {
			return ErrorResponse(req.ID, err)
		}
		sc := req.Operation.StreamChanges
		if sc == nil {
			return ErrorResponse(req.ID, latticeerr.New(latticeerr.CodeInvalidRequest, "stream-changes operation missing request"))
		}
		if n.Changes == nil {
			return ErrorResponse(req.ID, latticeerr.New(latticeerr.CodeInternal, "node has no change log configured"))
		}
		limit := sc.Limit
		if limit <= 0 || limit > 4096 {
			limit = 4096
		}
		var entitySet map[string]bool
		if len(sc.EntityFilter) > 0 {
			entitySet = make(map[string]bool, len(sc.EntityFilter))
			for _, e := range sc.EntityFilter {
				entitySet[e] = true
			}
		}
		entries, hasMore, err := n.Changes.ScanFiltered(sc.FromLSN, limit, entitySet)
		if err != nil {
			return ErrorResponse(req.ID, err)
		}
		nextLSN := sc.FromLSN
		if len(entries) > 0 {
			nextLSN = entries[len(entries)-1].LSN + 1
		}
		return Response{OK: true, Changes: entries, NextLSN: nextLSN, HasMore: hasMore}

	case OpClusterInfo:
		if n.Manager == nil {
			return ErrorResponse(req.ID, latticeerr.New(latticeerr.CodeInternal, "node has no cluster manager configured"))
		}
		servers, err := n.Manager.Servers()
		if err != nil {
			return ErrorResponse(req.ID, err)
		}
		info := &ClusterInfo{
			LeaderID:   n.Manager.LeaderID(),
			LeaderAddr: n.Manager.LeaderAddr(),
		}
		for _, s := range servers {
			info.Servers = append(info.Servers, ClusterServer{
				ID:      string(s.ID),
				Address: string(s.Address),
				Voter:   s.Suffrage == hraft.Voter,
			})
		}
		return Response{OK: true, Cluster: info}

	default:
		return ErrorResponse(req.ID, latticeerr.New(latticeerr.CodeInvalidRequest, "unknown operation kind %d", req.Operation.Kind))
	}
}

// applyMutations assigns leader-side defaults, then either applies the
// mutations against this node's own Raft instance (WriteLocal, when it is
// the leader) or forwards the original request unchanged to the cached
// leader (Router.Write) so id/timestamp assignment is only ever redone
// once, by whichever node is the actual leader at the time.
func (n *Node) applyMutations(ctx context.Context, req Request, mutations []types.Mutation) Response {
	if n.Guard != nil {
		if err := n.Guard.CheckWrite(ctx); err != nil {
			return ErrorResponse(req.ID, err)
		}
	}

	if n.Router == nil {
		return ErrorResponse(req.ID, latticeerr.New(latticeerr.CodeInternal, "node has no cluster router configured"))
	}

	if n.Router.IsLeader() {
		assignMutationDefaults(mutations, n.Store)
		applyTimer := metrics.NewTimer()
		err := n.Router.WriteLocal(mutations, 10*time.Second)
		applyTimer.ObserveDuration(metrics.RaftApplyDuration)
		if err != nil {
			return ErrorResponse(req.ID, err)
		}
		return Response{OK: true}
	}

	encoded, err := EncodeRequest(req)
	if err != nil {
		return ErrorResponse(req.ID, err)
	}
	payload, err := n.Router.Write(ctx, encoded)
	if err != nil {
		return ErrorResponse(req.ID, err)
	}
	resp, err := DecodeResponse(payload)
	if err != nil {
		return ErrorResponse(req.ID, err)
	}
	return resp
}

// assignMutationDefaults allocates an EntityID for any insert that
// arrived without one and stamps a VersionTS for any mutation missing
// one, before the batch ever reaches Raft. Leader-side id and timestamp
// allocation keeps replication deterministic: once the mutation is inside
// a Command, StateMachine.Apply never generates either value itself.
func assignMutationDefaults(mutations []types.Mutation, store idSource) {
	now := uint64(time.Now().UnixMicro())
	for i := range mutations {
		if mutations[i].Op == types.MutationInsert && mutations[i].EntityID.IsNil() {
			mutations[i].EntityID = store.GenerateID()
		}
		if mutations[i].VersionTS == 0 {
			mutations[i].VersionTS = now
		}
	}
}
