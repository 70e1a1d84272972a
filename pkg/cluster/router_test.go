package cluster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/latticedb/pkg/changelog"
	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/storage"
)

type fakeForwarder struct {
	response []byte
	err      error
	calls    int
}

func (f *fakeForwarder) Forward(ctx context.Context, addr string, payload []byte) ([]byte, error) {
	f.calls++
	return f.response, f.err
}

func newRouterUnderTest(t *testing.T, forwarder Forwarder) *Router {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	clog, err := changelog.OpenFromEngine(store)
	require.NoError(t, err)

	m, err := NewManager(Config{NodeID: "node-1", BindAddr: freeAddr(t), DataDir: t.TempDir()}, store, clog)
	require.NoError(t, err)
	return NewRouter(m, forwarder)
}

func TestWriteReturnsNoLeaderWithoutCachedOrRaftLeader(t *testing.T) {
	r := newRouterUnderTest(t, &fakeForwarder{})
	_, err := r.Write(context.Background(), []byte("req"))
	require.Error(t, err)
	lerr, ok := latticeerr.As(err)
	require.True(t, ok)
	assert.Equal(t, latticeerr.CodeNoLeader, lerr.Code)
}

func TestWriteForwardsToCachedLeaderAndReturnsResponse(t *testing.T) {
	fwd := &fakeForwarder{response: []byte("ok")}
	r := newRouterUnderTest(t, fwd)
	r.setCachedLeader("127.0.0.1:9000")

	resp, err := r.Write(context.Background(), []byte("req"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), resp)
	assert.Equal(t, 1, fwd.calls)
}

func TestWriteClearsCacheOnForwardFailure(t *testing.T) {
	fwd := &fakeForwarder{err: errors.New("connection refused")}
	r := newRouterUnderTest(t, fwd)
	r.setCachedLeader("127.0.0.1:9000")

	_, err := r.Write(context.Background(), []byte("req"))
	require.Error(t, err)
	lerr, ok := latticeerr.As(err)
	require.True(t, ok)
	assert.Equal(t, latticeerr.CodeNoLeader, lerr.Code)
	assert.Equal(t, "127.0.0.1:9000", lerr.LeaderAddr)
	assert.Equal(t, "", r.cachedLeader())
}

func TestWriteLocalReturnsNotLeaderWhenRaftUnstarted(t *testing.T) {
	r := newRouterUnderTest(t, nil)
	err := r.WriteLocal(nil, 0)
	require.Error(t, err)
	lerr, ok := latticeerr.As(err)
	require.True(t, ok)
	assert.Equal(t, latticeerr.CodeNotLeader, lerr.Code)
}

func TestProbeLeaderClearsCacheOnUnhealthyPeer(t *testing.T) {
	r := newRouterUnderTest(t, nil)
	r.setCachedLeader("127.0.0.1:1")
	r.probe = func(ctx context.Context, addr string) bool { return false }

	assert.False(t, r.ProbeLeader(context.Background()))
	assert.Equal(t, "", r.cachedLeader())
}
