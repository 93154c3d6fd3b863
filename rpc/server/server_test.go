package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dBucket/lib/env"
	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/ValentinKolb/dBucket/rpc/client"
	"github.com/ValentinKolb/dBucket/rpc/common"
	"github.com/ValentinKolb/dBucket/rpc/serializer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	waitFor = 5 * time.Second
	pollAt  = 10 * time.Millisecond
)

func testConfig() common.ServerConfig {
	return common.ServerConfig{
		LogLevel:         "error",
		CoordinatorID:    1,
		DesiredFreeSlots: 60,
		ShardCapacity:    20,
		Strategy:         "balanced",
		Controllers:      []string{"admin"},
		TickInterval:     10 * time.Millisecond,
		ReindexInterval:  10 * time.Millisecond,
		RebuildInterval:  10 * time.Millisecond,
		CallTimeout:      time.Second,
	}
}

// startServer starts a host without a network listener
func startServer(t *testing.T, config common.ServerConfig) *RPCServer {
	t.Helper()
	s := NewRPCServer(config, nil, serializer.NewBinarySerializer())
	require.NoError(t, s.Start())
	return s
}

func connect(t *testing.T, s *RPCServer, caller string) *client.RPCClient {
	t.Helper()
	c, err := client.NewRPCClient(1, common.ClientConfig{Caller: caller, Timeout: time.Second},
		s.LocalTransport(), serializer.NewBinarySerializer())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitForShards(t *testing.T, c *client.RPCClient, n int) []types.NodeID {
	t.Helper()
	var shards []types.NodeID
	require.Eventually(t, func() bool {
		var err error
		shards, err = c.Coordinator.AllShards(context.Background())
		return err == nil && len(shards) == n
	}, waitFor, pollAt)
	return shards
}

func TestHostProvisionsShardsForDesiredCapacity(t *testing.T) {
	s := startServer(t, testConfig())
	defer func() { require.NoError(t, s.Stop(context.Background())) }()

	c := connect(t, s, "alice")
	shards := waitForShards(t, c, 3)
	assert.Equal(t, []types.NodeID{2, 3, 4}, shards)

	for _, id := range shards {
		_, ok := s.Shard(id)
		assert.True(t, ok, "shard %d should be running", id)
	}

	// planned plus free capacity covers the target, nothing else is provisioned
	time.Sleep(100 * time.Millisecond)
	after, err := c.Coordinator.AllShards(context.Background())
	require.NoError(t, err)
	assert.Len(t, after, 3)
}

func TestHostPostAndFetch(t *testing.T) {
	s := startServer(t, testConfig())
	defer func() { require.NoError(t, s.Stop(context.Background())) }()

	alice := connect(t, s, "alice")
	bob := connect(t, s, "bob")
	anon := connect(t, s, "")
	waitForShards(t, alice, 3)

	ctx := context.Background()
	_, err := alice.Post(ctx, "cats", "alice's cat")
	require.NoError(t, err)
	_, err = anon.Post(ctx, "cats", "everyone's cat")
	require.NoError(t, err)

	// the tag map catches up after the shard published its summary
	require.Eventually(t, func() bool {
		entries, err := alice.Fetch(ctx, "cats")
		return err == nil && len(entries) == 2
	}, waitFor, pollAt)

	entries, err := bob.Fetch(ctx, "cats")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "everyone's cat", entries[0].Body)
	assert.Equal(t, types.Anonymous, entries[0].SubmittedBy)

	rows, err := alice.Coordinator.GlobalIndex(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "cats", rows[0].Tag)

	_, err = alice.Post(ctx, "", "no tag")
	assert.Error(t, err)
}

func TestHostModeratorPropagation(t *testing.T) {
	s := startServer(t, testConfig())
	defer func() { require.NoError(t, s.Stop(context.Background())) }()

	admin := connect(t, s, "admin")
	mod := connect(t, s, "mod")
	shards := waitForShards(t, admin, 3)
	ctx := context.Background()

	_, err := mod.Shards.ListAll(ctx, shards[0])
	assert.True(t, errors.Is(err, client.ErrRemote), "expected a remote error, got %v", err)

	_, err = mod.Coordinator.AddModerator(ctx, "mod")
	assert.True(t, errors.Is(err, client.ErrRemote), "only controllers may add moderators")

	ok, err := admin.Coordinator.AddModerator(ctx, "mod")
	require.NoError(t, err)
	require.True(t, ok)

	for _, id := range shards {
		require.Eventually(t, func() bool {
			_, err := mod.Shards.ListAll(ctx, id)
			return err == nil
		}, waitFor, pollAt, "shard %d never received the moderator", id)
	}
}

func TestHostStrategyAndCapacity(t *testing.T) {
	s := startServer(t, testConfig())
	defer func() { require.NoError(t, s.Stop(context.Background())) }()

	admin := connect(t, s, "admin")
	shards := waitForShards(t, admin, 3)
	ctx := context.Background()

	ok, err := admin.Coordinator.SetStrategy(ctx, "fill-first")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "fill-first", s.Coordinator().Strategy().String())

	_, err = admin.Coordinator.SetStrategy(ctx, "random")
	assert.Error(t, err)

	ok, err = admin.Shards.SetCapacity(ctx, shards[0], 50)
	require.NoError(t, err)
	assert.True(t, ok)

	// the published summary follows the capacity on the next reindex
	require.Eventually(t, func() bool {
		summary, err := admin.Shards.Summary(ctx, shards[0])
		return err == nil && summary.MaxEntries == 50
	}, waitFor, pollAt, "summary of shard %d never reported the new capacity", shards[0])

	report, err := admin.Shards.Metrics(ctx, shards[0])
	require.NoError(t, err)
	assert.Contains(t, report, fmt.Sprintf("SHARD %d", shards[0]))

	report, err = admin.Coordinator.Metrics(ctx)
	require.NoError(t, err)
	assert.Contains(t, report, "PROVISIONING")
}

func TestHostUnknownNode(t *testing.T) {
	s := startServer(t, testConfig())
	defer func() { require.NoError(t, s.Stop(context.Background())) }()

	c := connect(t, s, "alice")
	_, err := c.Shards.Summary(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, client.ErrRemote))
	assert.Contains(t, err.Error(), "node 999 not found")
}

func TestHostProvisionerLifecycle(t *testing.T) {
	s := startServer(t, testConfig())
	defer func() { require.NoError(t, s.Stop(context.Background())) }()
	waitForShards(t, connect(t, s, "alice"), 3)

	p := &hostProvisioner{server: s}
	ctx := context.Background()

	id, err := p.CreateInstance(ctx, env.InstanceSettings{Controllers: []types.Identity{types.NodeIdentity(1)}})
	require.NoError(t, err)
	assert.Greater(t, uint64(id), uint64(4))

	// an empty instance answers with an error until it is installed
	c := connect(t, s, "alice")
	_, err = c.Shards.Summary(ctx, id)
	assert.ErrorContains(t, err, "not installed")

	require.NoError(t, p.DeleteInstance(ctx, id))
	_, err = c.Shards.Summary(ctx, id)
	assert.ErrorContains(t, err, "not found")

	assert.Error(t, p.DeleteInstance(ctx, 1), "the coordinator cannot be deleted")
	_, err = p.Install(ctx, id, env.InstallArgs{Coordinator: 1, MaxEntries: 20})
	assert.Error(t, err, "a deleted instance cannot be installed")
}

func TestHostInstalledShardWaitsForActivation(t *testing.T) {
	s := startServer(t, testConfig())
	defer func() { require.NoError(t, s.Stop(context.Background())) }()
	waitForShards(t, connect(t, s, "alice"), 3)

	p := &hostProvisioner{server: s}
	ctx := context.Background()

	id, err := p.CreateInstance(ctx, env.InstanceSettings{Controllers: []types.Identity{types.NodeIdentity(1)}})
	require.NoError(t, err)
	assert.ErrorContains(t, p.Activate(ctx, id), "not installed")

	ok, err := p.Install(ctx, id, env.InstallArgs{Coordinator: 1, MaxEntries: 20})
	require.NoError(t, err)
	require.True(t, ok)

	_, running := s.schedulers.Load(uint64(id))
	assert.False(t, running, "an installed shard must not tick before activation")
	_, err = connect(t, s, "alice").Shards.Summary(ctx, id)
	assert.NoError(t, err, "an installed shard serves requests before activation")

	require.NoError(t, p.Activate(ctx, id))
	_, running = s.schedulers.Load(uint64(id))
	assert.True(t, running)
	require.NoError(t, p.Activate(ctx, id), "activating twice is a no-op")

	require.NoError(t, p.DeleteInstance(ctx, id))
	_, running = s.schedulers.Load(uint64(id))
	assert.False(t, running)
}

func TestHostSnapshotRestore(t *testing.T) {
	config := testConfig()
	config.SnapshotPath = filepath.Join(t.TempDir(), "state.snap")

	s := startServer(t, config)
	alice := connect(t, s, "alice")
	shards := waitForShards(t, alice, 3)
	ctx := context.Background()

	shardID, err := alice.Post(ctx, "dogs", "a good dog")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ids, err := alice.Coordinator.Lookup(ctx, "dogs")
		return err == nil && len(ids) == 1
	}, waitFor, pollAt)
	require.NoError(t, s.Stop(ctx))

	restored := startServer(t, config)
	defer func() { require.NoError(t, restored.Stop(context.Background())) }()

	// the used slot makes the coordinator plan one more shard, the old ones stay
	again := connect(t, restored, "alice")
	after, err := again.Coordinator.AllShards(ctx)
	require.NoError(t, err)
	assert.Subset(t, after, shards)

	entries, err := again.Fetch(ctx, "dogs")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a good dog", entries[0].Body)

	sh, ok := restored.Shard(shardID)
	require.True(t, ok)
	assert.Equal(t, uint64(1), sh.Summary().CurrentEntries)

	// new instances never reuse an id
	assert.GreaterOrEqual(t, restored.nextID.Load(), uint64(4))
}

func TestHostMetricsEndpoint(t *testing.T) {
	config := testConfig()
	config.MetricsEndpoint = "127.0.0.1:0"
	s := startServer(t, config)
	defer func() { require.NoError(t, s.Stop(context.Background())) }()
	waitForShards(t, connect(t, s, "alice"), 3)

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", s.metrics.addr))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)

	assert.Contains(t, string(body), "dbucket_shards 3")
	assert.Contains(t, string(body), "dbucket_shards_provisioned_total 3")
	http.DefaultClient.CloseIdleConnections()
}
