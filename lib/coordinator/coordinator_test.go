package coordinator

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dBucket/lib/env/envtest"
	"github.com/ValentinKolb/dBucket/lib/placement"
	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	clock       *envtest.Clock
	tokens      *envtest.Tokens
	shards      *envtest.ShardClient
	provisioner *envtest.Provisioner
	c           *Coordinator
}

func newFixture(desiredFreeSlots uint64) *fixture {
	f := &fixture{
		clock:       envtest.NewClock(),
		tokens:      &envtest.Tokens{},
		shards:      envtest.NewShardClient(),
		provisioner: &envtest.Provisioner{FirstID: 100},
	}
	f.c = New(Config{
		ID:               1,
		DesiredFreeSlots: desiredFreeSlots,
		ShardCapacity:    20,
		RebuildInterval:  5 * time.Second,
		Controllers:      []types.Identity{"admin"},
	}, f.clock, f.tokens, f.shards, f.provisioner)
	return f
}

// seed makes a shard known as if it had been installed earlier
func (f *fixture) seed(id types.NodeID, idx types.EffectiveIndex) {
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	f.c.index.Ingest(id, idx)
}

func (f *fixture) tick() { f.c.Tick(context.Background()) }

func TestCoordinatorBootstrapsToDesiredCapacity(t *testing.T) {
	f := newFixture(60)
	for i := 0; i < 5; i++ {
		f.tick()
	}

	assert.Equal(t, []types.NodeID{100, 101, 102}, f.c.AllShards())
	assert.Len(t, f.provisioner.Created(), 3, "no shard beyond the desired free capacity")
	m := f.c.Metrics()
	assert.Equal(t, uint64(60), m.FreeSlots)
	assert.Equal(t, uint64(0), m.PlannedCapacity)
	assert.Equal(t, uint64(3), m.Provisioned)

	args, ok := f.provisioner.Installed(101)
	require.True(t, ok)
	assert.Equal(t, types.NodeID(1), args.Coordinator)
	assert.Equal(t, uint64(20), args.MaxEntries)
}

func TestCoordinatorPlansAgainstFreeSlots(t *testing.T) {
	f := newFixture(60)
	f.seed(10, summary(0, 40))

	f.tick()
	assert.Len(t, f.provisioner.Created(), 1)
	f.tick()
	assert.Len(t, f.provisioner.Created(), 1, "40 free + 20 installed meets 60")

	// the shard fills up, its summary lowers the free slots and planning resumes
	_, err := f.c.PushSummary(types.NodeIdentity(10), 10, summary(30, 40, "t"))
	require.NoError(t, err)
	f.tick()
	assert.Len(t, f.provisioner.Created(), 2)
}

func TestCoordinatorAtMostOneProvisioningJob(t *testing.T) {
	f := newFixture(60)
	held := f.provisioner.Creates.Hold()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.tick()
	}()
	<-held.Entered()

	// overlapping ticks plan more jobs but never claim a second one
	for i := 0; i < 3; i++ {
		f.tick()
		f.c.mu.Lock()
		inFlight := f.c.plan.InFlight()
		f.c.mu.Unlock()
		require.Equal(t, 1, inFlight)
	}
	assert.Equal(t, 1, f.provisioner.Creates.Calls())

	jobs := f.c.Metrics().Jobs
	require.Len(t, jobs, 3)
	assert.Equal(t, JobProvisioning, jobs[0].Status)
	assert.Equal(t, JobNew, jobs[1].Status)

	held.Resolve(true, nil)
	wg.Wait()
	assert.Equal(t, []types.NodeID{100}, f.c.AllShards())
	assert.Equal(t, JobInstalled, f.c.Metrics().Jobs[0].Status)
}

func TestCoordinatorFailedCreateReturnsJobToNew(t *testing.T) {
	f := newFixture(20)
	f.provisioner.Creates.Then(false, errors.New("out of cycles"))

	f.tick()
	jobs := f.c.Metrics().Jobs
	require.Len(t, jobs, 1)
	assert.Equal(t, JobNew, jobs[0].Status)
	assert.Empty(t, f.c.AllShards())
	assert.Empty(t, f.provisioner.Deleted(), "nothing was created, nothing to reclaim")

	f.tick()
	assert.Equal(t, []types.NodeID{100}, f.c.AllShards())
	assert.Equal(t, uint64(1), f.c.Metrics().ProvisionFailures)
}

func TestCoordinatorFailedInstallReclaimsInstance(t *testing.T) {
	f := newFixture(20)
	f.provisioner.Installs.Then(false, errors.New("install trapped"))

	f.tick()
	assert.Equal(t, []types.NodeID{100}, f.provisioner.Deleted())
	assert.Equal(t, JobNew, f.c.Metrics().Jobs[0].Status)
	assert.Empty(t, f.c.Metrics().Orphans)

	f.tick()
	assert.Equal(t, []types.NodeID{101}, f.c.AllShards())
}

func TestCoordinatorRecordsOrphanWhenReclaimFails(t *testing.T) {
	f := newFixture(20)
	f.provisioner.Installs.Then(false, nil)
	f.provisioner.DeleteErr = errors.New("delete failed")

	f.tick()
	m := f.c.Metrics()
	assert.Equal(t, []types.NodeID{100}, m.Orphans)
	assert.Equal(t, JobNew, m.Jobs[0].Status)
}

func TestCoordinatorStaleProvisioningCompletion(t *testing.T) {
	f := newFixture(20)
	held := f.provisioner.Installs.Hold()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.tick()
	}()
	<-held.Entered()

	// the job is resolved elsewhere while the install is suspended
	f.c.mu.Lock()
	token := f.c.plan.jobs[0].Token
	require.True(t, f.c.plan.Release(token))
	f.c.mu.Unlock()

	held.Resolve(true, nil)
	<-done

	m := f.c.Metrics()
	assert.Equal(t, JobNew, m.Jobs[0].Status, "a stale completion must not install the job")
	assert.Empty(t, m.Installed)
	assert.Empty(t, f.c.AllShards())
	assert.Equal(t, []types.NodeID{100}, f.provisioner.Deleted())
	assert.Empty(t, f.provisioner.Activated(), "a reclaimed instance is never activated")
}

func TestCoordinatorActivatesShardAfterCommit(t *testing.T) {
	f := newFixture(20)
	held := f.provisioner.Installs.Hold()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.tick()
	}()
	<-held.Entered()

	assert.Empty(t, f.provisioner.Activated())
	_, err := f.c.PushSummary(types.NodeIdentity(100), 100, summary(0, 20))
	assert.ErrorIs(t, err, ErrUnknownShard)

	held.Resolve(true, nil)
	<-done

	assert.Equal(t, []types.NodeID{100}, f.provisioner.Activated())
	ok, err := f.c.PushSummary(types.NodeIdentity(100), 100, summary(3, 20, "cats"))
	require.NoError(t, err)
	assert.True(t, ok, "an activated shard can publish right away")
}

func TestCoordinatorPushSummaryGates(t *testing.T) {
	f := newFixture(1)

	_, err := f.c.PushSummary(types.NodeIdentity(10), 10, summary(0, 20))
	assert.ErrorIs(t, err, ErrUnknownShard)

	f.seed(10, summary(0, 20))
	_, err = f.c.PushSummary("mallory", 10, summary(0, 20))
	assert.ErrorIs(t, err, ErrNotPermitted)
	_, err = f.c.PushSummary(types.NodeIdentity(11), 10, summary(0, 20))
	assert.ErrorIs(t, err, ErrNotPermitted)

	ok, err := f.c.PushSummary(types.NodeIdentity(10), 10, summary(12, 20, "cats"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(8), f.c.Metrics().FreeSlots, "free slots follow every summary")
}

func TestCoordinatorLookupIsRebuiltOnTick(t *testing.T) {
	f := newFixture(1)
	f.seed(10, summary(0, 20))
	f.seed(11, summary(0, 20))
	_, _ = f.c.PushSummary(types.NodeIdentity(10), 10, summary(1, 20, "cats"))

	ids, err := f.c.Lookup("cats")
	require.NoError(t, err)
	assert.Empty(t, ids, "tag map is only rebuilt on tick")

	f.tick()
	ids, _ = f.c.Lookup("cats")
	assert.Equal(t, []types.NodeID{10}, ids)

	_, _ = f.c.PushSummary(types.NodeIdentity(11), 11, summary(1, 20, "cats"))
	f.clock.Advance(time.Second)
	f.tick()
	ids, _ = f.c.Lookup("cats")
	assert.Equal(t, []types.NodeID{10}, ids, "rebuild is debounced")

	f.clock.Advance(5 * time.Second)
	f.tick()
	ids, _ = f.c.Lookup("cats")
	assert.Equal(t, []types.NodeID{10, 11}, ids)
	assert.Equal(t, []Row{{Tag: "cats", Shards: []types.NodeID{10, 11}}}, f.c.GlobalIndex())

	_, err = f.c.Lookup("")
	assert.ErrorIs(t, err, ErrEmptyTag)
}

func TestCoordinatorUploadOrder(t *testing.T) {
	f := newFixture(1)
	f.seed(5, summary(5, 20))
	f.seed(3, summary(3, 20))
	f.seed(9, summary(20, 20))

	assert.Equal(t, []types.NodeID{3, 5}, f.c.UploadOrder())

	_, err := f.c.SetStrategy("mallory", placement.FillFirst)
	assert.ErrorIs(t, err, ErrNotPermitted)

	ok, err := f.c.SetStrategy("admin", placement.FillFirst)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []types.NodeID{5, 3}, f.c.UploadOrder())
}

func TestCoordinatorModeratorBroadcast(t *testing.T) {
	f := newFixture(1)
	f.seed(10, summary(0, 20))
	f.seed(11, summary(0, 20))

	_, err := f.c.AddModerator("mallory", "carol")
	assert.ErrorIs(t, err, ErrNotPermitted)
	_, err = f.c.AddModerator("admin", types.Anonymous)
	assert.Error(t, err)

	ok, err := f.c.AddModerator("admin", "carol")
	require.NoError(t, err)
	require.True(t, ok)

	f.shards.SetFailing(11, true)
	f.tick()
	got, ok := f.shards.Received(10)
	require.True(t, ok)
	assert.Equal(t, []types.Identity{"carol"}, got)
	_, ok = f.shards.Received(11)
	assert.False(t, ok)

	m := f.c.Metrics()
	assert.False(t, m.ModeratorsDirty, "flag is cleared regardless of failures")
	assert.Equal(t, []types.NodeID{11}, m.PendingModerators)

	// the failed shard is retried alone on the next tick
	f.shards.SetFailing(11, false)
	calls := f.shards.Calls()
	f.tick()
	assert.Equal(t, calls+1, f.shards.Calls())
	got, ok = f.shards.Received(11)
	require.True(t, ok)
	assert.Equal(t, []types.Identity{"carol"}, got)
	assert.Empty(t, f.c.Metrics().PendingModerators)

	// nothing changed, nothing is sent
	calls = f.shards.Calls()
	f.tick()
	assert.Equal(t, calls, f.shards.Calls())
}

func TestCoordinatorNewShardsReceiveModerators(t *testing.T) {
	f := newFixture(20)
	_, err := f.c.AddModerator("admin", "carol")
	require.NoError(t, err)

	f.tick()
	args, ok := f.provisioner.Installed(100)
	require.True(t, ok)
	assert.Equal(t, []types.Identity{"carol"}, args.Moderators)
	assert.Equal(t, uint64(1), args.ModeratorsVersion)
}

func TestCoordinatorSnapshotRestore(t *testing.T) {
	f := newFixture(40)
	f.seed(10, summary(3, 20, "cats"))
	_, _ = f.c.AddModerator("admin", "carol")
	_, _ = f.c.SetStrategy("admin", placement.FillFirst)

	held := f.provisioner.Creates.Hold()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.tick()
	}()
	<-held.Entered()
	st := f.c.Snapshot()
	held.Resolve(false, errors.New("host restarting"))
	<-done

	require.Len(t, st.Jobs, 1)
	require.Equal(t, JobProvisioning, st.Jobs[0].Status)

	restored, err := Restore(st, f.clock, f.tokens, f.shards, f.provisioner)
	require.NoError(t, err)

	m := restored.Metrics()
	require.Len(t, m.Jobs, 1)
	assert.Equal(t, JobNew, m.Jobs[0].Status, "in-flight jobs restart as new")
	assert.Equal(t, uint64(17), m.FreeSlots)
	assert.Equal(t, placement.FillFirst, m.Strategy)
	assert.Equal(t, 1, m.Moderators)
	ids, _ := restored.Lookup("cats")
	assert.Equal(t, []types.NodeID{10}, ids)

	// the restored coordinator resumes the job
	restored.Tick(context.Background())
	assert.Contains(t, restored.AllShards(), types.NodeID(100))
}

func TestCoordinatorRestoreRejectsInconsistentSnapshot(t *testing.T) {
	f := newFixture(1)
	st := f.c.Snapshot()
	st.TagMap = []Row{{Tag: "cats", Shards: []types.NodeID{42}}}

	_, err := Restore(st, f.clock, f.tokens, f.shards, f.provisioner)
	assert.Error(t, err)

	st = f.c.Snapshot()
	st.Config.ID = 0
	_, err = Restore(st, f.clock, f.tokens, f.shards, f.provisioner)
	assert.Error(t, err)
}

func TestCoordinatorPrometheusMetrics(t *testing.T) {
	f := newFixture(1)
	f.seed(10, summary(5, 20))
	f.seed(11, summary(15, 20))

	var buf bytes.Buffer
	f.c.WritePrometheus(&buf)
	out := buf.String()
	assert.Contains(t, out, "dbucket_free_slots 20")
	assert.Contains(t, out, "dbucket_shards 2")
	assert.Contains(t, out, `dbucket_planned_shards{status="new"} 0`)

	m := f.c.Metrics()
	assert.InDelta(t, 0.5, m.Fill.Mean, 1e-9)
	assert.InDelta(t, 0.25, m.Fill.Min, 1e-9)
	assert.InDelta(t, 0.75, m.Fill.Max, 1e-9)
	assert.Contains(t, m.String(), "CAPACITY")
}
