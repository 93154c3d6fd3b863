package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dBucket/lib/env"
	"github.com/ValentinKolb/dBucket/lib/placement"
	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
)

var log = logger.GetLogger("coordinator")

var (
	// ErrNotPermitted is returned when the caller is not in the required identity set
	ErrNotPermitted = errors.New("caller not permitted")
	// ErrUnknownShard is returned for summaries of shards the coordinator never installed
	ErrUnknownShard = errors.New("unknown shard")
	// ErrEmptyTag is returned for lookups without a tag
	ErrEmptyTag = errors.New("tag must not be empty")
)

// maxParallelPushes bounds the fan-out of a moderator broadcast
const maxParallelPushes = 16

// Config holds the construction parameters of a coordinator
type Config struct {
	ID               types.NodeID
	DesiredFreeSlots uint64
	ShardCapacity    uint64
	RebuildInterval  time.Duration
	CallTimeout      time.Duration
	Strategy         placement.Strategy
	Controllers      []types.Identity
}

func (c *Config) applyDefaults() {
	if c.DesiredFreeSlots == 0 {
		c.DesiredFreeSlots = DefaultDesiredFreeSlots
	}
	if c.ShardCapacity == 0 {
		c.ShardCapacity = DefaultShardCapacity
	}
	if c.RebuildInterval <= 0 {
		c.RebuildInterval = DefaultRebuildInterval
	}
}

// Coordinator aggregates shard summaries, ranks shards for writers, provisions
// new shards when free capacity runs low and propagates the moderator set.
//
// All state is guarded by mu. Tick releases mu around every remote call, so
// requests and other ticks interleave with a suspended provisioning attempt or
// broadcast; lock tokens decide which attempt owns a job.
type Coordinator struct {
	mu          sync.Mutex
	cfg         Config
	index       *GlobalIndex
	plan        *Provisioning
	mods        *Moderators
	strategy    placement.Strategy
	controllers types.IdentitySet

	clock       env.Clock
	tokens      env.TokenSource
	shards      env.ShardClient
	provisioner env.Provisioner

	stats *stats
}

// New creates a coordinator without any shards
func New(cfg Config, clock env.Clock, tokens env.TokenSource, shards env.ShardClient, provisioner env.Provisioner) *Coordinator {
	cfg.applyDefaults()
	c := &Coordinator{
		cfg:         cfg,
		index:       NewGlobalIndex(cfg.RebuildInterval),
		plan:        NewProvisioning(cfg.DesiredFreeSlots, cfg.ShardCapacity),
		mods:        NewModerators(),
		strategy:    cfg.Strategy,
		controllers: types.NewIdentitySet(cfg.Controllers...),
		clock:       clock,
		tokens:      tokens,
		shards:      shards,
		provisioner: provisioner,
	}
	c.stats = newStats(c)
	return c
}

// ID returns the node id of the coordinator
func (c *Coordinator) ID() types.NodeID { return c.cfg.ID }

// --------------------------------------------------------------------------
// Reconciliation
// --------------------------------------------------------------------------

// Tick runs one reconciliation round: rebuild the tag map, plan, advance at most
// one provisioning job and propagate moderators.
func (c *Coordinator) Tick(ctx context.Context) {
	c.mu.Lock()
	if c.index.RebuildTagMap(c.clock.Now()) {
		log.Debugf("rebuilt tag map over %d shards", len(c.index.summaries))
	}
	if job, ok := c.plan.Plan(c.index.FreeSlots()); ok {
		log.Infof("planned %s, free slots %d, planned capacity %d",
			job, c.index.FreeSlots(), c.plan.PlannedCapacity())
	}
	c.mu.Unlock()

	c.execute(ctx)
	c.propagateModerators(ctx)
}

// execute advances one planned shard: create an instance, install it and commit
// the outcome if the claim token still owns the job.
func (c *Coordinator) execute(ctx context.Context) {
	c.mu.Lock()
	token := c.tokens.Next()
	job, ok := c.plan.Claim(token)
	moderators, version := c.mods.Snapshot()
	c.mu.Unlock()
	if !ok {
		return
	}
	log.Infof("provisioning job %d under token %s", job.Job, token)

	callCtx, cancel := env.CallContext(ctx, c.cfg.CallTimeout)
	id, err := c.provisioner.CreateInstance(callCtx, env.InstanceSettings{
		Controllers: append([]types.Identity{types.NodeIdentity(c.cfg.ID)}, c.controllers.Sorted()...),
	})
	cancel()
	if err != nil {
		c.release(job, token, fmt.Errorf("create instance: %w", err))
		return
	}

	callCtx, cancel = env.CallContext(ctx, c.cfg.CallTimeout)
	installed, err := c.provisioner.Install(callCtx, id, env.InstallArgs{
		Coordinator:       c.cfg.ID,
		MaxEntries:        job.MaxEntries,
		Moderators:        moderators,
		ModeratorsVersion: version,
	})
	cancel()
	if err == nil && !installed {
		err = errors.New("install refused")
	}
	if err != nil {
		c.reclaim(ctx, id)
		c.release(job, token, fmt.Errorf("install instance %d: %w", id, err))
		return
	}

	c.mu.Lock()
	if !c.plan.Complete(token, id) {
		c.mu.Unlock()
		log.Warningf("job %d no longer owned by token %s, reclaiming instance %d", job.Job, token, id)
		c.reclaim(ctx, id)
		return
	}
	if !c.index.Known(id) {
		c.index.Ingest(id, types.EffectiveIndex{Tags: []string{}, MaxEntries: job.MaxEntries})
	}
	c.mods.Track(id, version)
	c.stats.provisioned.Inc()
	c.mu.Unlock()
	log.Infof("job %d installed as shard %d", job.Job, id)

	if a, ok := c.provisioner.(env.Activator); ok {
		callCtx, cancel = env.CallContext(ctx, c.cfg.CallTimeout)
		err = a.Activate(callCtx, id)
		cancel()
		if err != nil {
			log.Warningf("failed to activate shard %d: %v", id, err)
		}
	}
}

func (c *Coordinator) release(job PlannedShard, token env.Token, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.provisionFailures.Inc()
	if c.plan.Release(token) {
		log.Warningf("job %d failed, back to new: %v", job.Job, cause)
	} else {
		log.Debugf("ignored stale failure of job %d: %v", job.Job, cause)
	}
}

// reclaim deletes an instance that did not become a shard. Instances that cannot
// be deleted are recorded as orphans.
func (c *Coordinator) reclaim(ctx context.Context, id types.NodeID) {
	callCtx, cancel := env.CallContext(ctx, c.cfg.CallTimeout)
	err := c.provisioner.DeleteInstance(callCtx, id)
	cancel()
	if err == nil {
		return
	}
	log.Errorf("failed to reclaim instance %d, recording orphan: %v", id, err)
	c.mu.Lock()
	c.plan.AddOrphan(id)
	c.mu.Unlock()
}

// propagateModerators pushes the moderator set to every shard when it changed and
// retries shards whose earlier push failed.
func (c *Coordinator) propagateModerators(ctx context.Context) {
	c.mu.Lock()
	b, ok := c.mods.Begin(c.index.Shards())
	c.mu.Unlock()
	if !ok {
		return
	}

	var (
		mu     sync.Mutex
		failed []types.NodeID
		g      errgroup.Group
	)
	g.SetLimit(maxParallelPushes)
	for _, id := range b.Targets {
		g.Go(func() error {
			callCtx, cancel := env.CallContext(ctx, c.cfg.CallTimeout)
			defer cancel()
			ok, err := c.shards.PushModerators(callCtx, id, b.Version, b.Moderators)
			if err == nil && !ok {
				err = errors.New("push refused")
			}
			if err != nil {
				mu.Lock()
				failed = append(failed, id)
				mu.Unlock()
				return fmt.Errorf("shard %d: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warningf("moderator push v%d failed for %d of %d shards, first error: %v",
			b.Version, len(failed), len(b.Targets), err)
	}

	c.mu.Lock()
	c.mods.Finish(b, failed)
	c.stats.moderatorPushes.Add(len(b.Targets))
	c.stats.moderatorPushFailures.Add(len(failed))
	c.mu.Unlock()
}

// --------------------------------------------------------------------------
// Shard facing operations
// --------------------------------------------------------------------------

// PushSummary ingests the effective index of a shard. Only the shard itself may
// push its summary, and only once the coordinator knows it.
func (c *Coordinator) PushSummary(caller types.Identity, from types.NodeID, idx types.EffectiveIndex) (bool, error) {
	if caller != types.NodeIdentity(from) {
		return false, ErrNotPermitted
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.index.Known(from) {
		c.stats.summariesRejected.Inc()
		return false, fmt.Errorf("%w: %d", ErrUnknownShard, from)
	}
	c.index.Ingest(from, idx)
	c.stats.summaries.Inc()
	return true, nil
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// Lookup returns the shards holding entries under tag, as of the last rebuild
func (c *Coordinator) Lookup(tag string) ([]types.NodeID, error) {
	if tag == "" {
		return nil, ErrEmptyTag
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Lookup(tag), nil
}

// AllShards returns every known shard
func (c *Coordinator) AllShards() []types.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Shards()
}

// UploadOrder ranks the shards with free room by the current strategy
func (c *Coordinator) UploadOrder() []types.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return placement.RankShards(c.strategy, c.index.Summaries())
}

// GlobalIndex returns the tag map as rows ordered by tag
func (c *Coordinator) GlobalIndex() []Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Rows()
}

// Strategy returns the current placement strategy
func (c *Coordinator) Strategy() placement.Strategy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strategy
}

// --------------------------------------------------------------------------
// Administrative operations
// --------------------------------------------------------------------------

// AddModerator adds a privileged caller; the change reaches the shards on a
// later tick
func (c *Coordinator) AddModerator(caller, moderator types.Identity) (bool, error) {
	if moderator.IsAnonymous() {
		return false, fmt.Errorf("anonymous identity cannot moderate")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.controllers.Contains(caller) {
		return false, ErrNotPermitted
	}
	if c.mods.Add(moderator) {
		log.Infof("moderator %s added by %s", moderator, caller)
	}
	return true, nil
}

// SetStrategy switches the placement strategy
func (c *Coordinator) SetStrategy(caller types.Identity, s placement.Strategy) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.controllers.Contains(caller) {
		return false, ErrNotPermitted
	}
	c.strategy = s
	return true, nil
}
