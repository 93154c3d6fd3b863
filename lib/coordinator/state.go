package coordinator

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dBucket/lib/env"
	"github.com/ValentinKolb/dBucket/lib/placement"
	"github.com/ValentinKolb/dBucket/lib/types"
)

// State is the serializable form of a coordinator
type State struct {
	Config            Config
	Strategy          placement.Strategy
	Summaries         map[types.NodeID]types.EffectiveIndex
	TagMap            []Row
	LastRebuilt       time.Time
	Jobs              []PlannedShard
	NextJob           uint64
	Installed         []types.NodeID
	Orphans           []types.NodeID
	Moderators        []types.Identity
	ModeratorsVersion uint64
	ModeratorsDirty   bool
	PendingModerators []types.NodeID
}

// Snapshot captures the full state of the coordinator. Jobs in flight are stored
// with their token and reset on restore.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	moderators, version := c.mods.Snapshot()
	return State{
		Config:            c.cfg,
		Strategy:          c.strategy,
		Summaries:         c.index.Summaries(),
		TagMap:            c.index.Rows(),
		LastRebuilt:       c.index.LastRebuilt(),
		Jobs:              c.plan.Jobs(),
		NextJob:           c.plan.nextJob,
		Installed:         c.plan.Installed(),
		Orphans:           c.plan.Orphans(),
		Moderators:        moderators,
		ModeratorsVersion: version,
		ModeratorsDirty:   c.mods.Dirty(),
		PendingModerators: c.mods.Pending(),
	}
}

// Restore rebuilds a coordinator from a snapshot. Provisioning jobs go back to New
// because the attempt that owned them did not survive the restart.
func Restore(st State, clock env.Clock, tokens env.TokenSource, shards env.ShardClient, provisioner env.Provisioner) (*Coordinator, error) {
	if err := st.validate(); err != nil {
		return nil, err
	}

	c := New(st.Config, clock, tokens, shards, provisioner)
	c.strategy = st.Strategy

	for id, idx := range st.Summaries {
		c.index.summaries[id] = idx
	}
	c.index.recomputeFreeSlots()
	for _, row := range st.TagMap {
		c.index.tagToShards[row.Tag] = append([]types.NodeID(nil), row.Shards...)
	}
	c.index.lastRebuilt = st.LastRebuilt

	for _, job := range st.Jobs {
		job := job
		if job.Status == JobProvisioning {
			job.Status = JobNew
			job.Token = env.NoToken
		}
		c.plan.jobs = append(c.plan.jobs, &job)
	}
	if st.NextJob > c.plan.nextJob {
		c.plan.nextJob = st.NextJob
	}
	c.plan.installed = append([]types.NodeID(nil), st.Installed...)
	c.plan.orphans = append([]types.NodeID(nil), st.Orphans...)

	c.mods.set = types.NewIdentitySet(st.Moderators...)
	c.mods.version = st.ModeratorsVersion
	c.mods.dirty = st.ModeratorsDirty
	for _, id := range st.PendingModerators {
		c.mods.pending[id] = struct{}{}
	}
	return c, nil
}

func (st State) validate() error {
	if st.Config.ID == 0 {
		return fmt.Errorf("coordinator snapshot without node id")
	}
	for _, row := range st.TagMap {
		for _, id := range row.Shards {
			if _, ok := st.Summaries[id]; !ok {
				return fmt.Errorf("coordinator snapshot inconsistent: tag %q maps to unknown shard %d", row.Tag, id)
			}
		}
	}
	for _, job := range st.Jobs {
		if job.Status > JobInstalled {
			return fmt.Errorf("coordinator snapshot inconsistent: job %d has status %d", job.Job, job.Status)
		}
		if job.Job >= st.NextJob {
			return fmt.Errorf("coordinator snapshot inconsistent: job %d not below next job %d", job.Job, st.NextJob)
		}
	}
	return nil
}
