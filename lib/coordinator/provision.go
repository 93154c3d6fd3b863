package coordinator

import (
	"fmt"

	"github.com/ValentinKolb/dBucket/lib/env"
	"github.com/ValentinKolb/dBucket/lib/types"
)

const (
	// DefaultDesiredFreeSlots is the free capacity the planner keeps available
	DefaultDesiredFreeSlots uint64 = 60
	// DefaultShardCapacity is the capacity of a planned shard
	DefaultShardCapacity uint64 = 20
)

// JobStatus is the status of a planned shard
type JobStatus uint8

const (
	JobNew          JobStatus = iota // waiting for the executor
	JobProvisioning                  // claimed by the attempt holding the token
	JobInstalled                     // done, capacity now reported by the shard itself
)

func (s JobStatus) String() string {
	switch s {
	case JobNew:
		return "new"
	case JobProvisioning:
		return "provisioning"
	case JobInstalled:
		return "installed"
	default:
		return "unknown"
	}
}

// PlannedShard is one provisioning job
type PlannedShard struct {
	Job        uint64
	Status     JobStatus
	Token      env.Token
	MaxEntries uint64
	Shard      types.NodeID // set once installed
}

func (p PlannedShard) String() string {
	if p.Status == JobInstalled {
		return fmt.Sprintf("job %d: %s as shard %d", p.Job, p.Status, p.Shard)
	}
	return fmt.Sprintf("job %d: %s (%d entries)", p.Job, p.Status, p.MaxEntries)
}

// Provisioning holds the planned shards and decides when to add and advance them.
// It performs no remote calls; the coordinator runs those between Claim and
// Complete or Release.
type Provisioning struct {
	desiredFreeSlots uint64
	shardCapacity    uint64
	jobs             []*PlannedShard
	nextJob          uint64
	installed        []types.NodeID
	orphans          []types.NodeID
}

// NewProvisioning creates an empty planner
func NewProvisioning(desiredFreeSlots, shardCapacity uint64) *Provisioning {
	return &Provisioning{
		desiredFreeSlots: desiredFreeSlots,
		shardCapacity:    shardCapacity,
		nextJob:          1,
	}
}

// PlannedCapacity returns the capacity reserved by jobs that are not installed yet
func (p *Provisioning) PlannedCapacity() uint64 {
	var sum uint64
	for _, job := range p.jobs {
		sum += job.MaxEntries
	}
	return sum
}

// Plan drops installed jobs and enqueues one new job if the planned capacity plus
// the free slots fall short of the desired free slots.
func (p *Provisioning) Plan(freeSlots uint64) (PlannedShard, bool) {
	kept := p.jobs[:0]
	for _, job := range p.jobs {
		if job.Status != JobInstalled {
			kept = append(kept, job)
		}
	}
	p.jobs = kept

	if p.PlannedCapacity()+freeSlots >= p.desiredFreeSlots {
		return PlannedShard{}, false
	}

	job := &PlannedShard{Job: p.nextJob, Status: JobNew, MaxEntries: p.shardCapacity}
	p.nextJob++
	p.jobs = append(p.jobs, job)
	return *job, true
}

// Claim moves the first new job to Provisioning under token. Nothing is claimed
// while another job is provisioning.
func (p *Provisioning) Claim(token env.Token) (PlannedShard, bool) {
	var candidate *PlannedShard
	for _, job := range p.jobs {
		switch {
		case job.Status == JobProvisioning:
			return PlannedShard{}, false
		case job.Status == JobNew && candidate == nil:
			candidate = job
		}
	}
	if candidate == nil {
		return PlannedShard{}, false
	}
	candidate.Status = JobProvisioning
	candidate.Token = token
	return *candidate, true
}

// Complete marks the job owned by token as installed and releases its reserved
// capacity. It reports false if no job is provisioning under token.
func (p *Provisioning) Complete(token env.Token, shard types.NodeID) bool {
	job := p.owned(token)
	if job == nil {
		return false
	}
	job.Status = JobInstalled
	job.Token = env.NoToken
	job.MaxEntries = 0
	job.Shard = shard
	p.installed = append(p.installed, shard)
	return true
}

// Release puts the job owned by token back to New
func (p *Provisioning) Release(token env.Token) bool {
	job := p.owned(token)
	if job == nil {
		return false
	}
	job.Status = JobNew
	job.Token = env.NoToken
	return true
}

// AddOrphan records an instance that could neither be installed nor reclaimed
func (p *Provisioning) AddOrphan(id types.NodeID) {
	p.orphans = append(p.orphans, id)
}

// Installed returns the shards spawned by the planner, in install order
func (p *Provisioning) Installed() []types.NodeID {
	return append([]types.NodeID(nil), p.installed...)
}

// Orphans returns the recorded orphaned instances
func (p *Provisioning) Orphans() []types.NodeID {
	return append([]types.NodeID(nil), p.orphans...)
}

// Jobs returns a copy of all jobs in planning order
func (p *Provisioning) Jobs() []PlannedShard {
	out := make([]PlannedShard, 0, len(p.jobs))
	for _, job := range p.jobs {
		out = append(out, *job)
	}
	return out
}

// InFlight returns the number of jobs in Provisioning
func (p *Provisioning) InFlight() int {
	n := 0
	for _, job := range p.jobs {
		if job.Status == JobProvisioning {
			n++
		}
	}
	return n
}

func (p *Provisioning) owned(token env.Token) *PlannedShard {
	if token == env.NoToken {
		return nil
	}
	for _, job := range p.jobs {
		if job.Status == JobProvisioning && job.Token == token {
			return job
		}
	}
	return nil
}
