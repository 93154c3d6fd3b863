package coordinator

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ValentinKolb/dBucket/lib/placement"
	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/ValentinKolb/dBucket/lib/util"
	"github.com/VictoriaMetrics/metrics"
)

// stats is the prometheus metric set of one coordinator
type stats struct {
	set                   *metrics.Set
	summaries             *metrics.Counter
	summariesRejected     *metrics.Counter
	provisioned           *metrics.Counter
	provisionFailures     *metrics.Counter
	moderatorPushes       *metrics.Counter
	moderatorPushFailures *metrics.Counter
}

func newStats(c *Coordinator) *stats {
	set := metrics.NewSet()
	s := &stats{
		set:                   set,
		summaries:             set.NewCounter("dbucket_summaries_received_total"),
		summariesRejected:     set.NewCounter("dbucket_summaries_rejected_total"),
		provisioned:           set.NewCounter("dbucket_shards_provisioned_total"),
		provisionFailures:     set.NewCounter("dbucket_provision_failures_total"),
		moderatorPushes:       set.NewCounter("dbucket_moderator_pushes_total"),
		moderatorPushFailures: set.NewCounter("dbucket_moderator_push_failures_total"),
	}

	gauge := func(name string, read func() float64) {
		set.NewGauge(name, func() float64 {
			c.mu.Lock()
			defer c.mu.Unlock()
			return read()
		})
	}
	gauge("dbucket_free_slots", func() float64 { return float64(c.index.FreeSlots()) })
	gauge("dbucket_planned_capacity", func() float64 { return float64(c.plan.PlannedCapacity()) })
	gauge("dbucket_shards", func() float64 { return float64(len(c.index.summaries)) })
	gauge("dbucket_tags", func() float64 { return float64(len(c.index.tagToShards)) })
	gauge("dbucket_orphaned_instances", func() float64 { return float64(len(c.plan.orphans)) })
	gauge("dbucket_moderators_pending", func() float64 { return float64(len(c.mods.pending)) })
	for _, status := range []JobStatus{JobNew, JobProvisioning, JobInstalled} {
		gauge(fmt.Sprintf(`dbucket_planned_shards{status=%q}`, status), func() float64 {
			n := 0
			for _, job := range c.plan.jobs {
				if job.Status == status {
					n++
				}
			}
			return float64(n)
		})
	}
	return s
}

// WritePrometheus writes the coordinator metrics in prometheus text format.
// It must not be called while holding the coordinator lock.
func (c *Coordinator) WritePrometheus(w io.Writer) {
	c.stats.set.WritePrometheus(w)
}

// Metrics is a point-in-time report of the coordinator
type Metrics struct {
	ID                types.NodeID
	Strategy          placement.Strategy
	Shards            int
	Tags              int
	FreeSlots         uint64
	PlannedCapacity   uint64
	DesiredFreeSlots  uint64
	Jobs              []PlannedShard
	Installed         []types.NodeID
	Orphans           []types.NodeID
	Moderators        int
	ModeratorsVersion uint64
	ModeratorsDirty   bool
	PendingModerators []types.NodeID
	LastRebuilt       time.Time
	Fill              util.DistributionStats
	SummariesReceived uint64
	Provisioned       uint64
	ProvisionFailures uint64
}

// Metrics collects the current metrics of the coordinator
func (c *Coordinator) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	ratios := make([]float64, 0, len(c.index.summaries))
	for _, idx := range c.index.summaries {
		if idx.MaxEntries > 0 {
			ratios = append(ratios, float64(idx.CurrentEntries)/float64(idx.MaxEntries))
		}
	}
	_, version := c.mods.Snapshot()

	return Metrics{
		ID:                c.cfg.ID,
		Strategy:          c.strategy,
		Shards:            len(c.index.summaries),
		Tags:              len(c.index.tagToShards),
		FreeSlots:         c.index.FreeSlots(),
		PlannedCapacity:   c.plan.PlannedCapacity(),
		DesiredFreeSlots:  c.cfg.DesiredFreeSlots,
		Jobs:              c.plan.Jobs(),
		Installed:         c.plan.Installed(),
		Orphans:           c.plan.Orphans(),
		Moderators:        c.mods.Len(),
		ModeratorsVersion: version,
		ModeratorsDirty:   c.mods.Dirty(),
		PendingModerators: c.mods.Pending(),
		LastRebuilt:       c.index.LastRebuilt(),
		Fill:              util.NewDistributionStats(ratios),
		SummariesReceived: c.stats.summaries.Get(),
		Provisioned:       c.stats.provisioned.Get(),
		ProvisionFailures: c.stats.provisionFailures.Get(),
	}
}

// String formats the metrics in the sectioned layout used by the cli
func (m Metrics) String() string {
	var sb strings.Builder
	addSection := func(title string) {
		sb.WriteString(fmt.Sprintf("\n%s\n", strings.ToUpper(title)))
	}
	addField := func(name string, value any) {
		sb.WriteString(fmt.Sprintf("  %-22s: %v\n", name, value))
	}

	addSection(fmt.Sprintf("Coordinator %d", m.ID))
	addField("Strategy", m.Strategy)
	addField("Shards", m.Shards)
	addField("Tags", m.Tags)
	if m.LastRebuilt.IsZero() {
		addField("Tag Map Rebuilt", "never")
	} else {
		addField("Tag Map Rebuilt", m.LastRebuilt.Format(time.RFC3339))
	}
	addField("Summaries Received", m.SummariesReceived)

	addSection("Capacity")
	addField("Free Slots", m.FreeSlots)
	addField("Planned Capacity", m.PlannedCapacity)
	addField("Desired Free Slots", m.DesiredFreeSlots)
	addField("Fill Mean", fmt.Sprintf("%.2f", m.Fill.Mean))
	addField("Fill Std Deviation", fmt.Sprintf("%.2f", m.Fill.StdDeviation))
	addField("Fill CV", fmt.Sprintf("%.2f", m.Fill.CoefficientOfVariation))
	addField("Fill Min / Max", fmt.Sprintf("%.2f / %.2f", m.Fill.Min, m.Fill.Max))

	addSection("Provisioning")
	addField("Installed", fmt.Sprint(m.Installed))
	addField("Succeeded", m.Provisioned)
	addField("Failed Attempts", m.ProvisionFailures)
	addField("Orphaned Instances", fmt.Sprint(m.Orphans))
	for _, job := range m.Jobs {
		sb.WriteString(fmt.Sprintf("    %s\n", job))
	}

	addSection("Moderators")
	addField("Count", m.Moderators)
	addField("Version", m.ModeratorsVersion)
	addField("Dirty", m.ModeratorsDirty)
	addField("Pending Shards", fmt.Sprint(m.PendingModerators))
	return sb.String()
}
