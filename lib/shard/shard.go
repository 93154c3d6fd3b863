package shard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dBucket/lib/env"
	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger("shard")

var (
	// ErrNotPermitted is returned when the caller is not in the required identity set
	ErrNotPermitted = errors.New("caller not permitted")
	// ErrEmptyTag is returned for submits and lookups without a tag
	ErrEmptyTag = errors.New("tag must not be empty")
)

// Config holds the construction parameters of a shard
type Config struct {
	ID                types.NodeID
	Coordinator       types.NodeID
	MaxEntries        uint64
	ReindexInterval   time.Duration
	CallTimeout       time.Duration
	Controllers       []types.Identity
	Moderators        []types.Identity
	ModeratorsVersion uint64
}

// Shard is a single shard node: its store, the summary agent publishing it and
// the identity gates in front of both.
//
// All state is guarded by mu. Tick releases mu while it waits for the coordinator,
// so a second tick (or any request) may run in between; the summary agent's lock
// token decides which attempt owns the outcome.
type Shard struct {
	mu          sync.Mutex
	cfg         Config
	store       *Store
	agent       *SummaryAgent
	controllers types.IdentitySet
	moderators  types.IdentitySet
	modVersion  uint64

	clock       env.Clock
	tokens      env.TokenSource
	coordinator env.CoordinatorClient

	registry metrics.Registry
	accepted metrics.Counter
	rejected metrics.Counter
	bodySize metrics.Histogram
}

// New creates an empty shard
func New(cfg Config, clock env.Clock, tokens env.TokenSource, coordinator env.CoordinatorClient) *Shard {
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.ReindexInterval <= 0 {
		cfg.ReindexInterval = DefaultReindexInterval
	}
	return newShard(cfg, NewStore(cfg.MaxEntries), clock, tokens, coordinator)
}

func newShard(cfg Config, store *Store, clock env.Clock, tokens env.TokenSource, coordinator env.CoordinatorClient) *Shard {
	s := &Shard{
		cfg:         cfg,
		store:       store,
		agent:       NewSummaryAgent(cfg.ReindexInterval),
		controllers: types.NewIdentitySet(cfg.Controllers...),
		moderators:  types.NewIdentitySet(cfg.Moderators...),
		modVersion:  cfg.ModeratorsVersion,
		clock:       clock,
		tokens:      tokens,
		coordinator: coordinator,
		registry:    metrics.NewRegistry(),
	}
	s.controllers.Add(types.NodeIdentity(cfg.Coordinator))
	s.accepted = metrics.NewRegisteredCounter("submits.accepted", s.registry)
	s.rejected = metrics.NewRegisteredCounter("submits.rejected", s.registry)
	s.bodySize = metrics.NewRegisteredHistogram("entries.body_size", s.registry, metrics.NewUniformSample(1028))
	return s
}

// ID returns the node id of the shard
func (s *Shard) ID() types.NodeID { return s.cfg.ID }

// --------------------------------------------------------------------------
// Writer and reader operations
// --------------------------------------------------------------------------

// Submit stores a new entry. It returns false without error when the shard is full.
func (s *Shard) Submit(caller types.Identity, tag, body string) (bool, error) {
	if tag == "" {
		return false, ErrEmptyTag
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ok := s.store.Insert(types.Entry{
		Tag:         tag,
		Body:        body,
		SubmittedAt: s.clock.Now(),
		SubmittedBy: caller.Normalize(),
	})
	if !ok {
		s.rejected.Inc(1)
		log.Debugf("shard %d full, rejected entry for tag %q", s.cfg.ID, tag)
		return false, nil
	}
	s.accepted.Inc(1)
	s.bodySize.Update(int64(len(body)))
	return true, nil
}

// ListByTag returns the caller's own and all anonymous entries under tag
func (s *Shard) ListByTag(caller types.Identity, tag string) ([]types.Entry, error) {
	if tag == "" {
		return nil, ErrEmptyTag
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.List(tag, caller), nil
}

// ListAll returns every entry; only moderators and controllers may call it
func (s *Shard) ListAll(caller types.Identity) ([]types.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.moderators.Contains(caller) && !s.controllers.Contains(caller) {
		return nil, ErrNotPermitted
	}
	return s.store.ListAll(), nil
}

// Summary returns the last regenerated effective index, or a fresh one if the
// shard never regenerated
func (s *Shard) Summary() types.EffectiveIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agent.LastPublished().IsZero() {
		return s.store.Summarize()
	}
	return s.agent.Index()
}

// --------------------------------------------------------------------------
// Administrative operations
// --------------------------------------------------------------------------

// PushModerators replaces the moderator set. A push older than the held version is
// acknowledged but ignored.
func (s *Shard) PushModerators(caller types.Identity, version uint64, moderators []types.Identity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.controllers.Contains(caller) {
		return false, ErrNotPermitted
	}
	if version < s.modVersion {
		log.Debugf("shard %d ignored moderator push v%d, holding v%d", s.cfg.ID, version, s.modVersion)
		return true, nil
	}
	s.moderators = types.NewIdentitySet(moderators...)
	s.modVersion = version
	return true, nil
}

// SetCapacity changes the capacity of the store
func (s *Shard) SetCapacity(caller types.Identity, n uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.controllers.Contains(caller) {
		return false, ErrNotPermitted
	}
	s.store.SetCapacity(n)
	log.Infof("shard %d capacity set to %d by %s", s.cfg.ID, n, caller)
	return true, nil
}

// --------------------------------------------------------------------------
// Reconciliation
// --------------------------------------------------------------------------

// Tick runs the summary agent once: regenerate the effective index if the debounce
// interval passed and push it to the coordinator unless a push is in flight.
func (s *Shard) Tick(ctx context.Context) {
	s.mu.Lock()
	attempt, ok := s.agent.Begin(s.clock.Now(), s.store, s.tokens)
	s.mu.Unlock()
	if !ok {
		return
	}

	callCtx, cancel := env.CallContext(ctx, s.cfg.CallTimeout)
	accepted, err := s.coordinator.PushSummary(callCtx, s.cfg.ID, attempt.Index)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil || !accepted {
		if err == nil {
			err = errors.New("summary refused")
		}
		log.Warningf("shard %d failed to publish summary: %v", s.cfg.ID, err)
		s.agent.Fail()
		return
	}
	if !s.agent.Succeed(attempt.Token) {
		log.Debugf("shard %d ignored stale publish completion %s", s.cfg.ID, attempt.Token)
	}
}

// PublishState returns the current publish state of the summary agent
func (s *Shard) PublishState() PublishState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, _ := s.agent.State()
	return st
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

// Metrics is a point-in-time report of a shard
type Metrics struct {
	ID            types.NodeID
	Entries       uint64
	MaxEntries    uint64
	Tags          int
	Moderators    int
	PublishState  PublishState
	LastPublished time.Time
	Accepted      int64
	Rejected      int64
	BodySizeMean  float64
	BodySizeMax   int64
	BodySizeP95   float64
}

// Metrics collects the current metrics of the shard
func (s *Shard) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, _ := s.agent.State()
	body := s.bodySize.Snapshot()
	return Metrics{
		ID:            s.cfg.ID,
		Entries:       s.store.Len(),
		MaxEntries:    s.store.Cap(),
		Tags:          len(s.store.entries),
		Moderators:    len(s.moderators),
		PublishState:  st,
		LastPublished: s.agent.LastPublished(),
		Accepted:      s.accepted.Count(),
		Rejected:      s.rejected.Count(),
		BodySizeMean:  body.Mean(),
		BodySizeMax:   body.Max(),
		BodySizeP95:   body.Percentile(0.95),
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

	addSection(fmt.Sprintf("Shard %d", m.ID))
	addField("Entries", fmt.Sprintf("%d / %d", m.Entries, m.MaxEntries))
	addField("Tags", m.Tags)
	addField("Moderators", m.Moderators)

	addSection("Summary")
	addField("Publish State", m.PublishState)
	if m.LastPublished.IsZero() {
		addField("Last Regenerated", "never")
	} else {
		addField("Last Regenerated", m.LastPublished.Format(time.RFC3339))
	}

	addSection("Submits")
	addField("Accepted", m.Accepted)
	addField("Rejected", m.Rejected)
	addField("Body Size Mean", fmt.Sprintf("%.1f B", m.BodySizeMean))
	addField("Body Size p95", fmt.Sprintf("%.1f B", m.BodySizeP95))
	addField("Body Size Max", fmt.Sprintf("%d B", m.BodySizeMax))
	return sb.String()
}

// --------------------------------------------------------------------------
// Snapshot support
// --------------------------------------------------------------------------

// State is the serializable form of a shard
type State struct {
	Config        Config
	Store         StoreState
	Index         types.EffectiveIndex
	LastPublished time.Time
}

// Snapshot captures the full state of the shard. An in-flight publish is not part
// of the state.
func (s *Shard) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.cfg
	cfg.MaxEntries = s.store.Cap()
	cfg.Moderators = s.moderators.Sorted()
	cfg.ModeratorsVersion = s.modVersion
	return State{
		Config:        cfg,
		Store:         s.store.state(),
		Index:         s.agent.Index(),
		LastPublished: s.agent.LastPublished(),
	}
}

// Restore rebuilds a shard from a snapshot. The publish state starts at Idle.
func Restore(st State, clock env.Clock, tokens env.TokenSource, coordinator env.CoordinatorClient) (*Shard, error) {
	if st.Config.ID == 0 {
		return nil, fmt.Errorf("shard snapshot without node id")
	}
	store := restoreStore(st.Store)
	// entries are never removed, so a published count above the stored one is corruption
	if st.Index.CurrentEntries > store.Len() {
		return nil, fmt.Errorf("shard %d snapshot inconsistent: index reports %d entries, store holds %d",
			st.Config.ID, st.Index.CurrentEntries, store.Len())
	}
	if st.Config.ReindexInterval <= 0 {
		st.Config.ReindexInterval = DefaultReindexInterval
	}
	s := newShard(st.Config, store, clock, tokens, coordinator)
	s.agent.index = st.Index
	s.agent.lastPublished = st.LastPublished
	return s, nil
}
