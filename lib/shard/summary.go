package shard

import (
	"time"

	"github.com/ValentinKolb/dBucket/lib/env"
	"github.com/ValentinKolb/dBucket/lib/types"
)

// DefaultReindexInterval is the minimum time between two summary regenerations
const DefaultReindexInterval = 5 * time.Second

// PublishState is the state of the summary publication of a shard
type PublishState uint8

const (
	Idle       PublishState = iota // nothing in flight, ready to publish
	Publishing                     // a push is in flight, owned by token
	Committed                      // the last push was accepted
)

func (s PublishState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Publishing:
		return "publishing"
	case Committed:
		return "committed"
	default:
		return "unknown"
	}
}

// Attempt is one publish attempt handed out by SummaryAgent.Begin
type Attempt struct {
	Token env.Token
	Index types.EffectiveIndex
}

// SummaryAgent derives the effective index of a store and tracks its publication
// to the coordinator.
//
// The agent does no locking itself. Begin, Succeed and Fail are each called while
// the owning shard holds its lock, and the remote push happens between them with
// the lock released.
type SummaryAgent struct {
	interval      time.Duration
	state         PublishState
	token         env.Token
	lastPublished time.Time
	index         types.EffectiveIndex
}

// NewSummaryAgent creates an agent that regenerates at most once per interval
func NewSummaryAgent(interval time.Duration) *SummaryAgent {
	return &SummaryAgent{interval: interval}
}

// Begin runs the debounce, regeneration and claim steps of a tick. It returns an
// attempt if the caller should push the index now.
func (a *SummaryAgent) Begin(now time.Time, store *Store, tokens env.TokenSource) (Attempt, bool) {
	if !a.lastPublished.IsZero() && now.Sub(a.lastPublished) < a.interval {
		return Attempt{}, false
	}

	a.index = store.Summarize()
	a.lastPublished = now

	// one push in flight at a time
	if a.state == Publishing {
		return Attempt{}, false
	}

	a.token = tokens.Next()
	a.state = Publishing
	return Attempt{Token: a.token, Index: a.index}, true
}

// Succeed commits the attempt owning token. It reports false if the attempt is
// stale and the state was left untouched.
func (a *SummaryAgent) Succeed(token env.Token) bool {
	if a.state != Publishing || a.token != token {
		return false
	}
	a.state = Committed
	a.token = env.NoToken
	return true
}

// Fail rolls the state back to Idle so the next eligible tick retries
func (a *SummaryAgent) Fail() {
	a.state = Idle
	a.token = env.NoToken
}

// State returns the current publish state and the token owning it
func (a *SummaryAgent) State() (PublishState, env.Token) {
	return a.state, a.token
}

// Index returns the last regenerated effective index
func (a *SummaryAgent) Index() types.EffectiveIndex {
	return a.index
}

// LastPublished returns the time of the last regeneration
func (a *SummaryAgent) LastPublished() time.Time {
	return a.lastPublished
}
