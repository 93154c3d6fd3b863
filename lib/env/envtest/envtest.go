// Package envtest provides deterministic test doubles for the capabilities of
// package env: a manual clock, sequential tokens, and remote clients whose
// outcomes are scripted call by call. A scripted call can also be held open so a
// test can interleave a second tick while the first one is suspended.
package envtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dBucket/lib/env"
	"github.com/ValentinKolb/dBucket/lib/types"
)

// --------------------------------------------------------------------------
// Clock and tokens
// --------------------------------------------------------------------------

// Clock is a manually advanced clock
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock starting at a fixed instant
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Tokens hands out tok-1, tok-2, ...
type Tokens struct {
	mu sync.Mutex
	n  int
}

func (t *Tokens) Next() env.Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n++
	return env.Token(fmt.Sprintf("tok-%d", t.n))
}

// --------------------------------------------------------------------------
// Scripted outcomes
// --------------------------------------------------------------------------

// Outcome is the result of one scripted call
type Outcome struct {
	Ok  bool
	Err error
}

// Held is a call that blocks until the test resolves it
type Held struct {
	entered chan struct{}
	done    chan Outcome
}

// Entered is closed once the held call has been made
func (h *Held) Entered() <-chan struct{} { return h.entered }

// Resolve lets the held call return with the given outcome
func (h *Held) Resolve(ok bool, err error) { h.done <- Outcome{Ok: ok, Err: err} }

type step struct {
	outcome Outcome
	held    *Held
}

// Script yields one queued outcome per call and Default once the queue is empty.
// The zero value succeeds every call.
type Script struct {
	mu      sync.Mutex
	queue   []step
	Default *Outcome
	calls   int
}

// Then queues an immediate outcome
func (s *Script) Then(ok bool, err error) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, step{outcome: Outcome{Ok: ok, Err: err}})
	return s
}

// Hold queues a call that blocks until resolved
func (s *Script) Hold() *Held {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &Held{entered: make(chan struct{}), done: make(chan Outcome, 1)}
	s.queue = append(s.queue, step{held: h})
	return h
}

// Calls returns the number of calls made so far
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Script) next(ctx context.Context) (bool, error) {
	s.mu.Lock()
	s.calls++
	var st step
	if len(s.queue) > 0 {
		st = s.queue[0]
		s.queue = s.queue[1:]
	} else if s.Default != nil {
		st = step{outcome: *s.Default}
	} else {
		st = step{outcome: Outcome{Ok: true}}
	}
	s.mu.Unlock()

	if st.held == nil {
		return st.outcome.Ok, st.outcome.Err
	}
	close(st.held.entered)
	select {
	case o := <-st.held.done:
		return o.Ok, o.Err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// --------------------------------------------------------------------------
// Coordinator client
// --------------------------------------------------------------------------

// Push records one PushSummary call
type Push struct {
	From  types.NodeID
	Index types.EffectiveIndex
}

// CoordinatorClient records pushed summaries and answers from its script
type CoordinatorClient struct {
	Script
	pushMu sync.Mutex
	pushes []Push
}

func (c *CoordinatorClient) PushSummary(ctx context.Context, from types.NodeID, index types.EffectiveIndex) (bool, error) {
	c.pushMu.Lock()
	c.pushes = append(c.pushes, Push{From: from, Index: index})
	c.pushMu.Unlock()
	return c.next(ctx)
}

// Pushes returns a copy of all recorded pushes
func (c *CoordinatorClient) Pushes() []Push {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()
	return append([]Push(nil), c.pushes...)
}

// --------------------------------------------------------------------------
// Shard client
// --------------------------------------------------------------------------

// ShardClient records moderator pushes per shard. Shards listed in Fail answer
// with an error.
type ShardClient struct {
	mu       sync.Mutex
	failing  map[types.NodeID]bool
	received map[types.NodeID][]types.Identity
	versions map[types.NodeID]uint64
	calls    int
}

// NewShardClient creates a shard client that accepts every push
func NewShardClient() *ShardClient {
	return &ShardClient{
		failing:  make(map[types.NodeID]bool),
		received: make(map[types.NodeID][]types.Identity),
		versions: make(map[types.NodeID]uint64),
	}
}

// SetFailing makes pushes to the given shard fail (or succeed again)
func (c *ShardClient) SetFailing(id types.NodeID, failing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing[id] = failing
}

func (c *ShardClient) PushModerators(_ context.Context, shard types.NodeID, version uint64, moderators []types.Identity) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failing[shard] {
		return false, fmt.Errorf("shard %d unreachable", shard)
	}
	c.received[shard] = append([]types.Identity(nil), moderators...)
	c.versions[shard] = version
	return true, nil
}

// Received returns the last moderator set a shard accepted
func (c *ShardClient) Received(id types.NodeID) ([]types.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.received[id]
	return m, ok
}

// Calls returns the number of pushes attempted
func (c *ShardClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// --------------------------------------------------------------------------
// Provisioner
// --------------------------------------------------------------------------

// Provisioner hands out sequential node ids starting at FirstID. Creates and
// Installs script the two calls; DeleteErr is returned by DeleteInstance.
type Provisioner struct {
	Creates   Script
	Installs  Script
	DeleteErr error
	FirstID   types.NodeID

	mu        sync.Mutex
	created   []types.NodeID
	installed map[types.NodeID]env.InstallArgs
	deleted   []types.NodeID
	activated []types.NodeID
}

func (p *Provisioner) CreateInstance(ctx context.Context, _ env.InstanceSettings) (types.NodeID, error) {
	ok, err := p.Creates.next(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("instance creation refused")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	first := p.FirstID
	if first == 0 {
		first = 100
	}
	id := first + types.NodeID(len(p.created))
	p.created = append(p.created, id)
	return id, nil
}

func (p *Provisioner) Install(ctx context.Context, id types.NodeID, args env.InstallArgs) (bool, error) {
	ok, err := p.Installs.next(ctx)
	if err != nil || !ok {
		return ok, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.installed == nil {
		p.installed = make(map[types.NodeID]env.InstallArgs)
	}
	p.installed[id] = args
	return true, nil
}

func (p *Provisioner) DeleteInstance(_ context.Context, id types.NodeID) error {
	if p.DeleteErr != nil {
		return p.DeleteErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, id)
	return nil
}

func (p *Provisioner) Activate(_ context.Context, id types.NodeID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.installed[id]; !ok {
		return fmt.Errorf("instance %d is not installed", id)
	}
	p.activated = append(p.activated, id)
	return nil
}

// Created returns the ids of all created instances
func (p *Provisioner) Created() []types.NodeID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.NodeID(nil), p.created...)
}

// Installed returns the install arguments of a shard, if it was installed
func (p *Provisioner) Installed(id types.NodeID) (env.InstallArgs, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.installed[id]
	return a, ok
}

// Activated returns the ids of all activated shards in activation order
func (p *Provisioner) Activated() []types.NodeID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.NodeID(nil), p.activated...)
}

// Deleted returns the ids of all reclaimed instances
func (p *Provisioner) Deleted() []types.NodeID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.NodeID(nil), p.deleted...)
}
