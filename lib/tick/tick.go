// Package tick drives the periodic reconciliation of nodes.
//
// A Scheduler fires Tick on its node every interval in a fresh goroutine and does
// not wait for the previous tick to finish: a tick that is suspended on a remote
// call overlaps with the next one, exactly as nodes expect.
package tick

import (
	"context"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("tick")

// Ticker is a node with a periodic entry point
type Ticker interface {
	Tick(ctx context.Context)
}

// Scheduler triggers a Ticker at a fixed interval until stopped
type Scheduler struct {
	name     string
	interval time.Duration
	node     Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewScheduler creates a stopped scheduler
func NewScheduler(name string, interval time.Duration, node Ticker) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{name: name, interval: interval, node: node, ctx: ctx, cancel: cancel}
}

// Start begins triggering the node; it fires once immediately
func (s *Scheduler) Start() {
	s.once.Do(func() {
		s.wg.Add(1)
		go s.loop()
		log.Debugf("%s ticking every %s", s.name, s.interval)
	})
}

// Stop cancels in-flight ticks and waits until all of them returned
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.fire()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.fire()
		}
	}
}

func (s *Scheduler) fire() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.node.Tick(s.ctx)
	}()
}
