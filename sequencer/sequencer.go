// Copyright 2017 Fortio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sequencer drives one RateLimiter/Target/TerminationPredicate
// triple at the pace the limiter allows, the way periodic.PeriodicRunner
// drives its Function at the pace its target QPS allows (periodic.go). It
// replaces the teacher's single-goroutine blocking sleep-to-target-elapsed
// loop with two cooperating timers (a 1ms periodic tick and a zero-delay
// spin tick) plus a completion channel, so that a Target's completion -
// which on a real client arrives on whatever goroutine finished the I/O -
// is always applied by the Sequencer's own loop goroutine, never by the
// I/O goroutine itself.
package sequencer

import (
	"sync"
	"sync/atomic"
	"time"

	"fortio.org/log"

	"github.com/envoyproxy/nighthawk-sub000/ratelimit"
	"github.com/envoyproxy/nighthawk-sub000/stats"
	"github.com/envoyproxy/nighthawk-sub000/termination"
)

// IdleStrategy controls what the Sequencer does after a spin-triggered
// pulse finds nothing more to do, until the next completion or periodic
// tick wakes it again.
type IdleStrategy int

const (
	// Spin re-arms the spin timer immediately (busy loop, lowest latency,
	// highest CPU use).
	Spin IdleStrategy = iota
	// Poll does nothing extra; the next pulse comes from the 1ms periodic
	// tick or the next completion.
	Poll
	// Sleep re-arms the spin timer after a short pause, trading latency
	// for CPU use between Spin and Poll.
	Sleep
)

// PeriodicInterval is the cadence of the always-on timer (§4.4).
const PeriodicInterval = time.Millisecond

// SleepIdleDelay is the pause Sleep-strategy idling uses between spins.
const SleepIdleDelay = 50 * time.Microsecond

// CompletionCallback is handed to a Target each time it is asked to start;
// the Target must call it exactly once, whenever the operation concludes,
// with success indicating whether it should count toward
// targets_completed (true) or not (false). A per-request failure here is
// transient - the Target is responsible for recording it under its own
// counters (e.g. pool_connection_failure, stream_resets); it does not by
// itself make the run sequencer.failed_terminations (§4.4, §7) - that
// counter only reflects the termination chain latching a FAIL status.
type CompletionCallback func(success bool)

// Target attempts to start one unit of work and reports whether it
// admitted it. If it returns true, it must invoke the CompletionCallback
// exactly once, asynchronously, whenever the work concludes. If it
// returns false, it must not invoke the callback at all - the caller is
// expected to treat the grant as unused (§4.2's ReleaseOne contract).
type Target func(onComplete CompletionCallback) bool

// Clock lets tests substitute a deterministic time source; defaults to
// time.Now.
type Clock func() time.Time

// Sequencer paces calls into a Target at the rate its RateLimiter allows,
// stopping when its TerminationPredicate chain latches (§3, §4.4).
type Sequencer struct {
	target  Target
	limiter ratelimit.RateLimiter
	chain   *termination.Chain
	cancel  *termination.Cancellation
	idle    IdleStrategy
	clock   Clock

	latencyStat stats.Statistic
	blockedStat stats.Statistic

	completions chan completionMsg

	spinCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
	stopOnce sync.Once

	targetsInitiated   atomic.Uint64
	targetsCompleted   atomic.Uint64
	failedTerminations atomic.Uint64

	mu           sync.Mutex
	running      bool
	blocked      bool
	blockedStart time.Time
	startTime    time.Time
	lastEventTime time.Time
	failed       bool
}

type completionMsg struct {
	dispatch time.Time
	success  bool
}

// Config bundles the construction-time dependencies of a Sequencer.
type Config struct {
	Target      Target
	Limiter     ratelimit.RateLimiter
	Chain       *termination.Chain
	LatencyStat stats.Statistic
	BlockedStat stats.Statistic
	Idle        IdleStrategy
	Clock       Clock
}

// New creates a Sequencer. A Cancellation predicate is always appended to
// the end of the given chain (§4.6), so callers don't need to build one
// themselves in order to be able to call Cancel.
func New(cfg Config) *Sequencer {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	chain := cfg.Chain
	if chain == nil {
		chain = termination.NewChain()
	}
	cancel := &termination.Cancellation{}
	chain.Link(cancel)
	return &Sequencer{
		target:      cfg.Target,
		limiter:     cfg.Limiter,
		chain:       chain,
		cancel:      cancel,
		idle:        cfg.Idle,
		clock:       clock,
		latencyStat: cfg.LatencyStat,
		blockedStat: cfg.BlockedStat,
		completions: make(chan completionMsg, 256),
		spinCh:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// countersView adapts the Sequencer's own counters to termination.Counters
// so CounterThreshold predicates (e.g. on sequencer.failed_terminations)
// can observe them without a data race: it's only ever read from within
// the loop goroutine, at pulse time.
type countersView struct{ s *Sequencer }

func (c countersView) Get(name string) uint64 {
	switch name {
	case "sequencer.targets_initiated":
		return c.s.targetsInitiated.Load()
	case "sequencer.targets_completed":
		return c.s.targetsCompleted.Load()
	case "sequencer.failed_terminations":
		return c.s.failedTerminations.Load()
	default:
		return 0
	}
}

// Start begins pacing calls into the Target on a dedicated goroutine. It
// returns immediately; use WaitForCompletion to block until the run ends.
func (s *Sequencer) Start() {
	s.mu.Lock()
	s.running = true
	s.startTime = s.clock()
	s.lastEventTime = s.startTime
	s.mu.Unlock()
	s.armSpin()
	go s.loop()
}

func (s *Sequencer) armSpin() {
	select {
	case s.spinCh <- struct{}{}:
	default:
	}
}

func (s *Sequencer) loop() {
	ticker := time.NewTicker(PeriodicInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.pulse(true) {
				return
			}
		case <-s.spinCh:
			if s.pulse(false) {
				return
			}
		case m := <-s.completions:
			s.onCompletion(m)
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if running {
				s.armSpin()
			}
		case <-s.stopCh:
			return
		}
	}
}

// pulse runs one evaluation of the termination chain followed by as many
// admitted starts as the rate limiter allows right now (§4.4 step 4). It
// returns true once the Sequencer has stopped.
func (s *Sequencer) pulse(fromPeriodic bool) bool {
	now := s.clock()
	s.mu.Lock()
	s.lastEventTime = now
	s.mu.Unlock()

	status := s.chain.EvaluateChain(now, countersView{s})
	if status != termination.Proceed {
		s.stop(status == termination.Fail, now)
		return true
	}

	for s.limiter.TryAcquireOne(now) {
		dispatchTime := now
		started := s.target(func(success bool) {
			s.completions <- completionMsg{dispatch: dispatchTime, success: success}
		})
		if !started {
			s.limiter.ReleaseOne()
			s.mu.Lock()
			if !s.blocked {
				s.blocked = true
				s.blockedStart = now
			}
			s.mu.Unlock()
			break
		}
		s.targetsInitiated.Add(1)
		s.mu.Lock()
		if s.blocked {
			if s.blockedStat != nil {
				s.blockedStat.AddValue(uint64(now.Sub(s.blockedStart).Nanoseconds()))
			}
			s.blocked = false
		}
		s.mu.Unlock()
	}

	if !fromPeriodic {
		s.applyIdleStrategy()
	}
	return false
}

func (s *Sequencer) applyIdleStrategy() {
	switch s.idle {
	case Spin:
		s.armSpin()
	case Sleep:
		time.AfterFunc(SleepIdleDelay, s.armSpin)
	case Poll:
		// Nothing: the periodic tick or next completion will wake the loop.
	}
}

func (s *Sequencer) onCompletion(m completionMsg) {
	if !m.success {
		// A per-request failure (pool_connection_failure, stream_resets,
		// ...) is transient and already recorded by the Target under its
		// own counters; the sequencer doesn't also count it toward
		// failed_terminations (§7: PoolFailure/StreamReset "the sequencer
		// continues").
		return
	}
	s.targetsCompleted.Add(1)
	if s.latencyStat != nil {
		elapsed := s.clock().Sub(m.dispatch)
		s.latencyStat.AddValue(uint64(elapsed.Nanoseconds()))
	}
}

func (s *Sequencer) stop(failed bool, now time.Time) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.failed = failed
	if failed {
		s.failedTerminations.Add(1)
	}
	if s.blocked && s.blockedStat != nil {
		s.blockedStat.AddValue(uint64(now.Sub(s.blockedStart).Nanoseconds()))
		s.blocked = false
	}
	s.mu.Unlock()
	s.stopOnce.Do(func() {
		log.LogVf("sequencer stopping, failed=%v, reason=%s", failed, s.chain.LatchedReason())
		close(s.doneCh)
	})
}

// Cancel requests an out-of-band stop (e.g. a forwarded interrupt, §4.6).
// The chain observes it, and therefore stops the loop, at the next pulse.
func (s *Sequencer) Cancel() {
	s.cancel.Request()
	s.armSpin()
}

// WaitForCompletion blocks until the run has stopped.
func (s *Sequencer) WaitForCompletion() {
	<-s.doneCh
}

// ExecutionDuration is the wall-clock span between Start and the last
// evaluated pulse (§4.4).
func (s *Sequencer) ExecutionDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventTime.Sub(s.startTime)
}

// CompletionsPerSecond is targets_completed divided by ExecutionDuration.
func (s *Sequencer) CompletionsPerSecond() float64 {
	d := s.ExecutionDuration()
	if d <= 0 {
		return 0
	}
	return float64(s.targetsCompleted.Load()) / d.Seconds()
}

// Statistics returns the latency and blocked-time Statistic this Sequencer
// was constructed with.
func (s *Sequencer) Statistics() (latency, blocked stats.Statistic) {
	return s.latencyStat, s.blockedStat
}

// TargetsInitiated is the count of Target calls that returned true.
func (s *Sequencer) TargetsInitiated() uint64 { return s.targetsInitiated.Load() }

// TargetsCompleted is the count of completions reported with success=true.
func (s *Sequencer) TargetsCompleted() uint64 { return s.targetsCompleted.Load() }

// FailedTerminations is 1 if this Sequencer's termination chain latched a
// FAIL status (driven by a failure_predicates CounterThreshold or by
// Cancel, §4.4),
// 0 otherwise - this is the sequencer.failed_terminations counter that
// §7 treats as the canonical "did this run fail" signal.
func (s *Sequencer) FailedTerminations() uint64 { return s.failedTerminations.Load() }

// Failed reports whether the run ended via a FAIL status.
func (s *Sequencer) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}
