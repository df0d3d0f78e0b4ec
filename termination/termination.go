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

// Package termination implements the chained TerminationPredicate that
// decides when a Sequencer run ends, and why (§3, §4.3). It mirrors the
// teacher's periodic.Aborter in spirit - a small, explicitly-latched
// piece of shared state a Sequencer pulse consults once per tick - but
// generalizes it into a composable chain instead of a single channel.
package termination

import (
	"fmt"
	"time"

	"fortio.org/log"
)

// Status is the result of evaluating a predicate or a chain.
type Status int

const (
	// Proceed means the run should keep going.
	Proceed Status = iota
	// Terminate means the run should stop cleanly (not a failure).
	Terminate
	// Fail means the run should stop and be counted as failed.
	Fail
)

func (s Status) String() string {
	switch s {
	case Proceed:
		return "PROCEED"
	case Terminate:
		return "TERMINATE"
	case Fail:
		return "FAIL"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Counters is the minimal read-only view a CounterThreshold predicate needs
// into the owning Sequencer/BenchmarkClient's counter set.
type Counters interface {
	Get(name string) uint64
}

// MapCounters adapts a plain map to the Counters interface.
type MapCounters map[string]uint64

func (m MapCounters) Get(name string) uint64 { return m[name] }

// Predicate is one link in a termination chain.
type Predicate interface {
	// Evaluate is called with the sequencer's cached monotonic "now" and a
	// view of the current counters; it must be a total, non-blocking
	// function (§4.3, §5 cached-monotonic-time trick).
	Evaluate(now time.Time, counters Counters) Status
	// Name identifies the predicate for logging/diagnostics.
	Name() string
}

// Chain is a linked list of Predicates evaluated child-first; the first
// non-PROCEED result short-circuits and is latched (§3, §4.3, invariant 6).
type Chain struct {
	head    Predicate
	tail    *Chain
	latched bool
	status  Status
	reason  string
}

// NewChain creates an empty chain. An empty chain always evaluates to
// PROCEED.
func NewChain() *Chain {
	return &Chain{}
}

// Link appends a single predicate to the end of the chain.
func (c *Chain) Link(p Predicate) *Chain {
	return c.AppendToChain(&Chain{head: p})
}

// AppendToChain appends another (sub-)chain to the end of the transitive
// chain starting at c, and returns the chain head (c) for fluent use.
func (c *Chain) AppendToChain(other *Chain) *Chain {
	cur := c
	for cur.tail != nil {
		cur = cur.tail
	}
	if cur.head == nil {
		// c was empty; splice other in directly.
		*cur = *other
		return c
	}
	cur.tail = other
	return c
}

// EvaluateChain walks the chain child-first (head first, i.e. predicates
// appended earlier run first) and returns the first non-PROCEED result.
// Once latched, further calls return the same status without re-evaluating
// any predicate (invariant 6).
func (c *Chain) EvaluateChain(now time.Time, counters Counters) Status {
	if c.latched {
		return c.status
	}
	node := c
	for node != nil && node.head != nil {
		st := node.head.Evaluate(now, counters)
		if st != Proceed {
			c.latch(st, node.head.Name())
			return st
		}
		node = node.tail
	}
	return Proceed
}

func (c *Chain) latch(status Status, reason string) {
	c.latched = true
	c.status = status
	c.reason = reason
	log.LogVf("termination chain latched %v by %q", status, reason)
}

// LatchedReason returns the name of the predicate that latched the chain,
// or "" if it hasn't latched yet.
func (c *Chain) LatchedReason() string {
	return c.reason
}

// IsLatched reports whether the chain has already produced a non-PROCEED
// result.
func (c *Chain) IsLatched() bool {
	return c.latched
}

// Duration terminates once elapsed monotonic time reaches the configured
// duration (§4.3).
type Duration struct {
	D     time.Duration
	start time.Time
	armed bool
}

// NewDuration creates a Duration predicate that starts its clock on first
// Evaluate call.
func NewDuration(d time.Duration) *Duration {
	return &Duration{D: d}
}

func (d *Duration) Name() string { return "Duration" }

func (d *Duration) Evaluate(now time.Time, _ Counters) Status {
	if !d.armed {
		d.start = now
		d.armed = true
	}
	if now.Sub(d.start) >= d.D {
		return Terminate
	}
	return Proceed
}

// CounterThreshold returns TerminalStatus once the named counter exceeds
// Limit (§4.3).
type CounterThreshold struct {
	CounterName    string
	Limit          uint64
	TerminalStatus Status // must be Terminate or Fail
}

// NewCounterThreshold creates a CounterThreshold predicate.
func NewCounterThreshold(name string, limit uint64, terminal Status) *CounterThreshold {
	return &CounterThreshold{CounterName: name, Limit: limit, TerminalStatus: terminal}
}

func (c *CounterThreshold) Name() string {
	return fmt.Sprintf("CounterThreshold(%s>%d)", c.CounterName, c.Limit)
}

func (c *CounterThreshold) Evaluate(_ time.Time, counters Counters) Status {
	if counters == nil {
		return Proceed
	}
	if counters.Get(c.CounterName) > c.Limit {
		return c.TerminalStatus
	}
	return Proceed
}

// Cancellation is latched externally (e.g. on SIGINT forwarding, §4.6) and
// always reports FAIL once triggered, matching the "Cancelled" error kind
// (§7) which is recorded, not treated as a crash.
type Cancellation struct {
	requested bool
}

func (c *Cancellation) Name() string { return "Cancellation" }

// Request marks the predicate to return FAIL on next/any evaluation.
func (c *Cancellation) Request() {
	c.requested = true
}

func (c *Cancellation) Evaluate(_ time.Time, _ Counters) Status {
	if c.requested {
		return Fail
	}
	return Proceed
}
