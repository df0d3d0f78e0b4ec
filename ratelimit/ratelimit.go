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

// Package ratelimit implements the RateLimiter algebra of §3/§4.2: a small
// family of composable acquire/release gates that decide when the next
// operation may start. The teacher (periodic.go's QPS pacing in runOne)
// computes a single target-elapsed-time and sleeps; this package
// generalizes that same idea - "how much wall time has this caller earned
// the right to act in" - into a synchronous, non-blocking try_acquire_one
// so a Sequencer can poll it without ever sleeping inside the gate itself
// (§9 DESIGN NOTES, "open-loop" invariant).
package ratelimit

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"fortio.org/log"
)

// RateLimiter gates operation starts. TryAcquireOne must never block and
// must be a total function of (self-state, now) - see §4.2.
type RateLimiter interface {
	// TryAcquireOne returns true iff the caller may start one operation now.
	TryAcquireOne(now time.Time) bool
	// ReleaseOne returns one previously-acquired grant. Calling it without a
	// matching acquisition is a programmer error.
	ReleaseOne()
	// Name identifies the limiter for diagnostics/logging.
	Name() string
}

// InvalidConfigurationError is returned by the RateLimiter constructors for
// out-of-range parameters (§4.2 edge cases).
type InvalidConfigurationError struct {
	Msg string
}

func (e *InvalidConfigurationError) Error() string { return "ratelimit: invalid configuration: " + e.Msg }

// Linear grants at an average frequency f over wall time (§3, §4.2).
type Linear struct {
	freq     float64
	acquired int64
	t0       time.Time
	started  bool
}

// NewLinear creates a Linear rate limiter at freqHz. freqHz <= 0 fails.
func NewLinear(freqHz float64) (*Linear, error) {
	if freqHz <= 0 {
		return nil, &InvalidConfigurationError{Msg: fmt.Sprintf("frequency must be > 0, got %v", freqHz)}
	}
	return &Linear{freq: freqHz}, nil
}

func (l *Linear) Name() string { return "Linear" }

func (l *Linear) TryAcquireOne(now time.Time) bool {
	if !l.started {
		l.t0 = now
		l.started = true
	}
	elapsed := now.Sub(l.t0).Seconds()
	allowed := int64(elapsed * l.freq)
	if allowed > l.acquired {
		l.acquired++
		return true
	}
	return false
}

func (l *Linear) ReleaseOne() {
	if l.acquired > 0 {
		l.acquired--
	}
}

// LinearRamping grants at a frequency that ramps linearly from 0 to a
// final frequency over a ramp duration, then continues at that final
// frequency (§3, §4.2).
type LinearRamping struct {
	finalFreq float64
	ramp      time.Duration
	acquired  int64
	t0        time.Time
	started   bool
}

// NewLinearRamping creates a ramping rate limiter. finalFreqHz <= 0 or
// ramp <= 0 fails.
func NewLinearRamping(finalFreqHz float64, ramp time.Duration) (*LinearRamping, error) {
	if finalFreqHz <= 0 {
		return nil, &InvalidConfigurationError{Msg: fmt.Sprintf("final frequency must be > 0, got %v", finalFreqHz)}
	}
	if ramp <= 0 {
		return nil, &InvalidConfigurationError{Msg: fmt.Sprintf("ramp duration must be > 0, got %v", ramp)}
	}
	return &LinearRamping{finalFreq: finalFreqHz, ramp: ramp}, nil
}

func (r *LinearRamping) Name() string { return "LinearRamping" }

// cumulative returns the expected number of grants by elapsed time t
// (seconds): the integral of the ramping-then-flat rate schedule.
func (r *LinearRamping) cumulative(t float64) float64 {
	if t <= 0 {
		return 0
	}
	rampSec := r.ramp.Seconds()
	if t < rampSec {
		return 0.5 * (r.finalFreq / rampSec) * t * t
	}
	return 0.5*r.finalFreq*rampSec + r.finalFreq*(t-rampSec)
}

func (r *LinearRamping) TryAcquireOne(now time.Time) bool {
	if !r.started {
		r.t0 = now
		r.started = true
	}
	allowed := int64(r.cumulative(now.Sub(r.t0).Seconds()))
	if allowed > r.acquired {
		r.acquired++
		return true
	}
	return false
}

func (r *LinearRamping) ReleaseOne() {
	if r.acquired > 0 {
		r.acquired--
	}
}

// burstPhase is the internal state of a Bursting limiter.
type burstPhase int

const (
	accumulating burstPhase = iota
	releasing
)

// Bursting accumulates N inner acquisitions before releasing a burst of N
// (§3, §4.2). NewBursting rejects N <= 1 with an InvalidConfigurationError;
// burst_size 0 and 1 both mean no Bursting wrapper at all (§9 open
// question #2), which package config decides via LoadSpec.BurstingEnabled.
type Bursting struct {
	inner       RateLimiter
	n           int64
	phase       burstPhase
	accumulated int64
	remaining   int64
}

// NewBursting wraps inner, releasing bursts of n. n must be > 1.
func NewBursting(inner RateLimiter, n int64) (*Bursting, error) {
	if n <= 1 {
		return nil, &InvalidConfigurationError{Msg: fmt.Sprintf("burst size must be > 1, got %d", n)}
	}
	return &Bursting{inner: inner, n: n}, nil
}

func (b *Bursting) Name() string { return "Bursting(" + b.inner.Name() + ")" }

func (b *Bursting) TryAcquireOne(now time.Time) bool {
	if b.phase == releasing {
		if b.remaining > 0 {
			b.remaining--
			if b.remaining == 0 {
				b.phase = accumulating
			}
			return true
		}
		b.phase = accumulating
	}
	for b.accumulated < b.n {
		if !b.inner.TryAcquireOne(now) {
			return false
		}
		b.accumulated++
	}
	b.phase = releasing
	b.remaining = b.n - 1
	b.accumulated = 0
	return true
}

// ReleaseOne re-increments the burst counter; per §4.2, "a release during
// the releasing phase re-increments the burst counter."
func (b *Bursting) ReleaseOne() {
	b.remaining++
	b.phase = releasing
}

// ScheduledStarting returns false until a scheduled wall-clock starting
// time, then delegates to the inner limiter (§3, §4.2).
type ScheduledStarting struct {
	inner     RateLimiter
	start     time.Time
	firstCall bool
}

// NewScheduledStarting wraps inner; start must not be in the past relative
// to now (construction-time check, §4.2 edge cases).
func NewScheduledStarting(inner RateLimiter, start, now time.Time) (*ScheduledStarting, error) {
	if start.Before(now) {
		return nil, &InvalidConfigurationError{Msg: fmt.Sprintf("scheduled start %v is in the past (now=%v)", start, now)}
	}
	return &ScheduledStarting{inner: inner, start: start, firstCall: true}, nil
}

func (s *ScheduledStarting) Name() string { return "ScheduledStarting(" + s.inner.Name() + ")" }

func (s *ScheduledStarting) TryAcquireOne(now time.Time) bool {
	if s.firstCall {
		s.firstCall = false
		if now.After(s.start) {
			log.Warnf("ScheduledStarting: first try_acquire_one at %v occurred after scheduled start %v", now, s.start)
		}
	}
	if now.Before(s.start) {
		return false
	}
	return s.inner.TryAcquireOne(now)
}

func (s *ScheduledStarting) ReleaseOne() { s.inner.ReleaseOne() }

// Distribution samples a nonnegative delay for DistributionSampling/Zipf.
type Distribution interface {
	Sample(rng *rand.Rand) time.Duration
}

// UniformJitter samples uniformly in [0, Max).
type UniformJitter struct {
	Max time.Duration
}

func (u UniformJitter) Sample(rng *rand.Rand) time.Duration {
	if u.Max <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(u.Max)))
}

// DistributionSampling wraps an inner limiter and delays each inner grant
// by a sampled nonnegative offset; pending holds the queued release times.
type DistributionSampling struct {
	inner   RateLimiter
	dist    Distribution
	rng     *rand.Rand
	pending []time.Time // kept sorted ascending
}

// NewDistributionSampling wraps inner, perturbing timing of each inner
// grant by a nonnegative delay sampled from dist (§3, §4.2).
func NewDistributionSampling(inner RateLimiter, dist Distribution, rng *rand.Rand) *DistributionSampling {
	if rng == nil {
		rng = rand.New(rand.NewSource(1)) //nolint:gosec // timing perturbation, not security sensitive
	}
	return &DistributionSampling{inner: inner, dist: dist, rng: rng}
}

func (d *DistributionSampling) Name() string { return "DistributionSampling(" + d.inner.Name() + ")" }

func (d *DistributionSampling) popReady(now time.Time) bool {
	if len(d.pending) == 0 {
		return false
	}
	if d.pending[0].After(now) {
		return false
	}
	d.pending = d.pending[1:]
	return true
}

func (d *DistributionSampling) insert(t time.Time) {
	i := sort.Search(len(d.pending), func(i int) bool { return d.pending[i].After(t) })
	d.pending = append(d.pending, time.Time{})
	copy(d.pending[i+1:], d.pending[i:])
	d.pending[i] = t
}

func (d *DistributionSampling) TryAcquireOne(now time.Time) bool {
	if d.popReady(now) {
		return true
	}
	if !d.inner.TryAcquireOne(now) {
		return false
	}
	delay := d.dist.Sample(d.rng)
	if delay < 0 {
		delay = 0
	}
	d.insert(now.Add(delay))
	return d.popReady(now)
}

func (d *DistributionSampling) ReleaseOne() { d.inner.ReleaseOne() }

// ProbabilityFunc computes the pass-through probability at elapsed time t
// since the wrapper's first acquisition.
type ProbabilityFunc func(elapsed time.Duration) float64

// Filtering wraps an inner limiter; even if the inner grants, returns true
// only with a time-dependent probability (§3, §4.2).
type Filtering struct {
	inner   RateLimiter
	prob    ProbabilityFunc
	rng     *rand.Rand
	t0      time.Time
	started bool
}

// NewFiltering wraps inner with an arbitrary ramp-probability function.
func NewFiltering(inner RateLimiter, prob ProbabilityFunc, rng *rand.Rand) *Filtering {
	if rng == nil {
		rng = rand.New(rand.NewSource(1)) //nolint:gosec
	}
	return &Filtering{inner: inner, prob: prob, rng: rng}
}

// NewLinearlyOpening is the Filtering specialization whose probability
// ramps from 0 to 1 linearly over duration (§3, §4.2).
func NewLinearlyOpening(inner RateLimiter, duration time.Duration, rng *rand.Rand) (*Filtering, error) {
	if duration <= 0 {
		return nil, &InvalidConfigurationError{Msg: fmt.Sprintf("opening duration must be > 0, got %v", duration)}
	}
	return NewFiltering(inner, func(elapsed time.Duration) float64 {
		p := float64(elapsed) / float64(duration)
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		return p
	}, rng), nil
}

func (f *Filtering) Name() string { return "Filtering(" + f.inner.Name() + ")" }

func (f *Filtering) TryAcquireOne(now time.Time) bool {
	if !f.inner.TryAcquireOne(now) {
		return false
	}
	if !f.started {
		f.t0 = now
		f.started = true
	}
	p := f.prob(now.Sub(f.t0))
	if f.rng.Float64() < p {
		return true
	}
	// Not passed through: hand the inner's grant back so it isn't lost.
	f.inner.ReleaseOne()
	return false
}

func (f *Filtering) ReleaseOne() { f.inner.ReleaseOne() }

// Zipf wraps an inner limiter, perturbing inter-arrival timing with a
// Zipf-distributed delay (§3, §4.2). Parameters are passed to
// math/rand.NewZipf: q > 1 (skew) and v (offset), which NewZipf accepts
// only when v >= 1; the sampled rank is scaled into a delay by unit.
type Zipf struct {
	*DistributionSampling
}

type zipfDistribution struct {
	z    *rand.Zipf
	unit time.Duration
}

func (z *zipfDistribution) Sample(_ *rand.Rand) time.Duration {
	return time.Duration(z.z.Uint64()) * z.unit
}

// NewZipf wraps inner with Zipf(q,v) distributed delays, each delay unit
// nanoseconds wide. q must be > 1 and v > 0 (§4.2 edge cases); a v in
// (0, 1), which math/rand.NewZipf rejects, is also reported as an error.
func NewZipf(inner RateLimiter, q, v float64, unit time.Duration, rng *rand.Rand) (*Zipf, error) {
	if q <= 1 {
		return nil, &InvalidConfigurationError{Msg: fmt.Sprintf("zipf q must be > 1, got %v", q)}
	}
	if v <= 0 {
		return nil, &InvalidConfigurationError{Msg: fmt.Sprintf("zipf v must be > 0, got %v", v)}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1)) //nolint:gosec
	}
	if unit <= 0 {
		unit = time.Microsecond
	}
	z := rand.NewZipf(rng, q, v, 1<<20)
	if z == nil {
		return nil, errors.New("ratelimit: invalid zipf parameters")
	}
	ds := NewDistributionSampling(inner, &zipfDistribution{z: z, unit: unit}, rng)
	return &Zipf{DistributionSampling: ds}, nil
}

func (z *Zipf) Name() string { return "Zipf(" + z.inner.Name() + ")" }
