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

package ratelimit

import (
	"testing"
	"time"

	"fortio.org/assert"
)

// TestLinear10Hz is scenario S1.
func TestLinear10Hz(t *testing.T) {
	l, err := NewLinear(10)
	assert.NoError(t, err)
	base := time.Now()

	assert.False(t, l.TryAcquireOne(base), "t=0 first call should return false")

	assert.True(t, l.TryAcquireOne(base.Add(100*time.Millisecond)))
	assert.False(t, l.TryAcquireOne(base.Add(100*time.Millisecond)))

	t2 := base.Add(1100 * time.Millisecond)
	for i := 0; i < 10; i++ {
		assert.True(t, l.TryAcquireOne(t2), "grant %d at t=1100ms should succeed", i)
	}
	assert.False(t, l.TryAcquireOne(t2), "11th call at t=1100ms should fail")
}

func TestLinearInvalidFrequency(t *testing.T) {
	_, err := NewLinear(0)
	if err == nil {
		t.Fatal("expected error for 0Hz")
	}
	_, err = NewLinear(-5)
	if err == nil {
		t.Fatal("expected error for negative Hz")
	}
}

// TestBursting3Around10Hz is scenario S2.
func TestBursting3Around10Hz(t *testing.T) {
	inner, err := NewLinear(10)
	assert.NoError(t, err)
	b, err := NewBursting(inner, 3)
	assert.NoError(t, err)
	base := time.Now()

	// Drain non-bursting window up to t=200ms (no true expected yet).
	for _, ms := range []int{0, 100, 200} {
		for i := 0; i < 2; i++ {
			got := b.TryAcquireOne(base.Add(time.Duration(ms) * time.Millisecond))
			assert.False(t, got, "t=%dms call %d should not release yet", ms, i)
		}
	}

	t300 := base.Add(300 * time.Millisecond)
	assert.True(t, b.TryAcquireOne(t300))
	assert.True(t, b.TryAcquireOne(t300))
	assert.True(t, b.TryAcquireOne(t300))
	assert.False(t, b.TryAcquireOne(t300), "4th call at t=300ms should fail")

	t600 := base.Add(600 * time.Millisecond)
	assert.True(t, b.TryAcquireOne(t600))
	assert.True(t, b.TryAcquireOne(t600))
	assert.True(t, b.TryAcquireOne(t600))
	assert.False(t, b.TryAcquireOne(t600), "4th call at t=600ms should fail")
}

// TestBurstingConservation is invariant 4: total grants issued by
// Bursting(N, inner), plus the inner grants still held in a partial burst,
// equals the grants inner would have issued alone.
func TestBurstingConservation(t *testing.T) {
	inner, _ := NewLinear(37)
	innerRef, _ := NewLinear(37)
	b, _ := NewBursting(inner, 5)
	base := time.Now()
	var burstGrants, innerGrants int
	for ms := 0; ms < 5000; ms++ {
		now := base.Add(time.Duration(ms) * time.Millisecond)
		for b.TryAcquireOne(now) {
			burstGrants++
		}
		for innerRef.TryAcquireOne(now) {
			innerGrants++
		}
	}
	assert.Equal(t, innerGrants, burstGrants+int(b.accumulated))
}

func TestLinearRampingReachesFinalRate(t *testing.T) {
	r, err := NewLinearRamping(100, time.Second)
	assert.NoError(t, err)
	base := time.Now()
	var grants int
	for ms := 0; ms < 2000; ms += 10 {
		if r.TryAcquireOne(base.Add(time.Duration(ms) * time.Millisecond)) {
			grants++
		}
	}
	// Integral over [0,2s] = 0.5*100*1 + 100*1 = 150, loose tolerance for
	// discretization.
	assert.True(t, grants >= 140 && grants <= 160, "got %d grants, want ~150", grants)
}

func TestLinearRampingInvalidParams(t *testing.T) {
	_, err := NewLinearRamping(0, time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	_, err = NewLinearRamping(10, 0)
	if err == nil {
		t.Fatal("expected error for non-positive ramp")
	}
}

func TestScheduledStarting(t *testing.T) {
	inner, _ := NewLinear(1000)
	base := time.Now()
	start := base.Add(time.Second)
	s, err := NewScheduledStarting(inner, start, base)
	assert.NoError(t, err)
	assert.False(t, s.TryAcquireOne(base.Add(500*time.Millisecond)))
	// The first delegated call starts the inner Linear's clock, so it grants
	// nothing yet; 10ms later at 1000Hz one grant is due.
	assert.False(t, s.TryAcquireOne(base.Add(1500*time.Millisecond)))
	assert.True(t, s.TryAcquireOne(base.Add(1510*time.Millisecond)))
}

func TestScheduledStartingPastRejected(t *testing.T) {
	inner, _ := NewLinear(1)
	base := time.Now()
	_, err := NewScheduledStarting(inner, base.Add(-time.Second), base)
	if err == nil {
		t.Fatal("expected error for past scheduled start")
	}
}

func TestDistributionSamplingPreservesTotal(t *testing.T) {
	inner, _ := NewLinear(50)
	ds := NewDistributionSampling(inner, UniformJitter{Max: 20 * time.Millisecond}, nil)
	base := time.Now()
	var grants int
	for ms := 0; ms < 3000; ms++ {
		now := base.Add(time.Duration(ms) * time.Millisecond)
		for ds.TryAcquireOne(now) {
			grants++
		}
	}
	// All inner grants eventually materialize, allow for a few still queued
	// at window's end.
	assert.True(t, grants >= 140 && grants <= 151, "got %d grants", grants)
}

func TestFilteringRampsToFullPassthrough(t *testing.T) {
	inner, _ := NewLinear(1000)
	f, err := NewLinearlyOpening(inner, time.Second, nil)
	assert.NoError(t, err)
	base := time.Now()
	var early, late int
	for ms := 0; ms < 100; ms++ {
		if f.TryAcquireOne(base.Add(time.Duration(ms) * time.Millisecond)) {
			early++
		}
	}
	for ms := 2000; ms < 2100; ms++ {
		if f.TryAcquireOne(base.Add(time.Duration(ms) * time.Millisecond)) {
			late++
		}
	}
	assert.True(t, late > early, "pass-through rate should increase over time: early=%d late=%d", early, late)
}

func TestZipfInvalidParams(t *testing.T) {
	inner, _ := NewLinear(10)
	_, err := NewZipf(inner, 1, 1, time.Microsecond, nil)
	if err == nil {
		t.Fatal("expected error for q<=1")
	}
	_, err = NewZipf(inner, 2, 0, time.Microsecond, nil)
	if err == nil {
		t.Fatal("expected error for v<=0")
	}
}

func TestZipfGrantsNonNegative(t *testing.T) {
	inner, _ := NewLinear(100)
	z, err := NewZipf(inner, 1.5, 1, time.Microsecond, nil)
	assert.NoError(t, err)
	base := time.Now()
	var grants int
	for ms := 0; ms < 1000; ms++ {
		now := base.Add(time.Duration(ms) * time.Millisecond)
		for z.TryAcquireOne(now) {
			grants++
		}
	}
	assert.True(t, grants >= 0)
}
