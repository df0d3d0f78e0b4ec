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

package stats

import (
	"errors"
	"math"
	"testing"

	"fortio.org/assert"
)

func TestStreamingMonotonicCount(t *testing.T) {
	s := NewStreaming("latency")
	var prev uint64
	for i := uint64(1); i <= 100; i++ {
		s.AddValue(i * 1000)
		assert.True(t, s.Count() >= prev, "count must be monotonic")
		prev = s.Count()
	}
	assert.Equal(t, uint64(100), s.Count())
}

func TestStreamingMeanUndefinedWhenEmpty(t *testing.T) {
	s := NewStreaming("empty")
	assert.True(t, math.IsNaN(s.Mean()), "mean of empty stat should be NaN")
	assert.True(t, math.IsNaN(s.PopulationStdev()), "stdev of empty stat should be NaN")
}

func TestCombineTypeMismatch(t *testing.T) {
	a := NewStreaming("a")
	b := NewSimple("b")
	a.AddValue(1)
	b.AddValue(1)
	_, err := a.Combine(b)
	if err == nil {
		t.Fatal("expected TypeMismatchError")
	}
	var tme *TypeMismatchError
	if !errors.As(err, &tme) {
		t.Fatalf("expected *TypeMismatchError, got %T: %v", err, err)
	}
}

func sampleValues() []uint64 {
	return []uint64{100, 250, 10, 999, 42, 7, 500}
}

func TestCombineCommutative(t *testing.T) {
	for _, kind := range []string{"streaming", "simple", "inmemory"} {
		a, _ := NewByKind(kind, "a", 0)
		b, _ := NewByKind(kind, "b", 0)
		values := sampleValues()
		for i, v := range values {
			if i%2 == 0 {
				a.AddValue(v)
			} else {
				b.AddValue(v)
			}
		}
		ab, err := a.Combine(b)
		assert.NoError(t, err)
		ba, err := b.Combine(a)
		assert.NoError(t, err)
		assert.Equal(t, ab.Count(), ba.Count())
		assert.Equal(t, ab.Min(), ba.Min())
		assert.Equal(t, ab.Max(), ba.Max())
		assert.True(t, math.Abs(ab.Mean()-ba.Mean()) < 1e-6, "%s: means should agree", kind)
	}
}

func TestCombineAssociative(t *testing.T) {
	for _, kind := range []string{"streaming", "simple"} {
		a, _ := NewByKind(kind, "a", 0)
		b, _ := NewByKind(kind, "b", 0)
		c, _ := NewByKind(kind, "c", 0)
		for _, v := range []uint64{10, 20, 30} {
			a.AddValue(v)
		}
		for _, v := range []uint64{40, 50} {
			b.AddValue(v)
		}
		for _, v := range []uint64{60, 70, 80, 90} {
			c.AddValue(v)
		}
		ab, _ := a.Combine(b)
		abc1, err := ab.Combine(c)
		assert.NoError(t, err)
		bc, _ := b.Combine(c)
		abc2, err := a.Combine(bc)
		assert.NoError(t, err)
		assert.Equal(t, abc1.Count(), abc2.Count())
		assert.Equal(t, abc1.Min(), abc2.Min())
		assert.Equal(t, abc1.Max(), abc2.Max())
		assert.True(t, math.Abs(abc1.Mean()-abc2.Mean()) < 1e-6, "%s: means should agree", kind)
		assert.True(t, math.Abs(abc1.PopulationStdev()-abc2.PopulationStdev()) < 1e-3, "%s: stdev should agree", kind)
	}
}

// TestCancellationResistance is scenario S7: Streaming resists catastrophic
// cancellation at a large sample offset while Simple visibly diverges.
func TestCancellationResistance(t *testing.T) {
	const offset = 1_000_000_000
	values := []uint64{offset + 4, offset + 7, offset + 13, offset + 16}

	streaming := NewStreaming("s")
	simple := NewSimple("c")
	for _, v := range values {
		streaming.AddValue(v)
		simple.AddValue(v)
	}
	const want = 22.5
	gotStreaming := streaming.PopulationVariance()
	assert.True(t, math.Abs(gotStreaming-want) < 1e-4,
		"streaming pvariance = %v, want %v +/- 1e-4", gotStreaming, want)

	gotSimple := simple.PopulationVariance()
	relDiff := math.Abs(gotSimple-want) / want
	assert.True(t, relDiff > 0.10,
		"expected Simple to diverge by >10%% from true variance (documents the trade-off); got relDiff=%v value=%v",
		relDiff, gotSimple)
}

func TestNullIsNoOp(t *testing.T) {
	n := NewNull("n")
	n.AddValue(123)
	assert.Equal(t, uint64(0), n.Count())
	assert.True(t, math.IsNaN(n.Mean()))
}

func TestHDRDiscardsOutOfRange(t *testing.T) {
	h := NewHDR("h", 4)
	h.AddValue(0)                        // below low (1ns)
	h.AddValue(HDRHighestTrackableValue + 1) // above high
	assert.Equal(t, uint64(0), h.Count())
	h.AddValue(1000)
	assert.Equal(t, uint64(1), h.Count())
}

func TestHDRPercentilesMonotonic(t *testing.T) {
	h := NewHDR("h", 4)
	for i := uint64(1); i <= 10000; i++ {
		h.AddValue(i * 100_000) // spread across 100us..1s
	}
	var prev float64
	for _, p := range []float64{0, 10, 50, 90, 99, 99.9, 100} {
		v := h.CalcPercentile(p)
		assert.True(t, v >= prev, "percentile %v (%v) should be >= previous (%v)", p, v, prev)
		prev = v
	}
	p99 := h.CalcPercentile(99)
	// p99 of a uniform spread over [100us, 1000ms] should land near 990ms,
	// generously bounded given bucket interpolation.
	assert.True(t, p99 > 900_000_000 && p99 <= 1_000_000_000, "p99=%v out of expected range", p99)
}

func TestWireRoundTripDurationDomain(t *testing.T) {
	s := NewStreaming("latency")
	for _, v := range []uint64{1_000_000, 2_000_000, 3_000_000} {
		s.AddValue(v)
	}
	w := s.ToWire(DomainDuration)
	assert.Equal(t, s.Count(), w.Count)
	assert.Equal(t, int64(0), w.MinDuration.Seconds)
	assert.Equal(t, int32(1_000_000), w.MinDuration.Nanos)
	assert.Equal(t, int32(3_000_000), w.MaxDuration.Nanos)
}
