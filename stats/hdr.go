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

import "math"

const (
	// HDRLowestTrackableValue is the minimum nanosecond value an HDR
	// statistic will bucket; samples below this are discarded (§4.1).
	HDRLowestTrackableValue uint64 = 1
	// HDRHighestTrackableValue is 60s in nanoseconds, the maximum nanosecond
	// value an HDR statistic will bucket; samples above this are discarded.
	HDRHighestTrackableValue uint64 = 60_000_000_000
	// HDRDefaultSignificantDigits is the default precision (§3).
	HDRDefaultSignificantDigits = 4
)

// HDR is a bounded-range, bounded-memory Statistic geared at producing
// percentiles cheaply. It keeps exact moments via an embedded Streaming
// accumulator (for Mean/Stdev) plus a geometric bucket array for
// percentile interpolation - the same split the teacher's Histogram makes
// between its embedded Counter and its Hdata buckets
// (_examples/fortio-fortio/stats/stats.go), generalized here so the
// bucket resolution follows a configured number
// of significant digits instead of a fixed hand-written bucket table.
type HDR struct {
	moments           *Streaming
	significantDigits int
	low, high         uint64
	ratio             float64 // per-bucket multiplicative step
	logRatio          float64
	numBuckets        int
	counts            []uint64
	discarded         uint64
}

// NewHDR creates an HDR statistic. significantDigits <= 0 uses the default.
func NewHDR(id string, significantDigits int) *HDR {
	if significantDigits <= 0 {
		significantDigits = HDRDefaultSignificantDigits
	}
	h := &HDR{
		moments:           NewStreaming(id),
		significantDigits: significantDigits,
		low:               HDRLowestTrackableValue,
		high:              HDRHighestTrackableValue,
	}
	bucketsPerDecade := math.Pow(10, float64(significantDigits))
	decades := math.Log10(float64(h.high) / float64(h.low))
	h.numBuckets = int(math.Ceil(decades*bucketsPerDecade)) + 1
	h.logRatio = math.Log(float64(h.high)/float64(h.low)) / float64(h.numBuckets)
	h.ratio = math.Exp(h.logRatio)
	h.counts = make([]uint64, h.numBuckets+1) // +1 catch-all for values == high
	return h
}

func (h *HDR) Kind() string    { return "hdr" }
func (h *HDR) ID() string      { return h.moments.ID() }
func (h *HDR) SetID(id string) { h.moments.SetID(id) }
func (h *HDR) Count() uint64   { return h.moments.Count() }
func (h *HDR) Min() uint64     { return h.moments.Min() }
func (h *HDR) Max() uint64     { return h.moments.Max() }

// bucketFor returns the bucket index in [0, numBuckets] for value v, which
// must already be known to be in [low, high].
func (h *HDR) bucketFor(v uint64) int {
	if v <= h.low {
		return 0
	}
	idx := int(math.Log(float64(v)/float64(h.low)) / h.logRatio)
	if idx > h.numBuckets {
		idx = h.numBuckets
	}
	return idx
}

// bucketStart returns the value at the lower edge of bucket idx.
func (h *HDR) bucketStart(idx int) float64 {
	return float64(h.low) * math.Pow(h.ratio, float64(idx))
}

// AddValue discards out-of-[low,high]-range samples without counting them
// (§4.1 HDR specifics).
func (h *HDR) AddValue(v uint64) {
	if v < h.low || v > h.high {
		h.discarded++
		return
	}
	h.moments.AddValue(v)
	h.counts[h.bucketFor(v)]++
}

func (h *HDR) Mean() float64               { return h.moments.Mean() }
func (h *HDR) PopulationVariance() float64 { return h.moments.PopulationVariance() }
func (h *HDR) PopulationStdev() float64    { return h.moments.PopulationStdev() }
func (h *HDR) SignificantDigits() int      { return h.significantDigits }

// Combine merges two HDR statistics. When bucket layouts differ (different
// significant-digit configuration) the other's buckets are redistributed by
// their midpoint value into self's layout, mirroring the teacher's
// copyHDataFrom/Merge handling of mismatched Histogram scales.
func (h *HDR) Combine(other Statistic) (Statistic, error) {
	o, ok := other.(*HDR)
	if !ok {
		return nil, &TypeMismatchError{A: h.Kind(), B: other.Kind()}
	}
	combinedMoments, err := h.moments.Combine(o.moments)
	if err != nil {
		return nil, err
	}
	res := NewHDR(h.ID(), h.significantDigits)
	res.moments = combinedMoments.(*Streaming)
	res.discarded = h.discarded + o.discarded
	sameLayout := h.numBuckets == o.numBuckets && h.low == o.low && h.high == o.high
	for i, c := range h.counts {
		res.counts[i] += c
	}
	if sameLayout {
		for i, c := range o.counts {
			res.counts[i] += c
		}
		return res, nil
	}
	for i, c := range o.counts {
		if c == 0 {
			continue
		}
		mid := uint64((o.bucketStart(i) + o.bucketStart(i+1)) / 2)
		if mid < res.low {
			mid = res.low
		}
		if mid > res.high {
			mid = res.high
		}
		res.counts[res.bucketFor(mid)] += c
	}
	return res, nil
}

// DefaultHDRPercentiles are the percentiles the spec requires at minimum
// (§4.1).
var DefaultHDRPercentiles = []float64{0, 0.5, 0.75, 0.8, 0.9, 0.95, 0.99, 0.999, 1.0}

// CalcPercentile interpolates the value at the given percentile (0-100 or
// 0-1 scale both supported by callers normalizing beforehand; this method
// expects 0-100).
func (h *HDR) CalcPercentile(percentile float64) float64 {
	count := h.Count()
	if count == 0 {
		return 0
	}
	if percentile >= 100 {
		return float64(h.Max())
	}
	if percentile <= 0 {
		return float64(h.Min())
	}
	var cumulative uint64
	prevBoundary := float64(h.Min())
	var prevPerc float64
	total := float64(count)
	for i := 0; i <= h.numBuckets; i++ {
		if h.counts[i] == 0 {
			continue
		}
		cumulative += h.counts[i]
		perc := 100 * float64(cumulative) / total
		boundary := h.bucketStart(i + 1)
		if boundary > float64(h.Max()) {
			boundary = float64(h.Max())
		}
		if perc >= percentile {
			if perc == prevPerc {
				return boundary
			}
			return prevBoundary + (percentile-prevPerc)*(boundary-prevBoundary)/(perc-prevPerc)
		}
		prevPerc = perc
		prevBoundary = boundary
	}
	return float64(h.Max())
}

// Percentiles requested are rendered in ToWire in addition to the moments
// (§4.1: "HDR additionally emits a percentile table").
func (h *HDR) Percentiles(wanted []float64) []WirePercentile {
	if wanted == nil {
		wanted = DefaultHDRPercentiles
	}
	res := make([]WirePercentile, 0, len(wanted))
	for _, p := range wanted {
		scaled := p
		if scaled <= 1.0 {
			scaled *= 100
		}
		v := h.CalcPercentile(scaled)
		res = append(res, WirePercentile{
			Percentile: p,
			Raw:        v,
			Duration:   ToDurationValue(uint64(math.Max(0, v))),
		})
	}
	return res
}

func (h *HDR) ToWire(domain Domain) WireStatistic {
	w := wireFromMoments(h.ID(), h.Count(), h.Min(), h.Max(), h.Mean(), h.PopulationStdev(), domain)
	w.Percentiles = h.Percentiles(nil)
	return w
}
