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

// Streaming is a Statistic that uses Welford's online algorithm so mean and
// variance resist catastrophic cancellation at large sample offsets (§3,
// §4.1, scenario S7). O(1) memory.
type Streaming struct {
	id      string
	count   uint64
	minV    uint64
	maxV    uint64
	mean    float64
	m2      float64 // sum of squares of differences from the current mean
}

// NewStreaming creates an empty Streaming statistic with the given id.
func NewStreaming(id string) *Streaming {
	return &Streaming{id: id}
}

func (s *Streaming) Kind() string    { return "streaming" }
func (s *Streaming) ID() string      { return s.id }
func (s *Streaming) SetID(id string) { s.id = id }
func (s *Streaming) Count() uint64   { return s.count }
func (s *Streaming) Min() uint64     { return s.minV }
func (s *Streaming) Max() uint64     { return s.maxV }

// AddValue incorporates one sample using Welford's recurrence:
// delta = v - mean; mean += delta/n; m2 += delta*(v-mean).
func (s *Streaming) AddValue(v uint64) {
	if s.count == 0 {
		s.minV, s.maxV = v, v
	} else {
		if v < s.minV {
			s.minV = v
		}
		if v > s.maxV {
			s.maxV = v
		}
	}
	s.count++
	fv := float64(v)
	delta := fv - s.mean
	s.mean += delta / float64(s.count)
	s.m2 += delta * (fv - s.mean)
}

// Mean returns NaN when count == 0 (§3 invariant).
func (s *Streaming) Mean() float64 {
	if s.count == 0 {
		return math.NaN()
	}
	return s.mean
}

func (s *Streaming) PopulationVariance() float64 {
	if s.count == 0 {
		return math.NaN()
	}
	return s.m2 / float64(s.count)
}

func (s *Streaming) PopulationStdev() float64 {
	return math.Sqrt(s.PopulationVariance())
}

// SignificantDigits: Welford's method is cancellation-resistant; we
// advertise full double precision (15-16 decimal digits).
func (s *Streaming) SignificantDigits() int { return 15 }

// Combine merges two Streaming statistics using Chan et al.'s parallel
// variance formula: combined mean is the count-weighted average of the two
// means, and combined M2 adds a cross term proportional to the squared
// mean difference weighted by both counts (§4.1).
func (s *Streaming) Combine(other Statistic) (Statistic, error) {
	o, ok := other.(*Streaming)
	if !ok {
		return nil, &TypeMismatchError{A: s.Kind(), B: other.Kind()}
	}
	count, minV, maxV := combineCounts(s.count, o.count, s.minV, s.maxV, o.minV, o.maxV)
	res := &Streaming{id: s.id, count: count, minV: minV, maxV: maxV}
	if count == 0 {
		return res, nil
	}
	meanA, meanB := s.mean, o.mean
	// NaN means (count==0 side) are treated as zero for combine (§4.1).
	if s.count == 0 {
		meanA = 0
	}
	if o.count == 0 {
		meanB = 0
	}
	na, nb := float64(s.count), float64(o.count)
	res.mean = (na*meanA + nb*meanB) / float64(count)
	delta := meanA - meanB
	res.m2 = s.m2 + o.m2 + delta*delta*na*nb/float64(count)
	return res, nil
}

// ToWire renders the statistic in the requested domain.
func (s *Streaming) ToWire(domain Domain) WireStatistic {
	return wireFromMoments(s.id, s.count, s.minV, s.maxV, s.Mean(), s.PopulationStdev(), domain)
}
