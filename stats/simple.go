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

// Simple is a Statistic that accumulates sum and sum-of-squares, the same
// scheme as the teacher's stats.Counter
// (_examples/fortio-fortio/stats/stats.go). O(1) memory, cheaper than
// Streaming but loses precision at large offsets (§3, scenario S7).
type Simple struct {
	id           string
	count        uint64
	minV, maxV   uint64
	sum          float64
	sumOfSquares float64
}

// NewSimple creates an empty Simple statistic with the given id.
func NewSimple(id string) *Simple {
	return &Simple{id: id}
}

func (s *Simple) Kind() string    { return "simple" }
func (s *Simple) ID() string      { return s.id }
func (s *Simple) SetID(id string) { s.id = id }
func (s *Simple) Count() uint64   { return s.count }
func (s *Simple) Min() uint64     { return s.minV }
func (s *Simple) Max() uint64     { return s.maxV }

func (s *Simple) AddValue(v uint64) {
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
	s.sum += fv
	s.sumOfSquares += fv * fv
}

func (s *Simple) Mean() float64 {
	if s.count == 0 {
		return math.NaN()
	}
	return s.sum / float64(s.count)
}

func (s *Simple) PopulationVariance() float64 {
	if s.count == 0 {
		return math.NaN()
	}
	n := float64(s.count)
	sigma := (s.sumOfSquares - s.sum*s.sum/n) / n
	if sigma < 0 {
		// Can happen transiently from float cancellation at large offsets;
		// this is exactly the trade-off documented in scenario S7.
		sigma = 0
	}
	return sigma
}

func (s *Simple) PopulationStdev() float64 {
	return math.Sqrt(s.PopulationVariance())
}

// SignificantDigits: sum/sum-of-squares is accurate to about 8 decimal
// digits before cancellation starts eating precision (§4.1).
func (s *Simple) SignificantDigits() int { return 8 }

func (s *Simple) Combine(other Statistic) (Statistic, error) {
	o, ok := other.(*Simple)
	if !ok {
		return nil, &TypeMismatchError{A: s.Kind(), B: other.Kind()}
	}
	count, minV, maxV := combineCounts(s.count, o.count, s.minV, s.maxV, o.minV, o.maxV)
	return &Simple{
		id: s.id, count: count, minV: minV, maxV: maxV,
		sum: s.sum + o.sum, sumOfSquares: s.sumOfSquares + o.sumOfSquares,
	}, nil
}

func (s *Simple) ToWire(domain Domain) WireStatistic {
	return wireFromMoments(s.id, s.count, s.minV, s.maxV, s.Mean(), s.PopulationStdev(), domain)
}
