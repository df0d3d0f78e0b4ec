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
	"fmt"
	"math"
)

// Domain selects how a Statistic is rendered by ToWire: as plain doubles
// (Raw) or split into seconds+nanoseconds the way a wire duration message
// would be (Duration). See §4.1.
type Domain int

const (
	// DomainRaw renders Min/Max/Mean/Stdev as float64.
	DomainRaw Domain = iota
	// DomainDuration renders Min/Max/Mean/Stdev as seconds+nanos pairs.
	DomainDuration
)

// DurationValue is a seconds+nanoseconds split, the wire shape for a
// duration-typed field (mirrors google.protobuf.Duration without pulling
// in the generated proto type, since the proto schema is out of scope).
type DurationValue struct {
	Seconds int64
	Nanos   int32
}

// ToDurationValue splits a nanosecond count into seconds+nanos.
func ToDurationValue(ns uint64) DurationValue {
	return DurationValue{Seconds: int64(ns / 1e9), Nanos: int32(ns % 1e9)} //nolint:gosec // bounded by 60s max in this package
}

// WirePercentile is one percentile entry of an HDR-backed Statistic.
type WirePercentile struct {
	Percentile float64
	Raw        float64
	Duration   DurationValue
}

// WireStatistic is the transport rendering of a Statistic produced by ToWire.
type WireStatistic struct {
	ID     string
	Count  uint64
	Domain Domain

	// Raw domain fields (valid when Domain == DomainRaw).
	Min, Max, Mean, Stdev float64

	// Duration domain fields (valid when Domain == DomainDuration).
	MinDuration, MaxDuration, MeanDuration, StdevDuration DurationValue

	// Percentiles is populated only by the HDR variant.
	Percentiles []WirePercentile
}

// TypeMismatchError is returned by Combine when the two statistics are not
// of the same concrete kind. It is a programmer error (§7) - callers that
// hit it are combining incompatible accumulators and should not retry.
type TypeMismatchError struct {
	A, B string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("stats: cannot combine %q with %q: TypeMismatch", e.A, e.B)
}

// Statistic is the common contract implemented by Streaming, Simple,
// InMemory, HDR and Null. See §3 and §4.1.
type Statistic interface {
	// Kind returns the concrete variant name, used for Combine type checks
	// and by tests to pick tolerances via SignificantDigits.
	Kind() string
	ID() string
	SetID(id string)
	AddValue(v uint64)
	Count() uint64
	Min() uint64
	Max() uint64
	Mean() float64
	PopulationVariance() float64
	PopulationStdev() float64
	// SignificantDigits is the precision a type advertises; tests use it to
	// size acceptable tolerances (§4.1, invariant 2).
	SignificantDigits() int
	// Combine returns a new Statistic holding the union of self's and
	// other's samples. Returns *TypeMismatchError if the kinds differ.
	Combine(other Statistic) (Statistic, error)
	ToWire(domain Domain) WireStatistic
}

func wireFromMoments(id string, count uint64, min, max uint64, mean, stdev float64, domain Domain) WireStatistic {
	w := WireStatistic{ID: id, Count: count, Domain: domain}
	switch domain {
	case DomainRaw:
		w.Min, w.Max, w.Mean, w.Stdev = float64(min), float64(max), mean, stdev
	case DomainDuration:
		w.MinDuration = ToDurationValue(min)
		w.MaxDuration = ToDurationValue(max)
		if mean < 0 || math.IsNaN(mean) {
			mean = 0
		}
		w.MeanDuration = ToDurationValue(uint64(mean))
		if stdev < 0 || math.IsNaN(stdev) {
			stdev = 0
		}
		w.StdevDuration = ToDurationValue(uint64(stdev))
	}
	return w
}

// combineCounts is the shared min/max/count merge used by every Combine
// implementation below.
func combineCounts(countA, countB uint64, minA, maxA, minB, maxB uint64) (count uint64, minV, maxV uint64) {
	count = countA + countB
	switch {
	case countA == 0:
		return count, minB, maxB
	case countB == 0:
		return count, minA, maxA
	default:
		minV = minA
		if minB < minV {
			minV = minB
		}
		maxV = maxA
		if maxB > maxV {
			maxV = maxB
		}
		return count, minV, maxV
	}
}

// NewByKind constructs a zero-valued Statistic of the requested kind.
// hdrSignificantDigits is only used by the "hdr" kind (0 means default 4).
func NewByKind(kind, id string, hdrSignificantDigits int) (Statistic, error) {
	switch kind {
	case "streaming":
		return NewStreaming(id), nil
	case "simple":
		return NewSimple(id), nil
	case "inmemory":
		return NewInMemory(id), nil
	case "hdr":
		return NewHDR(id, hdrSignificantDigits), nil
	case "null":
		return NewNull(id), nil
	default:
		return nil, fmt.Errorf("stats: unknown statistic kind %q", kind)
	}
}
