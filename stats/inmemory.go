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

// InMemory retains every sample in addition to a Streaming summary. O(N)
// memory; meant for debugging small runs, not production load (§3).
type InMemory struct {
	streaming *Streaming
	Samples   []uint64
}

// NewInMemory creates an empty InMemory statistic with the given id.
func NewInMemory(id string) *InMemory {
	return &InMemory{streaming: NewStreaming(id)}
}

func (m *InMemory) Kind() string    { return "inmemory" }
func (m *InMemory) ID() string      { return m.streaming.ID() }
func (m *InMemory) SetID(id string) { m.streaming.SetID(id) }
func (m *InMemory) Count() uint64   { return m.streaming.Count() }
func (m *InMemory) Min() uint64     { return m.streaming.Min() }
func (m *InMemory) Max() uint64     { return m.streaming.Max() }

func (m *InMemory) AddValue(v uint64) {
	m.streaming.AddValue(v)
	m.Samples = append(m.Samples, v)
}

func (m *InMemory) Mean() float64                 { return m.streaming.Mean() }
func (m *InMemory) PopulationVariance() float64    { return m.streaming.PopulationVariance() }
func (m *InMemory) PopulationStdev() float64       { return m.streaming.PopulationStdev() }
func (m *InMemory) SignificantDigits() int         { return m.streaming.SignificantDigits() }

func (m *InMemory) Combine(other Statistic) (Statistic, error) {
	o, ok := other.(*InMemory)
	if !ok {
		return nil, &TypeMismatchError{A: m.Kind(), B: other.Kind()}
	}
	combinedStreaming, err := m.streaming.Combine(o.streaming)
	if err != nil {
		return nil, err
	}
	samples := make([]uint64, 0, len(m.Samples)+len(o.Samples))
	samples = append(samples, m.Samples...)
	samples = append(samples, o.Samples...)
	return &InMemory{streaming: combinedStreaming.(*Streaming), Samples: samples}, nil
}

func (m *InMemory) ToWire(domain Domain) WireStatistic { return m.streaming.ToWire(domain) }
