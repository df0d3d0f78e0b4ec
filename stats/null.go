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

// Null is a no-op Statistic used where measurement is disabled (§3).
type Null struct {
	id string
}

// NewNull creates a Null statistic with the given id.
func NewNull(id string) *Null { return &Null{id: id} }

func (n *Null) Kind() string                 { return "null" }
func (n *Null) ID() string                   { return n.id }
func (n *Null) SetID(id string)              { n.id = id }
func (n *Null) AddValue(uint64)              {}
func (n *Null) Count() uint64                { return 0 }
func (n *Null) Min() uint64                  { return 0 }
func (n *Null) Max() uint64                  { return 0 }
func (n *Null) Mean() float64                { return math.NaN() }
func (n *Null) PopulationVariance() float64  { return math.NaN() }
func (n *Null) PopulationStdev() float64     { return math.NaN() }
func (n *Null) SignificantDigits() int       { return 0 }

func (n *Null) Combine(other Statistic) (Statistic, error) {
	if _, ok := other.(*Null); !ok {
		return nil, &TypeMismatchError{A: n.Kind(), B: other.Kind()}
	}
	return NewNull(n.id), nil
}

func (n *Null) ToWire(domain Domain) WireStatistic {
	return wireFromMoments(n.id, 0, 0, 0, math.NaN(), math.NaN(), domain)
}
