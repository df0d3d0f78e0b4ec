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

package client

import "sync/atomic"

// Counters is the BenchmarkClient's counter set (§3, §6): one atomic per
// named counter so the owning worker can read them without a mutex. Unlike
// the teacher's single-writer stats.Counter
// (_examples/fortio-fortio/stats/stats.go), these have several writers:
// they are written from the per-request goroutines TryStartRequest spawns
// for client.execute, so each counter is atomic.
type Counters struct {
	http1xx               atomic.Uint64
	http2xx               atomic.Uint64
	http3xx               atomic.Uint64
	http4xx               atomic.Uint64
	http5xx               atomic.Uint64
	httpxxx               atomic.Uint64
	streamResets          atomic.Uint64
	poolOverflow          atomic.Uint64
	poolConnectionFailure atomic.Uint64
	totalReqSent          atomic.Uint64
}

// ClassifyStatus maps an HTTP status code to the counter name bucket it
// belongs to (§4.5, scenario S5).
func ClassifyStatus(status int) string {
	switch status / 100 {
	case 1:
		return "http_1xx"
	case 2:
		return "http_2xx"
	case 3:
		return "http_3xx"
	case 4:
		return "http_4xx"
	case 5:
		return "http_5xx"
	default:
		return "http_xxx"
	}
}

// RecordStatus increments the counter bucket a decoded response status
// belongs to.
func (c *Counters) RecordStatus(status int) {
	switch ClassifyStatus(status) {
	case "http_1xx":
		c.http1xx.Add(1)
	case "http_2xx":
		c.http2xx.Add(1)
	case "http_3xx":
		c.http3xx.Add(1)
	case "http_4xx":
		c.http4xx.Add(1)
	case "http_5xx":
		c.http5xx.Add(1)
	default:
		c.httpxxx.Add(1)
	}
}

// RecordStreamReset increments the stream_resets counter.
func (c *Counters) RecordStreamReset() { c.streamResets.Add(1) }

// RecordPoolOverflow increments the pool_overflow counter.
func (c *Counters) RecordPoolOverflow() { c.poolOverflow.Add(1) }

// RecordPoolConnectionFailure increments the pool_connection_failure counter.
func (c *Counters) RecordPoolConnectionFailure() { c.poolConnectionFailure.Add(1) }

// RecordRequestSent increments total_req_sent.
func (c *Counters) RecordRequestSent() { c.totalReqSent.Add(1) }

// Get implements termination.Counters so a CounterThreshold predicate can
// watch any of these by name.
func (c *Counters) Get(name string) uint64 {
	switch name {
	case "http_1xx":
		return c.http1xx.Load()
	case "http_2xx":
		return c.http2xx.Load()
	case "http_3xx":
		return c.http3xx.Load()
	case "http_4xx":
		return c.http4xx.Load()
	case "http_5xx":
		return c.http5xx.Load()
	case "http_xxx":
		return c.httpxxx.Load()
	case "stream_resets":
		return c.streamResets.Load()
	case "pool_overflow":
		return c.poolOverflow.Load()
	case "pool_connection_failure":
		return c.poolConnectionFailure.Load()
	case "total_req_sent":
		return c.totalReqSent.Load()
	default:
		return 0
	}
}

// Snapshot copies every counter into a plain map, e.g. for a Worker's
// end-of-run snapshot (§4.6 step vi).
func (c *Counters) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"http_1xx":                 c.http1xx.Load(),
		"http_2xx":                 c.http2xx.Load(),
		"http_3xx":                 c.http3xx.Load(),
		"http_4xx":                 c.http4xx.Load(),
		"http_5xx":                 c.http5xx.Load(),
		"http_xxx":                 c.httpxxx.Load(),
		"stream_resets":            c.streamResets.Load(),
		"pool_overflow":            c.poolOverflow.Load(),
		"pool_connection_failure":  c.poolConnectionFailure.Load(),
		"total_req_sent":           c.totalReqSent.Load(),
	}
}
