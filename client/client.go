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

// Package client implements BenchmarkClient (§3, §4.5): an open-loop HTTP
// client that accepts a start signal, emits one request, and invokes a
// completion callback on response - never waiting on the response itself
// before returning from the start call, grounded on fhttp/http_client.go's
// Fetcher/FastClient split, generalized to H1/H2/H3 and to the
// non-blocking try_start_request/completion_callback contract the
// Sequencer requires (§4.2, §4.4 DESIGN NOTES: "a good pattern is to have
// try_acquire_one and try_start_request be synchronous, total functions").
package client

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptrace"
	"sync/atomic"
	"time"

	"fortio.org/log"

	"github.com/envoyproxy/nighthawk-sub000/sequencer"
	"github.com/envoyproxy/nighthawk-sub000/stats"
)

// admissionGate is the pending-requests resource manager of admission
// gate (a), generalized to also serve gate (b)'s stricter
// max_pending_requests==1 check via InFlight.
type admissionGate struct {
	capacity int64 // <= 0 means unlimited
	inUse    atomic.Int64
}

func newAdmissionGate(capacity int) *admissionGate {
	return &admissionGate{capacity: int64(capacity)}
}

func (g *admissionGate) tryAcquire() bool {
	if g.capacity <= 0 {
		g.inUse.Add(1)
		return true
	}
	for {
		cur := g.inUse.Load()
		if cur >= g.capacity {
			return false
		}
		if g.inUse.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (g *admissionGate) release() { g.inUse.Add(-1) }

// Config bundles a BenchmarkClient's construction-time dependencies.
type Config struct {
	Protocol           Protocol
	TLSConfig          *tls.Config
	RequestGenerator   *RequestGenerator
	ConnectStat        stats.Statistic
	ResponseStat       stats.Statistic
	Counters           *Counters
	ConnectionLimit    int
	MaxPendingRequests int // 0 means unlimited
	Timeout            time.Duration
}

// BenchmarkClient is one worker's open-loop HTTP client (§3, §4.5).
type BenchmarkClient struct {
	httpClient         *http.Client
	requestGen         *RequestGenerator
	connectStat        stats.Statistic
	responseStat       stats.Statistic
	counters           *Counters
	admission          *admissionGate
	connectionLimit    int
	maxPendingRequests int
	timeout            time.Duration

	measureLatencies atomic.Bool
	initiated        atomic.Uint64
	completed        atomic.Uint64
}

// New builds a BenchmarkClient. measure_latencies starts false; the
// owning Worker flips it on with SetMeasureLatencies after warmup (§4.5,
// §4.6).
func New(cfg Config) *BenchmarkClient {
	maxConns := cfg.ConnectionLimit
	if maxConns <= 0 {
		maxConns = 1
	}
	rt := newRoundTripper(cfg.Protocol, cfg.TLSConfig, cfg.Timeout, maxConns)
	return &BenchmarkClient{
		httpClient:         &http.Client{Transport: rt, Timeout: cfg.Timeout},
		requestGen:         cfg.RequestGenerator,
		connectStat:        cfg.ConnectStat,
		responseStat:       cfg.ResponseStat,
		counters:           cfg.Counters,
		admission:          newAdmissionGate(cfg.MaxPendingRequests),
		connectionLimit:    cfg.ConnectionLimit,
		maxPendingRequests: cfg.MaxPendingRequests,
		timeout:            cfg.Timeout,
	}
}

// SetMeasureLatencies flips the measure_latencies flag (§4.5).
func (c *BenchmarkClient) SetMeasureLatencies(on bool) { c.measureLatencies.Store(on) }

// CountersSnapshot copies this client's counter set into a plain map,
// e.g. for a Worker's end-of-run snapshot (§4.6 step vi).
func (c *BenchmarkClient) CountersSnapshot() map[string]uint64 {
	return c.counters.Snapshot()
}

// InFlight is initiated - completed, used by gate (b) and exposed for
// tests/invariant checks (§3 invariant: bounded by connection_limit when
// max_pending_requests == 1).
func (c *BenchmarkClient) InFlight() uint64 {
	return c.initiated.Load() - c.completed.Load()
}

// TryStartRequest is the Sequencer Target this client exposes: a
// synchronous, total admission check followed by an asynchronous
// dispatch, never blocking on the response (§4.5, §4.4 DESIGN NOTES).
func (c *BenchmarkClient) TryStartRequest(onComplete sequencer.CompletionCallback) bool {
	if !c.admission.tryAcquire() {
		c.counters.RecordPoolOverflow()
		return false
	}
	if c.maxPendingRequests == 1 && c.InFlight() >= uint64(c.connectionLimit) {
		c.admission.release()
		c.counters.RecordPoolOverflow()
		return false
	}
	ctx := context.Background()
	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	req, err := c.requestGen.Next(ctx)
	if err != nil {
		cancel()
		c.admission.release()
		return false
	}
	c.initiated.Add(1)
	c.counters.RecordRequestSent()
	dispatch := time.Now()
	go func() {
		defer cancel()
		c.execute(req, dispatch, onComplete)
	}()
	return true
}

// Prefetch sends one request ahead of measurement, so the transport has a
// connection open, bypassing the admission gates and all counters (§4.6
// step ii, "prefetch_connections"): it is not counted in total_req_sent or
// any other counter. It blocks until the request completes or ctx is done.
func (c *BenchmarkClient) Prefetch(ctx context.Context) error {
	req, err := c.requestGen.Next(ctx)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (c *BenchmarkClient) execute(req *http.Request, dispatch time.Time, onComplete sequencer.CompletionCallback) {
	var connectTime time.Time
	trace := &httptrace.ClientTrace{
		GotConn: func(_ httptrace.GotConnInfo) {
			connectTime = time.Now()
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	resp, err := c.httpClient.Do(req)
	now := time.Now()
	c.completed.Add(1)
	c.admission.release()

	if err != nil {
		log.LogVf("benchmark client request failed: %v", err)
		c.counters.RecordPoolConnectionFailure()
		onComplete(false)
		return
	}
	defer resp.Body.Close()

	if c.measureLatencies.Load() {
		if !connectTime.IsZero() {
			c.connectStat.AddValue(uint64(connectTime.Sub(dispatch).Nanoseconds()))
		}
		c.responseStat.AddValue(uint64(now.Sub(dispatch).Nanoseconds()))
	}
	c.counters.RecordStatus(resp.StatusCode)
	onComplete(true)
}
