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

// Package worker implements Worker (§3, §4.6): one concurrency slot
// owning exactly one BenchmarkClient and one Sequencer, run to
// completion on its own goroutine. It generalizes the teacher's
// per-thread model in periodic.go's runQPS/runners-per-thread split
// (each RunnerOptions.NumThreads gets its own Runnable clone and its own
// slice of the shared histogram/counter state, joined at the end via
// sync.WaitGroup) to the spec's richer per-worker lifecycle: warmup,
// staggered start, measurement toggling, then run-to-completion.
package worker

import (
	"context"
	"time"

	"fortio.org/log"

	"github.com/envoyproxy/nighthawk-sub000/client"
	"github.com/envoyproxy/nighthawk-sub000/ratelimit"
	"github.com/envoyproxy/nighthawk-sub000/sequencer"
	"github.com/envoyproxy/nighthawk-sub000/stats"
	"github.com/envoyproxy/nighthawk-sub000/termination"
)

// Config bundles one Worker's construction-time dependencies.
type Config struct {
	Index             int // 0-based slot index
	WorkerCount       int
	RequestsPerSecond float64 // global target rate (pre-split)
	GlobalStart       time.Time

	Client  *client.BenchmarkClient
	Limiter ratelimit.RateLimiter
	Chain   *termination.Chain
	Idle    sequencer.IdleStrategy
	Clock   sequencer.Clock

	LatencyStat  stats.Statistic // sequencer.callback
	BlockedStat  stats.Statistic // sequencer.blocking
	ConnectStat  stats.Statistic // benchmark_http_client.queue_to_connect
	ResponseStat stats.Statistic // benchmark_http_client.request_to_response

	PrefetchConnections int
	SimpleWarmup        bool
}

// Result is the per-worker snapshot taken at step (vi) of the lifecycle
// (§4.6), folded into the global Output by the output package. Statistics
// is keyed by the advertised statistic names in §6 so output.Merge can
// fold same-named statistics across workers without worker caring about
// the wire format.
type Result struct {
	Statistics           map[string]stats.Statistic
	Counters             map[string]uint64
	ExecutionDuration    time.Duration
	CompletionsPerSecond float64
	Failed               bool
	FailedTerminations   uint64
}

// Worker owns one BenchmarkClient and one Sequencer and runs them to
// completion on its own goroutine (§4.6).
type Worker struct {
	cfg Config
	seq *sequencer.Sequencer

	doneCh chan struct{}
	result Result
}

// New builds a Worker. Call Start to begin its lifecycle.
func New(cfg Config) *Worker {
	return &Worker{cfg: cfg, doneCh: make(chan struct{})}
}

// StartDelay is the stagger offset computed for worker i of W at target
// rate R, t0 + i*(1/R)/W (§4.6 "Start-time staggering").
func StartDelay(index, workerCount int, requestsPerSecond float64) time.Duration {
	if requestsPerSecond <= 0 || workerCount <= 0 {
		return 0
	}
	perWorkerPeriod := time.Duration(float64(time.Second) / requestsPerSecond)
	return time.Duration(index) * perWorkerPeriod / time.Duration(workerCount)
}

// Start spawns the worker's goroutine: (i) thread-local state is simply
// this Worker's own fields, (ii) warmup, (iii) enable measurement,
// (iv) run the sequencer to completion, (v) nothing extra to terminate
// for an http.Client beyond letting it idle-close, (vi) snapshot
// counters, (vii) the goroutine returns (its event loop is the
// Sequencer's, already stopped by the time WaitForCompletion unblocks).
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	delay := StartDelay(w.cfg.Index, w.cfg.WorkerCount, w.cfg.RequestsPerSecond)
	target := w.cfg.GlobalStart.Add(delay)
	if wait := time.Until(target); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}

	w.warmup(ctx)

	w.cfg.Client.SetMeasureLatencies(true)

	w.seq = sequencer.New(sequencer.Config{
		Target:      sequencer.Target(w.cfg.Client.TryStartRequest),
		Limiter:     w.cfg.Limiter,
		Chain:       w.cfg.Chain,
		LatencyStat: w.cfg.LatencyStat,
		BlockedStat: w.cfg.BlockedStat,
		Idle:        w.cfg.Idle,
		Clock:       w.cfg.Clock,
	})

	go func() {
		<-ctx.Done()
		w.seq.Cancel()
	}()

	w.seq.Start()
	w.seq.WaitForCompletion()

	w.snapshot()
}

// warmup performs step (ii): PrefetchConnections sequential Prefetch
// requests ahead of measurement (each completes before the next is sent,
// so the transport may serve them all over one connection), and - if
// configured - one simpleWarmup
// probe request that bypasses the rate limiter entirely (open question
// #1, preserved literally: the probe is issued, and only once it
// completes is measurement enabled).
func (w *Worker) warmup(ctx context.Context) {
	for i := 0; i < w.cfg.PrefetchConnections; i++ {
		if err := w.cfg.Client.Prefetch(ctx); err != nil {
			log.LogVf("worker %d: prefetch connection %d failed: %v", w.cfg.Index, i, err)
		}
	}
	if w.cfg.SimpleWarmup {
		if err := w.cfg.Client.Prefetch(ctx); err != nil {
			log.LogVf("worker %d: warmup probe failed: %v", w.cfg.Index, err)
		}
	}
}

func (w *Worker) snapshot() {
	w.result = Result{
		Statistics: map[string]stats.Statistic{
			"sequencer.callback":                       w.cfg.LatencyStat,
			"sequencer.blocking":                        w.cfg.BlockedStat,
			"benchmark_http_client.queue_to_connect":     w.cfg.ConnectStat,
			"benchmark_http_client.request_to_response":  w.cfg.ResponseStat,
		},
		Counters:             w.cfg.Client.CountersSnapshot(),
		ExecutionDuration:    w.seq.ExecutionDuration(),
		CompletionsPerSecond: w.seq.CompletionsPerSecond(),
		Failed:               w.seq.Failed(),
		FailedTerminations:   w.seq.FailedTerminations(),
	}
}

// Wait blocks until the worker's lifecycle completes and returns its
// snapshot.
func (w *Worker) Wait() Result {
	<-w.doneCh
	return w.result
}
