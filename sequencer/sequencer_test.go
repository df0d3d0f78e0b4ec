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

package sequencer

import (
	"testing"
	"time"

	"fortio.org/assert"

	"github.com/envoyproxy/nighthawk-sub000/ratelimit"
	"github.com/envoyproxy/nighthawk-sub000/stats"
	"github.com/envoyproxy/nighthawk-sub000/termination"
)

// TestAlwaysCompletesSynchronously is scenario S3.
func TestAlwaysCompletesSynchronously(t *testing.T) {
	limiter, err := ratelimit.NewLinear(10)
	assert.NoError(t, err)
	chain := termination.NewChain().Link(termination.NewDuration(500 * time.Millisecond))
	latency := stats.NewStreaming("latency")
	blocked := stats.NewStreaming("blocked")

	target := func(onComplete CompletionCallback) bool {
		onComplete(true)
		return true
	}

	s := New(Config{
		Target:      target,
		Limiter:     limiter,
		Chain:       chain,
		LatencyStat: latency,
		BlockedStat: blocked,
		Idle:        Spin,
	})
	s.Start()
	s.WaitForCompletion()

	assert.False(t, s.Failed())
	assert.Equal(t, uint64(0), s.FailedTerminations())
	count := latency.Count()
	assert.True(t, count == 5 || count == 6, "latency count should be 5 or 6, got %d", count)
	assert.Equal(t, uint64(0), blocked.Count())
}

// TestSaturatedTargetBlocks is scenario S4.
func TestSaturatedTargetBlocks(t *testing.T) {
	limiter, err := ratelimit.NewLinear(1000)
	assert.NoError(t, err)
	chain := termination.NewChain().Link(termination.NewDuration(100 * time.Millisecond))
	latency := stats.NewStreaming("latency")
	blocked := stats.NewStreaming("blocked")

	target := func(onComplete CompletionCallback) bool {
		return false
	}

	s := New(Config{
		Target:      target,
		Limiter:     limiter,
		Chain:       chain,
		LatencyStat: latency,
		BlockedStat: blocked,
		Idle:        Spin,
	})
	s.Start()
	s.WaitForCompletion()

	assert.Equal(t, uint64(0), latency.Count())
	assert.Equal(t, uint64(1), blocked.Count())
	wantNanos := float64(100 * time.Millisecond)
	assert.True(t, blocked.Min() > wantNanos*0.5 && blocked.Min() < wantNanos*1.5,
		"blocked min should be roughly 100ms, got %v ns", blocked.Min())
	assert.True(t, blocked.Max() > wantNanos*0.5 && blocked.Max() < wantNanos*1.5,
		"blocked max should be roughly 100ms, got %v ns", blocked.Max())
}

func TestCancelStopsRun(t *testing.T) {
	limiter, err := ratelimit.NewLinear(1000)
	assert.NoError(t, err)
	chain := termination.NewChain().Link(termination.NewDuration(10 * time.Second))
	latency := stats.NewStreaming("latency")
	blocked := stats.NewStreaming("blocked")

	started := make(chan struct{}, 1)
	target := func(onComplete CompletionCallback) bool {
		select {
		case started <- struct{}{}:
		default:
		}
		onComplete(true)
		return true
	}
	s := New(Config{
		Target:      target,
		Limiter:     limiter,
		Chain:       chain,
		LatencyStat: latency,
		BlockedStat: blocked,
		Idle:        Spin,
	})
	s.Start()
	<-started
	s.Cancel()
	s.WaitForCompletion()
	assert.True(t, s.Failed(), "cancellation should end the run with FAIL")
	assert.Equal(t, uint64(1), s.FailedTerminations())
}

// TestTransientCompletionFailuresDoNotCountAsFailedTerminations covers the
// maintainer-flagged regression: a per-request failure reported via
// onComplete(false) is transient (the Target's own counters record it) and
// must not by itself make failed_terminations nonzero - only a FAIL status
// from the termination chain does that.
func TestTransientCompletionFailuresDoNotCountAsFailedTerminations(t *testing.T) {
	limiter, err := ratelimit.NewLinear(1000)
	assert.NoError(t, err)
	chain := termination.NewChain().Link(termination.NewDuration(50 * time.Millisecond))
	latency := stats.NewStreaming("latency")
	blocked := stats.NewStreaming("blocked")

	target := func(onComplete CompletionCallback) bool {
		onComplete(false)
		return true
	}
	s := New(Config{
		Target:      target,
		Limiter:     limiter,
		Chain:       chain,
		LatencyStat: latency,
		BlockedStat: blocked,
		Idle:        Spin,
	})
	s.Start()
	s.WaitForCompletion()

	assert.False(t, s.Failed())
	assert.Equal(t, uint64(0), s.FailedTerminations())
	assert.Equal(t, uint64(0), s.TargetsCompleted())
}

func TestInitiatedAtLeastCompleted(t *testing.T) {
	limiter, err := ratelimit.NewLinear(200)
	assert.NoError(t, err)
	chain := termination.NewChain().Link(termination.NewDuration(50 * time.Millisecond))
	latency := stats.NewStreaming("latency")
	blocked := stats.NewStreaming("blocked")

	target := func(onComplete CompletionCallback) bool {
		go func() {
			time.Sleep(time.Millisecond)
			onComplete(true)
		}()
		return true
	}
	s := New(Config{
		Target:      target,
		Limiter:     limiter,
		Chain:       chain,
		LatencyStat: latency,
		BlockedStat: blocked,
		Idle:        Poll,
	})
	s.Start()
	s.WaitForCompletion()
	assert.True(t, s.TargetsInitiated() >= s.TargetsCompleted(),
		"initiated (%d) must be >= completed (%d)", s.TargetsInitiated(), s.TargetsCompleted())
}
