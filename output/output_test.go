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

package output

import (
	"testing"
	"time"

	"fortio.org/assert"

	"github.com/envoyproxy/nighthawk-sub000/config"
	"github.com/envoyproxy/nighthawk-sub000/stats"
	"github.com/envoyproxy/nighthawk-sub000/worker"
)

func oneWorkerResult(n int) worker.Result {
	latency := stats.NewStreaming("latency")
	for i := 0; i < n; i++ {
		latency.AddValue(uint64(1_000_000 + i*1000))
	}
	return worker.Result{
		Statistics: map[string]stats.Statistic{
			"sequencer.callback": latency,
		},
		Counters: map[string]uint64{
			"http_2xx":       uint64(n),
			"total_req_sent": uint64(n),
		},
		ExecutionDuration: time.Second,
	}
}

func TestMergeSingleWorkerOmitsPerWorkerRecords(t *testing.T) {
	out, err := Merge(config.LoadSpec{}, "test", time.Now(), []worker.Result{oneWorkerResult(5)})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(out.Results))
	assert.Equal(t, "global", out.Results[0].Name)
	assert.Equal(t, uint64(5), out.Results[0].Counters["benchmark.http_2xx"])
	assert.Equal(t, uint64(5), out.Results[0].Counters["upstream_rq_total"])
}

func TestMergeMultiWorkerEmitsPerWorkerRecords(t *testing.T) {
	out, err := Merge(config.LoadSpec{}, "test", time.Now(), []worker.Result{oneWorkerResult(3), oneWorkerResult(4)})
	assert.NoError(t, err)
	assert.Equal(t, 3, len(out.Results))
	assert.Equal(t, "global", out.Results[0].Name)
	assert.Equal(t, uint64(7), out.Results[0].Counters["benchmark.http_2xx"])
	names := map[string]bool{}
	for _, r := range out.Results {
		names[r.Name] = true
	}
	assert.True(t, names["worker_0"])
	assert.True(t, names["worker_1"])
}

func TestMergeCombinesStatistics(t *testing.T) {
	out, err := Merge(config.LoadSpec{}, "test", time.Now(), []worker.Result{oneWorkerResult(2), oneWorkerResult(3)})
	assert.NoError(t, err)
	global := out.Results[0]
	var found bool
	for _, s := range global.Statistics {
		if s.Name == "sequencer.callback" {
			found = true
			assert.Equal(t, uint64(5), s.Wire.Count)
		}
	}
	assert.True(t, found, "expected sequencer.callback statistic in global record")
}
