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

package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fortio.org/assert"

	"github.com/envoyproxy/nighthawk-sub000/client"
	"github.com/envoyproxy/nighthawk-sub000/ratelimit"
	"github.com/envoyproxy/nighthawk-sub000/sequencer"
	"github.com/envoyproxy/nighthawk-sub000/stats"
	"github.com/envoyproxy/nighthawk-sub000/termination"
)

func TestStartDelayStaggersWorkers(t *testing.T) {
	d0 := StartDelay(0, 4, 100)
	d1 := StartDelay(1, 4, 100)
	d3 := StartDelay(3, 4, 100)
	assert.Equal(t, time.Duration(0), d0)
	assert.True(t, d1 > d0 && d3 > d1, "delays should increase with index")
}

func TestWorkerRunsToCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gen := client.NewRequestGenerator(http.MethodGet, srv.URL, nil, 0)
	bc := client.New(client.Config{
		Protocol:           client.H1,
		RequestGenerator:   gen,
		ConnectStat:        stats.NewStreaming("connect"),
		ResponseStat:       stats.NewStreaming("response"),
		Counters:           &client.Counters{},
		ConnectionLimit:    4,
		MaxPendingRequests: 4,
		Timeout:            2 * time.Second,
	})

	limiter, err := ratelimit.NewLinear(50)
	assert.NoError(t, err)
	chain := termination.NewChain().Link(termination.NewDuration(200 * time.Millisecond))

	w := New(Config{
		Index:             0,
		WorkerCount:       1,
		RequestsPerSecond: 50,
		GlobalStart:       time.Now(),
		Client:            bc,
		Limiter:           limiter,
		Chain:             chain,
		Idle:              sequencer.Spin,
		LatencyStat:       stats.NewStreaming("latency"),
		BlockedStat:       stats.NewStreaming("blocked"),
	})

	ctx := context.Background()
	w.Start(ctx)
	result := w.Wait()

	assert.False(t, result.Failed)
	assert.True(t, result.Counters["total_req_sent"] > 0, "expected some requests sent")
	assert.Equal(t, result.Counters["total_req_sent"], result.Counters["http_2xx"])
}
