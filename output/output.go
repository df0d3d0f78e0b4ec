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

// Package output merges per-worker Statistics and counters into the
// global view and builds the Output record (§3, §6). Grounded on
// periodic.RunnerResults (periodic.go): the teacher folds every thread's
// histogram/counter state into one RunnerResults after Run() joins all
// goroutines; this package generalizes that single coordinator-side fold
// to the spec's "global" plus optional "worker_N" records, and to
// multiple named Statistics (sequencer.callback, sequencer.blocking,
// benchmark_http_client.*) instead of the teacher's one DurationHistogram.
package output

import (
	"time"

	"github.com/envoyproxy/nighthawk-sub000/config"
	"github.com/envoyproxy/nighthawk-sub000/stats"
	"github.com/envoyproxy/nighthawk-sub000/worker"
)

// benchmarkPrefix namespaces the client counters the way §6 advertises
// them ("benchmark.http_2xx"); sequencer.failed_terminations and
// upstream_rq_total are emitted unprefixed.
const (
	benchmarkPrefix = "benchmark."
)

var benchmarkCounterNames = map[string]bool{
	"http_1xx": true, "http_2xx": true, "http_3xx": true, "http_4xx": true,
	"http_5xx": true, "http_xxx": true, "stream_resets": true,
	"pool_overflow": true, "pool_connection_failure": true, "total_req_sent": true,
}

func qualifyCounterName(name string) string {
	if benchmarkCounterNames[name] {
		return benchmarkPrefix + name
	}
	return name
}

// NamedStatistic pairs an advertised name with its wire form, per §6
// "a list of Statistic records".
type NamedStatistic struct {
	Name string
	Wire stats.WireStatistic
}

// Record is one named result in an Output - "global" or "worker_N" (§6).
type Record struct {
	Name                 string
	Statistics           []NamedStatistic
	Counters             map[string]uint64
	ExecutionDuration     time.Duration
	FirstAcquisitionTime *time.Time
}

// Output is the structured result record (§6).
type Output struct {
	Timestamp time.Time
	Options   config.LoadSpec
	Version   string
	Results   []Record
}

// Merge folds one or more worker.Results into an Output: a "global"
// record combining everything, plus one "worker_N" record per input when
// there's more than one worker (§6: "per-worker results are emitted only
// when concurrency > 1").
func Merge(opts config.LoadSpec, version string, now time.Time, results []worker.Result) (Output, error) {
	out := Output{Timestamp: now, Options: opts, Version: version}

	global, err := mergeInto(results)
	if err != nil {
		return Output{}, err
	}
	global.Name = "global"
	out.Results = append(out.Results, global)

	if len(results) > 1 {
		for i, r := range results {
			rec, err := mergeInto([]worker.Result{r})
			if err != nil {
				return Output{}, err
			}
			rec.Name = namedWorker(i)
			out.Results = append(out.Results, rec)
		}
	}
	return out, nil
}

func namedWorker(i int) string {
	const base = "worker_"
	return base + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// mergeInto combines every worker.Result's same-named Statistics via
// Statistic.Combine, sums their counters, and takes the maximum execution
// duration (the global duration is the slowest worker's, the way a
// join waits for the last goroutine).
func mergeInto(results []worker.Result) (Record, error) {
	rec := Record{Counters: map[string]uint64{}}
	merged := map[string]stats.Statistic{}
	var maxDuration time.Duration
	var failedTerminations uint64

	for _, r := range results {
		failedTerminations += r.FailedTerminations
		if r.ExecutionDuration > maxDuration {
			maxDuration = r.ExecutionDuration
		}
		for name, count := range r.Counters {
			rec.Counters[qualifyCounterName(name)] += count
		}
		for name, stat := range r.Statistics {
			if stat == nil {
				continue
			}
			existing, ok := merged[name]
			if !ok {
				merged[name] = stat
				continue
			}
			combined, err := existing.Combine(stat)
			if err != nil {
				return Record{}, err
			}
			merged[name] = combined
		}
	}
	rec.Counters["sequencer.failed_terminations"] = failedTerminations
	rec.Counters["upstream_rq_total"] = rec.Counters[benchmarkPrefix+"total_req_sent"]

	for name, stat := range merged {
		rec.Statistics = append(rec.Statistics, NamedStatistic{Name: name, Wire: stat.ToWire(stats.DomainDuration)})
	}
	rec.ExecutionDuration = maxDuration
	return rec, nil
}
