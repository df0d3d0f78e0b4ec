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

// nighthawk_client is the command line entry point: it parses flags into
// a config.LoadSpec, runs it through an in-process controller.InProcessRunner,
// and prints the resulting output.Output - the client-binary equivalent of
// cli/fortio_main.go's "load" subcommand, trimmed to this module's single
// job (one target URL, one LoadSpec, one Output) instead of fortio's many
// subcommands (load/curl/server/nc/redirect/grpcping/...).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"fortio.org/cli"
	"fortio.org/dflag"
	"fortio.org/log"

	"github.com/envoyproxy/nighthawk-sub000/config"
	"github.com/envoyproxy/nighthawk-sub000/controller"
	"github.com/envoyproxy/nighthawk-sub000/output"
	"github.com/envoyproxy/nighthawk-sub000/version"
)

// requestsPerSecondFlag is a dynamic flag so a running process could, in
// principle, have its target rate adjusted without a restart - the same
// dflag.Flag/dflag.New pairing bincommon.SharedMain uses for its dynamic
// flags (bincommon/commonflags.go).
var requestsPerSecondFlag = dflag.New(float64(config.DefaultRequestsPerSecond), "Target requests per second")

func main() {
	var (
		connections = flag.Uint("connections", config.DefaultConnections, "Number of concurrent connections per worker")
		duration    = flag.Duration("duration", config.DefaultDuration, "Benchmark duration")
		timeout     = flag.Duration("timeout", config.DefaultTimeout, "Per-request timeout")
		protocol    = flag.String("protocol", string(config.ProtocolH1), "Protocol: H1, H2 or H3")
		concurrency = flag.String("concurrency", "1", "Number of worker slots, or \"auto\" for GOMAXPROCS")
		burstSize   = flag.Uint("burst-size", 0, "Requests released per rate-limiter grant; 0 or 1 disables bursting")
		method      = flag.String("method", "GET", "HTTP request method")
		bodySize    = flag.Uint("request-body-size", 0, "Synthetic request body size in bytes")
		prefetch    = flag.Bool("prefetch-connections", false, "Open every connection before measurement begins")
		idle        = flag.String("sequencer-idle-strategy", string(config.IdleSpin), "SPIN, POLL or SLEEP")
		jsonOut     = flag.Bool("json", false, "Print the result as JSON instead of a short summary")
	)

	dflag.Flag("requests-per-second", requestsPerSecondFlag)

	cli.ProgramName = "Nighthawk"
	cli.ArgsHelp = "url"
	cli.MinArgs = 1
	cli.MaxArgs = 1
	cli.Main()

	targetURL := flag.Arg(0)

	spec := config.LoadSpec{
		RequestsPerSecond:     uint(requestsPerSecondFlag.Get()),
		Connections:           *connections,
		Duration:              *duration,
		Timeout:               *timeout,
		Protocol:              config.Protocol(*protocol),
		Concurrency:           *concurrency,
		BurstSize:             *burstSize,
		RequestMethod:         *method,
		RequestBodySize:       *bodySize,
		PrefetchConnections:   *prefetch,
		SequencerIdleStrategy: config.IdleStrategy(*idle),
		OpenLoop:              true,
	}
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	runner := &controller.InProcessRunner{TargetURL: targetURL, Version: version.Short()}
	result, err := runner.Run(context.Background(), spec)
	if err != nil {
		log.Fatalf("benchmark run failed: %v", err)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			log.Fatalf("encoding result: %v", err)
		}
		return
	}
	printSummary(result)
}

func printSummary(out output.Output) {
	for _, rec := range out.Results {
		fmt.Printf("%s: sent=%d duration=%v\n", rec.Name, rec.Counters["benchmark.total_req_sent"], rec.ExecutionDuration.Round(time.Millisecond))
	}
}
