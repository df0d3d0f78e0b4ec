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

// Package errkind names the error taxonomy shared by config validation,
// the benchmark client, and the adaptive load controller (§7), and a
// small status record they all report through. The record's shape
// mirrors jrpc.ServerReply (jrpcServer.go): a boolean-ish code plus a
// human message, generalized from
// one error/not-error bit to the small closed set of kinds the spec
// names.
package errkind

import "fmt"

// Kind is one of the error categories named in §7.
type Kind int

const (
	// None indicates success; no error occurred.
	None Kind = iota
	// InvalidConfiguration is detected synchronously at spec validation.
	InvalidConfiguration
	// UriResolutionFailure is a DNS or parse error, surfacing before any
	// requests are attempted.
	UriResolutionFailure
	// PoolFailure is transient during a run; recorded in counters, not
	// fatal to the sequencer.
	PoolFailure
	// StreamReset is counted; the completion callback receives success=false.
	StreamReset
	// TypeMismatch is a programmer error on Statistic.Combine.
	TypeMismatch
	// DeadlineExceeded is an adaptive session's convergence deadline elapsing.
	DeadlineExceeded
	// Doomed is the StepController determining no achievable load meets
	// the thresholds.
	Doomed
	// Cancelled is external cancellation observed by a TerminationPredicate.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case None:
		return "NONE"
	case InvalidConfiguration:
		return "INVALID_ARGUMENT"
	case UriResolutionFailure:
		return "URI_RESOLUTION_FAILURE"
	case PoolFailure:
		return "POOL_FAILURE"
	case StreamReset:
		return "STREAM_RESET"
	case TypeMismatch:
		return "TYPE_MISMATCH"
	case DeadlineExceeded:
		return "DEADLINE_EXCEEDED"
	case Doomed:
		return "ABORTED"
	case Cancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Status is the small result record the controller and config validation
// report through: a kind and a human message (for Doomed, the message
// carries the StepController's own reason string).
type Status struct {
	Kind    Kind
	Message string
}

func (s Status) Error() string {
	if s.Kind == None {
		return ""
	}
	return fmt.Sprintf("%s: %s", s.Kind, s.Message)
}

// OK reports whether the status represents success.
func (s Status) OK() bool { return s.Kind == None }

// New builds a non-OK Status.
func New(kind Kind, format string, args ...any) Status {
	return Status{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
