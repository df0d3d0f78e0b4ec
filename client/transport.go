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

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/quic-go/quic-go/http3"
	"golang.org/x/net/http2"
)

// Protocol is the wire protocol a BenchmarkClient's connection pool
// speaks (§3, §6).
type Protocol int

const (
	// H1 is plain HTTP/1.1 (default).
	H1 Protocol = iota
	// H2 is HTTP/2, always over TLS here (h2c is out of scope).
	H2
	// H3 is HTTP/3 over QUIC.
	H3
)

func (p Protocol) String() string {
	switch p {
	case H1:
		return "H1"
	case H2:
		return "H2"
	case H3:
		return "H3"
	default:
		return "H1"
	}
}

// newRoundTripper builds the protocol-specific transport, the way
// fhttp/http_client.go configures http2.Transport for its fast-client H2
// path - generalized here to a three-way switch instead of the teacher's
// H1-or-H2 choice, with H3 wired through quic-go/http3.
func newRoundTripper(protocol Protocol, tlsConfig *tls.Config, connectTimeout time.Duration, maxConnsPerHost int) http.RoundTripper {
	switch protocol {
	case H2:
		return &http2.Transport{
			TLSClientConfig: tlsConfig,
		}
	case H3:
		return &http3.RoundTripper{
			TLSClientConfig: tlsConfig,
		}
	case H1:
		fallthrough
	default:
		return &http.Transport{
			TLSClientConfig:     tlsConfig,
			MaxConnsPerHost:     maxConnsPerHost,
			TLSHandshakeTimeout: connectTimeout,
		}
	}
}
