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
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// uuidToken is the request templating token a header value may contain to
// get a fresh UUID substituted in per request, grounded on fhttp's own
// uuidToken handling in http_client.go.
const uuidToken = "{uuid}"

// RequestGenerator yields one *http.Request per call, admission gate (c)
// of BenchmarkClient.TryStartRequest (§4.5). It owns a fixed synthetic
// payload sized by request_body_size and a header template that may
// contain {uuid}, substituted fresh on every call.
type RequestGenerator struct {
	Method  string
	URL     string
	Headers http.Header
	body    []byte
}

// NewRequestGenerator builds a RequestGenerator with a fixed-size
// synthetic body (all 'A' bytes, like the teacher's payload generators
// default to a simple repeated-byte fill when no explicit payload file is
// given).
func NewRequestGenerator(method, url string, headers http.Header, bodySize int) *RequestGenerator {
	if method == "" {
		method = http.MethodGet
	}
	var body []byte
	if bodySize > 0 {
		body = bytes.Repeat([]byte{'A'}, bodySize)
	}
	if headers == nil {
		headers = http.Header{}
	}
	return &RequestGenerator{Method: method, URL: url, Headers: headers, body: body}
}

// Next builds one request, substituting {uuid} tokens in header values.
// It returns an error if the URL or method is unusable, which the client
// treats as admission gate (c) failing (§4.5).
func (g *RequestGenerator) Next(ctx context.Context) (*http.Request, error) {
	var bodyReader *bytes.Reader
	if g.body != nil {
		bodyReader = bytes.NewReader(g.body)
	}
	var req *http.Request
	var err error
	if bodyReader != nil {
		req, err = http.NewRequestWithContext(ctx, g.Method, g.URL, bodyReader)
	} else {
		req, err = http.NewRequestWithContext(ctx, g.Method, g.URL, nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header = expandUUID(g.Headers)
	return req, nil
}

func expandUUID(h http.Header) http.Header {
	out := h.Clone()
	for key, values := range out {
		for i, v := range values {
			if strings.Contains(v, uuidToken) {
				values[i] = strings.ReplaceAll(v, uuidToken, uuid.NewString())
			}
		}
		out[key] = values
	}
	return out
}
