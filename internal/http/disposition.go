// Copyright 2025 Tetrate
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

package http

import (
	"net/http"

	"github.com/istio-ecosystem/gateway-helper/internal/admission"
)

// Header is a single response header of a Disposition.
type Header struct {
	Key   string
	Value string
}

// Disposition is the wire level outcome of an admission check.
type Disposition struct {
	// StatusCode is one of 200, 403 or 500.
	StatusCode int
	// State is the admission state the disposition was built from.
	State admission.CheckState
	// Headers to set on the response, in order.
	Headers []Header
}

// StatusCode returns the HTTP status code for the given severity value.
// Values below 300 are allowed, values from 300 to 499 are forbidden and
// anything else is an internal error.
func StatusCode(value int) int {
	switch {
	case value < 300:
		return http.StatusOK
	case value < 500:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// NewDisposition builds the disposition of the given response. The outgoing credential
// is set on jwtHeader when present.
func NewDisposition(resp *admission.CheckResponse, jwtHeader string) Disposition {
	d := Disposition{
		StatusCode: StatusCode(resp.Status.Value()),
		State:      resp.Status,
		Headers:    make([]Header, 0, 5),
	}

	if resp.JWT != "" {
		d.Headers = append(d.Headers, Header{jwtHeader, resp.JWT})
	}
	if resp.Message != "" {
		d.Headers = append(d.Headers, Header{HeaderRequestMessage, resp.Message})
	}
	d.Headers = append(d.Headers,
		Header{HeaderRequestStatus, resp.Status.String()},
		Header{HeaderRequestCode, resp.Status.Code()},
	)

	return d
}

// Allowed returns true if the disposition lets the request through.
func (d Disposition) Allowed() bool { return d.StatusCode == http.StatusOK }

// WriteDisposition writes the disposition to the response writer. No body is written;
// the response is flushed once the headers and status have been set.
func WriteDisposition(w http.ResponseWriter, d Disposition) {
	defer func() {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}()

	header := w.Header()
	header.Set(HeaderContentType, HeaderContentTypeHTMLUTF8)
	for _, h := range d.Headers {
		header.Set(h.Key, h.Value)
	}
	w.WriteHeader(d.StatusCode)
}
