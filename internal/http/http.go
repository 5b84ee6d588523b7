// Copyright 2024 Tetrate
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
	"strings"
	"time"

	"github.com/tetratelabs/telemetry"
)

// GetPathQueryFragment splits the given path into path, query, and fragment.
// See https://tools.ietf.org/html/rfc3986#section-3.4 and https://tools.ietf.org/html/rfc3986#section-3.5 for more information.
func GetPathQueryFragment(fullPath string) (path string, query string, fragment string) {
	// inter and hash hold the index of the first `?` and `#` respectively
	// `?` must be present before `#` if both are present to consider the query
	var inter, hash int

	hash = strings.Index(fullPath, "#")
	if hash != -1 {
		inter = strings.Index(fullPath[:hash], "?")
	} else {
		inter = strings.Index(fullPath, "?")
	}

	switch {
	case inter != -1 && hash != -1:
		path = fullPath[:inter]
		query = fullPath[inter+1 : hash]
		fragment = fullPath[hash+1:]
	case inter != -1:
		path = fullPath[:inter]
		query = fullPath[inter+1:]
	case hash != -1:
		path = fullPath[:hash]
		fragment = fullPath[hash+1:]
	default:
		path = fullPath
	}

	return
}

// BearerAuthHeader returns the value of the Authorization header for the given token.
func BearerAuthHeader(token string) string {
	return "Bearer " + token
}

// NewHTTPClient creates a new HTTP client with the given request timeout.
// If a logger is provided, it will log the requests and responses at debug level.
func NewHTTPClient(timeout time.Duration, log telemetry.Logger) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if log != nil && log.Level() >= telemetry.LevelDebug {
		return &http.Client{
			Timeout: timeout,
			Transport: &LoggingRoundTripper{
				Log:      log,
				Delegate: transport,
			},
		}
	}

	return &http.Client{Timeout: timeout, Transport: transport}
}
