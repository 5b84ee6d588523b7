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

import "strings"

const (
	// AccessTokenParam is the query parameter used as a fallback credential source.
	AccessTokenParam = "access_token"
	// AccessTokenScheme is the scheme tag every extracted credential is prefixed with.
	AccessTokenScheme = "bearer"
)

// ExtractCredential returns the normalized bearer credential of a request given the value
// of the credential header and the raw query string. It returns false if no credential
// could be found. An empty header value is treated as a missing header: Envoy's attribute
// context and net/http header lookups both report a missing header as "", so the two cases
// cannot be told apart by the transports.
//
// The query string is not decoded: the first "&" separated segment that starts with
// "access_token" is used, and its value is everything after the separator character
// that follows the parameter name. Parameters such as "access_token_hint=x" therefore
// match as well, and percent-encoded separators are not honoured.
//
// Credentials are prefixed with "bearer " unless they already start with "bearer", in
// which case only the first "%20" is replaced with a space.
func ExtractCredential(header string, rawQuery string) (string, bool) {
	token, found := header, header != ""

	if !found && rawQuery != "" && strings.Contains(rawQuery, AccessTokenParam) {
		for _, segment := range strings.Split(rawQuery, "&") {
			// A bare "access_token" segment has no value to take.
			if strings.HasPrefix(segment, AccessTokenParam) && len(segment) > len(AccessTokenParam) {
				token, found = segment[len(AccessTokenParam)+1:], true
				break
			}
		}
	}

	if !found {
		return "", false
	}

	if strings.HasPrefix(token, AccessTokenScheme) {
		return strings.Replace(token, "%20", " ", 1), true
	}
	return AccessTokenScheme + " " + token, true
}
