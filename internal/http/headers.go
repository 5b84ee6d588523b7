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

const (
	HeaderAuthorization = "authorization"
	HeaderContentType   = "content-type"
	HeaderRequestID     = "x-request-id"

	// HeaderRequestMessage carries the diagnostic message of the admission outcome.
	HeaderRequestMessage = "request-message"
	// HeaderRequestStatus carries the symbolic name of the admission state.
	HeaderRequestStatus = "request-status"
	// HeaderRequestCode carries the stable code of the admission state.
	HeaderRequestCode = "request-code"

	HeaderContentTypeHTMLUTF8 = "text/html;charset=UTF-8"
	HeaderContentTypeJSON     = "application/json"
)
