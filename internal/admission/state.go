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

package admission

import (
	"errors"
	"fmt"
)

// ErrUnknownState is returned when a symbolic state name does not match any CheckState.
var ErrUnknownState = errors.New("unknown check state")

// CheckState is the outcome recorded on a CheckResponse. Every state carries a severity
// value that places it in one of the three bands used to build the HTTP disposition:
// below 300 the request is allowed, from 300 to 499 it is forbidden, and 500 or above
// is an internal error.
type CheckState int

const (
	// Success is the state of a response no unit has touched.
	Success CheckState = iota
	SuccessPassSite
	SuccessPassProject
	SuccessPassOrganization
	SuccessPublicAccess
	SuccessLoginAccess
	SuccessSkipPath

	PermissionServiceRoute
	PermissionMismatch
	PermissionNotPass
	PermissionNotPassProject
	PermissionNotPassOrganization
	PermissionAccessTokenNull
	PermissionAccessTokenInvalid
	PermissionAccessTokenExpired
	PermissionGetUserDetailFailed
	PermissionDisabled
	APILimit

	// ExceptionGatewayHelper is set when a unit fails unexpectedly.
	ExceptionGatewayHelper
	ExceptionOAuthServer
)

type stateInfo struct {
	name  string
	value int
	code  string
}

var states = [...]stateInfo{
	Success:                       {"SUCCESS", 200, "success.permission.default"},
	SuccessPassSite:               {"SUCCESS_PASS_SITE", 201, "success.permission.sitePass"},
	SuccessPassProject:            {"SUCCESS_PASS_PROJECT", 202, "success.permission.projectPass"},
	SuccessPassOrganization:       {"SUCCESS_PASS_ORG", 203, "success.permission.organizationPass"},
	SuccessPublicAccess:           {"SUCCESS_PUBLIC_ACCESS", 204, "success.permission.publicAccess"},
	SuccessLoginAccess:            {"SUCCESS_LOGIN_ACCESS", 205, "success.permission.loginAccess"},
	SuccessSkipPath:               {"SUCCESS_SKIP_PATH", 206, "success.permission.skipPath"},
	PermissionServiceRoute:        {"PERMISSION_SERVICE_ROUTE", 301, "error.permission.routeNotFound"},
	PermissionMismatch:            {"PERMISSION_MISMATCH", 302, "error.permission.mismatch"},
	PermissionNotPass:             {"PERMISSION_NOT_PASS", 303, "error.permission.notPass"},
	PermissionNotPassProject:      {"PERMISSION_NOT_PASS_PROJECT", 304, "error.permission.projectNotPass"},
	PermissionNotPassOrganization: {"PERMISSION_NOT_PASS_ORG", 305, "error.permission.organizationNotPass"},
	PermissionAccessTokenNull:     {"PERMISSION_ACCESS_TOKEN_NULL", 306, "error.permission.accessTokenNull"},
	PermissionAccessTokenInvalid:  {"PERMISSION_ACCESS_TOKEN_INVALID", 307, "error.permission.accessTokenInvalid"},
	PermissionAccessTokenExpired:  {"PERMISSION_ACCESS_TOKEN_EXPIRED", 308, "error.permission.accessTokenExpired"},
	PermissionGetUserDetailFailed: {"PERMISSION_GET_USER_DETAIL_FAILED", 309, "error.permission.getUserDetailFailed"},
	PermissionDisabled:            {"PERMISSION_DISABLED", 310, "error.permission.disabled"},
	APILimit:                      {"API_LIMIT", 401, "error.api.limit"},
	ExceptionGatewayHelper:        {"EXCEPTION_GATEWAY_HELPER", 501, "error.gatewayHelper"},
	ExceptionOAuthServer:          {"EXCEPTION_OAUTH_SERVER", 502, "error.oauthServer"},
}

// States returns all the defined states in declaration order.
func States() []CheckState {
	all := make([]CheckState, len(states))
	for i := range states {
		all[i] = CheckState(i)
	}
	return all
}

// ParseState returns the state with the given symbolic name.
func ParseState(name string) (CheckState, error) {
	for i, s := range states {
		if s.name == name {
			return CheckState(i), nil
		}
	}
	return Success, fmt.Errorf("%w: %q", ErrUnknownState, name)
}

func (s CheckState) info() stateInfo {
	if s < 0 || int(s) >= len(states) {
		return stateInfo{name: fmt.Sprintf("CheckState(%d)", int(s)), value: states[ExceptionGatewayHelper].value}
	}
	return states[s]
}

// String returns the symbolic name of the state.
func (s CheckState) String() string { return s.info().name }

// Value returns the severity value of the state.
func (s CheckState) Value() int { return s.info().value }

// Code returns the stable message code of the state.
func (s CheckState) Code() string { return s.info().code }
