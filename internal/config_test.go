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

package internal

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type errCheck struct {
	is  error
	msg string
}

func (e errCheck) Check(t *testing.T, err error) {
	switch {
	case e.msg != "":
		require.ErrorContains(t, err, e.msg)
	default:
		require.ErrorIs(t, err, e.is)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		check errCheck
	}{
		{"empty", "", errCheck{is: ErrInvalidPath}},
		{"unexisting", "unexisting", errCheck{is: os.ErrNotExist}},
		{"invalid-field", "testdata/invalid-field.yaml", errCheck{msg: "field foo not found"}},
		{"invalid-address", "testdata/invalid-address.yaml", errCheck{is: ErrInvalidAddress}},
		{"health-port-in-use", "testdata/health-port-in-use.yaml", errCheck{is: ErrHealthPortInUse}},
		{"same-health-metrics-path", "testdata/same-health-metrics-path.yaml", errCheck{is: ErrMustBeDifferentPath}},
		{"duplicate-check", "testdata/duplicate-check.yaml", errCheck{is: ErrDuplicateCheckName}},
		{"unknown-type", "testdata/unknown-type.yaml", errCheck{is: ErrUnknownCheckType}},
		{"missing-check-config", "testdata/missing-check-config.yaml", errCheck{is: ErrMissingCheckConfig}},
		{"invalid-userinfo-url", "testdata/invalid-userinfo-url.yaml", errCheck{is: ErrInvalidURL}},
		{"invalid-redis", "testdata/invalid-redis.yaml", errCheck{is: ErrInvalidRedisURL}},
		{"invalid-jwt-verify", "testdata/invalid-jwt-verify.yaml", errCheck{is: ErrInvalidCheckConfig}},
		{"invalid-rate-limit", "testdata/invalid-rate-limit.yaml", errCheck{msg: "max_keys must not be negative"}},
		{"valid", "testdata/valid.yaml", errCheck{is: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&LocalConfigFile{path: tt.path}).Validate()
			tt.check.Check(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	cfg := NewLocalConfigFile("testdata/valid.yaml")
	require.NoError(t, cfg.Validate())

	require.Equal(t, "testdata/valid.yaml", cfg.Path())
	require.Len(t, cfg.Config.Checks, 4)

	userinfo := cfg.Config.Checks[2]
	require.Equal(t, CheckTypeUserInfo, userinfo.Type)
	require.Equal(t, 30, userinfo.Order)
	require.Equal(t, 2*time.Second, userinfo.UserInfo.Timeout)
	require.Equal(t, 5*time.Minute, userinfo.UserInfo.CacheTTL)
	require.Equal(t, "redis://localhost:6379/0", userinfo.UserInfo.Redis.GetServerURI())

	require.Equal(t, time.Hour, cfg.Config.Checks[3].JWTIssuer.TTL)
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`checks: [{type: mock}]`))
	require.NoError(t, err)

	require.Equal(t, DefaultListenAddress, cfg.GetListenAddress())
	require.Equal(t, DefaultGRPCListenAddress, cfg.GetGRPCListenAddress())
	require.Equal(t, DefaultHealthListenPort, cfg.GetHealthListenPort())
	require.Equal(t, DefaultHealthListenPath, cfg.GetHealthListenPath())
	require.Equal(t, DefaultMetricsPath, cfg.GetMetricsPath())
	require.Equal(t, DefaultCredentialHeader, cfg.GetCredentialHeader())
	require.Equal(t, DefaultJWTHeader, cfg.GetJWTHeader())
	// unnamed checks are named after their type
	require.Equal(t, CheckTypeMock, cfg.Checks[0].Name)

	var nilConfig *Config
	require.Equal(t, DefaultListenAddress, nilConfig.GetListenAddress())
	require.Equal(t, DefaultJWTHeader, nilConfig.GetJWTHeader())
}

func TestEmptyConfig(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	require.Empty(t, cfg.Checks)
}

func TestConfigToYAMLString(t *testing.T) {
	cfg := NewLocalConfigFile("testdata/valid.yaml")
	require.NoError(t, cfg.Validate())

	out := ConfigToYAMLString(&cfg.Config)
	require.Contains(t, out, "hmac_secret: <redacted>")
	require.NotContains(t, out, "hmac_secret: secret")
	// the original config is untouched
	require.Equal(t, "secret", cfg.Config.Checks[3].JWTIssuer.HMACSecret)
}
