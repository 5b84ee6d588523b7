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
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tetratelabs/run"
	"gopkg.in/yaml.v3"
)

var (
	_ run.Config = (*LocalConfigFile)(nil)

	ErrInvalidPath         = errors.New("invalid path")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrHealthPortInUse     = errors.New("health port is already in use by another listener")
	ErrDuplicateCheckName  = errors.New("duplicate check name")
	ErrUnknownCheckType    = errors.New("unknown check type")
	ErrMissingCheckConfig  = errors.New("missing check configuration")
	ErrInvalidCheckConfig  = errors.New("invalid check configuration")
	ErrInvalidURL          = errors.New("invalid URL")
	ErrInvalidRedisURL     = errors.New("invalid Redis URL")
	ErrMustBeAbsolutePath  = errors.New("path must be absolute")
	ErrMustBeDifferentPath = errors.New("health and metrics paths must be different")
)

// Supported check unit types.
const (
	CheckTypeMock       = "mock"
	CheckTypeCredential = "credential"
	CheckTypeRateLimit  = "rate_limit"
	CheckTypeUserInfo   = "userinfo"
	CheckTypeJWTVerify  = "jwt_verify"
	CheckTypeJWTIssuer  = "jwt_issuer"
	CheckTypePolicy     = "policy"
)

// Default values for the configuration settings.
const (
	DefaultListenAddress     = ":8080"
	DefaultGRPCListenAddress = ":9090"
	DefaultHealthListenPort  = 10004
	DefaultHealthListenPath  = "/healthz"
	DefaultMetricsPath       = "/metrics"
	DefaultCredentialHeader  = "X-Access-Token"
	DefaultJWTHeader         = "Jwt_Token"
)

type (
	// Config is the gateway helper configuration.
	Config struct {
		ListenAddress       string        `yaml:"listen_address"`
		GRPCListenAddress   string        `yaml:"grpc_listen_address"`
		HealthListenAddress string        `yaml:"health_listen_address"`
		HealthListenPort    int           `yaml:"health_listen_port"`
		HealthListenPath    string        `yaml:"health_listen_path"`
		MetricsPath         string        `yaml:"metrics_path"`
		LogLevel            string        `yaml:"log_level"`
		WatchConfig         bool          `yaml:"watch_config"`
		Headers             HeadersConfig `yaml:"headers"`
		Checks              []CheckConfig `yaml:"checks"`
	}

	// HeadersConfig overrides the names of the inbound and outbound credential headers.
	HeadersConfig struct {
		Credential string `yaml:"credential"`
		JWT        string `yaml:"jwt"`
	}

	// CheckConfig configures a single unit of the admission chain.
	CheckConfig struct {
		Name       string            `yaml:"name"`
		Type       string            `yaml:"type"`
		Order      int               `yaml:"order"`
		Mock       *MockConfig       `yaml:"mock,omitempty"`
		Credential *CredentialConfig `yaml:"credential,omitempty"`
		RateLimit  *RateLimitConfig  `yaml:"rate_limit,omitempty"`
		UserInfo   *UserInfoConfig   `yaml:"userinfo,omitempty"`
		JWTVerify  *JWTVerifyConfig  `yaml:"jwt_verify,omitempty"`
		JWTIssuer  *JWTIssuerConfig  `yaml:"jwt_issuer,omitempty"`
		Policy     *PolicyConfig     `yaml:"policy,omitempty"`
	}

	MockConfig struct {
		State    string `yaml:"state"`
		Continue bool   `yaml:"continue"`
	}

	CredentialConfig struct {
		PublicPaths []string `yaml:"public_paths"`
	}

	RateLimitConfig struct {
		Key               string  `yaml:"key"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		// MaxKeys bounds the number of tracked buckets. The least recently used
		// bucket is dropped when the bound is reached.
		MaxKeys int `yaml:"max_keys"`
	}

	UserInfoConfig struct {
		Endpoint string        `yaml:"endpoint"`
		Timeout  time.Duration `yaml:"timeout"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
		Redis    *RedisConfig  `yaml:"redis,omitempty"`
	}

	RedisConfig struct {
		ServerURI string `yaml:"server_uri"`
	}

	JWTVerifyConfig struct {
		JWKS          string        `yaml:"jwks"`
		JWKSURI       string        `yaml:"jwks_uri"`
		FetchInterval time.Duration `yaml:"fetch_interval"`
		Issuer        string        `yaml:"issuer"`
		Audience      string        `yaml:"audience"`
	}

	JWTIssuerConfig struct {
		Algorithm     string        `yaml:"algorithm"`
		HMACSecret    string        `yaml:"hmac_secret"`
		PrivateKeyPEM string        `yaml:"private_key_pem"`
		KeyID         string        `yaml:"key_id"`
		Issuer        string        `yaml:"issuer"`
		TTL           time.Duration `yaml:"ttl"`
	}

	PolicyConfig struct {
		Rego     string `yaml:"rego"`
		RegoFile string `yaml:"rego_file"`
		Query    string `yaml:"query"`
	}
)

// GetListenAddress returns the address of the HTTP gate listener.
func (c *Config) GetListenAddress() string {
	if c == nil || c.ListenAddress == "" {
		return DefaultListenAddress
	}
	return c.ListenAddress
}

// GetGRPCListenAddress returns the address of the ext_authz gRPC listener.
func (c *Config) GetGRPCListenAddress() string {
	if c == nil || c.GRPCListenAddress == "" {
		return DefaultGRPCListenAddress
	}
	return c.GRPCListenAddress
}

func (c *Config) GetHealthListenAddress() string {
	if c == nil {
		return ""
	}
	return c.HealthListenAddress
}

func (c *Config) GetHealthListenPort() int {
	if c == nil || c.HealthListenPort == 0 {
		return DefaultHealthListenPort
	}
	return c.HealthListenPort
}

func (c *Config) GetHealthListenPath() string {
	if c == nil || c.HealthListenPath == "" {
		return DefaultHealthListenPath
	}
	return c.HealthListenPath
}

func (c *Config) GetMetricsPath() string {
	if c == nil || c.MetricsPath == "" {
		return DefaultMetricsPath
	}
	return c.MetricsPath
}

func (c *Config) GetCredentialHeader() string {
	if c == nil || c.Headers.Credential == "" {
		return DefaultCredentialHeader
	}
	return c.Headers.Credential
}

func (c *Config) GetJWTHeader() string {
	if c == nil || c.Headers.JWT == "" {
		return DefaultJWTHeader
	}
	return c.Headers.JWT
}

// LocalConfigFile is a run.Config that loads the configuration file.
type LocalConfigFile struct {
	path string
	// Config is the loaded configuration.
	Config Config
}

// NewLocalConfigFile creates a LocalConfigFile reading from the given path.
func NewLocalConfigFile(path string) *LocalConfigFile { return &LocalConfigFile{path: path} }

// Name returns the name of the unit in the run.Group.
func (l *LocalConfigFile) Name() string { return "Local configuration file" }

// Path returns the location of the configuration file.
func (l *LocalConfigFile) Path() string { return l.path }

// FlagSet returns the flags used to customize the config file location.
func (l *LocalConfigFile) FlagSet() *run.FlagSet {
	flags := run.NewFlagSet("Local Config File flags")
	flags.StringVar(&l.path, "config-path", "/etc/gateway-helper/config.yaml", "configuration file path")
	return flags
}

// Validate and load the configuration file.
func (l *LocalConfigFile) Validate() error {
	if l.path == "" {
		return ErrInvalidPath
	}

	content, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}

	cfg, err := ParseConfig(content)
	if err != nil {
		return err
	}
	l.Config = *cfg
	return nil
}

// ParseConfig decodes and validates the given YAML configuration.
// Unknown fields are rejected.
func ParseConfig(content []byte) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate the configuration values.
func (c *Config) Validate() error {
	for _, addr := range []string{c.GetListenAddress(), c.GetGRPCListenAddress()} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidAddress, err)
		}
	}

	healthPort := strconv.Itoa(c.GetHealthListenPort())
	for _, addr := range []string{c.GetListenAddress(), c.GetGRPCListenAddress()} {
		if _, port, _ := net.SplitHostPort(addr); port == healthPort {
			return fmt.Errorf("%w: %s", ErrHealthPortInUse, healthPort)
		}
	}

	if c.GetHealthListenPath()[0] != '/' || c.GetMetricsPath()[0] != '/' {
		return ErrMustBeAbsolutePath
	}
	if c.GetHealthListenPath() == c.GetMetricsPath() {
		return ErrMustBeDifferentPath
	}

	names := make(map[string]struct{}, len(c.Checks))
	for i := range c.Checks {
		check := &c.Checks[i]
		if check.Name == "" {
			check.Name = check.Type
		}
		if _, ok := names[check.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateCheckName, check.Name)
		}
		names[check.Name] = struct{}{}

		if err := check.validate(); err != nil {
			return fmt.Errorf("check %q: %w", check.Name, err)
		}
	}

	return nil
}

func (c *CheckConfig) validate() error {
	switch c.Type {
	case CheckTypeMock, CheckTypeCredential:
		return nil

	case CheckTypeRateLimit:
		if c.RateLimit == nil {
			return ErrMissingCheckConfig
		}
		switch c.RateLimit.Key {
		case "", "credential", "path":
		default:
			return fmt.Errorf("%w: unsupported rate limit key %q", ErrInvalidCheckConfig, c.RateLimit.Key)
		}
		if c.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("%w: requests_per_second must be positive", ErrInvalidCheckConfig)
		}
		if c.RateLimit.MaxKeys < 0 {
			return fmt.Errorf("%w: max_keys must not be negative", ErrInvalidCheckConfig)
		}
		return nil

	case CheckTypeUserInfo:
		if c.UserInfo == nil {
			return ErrMissingCheckConfig
		}
		if err := validateURL(c.UserInfo.Endpoint); err != nil {
			return err
		}
		if uri := c.UserInfo.Redis.GetServerURI(); uri != "" {
			if _, err := redis.ParseURL(uri); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidRedisURL, err)
			}
		}
		return nil

	case CheckTypeJWTVerify:
		if c.JWTVerify == nil {
			return ErrMissingCheckConfig
		}
		if (c.JWTVerify.JWKS == "") == (c.JWTVerify.JWKSURI == "") {
			return fmt.Errorf("%w: exactly one of jwks or jwks_uri must be set", ErrInvalidCheckConfig)
		}
		if c.JWTVerify.JWKSURI != "" {
			return validateURL(c.JWTVerify.JWKSURI)
		}
		return nil

	case CheckTypeJWTIssuer:
		if c.JWTIssuer == nil {
			return ErrMissingCheckConfig
		}
		if (c.JWTIssuer.HMACSecret == "") == (c.JWTIssuer.PrivateKeyPEM == "") {
			return fmt.Errorf("%w: exactly one of hmac_secret or private_key_pem must be set", ErrInvalidCheckConfig)
		}
		return nil

	case CheckTypePolicy:
		if c.Policy == nil {
			return ErrMissingCheckConfig
		}
		if (c.Policy.Rego == "") == (c.Policy.RegoFile == "") {
			return fmt.Errorf("%w: exactly one of rego or rego_file must be set", ErrInvalidCheckConfig)
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCheckType, c.Type)
	}
}

// GetServerURI returns the Redis server URI, or empty if Redis is not configured.
func (r *RedisConfig) GetServerURI() string {
	if r == nil {
		return ""
	}
	return r.ServerURI
}

func validateURL(u string) error {
	if u == "" {
		return fmt.Errorf("%w: URL is required", ErrInvalidURL)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, u)
	}
	return nil
}

// ConfigToYAMLString renders the configuration with the secrets redacted.
func ConfigToYAMLString(c *Config) string {
	redacted := *c
	redacted.Checks = make([]CheckConfig, len(c.Checks))
	for i, check := range c.Checks {
		if check.JWTIssuer != nil {
			issuer := *check.JWTIssuer
			if issuer.HMACSecret != "" {
				issuer.HMACSecret = "<redacted>"
			}
			if issuer.PrivateKeyPEM != "" {
				issuer.PrivateKeyPEM = "<redacted>"
			}
			check.JWTIssuer = &issuer
		}
		redacted.Checks[i] = check
	}
	b, _ := yaml.Marshal(&redacted)
	return string(b)
}
