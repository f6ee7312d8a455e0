// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoConfigVersion error is returned when the configuration does not specify
// config format version.
var ErrNoConfigVersion = errors.New("config format version not specified")

// ErrUnsupportedVersion is an error, which is returned when the config file
// uses an incompatible version format.
var ErrUnsupportedVersion = errors.New("unsupported config format version")

// ErrNoRegions is an error, which is returned when neither scan regions nor a
// runtime AWS region have been configured.
var ErrNoRegions = errors.New("no regions configured")

// ErrInvalidConcurrency is an error, which is returned when a concurrency
// setting is not a positive number.
var ErrInvalidConcurrency = errors.New("invalid concurrency")

// ErrUnknownTokenRetriever is an error, which is returned when the AWS
// credentials refer to an unsupported token retriever.
var ErrUnknownTokenRetriever = errors.New("unknown AWS token retriever specified")

// ErrNoTokenFile is an error, which is returned when the token file retriever
// is selected without a path or role to assume.
var ErrNoTokenFile = errors.New("token file retriever requires path and role_arn")

// ConfigFormatVersion represents the supported config format version.
const ConfigFormatVersion = "v1alpha1"

const (
	// DefaultAWSTokenRetriever uses the default AWS credentials chain.
	DefaultAWSTokenRetriever = "none"

	// TokenFileRetriever exchanges a web identity token read from a file
	// for temporary credentials.
	TokenFileRetriever = "token_file"
)

// Config represents the reconciler configuration.
type Config struct {
	// Version is the version of the config file.
	Version string `yaml:"version"`

	// Debug configures debug mode, if set to true.
	Debug bool `yaml:"debug"`

	// Logging represents the logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// AWS represents the AWS client configuration.
	AWS AWSConfig `yaml:"aws"`

	// Reconciler represents the reconciliation settings.
	Reconciler ReconcilerConfig `yaml:"reconciler"`

	// Redis represents the Redis configuration used by workers and the
	// scheduler.
	Redis RedisConfig `yaml:"redis"`

	// Worker represents the worker configuration.
	Worker WorkerConfig `yaml:"worker"`

	// Scheduler represents the scheduler configuration.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Metrics represents the metrics configuration for one-shot runs.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig provides the logging settings.
type LoggingConfig struct {
	// Level specifies the log level, e.g. info, warn, error, debug.
	Level string `yaml:"level"`

	// Format specifies the log format, e.g. text or json.
	Format string `yaml:"format"`

	// AddSource adds the source code position to log events.
	AddSource bool `yaml:"add_source"`

	// Attributes are default attributes added to each log event.
	Attributes map[string]string `yaml:"attributes"`
}

// AWSConfig provides the AWS specific configuration settings.
type AWSConfig struct {
	// Region is the runtime region of the reconciler. It is the region
	// used for the global IAM, STS and EC2 clients and the default scan
	// region when no regions have been configured.
	Region string `yaml:"region"`

	// DefaultRegion is used when Region is empty and the region could not
	// be resolved from the environment.
	DefaultRegion string `yaml:"default_region"`

	// AppID is an optional application specific identifier, which is sent
	// with the user agent of the AWS clients.
	AppID string `yaml:"app_id"`

	// Credentials specifies how AWS credentials are obtained.
	Credentials AWSCredentialsConfig `yaml:"credentials"`
}

// AWSCredentialsConfig provides the settings for obtaining AWS credentials.
type AWSCredentialsConfig struct {
	// TokenRetriever specifies the name of the token retriever, which is
	// used to obtain credentials. The default is to use the shared AWS
	// credentials chain.
	TokenRetriever string `yaml:"token_retriever"`

	// TokenFile provides the settings for the token file retriever.
	TokenFile TokenFileConfig `yaml:"token_file"`
}

// TokenFileConfig provides the settings for exchanging a JWT token read from a
// file for temporary AWS credentials.
type TokenFileConfig struct {
	// Path is the path to the identity token.
	Path string `yaml:"path"`

	// RoleARN is the IAM role to assume.
	RoleARN string `yaml:"role_arn"`

	// RoleSessionName is the name of the assumed role session.
	RoleSessionName string `yaml:"role_session_name"`

	// Duration is the lifetime of the temporary credentials.
	Duration time.Duration `yaml:"duration"`
}

// ReconcilerConfig provides the reconciliation settings.
type ReconcilerConfig struct {
	// Regions is the set of regions to scan for EKS clusters. If empty the
	// runtime region of the reconciler is scanned.
	Regions []string `yaml:"regions"`

	// AccountID is the account used in the constructed ARNs. If empty the
	// account of the caller identity is used.
	AccountID string `yaml:"account_id"`

	// Concurrency is the max number of regions or roles processed in
	// parallel.
	Concurrency int `yaml:"concurrency"`

	// DryRun reports the planned changes without mutating any role.
	DryRun bool `yaml:"dry_run"`

	// CheckBucket verifies that the per-account bucket referenced by the
	// inline policy exists.
	CheckBucket bool `yaml:"check_bucket"`

	// TagRoles tags created roles with their cluster, region and manager.
	// Tagging requires the iam:TagRole permission in addition to
	// iam:CreateRole.
	TagRoles bool `yaml:"tag_roles"`

	// HoldUnavailableRegions keeps the roles of regions, whose clusters
	// could not be listed, instead of deleting them.
	HoldUnavailableRegions bool `yaml:"hold_unavailable_regions"`
}

// RedisConfig provides Redis specific configuration settings.
type RedisConfig struct {
	// Endpoint is the endpoint of the Redis service.
	Endpoint string `yaml:"endpoint"`
}

// WorkerConfig provides worker specific configuration settings.
type WorkerConfig struct {
	// Concurrency specifies the concurrency level for workers. Runs of
	// the reconciler must not overlap, so the default is 1.
	Concurrency int `yaml:"concurrency"`

	// Metrics configures the metrics server of the worker.
	Metrics MetricsServerConfig `yaml:"metrics"`
}

// MetricsServerConfig provides the settings for the metrics HTTP server.
type MetricsServerConfig struct {
	// Address is the address the server listens on.
	Address string `yaml:"address"`

	// Path is the HTTP path on which metrics are served.
	Path string `yaml:"path"`
}

// SchedulerConfig provides scheduler specific configuration settings.
type SchedulerConfig struct {
	// DefaultQueue is the queue periodic tasks are enqueued in.
	DefaultQueue string `yaml:"default_queue"`

	// ReconcileSpec is the cron spec of the periodic reconcile task.
	ReconcileSpec string `yaml:"reconcile_spec"`
}

// MetricsConfig provides the metrics settings for one-shot runs.
type MetricsConfig struct {
	// Pushgateway configures pushing metrics at the end of a run.
	Pushgateway PushgatewayConfig `yaml:"pushgateway"`
}

// PushgatewayConfig provides Prometheus Pushgateway settings.
type PushgatewayConfig struct {
	// URL is the Pushgateway URL. Pushing is disabled when empty.
	URL string `yaml:"url"`

	// Job is the job name used when pushing.
	Job string `yaml:"job"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: ConfigFormatVersion,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		AWS: AWSConfig{
			AppID: "ccost-roles",
			Credentials: AWSCredentialsConfig{
				TokenRetriever: DefaultAWSTokenRetriever,
			},
		},
		Reconciler: ReconcilerConfig{
			Concurrency: 4,
			CheckBucket: true,
			TagRoles:    true,
		},
		Redis: RedisConfig{
			Endpoint: "localhost:6379",
		},
		Worker: WorkerConfig{
			Concurrency: 1,
			Metrics: MetricsServerConfig{
				Address: ":6080",
				Path:    "/metrics",
			},
		},
		Scheduler: SchedulerConfig{
			DefaultQueue:  "default",
			ReconcileSpec: "@every 1h",
		},
		Metrics: MetricsConfig{
			Pushgateway: PushgatewayConfig{
				Job: "ccost-roles",
			},
		},
	}
}

// Parse parses the config from the given path on top of the [Default]
// configuration.
func Parse(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Unmarshal(data)
}

// Unmarshal decodes the given YAML document on top of the [Default]
// configuration.
func Unmarshal(data []byte) (*Config, error) {
	conf := Default()
	conf.Version = ""
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, err
	}

	if conf.Version == "" {
		return nil, ErrNoConfigVersion
	}

	if conf.Version != ConfigFormatVersion {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, conf.Version)
	}

	return conf, nil
}

// Load parses the config from the given path, or returns the [Default]
// configuration if path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	return Parse(path)
}

// MustParse parses the config from the given path, or panics in case of errors.
func MustParse(path string) *Config {
	config, err := Parse(path)
	if err != nil {
		panic(err)
	}

	return config
}

// ScanRegions returns the deduplicated regions to scan for clusters, falling
// back to the runtime region given by home when none are configured.
func (c *Config) ScanRegions(home string) []string {
	regions := ParseRegions(strings.Join(c.Reconciler.Regions, ","))
	if len(regions) == 0 && home != "" {
		regions = []string{home}
	}

	return regions
}

// Validate validates the configuration. The home region is the runtime
// region resolved by the AWS client configuration.
func (c *Config) Validate(home string) error {
	if c.Reconciler.Concurrency < 1 {
		return fmt.Errorf("%w: reconciler: %d", ErrInvalidConcurrency, c.Reconciler.Concurrency)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("%w: worker: %d", ErrInvalidConcurrency, c.Worker.Concurrency)
	}

	creds := c.AWS.Credentials
	switch creds.TokenRetriever {
	case "", DefaultAWSTokenRetriever:
	case TokenFileRetriever:
		if creds.TokenFile.Path == "" || creds.TokenFile.RoleARN == "" {
			return ErrNoTokenFile
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTokenRetriever, creds.TokenRetriever)
	}

	if len(c.ScanRegions(home)) == 0 {
		return ErrNoRegions
	}

	return nil
}

// ParseRegions splits a comma-separated list of regions, trimming whitespace
// and dropping empty and duplicate entries while keeping the first-seen order.
func ParseRegions(s string) []string {
	regions := make([]string, 0)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" || slices.Contains(regions, item) {
			continue
		}
		regions = append(regions, item)
	}

	return regions
}
