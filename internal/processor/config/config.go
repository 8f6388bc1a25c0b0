/*
Copyright 2026 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// The batch run's configuration definitions.

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/redact-client/redact-go/internal/files_store/s3"
	"github.com/redact-client/redact-go/internal/redact"
	uredis "github.com/redact-client/redact-go/internal/util/redis"
	utls "github.com/redact-client/redact-go/internal/util/tls"
)

type HTTPConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	TLS            utls.Options  `yaml:"tls"`
}

// BatchConfig holds every setting of one anonymize-folder run. It is built once, before any job
// starts, and only read afterwards.
type BatchConfig struct {
	InDir      string             `yaml:"in_dir"`
	OutDir     string             `yaml:"out_dir"` // local directory or s3://bucket/prefix
	InputType  redact.InputType   `yaml:"input_type"`
	OutputType redact.OutputType  `yaml:"out_type"`
	Service    redact.ServiceType `yaml:"service"`

	Region       redact.Region `yaml:"region"`
	Face         bool          `yaml:"face"`
	LicensePlate bool          `yaml:"license_plate"`

	RedactURL string     `yaml:"redact_url"`
	APIKey    string     `yaml:"api_key"`
	HTTP      HTTPConfig `yaml:"http"`

	NParallelJobs   int               `yaml:"n_parallel_jobs"`
	SaveMetadata    bool              `yaml:"save_metadata"`
	SkipExisting    bool              `yaml:"skip_existing"`
	SniffContent    bool              `yaml:"sniff_content"`
	CustomLabelsDir string            `yaml:"custom_labels_dir"`
	DeleteRemote    bool              `yaml:"delete_remote"`
	Poll            redact.PollPolicy `yaml:"poll"`

	// WriteTimeout bounds each output store operation; zero keeps the store's default.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// S3 holds connection settings for s3:// output; bucket and prefix come from OutDir.
	S3 s3.Config `yaml:"s3"`

	// StatusRedis enables the item status ledger when Url is set.
	StatusRedis    uredis.RedisClientConfig `yaml:"status_redis"`
	StatusTTL      time.Duration            `yaml:"status_ttl"`
	MetricsAddress string                   `yaml:"metrics_address"`
	NoProgress     bool                     `yaml:"no_progress"`
}

// NewConfig returns a new BatchConfig with default values.
func NewConfig() *BatchConfig {
	return &BatchConfig{
		Region:       redact.RegionEuropeanUnion,
		Face:         true,
		LicensePlate: true,
		RedactURL:    redact.DefaultBaseURL,
		HTTP: HTTPConfig{
			Timeout:        5 * time.Minute,
			MaxRetries:     3,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     30 * time.Second,
		},
		NParallelJobs: 5,
		SkipExisting:  true,
		Poll:          redact.DefaultPollPolicy(),
		StatusTTL:     7 * 24 * time.Hour,
	}
}

// LoadFromYAML loads the configuration from a YAML file.
func (c *BatchConfig) LoadFromYAML(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filePath, err)
	}
	return nil
}

const EnvPrefix = "REDACT"

// ApplyEnv overrides settings from REDACT_* environment variables.
func (c *BatchConfig) ApplyEnv() error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	for _, key := range []string{
		"url", "api_key", "region", "n_parallel_jobs", "http_timeout", "poll_timeout",
		"status_redis_url", "metrics_address", "s3_endpoint", "s3_region",
	} {
		if err := v.BindEnv(key); err != nil {
			return err
		}
	}

	if v.IsSet("url") {
		c.RedactURL = v.GetString("url")
	}
	if v.IsSet("api_key") {
		c.APIKey = v.GetString("api_key")
	}
	if v.IsSet("region") {
		r, err := redact.ParseRegion(v.GetString("region"))
		if err != nil {
			return fmt.Errorf("%s_REGION: %w", EnvPrefix, err)
		}
		c.Region = r
	}
	if v.IsSet("n_parallel_jobs") {
		c.NParallelJobs = v.GetInt("n_parallel_jobs")
	}
	if v.IsSet("http_timeout") {
		c.HTTP.Timeout = v.GetDuration("http_timeout")
	}
	if v.IsSet("poll_timeout") {
		c.Poll.Timeout = v.GetDuration("poll_timeout")
	}
	if v.IsSet("status_redis_url") {
		c.StatusRedis.Url = v.GetString("status_redis_url")
	}
	if v.IsSet("metrics_address") {
		c.MetricsAddress = v.GetString("metrics_address")
	}
	if v.IsSet("s3_endpoint") {
		c.S3.Endpoint = v.GetString("s3_endpoint")
	}
	if v.IsSet("s3_region") {
		c.S3.Region = v.GetString("s3_region")
	}
	return nil
}

// AddFlags registers the run options on fs, bound to c. Booleans that default to true also get a
// --no-<name> form.
func (c *BatchConfig) AddFlags(fs *pflag.FlagSet) {
	fs.Var(&c.Region, "region", "processing region (european_union, united_states_of_america)")
	AddNegatableBool(fs, &c.Face, "face", "anonymize faces")
	AddNegatableBool(fs, &c.LicensePlate, "license-plate", "anonymize license plates")
	fs.StringVar(&c.RedactURL, "redact-url", c.RedactURL, "base URL of the Redact service")
	fs.StringVar(&c.RedactURL, "ips-url", c.RedactURL, "alias of --redact-url")
	fs.StringVar(&c.APIKey, "api-key", c.APIKey, "API key sent as bearer token")
	fs.IntVar(&c.NParallelJobs, "n-parallel-jobs", c.NParallelJobs, "maximum number of jobs in flight")
	fs.BoolVar(&c.SaveMetadata, "save-metadata", c.SaveMetadata, "also store the detection labels next to each result")
	AddNegatableBool(fs, &c.SkipExisting, "skip-existing", "skip files whose output already exists")
	fs.BoolVar(&c.SniffContent, "sniff-content", c.SniffContent, "classify files with unknown extensions by content")
	fs.StringVar(&c.CustomLabelsDir, "custom-labels-dir", c.CustomLabelsDir, "directory with <relative path>.json custom labels")
	fs.BoolVar(&c.DeleteRemote, "delete-remote", c.DeleteRemote, "delete each job from the service after download")
	fs.DurationVar(&c.Poll.Interval, "poll-interval", c.Poll.Interval, "initial status poll interval")
	fs.DurationVar(&c.Poll.Timeout, "poll-timeout", c.Poll.Timeout, "maximum time to wait for one job")
	fs.DurationVar(&c.HTTP.Timeout, "http-timeout", c.HTTP.Timeout, "timeout of a single HTTP request")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", c.WriteTimeout, "timeout of a single output store operation")
	fs.StringVar(&c.StatusRedis.Url, "status-redis-url", c.StatusRedis.Url, "redis URL of the item status ledger")
	fs.StringVar(&c.MetricsAddress, "metrics-address", c.MetricsAddress, "address to serve /metrics on")
	fs.BoolVar(&c.NoProgress, "no-progress", c.NoProgress, "disable the progress bar")
}

// Resolve applies, in increasing precedence, the YAML file at path (if any), the environment and
// the flags of fs that were set on the command line.
func (c *BatchConfig) Resolve(fs *pflag.FlagSet, path string) error {
	changed := map[string]string{}
	if fs != nil {
		fs.Visit(func(f *pflag.Flag) {
			changed[f.Name] = f.Value.String()
		})
	}
	if path != "" {
		if err := c.LoadFromYAML(path); err != nil {
			return err
		}
	}
	if err := c.ApplyEnv(); err != nil {
		return err
	}
	for name, val := range changed {
		if err := fs.Set(name, val); err != nil {
			return fmt.Errorf("flag --%s: %w", name, err)
		}
	}
	return nil
}

// Validate checks the configuration before any work starts.
func (c *BatchConfig) Validate() error {
	var errs []error
	if c.InDir == "" {
		errs = append(errs, errors.New("input directory is required"))
	}
	if c.OutDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if !c.InputType.IsValid() {
		errs = append(errs, fmt.Errorf("invalid input type %q", c.InputType))
	}
	if !c.OutputType.IsValid() {
		errs = append(errs, fmt.Errorf("invalid output type %q", c.OutputType))
	}
	if !c.Service.IsValid() {
		errs = append(errs, fmt.Errorf("invalid service %q", c.Service))
	}
	if !c.Region.IsValid() {
		errs = append(errs, fmt.Errorf("invalid region %q", c.Region))
	}
	if c.NParallelJobs < 1 {
		errs = append(errs, fmt.Errorf("n_parallel_jobs must be at least 1, got %d", c.NParallelJobs))
	}
	if u, err := url.Parse(c.RedactURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid redact url %q", c.RedactURL))
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("write_timeout must not be negative, got %s", c.WriteTimeout))
	}
	if c.HTTP.Timeout < 0 || c.HTTP.MaxRetries < 0 {
		errs = append(errs, errors.New("http timeout and max_retries must not be negative"))
	}
	if err := c.Poll.Validate(); err != nil {
		errs = append(errs, err)
	}
	if s3.IsURL(c.OutDir) {
		if _, _, err := s3.ParseURL(c.OutDir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// JobArguments returns the per-job detection parameters of the run.
func (c *BatchConfig) JobArguments() redact.JobArguments {
	return redact.JobArguments{Region: c.Region, Face: c.Face, LicensePlate: c.LicensePlate}
}

// ClientConfig returns the Redact client settings of the run.
func (c *BatchConfig) ClientConfig() redact.ClientConfig {
	return redact.ClientConfig{
		BaseURL:        c.RedactURL,
		Timeout:        c.HTTP.Timeout,
		APIKey:         c.APIKey,
		TLS:            c.HTTP.TLS,
		MaxRetries:     c.HTTP.MaxRetries,
		InitialBackoff: c.HTTP.InitialBackoff,
		MaxBackoff:     c.HTTP.MaxBackoff,
		MaxIdleConns:   2 * c.NParallelJobs,
	}
}
