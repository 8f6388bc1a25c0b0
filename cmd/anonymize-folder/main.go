/*
Copyright 2026 The redact-go Authors

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

// The entry point for the batch anonymization tool.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/redact-client/redact-go/internal/classify"
	db "github.com/redact-client/redact-go/internal/database/api"
	dbredis "github.com/redact-client/redact-go/internal/database/redis"
	fsapi "github.com/redact-client/redact-go/internal/files_store/api"
	fsstore "github.com/redact-client/redact-go/internal/files_store/fs"
	"github.com/redact-client/redact-go/internal/files_store/s3"
	"github.com/redact-client/redact-go/internal/processor/config"
	"github.com/redact-client/redact-go/internal/processor/metrics"
	"github.com/redact-client/redact-go/internal/processor/worker"
	"github.com/redact-client/redact-go/internal/redact"
	"github.com/redact-client/redact-go/internal/util/logging"
)

const serviceName = "anonymize-folder"

// Both errors make the process exit non-zero after the summary was printed.
var (
	errItemsFailed    = errors.New("some files could not be anonymized")
	errItemsCancelled = errors.New("the run was interrupted before every file was processed")
)

// exitInterrupted follows the shell convention for a process stopped by SIGINT.
const exitInterrupted = 130

func newRootCmd() *cobra.Command {
	cfg := config.NewConfig()
	var cfgFilePath string

	cmd := &cobra.Command{
		Use:   "anonymize-folder <in_dir> <out_dir> <input_type> <out_type> <service>",
		Short: "Anonymize every image, video or archive below a directory with a Redact service",
		Long: `anonymize-folder walks <in_dir>, submits every file matching <input_type> to the Redact
service and writes the anonymized results to the same relative path below <out_dir>.
<out_dir> may be a local directory or s3://bucket/prefix.

  input_type  images | videos | archives
  out_type    images | videos | archives
  service     blur | dnat | extract

Examples:
  anonymize-folder ./photos ./photos-anon images images blur
  anonymize-folder ./dashcam s3://bucket/anon videos videos dnat --region united_states_of_america
  anonymize-folder ./in ./out images images blur --no-license-plate --n-parallel-jobs 16 --save-metadata`,
		Args:          cobra.ExactArgs(5),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Resolve(cmd.Flags(), cfgFilePath); err != nil {
				return err
			}
			if err := applyArgs(cfg, args); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&cfgFilePath, "config", "", "path to a YAML configuration file")
	cfg.AddFlags(fs)
	logging.AddKlogFlags(fs)
	return cmd
}

func applyArgs(cfg *config.BatchConfig, args []string) error {
	var err error
	cfg.InDir = args[0]
	cfg.OutDir = args[1]
	if cfg.InputType, err = redact.ParseInputType(args[2]); err != nil {
		return err
	}
	if cfg.OutputType, err = redact.ParseOutputType(args[3]); err != nil {
		return err
	}
	if cfg.Service, err = redact.ParseServiceType(args[4]); err != nil {
		return err
	}
	return nil
}

func run(ctx context.Context, cfg *config.BatchConfig) error {
	logger := klog.FromContext(ctx)

	// setup metrics endpoint (background goroutine)
	if cfg.MetricsAddress != "" {
		stop := metrics.StartServer(ctx, cfg.MetricsAddress)
		defer stop()
	}

	store, err := newOutputStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open output %s: %w", cfg.OutDir, err)
	}
	defer store.Close()

	status, err := newStatusStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect the status store: %w", err)
	}
	defer status.Close()

	client, err := redact.NewClient(cfg.ClientConfig())
	if err != nil {
		return err
	}
	inst, err := redact.NewInstance(client, cfg.Service, cfg.OutputType)
	if err != nil {
		return err
	}

	var progress worker.ProgressReporter = worker.NoopProgress{}
	if !cfg.NoProgress {
		progress = worker.NewBarProgress(os.Stderr)
	}

	driver := worker.NewDriver(cfg, worker.NewDriverClients(worker.InstanceStarter(inst), store, status), progress)
	logger.Info("Starting batch", "runID", driver.RunID(), "in", cfg.InDir, "out", cfg.OutDir,
		"service", cfg.Service, "outType", cfg.OutputType, "n_parallel_jobs", cfg.NParallelJobs)

	summary, err := driver.Run(ctx)
	if err != nil {
		return err
	}
	worker.RenderSummary(os.Stdout, summary)
	return summaryError(summary)
}

// summaryError reports an incomplete run. An interruption wins over item failures.
func summaryError(s *worker.Summary) error {
	switch {
	case s.Cancelled > 0:
		return errItemsCancelled
	case s.HasFailures():
		return errItemsFailed
	}
	return nil
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errItemsCancelled):
		return exitInterrupted
	}
	return 1
}

func newOutputStore(ctx context.Context, cfg *config.BatchConfig) (fsapi.OutputStore, error) {
	if s3.IsURL(cfg.OutDir) {
		bucket, prefix, err := s3.ParseURL(cfg.OutDir)
		if err != nil {
			return nil, err
		}
		s3cfg := cfg.S3
		s3cfg.Bucket = bucket
		s3cfg.Prefix = prefix
		client, err := s3.New(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		if cfg.WriteTimeout > 0 {
			client.SetDefaultTimeout(cfg.WriteTimeout)
		}
		return client, nil
	}
	outDir, err := classify.NormalizePath(cfg.OutDir)
	if err != nil {
		return nil, err
	}
	client, err := fsstore.New(outDir)
	if err != nil {
		return nil, err
	}
	if cfg.WriteTimeout > 0 {
		client.SetDefaultTimeout(cfg.WriteTimeout)
	}
	return client, nil
}

func newStatusStore(ctx context.Context, cfg *config.BatchConfig) (db.StatusStore, error) {
	if cfg.StatusRedis.Url == "" {
		return db.NoopStatusStore{}, nil
	}
	rcfg := cfg.StatusRedis
	if rcfg.ServiceName == "" {
		rcfg.ServiceName = serviceName
	}
	return dbredis.NewStatusStoreRedis(ctx, &rcfg, cfg.StatusTTL)
}

func main() {
	os.Exit(execute())
}

func execute() int {
	defer klog.Flush()

	// setup context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 2)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		klog.InfoS("Received shutdown signal, cancelling remaining files...", "signal", sig)
		cancel()

		sig = <-signalChan
		klog.InfoS("Received second shutdown signal, forcing shutdown...", "signal", sig)
		klog.Flush()
		os.Exit(1)
	}()

	ctx = klog.NewContext(ctx, klog.Background().WithName(serviceName))
	err := newRootCmd().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, errItemsFailed) && !errors.Is(err, errItemsCancelled) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return exitCode(err)
}
