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

// The entry point for anonymizing a single file.

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/redact-client/redact-go/internal/classify"
	"github.com/redact-client/redact-go/internal/processor/config"
	"github.com/redact-client/redact-go/internal/redact"
	"github.com/redact-client/redact-go/internal/util/logging"
)

type fileOptions struct {
	customLabels string
	labelsOut    string
	// attach resumes the remote job with this output id instead of uploading a file.
	attach string
}

func newRootCmd() *cobra.Command {
	cfg := config.NewConfig()
	opts := &fileOptions{}
	var cfgFilePath string

	cmd := &cobra.Command{
		Use:   "anonymize-file <in_file> <out_file> <out_type> <service>",
		Short: "Anonymize one file with a Redact service",
		Long: `anonymize-file uploads <in_file> to the Redact service and writes the anonymized result to
<out_file>. With --attach <output_id> no file is uploaded and <in_file> is omitted; the command
waits for the existing job and downloads its result.`,
		Example: `  anonymize-file street.jpg street-anon.jpg images blur
  anonymize-file ride.mp4 ride-anon.mp4 videos dnat --labels-out ride.json
  anonymize-file ride.mp4 ride-anon.mp4 videos blur --custom-labels ride.json --no-face
  anonymize-file --attach 3f6c1d2e ride-anon.mp4 videos blur`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.attach != "" {
				return cobra.ExactArgs(3)(cmd, args)
			}
			return cobra.ExactArgs(4)(cmd, args)
		},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Resolve(cmd.Flags(), cfgFilePath); err != nil {
				return err
			}
			n := len(args)
			outType, err := redact.ParseOutputType(args[n-2])
			if err != nil {
				return err
			}
			service, err := redact.ParseServiceType(args[n-1])
			if err != nil {
				return err
			}
			if opts.attach != "" {
				return attachFile(cmd.Context(), cfg, opts, args[0], service, outType)
			}
			return anonymizeFile(cmd.Context(), cfg, opts, args[0], args[1], service, outType)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&cfgFilePath, "config", "", "path to a YAML configuration file")
	fs.StringVar(&opts.customLabels, "custom-labels", "", "JSON labels file uploaded with the job")
	fs.StringVar(&opts.labelsOut, "labels-out", "", "write the detection labels of the job to this file")
	fs.StringVar(&opts.attach, "attach", "", "output id of an existing job to wait for and download")
	cfg.AddFlags(fs)
	logging.AddKlogFlags(fs)
	return cmd
}

func anonymizeFile(ctx context.Context, cfg *config.BatchConfig, opts *fileOptions, inFile, outFile string,
	service redact.ServiceType, outType redact.OutputType) error {
	logger := klog.FromContext(ctx)

	inPath, err := classify.NormalizePath(inFile)
	if err != nil {
		return err
	}
	outPath, err := classify.NormalizePath(outFile)
	if err != nil {
		return err
	}
	if err := cfg.Poll.Validate(); err != nil {
		return err
	}

	var custom *redact.JobLabels
	if opts.customLabels != "" {
		if custom, err = redact.ReadCustomLabels(opts.customLabels); err != nil {
			return err
		}
	}

	client, err := redact.NewClient(cfg.ClientConfig())
	if err != nil {
		return err
	}
	inst, err := redact.NewInstance(client, service, outType)
	if err != nil {
		return err
	}

	in, err := os.Open(inPath)
	if err != nil {
		return &redact.IOError{Op: "open input", Path: inPath, Err: err}
	}
	defer in.Close()

	job, err := inst.StartJob(ctx, redact.JobInput{
		File:         in,
		FileName:     filepath.Base(inPath),
		Args:         cfg.JobArguments(),
		CustomLabels: custom,
	})
	if err != nil {
		return err
	}
	logger.Info("Job submitted", "job", job.Handle().String())
	return collectResult(ctx, cfg, opts, job, outPath)
}

// attachFile finishes a job that was submitted earlier, e.g. by an interrupted run.
func attachFile(ctx context.Context, cfg *config.BatchConfig, opts *fileOptions, outFile string,
	service redact.ServiceType, outType redact.OutputType) error {
	if opts.customLabels != "" {
		return errors.New("--custom-labels cannot be used with --attach")
	}
	outPath, err := classify.NormalizePath(outFile)
	if err != nil {
		return err
	}
	if err := cfg.Poll.Validate(); err != nil {
		return err
	}
	client, err := redact.NewClient(cfg.ClientConfig())
	if err != nil {
		return err
	}
	job := redact.NewJob(client, redact.JobHandle{OutputID: opts.attach, Service: service, OutputType: outType})
	klog.FromContext(ctx).Info("Attached to job", "job", job.Handle().String())
	return collectResult(ctx, cfg, opts, job, outPath)
}

// collectResult waits for job and writes its result to outPath.
func collectResult(ctx context.Context, cfg *config.BatchConfig, opts *fileOptions, job *redact.Job, outPath string) error {
	logger := klog.FromContext(ctx)

	if _, err := job.WaitUntilFinished(ctx, cfg.Poll); err != nil {
		return err
	}
	res, err := job.DownloadResult(ctx)
	if err != nil {
		return err
	}
	if err := writeFile(outPath, res.Content); err != nil {
		return err
	}

	if opts.labelsOut != "" {
		labels, err := job.Labels(ctx)
		if err != nil {
			return err
		}
		data, err := labels.JSON()
		if err != nil {
			return err
		}
		if err := writeFile(opts.labelsOut, data); err != nil {
			return err
		}
	}

	if cfg.DeleteRemote {
		if err := job.Delete(ctx); err != nil {
			logger.Error(err, "Failed to delete remote job", "job", job.Handle().String())
		}
	}
	logger.Info("File anonymized", "output", outPath, "mediaType", res.MediaType)
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &redact.IOError{Op: "create output dir", Path: path, Err: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &redact.IOError{Op: "write output", Path: path, Err: err}
	}
	return nil
}

func main() {
	defer klog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = klog.NewContext(ctx, klog.Background().WithName("anonymize-file"))

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		klog.Flush()
		os.Exit(1)
	}
}
