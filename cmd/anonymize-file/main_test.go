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

package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redact-client/redact-go/internal/processor/config"
	"github.com/redact-client/redact-go/internal/redact"
	"github.com/redact-client/redact-go/internal/redact/redacttest"
)

func testConfig(srv *redacttest.Server) *config.BatchConfig {
	cfg := config.NewConfig()
	cfg.RedactURL = srv.URL
	cfg.Poll = redact.PollPolicy{
		Interval:      time.Millisecond,
		MaxInterval:   5 * time.Millisecond,
		Multiplier:    2,
		Timeout:       5 * time.Second,
		MaxPollErrors: 3,
	}
	return cfg
}

func TestAnonymizeFile(t *testing.T) {
	srv := redacttest.NewServer(redacttest.Options{PollsUntilFinished: 2})
	defer srv.Close()

	dir := t.TempDir()
	inFile := filepath.Join(dir, "street.jpg")
	require.NoError(t, os.WriteFile(inFile, []byte("pixels"), 0o644))
	outFile := filepath.Join(dir, "anon", "street.jpg")
	labelsOut := filepath.Join(dir, "anon", "street.json")

	err := anonymizeFile(context.Background(), testConfig(srv), &fileOptions{labelsOut: labelsOut},
		inFile, outFile, redact.ServiceBlur, redact.OutputImages)
	require.NoError(t, err)

	got, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, redacttest.ResultPrefix+"pixels", string(got))

	labels, err := redact.ReadCustomLabels(labelsOut)
	require.NoError(t, err)
	assert.Equal(t, redacttest.DefaultLabels(), labels)
	assert.Equal(t, 1, srv.Downloads())
}

func TestAttachFile(t *testing.T) {
	srv := redacttest.NewServer(redacttest.Options{PollsUntilFinished: 2})
	defer srv.Close()
	ctx := context.Background()
	cfg := testConfig(srv)

	client, err := redact.NewClient(cfg.ClientConfig())
	require.NoError(t, err)
	inst, err := redact.NewInstance(client, redact.ServiceDNAT, redact.OutputVideos)
	require.NoError(t, err)
	job, err := inst.StartJob(ctx, redact.JobInput{
		File:     strings.NewReader("frames"),
		FileName: "ride.mp4",
		Args:     cfg.JobArguments(),
	})
	require.NoError(t, err)

	t.Run("should download the result of an existing job", func(t *testing.T) {
		outFile := filepath.Join(t.TempDir(), "ride.mp4")
		opts := &fileOptions{attach: job.Handle().OutputID}
		require.NoError(t, attachFile(ctx, cfg, opts, outFile, redact.ServiceDNAT, redact.OutputVideos))

		got, err := os.ReadFile(outFile)
		require.NoError(t, err)
		assert.Equal(t, redacttest.ResultPrefix+"frames", string(got))
		assert.Len(t, srv.Submissions(), 1, "attaching uploads nothing")
		assert.Equal(t, 1, srv.Downloads())
	})

	t.Run("should fail for an unknown output id", func(t *testing.T) {
		opts := &fileOptions{attach: "does-not-exist"}
		err := attachFile(ctx, cfg, opts, filepath.Join(t.TempDir(), "x.mp4"), redact.ServiceDNAT, redact.OutputVideos)
		assert.Error(t, err)
	})

	t.Run("should refuse custom labels", func(t *testing.T) {
		opts := &fileOptions{attach: job.Handle().OutputID, customLabels: "labels.json"}
		err := attachFile(ctx, cfg, opts, filepath.Join(t.TempDir(), "x.mp4"), redact.ServiceDNAT, redact.OutputVideos)
		assert.Error(t, err)
	})
}

func TestRootCmdArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "attach takes no input file", args: []string{"--attach", "abc", "in.jpg", "out.jpg", "images", "blur"}},
		{name: "upload needs an input file", args: []string{"out.jpg", "images", "blur"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(tt.args)
			cmd.SetOut(io.Discard)
			cmd.SetErr(io.Discard)
			err := cmd.ExecuteContext(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "accepts")
		})
	}
}
