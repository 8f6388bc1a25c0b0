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

package redact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/redact-client/redact-go/internal/util/logging"
)

// Instance binds a Client to one service and output type.
type Instance struct {
	client  *Client
	service ServiceType
	outType OutputType
}

func NewInstance(client *Client, service ServiceType, outType OutputType) (*Instance, error) {
	if client == nil {
		return nil, errors.New("client is nil")
	}
	if !service.IsValid() {
		return nil, fmt.Errorf("invalid service %q", service)
	}
	if !outType.IsValid() {
		return nil, fmt.Errorf("invalid output type %q", outType)
	}
	return &Instance{client: client, service: service, outType: outType}, nil
}

func (i *Instance) Service() ServiceType   { return i.service }
func (i *Instance) OutputType() OutputType { return i.outType }

// JobInput is the content and parameters of one job submission.
type JobInput struct {
	File         io.Reader
	FileName     string
	Args         JobArguments
	CustomLabels *JobLabels
}

// StartJob submits a file and returns the started job.
func (i *Instance) StartJob(ctx context.Context, in JobInput) (*Job, error) {
	handle, err := i.client.Submit(ctx, &SubmitRequest{
		Service:      i.service,
		OutputType:   i.outType,
		Args:         in.Args,
		File:         in.File,
		FileName:     in.FileName,
		CustomLabels: in.CustomLabels,
	})
	if err != nil {
		return nil, err
	}
	klog.FromContext(ctx).V(logging.DEBUG).Info("Job submitted", "job", handle.String(), "file", in.FileName)
	return &Job{client: i.client, handle: handle}, nil
}

// Job is the client-side view of one remote job. Methods may be called from one goroutine at a time
// per job; the mutex only protects the last observed state.
type Job struct {
	client *Client
	handle JobHandle

	mu        sync.Mutex
	lastState JobState
}

// NewJob attaches to an existing remote job.
func NewJob(client *Client, handle JobHandle) *Job {
	return &Job{client: client, handle: handle}
}

func (j *Job) Handle() JobHandle { return j.handle }

// LastState returns the state observed by the most recent status query, empty before any.
func (j *Job) LastState() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastState
}

func (j *Job) setState(s JobState) {
	j.mu.Lock()
	j.lastState = s
	j.mu.Unlock()
}

// Status queries the current remote status.
func (j *Job) Status(ctx context.Context) (*JobStatus, error) {
	status, err := j.client.GetStatus(ctx, j.handle)
	if err != nil {
		return nil, err
	}
	j.setState(status.State)
	return status, nil
}

// PollPolicy controls WaitUntilFinished.
type PollPolicy struct {
	Interval      time.Duration `yaml:"interval"`
	MaxInterval   time.Duration `yaml:"max_interval"`
	Multiplier    float64       `yaml:"multiplier"`
	Timeout       time.Duration `yaml:"timeout"`         // 0 means no limit besides ctx
	MaxPollErrors int           `yaml:"max_poll_errors"` // consecutive retryable status failures tolerated
}

func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:      1 * time.Second,
		MaxInterval:   10 * time.Second,
		Multiplier:    1.5,
		Timeout:       1 * time.Hour,
		MaxPollErrors: 5,
	}
}

func (p PollPolicy) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", p.Interval)
	}
	if p.MaxInterval < p.Interval {
		return fmt.Errorf("poll max interval %s is below interval %s", p.MaxInterval, p.Interval)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("poll multiplier must be >= 1, got %v", p.Multiplier)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("poll timeout must not be negative, got %s", p.Timeout)
	}
	if p.MaxPollErrors < 1 {
		return fmt.Errorf("max poll errors must be >= 1, got %d", p.MaxPollErrors)
	}
	return nil
}

func (p PollPolicy) next(d time.Duration) time.Duration {
	n := time.Duration(float64(d) * p.Multiplier)
	if n > p.MaxInterval {
		return p.MaxInterval
	}
	return n
}

// WaitUntilFinished polls the job until it is finished or failed. A failed job returns its status together with
// the failure reported by the service.
func (j *Job) WaitUntilFinished(ctx context.Context, policy PollPolicy) (*JobStatus, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	logger := klog.FromContext(ctx).WithValues("job", j.handle.String())

	start := time.Now()
	interval := policy.Interval
	pollErrors := 0

	for {
		status, err := j.Status(ctx)
		switch {
		case err == nil:
			pollErrors = 0
			if status.State.IsTerminal() {
				logger.V(logging.DEBUG).Info("Job reached terminal state", "state", status.State, "elapsed", time.Since(start))
				return status, status.Err()
			}
			logger.V(logging.TRACE).Info("Job not finished yet", "state", status.State)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			var se *ServiceError
			if !errors.As(err, &se) || !se.IsRetryable() {
				return nil, err
			}
			pollErrors++
			if pollErrors >= policy.MaxPollErrors {
				return nil, fmt.Errorf("status of %s failed %d times in a row: %w", j.handle, pollErrors, err)
			}
			logger.V(logging.DEBUG).Info("Transient status failure", "attempt", pollErrors, "err", err)
		}

		wait := interval
		if policy.Timeout > 0 {
			remaining := policy.Timeout - time.Since(start)
			if remaining <= 0 {
				return nil, &TimeoutError{Handle: j.handle, Elapsed: time.Since(start), LastState: j.LastState()}
			}
			if wait > remaining {
				wait = remaining
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		interval = policy.next(interval)
	}
}

func (j *Job) requireFinished(op string) error {
	if s := j.LastState(); s != JobStateFinished {
		return &StateError{Op: op, State: s, Required: JobStateFinished}
	}
	return nil
}

// DownloadResult fetches the anonymized content. The job must have been observed as finished.
func (j *Job) DownloadResult(ctx context.Context) (*JobResult, error) {
	if err := j.requireFinished("download result"); err != nil {
		return nil, err
	}
	return j.client.GetResult(ctx, j.handle)
}

// Labels fetches the detections of a finished job.
func (j *Job) Labels(ctx context.Context) (*JobLabels, error) {
	if err := j.requireFinished("get labels"); err != nil {
		return nil, err
	}
	return j.client.GetLabels(ctx, j.handle)
}

// Delete removes the remote job. Later status queries fail with a not-found ServiceError.
func (j *Job) Delete(ctx context.Context) error {
	if err := j.client.Delete(ctx, j.handle); err != nil {
		return err
	}
	j.setState("")
	return nil
}
