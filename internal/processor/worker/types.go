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

package worker

import (
	"context"
	"time"

	"github.com/redact-client/redact-go/internal/redact"
)

// ItemState is the lifecycle state of one batch item.
type ItemState string

const (
	ItemPending     ItemState = "pending"
	ItemSubmitted   ItemState = "submitted"
	ItemPolling     ItemState = "polling"
	ItemDownloading ItemState = "downloading"
	ItemDone        ItemState = "done"
	ItemSkipped     ItemState = "skipped"
	ItemFailed      ItemState = "failed"
	ItemCancelled   ItemState = "cancelled"
)

func (s ItemState) String() string {
	return string(s)
}

func (s ItemState) IsTerminal() bool {
	switch s {
	case ItemDone, ItemSkipped, ItemFailed, ItemCancelled:
		return true
	}
	return false
}

// WorkItem is one input file and where its result goes.
type WorkItem struct {
	RelPath        string // slash-separated, relative to the input root
	InputPath      string // absolute
	OutputLocation string // slash-separated, relative to the output root
	OutputPath     string // absolute path or s3:// URL
}

// SidecarLocation is where the labels of the item are stored.
func (w WorkItem) SidecarLocation() string {
	return w.OutputLocation + ".json"
}

// ItemResult is the terminal outcome of one item.
type ItemResult struct {
	Item      WorkItem
	State     ItemState
	Err       error
	Handle    redact.JobHandle
	MediaType string
	Duration  time.Duration
}

// Summary aggregates a finished run. Results are in work list order.
type Summary struct {
	RunID     string
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	Cancelled int
	Results   []ItemResult
	Failures  []ItemResult
	Duration  time.Duration
}

func (s *Summary) HasFailures() bool {
	return s.Failed > 0
}

func (s *Summary) add(r ItemResult) {
	s.Results = append(s.Results, r)
	switch r.State {
	case ItemDone:
		s.Succeeded++
	case ItemSkipped:
		s.Skipped++
	case ItemCancelled:
		s.Cancelled++
	default:
		s.Failed++
		s.Failures = append(s.Failures, r)
	}
}

// ProgressReporter is told about every item reaching a terminal state. Calls are serialized.
type ProgressReporter interface {
	Start(total int)
	Advance(r ItemResult)
	Finish()
}

type NoopProgress struct{}

func (NoopProgress) Start(int)          {}
func (NoopProgress) Advance(ItemResult) {}
func (NoopProgress) Finish()            {}

// RemoteJob is the part of a redact.Job the driver uses.
type RemoteJob interface {
	Handle() redact.JobHandle
	WaitUntilFinished(ctx context.Context, policy redact.PollPolicy) (*redact.JobStatus, error)
	DownloadResult(ctx context.Context) (*redact.JobResult, error)
	Labels(ctx context.Context) (*redact.JobLabels, error)
	Delete(ctx context.Context) error
}

// JobStarter submits one job.
type JobStarter interface {
	StartJob(ctx context.Context, in redact.JobInput) (RemoteJob, error)
}

type JobStarterFunc func(ctx context.Context, in redact.JobInput) (RemoteJob, error)

func (f JobStarterFunc) StartJob(ctx context.Context, in redact.JobInput) (RemoteJob, error) {
	return f(ctx, in)
}

// InstanceStarter adapts a redact.Instance.
func InstanceStarter(inst *redact.Instance) JobStarter {
	return JobStarterFunc(func(ctx context.Context, in redact.JobInput) (RemoteJob, error) {
		job, err := inst.StartJob(ctx, in)
		if err != nil {
			return nil, err
		}
		return job, nil
	})
}
