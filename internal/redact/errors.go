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
	"errors"
	"fmt"
	"time"
)

type ErrorCategory string

const (
	ErrCategoryRateLimit  ErrorCategory = "RATE_LIMIT"   // retryable
	ErrCategoryServer     ErrorCategory = "SERVER_ERROR" // retryable
	ErrCategoryInvalidReq ErrorCategory = "INVALID_REQ"  // not retryable
	ErrCategoryAuth       ErrorCategory = "AUTH_ERROR"   // not retryable
	ErrCategoryNotFound   ErrorCategory = "NOT_FOUND"    // not retryable
	ErrCategoryJobFailed  ErrorCategory = "JOB_FAILED"   // not retryable, the job itself failed remotely
	ErrCategoryUnknown    ErrorCategory = "UNKNOWN"      // not retryable
)

var (
	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("timed out waiting for job")
	// ErrInvalidState is matched by every *StateError.
	ErrInvalidState = errors.New("invalid job state")
)

// ServiceError is returned when the remote service rejected a request or reported a failure.
type ServiceError struct {
	StatusCode int // 0 when no HTTP response was received
	Category   ErrorCategory
	Message    string
	RawError   error // original error
}

func (e *ServiceError) Error() string {
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.RawError
}

// checks if the error is retryable
func (e *ServiceError) IsRetryable() bool {
	return e.Category == ErrCategoryRateLimit || e.Category == ErrCategoryServer
}

// IsNotFound reports whether err is a service error for an unknown (e.g. deleted) job.
func IsNotFound(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Category == ErrCategoryNotFound
}

// TimeoutError is returned when a job did not reach a terminal state within the poll budget.
type TimeoutError struct {
	Handle    JobHandle
	Elapsed   time.Duration
	LastState JobState
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s not finished after %s (last state %q)", e.Handle, e.Elapsed.Round(time.Millisecond), e.LastState)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// StateError is returned when an operation is invoked before the job reached the required state.
type StateError struct {
	Op       string
	State    JobState
	Required JobState
}

func (e *StateError) Error() string {
	state := string(e.State)
	if state == "" {
		state = "unknown"
	}
	return fmt.Sprintf("cannot %s: job state is %s, need %s", e.Op, state, e.Required)
}

func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// IOError wraps a local filesystem failure, e.g. an unreadable input directory or an unwritable output.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
