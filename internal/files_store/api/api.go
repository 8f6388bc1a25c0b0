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

// Package api defines where anonymized results and their sidecar labels are written.
package api

import (
	"context"
	"io"
	"time"
)

// FileMetadata describes a stored output.
type FileMetadata struct {
	Location string // absolute path or s3:// URL
	Size     int64
	ModTime  time.Time
}

// OutputStore is an output tree addressed by slash-separated locations relative to its root.
// Implementations must be safe for concurrent use by batch workers writing distinct locations.
type OutputStore interface {
	// Exists reports whether an output is already present at location.
	Exists(ctx context.Context, location string) (bool, error)

	// Store writes the content at location, replacing any previous output. Readers never observe
	// a partially written output.
	Store(ctx context.Context, location string, reader io.Reader) (*FileMetadata, error)

	// Retrieve opens a stored output. It returns os.ErrNotExist if there is none.
	Retrieve(ctx context.Context, location string) (io.ReadCloser, *FileMetadata, error)

	// Delete removes a stored output. It returns os.ErrNotExist if there is none.
	Delete(ctx context.Context, location string) error

	// Locate returns the user-facing address of location.
	Locate(location string) string

	// GetContext returns a derived context with a time limit; 0 selects the store default.
	GetContext(parentCtx context.Context, timeLimit time.Duration) (context.Context, context.CancelFunc)

	Close() error
}
