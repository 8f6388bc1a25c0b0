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

// Package fs provides a local directory implementation of the OutputStore interface.
package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redact-client/redact-go/internal/files_store/api"
)

// DefaultTimeout is the default timeout for filesystem operations.
const DefaultTimeout = 5 * time.Minute

// Client implements api.OutputStore below a local root directory.
type Client struct {
	basePath       string
	defaultTimeout time.Duration
}

// Compile-time check that Client implements api.OutputStore.
var _ api.OutputStore = (*Client)(nil)

// New opens the output tree at basePath, creating it if missing.
func New(basePath string) (*Client, error) {
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &Client{
		basePath:       filepath.Clean(absPath),
		defaultTimeout: DefaultTimeout,
	}, nil
}

// SetDefaultTimeout sets the default timeout for operations.
func (c *Client) SetDefaultTimeout(timeout time.Duration) {
	c.defaultTimeout = timeout
}

// resolvePath sanitizes and resolves a location to a full path, preventing path traversal.
func (c *Client) resolvePath(location string) (string, error) {
	fullPath := filepath.Join(c.basePath, filepath.Clean(filepath.FromSlash(location)))
	// a root base path already ends with the separator
	root := c.basePath
	if !strings.HasSuffix(root, string(os.PathSeparator)) {
		root += string(os.PathSeparator)
	}
	if fullPath == c.basePath || !strings.HasPrefix(fullPath, root) {
		return "", fmt.Errorf("invalid output location %q: %w", location, os.ErrInvalid)
	}
	return fullPath, nil
}

func (c *Client) Locate(location string) string {
	fullPath, err := c.resolvePath(location)
	if err != nil {
		return filepath.Join(c.basePath, location)
	}
	return fullPath
}

func (c *Client) Exists(ctx context.Context, location string) (bool, error) {
	fullPath, err := c.resolvePath(location)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(fullPath)
	if err == nil {
		return !info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Store writes through a temp file in the destination directory and renames it into place.
func (c *Client) Store(ctx context.Context, location string, reader io.Reader) (*api.FileMetadata, error) {
	fullPath, err := c.resolvePath(location)
	if err != nil {
		return nil, err
	}

	// MkdirAll tolerates directories created concurrently by other workers.
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmpFile, reader); err != nil {
		_ = tmpFile.Close()
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = tmpFile.Close()
		return nil, err
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return nil, fmt.Errorf("failed to set file mode: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		return nil, fmt.Errorf("failed to rename file: %w", err)
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return &api.FileMetadata{
		Location: fullPath,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}, nil
}

// Retrieve opens a stored output.
func (c *Client) Retrieve(ctx context.Context, location string) (io.ReadCloser, *api.FileMetadata, error) {
	fullPath, err := c.resolvePath(location)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, nil, err
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return file, &api.FileMetadata{
		Location: fullPath,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}, nil
}

// Delete deletes an output file.
func (c *Client) Delete(ctx context.Context, location string) error {
	fullPath, err := c.resolvePath(location)
	if err != nil {
		return err
	}

	return os.Remove(fullPath)
}

// GetContext returns a derived context with a timeout.
func (c *Client) GetContext(parentCtx context.Context, timeLimit time.Duration) (context.Context, context.CancelFunc) {
	if timeLimit == 0 {
		timeLimit = c.defaultTimeout
	}
	return context.WithTimeout(parentCtx, timeLimit)
}

// Close closes the client.
func (c *Client) Close() error {
	return nil
}
