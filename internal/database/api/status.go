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

// Package api defines the item status ledger a batch run reports its progress to.
package api

import (
	"context"
	"fmt"
	"time"
)

// ItemRecord is the latest known state of one batch item.
type ItemRecord struct {
	RelPath   string    `json:"rel_path"`
	State     string    `json:"state"`
	OutputID  string    `json:"output_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *ItemRecord) IsValid() error {
	if r == nil {
		return fmt.Errorf("empty item record")
	}
	if r.RelPath == "" {
		return fmt.Errorf("item record has no path")
	}
	if r.State == "" {
		return fmt.Errorf("item record %s has no state", r.RelPath)
	}
	return nil
}

// StatusStore keeps one record per item of a run, keyed by run ID and relative path.
type StatusStore interface {
	// SetItem records the state of an item, replacing the previous record.
	SetItem(ctx context.Context, runID string, rec *ItemRecord) error

	// GetItems returns every record of a run, sorted by path.
	GetItems(ctx context.Context, runID string) ([]*ItemRecord, error)

	// Counts returns the number of items per state.
	Counts(ctx context.Context, runID string) (map[string]int64, error)

	Close() error
}

// NoopStatusStore discards every record. It is used when no ledger is configured.
type NoopStatusStore struct{}

var _ StatusStore = NoopStatusStore{}

func (NoopStatusStore) SetItem(context.Context, string, *ItemRecord) error { return nil }

func (NoopStatusStore) GetItems(context.Context, string) ([]*ItemRecord, error) { return nil, nil }

func (NoopStatusStore) Counts(context.Context, string) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func (NoopStatusStore) Close() error { return nil }
