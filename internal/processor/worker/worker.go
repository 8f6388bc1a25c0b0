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

// this file contains the batch driver: it builds the work list and runs every item through the pool.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/redact-client/redact-go/internal/classify"
	db "github.com/redact-client/redact-go/internal/database/api"
	fsapi "github.com/redact-client/redact-go/internal/files_store/api"
	"github.com/redact-client/redact-go/internal/processor/config"
	"github.com/redact-client/redact-go/internal/processor/metrics"
	"github.com/redact-client/redact-go/internal/redact"
	"github.com/redact-client/redact-go/internal/util/logging"
)

type DriverClients struct {
	starter JobStarter
	store   fsapi.OutputStore
	status  db.StatusStore
}

func NewDriverClients(starter JobStarter, store fsapi.OutputStore, status db.StatusStore) DriverClients {
	if status == nil {
		status = db.NoopStatusStore{}
	}
	return DriverClients{
		starter: starter,
		store:   store,
		status:  status,
	}
}

// Driver runs one batch: every matching file of the input tree becomes one remote job.
type Driver struct {
	cfg        *config.BatchConfig
	workerPool *WorkerPool
	classifier classify.Classifier
	args       redact.JobArguments
	runID      string

	clients  DriverClients
	progress ProgressReporter
}

func NewDriver(cfg *config.BatchConfig, clients DriverClients, progress ProgressReporter) *Driver {
	if progress == nil {
		progress = NoopProgress{}
	}
	return &Driver{
		cfg:        cfg,
		workerPool: NewWorkerPool(cfg.NParallelJobs),
		classifier: classify.Classifier{SniffContent: cfg.SniffContent},
		args:       cfg.JobArguments(),
		runID:      uuid.NewString(),
		clients:    clients,
		progress:   progress,
	}
}

// RunID identifies the run in the item status store.
func (d *Driver) RunID() string {
	return d.runID
}

// pre-flight check
func (d *Driver) prepare(ctx context.Context) error {
	if d.clients.starter == nil || d.clients.store == nil || d.clients.status == nil {
		return fmt.Errorf("critical clients are missing in Driver")
	}
	if d.cfg.NParallelJobs < 1 {
		return fmt.Errorf("n_parallel_jobs must be at least 1, got %d", d.cfg.NParallelJobs)
	}
	if err := d.cfg.Poll.Validate(); err != nil {
		return err
	}
	klog.FromContext(ctx).V(logging.DEBUG).Info("Driver pre-flight check done", "n_parallel_jobs", d.cfg.NParallelJobs)
	return nil
}

// BuildWorkList enumerates the input tree and returns one item per matching file, in lexicographic order.
func (d *Driver) BuildWorkList(ctx context.Context) ([]WorkItem, error) {
	logger := klog.FromContext(ctx)
	inDir, err := classify.NormalizePath(d.cfg.InDir)
	if err != nil {
		return nil, &redact.IOError{Op: "normalize input dir", Path: d.cfg.InDir, Err: err}
	}

	all, err := classify.Enumerate(inDir)
	if err != nil {
		return nil, err
	}
	matching := d.classifier.Filter(inDir, all, d.cfg.InputType)
	logger.Info("Found files to process", "inDir", inDir, "inputType", d.cfg.InputType, "matching", len(matching), "total", len(all))

	items := make([]WorkItem, 0, len(matching))
	seen := make(map[string]string, len(matching))
	for _, rel := range matching {
		loc := path.Clean(rel)
		if prev, dup := seen[loc]; dup {
			return nil, fmt.Errorf("input files %q and %q map to the same output %q", prev, rel, loc)
		}
		seen[loc] = rel
		items = append(items, WorkItem{
			RelPath:        rel,
			InputPath:      filepath.Join(inDir, filepath.FromSlash(rel)),
			OutputLocation: loc,
			OutputPath:     d.clients.store.Locate(loc),
		})
	}
	return items, nil
}

// Run processes the input tree. It returns an error only when the run itself could not start; item failures
// are reported in the summary.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	if err := d.prepare(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare driver: %w", err)
	}
	logger := klog.FromContext(ctx).WithValues("runID", d.runID)
	ctx = klog.NewContext(ctx, logger)

	items, err := d.BuildWorkList(ctx)
	if err != nil {
		return nil, err
	}
	return d.RunItems(ctx, items), nil
}

// RunItems dispatches a prepared work list.
func (d *Driver) RunItems(ctx context.Context, items []WorkItem) *Summary {
	logger := klog.FromContext(ctx)
	start := time.Now()

	collector := newResultCollector(items, d.progress)
	d.progress.Start(len(items))
	for i := range items {
		d.setItemState(ctx, &items[i], ItemPending, "", nil)
	}

	logger.Info("Starting parallel jobs", "n_parallel_jobs", d.cfg.NParallelJobs, "items", len(items))
	d.dispatch(ctx, items, collector)

	d.workerPool.WaitAll()
	d.progress.Finish()

	summary := collector.summary()
	summary.RunID = d.runID
	summary.Duration = time.Since(start)
	logger.Info("Batch finished",
		"total", summary.Total, "succeeded", summary.Succeeded, "skipped", summary.Skipped,
		"failed", summary.Failed, "cancelled", summary.Cancelled, "duration", summary.Duration)
	return summary
}

// dispatch assigns items to workers in order. It blocks while all workers are busy and stops at cancellation.
func (d *Driver) dispatch(ctx context.Context, items []WorkItem, collector *resultCollector) {
	logger := klog.FromContext(ctx)

	for idx := range items {
		item := items[idx]

		if ctx.Err() != nil {
			d.cancelRemaining(ctx, items[idx:], idx, collector)
			return
		}

		if d.cfg.SkipExisting {
			exists, err := d.clients.store.Exists(ctx, item.OutputLocation)
			if err != nil && ctx.Err() != nil {
				d.cancelRemaining(ctx, items[idx:], idx, collector)
				return
			}
			if err != nil {
				d.finish(ctx, collector, idx, ItemResult{Item: item, State: ItemFailed,
					Err: &redact.IOError{Op: "check output", Path: item.OutputPath, Err: err}})
				continue
			}
			if exists {
				logger.V(logging.DEBUG).Info("Output exists, skipping", "item", item.RelPath)
				d.finish(ctx, collector, idx, ItemResult{Item: item, State: ItemSkipped})
				continue
			}
		}

		workerId, ok := d.workerPool.TryAcquire()
		if !ok {
			logger.V(logging.TRACE).Info("All workers busy, waiting", "item", item.RelPath, "workers", d.workerPool.Size())
			var err error
			if workerId, err = d.workerPool.Acquire(ctx); err != nil {
				d.cancelRemaining(ctx, items[idx:], idx, collector)
				return
			}
		}
		// a worker freed by cancellation may be handed out before the loop sees ctx done
		if ctx.Err() != nil {
			d.workerPool.Release(workerId)
			d.cancelRemaining(ctx, items[idx:], idx, collector)
			return
		}

		// run goroutine for each item
		go func(id int, idx int, item WorkItem) {
			itemCtx, itemLogger := logging.ItemLogger(ctx, item.RelPath, id)
			result := ItemResult{Item: item, State: ItemFailed}
			// release resources
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("panic while processing %s: %v", item.RelPath, r)
					itemLogger.Error(err, "Panic recovered in worker")
					result.State = ItemFailed
					result.Err = err
				}
				d.finish(itemCtx, collector, idx, result)
				d.workerPool.Release(id)
				metrics.DecActiveWorkers()
			}()

			metrics.IncActiveWorkers()
			result = d.processItem(itemCtx, item)
		}(workerId, idx, item)
	}
}

func (d *Driver) cancelRemaining(ctx context.Context, rest []WorkItem, offset int, collector *resultCollector) {
	klog.FromContext(ctx).Info("Dispatch stopped, cancelling remaining items", "remaining", len(rest))
	for i, item := range rest {
		d.finish(ctx, collector, offset+i, ItemResult{Item: item, State: ItemCancelled, Err: ctx.Err()})
	}
}

// processItem runs one item from upload to stored result.
func (d *Driver) processItem(ctx context.Context, item WorkItem) (result ItemResult) {
	logger := klog.FromContext(ctx)
	start := time.Now()
	result = ItemResult{Item: item}
	defer func() {
		result.Duration = time.Since(start)
		if ctx.Err() != nil && result.State != ItemDone {
			result.State = ItemCancelled
		}
	}()
	fail := func(err error) ItemResult {
		result.State = ItemFailed
		result.Err = err
		return result
	}

	logger.V(logging.DEBUG).Info("Worker started item")

	customLabels, err := d.customLabels(item)
	if err != nil {
		return fail(err)
	}

	in, err := os.Open(item.InputPath)
	if err != nil {
		return fail(&redact.IOError{Op: "open input", Path: item.InputPath, Err: err})
	}
	job, err := d.clients.starter.StartJob(ctx, redact.JobInput{
		File:         in,
		FileName:     path.Base(item.RelPath),
		Args:         d.args,
		CustomLabels: customLabels,
	})
	_ = in.Close()
	recordAPI("submit", err)
	if err != nil {
		return fail(fmt.Errorf("submit: %w", err))
	}
	result.Handle = job.Handle()
	d.setItemState(ctx, &item, ItemSubmitted, result.Handle.OutputID, nil)

	d.setItemState(ctx, &item, ItemPolling, result.Handle.OutputID, nil)
	_, err = job.WaitUntilFinished(ctx, d.cfg.Poll)
	recordAPI("wait", err)
	if err != nil {
		return fail(err)
	}

	d.setItemState(ctx, &item, ItemDownloading, result.Handle.OutputID, nil)
	res, err := job.DownloadResult(ctx)
	recordAPI("download", err)
	if err != nil {
		return fail(fmt.Errorf("download result: %w", err))
	}
	result.MediaType = res.MediaType

	sidecarStored := false
	if d.cfg.SaveMetadata {
		labels, err := job.Labels(ctx)
		recordAPI("labels", err)
		if err != nil {
			return fail(fmt.Errorf("get labels: %w", err))
		}
		data, err := labels.JSON()
		if err != nil {
			return fail(fmt.Errorf("encode labels: %w", err))
		}
		if err := d.store(ctx, item.SidecarLocation(), data); err != nil {
			return fail(&redact.IOError{Op: "write labels", Path: d.clients.store.Locate(item.SidecarLocation()), Err: err})
		}
		sidecarStored = true
	}

	if err := d.store(ctx, item.OutputLocation, res.Content); err != nil {
		if sidecarStored {
			// keep result and sidecar together so that a rerun redoes both
			if derr := d.clients.store.Delete(ctx, item.SidecarLocation()); derr != nil {
				logger.Error(derr, "Failed to remove labels of unwritten result")
			}
		}
		return fail(&redact.IOError{Op: "write result", Path: item.OutputPath, Err: err})
	}

	if d.cfg.DeleteRemote {
		err := job.Delete(ctx)
		recordAPI("delete", err)
		if err != nil {
			logger.Error(err, "Failed to delete remote job", "job", result.Handle.String())
		}
	}

	result.State = ItemDone
	logger.V(logging.DEBUG).Info("Item processed", "job", result.Handle.String(), "output", item.OutputPath)
	return result
}

func (d *Driver) store(ctx context.Context, location string, data []byte) error {
	sctx, cancel := d.clients.store.GetContext(ctx, 0)
	defer cancel()
	_, err := d.clients.store.Store(sctx, location, bytes.NewReader(data))
	return err
}

// customLabels loads <CustomLabelsDir>/<rel>.json if it exists.
func (d *Driver) customLabels(item WorkItem) (*redact.JobLabels, error) {
	if d.cfg.CustomLabelsDir == "" {
		return nil, nil
	}
	p := filepath.Join(d.cfg.CustomLabelsDir, filepath.FromSlash(item.RelPath)+".json")
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &redact.IOError{Op: "stat custom labels", Path: p, Err: err}
	}
	return redact.ReadJobLabelsFile(p)
}

// finish records a terminal result.
func (d *Driver) finish(ctx context.Context, collector *resultCollector, idx int, r ItemResult) {
	if r.State == ItemFailed && r.Err == nil {
		r.Err = errors.New("unknown failure")
	}
	d.setItemState(ctx, &r.Item, r.State, r.Handle.OutputID, r.Err)

	result, reason := metricLabels(r)
	metrics.RecordItemProcessed(result, reason)
	if r.State == ItemDone {
		metrics.RecordItemDuration(r.Duration, d.cfg.Service.String(), d.cfg.OutputType.String())
	}
	if r.State == ItemFailed {
		klog.FromContext(ctx).Error(r.Err, "Item failed", "item", r.Item.RelPath)
	}
	collector.record(idx, r)
}

func (d *Driver) setItemState(ctx context.Context, item *WorkItem, state ItemState, outputID string, err error) {
	rec := &db.ItemRecord{
		RelPath:   item.RelPath,
		State:     state.String(),
		OutputID:  outputID,
		UpdatedAt: time.Now(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	// the ledger is informational; its failures never fail an item
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if serr := d.clients.status.SetItem(sctx, d.runID, rec); serr != nil {
		klog.FromContext(ctx).V(logging.WARNING).Info("Failed to record item state", "item", item.RelPath, "state", state, "err", serr)
	}
}

// resultCollector gathers terminal results from all workers.
type resultCollector struct {
	mu       sync.Mutex
	results  []ItemResult
	recorded []bool
	progress ProgressReporter
}

func newResultCollector(items []WorkItem, progress ProgressReporter) *resultCollector {
	return &resultCollector{
		results:  make([]ItemResult, len(items)),
		recorded: make([]bool, len(items)),
		progress: progress,
	}
}

func (c *resultCollector) record(idx int, r ItemResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recorded[idx] {
		return
	}
	c.results[idx] = r
	c.recorded[idx] = true
	c.progress.Advance(r)
}

func (c *resultCollector) summary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &Summary{Total: len(c.results)}
	for _, r := range c.results {
		s.add(r)
	}
	return s
}

func recordAPI(op string, err error) {
	if err == nil {
		metrics.RecordAPIRequest(op, "ok")
		return
	}
	var se *redact.ServiceError
	switch {
	case errors.As(err, &se):
		metrics.RecordAPIRequest(op, string(se.Category))
	case errors.Is(err, redact.ErrTimeout):
		metrics.RecordAPIRequest(op, "TIMEOUT")
	default:
		metrics.RecordAPIRequest(op, string(redact.ErrCategoryUnknown))
	}
}

func metricLabels(r ItemResult) (result string, reason string) {
	switch r.State {
	case ItemDone:
		return metrics.ResultDone, metrics.ReasonNone
	case ItemSkipped:
		return metrics.ResultSkipped, metrics.ReasonNone
	case ItemCancelled:
		return metrics.ResultCancelled, metrics.ReasonNone
	}
	var se *redact.ServiceError
	var ioErr *redact.IOError
	switch {
	case errors.As(r.Err, &se) && !se.IsRetryable() && se.Category != redact.ErrCategoryUnknown:
		return metrics.ResultFailed, metrics.ReasonUserError
	case errors.As(r.Err, &se), errors.As(r.Err, &ioErr), errors.Is(r.Err, redact.ErrTimeout):
		return metrics.ResultFailed, metrics.ReasonSystemError
	default:
		return metrics.ResultFailed, metrics.ReasonUnknown
	}
}
