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

// this file contains the bounded pool of worker ids.

package worker

import (
	"context"
	"sync"
)

// WorkerPool hands out a fixed set of worker ids. Holding an id is the right to run one item.
type WorkerPool struct {
	workerIds chan int
	size      int
	wg        sync.WaitGroup
}

func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	wp := &WorkerPool{
		workerIds: make(chan int, size),
		size:      size,
	}
	for i := 0; i < size; i++ {
		wp.workerIds <- i
	}
	return wp
}

func (wp *WorkerPool) Size() int {
	return wp.size
}

// TryAcquire takes an idle worker without blocking.
func (wp *WorkerPool) TryAcquire() (int, bool) {
	select {
	case id := <-wp.workerIds:
		wp.wg.Add(1)
		return id, true
	default:
		return -1, false
	}
}

// Acquire blocks until a worker is idle or ctx is done.
func (wp *WorkerPool) Acquire(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	select {
	case id := <-wp.workerIds:
		wp.wg.Add(1)
		return id, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (wp *WorkerPool) Release(id int) {
	wp.workerIds <- id
	wp.wg.Done()
}

// WaitAll waits until every acquired worker was released.
func (wp *WorkerPool) WaitAll() {
	wp.wg.Wait()
}
