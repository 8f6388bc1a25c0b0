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

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// labels definition
const (
	// result labels
	ResultDone      = "done"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
	ResultCancelled = "cancelled"

	// reason labels
	ReasonNone        = "none"
	ReasonUserError   = "user_error"   // rejected input, failed job
	ReasonSystemError = "system_error" // timeout, transport, local i/o
	ReasonUnknown     = "unknown"
)

var (
	// number of items processed so far
	itemsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "redact",
			Name:      "items_processed_total",
			Help:      "Total number of batch items that reached a terminal state",
		}, []string{"result", "reason"},
	)

	// duration of item processing, submit to stored result
	itemProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "redact",
			Name:      "item_processing_duration_seconds",
			Help:      "Duration of item processing in seconds",
			// 0.25s up to ~68m
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 15),
		}, []string{"service", "out_type"},
	)

	// current number of active workers
	activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "redact",
			Name:      "active_workers",
			Help:      "Current number of workers processing items",
		},
	)

	// remote API calls by operation and outcome
	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "redact",
			Name:      "api_requests_total",
			Help:      "Total number of Redact API operations by outcome",
		},
		[]string{"operation", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(itemsProcessed)
	prometheus.MustRegister(itemProcessingDuration)
	prometheus.MustRegister(activeWorkers)
	prometheus.MustRegister(apiRequests)
}

// Recorder funcs

// RecordItemProcessed increments the total processed items count.
func RecordItemProcessed(result string, reason string) {
	itemsProcessed.WithLabelValues(result, reason).Inc()
}

// RecordItemDuration observes the time taken to process an item.
func RecordItemDuration(duration time.Duration, service string, outType string) {
	itemProcessingDuration.WithLabelValues(service, outType).Observe(duration.Seconds())
}

func IncActiveWorkers() {
	activeWorkers.Inc()
}

func DecActiveWorkers() {
	activeWorkers.Dec()
}

// RecordAPIRequest counts one remote operation; outcome is "ok" or an error category.
func RecordAPIRequest(operation string, outcome string) {
	apiRequests.WithLabelValues(operation, outcome).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
