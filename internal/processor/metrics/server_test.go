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

// The file contains unit tests for the observability endpoints.
package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObservabilityMux(t *testing.T) {
	mux := NewMux()

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{
			name:           "GET health returns 200",
			method:         http.MethodGet,
			path:           HealthPath,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "HEAD health returns 200",
			method:         http.MethodHead,
			path:           HealthPath,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "POST health returns 405",
			method:         http.MethodPost,
			path:           HealthPath,
			expectedStatus: http.StatusMethodNotAllowed,
		},
		{
			name:           "GET metrics returns 200",
			method:         http.MethodGet,
			path:           MetricsPath,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "unknown path returns 404",
			method:         http.MethodGet,
			path:           "/jobs",
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()

			mux.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestRecordersExposeMetrics(t *testing.T) {
	RecordItemProcessed(ResultDone, ReasonNone)
	RecordItemDuration(1500*time.Millisecond, "blur", "images")
	RecordAPIRequest("submit", "ok")
	IncActiveWorkers()
	DecActiveWorkers()

	w := httptest.NewRecorder()
	NewMux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	body := w.Body.String()

	for _, want := range []string{
		`redact_items_processed_total{reason="none",result="done"}`,
		`redact_item_processing_duration_seconds_count{out_type="images",service="blur"}`,
		`redact_api_requests_total{operation="submit",outcome="ok"}`,
		`redact_active_workers 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output is missing %s", want)
		}
	}
}
