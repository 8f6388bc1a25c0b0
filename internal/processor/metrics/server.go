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

// The file provides the observability endpoints of a batch run.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"k8s.io/klog/v2"
)

const (
	MetricsPath = "/metrics"
	HealthPath  = "/health"
)

// NewMux routes the metrics and health endpoints. GET patterns also answer HEAD.
func NewMux() *http.ServeMux {
	m := http.NewServeMux()
	m.Handle("GET "+MetricsPath, Handler())
	m.HandleFunc("GET "+HealthPath, HealthHandler)
	return m
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// StartServer serves NewMux on addr in the background. The returned func shuts it down.
func StartServer(ctx context.Context, addr string) (stop func()) {
	logger := klog.FromContext(ctx)
	srv := &http.Server{Addr: addr, Handler: NewMux(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("Starting observability server", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "Observability server failed")
		}
	}()
	return func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Error(err, "Failed to stop observability server")
		}
	}
}
