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
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	utls "github.com/redact-client/redact-go/internal/util/tls"
)

// TestRedactClient aggregates all Client test cases
// Run with: go test -run TestRedactClient
func TestRedactClient(t *testing.T) {
	t.Run("NewClient", testNewClient)
	t.Run("Submit", testSubmit)
	t.Run("StatusAndResult", testStatusAndResult)
	t.Run("ErrorHandling", testErrorHandling)
	t.Run("RetryLogic", testRetryLogic)
	t.Run("Authentication", testAuthentication)
	t.Run("NetworkErrors", testNetworkErrors)
}

func testNewClient(t *testing.T) {
	tests := []struct {
		name    string
		config  ClientConfig
		wantErr bool
	}{
		{
			name:   "should create client with default configuration",
			config: ClientConfig{},
		},
		{
			name: "should create client with custom configuration",
			config: ClientConfig{
				BaseURL:         "http://localhost:9000",
				Timeout:         1 * time.Minute,
				MaxIdleConns:    50,
				IdleConnTimeout: 60 * time.Second,
				APIKey:          "test-api-key",
				MaxRetries:      3,
			},
		},
		{
			name: "should reject a cert without key",
			config: ClientConfig{
				TLS: utls.Options{Certificates: utls.Certificates{CertFile: "client.crt"}},
			},
			wantErr: true,
		},
		{
			name: "should fail on a missing CA file",
			config: ClientConfig{
				TLS: utls.Options{Certificates: utls.Certificates{CaCertFile: "/nonexistent/ca.crt"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, client)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client.client)
		})
	}
}

func testSubmit(t *testing.T) {
	t.Run("should post multipart file with query arguments", func(t *testing.T) {
		testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/blur/v3/images", r.URL.Path)
			assert.Equal(t, "united_states_of_america", r.URL.Query().Get("region"))
			assert.Equal(t, "true", r.URL.Query().Get("face"))
			assert.Equal(t, "false", r.URL.Query().Get("license_plate"))
			assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

			require.NoError(t, r.ParseMultipartForm(1<<20))
			f, header, err := r.FormFile("file")
			require.NoError(t, err)
			defer f.Close()
			content, _ := io.ReadAll(f)
			assert.Equal(t, "photo.jpg", header.Filename)
			assert.Equal(t, "jpeg-bytes", string(content))

			lf, _, err := r.FormFile("custom_labels")
			require.NoError(t, err)
			defer lf.Close()
			labels, err := ParseJobLabels(lf)
			require.NoError(t, err)
			assert.Equal(t, []int{1, 2, 3, 4}, labels.Frames[0].Faces[0].BoundingBox)

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"output_id":"abc-123"}`))
		}))
		defer testServer.Close()

		client, err := NewClient(ClientConfig{BaseURL: testServer.URL})
		require.NoError(t, err)

		handle, err := client.Submit(context.Background(), &SubmitRequest{
			Service:    ServiceBlur,
			OutputType: OutputImages,
			Args:       JobArguments{Region: RegionUnitedStatesOfAmerica, Face: true, LicensePlate: false},
			File:       strings.NewReader("jpeg-bytes"),
			FileName:   "photo.jpg",
			CustomLabels: &JobLabels{Frames: []FrameLabels{{
				Faces: []Face{{BoundingBox: []int{1, 2, 3, 4}, Score: 1}},
			}}},
		})
		require.NoError(t, err)
		assert.Equal(t, JobHandle{OutputID: "abc-123", Service: ServiceBlur, OutputType: OutputImages}, handle)
	})

	t.Run("should reject invalid enums before any request", func(t *testing.T) {
		var calls atomic.Int32
		testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer testServer.Close()

		client, err := NewClient(ClientConfig{BaseURL: testServer.URL})
		require.NoError(t, err)
		_, err = client.Submit(context.Background(), &SubmitRequest{
			Service:    "sharpen",
			OutputType: OutputImages,
			File:       strings.NewReader("x"),
		})
		var se *ServiceError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ErrCategoryInvalidReq, se.Category)
		assert.Equal(t, int32(0), calls.Load())
	})

	t.Run("should report an unreadable input as a local i/o error", func(t *testing.T) {
		var calls atomic.Int32
		testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer testServer.Close()

		diskErr := errors.New("input/output error")
		client, err := NewClient(ClientConfig{BaseURL: testServer.URL})
		require.NoError(t, err)
		_, err = client.Submit(context.Background(), &SubmitRequest{
			Service:    ServiceBlur,
			OutputType: OutputImages,
			File:       iotest.ErrReader(diskErr),
			FileName:   "broken.jpg",
		})
		var ioErr *IOError
		require.ErrorAs(t, err, &ioErr)
		assert.Equal(t, "read input", ioErr.Op)
		assert.Equal(t, "broken.jpg", ioErr.Path)
		assert.ErrorIs(t, err, diskErr)
		var se *ServiceError
		assert.False(t, errors.As(err, &se))
		assert.Equal(t, int32(0), calls.Load())
	})

	t.Run("should fail when the response has no output_id", func(t *testing.T) {
		testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer testServer.Close()

		client, err := NewClient(ClientConfig{BaseURL: testServer.URL})
		require.NoError(t, err)
		_, err = client.Submit(context.Background(), &SubmitRequest{
			Service: ServiceDNAT, OutputType: OutputVideos, File: strings.NewReader("x"), FileName: "a.mp4",
		})
		assert.Error(t, err)
	})
}

func testStatusAndResult(t *testing.T) {
	h := JobHandle{OutputID: "id-1", Service: ServiceBlur, OutputType: OutputImages}
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "GET /blur/v3/images/id-1/status":
			_ = json.NewEncoder(w).Encode(map[string]string{"output_id": "id-1", "state": "running"})
		case "GET /blur/v3/images/id-1":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
		case "GET /blur/v3/images/id-1/labels":
			_, _ = w.Write([]byte(`{"frames":[{"index":0,"faces":[],"license_plates":[{"bounding_box":[0,0,5,5],"identity":1,"score":0.5}]}]}`))
		case "DELETE /blur/v3/images/id-1":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer testServer.Close()

	client, err := NewClient(ClientConfig{BaseURL: testServer.URL})
	require.NoError(t, err)
	ctx := context.Background()

	status, err := client.GetStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, JobStateRunning, status.State)
	assert.False(t, status.State.IsTerminal())

	result, err := client.GetResult(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(result.Content))
	assert.Equal(t, "image/png", result.MediaType)

	labels, err := client.GetLabels(ctx, h)
	require.NoError(t, err)
	require.Len(t, labels.Frames, 1)
	assert.Equal(t, 1, labels.Frames[0].LicensePlates[0].Identity)

	assert.NoError(t, client.Delete(ctx, h))
}

func testErrorHandling(t *testing.T) {
	tests := []struct {
		name             string
		statusCode       int
		body             string
		expectedCategory ErrorCategory
		expectedMessage  string
		retryable        bool
	}{
		{"should map 422 to invalid request", http.StatusUnprocessableEntity, `{"detail":"bad region"}`, ErrCategoryInvalidReq, "bad region", false},
		{"should map 401 to auth error", http.StatusUnauthorized, `{"detail":"invalid api key"}`, ErrCategoryAuth, "invalid api key", false},
		{"should map 404 to not found", http.StatusNotFound, `{"detail":"output_id not found"}`, ErrCategoryNotFound, "output_id not found", false},
		{"should map 429 to rate limit", http.StatusTooManyRequests, `slow down`, ErrCategoryRateLimit, "slow down", true},
		{"should map 503 to server error", http.StatusServiceUnavailable, `{"detail":[{"msg":"x"}]}`, ErrCategoryServer, `[{"msg":"x"}]`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer testServer.Close()

			client, err := NewClient(ClientConfig{BaseURL: testServer.URL})
			require.NoError(t, err)
			_, err = client.GetStatus(context.Background(), JobHandle{OutputID: "x", Service: ServiceBlur, OutputType: OutputImages})

			var se *ServiceError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.statusCode, se.StatusCode)
			assert.Equal(t, tt.expectedCategory, se.Category)
			assert.Contains(t, se.Message, tt.expectedMessage)
			assert.Equal(t, tt.retryable, se.IsRetryable())
			assert.Equal(t, tt.expectedCategory == ErrCategoryNotFound, IsNotFound(err))
		})
	}
}

func testRetryLogic(t *testing.T) {
	t.Run("should retry 5xx and resend the full upload", func(t *testing.T) {
		var attempts atomic.Int32
		testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			f, _, err := r.FormFile("file")
			require.NoError(t, err)
			content, _ := io.ReadAll(f)
			f.Close()
			assert.Equal(t, "payload", string(content))

			if attempts.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"output_id":"retried"}`))
		}))
		defer testServer.Close()

		client, err := NewClient(ClientConfig{
			BaseURL:        testServer.URL,
			MaxRetries:     3,
			InitialBackoff: 5 * time.Millisecond,
			MaxBackoff:     20 * time.Millisecond,
		})
		require.NoError(t, err)
		handle, err := client.Submit(context.Background(), &SubmitRequest{
			Service: ServiceBlur, OutputType: OutputImages, File: strings.NewReader("payload"), FileName: "a.jpg",
		})
		require.NoError(t, err)
		assert.Equal(t, "retried", handle.OutputID)
		assert.Equal(t, int32(3), attempts.Load())
	})

	t.Run("should not retry 4xx", func(t *testing.T) {
		var attempts atomic.Int32
		testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer testServer.Close()

		client, err := NewClient(ClientConfig{BaseURL: testServer.URL, MaxRetries: 3, InitialBackoff: time.Millisecond})
		require.NoError(t, err)
		_, err = client.Submit(context.Background(), &SubmitRequest{
			Service: ServiceBlur, OutputType: OutputImages, File: strings.NewReader("x"), FileName: "a.jpg",
		})
		assert.Error(t, err)
		assert.Equal(t, int32(1), attempts.Load())
	})

	t.Run("should give up after max retries", func(t *testing.T) {
		var attempts atomic.Int32
		testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer testServer.Close()

		client, err := NewClient(ClientConfig{BaseURL: testServer.URL, MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
		require.NoError(t, err)
		_, err = client.GetStatus(context.Background(), JobHandle{OutputID: "x", Service: ServiceBlur, OutputType: OutputImages})
		var se *ServiceError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ErrCategoryRateLimit, se.Category)
		assert.Equal(t, int32(3), attempts.Load())
	})
}

func testAuthentication(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"output_id":"x","state":"finished"}`))
	}))
	defer testServer.Close()

	client, err := NewClient(ClientConfig{BaseURL: testServer.URL, APIKey: "secret-key"})
	require.NoError(t, err)
	status, err := client.GetStatus(context.Background(), JobHandle{OutputID: "x", Service: ServiceBlur, OutputType: OutputImages})
	require.NoError(t, err)
	assert.Equal(t, JobStateFinished, status.State)
}

func testNetworkErrors(t *testing.T) {
	t.Run("should map connection refused to a retryable server error", func(t *testing.T) {
		testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := testServer.URL
		testServer.Close()

		client, err := NewClient(ClientConfig{BaseURL: url, Timeout: time.Second})
		require.NoError(t, err)
		_, err = client.GetStatus(context.Background(), JobHandle{OutputID: "x", Service: ServiceBlur, OutputType: OutputImages})
		var se *ServiceError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ErrCategoryServer, se.Category)
		assert.True(t, se.IsRetryable())
	})

	t.Run("should report cancellation", func(t *testing.T) {
		testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer testServer.Close()

		client, err := NewClient(ClientConfig{BaseURL: testServer.URL})
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		_, err = client.GetStatus(ctx, JobHandle{OutputID: "x", Service: ServiceBlur, OutputType: OutputImages})
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}
