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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	utls "github.com/redact-client/redact-go/internal/util/tls"
)

// DefaultBaseURL is the address of a locally running Redact instance.
const DefaultBaseURL = "http://127.0.0.1:8787"

// Client talks to the Redact HTTP API. It is safe for concurrent use; a single Client is
// shared by all workers of a batch.
type Client struct {
	client *resty.Client
}

// ClientConfig holds configuration for the HTTP client
type ClientConfig struct {
	BaseURL         string        // Base URL of the Redact service (default: DefaultBaseURL)
	Timeout         time.Duration // Per-request timeout, including result downloads (default: 5 minutes)
	MaxIdleConns    int           // Maximum idle connections (default: 100)
	IdleConnTimeout time.Duration // Idle connection timeout (default: 90 seconds)
	APIKey          string        // Optional API key, sent as a bearer token

	TLS utls.Options // Optional TLS/mTLS settings

	// Retry configuration (set MaxRetries > 0 to enable).
	// Only transient failures are retried: network errors, 429 and 5xx.
	MaxRetries     int           // Maximum number of retry attempts (default: 0 = disabled)
	InitialBackoff time.Duration // Initial/minimum retry wait time (default: 1 second)
	MaxBackoff     time.Duration // Maximum retry wait time (default: 30 seconds)
}

// NewClient creates a new Redact HTTP client
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 100
	}
	if config.IdleConnTimeout == 0 {
		config.IdleConnTimeout = 90 * time.Second
	}
	if config.MaxRetries > 0 {
		if config.InitialBackoff == 0 {
			config.InitialBackoff = 1 * time.Second
		}
		if config.MaxBackoff == 0 {
			config.MaxBackoff = 30 * time.Second
		}
	}

	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout)

	if config.APIKey != "" {
		client.SetAuthToken(config.APIKey)
	}

	// Start with Go's secure defaults and raise the per-host pool for parallel batch workers.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = config.MaxIdleConns
	transport.MaxIdleConnsPerHost = config.MaxIdleConns
	transport.IdleConnTimeout = config.IdleConnTimeout

	tlsConfig, err := utls.ClientConfig(config.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to build TLS config: %w", err)
	}
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}
	client.SetTransport(transport)

	if config.MaxRetries > 0 {
		client.SetRetryCount(config.MaxRetries).
			SetRetryWaitTime(config.InitialBackoff).
			SetRetryMaxWaitTime(config.MaxBackoff)

		client.AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}
			statusCode := r.StatusCode()
			return statusCode == http.StatusTooManyRequests || statusCode >= 500
		})

		client.AddRetryHook(func(resp *resty.Response, err error) {
			if resp == nil || resp.Request == nil {
				return
			}
			klog.V(3).Infof("Retrying %s %s request_id=%s (attempt %d/%d)",
				resp.Request.Method, resp.Request.URL, resp.Request.Header.Get("X-Request-ID"),
				resp.Request.Attempt, config.MaxRetries)
		})
	}

	return &Client{client: client}, nil
}

// SubmitRequest describes one file to anonymize.
type SubmitRequest struct {
	Service      ServiceType
	OutputType   OutputType
	Args         JobArguments
	File         io.Reader
	FileName     string
	CustomLabels *JobLabels // optional, forces the redaction regions
}

// Submit uploads a file and starts a job. 4xx rejections are returned as *ServiceError and never retried.
func (c *Client) Submit(ctx context.Context, req *SubmitRequest) (JobHandle, error) {
	if req == nil || req.File == nil {
		return JobHandle{}, &ServiceError{Category: ErrCategoryInvalidReq, Message: "submit request must carry a file"}
	}
	if !req.Service.IsValid() || !req.OutputType.IsValid() {
		return JobHandle{}, &ServiceError{
			Category: ErrCategoryInvalidReq,
			Message:  fmt.Sprintf("invalid service %q or output type %q", req.Service, req.OutputType),
		}
	}
	if req.Args.Region != "" && !req.Args.Region.IsValid() {
		return JobHandle{}, &ServiceError{Category: ErrCategoryInvalidReq, Message: fmt.Sprintf("invalid region %q", req.Args.Region)}
	}

	// The body is built in memory so that retries resend the complete upload.
	body, contentType, err := buildMultipart(req)
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return JobHandle{}, ioErr
	}
	if err != nil {
		return JobHandle{}, &ServiceError{Category: ErrCategoryInvalidReq, Message: fmt.Sprintf("failed to build upload: %v", err), RawError: err}
	}

	requestID := uuid.NewString()
	endpoint := jobsPath(req.Service, req.OutputType)
	klog.V(4).Infof("Submitting %s to %s with request_id=%s", req.FileName, endpoint, requestID)

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID).
		SetHeader("Content-Type", contentType).
		SetQueryParamsFromValues(req.Args.Query()).
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return JobHandle{}, c.handleRequestError(ctx, err, "submit")
	}
	if !resp.IsSuccess() {
		return JobHandle{}, c.handleErrorResponse(resp.StatusCode(), resp.Body())
	}

	var out submitResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil || out.OutputID == "" {
		return JobHandle{}, &ServiceError{
			StatusCode: resp.StatusCode(),
			Category:   ErrCategoryUnknown,
			Message:    fmt.Sprintf("submit response carries no output_id: %s", truncate(resp.Body())),
			RawError:   err,
		}
	}

	if resp.Request.Attempt > 1 {
		klog.V(3).Infof("Submit succeeded after %d retries for request_id=%s", resp.Request.Attempt-1, requestID)
	}
	return JobHandle{OutputID: out.OutputID, Service: req.Service, OutputType: req.OutputType}, nil
}

// GetStatus returns the current remote status of a job.
func (c *Client) GetStatus(ctx context.Context, h JobHandle) (*JobStatus, error) {
	resp, err := c.client.R().SetContext(ctx).Get(h.path("status"))
	if err != nil {
		return nil, c.handleRequestError(ctx, err, "get status")
	}
	if !resp.IsSuccess() {
		return nil, c.handleErrorResponse(resp.StatusCode(), resp.Body())
	}
	var status JobStatus
	if err := json.Unmarshal(resp.Body(), &status); err != nil {
		return nil, &ServiceError{
			StatusCode: resp.StatusCode(),
			Category:   ErrCategoryUnknown,
			Message:    fmt.Sprintf("failed to decode status of %s: %v", h, err),
			RawError:   err,
		}
	}
	if status.OutputID == "" {
		status.OutputID = h.OutputID
	}
	return &status, nil
}

// GetResult downloads the anonymized content of a finished job.
func (c *Client) GetResult(ctx context.Context, h JobHandle) (*JobResult, error) {
	resp, err := c.client.R().SetContext(ctx).Get(h.path(""))
	if err != nil {
		return nil, c.handleRequestError(ctx, err, "download result")
	}
	if !resp.IsSuccess() {
		return nil, c.handleErrorResponse(resp.StatusCode(), resp.Body())
	}
	klog.V(4).Infof("Downloaded result of %s, body_size=%d", h, len(resp.Body()))
	return &JobResult{
		Content:   resp.Body(),
		MediaType: resp.Header().Get("Content-Type"),
	}, nil
}

// GetLabels downloads the detections of a finished job.
func (c *Client) GetLabels(ctx context.Context, h JobHandle) (*JobLabels, error) {
	resp, err := c.client.R().SetContext(ctx).Get(h.path("labels"))
	if err != nil {
		return nil, c.handleRequestError(ctx, err, "get labels")
	}
	if !resp.IsSuccess() {
		return nil, c.handleErrorResponse(resp.StatusCode(), resp.Body())
	}
	labels, err := ParseJobLabels(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, &ServiceError{StatusCode: resp.StatusCode(), Category: ErrCategoryUnknown, Message: err.Error(), RawError: err}
	}
	return labels, nil
}

// Delete removes a job and its data from the service.
func (c *Client) Delete(ctx context.Context, h JobHandle) error {
	resp, err := c.client.R().SetContext(ctx).Delete(h.path(""))
	if err != nil {
		return c.handleRequestError(ctx, err, "delete")
	}
	if !resp.IsSuccess() {
		return c.handleErrorResponse(resp.StatusCode(), resp.Body())
	}
	return nil
}

// handleRequestError processes request-level errors (network, timeout, cancellation)
func (c *Client) handleRequestError(ctx context.Context, err error, op string) *ServiceError {
	if errors.Is(ctx.Err(), context.Canceled) {
		klog.V(3).Infof("%s cancelled", op)
		return &ServiceError{Category: ErrCategoryUnknown, Message: op + ": request cancelled", RawError: err}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		klog.V(3).Infof("%s timed out", op)
		return &ServiceError{Category: ErrCategoryServer, Message: op + ": request timeout", RawError: err}
	}
	klog.V(3).Infof("%s failed with network error: %v", op, err)
	return &ServiceError{
		Category: ErrCategoryServer,
		Message:  fmt.Sprintf("%s: failed to execute request: %v", op, err),
		RawError: err,
	}
}

// handleErrorResponse parses error response and maps to ServiceError
func (c *Client) handleErrorResponse(statusCode int, body []byte) *ServiceError {
	// Redact answers with FastAPI-style {"detail": "..."} bodies.
	var errorResp struct {
		Detail any `json:"detail"`
	}
	message := truncate(body)
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Detail != nil {
		if s, ok := errorResp.Detail.(string); ok {
			message = s
		} else if b, err := json.Marshal(errorResp.Detail); err == nil {
			message = string(b)
		}
	}

	category := c.mapStatusCodeToCategory(statusCode)
	klog.V(3).Infof("Redact request failed with status=%d, category=%s, message=%s", statusCode, category, message)

	return &ServiceError{
		StatusCode: statusCode,
		Category:   category,
		Message:    fmt.Sprintf("HTTP %d: %s", statusCode, message),
		RawError:   fmt.Errorf("status code: %d, body: %s", statusCode, truncate(body)),
	}
}

// mapStatusCodeToCategory maps HTTP status codes to error categories
func (c *Client) mapStatusCodeToCategory(statusCode int) ErrorCategory {
	switch statusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return ErrCategoryInvalidReq
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusPaymentRequired:
		return ErrCategoryAuth
	case http.StatusNotFound, http.StatusGone:
		return ErrCategoryNotFound
	case http.StatusTooManyRequests:
		return ErrCategoryRateLimit
	default:
		if statusCode >= 500 {
			return ErrCategoryServer
		}
		return ErrCategoryUnknown
	}
}

func buildMultipart(req *SubmitRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	name := req.FileName
	if name == "" {
		name = "file"
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, req.File); err != nil {
		return nil, "", &IOError{Op: "read input", Path: req.FileName, Err: err}
	}

	if req.CustomLabels != nil {
		data, err := req.CustomLabels.JSON()
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode custom labels: %w", err)
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="custom_labels"; filename="labels.json"`)
		h.Set("Content-Type", "application/json")
		lw, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := lw.Write(data); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func truncate(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
