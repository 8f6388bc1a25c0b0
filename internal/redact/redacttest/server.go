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

// Package redacttest provides an in-memory Redact service on httptest for tests.
package redacttest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/redact-client/redact-go/internal/redact"
)

// ResultPrefix is prepended to uploaded content to form the job result.
const ResultPrefix = "redacted:"

// Options tune the behavior of the fake service. The zero value finishes every job on the first status query.
type Options struct {
	// PollsUntilFinished is the number of status queries answered with "running" before a job finishes.
	PollsUntilFinished int
	// FailFiles maps uploaded file names to the error reported by their job.
	FailFiles map[string]string
	// RejectFiles lists uploaded file names refused at submit time with 422.
	RejectFiles map[string]bool
	// StatusErrors is the number of leading 503 answers every job's status endpoint returns.
	StatusErrors int
	// Latency delays every status answer.
	Latency time.Duration
	// APIKey, when set, is required as a bearer token.
	APIKey string
}

// Submission is what the service received for one job.
type Submission struct {
	OutputID     string
	Service      redact.ServiceType
	OutputType   redact.OutputType
	FileName     string
	Content      []byte
	Query        map[string]string
	CustomLabels *redact.JobLabels
}

type job struct {
	sub          Submission
	polls        int
	statusErrors int
	state        redact.JobState
	active       bool
}

// Server is a fake Redact service.
type Server struct {
	*httptest.Server

	opts Options

	mu          sync.Mutex
	jobs        map[string]*job
	submissions []Submission
	active      int
	maxActive   int
	statusCalls int
	downloads   int
	deleted     int
}

// NewServer starts a fake service. Callers must Close it.
func NewServer(opts Options) *Server {
	s := &Server{opts: opts, jobs: map[string]*job{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{service}/v3/{outType}", s.handleSubmit)
	mux.HandleFunc("GET /{service}/v3/{outType}/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /{service}/v3/{outType}/{id}/labels", s.handleLabels)
	mux.HandleFunc("GET /{service}/v3/{outType}/{id}", s.handleResult)
	mux.HandleFunc("DELETE /{service}/v3/{outType}/{id}", s.handleDelete)
	s.Server = httptest.NewServer(s.authorize(mux))
	return s
}

// Submissions returns the received jobs in submit order, deleted ones included.
func (s *Server) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Submission(nil), s.submissions...)
}

// MaxActive returns the highest number of jobs that were submitted but not yet downloaded or failed.
func (s *Server) MaxActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxActive
}

func (s *Server) StatusCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusCalls
}

// Downloads returns the number of results served.
func (s *Server) Downloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloads
}

func (s *Server) Deleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey != "" && r.Header.Get("Authorization") != "Bearer "+s.opts.APIKey {
			writeDetail(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	service, err := redact.ParseServiceType(r.PathValue("service"))
	if err != nil {
		writeDetail(w, http.StatusNotFound, err.Error())
		return
	}
	outType, err := redact.ParseOutputType(r.PathValue("outType"))
	if err != nil {
		writeDetail(w, http.StatusNotFound, err.Error())
		return
	}
	if region := r.URL.Query().Get("region"); region != "" {
		if _, err := redact.ParseRegion(region); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "field required: file")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.opts.RejectFiles[header.Filename] {
		writeDetail(w, http.StatusUnprocessableEntity, "unsupported file "+header.Filename)
		return
	}

	var custom *redact.JobLabels
	if lf, _, err := r.FormFile("custom_labels"); err == nil {
		custom, err = redact.ParseJobLabels(lf)
		lf.Close()
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	query := map[string]string{}
	for k := range r.URL.Query() {
		query[k] = r.URL.Query().Get(k)
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.jobs[id] = &job{
		sub: Submission{
			OutputID:     id,
			Service:      service,
			OutputType:   outType,
			FileName:     header.Filename,
			Content:      content,
			Query:        query,
			CustomLabels: custom,
		},
		state:  redact.JobStateQueued,
		active: true,
	}
	s.submissions = append(s.submissions, s.jobs[id].sub)
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"output_id": id})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) *job {
	j, ok := s.jobs[r.PathValue("id")]
	if !ok || string(j.sub.Service) != r.PathValue("service") || string(j.sub.OutputType) != r.PathValue("outType") {
		writeDetail(w, http.StatusNotFound, "output_id not found")
		return nil
	}
	return j
}

// finish marks a job as no longer in flight. Callers hold s.mu.
func (s *Server) finish(j *job) {
	if j.active {
		j.active = false
		s.active--
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.opts.Latency > 0 {
		time.Sleep(s.opts.Latency)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCalls++
	j := s.lookup(w, r)
	if j == nil {
		return
	}
	if j.statusErrors < s.opts.StatusErrors {
		j.statusErrors++
		writeDetail(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}

	resp := map[string]string{"output_id": j.sub.OutputID}
	if !j.state.IsTerminal() {
		if j.polls < s.opts.PollsUntilFinished {
			j.polls++
			j.state = redact.JobStateRunning
		} else if msg, ok := s.opts.FailFiles[j.sub.FileName]; ok {
			j.state = redact.JobStateFailed
			resp["error"] = msg
			s.finish(j)
		} else {
			j.state = redact.JobStateFinished
		}
	} else if msg, ok := s.opts.FailFiles[j.sub.FileName]; ok && j.state == redact.JobStateFailed {
		resp["error"] = msg
	}
	resp["state"] = string(j.state)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	j := s.lookup(w, r)
	if j == nil {
		s.mu.Unlock()
		return
	}
	if j.state != redact.JobStateFinished {
		s.mu.Unlock()
		writeDetail(w, http.StatusConflict, "job is "+string(j.state))
		return
	}
	s.finish(j)
	s.downloads++
	body := append([]byte(ResultPrefix), j.sub.Content...)
	outType := j.sub.OutputType
	s.mu.Unlock()

	w.Header().Set("Content-Type", mediaType(outType))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.lookup(w, r)
	if j == nil {
		return
	}
	if j.state != redact.JobStateFinished {
		writeDetail(w, http.StatusConflict, "job is "+string(j.state))
		return
	}
	labels := j.sub.CustomLabels
	if labels == nil {
		labels = DefaultLabels()
	}
	writeJSON(w, http.StatusOK, labels)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.lookup(w, r)
	if j == nil {
		return
	}
	s.finish(j)
	delete(s.jobs, j.sub.OutputID)
	s.deleted++
	w.WriteHeader(http.StatusNoContent)
}

// DefaultLabels are the detections reported for jobs submitted without custom labels.
func DefaultLabels() *redact.JobLabels {
	return &redact.JobLabels{Frames: []redact.FrameLabels{{
		Index:         0,
		Faces:         []redact.Face{{BoundingBox: []int{10, 10, 50, 60}, Identity: 0, Score: 0.97}},
		LicensePlates: []redact.LicensePlate{},
	}}}
}

func mediaType(o redact.OutputType) string {
	switch o {
	case redact.OutputImages:
		return "image/jpeg"
	case redact.OutputVideos:
		return "video/mp4"
	default:
		return "application/x-tar"
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": fmt.Sprint(detail)})
}
