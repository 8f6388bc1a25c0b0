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

// The file defines the Redact data model: enumerations validated at the boundary, job arguments,
// job handles and job statuses.
package redact

import (
	"fmt"
	"net/url"
	"strconv"
)

// Region is the geographic processing zone the remote service executes in.
type Region string

const (
	RegionEuropeanUnion         Region = "european_union"
	RegionUnitedStatesOfAmerica Region = "united_states_of_america"
)

var regions = []Region{RegionEuropeanUnion, RegionUnitedStatesOfAmerica}

func ParseRegion(s string) (Region, error) {
	for _, r := range regions {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("invalid region %q (valid: %v)", s, regions)
}

func (r Region) IsValid() bool {
	_, err := ParseRegion(string(r))
	return err == nil
}

func (r Region) String() string {
	return string(r)
}

func (r *Region) Type() string {
	return "region"
}

func (r *Region) Set(s string) error {
	v, err := ParseRegion(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ServiceType selects the anonymization algorithm.
type ServiceType string

const (
	ServiceBlur    ServiceType = "blur"
	ServiceDNAT    ServiceType = "dnat"
	ServiceExtract ServiceType = "extract"
)

var serviceTypes = []ServiceType{ServiceBlur, ServiceDNAT, ServiceExtract}

func ParseServiceType(s string) (ServiceType, error) {
	for _, st := range serviceTypes {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid service %q (valid: %v)", s, serviceTypes)
}

func (s ServiceType) IsValid() bool {
	_, err := ParseServiceType(string(s))
	return err == nil
}

func (s ServiceType) String() string {
	return string(s)
}

func (s *ServiceType) Type() string {
	return "service"
}

func (s *ServiceType) Set(v string) error {
	st, err := ParseServiceType(v)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// OutputType is the kind of result the service produces.
type OutputType string

const (
	OutputImages   OutputType = "images"
	OutputVideos   OutputType = "videos"
	OutputArchives OutputType = "archives"
)

var outputTypes = []OutputType{OutputImages, OutputVideos, OutputArchives}

func ParseOutputType(s string) (OutputType, error) {
	for _, ot := range outputTypes {
		if string(ot) == s {
			return ot, nil
		}
	}
	return "", fmt.Errorf("invalid output type %q (valid: %v)", s, outputTypes)
}

func (o OutputType) IsValid() bool {
	_, err := ParseOutputType(string(o))
	return err == nil
}

func (o OutputType) String() string {
	return string(o)
}

func (o *OutputType) Type() string {
	return "output-type"
}

func (o *OutputType) Set(v string) error {
	ot, err := ParseOutputType(v)
	if err != nil {
		return err
	}
	*o = ot
	return nil
}

// InputType filters which files of a folder are sent to the service.
type InputType string

const (
	InputImages   InputType = "images"
	InputVideos   InputType = "videos"
	InputArchives InputType = "archives"
)

var inputTypes = []InputType{InputImages, InputVideos, InputArchives}

func ParseInputType(s string) (InputType, error) {
	for _, it := range inputTypes {
		if string(it) == s {
			return it, nil
		}
	}
	return "", fmt.Errorf("invalid input type %q (valid: %v)", s, inputTypes)
}

func (i InputType) IsValid() bool {
	_, err := ParseInputType(string(i))
	return err == nil
}

func (i InputType) String() string {
	return string(i)
}

func (i *InputType) Type() string {
	return "input-type"
}

func (i *InputType) Set(v string) error {
	it, err := ParseInputType(v)
	if err != nil {
		return err
	}
	*i = it
	return nil
}

// JobArguments are the detection parameters shared by every job of a batch.
// It is passed by value and never modified after construction.
type JobArguments struct {
	Region       Region
	Face         bool
	LicensePlate bool
}

// DefaultJobArguments mirrors the service defaults: EU region, faces and plates enabled.
func DefaultJobArguments() JobArguments {
	return JobArguments{Region: RegionEuropeanUnion, Face: true, LicensePlate: true}
}

// Query encodes the arguments as submit query parameters.
func (a JobArguments) Query() url.Values {
	q := url.Values{}
	if a.Region != "" {
		q.Set("region", string(a.Region))
	}
	q.Set("face", strconv.FormatBool(a.Face))
	q.Set("license_plate", strconv.FormatBool(a.LicensePlate))
	return q
}

// JobHandle identifies one remote job.
type JobHandle struct {
	OutputID   string
	Service    ServiceType
	OutputType OutputType
}

func (h JobHandle) String() string {
	return fmt.Sprintf("%s/%s/%s", h.Service, h.OutputType, h.OutputID)
}

// path returns the resource path of the job, relative to the service base URL.
func (h JobHandle) path(suffix string) string {
	p := jobsPath(h.Service, h.OutputType) + "/" + url.PathEscape(h.OutputID)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

const apiVersion = "v3"

func jobsPath(service ServiceType, outType OutputType) string {
	return "/" + url.PathEscape(string(service)) + "/" + apiVersion + "/" + url.PathEscape(string(outType))
}

// JobState is the remote lifecycle state of a job.
type JobState string

const (
	JobStateQueued   JobState = "queued"
	JobStateRunning  JobState = "running"
	JobStateFinished JobState = "finished"
	JobStateFailed   JobState = "failed"
)

func (s JobState) IsTerminal() bool {
	return s == JobStateFinished || s == JobStateFailed
}

// JobStatus is the body returned by the status endpoint.
type JobStatus struct {
	OutputID string   `json:"output_id"`
	State    JobState `json:"state"`
	Error    string   `json:"error,omitempty"`
}

// Err returns the failure reported by the service for a failed job, nil otherwise.
func (s *JobStatus) Err() error {
	if s == nil || s.State != JobStateFailed {
		return nil
	}
	msg := s.Error
	if msg == "" {
		msg = "job failed without error detail"
	}
	return &ServiceError{
		Category: ErrCategoryJobFailed,
		Message:  fmt.Sprintf("job %s failed: %s", s.OutputID, msg),
	}
}

// JobResult is the anonymized content of a finished job.
type JobResult struct {
	Content   []byte
	MediaType string
}

type submitResponse struct {
	OutputID string `json:"output_id"`
}
