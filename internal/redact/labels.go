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

// The file defines the labels document returned for finished jobs and accepted back as custom labels.
package redact

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// JobLabels holds per-frame detections. Images have a single frame with index 0.
type JobLabels struct {
	Frames []FrameLabels `json:"frames"`
}

type FrameLabels struct {
	Index         int            `json:"index"`
	Faces         []Face         `json:"faces"`
	LicensePlates []LicensePlate `json:"license_plates"`
}

// Face is a detected face. BoundingBox is [x1, y1, x2, y2] in pixels.
type Face struct {
	BoundingBox []int   `json:"bounding_box"`
	Identity    int     `json:"identity"`
	Score       float64 `json:"score"`
}

type LicensePlate struct {
	BoundingBox []int   `json:"bounding_box"`
	Identity    int     `json:"identity"`
	Score       float64 `json:"score"`
}

// JSON serializes the labels in the form accepted by the custom_labels submit field.
func (l *JobLabels) JSON() ([]byte, error) {
	return json.Marshal(l)
}

// ParseJobLabels decodes a labels document.
func ParseJobLabels(r io.Reader) (*JobLabels, error) {
	var labels JobLabels
	if err := json.NewDecoder(r).Decode(&labels); err != nil {
		return nil, fmt.Errorf("failed to decode labels: %w", err)
	}
	return &labels, nil
}

// ReadJobLabelsFile decodes a labels document stored on disk.
func ReadJobLabelsFile(path string) (*JobLabels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Op: "open labels", Path: path, Err: err}
	}
	defer f.Close()
	return ParseJobLabels(f)
}

// ReadCustomLabels accepts custom labels as a *JobLabels, a JSON string, a file path or an io.Reader.
func ReadCustomLabels(src any) (*JobLabels, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case *JobLabels:
		return v, nil
	case JobLabels:
		return &v, nil
	case []byte:
		return ParseJobLabels(strings.NewReader(string(v)))
	case string:
		if strings.HasPrefix(strings.TrimSpace(v), "{") {
			return ParseJobLabels(strings.NewReader(v))
		}
		return ReadJobLabelsFile(v)
	case io.Reader:
		return ParseJobLabels(v)
	default:
		return nil, fmt.Errorf("unsupported custom labels source %T", src)
	}
}
