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

// Package classify lists the files of an input tree and decides which media kind each one is.
package classify

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/redact-client/redact-go/internal/redact"
)

type MediaKind string

const (
	KindImage   MediaKind = "image"
	KindVideo   MediaKind = "video"
	KindArchive MediaKind = "archive"
	KindUnknown MediaKind = "unknown"
)

// Supported extensions (lowercase, with leading dot).
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
	".jp2":  true,
	".ppm":  true,
}

var videoExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
	".mpg":  true,
	".mpeg": true,
	".wmv":  true,
	".flv":  true,
	".ts":   true,
}

// Archive suffixes are matched against the end of the name so that ".tar.gz" wins over ".gz".
var archiveSuffixes = []string{
	".tar.gz",
	".tar.bz2",
	".tar.xz",
	".tgz",
	".tar",
	".zip",
}

// NormalizePath expands a leading "~", makes p absolute and removes "." and ".." segments.
func NormalizePath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, "~"+string(filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, p[1:])
	}
	return filepath.Abs(p)
}

// Enumerate returns the relative, slash-separated paths of every regular file below root, sorted
// lexicographically. Any unreadable directory fails the whole listing.
func Enumerate(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &redact.IOError{Op: "stat input dir", Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &redact.IOError{Op: "list input dir", Path: root, Err: fs.ErrInvalid}
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return &redact.IOError{Op: "list", Path: path, Err: err}
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			// follow symlinks to files, skip everything else
			if st, err := os.Stat(path); err != nil || !st.Mode().IsRegular() {
				return nil
			}
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return &redact.IOError{Op: "relativize", Path: path, Err: err}
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Classifier decides the media kind of a file.
type Classifier struct {
	// SniffContent makes files with an unknown extension be classified from their header bytes.
	SniffContent bool
}

// Classify returns the media kind of the file at path. Without SniffContent the file is never opened.
func (c Classifier) Classify(path string) MediaKind {
	if kind := KindByName(path); kind != KindUnknown || !c.SniffContent {
		return kind
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return KindUnknown
	}
	return kindOfMIME(mt)
}

// KindByName classifies by file name only.
func KindByName(name string) MediaKind {
	lower := strings.ToLower(filepath.Base(name))
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(lower, suffix) && len(lower) > len(suffix) {
			return KindArchive
		}
	}
	ext := filepath.Ext(lower)
	switch {
	case imageExtensions[ext]:
		return KindImage
	case videoExtensions[ext]:
		return KindVideo
	default:
		return KindUnknown
	}
}

func kindOfMIME(mt *mimetype.MIME) MediaKind {
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case strings.HasPrefix(m.String(), "image/"):
			return KindImage
		case strings.HasPrefix(m.String(), "video/"):
			return KindVideo
		case m.Is("application/zip"), m.Is("application/x-tar"), m.Is("application/gzip"),
			m.Is("application/x-bzip2"), m.Is("application/x-xz"):
			return KindArchive
		}
	}
	return KindUnknown
}

// Matches reports whether a file of the given kind belongs to the requested input type.
func Matches(kind MediaKind, in redact.InputType) bool {
	switch in {
	case redact.InputImages:
		return kind == KindImage
	case redact.InputVideos:
		return kind == KindVideo
	case redact.InputArchives:
		return kind == KindArchive
	default:
		return false
	}
}

// Filter keeps the relative paths below root whose kind matches in, preserving order.
func (c Classifier) Filter(root string, rel []string, in redact.InputType) []string {
	out := make([]string, 0, len(rel))
	for _, r := range rel {
		if Matches(c.Classify(filepath.Join(root, filepath.FromSlash(r))), in) {
			out = append(out, r)
		}
	}
	return out
}
