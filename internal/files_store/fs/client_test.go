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

package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	t.Run("creates the output root", func(t *testing.T) {
		basePath := filepath.Join(t.TempDir(), "out", "nested")

		client, err := New(basePath)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if client.defaultTimeout != DefaultTimeout {
			t.Errorf("expected default timeout %v, got %v", DefaultTimeout, client.defaultTimeout)
		}
		if _, err := os.Stat(basePath); os.IsNotExist(err) {
			t.Error("expected base directory to be created")
		}
	})

	t.Run("accepts an existing root", func(t *testing.T) {
		dir := t.TempDir()
		if _, err := New(dir); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if _, err := New(dir); err != nil {
			t.Fatalf("expected no error on second open, got %v", err)
		}
	})

	t.Run("fails when the root is a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := New(path); err == nil {
			t.Error("expected error for a file root")
		}
	})
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("stores into nested directories", func(t *testing.T) {
		client, _ := New(t.TempDir())
		content := []byte("nested content")

		md, err := client.Store(ctx, "a/b/c/file.jpg", bytes.NewReader(content))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if md.Location != filepath.Join(client.basePath, "a", "b", "c", "file.jpg") {
			t.Errorf("unexpected location %s", md.Location)
		}
		if md.Size != int64(len(content)) {
			t.Errorf("expected size %d, got %d", len(content), md.Size)
		}
		data, _ := os.ReadFile(md.Location)
		if !bytes.Equal(data, content) {
			t.Errorf("expected content %q, got %q", content, data)
		}
	})

	t.Run("overwrites an existing output", func(t *testing.T) {
		client, _ := New(t.TempDir())
		if _, err := client.Store(ctx, "x.jpg", bytes.NewReader([]byte("old"))); err != nil {
			t.Fatal(err)
		}
		md, err := client.Store(ctx, "x.jpg", bytes.NewReader([]byte("new")))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		data, _ := os.ReadFile(md.Location)
		if string(data) != "new" {
			t.Errorf("expected overwritten content, got %q", data)
		}
	})

	t.Run("leaves nothing behind on a failed write", func(t *testing.T) {
		client, _ := New(t.TempDir())
		_, err := client.Store(ctx, "dir/broken.jpg", io.MultiReader(bytes.NewReader([]byte("part")), errReader{}))
		if err == nil {
			t.Fatal("expected error")
		}
		entries, _ := os.ReadDir(filepath.Join(client.basePath, "dir"))
		if len(entries) != 0 {
			t.Errorf("expected empty directory, found %d entries", len(entries))
		}
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		client, _ := New(t.TempDir())
		for _, loc := range []string{"../escape.jpg", "", "."} {
			if _, err := client.Store(ctx, loc, bytes.NewReader([]byte("x"))); !errors.Is(err, os.ErrInvalid) {
				t.Errorf("location %q: expected os.ErrInvalid, got %v", loc, err)
			}
		}
	})

	t.Run("concurrent workers share parent directories", func(t *testing.T) {
		client, _ := New(t.TempDir())
		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := client.Store(ctx, filepath.ToSlash(filepath.Join("shared", "deep", string(rune('a'+i))+".jpg")), bytes.NewReader([]byte("x")))
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}
	})
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	client, _ := New(t.TempDir())

	ok, err := client.Exists(ctx, "a/b.jpg")
	if err != nil || ok {
		t.Fatalf("expected missing output, got %v, %v", ok, err)
	}
	if _, err := client.Store(ctx, "a/b.jpg", bytes.NewReader([]byte("x"))); err != nil {
		t.Fatal(err)
	}
	ok, err = client.Exists(ctx, "a/b.jpg")
	if err != nil || !ok {
		t.Fatalf("expected existing output, got %v, %v", ok, err)
	}
	// directories are not outputs
	ok, _ = client.Exists(ctx, "a")
	if ok {
		t.Error("expected a directory not to count as an output")
	}
}

func TestRetrieveAndDelete(t *testing.T) {
	ctx := context.Background()
	client, _ := New(t.TempDir())
	content := []byte("retrieve me")
	if _, err := client.Store(ctx, "r.jpg", bytes.NewReader(content)); err != nil {
		t.Fatal(err)
	}

	reader, md, err := client.Retrieve(ctx, "r.jpg")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	data, _ := io.ReadAll(reader)
	_ = reader.Close()
	if !bytes.Equal(data, content) || md.Size != int64(len(content)) {
		t.Errorf("unexpected content %q (size %d)", data, md.Size)
	}

	if err := client.Delete(ctx, "r.jpg"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, _, err := client.Retrieve(ctx, "r.jpg"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
	if err := client.Delete(ctx, "r.jpg"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLocate(t *testing.T) {
	client, _ := New(t.TempDir())
	if got := client.Locate("x/y.jpg"); got != filepath.Join(client.basePath, "x", "y.jpg") {
		t.Errorf("unexpected location %s", got)
	}
}

func TestResolvePathAtFilesystemRoot(t *testing.T) {
	root := string(os.PathSeparator)
	client := &Client{basePath: root, defaultTimeout: DefaultTimeout}

	got, err := client.resolvePath("photos/a.jpg")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if want := filepath.Join(root, "photos", "a.jpg"); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
	if got := client.Locate("b.jpg"); got != filepath.Join(root, "b.jpg") {
		t.Errorf("unexpected location %s", got)
	}

	for _, loc := range []string{"", "."} {
		if _, err := client.resolvePath(loc); !errors.Is(err, os.ErrInvalid) {
			t.Errorf("location %q: expected os.ErrInvalid, got %v", loc, err)
		}
	}
}

func TestGetContext(t *testing.T) {
	client, _ := New(t.TempDir())
	client.SetDefaultTimeout(2 * time.Second)

	ctx, cancel := client.GetContext(context.Background(), 0)
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected context to have deadline")
	}
	if d := time.Until(deadline); d > 2*time.Second || d < time.Second {
		t.Errorf("unexpected deadline in %v", d)
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, errors.New("read failed")
}
