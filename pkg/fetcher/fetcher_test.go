package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"duskhole/pkg/logging"
)

func TestFetcher_Update_WritesCacheAtomically(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0.0.0.0 ads.example.com\ntracker.example.com\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cachePath := filepath.Join(dir, "remote-cache.list")

	f := New(logging.NewDefault(), nil)
	result, err := f.Update(context.Background(), []string{srv.URL}, cachePath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SourcesOK != 1 || result.SourcesFailed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.DownloadedCount != 2 {
		t.Fatalf("expected 2 downloaded names, got %d", result.DownloadedCount)
	}

	data, err := os.ReadFile(cachePath)
	if err != nil {
		t.Fatalf("reading cache: %v", err)
	}
	if !strings.Contains(string(data), "ads.example.com") || !strings.Contains(string(data), "tracker.example.com") {
		t.Errorf("cache file missing expected names: %q", data)
	}
}

func TestFetcher_Update_OneURLFailureDoesNotAbortOthers(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("good.example.com\n"))
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	dir := t.TempDir()
	cachePath := filepath.Join(dir, "remote-cache.list")

	f := New(logging.NewDefault(), nil)
	result, err := f.Update(context.Background(), []string{bad.URL, good.URL}, cachePath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SourcesOK != 1 || result.SourcesFailed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestFetcher_Update_AllFailuresLeaveCacheUntouched(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	dir := t.TempDir()
	cachePath := filepath.Join(dir, "remote-cache.list")
	if err := os.WriteFile(cachePath, []byte("preexisting.example.com\n"), 0o644); err != nil {
		t.Fatalf("seeding cache file: %v", err)
	}

	f := New(logging.NewDefault(), nil)
	if _, err := f.Update(context.Background(), []string{bad.URL}, cachePath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(cachePath)
	if err != nil {
		t.Fatalf("reading cache: %v", err)
	}
	if !strings.Contains(string(data), "preexisting.example.com") {
		t.Errorf("cache file was modified despite total failure: %q", data)
	}
}

func TestFetcher_Update_NotModifiedSkipsURL(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("ads.example.com\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cachePath := filepath.Join(dir, "remote-cache.list")

	f := New(logging.NewDefault(), nil)
	if _, err := f.Update(context.Background(), []string{srv.URL}, cachePath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := f.Update(context.Background(), []string{srv.URL}, cachePath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected 2 requests, got %d", hits)
	}
	if result.DownloadedCount != 0 {
		t.Errorf("expected no names merged on a 304, got %d", result.DownloadedCount)
	}
}
