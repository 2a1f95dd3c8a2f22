// Package fetcher implements the Remote Fetcher (§4.4): it downloads
// configured remote blocklist URLs over HTTPS, merges the parsed names, and
// writes the canonical cache file the Builder later reads.
package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"duskhole/pkg/blocklist"
	"duskhole/pkg/dnsname"
	"duskhole/pkg/logging"
)

// defaultTimeout is the per-URL HTTP timeout (§4.4: "default 30s").
const defaultTimeout = 30 * time.Second

// maxRedirects bounds redirect following (§4.4: "following redirects up to 5").
const maxRedirects = 5

// Result reports what Update actually did, for the `update` CLI command.
type Result struct {
	DownloadedCount int
	SourcesOK       int
	SourcesFailed   int
}

// Fetcher downloads remote blocklists and maintains the on-disk cache file.
type Fetcher struct {
	client  *http.Client
	logger  *logging.Logger
	etags   map[string]string
}

// New creates a Fetcher. client, when nil, gets a default client with
// defaultTimeout and redirect-limit behavior; callers that want DNS
// resolution routed through the upstream resolvers (rather than the host
// resolver) should pass a client built with pkg/resolver.NewHTTPClient.
func New(logger *logging.Logger, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{
			Timeout:       defaultTimeout,
			CheckRedirect: limitRedirects,
		}
	} else if client.CheckRedirect == nil {
		client.CheckRedirect = limitRedirects
	}

	return &Fetcher{
		client: client,
		logger: logger,
		etags:  make(map[string]string),
	}
}

func limitRedirects(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return nil
}

// Update fetches every URL in urls, merges the parsed names, and — if at
// least one URL succeeded — atomically rewrites cachePath. A single URL's
// failure is logged and does not abort the others. If every URL fails, the
// existing cache file is left untouched.
func (f *Fetcher) Update(ctx context.Context, urls []string, cachePath string) (Result, error) {
	// Seed from the existing cache so a 304 response (etag unchanged)
	// doesn't drop that URL's previously-downloaded names from the file.
	merged := readExistingCache(cachePath)
	fresh := make(map[dnsname.Name]struct{})
	var result Result

	for _, url := range urls {
		names, err := f.fetchOne(ctx, url)
		if err != nil {
			result.SourcesFailed++
			f.logger.Warn("remote blocklist fetch failed, continuing with remaining sources",
				"url", url, "error", err)
			continue
		}
		result.SourcesOK++
		for n := range names {
			merged[n] = struct{}{}
			fresh[n] = struct{}{}
		}
	}

	result.DownloadedCount = len(fresh)

	if result.SourcesOK == 0 {
		if len(urls) > 0 {
			f.logger.Error("all remote blocklist sources failed, leaving cache file untouched", "cache_path", cachePath)
		}
		return result, nil
	}

	if err := writeCache(cachePath, merged); err != nil {
		return result, fmt.Errorf("writing remote cache file: %w", err)
	}

	return result, nil
}

// fetchOne performs a single conditional-GET-aware download and parse.
func (f *Fetcher) fetchOne(ctx context.Context, url string) (map[dnsname.Name]struct{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if etag, ok := f.etags[url]; ok {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusNotModified:
		f.logger.Debug("remote blocklist not modified", "url", url)
		return nil, nil
	case http.StatusOK:
		// fall through
	default:
		return nil, fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		f.etags[url] = etag
	}

	names, dropped := parseNames(resp.Body)
	if dropped > 0 {
		f.logger.Debug("dropped invalid tokens while fetching remote blocklist", "url", url, "dropped", dropped)
	}
	f.logger.Info("remote blocklist fetched", "url", url, "names", len(names))
	return names, nil
}

func parseNames(r io.Reader) (map[dnsname.Name]struct{}, int) {
	names := make(map[dnsname.Name]struct{})
	dropped := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		entries, droppedTokens := blocklist.ParseLine(scanner.Text(), true)
		dropped += len(droppedTokens)
		for _, e := range entries {
			names[e.Name] = struct{}{}
		}
	}
	return names, dropped
}

// readExistingCache returns the names already on disk, or an empty set if
// the cache file does not exist yet or cannot be read.
func readExistingCache(path string) map[dnsname.Name]struct{} {
	names := make(map[dnsname.Name]struct{})
	f, err := os.Open(path)
	if err != nil {
		return names
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		entries, _ := blocklist.ParseLine(scanner.Text(), true)
		for _, e := range entries {
			names[e.Name] = struct{}{}
		}
	}
	return names
}

// writeCache writes the merged name set to path atomically: temp file in
// the same directory, fsync, then rename (§4.4 / §5).
func writeCache(path string, names map[dnsname.Name]struct{}) error {
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, string(n))
	}
	sort.Strings(sorted)

	var buf bytes.Buffer
	for _, n := range sorted {
		buf.WriteString(n)
		buf.WriteByte('\n')
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".cache-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("fsync temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp cache file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming cache file into place: %w", err)
	}
	return nil
}
