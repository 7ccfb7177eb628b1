package calendar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "yomtov/internal/log"
)

// FetchResult contains the outcome of fetching one ICS source.
type FetchResult struct {
	Body      []byte
	FromCache bool // true if the body came from the disk cache
}

// cacheEntry holds HTTP cache metadata for a single URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher retrieves ICS payloads. Remote sources use conditional requests
// (ETag / Last-Modified) backed by a disk cache; local paths and file://
// URLs are read directly.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher caching under cacheDir. An empty cacheDir
// falls back to a relative directory so development runs need no root.
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		cacheDir: cacheDir,
	}
}

// Fetch returns the payload behind rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (FetchResult, error) {
	if rawURL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}
	if path, ok := localPath(rawURL); ok {
		body, err := os.ReadFile(path)
		if err != nil {
			return FetchResult{}, err
		}
		return FetchResult{Body: body}, nil
	}
	return f.fetchRemote(ctx, rawURL)
}

func (f *Fetcher) fetchRemote(ctx context.Context, rawURL string) (FetchResult, error) {
	cachePath, err := f.cachePathForURL(rawURL)
	if err != nil {
		return FetchResult{}, err
	}
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := f.loadCacheBody(cachePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	// Metadata for another URL (hash collision or hand-edited cache) is ignored.
	if meta.URL == rawURL {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "url", redactURL(rawURL))

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch network error, using cached body", err, "url", redactURL(rawURL))
			return FetchResult{Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return FetchResult{}, readErr
		}
		newMeta := cacheEntry{
			URL:          rawURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			// The fresh body is still good.
			appLog.Error("ics cache save failed", err, "url", redactURL(rawURL))
		}
		appLog.Info("ics fetch success", "url", redactURL(rawURL), "status", resp.StatusCode, "bytes", len(body))
		return FetchResult{Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified; using cache", "url", redactURL(rawURL))
		return FetchResult{Body: cachedBody, FromCache: true}, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch non-OK, using cached body", errors.New(resp.Status), "url", redactURL(rawURL), "status", resp.StatusCode)
			return FetchResult{Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, fmt.Errorf("ics fetch: %s", resp.Status)
	}
}

// localPath reports whether rawURL names a file on disk.
func localPath(rawURL string) (string, bool) {
	if strings.HasPrefix(rawURL, "file://") {
		return strings.TrimPrefix(rawURL, "file://"), true
	}
	if !strings.Contains(rawURL, "://") {
		return rawURL, true
	}
	return "", false
}

func (f *Fetcher) cachePathForURL(u string) (string, error) {
	if u == "" {
		return "", errors.New("empty url")
	}
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8])), nil
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host only; subscription URLs often carry
// private tokens in the path or query.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
