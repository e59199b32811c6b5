// Package ics overlays events from external iCalendar feeds onto the
// display's events sidebar and ticker.
package ics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	appLog "signage/internal/log"
)

// Feed is one subscribed calendar.
type Feed struct {
	ID  string
	URL string
	// Locations the feed's events are shown at; empty means everywhere.
	Locations []int
}

func (f Feed) targets(locationID int) bool {
	if len(f.Locations) == 0 {
		return true
	}
	for _, id := range f.Locations {
		if id == locationID {
			return true
		}
	}
	return false
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Fetcher downloads feeds with conditional requests and keeps the last body
// on disk so a feed outage does not empty the overlay after a restart.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher caching under cacheDir.
func NewFetcher(cacheDir string, timeout time.Duration) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		cacheDir: cacheDir,
	}
}

// Fetch returns the feed body, from the network when it changed and from
// the disk cache on 304 or when the feed is unreachable.
func (f *Fetcher) Fetch(ctx context.Context, feed Feed) (body []byte, fromCache bool, err error) {
	if feed.URL == "" {
		return nil, false, errors.New("ics: feed url is empty")
	}

	dir := f.cacheDirFor(feed.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, false, err
	}
	meta, _ := loadMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, false, err
	}
	if meta.URL == feed.URL && len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Warn("ics: feed unreachable, using cache", "feed", feed.ID, "url", redactURL(feed.URL), "err", err)
			return cached, true, nil
		}
		return nil, false, fmt.Errorf("ics: fetch %s: %w", feed.ID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, err
		}
		m := cacheMeta{
			URL:          feed.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			FetchedAt:    time.Now().UTC(),
		}
		if err := saveCache(dir, m, data); err != nil {
			appLog.Error("ics: cache save failed", err, "feed", feed.ID)
		}
		appLog.Debug("ics: feed fetched", "feed", feed.ID, "bytes", len(data))
		return data, false, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return nil, false, fmt.Errorf("ics: fetch %s: 304 without cached body", feed.ID)
		}
		appLog.Debug("ics: feed not modified", "feed", feed.ID)
		return cached, true, nil

	default:
		if len(cached) > 0 {
			appLog.Warn("ics: feed returned error status, using cache", "feed", feed.ID, "status", resp.StatusCode)
			return cached, true, nil
		}
		return nil, false, fmt.Errorf("ics: fetch %s: %s", feed.ID, resp.Status)
	}
}

func (f *Fetcher) cacheDirFor(u string) string {
	return filepath.Join(f.cacheDir, strconv.FormatUint(xxhash.Sum64String(u), 16))
}

func loadMeta(dir string) (cacheMeta, error) {
	var m cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(data, &m)
	return m, err
}

func saveCache(dir string, m cacheMeta, body []byte) error {
	// Body first so the metadata never points at a missing body.
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host; feed URLs often embed secrets.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/..."
}
