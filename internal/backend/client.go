// Package backend talks to the signage REST API: location list, display
// records per location and media URLs.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appLog "signage/internal/log"
	"signage/internal/model"
)

const (
	locationsPath = "/api/lokasi/find"
	recordsPath   = "/api/dislok/find"
	mediaPath     = "/api/dislok/media"
)

// Media request types understood by the media endpoint.
const (
	MediaTypeFile  = "file"
	MediaTypeEmbed = "embed"
)

var (
	// ErrNetwork covers transport failures and non-2xx responses.
	ErrNetwork = errors.New("backend: network failure")
	// ErrDecode covers payloads that do not have the expected shape.
	ErrDecode = errors.New("backend: decode failure")
)

// Client is a small JSON client for the backend.
type Client struct {
	baseURL string
	client  *http.Client
	tz      *time.Location
}

// NewClient creates a Client for baseURL. tz is used for timestamps that
// carry no offset; nil means time.Local.
func NewClient(baseURL string, timeout time.Duration, tz *time.Location) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if tz == nil {
		tz = time.Local
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		tz: tz,
	}
}

// BaseURL returns the normalized backend root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// MediaURL builds the media endpoint URL for a record.
func (c *Client) MediaURL(id int, mediaType string) string {
	q := url.Values{}
	q.Set("id_display", strconv.Itoa(id))
	q.Set("type", mediaType)
	return c.baseURL + mediaPath + "?" + q.Encode()
}

// Locations fetches the list of selectable locations.
func (c *Client) Locations(ctx context.Context) ([]model.Location, error) {
	var env envelope[wireLocation]
	if err := c.post(ctx, locationsPath, nil, &env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, fmt.Errorf("%w: %s: missing data", ErrDecode, locationsPath)
	}

	out := make([]model.Location, 0, len(env.Data))
	for _, l := range env.Data {
		out = append(out, l.toModel())
	}
	return out, nil
}

// Records fetches the display records for a location. Records whose
// timestamps or category cannot be decoded are skipped and logged.
func (c *Client) Records(ctx context.Context, locationID int) ([]model.DisplayRecord, error) {
	body := map[string]int{"lokasi": locationID}

	var env envelope[wireRecord]
	if err := c.post(ctx, recordsPath, body, &env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, fmt.Errorf("%w: %s: missing data", ErrDecode, recordsPath)
	}

	out := make([]model.DisplayRecord, 0, len(env.Data))
	for _, w := range env.Data {
		rec, err := w.toModel(c.tz)
		if err != nil {
			appLog.Error("backend: skipping record", err, "id", w.ID)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNetwork, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %s: %s", ErrNetwork, path, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNetwork, path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	return nil
}
