// Package op provides HTTP access to an OpenProject instance: a retrying
// transport, the paginated collection walker, and the narrow fetch/create
// surface the extraction and restore engines are written against.
package op

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mterres/opmigrate/internal/snapshot"
)

// Connection is the narrow surface the extraction and restore engines use.
// The concrete Client implements it; tests substitute fakes.
type Connection interface {
	// Collect walks a paginated listing endpoint and returns every element.
	Collect(ctx context.Context, endpoint string, query url.Values) ([]snapshot.Record, error)
	// Get fetches a single resource under /api/v3.
	Get(ctx context.Context, path string) (snapshot.Record, error)
	// Create POSTs a JSON payload and returns the created resource.
	Create(ctx context.Context, path string, payload any) (snapshot.Record, error)
	// Upload POSTs a multipart attachment (metadata part + file part).
	Upload(ctx context.Context, path, fileName, contentType string, data []byte) (snapshot.Record, error)
	// Download fetches raw bytes from an href relative to the instance root.
	Download(ctx context.Context, href string) ([]byte, error)
}

// Client talks to one OpenProject instance. Authentication uses the standard
// API-key scheme (basic auth with user "apikey"); the key is passed through
// untouched from configuration.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	MaxRetries uint64
	RetryDelay time.Duration
	PageSize   int
}

// Options tunes a Client. Zero values fall back to the defaults the
// reference deployment uses.
type Options struct {
	InsecureSkipVerify bool
	MaxRetries         int
	RetryDelay         time.Duration
	PageSize           int
}

// NewClient creates a client for the instance at baseURL.
func NewClient(baseURL, apiKey string, opts Options) *Client {
	transport := http.DefaultTransport
	if opts.InsecureSkipVerify {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		transport = t
	}
	c := &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: transport,
		},
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
		PageSize:   100,
	}
	if opts.MaxRetries > 0 {
		c.MaxRetries = uint64(opts.MaxRetries)
	}
	if opts.RetryDelay > 0 {
		c.RetryDelay = opts.RetryDelay
	}
	if opts.PageSize > 0 {
		c.PageSize = opts.PageSize
	}
	return c
}

func (c *Client) apiURL(path string) string {
	return c.BaseURL + "/api/v3" + path
}

// Get fetches a single resource under /api/v3.
func (c *Client) Get(ctx context.Context, path string) (snapshot.Record, error) {
	body, err := c.do(ctx, http.MethodGet, c.apiURL(path), "", nil)
	if err != nil {
		return nil, err
	}
	var rec snapshot.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("parse response for %s: %w", path, err)
	}
	return rec, nil
}

// Create POSTs payload as JSON and returns the created resource document.
func (c *Client) Create(ctx context.Context, path string, payload any) (snapshot.Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal create request: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, c.apiURL(path), "application/json", data)
	if err != nil {
		return nil, err
	}
	var rec snapshot.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("parse create response for %s: %w", path, err)
	}
	return rec, nil
}

// Upload POSTs a multipart attachment: a "metadata" part carrying the file
// name as JSON and a "file" part carrying the bytes.
func (c *Client) Upload(ctx context.Context, path, fileName, contentType string, data []byte) (snapshot.Record, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	meta, err := w.CreateFormField("metadata")
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	if err := json.NewEncoder(meta).Encode(map[string]any{"fileName": fileName}); err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}

	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, c.apiURL(path), w.FormDataContentType(), buf.Bytes())
	if err != nil {
		return nil, err
	}
	var rec snapshot.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("parse upload response for %s: %w", path, err)
	}
	return rec, nil
}

// Download fetches raw bytes from an href relative to the instance root,
// e.g. an attachment's /content link.
func (c *Client) Download(ctx context.Context, href string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, c.BaseURL+href, "", nil)
}

// do executes one request with bounded retry. Outcomes are classified three
// ways: 404 is ErrNotFound (returned immediately, the resource may simply
// not exist or the module is disabled), network errors and 5xx are retried
// up to MaxRetries with a fixed delay, and any other 4xx is permanent.
func (c *Client) do(ctx context.Context, method, rawURL, contentType string, body []byte) ([]byte, error) {
	var respBody []byte

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.RetryDelay), c.MaxRetries),
		ctx)

	attempt := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.SetBasicAuth("apikey", c.APIKey)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err // network error, retryable
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%s: %w", rawURL, ErrNotFound))
		case resp.StatusCode >= 500:
			return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		case resp.StatusCode >= 400:
			return backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Body: string(data)})
		}
		respBody = data
		return nil
	}

	if err := backoff.Retry(attempt, bo); err != nil {
		return nil, err
	}
	return respBody, nil
}
