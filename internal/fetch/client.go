package fetch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxBodySize = 16 << 20

var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// Fetcher issues a single GET and reports the raw status and body.
// A non-nil error means no usable HTTP response was obtained.
type Fetcher interface {
	Fetch(ctx context.Context, url string, header http.Header) (status int, body []byte, err error)
}

// BrowserHeaders returns the static part of the request fingerprint.
// User-Agent is added per request by the caller.
func BrowserHeaders(baseURL string) http.Header {
	h := http.Header{}
	h.Set("Accept-Language", "en-US,en;q=0.5")
	h.Set("Accept-Encoding", "gzip, deflate")
	h.Set("Connection", "keep-alive")
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Cache-Control", "max-age=0")
	h.Set("Referer", strings.TrimRight(baseURL, "/")+"/")
	return h
}

type HTTPClient struct {
	client  *http.Client
	maxBody int64
}

func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxBody: maxBodySize,
	}
}

func NewHTTPClientFrom(c *http.Client) *HTTPClient {
	return &HTTPClient{client: c, maxBody: maxBodySize}
}

func (c *HTTPClient) Fetch(ctx context.Context, url string, header http.Header) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = header.Clone()

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp, c.maxBody)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, body, nil
}

// Do lets the client serve as a plain *http.Client stand-in, e.g. for
// robots.txt retrieval.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

// readBody decodes the content encodings we advertise. Setting
// Accept-Encoding by hand disables net/http's transparent gzip handling.
func readBody(resp *http.Response, limit int64) ([]byte, error) {
	raw, err := readLimited(resp.Body, limit)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid gzip body: %w", err)
		}
		defer r.Close()
		return readLimited(r, limit)
	case "deflate":
		// servers disagree on whether deflate means zlib-wrapped or raw
		if r, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer r.Close()
			return readLimited(r, limit)
		}
		r := flate.NewReader(bytes.NewReader(raw))
		defer r.Close()
		return readLimited(r, limit)
	default:
		return raw, nil
	}
}

// readLimited fails instead of truncating, so a partial page is never parsed
// as a complete one.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, limit)
	}
	return data, nil
}
