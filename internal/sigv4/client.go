// client.go - signed PUT client for direct uploads.

package sigv4

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Cyxzhar/quickdrop/internal/storage"
)

// maxErrorBody bounds how much of a provider error response is kept.
const maxErrorBody = 64 << 10

// UploadError is a non-2xx answer from the provider.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed: %d - %s", e.StatusCode, e.Body)
}

// IsAuth reports whether the provider rejected the signature or credentials.
func (e *UploadError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Client PUTs objects to {Endpoint}/{Bucket}/{key} with path-style
// addressing. It never retries; deadlines come from the caller's context.
type Client struct {
	endpoint   *url.URL
	bucket     string
	signer     *Signer
	httpClient *http.Client
	now        func() time.Time
}

// R2Endpoint is the S3 API endpoint of a Cloudflare account.
func R2Endpoint(accountID string) string {
	return "https://" + accountID + ".r2.cloudflarestorage.com"
}

// NewClient validates endpoint and returns a client. httpClient may be nil.
func NewClient(endpoint, bucket string, signer *Signer, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint must use http or https: %q", endpoint)
	}
	if u.Host == "" || (u.Path != "" && u.Path != "/") {
		return nil, fmt.Errorf("endpoint must be scheme://host[:port]: %q", endpoint)
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{endpoint: u, bucket: bucket, signer: signer, httpClient: httpClient, now: time.Now}, nil
}

// NewRequest builds the signed request without sending it.
func (c *Client) NewRequest(ctx context.Context, in storage.PutInput) (*http.Request, Result, error) {
	path := "/" + c.bucket + "/" + in.Key
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	res := c.signer.Sign(Request{
		Method:        http.MethodPut,
		Host:          c.endpoint.Host,
		Path:          path,
		ContentType:   contentType,
		ContentLength: int64(len(in.Data)),
		PayloadHash:   HashPayload(in.Data),
		Time:          c.now(),
		Meta:          in.Meta,
	})

	u := *c.endpoint
	u.Path = path
	u.RawPath = EscapePath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), bytes.NewReader(in.Data))
	if err != nil {
		return nil, Result{}, err
	}
	req.Host = c.endpoint.Host
	req.ContentLength = int64(len(in.Data))
	for k, v := range res.Header {
		req.Header[k] = v
	}
	return req, res, nil
}

// Put uploads one object.
func (c *Client) Put(ctx context.Context, in storage.PutInput) error {
	req, _, err := c.NewRequest(ctx, in)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", in.Key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &UploadError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
