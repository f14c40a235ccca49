package hfapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/menta2k/xray-classifier/pkg/client"
	"github.com/menta2k/xray-classifier/pkg/types"
)

// DefaultURL is the hosted fracture model used when no endpoint is configured
const DefaultURL = "https://api-inference.huggingface.co/models/Dawgggggg/vure-bonefracture"

// maxResponseBytes bounds how much of a reply body is read
const maxResponseBytes = 1 << 20

// Client posts raw image bytes to a hosted inference endpoint.
// The endpoint is stateless, so the client is its own session.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewClient validates endpoint and returns a client. An empty token sends no Authorization header.
func NewClient(endpoint, token string, timeout time.Duration) (*Client, error) {
	if endpoint == "" {
		endpoint = DefaultURL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %q (only http and https are supported)", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid URL: missing host in %q", endpoint)
	}

	return &Client{
		endpoint:   endpoint,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Target returns the endpoint URL
func (c *Client) Target() string {
	return c.endpoint
}

// Open has no handshake to do
func (c *Client) Open(ctx context.Context) (client.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// Invoke sends one request with the image as the body
func (c *Client) Invoke(ctx context.Context, payload *types.Payload) (types.RawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", payload.MediaType)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &client.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return types.RawResponse(body), nil
}

// Close is a no-op
func (c *Client) Close() error {
	return nil
}
