package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/xray-classifier/pkg/client"
	"github.com/menta2k/xray-classifier/pkg/processing"
	"github.com/menta2k/xray-classifier/pkg/types"
)

// DefaultURL is the local Ollama server
const DefaultURL = "http://localhost:11434"

// Client wraps the Ollama API client for a single vision model
type Client struct {
	client    *api.Client
	target    string
	model     string
	processor *processing.Processor
}

// NewClient creates a new Ollama client for model
func NewClient(ollamaURL, model string, httpClient *http.Client, processor *processing.Processor) (*Client, error) {
	if ollamaURL == "" {
		ollamaURL = DefaultURL
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("model name is required")
	}

	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %q", parsedURL.Scheme)
	}

	// Create base URL from the provided URL (removing path like /api/chat)
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if processor == nil {
		processor = processing.NewProcessor(0, 0)
	}

	return &Client{
		client:    api.NewClient(baseURL, httpClient),
		target:    baseURL.String() + " (" + model + ")",
		model:     model,
		processor: processor,
	}, nil
}

// Target returns the server URL and model name
func (c *Client) Target() string {
	return c.target
}

// Open checks that the server is up
func (c *Client) Open(ctx context.Context) (client.Session, error) {
	if err := c.client.Heartbeat(ctx); err != nil {
		return nil, fromStatus(err)
	}
	return c, nil
}

// Invoke asks the model to classify the image
func (c *Client) Invoke(ctx context.Context, payload *types.Payload) (types.RawResponse, error) {
	imgBytes, err := c.processor.PrepareForModel(payload.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", client.ErrInvalidPayload, err)
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: client.StructuredPrompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream:  &streamFalse,
		Format:  json.RawMessage(`"json"`),
		Options: map[string]any{"temperature": 0},
	}

	var responseContent string
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent += resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fromStatus(err)
	}

	return types.RawResponse(client.SanitizeModelJSON(responseContent)), nil
}

// Close is a no-op
func (c *Client) Close() error {
	return nil
}

// fromStatus maps SDK status errors onto client.StatusError
func fromStatus(err error) error {
	var status api.StatusError
	if errors.As(err, &status) {
		body := status.ErrorMessage
		if body == "" {
			body = status.Status
		}
		return &client.StatusError{StatusCode: status.StatusCode, Body: body}
	}
	return fmt.Errorf("ollama: %w", err)
}
