package gradio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/menta2k/xray-classifier/pkg/client"
	"github.com/menta2k/xray-classifier/pkg/types"
)

// DefaultAPIName is the endpoint exposed by gr.Interface apps
const DefaultAPIName = "/predict"

const (
	maxResponseBytes = 1 << 20
	maxEventBytes    = 4 << 20
)

// Client talks to a hosted Gradio app
type Client struct {
	baseURL    string
	apiName    string
	token      string
	httpClient *http.Client
}

// ResolveBaseURL accepts either an app URL or a Space id ("owner/name")
func ResolveBaseURL(space string) (string, error) {
	space = strings.TrimSpace(space)
	if space == "" {
		return "", fmt.Errorf("empty app address")
	}

	if strings.Contains(space, "://") {
		u, err := url.Parse(space)
		if err != nil {
			return "", fmt.Errorf("invalid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("unsupported URL scheme: %q", u.Scheme)
		}
		if u.Host == "" {
			return "", fmt.Errorf("invalid URL: missing host in %q", space)
		}
		return strings.TrimSuffix(u.String(), "/"), nil
	}

	owner, name, ok := strings.Cut(space, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("invalid space id %q, expected owner/name", space)
	}
	host := strings.NewReplacer("_", "-", ".", "-").Replace(strings.ToLower(owner + "-" + name))
	return "https://" + host + ".hf.space", nil
}

// NewClient creates a client for the app at space and the named API endpoint
func NewClient(space, apiName, token string, timeout time.Duration) (*Client, error) {
	base, err := ResolveBaseURL(space)
	if err != nil {
		return nil, err
	}
	apiName = strings.Trim(strings.TrimSpace(apiName), "/")
	if apiName == "" {
		apiName = strings.TrimPrefix(DefaultAPIName, "/")
	}
	return &Client{
		baseURL:    base,
		apiName:    apiName,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Target returns the app base URL
func (c *Client) Target() string {
	return c.baseURL
}

type appConfig struct {
	APIPrefix string `json:"api_prefix"`
}

// Open checks that the app host answers. An error status or unparseable config
// from a waking Space is not fatal here; Invoke reads the config again.
func (c *Client) Open(ctx context.Context) (client.Session, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/config", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	s := &Session{client: c}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err == nil {
			s.root, s.resolved = parseRoot(c.baseURL, body)
		}
	}
	return s, nil
}

// parseRoot derives the API root from an app config body
func parseRoot(baseURL string, body []byte) (string, bool) {
	var cfg appConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return "", false
	}
	prefix := "/" + strings.Trim(cfg.APIPrefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	return baseURL + prefix, true
}

// Session is a connection to one app. It is used by one call at a time.
type Session struct {
	client   *Client
	root     string
	resolved bool
}

// resolve reads the app config once per session
func (s *Session) resolve(ctx context.Context) error {
	if s.resolved {
		return nil
	}
	req, err := s.client.newRequest(ctx, http.MethodGet, s.client.baseURL+"/config", nil)
	if err != nil {
		return err
	}
	body, err := s.client.do(req)
	if err != nil {
		return err
	}
	root, ok := parseRoot(s.client.baseURL, body)
	if !ok {
		return fmt.Errorf("failed to parse app config: app is not ready")
	}
	s.root, s.resolved = root, true
	return nil
}

type fileData struct {
	Path     string   `json:"path"`
	OrigName string   `json:"orig_name,omitempty"`
	MimeType string   `json:"mime_type,omitempty"`
	Meta     fileMeta `json:"meta"`
}

type fileMeta struct {
	Type string `json:"_type"`
}

// Invoke uploads the image, queues a prediction and waits for its result
func (s *Session) Invoke(ctx context.Context, payload *types.Payload) (types.RawResponse, error) {
	if err := s.resolve(ctx); err != nil {
		return nil, err
	}

	path, err := s.upload(ctx, payload)
	if err != nil {
		return nil, err
	}

	eventID, err := s.submit(ctx, fileData{
		Path:     path,
		OrigName: payload.Filename,
		MimeType: payload.MediaType,
		Meta:     fileMeta{Type: "gradio.FileData"},
	})
	if err != nil {
		return nil, err
	}

	return s.await(ctx, eventID)
}

// Close is a no-op; the app keeps no per-session server state
func (s *Session) Close() error {
	return nil
}

func (s *Session) upload(ctx context.Context, payload *types.Payload) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, payload.Filename))
	h.Set("Content-Type", payload.MediaType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("failed to create upload part: %w", err)
	}
	if _, err := part.Write(payload.Data); err != nil {
		return "", fmt.Errorf("failed to write upload part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish upload: %w", err)
	}

	req, err := s.client.newRequest(ctx, http.MethodPost, s.root+"/upload", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, err := s.client.do(req)
	if err != nil {
		return "", err
	}

	var paths []string
	if err := json.Unmarshal(body, &paths); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}
	if len(paths) == 0 || paths[0] == "" {
		return "", fmt.Errorf("upload returned no file path")
	}
	return paths[0], nil
}

func (s *Session) submit(ctx context.Context, file fileData) (string, error) {
	reqBody, err := json.Marshal(map[string]any{"data": []any{file}})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := s.client.newRequest(ctx, http.MethodPost, s.callURL(), bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := s.client.do(req)
	if err != nil {
		return "", err
	}

	var resp struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse call response: %w", err)
	}
	if resp.EventID == "" {
		return "", fmt.Errorf("call response has no event_id")
	}
	return resp.EventID, nil
}

// await reads the event stream until the call completes or fails
func (s *Session) await(ctx context.Context, eventID string) (types.RawResponse, error) {
	req, err := s.client.newRequest(ctx, http.MethodGet, s.callURL()+"/"+url.PathEscape(eventID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)

	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				event = value
			case "data":
				data = append(data, value)
			}
			continue
		}

		payload := strings.Join(data, "\n")
		switch event {
		case "complete":
			return firstOutput(payload)
		case "error":
			return nil, fmt.Errorf("app reported an error: %s", errorText(payload))
		}
		event, data = "", nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event stream: %w", err)
	}

	// the final event may lack its blank line
	if event == "complete" {
		return firstOutput(strings.Join(data, "\n"))
	}
	if event == "error" {
		return nil, fmt.Errorf("app reported an error: %s", errorText(strings.Join(data, "\n")))
	}
	return nil, fmt.Errorf("event stream ended before the call completed")
}

func (s *Session) callURL() string {
	return s.root + "/call/" + s.client.apiName
}

// firstOutput returns the first output component of a completed call, or nil when
// the call produced none. Label components are flattened into label/score pairs.
func firstOutput(data string) (types.RawResponse, error) {
	var outputs []json.RawMessage
	if err := json.Unmarshal([]byte(data), &outputs); err != nil {
		return nil, fmt.Errorf("failed to parse completion data: %w", err)
	}
	if len(outputs) == 0 {
		return nil, nil
	}

	var label struct {
		Confidences []struct {
			Label      string  `json:"label"`
			Confidence float64 `json:"confidence"`
		} `json:"confidences"`
	}
	if err := json.Unmarshal(outputs[0], &label); err == nil && len(label.Confidences) > 0 {
		pairs := make([]types.PredictionResult, 0, len(label.Confidences))
		for _, c := range label.Confidences {
			pairs = append(pairs, types.PredictionResult{Label: c.Label, Score: c.Confidence})
		}
		raw, err := json.Marshal(pairs)
		if err != nil {
			return nil, err
		}
		return raw, nil
	}

	return types.RawResponse(outputs[0]), nil
}

func errorText(data string) string {
	data = strings.TrimSpace(data)
	if data == "" || data == "null" {
		return "no details"
	}
	var msg string
	if err := json.Unmarshal([]byte(data), &msg); err == nil && msg != "" {
		return msg
	}
	return data
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	return &client.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
