package metabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Performs HTTP requests.
// Only used to allow mocking the `http.Client` in tests.
type HttpRequestDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// A function that can modify a request before it is sent, e.g. to add authentication headers.
type RequestEditorFn func(ctx context.Context, req *http.Request) error

// The subset of the Metabase API used to provision an instance.
// Non-2xx responses are not returned as errors. They are logged, and it is up to the caller to decide whether the call
// site can carry on.
type API interface {
	Get(ctx context.Context, path string) (*Response, error)
	Post(ctx context.Context, path string, body any) (*Response, error)
	Put(ctx context.Context, path string, body any) (*Response, error)
	Delete(ctx context.Context, path string) (*Response, error)
}

// A client for the Metabase API.
type Client struct {
	Server         string            // The endpoint of the Metabase API, always ending with a slash.
	Client         HttpRequestDoer   // The HTTP client performing the requests.
	RequestEditors []RequestEditorFn // Functions applied to every request before it is sent.
	Logger         *slog.Logger      // The logger reporting unsuccessful responses.
}

// Ensures the client satisfies the interface used by the provisioner.
var _ API = &Client{}

// An option that can be passed to `NewClient`.
type ClientOption func(*Client) error

// Creates a new client for the Metabase API with the given endpoint.
func NewClient(server string, opts ...ClientOption) (*Client, error) {
	client := Client{
		Server: server,
	}

	for _, o := range opts {
		if err := o(&client); err != nil {
			return nil, err
		}
	}

	if !strings.HasSuffix(client.Server, "/") {
		client.Server += "/"
	}

	if client.Client == nil {
		client.Client = &http.Client{}
	}

	if client.Logger == nil {
		client.Logger = slog.Default()
	}

	return &client, nil
}

// Sets the HTTP client used to perform requests.
func WithHTTPClient(doer HttpRequestDoer) ClientOption {
	return func(c *Client) error {
		c.Client = doer
		return nil
	}
}

// Adds a function modifying every request before it is sent.
func WithRequestEditorFn(fn RequestEditorFn) ClientOption {
	return func(c *Client) error {
		c.RequestEditors = append(c.RequestEditors, fn)
		return nil
	}
}

// Sets the logger used to report unsuccessful responses.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		c.Logger = logger
		return nil
	}
}

func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// Builds the request for the given API path. The path may contain a query string.
func (c *Client) newRequest(ctx context.Context, method string, path string, body any) (*http.Request, error) {
	serverURL, err := url.Parse(c.Server)
	if err != nil {
		return nil, err
	}

	queryURL, err := serverURL.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, queryURL.String(), bodyReader)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	for _, r := range c.RequestEditors {
		if err := r(ctx, req); err != nil {
			return nil, err
		}
	}

	return req, nil
}

// Performs a request and reads the entire response body.
func (c *Client) do(ctx context.Context, method string, path string, body any) (*Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	rsp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request to %s failed: %w", method, req.URL, err)
	}
	defer rsp.Body.Close()

	bodyBytes, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, err
	}

	response := &Response{
		Method:       method,
		URL:          req.URL.String(),
		Body:         bodyBytes,
		HTTPResponse: rsp,
	}

	c.logUnsuccessfulResponse(ctx, response)

	return response, nil
}

// Logs the details of a non-2xx response. Not found errors are often expected (e.g. deleting an object that is
// already gone), and are reported with a lower severity.
func (c *Client) logUnsuccessfulResponse(ctx context.Context, r *Response) {
	if r.OK() {
		return
	}

	level := slog.LevelError
	errors := r.ErrorMessage()
	if r.StatusCode() == http.StatusNotFound {
		level = slog.LevelWarn
		errors = http.StatusText(http.StatusNotFound)
	}

	c.Logger.Log(ctx, level, fmt.Sprintf("Error %d during %s request to %s! (%s)", r.StatusCode(), r.Method, r.URL, errors),
		slog.Int("status", r.StatusCode()),
		slog.String("method", r.Method),
		slog.String("url", r.URL),
	)
}
