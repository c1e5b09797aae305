package metabase

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"slices"
	"time"

	"github.com/oapi-codegen/oapi-codegen/v2/pkg/securityprovider"
)

// The timeouts for the session request. The second one is used when retrying after the first attempt timed out.
var sessionTimeouts = []time.Duration{15 * time.Second, 30 * time.Second}

// The body sent to create a session.
type createSessionBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// The response to the session creation.
type session struct {
	Id string `json:"id"`
}

// Returns whether the error is caused by a request timing out.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Creates a session, retrying once with a longer timeout if the first attempt times out.
func createSession(ctx context.Context, client *Client, username string, password string) (*session, error) {
	var resp *Response
	var err error

	for i, timeout := range sessionTimeouts {
		if i > 0 {
			client.Logger.WarnContext(ctx, "Authentication timed out, retrying")
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err = client.Post(attemptCtx, "/api/session", createSessionBody{
			Username: username,
			Password: password,
		})
		cancel()

		if err == nil || !isTimeout(err) || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, errors.New("received unexpected response from the Metabase session API")
	}

	var s session
	if err := resp.DecodeJSON(&s); err != nil {
		return nil, err
	}
	if len(s.Id) == 0 {
		return nil, errors.New("received unexpected response from the Metabase session API")
	}

	return &s, nil
}

// Authenticates to the Metabase API using the given username and password, and returns an API client configured with
// the session obtained during authentication.
func MakeAuthenticatedClientWithUsernameAndPassword(ctx context.Context, endpoint string, username string, password string, opts ...ClientOption) (*Client, error) {
	client, err := NewClient(endpoint, opts...)
	if err != nil {
		return nil, err
	}

	s, err := createSession(ctx, client, username, password)
	if err != nil {
		return nil, err
	}

	// Authenticated calls are made by passing the session ID in a Metabase-specific header.
	apiKeyProvider, err := securityprovider.NewSecurityProviderApiKey("header", "X-Metabase-Session", s.Id)
	if err != nil {
		return nil, err
	}

	authenticatedOpts := append(slices.Clone(opts), WithRequestEditorFn(apiKeyProvider.Intercept))
	authenticatedClient, err := NewClient(endpoint, authenticatedOpts...)
	if err != nil {
		return nil, err
	}

	authenticatedClient.Logger.DebugContext(ctx, "Authenticated to the Metabase API", slog.String("endpoint", endpoint))

	return authenticatedClient, nil
}

// Returns an API client configured with the given API key.
func MakeAuthenticatedClientWithApiKey(ctx context.Context, endpoint string, apiKey string, opts ...ClientOption) (*Client, error) {
	apiKeyProvider, err := securityprovider.NewSecurityProviderApiKey("header", "X-Api-Key", apiKey)
	if err != nil {
		return nil, err
	}

	authenticatedClient, err := NewClient(endpoint, append(slices.Clone(opts), WithRequestEditorFn(apiKeyProvider.Intercept))...)
	if err != nil {
		return nil, err
	}

	return authenticatedClient, nil
}
