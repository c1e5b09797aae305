package metabase

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// This file ensures Metabase responses conform to the `MetabaseResponse` interface, for convenience when checking them
// during provisioning.
type MetabaseResponse interface {
	StatusCode() int
	BodyString() string
}

// Returned when a response does not have the expected status code.
var ErrUnexpectedResponse = errors.New("received unexpected response from the Metabase API")

// A raw response from the Metabase API.
type Response struct {
	Method       string         // The method of the request.
	URL          string         // The full URL of the request.
	Body         []byte         // The entire body of the response.
	HTTPResponse *http.Response // The underlying HTTP response. Its body has already been consumed.
}

// Returns the HTTP status code of the response, or 0 if there is no response.
func (r *Response) StatusCode() int {
	if r.HTTPResponse != nil {
		return r.HTTPResponse.StatusCode
	}
	return 0
}

func (r *Response) BodyString() string {
	return string(r.Body)
}

// Returns whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode() >= 200 && r.StatusCode() < 300
}

// Unmarshals the JSON body into `v`.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response to %s request to %s: %w", r.Method, r.URL, err)
	}
	return nil
}

// The error payload returned by the Metabase API.
// Depending on the endpoint, `errors` can be a map from attribute to message, or a single string.
type errorPayload struct {
	Errors  any    `json:"errors"`
	Message string `json:"message"`
}

// Extracts a human-readable error from the response body. The raw body is returned if it is not a structured error.
func (r *Response) ErrorMessage() string {
	var payload errorPayload
	if err := json.Unmarshal(r.Body, &payload); err != nil {
		return strings.TrimSpace(r.BodyString())
	}

	if payload.Errors != nil {
		if s, ok := payload.Errors.(string); ok {
			return s
		}

		b, err := json.Marshal(payload.Errors)
		if err == nil {
			return string(b)
		}
	}

	if len(payload.Message) > 0 {
		return payload.Message
	}

	return strings.TrimSpace(r.BodyString())
}

// Ensures that a Metabase response is not an error and has one of the expected status codes.
func CheckResponse(r MetabaseResponse, err error, statusCodes []int, operation string) error {
	if err != nil {
		return fmt.Errorf("unexpected error while calling the Metabase API for operation '%s': %w", operation, err)
	}

	for _, s := range statusCodes {
		if r.StatusCode() == s {
			return nil
		}
	}

	return fmt.Errorf("%w for operation '%s' (status code: %d, body: %s)", ErrUnexpectedResponse, operation, r.StatusCode(), r.BodyString())
}

// Same as `CheckResponse`, accepting any 2xx status code.
func CheckOK(r *Response, err error, operation string) error {
	if err != nil {
		return CheckResponse(r, err, nil, operation)
	}

	if r.OK() {
		return nil
	}

	return CheckResponse(r, nil, nil, operation)
}
