package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// url builds a complete URL by appending the path to the base URL.
func (c *SDKClient) url(path string) string {
	return c.BaseURL + path
}

// newRequest encodes body as JSON when it is not nil.
func (c *SDKClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends req and decodes the envelope's data into target, which may be
// nil. It returns the envelope message.
func (c *SDKClient) do(req *http.Request, target any, expectedStatus int) (string, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	return decodeEnvelope(resp, target, expectedStatus)
}

// call is newRequest followed by do, for unauthenticated requests.
func (c *SDKClient) call(ctx context.Context, method, path string, body, target any, expectedStatus int) (string, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return "", err
	}
	return c.do(req, target, expectedStatus)
}

// doAuthRequest performs a request with the session's access token,
// refreshing it first when it is about to expire.
func (s *Session) doAuthRequest(ctx context.Context, method, path string, body, target any, expectedStatus int) (string, error) {
	token, err := s.getValidToken(ctx)
	if err != nil {
		return "", err
	}
	req, err := s.client.newRequest(ctx, method, path, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return s.client.do(req, target, expectedStatus)
}

// decodeEnvelope reads a response envelope. Any status other than
// expectedStatus is returned as an *APIError.
func decodeEnvelope(resp *http.Response, target any, expectedStatus int) (string, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != expectedStatus {
		return "", parseErrorResponse(resp, body)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if target != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, target); err != nil {
			return "", fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return env.Message, nil
}
