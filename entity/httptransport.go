package entity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/noahgrant/resourcerer/internal/logging"
)

// HttpClient matches *http.Client so transports can be tested with fakes.
type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type httpTransport struct {
	client HttpClient
	header http.Header
}

// NewHTTPTransport returns the reference Transport over net/http. Bodies
// are JSON-encoded; responses without a structured body (204, empty, or
// unparseable) resolve as an empty payload rather than a failure; non-2xx
// responses fail with a StatusError carrying the status code.
func NewHTTPTransport(client HttpClient, header http.Header) Transport {
	return &httpTransport{
		client: client,
		header: header,
	}
}

func (t *httpTransport) Request(ctx context.Context, url string, opts RequestOptions) (json.RawMessage, *http.Response, error) {
	logger := logging.FromContext(ctx)

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if opts.Body != nil {
		encoded, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range t.header {
		req.Header[key] = values
	}
	for key, values := range opts.Header {
		req.Header[key] = values
	}

	resp, err := t.client.Do(req)
	if err != nil {
		logger.Error("Failed to send request", "url", url, "error", err)
		return nil, nil, fmt.Errorf("failed to send request: %w", err)
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("Failed to read response body", "url", url, "error", err)
		return nil, resp, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp, &StatusError{StatusCode: resp.StatusCode}
	}

	// Empty or malformed bodies (204s and the like) are an empty payload,
	// not a failure.
	if len(data) == 0 || !json.Valid(data) {
		return json.RawMessage(`{}`), resp, nil
	}

	return json.RawMessage(data), resp, nil
}
