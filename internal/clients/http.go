package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/util"
)

// errorBody is the error shape every role renders
type errorBody struct {
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details,omitempty"`
}

type httpClient struct {
	baseURL string
	service string
	http    *http.Client
}

func newHTTPClient(baseURL, service string, timeout time.Duration) *httpClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		service: service,
		http:    &http.Client{Timeout: timeout},
	}
}

// do sends a JSON request and decodes a 2xx body into out. Transport failures
// become Unavailable; error bodies are rebuilt into *apperr.Error.
func (c *httpClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", c.service, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", c.service, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	util.InjectTraceContext(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(err, apperr.KindUnavailable, apperr.CodeServiceUnavailable,
			"%s service unavailable", c.service)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(err, apperr.KindUnavailable, apperr.CodeServiceUnavailable,
			"failed to read %s response", c.service)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.remoteError(resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Wrap(err, apperr.KindUpstream, apperr.CodeUpstreamError,
			"invalid %s response", c.service)
	}
	return nil
}

func (c *httpClient) remoteError(status int, raw []byte) error {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Code == "" {
		kind := apperr.KindUpstream
		if status == http.StatusNotFound {
			kind = apperr.KindNotFound
		}
		return apperr.New(kind, apperr.CodeUpstreamError,
			"%s service returned status %d", c.service, status)
	}
	remote := apperr.FromCode(body.Code, body.Error)
	if len(body.Details) > 0 {
		remote = remote.WithDetails(body.Details)
	}
	return remote
}

// remoteDetails decodes the raw details of a remote error into into
func remoteDetails(err error, into interface{}) (*apperr.Error, bool) {
	var remote *apperr.Error
	if !errors.As(err, &remote) {
		return nil, false
	}
	raw, ok := remote.Details.(json.RawMessage)
	if !ok || json.Unmarshal(raw, into) != nil {
		return nil, false
	}
	return remote, true
}
