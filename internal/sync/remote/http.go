package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxErrorBodySize      = 4 * 1024
)

// HTTPStore talks to the remote multi-tenant backend over REST.
//
// Endpoint scheme (all scoped under the owner, mirroring the server's
// tenant isolation):
//
//	GET    /v1/{owner}/{collection}/{id}
//	POST   /v1/{owner}/{collection}            create, 409 on existing
//	PUT    /v1/{owner}/{collection}/{id}       If-Match: <version>, 412 on clash
//	DELETE /v1/{owner}/{collection}/{id}       soft delete
//	PUT    /v1/{owner}/assets/{id}             idempotent binary upload
//	GET    /v1/{owner}/changes?since=<rfc3339> incremental pull
type HTTPStore struct {
	baseURL string
	token   func(ctx context.Context) (string, error)
	client  *http.Client
	timeout time.Duration
}

// HTTPConfig configures the HTTP store.
type HTTPConfig struct {
	// BaseURL is the backend root, e.g. "https://sync.example.com".
	BaseURL string

	// Token returns the bearer token for a request. Called per request
	// so rotated credentials take effect without restart.
	Token func(ctx context.Context) (string, error)

	// RequestTimeout bounds each remote call (default 30s). Exceeding
	// it classifies as a network failure.
	RequestTimeout time.Duration

	// Client overrides the HTTP client (default: pooled transport).
	Client *http.Client
}

// NewHTTPStore creates a Store backed by the REST backend.
func NewHTTPStore(cfg HTTPConfig) (*HTTPStore, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &HTTPStore{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  client,
		timeout: timeout,
	}, nil
}

// Get implements Store.
func (s *HTTPStore) Get(ctx context.Context, owner, collection, id string) (*Document, error) {
	var doc Document
	err := s.do(ctx, http.MethodGet, s.docURL(owner, collection, id), nil, nil, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Create implements Store.
func (s *HTTPStore) Create(ctx context.Context, doc *Document) error {
	u := fmt.Sprintf("%s/v1/%s/%s", s.baseURL,
		url.PathEscape(doc.OwnerID), url.PathEscape(doc.Collection))
	return s.do(ctx, http.MethodPost, u, doc, nil, nil)
}

// CompareAndPut implements Store. The expected version travels in
// If-Match; the server answers 412 on a clash.
func (s *HTTPStore) CompareAndPut(ctx context.Context, doc *Document, expectedVersion int64) error {
	headers := map[string]string{"If-Match": strconv.FormatInt(expectedVersion, 10)}
	return s.do(ctx, http.MethodPut, s.docURL(doc.OwnerID, doc.Collection, doc.ID), doc, headers, nil)
}

// SoftDelete implements Store.
func (s *HTTPStore) SoftDelete(ctx context.Context, owner, collection, id string, at time.Time, tag Tag) error {
	body := map[string]any{
		"deleted_at": at.UTC().Format(time.RFC3339Nano),
		"tag":        tag,
	}
	err := s.do(ctx, http.MethodDelete, s.docURL(owner, collection, id), body, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil // already absent: the delete's end state holds
	}
	return err
}

// UploadAsset implements Store.
func (s *HTTPStore) UploadAsset(ctx context.Context, owner, assetID string, content []byte) error {
	u := fmt.Sprintf("%s/v1/%s/assets/%s", s.baseURL,
		url.PathEscape(owner), url.PathEscape(assetID))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("failed to build asset request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if err := s.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return NewError(KindNetwork, err)
	}
	defer resp.Body.Close()
	return s.checkStatus(resp)
}

// Changes implements Store.
func (s *HTTPStore) Changes(ctx context.Context, owner string, since time.Time) (*Changes, error) {
	u := fmt.Sprintf("%s/v1/%s/changes?since=%s", s.baseURL,
		url.PathEscape(owner), url.QueryEscape(since.UTC().Format(time.RFC3339Nano)))

	var out Changes
	if err := s.do(ctx, http.MethodGet, u, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *HTTPStore) docURL(owner, collection, id string) string {
	return fmt.Sprintf("%s/v1/%s/%s/%s", s.baseURL,
		url.PathEscape(owner), url.PathEscape(collection), url.PathEscape(id))
}

// do runs one JSON request/response cycle with timeout, auth, and status
// classification.
func (s *HTTPStore) do(ctx context.Context, method, u string, body any, headers map[string]string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return NewError(KindValidation, fmt.Errorf("failed to marshal request body: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if err := s.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return NewError(KindNetwork, err)
	}
	defer resp.Body.Close()

	if err := s.checkStatus(resp); err != nil {
		return err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return NewError(KindUnknown, fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return nil
}

func (s *HTTPStore) authorize(ctx context.Context, req *http.Request) error {
	if s.token == nil {
		return nil
	}
	tok, err := s.token(ctx)
	if err != nil {
		return NewError(KindAuth, fmt.Errorf("failed to obtain token: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

// checkStatus maps HTTP status codes onto the failure taxonomy.
func (s *HTTPStore) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusPreconditionFailed:
		return ErrVersionMismatch
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return NewError(KindValidation, httpError(resp))
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return NewError(KindNetwork, httpError(resp))
	default:
		return NewError(KindUnknown, httpError(resp))
	}
}

func httpError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}
