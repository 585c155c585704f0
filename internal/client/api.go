package client

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

	"github.com/portfolio-blog/backend/internal/counters"
)

const (
	pathRecordView     = "/api/blog/view"
	pathRecordReaction = "/api/blog/reaction"
	defaultTimeout     = 10 * time.Second
	maxErrorBodyBytes  = 4 << 10
)

var errMissingBaseURL = errors.New("api base url is required")

// API is the increment surface the client components call.
type API interface {
	RecordView(ctx context.Context, slug string) (int64, error)
	RecordReaction(ctx context.Context, slug string, kind counters.ReactionKind) (counters.ReactionCounts, error)
}

// APIError reports a non-success response together with the server's message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("api request failed with status %d: %s", e.StatusCode, e.Message)
}

type HTTPAPIConfig struct {
	BaseURL    string
	HTTPClient *http.Client
}

// HTTPAPI calls the increment endpoints over HTTP.
type HTTPAPI struct {
	baseURL    string
	httpClient *http.Client
}

var _ API = (*HTTPAPI)(nil)

func NewHTTPAPI(cfg HTTPAPIConfig) (*HTTPAPI, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPAPI{baseURL: baseURL, httpClient: httpClient}, nil
}

type viewRequest struct {
	Slug string `json:"slug"`
}

type viewResponse struct {
	ViewCount int64 `json:"view_count"`
}

type reactionRequest struct {
	Slug     string `json:"slug"`
	Reaction string `json:"reaction"`
}

func (a *HTTPAPI) RecordView(ctx context.Context, slug string) (int64, error) {
	var response viewResponse
	if err := a.post(ctx, pathRecordView, viewRequest{Slug: slug}, &response); err != nil {
		return 0, err
	}
	return response.ViewCount, nil
}

func (a *HTTPAPI) RecordReaction(ctx context.Context, slug string, kind counters.ReactionKind) (counters.ReactionCounts, error) {
	var response counters.ReactionCounts
	if err := a.post(ctx, pathRecordReaction, reactionRequest{Slug: slug, Reaction: kind.String()}, &response); err != nil {
		return counters.ReactionCounts{}, err
	}
	return response, nil
}

func (a *HTTPAPI) post(ctx context.Context, path string, payload interface{}, target interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := a.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return decodeAPIError(response)
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(response *http.Response) error {
	apiErr := &APIError{StatusCode: response.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	if err != nil {
		return apiErr
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}
