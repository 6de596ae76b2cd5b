package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pagediff/internal/pipeline"
)

// HTTPClient submits pair jobs to a remote worker serving Handler.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for the worker at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Invoke implements pipeline.Invoker. A pair that failed on the worker is
// returned as *pipeline.StageError.
func (c *HTTPClient) Invoke(ctx context.Context, job pipeline.PairJob) (pipeline.PairResult, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return pipeline.PairResult{}, fmt.Errorf("encode job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoke", bytes.NewReader(body))
	if err != nil {
		return pipeline.PairResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return pipeline.PairResult{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result pipeline.PairResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return pipeline.PairResult{}, fmt.Errorf("decode response: %w", err)
		}
		return result, nil
	case http.StatusUnprocessableEntity:
		var failure pipeline.PairFailure
		if err := json.NewDecoder(resp.Body).Decode(&failure); err != nil {
			return pipeline.PairResult{}, fmt.Errorf("decode failure: %w", err)
		}
		return pipeline.PairResult{}, &pipeline.StageError{
			Stage:  failure.Stage,
			Before: job.BeforeIndex,
			After:  job.AfterIndex,
			Err:    errors.New(failure.Error),
		}
	default:
		var msg errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&msg)
		return pipeline.PairResult{}, fmt.Errorf("invoke failed with status %d: %s", resp.StatusCode, msg.Error)
	}
}

// CheckHealth reports whether the worker answers its health endpoint.
func (c *HTTPClient) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker unhealthy: %d", resp.StatusCode)
	}
	return nil
}
