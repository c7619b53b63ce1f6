// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package renshuu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.renshuu.org/v1"

	// Renshuu's quota is per-day; the limiter only keeps bursts polite
	// so a list warm does not hammer the API.
	defaultRateLimitRPS = 4
	defaultRateBurst    = 8

	defaultTimeout = 30 * time.Second

	// maxErrorBodyBytes caps how much of an unexpected upstream body is
	// quoted into an error message.
	maxErrorBodyBytes = 2048
)

// apiTracer is the OpenTelemetry tracer for Renshuu API calls.
var apiTracer = otel.Tracer("aleutian.renshuu.api")

// Upstream-call instruments. Created against the global delegate so they
// bind to whichever meter provider telemetry.Init installs later.
var (
	apiMeter = otel.Meter("aleutian.renshuu.api")

	apiCalls        metric.Int64Counter
	apiCallDuration metric.Float64Histogram
)

func init() {
	var err error
	apiCalls, err = apiMeter.Int64Counter("renshuu.client.requests",
		metric.WithDescription("Outbound Renshuu API requests by method and outcome."))
	if err != nil {
		otel.Handle(err)
	}
	apiCallDuration, err = apiMeter.Float64Histogram("renshuu.client.request.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Outbound Renshuu API request latency."))
	if err != nil {
		otel.Handle(err)
	}
}

// Compile-time interface implementation check.
var _ Client = (*APIClient)(nil)

// Config tunes the API client. Zero values take defaults.
type Config struct {
	// BaseURL points at the API root; override it to target a fake in
	// integration tests.
	BaseURL string
	// RateLimitRPS caps sustained outbound requests per second.
	RateLimitRPS float64
	// RateBurst is the token bucket depth.
	RateBurst int
	// Timeout bounds each HTTP exchange when the client builds its own
	// transport. Ignored when HTTPClient is injected.
	Timeout time.Duration
	// HTTPClient overrides the transport; tests inject mocks here.
	HTTPClient HTTPClient
}

// APIClient talks to the Renshuu REST API.
type APIClient struct {
	httpClient HTTPClient
	baseURL    string
	limiter    *rate.Limiter
}

// NewAPIClient builds a client from cfg, filling defaults for zero values.
func NewAPIClient(cfg Config) *APIClient {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = defaultRateLimitRPS
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &APIClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// GetLists returns the study lists tree visible to the key.
func (c *APIClient) GetLists(ctx context.Context, key string) (ListsResponse, error) {
	ctx, span := apiTracer.Start(ctx, "RenshuuGetLists")
	defer span.End()

	var out ListsResponse
	if err := c.getJSON(ctx, key, c.baseURL+"/lists", &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get lists failed")
		return ListsResponse{}, err
	}
	span.SetAttributes(attribute.Int("renshuu.termtype_groups", len(out.TermtypeGroups)))
	return out, nil
}

// SearchWord searches the dictionary for a written form or reading.
func (c *APIClient) SearchWord(ctx context.Context, key, value string) (SearchResponse, error) {
	ctx, span := apiTracer.Start(ctx, "RenshuuSearchWord")
	defer span.End()
	span.SetAttributes(attribute.String("renshuu.search_value", value))

	endpoint := c.baseURL + "/word/search?value=" + url.QueryEscape(value)
	var out SearchResponse
	if err := c.getJSON(ctx, key, endpoint, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "word search failed")
		return SearchResponse{}, err
	}
	span.SetAttributes(attribute.Int("renshuu.candidates", len(out.Words)))
	return out, nil
}

// AddWordToList schedules a term on a study list.
//
// The duplicate-add upstream error maps to ErrAlreadyScheduled so callers
// can treat it as success.
func (c *APIClient) AddWordToList(ctx context.Context, key string, termID, listID string) error {
	ctx, span := apiTracer.Start(ctx, "RenshuuAddWordToList")
	defer span.End()
	span.SetAttributes(
		attribute.String("renshuu.term_id", termID),
		attribute.String("renshuu.list_id", listID),
	)

	payload, err := json.Marshal(map[string]string{"list_id": listID})
	if err != nil {
		return fmt.Errorf("marshal add-word payload: %w", err)
	}

	endpoint := c.baseURL + "/word/" + url.PathEscape(termID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create add-word request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, body, err := c.do(ctx, key, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "add word failed")
		return err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	message := errorMessage(body)
	if message == alreadyScheduledMessage {
		span.SetAttributes(attribute.Bool("renshuu.already_scheduled", true))
		return ErrAlreadyScheduled
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: message}
	span.RecordError(apiErr)
	span.SetStatus(codes.Error, "add word rejected")
	return apiErr
}

// GetListContents returns one page of a list's members.
func (c *APIClient) GetListContents(ctx context.Context, key, listID string, page int) (ListContentsResponse, error) {
	ctx, span := apiTracer.Start(ctx, "RenshuuGetListContents")
	defer span.End()
	span.SetAttributes(
		attribute.String("renshuu.list_id", listID),
		attribute.Int("renshuu.page", page),
	)

	endpoint := c.baseURL + "/lists/" + url.PathEscape(listID) + "/contents"
	if page >= 2 {
		endpoint += "?pg=" + strconv.Itoa(page)
	}

	var out ListContentsResponse
	if err := c.getJSON(ctx, key, endpoint, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get list contents failed")
		return ListContentsResponse{}, err
	}
	span.SetAttributes(
		attribute.Int("renshuu.page_terms", len(out.Contents.Terms)),
		attribute.Int("renshuu.total_pages", out.Contents.TotalPg),
	)
	return out, nil
}

// getJSON performs an authenticated GET and decodes the body into out.
// Error bodies take precedence over decode results: Renshuu reports
// failures as {"error": ...} with assorted status codes.
func (c *APIClient) getJSON(ctx context.Context, key, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, body, err := c.do(ctx, key, req)
	if err != nil {
		return err
	}

	if message := errorMessage(body); message != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: bodySnippet(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response JSON: %w", err)
	}
	return nil
}

// do rate-limits, authenticates, and executes one request, returning the
// response and its fully-read body.
func (c *APIClient) do(ctx context.Context, key string, req *http.Request) (*http.Response, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+key)

	slog.Debug("Sending Renshuu API request",
		"method", req.Method,
		"path", req.URL.Path,
		"key_present", key != "",
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	apiCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("renshuu.outcome", outcome),
	))
	apiCallDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("http.request.method", req.Method),
	))

	if err != nil {
		return nil, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp, body, nil
}

// errorMessage extracts the "error" field from a response body, returning
// "" when the body is not JSON or carries no error.
func errorMessage(body []byte) string {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return envelope.Error
}

func bodySnippet(body []byte) string {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > maxErrorBodyBytes {
		snippet = snippet[:maxErrorBodyBytes]
	}
	return snippet
}
