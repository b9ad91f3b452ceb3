// Package apiclient provides a client for the intentmesh HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/speedrun-hq/intentmesh/pkg/api"
	"github.com/speedrun-hq/intentmesh/pkg/lifecycle"
	"github.com/speedrun-hq/intentmesh/pkg/logger"
	"github.com/speedrun-hq/intentmesh/pkg/models"
	"github.com/speedrun-hq/intentmesh/pkg/settlement"
	"github.com/speedrun-hq/intentmesh/pkg/storage"
	"github.com/speedrun-hq/intentmesh/pkg/tokens"
)

// Client talks to an intentmesh server
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

var (
	_ settlement.Lifecycle = (*Client)(nil)
	_ api.Service          = (*Client)(nil)
)

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client for the server at endpoint
func New(endpoint string, l logger.Logger, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: createHTTPClient(),
		logger:     l,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create publishes a new intent
func (c *Client) Create(ctx context.Context, data models.CreateIntent) (*models.Intent, error) {
	var intent models.Intent
	if err := c.do(ctx, http.MethodPost, "/intents", data, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// Get fetches one intent
func (c *Client) Get(ctx context.Context, id string) (*models.Intent, error) {
	var intent models.Intent
	if err := c.do(ctx, http.MethodGet, "/intents/"+url.PathEscape(id), nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// List returns the intents selected by filter
func (c *Client) List(ctx context.Context, filter models.IntentFilter) ([]models.Intent, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.FromToken != "" {
		q.Set("fromToken", filter.FromToken)
	}
	if filter.ToToken != "" {
		q.Set("toToken", filter.ToToken)
	}
	if filter.CreatorAddress != "" {
		q.Set("creatorAddress", filter.CreatorAddress)
	}
	path := "/intents"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return c.intents(ctx, path)
}

// UserIntents returns the intents created by address
func (c *Client) UserIntents(ctx context.Context, address string) ([]models.Intent, error) {
	return c.intents(ctx, "/addresses/"+url.PathEscape(address)+"/intents")
}

// History returns the fulfilled intents address took part in
func (c *Client) History(ctx context.Context, address string) ([]models.Intent, error) {
	return c.intents(ctx, "/addresses/"+url.PathEscape(address)+"/history")
}

// MatchesFor ranks the counter-intents of id
func (c *Client) MatchesFor(ctx context.Context, id string) ([]models.IntentMatch, error) {
	var resp api.MatchesResponse
	if err := c.do(ctx, http.MethodGet, "/intents/"+url.PathEscape(id)+"/matches", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

// BestMatchFor returns the top ranked counter-intent of id
func (c *Client) BestMatchFor(ctx context.Context, id string) (models.IntentMatch, bool, error) {
	var resp api.BestMatchResponse
	if err := c.do(ctx, http.MethodGet, "/intents/"+url.PathEscape(id)+"/best-match", nil, &resp); err != nil {
		return models.IntentMatch{}, false, err
	}
	if resp.Match == nil {
		return models.IntentMatch{}, false, nil
	}
	return *resp.Match, true, nil
}

// Fulfill claims id for actingAddress
func (c *Client) Fulfill(ctx context.Context, id, actingAddress string) (*models.Intent, error) {
	var intent models.Intent
	body := api.FulfillRequest{ActingAddress: actingAddress}
	if err := c.do(ctx, http.MethodPost, "/intents/"+url.PathEscape(id)+"/fulfill", body, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// ConfirmFulfillment records the settlement reference of a matched intent
func (c *Client) ConfirmFulfillment(ctx context.Context, id, reference string) (*models.Intent, error) {
	var intent models.Intent
	body := api.ConfirmRequest{Reference: reference}
	if err := c.do(ctx, http.MethodPost, "/intents/"+url.PathEscape(id)+"/confirm", body, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// Cancel withdraws an active intent owned by actingAddress
func (c *Client) Cancel(ctx context.Context, id, actingAddress string) error {
	path := "/intents/" + url.PathEscape(id) + "?actingAddress=" + url.QueryEscape(actingAddress)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Refresh sweeps and returns the active pool with its fulfillable pairs
func (c *Client) Refresh(ctx context.Context) (*lifecycle.RefreshResult, error) {
	var result lifecycle.RefreshResult
	if err := c.do(ctx, http.MethodGet, "/matches", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SweepExpired expires every past-expiry active intent
func (c *Client) SweepExpired(ctx context.Context) (int, error) {
	var resp api.SweepResponse
	if err := c.do(ctx, http.MethodPost, "/sweep", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Expired, nil
}

// StaleMatched returns matched intents untouched for at least olderThan
func (c *Client) StaleMatched(ctx context.Context, olderThan time.Duration) ([]models.Intent, error) {
	return c.intents(ctx, "/matched/stale?olderThan="+url.QueryEscape(olderThan.String()))
}

// Tokens returns the supported tokens
func (c *Client) Tokens(ctx context.Context) ([]tokens.Token, error) {
	var list []tokens.Token
	if err := c.do(ctx, http.MethodGet, "/tokens", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Ping checks that the server is ready
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/ready", nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.endpoint, err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server not ready: %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *Client) intents(ctx context.Context, path string) ([]models.Intent, error) {
	var resp api.IntentsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Intents == nil {
		return []models.Intent{}, nil
	}
	return resp.Intents, nil
}

// do sends a request under /api/v1 and decodes a 2xx body into out
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+"/api/v1"+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", method, path, err)
	}
	defer c.closeBody(resp.Body)

	// Read the response body regardless of status code
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, bodyBytes)
	}
	if out == nil || len(bodyBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %v, body: %s", err, string(bodyBytes))
	}
	return nil
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Error("Failed to close response body: %v", err)
	}
}

// decodeError turns an error envelope back into the typed error the server
// reported
func decodeError(status int, body []byte) error {
	var env api.ErrorResponse
	if err := json.Unmarshal(body, &env); err != nil || env.Error == "" {
		return fmt.Errorf("unexpected status code: %d, body: %s", status, string(body))
	}

	switch env.Error {
	case api.CodeNotFound:
		return fmt.Errorf("%s: %w", env.Message, storage.ErrNotFound)
	case api.CodeInvalidState:
		return &lifecycle.StateError{
			IntentID: env.IntentID,
			Current:  models.IntentStatus(env.Status),
			Reason:   lifecycle.Reason(env.Reason),
		}
	case api.CodeValidation:
		return &models.ValidationError{Field: env.Field, Message: env.Message}
	case api.CodeForbidden:
		return fmt.Errorf("%s: %w", env.Message, lifecycle.ErrNotOwner)
	case api.CodeStoreFault:
		return &storage.FaultError{Op: "remote", Err: errors.New(env.Message)}
	case api.CodeSettlementFault:
		retryable, _ := settlement.ClassifyError(errors.New(env.Message))
		return &settlement.FaultError{
			IntentID:  env.IntentID,
			Kind:      env.Reason,
			Retryable: retryable,
			Err:       errors.New(env.Message),
		}
	default:
		return fmt.Errorf("server error %d (%s): %s", status, env.Error, env.Message)
	}
}

// createHTTPClient creates an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
