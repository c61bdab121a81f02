// ABOUTME: HTTP client for the clawhuddle gateway API
// ABOUTME: Used by clawctl; decodes the data envelope and error bodies

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Gateway is a member's gateway as the API reports it. Nil fields are absent.
type Gateway struct {
	MemberID  string  `json:"memberId"`
	UserID    string  `json:"userId"`
	Port      *int    `json:"gateway_port"`
	Status    *string `json:"gateway_status"`
	Subdomain *string `json:"gateway_subdomain"`
}

// ChannelResult reports a channel token change.
type ChannelResult struct {
	Channel        string `json:"channel"`
	Configured     bool   `json:"configured"`
	RedeployQueued bool   `json:"redeploy_queued"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// Client calls the API at a base URL.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client. token may be empty when the server runs without auth.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	envelope := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func gatewayPath(orgID, memberID string) string {
	return "/api/orgs/" + url.PathEscape(orgID) + "/gateways/members/" + url.PathEscape(memberID)
}

func channelPath(orgID, memberID, channel string) string {
	return "/api/orgs/" + url.PathEscape(orgID) + "/members/" + url.PathEscape(memberID) + "/channels/" + url.PathEscape(channel)
}

func (c *Client) gateway(ctx context.Context, method, path string) (*Gateway, error) {
	var gw Gateway
	if err := c.do(ctx, method, path, nil, &gw); err != nil {
		return nil, err
	}
	return &gw, nil
}

func (c *Client) Provision(ctx context.Context, orgID, memberID string) (*Gateway, error) {
	return c.gateway(ctx, http.MethodPost, gatewayPath(orgID, memberID))
}

func (c *Client) Start(ctx context.Context, orgID, memberID string) (*Gateway, error) {
	return c.gateway(ctx, http.MethodPost, gatewayPath(orgID, memberID)+"/start")
}

func (c *Client) Stop(ctx context.Context, orgID, memberID string) (*Gateway, error) {
	return c.gateway(ctx, http.MethodPost, gatewayPath(orgID, memberID)+"/stop")
}

func (c *Client) Redeploy(ctx context.Context, orgID, memberID string) (*Gateway, error) {
	return c.gateway(ctx, http.MethodPost, gatewayPath(orgID, memberID)+"/redeploy")
}

func (c *Client) Remove(ctx context.Context, orgID, memberID string) (*Gateway, error) {
	return c.gateway(ctx, http.MethodDelete, gatewayPath(orgID, memberID))
}

func (c *Client) Status(ctx context.Context, orgID, memberID string) (*Gateway, error) {
	return c.gateway(ctx, http.MethodGet, gatewayPath(orgID, memberID)+"/status")
}

// SetChannel stores a bot token for a channel.
func (c *Client) SetChannel(ctx context.Context, orgID, memberID, channel, token string) (*ChannelResult, error) {
	var res ChannelResult
	body := map[string]string{"token": token}
	if err := c.do(ctx, http.MethodPut, channelPath(orgID, memberID, channel), body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteChannel removes a channel's bot token.
func (c *Client) DeleteChannel(ctx context.Context, orgID, memberID, channel string) (*ChannelResult, error) {
	var res ChannelResult
	if err := c.do(ctx, http.MethodDelete, channelPath(orgID, memberID, channel), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type pairOutput struct {
	Output string `json:"output"`
}

// ApprovePairing approves a pairing code and returns the gateway's output.
func (c *Client) ApprovePairing(ctx context.Context, orgID, memberID, channel, code string) (string, error) {
	var res pairOutput
	body := map[string]string{"code": code}
	if err := c.do(ctx, http.MethodPost, channelPath(orgID, memberID, channel)+"/pair", body, &res); err != nil {
		return "", err
	}
	return res.Output, nil
}

// ListPairingRequests returns the gateway's pending pairing requests.
func (c *Client) ListPairingRequests(ctx context.Context, orgID, memberID, channel string) (string, error) {
	var res pairOutput
	if err := c.do(ctx, http.MethodGet, channelPath(orgID, memberID, channel)+"/pair", nil, &res); err != nil {
		return "", err
	}
	return res.Output, nil
}

// SyncCredentials pushes the org's credentials to its live gateways.
func (c *Client) SyncCredentials(ctx context.Context, orgID string) (int, error) {
	var res struct {
		Updated int `json:"updated"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/orgs/"+url.PathEscape(orgID)+"/credentials/sync", nil, &res); err != nil {
		return 0, err
	}
	return res.Updated, nil
}

// Health returns nil when GET /health answers 200.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
