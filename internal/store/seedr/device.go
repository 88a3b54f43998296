package seedr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrAuthorizationPending is returned by PollToken until the user has
// entered the code.
var ErrAuthorizationPending = errors.New("authorization pending")

type DeviceCode struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// RequestDeviceCode starts the device authorization flow.
func (c *Client) RequestDeviceCode(ctx context.Context) (*DeviceCode, error) {
	query := url.Values{"client_id": {c.clientID}}

	var code DeviceCode

	err := c.do(ctx, "device_code", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/device/code?"+query.Encode(), nil)
	}, &code)
	if err != nil {
		return nil, err
	}

	if code.DeviceCode == "" {
		return nil, errors.New("device code response carried no device_code")
	}

	if code.VerificationURL == "" {
		code.VerificationURL = c.baseURL + "/devices"
	}

	return &code, nil
}

// PollToken exchanges a device code for an access token. Seedr answers 400
// while the user has not authorized the device yet.
func (c *Client) PollToken(ctx context.Context, deviceCode string) (*Token, error) {
	query := url.Values{"device_code": {deviceCode}, "client_id": {c.clientID}}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/device/authorize?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to poll for token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return nil, ErrAuthorizationPending
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d polling for token: %s", resp.StatusCode, readSnippet(resp.Body))
	}

	var token Token
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	if token.AccessToken == "" {
		return nil, ErrAuthorizationPending
	}

	return &token, nil
}

// WaitForToken polls at the interval Seedr asked for until the user
// authorizes the device, the code expires or ctx is done.
func (c *Client) WaitForToken(ctx context.Context, code *DeviceCode) (*Token, error) {
	interval := time.Duration(code.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	if code.ExpiresIn > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(code.ExpiresIn)*time.Second)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		token, err := c.PollToken(ctx, code.DeviceCode)
		if err == nil {
			return token, nil
		}

		if !errors.Is(err, ErrAuthorizationPending) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("device authorization not completed: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
