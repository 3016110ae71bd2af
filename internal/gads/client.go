// Package gads is the REST client for the Google Ads API and the Merchant
// Center Content API. All calls go through one retrying HTTP client: 429 and
// 5xx responses are retried with backoff, anything else in 4xx surfaces
// immediately as a permanent RemoteCallError.
package gads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"adpilot/internal/config"
	"adpilot/internal/ops"
)

const maxErrorBodyBytes = 4096

// Client talks to both platform APIs with a shared OAuth token.
type Client struct {
	cfg  *config.Config
	http *retryablehttp.Client

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient builds a client from the ads/merchant/apply config sections.
func NewClient(cfg *config.Config) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = cfg.Apply.RetryMax
	rc.HTTPClient.Timeout = time.Duration(cfg.Apply.RequestTimeoutSeconds) * time.Second
	return &Client{cfg: cfg, http: rc}
}

// token returns a cached OAuth access token, refreshing it via the refresh
// token grant when missing or within a minute of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.accessToken != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.accessToken, nil
	}
	o := c.cfg.Ads.OAuth
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {o.ClientID},
		"client_secret": {o.ClientSecret},
		"refresh_token": {o.RefreshToken},
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, o.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("oauth token refresh: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", remoteError(resp)
	}
	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("oauth token refresh: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("oauth token refresh returned empty access_token")
	}
	c.accessToken = body.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// doJSON performs one authenticated JSON call and decodes the response into
// out (out may be nil for calls whose body is irrelevant).
func (c *Client) doJSON(ctx context.Context, method, rawURL string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	if strings.HasPrefix(rawURL, c.cfg.Ads.APIBaseURL) {
		req.Header.Set("developer-token", c.cfg.Ads.DeveloperToken)
		if c.cfg.Ads.LoginCustomerID != "" {
			req.Header.Set("login-customer-id", digitsOnly(c.cfg.Ads.LoginCustomerID))
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		// Retries exhausted on 429/5xx or the connection never succeeded.
		return &ops.RemoteCallError{Transient: true, Body: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return remoteError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", rawURL, err)
	}
	return nil
}

// remoteError classifies a non-2xx response. 429 and 5xx only reach here
// after the retry budget is spent, so they stay marked transient for the
// caller to report; the rest are permanent.
func remoteError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &ops.RemoteCallError{
		StatusCode: resp.StatusCode,
		Transient:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		Body:       strings.TrimSpace(string(raw)),
	}
}

// CustomerID returns the configured ads customer id without dashes, as the
// REST resource paths require.
func (c *Client) CustomerID() string {
	return digitsOnly(c.cfg.Ads.CustomerID)
}

// MerchantID returns the configured merchant id.
func (c *Client) MerchantID() string {
	return c.cfg.Merchant.MerchantID
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r < '0' || r > '9' {
			return -1
		}
		return r
	}, s)
}
