// Package cli holds the HTTP client and session storage used by the nexus
// command.
package cli

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

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Login(ctx context.Context, username, password string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"username": username,
		"password": password,
	}, &out)
	return out, err
}

func (c *Client) Logout(ctx context.Context, token string) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/auth/logout", token, nil, nil)
}

func (c *Client) Me(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/me", token, nil, &out)
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/leaderboard", token, nil, &out)
	return out, err
}

func (c *Client) Treasury(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/treasury", token, nil, &out)
	return out, err
}

func (c *Client) Usurp(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/treasury/usurp", token, nil, &out)
	return out, err
}

func (c *Client) Vault(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/vault", token, nil, &out)
	return out, err
}

func (c *Client) Guess(ctx context.Context, token, guess string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/vault/guess", token, map[string]any{
		"guess": guess,
	}, &out)
	return out, err
}

func (c *Client) Auction(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/auction", token, nil, &out)
	return out, err
}

func (c *Client) Bid(ctx context.Context, token string, amount int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auction/bid", token, map[string]any{
		"amount": amount,
	}, &out)
	return out, err
}

func (c *Client) Claim(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auction/claim", token, nil, &out)
	return out, err
}

func (c *Client) Territory(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/territory", token, nil, &out)
	return out, err
}

func (c *Client) TerritoryAction(ctx context.Context, token, sector, action string) (map[string]any, error) {
	var out map[string]any
	path := fmt.Sprintf("/v1/territory/%s/%s", url.PathEscape(sector), action)
	err := c.jsonRequest(ctx, http.MethodPost, path, token, nil, &out)
	return out, err
}

func (c *Client) JoinFaction(ctx context.Context, token, faction string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/factions/join", token, map[string]any{
		"faction": faction,
	}, &out)
	return out, err
}

func (c *Client) BettingEvents(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/betting/events", token, nil, &out)
	return out, err
}

func (c *Client) PlaceBet(ctx context.Context, token, eventID, optionID string, amount int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/bets", token, map[string]any{
		"eventId":  eventID,
		"optionId": optionID,
		"amount":   amount,
	}, &out)
	return out, err
}

func (c *Client) Core(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/core", token, nil, &out)
	return out, err
}

func (c *Client) BuyTurret(ctx context.Context, token, turretID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/core/turrets/buy", token, map[string]any{
		"turretId": turretID,
	}, &out)
	return out, err
}

func (c *Client) Idle(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/idle", token, nil, &out)
	return out, err
}

func (c *Client) IdleCashOut(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/idle/cashout", token, nil, &out)
	return out, err
}

func (c *Client) IdlePrestige(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/idle/prestige", token, nil, &out)
	return out, err
}

func (c *Client) RegisterUser(ctx context.Context, token, username, password, role string) (map[string]any, error) {
	var out map[string]any
	body := map[string]any{"username": username, "password": password}
	if role != "" {
		body["role"] = role
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/users", token, body, &out)
	return out, err
}

// WatchURL is the websocket endpoint for a store prefix subscription.
func (c *Client) WatchURL(token, prefix string) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/watch"
	q := u.Query()
	q.Set("prefix", prefix)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) jsonRequest(ctx context.Context, method, path, token string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
