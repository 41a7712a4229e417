package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"nexus/internal/account"
	"nexus/internal/hub"
	"nexus/internal/store/memstore"
	"nexus/internal/tuning"
)

type fixture struct {
	t      *testing.T
	server *httptest.Server
	hub    *hub.Hub
}

func setup(t *testing.T) *fixture {
	t.Helper()
	h := hub.New(memstore.New(), tuning.Defaults(), nil)
	ctx := context.Background()
	if err := h.EnsureSeeded(ctx, "rootpass", 250); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := h.Accounts.Register(ctx, "alice", "hunter2", account.RoleUser, 1000); err != nil {
		t.Fatalf("register: %v", err)
	}
	srv := httptest.NewServer(New(h, nil).Handler())
	t.Cleanup(srv.Close)
	return &fixture{t: t, server: srv, hub: h}
}

func (f *fixture) do(method, path, token string, body any) (*http.Response, map[string]any) {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			f.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	if err != nil {
		f.t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		f.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (f *fixture) login(username, password string) string {
	f.t.Helper()
	resp, out := f.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": username, "password": password,
	})
	if resp.StatusCode != http.StatusOK {
		f.t.Fatalf("login %s: status %d (%v)", username, resp.StatusCode, out)
	}
	token, _ := out["token"].(string)
	if token == "" {
		f.t.Fatalf("login %s: no token in %v", username, out)
	}
	return token
}

func TestLoginAndMe(t *testing.T) {
	f := setup(t)

	resp, _ := f.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "alice", "password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d", resp.StatusCode)
	}

	token := f.login("alice", "hunter2")
	resp, out := f.do(http.MethodGet, "/v1/me", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", resp.StatusCode)
	}
	if out["username"] != "alice" {
		t.Fatalf("me = %v", out)
	}
	if _, leaked := out["passwordHash"]; leaked {
		t.Fatalf("password hash leaked through /v1/me")
	}
}

func TestAuthRequired(t *testing.T) {
	f := setup(t)
	for _, path := range []string{"/v1/me", "/v1/treasury", "/v1/vault", "/v1/core"} {
		resp, _ := f.do(http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s without token: status %d", path, resp.StatusCode)
		}
	}
}

func TestUsurpEndpoint(t *testing.T) {
	f := setup(t)
	token := f.login("alice", "hunter2")

	resp, out := f.do(http.MethodPost, "/v1/treasury/usurp", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("usurp status = %d", resp.StatusCode)
	}
	if out["success"] != true {
		t.Fatalf("usurp = %v", out)
	}

	resp, out = f.do(http.MethodGet, "/v1/treasury", token, nil)
	if resp.StatusCode != http.StatusOK || out["holder"] != "alice" {
		t.Fatalf("treasury = %d %v", resp.StatusCode, out)
	}
}

func TestVerdictsAre200(t *testing.T) {
	f := setup(t)
	token := f.login("alice", "hunter2")

	// A refused play is a result, not a transport error.
	resp, out := f.do(http.MethodPost, "/v1/vault/guess", token, map[string]string{"guess": "abc"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refused guess status = %d", resp.StatusCode)
	}
	if out["success"] != false {
		t.Fatalf("refused guess = %v", out)
	}
}

func TestAdminGating(t *testing.T) {
	f := setup(t)
	userToken := f.login("alice", "hunter2")
	adminToken := f.login("admin", "rootpass")

	body := map[string]any{"username": "carol", "password": "hunter2"}
	resp, _ := f.do(http.MethodPost, "/v1/admin/users", userToken, body)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin register status = %d", resp.StatusCode)
	}

	resp, out := f.do(http.MethodPost, "/v1/admin/users", adminToken, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("admin register status = %d (%v)", resp.StatusCode, out)
	}
	if out["balance"] != float64(250) {
		t.Fatalf("registered balance = %v", out["balance"])
	}

	resp, _ = f.do(http.MethodPost, "/v1/admin/users/carol/balance", adminToken, map[string]int64{"balance": 5000})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set balance status = %d", resp.StatusCode)
	}
	carol, err := f.hub.Accounts.Get(context.Background(), "carol")
	if err != nil || carol.Balance != 5000 {
		t.Fatalf("carol = %+v, %v", carol, err)
	}
}

func TestAuctionFlowOverHTTP(t *testing.T) {
	f := setup(t)
	adminToken := f.login("admin", "rootpass")
	userToken := f.login("alice", "hunter2")

	resp, out := f.do(http.MethodPost, "/v1/admin/auction", adminToken, map[string]any{
		"name": "Golden Crown", "description": "Shiny.", "itemId": "item-golden-crown",
		"startingBid": 100, "minIncrement": 10, "durationSeconds": 3600,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d (%v)", resp.StatusCode, out)
	}

	resp, out = f.do(http.MethodPost, "/v1/auction/bid", userToken, map[string]int64{"amount": 100})
	if resp.StatusCode != http.StatusOK || out["success"] != true {
		t.Fatalf("bid = %d %v", resp.StatusCode, out)
	}

	resp, out = f.do(http.MethodGet, "/v1/auction", userToken, nil)
	if resp.StatusCode != http.StatusOK || out["active"] != true {
		t.Fatalf("auction state = %d %v", resp.StatusCode, out)
	}

	resp, _ = f.do(http.MethodDelete, "/v1/admin/auction", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	alice, _ := f.hub.Accounts.Get(context.Background(), "alice")
	if alice.Balance != 1000 {
		t.Fatalf("alice not refunded on cancel: %d", alice.Balance)
	}
}

func TestBettingFlowOverHTTP(t *testing.T) {
	f := setup(t)
	adminToken := f.login("admin", "rootpass")
	userToken := f.login("alice", "hunter2")

	resp, out := f.do(http.MethodPost, "/v1/admin/betting/events", adminToken, map[string]any{
		"question": "Will it rain?", "options": []string{"yes", "no"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create event status = %d (%v)", resp.StatusCode, out)
	}
	eventID, _ := out["id"].(string)

	resp, out = f.do(http.MethodPost, "/v1/bets", userToken, map[string]any{
		"eventId": eventID, "optionId": "opt-1", "amount": 100,
	})
	if resp.StatusCode != http.StatusOK || out["success"] != true {
		t.Fatalf("bet = %d %v", resp.StatusCode, out)
	}

	path := fmt.Sprintf("/v1/admin/betting/events/%s/resolve", eventID)
	resp, _ = f.do(http.MethodPost, path, adminToken, map[string]string{"optionId": "opt-1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status = %d", resp.StatusCode)
	}
	// Resolving twice conflicts.
	resp, _ = f.do(http.MethodPost, path, adminToken, map[string]string{"optionId": "opt-1"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second resolve status = %d", resp.StatusCode)
	}

	alice, _ := f.hub.Accounts.Get(context.Background(), "alice")
	if alice.Balance != 1100 {
		t.Fatalf("alice balance = %d, want 1100", alice.Balance)
	}
}
