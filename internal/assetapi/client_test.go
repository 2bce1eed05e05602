package assetapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewHTTPClient(HTTPClientOptions{
		BaseURL:    server.URL,
		APIKey:     "key",
		Password:   "secret",
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	return client
}

func TestHTTPClientUpdateSendsAttachmentAndTracksCallLimit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if r.URL.Path != "/admin/api/2024-01/themes/42/assets.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Shopify-Access-Token") != "secret" {
			t.Errorf("expected access token header")
		}
		var body struct {
			Asset struct {
				Key        string `json:"key"`
				Attachment string `json:"attachment"`
			} `json:"asset"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body failed: %v", err)
		}
		if body.Asset.Key != "templates/index.liquid" || body.Asset.Attachment != "QQ==" {
			t.Errorf("unexpected asset body %+v", body.Asset)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(callLimitHeader, "39/40")
		_, _ = w.Write([]byte(`{"asset":{"key":"templates/index.liquid","theme_id":42}}`))
	})

	asset, err := client.Update(context.Background(), "42", "templates/index.liquid", "QQ==")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if asset.Key != "templates/index.liquid" || asset.ThemeID != 42 {
		t.Fatalf("unexpected asset %+v", asset)
	}
	rate := client.RateState()
	if !rate.Known() || rate.Remaining != 1 || rate.Limit != 40 || rate.Used != 39 {
		t.Fatalf("unexpected rate state %+v", rate)
	}
}

func TestHTTPClientDeleteUsesAssetKeyQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		if got := r.URL.Query().Get("asset[key]"); got != "assets/theme.css" {
			t.Errorf("expected asset key query, got %q", got)
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := client.Delete(context.Background(), "42", "assets/theme.css"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
}

func TestHTTPClientList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"assets":[{"key":"config/settings_data.json"},{"key":"assets/theme.css"}]}`))
	})
	assets, err := client.List(context.Background(), "42")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(assets) != 2 || assets[1].Key != "assets/theme.css" {
		t.Fatalf("unexpected assets %+v", assets)
	}
}

func TestHTTPClientReturnsTypedErrorWithoutRetrying(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"errors":"Exceeded 2 calls per second for api client. Reduce request rates to resume uninterrupted service."}`))
	})
	_, err := client.Create(context.Background(), "42", "assets/a.js", "QQ==")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %T (%v)", err, err)
	}
	if httpErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", httpErr.StatusCode)
	}
	if httpErr.RetryAfter != 2*time.Second {
		t.Fatalf("expected retry-after 2s, got %s", httpErr.RetryAfter)
	}
	if calls != 1 {
		t.Fatalf("expected a single request, got %d", calls)
	}
	rate := client.RateState()
	if rate.Remaining != 0 || rate.ResetHint != 2*time.Second {
		t.Fatalf("expected throttled rate state, got %+v", rate)
	}
}

func TestHTTPClientUnprocessableMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":{"asset":["Liquid syntax error"]}}`))
	})
	_, err := client.Update(context.Background(), "42", "templates/x.liquid", "QQ==")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 error, got %v", err)
	}
	if httpErr.Message != `{"asset":["Liquid syntax error"]}` {
		t.Fatalf("unexpected message %q", httpErr.Message)
	}
}

func TestNewHTTPClientDerivesStoreURL(t *testing.T) {
	client, err := NewHTTPClient(HTTPClientOptions{Store: "my-shop", Password: "x"})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	if client.baseURL != "https://my-shop.myshopify.com" {
		t.Fatalf("unexpected base url %s", client.baseURL)
	}
	if _, err := NewHTTPClient(HTTPClientOptions{Password: "x"}); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := NewHTTPClient(HTTPClientOptions{Store: "my-shop"}); err == nil {
		t.Fatalf("expected error without password")
	}
}

func TestParseCallLimit(t *testing.T) {
	if used, limit, ok := parseCallLimit("12/40"); !ok || used != 12 || limit != 40 {
		t.Fatalf("unexpected parse result %d/%d ok=%v", used, limit, ok)
	}
	for _, raw := range []string{"", "12", "x/40", "12/0"} {
		if _, _, ok := parseCallLimit(raw); ok {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}
