// Package assetapi talks to the remote theme Asset API.
//
// Client is the narrow boundary the upload queue consumes. HTTPClient is
// the production implementation; it performs exactly one request per call
// and leaves retries to the caller, reporting the remote call budget
// through RateState after every response.
package assetapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultAPIVersion = "2024-01"
	callLimitHeader   = "X-Shopify-Shop-Api-Call-Limit"
)

type Asset struct {
	Key         string `json:"key"`
	PublicURL   string `json:"public_url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
	Size        int64  `json:"size,omitempty"`
	ThemeID     int64  `json:"theme_id,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// RateState is the most recent call budget reported by the remote.
type RateState struct {
	Used      int           `json:"used"`
	Limit     int           `json:"limit"`
	Remaining int           `json:"remaining"`
	ResetHint time.Duration `json:"resetHint"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Known reports whether any response has populated the state yet.
func (r RateState) Known() bool {
	return !r.UpdatedAt.IsZero()
}

type Client interface {
	Create(ctx context.Context, themeID, key, attachment string) (Asset, error)
	Update(ctx context.Context, themeID, key, attachment string) (Asset, error)
	Delete(ctx context.Context, themeID, key string) error
	List(ctx context.Context, themeID string) ([]Asset, error)
	RateState() RateState
}

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

type HTTPClientOptions struct {
	Store      string
	BaseURL    string
	APIKey     string
	Password   string
	APIVersion string
	HTTPClient *http.Client
	UserAgent  string
}

type HTTPClient struct {
	baseURL    string
	apiKey     string
	password   string
	apiVersion string
	userAgent  string
	httpClient *http.Client

	mu   sync.Mutex
	rate RateState
}

func NewHTTPClient(opts HTTPClientOptions) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		store := strings.TrimSpace(opts.Store)
		if store == "" {
			return nil, fmt.Errorf("assetapi: store or base url is required")
		}
		if !strings.Contains(store, ".") {
			store += ".myshopify.com"
		}
		baseURL = "https://" + store
	}
	if strings.TrimSpace(opts.Password) == "" {
		return nil, fmt.Errorf("assetapi: password is required")
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		password:   strings.TrimSpace(opts.Password),
		apiVersion: apiVersion,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		httpClient: httpClient,
	}, nil
}

func (c *HTTPClient) Create(ctx context.Context, themeID, key, attachment string) (Asset, error) {
	return c.put(ctx, themeID, key, attachment)
}

func (c *HTTPClient) Update(ctx context.Context, themeID, key, attachment string) (Asset, error) {
	return c.put(ctx, themeID, key, attachment)
}

func (c *HTTPClient) put(ctx context.Context, themeID, key, attachment string) (Asset, error) {
	body := map[string]any{
		"asset": map[string]string{
			"key":        key,
			"attachment": attachment,
		},
	}
	var out struct {
		Asset Asset `json:"asset"`
	}
	err := c.doJSON(ctx, http.MethodPut, c.assetsPath(themeID, nil), body, &out)
	return out.Asset, err
}

func (c *HTTPClient) Delete(ctx context.Context, themeID, key string) error {
	q := url.Values{}
	q.Set("asset[key]", key)
	return c.doJSON(ctx, http.MethodDelete, c.assetsPath(themeID, q), nil, nil)
}

func (c *HTTPClient) List(ctx context.Context, themeID string) ([]Asset, error) {
	var out struct {
		Assets []Asset `json:"assets"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.assetsPath(themeID, nil), nil, &out); err != nil {
		return nil, err
	}
	return out.Assets, nil
}

func (c *HTTPClient) RateState() RateState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

func (c *HTTPClient) assetsPath(themeID string, q url.Values) string {
	p := fmt.Sprintf("/admin/api/%s/themes/%s/assets.json", url.PathEscape(c.apiVersion), url.PathEscape(themeID))
	if len(q) > 0 {
		p += "?" + q.Encode()
	}
	return p
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.SetBasicAuth(c.apiKey, c.password)
	}
	req.Header.Set("X-Shopify-Access-Token", c.password)
	req.Header.Set("X-Request-Id", uuid.NewString())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("assetapi: %s %s: %w", method, requestPath, err)
	}
	payloadBytes, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	c.observe(resp)
	if readErr != nil {
		return fmt.Errorf("assetapi: read %s %s: %w", method, requestPath, readErr)
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payloadBytes) == 0 {
			return nil
		}
		return json.Unmarshal(payloadBytes, out)
	}
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Code:       http.StatusText(resp.StatusCode),
		Message:    errorMessage(payloadBytes),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// observe folds the response's call-limit headers into the rate state.
func (c *HTTPClient) observe(resp *http.Response) {
	used, limit, ok := parseCallLimit(resp.Header.Get(callLimitHeader))
	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
	throttled := resp.StatusCode == http.StatusTooManyRequests
	if !ok && !throttled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.rate.Used = used
		c.rate.Limit = limit
		c.rate.Remaining = limit - used
		if c.rate.Remaining < 0 {
			c.rate.Remaining = 0
		}
	}
	if throttled {
		c.rate.Remaining = 0
	}
	c.rate.ResetHint = retryAfter
	c.rate.UpdatedAt = time.Now().UTC()
}

// parseCallLimit reads the "used/limit" header value.
func parseCallLimit(header string) (used, limit int, ok bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, 0, false
	}
	usedRaw, limitRaw, found := strings.Cut(header, "/")
	if !found {
		return 0, 0, false
	}
	used, err := strconv.Atoi(strings.TrimSpace(usedRaw))
	if err != nil || used < 0 {
		return 0, 0, false
	}
	limit, err = strconv.Atoi(strings.TrimSpace(limitRaw))
	if err != nil || limit <= 0 {
		return 0, 0, false
	}
	return used, limit, true
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.ParseFloat(header, 64); err == nil && seconds >= 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func errorMessage(payload []byte) string {
	var parsed struct {
		Errors any `json:"errors"`
	}
	if json.Unmarshal(payload, &parsed) == nil && parsed.Errors != nil {
		switch typed := parsed.Errors.(type) {
		case string:
			return typed
		default:
			encoded, err := json.Marshal(typed)
			if err == nil {
				return string(encoded)
			}
		}
	}
	return strings.TrimSpace(string(payload))
}
