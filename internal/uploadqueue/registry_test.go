package uploadqueue

import (
	"context"
	"errors"
	"net/http"
	"syscall"
	"testing"

	"github.com/agentworkforce/themesync/internal/assetapi"
)

func TestRegistrySharesQueuePerStoreAndKey(t *testing.T) {
	created := 0
	registry := NewRegistry(func(Target) (assetapi.Client, error) {
		created++
		return newFakeClient(), nil
	}, Options{})
	t.Cleanup(func() { _ = registry.Close() })

	first, err := registry.Open(Target{Store: "demo-shop", APIKey: "k1", ThemeID: "1"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	second, err := registry.Open(Target{Store: "demo-shop", APIKey: "k1", ThemeID: "2"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same queue for the same store and key")
	}
	if first.ThemeID() != "2" {
		t.Fatalf("expected theme id retargeted to 2, got %s", first.ThemeID())
	}
	other, err := registry.Open(Target{Store: "demo-shop", APIKey: "k2"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if other == first {
		t.Fatalf("expected a separate queue for another api key")
	}
	if created != 2 || registry.Len() != 2 {
		t.Fatalf("expected 2 queues, created=%d len=%d", created, registry.Len())
	}
}

func TestRegistryCloseRejectsOpen(t *testing.T) {
	registry := NewRegistry(func(Target) (assetapi.Client, error) {
		return newFakeClient(), nil
	}, Options{})
	q, err := registry.Open(Target{Store: "demo-shop"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := registry.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := q.Enqueue(Intent{Key: "assets/a.js"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed queue, got %v", err)
	}
	if _, err := registry.Open(Target{Store: "demo-shop"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRegistryPropagatesFactoryError(t *testing.T) {
	registry := NewRegistry(func(Target) (assetapi.Client, error) {
		return nil, errors.New("no credentials")
	}, Options{})
	if _, err := registry.Open(Target{Store: "demo-shop"}); err == nil {
		t.Fatalf("expected factory error")
	}
	if _, err := registry.Open(Target{}); err == nil {
		t.Fatalf("expected error without store")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"rate limited", &assetapi.HTTPError{StatusCode: http.StatusTooManyRequests}, ClassRateLimited},
		{"unauthorized", &assetapi.HTTPError{StatusCode: http.StatusUnauthorized}, ClassUnauthorized},
		{"forbidden", &assetapi.HTTPError{StatusCode: http.StatusForbidden}, ClassInvalidRequest},
		{"not acceptable", &assetapi.HTTPError{StatusCode: http.StatusNotAcceptable}, ClassInvalidRequest},
		{"unprocessable", &assetapi.HTTPError{StatusCode: http.StatusUnprocessableEntity}, ClassUnprocessable},
		{"server error", &assetapi.HTTPError{StatusCode: http.StatusInternalServerError}, ClassUnknown},
		{"bad gateway", &assetapi.HTTPError{StatusCode: http.StatusBadGateway}, ClassUnknown},
		{"bad request", &assetapi.HTTPError{StatusCode: http.StatusBadRequest}, ClassUnknown},
		{"reset", syscall.ECONNRESET, ClassTransientNetwork},
		{"timeout", syscall.ETIMEDOUT, ClassTransientNetwork},
		{"deadline", context.DeadlineExceeded, ClassTransientNetwork},
		{"other", errors.New("boom"), ClassUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
	if !ClassRateLimited.Retryable() || ClassUnprocessable.Retryable() {
		t.Fatalf("unexpected retryable classification")
	}
}
